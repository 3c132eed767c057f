package inventory

import (
	"context"
	"errors"
	"fmt"
)

var ErrProductNotFound = errors.New("product not found")

// VariantKey addresses one counter pair inside a product document.
type VariantKey struct {
	ProductID string
	Size      string
	Color     string
}

func (k VariantKey) String() string { return fmt.Sprintf("%s/%s/%s", k.ProductID, k.Size, k.Color) }

type Variant struct {
	Size       string `json:"size"`
	Color      string `json:"color"`
	PriceCents int64  `json:"price_cents"`
	Stock      int    `json:"stock"`    // sellable, belum di-reserve
	Reserved   int    `json:"reserved"` // committed ke order yang masih open
}

type Product struct {
	ID       string    `json:"id"`
	Name     string    `json:"name"`
	Preorder bool      `json:"preorder"`
	Variants []Variant `json:"variants"`
}

func (p Product) Variant(size, color string) (Variant, bool) {
	for _, v := range p.Variants {
		if v.Size == size && v.Color == color {
			return v, true
		}
	}
	return Variant{}, false
}

// Line is one reservation unit handed to the ledger.
type Line struct {
	Key      VariantKey
	Qty      int
	Preorder bool
}

type Level struct {
	Stock    int
	Reserved int
}

// Counters is the per-variant store. Each Try* call is a single conditional
// update; ok=false means the condition did not hold and nothing changed.
type Counters interface {
	// stock >= qty  ->  stock -= qty, reserved += qty
	TryReserve(ctx context.Context, key VariantKey, qty int) (bool, error)
	// reserved >= qty  ->  reserved -= qty
	TryCommit(ctx context.Context, key VariantKey, qty int) (bool, error)
	// reserved >= qty  ->  stock += qty, reserved -= qty
	TryRelease(ctx context.Context, key VariantKey, qty int) (bool, error)
	Level(ctx context.Context, key VariantKey) (Level, error)
}

type Catalog interface {
	Product(ctx context.Context, id string) (Product, error)
}

// ShortageError is returned by Reserve when a line could not be satisfied.
type ShortageError struct {
	Line      Line
	Available int
}

func (e *ShortageError) Error() string {
	return fmt.Sprintf("shortage on %s: want %d, have %d", e.Line.Key, e.Line.Qty, e.Available)
}
