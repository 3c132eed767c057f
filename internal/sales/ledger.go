package sales

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Entry is immutable once written. One per order.
type Entry struct {
	ID          string             `json:"id"`
	OrderNumber string             `json:"order_number"`
	CustomerID  string             `json:"customer_id"`
	Items       []orders.OrderItem `json:"items"`
	PaidCents   int64              `json:"paid_cents"`
	ConfirmedAt time.Time          `json:"confirmed_at"`
}

// Store persists entries. Commit writes a confirmed order (compare-and-swap
// on expectedVersion, like orders.Repository.Update) together with its sale
// entry: both land or neither does. written=false when the order already had
// an entry.
type Store interface {
	Commit(ctx context.Context, o orders.Order, expectedVersion int64, e Entry) (written bool, err error)
	ListBetween(ctx context.Context, from, to time.Time) ([]Entry, error)
}

type Ledger struct {
	store Store
	log   zerolog.Logger
}

func NewLedger(s Store, log zerolog.Logger) *Ledger {
	return &Ledger{store: s, log: log.With().Str("component", "sales-ledger").Logger()}
}

// Commit stores the freshly confirmed order and its sale entry in one write.
// Order store errors (orders.ErrConflict, orders.ErrNotFound) come back
// unchanged so the caller can replan.
func (l *Ledger) Commit(ctx context.Context, o orders.Order, expectedVersion int64, at time.Time) (Entry, bool, error) {
	e := Entry{
		ID:          uuid.NewString(),
		OrderNumber: o.Number,
		CustomerID:  o.CustomerID,
		Items:       append([]orders.OrderItem(nil), o.Items...),
		PaidCents:   o.TotalCents,
		ConfirmedAt: at.UTC(),
	}
	written, err := l.store.Commit(ctx, o, expectedVersion, e)
	if err != nil {
		if errors.Is(err, orders.ErrConflict) || errors.Is(err, orders.ErrNotFound) {
			return Entry{}, false, err
		}
		return Entry{}, false, fmt.Errorf("commit sale %s: %w", o.Number, err)
	}
	if !written {
		l.log.Info().Str("order_number", o.Number).Msg("sale entry already recorded")
	}
	return e, written, nil
}

type ProductUnits struct {
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Units       int    `json:"units"`
	GrossCents  int64  `json:"gross_cents"`
}

type Summary struct {
	From       time.Time      `json:"from"`
	To         time.Time      `json:"to"`
	Orders     int            `json:"orders"`
	GrossCents int64          `json:"gross_cents"`
	Products   []ProductUnits `json:"products"`
}

// Summary aggregates entries with ConfirmedAt in [from, to).
func (l *Ledger) Summary(ctx context.Context, from, to time.Time) (Summary, error) {
	entries, err := l.store.ListBetween(ctx, from, to)
	if err != nil {
		return Summary{}, err
	}
	return Summarize(from, to, entries), nil
}

func Summarize(from, to time.Time, entries []Entry) Summary {
	s := Summary{From: from, To: to}
	byProduct := map[string]*ProductUnits{}
	for _, e := range entries {
		s.Orders++
		s.GrossCents += e.PaidCents
		for _, it := range e.Items {
			pu, ok := byProduct[it.ProductID]
			if !ok {
				pu = &ProductUnits{ProductID: it.ProductID, ProductName: it.ProductName}
				byProduct[it.ProductID] = pu
			}
			pu.Units += it.Qty
			pu.GrossCents += it.LineTotal()
		}
	}
	for _, pu := range byProduct {
		s.Products = append(s.Products, *pu)
	}
	sort.Slice(s.Products, func(i, j int) bool { return s.Products[i].ProductID < s.Products[j].ProductID })
	return s
}
