package orders

import (
	"context"
	"time"
)

// Repository is the durable order store. Update and Delete are
// compare-and-swap on Version: they return ErrConflict when the stored version
// is not expectedVersion.
type Repository interface {
	Create(ctx context.Context, o Order) error
	Get(ctx context.Context, number string) (Order, error)
	GetByTracking(ctx context.Context, trackingNumber string) (Order, error)
	Update(ctx context.Context, o Order, expectedVersion int64) error
	Delete(ctx context.Context, number string, expectedVersion int64) error

	// ListLapsed returns orders with reservation_expiry < before whose payment
	// is neither EXPIRED nor CONFIRMED.
	ListLapsed(ctx context.Context, before time.Time, limit int) ([]Order, error)
}
