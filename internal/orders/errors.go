package orders

import (
	"errors"
	"fmt"
)

var (
	ErrNotFound                = errors.New("order not found")
	ErrDuplicateOrder          = errors.New("order already exists")
	ErrConflict                = errors.New("order modified concurrently")
	ErrInvalidRequest          = errors.New("invalid request")
	ErrInvalidTransition       = errors.New("invalid status transition")
	ErrInsufficientStock       = errors.New("insufficient stock")
	ErrStockUnavailable        = errors.New("stock unavailable")
	ErrAlreadyConfirmed        = errors.New("payment already confirmed")
	ErrVerificationFailed      = errors.New("payment verification failed")
	ErrExpiredOrder            = errors.New("order reservation expired")
	ErrForbidden               = errors.New("forbidden")

	// verifier error/timeout tetap dihitung sebagai verifikasi gagal
	ErrVerificationUnavailable = fmt.Errorf("%w: verifier unavailable", ErrVerificationFailed)
)

// InsufficientStockError names the item that could not be reserved.
type InsufficientStockError struct {
	ProductID string
	Size      string
	Color     string
	Required  int
	Available int
}

func (e *InsufficientStockError) Error() string {
	return fmt.Sprintf("insufficient stock for %s (%s/%s): required %d, available %d",
		e.ProductID, e.Size, e.Color, e.Required, e.Available)
}

func (e *InsufficientStockError) Is(target error) bool { return target == ErrInsufficientStock }

// PublicMessage returns a caller-safe message. Infra errors never leak through here.
func PublicMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrStockUnavailable):
		return "stock for this order is no longer available"
	case errors.Is(err, ErrInsufficientStock):
		return "not enough stock for one or more items"
	case errors.Is(err, ErrAlreadyConfirmed):
		return "payment already confirmed"
	case errors.Is(err, ErrVerificationUnavailable):
		return "payment slip could not be verified right now, please try again later"
	case errors.Is(err, ErrVerificationFailed):
		return "payment slip verification failed"
	case errors.Is(err, ErrExpiredOrder):
		return "order reservation has expired, please place a new order"
	case errors.Is(err, ErrForbidden):
		return "forbidden"
	case errors.Is(err, ErrNotFound):
		return "order not found"
	case errors.Is(err, ErrInvalidTransition):
		return "status change not allowed"
	case errors.Is(err, ErrInvalidRequest):
		return "invalid request"
	case errors.Is(err, ErrConflict):
		return "order is being updated, please retry"
	case errors.Is(err, ErrDuplicateOrder):
		return "order already exists"
	default:
		return "internal error"
	}
}
