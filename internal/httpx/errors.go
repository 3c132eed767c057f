package httpx

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(err error) int {
	switch {
	case errors.Is(err, orders.ErrInvalidRequest):
		return http.StatusBadRequest
	case errors.Is(err, orders.ErrForbidden):
		return http.StatusForbidden
	case errors.Is(err, orders.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, orders.ErrExpiredOrder):
		return http.StatusGone
	case errors.Is(err, orders.ErrVerificationFailed):
		return http.StatusUnprocessableEntity
	case errors.Is(err, orders.ErrInsufficientStock),
		errors.Is(err, orders.ErrStockUnavailable),
		errors.Is(err, orders.ErrInvalidTransition),
		errors.Is(err, orders.ErrConflict),
		errors.Is(err, orders.ErrDuplicateOrder):
		return http.StatusConflict
	default:
		return http.StatusInternalServerError
	}
}

type errorBody struct {
	Error string `json:"error"`
	Item  *item  `json:"item,omitempty"`
}

type item struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Required  int    `json:"required"`
	Available int    `json:"available"`
}

func errorPayload(err error) errorBody {
	body := errorBody{Error: orders.PublicMessage(err)}
	var se *orders.InsufficientStockError
	if errors.As(err, &se) {
		body.Item = &item{ProductID: se.ProductID, Size: se.Size, Color: se.Color, Required: se.Required, Available: se.Available}
	}
	return body
}

func writeError(w http.ResponseWriter, err error) {
	writeJSON(w, statusFor(err), errorPayload(err))
}
