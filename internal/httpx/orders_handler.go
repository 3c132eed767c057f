package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/payment"
	"github.com/ariefcatur/go-shop-orders/internal/reservation"
	"github.com/ariefcatur/go-shop-orders/internal/sales"
	"github.com/ariefcatur/go-shop-orders/internal/tracking"
	"github.com/go-chi/chi/v5"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

// Idempotency short-circuits repeated create requests. Optional.
type Idempotency interface {
	Lookup(ctx context.Context, key string) (string, error)
	Remember(ctx context.Context, key, orderNumber string) error
}

type OrdersHandler struct {
	Engine   *reservation.Engine
	Payments *payment.Pipeline
	Tracking *tracking.Service
	Sales    *sales.Ledger
	Idem     Idempotency
	Clock    clockwork.Clock
	Log      zerolog.Logger

	// SlipURL maps a stored slip reference to a URL. nil = no link.
	SlipURL func(ref string) string
}

type CreateOrderResp struct {
	Order      orders.OrderView `json:"order"`
	Idempotent bool             `json:"idempotent"`
}

type slipReq struct {
	SlipRef string `json:"slip_ref"`
}

type verifyResp struct {
	Order            orders.OrderView `json:"order"`
	Verified         bool             `json:"verified"`
	AlreadyConfirmed bool             `json:"already_confirmed"`
	Message          string           `json:"message,omitempty"`
	Error            string           `json:"error,omitempty"`
}

type trackingWebhookReq struct {
	TrackingNumber string                 `json:"tracking_number"`
	Events         []orders.TrackingEvent `json:"events"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Post("/webhooks/tracking", h.trackingWebhook)

	r.Group(func(r chi.Router) {
		r.Use(withActor)
		r.Post("/orders", h.createOrder)
		r.Get("/orders/{number}", h.getOrder)
		r.Post("/orders/{number}/slip", h.uploadSlip)
		r.Post("/orders/{number}/cancel", h.cancelOrder)
		r.Get("/orders/{number}/tracking", h.trackingHistory)

		r.Route("/admin", func(r chi.Router) {
			r.Use(requireStaff)
			r.Post("/orders/{number}/verify", h.adminVerify)
			r.Patch("/orders/{number}", h.adminEdit)
			r.Delete("/orders/{number}", h.adminDelete)
			r.Get("/sales/summary", h.salesSummary)
		})
	})
}

func (h *OrdersHandler) now() time.Time {
	if h.Clock == nil {
		return time.Now().UTC()
	}
	return h.Clock.Now()
}

func (h *OrdersHandler) view(o orders.Order) orders.OrderView {
	return orders.View(o, h.now(), h.SlipURL)
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	var req reservation.PlaceRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	actor := actorFrom(r)
	if req.CustomerID == "" {
		req.CustomerID = actor.ID
	}
	if !actor.Staff && req.CustomerID != actor.ID {
		writeError(w, orders.ErrForbidden)
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency via Redis, Redis mati tidak memblokir order
	idemKey := r.Header.Get("Idempotency-Key")
	if idemKey != "" && h.Idem != nil {
		if number, err := h.Idem.Lookup(ctx, idemKey); err != nil {
			h.Log.Warn().Err(err).Msg("idempotency lookup")
		} else if number != "" {
			if o, err := h.Engine.Get(ctx, number); err == nil {
				writeJSON(w, http.StatusOK, CreateOrderResp{Order: h.view(o), Idempotent: true})
				return
			}
		}
	}

	o, err := h.Engine.PlaceOrder(ctx, req)
	if err != nil {
		h.logErr(err, "", "create order")
		writeError(w, err)
		return
	}
	if idemKey != "" && h.Idem != nil {
		if err := h.Idem.Remember(ctx, idemKey, o.Number); err != nil {
			h.Log.Warn().Err(err).Str("order_number", o.Number).Msg("idempotency store")
		}
	}
	writeJSON(w, http.StatusCreated, CreateOrderResp{Order: h.view(o)})
}

// load fetches the order and checks the caller may see it.
func (h *OrdersHandler) load(ctx context.Context, r *http.Request) (orders.Order, error) {
	o, err := h.Engine.Get(ctx, chi.URLParam(r, "number"))
	if err != nil {
		return orders.Order{}, err
	}
	if !actorFrom(r).CanAccess(o) {
		return orders.Order{}, orders.ErrForbidden
	}
	return o, nil
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	o, err := h.load(ctx, r)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(o))
}

// uploadSlip: body dengan slip_ref = upload baru, tanpa slip_ref = retry slip tersimpan.
func (h *OrdersHandler) uploadSlip(w http.ResponseWriter, r *http.Request) {
	var req slipReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
			return
		}
	}
	mode := payment.ModeUpload
	if req.SlipRef == "" {
		mode = payment.ModeRetry
	}
	h.verify(w, r, payment.Request{
		OrderNumber: chi.URLParam(r, "number"),
		Actor:       actorFrom(r),
		SlipRef:     req.SlipRef,
		Mode:        mode,
	})
}

func (h *OrdersHandler) adminVerify(w http.ResponseWriter, r *http.Request) {
	var req slipReq
	if r.ContentLength != 0 {
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
			return
		}
	}
	h.verify(w, r, payment.Request{
		OrderNumber: chi.URLParam(r, "number"),
		Actor:       actorFrom(r),
		SlipRef:     req.SlipRef,
		Mode:        payment.ModeAdmin,
	})
}

func (h *OrdersHandler) verify(w http.ResponseWriter, r *http.Request, req payment.Request) {
	out, err := h.Payments.Verify(r.Context(), req)
	if err != nil {
		h.logErr(err, req.OrderNumber, "verify payment")
		if out.Order.Number == "" {
			writeError(w, err)
			return
		}
		writeJSON(w, statusFor(err), verifyResp{
			Order:   h.view(out.Order),
			Message: out.Message,
			Error:   orders.PublicMessage(err),
		})
		return
	}
	writeJSON(w, http.StatusOK, verifyResp{
		Order:            h.view(out.Order),
		Verified:         out.Verified,
		AlreadyConfirmed: out.AlreadyConfirmed,
		Message:          out.Message,
	})
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.load(ctx, r)
	if err != nil {
		writeError(w, err)
		return
	}
	o, err = h.Engine.ReleaseReservation(ctx, o.Number, orders.ActionCancel)
	if err != nil {
		h.logErr(err, o.Number, "cancel order")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(o))
}

func (h *OrdersHandler) trackingHistory(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	number := chi.URLParam(r, "number")
	actor := actorFrom(r)
	if r.URL.Query().Get("refresh") == "1" {
		if _, err := h.Tracking.Refresh(ctx, actor, number); err != nil {
			writeError(w, err)
			return
		}
	}
	events, err := h.Tracking.History(ctx, actor, number)
	if err != nil {
		writeError(w, err)
		return
	}
	if events == nil {
		events = []orders.TrackingEvent{}
	}
	writeJSON(w, http.StatusOK, map[string]any{"order_number": number, "events": events})
}

func (h *OrdersHandler) trackingWebhook(w http.ResponseWriter, r *http.Request) {
	var req trackingWebhookReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	o, err := h.Tracking.Ingest(ctx, req.TrackingNumber, req.Events)
	if err != nil {
		h.logErr(err, o.Number, "ingest tracking")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]any{
		"order_number":       o.Number,
		"fulfillment_status": o.Fulfillment,
	})
}

func (h *OrdersHandler) adminEdit(w http.ResponseWriter, r *http.Request) {
	var ed reservation.Edit
	if err := json.NewDecoder(r.Body).Decode(&ed); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json"})
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	number := chi.URLParam(r, "number")
	o, err := h.Engine.AdminEdit(ctx, number, ed)
	if err != nil {
		h.logErr(err, number, "admin edit")
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, h.view(o))
}

func (h *OrdersHandler) adminDelete(w http.ResponseWriter, r *http.Request) {
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	number := chi.URLParam(r, "number")
	if err := h.Engine.DeleteOrder(ctx, number); err != nil {
		h.logErr(err, number, "delete order")
		writeError(w, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *OrdersHandler) salesSummary(w http.ResponseWriter, r *http.Request) {
	to := h.now()
	from := to.AddDate(0, 0, -30)
	q := r.URL.Query()
	if v := q.Get("from"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid from"})
			return
		}
		from = t
	}
	if v := q.Get("to"); v != "" {
		t, err := time.Parse(time.RFC3339, v)
		if err != nil {
			writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid to"})
			return
		}
		to = t
	}
	if !from.Before(to) {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "from must be before to"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()
	s, err := h.Sales.Summary(ctx, from, to)
	if err != nil {
		writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, s)
}

// logErr: error domain cukup debug, sisanya error lengkap buat operator.
func (h *OrdersHandler) logErr(err error, number, what string) {
	ev := h.Log.Error()
	if statusFor(err) < http.StatusInternalServerError {
		ev = h.Log.Debug()
	}
	ev.Err(err).Str("order_number", number).Msg(what)
}
