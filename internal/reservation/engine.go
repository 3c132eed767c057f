package reservation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/metrics"
	"github.com/ariefcatur/go-shop-orders/internal/notify"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/sales"
	"github.com/google/uuid"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
)

const defaultRetries = 3

type Config struct {
	Orders     orders.Repository
	Catalog    inventory.Catalog
	Ledger     *inventory.Ledger
	Sales      *sales.Ledger
	Events     notify.Publisher
	Clock      clockwork.Clock
	Policy     orders.Policy
	Logger     zerolog.Logger
	MaxRetries int
}

// Engine executes order transitions: it asks orders.PlanTransition what to do
// and applies the plan against the stock ledger, the order store and the
// sales ledger.
type Engine struct {
	orders  orders.Repository
	catalog inventory.Catalog
	ledger  *inventory.Ledger
	sales   *sales.Ledger
	events  notify.Publisher
	clock   clockwork.Clock
	policy  orders.Policy
	log     zerolog.Logger
	retries int
}

func New(c Config) *Engine {
	e := &Engine{
		orders:  c.Orders,
		catalog: c.Catalog,
		ledger:  c.Ledger,
		sales:   c.Sales,
		events:  c.Events,
		clock:   c.Clock,
		policy:  c.Policy,
		log:     c.Logger.With().Str("component", "reservation").Logger(),
		retries: c.MaxRetries,
	}
	if e.clock == nil {
		e.clock = clockwork.NewRealClock()
	}
	if e.policy.ReservationTTL <= 0 {
		e.policy = orders.DefaultPolicy()
	}
	if e.retries <= 0 {
		e.retries = defaultRetries
	}
	return e
}

// Reservation is what ReserveForNewOrder took from the ledger.
type Reservation struct {
	Lines []inventory.Line
}

// ReserveForNewOrder reserves every item or none of them.
func (e *Engine) ReserveForNewOrder(ctx context.Context, items []orders.OrderItem) (Reservation, error) {
	lines := linesOf(items)
	if err := e.ledger.Reserve(ctx, lines); err != nil {
		return Reservation{}, translate(err)
	}
	return Reservation{Lines: lines}, nil
}

type LineRequest struct {
	ProductID string `json:"product_id"`
	Size      string `json:"size"`
	Color     string `json:"color"`
	Qty       int    `json:"qty"`
}

type PlaceRequest struct {
	CustomerID string        `json:"customer_id"`
	Lines      []LineRequest `json:"items"`
}

// PlaceOrder snapshots the catalog, reserves synchronously and stores the order.
func (e *Engine) PlaceOrder(ctx context.Context, req PlaceRequest) (orders.Order, error) {
	if req.CustomerID == "" || len(req.Lines) == 0 {
		return orders.Order{}, fmt.Errorf("%w: customer and items are required", orders.ErrInvalidRequest)
	}

	products := map[string]inventory.Product{}
	items := make([]orders.OrderItem, 0, len(req.Lines))
	var total int64
	for _, ln := range req.Lines {
		if ln.Qty <= 0 {
			return orders.Order{}, fmt.Errorf("%w: invalid qty for product %s", orders.ErrInvalidRequest, ln.ProductID)
		}
		p, ok := products[ln.ProductID]
		if !ok {
			var err error
			p, err = e.catalog.Product(ctx, ln.ProductID)
			if errors.Is(err, inventory.ErrProductNotFound) {
				return orders.Order{}, fmt.Errorf("%w: product not found: %s", orders.ErrInvalidRequest, ln.ProductID)
			}
			if err != nil {
				return orders.Order{}, err
			}
			products[ln.ProductID] = p
		}
		v, ok := p.Variant(ln.Size, ln.Color)
		if !ok {
			return orders.Order{}, fmt.Errorf("%w: variant %s/%s not found for product %s",
				orders.ErrInvalidRequest, ln.Size, ln.Color, ln.ProductID)
		}
		it := orders.OrderItem{
			ProductID:      p.ID,
			ProductName:    p.Name,
			Size:           v.Size,
			Color:          v.Color,
			UnitPriceCents: v.PriceCents,
			Qty:            ln.Qty,
			Preorder:       p.Preorder,
		}
		total += it.LineTotal()
		items = append(items, it)
	}

	res, err := e.ReserveForNewOrder(ctx, items)
	if err != nil {
		return orders.Order{}, err
	}

	now := e.clock.Now()
	exp := now.Add(e.policy.ReservationTTL)
	o := orders.Order{
		Number:            NewOrderNumber(now),
		CustomerID:        req.CustomerID,
		Items:             items,
		TotalCents:        total,
		Fulfillment:       orders.FulfillmentReceived,
		Payment:           orders.PaymentWaiting,
		Reservation:       orders.ReservationHeld,
		ReservationExpiry: &exp,
		Version:           1,
		CreatedAt:         now,
		UpdatedAt:         now,
	}
	if err := e.orders.Create(ctx, o); err != nil {
		// order tidak tersimpan -> kembalikan stok
		if _, rerr := e.ledger.Release(context.WithoutCancel(ctx), res.Lines); rerr != nil {
			e.log.Error().Err(rerr).Str("order_number", o.Number).Msg("release after failed create")
		}
		return orders.Order{}, fmt.Errorf("create order: %w", err)
	}
	metrics.Transitions.WithLabelValues("create").Inc()
	e.emit(ctx, orders.EventOrderPlaced, o)
	return o, nil
}

func (e *Engine) Get(ctx context.Context, number string) (orders.Order, error) {
	return e.orders.Get(ctx, number)
}

// ConfirmReservation commits the order's reservation after a successful
// payment. already=true when the order was confirmed before this call; that
// is not an error.
func (e *Engine) ConfirmReservation(ctx context.Context, number, slipRef, note string) (o orders.Order, already bool, err error) {
	o, err = e.Apply(ctx, number, orders.Intent{Action: orders.ActionConfirm, SlipRef: slipRef, Note: note})
	if errors.Is(err, orders.ErrAlreadyConfirmed) {
		return o, true, nil
	}
	return o, false, err
}

// ReleaseReservation expires or cancels an unpaid order, returning its units.
func (e *Engine) ReleaseReservation(ctx context.Context, number string, action orders.Action) (orders.Order, error) {
	if action != orders.ActionExpire && action != orders.ActionCancel {
		return orders.Order{}, fmt.Errorf("%w: release via %q", orders.ErrInvalidRequest, action)
	}
	return e.Apply(ctx, number, orders.Intent{Action: action})
}

func (e *Engine) ExpireOrder(ctx context.Context, number string) (orders.Order, error) {
	return e.ReleaseReservation(ctx, number, orders.ActionExpire)
}

// RecordFailedVerification counts a failed slip check. unavailable=true keeps
// the payment status as is.
func (e *Engine) RecordFailedVerification(ctx context.Context, number, slipRef, note string, unavailable bool) (orders.Order, error) {
	action := orders.ActionReject
	if unavailable {
		action = orders.ActionUnavailable
	}
	return e.Apply(ctx, number, orders.Intent{Action: action, SlipRef: slipRef, Note: note})
}

type Edit struct {
	Payment        orders.PaymentStatus     `json:"payment_status,omitempty"`
	Fulfillment    orders.FulfillmentStatus `json:"fulfillment_status,omitempty"`
	TrackingNumber string                   `json:"tracking_number,omitempty"`
}

func (e *Engine) AdminEdit(ctx context.Context, number string, ed Edit) (orders.Order, error) {
	return e.Apply(ctx, number, orders.Intent{
		Action:         orders.ActionEdit,
		Payment:        ed.Payment,
		Fulfillment:    ed.Fulfillment,
		TrackingNumber: ed.TrackingNumber,
	})
}

// DeleteOrder releases a held reservation before removing the order.
func (e *Engine) DeleteOrder(ctx context.Context, number string) error {
	_, err := e.Apply(ctx, number, orders.Intent{Action: orders.ActionDelete})
	return err
}

func (e *Engine) RecordTracking(ctx context.Context, number string, events []orders.TrackingEvent) (orders.Order, error) {
	return e.Apply(ctx, number, orders.Intent{Action: orders.ActionTrack, Tracking: events})
}

// Apply loads the order, plans the transition and executes it. A lost
// compare-and-swap undoes any pre-commit reservation, reloads and re-plans.
func (e *Engine) Apply(ctx context.Context, number string, in orders.Intent) (orders.Order, error) {
	for attempt := 0; attempt < e.retries; attempt++ {
		cur, err := e.orders.Get(ctx, number)
		if err != nil {
			return orders.Order{}, err
		}
		plan, err := orders.PlanTransition(cur, in, e.clock.Now(), e.policy)
		if err != nil {
			return cur, err
		}
		if plan.NoOp {
			return cur, nil
		}

		lines := linesOf(cur.Items)
		if plan.Reserve {
			if err := e.ledger.Reserve(ctx, lines); err != nil {
				err = translate(err)
				if errors.Is(err, orders.ErrInsufficientStock) {
					return cur, fmt.Errorf("%w: %w", orders.ErrStockUnavailable, err)
				}
				return cur, err
			}
		}

		switch {
		case plan.Delete:
			err = e.orders.Delete(ctx, number, cur.Version)
		case plan.Confirm:
			// order CONFIRMED dan sale entry ditulis bersama
			_, _, err = e.sales.Commit(ctx, plan.Next, cur.Version, paidAt(plan.Next))
		default:
			err = e.orders.Update(ctx, plan.Next, cur.Version)
		}
		if err != nil {
			if plan.Reserve {
				e.undoReserve(ctx, number, lines)
			}
			if errors.Is(err, orders.ErrConflict) {
				e.log.Debug().Str("order_number", number).Str("action", string(in.Action)).Int("attempt", attempt+1).
					Msg("order changed underneath, replanning")
				continue
			}
			return cur, err
		}

		metrics.Transitions.WithLabelValues(string(in.Action)).Inc()
		e.afterCommit(ctx, plan, lines)
		return plan.Next, nil
	}
	return orders.Order{}, orders.ErrConflict
}

func (e *Engine) undoReserve(ctx context.Context, number string, lines []inventory.Line) {
	rep, err := e.ledger.Release(context.WithoutCancel(ctx), lines)
	if err != nil || !rep.OK() {
		e.log.Error().Err(err).Str("order_number", number).Int("skipped", len(rep.Skipped)).
			Msg("undo re-reservation incomplete")
	}
}

// afterCommit runs the post-commit ledger work. The order (and its sale entry
// on confirm) is already stored, so failures here are logged, not returned.
func (e *Engine) afterCommit(ctx context.Context, plan orders.Plan, lines []inventory.Line) {
	ctx = context.WithoutCancel(ctx)
	o := plan.Next
	lg := e.log.With().Str("order_number", o.Number).Logger()

	if plan.Release {
		if rep, err := e.ledger.Release(ctx, lines); err != nil || !rep.OK() {
			lg.Error().Err(err).Int("skipped", len(rep.Skipped)).Msg("release incomplete")
		}
	}
	if plan.Confirm {
		if rep, err := e.ledger.Confirm(ctx, lines); err != nil || !rep.OK() {
			lg.Error().Err(err).Int("skipped", len(rep.Skipped)).Msg("confirm incomplete")
		}
	}
	for _, k := range plan.Events {
		e.emit(ctx, k, o)
	}
}

func (e *Engine) emit(ctx context.Context, kind orders.EventKind, o orders.Order) {
	if e.events == nil {
		return
	}
	for _, ev := range notify.Build(kind, o, e.clock.Now()) {
		if err := e.events.Publish(ctx, ev); err != nil {
			e.log.Warn().Err(err).Str("order_number", o.Number).Str("event", string(kind)).Msg("notification dropped")
		}
	}
}

func paidAt(o orders.Order) time.Time {
	if o.PaidAt != nil {
		return *o.PaidAt
	}
	return o.UpdatedAt
}

func linesOf(items []orders.OrderItem) []inventory.Line {
	out := make([]inventory.Line, 0, len(items))
	for _, it := range items {
		out = append(out, inventory.Line{
			Key:      inventory.VariantKey{ProductID: it.ProductID, Size: it.Size, Color: it.Color},
			Qty:      it.Qty,
			Preorder: it.Preorder,
		})
	}
	return out
}

// translate maps ledger errors to domain errors.
func translate(err error) error {
	var se *inventory.ShortageError
	if errors.As(err, &se) {
		return &orders.InsufficientStockError{
			ProductID: se.Line.Key.ProductID,
			Size:      se.Line.Key.Size,
			Color:     se.Line.Key.Color,
			Required:  se.Line.Qty,
			Available: se.Available,
		}
	}
	return err
}

// NewOrderNumber: ORD-YYYYMMDD-XXXXXXXX
func NewOrderNumber(now time.Time) string {
	suffix := strings.ToUpper(strings.ReplaceAll(uuid.NewString(), "-", "")[:8])
	return "ORD-" + now.UTC().Format("20060102") + "-" + suffix
}
