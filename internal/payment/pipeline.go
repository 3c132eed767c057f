package payment

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/metrics"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

const (
	defaultVerifyTimeout = 10 * time.Second
	unavailableNote      = "slip verification service unavailable"
)

// Engine is the part of the reservation engine the pipeline drives.
type Engine interface {
	Get(ctx context.Context, number string) (orders.Order, error)
	ConfirmReservation(ctx context.Context, number, slipRef, note string) (orders.Order, bool, error)
	RecordFailedVerification(ctx context.Context, number, slipRef, note string, unavailable bool) (orders.Order, error)
	ExpireOrder(ctx context.Context, number string) (orders.Order, error)
}

type Mode string

const (
	ModeUpload Mode = "upload" // slip baru
	ModeRetry  Mode = "retry"  // verifikasi ulang slip tersimpan
	ModeAdmin  Mode = "admin"  // staff memaksa verifikasi
)

type Request struct {
	OrderNumber string
	Actor       orders.Actor
	SlipRef     string // kosong = pakai slip yang tersimpan di order
	Mode        Mode
}

type Outcome struct {
	Order            orders.Order
	Verified         bool
	AlreadyConfirmed bool
	Message          string
}

type Pipeline struct {
	engine   Engine
	verifier Verifier
	clock    clockwork.Clock
	timeout  time.Duration
	tracer   trace.Tracer
	log      zerolog.Logger
}

type Options struct {
	Timeout time.Duration
	Clock   clockwork.Clock
	Tracer  trace.Tracer
	Logger  zerolog.Logger
}

func NewPipeline(engine Engine, verifier Verifier, opt Options) *Pipeline {
	p := &Pipeline{
		engine:   engine,
		verifier: verifier,
		clock:    opt.Clock,
		timeout:  opt.Timeout,
		tracer:   opt.Tracer,
		log:      opt.Logger.With().Str("component", "payment").Logger(),
	}
	if p.clock == nil {
		p.clock = clockwork.NewRealClock()
	}
	if p.timeout <= 0 {
		p.timeout = defaultVerifyTimeout
	}
	if p.tracer == nil {
		p.tracer = otel.Tracer("payment")
	}
	return p
}

// Verify checks a slip for an order and drives the payment transition.
// Collaborator failures come back as ErrVerificationUnavailable, never as
// infra errors.
func (p *Pipeline) Verify(ctx context.Context, req Request) (Outcome, error) {
	ctx, span := p.tracer.Start(ctx, "payment.Verify", trace.WithAttributes(
		attribute.String("order.number", req.OrderNumber),
		attribute.String("payment.mode", string(req.Mode)),
	))
	defer span.End()

	out, err := p.verify(ctx, req)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, orders.PublicMessage(err))
	}
	return out, err
}

func (p *Pipeline) verify(ctx context.Context, req Request) (Outcome, error) {
	o, err := p.engine.Get(ctx, req.OrderNumber)
	if err != nil {
		return Outcome{}, err
	}
	// cek kepemilikan dulu, sebelum menyentuh state apa pun
	if !req.Actor.CanAccess(o) || (req.Mode == ModeAdmin && !req.Actor.Staff) {
		return Outcome{}, orders.ErrForbidden
	}
	lg := p.log.With().Str("order_number", o.Number).Str("mode", string(req.Mode)).Logger()

	if o.Payment == orders.PaymentConfirmed {
		return Outcome{Order: o, Verified: true, AlreadyConfirmed: true, Message: o.PaymentNote}, nil
	}

	slip := req.SlipRef
	if slip == "" {
		slip = o.SlipRef
	}
	if slip == "" {
		return Outcome{Order: o}, fmt.Errorf("%w: no payment slip", orders.ErrInvalidRequest)
	}

	if orders.Lapsed(o, p.clock.Now()) {
		expired, err := p.engine.ExpireOrder(ctx, o.Number)
		if err != nil {
			lg.Error().Err(err).Msg("expire lapsed order before verification")
			expired = o
		}
		metrics.Verifications.WithLabelValues("expired").Inc()
		return Outcome{Order: expired}, orders.ErrExpiredOrder
	}

	vctx, cancel := context.WithTimeout(ctx, p.timeout)
	res, verr := p.verifier.Verify(vctx, slip, o.TotalCents)
	cancel()

	if verr != nil {
		lg.Error().Err(verr).Msg("slip verifier call failed")
		metrics.Verifications.WithLabelValues("unavailable").Inc()
		return p.fail(ctx, lg, o, slip, unavailableNote, true)
	}
	if !res.Success {
		metrics.Verifications.WithLabelValues("rejected").Inc()
		return p.fail(ctx, lg, o, slip, res.Message, false)
	}

	confirmed, already, err := p.engine.ConfirmReservation(ctx, o.Number, slip, res.Message)
	if err != nil {
		lg.Warn().Err(err).Msg("confirm after verified slip")
		metrics.Verifications.WithLabelValues("confirm_failed").Inc()
		return Outcome{Order: o, Message: res.Message}, err
	}
	metrics.Verifications.WithLabelValues("confirmed").Inc()
	return Outcome{Order: confirmed, Verified: true, AlreadyConfirmed: already, Message: res.Message}, nil
}

func (p *Pipeline) fail(ctx context.Context, lg zerolog.Logger, o orders.Order, slip, note string, unavailable bool) (Outcome, error) {
	updated, err := p.engine.RecordFailedVerification(ctx, o.Number, slip, note, unavailable)
	switch {
	case errors.Is(err, orders.ErrAlreadyConfirmed):
		// confirm lain menang duluan
		return Outcome{Order: updated, Verified: true, AlreadyConfirmed: true, Message: updated.PaymentNote}, nil
	case err != nil:
		lg.Error().Err(err).Msg("record failed verification")
		updated = o
	}
	if unavailable {
		return Outcome{Order: updated, Message: orders.PublicMessage(orders.ErrVerificationUnavailable)}, orders.ErrVerificationUnavailable
	}
	return Outcome{Order: updated, Message: note}, orders.ErrVerificationFailed
}
