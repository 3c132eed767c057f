package notify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
)

// Notifier delivers one event to its audience.
type Notifier interface {
	Notify(ctx context.Context, ev Event) error
}

type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

// Dispatcher is the consumer side of the notification topic.
type Dispatcher struct {
	notifier Notifier
	dedup    Deduper
	tracer   trace.Tracer
	log      zerolog.Logger
}

func NewDispatcher(n Notifier, d Deduper, log zerolog.Logger) *Dispatcher {
	return &Dispatcher{
		notifier: n,
		dedup:    d,
		tracer:   otel.Tracer("notifier"),
		log:      log.With().Str("component", "notify-dispatcher").Logger(),
	}
}

// Handle implements kafka.Handler. Returning nil commits the offset.
func (d *Dispatcher) Handle(ctx context.Context, m kafka.Message) error {
	ctx = otel.GetTextMapPropagator().Extract(ctx, kafkax.HeaderCarrier{Headers: &m.Headers})
	ctx, span := d.tracer.Start(ctx, "notify.Handle", trace.WithSpanKind(trace.SpanKindConsumer))
	defer span.End()

	ev, err := Decode(m.Value)
	if err != nil {
		// pesan rusak tidak akan sembuh dengan retry
		d.log.Error().Err(err).Int64("offset", m.Offset).Msg("drop undecodable notification")
		return nil
	}
	span.SetAttributes(attribute.String("order.number", ev.OrderNumber), attribute.String("event.kind", string(ev.Kind)))
	lg := d.log.With().Str("event_id", ev.ID).Str("order_number", ev.OrderNumber).Str("kind", string(ev.Kind)).Logger()

	if d.dedup != nil {
		first, err := d.dedup.Claim(ctx, ev.ID)
		if err != nil {
			lg.Warn().Err(err).Msg("dedup unavailable, delivering anyway")
		} else if !first {
			lg.Debug().Msg("duplicate notification skipped")
			return nil
		}
	}

	if err := d.notifier.Notify(ctx, ev); err != nil {
		if d.dedup != nil {
			_ = d.dedup.Forget(context.WithoutCancel(ctx), ev.ID)
		}
		span.RecordError(err)
		return fmt.Errorf("notify %s: %w", ev.ID, err)
	}
	lg.Info().Str("audience", string(ev.Audience)).Msg("notification delivered")
	return nil
}

// WebhookNotifier posts events to an HTTP endpoint (chat bot, mail relay).
type WebhookNotifier struct {
	URL    string
	Client *http.Client
}

func NewWebhookNotifier(url string, opts ...otelhttp.Option) *WebhookNotifier {
	return &WebhookNotifier{URL: url, Client: &http.Client{
		Timeout:   5 * time.Second,
		Transport: otelhttp.NewTransport(http.DefaultTransport, opts...),
	}}
}

type webhookBody struct {
	EventID     string          `json:"event_id"`
	Kind        string          `json:"kind"`
	OrderNumber string          `json:"order_number"`
	CustomerID  string          `json:"customer_id,omitempty"`
	Audience    orders.Audience `json:"audience"`
	Message     string          `json:"message"`
	OccurredAt  time.Time       `json:"occurred_at"`
}

func (w *WebhookNotifier) Notify(ctx context.Context, ev Event) error {
	b, err := json.Marshal(webhookBody{
		EventID:     ev.ID,
		Kind:        string(ev.Kind),
		OrderNumber: ev.OrderNumber,
		CustomerID:  ev.CustomerID,
		Audience:    ev.Audience,
		Message:     ev.Message,
		OccurredAt:  ev.OccurredAt,
	})
	if err != nil {
		return err
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.URL, bytes.NewReader(b))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := w.Client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if resp.StatusCode >= 300 {
		return fmt.Errorf("webhook returned %s", resp.Status)
	}
	return nil
}

// LogNotifier only logs. Used when no webhook is configured.
type LogNotifier struct{ Log zerolog.Logger }

func (l LogNotifier) Notify(_ context.Context, ev Event) error {
	l.Log.Info().Str("order_number", ev.OrderNumber).Str("audience", string(ev.Audience)).
		Str("kind", string(ev.Kind)).Msg(ev.Message)
	return nil
}
