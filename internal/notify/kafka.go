package notify

import (
	"context"
	"strconv"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/segmentio/kafka-go"
	"go.opentelemetry.io/otel"
)

const envelopeVersion = 1

// Sender is the part of kafka.Producer the publisher needs.
type Sender interface {
	Publish(key, value []byte, headers ...kafka.Header) error
}

// KafkaPublisher wraps events in the envelope and hands them to the async
// producer, keyed by order number.
type KafkaPublisher struct {
	sender  Sender
	service string
}

func NewKafkaPublisher(s Sender, service string) *KafkaPublisher {
	return &KafkaPublisher{sender: s, service: service}
}

func (p *KafkaPublisher) Publish(ctx context.Context, ev Event) error {
	env := Encode(ev, p.service)
	headers := []kafka.Header{
		{Key: kafkax.HeaderEventType, Value: []byte(ev.Kind)},
		{Key: kafkax.HeaderEventVersion, Value: []byte(strconv.Itoa(envelopeVersion))},
	}
	otel.GetTextMapPropagator().Inject(ctx, kafkax.HeaderCarrier{Headers: &headers})
	return p.sender.Publish(orders.PartitionKey(ev.OrderNumber), kafkax.MustMarshal(env), headers...)
}

// Encode builds the wire envelope for an event.
func Encode(ev Event, service string) orders.Envelope {
	return orders.Envelope{
		EventID:       ev.ID,
		EventType:     string(ev.Kind),
		EventVersion:  envelopeVersion,
		OccurredAt:    ev.OccurredAt,
		Producer:      service,
		CorrelationID: ev.OrderNumber,
		Payload: kafkax.MustMarshal(orders.NotificationPayload{
			OrderNumber: ev.OrderNumber,
			CustomerID:  ev.CustomerID,
			Audience:    ev.Audience,
			Message:     ev.Message,
		}),
	}
}

// Decode is the inverse of Encode.
func Decode(b []byte) (Event, error) {
	var env orders.Envelope
	if err := kafkax.UnmarshalEnvelope(b, &env); err != nil {
		return Event{}, err
	}
	p, err := kafkax.UnwrapPayload[orders.NotificationPayload](env.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:          env.EventID,
		Kind:        orders.EventKind(env.EventType),
		OrderNumber: p.OrderNumber,
		CustomerID:  p.CustomerID,
		Audience:    p.Audience,
		Message:     p.Message,
		OccurredAt:  env.OccurredAt,
	}, nil
}
