package notify

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/google/uuid"
)

// Event is an outbound notification, emitted only after a transition commits.
type Event struct {
	ID          string
	Kind        orders.EventKind
	OrderNumber string
	CustomerID  string
	Audience    orders.Audience
	Message     string
	OccurredAt  time.Time
}

// Publisher hands events off for asynchronous delivery. Errors are for
// logging only; they never affect order state.
type Publisher interface {
	Publish(ctx context.Context, ev Event) error
}

// Build turns a committed transition into the events to send.
func Build(kind orders.EventKind, o orders.Order, at time.Time) []Event {
	mk := func(aud orders.Audience, msg string) Event {
		return Event{
			ID:          uuid.NewString(),
			Kind:        kind,
			OrderNumber: o.Number,
			CustomerID:  o.CustomerID,
			Audience:    aud,
			Message:     msg,
			OccurredAt:  at.UTC(),
		}
	}
	switch kind {
	case orders.EventOrderPlaced:
		return []Event{mk(orders.AudienceCustomer, fmt.Sprintf("Order %s received. Please pay %s before %s.",
			o.Number, formatCents(o.TotalCents), formatDeadline(o.ReservationExpiry)))}
	case orders.EventPaymentConfirmed:
		return []Event{
			mk(orders.AudienceCustomer, fmt.Sprintf("Payment for order %s confirmed. We are preparing your items.", o.Number)),
			mk(orders.AudienceOperators, fmt.Sprintf("Order %s paid (%s).", o.Number, formatCents(o.TotalCents))),
		}
	case orders.EventPaymentRejected:
		return []Event{mk(orders.AudienceCustomer, fmt.Sprintf("Payment slip for order %s could not be verified. Please upload it again.", o.Number))}
	case orders.EventReviewThreshold:
		return []Event{mk(orders.AudienceOperators, fmt.Sprintf("Order %s failed slip verification %d times, please review manually.", o.Number, o.SlipReviewCount))}
	case orders.EventOrderExpired:
		return []Event{mk(orders.AudienceCustomer, fmt.Sprintf("Order %s expired before payment and was cancelled.", o.Number))}
	case orders.EventOrderCancelled:
		return []Event{mk(orders.AudienceCustomer, fmt.Sprintf("Order %s was cancelled.", o.Number))}
	case orders.EventOrderDelivered:
		return []Event{mk(orders.AudienceCustomer, fmt.Sprintf("Order %s has been delivered.", o.Number))}
	}
	return nil
}

func formatCents(c int64) string { return fmt.Sprintf("%d.%02d", c/100, c%100) }

func formatDeadline(t *time.Time) string {
	if t == nil {
		return "-"
	}
	return t.UTC().Format("2006-01-02 15:04 UTC")
}

// Memory collects events in process (dev mode and tests).
type Memory struct {
	mu     sync.Mutex
	events []Event
}

func (m *Memory) Publish(_ context.Context, ev Event) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.events = append(m.events, ev)
	return nil
}

func (m *Memory) Events() []Event {
	m.mu.Lock()
	defer m.mu.Unlock()
	return append([]Event(nil), m.events...)
}

func (m *Memory) Count(kind orders.EventKind) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	n := 0
	for _, ev := range m.events {
		if ev.Kind == kind {
			n++
		}
	}
	return n
}
