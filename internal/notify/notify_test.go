package notify

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	kafkax "github.com/ariefcatur/go-shop-orders/internal/kafka"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var at = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)

func paidOrder() orders.Order {
	return orders.Order{Number: "ORD-1", CustomerID: "alice", TotalCents: 25900, Payment: orders.PaymentConfirmed}
}

func TestBuildAudiences(t *testing.T) {
	evs := Build(orders.EventPaymentConfirmed, paidOrder(), at)
	require.Len(t, evs, 2)
	assert.Equal(t, orders.AudienceCustomer, evs[0].Audience)
	assert.Equal(t, orders.AudienceOperators, evs[1].Audience)
	assert.Contains(t, evs[1].Message, "259.00")
	assert.NotEqual(t, evs[0].ID, evs[1].ID)

	o := paidOrder()
	o.SlipReviewCount = 3
	evs = Build(orders.EventReviewThreshold, o, at)
	require.Len(t, evs, 1)
	assert.Equal(t, orders.AudienceOperators, evs[0].Audience)
	assert.Contains(t, evs[0].Message, "3 times")

	assert.Empty(t, Build(orders.EventKind("Unknown"), o, at))
}

type captureSender struct {
	key     []byte
	value   []byte
	headers []kafka.Header
	err     error
}

func (c *captureSender) Publish(key, value []byte, headers ...kafka.Header) error {
	c.key, c.value, c.headers = key, value, headers
	return c.err
}

func TestKafkaPublisherEnvelope(t *testing.T) {
	s := &captureSender{}
	p := NewKafkaPublisher(s, "shop-api")
	ev := Build(orders.EventOrderExpired, paidOrder(), at)[0]

	require.NoError(t, p.Publish(context.Background(), ev))
	assert.Equal(t, "ORD-1", string(s.key))
	assert.Equal(t, string(orders.EventOrderExpired), kafkax.Header(kafka.Message{Headers: s.headers}, kafkax.HeaderEventType))
	assert.Equal(t, "1", kafkax.Header(kafka.Message{Headers: s.headers}, kafkax.HeaderEventVersion))

	got, err := Decode(s.value)
	require.NoError(t, err)
	assert.Equal(t, ev, got)

	s.err = kafkax.ErrInboxFull
	assert.ErrorIs(t, p.Publish(context.Background(), ev), kafkax.ErrInboxFull)
}

type memDedup struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (d *memDedup) Claim(_ context.Context, id string) (bool, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.seen[id] {
		return false, nil
	}
	d.seen[id] = true
	return true, nil
}

func (d *memDedup) Forget(_ context.Context, id string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	delete(d.seen, id)
	return nil
}

type countingNotifier struct {
	mu   sync.Mutex
	got  []Event
	fail bool
}

func (n *countingNotifier) Notify(_ context.Context, ev Event) error {
	n.mu.Lock()
	defer n.mu.Unlock()
	if n.fail {
		return errors.New("webhook 500")
	}
	n.got = append(n.got, ev)
	return nil
}

func message(t *testing.T, ev Event) kafka.Message {
	t.Helper()
	return kafka.Message{Value: kafkax.MustMarshal(Encode(ev, "shop-api"))}
}

func TestDispatcherDedupAndRedelivery(t *testing.T) {
	n := &countingNotifier{fail: true}
	d := NewDispatcher(n, &memDedup{seen: map[string]bool{}}, zerolog.Nop())
	ev := Build(orders.EventOrderPlaced, paidOrder(), at)[0]
	m := message(t, ev)
	ctx := context.Background()

	// gagal: offset tidak di-commit, klaim dilepas
	require.Error(t, d.Handle(ctx, m))

	n.fail = false
	require.NoError(t, d.Handle(ctx, m))
	require.NoError(t, d.Handle(ctx, m))
	require.Len(t, n.got, 1)
	assert.Equal(t, ev.ID, n.got[0].ID)
}

func TestDispatcherDropsGarbage(t *testing.T) {
	n := &countingNotifier{}
	d := NewDispatcher(n, nil, zerolog.Nop())
	assert.NoError(t, d.Handle(context.Background(), kafka.Message{Value: []byte("{not json")}))
	assert.Empty(t, n.got)
}

func TestMemoryPublisher(t *testing.T) {
	m := &Memory{}
	for _, ev := range Build(orders.EventPaymentConfirmed, paidOrder(), at) {
		require.NoError(t, m.Publish(context.Background(), ev))
	}
	assert.Equal(t, 2, m.Count(orders.EventPaymentConfirmed))
	assert.Len(t, m.Events(), 2)
}
