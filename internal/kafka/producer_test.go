package kafka

import (
	"testing"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/assert"
)

func TestPublishNeverBlocks(t *testing.T) {
	p := NewProducer([]string{"localhost:9092"}, "t", 1, zerolog.Nop())

	assert.NoError(t, p.Publish([]byte("k"), []byte("v1")))
	assert.ErrorIs(t, p.Publish([]byte("k"), []byte("v2")), ErrInboxFull)

	p.Close()
	p.Close()
	assert.ErrorIs(t, p.Publish([]byte("k"), []byte("v3")), ErrProducerClosed)
}

func TestHeaderCarrier(t *testing.T) {
	var hs []kafka.Header
	c := HeaderCarrier{Headers: &hs}
	c.Set("traceparent", "00-a-b-01")
	c.Set("traceparent", "00-c-d-01")
	c.Set(HeaderEventType, "OrderPlaced")

	assert.Len(t, hs, 2)
	assert.Equal(t, "00-c-d-01", c.Get("traceparent"))
	assert.Equal(t, []string{"traceparent", HeaderEventType}, c.Keys())
	assert.Equal(t, "OrderPlaced", Header(kafka.Message{Headers: hs}, HeaderEventType))
	assert.Empty(t, c.Get("missing"))
}
