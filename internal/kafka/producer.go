package kafka

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"github.com/segmentio/kafka-go"
)

var (
	ErrInboxFull      = errors.New("kafka producer inbox full")
	ErrProducerClosed = errors.New("kafka producer closed")
)

// Producer buffers messages and writes them from one goroutine. Publish never
// blocks the caller.
type Producer struct {
	w       *kafka.Writer
	inbox   chan kafka.Message
	closeCh chan struct{}
	log     zerolog.Logger

	mu     sync.RWMutex
	closed bool
}

func NewProducer(brokers []string, topic string, buf int, log zerolog.Logger) *Producer {
	if buf <= 0 {
		buf = 1024
	}
	lg := log.With().Str("component", "kafka-producer").Str("topic", topic).Logger()
	return &Producer{
		w: &kafka.Writer{
			Addr:         kafka.TCP(brokers...),
			Topic:        topic,
			Balancer:     &kafka.Hash{},
			RequiredAcks: kafka.RequireAll,
			Async:        true, // fire-and-forget untuk throughput; error dilog lewat Completion
			Completion: func(msgs []kafka.Message, err error) {
				if err != nil {
					lg.Error().Err(err).Int("messages", len(msgs)).Msg("kafka write failed")
				}
			},
		},
		inbox:   make(chan kafka.Message, buf),
		closeCh: make(chan struct{}),
		log:     lg,
	}
}

// Start runs the write loop. It exits after Close, once the inbox is drained,
// or when ctx is done.
func (p *Producer) Start(ctx context.Context) {
	go func() {
		defer close(p.closeCh)
		for {
			select {
			case <-ctx.Done():
				p.Close()
				p.drain()
				return
			case m, ok := <-p.inbox:
				if !ok {
					p.flush()
					return
				}
				if err := p.w.WriteMessages(context.Background(), m); err != nil {
					p.log.Error().Err(err).Msg("enqueue kafka message")
				}
			}
		}
	}()
}

func (p *Producer) drain() {
	for m := range p.inbox {
		if err := p.w.WriteMessages(context.Background(), m); err != nil {
			p.log.Error().Err(err).Msg("enqueue kafka message on shutdown")
		}
	}
	p.flush()
}

func (p *Producer) flush() {
	if err := p.w.Close(); err != nil {
		p.log.Error().Err(err).Msg("close kafka writer")
	}
}

func (p *Producer) Publish(key, value []byte, headers ...kafka.Header) error {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.closed {
		return ErrProducerClosed
	}
	select {
	case p.inbox <- kafka.Message{Key: key, Value: value, Time: time.Now(), Headers: headers}:
		return nil
	default:
		return ErrInboxFull
	}
}

// Tutup inbox supaya goroutine nge-flush sisa pesan lalu exit rapi. Aman
// dipanggil berkali-kali.
func (p *Producer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed {
		return
	}
	p.closed = true
	close(p.inbox)
}

// Tunggu sampai goroutine selesai.
func (p *Producer) WaitClosed() { <-p.closeCh }
