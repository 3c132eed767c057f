package sweeper

import (
	"context"
	"errors"
	"runtime"
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/metrics"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"golang.org/x/sync/singleflight"
)

const defaultBatch = 200

type Lister interface {
	ListLapsed(ctx context.Context, before time.Time, limit int) ([]orders.Order, error)
}

type Expirer interface {
	ExpireOrder(ctx context.Context, number string) (orders.Order, error)
}

type Result struct {
	Scanned int
	Expired int
	Failed  int
}

// Sweeper expires orders whose reservation deadline passed. Cycles never
// overlap: a RunOnce issued while one is running joins it.
type Sweeper struct {
	orders   Lister
	engine   Expirer
	clock    clockwork.Clock
	interval time.Duration
	batch    int
	log      zerolog.Logger

	sf singleflight.Group

	mu     sync.Mutex
	cancel context.CancelFunc
	done   chan struct{}
}

type Options struct {
	Interval time.Duration
	Batch    int
	Clock    clockwork.Clock
	Logger   zerolog.Logger
}

func New(l Lister, e Expirer, opt Options) *Sweeper {
	s := &Sweeper{
		orders:   l,
		engine:   e,
		clock:    opt.Clock,
		interval: opt.Interval,
		batch:    opt.Batch,
		log:      opt.Logger.With().Str("component", "sweeper").Logger(),
	}
	if s.clock == nil {
		s.clock = clockwork.NewRealClock()
	}
	if s.interval <= 0 {
		s.interval = time.Minute
	}
	if s.batch <= 0 {
		s.batch = defaultBatch
	}
	return s
}

// Start runs a cycle every interval until Stop or ctx is done.
func (s *Sweeper) Start(ctx context.Context) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cancel != nil {
		return
	}
	ctx, cancel := context.WithCancel(ctx)
	s.cancel = cancel
	s.done = make(chan struct{})
	ticker := s.clock.NewTicker(s.interval)

	go func(done chan struct{}) {
		defer close(done)
		defer ticker.Stop()
		s.log.Info().Dur("interval", s.interval).Msg("expiry sweeper started")
		for {
			select {
			case <-ctx.Done():
				s.log.Info().Msg("expiry sweeper stopped")
				return
			case <-ticker.Chan():
				if _, err := s.RunOnce(ctx); err != nil && !errors.Is(err, context.Canceled) {
					s.log.Error().Err(err).Msg("sweep cycle failed")
				}
			}
		}
	}(s.done)
}

// Stop cancels the loop and waits for the running cycle to return.
func (s *Sweeper) Stop() {
	s.mu.Lock()
	cancel, done := s.cancel, s.done
	s.cancel, s.done = nil, nil
	s.mu.Unlock()
	if cancel == nil {
		return
	}
	cancel()
	<-done
}

func (s *Sweeper) RunOnce(ctx context.Context) (Result, error) {
	v, err, _ := s.sf.Do("sweep", func() (any, error) {
		return s.sweep(ctx)
	})
	res, _ := v.(Result)
	return res, err
}

func (s *Sweeper) sweep(ctx context.Context) (Result, error) {
	now := s.clock.Now()
	defer func() { metrics.SweepDuration.Observe(s.clock.Since(now).Seconds()) }()
	metrics.Sweeps.Inc()

	lapsed, err := s.orders.ListLapsed(ctx, now, s.batch)
	if err != nil {
		return Result{}, err
	}

	res := Result{Scanned: len(lapsed)}
	for _, o := range lapsed {
		if err := ctx.Err(); err != nil {
			return res, err
		}
		// satu order gagal tidak menghentikan yang lain
		if _, err := s.engine.ExpireOrder(ctx, o.Number); err != nil {
			res.Failed++
			metrics.SweptOrders.WithLabelValues("failed").Inc()
			s.log.Error().Err(err).Str("order_number", o.Number).Msg("expire order")
		} else {
			res.Expired++
			metrics.SweptOrders.WithLabelValues("expired").Inc()
		}
		runtime.Gosched()
	}
	if res.Scanned > 0 {
		s.log.Info().Int("scanned", res.Scanned).Int("expired", res.Expired).Int("failed", res.Failed).Msg("sweep done")
	}
	return res, nil
}
