package tracking

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/redisx"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
)

// Tracker is the parcel-tracking collaborator.
type Tracker interface {
	Lookup(ctx context.Context, trackingNumber string) ([]orders.TrackingEvent, error)
}

// Finder loads orders by number or tracking number.
type Finder interface {
	Get(ctx context.Context, number string) (orders.Order, error)
	GetByTracking(ctx context.Context, trackingNumber string) (orders.Order, error)
}

type Recorder interface {
	RecordTracking(ctx context.Context, number string, events []orders.TrackingEvent) (orders.Order, error)
}

type Deduper interface {
	Claim(ctx context.Context, id string) (bool, error)
	Forget(ctx context.Context, id string) error
}

type Service struct {
	orders   Finder
	recorder Recorder
	tracker  Tracker
	dedup    Deduper
	log      zerolog.Logger
}

// NewService wires the tracking service. tracker and dedup may be nil.
func NewService(f Finder, r Recorder, t Tracker, d Deduper, log zerolog.Logger) *Service {
	return &Service{
		orders:   f,
		recorder: r,
		tracker:  t,
		dedup:    d,
		log:      log.With().Str("component", "tracking").Logger(),
	}
}

// Ingest appends courier events to the order holding trackingNumber. A
// payload already seen is skipped; events already in the history are dropped
// by the order guard.
func (s *Service) Ingest(ctx context.Context, trackingNumber string, events []orders.TrackingEvent) (orders.Order, error) {
	if trackingNumber == "" || len(events) == 0 {
		return orders.Order{}, fmt.Errorf("%w: tracking number and events are required", orders.ErrInvalidRequest)
	}
	o, err := s.orders.GetByTracking(ctx, trackingNumber)
	if err != nil {
		return orders.Order{}, err
	}

	id := payloadID(trackingNumber, events)
	if s.dedup != nil {
		first, err := s.dedup.Claim(ctx, id)
		if err != nil {
			s.log.Warn().Err(err).Str("tracking_number", trackingNumber).Msg("dedup unavailable")
		} else if !first {
			return o, nil
		}
	}

	updated, err := s.recorder.RecordTracking(ctx, o.Number, events)
	if err != nil {
		if s.dedup != nil {
			_ = s.dedup.Forget(context.WithoutCancel(ctx), id)
		}
		return o, err
	}
	return updated, nil
}

// History returns the stored tracking history for the owner or staff.
func (s *Service) History(ctx context.Context, actor orders.Actor, number string) ([]orders.TrackingEvent, error) {
	o, err := s.orders.Get(ctx, number)
	if err != nil {
		return nil, err
	}
	if !actor.CanAccess(o) {
		return nil, orders.ErrForbidden
	}
	return append([]orders.TrackingEvent(nil), o.TrackingHistory...), nil
}

// Refresh pulls the latest events from the tracker and ingests them.
func (s *Service) Refresh(ctx context.Context, actor orders.Actor, number string) (orders.Order, error) {
	o, err := s.orders.Get(ctx, number)
	if err != nil {
		return orders.Order{}, err
	}
	if !actor.CanAccess(o) {
		return orders.Order{}, orders.ErrForbidden
	}
	if o.TrackingNumber == "" || s.tracker == nil {
		return o, nil
	}
	events, err := s.tracker.Lookup(ctx, o.TrackingNumber)
	if err != nil {
		s.log.Warn().Err(err).Str("order_number", o.Number).Msg("tracking lookup failed")
		return o, nil
	}
	if len(events) == 0 {
		return o, nil
	}
	return s.recorder.RecordTracking(ctx, o.Number, events)
}

// payloadID hashes the set of event fingerprints, so the same delivery in any
// order maps to one id.
func payloadID(trackingNumber string, events []orders.TrackingEvent) string {
	fps := make([]string, 0, len(events))
	for _, ev := range events {
		fps = append(fps, ev.Fingerprint())
	}
	sort.Strings(fps)
	sum := sha256.Sum256([]byte(trackingNumber + "\n" + strings.Join(fps, "\n")))
	return "tracking:" + hex.EncodeToString(sum[:])
}

// CachedTracker keeps tracker results in Redis for a while so repeated
// lookups do not hit the courier API.
type CachedTracker struct {
	next Tracker
	rdb  redis.Cmdable
	ttl  time.Duration
	log  zerolog.Logger
}

func NewCachedTracker(next Tracker, rdb redis.Cmdable, ttl time.Duration, log zerolog.Logger) *CachedTracker {
	if ttl <= 0 {
		ttl = redisx.TTLTrackingCache
	}
	return &CachedTracker{next: next, rdb: rdb, ttl: ttl, log: log}
}

func (c *CachedTracker) Lookup(ctx context.Context, trackingNumber string) ([]orders.TrackingEvent, error) {
	key := fmt.Sprintf(redisx.KeyTracking, trackingNumber)
	var cached []orders.TrackingEvent
	if ok, err := redisx.GetJSON(ctx, c.rdb, key, &cached); err == nil && ok {
		return cached, nil
	} else if err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("tracking cache read")
	}

	events, err := c.next.Lookup(ctx, trackingNumber)
	if err != nil {
		return nil, err
	}
	if err := redisx.SetJSON(ctx, c.rdb, key, events, c.ttl); err != nil {
		c.log.Warn().Err(err).Str("key", key).Msg("tracking cache write")
	}
	return events, nil
}

// TrackerFunc adapts a function.
type TrackerFunc func(ctx context.Context, trackingNumber string) ([]orders.TrackingEvent, error)

func (f TrackerFunc) Lookup(ctx context.Context, trackingNumber string) ([]orders.TrackingEvent, error) {
	return f(ctx, trackingNumber)
}
