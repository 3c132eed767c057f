package inventory

import (
	"context"
	"fmt"

	"github.com/ariefcatur/go-shop-orders/internal/metrics"
	"github.com/rs/zerolog"
)

// Ledger runs reserve/confirm/release batches over Counters. Preorder lines
// are never touched.
type Ledger struct {
	counters Counters
	log      zerolog.Logger
}

func NewLedger(c Counters, log zerolog.Logger) *Ledger {
	return &Ledger{counters: c, log: log.With().Str("component", "stock-ledger").Logger()}
}

// Report summarises a best-effort batch.
type Report struct {
	Applied int
	Skipped []Line
}

func (r Report) OK() bool { return len(r.Skipped) == 0 }

// Reserve is all-or-nothing: on the first failing line every line already
// applied in this call is released again before returning.
func (l *Ledger) Reserve(ctx context.Context, lines []Line) error {
	applied := make([]Line, 0, len(lines))
	for _, ln := range lines {
		if ln.Preorder {
			continue
		}
		if ln.Qty <= 0 {
			l.rollback(ctx, applied)
			return fmt.Errorf("invalid qty %d for %s", ln.Qty, ln.Key)
		}
		ok, err := l.counters.TryReserve(ctx, ln.Key, ln.Qty)
		if err != nil {
			l.rollback(ctx, applied)
			metrics.Reservations.WithLabelValues("error").Inc()
			return fmt.Errorf("reserve %s: %w", ln.Key, err)
		}
		if !ok {
			l.rollback(ctx, applied)
			metrics.Reservations.WithLabelValues("shortage").Inc()
			avail := 0
			if lvl, err := l.counters.Level(ctx, ln.Key); err == nil {
				avail = lvl.Stock
			}
			return &ShortageError{Line: ln, Available: avail}
		}
		applied = append(applied, ln)
	}
	metrics.Reservations.WithLabelValues("ok").Inc()
	return nil
}

// kompensasi: kembalikan yang sudah ter-reserve di call yang sama
func (l *Ledger) rollback(ctx context.Context, applied []Line) {
	for i := len(applied) - 1; i >= 0; i-- {
		ln := applied[i]
		ok, err := l.counters.TryRelease(context.WithoutCancel(ctx), ln.Key, ln.Qty)
		if err != nil || !ok {
			l.log.Error().Err(err).Str("variant", ln.Key.String()).Int("qty", ln.Qty).
				Msg("reserve rollback failed, counters drifted")
		}
	}
}

// Confirm moves reserved units to sold. A failed line is skipped and logged.
func (l *Ledger) Confirm(ctx context.Context, lines []Line) (Report, error) {
	return l.bestEffort(ctx, "confirm", lines, l.counters.TryCommit)
}

// Release returns reserved units to stock. A failed line is skipped and logged.
func (l *Ledger) Release(ctx context.Context, lines []Line) (Report, error) {
	return l.bestEffort(ctx, "release", lines, l.counters.TryRelease)
}

func (l *Ledger) bestEffort(ctx context.Context, op string, lines []Line,
	apply func(context.Context, VariantKey, int) (bool, error)) (Report, error) {
	var rep Report
	var firstErr error
	for _, ln := range lines {
		if ln.Preorder {
			continue
		}
		ok, err := apply(ctx, ln.Key, ln.Qty)
		if err != nil || !ok {
			rep.Skipped = append(rep.Skipped, ln)
			metrics.LedgerSkips.WithLabelValues(op).Inc()
			l.log.Warn().Err(err).Str("op", op).Str("variant", ln.Key.String()).Int("qty", ln.Qty).
				Msg("ledger line skipped")
			if err != nil && firstErr == nil {
				firstErr = fmt.Errorf("%s %s: %w", op, ln.Key, err)
			}
			continue
		}
		rep.Applied++
	}
	return rep, firstErr
}
