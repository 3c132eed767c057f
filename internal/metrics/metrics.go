package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	Reservations = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_reservations_total",
		Help: "Stock reservation batches by result (ok, shortage, error).",
	}, []string{"result"})

	LedgerSkips = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_ledger_skips_total",
		Help: "Confirm/release ledger lines skipped because the counter condition failed.",
	}, []string{"op"})

	Verifications = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_verifications_total",
		Help: "Payment slip verifications by outcome.",
	}, []string{"outcome"})

	Sweeps = promauto.NewCounter(prometheus.CounterOpts{
		Name: "shop_sweeps_total",
		Help: "Expiry sweep cycles executed.",
	})

	SweptOrders = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_swept_orders_total",
		Help: "Orders handled by the expiry sweeper by result.",
	}, []string{"result"})

	SweepDuration = promauto.NewHistogram(prometheus.HistogramOpts{
		Name:    "shop_sweep_duration_seconds",
		Help:    "Duration of expiry sweep cycles.",
		Buckets: prometheus.DefBuckets,
	})

	Transitions = promauto.NewCounterVec(prometheus.CounterOpts{
		Name: "shop_order_transitions_total",
		Help: "Committed order transitions by action.",
	}, []string{"action"})
)
