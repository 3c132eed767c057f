package sweeper_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/memory"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/reservation"
	"github.com/ariefcatur/go-shop-orders/internal/sales"
	"github.com/ariefcatur/go-shop-orders/internal/sweeper"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	teeM  = inventory.VariantKey{ProductID: "TEE", Size: "M", Color: "black"}
)

func setup(t *testing.T) (*memory.Store, *clockwork.FakeClock, *reservation.Engine) {
	t.Helper()
	st := memory.New()
	st.PutProduct(inventory.Product{ID: "TEE", Name: "Tee", Variants: []inventory.Variant{
		{Size: "M", Color: "black", PriceCents: 5000, Stock: 10},
	}})
	clk := clockwork.NewFakeClockAt(start)
	eng := reservation.New(reservation.Config{
		Orders:  st,
		Catalog: st,
		Ledger:  inventory.NewLedger(st, zerolog.Nop()),
		Sales:   sales.NewLedger(st, zerolog.Nop()),
		Clock:   clk,
		Logger:  zerolog.Nop(),
	})
	return st, clk, eng
}

func place(t *testing.T, eng *reservation.Engine, qty int) orders.Order {
	t.Helper()
	o, err := eng.PlaceOrder(context.Background(), reservation.PlaceRequest{
		CustomerID: "alice",
		Lines:      []reservation.LineRequest{{ProductID: "TEE", Size: "M", Color: "black", Qty: qty}},
	})
	require.NoError(t, err)
	return o
}

func TestRunOnceExpiresOnlyLapsedUnpaidOrders(t *testing.T) {
	st, clk, eng := setup(t)
	ctx := context.Background()
	lapsed := place(t, eng, 2)
	paid := place(t, eng, 1)
	_, _, err := eng.ConfirmReservation(ctx, paid.Number, "s", "")
	require.NoError(t, err)

	clk.Advance(12 * time.Hour)
	fresh := place(t, eng, 3)
	clk.Advance(13 * time.Hour)

	sw := sweeper.New(st, eng, sweeper.Options{Clock: clk, Logger: zerolog.Nop()})
	res, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweeper.Result{Scanned: 1, Expired: 1}, res)

	o, err := eng.Get(ctx, lapsed.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentExpired, o.Payment)
	assert.Equal(t, orders.FulfillmentCancelled, o.Fulfillment)

	o, err = eng.Get(ctx, fresh.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentWaiting, o.Payment)

	o, err = eng.Get(ctx, paid.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, o.Payment)

	lvl, err := st.Level(ctx, teeM)
	require.NoError(t, err)
	assert.Equal(t, inventory.Level{Stock: 6, Reserved: 3}, lvl)

	// siklus kedua tidak menemukan apa-apa
	res, err = sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Zero(t, res.Scanned)
}

// flakyExpirer fails one order and delegates the rest.
type flakyExpirer struct {
	next   sweeper.Expirer
	failOn string
}

func (f flakyExpirer) ExpireOrder(ctx context.Context, number string) (orders.Order, error) {
	if number == f.failOn {
		return orders.Order{}, errors.New("write timeout")
	}
	return f.next.ExpireOrder(ctx, number)
}

func TestOneFailureDoesNotStopTheCycle(t *testing.T) {
	st, clk, eng := setup(t)
	ctx := context.Background()
	a := place(t, eng, 1)
	b := place(t, eng, 1)
	c := place(t, eng, 1)
	clk.Advance(25 * time.Hour)

	sw := sweeper.New(st, flakyExpirer{next: eng, failOn: b.Number}, sweeper.Options{Clock: clk, Logger: zerolog.Nop()})
	res, err := sw.RunOnce(ctx)
	require.NoError(t, err)
	assert.Equal(t, sweeper.Result{Scanned: 3, Expired: 2, Failed: 1}, res)

	for _, n := range []string{a.Number, c.Number} {
		o, err := eng.Get(ctx, n)
		require.NoError(t, err)
		assert.Equal(t, orders.PaymentExpired, o.Payment)
	}
	o, err := eng.Get(ctx, b.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentWaiting, o.Payment)
}

func TestRacingConfirmWins(t *testing.T) {
	st, clk, eng := setup(t)
	ctx := context.Background()
	a := place(t, eng, 2)
	clk.Advance(25 * time.Hour)

	var wg sync.WaitGroup
	wg.Add(2)
	go func() {
		defer wg.Done()
		_, _ = sweeper.New(st, eng, sweeper.Options{Clock: clk, Logger: zerolog.Nop()}).RunOnce(ctx)
	}()
	var confirmErr error
	go func() {
		defer wg.Done()
		_, _, confirmErr = eng.ConfirmReservation(ctx, a.Number, "s", "")
	}()
	wg.Wait()
	require.NoError(t, confirmErr)

	// urutan apa pun: akhirnya terbayar, stok terjual tepat sekali
	o, err := eng.Get(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, o.Payment)
	lvl, err := st.Level(ctx, teeM)
	require.NoError(t, err)
	assert.Equal(t, inventory.Level{Stock: 8, Reserved: 0}, lvl)
	assert.Equal(t, 1, st.SaleAttempts(a.Number))
}

func TestStartStopWithManualClock(t *testing.T) {
	st, clk, eng := setup(t)
	ctx := context.Background()
	a := place(t, eng, 1)

	sw := sweeper.New(st, eng, sweeper.Options{Interval: time.Minute, Clock: clk, Logger: zerolog.Nop()})
	sw.Start(ctx)
	defer sw.Stop()
	require.NoError(t, clk.BlockUntilContext(ctx, 1))

	clk.Advance(25 * time.Hour)
	require.Eventually(t, func() bool {
		o, err := eng.Get(ctx, a.Number)
		return err == nil && o.Payment == orders.PaymentExpired
	}, 2*time.Second, 10*time.Millisecond)

	sw.Stop()
	sw.Stop() // idempotent
}
