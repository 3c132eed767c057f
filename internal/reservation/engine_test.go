package reservation_test

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/memory"
	"github.com/ariefcatur/go-shop-orders/internal/notify"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/reservation"
	"github.com/ariefcatur/go-shop-orders/internal/sales"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var (
	start = time.Date(2026, 3, 1, 9, 0, 0, 0, time.UTC)
	teeM  = inventory.VariantKey{ProductID: "TEE", Size: "M", Color: "black"}
)

type fixture struct {
	store  *memory.Store
	clock  *clockwork.FakeClock
	events *notify.Memory
	engine *reservation.Engine
}

func newFixture(t *testing.T, repo func(*memory.Store) orders.Repository) *fixture {
	t.Helper()
	return newFixtureWith(t, repo, nil)
}

func newFixtureWith(t *testing.T, repo func(*memory.Store) orders.Repository, saleStore func(*memory.Store) sales.Store) *fixture {
	t.Helper()
	st := memory.New()
	st.PutProduct(inventory.Product{ID: "TEE", Name: "Basic Tee", Variants: []inventory.Variant{
		{Size: "M", Color: "black", PriceCents: 12900, Stock: 5},
	}})
	st.PutProduct(inventory.Product{ID: "HOOD", Name: "Hoodie", Preorder: true, Variants: []inventory.Variant{
		{Size: "L", Color: "grey", PriceCents: 34900},
	}})
	var r orders.Repository = st
	if repo != nil {
		r = repo(st)
	}
	var ss sales.Store = st
	if saleStore != nil {
		ss = saleStore(st)
	}
	f := &fixture{store: st, clock: clockwork.NewFakeClockAt(start), events: &notify.Memory{}}
	f.engine = reservation.New(reservation.Config{
		Orders:  r,
		Catalog: st,
		Ledger:  inventory.NewLedger(st, zerolog.Nop()),
		Sales:   sales.NewLedger(ss, zerolog.Nop()),
		Events:  f.events,
		Clock:   f.clock,
		Policy:  orders.DefaultPolicy(),
		Logger:  zerolog.Nop(),
	})
	return f
}

func (f *fixture) level(t *testing.T) inventory.Level {
	t.Helper()
	lvl, err := f.store.Level(context.Background(), teeM)
	require.NoError(t, err)
	return lvl
}

func (f *fixture) place(t *testing.T, customer string, qty int) orders.Order {
	t.Helper()
	o, err := f.engine.PlaceOrder(context.Background(), reservation.PlaceRequest{
		CustomerID: customer,
		Lines:      []reservation.LineRequest{{ProductID: "TEE", Size: "M", Color: "black", Qty: qty}},
	})
	require.NoError(t, err)
	return o
}

func TestPlaceOrderSnapshotsAndReserves(t *testing.T) {
	f := newFixture(t, nil)
	o := f.place(t, "alice", 2)

	assert.Regexp(t, `^ORD-20260301-[0-9A-F]{8}$`, o.Number)
	assert.Equal(t, orders.PaymentWaiting, o.Payment)
	assert.Equal(t, orders.FulfillmentReceived, o.Fulfillment)
	assert.Equal(t, orders.ReservationHeld, o.Reservation)
	assert.Equal(t, int64(25800), o.TotalCents)
	assert.Equal(t, "Basic Tee", o.Items[0].ProductName)
	require.NotNil(t, o.ReservationExpiry)
	assert.Equal(t, start.Add(24*time.Hour), *o.ReservationExpiry)
	assert.Equal(t, inventory.Level{Stock: 3, Reserved: 2}, f.level(t))
	assert.Equal(t, 1, f.events.Count(orders.EventOrderPlaced))
}

func TestPlaceOrderValidation(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	cases := []struct {
		name string
		req  reservation.PlaceRequest
	}{
		{"no customer", reservation.PlaceRequest{Lines: []reservation.LineRequest{{ProductID: "TEE", Size: "M", Color: "black", Qty: 1}}}},
		{"no lines", reservation.PlaceRequest{CustomerID: "alice"}},
		{"zero qty", reservation.PlaceRequest{CustomerID: "alice", Lines: []reservation.LineRequest{{ProductID: "TEE", Size: "M", Color: "black"}}}},
		{"unknown product", reservation.PlaceRequest{CustomerID: "alice", Lines: []reservation.LineRequest{{ProductID: "NOPE", Size: "M", Color: "black", Qty: 1}}}},
		{"unknown variant", reservation.PlaceRequest{CustomerID: "alice", Lines: []reservation.LineRequest{{ProductID: "TEE", Size: "XL", Color: "red", Qty: 1}}}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := f.engine.PlaceOrder(ctx, tc.req)
			assert.ErrorIs(t, err, orders.ErrInvalidRequest)
		})
	}
	assert.Equal(t, inventory.Level{Stock: 5}, f.level(t))
}

// A reserves everything, B is refused, A pays: one sale, no oversell.
func TestSecondBuyerRefusedThenFirstConfirms(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 5)

	_, err := f.engine.PlaceOrder(ctx, reservation.PlaceRequest{
		CustomerID: "bob",
		Lines:      []reservation.LineRequest{{ProductID: "TEE", Size: "M", Color: "black", Qty: 1}},
	})
	require.ErrorIs(t, err, orders.ErrInsufficientStock)
	var se *orders.InsufficientStockError
	require.True(t, errors.As(err, &se))
	assert.Equal(t, "TEE", se.ProductID)
	assert.Equal(t, 1, se.Required)
	assert.Equal(t, 0, se.Available)

	o, already, err := f.engine.ConfirmReservation(ctx, a.Number, "slip-a", "verified")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, orders.PaymentConfirmed, o.Payment)
	assert.Equal(t, orders.FulfillmentPreparing, o.Fulfillment)
	assert.Nil(t, o.ReservationExpiry)
	assert.Equal(t, inventory.Level{Stock: 0, Reserved: 0}, f.level(t))

	sale, ok := f.store.Sale(a.Number)
	require.True(t, ok)
	assert.Equal(t, int64(5*12900), sale.PaidCents)
	assert.Equal(t, 1, f.store.SaleAttempts(a.Number))
	assert.Equal(t, 2, f.events.Count(orders.EventPaymentConfirmed))
}

func TestConfirmIsIdempotent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 2)

	_, _, err := f.engine.ConfirmReservation(ctx, a.Number, "s", "")
	require.NoError(t, err)
	o, already, err := f.engine.ConfirmReservation(ctx, a.Number, "s", "")
	require.NoError(t, err)
	assert.True(t, already)
	assert.Equal(t, orders.PaymentConfirmed, o.Payment)
	assert.Equal(t, 1, f.store.SaleAttempts(a.Number))
	assert.Equal(t, inventory.Level{Stock: 3, Reserved: 0}, f.level(t))
}

func TestConcurrentConfirmIsAtMostOnce(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 3)

	var (
		wg    sync.WaitGroup
		fresh atomic.Int32
	)
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, already, err := f.engine.ConfirmReservation(ctx, a.Number, "slip", "")
			assert.NoError(t, err)
			if !already {
				fresh.Add(1)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, int32(1), fresh.Load())
	assert.Equal(t, 1, f.store.SaleAttempts(a.Number))
	assert.Equal(t, inventory.Level{Stock: 2, Reserved: 0}, f.level(t))
}

func TestExpiryRecoveryRoundTrip(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 2)

	f.clock.Advance(25 * time.Hour)
	exp, err := f.engine.ExpireOrder(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentExpired, exp.Payment)
	assert.Equal(t, orders.FulfillmentCancelled, exp.Fulfillment)
	assert.Equal(t, inventory.Level{Stock: 5, Reserved: 0}, f.level(t))
	assert.Equal(t, 1, f.events.Count(orders.EventOrderExpired))

	// expire kedua: no-op, stok tidak dilepas dua kali
	_, err = f.engine.ExpireOrder(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, inventory.Level{Stock: 5, Reserved: 0}, f.level(t))

	o, already, err := f.engine.ConfirmReservation(ctx, a.Number, "late-slip", "")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, orders.PaymentConfirmed, o.Payment)
	assert.Equal(t, orders.FulfillmentPreparing, o.Fulfillment)
	assert.Equal(t, orders.ReservationCommitted, o.Reservation)
	assert.Equal(t, inventory.Level{Stock: 3, Reserved: 0}, f.level(t))
	assert.Equal(t, 1, f.store.SaleAttempts(a.Number))
}

func TestLateConfirmWithoutStockLeavesOrderExpired(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 5)

	f.clock.Advance(25 * time.Hour)
	_, err := f.engine.ExpireOrder(ctx, a.Number)
	require.NoError(t, err)
	f.place(t, "bob", 5)

	_, _, err = f.engine.ConfirmReservation(ctx, a.Number, "late", "")
	require.ErrorIs(t, err, orders.ErrStockUnavailable)
	assert.ErrorIs(t, err, orders.ErrInsufficientStock)

	cur, err := f.engine.Get(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentExpired, cur.Payment)
	assert.Equal(t, orders.ReservationReleased, cur.Reservation)
	assert.Equal(t, inventory.Level{Stock: 0, Reserved: 5}, f.level(t))
	_, ok := f.store.Sale(a.Number)
	assert.False(t, ok)
}

func TestAdminReopenReReservesWithFreshExpiry(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 2)

	f.clock.Advance(30 * time.Hour)
	_, err := f.engine.ExpireOrder(ctx, a.Number)
	require.NoError(t, err)

	o, err := f.engine.AdminEdit(ctx, a.Number, reservation.Edit{
		Payment:     orders.PaymentWaiting,
		Fulfillment: orders.FulfillmentReceived,
	})
	require.NoError(t, err)
	assert.Equal(t, orders.ReservationHeld, o.Reservation)
	require.NotNil(t, o.ReservationExpiry)
	assert.Equal(t, f.clock.Now().Add(24*time.Hour), *o.ReservationExpiry)
	assert.Equal(t, inventory.Level{Stock: 3, Reserved: 2}, f.level(t))
}

func TestAdminEditInvalidTransition(t *testing.T) {
	f := newFixture(t, nil)
	a := f.place(t, "alice", 1)
	_, err := f.engine.AdminEdit(context.Background(), a.Number, reservation.Edit{Fulfillment: orders.FulfillmentCompleted})
	assert.ErrorIs(t, err, orders.ErrInvalidTransition)
}

func TestDeleteReleasesHeldStock(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 4)

	require.NoError(t, f.engine.DeleteOrder(ctx, a.Number))
	assert.Equal(t, inventory.Level{Stock: 5, Reserved: 0}, f.level(t))
	_, err := f.engine.Get(ctx, a.Number)
	assert.ErrorIs(t, err, orders.ErrNotFound)
}

func TestDeleteExpiredOrderDoesNotReleaseTwice(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 2)
	f.place(t, "bob", 3)

	f.clock.Advance(25 * time.Hour)
	_, err := f.engine.ExpireOrder(ctx, a.Number)
	require.NoError(t, err)
	require.NoError(t, f.engine.DeleteOrder(ctx, a.Number))
	assert.Equal(t, inventory.Level{Stock: 2, Reserved: 3}, f.level(t))
}

func TestFailedVerificationThresholdEvent(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 1)

	for i := 0; i < 3; i++ {
		o, err := f.engine.RecordFailedVerification(ctx, a.Number, "slip", "amount mismatch", false)
		require.NoError(t, err)
		assert.Equal(t, orders.PaymentRejected, o.Payment)
	}
	o, err := f.engine.RecordFailedVerification(ctx, a.Number, "slip", "timeout", true)
	require.NoError(t, err)
	assert.Equal(t, 4, o.SlipReviewCount)
	assert.Equal(t, orders.PaymentRejected, o.Payment)
	assert.Equal(t, 1, f.events.Count(orders.EventReviewThreshold))
	// stok masih ditahan
	assert.Equal(t, inventory.Level{Stock: 4, Reserved: 1}, f.level(t))
}

func TestPreorderItemsBypassLedger(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	o, err := f.engine.PlaceOrder(ctx, reservation.PlaceRequest{
		CustomerID: "alice",
		Lines:      []reservation.LineRequest{{ProductID: "HOOD", Size: "L", Color: "grey", Qty: 3}},
	})
	require.NoError(t, err)
	assert.True(t, o.Items[0].Preorder)

	_, _, err = f.engine.ConfirmReservation(ctx, o.Number, "s", "")
	require.NoError(t, err)
	lvl, err := f.store.Level(ctx, inventory.VariantKey{ProductID: "HOOD", Size: "L", Color: "grey"})
	require.NoError(t, err)
	assert.Equal(t, inventory.Level{}, lvl)
}

func TestTrackingDeliveryLeavesPaymentAxis(t *testing.T) {
	f := newFixture(t, nil)
	ctx := context.Background()
	a := f.place(t, "alice", 1)

	o, err := f.engine.RecordTracking(ctx, a.Number, []orders.TrackingEvent{
		{Status: orders.TrackingDelivered, At: start.Add(time.Hour), Location: "Bandung"},
	})
	require.NoError(t, err)
	assert.Equal(t, orders.FulfillmentCompleted, o.Fulfillment)
	assert.Equal(t, orders.PaymentWaiting, o.Payment)
	assert.Equal(t, orders.ReservationHeld, o.Reservation)
	assert.Equal(t, inventory.Level{Stock: 4, Reserved: 1}, f.level(t))
}

// failingCreate drops every Create.
type failingCreate struct{ *memory.Store }

func (failingCreate) Create(context.Context, orders.Order) error { return errors.New("disk full") }

func TestCreateFailureReleasesReservation(t *testing.T) {
	f := newFixture(t, func(st *memory.Store) orders.Repository { return failingCreate{st} })
	_, err := f.engine.PlaceOrder(context.Background(), reservation.PlaceRequest{
		CustomerID: "alice",
		Lines:      []reservation.LineRequest{{ProductID: "TEE", Size: "M", Color: "black", Qty: 2}},
	})
	require.Error(t, err)
	assert.Equal(t, "internal error", orders.PublicMessage(err))
	assert.Equal(t, inventory.Level{Stock: 5, Reserved: 0}, f.level(t))
}

// flakyUpdate reports a conflict on the first n updates.
type flakyUpdate struct {
	*memory.Store
	mu sync.Mutex
	n  int
}

func (r *flakyUpdate) flake() bool {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.n > 0 {
		r.n--
		return true
	}
	return false
}

func (r *flakyUpdate) Update(ctx context.Context, o orders.Order, expected int64) error {
	if r.flake() {
		return orders.ErrConflict
	}
	return r.Store.Update(ctx, o, expected)
}

func (r *flakyUpdate) Commit(ctx context.Context, o orders.Order, expected int64, e sales.Entry) (bool, error) {
	if r.flake() {
		return false, orders.ErrConflict
	}
	return r.Store.Commit(ctx, o, expected, e)
}

func TestConflictUndoesReReservationAndRetries(t *testing.T) {
	var repo *flakyUpdate
	f := newFixtureWith(t, func(st *memory.Store) orders.Repository {
		repo = &flakyUpdate{Store: st}
		return repo
	}, func(*memory.Store) sales.Store { return repo })
	ctx := context.Background()
	a := f.place(t, "alice", 2)
	f.clock.Advance(25 * time.Hour)
	_, err := f.engine.ExpireOrder(ctx, a.Number)
	require.NoError(t, err)

	repo.mu.Lock()
	repo.n = 1
	repo.mu.Unlock()
	o, _, err := f.engine.ConfirmReservation(ctx, a.Number, "slip", "")
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentConfirmed, o.Payment)
	assert.Equal(t, inventory.Level{Stock: 3, Reserved: 0}, f.level(t))
	assert.Equal(t, 1, f.store.SaleAttempts(a.Number))
}

func TestConflictRetriesAreBounded(t *testing.T) {
	var repo *flakyUpdate
	f := newFixture(t, func(st *memory.Store) orders.Repository {
		repo = &flakyUpdate{Store: st}
		return repo
	})
	ctx := context.Background()
	a := f.place(t, "alice", 2)

	repo.mu.Lock()
	repo.n = 100
	repo.mu.Unlock()
	_, err := f.engine.ReleaseReservation(ctx, a.Number, orders.ActionCancel)
	assert.ErrorIs(t, err, orders.ErrConflict)
	assert.Equal(t, inventory.Level{Stock: 3, Reserved: 2}, f.level(t))
}

func TestReleaseReservationRejectsOtherActions(t *testing.T) {
	f := newFixture(t, nil)
	a := f.place(t, "alice", 1)
	_, err := f.engine.ReleaseReservation(context.Background(), a.Number, orders.ActionConfirm)
	assert.ErrorIs(t, err, orders.ErrInvalidRequest)
}

// brokenSales fails the next n confirm commits the way a dropped connection
// would: nothing is written.
type brokenSales struct {
	*memory.Store
	mu sync.Mutex
	n  int
}

func (b *brokenSales) Commit(ctx context.Context, o orders.Order, expected int64, e sales.Entry) (bool, error) {
	b.mu.Lock()
	if b.n > 0 {
		b.n--
		b.mu.Unlock()
		return false, errors.New("write tcp 10.0.0.5:5432: connection reset by peer")
	}
	b.mu.Unlock()
	return b.Store.Commit(ctx, o, expected, e)
}

func TestSaleWriteFailureLeavesOrderUnconfirmed(t *testing.T) {
	f := newFixtureWith(t, nil, func(st *memory.Store) sales.Store { return &brokenSales{Store: st, n: 1} })
	ctx := context.Background()
	a := f.place(t, "alice", 2)

	_, _, err := f.engine.ConfirmReservation(ctx, a.Number, "slip", "")
	require.Error(t, err)
	assert.Equal(t, "internal error", orders.PublicMessage(err))
	cur, err := f.engine.Get(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentWaiting, cur.Payment)
	assert.Equal(t, orders.ReservationHeld, cur.Reservation)
	_, ok := f.store.Sale(a.Number)
	assert.False(t, ok)
	assert.Equal(t, inventory.Level{Stock: 3, Reserved: 2}, f.level(t))
	assert.Zero(t, f.events.Count(orders.EventPaymentConfirmed))

	// retry berhasil: order dan sale entry muncul bersama, tepat sekali
	o, already, err := f.engine.ConfirmReservation(ctx, a.Number, "slip", "")
	require.NoError(t, err)
	assert.False(t, already)
	assert.Equal(t, orders.PaymentConfirmed, o.Payment)
	e, ok := f.store.Sale(a.Number)
	require.True(t, ok)
	assert.Equal(t, a.TotalCents, e.PaidCents)
	assert.Equal(t, 1, f.store.SaleAttempts(a.Number))
	assert.Equal(t, inventory.Level{Stock: 3, Reserved: 0}, f.level(t))
}

func TestReReservationUndoneWhenSaleWriteFails(t *testing.T) {
	f := newFixtureWith(t, nil, func(st *memory.Store) sales.Store { return &brokenSales{Store: st, n: 1} })
	ctx := context.Background()
	a := f.place(t, "alice", 2)
	f.clock.Advance(25 * time.Hour)
	_, err := f.engine.ExpireOrder(ctx, a.Number)
	require.NoError(t, err)

	_, _, err = f.engine.ConfirmReservation(ctx, a.Number, "slip", "")
	require.Error(t, err)
	cur, err := f.engine.Get(ctx, a.Number)
	require.NoError(t, err)
	assert.Equal(t, orders.PaymentExpired, cur.Payment)
	assert.Equal(t, orders.ReservationReleased, cur.Reservation)
	assert.Equal(t, inventory.Level{Stock: 5, Reserved: 0}, f.level(t))
}
