package memory

import (
	"context"
	"sort"
	"sync"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/sales"
)

// Store keeps orders, product counters and sale entries in process. It
// implements the same ports as the postgres package.
type Store struct {
	mu       sync.Mutex
	orders   map[string]orders.Order
	products map[string]*inventory.Product
	sales    map[string]sales.Entry
	appends  map[string]int // jumlah Commit yang lolos CAS, termasuk duplikat
}

func New() *Store {
	return &Store{
		orders:   map[string]orders.Order{},
		products: map[string]*inventory.Product{},
		sales:    map[string]sales.Entry{},
		appends:  map[string]int{},
	}
}

// PutProduct inserts or replaces a product document.
func (s *Store) PutProduct(p inventory.Product) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp := p
	cp.Variants = append([]inventory.Variant(nil), p.Variants...)
	s.products[p.ID] = &cp
}

// ---- inventory.Catalog / inventory.Counters ----

func (s *Store) Product(_ context.Context, id string) (inventory.Product, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.products[id]
	if !ok {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	cp := *p
	cp.Variants = append([]inventory.Variant(nil), p.Variants...)
	return cp, nil
}

func (s *Store) variant(key inventory.VariantKey) *inventory.Variant {
	p, ok := s.products[key.ProductID]
	if !ok {
		return nil
	}
	for i := range p.Variants {
		if p.Variants[i].Size == key.Size && p.Variants[i].Color == key.Color {
			return &p.Variants[i]
		}
	}
	return nil
}

func (s *Store) TryReserve(_ context.Context, key inventory.VariantKey, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.variant(key)
	if v == nil || v.Stock < qty {
		return false, nil
	}
	v.Stock -= qty
	v.Reserved += qty
	return true, nil
}

func (s *Store) TryCommit(_ context.Context, key inventory.VariantKey, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.variant(key)
	if v == nil || v.Reserved < qty {
		return false, nil
	}
	v.Reserved -= qty
	return true, nil
}

func (s *Store) TryRelease(_ context.Context, key inventory.VariantKey, qty int) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.variant(key)
	if v == nil || v.Reserved < qty {
		return false, nil
	}
	v.Stock += qty
	v.Reserved -= qty
	return true, nil
}

func (s *Store) Level(_ context.Context, key inventory.VariantKey) (inventory.Level, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v := s.variant(key)
	if v == nil {
		return inventory.Level{}, inventory.ErrProductNotFound
	}
	return inventory.Level{Stock: v.Stock, Reserved: v.Reserved}, nil
}

// ---- orders.Repository ----

func (s *Store) Create(_ context.Context, o orders.Order) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.orders[o.Number]; ok {
		return orders.ErrDuplicateOrder
	}
	s.orders[o.Number] = o.Clone()
	return nil
}

func (s *Store) Get(_ context.Context, number string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	o, ok := s.orders[number]
	if !ok {
		return orders.Order{}, orders.ErrNotFound
	}
	return o.Clone(), nil
}

func (s *Store) GetByTracking(_ context.Context, trackingNumber string) (orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, o := range s.orders {
		if trackingNumber != "" && o.TrackingNumber == trackingNumber {
			return o.Clone(), nil
		}
	}
	return orders.Order{}, orders.ErrNotFound
}

func (s *Store) Update(_ context.Context, o orders.Order, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.updateLocked(o, expectedVersion)
}

func (s *Store) updateLocked(o orders.Order, expectedVersion int64) error {
	cur, ok := s.orders[o.Number]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return orders.ErrConflict
	}
	s.orders[o.Number] = o.Clone()
	return nil
}

func (s *Store) Delete(_ context.Context, number string, expectedVersion int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	cur, ok := s.orders[number]
	if !ok {
		return orders.ErrNotFound
	}
	if cur.Version != expectedVersion {
		return orders.ErrConflict
	}
	delete(s.orders, number)
	return nil
}

func (s *Store) ListLapsed(_ context.Context, before time.Time, limit int) ([]orders.Order, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []orders.Order
	for _, o := range s.orders {
		if o.ReservationExpiry == nil || !o.ReservationExpiry.Before(before) {
			continue
		}
		if o.Payment == orders.PaymentConfirmed {
			continue
		}
		if o.Payment == orders.PaymentExpired &&
			(o.Fulfillment == orders.FulfillmentCancelled || o.Fulfillment == orders.FulfillmentCompleted) {
			continue
		}
		out = append(out, o.Clone())
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ReservationExpiry.Before(*out[j].ReservationExpiry) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

// ---- sales.Store ----

func (s *Store) Commit(_ context.Context, o orders.Order, expectedVersion int64, e sales.Entry) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.updateLocked(o, expectedVersion); err != nil {
		return false, err
	}
	s.appends[e.OrderNumber]++
	if _, ok := s.sales[e.OrderNumber]; ok {
		return false, nil
	}
	e.Items = append([]orders.OrderItem(nil), e.Items...)
	s.sales[e.OrderNumber] = e
	return true, nil
}

func (s *Store) ListBetween(_ context.Context, from, to time.Time) ([]sales.Entry, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []sales.Entry
	for _, e := range s.sales {
		if !e.ConfirmedAt.Before(from) && e.ConfirmedAt.Before(to) {
			out = append(out, e)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ConfirmedAt.Before(out[j].ConfirmedAt) })
	return out, nil
}

// SaleAttempts reports how many sale entries were offered for an order
// alongside a successful order write, duplicates included.
func (s *Store) SaleAttempts(orderNumber string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.appends[orderNumber]
}

func (s *Store) Sale(orderNumber string) (sales.Entry, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	e, ok := s.sales[orderNumber]
	return e, ok
}
