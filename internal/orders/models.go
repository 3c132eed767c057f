package orders

import (
	"strings"
	"time"
)

// OrderItem is the catalog snapshot taken when the order was placed.
type OrderItem struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Size           string `json:"size"`
	Color          string `json:"color"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	Preorder       bool   `json:"preorder,omitempty"`
}

func (it OrderItem) LineTotal() int64 { return it.UnitPriceCents * int64(it.Qty) }

type TrackingEvent struct {
	Status      string    `json:"status"`
	At          time.Time `json:"at"`
	Location    string    `json:"location,omitempty"`
	Description string    `json:"description,omitempty"`
}

// Fingerprint identifies an event for dedup: (status, timestamp, location).
func (e TrackingEvent) Fingerprint() string {
	return strings.Join([]string{e.Status, e.At.UTC().Format(time.RFC3339Nano), e.Location}, "|")
}

const TrackingDelivered = "DELIVERED"

type Order struct {
	Number          string
	CustomerID      string
	Items           []OrderItem
	TotalCents      int64
	Fulfillment     FulfillmentStatus
	Payment         PaymentStatus
	Reservation     ReservationState
	SlipReviewCount int
	SlipRef         string
	PaymentNote     string
	PaidAt          *time.Time

	// nil setelah pembayaran terkonfirmasi
	ReservationExpiry *time.Time

	TrackingNumber          string
	TrackingHistory         []TrackingEvent
	LastTrackingFingerprint string
	DeliveredAt             *time.Time

	Version   int64
	CreatedAt time.Time
	UpdatedAt time.Time
}

func (o Order) ItemQty() int {
	n := 0
	for _, it := range o.Items {
		n += it.Qty
	}
	return n
}

// Clone returns a deep copy so a plan never aliases the loaded snapshot.
func (o Order) Clone() Order {
	c := o
	c.Items = append([]OrderItem(nil), o.Items...)
	c.TrackingHistory = append([]TrackingEvent(nil), o.TrackingHistory...)
	c.PaidAt = cloneTime(o.PaidAt)
	c.ReservationExpiry = cloneTime(o.ReservationExpiry)
	c.DeliveredAt = cloneTime(o.DeliveredAt)
	return c
}

func cloneTime(t *time.Time) *time.Time {
	if t == nil {
		return nil
	}
	v := *t
	return &v
}

// Actor is the identity submitting a request. Auth is done upstream.
type Actor struct {
	ID    string
	Staff bool
}

func (a Actor) CanAccess(o Order) bool {
	return a.Staff || (a.ID != "" && a.ID == o.CustomerID)
}
