package orders

import "time"

type ItemView struct {
	ProductID      string `json:"product_id"`
	ProductName    string `json:"product_name"`
	Size           string `json:"size"`
	Color          string `json:"color"`
	UnitPriceCents int64  `json:"unit_price_cents"`
	Qty            int    `json:"qty"`
	Preorder       bool   `json:"preorder,omitempty"`
}

// OrderView is the read model returned to clients.
type OrderView struct {
	Number            string            `json:"order_number"`
	CustomerID        string            `json:"customer_id"`
	Items             []ItemView        `json:"items"`
	TotalCents        int64             `json:"total_cents"`
	PaymentStatus     PaymentStatus     `json:"payment_status"`
	FulfillmentStatus FulfillmentStatus `json:"fulfillment_status"`
	SlipReviewCount   int               `json:"slip_review_count"`
	SlipURL           string            `json:"slip_url,omitempty"`
	PaymentNote       string            `json:"payment_note,omitempty"`
	PaidAt            *time.Time        `json:"paid_at,omitempty"`
	ExpiresAt         *time.Time        `json:"expires_at,omitempty"`
	ExpiresInSeconds  int64             `json:"expires_in_seconds"`
	CanPay            bool              `json:"can_pay"`
	TrackingNumber    string            `json:"tracking_number,omitempty"`
	Tracking          []TrackingEvent   `json:"tracking,omitempty"`
	DeliveredAt       *time.Time        `json:"delivered_at,omitempty"`
	CreatedAt         time.Time         `json:"created_at"`
	UpdatedAt         time.Time         `json:"updated_at"`
}

// View projects an order into its read model. slipURL may be nil.
func View(o Order, now time.Time, slipURL func(ref string) string) OrderView {
	v := OrderView{
		Number:            o.Number,
		CustomerID:        o.CustomerID,
		Items:             make([]ItemView, 0, len(o.Items)),
		TotalCents:        o.TotalCents,
		PaymentStatus:     o.Payment,
		FulfillmentStatus: o.Fulfillment,
		SlipReviewCount:   o.SlipReviewCount,
		PaymentNote:       o.PaymentNote,
		PaidAt:            cloneTime(o.PaidAt),
		ExpiresAt:         cloneTime(o.ReservationExpiry),
		TrackingNumber:    o.TrackingNumber,
		Tracking:          append([]TrackingEvent(nil), o.TrackingHistory...),
		DeliveredAt:       cloneTime(o.DeliveredAt),
		CreatedAt:         o.CreatedAt,
		UpdatedAt:         o.UpdatedAt,
	}
	for _, it := range o.Items {
		v.Items = append(v.Items, ItemView(it))
	}
	if o.SlipRef != "" && slipURL != nil {
		v.SlipURL = slipURL(o.SlipRef)
	}
	if o.ReservationExpiry != nil {
		if left := o.ReservationExpiry.Sub(now); left > 0 {
			v.ExpiresInSeconds = int64(left / time.Second)
		}
	}
	v.CanPay = o.Payment != PaymentConfirmed && !Lapsed(o, now)
	return v
}
