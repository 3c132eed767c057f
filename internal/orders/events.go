package orders

import (
	"encoding/json"
	"time"
)

// EventKind names a committed order transition that someone should hear about.
type EventKind string

const (
	EventOrderPlaced      EventKind = "OrderPlaced"
	EventPaymentConfirmed EventKind = "PaymentConfirmed"
	EventPaymentRejected  EventKind = "PaymentRejected"
	EventReviewThreshold  EventKind = "SlipReviewThresholdReached"
	EventOrderExpired     EventKind = "OrderExpired"
	EventOrderCancelled   EventKind = "OrderCancelled"
	EventOrderDelivered   EventKind = "OrderDelivered"
)

type Envelope struct {
	EventID       string          `json:"event_id"`      // uuid
	EventType     string          `json:"event_type"`    // salah satu const di atas
	EventVersion  int             `json:"event_version"` // 1
	OccurredAt    time.Time       `json:"occurred_at"`   // RFC3339
	Producer      string          `json:"producer"`      // e.g., "order-api"
	TraceID       string          `json:"trace_id,omitempty"`
	CorrelationID string          `json:"correlation_id,omitempty"` // order number
	Payload       json.RawMessage `json:"payload"`
}

// Audience of a notification.
type Audience string

const (
	AudienceCustomer  Audience = "customer"
	AudienceOperators Audience = "operators"
)

type NotificationPayload struct {
	OrderNumber string   `json:"order_number"`
	CustomerID  string   `json:"customer_id,omitempty"`
	Audience    Audience `json:"audience"`
	Message     string   `json:"message"`
}
