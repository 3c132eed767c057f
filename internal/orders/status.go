package orders

// PaymentStatus adalah sumbu pembayaran order.
type PaymentStatus string

const (
	PaymentWaiting   PaymentStatus = "WAITING"
	PaymentPending   PaymentStatus = "PENDING"
	PaymentConfirmed PaymentStatus = "CONFIRMED"
	PaymentRejected  PaymentStatus = "REJECTED"
	PaymentExpired   PaymentStatus = "EXPIRED"
)

// FulfillmentStatus adalah sumbu pengiriman, independen dari pembayaran.
type FulfillmentStatus string

const (
	FulfillmentReceived  FulfillmentStatus = "RECEIVED"
	FulfillmentPreparing FulfillmentStatus = "PREPARING"
	FulfillmentShipping  FulfillmentStatus = "SHIPPING"
	FulfillmentCompleted FulfillmentStatus = "COMPLETED"
	FulfillmentCancelled FulfillmentStatus = "CANCELLED"
)

// ReservationState tracks what the stock ledger currently holds for an order.
type ReservationState string

const (
	ReservationHeld      ReservationState = "HELD"      // units sit in reserved
	ReservationReleased  ReservationState = "RELEASED"  // units returned to stock
	ReservationCommitted ReservationState = "COMMITTED" // units sold
)

// CONFIRMED terminal. EXPIRED hanya keluar lewat recovery (confirm) atau admin reopen.
var validPayment = map[PaymentStatus]map[PaymentStatus]bool{
	PaymentWaiting:   {PaymentPending: true, PaymentRejected: true, PaymentConfirmed: true, PaymentExpired: true},
	PaymentPending:   {PaymentWaiting: true, PaymentRejected: true, PaymentConfirmed: true, PaymentExpired: true},
	PaymentRejected:  {PaymentWaiting: true, PaymentPending: true, PaymentConfirmed: true, PaymentExpired: true},
	PaymentExpired:   {PaymentWaiting: true, PaymentPending: true, PaymentConfirmed: true},
	PaymentConfirmed: {},
}

var validFulfillment = map[FulfillmentStatus]map[FulfillmentStatus]bool{
	FulfillmentReceived:  {FulfillmentPreparing: true, FulfillmentCancelled: true},
	FulfillmentPreparing: {FulfillmentReceived: true, FulfillmentShipping: true, FulfillmentCancelled: true},
	FulfillmentShipping:  {FulfillmentCompleted: true, FulfillmentCancelled: true},
	FulfillmentCompleted: {},
	FulfillmentCancelled: {FulfillmentReceived: true, FulfillmentPreparing: true},
}

func CanTransitionPayment(from, to PaymentStatus) bool {
	return from == to || validPayment[from][to]
}

func CanTransitionFulfillment(from, to FulfillmentStatus) bool {
	return from == to || validFulfillment[from][to]
}

func (s PaymentStatus) Valid() bool {
	_, ok := validPayment[s]
	return ok
}

func (s FulfillmentStatus) Valid() bool {
	_, ok := validFulfillment[s]
	return ok
}

// reservationFor: state ledger yang seharusnya untuk kombinasi dua sumbu status.
func reservationFor(p PaymentStatus, f FulfillmentStatus) ReservationState {
	switch {
	case p == PaymentConfirmed:
		return ReservationCommitted
	case p == PaymentExpired || f == FulfillmentCancelled:
		return ReservationReleased
	default:
		return ReservationHeld
	}
}
