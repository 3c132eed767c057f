package orders

import (
	"fmt"
	"time"
)

// Action is what an entry point wants to do with an order. Every entry point
// (create, upload, retry, admin verify, admin edit, sweep, tracking, delete)
// goes through PlanTransition with one of these.
type Action string

const (
	ActionConfirm     Action = "confirm"     // slip verified
	ActionReject      Action = "reject"      // slip check negative
	ActionUnavailable Action = "unavailable" // verifier error/timeout
	ActionExpire      Action = "expire"      // reservation deadline passed
	ActionCancel      Action = "cancel"
	ActionEdit        Action = "edit" // admin sets statuses directly
	ActionTrack       Action = "track"
	ActionDelete      Action = "delete"
)

type Intent struct {
	Action Action

	// ActionEdit
	Payment        PaymentStatus
	Fulfillment    FulfillmentStatus
	TrackingNumber string

	// ActionConfirm / ActionReject / ActionUnavailable
	SlipRef string
	Note    string

	// ActionTrack
	Tracking []TrackingEvent
}

// Policy holds the knobs the guard needs.
type Policy struct {
	ReservationTTL  time.Duration
	ReviewThreshold int
}

func DefaultPolicy() Policy {
	return Policy{ReservationTTL: 24 * time.Hour, ReviewThreshold: 3}
}

// Plan is the outcome of the guard: the next order document plus the ledger
// work to run around the commit.
type Plan struct {
	Next Order

	Reserve bool // re-reserve sebelum commit; gagal = tidak ada perubahan
	Release bool // setelah commit
	Confirm bool // setelah commit, plus sale entry
	Delete  bool

	Events []EventKind
	NoOp   bool
}

// Lapsed reports whether the reservation deadline passed on an unpaid order
// that has not been closed out yet. An EXPIRED payment with an open
// fulfillment (set by an admin edit) still counts.
func Lapsed(o Order, now time.Time) bool {
	if o.ReservationExpiry == nil || !now.After(*o.ReservationExpiry) || o.Payment == PaymentConfirmed {
		return false
	}
	if o.Fulfillment == FulfillmentCancelled {
		return false
	}
	return o.Payment != PaymentExpired || o.Fulfillment != FulfillmentCompleted
}

// PlanTransition is the single transition guard. It is pure: it reads the
// current snapshot and returns what must happen, the engine executes it.
func PlanTransition(cur Order, in Intent, now time.Time, pol Policy) (Plan, error) {
	next := cur.Clone()
	var events []EventKind

	switch in.Action {
	case ActionConfirm:
		if cur.Payment == PaymentConfirmed {
			return Plan{}, ErrAlreadyConfirmed
		}
		next.Payment = PaymentConfirmed
		if in.SlipRef != "" {
			next.SlipRef = in.SlipRef
		}
		next.PaymentNote = in.Note
		events = append(events, EventPaymentConfirmed)

	case ActionReject, ActionUnavailable:
		if cur.Payment == PaymentConfirmed {
			return Plan{}, ErrAlreadyConfirmed
		}
		next.SlipReviewCount++
		if in.SlipRef != "" {
			next.SlipRef = in.SlipRef
		}
		next.PaymentNote = in.Note
		// unavailable: status tetap, menunggu retry
		if in.Action == ActionReject && CanTransitionPayment(cur.Payment, PaymentRejected) {
			next.Payment = PaymentRejected
			events = append(events, EventPaymentRejected)
		}
		if pol.ReviewThreshold > 0 && cur.SlipReviewCount < pol.ReviewThreshold && next.SlipReviewCount >= pol.ReviewThreshold {
			events = append(events, EventReviewThreshold)
		}

	case ActionExpire:
		// kalah race dengan confirm: no-op
		if cur.Payment == PaymentConfirmed {
			return Plan{Next: cur, NoOp: true}, nil
		}
		if cur.Payment == PaymentExpired {
			// sudah expired lewat edit admin, tinggal tutup fulfillment
			if cur.Fulfillment == FulfillmentCancelled || cur.Fulfillment == FulfillmentCompleted {
				return Plan{Next: cur, NoOp: true}, nil
			}
			next.Fulfillment = FulfillmentCancelled
			events = append(events, EventOrderCancelled)
			break
		}
		next.Payment = PaymentExpired
		if cur.Fulfillment != FulfillmentCompleted {
			next.Fulfillment = FulfillmentCancelled
		}
		events = append(events, EventOrderExpired)

	case ActionCancel:
		if cur.Payment == PaymentConfirmed {
			return Plan{}, fmt.Errorf("%w: paid order cannot be cancelled", ErrInvalidTransition)
		}
		if cur.Fulfillment == FulfillmentCancelled {
			return Plan{Next: cur, NoOp: true}, nil
		}
		if !CanTransitionFulfillment(cur.Fulfillment, FulfillmentCancelled) {
			return Plan{}, fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, cur.Fulfillment, FulfillmentCancelled)
		}
		next.Fulfillment = FulfillmentCancelled
		events = append(events, EventOrderCancelled)

	case ActionEdit:
		if in.Payment != "" {
			if !in.Payment.Valid() || !CanTransitionPayment(cur.Payment, in.Payment) {
				return Plan{}, fmt.Errorf("%w: payment %s -> %s", ErrInvalidTransition, cur.Payment, in.Payment)
			}
			next.Payment = in.Payment
		}
		if in.Fulfillment != "" {
			if !in.Fulfillment.Valid() || !CanTransitionFulfillment(cur.Fulfillment, in.Fulfillment) {
				return Plan{}, fmt.Errorf("%w: fulfillment %s -> %s", ErrInvalidTransition, cur.Fulfillment, in.Fulfillment)
			}
			next.Fulfillment = in.Fulfillment
		}
		if next.Fulfillment == FulfillmentCancelled && next.Payment == PaymentConfirmed {
			return Plan{}, fmt.Errorf("%w: paid order cannot be cancelled", ErrInvalidTransition)
		}
		if in.TrackingNumber != "" {
			next.TrackingNumber = in.TrackingNumber
		}
		if next.Payment == PaymentConfirmed && cur.Payment != PaymentConfirmed {
			events = append(events, EventPaymentConfirmed)
		}
		if next.Fulfillment == FulfillmentCancelled && cur.Fulfillment != FulfillmentCancelled {
			events = append(events, EventOrderCancelled)
		}
		if next.Payment == PaymentExpired && cur.Payment != PaymentExpired {
			events = append(events, EventOrderExpired)
		}

	case ActionTrack:
		seen := make(map[string]bool, len(cur.TrackingHistory))
		for _, ev := range cur.TrackingHistory {
			seen[ev.Fingerprint()] = true
		}
		for _, ev := range in.Tracking {
			fp := ev.Fingerprint()
			if seen[fp] {
				continue
			}
			seen[fp] = true
			next.TrackingHistory = append(next.TrackingHistory, ev)
			next.LastTrackingFingerprint = fp
			// delivered: COMPLETED tanpa melihat status pembayaran
			if ev.Status == TrackingDelivered && next.Fulfillment != FulfillmentCompleted && next.Fulfillment != FulfillmentCancelled {
				next.Fulfillment = FulfillmentCompleted
				at := ev.At
				next.DeliveredAt = &at
				events = append(events, EventOrderDelivered)
			}
		}
		if len(next.TrackingHistory) == len(cur.TrackingHistory) {
			return Plan{Next: cur, NoOp: true}, nil
		}

	case ActionDelete:
		return Plan{
			Next:    cur,
			Delete:  true,
			Release: cur.Reservation == ReservationHeld,
		}, nil

	default:
		return Plan{}, fmt.Errorf("%w: unknown action %q", ErrInvalidRequest, in.Action)
	}

	plan := Plan{Events: events}

	if next.Payment == PaymentConfirmed && cur.Payment != PaymentConfirmed {
		next.ReservationExpiry = nil
		paidAt := now
		next.PaidAt = &paidAt
		// edit eksplisit ke status lain tetap dihormati
		if in.Fulfillment == "" && (next.Fulfillment == FulfillmentReceived || next.Fulfillment == FulfillmentCancelled) {
			next.Fulfillment = FulfillmentPreparing
		}
	}

	target := reservationFor(next.Payment, next.Fulfillment)
	switch {
	case cur.Reservation == target:
	case cur.Reservation == ReservationHeld && target == ReservationReleased:
		plan.Release = true
	case cur.Reservation == ReservationHeld && target == ReservationCommitted:
		plan.Confirm = true
	case cur.Reservation == ReservationReleased && target == ReservationHeld:
		plan.Reserve = true
		if next.ReservationExpiry == nil || !next.ReservationExpiry.After(now) {
			exp := now.Add(pol.ReservationTTL)
			next.ReservationExpiry = &exp
		}
	case cur.Reservation == ReservationReleased && target == ReservationCommitted:
		plan.Reserve = true
		plan.Confirm = true
	default:
		return Plan{}, fmt.Errorf("%w: reservation %s -> %s", ErrInvalidTransition, cur.Reservation, target)
	}
	next.Reservation = target

	next.Version = cur.Version + 1
	next.UpdatedAt = now
	plan.Next = next
	return plan, nil
}
