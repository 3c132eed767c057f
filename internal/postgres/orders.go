package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// OrderRepo implements orders.Repository. Update/Delete are CAS on version.
type OrderRepo struct{ DB *pgxpool.Pool }

const orderColumns = `number, customer_id, items, total_cents, fulfillment_status, payment_status,
	reservation_state, slip_review_count, slip_ref, payment_note, paid_at, reservation_expiry,
	tracking_number, tracking_history, last_tracking_fingerprint, delivered_at, version,
	created_at, updated_at`

func (r *OrderRepo) Create(ctx context.Context, o orders.Order) error {
	items, history, err := marshalDocs(o)
	if err != nil {
		return err
	}
	_, err = r.DB.Exec(ctx, `INSERT INTO orders (`+orderColumns+`)
		VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17,$18,$19)`,
		o.Number, o.CustomerID, items, o.TotalCents, o.Fulfillment, o.Payment,
		o.Reservation, o.SlipReviewCount, o.SlipRef, o.PaymentNote, o.PaidAt, o.ReservationExpiry,
		o.TrackingNumber, history, o.LastTrackingFingerprint, o.DeliveredAt, o.Version,
		o.CreatedAt, o.UpdatedAt)
	if isUniqueViolation(err) {
		return orders.ErrDuplicateOrder
	}
	return errors.Wrap(err, "insert order")
}

func (r *OrderRepo) Get(ctx context.Context, number string) (orders.Order, error) {
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders WHERE number = $1`, number)
	return scanOrder(row)
}

func (r *OrderRepo) GetByTracking(ctx context.Context, trackingNumber string) (orders.Order, error) {
	if trackingNumber == "" {
		return orders.Order{}, orders.ErrNotFound
	}
	row := r.DB.QueryRow(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE tracking_number = $1 ORDER BY created_at DESC LIMIT 1`, trackingNumber)
	return scanOrder(row)
}

func (r *OrderRepo) Update(ctx context.Context, o orders.Order, expectedVersion int64) error {
	ok, err := updateOrder(ctx, r.DB, o, expectedVersion)
	if err != nil {
		return err
	}
	if ok {
		return nil
	}
	return missOrConflict(ctx, r.DB, o.Number)
}

type execer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
}

// updateOrder returns false when no row matched number + version.
func updateOrder(ctx context.Context, db execer, o orders.Order, expectedVersion int64) (bool, error) {
	items, history, err := marshalDocs(o)
	if err != nil {
		return false, err
	}
	ct, err := db.Exec(ctx, `
		UPDATE orders SET
			customer_id = $2, items = $3, total_cents = $4, fulfillment_status = $5,
			payment_status = $6, reservation_state = $7, slip_review_count = $8, slip_ref = $9,
			payment_note = $10, paid_at = $11, reservation_expiry = $12, tracking_number = $13,
			tracking_history = $14, last_tracking_fingerprint = $15, delivered_at = $16,
			version = $17, updated_at = $18
		WHERE number = $1 AND version = $19`,
		o.Number, o.CustomerID, items, o.TotalCents, o.Fulfillment,
		o.Payment, o.Reservation, o.SlipReviewCount, o.SlipRef,
		o.PaymentNote, o.PaidAt, o.ReservationExpiry, o.TrackingNumber,
		history, o.LastTrackingFingerprint, o.DeliveredAt,
		o.Version, o.UpdatedAt, expectedVersion)
	if err != nil {
		return false, errors.Wrap(err, "update order")
	}
	return ct.RowsAffected() == 1, nil
}

func (r *OrderRepo) Delete(ctx context.Context, number string, expectedVersion int64) error {
	ct, err := r.DB.Exec(ctx, `DELETE FROM orders WHERE number = $1 AND version = $2`, number, expectedVersion)
	if err != nil {
		return errors.Wrap(err, "delete order")
	}
	if ct.RowsAffected() == 1 {
		return nil
	}
	return missOrConflict(ctx, r.DB, number)
}

// 0 rows: order hilang atau versi sudah berubah
func missOrConflict(ctx context.Context, db *pgxpool.Pool, number string) error {
	var exists bool
	if err := db.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM orders WHERE number = $1)`, number).Scan(&exists); err != nil {
		return errors.Wrap(err, "check order")
	}
	if !exists {
		return orders.ErrNotFound
	}
	return orders.ErrConflict
}

func (r *OrderRepo) ListLapsed(ctx context.Context, before time.Time, limit int) ([]orders.Order, error) {
	if limit <= 0 {
		limit = 500
	}
	rows, err := r.DB.Query(ctx, `SELECT `+orderColumns+` FROM orders
		WHERE reservation_expiry < $1 AND payment_status <> 'CONFIRMED'
			AND NOT (payment_status = 'EXPIRED' AND fulfillment_status IN ('CANCELLED', 'COMPLETED'))
		ORDER BY reservation_expiry LIMIT $2`, before, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list lapsed")
	}
	defer rows.Close()

	var out []orders.Order
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, o)
	}
	return out, errors.Wrap(rows.Err(), "list lapsed")
}

func marshalDocs(o orders.Order) (items, history []byte, err error) {
	items, err = json.Marshal(o.Items)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode items")
	}
	h := o.TrackingHistory
	if h == nil {
		h = []orders.TrackingEvent{}
	}
	history, err = json.Marshal(h)
	if err != nil {
		return nil, nil, errors.Wrap(err, "encode tracking")
	}
	return items, history, nil
}

func scanOrder(row pgx.Row) (orders.Order, error) {
	var (
		o              orders.Order
		items, history []byte
		fs, ps, rs     string
	)
	err := row.Scan(&o.Number, &o.CustomerID, &items, &o.TotalCents, &fs, &ps,
		&rs, &o.SlipReviewCount, &o.SlipRef, &o.PaymentNote, &o.PaidAt, &o.ReservationExpiry,
		&o.TrackingNumber, &history, &o.LastTrackingFingerprint, &o.DeliveredAt, &o.Version,
		&o.CreatedAt, &o.UpdatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return orders.Order{}, orders.ErrNotFound
	}
	if err != nil {
		return orders.Order{}, errors.Wrap(err, "scan order")
	}
	o.Fulfillment = orders.FulfillmentStatus(fs)
	o.Payment = orders.PaymentStatus(ps)
	o.Reservation = orders.ReservationState(rs)
	if err := json.Unmarshal(items, &o.Items); err != nil {
		return orders.Order{}, errors.Wrap(err, "decode items")
	}
	if err := json.Unmarshal(history, &o.TrackingHistory); err != nil {
		return orders.Order{}, errors.Wrap(err, "decode tracking")
	}
	return o, nil
}
