package postgres

import (
	"context"
	"encoding/json"
	"time"

	"github.com/ariefcatur/go-shop-orders/internal/orders"
	"github.com/ariefcatur/go-shop-orders/internal/sales"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// SalesRepo implements sales.Store. order_number is UNIQUE, so a second
// entry for the same order is dropped by the database.
type SalesRepo struct{ DB *pgxpool.Pool }

var errStaleOrder = errors.New("order row not updated")

// Commit updates the order row and inserts the sale in one transaction.
func (r *SalesRepo) Commit(ctx context.Context, o orders.Order, expectedVersion int64, e sales.Entry) (bool, error) {
	items, err := json.Marshal(e.Items)
	if err != nil {
		return false, errors.Wrap(err, "encode sale items")
	}
	var written bool
	err = pgx.BeginFunc(ctx, r.DB, func(tx pgx.Tx) error {
		ok, err := updateOrder(ctx, tx, o, expectedVersion)
		if err != nil {
			return err
		}
		if !ok {
			return errStaleOrder
		}
		ct, err := tx.Exec(ctx, `
			INSERT INTO sale_history (id, order_number, customer_id, items, paid_cents, confirmed_at)
			VALUES ($1, $2, $3, $4, $5, $6)
			ON CONFLICT (order_number) DO NOTHING`,
			e.ID, e.OrderNumber, e.CustomerID, items, e.PaidCents, e.ConfirmedAt)
		if err != nil {
			return errors.Wrap(err, "insert sale")
		}
		written = ct.RowsAffected() == 1
		return nil
	})
	if errors.Is(err, errStaleOrder) {
		return false, missOrConflict(ctx, r.DB, o.Number)
	}
	if err != nil {
		return false, errors.Wrap(err, "commit sale")
	}
	return written, nil
}

func (r *SalesRepo) ListBetween(ctx context.Context, from, to time.Time) ([]sales.Entry, error) {
	rows, err := r.DB.Query(ctx, `
		SELECT id, order_number, customer_id, items, paid_cents, confirmed_at
		FROM sale_history WHERE confirmed_at >= $1 AND confirmed_at < $2
		ORDER BY confirmed_at`, from, to)
	if err != nil {
		return nil, errors.Wrap(err, "list sales")
	}
	defer rows.Close()

	var out []sales.Entry
	for rows.Next() {
		var (
			e     sales.Entry
			items []byte
		)
		if err := rows.Scan(&e.ID, &e.OrderNumber, &e.CustomerID, &items, &e.PaidCents, &e.ConfirmedAt); err != nil {
			return nil, errors.Wrap(err, "scan sale")
		}
		if err := json.Unmarshal(items, &e.Items); err != nil {
			return nil, errors.Wrap(err, "decode sale items")
		}
		out = append(out, e)
	}
	return out, errors.Wrap(rows.Err(), "list sales")
}
