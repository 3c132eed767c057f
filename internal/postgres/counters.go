package postgres

import (
	"context"

	"github.com/ariefcatur/go-shop-orders/internal/inventory"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/pkg/errors"
)

// Counters implements inventory.Counters and inventory.Catalog. Every
// mutation is one conditional UPDATE, so concurrent callers on the same
// variant are serialised by the row lock and the WHERE guard.
type Counters struct{ DB *pgxpool.Pool }

func (c *Counters) TryReserve(ctx context.Context, key inventory.VariantKey, qty int) (bool, error) {
	ct, err := c.DB.Exec(ctx, `
		UPDATE product_variants SET stock = stock - $4, reserved = reserved + $4
		WHERE product_id = $1 AND size = $2 AND color = $3 AND stock >= $4`,
		key.ProductID, key.Size, key.Color, qty)
	if err != nil {
		return false, errors.Wrapf(err, "reserve %s", key)
	}
	return ct.RowsAffected() == 1, nil
}

func (c *Counters) TryCommit(ctx context.Context, key inventory.VariantKey, qty int) (bool, error) {
	ct, err := c.DB.Exec(ctx, `
		UPDATE product_variants SET reserved = reserved - $4
		WHERE product_id = $1 AND size = $2 AND color = $3 AND reserved >= $4`,
		key.ProductID, key.Size, key.Color, qty)
	if err != nil {
		return false, errors.Wrapf(err, "commit %s", key)
	}
	return ct.RowsAffected() == 1, nil
}

func (c *Counters) TryRelease(ctx context.Context, key inventory.VariantKey, qty int) (bool, error) {
	ct, err := c.DB.Exec(ctx, `
		UPDATE product_variants SET stock = stock + $4, reserved = reserved - $4
		WHERE product_id = $1 AND size = $2 AND color = $3 AND reserved >= $4`,
		key.ProductID, key.Size, key.Color, qty)
	if err != nil {
		return false, errors.Wrapf(err, "release %s", key)
	}
	return ct.RowsAffected() == 1, nil
}

func (c *Counters) Level(ctx context.Context, key inventory.VariantKey) (inventory.Level, error) {
	var lvl inventory.Level
	err := c.DB.QueryRow(ctx, `
		SELECT stock, reserved FROM product_variants
		WHERE product_id = $1 AND size = $2 AND color = $3`,
		key.ProductID, key.Size, key.Color).Scan(&lvl.Stock, &lvl.Reserved)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Level{}, inventory.ErrProductNotFound
	}
	return lvl, errors.Wrapf(err, "level %s", key)
}

func (c *Counters) Product(ctx context.Context, id string) (inventory.Product, error) {
	p := inventory.Product{ID: id}
	err := c.DB.QueryRow(ctx, `SELECT name, preorder FROM products WHERE id = $1`, id).Scan(&p.Name, &p.Preorder)
	if errors.Is(err, pgx.ErrNoRows) {
		return inventory.Product{}, inventory.ErrProductNotFound
	}
	if err != nil {
		return inventory.Product{}, errors.Wrap(err, "get product")
	}

	rows, err := c.DB.Query(ctx, `
		SELECT size, color, price_cents, stock, reserved
		FROM product_variants WHERE product_id = $1 ORDER BY size, color`, id)
	if err != nil {
		return inventory.Product{}, errors.Wrap(err, "list variants")
	}
	defer rows.Close()
	for rows.Next() {
		var v inventory.Variant
		if err := rows.Scan(&v.Size, &v.Color, &v.PriceCents, &v.Stock, &v.Reserved); err != nil {
			return inventory.Product{}, errors.Wrap(err, "scan variant")
		}
		p.Variants = append(p.Variants, v)
	}
	return p, errors.Wrap(rows.Err(), "list variants")
}

// UpsertProduct writes a product with its variants in one tx (seed/admin use).
func (c *Counters) UpsertProduct(ctx context.Context, p inventory.Product) error {
	tx, err := c.DB.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	if _, err := tx.Exec(ctx, `
		INSERT INTO products (id, name, preorder) VALUES ($1, $2, $3)
		ON CONFLICT (id) DO UPDATE SET name = EXCLUDED.name, preorder = EXCLUDED.preorder, updated_at = now()`,
		p.ID, p.Name, p.Preorder); err != nil {
		return errors.Wrap(err, "upsert product")
	}
	for _, v := range p.Variants {
		if _, err := tx.Exec(ctx, `
			INSERT INTO product_variants (product_id, size, color, price_cents, stock, reserved)
			VALUES ($1, $2, $3, $4, $5, 0)
			ON CONFLICT (product_id, size, color) DO UPDATE SET price_cents = EXCLUDED.price_cents, stock = EXCLUDED.stock`,
			p.ID, v.Size, v.Color, v.PriceCents, v.Stock); err != nil {
			return errors.Wrap(err, "upsert variant")
		}
	}
	return errors.Wrap(tx.Commit(ctx), "commit")
}
