package postgres

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/shopspring/decimal"

	"github.com/xenking/transfer-checkout/internal/domain/catalog"
)

const (
	getProductByIDSQL = `SELECT id, name, type, status, base_price, sale_price, preorder_enabled, preorder_deposit_percent
		FROM products WHERE id = $1`

	listVariantsSQL = `SELECT id, sku, price, stock
		FROM product_variants WHERE product_id = $1 ORDER BY position, id`

	upsertProductSQL = `INSERT INTO products (id, name, type, status, base_price, sale_price, preorder_enabled, preorder_deposit_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			type = EXCLUDED.type,
			status = EXCLUDED.status,
			base_price = EXCLUDED.base_price,
			sale_price = EXCLUDED.sale_price,
			preorder_enabled = EXCLUDED.preorder_enabled,
			preorder_deposit_percent = EXCLUDED.preorder_deposit_percent`

	deleteVariantsSQL = `DELETE FROM product_variants WHERE product_id = $1`

	insertVariantSQL = `INSERT INTO product_variants (product_id, id, sku, price, stock, position)
		VALUES ($1, $2, $3, $4, $5, $6)`
)

var _ catalog.Repository = (*CatalogRepository)(nil)

// CatalogRepository implements catalog.Repository backed by PostgreSQL.
type CatalogRepository struct {
	pool *pgxpool.Pool
}

// NewCatalogRepository returns a CatalogRepository that uses the given pool.
func NewCatalogRepository(pool *pgxpool.Pool) *CatalogRepository {
	return &CatalogRepository{pool: pool}
}

// GetByID returns a product with its variants.
func (r *CatalogRepository) GetByID(ctx context.Context, id string) (*catalog.Product, error) {
	rows, err := r.pool.Query(ctx, getProductByIDSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "get product %q", id)
	}
	p, err := pgx.CollectExactlyOneRow(rows, scanProduct)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, catalog.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get product %q", id)
	}

	rows, err = r.pool.Query(ctx, listVariantsSQL, id)
	if err != nil {
		return nil, errors.Wrapf(err, "list variants of %q", id)
	}
	p.Variants, err = pgx.CollectRows(rows, scanVariant)
	if err != nil {
		return nil, errors.Wrapf(err, "list variants of %q", id)
	}
	return &p, nil
}

// Upsert writes a product and replaces its variants.
func (r *CatalogRepository) Upsert(ctx context.Context, p *catalog.Product) error {
	return pgx.BeginFunc(ctx, r.pool, func(tx pgx.Tx) error {
		_, err := tx.Exec(ctx, upsertProductSQL,
			p.ID, p.Name, p.Type, string(p.Status), p.BasePrice, p.SalePrice,
			p.PreOrder.Enabled, p.PreOrder.DepositPercent,
		)
		if err != nil {
			return errors.Wrapf(err, "upsert product %q", p.ID)
		}
		if _, err := tx.Exec(ctx, deleteVariantsSQL, p.ID); err != nil {
			return errors.Wrapf(err, "delete variants of %q", p.ID)
		}
		for i, v := range p.Variants {
			if _, err := tx.Exec(ctx, insertVariantSQL, p.ID, v.ID, v.SKU, v.Price, v.Stock, i); err != nil {
				return errors.Wrapf(err, "insert variant %q of %q", v.ID, p.ID)
			}
		}
		return nil
	})
}

func scanProduct(row pgx.CollectableRow) (catalog.Product, error) {
	var (
		p      catalog.Product
		status string
	)
	err := row.Scan(
		&p.ID, &p.Name, &p.Type, &status, &p.BasePrice, &p.SalePrice,
		&p.PreOrder.Enabled, &p.PreOrder.DepositPercent,
	)
	p.Status = catalog.Status(status)
	return p, err
}

func scanVariant(row pgx.CollectableRow) (catalog.Variant, error) {
	var v catalog.Variant
	var price decimal.NullDecimal
	err := row.Scan(&v.ID, &v.SKU, &price, &v.Stock)
	v.Price = price
	return v, err
}
