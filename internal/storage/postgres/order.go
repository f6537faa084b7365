package postgres

import (
	"context"
	"encoding/json"
	"strconv"
	"strings"

	"github.com/go-faster/errors"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/order"
)

const orderColumns = `id, user_id, lines, subtotal, discount_amount, shipping_fee, total, pay_now_total,
		pay_later_total, paid_amount, payment_method, payment_status, payment_code, external_transaction_id,
		applied_webhook_ids, shipping_method, shipping_address, note, order_type, status, created_at, updated_at, paid_at`

const (
	insertOrderSQL = `INSERT INTO orders (` + orderColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23)`

	getOrderByIDSQL = `SELECT ` + orderColumns + ` FROM orders WHERE id = $1`

	getOrderByIDForUpdateSQL = getOrderByIDSQL + ` FOR UPDATE`

	getOrderByPaymentCodeSQL = `SELECT ` + orderColumns + ` FROM orders WHERE payment_code = $1`

	updateOrderStateSQL = `UPDATE orders SET
			paid_amount = $2,
			payment_status = $3,
			external_transaction_id = $4,
			applied_webhook_ids = $5,
			status = $6,
			updated_at = $7,
			paid_at = $8
		WHERE id = $1`

	deleteOrderSQL = `DELETE FROM orders WHERE id = $1`

	orderPaymentCodeConstraint = "orders_payment_code_key"
)

var _ order.Repository = (*OrderRepository)(nil)

// OrderRepository implements order.Repository backed by PostgreSQL.
type OrderRepository struct {
	pool *pgxpool.Pool
}

// NewOrderRepository returns an OrderRepository that uses the given pool.
func NewOrderRepository(pool *pgxpool.Pool) *OrderRepository {
	return &OrderRepository{pool: pool}
}

// Create persists a new order. Lines and the address are stored as JSONB.
func (r *OrderRepository) Create(ctx context.Context, o *order.Order) error {
	lines, err := json.Marshal(o.Lines)
	if err != nil {
		return errors.Wrap(err, "encode order lines")
	}
	address, err := json.Marshal(o.ShippingAddress)
	if err != nil {
		return errors.Wrap(err, "encode shipping address")
	}
	webhookIDs := o.AppliedWebhookIDs
	if webhookIDs == nil {
		webhookIDs = []string{}
	}

	_, err = r.pool.Exec(ctx, insertOrderSQL,
		o.ID, o.UserID, lines, o.Subtotal, o.DiscountAmount, o.ShippingFee, o.Total, o.PayNowTotal,
		o.PayLaterTotal, o.PaidAmount, o.PaymentMethod, string(o.PaymentStatus), o.PaymentCode, o.ExternalTransactionID,
		webhookIDs, string(o.ShippingMethod), address, o.Note, string(o.Type), string(o.Status), o.CreatedAt, o.UpdatedAt, o.PaidAt,
	)
	if err != nil {
		if isUniqueViolation(err, orderPaymentCodeConstraint) {
			return order.ErrDuplicatePaymentCode
		}
		return errors.Wrapf(err, "create order %q", o.ID)
	}
	return nil
}

// Delete removes an order.
func (r *OrderRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.pool.Exec(ctx, deleteOrderSQL, id); err != nil {
		return errors.Wrapf(err, "delete order %q", id)
	}
	return nil
}

// GetByID returns an order by id.
func (r *OrderRepository) GetByID(ctx context.Context, id string) (*order.Order, error) {
	return getOrder(ctx, r.pool, getOrderByIDSQL, id)
}

// GetByPaymentCode returns the order carrying the exact payment code.
func (r *OrderRepository) GetByPaymentCode(ctx context.Context, code string) (*order.Order, error) {
	return getOrder(ctx, r.pool, getOrderByPaymentCodeSQL, code)
}

// List returns a page of orders, newest first, with the total match count.
func (r *OrderRepository) List(ctx context.Context, f order.Filter) ([]order.Order, int, error) {
	var (
		where []string
		args  []any
	)
	add := func(cond string, v any) {
		args = append(args, v)
		where = append(where, strings.ReplaceAll(cond, "?", "$"+strconv.Itoa(len(args))))
	}
	if f.UserID != "" {
		add("user_id = ?", f.UserID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	if f.PaymentStatus != "" {
		add("payment_status = ?", string(f.PaymentStatus))
	}
	clause := whereClause(where)

	var (
		orders []order.Order
		total  int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pageArgs := append(append([]any(nil), args...), f.Page.Limit, f.Page.Offset())
		rows, err := r.pool.Query(gctx, `SELECT `+orderColumns+` FROM orders`+clause+
			` ORDER BY created_at DESC, id LIMIT $`+strconv.Itoa(len(args)+1)+` OFFSET $`+strconv.Itoa(len(args)+2),
			pageArgs...)
		if err != nil {
			return errors.Wrap(err, "list orders")
		}
		if orders, err = pgx.CollectRows(rows, scanOrder); err != nil {
			return errors.Wrap(err, "list orders")
		}
		return nil
	})
	g.Go(func() error {
		rows, err := r.pool.Query(gctx, `SELECT count(*) FROM orders`+clause, args...)
		if err != nil {
			return errors.Wrap(err, "count orders")
		}
		if total, err = pgx.CollectExactlyOneRow(rows, pgx.RowTo[int]); err != nil {
			return errors.Wrap(err, "count orders")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return orders, total, nil
}

// Mutate locks the order row, runs fn and writes the order state and the
// invoice in the same transaction. Concurrent writers to the same order
// queue on the row lock and see each other's committed state.
func (r *OrderRepository) Mutate(ctx context.Context, id string, fn func(a *order.Aggregate) error) (*order.Aggregate, error) {
	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return nil, errors.Wrap(err, "begin")
	}
	defer func() { _ = tx.Rollback(ctx) }()

	o, err := getOrder(ctx, tx, getOrderByIDForUpdateSQL, id)
	if err != nil {
		return nil, err
	}
	agg := &order.Aggregate{Order: o}
	switch inv, err := getInvoice(ctx, tx, getInvoiceByOrderIDSQL, id); {
	case err == nil:
		agg.Invoice = inv
	case !errors.Is(err, invoice.ErrNotFound):
		return nil, err
	}

	if err := fn(agg); err != nil {
		return agg, err
	}

	webhookIDs := agg.Order.AppliedWebhookIDs
	if webhookIDs == nil {
		webhookIDs = []string{}
	}
	_, err = tx.Exec(ctx, updateOrderStateSQL,
		agg.Order.ID, agg.Order.PaidAmount, string(agg.Order.PaymentStatus), agg.Order.ExternalTransactionID,
		webhookIDs, string(agg.Order.Status), agg.Order.UpdatedAt, agg.Order.PaidAt,
	)
	if err != nil {
		return nil, errors.Wrapf(err, "update order %q", id)
	}
	if agg.Invoice != nil {
		if err := writeInvoice(ctx, tx, upsertInvoiceSQL, agg.Invoice); err != nil {
			return nil, err
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return nil, errors.Wrap(err, "commit")
	}
	return agg, nil
}

func getOrder(ctx context.Context, q querier, sql, arg string) (*order.Order, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "get order %q", arg)
	}
	o, err := pgx.CollectExactlyOneRow(rows, scanOrder)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, order.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get order %q", arg)
	}
	return &o, nil
}

func scanOrder(row pgx.CollectableRow) (order.Order, error) {
	var (
		o              order.Order
		lines, address []byte
	)
	var paymentStatus, shippingMethod, typ, status string
	err := row.Scan(
		&o.ID, &o.UserID, &lines, &o.Subtotal, &o.DiscountAmount, &o.ShippingFee, &o.Total, &o.PayNowTotal,
		&o.PayLaterTotal, &o.PaidAmount, &o.PaymentMethod, &paymentStatus, &o.PaymentCode, &o.ExternalTransactionID,
		&o.AppliedWebhookIDs, &shippingMethod, &address, &o.Note, &typ, &status, &o.CreatedAt, &o.UpdatedAt, &o.PaidAt,
	)
	if err != nil {
		return o, err
	}
	o.PaymentStatus = order.PaymentStatus(paymentStatus)
	o.ShippingMethod = order.ShippingMethod(shippingMethod)
	o.Type = order.Type(typ)
	o.Status = order.Status(status)
	if err := json.Unmarshal(lines, &o.Lines); err != nil {
		return o, errors.Wrap(err, "decode order lines")
	}
	if err := json.Unmarshal(address, &o.ShippingAddress); err != nil {
		return o, errors.Wrap(err, "decode shipping address")
	}
	return o, nil
}
