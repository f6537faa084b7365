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
)

const invoiceColumns = `id, code, order_id, user_id, lines, subtotal, discount_amount, shipping_fee, total,
		pay_now_total, paid_amount, amount_due, currency, status, payment_refs, issued_at, paid_at, updated_at`

const (
	getInvoiceByIDSQL = `SELECT ` + invoiceColumns + ` FROM invoices WHERE id = $1`

	getInvoiceByOrderIDSQL = `SELECT ` + invoiceColumns + ` FROM invoices WHERE order_id = $1`

	insertInvoiceSQL = `INSERT INTO invoices (` + invoiceColumns + `)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18)`

	upsertInvoiceSQL = insertInvoiceSQL + `
		ON CONFLICT (id) DO UPDATE SET
			paid_amount = EXCLUDED.paid_amount,
			pay_now_total = EXCLUDED.pay_now_total,
			amount_due = EXCLUDED.amount_due,
			status = EXCLUDED.status,
			payment_refs = EXCLUDED.payment_refs,
			paid_at = EXCLUDED.paid_at,
			updated_at = EXCLUDED.updated_at`

	invoiceOrderConstraint = "invoices_order_id_key"
)

var _ invoice.Repository = (*InvoiceRepository)(nil)

// InvoiceRepository implements invoice.Repository backed by PostgreSQL.
type InvoiceRepository struct {
	pool *pgxpool.Pool
}

// NewInvoiceRepository returns an InvoiceRepository that uses the given pool.
func NewInvoiceRepository(pool *pgxpool.Pool) *InvoiceRepository {
	return &InvoiceRepository{pool: pool}
}

// Create stores a new invoice.
func (r *InvoiceRepository) Create(ctx context.Context, inv *invoice.Invoice) error {
	if err := writeInvoice(ctx, r.pool, insertInvoiceSQL, inv); err != nil {
		if isUniqueViolation(err, invoiceOrderConstraint) {
			return invoice.ErrAlreadyExists
		}
		return err
	}
	return nil
}

// GetByID returns an invoice by id.
func (r *InvoiceRepository) GetByID(ctx context.Context, id string) (*invoice.Invoice, error) {
	return getInvoice(ctx, r.pool, getInvoiceByIDSQL, id)
}

// GetByOrderID returns the invoice of an order.
func (r *InvoiceRepository) GetByOrderID(ctx context.Context, orderID string) (*invoice.Invoice, error) {
	return getInvoice(ctx, r.pool, getInvoiceByOrderIDSQL, orderID)
}

// List returns a page of invoices, newest first, with the total match count.
// The page and the count are queried concurrently.
func (r *InvoiceRepository) List(ctx context.Context, f invoice.Filter) ([]invoice.Invoice, int, error) {
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
	if f.OrderID != "" {
		add("order_id = ?", f.OrderID)
	}
	if f.Status != "" {
		add("status = ?", string(f.Status))
	}
	clause := whereClause(where)

	var (
		invoices []invoice.Invoice
		total    int
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		pageArgs := append(append([]any(nil), args...), f.Page.Limit, f.Page.Offset())
		rows, err := r.pool.Query(gctx, `SELECT `+invoiceColumns+` FROM invoices`+clause+
			` ORDER BY issued_at DESC, id LIMIT $`+strconv.Itoa(len(args)+1)+` OFFSET $`+strconv.Itoa(len(args)+2),
			pageArgs...)
		if err != nil {
			return errors.Wrap(err, "list invoices")
		}
		if invoices, err = pgx.CollectRows(rows, scanInvoice); err != nil {
			return errors.Wrap(err, "list invoices")
		}
		return nil
	})
	g.Go(func() error {
		rows, err := r.pool.Query(gctx, `SELECT count(*) FROM invoices`+clause, args...)
		if err != nil {
			return errors.Wrap(err, "count invoices")
		}
		if total, err = pgx.CollectExactlyOneRow(rows, pgx.RowTo[int]); err != nil {
			return errors.Wrap(err, "count invoices")
		}
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, 0, err
	}
	return invoices, total, nil
}

func getInvoice(ctx context.Context, q querier, sql, arg string) (*invoice.Invoice, error) {
	rows, err := q.Query(ctx, sql, arg)
	if err != nil {
		return nil, errors.Wrapf(err, "get invoice %q", arg)
	}
	inv, err := pgx.CollectExactlyOneRow(rows, scanInvoice)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, invoice.ErrNotFound
		}
		return nil, errors.Wrapf(err, "get invoice %q", arg)
	}
	return &inv, nil
}

func writeInvoice(ctx context.Context, q querier, sql string, inv *invoice.Invoice) error {
	lines, err := json.Marshal(inv.Lines)
	if err != nil {
		return errors.Wrap(err, "encode invoice lines")
	}
	refs := inv.PaymentRefs
	if refs == nil {
		refs = []string{}
	}
	_, err = q.Exec(ctx, sql,
		inv.ID, inv.Code, inv.OrderID, inv.UserID, lines,
		inv.Subtotal, inv.DiscountAmount, inv.ShippingFee, inv.Total,
		inv.PayNowTotal, inv.PaidAmount, inv.AmountDue, inv.Currency, string(inv.Status),
		refs, inv.IssuedAt, inv.PaidAt, inv.UpdatedAt,
	)
	if err != nil {
		return errors.Wrapf(err, "write invoice %q", inv.ID)
	}
	return nil
}

func scanInvoice(row pgx.CollectableRow) (invoice.Invoice, error) {
	var (
		inv    invoice.Invoice
		lines  []byte
		status string
	)
	err := row.Scan(
		&inv.ID, &inv.Code, &inv.OrderID, &inv.UserID, &lines,
		&inv.Subtotal, &inv.DiscountAmount, &inv.ShippingFee, &inv.Total,
		&inv.PayNowTotal, &inv.PaidAmount, &inv.AmountDue, &inv.Currency, &status,
		&inv.PaymentRefs, &inv.IssuedAt, &inv.PaidAt, &inv.UpdatedAt,
	)
	if err != nil {
		return inv, err
	}
	inv.Status = invoice.Status(status)
	if err := json.Unmarshal(lines, &inv.Lines); err != nil {
		return inv, errors.Wrap(err, "decode invoice lines")
	}
	return inv, nil
}

func whereClause(conds []string) string {
	if len(conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(conds, " AND ")
}
