package order

import (
	"context"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/auth"
	"github.com/xenking/transfer-checkout/internal/domain/customer"
	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/paging"
	"github.com/xenking/transfer-checkout/internal/domain/pricing"
)

// DefaultCodeAttempts bounds payment code generation retries on collision.
const DefaultCodeAttempts = 5

// Quoter prices a cart.
type Quoter interface {
	Quote(ctx context.Context, items []pricing.CartItem, shippingFee, discountAmount decimal.Decimal) (*pricing.Quote, error)
}

// CodeGenerator produces candidate payment codes.
type CodeGenerator interface {
	Generate() string
}

// InvoiceIssuer issues the paired invoice of an order.
type InvoiceIssuer interface {
	EnsureInvoice(ctx context.Context, src invoice.Source) (*invoice.Invoice, error)
	Currency() string
}

// CreateRequest holds the input for creating an order.
type CreateRequest struct {
	UserID          string
	Items           []pricing.CartItem
	ShippingFee     decimal.Decimal
	DiscountAmount  decimal.Decimal
	ShippingMethod  ShippingMethod
	ShippingAddress *customer.Address
	Note            string
}

// CreateResult holds a created order with its invoice and pricing.
type CreateResult struct {
	Order   *Order
	Invoice *invoice.Invoice
	Quote   *pricing.Quote
}

// ListResult is one page of orders.
type ListResult struct {
	Orders     []Order
	Pagination paging.Info
}

// Ledger manages the order lifecycle.
type Ledger struct {
	pricing  Quoter
	codes    CodeGenerator
	orders   Repository
	invoices InvoiceIssuer
	users    customer.Repository
	attempts int
	now      func() time.Time
}

// NewLedger creates a Ledger. attempts below 1 falls back to
// DefaultCodeAttempts.
func NewLedger(
	pricing Quoter,
	codes CodeGenerator,
	orders Repository,
	invoices InvoiceIssuer,
	users customer.Repository,
	attempts int,
) *Ledger {
	if attempts < 1 {
		attempts = DefaultCodeAttempts
	}
	return &Ledger{
		pricing:  pricing,
		codes:    codes,
		orders:   orders,
		invoices: invoices,
		users:    users,
		attempts: attempts,
		now:      time.Now,
	}
}

// Quote prices a cart without persisting anything.
func (l *Ledger) Quote(ctx context.Context, items []pricing.CartItem, shippingFee, discountAmount decimal.Decimal) (*pricing.Quote, error) {
	return l.pricing.Quote(ctx, items, shippingFee, discountAmount)
}

// CreateOrder prices the cart, assigns a unique payment code, persists the
// order and issues its invoice. An order whose invoice cannot be issued is
// deleted again.
func (l *Ledger) CreateOrder(ctx context.Context, req CreateRequest) (*CreateResult, error) {
	if req.UserID == "" {
		return nil, apperr.New(apperr.ErrUnauthorized, "Unauthorized")
	}

	method := req.ShippingMethod
	if method == "" {
		method = ShippingStandard
	}
	if !method.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalidInput, "shippingMethod must be one of %s, %s", ShippingStandard, ShippingExpress)
	}
	note := strings.TrimSpace(req.Note)
	if utf8.RuneCountInString(note) > MaxNoteLength {
		return nil, apperr.Newf(apperr.ErrInvalidInput, "note must be at most %d characters", MaxNoteLength)
	}

	address, err := l.resolveAddress(ctx, req.UserID, req.ShippingAddress)
	if err != nil {
		return nil, err
	}

	q, err := l.pricing.Quote(ctx, req.Items, req.ShippingFee, req.DiscountAmount)
	if err != nil {
		return nil, err
	}

	now := l.now().UTC()
	o := &Order{
		ID:              uuid.New().String(),
		UserID:          req.UserID,
		Lines:           q.Lines,
		Subtotal:        q.Subtotal,
		DiscountAmount:  q.DiscountAmount,
		ShippingFee:     q.ShippingFee,
		Total:           q.Total,
		PayNowTotal:     q.PayNow,
		PayLaterTotal:   q.PayLater,
		PaidAmount:      decimal.Zero,
		PaymentMethod:   PaymentMethodBankTransfer,
		PaymentStatus:   PaymentPending,
		ShippingMethod:  method,
		ShippingAddress: address,
		Note:            note,
		Type:            TypeReadyStock,
		Status:          StatusPending,
		CreatedAt:       now,
		UpdatedAt:       now,
	}
	if q.HasPreOrder() {
		o.Type = TypePreOrder
	}
	// Nothing due today means nothing to wait for.
	if o.PayNowTotal.IsZero() {
		o.markPaid(now)
	}

	if err := l.insert(ctx, o); err != nil {
		return nil, err
	}

	inv, err := l.invoices.EnsureInvoice(ctx, o.InvoiceSource())
	if err != nil {
		if delErr := l.orders.Delete(ctx, o.ID); delErr != nil {
			return nil, errors.Wrapf(err, "issue invoice (delete order %s: %v)", o.ID, delErr)
		}
		return nil, errors.Wrap(err, "issue invoice")
	}

	return &CreateResult{Order: o, Invoice: inv, Quote: q}, nil
}

// insert stores o, regenerating its payment code on collision.
func (l *Ledger) insert(ctx context.Context, o *Order) error {
	for range l.attempts {
		o.PaymentCode = l.codes.Generate()
		err := l.orders.Create(ctx, o)
		if err == nil {
			return nil
		}
		if !errors.Is(err, ErrDuplicatePaymentCode) {
			return errors.Wrap(err, "create order")
		}
	}
	return errors.Errorf("create order: no unique payment code after %d attempts", l.attempts)
}

// resolveAddress returns the supplied address or the user's default one.
func (l *Ledger) resolveAddress(ctx context.Context, userID string, supplied *customer.Address) (customer.Address, error) {
	var addr customer.Address
	switch {
	case supplied != nil && !supplied.IsZero():
		addr = *supplied
	default:
		u, err := l.users.GetByID(ctx, userID)
		switch {
		case err == nil:
			if u.DefaultAddress != nil {
				addr = *u.DefaultAddress
			}
		case !errors.Is(err, customer.ErrNotFound):
			return customer.Address{}, errors.Wrap(err, "get user")
		}
	}

	addr = addr.Normalize()
	if missing := addr.Missing(); len(missing) > 0 {
		return customer.Address{}, apperr.Newf(apperr.ErrInvalidInput,
			"shippingAddress is missing required fields: %s", strings.Join(missing, ", "))
	}
	return addr, nil
}

// GetOrder returns an order visible to actor.
func (l *Ledger) GetOrder(ctx context.Context, id string, actor auth.Actor) (*Order, error) {
	o, err := l.orders.GetByID(ctx, id)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.New(apperr.ErrNotFound, "Order not found")
		}
		return nil, errors.Wrap(err, "get order")
	}
	if !actor.CanAccess(o.UserID) {
		return nil, apperr.New(apperr.ErrForbidden, "Forbidden")
	}
	return o, nil
}

// CancelOrder cancels an order on behalf of its owner or staff and voids
// its invoice in the same write.
func (l *Ledger) CancelOrder(ctx context.Context, id string, actor auth.Actor) (*Aggregate, error) {
	agg, err := l.orders.Mutate(ctx, id, func(a *Aggregate) error {
		if !actor.CanAccess(a.Order.UserID) {
			return apperr.New(apperr.ErrForbidden, "Forbidden")
		}
		now := l.now().UTC()
		if err := a.Order.Cancel(now); err != nil {
			return err
		}
		a.SyncInvoice(l.invoices.Currency(), "", now)
		return nil
	})
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return nil, apperr.New(apperr.ErrNotFound, "Order not found")
		}
		return nil, errors.Wrap(err, "cancel order")
	}
	return agg, nil
}

// ListOrders returns a page of orders. Staff may filter by any user;
// everyone else only ever sees their own orders.
func (l *Ledger) ListOrders(ctx context.Context, actor auth.Actor, f Filter) (*ListResult, error) {
	if actor.ID == "" {
		return nil, apperr.New(apperr.ErrUnauthorized, "Unauthorized")
	}
	if !actor.IsStaff() {
		f.UserID = actor.ID
	}
	if f.Status != "" && !f.Status.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalidInput, "unknown status %q", f.Status)
	}
	if f.PaymentStatus != "" && !f.PaymentStatus.Valid() {
		return nil, apperr.Newf(apperr.ErrInvalidInput, "unknown paymentStatus %q", f.PaymentStatus)
	}
	f.Page = f.Page.Normalize()

	orders, total, err := l.orders.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list orders")
	}
	return &ListResult{
		Orders:     orders,
		Pagination: paging.NewInfo(f.Page, total),
	}, nil
}
