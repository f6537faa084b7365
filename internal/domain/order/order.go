// Package order owns the order aggregate: creation, payment crediting and
// cancellation.
package order

import (
	"context"
	"slices"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/customer"
	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/paging"
	"github.com/xenking/transfer-checkout/internal/domain/pricing"
)

var (
	// ErrNotFound is returned when an order does not exist.
	ErrNotFound = errors.New("order not found")
	// ErrDuplicatePaymentCode is returned by Repository.Create when the
	// payment code is already taken.
	ErrDuplicatePaymentCode = errors.New("duplicate payment code")
	// ErrNoChange is returned by aggregate commands that were already applied.
	// Nothing must be written.
	ErrNoChange = errors.New("no change")
	// ErrCancelled rejects money arriving for a cancelled order.
	ErrCancelled = apperr.New(apperr.ErrInvalidState, "order is cancelled")
)

// MaxNoteLength is the longest accepted customer note, in characters.
const MaxNoteLength = 500

// PaymentMethodBankTransfer is the only supported payment method.
const PaymentMethodBankTransfer = "bank_transfer"

// Status is the fulfilment state of an order.
type Status string

const (
	StatusPending    Status = "pending"
	StatusConfirmed  Status = "confirmed"
	StatusProcessing Status = "processing"
	StatusShipped    Status = "shipped"
	StatusDelivered  Status = "delivered"
	StatusCancelled  Status = "cancelled"
	StatusReturned   Status = "returned"
)

// Valid reports whether s is a known status.
func (s Status) Valid() bool {
	switch s {
	case StatusPending, StatusConfirmed, StatusProcessing, StatusShipped,
		StatusDelivered, StatusCancelled, StatusReturned:
		return true
	}
	return false
}

// Terminal reports whether no further transitions are possible.
func (s Status) Terminal() bool {
	return s == StatusCancelled || s == StatusDelivered || s == StatusReturned
}

// PaymentStatus is the settlement state of the amount due now.
type PaymentStatus string

const (
	PaymentPending PaymentStatus = "pending"
	PaymentPartial PaymentStatus = "partial"
	PaymentPaid    PaymentStatus = "paid"
	PaymentFailed  PaymentStatus = "failed"
)

// Valid reports whether s is a known payment status.
func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentPartial, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// Type tells ready-stock orders from orders holding pre-order lines.
type Type string

const (
	TypeReadyStock Type = "ready_stock"
	TypePreOrder   Type = "pre_order"
)

// ShippingMethod selects the delivery service.
type ShippingMethod string

const (
	ShippingStandard ShippingMethod = "standard"
	ShippingExpress  ShippingMethod = "express"
)

// Valid reports whether m is a known shipping method.
func (m ShippingMethod) Valid() bool {
	return m == ShippingStandard || m == ShippingExpress
}

// Order is a priced, persisted checkout awaiting or holding payment.
type Order struct {
	ID     string
	UserID string
	Lines  []pricing.Line

	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingFee    decimal.Decimal
	Total          decimal.Decimal
	PayNowTotal    decimal.Decimal
	PayLaterTotal  decimal.Decimal
	PaidAmount     decimal.Decimal

	PaymentMethod         string
	PaymentStatus         PaymentStatus
	PaymentCode           string
	ExternalTransactionID string
	AppliedWebhookIDs     []string

	ShippingMethod  ShippingMethod
	ShippingAddress customer.Address
	Note            string

	Type   Type
	Status Status

	CreatedAt time.Time
	UpdatedAt time.Time
	PaidAt    *time.Time
}

// Credit applies an inbound transfer of amount. It returns ErrNoChange when
// the notification or the bank transaction was already applied, and
// ErrCancelled when the order no longer accepts money. Overpayment is
// credited as is.
func (o *Order) Credit(amount decimal.Decimal, txID, notificationID string, now time.Time) error {
	if !amount.IsPositive() {
		return apperr.New(apperr.ErrInvalidInput, "amount must be positive")
	}
	if notificationID != "" && slices.Contains(o.AppliedWebhookIDs, notificationID) {
		return ErrNoChange
	}
	if txID != "" && txID == o.ExternalTransactionID {
		return ErrNoChange
	}
	if o.Status == StatusCancelled {
		return ErrCancelled
	}

	o.PaidAmount = o.PaidAmount.Add(amount)
	if o.PaidAmount.GreaterThanOrEqual(o.PayNowTotal) {
		o.markPaid(now)
	} else {
		o.PaymentStatus = PaymentPartial
	}

	if txID != "" {
		o.ExternalTransactionID = txID
	}
	if notificationID != "" {
		o.AppliedWebhookIDs = append(o.AppliedWebhookIDs, notificationID)
	}
	o.UpdatedAt = now
	return nil
}

func (o *Order) markPaid(now time.Time) {
	o.PaymentStatus = PaymentPaid
	if o.PaidAt == nil {
		paidAt := now
		o.PaidAt = &paidAt
	}
	if o.Status == StatusPending {
		o.Status = StatusConfirmed
	}
}

// Cancel moves the order to cancelled. Orders that were shipped, finished
// or received any money cannot be cancelled.
func (o *Order) Cancel(now time.Time) error {
	switch {
	case o.Status == StatusCancelled:
		return apperr.New(apperr.ErrInvalidState, "Order already cancelled")
	case o.Status == StatusShipped || o.Status == StatusDelivered || o.Status == StatusReturned:
		return apperr.New(apperr.ErrInvalidState, "Order cannot be cancelled at this stage")
	case o.PaidAmount.IsPositive():
		return apperr.New(apperr.ErrInvalidState, "Order with received payment cannot be cancelled")
	}
	o.Status = StatusCancelled
	o.PaymentStatus = PaymentFailed
	o.UpdatedAt = now
	return nil
}

// InvoiceSource snapshots the order for invoice derivation.
func (o *Order) InvoiceSource() invoice.Source {
	lines := make([]invoice.Line, 0, len(o.Lines))
	for _, l := range o.Lines {
		lines = append(lines, invoice.Line{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: l.UnitPrice,
			LineTotal: l.LineTotal,
		})
	}
	return invoice.Source{
		OrderID:     o.ID,
		UserID:      o.UserID,
		PaymentCode: o.PaymentCode,
		Lines:       lines,
		Subtotal:    o.Subtotal,
		Discount:    o.DiscountAmount,
		Shipping:    o.ShippingFee,
		Total:       o.Total,
		PayNowTotal: o.PayNowTotal,
		PaidAmount:  o.PaidAmount,
		Cancelled:   o.Status == StatusCancelled,
	}
}

// Aggregate is an order together with its invoice. The two are always
// persisted together.
type Aggregate struct {
	Order   *Order
	Invoice *invoice.Invoice
}

// SyncInvoice brings the invoice in line with the order, issuing it first
// when the order has none yet.
func (a *Aggregate) SyncInvoice(currency, txRef string, now time.Time) {
	src := a.Order.InvoiceSource()
	if a.Invoice == nil {
		a.Invoice = invoice.New(src, currency, now)
	}
	a.Invoice.Sync(src, txRef, now)
}

// Filter narrows an order listing.
type Filter struct {
	UserID        string
	Status        Status
	PaymentStatus PaymentStatus
	Page          paging.Request
}

// Repository defines persistence operations for orders.
type Repository interface {
	// Create stores a new order. It returns ErrDuplicatePaymentCode when
	// the payment code is taken.
	Create(ctx context.Context, o *Order) error
	// Delete removes an order that never got an invoice.
	Delete(ctx context.Context, id string) error
	GetByID(ctx context.Context, id string) (*Order, error)
	GetByPaymentCode(ctx context.Context, code string) (*Order, error)
	List(ctx context.Context, f Filter) ([]Order, int, error)
	// Mutate runs fn against a freshly loaded aggregate as one atomic
	// read-modify-write of the order and its invoice. A nil invoice set by
	// fn is created. If fn returns an error nothing is written and Mutate
	// returns the loaded aggregate with that error.
	Mutate(ctx context.Context, id string, fn func(a *Aggregate) error) (*Aggregate, error)
}
