// Package invoice keeps a derived invoice view consistent with an order's
// payment state.
package invoice

import (
	"context"
	"slices"
	"strings"
	"time"

	"github.com/go-faster/errors"
	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"github.com/xenking/transfer-checkout/internal/domain/paging"
)

var (
	// ErrNotFound is returned when an invoice does not exist.
	ErrNotFound = errors.New("invoice not found")
	// ErrAlreadyExists is returned when an order already has an invoice.
	ErrAlreadyExists = errors.New("invoice already exists for order")
)

// DefaultCurrency is used when no currency is configured.
const DefaultCurrency = "VND"

const codePrefix = "INV"

// Status is the settlement state of an invoice.
type Status string

const (
	StatusIssued  Status = "issued"
	StatusPartial Status = "partial"
	StatusPaid    Status = "paid"
	StatusVoid    Status = "void"
)

// Line is an order line copied onto the invoice at issuance.
type Line struct {
	ProductID string          `json:"productId"`
	VariantID string          `json:"variantId,omitempty"`
	Name      string          `json:"name"`
	Quantity  int             `json:"quantity"`
	UnitPrice decimal.Decimal `json:"unitPrice"`
	LineTotal decimal.Decimal `json:"lineTotal"`
}

// Source is the order snapshot an invoice is derived from.
type Source struct {
	OrderID     string
	UserID      string
	PaymentCode string
	Lines       []Line
	Subtotal    decimal.Decimal
	Discount    decimal.Decimal
	Shipping    decimal.Decimal
	Total       decimal.Decimal
	PayNowTotal decimal.Decimal
	PaidAmount  decimal.Decimal
	Cancelled   bool
}

// Invoice is the billing view of exactly one order.
type Invoice struct {
	ID             string
	Code           string
	OrderID        string
	UserID         string
	Lines          []Line
	Subtotal       decimal.Decimal
	DiscountAmount decimal.Decimal
	ShippingFee    decimal.Decimal
	Total          decimal.Decimal
	PayNowTotal    decimal.Decimal
	PaidAmount     decimal.Decimal
	AmountDue      decimal.Decimal
	Currency       string
	Status         Status
	PaymentRefs    []string
	IssuedAt       time.Time
	PaidAt         *time.Time
	UpdatedAt      time.Time
}

// CodeFor derives the invoice code from an order payment code by swapping
// its prefix, so WDP-250308-0042 becomes INV-250308-0042.
func CodeFor(paymentCode string) string {
	if _, rest, ok := strings.Cut(paymentCode, "-"); ok && rest != "" {
		return codePrefix + "-" + rest
	}
	return codePrefix + "-" + paymentCode
}

// New issues an invoice for the given order snapshot.
func New(src Source, currency string, now time.Time) *Invoice {
	if currency == "" {
		currency = DefaultCurrency
	}
	inv := &Invoice{
		ID:             uuid.New().String(),
		Code:           CodeFor(src.PaymentCode),
		OrderID:        src.OrderID,
		UserID:         src.UserID,
		Lines:          slices.Clone(src.Lines),
		Subtotal:       src.Subtotal,
		DiscountAmount: src.Discount,
		ShippingFee:    src.Shipping,
		Total:          src.Total,
		Currency:       strings.ToUpper(currency),
		Status:         StatusIssued,
		IssuedAt:       now,
	}
	inv.Sync(src, "", now)
	return inv
}

// Sync recomputes the payment state from the order snapshot. It reads
// nothing but the snapshot and the invoice itself. A non-empty txRef is
// recorded once in PaymentRefs.
func (inv *Invoice) Sync(src Source, txRef string, now time.Time) {
	if txRef != "" && !slices.Contains(inv.PaymentRefs, txRef) {
		inv.PaymentRefs = append(inv.PaymentRefs, txRef)
	}
	inv.PaidAmount = src.PaidAmount
	inv.PayNowTotal = src.PayNowTotal
	inv.UpdatedAt = now

	if src.Cancelled {
		inv.Void(now)
		return
	}

	inv.AmountDue = decimal.Max(decimal.Zero, src.PayNowTotal.Sub(src.PaidAmount))
	switch {
	case inv.AmountDue.IsZero():
		inv.Status = StatusPaid
		if inv.PaidAt == nil {
			paidAt := now
			inv.PaidAt = &paidAt
		}
	case src.PaidAmount.IsPositive():
		inv.Status = StatusPartial
	default:
		inv.Status = StatusIssued
	}
}

// Void marks the invoice as void. Nothing is due on a void invoice.
func (inv *Invoice) Void(now time.Time) {
	inv.Status = StatusVoid
	inv.AmountDue = decimal.Zero
	inv.UpdatedAt = now
}

// Filter narrows an invoice listing.
type Filter struct {
	UserID  string
	OrderID string
	Status  Status
	Page    paging.Request
}

// Repository defines persistence operations for invoices.
type Repository interface {
	// Create stores a new invoice; ErrAlreadyExists when the order
	// already has one.
	Create(ctx context.Context, inv *Invoice) error
	GetByID(ctx context.Context, id string) (*Invoice, error)
	GetByOrderID(ctx context.Context, orderID string) (*Invoice, error)
	List(ctx context.Context, f Filter) ([]Invoice, int, error)
}
