package catalog

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
)

// ErrNotFound is returned when a requested product does not exist.
var ErrNotFound = errors.New("product not found")

// Status is the merchandising state of a product.
type Status string

const (
	StatusDraft      Status = "draft"
	StatusActive     Status = "active"
	StatusInactive   Status = "inactive"
	StatusOutOfStock Status = "out_of_stock"
)

// Product is a catalog item as seen by checkout: prices, per-variant stock
// and pre-order configuration.
type Product struct {
	ID        string
	Name      string
	Type      string
	Status    Status
	BasePrice decimal.NullDecimal
	SalePrice decimal.NullDecimal
	PreOrder  PreOrder
	Variants  []Variant
}

// Variant is a purchasable variation (colour, size) of a product.
type Variant struct {
	ID    string
	SKU   string
	Price decimal.NullDecimal
	Stock int
}

// PreOrder configures selling a product before stock is physically available.
type PreOrder struct {
	Enabled bool
	// DepositPercent is the share of the line collected at order time.
	// Nil means the full amount.
	DepositPercent *int
}

// Sellable reports whether the product may be put into an order. Pre-order
// products stay sellable while marked out of stock.
func (p *Product) Sellable() bool {
	switch p.Status {
	case StatusActive:
		return true
	case StatusOutOfStock:
		return p.PreOrder.Enabled
	default:
		return false
	}
}

// Variant returns the variant with the given id.
func (p *Product) Variant(id string) (*Variant, bool) {
	for i := range p.Variants {
		if p.Variants[i].ID == id {
			return &p.Variants[i], true
		}
	}
	return nil, false
}

// UnitPrice resolves the price for the given variant (nil for the product
// itself): variant price, then sale price, then base price.
func (p *Product) UnitPrice(v *Variant) (decimal.Decimal, bool) {
	if v != nil && v.Price.Valid {
		return v.Price.Decimal, true
	}
	if p.SalePrice.Valid {
		return p.SalePrice.Decimal, true
	}
	if p.BasePrice.Valid {
		return p.BasePrice.Decimal, true
	}
	return decimal.Zero, false
}

// Available returns the stock that can satisfy a line for the given variant,
// or the sum over all variants when v is nil.
func (p *Product) Available(v *Variant) int {
	if v != nil {
		return v.Stock
	}
	total := 0
	for _, pv := range p.Variants {
		total += pv.Stock
	}
	return total
}

// DepositPercent returns the share of a line payable at order time, clamped
// to [0, 100]. Ready-stock products are always paid in full.
func (p *Product) DepositPercent() int {
	if !p.PreOrder.Enabled || p.PreOrder.DepositPercent == nil {
		return 100
	}
	return min(max(*p.PreOrder.DepositPercent, 0), 100)
}

// Repository defines read operations for the product catalog.
type Repository interface {
	GetByID(ctx context.Context, id string) (*Product, error)
}
