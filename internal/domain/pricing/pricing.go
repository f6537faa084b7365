// Package pricing turns a cart into priced lines with a deposit/balance split.
package pricing

import (
	"context"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"golang.org/x/sync/errgroup"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/catalog"
)

// MoneyPlaces is the number of decimal places amounts are rounded to.
// The settlement currency has no minor unit.
const MoneyPlaces = 0

// maxParallelLookups bounds concurrent catalog lookups for one quote.
const maxParallelLookups = 8

var hundred = decimal.NewFromInt(100)

// CartItem is one requested line of a cart.
type CartItem struct {
	ProductID string
	VariantID string
	Quantity  int
}

// Line is a cart item priced against the catalog.
type Line struct {
	ProductID      string          `json:"productId"`
	VariantID      string          `json:"variantId,omitempty"`
	Name           string          `json:"name"`
	Type           string          `json:"type,omitempty"`
	Quantity       int             `json:"quantity"`
	UnitPrice      decimal.Decimal `json:"unitPrice"`
	LineTotal      decimal.Decimal `json:"lineTotal"`
	DepositPercent int             `json:"depositPercent"`
	PayNow         decimal.Decimal `json:"payNow"`
	PayLater       decimal.Decimal `json:"payLater"`
	PreOrder       bool            `json:"preOrder"`
}

// Quote is the priced breakdown of a cart.
type Quote struct {
	Lines          []Line
	Subtotal       decimal.Decimal
	ShippingFee    decimal.Decimal
	DiscountAmount decimal.Decimal
	Total          decimal.Decimal
	// PayNow is the amount due at order time after discount and shipping
	// were applied against the deposit bucket.
	PayNow   decimal.Decimal
	PayLater decimal.Decimal
}

// HasPreOrder reports whether any line is a pre-order.
func (q *Quote) HasPreOrder() bool {
	for _, l := range q.Lines {
		if l.PreOrder {
			return true
		}
	}
	return false
}

// SplitLine computes the line total and its deposit/balance split. The
// deposit is rounded half-up; the balance absorbs the remainder so the two
// always sum to the line total.
func SplitLine(unitPrice decimal.Decimal, quantity, depositPercent int) (lineTotal, payNow, payLater decimal.Decimal) {
	lineTotal = unitPrice.Mul(decimal.NewFromInt(int64(quantity)))
	payNow = lineTotal.Mul(decimal.NewFromInt(int64(depositPercent))).Div(hundred).Round(MoneyPlaces)
	payLater = lineTotal.Sub(payNow)
	return lineTotal, payNow, payLater
}

// Engine prices carts against the catalog.
type Engine struct {
	products catalog.Repository
}

// NewEngine creates a pricing Engine.
func NewEngine(products catalog.Repository) *Engine {
	return &Engine{products: products}
}

// Quote prices every cart item and aggregates the order totals. Any line
// failing resolution aborts the whole quote.
func (e *Engine) Quote(ctx context.Context, items []CartItem, shippingFee, discountAmount decimal.Decimal) (*Quote, error) {
	if len(items) == 0 {
		return nil, apperr.New(apperr.ErrInvalidInput, "items required")
	}
	if shippingFee.IsNegative() {
		return nil, apperr.New(apperr.ErrInvalidInput, "shippingFee must not be negative")
	}
	if discountAmount.IsNegative() {
		return nil, apperr.New(apperr.ErrInvalidInput, "discountAmount must not be negative")
	}
	for _, item := range items {
		if item.ProductID == "" {
			return nil, apperr.New(apperr.ErrInvalidInput, "productId is required")
		}
		if item.Quantity < 1 {
			return nil, apperr.Newf(apperr.ErrInvalidInput, "quantity must be integer >= 1 for product %s", item.ProductID)
		}
	}

	products, err := e.fetch(ctx, items)
	if err != nil {
		return nil, err
	}

	q := &Quote{
		Lines:          make([]Line, 0, len(items)),
		ShippingFee:    shippingFee,
		DiscountAmount: discountAmount,
	}
	payNowTotal := decimal.Zero
	for _, item := range items {
		line, err := priceLine(products[item.ProductID], item)
		if err != nil {
			return nil, err
		}
		q.Lines = append(q.Lines, line)
		q.Subtotal = q.Subtotal.Add(line.LineTotal)
		payNowTotal = payNowTotal.Add(line.PayNow)
	}

	q.Total = q.Subtotal.Sub(discountAmount).Add(shippingFee)
	if q.Total.IsNegative() {
		return nil, apperr.New(apperr.ErrInvalidInput, "discountAmount exceeds order value")
	}
	// Discount and shipping land on the deposit bucket first so a promo
	// reduces what is due today.
	q.PayNow = decimal.Max(decimal.Zero, payNowTotal.Sub(discountAmount).Add(shippingFee))
	q.PayLater = decimal.Max(decimal.Zero, q.Total.Sub(q.PayNow))
	return q, nil
}

// fetch resolves every distinct product of the cart concurrently.
func (e *Engine) fetch(ctx context.Context, items []CartItem) (map[string]*catalog.Product, error) {
	ids := make([]string, 0, len(items))
	seen := make(map[string]struct{}, len(items))
	for _, item := range items {
		if _, ok := seen[item.ProductID]; ok {
			continue
		}
		seen[item.ProductID] = struct{}{}
		ids = append(ids, item.ProductID)
	}

	fetched := make([]*catalog.Product, len(ids))
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(maxParallelLookups)
	for i, id := range ids {
		g.Go(func() error {
			p, err := e.products.GetByID(gctx, id)
			if err != nil {
				if errors.Is(err, catalog.ErrNotFound) {
					return apperr.Newf(apperr.ErrNotFound, "product %s not found", id)
				}
				return errors.Wrapf(err, "get product %s", id)
			}
			fetched[i] = p
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make(map[string]*catalog.Product, len(ids))
	for i, id := range ids {
		out[id] = fetched[i]
	}
	return out, nil
}

func priceLine(p *catalog.Product, item CartItem) (Line, error) {
	var variant *catalog.Variant
	if item.VariantID != "" {
		v, ok := p.Variant(item.VariantID)
		if !ok {
			return Line{}, apperr.Newf(apperr.ErrNotFound, "variant %s of product %s not found", item.VariantID, p.ID)
		}
		variant = v
	}

	if !p.Sellable() {
		return Line{}, apperr.Newf(apperr.ErrInvalidState, "product %s is not available for sale", p.ID)
	}

	unitPrice, ok := p.UnitPrice(variant)
	if !ok {
		return Line{}, apperr.Newf(apperr.ErrInvalidState, "product %s price is missing", p.ID)
	}
	if unitPrice.IsNegative() {
		return Line{}, apperr.Newf(apperr.ErrInvalidState, "product %s has a negative price", p.ID)
	}

	// Pre-order lines are sold without stock on hand.
	if !p.PreOrder.Enabled {
		if available := p.Available(variant); available < item.Quantity {
			return Line{}, apperr.Newf(apperr.ErrInsufficientStock,
				"insufficient stock for product %s: requested %d, available %d", p.ID, item.Quantity, available)
		}
	}

	deposit := p.DepositPercent()
	lineTotal, payNow, payLater := SplitLine(unitPrice, item.Quantity, deposit)
	return Line{
		ProductID:      p.ID,
		VariantID:      item.VariantID,
		Name:           p.Name,
		Type:           p.Type,
		Quantity:       item.Quantity,
		UnitPrice:      unitPrice,
		LineTotal:      lineTotal,
		DepositPercent: deposit,
		PayNow:         payNow,
		PayLater:       payLater,
		PreOrder:       p.PreOrder.Enabled,
	}, nil
}
