package pricing

import (
	"context"
	"testing"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/catalog"
)

// --- Mock implementations ---

type mockCatalog struct {
	byID   map[string]*catalog.Product
	getErr error
}

func (m *mockCatalog) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	if m.getErr != nil {
		return nil, m.getErr
	}
	p, ok := m.byID[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	return p, nil
}

// --- Helpers ---

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func price(v int64) decimal.NullDecimal {
	return decimal.NullDecimal{Decimal: decimal.NewFromInt(v), Valid: true}
}

func intPtr(v int) *int { return &v }

func readyProduct(id string, unitPrice int64, stock int) catalog.Product {
	return catalog.Product{
		ID:        id,
		Name:      "Product " + id,
		Type:      "figure",
		Status:    catalog.StatusActive,
		BasePrice: price(unitPrice),
		Variants:  []catalog.Variant{{ID: id + "-v1", SKU: id + "-SKU", Stock: stock}},
	}
}

func preOrderProduct(id string, unitPrice int64, deposit *int) catalog.Product {
	p := readyProduct(id, unitPrice, 0)
	p.Status = catalog.StatusOutOfStock
	p.PreOrder = catalog.PreOrder{Enabled: true, DepositPercent: deposit}
	return p
}

func newEngine(products ...catalog.Product) *Engine {
	byID := make(map[string]*catalog.Product, len(products))
	for i := range products {
		byID[products[i].ID] = &products[i]
	}
	return NewEngine(&mockCatalog{byID: byID})
}

func assertMoney(t *testing.T, want int64, got decimal.Decimal, field string) {
	t.Helper()
	assert.Truef(t, money(want).Equal(got), "%s: want %d, got %s", field, want, got)
}

// --- Tests ---

func TestQuote_ReadyStockFullPayment(t *testing.T) {
	e := newEngine(readyProduct("P1", 100000, 10))

	q, err := e.Quote(context.Background(), []CartItem{{ProductID: "P1", Quantity: 2}}, money(25000), decimal.Zero)
	require.NoError(t, err)

	require.Len(t, q.Lines, 1)
	assert.Equal(t, 100, q.Lines[0].DepositPercent)
	assert.False(t, q.Lines[0].PreOrder)
	assertMoney(t, 200000, q.Subtotal, "subtotal")
	assertMoney(t, 225000, q.Total, "total")
	assertMoney(t, 225000, q.PayNow, "payNow")
	assertMoney(t, 0, q.PayLater, "payLater")
	assert.False(t, q.HasPreOrder())
}

func TestQuote_PreOrderDeposit(t *testing.T) {
	e := newEngine(preOrderProduct("P1", 100000, intPtr(20)))

	q, err := e.Quote(context.Background(), []CartItem{{ProductID: "P1", Quantity: 2}}, money(25000), decimal.Zero)
	require.NoError(t, err)

	line := q.Lines[0]
	assert.True(t, line.PreOrder)
	assert.Equal(t, 20, line.DepositPercent)
	assertMoney(t, 200000, line.LineTotal, "lineTotal")
	assertMoney(t, 40000, line.PayNow, "line payNow")
	assertMoney(t, 160000, line.PayLater, "line payLater")

	assertMoney(t, 225000, q.Total, "total")
	assertMoney(t, 65000, q.PayNow, "payNow")
	assertMoney(t, 160000, q.PayLater, "payLater")
	assert.True(t, q.HasPreOrder())
}

func TestQuote_PreOrderIgnoresStock(t *testing.T) {
	e := newEngine(preOrderProduct("P1", 50000, nil))

	q, err := e.Quote(context.Background(), []CartItem{{ProductID: "P1", Quantity: 500}}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)
	assert.Equal(t, 100, q.Lines[0].DepositPercent)
	assertMoney(t, 25000000, q.PayNow, "payNow")
}

func TestQuote_Errors(t *testing.T) {
	inactive := readyProduct("OFF", 1000, 5)
	inactive.Status = catalog.StatusInactive
	unpriced := readyProduct("NOPRICE", 0, 5)
	unpriced.BasePrice = decimal.NullDecimal{}

	e := newEngine(readyProduct("P1", 1000, 3), inactive, unpriced)

	tests := []struct {
		name     string
		items    []CartItem
		shipping decimal.Decimal
		discount decimal.Decimal
		wantKind error
	}{
		{name: "empty cart", items: nil, wantKind: apperr.ErrInvalidInput},
		{name: "zero quantity", items: []CartItem{{ProductID: "P1", Quantity: 0}}, wantKind: apperr.ErrInvalidInput},
		{name: "missing product id", items: []CartItem{{Quantity: 1}}, wantKind: apperr.ErrInvalidInput},
		{name: "negative shipping", items: []CartItem{{ProductID: "P1", Quantity: 1}}, shipping: money(-1), wantKind: apperr.ErrInvalidInput},
		{name: "negative discount", items: []CartItem{{ProductID: "P1", Quantity: 1}}, discount: money(-1), wantKind: apperr.ErrInvalidInput},
		{name: "discount above order value", items: []CartItem{{ProductID: "P1", Quantity: 1}}, discount: money(5000), wantKind: apperr.ErrInvalidInput},
		{name: "unknown product", items: []CartItem{{ProductID: "NOPE", Quantity: 1}}, wantKind: apperr.ErrNotFound},
		{name: "unknown variant", items: []CartItem{{ProductID: "P1", VariantID: "x", Quantity: 1}}, wantKind: apperr.ErrNotFound},
		{name: "not sellable", items: []CartItem{{ProductID: "OFF", Quantity: 1}}, wantKind: apperr.ErrInvalidState},
		{name: "no price", items: []CartItem{{ProductID: "NOPRICE", Quantity: 1}}, wantKind: apperr.ErrInvalidState},
		{name: "insufficient stock", items: []CartItem{{ProductID: "P1", Quantity: 4}}, wantKind: apperr.ErrInsufficientStock},
		{
			name: "one bad line aborts quote",
			items: []CartItem{
				{ProductID: "P1", Quantity: 1},
				{ProductID: "P1", VariantID: "P1-v1", Quantity: 9},
			},
			wantKind: apperr.ErrInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := e.Quote(context.Background(), tt.items, tt.shipping, tt.discount)
			require.ErrorIs(t, err, tt.wantKind)
			assert.Nil(t, q)
			assert.NotEmpty(t, apperr.Message(err))
		})
	}
}

func TestQuote_CatalogFailure(t *testing.T) {
	e := NewEngine(&mockCatalog{getErr: errors.New("connection reset")})

	_, err := e.Quote(context.Background(), []CartItem{{ProductID: "P1", Quantity: 1}}, decimal.Zero, decimal.Zero)
	require.Error(t, err)
	assert.NotErrorIs(t, err, apperr.ErrNotFound)
	assert.Contains(t, err.Error(), "get product P1")
}

func TestQuote_VariantPriceAndStock(t *testing.T) {
	p := readyProduct("P1", 1000, 1)
	p.SalePrice = price(900)
	p.Variants = append(p.Variants, catalog.Variant{ID: "big", Price: price(1500), Stock: 4})
	e := newEngine(p)

	q, err := e.Quote(context.Background(), []CartItem{
		{ProductID: "P1", VariantID: "big", Quantity: 2},
		{ProductID: "P1", Quantity: 5},
	}, decimal.Zero, decimal.Zero)
	require.NoError(t, err)

	assertMoney(t, 1500, q.Lines[0].UnitPrice, "variant price")
	assertMoney(t, 900, q.Lines[1].UnitPrice, "sale price")
	assertMoney(t, 7500, q.Subtotal, "subtotal")
}

func TestQuote_TotalsBalance(t *testing.T) {
	e := newEngine(
		preOrderProduct("PRE", 99999, intPtr(33)),
		readyProduct("RDY", 12345, 100),
	)
	items := []CartItem{{ProductID: "PRE", Quantity: 3}, {ProductID: "RDY", Quantity: 1}}

	tests := []struct {
		name     string
		shipping int64
		discount int64
	}{
		{name: "no adjustments", shipping: 0, discount: 0},
		{name: "shipping only", shipping: 30000, discount: 0},
		{name: "discount below deposit", shipping: 0, discount: 50000},
		{name: "discount above deposit", shipping: 15000, discount: 200000},
		{name: "discount equals value", shipping: 0, discount: 312342},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			q, err := e.Quote(context.Background(), items, money(tt.shipping), money(tt.discount))
			require.NoError(t, err)

			for _, l := range q.Lines {
				assert.True(t, l.PayNow.Add(l.PayLater).Equal(l.LineTotal))
				assert.GreaterOrEqual(t, l.DepositPercent, 0)
				assert.LessOrEqual(t, l.DepositPercent, 100)
			}
			assert.True(t, q.PayNow.Add(q.PayLater).Equal(q.Total), "payNow %s + payLater %s != total %s", q.PayNow, q.PayLater, q.Total)
			assert.False(t, q.PayNow.IsNegative())
			assert.False(t, q.PayLater.IsNegative())
		})
	}
}

func TestSplitLine_RoundsHalfUp(t *testing.T) {
	tests := []struct {
		name      string
		unit      int64
		qty       int
		percent   int
		wantNow   int64
		wantLater int64
	}{
		{name: "exact", unit: 100000, qty: 2, percent: 20, wantNow: 40000, wantLater: 160000},
		{name: "half rounds up", unit: 5, qty: 1, percent: 50, wantNow: 3, wantLater: 2},
		{name: "below half rounds down", unit: 7, qty: 1, percent: 33, wantNow: 2, wantLater: 5},
		{name: "zero deposit", unit: 1000, qty: 3, percent: 0, wantNow: 0, wantLater: 3000},
		{name: "full", unit: 1000, qty: 3, percent: 100, wantNow: 3000, wantLater: 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			total, now, later := SplitLine(money(tt.unit), tt.qty, tt.percent)
			assertMoney(t, tt.wantNow, now, "payNow")
			assertMoney(t, tt.wantLater, later, "payLater")
			assert.True(t, now.Add(later).Equal(total))
		})
	}
}
