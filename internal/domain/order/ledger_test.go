package order

import (
	"context"
	"fmt"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-faster/errors"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/auth"
	"github.com/xenking/transfer-checkout/internal/domain/customer"
	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/paging"
	"github.com/xenking/transfer-checkout/internal/domain/pricing"
)

// --- Mock implementations ---

type mockQuoter struct {
	quote *pricing.Quote
	err   error
}

func (m *mockQuoter) Quote(context.Context, []pricing.CartItem, decimal.Decimal, decimal.Decimal) (*pricing.Quote, error) {
	return m.quote, m.err
}

type sequenceCodes struct {
	codes []string
	calls int
}

func (s *sequenceCodes) Generate() string {
	code := s.codes[min(s.calls, len(s.codes)-1)]
	s.calls++
	return code
}

type mockIssuer struct {
	err    error
	issued []invoice.Source
}

func (m *mockIssuer) EnsureInvoice(_ context.Context, src invoice.Source) (*invoice.Invoice, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.issued = append(m.issued, src)
	return invoice.New(src, "", testNow), nil
}

func (m *mockIssuer) Currency() string { return invoice.DefaultCurrency }

type mockUsers struct {
	byID map[string]*customer.User
	err  error
}

func (m *mockUsers) GetByID(_ context.Context, id string) (*customer.User, error) {
	if m.err != nil {
		return nil, m.err
	}
	u, ok := m.byID[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	return u, nil
}

type mockOrders struct {
	mu        sync.Mutex
	byID      map[string]*Order
	invoices  map[string]*invoice.Invoice
	codes     map[string]bool
	deleted   []string
	createErr error
	lastList  Filter
}

func newMockOrders() *mockOrders {
	return &mockOrders{
		byID:     make(map[string]*Order),
		invoices: make(map[string]*invoice.Invoice),
		codes:    make(map[string]bool),
	}
}

func (m *mockOrders) Create(_ context.Context, o *Order) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.createErr != nil {
		return m.createErr
	}
	if m.codes[o.PaymentCode] {
		return ErrDuplicatePaymentCode
	}
	m.codes[o.PaymentCode] = true
	cp := *o
	m.byID[o.ID] = &cp
	return nil
}

func (m *mockOrders) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.byID, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockOrders) GetByID(_ context.Context, id string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	cp := *o
	return &cp, nil
}

func (m *mockOrders) GetByPaymentCode(_ context.Context, code string) (*Order, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, o := range m.byID {
		if o.PaymentCode == code {
			cp := *o
			return &cp, nil
		}
	}
	return nil, ErrNotFound
}

func (m *mockOrders) List(_ context.Context, f Filter) ([]Order, int, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.lastList = f
	var out []Order
	for _, o := range m.byID {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		out = append(out, *o)
	}
	return out, len(out), nil
}

func (m *mockOrders) Mutate(_ context.Context, id string, fn func(a *Aggregate) error) (*Aggregate, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	o, ok := m.byID[id]
	if !ok {
		return nil, ErrNotFound
	}
	oc := *o
	a := &Aggregate{Order: &oc}
	if inv, ok := m.invoices[id]; ok {
		ic := *inv
		a.Invoice = &ic
	}
	if err := fn(a); err != nil {
		return a, err
	}
	m.byID[id] = a.Order
	if a.Invoice != nil {
		m.invoices[id] = a.Invoice
	}
	return a, nil
}

// --- Helpers ---

var (
	customerActor = auth.Actor{ID: "user-1", Role: auth.RoleCustomer}
	strangerActor = auth.Actor{ID: "user-2", Role: auth.RoleCustomer}
	staffActor    = auth.Actor{ID: "ops-1", Role: "operations"}
)

func validAddress() *customer.Address {
	return &customer.Address{
		FullName: " Nguyen Van A ",
		Phone:    "0900000000",
		Line1:    "1 Le Loi",
		District: "District 1",
		Province: "Ho Chi Minh",
	}
}

func readyQuote() *pricing.Quote {
	return &pricing.Quote{
		Lines: []pricing.Line{{
			ProductID:      "P1",
			Name:           "Figure",
			Quantity:       2,
			UnitPrice:      money(100000),
			LineTotal:      money(200000),
			DepositPercent: 100,
			PayNow:         money(200000),
			PayLater:       decimal.Zero,
		}},
		Subtotal:       money(200000),
		ShippingFee:    money(25000),
		DiscountAmount: decimal.Zero,
		Total:          money(225000),
		PayNow:         money(225000),
		PayLater:       decimal.Zero,
	}
}

func preOrderQuote() *pricing.Quote {
	q := readyQuote()
	q.Lines[0].PreOrder = true
	q.Lines[0].DepositPercent = 20
	q.Lines[0].PayNow = money(40000)
	q.Lines[0].PayLater = money(160000)
	q.PayNow = money(65000)
	q.PayLater = money(160000)
	return q
}

type fixture struct {
	ledger *Ledger
	orders *mockOrders
	issuer *mockIssuer
	codes  *sequenceCodes
	quoter *mockQuoter
	users  *mockUsers
}

func newFixture() *fixture {
	f := &fixture{
		orders: newMockOrders(),
		issuer: &mockIssuer{},
		codes:  &sequenceCodes{codes: []string{"WDP-250308-0001"}},
		quoter: &mockQuoter{quote: readyQuote()},
		users:  &mockUsers{byID: map[string]*customer.User{}},
	}
	f.ledger = NewLedger(f.quoter, f.codes, f.orders, f.issuer, f.users, 3)
	f.ledger.now = func() time.Time { return testNow }
	return f
}

func (f *fixture) create(t *testing.T) *CreateResult {
	t.Helper()
	res, err := f.ledger.CreateOrder(context.Background(), CreateRequest{
		UserID:          "user-1",
		Items:           []pricing.CartItem{{ProductID: "P1", Quantity: 2}},
		ShippingFee:     money(25000),
		ShippingAddress: validAddress(),
	})
	require.NoError(t, err)
	return res
}

// --- Tests ---

func TestCreateOrder_ReadyStock(t *testing.T) {
	f := newFixture()
	res := f.create(t)

	o := res.Order
	assert.Equal(t, "user-1", o.UserID)
	assert.Equal(t, "WDP-250308-0001", o.PaymentCode)
	assert.Equal(t, PaymentMethodBankTransfer, o.PaymentMethod)
	assert.Equal(t, PaymentPending, o.PaymentStatus)
	assert.Equal(t, StatusPending, o.Status)
	assert.Equal(t, TypeReadyStock, o.Type)
	assert.Equal(t, ShippingStandard, o.ShippingMethod)
	assert.Equal(t, "Nguyen Van A", o.ShippingAddress.FullName)
	assert.Equal(t, customer.DefaultCountry, o.ShippingAddress.Country)
	assert.True(t, money(225000).Equal(o.PayNowTotal))
	assert.True(t, o.PaidAmount.IsZero())
	assert.Equal(t, testNow, o.CreatedAt)

	require.NotNil(t, res.Invoice)
	assert.Equal(t, o.ID, res.Invoice.OrderID)
	require.Len(t, f.issuer.issued, 1)
	_, err := f.orders.GetByID(context.Background(), o.ID)
	require.NoError(t, err)
}

func TestCreateOrder_PreOrder(t *testing.T) {
	f := newFixture()
	f.quoter.quote = preOrderQuote()
	res := f.create(t)

	assert.Equal(t, TypePreOrder, res.Order.Type)
	assert.True(t, money(65000).Equal(res.Order.PayNowTotal))
	assert.True(t, money(160000).Equal(res.Order.PayLaterTotal))
}

func TestCreateOrder_NothingDueIsPaid(t *testing.T) {
	f := newFixture()
	q := readyQuote()
	q.DiscountAmount = money(225000)
	q.Total = decimal.Zero
	q.PayNow = decimal.Zero
	f.quoter.quote = q

	res := f.create(t)
	assert.Equal(t, PaymentPaid, res.Order.PaymentStatus)
	assert.Equal(t, StatusConfirmed, res.Order.Status)
	require.NotNil(t, res.Order.PaidAt)
}

func TestCreateOrder_RetriesDuplicateCode(t *testing.T) {
	f := newFixture()
	f.orders.codes["WDP-250308-0001"] = true
	f.codes.codes = []string{"WDP-250308-0001", "WDP-250308-0001", "WDP-250308-0002"}

	res := f.create(t)
	assert.Equal(t, "WDP-250308-0002", res.Order.PaymentCode)
	assert.Equal(t, 3, f.codes.calls)
}

func TestCreateOrder_CodeAttemptsExhausted(t *testing.T) {
	f := newFixture()
	f.orders.codes["WDP-250308-0001"] = true

	_, err := f.ledger.CreateOrder(context.Background(), CreateRequest{
		UserID:          "user-1",
		Items:           []pricing.CartItem{{ProductID: "P1", Quantity: 1}},
		ShippingAddress: validAddress(),
	})
	require.ErrorContains(t, err, "no unique payment code after 3 attempts")
	assert.Empty(t, f.issuer.issued)
}

func TestCreateOrder_InvoiceFailureDeletesOrder(t *testing.T) {
	f := newFixture()
	f.issuer.err = errors.New("invoice store down")

	_, err := f.ledger.CreateOrder(context.Background(), CreateRequest{
		UserID:          "user-1",
		Items:           []pricing.CartItem{{ProductID: "P1", Quantity: 1}},
		ShippingAddress: validAddress(),
	})
	require.ErrorContains(t, err, "issue invoice")
	require.Len(t, f.orders.deleted, 1)
	assert.Empty(t, f.orders.byID)
}

func TestCreateOrder_AddressFallback(t *testing.T) {
	f := newFixture()
	f.users.byID["user-1"] = &customer.User{ID: "user-1", DefaultAddress: validAddress()}

	res, err := f.ledger.CreateOrder(context.Background(), CreateRequest{
		UserID: "user-1",
		Items:  []pricing.CartItem{{ProductID: "P1", Quantity: 1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "1 Le Loi", res.Order.ShippingAddress.Line1)
}

func TestCreateOrder_Validation(t *testing.T) {
	tests := []struct {
		name     string
		req      CreateRequest
		users    *mockUsers
		quoteErr error
		wantKind error
		wantMsg  string
	}{
		{
			name:     "anonymous",
			req:      CreateRequest{ShippingAddress: validAddress()},
			wantKind: apperr.ErrUnauthorized,
		},
		{
			name:     "unknown shipping method",
			req:      CreateRequest{UserID: "user-1", ShippingMethod: "drone", ShippingAddress: validAddress()},
			wantKind: apperr.ErrInvalidInput,
			wantMsg:  "shippingMethod",
		},
		{
			name:     "note too long",
			req:      CreateRequest{UserID: "user-1", Note: strings.Repeat("x", MaxNoteLength+1), ShippingAddress: validAddress()},
			wantKind: apperr.ErrInvalidInput,
			wantMsg:  "note",
		},
		{
			name:     "no address anywhere",
			req:      CreateRequest{UserID: "user-1"},
			wantKind: apperr.ErrInvalidInput,
			wantMsg:  "fullName, phone, line1, district, province",
		},
		{
			name:     "default address incomplete",
			req:      CreateRequest{UserID: "user-1"},
			users:    &mockUsers{byID: map[string]*customer.User{"user-1": {ID: "user-1", DefaultAddress: &customer.Address{FullName: "A", Phone: "1"}}}},
			wantKind: apperr.ErrInvalidInput,
			wantMsg:  "line1, district, province",
		},
		{
			name:     "quote failure",
			req:      CreateRequest{UserID: "user-1", ShippingAddress: validAddress()},
			quoteErr: apperr.New(apperr.ErrInsufficientStock, "insufficient stock"),
			wantKind: apperr.ErrInsufficientStock,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture()
			if tt.users != nil {
				f.users.byID = tt.users.byID
			}
			f.quoter.err = tt.quoteErr

			_, err := f.ledger.CreateOrder(context.Background(), tt.req)
			require.ErrorIs(t, err, tt.wantKind)
			if tt.wantMsg != "" {
				assert.Contains(t, apperr.Message(err), tt.wantMsg)
			}
			assert.Empty(t, f.orders.byID)
		})
	}
}

func TestCreateOrder_UserLookupFailure(t *testing.T) {
	f := newFixture()
	f.users.err = errors.New("users down")

	_, err := f.ledger.CreateOrder(context.Background(), CreateRequest{UserID: "user-1"})
	require.ErrorContains(t, err, "get user")
}

func TestCancelOrder_VoidsInvoice(t *testing.T) {
	f := newFixture()
	res := f.create(t)
	ctx := context.Background()

	agg, err := f.ledger.CancelOrder(ctx, res.Order.ID, customerActor)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, agg.Order.Status)
	assert.Equal(t, PaymentFailed, agg.Order.PaymentStatus)
	require.NotNil(t, agg.Invoice)
	assert.Equal(t, invoice.StatusVoid, agg.Invoice.Status)
	assert.True(t, agg.Invoice.AmountDue.IsZero())

	stored, err := f.orders.GetByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusCancelled, stored.Status)

	_, err = f.ledger.CancelOrder(ctx, res.Order.ID, customerActor)
	require.ErrorIs(t, err, apperr.ErrInvalidState)
}

func TestCancelOrder_Rejections(t *testing.T) {
	f := newFixture()
	res := f.create(t)
	ctx := context.Background()

	_, err := f.ledger.CancelOrder(ctx, res.Order.ID, strangerActor)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.ledger.CancelOrder(ctx, "missing", staffActor)
	require.ErrorIs(t, err, apperr.ErrNotFound)

	_, err = f.orders.Mutate(ctx, res.Order.ID, func(a *Aggregate) error {
		return a.Order.Credit(money(1000), "tx-1", "", testNow)
	})
	require.NoError(t, err)
	_, err = f.ledger.CancelOrder(ctx, res.Order.ID, staffActor)
	require.ErrorIs(t, err, apperr.ErrInvalidState)

	stored, err := f.orders.GetByID(ctx, res.Order.ID)
	require.NoError(t, err)
	assert.Equal(t, StatusPending, stored.Status)
	assert.Equal(t, PaymentPartial, stored.PaymentStatus)
}

func TestGetOrder(t *testing.T) {
	f := newFixture()
	res := f.create(t)
	ctx := context.Background()

	for _, actor := range []auth.Actor{customerActor, staffActor} {
		o, err := f.ledger.GetOrder(ctx, res.Order.ID, actor)
		require.NoError(t, err)
		assert.Equal(t, res.Order.ID, o.ID)
	}

	_, err := f.ledger.GetOrder(ctx, res.Order.ID, strangerActor)
	require.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = f.ledger.GetOrder(ctx, "missing", customerActor)
	require.ErrorIs(t, err, apperr.ErrNotFound)
}

func TestListOrders_Scoping(t *testing.T) {
	f := newFixture()
	for i := range 3 {
		f.codes.codes = []string{fmt.Sprintf("WDP-250308-%04d", i)}
		f.codes.calls = 0
		f.create(t)
	}
	ctx := context.Background()

	res, err := f.ledger.ListOrders(ctx, strangerActor, Filter{UserID: "user-1"})
	require.NoError(t, err)
	assert.Equal(t, "user-2", f.orders.lastList.UserID)
	assert.Empty(t, res.Orders)

	res, err = f.ledger.ListOrders(ctx, staffActor, Filter{UserID: "user-1", Page: paging.Request{Page: 1, Limit: 2}})
	require.NoError(t, err)
	assert.Equal(t, "user-1", f.orders.lastList.UserID)
	assert.Equal(t, paging.Info{Page: 1, Limit: 2, Total: 3, TotalPages: 2}, res.Pagination)

	_, err = f.ledger.ListOrders(ctx, auth.Actor{}, Filter{})
	require.ErrorIs(t, err, apperr.ErrUnauthorized)

	_, err = f.ledger.ListOrders(ctx, customerActor, Filter{Status: "lost"})
	require.ErrorIs(t, err, apperr.ErrInvalidInput)
}
