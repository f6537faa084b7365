package order

import (
	"testing"
	"time"

	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/invoice"
)

var testNow = time.Date(2025, 3, 8, 10, 0, 0, 0, time.UTC)

func money(v int64) decimal.Decimal { return decimal.NewFromInt(v) }

func pendingOrder(payNow int64) *Order {
	return &Order{
		ID:            "order-1",
		UserID:        "user-1",
		PaymentCode:   "WDP-250308-0042",
		Subtotal:      money(200000),
		ShippingFee:   money(25000),
		Total:         money(225000),
		PayNowTotal:   money(payNow),
		PayLaterTotal: money(225000 - payNow),
		PaidAmount:    decimal.Zero,
		PaymentStatus: PaymentPending,
		Status:        StatusPending,
		CreatedAt:     testNow,
	}
}

func TestCredit_FullPaymentConfirms(t *testing.T) {
	o := pendingOrder(65000)

	require.NoError(t, o.Credit(money(65000), "tx-1", "evt-1", testNow))
	assert.True(t, money(65000).Equal(o.PaidAmount))
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
	assert.Equal(t, StatusConfirmed, o.Status)
	require.NotNil(t, o.PaidAt)
	assert.Equal(t, testNow, *o.PaidAt)
	assert.Equal(t, "tx-1", o.ExternalTransactionID)
	assert.Equal(t, []string{"evt-1"}, o.AppliedWebhookIDs)
}

func TestCredit_ReplayIsNoChange(t *testing.T) {
	o := pendingOrder(65000)
	require.NoError(t, o.Credit(money(65000), "tx-1", "evt-1", testNow))

	tests := []struct {
		name  string
		tx    string
		event string
	}{
		{name: "same event", tx: "tx-other", event: "evt-1"},
		{name: "same transaction new event", tx: "tx-1", event: "evt-2"},
		{name: "same transaction no event", tx: "tx-1", event: ""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := o.Credit(money(65000), tt.tx, tt.event, testNow.Add(time.Hour))
			require.ErrorIs(t, err, ErrNoChange)
			assert.True(t, money(65000).Equal(o.PaidAmount))
			assert.Equal(t, []string{"evt-1"}, o.AppliedWebhookIDs)
		})
	}
}

func TestCredit_PartialTopUpsAndOverpay(t *testing.T) {
	o := pendingOrder(65000)
	paid := decimal.Zero

	steps := []struct {
		amount int64
		want   PaymentStatus
		status Status
	}{
		{amount: 20000, want: PaymentPartial, status: StatusPending},
		{amount: 20000, want: PaymentPartial, status: StatusPending},
		{amount: 25000, want: PaymentPaid, status: StatusConfirmed},
		{amount: 10000, want: PaymentPaid, status: StatusConfirmed},
	}
	var firstPaidAt time.Time
	for i, step := range steps {
		at := testNow.Add(time.Duration(i) * time.Minute)
		require.NoError(t, o.Credit(money(step.amount), "", "", at))

		assert.True(t, o.PaidAmount.GreaterThan(paid), "paidAmount must grow")
		paid = o.PaidAmount
		assert.Equal(t, step.want, o.PaymentStatus)
		assert.Equal(t, step.status, o.Status)
		if o.PaidAt != nil && firstPaidAt.IsZero() {
			firstPaidAt = *o.PaidAt
		}
	}
	assert.True(t, money(75000).Equal(o.PaidAmount))
	assert.Equal(t, testNow.Add(2*time.Minute), firstPaidAt)
	assert.Equal(t, firstPaidAt, *o.PaidAt)
}

func TestCredit_DoesNotMoveProcessingBack(t *testing.T) {
	o := pendingOrder(65000)
	o.Status = StatusProcessing

	require.NoError(t, o.Credit(money(65000), "tx-1", "", testNow))
	assert.Equal(t, StatusProcessing, o.Status)
	assert.Equal(t, PaymentPaid, o.PaymentStatus)
}

func TestCredit_Rejections(t *testing.T) {
	o := pendingOrder(65000)
	require.ErrorIs(t, o.Credit(decimal.Zero, "tx", "", testNow), apperr.ErrInvalidInput)
	require.ErrorIs(t, o.Credit(money(-5), "tx", "", testNow), apperr.ErrInvalidInput)

	require.NoError(t, o.Cancel(testNow))
	err := o.Credit(money(65000), "tx-1", "evt-1", testNow)
	require.ErrorIs(t, err, ErrCancelled)
	require.ErrorIs(t, err, apperr.ErrInvalidState)
	assert.True(t, o.PaidAmount.IsZero())
	assert.Empty(t, o.AppliedWebhookIDs)
}

func TestCancel(t *testing.T) {
	tests := []struct {
		name    string
		prepare func(o *Order)
		wantErr bool
	}{
		{name: "pending", prepare: func(*Order) {}},
		{name: "confirmed unpaid", prepare: func(o *Order) { o.Status = StatusConfirmed }},
		{name: "already cancelled", prepare: func(o *Order) { o.Status = StatusCancelled }, wantErr: true},
		{name: "shipped", prepare: func(o *Order) { o.Status = StatusShipped }, wantErr: true},
		{name: "delivered", prepare: func(o *Order) { o.Status = StatusDelivered }, wantErr: true},
		{name: "returned", prepare: func(o *Order) { o.Status = StatusReturned }, wantErr: true},
		{name: "partially paid", prepare: func(o *Order) { o.PaidAmount = money(1) }, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			o := pendingOrder(65000)
			tt.prepare(o)
			err := o.Cancel(testNow)
			if tt.wantErr {
				require.ErrorIs(t, err, apperr.ErrInvalidState)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, StatusCancelled, o.Status)
			assert.Equal(t, PaymentFailed, o.PaymentStatus)
		})
	}
}

func TestAggregate_SyncInvoiceIssuesLazily(t *testing.T) {
	a := &Aggregate{Order: pendingOrder(65000)}

	require.NoError(t, a.Order.Credit(money(30000), "tx-1", "", testNow))
	a.SyncInvoice("", "tx-1", testNow)

	require.NotNil(t, a.Invoice)
	assert.Equal(t, "order-1", a.Invoice.OrderID)
	assert.Equal(t, "INV-250308-0042", a.Invoice.Code)
	assert.Equal(t, invoice.StatusPartial, a.Invoice.Status)
	assert.True(t, money(35000).Equal(a.Invoice.AmountDue))
	assert.Equal(t, []string{"tx-1"}, a.Invoice.PaymentRefs)

	id := a.Invoice.ID
	require.NoError(t, a.Order.Credit(money(35000), "tx-2", "", testNow))
	a.SyncInvoice("", "tx-2", testNow)
	assert.Equal(t, id, a.Invoice.ID)
	assert.Equal(t, invoice.StatusPaid, a.Invoice.Status)
}

func TestStatusHelpers(t *testing.T) {
	assert.True(t, StatusDelivered.Terminal())
	assert.False(t, StatusShipped.Terminal())
	assert.False(t, Status("lost").Valid())
	assert.True(t, PaymentPartial.Valid())
	assert.False(t, ShippingMethod("drone").Valid())
}
