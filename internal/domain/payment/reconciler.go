// Package payment reconciles inbound bank-transfer notifications against
// orders.
package payment

import (
	"context"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/metric"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/order"
	"github.com/xenking/transfer-checkout/internal/domain/pricing"
)

const instrumentationName = "github.com/xenking/transfer-checkout/internal/domain/payment"

// Outcome classifies what a notification did to its order.
type Outcome string

const (
	OutcomeApplied   Outcome = "applied"
	OutcomeDuplicate Outcome = "duplicate"
	OutcomeUnmatched Outcome = "unmatched"
	OutcomeCancelled Outcome = "cancelled"
	OutcomeInvalid   Outcome = "invalid"
	OutcomeError     Outcome = "error"
)

// Transfer is a normalised inbound transfer notification.
type Transfer struct {
	PaymentCode    string
	Amount         decimal.Decimal
	TransactionID  string
	NotificationID string
}

// Result is the state of the order after a transfer was reconciled.
type Result struct {
	Order   *order.Order
	Invoice *invoice.Invoice
	// Applied is false when the transfer was a replay.
	Applied bool
}

// Orders is the slice of order persistence the reconciler needs.
type Orders interface {
	GetByPaymentCode(ctx context.Context, code string) (*order.Order, error)
	Mutate(ctx context.Context, id string, fn func(a *order.Aggregate) error) (*order.Aggregate, error)
}

// Reconciler applies inbound transfers to orders idempotently.
type Reconciler struct {
	orders   Orders
	currency string
	now      func() time.Time

	tracer   trace.Tracer
	outcomes metric.Int64Counter
	credited metric.Float64Counter
}

// NewReconciler creates a Reconciler. Invoices that have to be issued
// during reconciliation use currency.
func NewReconciler(orders Orders, currency string, mp metric.MeterProvider, tp trace.TracerProvider) (*Reconciler, error) {
	meter := mp.Meter(instrumentationName)
	outcomes, err := meter.Int64Counter("checkout.payment.notifications",
		metric.WithDescription("Inbound transfer notifications by outcome"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create notifications counter")
	}
	credited, err := meter.Float64Counter("checkout.payment.credited",
		metric.WithDescription("Amount credited to orders"),
	)
	if err != nil {
		return nil, errors.Wrap(err, "create credited counter")
	}
	return &Reconciler{
		orders:   orders,
		currency: currency,
		now:      time.Now,
		tracer:   tp.Tracer(instrumentationName),
		outcomes: outcomes,
		credited: credited,
	}, nil
}

// ApplyInboundTransfer credits t to the order carrying its payment code.
// A replayed notification or bank transaction returns the order unchanged
// with Result.Applied false. Money for a cancelled order is refused with
// order.ErrCancelled and recorded for manual follow-up. When persisting fails
// the credit is not applied and the caller may redeliver.
func (r *Reconciler) ApplyInboundTransfer(ctx context.Context, t Transfer) (_ *Result, rerr error) {
	ctx, span := r.tracer.Start(ctx, "payment.ApplyInboundTransfer",
		trace.WithAttributes(
			attribute.String("payment.code", t.PaymentCode),
			attribute.String("payment.transaction_id", t.TransactionID),
		),
	)
	defer span.End()

	lg := zctx.From(ctx).With(
		zap.String("payment_code", t.PaymentCode),
		zap.String("amount", t.Amount.String()),
		zap.String("transaction_id", t.TransactionID),
		zap.String("notification_id", t.NotificationID),
	)

	outcome := OutcomeError
	defer func() {
		r.outcomes.Add(ctx, 1, metric.WithAttributes(attribute.String("outcome", string(outcome))))
		span.SetAttributes(attribute.String("payment.outcome", string(outcome)))
		if rerr != nil && outcome == OutcomeError {
			span.RecordError(rerr)
			span.SetStatus(codes.Error, rerr.Error())
		}
	}()

	// Amounts finer than the currency unit cannot be stored exactly.
	if !t.Amount.IsPositive() || !t.Amount.Equal(t.Amount.Round(pricing.MoneyPlaces)) {
		outcome = OutcomeInvalid
		lg.Warn("Rejected transfer with invalid amount")
		return nil, apperr.New(apperr.ErrInvalidInput, "Invalid amount")
	}

	o, err := r.orders.GetByPaymentCode(ctx, t.PaymentCode)
	if err != nil {
		if errors.Is(err, order.ErrNotFound) {
			outcome = OutcomeUnmatched
			lg.Warn("No order matches payment code")
			return nil, apperr.New(apperr.ErrNotFound, "No matching order for payment code")
		}
		return nil, errors.Wrap(err, "get order by payment code")
	}

	agg, err := r.orders.Mutate(ctx, o.ID, func(a *order.Aggregate) error {
		now := r.now().UTC()
		if err := a.Order.Credit(t.Amount, t.TransactionID, t.NotificationID, now); err != nil {
			return err
		}
		a.SyncInvoice(r.currency, t.TransactionID, now)
		return nil
	})
	switch {
	case err == nil:
	case errors.Is(err, order.ErrNoChange):
		outcome = OutcomeDuplicate
		lg.Debug("Transfer already applied", zap.String("order_id", agg.Order.ID))
		return &Result{Order: agg.Order, Invoice: agg.Invoice}, nil
	case errors.Is(err, order.ErrCancelled):
		outcome = OutcomeCancelled
		lg.Warn("Transfer received for cancelled order, needs manual reconciliation",
			zap.String("order_id", o.ID),
		)
		return nil, err
	case errors.Is(err, order.ErrNotFound):
		outcome = OutcomeUnmatched
		lg.Warn("Order vanished before credit", zap.String("order_id", o.ID))
		return nil, apperr.New(apperr.ErrNotFound, "No matching order for payment code")
	default:
		return nil, errors.Wrapf(err, "credit order %s", o.ID)
	}

	outcome = OutcomeApplied
	amount, _ := t.Amount.Float64()
	r.credited.Add(ctx, amount)
	lg.Info("Transfer applied",
		zap.String("order_id", agg.Order.ID),
		zap.String("paid_amount", agg.Order.PaidAmount.String()),
		zap.String("payment_status", string(agg.Order.PaymentStatus)),
		zap.String("status", string(agg.Order.Status)),
	)
	return &Result{Order: agg.Order, Invoice: agg.Invoice, Applied: true}, nil
}
