// Package handler is the HTTP boundary of the checkout service: it decodes
// requests, calls the order ledger, invoice service and payment reconciler,
// and maps their errors to status codes.
package handler

import (
	"context"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/order"
	"github.com/xenking/transfer-checkout/internal/domain/paycode"
	"github.com/xenking/transfer-checkout/internal/domain/payment"
)

// PaymentConfig holds the bank transfer details shown to customers and the
// shared secret inbound notifications must present.
type PaymentConfig struct {
	Currency          string
	WebhookSecret     string
	BankAccountID     string
	BankAccountNumber string
	BankName          string
	BankAccountName   string
	// QRBaseURL renders a scannable transfer image.
	QRBaseURL string
}

// NotificationGuard suppresses concurrent or repeated processing of the same
// inbound notification before it reaches storage.
type NotificationGuard interface {
	// Claim reports whether key was free and is now held by the caller. A
	// claim expires on its own if it is never completed or released.
	Claim(ctx context.Context, key string) (bool, error)
	// Complete marks a claimed key as processed.
	Complete(ctx context.Context, key string) error
	// Release drops a claim so the notification can be redelivered.
	Release(ctx context.Context, key string) error
}

type nopGuard struct{}

func (nopGuard) Claim(context.Context, string) (bool, error) { return true, nil }
func (nopGuard) Complete(context.Context, string) error      { return nil }
func (nopGuard) Release(context.Context, string) error       { return nil }

// Handler serves the checkout API.
type Handler struct {
	ledger     *order.Ledger
	invoices   *invoice.Service
	reconciler *payment.Reconciler
	codes      paycode.Format
	guard      NotificationGuard
	authn      *Authenticator
	payment    PaymentConfig
}

// NewHandler constructs a Handler. A nil guard disables pre-storage
// deduplication of notifications.
func NewHandler(
	cfg PaymentConfig,
	ledger *order.Ledger,
	invoices *invoice.Service,
	reconciler *payment.Reconciler,
	codes paycode.Format,
	guard NotificationGuard,
	authn *Authenticator,
) *Handler {
	if guard == nil {
		guard = nopGuard{}
	}
	if cfg.Currency == "" {
		cfg.Currency = invoice.DefaultCurrency
	}
	return &Handler{
		ledger:     ledger,
		invoices:   invoices,
		reconciler: reconciler,
		codes:      codes,
		guard:      guard,
		authn:      authn,
		payment:    cfg,
	}
}

// Routes returns the API router. Middlewares run after routing resolved the
// route, so RoutePattern is available to them once the handler returned.
func (h *Handler) Routes(middlewares ...func(http.Handler) http.Handler) chi.Router {
	r := chi.NewRouter()
	r.Use(middlewares...)

	r.Post("/checkout/quote", h.Quote)
	r.Post("/payments/webhook", h.PaymentWebhook)

	r.Group(func(r chi.Router) {
		r.Use(h.authn.Middleware)

		r.Post("/checkout", h.Checkout)

		r.Get("/orders", h.ListOrders)
		r.Get("/orders/{id}", h.GetOrder)
		r.Put("/orders/{id}/cancel", h.CancelOrder)

		r.Get("/invoices", h.ListInvoices)
		r.Get("/invoices/me", h.ListMyInvoices)
		r.Get("/invoices/order/{orderId}", h.GetInvoiceByOrder)
		r.Get("/invoices/{id}", h.GetInvoice)
	})

	r.NotFound(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusNotFound, errorResponse{Code: http.StatusNotFound, Message: "Route not found"})
	})
	r.MethodNotAllowed(func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, http.StatusMethodNotAllowed, errorResponse{Code: http.StatusMethodNotAllowed, Message: "Method not allowed"})
	})
	return r
}

// RoutePattern returns the matched chi route of r, or "" before routing.
func RoutePattern(r *http.Request) string {
	if rctx := chi.RouteContext(r.Context()); rctx != nil {
		return rctx.RoutePattern()
	}
	return ""
}
