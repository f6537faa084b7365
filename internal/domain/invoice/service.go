package invoice

import (
	"context"
	"strings"
	"time"

	"github.com/go-faster/errors"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/auth"
	"github.com/xenking/transfer-checkout/internal/domain/paging"
)

// Synchronizer issues invoices for orders.
type Synchronizer struct {
	invoices Repository
	currency string
	now      func() time.Time
}

// NewSynchronizer creates a Synchronizer issuing invoices in currency.
func NewSynchronizer(invoices Repository, currency string) *Synchronizer {
	if currency == "" {
		currency = DefaultCurrency
	}
	return &Synchronizer{
		invoices: invoices,
		currency: currency,
		now:      time.Now,
	}
}

// Currency returns the currency new invoices are issued in.
func (s *Synchronizer) Currency() string {
	return s.currency
}

// EnsureInvoice returns the order's invoice, issuing it from the snapshot
// when none exists yet. Calling it repeatedly yields the same invoice.
func (s *Synchronizer) EnsureInvoice(ctx context.Context, src Source) (*Invoice, error) {
	inv, err := s.invoices.GetByOrderID(ctx, src.OrderID)
	switch {
	case err == nil:
		return inv, nil
	case !errors.Is(err, ErrNotFound):
		return nil, errors.Wrap(err, "get invoice by order")
	}

	inv = New(src, s.currency, s.now().UTC())
	if err := s.invoices.Create(ctx, inv); err != nil {
		if !errors.Is(err, ErrAlreadyExists) {
			return nil, errors.Wrap(err, "create invoice")
		}
		// Lost a race with a concurrent issuer; the stored one wins.
		existing, err := s.invoices.GetByOrderID(ctx, src.OrderID)
		if err != nil {
			return nil, errors.Wrap(err, "get invoice by order")
		}
		return existing, nil
	}
	return inv, nil
}

// Service serves read-only invoice projections with owner-or-staff
// authorization.
type Service struct {
	invoices Repository
}

// NewService creates an invoice read Service.
func NewService(invoices Repository) *Service {
	return &Service{invoices: invoices}
}

// Get returns an invoice by id.
func (s *Service) Get(ctx context.Context, id string, actor auth.Actor) (*Invoice, error) {
	inv, err := s.invoices.GetByID(ctx, id)
	if err != nil {
		return nil, lookupError(err)
	}
	if !actor.CanAccess(inv.UserID) {
		return nil, apperr.New(apperr.ErrForbidden, "Forbidden")
	}
	return inv, nil
}

// GetByOrder returns the invoice of an order.
func (s *Service) GetByOrder(ctx context.Context, orderID string, actor auth.Actor) (*Invoice, error) {
	inv, err := s.invoices.GetByOrderID(ctx, orderID)
	if err != nil {
		return nil, lookupError(err)
	}
	if !actor.CanAccess(inv.UserID) {
		return nil, apperr.New(apperr.ErrForbidden, "Forbidden")
	}
	return inv, nil
}

// ListResult is one page of invoices.
type ListResult struct {
	Invoices   []Invoice
	Pagination paging.Info
}

// List returns a page of invoices. Non-staff callers only ever see their
// own invoices whatever UserID the filter carries.
func (s *Service) List(ctx context.Context, actor auth.Actor, f Filter) (*ListResult, error) {
	if actor.ID == "" {
		return nil, apperr.New(apperr.ErrUnauthorized, "Unauthorized")
	}
	if !actor.IsStaff() || f.UserID == "" {
		f.UserID = actor.ID
	}
	f.Status = Status(strings.ToLower(strings.TrimSpace(string(f.Status))))
	f.Page = f.Page.Normalize()

	invoices, total, err := s.invoices.List(ctx, f)
	if err != nil {
		return nil, errors.Wrap(err, "list invoices")
	}
	return &ListResult{
		Invoices:   invoices,
		Pagination: paging.NewInfo(f.Page, total),
	}, nil
}

func lookupError(err error) error {
	if errors.Is(err, ErrNotFound) {
		return apperr.New(apperr.ErrNotFound, "Invoice not found")
	}
	return errors.Wrap(err, "get invoice")
}
