// Package memory keeps every checkout repository in process memory. Each
// order is guarded by its own mutex, so writers to distinct orders never
// wait on each other.
package memory

import (
	"cmp"
	"context"
	"slices"
	"sync"

	"github.com/xenking/transfer-checkout/internal/domain/catalog"
	"github.com/xenking/transfer-checkout/internal/domain/customer"
	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/order"
)

// Store holds all entities. Use the repository views to access them.
type Store struct {
	mu             sync.RWMutex
	products       map[string]catalog.Product
	users          map[string]customer.User
	orders         map[string]*order.Order
	orderByCode    map[string]string
	invoices       map[string]*invoice.Invoice
	invoiceByOrder map[string]string
	locks          map[string]*sync.Mutex
}

// New creates an empty Store.
func New() *Store {
	return &Store{
		products:       make(map[string]catalog.Product),
		users:          make(map[string]customer.User),
		orders:         make(map[string]*order.Order),
		orderByCode:    make(map[string]string),
		invoices:       make(map[string]*invoice.Invoice),
		invoiceByOrder: make(map[string]string),
		locks:          make(map[string]*sync.Mutex),
	}
}

// Catalog returns the catalog view of the store.
func (s *Store) Catalog() *CatalogRepository { return &CatalogRepository{s: s} }

// Customers returns the customer view of the store.
func (s *Store) Customers() *CustomerRepository { return &CustomerRepository{s: s} }

// Orders returns the order view of the store.
func (s *Store) Orders() *OrderRepository { return &OrderRepository{s: s} }

// Invoices returns the invoice view of the store.
func (s *Store) Invoices() *InvoiceRepository { return &InvoiceRepository{s: s} }

// CatalogRepository implements catalog.Repository.
type CatalogRepository struct{ s *Store }

var _ catalog.Repository = (*CatalogRepository)(nil)

// GetByID returns a copy of the product.
func (r *CatalogRepository) GetByID(_ context.Context, id string) (*catalog.Product, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	p, ok := r.s.products[id]
	if !ok {
		return nil, catalog.ErrNotFound
	}
	p.Variants = slices.Clone(p.Variants)
	return &p, nil
}

// Upsert stores a product.
func (r *CatalogRepository) Upsert(_ context.Context, p *catalog.Product) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *p
	cp.Variants = slices.Clone(p.Variants)
	r.s.products[p.ID] = cp
	return nil
}

// CustomerRepository implements customer.Repository.
type CustomerRepository struct{ s *Store }

var _ customer.Repository = (*CustomerRepository)(nil)

// GetByID returns a copy of the user.
func (r *CustomerRepository) GetByID(_ context.Context, id string) (*customer.User, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	u, ok := r.s.users[id]
	if !ok {
		return nil, customer.ErrNotFound
	}
	if u.DefaultAddress != nil {
		addr := *u.DefaultAddress
		u.DefaultAddress = &addr
	}
	return &u, nil
}

// Upsert stores a user.
func (r *CustomerRepository) Upsert(_ context.Context, u *customer.User) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	cp := *u
	if u.DefaultAddress != nil {
		addr := *u.DefaultAddress
		cp.DefaultAddress = &addr
	}
	r.s.users[u.ID] = cp
	return nil
}

// OrderRepository implements order.Repository.
type OrderRepository struct{ s *Store }

var _ order.Repository = (*OrderRepository)(nil)

// Create stores a new order.
func (r *OrderRepository) Create(_ context.Context, o *order.Order) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, taken := r.s.orderByCode[o.PaymentCode]; taken {
		return order.ErrDuplicatePaymentCode
	}
	r.s.orders[o.ID] = cloneOrder(o)
	r.s.orderByCode[o.PaymentCode] = o.ID
	r.s.locks[o.ID] = new(sync.Mutex)
	return nil
}

// Delete removes an order and its invoice.
func (r *OrderRepository) Delete(_ context.Context, id string) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil
	}
	delete(r.s.orderByCode, o.PaymentCode)
	delete(r.s.orders, id)
	delete(r.s.locks, id)
	if invID, ok := r.s.invoiceByOrder[id]; ok {
		delete(r.s.invoices, invID)
		delete(r.s.invoiceByOrder, id)
	}
	return nil
}

// GetByID returns a copy of the order.
func (r *OrderRepository) GetByID(_ context.Context, id string) (*order.Order, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	o, ok := r.s.orders[id]
	if !ok {
		return nil, order.ErrNotFound
	}
	return cloneOrder(o), nil
}

// GetByPaymentCode returns a copy of the order carrying code.
func (r *OrderRepository) GetByPaymentCode(ctx context.Context, code string) (*order.Order, error) {
	r.s.mu.RLock()
	id, ok := r.s.orderByCode[code]
	r.s.mu.RUnlock()
	if !ok {
		return nil, order.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// List returns a page of matching orders, newest first.
func (r *OrderRepository) List(_ context.Context, f order.Filter) ([]order.Order, int, error) {
	r.s.mu.RLock()
	var matched []order.Order
	for _, o := range r.s.orders {
		if f.UserID != "" && o.UserID != f.UserID {
			continue
		}
		if f.Status != "" && o.Status != f.Status {
			continue
		}
		if f.PaymentStatus != "" && o.PaymentStatus != f.PaymentStatus {
			continue
		}
		matched = append(matched, *cloneOrder(o))
	}
	r.s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b order.Order) int {
		if c := b.CreatedAt.Compare(a.CreatedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return page(matched, f.Page.Offset(), f.Page.Limit), len(matched), nil
}

// Mutate serialises writers of one order on that order's mutex and
// applies fn's changes to the order and its invoice together.
func (r *OrderRepository) Mutate(_ context.Context, id string, fn func(a *order.Aggregate) error) (*order.Aggregate, error) {
	lock, ok := r.s.orderLock(id)
	if !ok {
		return nil, order.ErrNotFound
	}
	lock.Lock()
	defer lock.Unlock()

	r.s.mu.RLock()
	o, ok := r.s.orders[id]
	if !ok {
		r.s.mu.RUnlock()
		return nil, order.ErrNotFound
	}
	agg := &order.Aggregate{Order: cloneOrder(o)}
	if invID, ok := r.s.invoiceByOrder[id]; ok {
		agg.Invoice = cloneInvoice(r.s.invoices[invID])
	}
	r.s.mu.RUnlock()

	if err := fn(agg); err != nil {
		return agg, err
	}

	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.orders[id]; !ok {
		return nil, order.ErrNotFound
	}
	r.s.orders[id] = cloneOrder(agg.Order)
	if agg.Invoice != nil {
		if existing, ok := r.s.invoiceByOrder[id]; ok && existing != agg.Invoice.ID {
			return nil, invoice.ErrAlreadyExists
		}
		r.s.invoices[agg.Invoice.ID] = cloneInvoice(agg.Invoice)
		r.s.invoiceByOrder[id] = agg.Invoice.ID
	}
	return agg, nil
}

// orderLock returns the mutex of a stored order. Locks live and die with
// their order.
func (s *Store) orderLock(id string) (*sync.Mutex, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	l, ok := s.locks[id]
	return l, ok
}

// InvoiceRepository implements invoice.Repository.
type InvoiceRepository struct{ s *Store }

var _ invoice.Repository = (*InvoiceRepository)(nil)

// Create stores a new invoice.
func (r *InvoiceRepository) Create(_ context.Context, inv *invoice.Invoice) error {
	r.s.mu.Lock()
	defer r.s.mu.Unlock()
	if _, ok := r.s.invoiceByOrder[inv.OrderID]; ok {
		return invoice.ErrAlreadyExists
	}
	r.s.invoices[inv.ID] = cloneInvoice(inv)
	r.s.invoiceByOrder[inv.OrderID] = inv.ID
	return nil
}

// GetByID returns a copy of the invoice.
func (r *InvoiceRepository) GetByID(_ context.Context, id string) (*invoice.Invoice, error) {
	r.s.mu.RLock()
	defer r.s.mu.RUnlock()
	inv, ok := r.s.invoices[id]
	if !ok {
		return nil, invoice.ErrNotFound
	}
	return cloneInvoice(inv), nil
}

// GetByOrderID returns a copy of the order's invoice.
func (r *InvoiceRepository) GetByOrderID(ctx context.Context, orderID string) (*invoice.Invoice, error) {
	r.s.mu.RLock()
	id, ok := r.s.invoiceByOrder[orderID]
	r.s.mu.RUnlock()
	if !ok {
		return nil, invoice.ErrNotFound
	}
	return r.GetByID(ctx, id)
}

// List returns a page of matching invoices, newest first.
func (r *InvoiceRepository) List(_ context.Context, f invoice.Filter) ([]invoice.Invoice, int, error) {
	r.s.mu.RLock()
	var matched []invoice.Invoice
	for _, inv := range r.s.invoices {
		if f.UserID != "" && inv.UserID != f.UserID {
			continue
		}
		if f.OrderID != "" && inv.OrderID != f.OrderID {
			continue
		}
		if f.Status != "" && inv.Status != f.Status {
			continue
		}
		matched = append(matched, *cloneInvoice(inv))
	}
	r.s.mu.RUnlock()

	slices.SortFunc(matched, func(a, b invoice.Invoice) int {
		if c := b.IssuedAt.Compare(a.IssuedAt); c != 0 {
			return c
		}
		return cmp.Compare(a.ID, b.ID)
	})
	return page(matched, f.Page.Offset(), f.Page.Limit), len(matched), nil
}

func page[T any](items []T, offset, limit int) []T {
	if offset >= len(items) {
		return nil
	}
	end := len(items)
	if limit > 0 {
		end = min(offset+limit, len(items))
	}
	return items[offset:end]
}

func cloneOrder(o *order.Order) *order.Order {
	cp := *o
	cp.Lines = slices.Clone(o.Lines)
	cp.AppliedWebhookIDs = slices.Clone(o.AppliedWebhookIDs)
	if o.PaidAt != nil {
		t := *o.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}

func cloneInvoice(inv *invoice.Invoice) *invoice.Invoice {
	cp := *inv
	cp.Lines = slices.Clone(inv.Lines)
	cp.PaymentRefs = slices.Clone(inv.PaymentRefs)
	if inv.PaidAt != nil {
		t := *inv.PaidAt
		cp.PaidAt = &t
	}
	return &cp
}
