package handler

import (
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/transfer-checkout/internal/domain/invoice"
	"github.com/xenking/transfer-checkout/internal/domain/paging"
)

type invoiceLineResponse struct {
	ProductID string `json:"productId"`
	VariantID string `json:"variantId,omitempty"`
	Name      string `json:"name"`
	Quantity  int    `json:"quantity"`
	UnitPrice Amount `json:"unitPrice"`
	LineTotal Amount `json:"lineTotal"`
}

type invoiceResponse struct {
	ID             string                `json:"id"`
	Code           string                `json:"code"`
	OrderID        string                `json:"orderId"`
	UserID         string                `json:"userId"`
	Items          []invoiceLineResponse `json:"items"`
	Subtotal       Amount                `json:"subtotal"`
	DiscountAmount Amount                `json:"discountAmount"`
	ShippingFee    Amount                `json:"shippingFee"`
	Total          Amount                `json:"total"`
	PayNowTotal    Amount                `json:"payNowTotal"`
	PaidAmount     Amount                `json:"paidAmount"`
	AmountDue      Amount                `json:"amountDue"`
	Currency       string                `json:"currency"`
	Status         string                `json:"status"`
	PaymentRefs    []string              `json:"paymentRefs"`
	IssuedAt       time.Time             `json:"issuedAt"`
	PaidAt         *time.Time            `json:"paidAt,omitempty"`
	UpdatedAt      time.Time             `json:"updatedAt"`
}

func toInvoice(inv *invoice.Invoice) invoiceResponse {
	lines := make([]invoiceLineResponse, 0, len(inv.Lines))
	for _, l := range inv.Lines {
		lines = append(lines, invoiceLineResponse{
			ProductID: l.ProductID,
			VariantID: l.VariantID,
			Name:      l.Name,
			Quantity:  l.Quantity,
			UnitPrice: Amount(l.UnitPrice),
			LineTotal: Amount(l.LineTotal),
		})
	}
	refs := inv.PaymentRefs
	if refs == nil {
		refs = []string{}
	}
	return invoiceResponse{
		ID:             inv.ID,
		Code:           inv.Code,
		OrderID:        inv.OrderID,
		UserID:         inv.UserID,
		Items:          lines,
		Subtotal:       Amount(inv.Subtotal),
		DiscountAmount: Amount(inv.DiscountAmount),
		ShippingFee:    Amount(inv.ShippingFee),
		Total:          Amount(inv.Total),
		PayNowTotal:    Amount(inv.PayNowTotal),
		PaidAmount:     Amount(inv.PaidAmount),
		AmountDue:      Amount(inv.AmountDue),
		Currency:       inv.Currency,
		Status:         string(inv.Status),
		PaymentRefs:    refs,
		IssuedAt:       inv.IssuedAt,
		PaidAt:         inv.PaidAt,
		UpdatedAt:      inv.UpdatedAt,
	}
}

// GetInvoice returns one invoice by id.
func (h *Handler) GetInvoice(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.invoices.Get(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoice(inv))
}

// GetInvoiceByOrder returns the invoice of an order.
func (h *Handler) GetInvoiceByOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	inv, err := h.invoices.GetByOrder(r.Context(), chi.URLParam(r, "orderId"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toInvoice(inv))
}

type invoiceListResponse struct {
	Invoices   []invoiceResponse `json:"invoices"`
	Pagination paging.Info       `json:"pagination"`
}

// ListInvoices pages through invoices. Query: status, orderId, userId
// (staff only), page, limit.
func (h *Handler) ListInvoices(w http.ResponseWriter, r *http.Request) {
	h.listInvoices(w, r, false)
}

// ListMyInvoices pages through the caller's own invoices.
func (h *Handler) ListMyInvoices(w http.ResponseWriter, r *http.Request) {
	h.listInvoices(w, r, true)
}

func (h *Handler) listInvoices(w http.ResponseWriter, r *http.Request, own bool) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	q := r.URL.Query()
	page, err := pageRequest(q.Get("page"), q.Get("limit"))
	if err != nil {
		writeError(w, r, err)
		return
	}

	f := invoice.Filter{
		UserID:  strings.TrimSpace(firstString(q.Get("userId"), q.Get("user_id"))),
		OrderID: strings.TrimSpace(firstString(q.Get("orderId"), q.Get("order_id"))),
		Status:  invoice.Status(q.Get("status")),
		Page:    page,
	}
	if own {
		f.UserID = actor.ID
	}

	res, err := h.invoices.List(r.Context(), actor, f)
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := invoiceListResponse{
		Invoices:   make([]invoiceResponse, 0, len(res.Invoices)),
		Pagination: res.Pagination,
	}
	for i := range res.Invoices {
		out.Invoices = append(out.Invoices, toInvoice(&res.Invoices[i]))
	}
	writeJSON(w, http.StatusOK, out)
}
