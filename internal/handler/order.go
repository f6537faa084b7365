package handler

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/order"
	"github.com/xenking/transfer-checkout/internal/domain/paging"
)

// GetOrder returns one order to its owner or staff.
func (h *Handler) GetOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	o, err := h.ledger.GetOrder(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, toOrder(o))
}

type cancelResponse struct {
	Order   orderResponse   `json:"order"`
	Invoice invoiceResponse `json:"invoice"`
}

// CancelOrder cancels an unpaid order and voids its invoice.
func (h *Handler) CancelOrder(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	agg, err := h.ledger.CancelOrder(r.Context(), chi.URLParam(r, "id"), actor)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, cancelResponse{
		Order:   toOrder(agg.Order),
		Invoice: toInvoice(agg.Invoice),
	})
}

type orderListResponse struct {
	Orders     []orderResponse `json:"orders"`
	Pagination paging.Info     `json:"pagination"`
}

// ListOrders pages through orders. Query: status, paymentStatus, userId
// (staff only), page, limit.
func (h *Handler) ListOrders(w http.ResponseWriter, r *http.Request) {
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

	res, err := h.ledger.ListOrders(r.Context(), actor, order.Filter{
		UserID:        strings.TrimSpace(firstString(q.Get("userId"), q.Get("user_id"))),
		Status:        order.Status(strings.ToLower(strings.TrimSpace(q.Get("status")))),
		PaymentStatus: order.PaymentStatus(strings.ToLower(strings.TrimSpace(firstString(q.Get("paymentStatus"), q.Get("payment_status"))))),
		Page:          page,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	out := orderListResponse{
		Orders:     make([]orderResponse, 0, len(res.Orders)),
		Pagination: res.Pagination,
	}
	for i := range res.Orders {
		out.Orders = append(out.Orders, toOrder(&res.Orders[i]))
	}
	writeJSON(w, http.StatusOK, out)
}

// pageRequest parses optional page and limit query values. Clamping to the
// allowed range happens in the domain.
func pageRequest(page, limit string) (paging.Request, error) {
	var req paging.Request
	var err error
	if page != "" {
		if req.Page, err = strconv.Atoi(page); err != nil {
			return req, apperr.New(apperr.ErrInvalidInput, "page must be an integer")
		}
	}
	if limit != "" {
		if req.Limit, err = strconv.Atoi(limit); err != nil {
			return req, apperr.New(apperr.ErrInvalidInput, "limit must be an integer")
		}
	}
	return req, nil
}
