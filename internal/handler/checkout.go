package handler

import (
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/shopspring/decimal"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/customer"
	"github.com/xenking/transfer-checkout/internal/domain/order"
	"github.com/xenking/transfer-checkout/internal/domain/pricing"
)

// maxQuantity caps one cart line.
const maxQuantity = 10000

const (
	paymentStatusPendingQR = "PENDING_QR"
	paymentInstruction     = "Transfer the exact amount and keep the memo unchanged so the payment is confirmed automatically"
)

// cartItemRequest accepts camelCase and snake_case keys.
type cartItemRequest struct {
	ProductID    string `json:"productId"`
	ProductIDAlt string `json:"product_id"`
	VariantID    string `json:"variantId"`
	VariantIDAlt string `json:"variant_id"`
	Quantity     Amount `json:"quantity"`
}

type checkoutRequest struct {
	Items              []cartItemRequest `json:"items"`
	ShippingFee        *Amount           `json:"shippingFee"`
	ShippingFeeAlt     *Amount           `json:"shipping_fee"`
	DiscountAmount     *Amount           `json:"discountAmount"`
	DiscountAmountAlt  *Amount           `json:"discount_amount"`
	ShippingMethod     string            `json:"shippingMethod"`
	ShippingMethodAlt  string            `json:"shipping_method"`
	ShippingAddress    *customer.Address `json:"shippingAddress"`
	ShippingAddressAlt *customer.Address `json:"shipping_address"`
	Note               string            `json:"note"`
}

func (req *checkoutRequest) cart() ([]pricing.CartItem, error) {
	items := make([]pricing.CartItem, 0, len(req.Items))
	for i, it := range req.Items {
		qty := it.Quantity.Decimal()
		if !qty.IsInteger() {
			return nil, apperr.Newf(apperr.ErrInvalidInput, "items[%d].quantity must be a whole number", i)
		}
		if qty.LessThan(decimal.NewFromInt(1)) || qty.GreaterThan(decimal.NewFromInt(maxQuantity)) {
			return nil, apperr.Newf(apperr.ErrInvalidInput, "items[%d].quantity must be between 1 and %d", i, maxQuantity)
		}
		items = append(items, pricing.CartItem{
			ProductID: strings.TrimSpace(firstString(it.ProductID, it.ProductIDAlt)),
			VariantID: strings.TrimSpace(firstString(it.VariantID, it.VariantIDAlt)),
			Quantity:  int(qty.IntPart()),
		})
	}
	return items, nil
}

func (req *checkoutRequest) shippingFee() decimal.Decimal {
	return firstAmount(req.ShippingFee, req.ShippingFeeAlt)
}

func (req *checkoutRequest) discountAmount() decimal.Decimal {
	return firstAmount(req.DiscountAmount, req.DiscountAmountAlt)
}

func (req *checkoutRequest) shippingAddress() *customer.Address {
	if req.ShippingAddress != nil {
		return req.ShippingAddress
	}
	return req.ShippingAddressAlt
}

func firstString(v ...string) string {
	for _, s := range v {
		if s != "" {
			return s
		}
	}
	return ""
}

func firstAmount(v ...*Amount) decimal.Decimal {
	for _, a := range v {
		if a != nil {
			return a.Decimal()
		}
	}
	return decimal.Zero
}

type lineResponse struct {
	ProductID      string `json:"productId"`
	VariantID      string `json:"variantId,omitempty"`
	Name           string `json:"name"`
	Type           string `json:"type,omitempty"`
	Quantity       int    `json:"quantity"`
	UnitPrice      Amount `json:"unitPrice"`
	LineTotal      Amount `json:"lineTotal"`
	DepositPercent int    `json:"depositPercent"`
	PayNow         Amount `json:"payNow"`
	PayLater       Amount `json:"payLater"`
	PreOrder       bool   `json:"preOrder"`
}

func toLines(lines []pricing.Line) []lineResponse {
	out := make([]lineResponse, 0, len(lines))
	for _, l := range lines {
		out = append(out, lineResponse{
			ProductID:      l.ProductID,
			VariantID:      l.VariantID,
			Name:           l.Name,
			Type:           l.Type,
			Quantity:       l.Quantity,
			UnitPrice:      Amount(l.UnitPrice),
			LineTotal:      Amount(l.LineTotal),
			DepositPercent: l.DepositPercent,
			PayNow:         Amount(l.PayNow),
			PayLater:       Amount(l.PayLater),
			PreOrder:       l.PreOrder,
		})
	}
	return out
}

type breakdownResponse struct {
	Subtotal       Amount `json:"subtotal"`
	ShippingFee    Amount `json:"shippingFee"`
	DiscountAmount Amount `json:"discountAmount"`
	Total          Amount `json:"total"`
	PayNow         Amount `json:"payNow"`
	PayLater       Amount `json:"payLater"`
}

func toBreakdown(q *pricing.Quote) breakdownResponse {
	return breakdownResponse{
		Subtotal:       Amount(q.Subtotal),
		ShippingFee:    Amount(q.ShippingFee),
		DiscountAmount: Amount(q.DiscountAmount),
		Total:          Amount(q.Total),
		PayNow:         Amount(q.PayNow),
		PayLater:       Amount(q.PayLater),
	}
}

type quoteResponse struct {
	Items []lineResponse `json:"items"`
	breakdownResponse
	HasPreOrder   bool   `json:"hasPreOrder"`
	PaymentMethod string `json:"paymentMethod"`
}

// Quote prices a cart without persisting anything.
func (h *Handler) Quote(w http.ResponseWriter, r *http.Request) {
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	items, err := req.cart()
	if err != nil {
		writeError(w, r, err)
		return
	}

	q, err := h.ledger.Quote(r.Context(), items, req.shippingFee(), req.discountAmount())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, quoteResponse{
		Items:             toLines(q.Lines),
		breakdownResponse: toBreakdown(q),
		HasPreOrder:       q.HasPreOrder(),
		PaymentMethod:     order.PaymentMethodBankTransfer,
	})
}

type paymentInstructions struct {
	Method            string `json:"method"`
	Status            string `json:"status"`
	Amount            Amount `json:"amount"`
	Currency          string `json:"currency"`
	PaymentCode       string `json:"paymentCode"`
	Content           string `json:"content"`
	BankAccountID     string `json:"bankAccountId,omitempty"`
	BankAccountNumber string `json:"bankAccountNumber,omitempty"`
	BankName          string `json:"bankName,omitempty"`
	BankAccountName   string `json:"bankAccountName,omitempty"`
	Description       string `json:"description"`
	Instruction       string `json:"instruction"`
	QRURL             string `json:"qrUrl,omitempty"`
}

type checkoutResponse struct {
	OrderID     string              `json:"orderId"`
	InvoiceID   string              `json:"invoiceId"`
	InvoiceCode string              `json:"invoiceCode"`
	Payment     paymentInstructions `json:"payment"`
	Breakdown   breakdownResponse   `json:"breakdown"`
}

// Checkout creates an order with its invoice and returns how to pay it.
func (h *Handler) Checkout(w http.ResponseWriter, r *http.Request) {
	actor, err := actorFrom(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req checkoutRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	items, err := req.cart()
	if err != nil {
		writeError(w, r, err)
		return
	}

	res, err := h.ledger.CreateOrder(r.Context(), order.CreateRequest{
		UserID:          actor.ID,
		Items:           items,
		ShippingFee:     req.shippingFee(),
		DiscountAmount:  req.discountAmount(),
		ShippingMethod:  order.ShippingMethod(strings.ToLower(strings.TrimSpace(firstString(req.ShippingMethod, req.ShippingMethodAlt)))),
		ShippingAddress: req.shippingAddress(),
		Note:            req.Note,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	writeJSON(w, http.StatusCreated, checkoutResponse{
		OrderID:     res.Order.ID,
		InvoiceID:   res.Invoice.ID,
		InvoiceCode: res.Invoice.Code,
		Payment:     h.instructions(res.Order),
		Breakdown:   toBreakdown(res.Quote),
	})
}

func (h *Handler) instructions(o *order.Order) paymentInstructions {
	cfg := h.payment
	accountNumber := firstString(cfg.BankAccountNumber, cfg.BankAccountID)
	return paymentInstructions{
		Method:            o.PaymentMethod,
		Status:            paymentStatusPendingQR,
		Amount:            Amount(o.PayNowTotal),
		Currency:          cfg.Currency,
		PaymentCode:       o.PaymentCode,
		Content:           o.PaymentCode,
		BankAccountID:     cfg.BankAccountID,
		BankAccountNumber: accountNumber,
		BankName:          cfg.BankName,
		BankAccountName:   cfg.BankAccountName,
		Description:       "Transfer memo must be exactly: " + o.PaymentCode,
		Instruction:       paymentInstruction,
		QRURL:             transferQRURL(cfg.QRBaseURL, accountNumber, cfg.BankName, o.PayNowTotal, o.PaymentCode),
	}
}

// transferQRURL builds the scannable transfer image link. It is empty when
// the receiving account is not configured.
func transferQRURL(base, accountNumber, bankName string, amount decimal.Decimal, memo string) string {
	if base == "" || accountNumber == "" || bankName == "" {
		return ""
	}
	q := url.Values{}
	q.Set("acc", accountNumber)
	q.Set("bank", bankName)
	if amount.IsPositive() {
		q.Set("amount", amount.Round(0).String())
	}
	if memo != "" {
		q.Set("des", memo)
	}
	return base + "?" + q.Encode()
}

// orderResponse is the client view of an order.
type orderResponse struct {
	ID              string           `json:"id"`
	UserID          string           `json:"userId"`
	Items           []lineResponse   `json:"items"`
	Subtotal        Amount           `json:"subtotal"`
	DiscountAmount  Amount           `json:"discountAmount"`
	ShippingFee     Amount           `json:"shippingFee"`
	Total           Amount           `json:"total"`
	PayNowTotal     Amount           `json:"payNowTotal"`
	PayLaterTotal   Amount           `json:"payLaterTotal"`
	PaidAmount      Amount           `json:"paidAmount"`
	PaymentMethod   string           `json:"paymentMethod"`
	PaymentStatus   string           `json:"paymentStatus"`
	PaymentCode     string           `json:"paymentCode"`
	ShippingMethod  string           `json:"shippingMethod"`
	ShippingAddress customer.Address `json:"shippingAddress"`
	Note            string           `json:"note,omitempty"`
	Type            string           `json:"type"`
	Status          string           `json:"status"`
	CreatedAt       time.Time        `json:"createdAt"`
	UpdatedAt       time.Time        `json:"updatedAt"`
	PaidAt          *time.Time       `json:"paidAt,omitempty"`
}

func toOrder(o *order.Order) orderResponse {
	return orderResponse{
		ID:              o.ID,
		UserID:          o.UserID,
		Items:           toLines(o.Lines),
		Subtotal:        Amount(o.Subtotal),
		DiscountAmount:  Amount(o.DiscountAmount),
		ShippingFee:     Amount(o.ShippingFee),
		Total:           Amount(o.Total),
		PayNowTotal:     Amount(o.PayNowTotal),
		PayLaterTotal:   Amount(o.PayLaterTotal),
		PaidAmount:      Amount(o.PaidAmount),
		PaymentMethod:   o.PaymentMethod,
		PaymentStatus:   string(o.PaymentStatus),
		PaymentCode:     o.PaymentCode,
		ShippingMethod:  string(o.ShippingMethod),
		ShippingAddress: o.ShippingAddress,
		Note:            o.Note,
		Type:            string(o.Type),
		Status:          string(o.Status),
		CreatedAt:       o.CreatedAt,
		UpdatedAt:       o.UpdatedAt,
		PaidAt:          o.PaidAt,
	}
}
