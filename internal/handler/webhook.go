package handler

import (
	"context"
	"io"
	"net/http"
	"strings"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/go-faster/sdk/zctx"
	"github.com/shopspring/decimal"
	"go.uber.org/zap"

	"github.com/xenking/transfer-checkout/internal/domain/apperr"
	"github.com/xenking/transfer-checkout/internal/domain/payment"
)

// transferNotification is the provider payload reduced to what matters for
// reconciliation. Providers disagree on key names, so several are accepted
// for each value.
type transferNotification struct {
	Code           string
	Content        string
	Description    string
	Amount         string
	TransactionID  string
	Reference      string
	NotificationID string
	TransferType   string
}

func (n *transferNotification) Decode(d *jx.Decoder) error {
	return d.ObjBytes(func(d *jx.Decoder, key []byte) error {
		var dst *string
		switch string(key) {
		case "code":
			dst = &n.Code
		case "content":
			dst = &n.Content
		case "description":
			dst = &n.Description
		case "amount", "transferAmount", "amount_vnd":
			dst = &n.Amount
		case "id", "transaction_id", "transactionId", "txid":
			dst = &n.TransactionID
		case "referenceCode", "reference_code":
			dst = &n.Reference
		case "eventId", "event_id", "webhookId", "webhook_id":
			dst = &n.NotificationID
		case "transferType", "transfer_type":
			dst = &n.TransferType
		default:
			return d.Skip()
		}
		v, err := scalar(d)
		if err != nil {
			return errors.Wrapf(err, "field %q", key)
		}
		// First non-empty alias wins.
		if *dst == "" {
			*dst = v
		}
		return nil
	})
}

// scalar reads a string, number or null as text. Other values are skipped.
func scalar(d *jx.Decoder) (string, error) {
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		return strings.TrimSpace(s), err
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return "", err
		}
		return n.String(), nil
	case jx.Null:
		return "", d.Null()
	default:
		return "", d.Skip()
	}
}

type webhookResponse struct {
	Success       bool
	Message       string
	OrderID       string
	PaymentStatus string
}

func (res webhookResponse) Encode(e *jx.Encoder) {
	e.ObjStart()
	e.FieldStart("success")
	e.Bool(res.Success)
	e.FieldStart("message")
	e.Str(res.Message)
	if res.OrderID != "" {
		e.FieldStart("orderId")
		e.Str(res.OrderID)
	}
	if res.PaymentStatus != "" {
		e.FieldStart("paymentStatus")
		e.Str(res.PaymentStatus)
	}
	e.ObjEnd()
}

func writeWebhook(w http.ResponseWriter, status int, res webhookResponse) {
	var e jx.Encoder
	res.Encode(&e)
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

// PaymentWebhook receives inbound transfer notifications. Every business
// outcome is acknowledged with 200 so the sender stops retrying; only a bad
// shared secret (401) and a storage failure (500, so the sender redelivers)
// answer otherwise.
func (h *Handler) PaymentWebhook(w http.ResponseWriter, r *http.Request) {
	ctx := r.Context()
	lg := zctx.From(ctx)

	if !webhookTokenValid(r, h.payment.WebhookSecret) {
		lg.Warn("Rejected payment notification with invalid signature")
		writeWebhook(w, http.StatusUnauthorized, webhookResponse{Message: "Invalid signature"})
		return
	}

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		writeWebhook(w, http.StatusOK, webhookResponse{Message: "Unreadable payload"})
		return
	}
	var n transferNotification
	if err := n.Decode(jx.DecodeBytes(body)); err != nil {
		lg.Warn("Malformed payment notification", zap.Error(err))
		writeWebhook(w, http.StatusOK, webhookResponse{Message: "Invalid payload"})
		return
	}

	if strings.EqualFold(n.TransferType, "out") {
		writeWebhook(w, http.StatusOK, webhookResponse{Success: true, Message: "Outbound transfer ignored"})
		return
	}

	code, ok := h.paymentCode(&n)
	if !ok {
		lg.Info("Payment notification without payment code",
			zap.String("transaction_id", n.TransactionID),
			zap.String("content", n.Content),
		)
		writeWebhook(w, http.StatusOK, webhookResponse{Success: true, Message: "No payment code"})
		return
	}

	amount, err := decimal.NewFromString(n.Amount)
	if err != nil {
		amount = decimal.Zero
	}
	txID := firstString(n.TransactionID, n.Reference)

	key := firstString(n.NotificationID, txID)
	var committed bool
	if key != "" {
		claimed, err := h.guard.Claim(ctx, key)
		switch {
		case err != nil:
			lg.Warn("Notification guard unavailable", zap.Error(err))
		case !claimed:
			lg.Debug("Notification already in flight or processed", zap.String("key", key))
			writeWebhook(w, http.StatusOK, webhookResponse{Success: true, Message: "Duplicate notification"})
			return
		default:
			// Runs on every exit, panics included. The request context may
			// already be cancelled when storage failed.
			defer h.settleClaim(context.WithoutCancel(ctx), key, &committed)
		}
	}

	res, err := h.reconciler.ApplyInboundTransfer(ctx, payment.Transfer{
		PaymentCode:    code,
		Amount:         amount,
		TransactionID:  txID,
		NotificationID: n.NotificationID,
	})
	switch {
	case err == nil:
		committed = true
	case errors.Is(err, apperr.ErrNotFound):
		writeWebhook(w, http.StatusOK, webhookResponse{Success: true, Message: apperr.Message(err)})
		return
	case errors.Is(err, apperr.ErrInvalidInput), errors.Is(err, apperr.ErrInvalidState):
		writeWebhook(w, http.StatusOK, webhookResponse{Message: apperr.Message(err)})
		return
	default:
		lg.Error("Apply payment notification", zap.Error(err))
		writeWebhook(w, http.StatusInternalServerError, webhookResponse{Message: "Internal server error"})
		return
	}

	msg := "Order updated"
	if !res.Applied {
		msg = "Payment already applied"
	}
	writeWebhook(w, http.StatusOK, webhookResponse{
		Success:       true,
		Message:       msg,
		OrderID:       res.Order.ID,
		PaymentStatus: string(res.Order.PaymentStatus),
	})
}

// settleClaim marks the notification processed once its credit is stored and
// releases the claim otherwise, so a redelivery is reconciled again.
func (h *Handler) settleClaim(ctx context.Context, key string, committed *bool) {
	lg := zctx.From(ctx).With(zap.String("key", key))
	if *committed {
		if err := h.guard.Complete(ctx, key); err != nil {
			lg.Warn("Complete notification guard", zap.Error(err))
		}
		return
	}
	if err := h.guard.Release(ctx, key); err != nil {
		lg.Warn("Release notification guard", zap.Error(err))
	}
}

// paymentCode finds the payment code in the explicit code field or, failing
// that, in the transfer memo.
func (h *Handler) paymentCode(n *transferNotification) (string, bool) {
	for _, raw := range []string{n.Code, n.Content, n.Description} {
		if raw == "" {
			continue
		}
		if code, ok := h.codes.Normalize(raw); ok {
			return code, true
		}
	}
	return "", false
}
