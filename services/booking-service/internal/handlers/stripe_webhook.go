package handlers

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"time"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/fieldbook/libs/httpx"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type PaymentRecords interface {
	Find(ctx context.Context, appointmentID string) (model.PaymentRecord, bool, error)
	Update(ctx context.Context, rec model.PaymentRecord, status model.PaymentStatus) error
}

// StripeWebhookHandler settles payment records from asynchronous PaymentIntent outcomes.
// It is mounted outside bearer auth; the signature is the authentication.
type StripeWebhookHandler struct {
	payments  PaymentRecords
	secret    string
	tolerance time.Duration
	logger    *slog.Logger
}

func NewStripeWebhookHandler(payments PaymentRecords, secret string, tolerance time.Duration, logger *slog.Logger) *StripeWebhookHandler {
	if tolerance <= 0 {
		tolerance = 5 * time.Minute
	}
	return &StripeWebhookHandler{
		payments:  payments,
		secret:    strings.TrimSpace(secret),
		tolerance: tolerance,
		logger:    logger,
	}
}

func (h *StripeWebhookHandler) Register(mux *http.ServeMux) {
	mux.HandleFunc("POST /webhooks/stripe", h.ServeHTTP)
}

func (h *StripeWebhookHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if h.secret == "" {
		httpx.WriteError(w, http.StatusServiceUnavailable, "stripe webhook not configured")
		return
	}
	sigHeader := strings.TrimSpace(r.Header.Get("Stripe-Signature"))
	if sigHeader == "" {
		httpx.WriteError(w, http.StatusBadRequest, "missing Stripe-Signature header")
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "failed to read request body")
		return
	}
	evt, err := webhook.ConstructEventWithOptions(body, sigHeader, h.secret, webhook.ConstructEventOptions{
		Tolerance:                h.tolerance,
		IgnoreAPIVersionMismatch: true,
	})
	if err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid signature")
		return
	}

	var target model.PaymentStatus
	switch evt.Type {
	case "payment_intent.succeeded":
		target = model.PaymentPaid
	case "payment_intent.payment_failed":
		target = model.PaymentFailed
	default:
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	var pi stripe.PaymentIntent
	if err := json.Unmarshal(evt.Data.Raw, &pi); err != nil {
		httpx.WriteError(w, http.StatusBadRequest, "invalid payment intent payload")
		return
	}
	appointmentID := pi.Metadata["appointment_id"]
	if appointmentID == "" {
		h.logger.Warn("stripe: payment intent without appointment_id", "payment_intent", pi.ID)
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ignored"})
		return
	}

	status, err := h.settle(r.Context(), appointmentID, pi.ID, target)
	if err != nil {
		h.logger.Error("stripe: settle payment failed", "err", err, "appointment_id", appointmentID)
		httpx.WriteError(w, http.StatusInternalServerError, "failed to update payment")
		return
	}
	h.logger.Info("stripe event processed",
		"provider_event_id", evt.ID,
		"event_type", evt.Type,
		"appointment_id", appointmentID,
		"result", status,
	)
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": status})
}

// settle moves the record towards target. A paid record is final.
func (h *StripeWebhookHandler) settle(ctx context.Context, appointmentID, chargeRef string, target model.PaymentStatus) (string, error) {
	rec, ok, err := h.payments.Find(ctx, appointmentID)
	if err != nil {
		return "", err
	}
	if !ok {
		return "unknown_appointment", nil
	}
	if rec.Status == target || rec.Status == model.PaymentPaid {
		return "unchanged", nil
	}
	if target == model.PaymentFailed && rec.Status != model.PaymentPendingCharge {
		return "unchanged", nil
	}
	rec.ChargeRef = chargeRef
	if err := h.payments.Update(ctx, rec, target); err != nil {
		return "", err
	}
	return string(target), nil
}
