package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/stripe/stripe-go/v79/webhook"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/storage"
)

const whsec = "whsec_test_secret"

func stripeEvent(t *testing.T, eventType, appointmentID string) []byte {
	t.Helper()
	payload, err := json.Marshal(map[string]any{
		"id":          "evt_test_1",
		"object":      "event",
		"created":     time.Now().Unix(),
		"type":        eventType,
		"api_version": "2024-06-20",
		"data": map[string]any{
			"object": map[string]any{
				"id":       "pi_test_1",
				"object":   "payment_intent",
				"metadata": map[string]string{"appointment_id": appointmentID},
			},
		},
	})
	require.NoError(t, err)
	return payload
}

func postSigned(t *testing.T, h http.Handler, payload []byte, secret string) *httptest.ResponseRecorder {
	t.Helper()
	signed := webhook.GenerateTestSignedPayload(&webhook.UnsignedPayload{
		Payload:   payload,
		Secret:    secret,
		Timestamp: time.Now(),
		Scheme:    "v1",
	})
	req := httptest.NewRequest(http.MethodPost, "/webhooks/stripe", bytes.NewReader(payload))
	req.Header.Set("Stripe-Signature", signed.Header)
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func newWebhook(t *testing.T, status model.PaymentStatus) (*StripeWebhookHandler, *storage.Memory) {
	t.Helper()
	store := storage.NewMemory()
	require.NoError(t, store.Payments().Create(context.Background(), model.PaymentRecord{
		AppointmentID: "appt-1",
		Status:        status,
		AmountMinor:   4500,
		Currency:      "gbp",
	}))
	return NewStripeWebhookHandler(store.Payments(), whsec, 0, slog.New(slog.NewTextHandler(io.Discard, nil))), store
}

func TestStripeWebhookMarksPaid(t *testing.T) {
	h, store := newWebhook(t, model.PaymentPendingCharge)
	rec := postSigned(t, h, stripeEvent(t, "payment_intent.succeeded", "appt-1"), whsec)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.JSONEq(t, `{"status":"paid"}`, rec.Body.String())

	got, ok, err := store.Payments().Find(context.Background(), "appt-1")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.PaymentPaid, got.Status)
	assert.Equal(t, "pi_test_1", got.ChargeRef)
}

func TestStripeWebhookFailureNeverDowngradesPaid(t *testing.T) {
	h, store := newWebhook(t, model.PaymentPaid)
	rec := postSigned(t, h, stripeEvent(t, "payment_intent.payment_failed", "appt-1"), whsec)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"unchanged"}`, rec.Body.String())

	got, _, err := store.Payments().Find(context.Background(), "appt-1")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, got.Status)
}

func TestStripeWebhookRejectsBadSignature(t *testing.T) {
	h, _ := newWebhook(t, model.PaymentPendingCharge)
	rec := postSigned(t, h, stripeEvent(t, "payment_intent.succeeded", "appt-1"), "whsec_other")
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStripeWebhookIgnoresOtherEvents(t *testing.T) {
	h, _ := newWebhook(t, model.PaymentPendingCharge)
	rec := postSigned(t, h, stripeEvent(t, "charge.refunded", "appt-1"), whsec)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"ignored"}`, rec.Body.String())

	rec = postSigned(t, h, stripeEvent(t, "payment_intent.succeeded", "appt-unknown"), whsec)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.JSONEq(t, `{"status":"unknown_appointment"}`, rec.Body.String())
}
