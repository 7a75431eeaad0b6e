package billing

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/stripe/stripe-go/v79"
	"github.com/stripe/stripe-go/v79/paymentintent"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

// ErrDeclined marks a charge the gateway refused; retrying it will not help.
var ErrDeclined = errors.New("charge declined")

type Charger interface {
	// Charge collects rec's amount and returns the gateway reference.
	Charge(ctx context.Context, rec model.PaymentRecord) (string, error)
}

type StripeCharger struct {
	client paymentintent.Client
}

func NewStripeCharger(secretKey string) *StripeCharger {
	return &StripeCharger{client: paymentintent.Client{
		B:   stripe.GetBackend(stripe.APIBackend),
		Key: strings.TrimSpace(secretKey),
	}}
}

func (c *StripeCharger) Charge(ctx context.Context, rec model.PaymentRecord) (string, error) {
	if rec.AmountMinor <= 0 {
		return "", fmt.Errorf("payment %s: nothing to charge", rec.AppointmentID)
	}
	params := &stripe.PaymentIntentParams{
		Amount:     stripe.Int64(rec.AmountMinor),
		Currency:   stripe.String(strings.ToLower(rec.Currency)),
		Confirm:    stripe.Bool(true),
		OffSession: stripe.Bool(true),
	}
	if rec.CustomerRef != "" {
		params.Customer = stripe.String(rec.CustomerRef)
	}
	if rec.PaymentMethodRef != "" {
		params.PaymentMethod = stripe.String(rec.PaymentMethodRef)
	}
	params.Context = ctx
	params.IdempotencyKey = stripe.String(IdempotencyKey(rec))
	params.AddMetadata("appointment_id", rec.AppointmentID)

	pi, err := c.client.New(params)
	if err != nil {
		return "", classify(err)
	}
	if pi.Status != stripe.PaymentIntentStatusSucceeded && pi.Status != stripe.PaymentIntentStatusProcessing {
		return pi.ID, fmt.Errorf("payment intent %s is %s: %w", pi.ID, pi.Status, ErrDeclined)
	}
	return pi.ID, nil
}

// IdempotencyKey is stable per appointment so a retried job never charges twice.
func IdempotencyKey(rec model.PaymentRecord) string {
	return "charge:" + rec.AppointmentID
}

func classify(err error) error {
	var se *stripe.Error
	if errors.As(err, &se) && se.Type == stripe.ErrorTypeCard {
		return fmt.Errorf("%s: %w", se.Msg, ErrDeclined)
	}
	return err
}

// NoopCharger accepts every charge. Used when no gateway key is configured.
type NoopCharger struct{}

func (NoopCharger) Charge(_ context.Context, rec model.PaymentRecord) (string, error) {
	return "noop_" + rec.AppointmentID, nil
}
