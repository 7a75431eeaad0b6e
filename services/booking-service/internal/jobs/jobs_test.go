package jobs

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/billing"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

func TestDecide(t *testing.T) {
	now := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	job := Job{Attempts: 1, MaxAttempts: 3}

	tests := []struct {
		name      string
		err       error
		status    model.PaymentStatus
		nextRunAt time.Time
	}{
		{name: "charged", err: nil, status: model.PaymentPaid},
		{name: "transient failure retries with growing backoff", err: errors.New("timeout"), status: model.PaymentNone, nextRunAt: now.Add(2 * time.Minute)},
		{name: "declined fails immediately", err: fmt.Errorf("card: %w", billing.ErrDeclined), status: model.PaymentFailed, nextRunAt: now.Add(2 * time.Minute)},
	}
	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			o := decide(job, tc.err, now, time.Minute)
			assert.Equal(t, tc.status, o.paymentStatus)
			assert.Equal(t, 2, o.attempts)
			assert.Equal(t, tc.nextRunAt, o.nextRunAt)
		})
	}
}

func TestDecideExhaustsAttempts(t *testing.T) {
	o := decide(Job{Attempts: 4, MaxAttempts: 5}, errors.New("gateway down"), time.Now(), time.Minute)
	assert.Equal(t, model.PaymentFailed, o.paymentStatus)
	assert.Equal(t, 5, o.attempts)
}

func TestAppointmentOf(t *testing.T) {
	assert.Equal(t, "a-1", appointmentOf("charge_appointment:zzz", map[string]any{"appointment_id": "a-1"}))
	assert.Equal(t, "a-2", appointmentOf(model.ChargeJobName("a-2"), nil))
	assert.Equal(t, "bare", appointmentOf("bare", map[string]any{}))
}
