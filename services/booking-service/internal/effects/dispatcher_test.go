package effects

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type recorder struct {
	calls []string
	fail  map[string]error
}

func (r *recorder) record(name string) error {
	r.calls = append(r.calls, name)
	return r.fail[name]
}

func (r *recorder) Schedule(_ context.Context, name string, _ time.Time, _ map[string]any) error {
	return r.record("schedule:" + name)
}

func (r *recorder) Cancel(_ context.Context, name string) error {
	return r.record("cancel:" + name)
}

func (r *recorder) Create(_ context.Context, rec model.PaymentRecord) error {
	return r.record("create:" + rec.AppointmentID)
}

func (r *recorder) Update(_ context.Context, rec model.PaymentRecord, status model.PaymentStatus) error {
	return r.record("update:" + rec.AppointmentID + ":" + string(status))
}

func (r *recorder) Destroy(_ context.Context, rec model.PaymentRecord) error {
	return r.record("destroy:" + rec.AppointmentID)
}

func (r *recorder) Notify(_ context.Context, v model.Variant, _ model.Appointment, rcp model.Recipient, _ int) error {
	return r.record("notify:" + string(v) + ":" + rcp.ID)
}

func TestDispatch_RunsAllCommandsInOrder(t *testing.T) {
	rec := &recorder{}
	d := NewDispatcher(rec, rec, rec, nil, BreakerConfig{})

	failed := d.Dispatch(context.Background(), []Command{
		CancelJob{Name: "charge_appointment:a"},
		ScheduleJob{Name: "charge_appointment:a", RunAt: time.Now()},
		UpdatePayment{Record: model.PaymentRecord{AppointmentID: "a"}, Status: model.PaymentPaid},
		Notify{Variant: model.VariantCancelledConfirmed, Recipient: model.Recipient{ID: "u"}},
	})
	assert.Zero(t, failed)
	assert.Equal(t, []string{
		"cancel:charge_appointment:a",
		"schedule:charge_appointment:a",
		"update:a:paid",
		"notify:cancelled_confirmed:u",
	}, rec.calls)
}

func TestDispatch_FailureIsIsolated(t *testing.T) {
	rec := &recorder{fail: map[string]error{"cancel:job": errors.New("scheduler down")}}
	d := NewDispatcher(rec, rec, rec, nil, BreakerConfig{})

	failed := d.Dispatch(context.Background(), []Command{
		CancelJob{Name: "job"},
		DestroyPayment{Record: model.PaymentRecord{AppointmentID: "a"}},
		Notify{Variant: model.VariantCancelledUnconfirmed, Recipient: model.Recipient{ID: "admin"}, Index: 1},
	})
	assert.Equal(t, 1, failed)
	assert.Equal(t, []string{"cancel:job", "destroy:a", "notify:cancelled_unconfirmed:admin"}, rec.calls)
}

func TestDispatch_OpenBreakerStopsCalls(t *testing.T) {
	rec := &recorder{fail: map[string]error{"notify:rescheduled_confirmed:u": errors.New("smtp down")}}
	d := NewDispatcher(nil, nil, rec, nil, BreakerConfig{FailureThreshold: 2, Timeout: time.Hour})

	cmd := Notify{Variant: model.VariantRescheduledConfirmed, Recipient: model.Recipient{ID: "u"}}
	failed := d.Dispatch(context.Background(), []Command{cmd, cmd, cmd, cmd})
	assert.Equal(t, 4, failed)
	require.Len(t, rec.calls, 2)
}

func TestDispatch_MissingCollaborator(t *testing.T) {
	d := NewDispatcher(nil, nil, nil, nil, BreakerConfig{})
	assert.Equal(t, 2, d.Dispatch(context.Background(), []Command{
		CancelJob{Name: "x"},
		CreatePayment{Record: model.PaymentRecord{AppointmentID: "a"}},
	}))
}
