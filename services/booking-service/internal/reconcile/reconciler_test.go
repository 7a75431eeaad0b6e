package reconcile

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/effects"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

var now = time.Date(2026, 3, 2, 8, 0, 0, 0, time.UTC)

type fakeJobs struct {
	runAt map[string]time.Time
	err   error
}

func (f fakeJobs) RunTimeOf(_ context.Context, name string) (time.Time, bool, error) {
	if f.err != nil {
		return time.Time{}, false, f.err
	}
	t, ok := f.runAt[name]
	return t, ok, nil
}

type fakePayments map[string]model.PaymentRecord

func (f fakePayments) Find(_ context.Context, id string) (model.PaymentRecord, bool, error) {
	rec, ok := f[id]
	return rec, ok, nil
}

type fakeAdmins struct {
	list []model.Recipient
	err  error
}

func (f fakeAdmins) Administrators(context.Context) ([]model.Recipient, error) {
	return f.list, f.err
}

type fakeUsers map[string]model.Recipient

func (f fakeUsers) User(_ context.Context, ref string) (model.Recipient, bool, error) {
	u, ok := f[ref]
	return u, ok, nil
}

func confirmedBooking() model.Appointment {
	start := now.Add(26 * time.Hour)
	return model.Appointment{
		ID:             "a-1",
		Category:       model.CategoryServiceBooking,
		Status:         model.StatusConfirmed,
		Confirmed:      true,
		ProviderRef:    "p-1",
		UserRef:        "u-1",
		RequestedStart: start,
		ServiceStart:   start,
		BusyStart:      start.Add(-20 * time.Minute),
	}
}

func newReconciler(jobs JobLookup, payments PaymentLookup, admins AdministratorDirectory) *Reconciler {
	return New(jobs, payments, admins, nil, Config{Now: func() time.Time { return now }})
}

func commandsOf[T effects.Command](cmds []effects.Command) []T {
	var out []T
	for _, c := range cmds {
		if v, ok := c.(T); ok {
			out = append(out, v)
		}
	}
	return out
}

func TestReconcile_CancelWithFutureJobCancelsOnly(t *testing.T) {
	old := confirmedBooking()
	updated := old
	updated.Status = model.StatusCancelled

	jobs := fakeJobs{runAt: map[string]time.Time{"charge_appointment:a-1": now.Add(2 * time.Hour)}}
	cmds, err := newReconciler(jobs, fakePayments{}, nil).Reconcile(context.Background(), old, updated)
	require.NoError(t, err)

	assert.Equal(t, []effects.CancelJob{{Name: "charge_appointment:a-1"}}, commandsOf[effects.CancelJob](cmds))
	assert.Empty(t, commandsOf[effects.ScheduleJob](cmds))
}

func TestReconcile_RescheduleReplacesFutureJob(t *testing.T) {
	old := confirmedBooking()
	updated := old
	updated.Status = model.StatusRescheduled
	updated.RequestedStart = old.RequestedStart.Add(3 * time.Hour)

	jobs := fakeJobs{runAt: map[string]time.Time{"charge_appointment:a-1": now.Add(time.Hour)}}
	cmds, err := newReconciler(jobs, fakePayments{}, nil).Reconcile(context.Background(), old, updated)
	require.NoError(t, err)

	require.Len(t, commandsOf[effects.CancelJob](cmds), 1)
	scheduled := commandsOf[effects.ScheduleJob](cmds)
	require.Len(t, scheduled, 1)
	assert.Equal(t, now.Add(10*time.Minute), scheduled[0].RunAt)
	assert.Equal(t, "charge_appointment:a-1", scheduled[0].Name)
	assert.Equal(t, "a-1", scheduled[0].Payload["appointment_id"])

	// cancel precedes schedule
	_, first := cmds[0].(effects.CancelJob)
	assert.True(t, first)
}

func TestReconcile_RepeatRescheduleKeepsJobButNotifies(t *testing.T) {
	old := confirmedBooking()
	old.Status = model.StatusRescheduled
	updated := old
	updated.RequestedStart = old.RequestedStart.Add(2 * time.Hour)
	updated.BusyStart = old.BusyStart.Add(2 * time.Hour)

	jobs := fakeJobs{runAt: map[string]time.Time{"charge_appointment:a-1": now.Add(5 * time.Minute)}}
	cmds, err := newReconciler(jobs, fakePayments{}, nil).Reconcile(context.Background(), old, updated)
	require.NoError(t, err)
	assert.Empty(t, commandsOf[effects.CancelJob](cmds))
	assert.Empty(t, commandsOf[effects.ScheduleJob](cmds))
	assert.Len(t, commandsOf[effects.Notify](cmds), 1)
}

func TestReconcile_JobAlreadyRunIsUntouched(t *testing.T) {
	tests := []struct {
		name  string
		runAt time.Time
	}{
		{"past", now.Add(-time.Minute)},
		{"exactly now", now},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := confirmedBooking()
			updated := old
			updated.Status = model.StatusRescheduled
			updated.BusyStart = old.BusyStart.Add(time.Hour)

			jobs := fakeJobs{runAt: map[string]time.Time{"charge_appointment:a-1": tt.runAt}}
			cmds, err := newReconciler(jobs, fakePayments{}, nil).Reconcile(context.Background(), old, updated)
			require.NoError(t, err)
			assert.Empty(t, commandsOf[effects.CancelJob](cmds))
			assert.Empty(t, commandsOf[effects.ScheduleJob](cmds))
		})
	}
}

func TestReconcile_NoJobNoBillingCommands(t *testing.T) {
	old := confirmedBooking()
	updated := old
	updated.Status = model.StatusCancelled
	cmds, err := newReconciler(fakeJobs{}, fakePayments{}, nil).Reconcile(context.Background(), old, updated)
	require.NoError(t, err)
	assert.Empty(t, commandsOf[effects.CancelJob](cmds))
}

func TestReconcile_RescheduleWithoutTimeChangeLeavesJob(t *testing.T) {
	old := confirmedBooking()
	updated := old
	updated.Status = model.StatusRescheduled

	jobs := fakeJobs{runAt: map[string]time.Time{"charge_appointment:a-1": now.Add(time.Hour)}}
	cmds, err := newReconciler(jobs, fakePayments{}, nil).Reconcile(context.Background(), old, updated)
	require.NoError(t, err)
	assert.Empty(t, commandsOf[effects.CancelJob](cmds))
	assert.Len(t, commandsOf[effects.Notify](cmds), 1)
}

func TestReconcile_BusyBlockNeverTouchesJobs(t *testing.T) {
	old := confirmedBooking()
	old.Category = model.CategoryBusyBlock
	updated := old
	updated.Status = model.StatusCancelled

	jobs := fakeJobs{err: errors.New("must not be called")}
	cmds, err := newReconciler(jobs, fakePayments{}, nil).Reconcile(context.Background(), old, updated)
	require.NoError(t, err)
	assert.Empty(t, commandsOf[effects.CancelJob](cmds))
}

func TestReconcile_Payments(t *testing.T) {
	tests := []struct {
		name        string
		record      *model.PaymentRecord
		apptPayment model.PaymentStatus
		newStatus   model.Status
		wantUpdate  bool
		wantDestroy bool
	}{
		{
			name:        "cancel destroys pending charge",
			record:      &model.PaymentRecord{AppointmentID: "a-1", Status: model.PaymentPendingCharge},
			newStatus:   model.StatusCancelled,
			wantDestroy: true,
		},
		{
			name:      "cancel preserves paid record",
			record:    &model.PaymentRecord{AppointmentID: "a-1", Status: model.PaymentPaid},
			newStatus: model.StatusCancelled,
		},
		{
			name:      "cancel without record",
			newStatus: model.StatusCancelled,
		},
		{
			name:        "paid appointment syncs record",
			record:      &model.PaymentRecord{AppointmentID: "a-1", Status: model.PaymentPendingCharge},
			apptPayment: model.PaymentPaid,
			newStatus:   model.StatusDone,
			wantUpdate:  true,
		},
		{
			name:        "paid then cancelled keeps the record",
			record:      &model.PaymentRecord{AppointmentID: "a-1", Status: model.PaymentPendingCharge},
			apptPayment: model.PaymentPaid,
			newStatus:   model.StatusCancelled,
			wantUpdate:  true,
		},
		{
			name:        "already paid record is left alone",
			record:      &model.PaymentRecord{AppointmentID: "a-1", Status: model.PaymentPaid},
			apptPayment: model.PaymentPaid,
			newStatus:   model.StatusDone,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			payments := fakePayments{}
			if tt.record != nil {
				payments["a-1"] = *tt.record
			}
			old := confirmedBooking()
			updated := old
			updated.Status = tt.newStatus
			updated.PaymentStatus = tt.apptPayment

			cmds, err := newReconciler(fakeJobs{}, payments, nil).Reconcile(context.Background(), old, updated)
			require.NoError(t, err)

			updates := commandsOf[effects.UpdatePayment](cmds)
			destroys := commandsOf[effects.DestroyPayment](cmds)
			assert.Equal(t, tt.wantUpdate, len(updates) == 1)
			assert.Equal(t, tt.wantDestroy, len(destroys) == 1)
			if tt.wantUpdate {
				assert.Equal(t, model.PaymentPaid, updates[0].Status)
			}
		})
	}
}

func TestReconcile_NotificationFanOut(t *testing.T) {
	admins := fakeAdmins{list: []model.Recipient{{ID: "admin-a", Admin: true}, {ID: "admin-b", Admin: true}}}
	tests := []struct {
		name      string
		status    model.Status
		confirmed bool
		userRef   string
		want      model.Variant
		wantCount int
	}{
		{"cancelled confirmed", model.StatusCancelled, true, "u-1", model.VariantCancelledConfirmed, 3},
		{"cancelled unconfirmed", model.StatusCancelled, false, "u-1", model.VariantCancelledUnconfirmed, 3},
		{"rescheduled confirmed", model.StatusRescheduled, true, "u-1", model.VariantRescheduledConfirmed, 3},
		{"rescheduled unconfirmed", model.StatusRescheduled, false, "u-1", model.VariantRescheduledUnconfirmed, 3},
		{"no user only admins", model.StatusCancelled, true, "", model.VariantCancelledConfirmed, 2},
		{"done is silent", model.StatusDone, true, "u-1", "", 0},
		{"no show is silent", model.StatusNoShow, true, "u-1", "", 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			old := confirmedBooking()
			old.Status = model.StatusUnconfirmed
			old.UserRef = tt.userRef
			updated := old
			updated.Status = tt.status
			updated.Confirmed = tt.confirmed

			r := New(fakeJobs{}, fakePayments{}, admins, fakeUsers{"u-1": {ID: "u-1", Email: "u@example.com"}},
				Config{Now: func() time.Time { return now }})
			cmds, err := r.Reconcile(context.Background(), old, updated)
			require.NoError(t, err)

			notes := commandsOf[effects.Notify](cmds)
			require.Len(t, notes, tt.wantCount)
			for i, n := range notes {
				assert.Equal(t, tt.want, n.Variant)
				if tt.userRef != "" {
					assert.Equal(t, i, n.Index)
				} else {
					assert.Equal(t, i+1, n.Index)
				}
			}
			if tt.wantCount == 3 {
				assert.Equal(t, "u@example.com", notes[0].Recipient.Email)
				assert.Equal(t, "admin-a", notes[1].Recipient.ID)
				assert.Equal(t, "admin-b", notes[2].Recipient.ID)
			}
		})
	}
}

func TestReconcile_TerminalOldStatusIsQuiet(t *testing.T) {
	old := confirmedBooking()
	old.Status = model.StatusCancelled
	updated := old
	updated.PaymentStatus = model.PaymentPaid
	updated.Notes = "edited"

	cmds, err := newReconciler(fakeJobs{}, fakePayments{"a-1": {AppointmentID: "a-1", Status: model.PaymentPendingCharge}}, nil).
		Reconcile(context.Background(), old, updated)
	require.NoError(t, err)
	assert.Empty(t, cmds)
}

func TestReconcile_LookupFailureIsolated(t *testing.T) {
	old := confirmedBooking()
	updated := old
	updated.Status = model.StatusCancelled

	r := newReconciler(fakeJobs{err: errors.New("scheduler down")},
		fakePayments{"a-1": {AppointmentID: "a-1", Status: model.PaymentPendingCharge}},
		fakeAdmins{list: []model.Recipient{{ID: "admin"}}})
	cmds, err := r.Reconcile(context.Background(), old, updated)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "scheduler down")
	assert.Len(t, commandsOf[effects.DestroyPayment](cmds), 1)
	assert.Len(t, commandsOf[effects.Notify](cmds), 2)
}
