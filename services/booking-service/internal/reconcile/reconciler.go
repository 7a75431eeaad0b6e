// Package reconcile turns an appointment's old/new state into the side effects that keep the
// charge job, the payment record and notifications consistent with its status.
package reconcile

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/effects"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

const DefaultRescheduleDelay = 10 * time.Minute

type JobLookup interface {
	RunTimeOf(ctx context.Context, name string) (time.Time, bool, error)
}

type PaymentLookup interface {
	Find(ctx context.Context, appointmentID string) (model.PaymentRecord, bool, error)
}

type AdministratorDirectory interface {
	// Administrators returns administrators in a stable order.
	Administrators(ctx context.Context) ([]model.Recipient, error)
}

type UserDirectory interface {
	User(ctx context.Context, ref string) (model.Recipient, bool, error)
}

type Config struct {
	RescheduleDelay time.Duration
	Now             func() time.Time
}

// Reconciler only reads collaborators; every write it decides on is returned as a command.
type Reconciler struct {
	jobs     JobLookup
	payments PaymentLookup
	admins   AdministratorDirectory
	users    UserDirectory
	delay    time.Duration
	now      func() time.Time
}

func New(jobs JobLookup, payments PaymentLookup, admins AdministratorDirectory, users UserDirectory, cfg Config) *Reconciler {
	if cfg.RescheduleDelay <= 0 {
		cfg.RescheduleDelay = DefaultRescheduleDelay
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	return &Reconciler{
		jobs:     jobs,
		payments: payments,
		admins:   admins,
		users:    users,
		delay:    cfg.RescheduleDelay,
		now:      cfg.Now,
	}
}

// Reconcile returns the commands for the transition old -> updated. The flows are independent:
// a lookup failure in one is reported in the returned error while the others still contribute
// their commands.
func (r *Reconciler) Reconcile(ctx context.Context, old, updated model.Appointment) ([]effects.Command, error) {
	if old.Status.Terminal() {
		return nil, nil
	}
	var cmds []effects.Command
	var errs []error

	billing, err := r.billingJob(ctx, old, updated)
	if err != nil {
		errs = append(errs, fmt.Errorf("billing job: %w", err))
	}
	cmds = append(cmds, billing...)

	payment, err := r.payment(ctx, old, updated)
	if err != nil {
		errs = append(errs, fmt.Errorf("payment record: %w", err))
	}
	cmds = append(cmds, payment...)

	notes, err := r.notifications(ctx, old, updated)
	if err != nil {
		errs = append(errs, fmt.Errorf("notifications: %w", err))
	}
	cmds = append(cmds, notes...)

	return cmds, errors.Join(errs...)
}

func becameCancelled(old, updated model.Appointment) bool {
	return updated.Status == model.StatusCancelled && old.Status != model.StatusCancelled
}

func rescheduledWithNewTime(old, updated model.Appointment) bool {
	if updated.Status != model.StatusRescheduled {
		return false
	}
	return !old.RequestedStart.Equal(updated.RequestedStart) || !old.BusyStart.Equal(updated.BusyStart)
}

// becameRescheduled is the billing trigger: a repeat reschedule of an already rescheduled
// appointment leaves the charge job where the first one put it.
func becameRescheduled(old, updated model.Appointment) bool {
	return old.Status != model.StatusRescheduled && rescheduledWithNewTime(old, updated)
}

func (r *Reconciler) billingJob(ctx context.Context, old, updated model.Appointment) ([]effects.Command, error) {
	if updated.Category != model.CategoryServiceBooking {
		return nil, nil
	}
	reschedule := becameRescheduled(old, updated)
	cancel := becameCancelled(old, updated)
	if !reschedule && !cancel {
		return nil, nil
	}
	if r.jobs == nil {
		return nil, errors.New("job lookup not configured")
	}

	name := model.ChargeJobName(updated.ID)
	runAt, ok, err := r.jobs.RunTimeOf(ctx, name)
	if err != nil {
		return nil, err
	}
	now := r.now()
	if !ok || !runAt.After(now) {
		return nil, nil
	}

	cmds := []effects.Command{effects.CancelJob{Name: name}}
	if cancel {
		return cmds, nil
	}
	return append(cmds, effects.ScheduleJob{
		Name:    name,
		RunAt:   now.Add(r.delay),
		Payload: map[string]any{"appointment_id": updated.ID},
	}), nil
}

func (r *Reconciler) payment(ctx context.Context, old, updated model.Appointment) ([]effects.Command, error) {
	markPaid := updated.PaymentStatus == model.PaymentPaid
	cancel := becameCancelled(old, updated)
	if !markPaid && !cancel {
		return nil, nil
	}
	if r.payments == nil {
		return nil, errors.New("payment lookup not configured")
	}
	record, ok, err := r.payments.Find(ctx, updated.ID)
	if err != nil || !ok {
		return nil, err
	}

	var cmds []effects.Command
	if markPaid && record.Status != model.PaymentPaid {
		cmds = append(cmds, effects.UpdatePayment{Record: record, Status: model.PaymentPaid})
		record.Status = model.PaymentPaid
	}
	if cancel && record.Status == model.PaymentPendingCharge {
		cmds = append(cmds, effects.DestroyPayment{Record: record})
	}
	return cmds, nil
}

func (r *Reconciler) notifications(ctx context.Context, old, updated model.Appointment) ([]effects.Command, error) {
	if updated.Status == old.Status && !rescheduledWithNewTime(old, updated) {
		return nil, nil
	}
	variant, ok := model.VariantFor(updated.Status, updated.Confirmed)
	if !ok {
		return nil, nil
	}

	var cmds []effects.Command
	var errs []error
	if updated.UserRef != "" {
		user := model.Recipient{ID: updated.UserRef}
		if r.users != nil {
			found, ok, err := r.users.User(ctx, updated.UserRef)
			switch {
			case err != nil:
				errs = append(errs, fmt.Errorf("user %s: %w", updated.UserRef, err))
			case ok:
				user = found
			}
		}
		cmds = append(cmds, effects.Notify{Variant: variant, Appointment: updated, Recipient: user, Index: 0})
	}

	if r.admins != nil {
		admins, err := r.admins.Administrators(ctx)
		if err != nil {
			errs = append(errs, fmt.Errorf("administrators: %w", err))
		}
		for i, admin := range admins {
			cmds = append(cmds, effects.Notify{Variant: variant, Appointment: updated, Recipient: admin, Index: i + 1})
		}
	}
	return cmds, errors.Join(errs...)
}
