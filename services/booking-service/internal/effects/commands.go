// Package effects describes side effects produced by appointment writes and executes them
// after the write has committed.
package effects

import (
	"fmt"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

// Command is an outbound side effect. Commands are plain values so callers can inspect them
// before anything is executed.
type Command interface {
	// Target names the collaborator that executes the command.
	Target() string
	String() string
}

const (
	TargetJobs          = "jobs"
	TargetPayments      = "payments"
	TargetNotifications = "notifications"
)

type ScheduleJob struct {
	Name    string
	RunAt   time.Time
	Payload map[string]any
}

func (ScheduleJob) Target() string { return TargetJobs }
func (c ScheduleJob) String() string {
	return fmt.Sprintf("schedule %s at %s", c.Name, c.RunAt.UTC().Format(time.RFC3339))
}

type CancelJob struct {
	Name string
}

func (CancelJob) Target() string   { return TargetJobs }
func (c CancelJob) String() string { return "cancel " + c.Name }

type CreatePayment struct {
	Record model.PaymentRecord
}

func (CreatePayment) Target() string { return TargetPayments }
func (c CreatePayment) String() string {
	return fmt.Sprintf("create payment %s %s", c.Record.AppointmentID, c.Record.Status)
}

type UpdatePayment struct {
	Record model.PaymentRecord
	Status model.PaymentStatus
}

func (UpdatePayment) Target() string { return TargetPayments }
func (c UpdatePayment) String() string {
	return fmt.Sprintf("update payment %s %s->%s", c.Record.AppointmentID, c.Record.Status, c.Status)
}

type DestroyPayment struct {
	Record model.PaymentRecord
}

func (DestroyPayment) Target() string   { return TargetPayments }
func (c DestroyPayment) String() string { return "destroy payment " + c.Record.AppointmentID }

// Notify addresses one recipient. Index 0 is the user; administrators are numbered from 1.
type Notify struct {
	Variant     model.Variant
	Appointment model.Appointment
	Recipient   model.Recipient
	Index       int
}

func (Notify) Target() string { return TargetNotifications }
func (c Notify) String() string {
	return fmt.Sprintf("notify %s #%d %s", c.Variant, c.Index, c.Appointment.ID)
}
