package model

import "time"

type PaymentStatus string

const (
	PaymentNone          PaymentStatus = ""
	PaymentPendingCharge PaymentStatus = "pending_charge"
	PaymentPaid          PaymentStatus = "paid"
	PaymentFailed        PaymentStatus = "failed"
)

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentNone, PaymentPendingCharge, PaymentPaid, PaymentFailed:
		return true
	}
	return false
}

// PaymentRecord is owned one-to-one by an appointment.
type PaymentRecord struct {
	AppointmentID    string
	Status           PaymentStatus
	AmountMinor      int64
	Currency         string
	CustomerRef      string
	PaymentMethodRef string
	ChargeRef        string
	CreatedAt        time.Time
	UpdatedAt        time.Time
}

// ChargeJobName is the deterministic name of an appointment's deferred charge job.
func ChargeJobName(appointmentID string) string {
	return "charge_appointment:" + appointmentID
}
