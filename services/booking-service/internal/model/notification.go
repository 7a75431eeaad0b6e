package model

// Variant selects the notification template for a status change.
type Variant string

const (
	VariantRescheduledConfirmed   Variant = "rescheduled_confirmed"
	VariantRescheduledUnconfirmed Variant = "rescheduled_unconfirmed"
	VariantCancelledConfirmed     Variant = "cancelled_confirmed"
	VariantCancelledUnconfirmed   Variant = "cancelled_unconfirmed"
)

// VariantFor returns the variant for a new status and confirmation flag. ok is false for
// statuses that do not notify.
func VariantFor(status Status, confirmed bool) (Variant, bool) {
	switch {
	case status == StatusRescheduled && confirmed:
		return VariantRescheduledConfirmed, true
	case status == StatusRescheduled:
		return VariantRescheduledUnconfirmed, true
	case status == StatusCancelled && confirmed:
		return VariantCancelledConfirmed, true
	case status == StatusCancelled:
		return VariantCancelledUnconfirmed, true
	}
	return "", false
}

func (v Variant) Valid() bool {
	switch v {
	case VariantRescheduledConfirmed, VariantRescheduledUnconfirmed, VariantCancelledConfirmed, VariantCancelledUnconfirmed:
		return true
	}
	return false
}
