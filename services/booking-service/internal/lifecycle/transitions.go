package lifecycle

import (
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

var transitions = map[model.Status][]model.Status{
	model.StatusUnconfirmed: {model.StatusConfirmed, model.StatusRescheduled, model.StatusCancelled, model.StatusNoShow},
	model.StatusConfirmed:   {model.StatusDone, model.StatusRescheduled, model.StatusCancelled, model.StatusNoShow},
	model.StatusRescheduled: {model.StatusConfirmed, model.StatusRescheduled, model.StatusCancelled, model.StatusDone, model.StatusNoShow},
}

// CanTransition reports whether from -> to is allowed. Keeping the same status is always allowed.
func CanTransition(from, to model.Status) bool {
	if from == to {
		return true
	}
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

func checkTransition(from, to model.Status) error {
	if !to.Valid() {
		return validation.Invalid("status", string(to), "unknown status")
	}
	if CanTransition(from, to) {
		return nil
	}
	if from.Terminal() {
		return validation.Invalid("status", string(to), "appointment is already "+string(from))
	}
	return validation.Invalid("status", string(to), "cannot change from "+string(from))
}
