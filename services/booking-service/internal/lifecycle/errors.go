package lifecycle

import (
	"fmt"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

type (
	ValidationError = validation.Error
	ConflictError   = conflict.Error
)

var (
	ErrNotFound = model.ErrNotFound
	ErrStale    = model.ErrStale
)

// ImmutableError is returned when deleting an appointment whose category may not be removed.
type ImmutableError struct {
	ID       string
	Category model.Category
}

func (e *ImmutableError) Error() string {
	return fmt.Sprintf("appointment %s: %s appointments cannot be deleted", e.ID, e.Category)
}
