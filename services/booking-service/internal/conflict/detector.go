package conflict

import (
	"context"
	"fmt"
	"strings"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

const (
	MessageOverlapsExisting = "the new time overlaps an existing appointment"
	MessageSlotTaken        = "this slot has just been taken, please choose another time"
)

// Error reports that a candidate interval overlaps active appointments of the same provider.
type Error struct {
	Message        string
	ConflictingIDs []string
}

func (e *Error) Error() string {
	if len(e.ConflictingIDs) == 0 {
		return "conflict: " + e.Message
	}
	return fmt.Sprintf("conflict: %s (%s)", e.Message, strings.Join(e.ConflictingIDs, ", "))
}

// Finder returns the provider's active appointments whose busy interval overlaps iv,
// excluding excludeID when it is non-empty.
type Finder interface {
	FindOverlapping(ctx context.Context, providerRef string, iv availability.Interval, excludeID string) ([]model.Appointment, error)
}

type Candidate struct {
	ID          string
	ProviderRef string
	Status      model.Status
	Busy        availability.Interval
}

func CandidateOf(a model.Appointment) Candidate {
	return Candidate{
		ID:          a.ID,
		ProviderRef: a.ProviderRef,
		Status:      a.Status,
		Busy:        availability.Interval{Start: a.BusyStart, End: a.BusyEnd},
	}
}

type Detector struct {
	finder Finder
}

func NewDetector(finder Finder) *Detector {
	return &Detector{finder: finder}
}

// Check returns nil when the candidate is free, *Error when it overlaps, or the finder's error.
// Inactive candidates never conflict.
func (d *Detector) Check(ctx context.Context, c Candidate) error {
	if !c.Status.Active() {
		return nil
	}
	found, err := d.finder.FindOverlapping(ctx, c.ProviderRef, c.Busy, c.ID)
	if err != nil {
		return fmt.Errorf("find overlapping: %w", err)
	}
	var ids []string
	for _, a := range found {
		if a.ID == c.ID && c.ID != "" {
			continue
		}
		if !a.Status.Active() {
			continue
		}
		if !c.Busy.Overlaps(availability.Interval{Start: a.BusyStart, End: a.BusyEnd}) {
			continue
		}
		ids = append(ids, a.ID)
	}
	if len(ids) == 0 {
		return nil
	}
	return NewError(c.Status, ids...)
}

// NewError builds the status-sensitive conflict error for a candidate.
func NewError(status model.Status, ids ...string) *Error {
	msg := MessageSlotTaken
	if status == model.StatusRescheduled {
		msg = MessageOverlapsExisting
	}
	return &Error{Message: msg, ConflictingIDs: ids}
}
