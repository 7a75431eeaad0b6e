// Package validation holds the structural rules every appointment write must pass.
package validation

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

// Error names the offending field and value.
type Error struct {
	Field  string
	Value  string
	Reason string
}

func (e *Error) Error() string {
	if e.Value == "" {
		return fmt.Sprintf("%s: %s", e.Field, e.Reason)
	}
	return fmt.Sprintf("%s %q: %s", e.Field, e.Value, e.Reason)
}

func Invalid(field, value, reason string) *Error {
	return &Error{Field: field, Value: value, Reason: reason}
}

// Rule inspects one aspect of an appointment and returns nil when it holds.
type Rule func(a model.Appointment) *Error

var common = []Rule{
	validCategory,
	validStatus,
	validPaymentStatus,
	required("provider_ref", func(a model.Appointment) string { return a.ProviderRef }),
}

// rulesByCategory lists the additional rules per category, evaluated in order.
var rulesByCategory = map[model.Category][]Rule{
	model.CategoryServiceBooking: {
		required("user_ref", func(a model.Appointment) string { return a.UserRef }),
		required("service_option_ref", func(a model.Appointment) string { return a.ServiceOptionRef }),
		serviceStartPresent,
		locationOrPostcode,
	},
	model.CategoryBusyBlock: {
		intervalOrdered,
	},
	model.CategoryExternalSync: {
		intervalOrdered,
	},
}

// Detector is the conflict check the gate delegates to.
type Detector interface {
	Check(ctx context.Context, c conflict.Candidate) error
}

type Gate struct {
	detector Detector
}

func NewGate(detector Detector) *Gate {
	return &Gate{detector: detector}
}

// Structural runs the enum checks and the category's rule table. The first failing rule wins.
func (g *Gate) Structural(a model.Appointment) error {
	for _, rule := range common {
		if err := rule(a); err != nil {
			return err
		}
	}
	for _, rule := range rulesByCategory[a.Category] {
		if err := rule(a); err != nil {
			return err
		}
	}
	return nil
}

// Conflicts runs the overlap check against the computed busy interval. It must be called
// while the provider's lock is held.
func (g *Gate) Conflicts(ctx context.Context, a model.Appointment) error {
	if g.detector == nil {
		return nil
	}
	return g.detector.Check(ctx, conflict.CandidateOf(a))
}

// Validate runs both stages.
func (g *Gate) Validate(ctx context.Context, a model.Appointment) error {
	if err := g.Structural(a); err != nil {
		return err
	}
	return g.Conflicts(ctx, a)
}

func validCategory(a model.Appointment) *Error {
	if !a.Category.Valid() {
		return Invalid("category", string(a.Category), "unknown category")
	}
	return nil
}

func validStatus(a model.Appointment) *Error {
	if !a.Status.Valid() {
		return Invalid("status", string(a.Status), "unknown status")
	}
	return nil
}

func validPaymentStatus(a model.Appointment) *Error {
	if !a.PaymentStatus.Valid() {
		return Invalid("payment_status", string(a.PaymentStatus), "unknown payment status")
	}
	return nil
}

func required(field string, get func(model.Appointment) string) Rule {
	return func(a model.Appointment) *Error {
		if strings.TrimSpace(get(a)) == "" {
			return Invalid(field, "", "is required")
		}
		return nil
	}
}

func serviceStartPresent(a model.Appointment) *Error {
	if a.RequestedStart.IsZero() {
		return Invalid("service_start", "", "is required")
	}
	return nil
}

func locationOrPostcode(a model.Appointment) *Error {
	if strings.TrimSpace(a.LocationRef) == "" && strings.TrimSpace(a.Postcode) == "" {
		return Invalid("postcode", a.Postcode, "a location or postcode is required")
	}
	return nil
}

func intervalOrdered(a model.Appointment) *Error {
	if a.RequestedStart.IsZero() {
		return Invalid("requested_start", "", "is required")
	}
	if !a.AllDay && a.RequestedEnd.Before(a.RequestedStart) {
		return Invalid("requested_end", a.RequestedEnd.Format(time.RFC3339), "must not precede requested_start")
	}
	return nil
}
