package lifecycle

import (
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/effects"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type CreateRequest struct {
	Category         model.Category
	Status           model.Status
	ProviderRef      string
	UserRef          string
	ServiceOptionRef string
	SyncTag          string
	RequestedStart   time.Time
	RequestedEnd     time.Time
	AllDay           bool
	Timezone         string
	Postcode         string
	LocationRef      string
	Title            string
	Notes            string
}

// Changes is a partial update; nil fields are left as they are.
type Changes struct {
	Category         *model.Category
	Status           *model.Status
	UserRef          *string
	ServiceOptionRef *string
	SyncTag          *string
	RequestedStart   *time.Time
	RequestedEnd     *time.Time
	AllDay           *bool
	Timezone         *string
	Postcode         *string
	LocationRef      *string
	PaymentStatus    *model.PaymentStatus
	Title            *string
	Notes            *string
}

// affectsWindow reports whether any input of the time-window computation is being changed.
func (c Changes) affectsWindow(a model.Appointment) bool {
	switch {
	case c.RequestedStart != nil && !c.RequestedStart.Equal(a.RequestedStart):
		return true
	case c.RequestedEnd != nil && !c.RequestedEnd.Equal(a.RequestedEnd):
		return true
	case c.AllDay != nil && *c.AllDay != a.AllDay:
		return true
	case c.Timezone != nil && *c.Timezone != a.Timezone:
		return true
	case c.Postcode != nil && *c.Postcode != a.Postcode:
		return true
	case c.LocationRef != nil && *c.LocationRef != a.LocationRef:
		return true
	case c.ServiceOptionRef != nil && *c.ServiceOptionRef != a.ServiceOptionRef:
		return true
	}
	return false
}

func (c Changes) apply(a *model.Appointment) {
	setString := func(dst *string, src *string) {
		if src != nil {
			*dst = *src
		}
	}
	if c.Status != nil {
		a.Status = *c.Status
		if a.Status == model.StatusConfirmed {
			a.Confirmed = true
		}
	}
	setString(&a.UserRef, c.UserRef)
	setString(&a.ServiceOptionRef, c.ServiceOptionRef)
	setString(&a.SyncTag, c.SyncTag)
	setString(&a.Timezone, c.Timezone)
	setString(&a.Postcode, c.Postcode)
	setString(&a.LocationRef, c.LocationRef)
	setString(&a.Title, c.Title)
	setString(&a.Notes, c.Notes)
	if c.RequestedStart != nil {
		a.RequestedStart = *c.RequestedStart
	}
	if c.RequestedEnd != nil {
		a.RequestedEnd = *c.RequestedEnd
	}
	if c.AllDay != nil {
		a.AllDay = *c.AllDay
	}
	if c.PaymentStatus != nil {
		a.PaymentStatus = *c.PaymentStatus
	}
}

// Result carries the written appointment and the side effects to dispatch after commit.
type Result struct {
	Appointment model.Appointment
	Effects     []effects.Command
}
