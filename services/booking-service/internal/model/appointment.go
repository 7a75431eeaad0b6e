package model

import (
	"errors"
	"fmt"
	"time"
	_ "time/tzdata"
)

// Category is the closed set of appointment kinds.
type Category string

const (
	CategoryServiceBooking Category = "service_booking"
	CategoryBusyBlock      Category = "busy_block"
	CategoryExternalSync   Category = "external_sync"
)

var categories = map[Category]struct{}{
	CategoryServiceBooking: {},
	CategoryBusyBlock:      {},
	CategoryExternalSync:   {},
}

func (c Category) Valid() bool {
	_, ok := categories[c]
	return ok
}

// Deletable reports whether appointments of this category may be physically removed.
func (c Category) Deletable() bool {
	return c != CategoryServiceBooking
}

type Status string

const (
	StatusUnconfirmed Status = "unconfirmed"
	StatusConfirmed   Status = "confirmed"
	StatusDone        Status = "done"
	StatusRescheduled Status = "rescheduled"
	StatusCancelled   Status = "cancelled"
	StatusNoShow      Status = "no_show"
)

var statuses = map[Status]struct{}{
	StatusUnconfirmed: {},
	StatusConfirmed:   {},
	StatusDone:        {},
	StatusRescheduled: {},
	StatusCancelled:   {},
	StatusNoShow:      {},
}

func (s Status) Valid() bool {
	_, ok := statuses[s]
	return ok
}

// Active statuses occupy the provider's schedule.
func (s Status) Active() bool {
	return s == StatusUnconfirmed || s == StatusConfirmed || s == StatusRescheduled
}

func (s Status) Terminal() bool {
	return s == StatusDone || s == StatusCancelled || s == StatusNoShow
}

// ActiveStatuses is the set used by overlap queries and the exclusion constraint.
func ActiveStatuses() []Status {
	return []Status{StatusUnconfirmed, StatusConfirmed, StatusRescheduled}
}

type Appointment struct {
	ID       string
	Category Category
	Status   Status
	// Confirmed records provider confirmation and is tracked apart from Status.
	Confirmed bool
	AllDay    bool
	Timezone  string

	RequestedStart time.Time
	RequestedEnd   time.Time
	ServiceStart   time.Time
	ServiceEnd     time.Time
	BusyStart      time.Time
	BusyEnd        time.Time

	Postcode          string
	LocationRef       string
	MobileCoverageRef string

	ProviderRef      string
	UserRef          string
	ServiceOptionRef string
	SyncTag          string

	PaymentStatus PaymentStatus

	Title     string
	Notes     string
	CreatedAt time.Time
	UpdatedAt time.Time
}

// Location loads the appointment's timezone, defaulting to UTC.
func (a Appointment) Location() *time.Location {
	if a.Timezone == "" {
		return time.UTC
	}
	loc, err := time.LoadLocation(a.Timezone)
	if err != nil {
		return time.UTC
	}
	return loc
}

func (a Appointment) String() string {
	return fmt.Sprintf("%s[%s %s %s..%s]", a.ID, a.Category, a.Status,
		a.BusyStart.Format(time.RFC3339), a.BusyEnd.Format(time.RFC3339))
}

// ServiceOption describes what is being booked.
type ServiceOption struct {
	ID         string
	Title      string
	Duration   time.Duration
	Buffer     time.Duration
	PriceMinor int64
	Currency   string
}

// Location is a point a provider travels from or to.
type Location struct {
	Ref      string
	Postcode string
	Lat      float64
	Lng      float64
}

// Recipient is someone a notification can be addressed to.
type Recipient struct {
	ID    string
	Name  string
	Email string
	Phone string
	Admin bool
}

// ErrNotFound is returned by stores and the lifecycle when an appointment does not exist.
var ErrNotFound = errors.New("appointment not found")

// ErrStale is returned by stores when an appointment changed since the caller read it.
var ErrStale = errors.New("appointment was modified concurrently")
