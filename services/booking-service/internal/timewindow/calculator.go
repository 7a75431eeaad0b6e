// Package timewindow derives an appointment's service and busy intervals from the requested
// times, the booked service option and the provider's travel to the appointment location.
package timewindow

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type ProviderDirectory interface {
	LocationAt(ctx context.Context, providerRef string, at time.Time) (model.Location, error)
	TransportSpeed(ctx context.Context, providerRef string) (float64, error)
}

type TravelEstimator interface {
	Estimate(ctx context.Context, from model.Location, toPostcode string, speedKmh float64) (time.Duration, error)
}

type LocationBook interface {
	Location(ctx context.Context, ref string) (model.Location, bool, error)
}

type Window struct {
	ServiceStart time.Time
	ServiceEnd   time.Time
	BusyStart    time.Time
	BusyEnd      time.Time
	Commute      time.Duration
}

// Apply copies the derived times onto the appointment.
func (w Window) Apply(a *model.Appointment) {
	a.ServiceStart = w.ServiceStart
	a.ServiceEnd = w.ServiceEnd
	a.BusyStart = w.BusyStart
	a.BusyEnd = w.BusyEnd
}

type Calculator struct {
	providers ProviderDirectory
	travel    TravelEstimator
	locations LocationBook
}

func NewCalculator(providers ProviderDirectory, travel TravelEstimator, locations LocationBook) *Calculator {
	return &Calculator{providers: providers, travel: travel, locations: locations}
}

// Calculate computes the window for a. option may be nil for categories that do not book a
// service. The requested interval on a is normalised in place when the appointment is all-day.
func (c *Calculator) Calculate(ctx context.Context, a *model.Appointment, option *model.ServiceOption) (Window, error) {
	if a.AllDay {
		a.RequestedStart, a.RequestedEnd = DayBounds(a.RequestedStart, a.Location())
	}

	if a.Category != model.CategoryServiceBooking || option == nil || a.RequestedStart.IsZero() {
		return Window{
			ServiceStart: a.RequestedStart,
			ServiceEnd:   a.RequestedEnd,
			BusyStart:    a.RequestedStart,
			BusyEnd:      a.RequestedEnd,
		}, nil
	}

	serviceStart := a.RequestedStart
	target, err := c.targetPostcode(ctx, a)
	if err != nil {
		return Window{}, err
	}
	from, err := c.providers.LocationAt(ctx, a.ProviderRef, serviceStart)
	if err != nil {
		return Window{}, fmt.Errorf("provider location: %w", err)
	}
	speed, err := c.providers.TransportSpeed(ctx, a.ProviderRef)
	if err != nil {
		return Window{}, fmt.Errorf("provider transport speed: %w", err)
	}
	commute, err := c.travel.Estimate(ctx, from, target, speed)
	if err != nil {
		return Window{}, fmt.Errorf("travel estimate: %w", err)
	}
	if commute < 0 {
		commute = 0
	}

	serviceEnd := serviceStart.Add(option.Duration)
	return Window{
		ServiceStart: serviceStart,
		ServiceEnd:   serviceEnd,
		BusyStart:    serviceStart.Add(-commute),
		BusyEnd:      serviceEnd.Add(option.Buffer),
		Commute:      commute,
	}, nil
}

func (c *Calculator) targetPostcode(ctx context.Context, a *model.Appointment) (string, error) {
	if ref := strings.TrimSpace(a.LocationRef); ref != "" && c.locations != nil {
		loc, ok, err := c.locations.Location(ctx, ref)
		if err != nil {
			return "", fmt.Errorf("fixed location: %w", err)
		}
		if ok && strings.TrimSpace(loc.Postcode) != "" {
			return loc.Postcode, nil
		}
	}
	return a.Postcode, nil
}

// DayBounds returns [start of day, start of next day) for the calendar day containing t in loc.
func DayBounds(t time.Time, loc *time.Location) (time.Time, time.Time) {
	if loc == nil {
		loc = time.UTC
	}
	local := t.In(loc)
	start := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)
	return start, start.AddDate(0, 0, 1)
}
