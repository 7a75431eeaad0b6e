package timewindow

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type fakeProviders struct {
	location model.Location
	speed    float64
	err      error
	askedAt  time.Time
}

func (f *fakeProviders) LocationAt(_ context.Context, _ string, at time.Time) (model.Location, error) {
	f.askedAt = at
	return f.location, f.err
}

func (f *fakeProviders) TransportSpeed(context.Context, string) (float64, error) {
	return f.speed, nil
}

type fakeTravel struct {
	commute    time.Duration
	toPostcode string
}

func (f *fakeTravel) Estimate(_ context.Context, _ model.Location, to string, _ float64) (time.Duration, error) {
	f.toPostcode = to
	return f.commute, nil
}

type fakeLocations map[string]model.Location

func (f fakeLocations) Location(_ context.Context, ref string) (model.Location, bool, error) {
	loc, ok := f[ref]
	return loc, ok, nil
}

var option = &model.ServiceOption{ID: "opt-1", Duration: 60 * time.Minute, Buffer: 15 * time.Minute}

func TestCalculate_ServiceBooking(t *testing.T) {
	providers := &fakeProviders{location: model.Location{Postcode: "SW1A 1AA"}, speed: 30}
	travel := &fakeTravel{commute: 20 * time.Minute}
	calc := NewCalculator(providers, travel, nil)

	start := time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC)
	a := &model.Appointment{
		Category:       model.CategoryServiceBooking,
		ProviderRef:    "prov-1",
		RequestedStart: start,
		Postcode:       "E1 6AN",
	}
	w, err := calc.Calculate(context.Background(), a, option)
	require.NoError(t, err)

	assert.Equal(t, start, w.ServiceStart)
	assert.Equal(t, start.Add(60*time.Minute), w.ServiceEnd)
	assert.Equal(t, start.Add(-20*time.Minute), w.BusyStart)
	assert.Equal(t, start.Add(75*time.Minute), w.BusyEnd)
	assert.Equal(t, "E1 6AN", travel.toPostcode)
	assert.Equal(t, start, providers.askedAt)

	assert.False(t, w.BusyStart.After(w.ServiceStart))
	assert.False(t, w.ServiceStart.After(w.ServiceEnd))
	assert.False(t, w.ServiceEnd.After(w.BusyEnd))
}

func TestCalculate_FixedLocationWinsOverPostcode(t *testing.T) {
	travel := &fakeTravel{}
	calc := NewCalculator(&fakeProviders{speed: 30}, travel, fakeLocations{
		"clinic": {Ref: "clinic", Postcode: "M1 1AE"},
	})
	a := &model.Appointment{
		Category:       model.CategoryServiceBooking,
		RequestedStart: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Postcode:       "E1 6AN",
		LocationRef:    "clinic",
	}
	_, err := calc.Calculate(context.Background(), a, option)
	require.NoError(t, err)
	assert.Equal(t, "M1 1AE", travel.toPostcode)
}

func TestCalculate_BusyBlockUsesRequestedInterval(t *testing.T) {
	calc := NewCalculator(&fakeProviders{}, &fakeTravel{commute: time.Hour}, nil)
	start := time.Date(2026, 3, 2, 14, 0, 0, 0, time.UTC)
	a := &model.Appointment{
		Category:       model.CategoryBusyBlock,
		RequestedStart: start,
		RequestedEnd:   start.Add(time.Hour),
	}
	w, err := calc.Calculate(context.Background(), a, nil)
	require.NoError(t, err)
	assert.Equal(t, w.BusyStart, w.ServiceStart)
	assert.Equal(t, w.BusyEnd, w.ServiceEnd)
	assert.Equal(t, start, w.BusyStart)
	assert.Equal(t, start.Add(time.Hour), w.BusyEnd)
}

func TestCalculate_AllDayBusyBlock(t *testing.T) {
	calc := NewCalculator(&fakeProviders{}, &fakeTravel{}, nil)
	a := &model.Appointment{
		Category:       model.CategoryBusyBlock,
		AllDay:         true,
		Timezone:       "Europe/London",
		RequestedStart: time.Date(2026, 7, 14, 13, 0, 0, 0, time.UTC),
		RequestedEnd:   time.Date(2026, 7, 14, 14, 0, 0, 0, time.UTC),
	}
	w, err := calc.Calculate(context.Background(), a, nil)
	require.NoError(t, err)

	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	assert.True(t, w.BusyStart.Equal(time.Date(2026, 7, 14, 0, 0, 0, 0, london)))
	assert.True(t, w.BusyEnd.Equal(time.Date(2026, 7, 15, 0, 0, 0, 0, london)))
	assert.True(t, a.RequestedStart.Equal(w.BusyStart))
}

func TestCalculate_PropagatesDirectoryError(t *testing.T) {
	calc := NewCalculator(&fakeProviders{err: errors.New("directory down")}, &fakeTravel{}, nil)
	a := &model.Appointment{
		Category:       model.CategoryServiceBooking,
		RequestedStart: time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		Postcode:       "E1 6AN",
	}
	_, err := calc.Calculate(context.Background(), a, option)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "directory down")
}

func TestDayBounds_DSTTransition(t *testing.T) {
	london, err := time.LoadLocation("Europe/London")
	require.NoError(t, err)
	// Clocks go forward on 2026-03-29, so the local day is 23 hours long.
	start, end := DayBounds(time.Date(2026, 3, 29, 12, 0, 0, 0, london), london)
	assert.Equal(t, 23*time.Hour, end.Sub(start))
}
