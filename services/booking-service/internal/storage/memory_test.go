package storage

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

var day = time.Date(2026, 3, 2, 0, 0, 0, 0, time.UTC)

func hm(h, m int) time.Time {
	return day.Add(time.Duration(h)*time.Hour + time.Duration(m)*time.Minute)
}

func seeded() *Memory {
	m := NewMemory()
	m.PutProvider(Provider{ID: "p-1", Home: model.Location{Postcode: "SW1A 1AA"}, SpeedKmh: 40, DefaultZone: "central"})
	m.PutProvider(Provider{ID: "p-2"})
	return m
}

func appt(id string, status model.Status, start, end time.Time) model.Appointment {
	return model.Appointment{
		ID:          id,
		Category:    model.CategoryBusyBlock,
		Status:      status,
		ProviderRef: "p-1",
		BusyStart:   start,
		BusyEnd:     end,
	}
}

func TestMemory_InsertEnforcesNoOverlap(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	require.NoError(t, m.Insert(ctx, appt("a", model.StatusConfirmed, hm(10, 0), hm(11, 0))))

	err := m.Insert(ctx, appt("b", model.StatusUnconfirmed, hm(10, 30), hm(11, 30)))
	var cerr *conflict.Error
	require.ErrorAs(t, err, &cerr)
	assert.Equal(t, []string{"a"}, cerr.ConflictingIDs)

	require.NoError(t, m.Insert(ctx, appt("c", model.StatusUnconfirmed, hm(11, 0), hm(12, 0))))
	require.NoError(t, m.Insert(ctx, appt("d", model.StatusCancelled, hm(10, 0), hm(11, 0))))

	other := appt("e", model.StatusConfirmed, hm(10, 0), hm(11, 0))
	other.ProviderRef = "p-2"
	require.NoError(t, m.Insert(ctx, other))
}

func TestMemory_UpdateExcludesSelf(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	a := appt("a", model.StatusConfirmed, hm(10, 0), hm(11, 0))
	require.NoError(t, m.Insert(ctx, a))

	expected := a.UpdatedAt
	a.BusyStart, a.BusyEnd = hm(10, 30), hm(11, 30)
	require.NoError(t, m.Update(ctx, a, expected))

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, hm(10, 30), got.BusyStart)
}

func TestMemory_UnknownProvider(t *testing.T) {
	a := appt("a", model.StatusConfirmed, hm(10, 0), hm(11, 0))
	a.ProviderRef = "ghost"
	err := seeded().Insert(context.Background(), a)
	var verr *validation.Error
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "provider_ref", verr.Field)
}

func TestMemory_GetAndDelete(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	_, err := m.Get(ctx, "missing")
	assert.ErrorIs(t, err, model.ErrNotFound)
	assert.True(t, IsNotFound(err))

	require.NoError(t, m.Insert(ctx, appt("a", model.StatusConfirmed, hm(10, 0), hm(11, 0))))
	require.NoError(t, m.Delete(ctx, "a"))
	assert.ErrorIs(t, m.Delete(ctx, "a"), model.ErrNotFound)
}

func TestMemory_FindOverlappingAndList(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	require.NoError(t, m.Insert(ctx, appt("late", model.StatusConfirmed, hm(14, 0), hm(15, 0))))
	require.NoError(t, m.Insert(ctx, appt("early", model.StatusConfirmed, hm(9, 0), hm(10, 0))))
	require.NoError(t, m.Insert(ctx, appt("gone", model.StatusCancelled, hm(9, 30), hm(10, 30))))

	hits, err := m.FindOverlapping(ctx, "p-1", availability.Interval{Start: hm(9, 30), End: hm(14, 30)}, "late")
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, "early", hits[0].ID)

	all, err := m.ListByProvider(ctx, "p-1", hm(0, 0), hm(23, 0))
	require.NoError(t, err)
	require.Len(t, all, 3)
	assert.Equal(t, "early", all[0].ID)
	assert.Equal(t, "late", all[2].ID)
}

func TestMemory_PaymentsMirrorOntoAppointment(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	a := appt("a", model.StatusConfirmed, hm(10, 0), hm(11, 0))
	a.PaymentStatus = model.PaymentPendingCharge
	require.NoError(t, m.Insert(ctx, a))

	payments := m.Payments()
	rec := model.PaymentRecord{AppointmentID: "a", Status: model.PaymentPendingCharge, AmountMinor: 4500}
	require.NoError(t, payments.Create(ctx, rec))

	require.NoError(t, payments.Update(ctx, rec, model.PaymentPaid))
	got, ok, err := payments.Find(ctx, "a")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, model.PaymentPaid, got.Status)

	stored, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, stored.PaymentStatus)

	require.NoError(t, payments.Destroy(ctx, got))
	_, ok, _ = payments.Find(ctx, "a")
	assert.True(t, ok, "paid records survive destroy")
}

func TestMemory_Jobs(t *testing.T) {
	ctx := context.Background()
	jobs := seeded().Jobs()
	_, ok, err := jobs.RunTimeOf(ctx, "charge_appointment:a")
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, jobs.Schedule(ctx, "charge_appointment:a", hm(12, 0), nil))
	runAt, ok, err := jobs.RunTimeOf(ctx, "charge_appointment:a")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, hm(12, 0), runAt)

	require.NoError(t, jobs.Cancel(ctx, "charge_appointment:a"))
	_, ok, _ = jobs.RunTimeOf(ctx, "charge_appointment:a")
	assert.False(t, ok)
}

func TestMemory_LocationAt(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	m.PutLocation(model.Location{Ref: "clinic", Postcode: "M1 1AE"})

	home, err := m.LocationAt(ctx, "p-1", hm(9, 0))
	require.NoError(t, err)
	assert.Equal(t, "SW1A 1AA", home.Postcode)

	booking := model.Appointment{
		ID: "b1", Category: model.CategoryServiceBooking, Status: model.StatusConfirmed, ProviderRef: "p-1",
		Postcode: "E1 6AN", ServiceStart: hm(9, 0), ServiceEnd: hm(10, 0), BusyStart: hm(8, 30), BusyEnd: hm(10, 15),
	}
	require.NoError(t, m.Insert(ctx, booking))
	atClinic := booking
	atClinic.ID, atClinic.Postcode, atClinic.LocationRef = "b2", "", "clinic"
	atClinic.ServiceStart, atClinic.ServiceEnd, atClinic.BusyStart, atClinic.BusyEnd = hm(11, 0), hm(12, 0), hm(10, 30), hm(12, 0)
	require.NoError(t, m.Insert(ctx, atClinic))

	loc, err := m.LocationAt(ctx, "p-1", hm(11, 30))
	require.NoError(t, err)
	assert.Equal(t, "E1 6AN", loc.Postcode)

	loc, err = m.LocationAt(ctx, "p-1", hm(13, 0))
	require.NoError(t, err)
	assert.Equal(t, "M1 1AE", loc.Postcode)

	nextDay, err := m.LocationAt(ctx, "p-1", hm(24+9, 0))
	require.NoError(t, err)
	assert.Equal(t, "SW1A 1AA", nextDay.Postcode)
}

func TestMemory_AdministratorsKeepOrder(t *testing.T) {
	m := seeded()
	m.PutUser(model.Recipient{ID: "z-admin", Admin: true})
	m.PutUser(model.Recipient{ID: "client"})
	m.PutUser(model.Recipient{ID: "a-admin", Admin: true})

	admins, err := m.Administrators(context.Background())
	require.NoError(t, err)
	require.Len(t, admins, 2)
	assert.Equal(t, "z-admin", admins[0].ID)
	assert.Equal(t, "a-admin", admins[1].ID)
}

func TestMemory_Idempotency(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	_, existed, err := m.Claim(ctx, "p-1", "key-1")
	require.NoError(t, err)
	assert.False(t, existed)

	rec, existed, err := m.Claim(ctx, "p-1", "key-1")
	require.NoError(t, err)
	assert.True(t, existed)
	assert.True(t, rec.Pending())

	require.NoError(t, m.Finalize(ctx, "p-1", "key-1", "a-1", 201, []byte(`{"id":"a-1"}`)))
	rec, _, _ = m.Claim(ctx, "p-1", "key-1")
	assert.Equal(t, 201, rec.StatusCode)
	assert.JSONEq(t, `{"id":"a-1"}`, string(rec.ResponsePayload))

	require.NoError(t, m.Release(ctx, "p-1", "key-1"))
	_, existed, _ = m.Claim(ctx, "p-1", "key-1")
	assert.True(t, existed, "finalized keys are not released")

	_, _, _ = m.Claim(ctx, "p-1", "key-2")
	require.NoError(t, m.Release(ctx, "p-1", "key-2"))
	_, existed, _ = m.Claim(ctx, "p-1", "key-2")
	assert.False(t, existed)
}

func TestLoadSeed(t *testing.T) {
	m := NewMemory()
	require.NoError(t, m.LoadSeed(strings.NewReader(`{
		"providers": [{"id": "p-1", "home_postcode": "SW1A 1AA", "transport_speed_kmh": 25, "default_coverage_zone": "central"}],
		"users": [{"id": "u-1", "email": "c@example.com", "role": "client"}, {"id": "a-1", "role": "admin"}],
		"service_options": [{"id": "cut", "duration_minutes": 45, "buffer_minutes": 5, "price_minor": 3000, "currency": "gbp"}],
		"locations": [{"id": "clinic", "postcode": "M1 1AE"}],
		"districts": [{"outward_code": "E1", "lat": 51.52, "lng": -0.06, "coverage_zone": "east"}]
	}`)))
	ctx := context.Background()

	speed, err := m.TransportSpeed(ctx, "p-1")
	require.NoError(t, err)
	assert.Equal(t, 25.0, speed)

	admins, err := m.Administrators(ctx)
	require.NoError(t, err)
	require.Len(t, admins, 1)
	assert.Equal(t, "a-1", admins[0].ID)

	opt, ok, err := m.ServiceOption(ctx, "cut")
	require.NoError(t, err)
	require.True(t, ok)
	assert.Equal(t, 45*time.Minute, opt.Duration)

	zone, ok, err := m.CoverageZone(ctx, "E1")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.Equal(t, "east", zone)

	assert.Error(t, m.LoadSeed(strings.NewReader(`{`)))
}

func TestMemory_UpdateRejectsStaleCopy(t *testing.T) {
	ctx := context.Background()
	m := seeded()
	a := appt("a", model.StatusConfirmed, hm(10, 0), hm(11, 0))
	a.PaymentStatus = model.PaymentPendingCharge
	require.NoError(t, m.Insert(ctx, a))
	require.NoError(t, m.Payments().Create(ctx, model.PaymentRecord{AppointmentID: "a", Status: model.PaymentPendingCharge}))

	read, err := m.Get(ctx, "a")
	require.NoError(t, err)
	rec, _, err := m.Payments().Find(ctx, "a")
	require.NoError(t, err)
	require.NoError(t, m.Payments().Update(ctx, rec, model.PaymentPaid))

	read.Title = "late edit"
	err = m.Update(ctx, read, read.UpdatedAt)
	require.ErrorIs(t, err, model.ErrStale)

	got, err := m.Get(ctx, "a")
	require.NoError(t, err)
	assert.Equal(t, model.PaymentPaid, got.PaymentStatus)
	assert.Empty(t, got.Title)
}
