package storage

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

type Provider struct {
	ID          string
	Timezone    string
	Home        model.Location
	SpeedKmh    float64
	DefaultZone string
}

type memoryJob struct {
	runAt   time.Time
	payload map[string]any
}

// Memory keeps everything in process. It enforces the same no-overlap rule as the postgres
// exclusion constraint and is used for local runs and tests.
type Memory struct {
	mu           sync.RWMutex
	appointments map[string]model.Appointment
	payments     map[string]model.PaymentRecord
	jobs         map[string]memoryJob
	providers    map[string]Provider
	users        map[string]model.Recipient
	userOrder    []string
	options      map[string]model.ServiceOption
	locations    map[string]model.Location
	districts    map[string][2]float64
	zones        map[string]string
	idempotency  map[string]IdempotencyRecord
}

func NewMemory() *Memory {
	return &Memory{
		appointments: make(map[string]model.Appointment),
		payments:     make(map[string]model.PaymentRecord),
		jobs:         make(map[string]memoryJob),
		providers:    make(map[string]Provider),
		users:        make(map[string]model.Recipient),
		options:      make(map[string]model.ServiceOption),
		locations:    make(map[string]model.Location),
		districts:    make(map[string][2]float64),
		zones:        make(map[string]string),
		idempotency:  make(map[string]IdempotencyRecord),
	}
}

func (m *Memory) PutProvider(p Provider) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.providers[p.ID] = p
}

// PutUser registers a user; administrators keep their registration order.
func (m *Memory) PutUser(r model.Recipient) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.users[r.ID]; !ok {
		m.userOrder = append(m.userOrder, r.ID)
	}
	m.users[r.ID] = r
}

func (m *Memory) PutServiceOption(o model.ServiceOption) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.options[o.ID] = o
}

func (m *Memory) PutLocation(l model.Location) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.locations[l.Ref] = l
}

func (m *Memory) PutDistrict(outwardCode string, lat, lng float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.districts[outwardCode] = [2]float64{lat, lng}
}

func (m *Memory) PutCoverageZone(outwardCode, zone string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.zones[outwardCode] = zone
}

func (m *Memory) Get(_ context.Context, id string) (model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	a, ok := m.appointments[id]
	if !ok {
		return model.Appointment{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return a, nil
}

func (m *Memory) Insert(_ context.Context, a model.Appointment) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.appointments[a.ID]; ok {
		return fmt.Errorf("appointment %s already exists", a.ID)
	}
	if err := m.checkRefs(a); err != nil {
		return err
	}
	if ids := m.overlapping(a.ProviderRef, busyOf(a), a.ID); a.Status.Active() && len(ids) > 0 {
		return conflict.NewError(a.Status, ids...)
	}
	m.appointments[a.ID] = a
	return nil
}

// Update replaces a only while the stored copy still carries the expected UpdatedAt.
func (m *Memory) Update(_ context.Context, a model.Appointment, expected time.Time) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	cur, ok := m.appointments[a.ID]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, a.ID)
	}
	if !cur.UpdatedAt.Equal(expected) {
		return fmt.Errorf("%w: %s", model.ErrStale, a.ID)
	}
	if err := m.checkRefs(a); err != nil {
		return err
	}
	if ids := m.overlapping(a.ProviderRef, busyOf(a), a.ID); a.Status.Active() && len(ids) > 0 {
		return conflict.NewError(a.Status, ids...)
	}
	m.appointments[a.ID] = a
	return nil
}

func (m *Memory) Delete(_ context.Context, id string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok || !a.Category.Deletable() {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	delete(m.appointments, id)
	return nil
}

func (m *Memory) SetCoverage(_ context.Context, id, zone string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	a, ok := m.appointments[id]
	if !ok {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	a.MobileCoverageRef = zone
	a.UpdatedAt = time.Now().UTC()
	m.appointments[id] = a
	return nil
}

func (m *Memory) FindOverlapping(_ context.Context, providerRef string, iv availability.Interval, excludeID string) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Appointment
	for _, id := range m.overlapping(providerRef, iv, excludeID) {
		out = append(out, m.appointments[id])
	}
	return out, nil
}

func (m *Memory) ListByProvider(_ context.Context, providerRef string, from, to time.Time) ([]model.Appointment, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	window := availability.Interval{Start: from, End: to}
	var out []model.Appointment
	for _, a := range m.appointments {
		if a.ProviderRef == providerRef && window.Overlaps(busyOf(a)) {
			out = append(out, a)
		}
	}
	sortByBusyStart(out)
	return out, nil
}

// overlapping returns ids of active appointments of the provider overlapping iv. Callers hold mu.
func (m *Memory) overlapping(providerRef string, iv availability.Interval, excludeID string) []string {
	var hits []model.Appointment
	for _, a := range m.appointments {
		if a.ProviderRef != providerRef || a.ID == excludeID || !a.Status.Active() {
			continue
		}
		if iv.Overlaps(busyOf(a)) {
			hits = append(hits, a)
		}
	}
	sortByBusyStart(hits)
	ids := make([]string, 0, len(hits))
	for _, a := range hits {
		ids = append(ids, a.ID)
	}
	return ids
}

func (m *Memory) checkRefs(a model.Appointment) error {
	if _, ok := m.providers[a.ProviderRef]; !ok {
		return validation.Invalid("provider_ref", a.ProviderRef, "does not exist")
	}
	if a.LocationRef != "" {
		if _, ok := m.locations[a.LocationRef]; !ok {
			return validation.Invalid("location_ref", a.LocationRef, "does not exist")
		}
	}
	return nil
}

// Payments returns the payment store view over m.
func (m *Memory) Payments() *MemoryPayments {
	return &MemoryPayments{m: m}
}

// Jobs returns the charge job scheduler view over m.
func (m *Memory) Jobs() *MemoryJobs {
	return &MemoryJobs{m: m}
}

type MemoryPayments struct {
	m *Memory
}

func (p *MemoryPayments) Find(_ context.Context, appointmentID string) (model.PaymentRecord, bool, error) {
	p.m.mu.RLock()
	defer p.m.mu.RUnlock()
	rec, ok := p.m.payments[appointmentID]
	return rec, ok, nil
}

func (p *MemoryPayments) Create(_ context.Context, rec model.PaymentRecord) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	if _, ok := p.m.payments[rec.AppointmentID]; !ok {
		p.m.payments[rec.AppointmentID] = rec
	}
	return nil
}

func (p *MemoryPayments) Update(_ context.Context, rec model.PaymentRecord, status model.PaymentStatus) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	cur, ok := p.m.payments[rec.AppointmentID]
	if !ok {
		return fmt.Errorf("payment record %s: %w", rec.AppointmentID, model.ErrNotFound)
	}
	cur.Status = status
	if rec.ChargeRef != "" {
		cur.ChargeRef = rec.ChargeRef
	}
	cur.UpdatedAt = time.Now().UTC()
	p.m.payments[rec.AppointmentID] = cur
	p.m.mirrorPaymentStatus(rec.AppointmentID, status)
	return nil
}

func (p *MemoryPayments) Destroy(_ context.Context, rec model.PaymentRecord) error {
	p.m.mu.Lock()
	defer p.m.mu.Unlock()
	cur, ok := p.m.payments[rec.AppointmentID]
	if !ok || cur.Status != model.PaymentPendingCharge {
		return nil
	}
	delete(p.m.payments, rec.AppointmentID)
	p.m.mirrorPaymentStatus(rec.AppointmentID, model.PaymentNone)
	return nil
}

func (m *Memory) mirrorPaymentStatus(id string, status model.PaymentStatus) {
	if a, ok := m.appointments[id]; ok {
		a.PaymentStatus = status
		a.UpdatedAt = time.Now().UTC()
		m.appointments[id] = a
	}
}

type MemoryJobs struct {
	m *Memory
}

// Schedule replaces any pending job with the same name.
func (j *MemoryJobs) Schedule(_ context.Context, name string, runAt time.Time, payload map[string]any) error {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	j.m.jobs[name] = memoryJob{runAt: runAt, payload: payload}
	return nil
}

func (j *MemoryJobs) Cancel(_ context.Context, name string) error {
	j.m.mu.Lock()
	defer j.m.mu.Unlock()
	delete(j.m.jobs, name)
	return nil
}

func (j *MemoryJobs) RunTimeOf(_ context.Context, name string) (time.Time, bool, error) {
	j.m.mu.RLock()
	defer j.m.mu.RUnlock()
	job, ok := j.m.jobs[name]
	return job.runAt, ok, nil
}

func (m *Memory) LocationAt(_ context.Context, providerRef string, at time.Time) (model.Location, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[providerRef]
	if !ok {
		return model.Location{}, validation.Invalid("provider_ref", providerRef, "does not exist")
	}
	tz := time.UTC
	if p.Timezone != "" {
		if loc, err := time.LoadLocation(p.Timezone); err == nil {
			tz = loc
		}
	}
	local := at.In(tz)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, tz)

	var last *model.Appointment
	for _, a := range m.appointments {
		if a.ProviderRef != providerRef || a.Category != model.CategoryServiceBooking || !a.Status.Active() {
			continue
		}
		if a.ServiceEnd.Before(dayStart) || a.ServiceEnd.After(at) {
			continue
		}
		if last == nil || a.ServiceEnd.After(last.ServiceEnd) {
			last = &a
		}
	}
	if last == nil {
		return p.Home, nil
	}
	if l, ok := m.locations[last.LocationRef]; ok && last.LocationRef != "" {
		return l, nil
	}
	return model.Location{Postcode: last.Postcode}, nil
}

func (m *Memory) TransportSpeed(_ context.Context, providerRef string) (float64, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[providerRef]
	if !ok {
		return 0, validation.Invalid("provider_ref", providerRef, "does not exist")
	}
	return p.SpeedKmh, nil
}

func (m *Memory) DefaultCoverageZone(_ context.Context, providerRef string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	p, ok := m.providers[providerRef]
	if !ok {
		return "", false, validation.Invalid("provider_ref", providerRef, "does not exist")
	}
	return p.DefaultZone, p.DefaultZone != "", nil
}

func (m *Memory) Administrators(context.Context) ([]model.Recipient, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	var out []model.Recipient
	for _, id := range m.userOrder {
		if u := m.users[id]; u.Admin {
			out = append(out, u)
		}
	}
	return out, nil
}

func (m *Memory) User(_ context.Context, ref string) (model.Recipient, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	u, ok := m.users[ref]
	return u, ok, nil
}

func (m *Memory) ServiceOption(_ context.Context, ref string) (model.ServiceOption, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	o, ok := m.options[ref]
	return o, ok, nil
}

func (m *Memory) Location(_ context.Context, ref string) (model.Location, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	l, ok := m.locations[ref]
	return l, ok, nil
}

func (m *Memory) District(_ context.Context, outwardCode string) (float64, float64, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	c, ok := m.districts[outwardCode]
	return c[0], c[1], ok, nil
}

func (m *Memory) CoverageZone(_ context.Context, outwardCode string) (string, bool, error) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	z, ok := m.zones[outwardCode]
	return z, ok, nil
}

func (m *Memory) Claim(_ context.Context, scope, key string) (IdempotencyRecord, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scope + "\x00" + key
	if rec, ok := m.idempotency[k]; ok {
		return rec, true, nil
	}
	rec := IdempotencyRecord{Scope: scope, IdempotencyKey: key}
	m.idempotency[k] = rec
	return rec, false, nil
}

func (m *Memory) Finalize(_ context.Context, scope, key, appointmentID string, statusCode int, response []byte) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.idempotency[scope+"\x00"+key] = IdempotencyRecord{
		Scope:           scope,
		IdempotencyKey:  key,
		AppointmentID:   appointmentID,
		StatusCode:      statusCode,
		ResponsePayload: response,
	}
	return nil
}

func (m *Memory) Release(_ context.Context, scope, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	k := scope + "\x00" + key
	if rec, ok := m.idempotency[k]; ok && rec.Pending() {
		delete(m.idempotency, k)
	}
	return nil
}

func busyOf(a model.Appointment) availability.Interval {
	return availability.Interval{Start: a.BusyStart, End: a.BusyEnd}
}

func sortByBusyStart(appts []model.Appointment) {
	sort.Slice(appts, func(i, j int) bool {
		if appts[i].BusyStart.Equal(appts[j].BusyStart) {
			return appts[i].ID < appts[j].ID
		}
		return appts[i].BusyStart.Before(appts[j].BusyStart)
	})
}
