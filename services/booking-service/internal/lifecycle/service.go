// Package lifecycle orchestrates appointment create, update and delete: time-window
// computation, validation, per-provider serialisation, persistence and reconciliation.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/coverage"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/effects"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/timewindow"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

type Store interface {
	Get(ctx context.Context, id string) (model.Appointment, error)
	Insert(ctx context.Context, a model.Appointment) error
	Update(ctx context.Context, a model.Appointment, expected time.Time) error
	Delete(ctx context.Context, id string) error
	SetCoverage(ctx context.Context, id, zone string) error
	ListByProvider(ctx context.Context, providerRef string, from, to time.Time) ([]model.Appointment, error)
}

const (
	// MaxRange bounds the window of listing and free-slot queries.
	MaxRange = 31 * 24 * time.Hour
	// MinSlotStep is the finest slot length and step FreeSlots accepts.
	MinSlotStep = time.Minute
)

// maxWriteAttempts bounds retries of an update whose row changed between read and write.
const maxWriteAttempts = 3

type Calculator interface {
	Calculate(ctx context.Context, a *model.Appointment, option *model.ServiceOption) (timewindow.Window, error)
}

type Gate interface {
	Structural(a model.Appointment) error
	Conflicts(ctx context.Context, a model.Appointment) error
}

type Reconciler interface {
	Reconcile(ctx context.Context, old, updated model.Appointment) ([]effects.Command, error)
}

// Locker serialises writes per key. The returned func releases the lock.
type Locker interface {
	Lock(ctx context.Context, key string) (func(), error)
}

type ServiceCatalog interface {
	ServiceOption(ctx context.Context, ref string) (model.ServiceOption, bool, error)
}

type ZoneDirectory interface {
	DefaultCoverageZone(ctx context.Context, providerRef string) (string, bool, error)
}

type CoverageResolver interface {
	Resolve(ctx context.Context, outwardCode string) (string, bool, error)
}

type Config struct {
	DefaultTimezone string
	Now             func() time.Time
	NewID           func() string
}

type Service struct {
	store      Store
	calc       Calculator
	gate       Gate
	locker     Locker
	reconciler Reconciler
	catalog    ServiceCatalog
	zones      ZoneDirectory
	coverage   CoverageResolver
	logger     *slog.Logger

	defaultTZ string
	now       func() time.Time
	newID     func() string
}

type Deps struct {
	Store      Store
	Calculator Calculator
	Gate       Gate
	Locker     Locker
	Reconciler Reconciler
	Catalog    ServiceCatalog
	Zones      ZoneDirectory
	Coverage   CoverageResolver
	Logger     *slog.Logger
}

func NewService(deps Deps, cfg Config) *Service {
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}
	if cfg.NewID == nil {
		cfg.NewID = func() string { return uuid.NewString() }
	}
	if cfg.DefaultTimezone == "" {
		cfg.DefaultTimezone = "UTC"
	}
	return &Service{
		store:      deps.Store,
		calc:       deps.Calculator,
		gate:       deps.Gate,
		locker:     deps.Locker,
		reconciler: deps.Reconciler,
		catalog:    deps.Catalog,
		zones:      deps.Zones,
		coverage:   deps.Coverage,
		logger:     deps.Logger,
		defaultTZ:  cfg.DefaultTimezone,
		now:        cfg.Now,
		newID:      cfg.NewID,
	}
}

func (s *Service) Create(ctx context.Context, req CreateRequest) (Result, error) {
	now := s.now().UTC()
	a := model.Appointment{
		ID:               s.newID(),
		Category:         req.Category,
		Status:           req.Status,
		AllDay:           req.AllDay,
		Timezone:         strings.TrimSpace(req.Timezone),
		RequestedStart:   req.RequestedStart,
		RequestedEnd:     req.RequestedEnd,
		Postcode:         strings.TrimSpace(req.Postcode),
		LocationRef:      strings.TrimSpace(req.LocationRef),
		ProviderRef:      strings.TrimSpace(req.ProviderRef),
		UserRef:          strings.TrimSpace(req.UserRef),
		ServiceOptionRef: strings.TrimSpace(req.ServiceOptionRef),
		SyncTag:          req.SyncTag,
		Title:            req.Title,
		Notes:            req.Notes,
		CreatedAt:        now,
		UpdatedAt:        now,
	}
	if a.Status == "" {
		a.Status = defaultStatus(a.Category)
	}
	if a.Status == model.StatusConfirmed {
		a.Confirmed = true
	}
	if a.Timezone == "" {
		a.Timezone = s.defaultTZ
	}
	if err := checkTimezone(a.Timezone); err != nil {
		return Result{}, err
	}

	option, err := s.prepare(ctx, &a)
	if err != nil {
		return Result{}, err
	}
	if option != nil && option.PriceMinor > 0 {
		a.PaymentStatus = model.PaymentPendingCharge
	}

	if err := s.insert(ctx, a); err != nil {
		return Result{}, err
	}
	s.resolveCoverage(ctx, &a)

	return Result{Appointment: a, Effects: createEffects(a, option, now)}, nil
}

// Update applies changes under the provider lock. The appointment is re-read once the lock is
// held, so every check works on the committed row.
func (s *Service) Update(ctx context.Context, id string, changes Changes) (Result, error) {
	if changes.Timezone != nil {
		if err := checkTimezone(*changes.Timezone); err != nil {
			return Result{}, err
		}
	}
	// The provider of an appointment never changes, so this read only picks the lock key.
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	unlock, err := s.lock(ctx, current.ProviderRef)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	var old, updated model.Appointment
	for attempt := 1; ; attempt++ {
		old, err = s.store.Get(ctx, id)
		if err != nil {
			return Result{}, err
		}
		updated, err = s.applyChanges(ctx, old, changes)
		if err != nil {
			return Result{}, err
		}
		if err := s.gate.Conflicts(ctx, updated); err != nil {
			return Result{}, err
		}
		err = s.store.Update(ctx, updated, old.UpdatedAt)
		if err == nil {
			break
		}
		if !errors.Is(err, model.ErrStale) || attempt == maxWriteAttempts {
			return Result{}, err
		}
		s.logger.Debug("appointment changed while updating, retrying", "appointment_id", id, "attempt", attempt)
	}
	if changes.Postcode != nil && *changes.Postcode != old.Postcode {
		s.resolveCoverage(ctx, &updated)
	}

	var cmds []effects.Command
	if s.reconciler != nil {
		cmds, err = s.reconciler.Reconcile(ctx, old, updated)
		if err != nil {
			s.logger.Error("reconciliation incomplete", "err", err, "appointment_id", updated.ID)
		}
	}
	return Result{Appointment: updated, Effects: cmds}, nil
}

// applyChanges validates changes against old and returns the appointment to write.
func (s *Service) applyChanges(ctx context.Context, old model.Appointment, changes Changes) (model.Appointment, error) {
	if changes.Category != nil && *changes.Category != old.Category {
		return model.Appointment{}, validation.Invalid("category", string(*changes.Category), "cannot be changed after creation")
	}
	if changes.Status != nil {
		if err := checkTransition(old.Status, *changes.Status); err != nil {
			return model.Appointment{}, err
		}
	}

	updated := old
	recompute := changes.affectsWindow(old)
	changes.apply(&updated)
	updated.UpdatedAt = s.now().UTC()

	if recompute {
		if _, err := s.prepare(ctx, &updated); err != nil {
			return model.Appointment{}, err
		}
	} else if err := s.gate.Structural(updated); err != nil {
		return model.Appointment{}, err
	}
	return updated, nil
}

func (s *Service) Delete(ctx context.Context, id string) (Result, error) {
	current, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	unlock, err := s.lock(ctx, current.ProviderRef)
	if err != nil {
		return Result{}, err
	}
	defer unlock()

	a, err := s.store.Get(ctx, id)
	if err != nil {
		return Result{}, err
	}
	if !a.Category.Deletable() {
		return Result{}, &ImmutableError{ID: a.ID, Category: a.Category}
	}
	if err := s.store.Delete(ctx, id); err != nil {
		return Result{}, err
	}
	return Result{Appointment: a}, nil
}

func (s *Service) Get(ctx context.Context, id string) (model.Appointment, error) {
	return s.store.Get(ctx, id)
}

func (s *Service) ListByProvider(ctx context.Context, providerRef string, from, to time.Time) ([]model.Appointment, error) {
	if strings.TrimSpace(providerRef) == "" {
		return nil, validation.Invalid("provider_ref", "", "is required")
	}
	if !to.After(from) {
		return nil, validation.Invalid("to", to.Format(time.RFC3339), "must be after from")
	}
	if to.Sub(from) > MaxRange {
		return nil, validation.Invalid("to", to.Format(time.RFC3339), "range may span at most 31 days")
	}
	return s.store.ListByProvider(ctx, providerRef, from, to)
}

// FreeSlots lists start times in [from, to) where a slot of length d fits between the
// provider's active busy intervals. The window may span at most MaxRange and both d and
// step must be at least MinSlotStep.
func (s *Service) FreeSlots(ctx context.Context, providerRef string, from, to time.Time, d, step time.Duration) ([]time.Time, error) {
	if to.Sub(from) > MaxRange {
		return nil, validation.Invalid("to", to.Format(time.RFC3339), "range may span at most 31 days")
	}
	if d < MinSlotStep {
		return nil, validation.Invalid("duration", d.String(), "must be at least 1m")
	}
	if step < MinSlotStep {
		return nil, validation.Invalid("step", step.String(), "must be at least 1m")
	}
	appts, err := s.ListByProvider(ctx, providerRef, from, to)
	if err != nil {
		return nil, err
	}
	var busy []availability.Interval
	for _, a := range appts {
		if a.Status.Active() {
			busy = append(busy, availability.Interval{Start: a.BusyStart, End: a.BusyEnd})
		}
	}
	return availability.AvailableSlots(from, to, d, step, availability.Merge(busy), s.now()), nil
}

// prepare runs structural validation, resolves the service option and recomputes the window.
func (s *Service) prepare(ctx context.Context, a *model.Appointment) (*model.ServiceOption, error) {
	if err := s.gate.Structural(*a); err != nil {
		return nil, err
	}
	option, err := s.serviceOption(ctx, *a)
	if err != nil {
		return nil, err
	}
	w, err := s.calc.Calculate(ctx, a, option)
	if err != nil {
		return nil, fmt.Errorf("compute time window: %w", err)
	}
	w.Apply(a)
	return option, nil
}

func (s *Service) serviceOption(ctx context.Context, a model.Appointment) (*model.ServiceOption, error) {
	if a.Category != model.CategoryServiceBooking || a.ServiceOptionRef == "" {
		return nil, nil
	}
	if s.catalog == nil {
		return nil, errors.New("service catalog not configured")
	}
	option, ok, err := s.catalog.ServiceOption(ctx, a.ServiceOptionRef)
	if err != nil {
		return nil, fmt.Errorf("service option: %w", err)
	}
	if !ok {
		return nil, validation.Invalid("service_option_ref", a.ServiceOptionRef, "unknown service option")
	}
	return &option, nil
}

// insert holds the provider lock across the conflict check and the write.
func (s *Service) insert(ctx context.Context, a model.Appointment) error {
	unlock, err := s.lock(ctx, a.ProviderRef)
	if err != nil {
		return err
	}
	defer unlock()

	if err := s.gate.Conflicts(ctx, a); err != nil {
		return err
	}
	return s.store.Insert(ctx, a)
}

func (s *Service) lock(ctx context.Context, providerRef string) (func(), error) {
	unlock, err := s.locker.Lock(ctx, "provider:"+providerRef)
	if err != nil {
		return nil, fmt.Errorf("lock provider %s: %w", providerRef, err)
	}
	return unlock, nil
}

// resolveCoverage is best effort: failures are logged and leave the zone unset.
func (s *Service) resolveCoverage(ctx context.Context, a *model.Appointment) {
	zone, ok, err := s.lookupZone(ctx, *a)
	if err != nil {
		s.logger.Warn("coverage resolution failed", "err", err, "appointment_id", a.ID)
		return
	}
	if !ok || zone == a.MobileCoverageRef {
		return
	}
	if err := s.store.SetCoverage(ctx, a.ID, zone); err != nil {
		s.logger.Warn("coverage update failed", "err", err, "appointment_id", a.ID)
		return
	}
	a.MobileCoverageRef = zone
}

func (s *Service) lookupZone(ctx context.Context, a model.Appointment) (string, bool, error) {
	if outward := coverage.OutwardCode(a.Postcode); outward != "" && s.coverage != nil {
		zone, ok, err := s.coverage.Resolve(ctx, outward)
		if err != nil {
			return "", false, err
		}
		if ok {
			return zone, true, nil
		}
	}
	if s.zones == nil {
		return "", false, nil
	}
	return s.zones.DefaultCoverageZone(ctx, a.ProviderRef)
}

func createEffects(a model.Appointment, option *model.ServiceOption, now time.Time) []effects.Command {
	if option == nil || option.PriceMinor <= 0 || a.Category != model.CategoryServiceBooking {
		return nil
	}
	return []effects.Command{
		effects.CreatePayment{Record: model.PaymentRecord{
			AppointmentID: a.ID,
			Status:        model.PaymentPendingCharge,
			AmountMinor:   option.PriceMinor,
			Currency:      option.Currency,
			CustomerRef:   a.UserRef,
			CreatedAt:     now,
			UpdatedAt:     now,
		}},
		effects.ScheduleJob{
			Name:    model.ChargeJobName(a.ID),
			RunAt:   a.ServiceEnd,
			Payload: map[string]any{"appointment_id": a.ID},
		},
	}
}

func defaultStatus(c model.Category) model.Status {
	if c == model.CategoryServiceBooking {
		return model.StatusUnconfirmed
	}
	return model.StatusConfirmed
}

func checkTimezone(name string) error {
	if _, err := time.LoadLocation(name); err != nil {
		return validation.Invalid("timezone", name, "unknown timezone")
	}
	return nil
}
