package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/fieldbook/libs/db"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/availability"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type AppointmentRepository struct {
	pool *db.Pool
}

func NewAppointmentRepository(pool *db.Pool) *AppointmentRepository {
	return &AppointmentRepository{pool: pool}
}

const appointmentColumns = `
	id, category, status, confirmed, all_day, timezone,
	requested_start, requested_end, service_start, service_end, busy_start, busy_end,
	postcode, COALESCE(location_id, ''), COALESCE(mobile_coverage_ref, ''),
	provider_id, COALESCE(user_id, ''), COALESCE(service_option_id, ''), COALESCE(sync_tag, ''),
	payment_status, title, notes, created_at, updated_at`

var activeStatuses = []string{
	string(model.StatusUnconfirmed),
	string(model.StatusConfirmed),
	string(model.StatusRescheduled),
}

func (r *AppointmentRepository) Get(ctx context.Context, id string) (model.Appointment, error) {
	row := r.pool.QueryRow(ctx, `SELECT `+appointmentColumns+` FROM appointments WHERE id = $1`, id)
	a, err := scanAppointment(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Appointment{}, fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return a, err
}

// Insert writes a new appointment under the provider's advisory lock. An overlap with another
// active appointment is reported by the exclusion constraint as a conflict.
func (r *AppointmentRepository) Insert(ctx context.Context, a model.Appointment) error {
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "provider:"+a.ProviderRef); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO appointments (
				id, category, status, confirmed, all_day, timezone,
				requested_start, requested_end, service_start, service_end, busy_start, busy_end,
				postcode, location_id, mobile_coverage_ref, provider_id, user_id, service_option_id, sync_tag,
				payment_status, title, notes, created_at, updated_at)
			VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17, $18, $19, $20, $21, $22, $23, $24)
		`, a.ID, a.Category, a.Status, a.Confirmed, a.AllDay, a.Timezone,
			nullTime(a.RequestedStart), nullTime(a.RequestedEnd), a.ServiceStart, a.ServiceEnd, a.BusyStart, a.BusyEnd,
			a.Postcode, nullString(a.LocationRef), nullString(a.MobileCoverageRef), a.ProviderRef,
			nullString(a.UserRef), nullString(a.ServiceOptionRef), nullString(a.SyncTag),
			a.PaymentStatus, a.Title, a.Notes, a.CreatedAt, a.UpdatedAt)
		return err
	})
	return translateWriteError(err, a)
}

// Update replaces the row only while its updated_at still equals expected. A row changed in
// between (a payment mirror or coverage write) is reported as model.ErrStale.
func (r *AppointmentRepository) Update(ctx context.Context, a model.Appointment, expected time.Time) error {
	err := r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "provider:"+a.ProviderRef); err != nil {
			return err
		}
		tag, err := tx.Exec(ctx, `
			UPDATE appointments
			SET status = $2,
				confirmed = $3,
				all_day = $4,
				timezone = $5,
				requested_start = $6,
				requested_end = $7,
				service_start = $8,
				service_end = $9,
				busy_start = $10,
				busy_end = $11,
				postcode = $12,
				location_id = $13,
				mobile_coverage_ref = $14,
				user_id = $15,
				service_option_id = $16,
				sync_tag = $17,
				payment_status = $18,
				title = $19,
				notes = $20,
				updated_at = $21
			WHERE id = $1 AND updated_at = $22
		`, a.ID, a.Status, a.Confirmed, a.AllDay, a.Timezone,
			nullTime(a.RequestedStart), nullTime(a.RequestedEnd), a.ServiceStart, a.ServiceEnd, a.BusyStart, a.BusyEnd,
			a.Postcode, nullString(a.LocationRef), nullString(a.MobileCoverageRef),
			nullString(a.UserRef), nullString(a.ServiceOptionRef), nullString(a.SyncTag),
			a.PaymentStatus, a.Title, a.Notes, a.UpdatedAt, expected)
		if err != nil {
			return err
		}
		if tag.RowsAffected() > 0 {
			return nil
		}
		var exists bool
		if err := tx.QueryRow(ctx, `SELECT EXISTS (SELECT 1 FROM appointments WHERE id = $1)`, a.ID).Scan(&exists); err != nil {
			return err
		}
		if !exists {
			return fmt.Errorf("%w: %s", model.ErrNotFound, a.ID)
		}
		return fmt.Errorf("%w: %s", model.ErrStale, a.ID)
	})
	return translateWriteError(err, a)
}

func (r *AppointmentRepository) Delete(ctx context.Context, id string) error {
	tag, err := r.pool.Exec(ctx, `DELETE FROM appointments WHERE id = $1 AND category <> 'service_booking'`, id)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("%w: %s", model.ErrNotFound, id)
	}
	return nil
}

func (r *AppointmentRepository) SetCoverage(ctx context.Context, id, zone string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE appointments SET mobile_coverage_ref = $2, updated_at = now() WHERE id = $1
	`, id, nullString(zone))
	return err
}

// setPaymentStatus mirrors a payment record's status onto its appointment.
func setPaymentStatus(ctx context.Context, tx pgx.Tx, id string, status model.PaymentStatus) error {
	_, err := tx.Exec(ctx, `
		UPDATE appointments SET payment_status = $2, updated_at = now() WHERE id = $1
	`, id, status)
	return err
}

func (r *AppointmentRepository) FindOverlapping(ctx context.Context, providerRef string, iv availability.Interval, excludeID string) ([]model.Appointment, error) {
	return r.query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND status = ANY($2)
			AND busy_start < $4
			AND busy_end > $3
			AND id <> $5
		ORDER BY busy_start ASC
	`, providerRef, activeStatuses, iv.Start, iv.End, excludeID)
}

func (r *AppointmentRepository) ListByProvider(ctx context.Context, providerRef string, from, to time.Time) ([]model.Appointment, error) {
	return r.query(ctx, `
		SELECT `+appointmentColumns+`
		FROM appointments
		WHERE provider_id = $1
			AND busy_start < $3
			AND busy_end > $2
		ORDER BY busy_start ASC
	`, providerRef, from, to)
}

// LatestServiceLocation returns where the provider's last active service booking that ended
// within [dayStart, at] took place.
func (r *AppointmentRepository) LatestServiceLocation(ctx context.Context, providerRef string, dayStart, at time.Time) (model.Location, bool, error) {
	var loc model.Location
	var lat, lng *float64
	err := r.pool.QueryRow(ctx, `
		SELECT COALESCE(a.location_id, ''), COALESCE(l.postcode, a.postcode), l.lat, l.lng
		FROM appointments a
		LEFT JOIN locations l ON l.id = a.location_id
		WHERE a.provider_id = $1
			AND a.category = 'service_booking'
			AND a.status = ANY($2)
			AND a.service_end >= $3
			AND a.service_end <= $4
		ORDER BY a.service_end DESC
		LIMIT 1
	`, providerRef, activeStatuses, dayStart, at).Scan(&loc.Ref, &loc.Postcode, &lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Location{}, false, nil
	}
	if err != nil {
		return model.Location{}, false, err
	}
	loc.Lat, loc.Lng = deref(lat), deref(lng)
	return loc, true, nil
}

func (r *AppointmentRepository) query(ctx context.Context, sql string, args ...any) ([]model.Appointment, error) {
	rows, err := r.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var appts []model.Appointment
	for rows.Next() {
		a, err := scanAppointment(rows)
		if err != nil {
			return nil, err
		}
		appts = append(appts, a)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return appts, nil
}

func scanAppointment(row pgx.Row) (model.Appointment, error) {
	var a model.Appointment
	var requestedStart, requestedEnd *time.Time
	err := row.Scan(
		&a.ID,
		&a.Category,
		&a.Status,
		&a.Confirmed,
		&a.AllDay,
		&a.Timezone,
		&requestedStart,
		&requestedEnd,
		&a.ServiceStart,
		&a.ServiceEnd,
		&a.BusyStart,
		&a.BusyEnd,
		&a.Postcode,
		&a.LocationRef,
		&a.MobileCoverageRef,
		&a.ProviderRef,
		&a.UserRef,
		&a.ServiceOptionRef,
		&a.SyncTag,
		&a.PaymentStatus,
		&a.Title,
		&a.Notes,
		&a.CreatedAt,
		&a.UpdatedAt,
	)
	if err != nil {
		return model.Appointment{}, err
	}
	if requestedStart != nil {
		a.RequestedStart = *requestedStart
	}
	if requestedEnd != nil {
		a.RequestedEnd = *requestedEnd
	}
	return a, nil
}

func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func nullTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}

func deref(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
