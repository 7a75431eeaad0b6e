package storage

import (
	"context"
	"errors"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/fieldbook/libs/db"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

// Directory answers provider, user, catalog and location lookups from postgres.
type Directory struct {
	pool  *db.Pool
	appts *AppointmentRepository
}

func NewDirectory(pool *db.Pool, appts *AppointmentRepository) *Directory {
	return &Directory{pool: pool, appts: appts}
}

type provider struct {
	timezone     string
	homePostcode string
	homeLat      *float64
	homeLng      *float64
	speed        float64
	defaultZone  *string
}

func (d *Directory) provider(ctx context.Context, ref string) (provider, error) {
	var p provider
	err := d.pool.QueryRow(ctx, `
		SELECT timezone, home_postcode, home_lat, home_lng, transport_speed_kmh, default_coverage_zone
		FROM providers
		WHERE id = $1
	`, ref).Scan(&p.timezone, &p.homePostcode, &p.homeLat, &p.homeLng, &p.speed, &p.defaultZone)
	if errors.Is(err, pgx.ErrNoRows) {
		return provider{}, validation.Invalid("provider_ref", ref, "does not exist")
	}
	return p, err
}

// LocationAt returns where the provider is expected to set off from at the given time: the
// location of their latest service booking that day, else their home base.
func (d *Directory) LocationAt(ctx context.Context, providerRef string, at time.Time) (model.Location, error) {
	p, err := d.provider(ctx, providerRef)
	if err != nil {
		return model.Location{}, err
	}
	loc, err := time.LoadLocation(p.timezone)
	if err != nil {
		loc = time.UTC
	}
	local := at.In(loc)
	dayStart := time.Date(local.Year(), local.Month(), local.Day(), 0, 0, 0, 0, loc)

	last, ok, err := d.appts.LatestServiceLocation(ctx, providerRef, dayStart, at)
	if err != nil {
		return model.Location{}, err
	}
	if ok {
		return last, nil
	}
	return model.Location{Postcode: p.homePostcode, Lat: deref(p.homeLat), Lng: deref(p.homeLng)}, nil
}

func (d *Directory) TransportSpeed(ctx context.Context, providerRef string) (float64, error) {
	p, err := d.provider(ctx, providerRef)
	if err != nil {
		return 0, err
	}
	return p.speed, nil
}

func (d *Directory) DefaultCoverageZone(ctx context.Context, providerRef string) (string, bool, error) {
	p, err := d.provider(ctx, providerRef)
	if err != nil {
		return "", false, err
	}
	if p.defaultZone == nil || *p.defaultZone == "" {
		return "", false, nil
	}
	return *p.defaultZone, true, nil
}

// Administrators are ordered by creation so notification indexes are stable.
func (d *Directory) Administrators(ctx context.Context) ([]model.Recipient, error) {
	rows, err := d.pool.Query(ctx, `
		SELECT id, name, email, phone
		FROM users
		WHERE role = 'admin'
		ORDER BY created_at ASC, id ASC
	`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Recipient
	for rows.Next() {
		r := model.Recipient{Admin: true}
		if err := rows.Scan(&r.ID, &r.Name, &r.Email, &r.Phone); err != nil {
			return nil, err
		}
		out = append(out, r)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return out, nil
}

func (d *Directory) User(ctx context.Context, ref string) (model.Recipient, bool, error) {
	var r model.Recipient
	var role string
	err := d.pool.QueryRow(ctx, `
		SELECT id, name, email, phone, role FROM users WHERE id = $1
	`, ref).Scan(&r.ID, &r.Name, &r.Email, &r.Phone, &role)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Recipient{}, false, nil
	}
	if err != nil {
		return model.Recipient{}, false, err
	}
	r.Admin = role == "admin"
	return r, true, nil
}

func (d *Directory) ServiceOption(ctx context.Context, ref string) (model.ServiceOption, bool, error) {
	var o model.ServiceOption
	var durationSec, bufferSec int
	err := d.pool.QueryRow(ctx, `
		SELECT id, title, duration_seconds, buffer_seconds, price_minor, currency
		FROM service_options
		WHERE id = $1
	`, ref).Scan(&o.ID, &o.Title, &durationSec, &bufferSec, &o.PriceMinor, &o.Currency)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.ServiceOption{}, false, nil
	}
	if err != nil {
		return model.ServiceOption{}, false, err
	}
	o.Duration = time.Duration(durationSec) * time.Second
	o.Buffer = time.Duration(bufferSec) * time.Second
	return o, true, nil
}

func (d *Directory) Location(ctx context.Context, ref string) (model.Location, bool, error) {
	l := model.Location{Ref: ref}
	var lat, lng *float64
	err := d.pool.QueryRow(ctx, `
		SELECT postcode, lat, lng FROM locations WHERE id = $1
	`, ref).Scan(&l.Postcode, &lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.Location{}, false, nil
	}
	if err != nil {
		return model.Location{}, false, err
	}
	l.Lat, l.Lng = deref(lat), deref(lng)
	return l, true, nil
}

// District returns the centroid of a postcode district (outward code).
func (d *Directory) District(ctx context.Context, outwardCode string) (float64, float64, bool, error) {
	var lat, lng float64
	err := d.pool.QueryRow(ctx, `
		SELECT lat, lng FROM postcode_districts WHERE outward_code = $1
	`, outwardCode).Scan(&lat, &lng)
	if errors.Is(err, pgx.ErrNoRows) {
		return 0, 0, false, nil
	}
	if err != nil {
		return 0, 0, false, err
	}
	return lat, lng, true, nil
}

// CoverageZone looks up the zone configured for an outward code.
func (d *Directory) CoverageZone(ctx context.Context, outwardCode string) (string, bool, error) {
	var zone string
	err := d.pool.QueryRow(ctx, `
		SELECT zone FROM coverage_zones WHERE outward_code = $1
	`, outwardCode).Scan(&zone)
	if errors.Is(err, pgx.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, err
	}
	return zone, true, nil
}
