// Package travel estimates how long a provider needs to get from one place to another.
package travel

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/coverage"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

const earthRadiusKm = 6371.0

// Districts geocodes a postcode district (outward code) to its centroid.
type Districts interface {
	District(ctx context.Context, outwardCode string) (lat, lng float64, ok bool, err error)
}

type Config struct {
	// RoadFactor scales straight-line distance to an approximate road distance.
	RoadFactor float64
	// DefaultSpeedKmh applies when a provider has no usable transport speed.
	DefaultSpeedKmh float64
	// Fallback is used when either end cannot be placed on the map.
	Fallback time.Duration
	// Round rounds estimates up to a whole multiple.
	Round time.Duration
}

type Estimator struct {
	districts Districts
	cfg       Config
}

func NewEstimator(districts Districts, cfg Config) *Estimator {
	if cfg.RoadFactor <= 0 {
		cfg.RoadFactor = 1.3
	}
	if cfg.DefaultSpeedKmh <= 0 {
		cfg.DefaultSpeedKmh = 30
	}
	if cfg.Fallback < 0 {
		cfg.Fallback = 0
	}
	return &Estimator{districts: districts, cfg: cfg}
}

func (e *Estimator) Estimate(ctx context.Context, from model.Location, toPostcode string, speedKmh float64) (time.Duration, error) {
	if samePostcode(from.Postcode, toPostcode) {
		return 0, nil
	}
	fromLat, fromLng, ok, err := e.place(ctx, from.Lat, from.Lng, from.Postcode)
	if err != nil {
		return 0, fmt.Errorf("locate origin: %w", err)
	}
	if !ok {
		return e.cfg.Fallback, nil
	}
	toLat, toLng, ok, err := e.place(ctx, 0, 0, toPostcode)
	if err != nil {
		return 0, fmt.Errorf("locate destination: %w", err)
	}
	if !ok {
		return e.cfg.Fallback, nil
	}

	if speedKmh <= 0 {
		speedKmh = e.cfg.DefaultSpeedKmh
	}
	km := Haversine(fromLat, fromLng, toLat, toLng) * e.cfg.RoadFactor
	d := time.Duration(km / speedKmh * float64(time.Hour))
	if e.cfg.Round > 0 && d%e.cfg.Round != 0 {
		d = (d/e.cfg.Round + 1) * e.cfg.Round
	}
	return d, nil
}

func (e *Estimator) place(ctx context.Context, lat, lng float64, postcode string) (float64, float64, bool, error) {
	if lat != 0 || lng != 0 {
		return lat, lng, true, nil
	}
	outward := coverage.OutwardCode(postcode)
	if outward == "" || e.districts == nil {
		return 0, 0, false, nil
	}
	return e.districts.District(ctx, outward)
}

func samePostcode(a, b string) bool {
	norm := func(s string) string { return strings.ToUpper(strings.Join(strings.Fields(s), "")) }
	na := norm(a)
	return na != "" && na == norm(b)
}

// Haversine returns the great-circle distance in kilometres.
func Haversine(lat1, lng1, lat2, lng2 float64) float64 {
	rad := func(deg float64) float64 { return deg * math.Pi / 180 }
	dLat := rad(lat2 - lat1)
	dLng := rad(lng2 - lng1)
	h := math.Sin(dLat/2)*math.Sin(dLat/2) +
		math.Cos(rad(lat1))*math.Cos(rad(lat2))*math.Sin(dLng/2)*math.Sin(dLng/2)
	return 2 * earthRadiusKm * math.Asin(math.Sqrt(h))
}
