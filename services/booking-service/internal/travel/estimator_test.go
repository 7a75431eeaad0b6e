package travel

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type districts map[string][2]float64

func (d districts) District(_ context.Context, outward string) (float64, float64, bool, error) {
	if outward == "ERR" {
		return 0, 0, false, errors.New("lookup failed")
	}
	c, ok := d[outward]
	return c[0], c[1], ok, nil
}

var london = districts{
	"SW1A": {51.5014, -0.1419},
	"E1":   {51.5176, -0.0590},
}

func TestHaversine(t *testing.T) {
	// London to Paris is roughly 344 km.
	km := Haversine(51.5074, -0.1278, 48.8566, 2.3522)
	assert.InDelta(t, 344, km, 5)
	assert.Zero(t, Haversine(1, 1, 1, 1))
}

func TestEstimate(t *testing.T) {
	e := NewEstimator(london, Config{RoadFactor: 1, Fallback: 30 * time.Minute})
	ctx := context.Background()

	tests := []struct {
		name  string
		from  model.Location
		to    string
		speed float64
		check func(t *testing.T, d time.Duration)
	}{
		{
			name: "same postcode is free",
			from: model.Location{Postcode: "e1 6an"}, to: "E1 6AN", speed: 30,
			check: func(t *testing.T, d time.Duration) { assert.Zero(t, d) },
		},
		{
			name: "district to district",
			from: model.Location{Postcode: "SW1A 1AA"}, to: "E1 6AN", speed: 30,
			check: func(t *testing.T, d time.Duration) {
				// about 6 km at 30 km/h
				assert.InDelta(t, 12*time.Minute, d, float64(2*time.Minute))
			},
		},
		{
			name: "explicit coordinates win",
			from: model.Location{Lat: 51.5176, Lng: -0.0590, Postcode: "ZZ9 9ZZ"}, to: "E1 7AA", speed: 30,
			check: func(t *testing.T, d time.Duration) { assert.Less(t, d, time.Minute) },
		},
		{
			name: "unknown destination falls back",
			from: model.Location{Postcode: "SW1A 1AA"}, to: "XX1 1XX", speed: 30,
			check: func(t *testing.T, d time.Duration) { assert.Equal(t, 30*time.Minute, d) },
		},
		{
			name: "zero speed uses default",
			from: model.Location{Postcode: "SW1A 1AA"}, to: "E1 6AN", speed: 0,
			check: func(t *testing.T, d time.Duration) { assert.Greater(t, d, time.Duration(0)) },
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			d, err := e.Estimate(ctx, tt.from, tt.to, tt.speed)
			require.NoError(t, err)
			tt.check(t, d)
		})
	}
}

func TestEstimate_RoundsUp(t *testing.T) {
	e := NewEstimator(london, Config{RoadFactor: 1, Round: 5 * time.Minute})
	d, err := e.Estimate(context.Background(), model.Location{Postcode: "SW1A 1AA"}, "E1 6AN", 30)
	require.NoError(t, err)
	assert.Zero(t, d%(5*time.Minute))
	assert.Greater(t, d, time.Duration(0))
}

func TestEstimate_LookupError(t *testing.T) {
	e := NewEstimator(london, Config{})
	_, err := e.Estimate(context.Background(), model.Location{Postcode: "SW1A 1AA"}, "ERR 1AA", 30)
	require.Error(t, err)
}
