package storage

import (
	"encoding/json"
	"fmt"
	"io"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

// Seed is the JSON document used to populate the in-memory store's reference data.
type Seed struct {
	Providers []struct {
		ID           string  `json:"id"`
		Timezone     string  `json:"timezone"`
		HomePostcode string  `json:"home_postcode"`
		SpeedKmh     float64 `json:"transport_speed_kmh"`
		DefaultZone  string  `json:"default_coverage_zone"`
	} `json:"providers"`
	Users []struct {
		ID    string `json:"id"`
		Name  string `json:"name"`
		Email string `json:"email"`
		Phone string `json:"phone"`
		Role  string `json:"role"`
	} `json:"users"`
	ServiceOptions []struct {
		ID              string `json:"id"`
		Title           string `json:"title"`
		DurationMinutes int    `json:"duration_minutes"`
		BufferMinutes   int    `json:"buffer_minutes"`
		PriceMinor      int64  `json:"price_minor"`
		Currency        string `json:"currency"`
	} `json:"service_options"`
	Locations []struct {
		ID       string `json:"id"`
		Postcode string `json:"postcode"`
	} `json:"locations"`
	Districts []struct {
		Outward string  `json:"outward_code"`
		Lat     float64 `json:"lat"`
		Lng     float64 `json:"lng"`
		Zone    string  `json:"coverage_zone"`
	} `json:"districts"`
}

// LoadSeed decodes a Seed from r and registers everything it lists.
func (m *Memory) LoadSeed(r io.Reader) error {
	var s Seed
	if err := json.NewDecoder(r).Decode(&s); err != nil {
		return fmt.Errorf("decode seed: %w", err)
	}
	for _, p := range s.Providers {
		m.PutProvider(Provider{
			ID:          p.ID,
			Timezone:    p.Timezone,
			Home:        model.Location{Postcode: p.HomePostcode},
			SpeedKmh:    p.SpeedKmh,
			DefaultZone: p.DefaultZone,
		})
	}
	for _, u := range s.Users {
		m.PutUser(model.Recipient{ID: u.ID, Name: u.Name, Email: u.Email, Phone: u.Phone, Admin: u.Role == "admin"})
	}
	for _, o := range s.ServiceOptions {
		m.PutServiceOption(model.ServiceOption{
			ID:         o.ID,
			Title:      o.Title,
			Duration:   time.Duration(o.DurationMinutes) * time.Minute,
			Buffer:     time.Duration(o.BufferMinutes) * time.Minute,
			PriceMinor: o.PriceMinor,
			Currency:   o.Currency,
		})
	}
	for _, l := range s.Locations {
		m.PutLocation(model.Location{Ref: l.ID, Postcode: l.Postcode})
	}
	for _, d := range s.Districts {
		m.PutDistrict(d.Outward, d.Lat, d.Lng)
		if d.Zone != "" {
			m.PutCoverageZone(d.Outward, d.Zone)
		}
	}
	return nil
}
