package handlers

import (
	"strings"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

type createAppointmentRequest struct {
	Category        string `json:"category"`
	Status          string `json:"status"`
	ProviderID      string `json:"provider_id"`
	UserID          string `json:"user_id"`
	ServiceOptionID string `json:"service_option_id"`
	SyncTag         string `json:"sync_tag"`
	RequestedStart  string `json:"requested_start"`
	RequestedEnd    string `json:"requested_end"`
	AllDay          bool   `json:"all_day"`
	Timezone        string `json:"timezone"`
	Postcode        string `json:"postcode"`
	LocationID      string `json:"location_id"`
	Title           string `json:"title"`
	Notes           string `json:"notes"`
}

func (req createAppointmentRequest) toLifecycle() (lifecycle.CreateRequest, error) {
	start, err := parseOptionalTime("requested_start", req.RequestedStart)
	if err != nil {
		return lifecycle.CreateRequest{}, err
	}
	end, err := parseOptionalTime("requested_end", req.RequestedEnd)
	if err != nil {
		return lifecycle.CreateRequest{}, err
	}
	return lifecycle.CreateRequest{
		Category:         model.Category(strings.TrimSpace(req.Category)),
		Status:           model.Status(strings.TrimSpace(req.Status)),
		ProviderRef:      strings.TrimSpace(req.ProviderID),
		UserRef:          strings.TrimSpace(req.UserID),
		ServiceOptionRef: strings.TrimSpace(req.ServiceOptionID),
		SyncTag:          strings.TrimSpace(req.SyncTag),
		RequestedStart:   start,
		RequestedEnd:     end,
		AllDay:           req.AllDay,
		Timezone:         strings.TrimSpace(req.Timezone),
		Postcode:         strings.TrimSpace(req.Postcode),
		LocationRef:      strings.TrimSpace(req.LocationID),
		Title:            strings.TrimSpace(req.Title),
		Notes:            req.Notes,
	}, nil
}

// updateAppointmentRequest mirrors lifecycle.Changes; absent fields stay untouched.
type updateAppointmentRequest struct {
	Category        *string `json:"category"`
	Status          *string `json:"status"`
	UserID          *string `json:"user_id"`
	ServiceOptionID *string `json:"service_option_id"`
	SyncTag         *string `json:"sync_tag"`
	RequestedStart  *string `json:"requested_start"`
	RequestedEnd    *string `json:"requested_end"`
	AllDay          *bool   `json:"all_day"`
	Timezone        *string `json:"timezone"`
	Postcode        *string `json:"postcode"`
	LocationID      *string `json:"location_id"`
	PaymentStatus   *string `json:"payment_status"`
	Title           *string `json:"title"`
	Notes           *string `json:"notes"`
}

func (req updateAppointmentRequest) toChanges() (lifecycle.Changes, error) {
	c := lifecycle.Changes{
		UserRef:          trimmed(req.UserID),
		ServiceOptionRef: trimmed(req.ServiceOptionID),
		SyncTag:          trimmed(req.SyncTag),
		AllDay:           req.AllDay,
		Timezone:         trimmed(req.Timezone),
		Postcode:         trimmed(req.Postcode),
		LocationRef:      trimmed(req.LocationID),
		Title:            trimmed(req.Title),
		Notes:            req.Notes,
	}
	if req.Category != nil {
		v := model.Category(strings.TrimSpace(*req.Category))
		c.Category = &v
	}
	if req.Status != nil {
		v := model.Status(strings.TrimSpace(*req.Status))
		c.Status = &v
	}
	if req.PaymentStatus != nil {
		v := model.PaymentStatus(strings.TrimSpace(*req.PaymentStatus))
		c.PaymentStatus = &v
	}
	if req.RequestedStart != nil {
		t, err := parseOptionalTime("requested_start", *req.RequestedStart)
		if err != nil {
			return lifecycle.Changes{}, err
		}
		c.RequestedStart = &t
	}
	if req.RequestedEnd != nil {
		t, err := parseOptionalTime("requested_end", *req.RequestedEnd)
		if err != nil {
			return lifecycle.Changes{}, err
		}
		c.RequestedEnd = &t
	}
	return c, nil
}

type appointmentResponse struct {
	ID              string `json:"id"`
	Category        string `json:"category"`
	Status          string `json:"status"`
	Confirmed       bool   `json:"confirmed"`
	AllDay          bool   `json:"all_day"`
	Timezone        string `json:"timezone"`
	RequestedStart  string `json:"requested_start,omitempty"`
	RequestedEnd    string `json:"requested_end,omitempty"`
	ServiceStart    string `json:"service_start"`
	ServiceEnd      string `json:"service_end"`
	BusyStart       string `json:"busy_start"`
	BusyEnd         string `json:"busy_end"`
	Postcode        string `json:"postcode,omitempty"`
	LocationID      string `json:"location_id,omitempty"`
	CoverageZone    string `json:"coverage_zone,omitempty"`
	ProviderID      string `json:"provider_id"`
	UserID          string `json:"user_id,omitempty"`
	ServiceOptionID string `json:"service_option_id,omitempty"`
	SyncTag         string `json:"sync_tag,omitempty"`
	PaymentStatus   string `json:"payment_status,omitempty"`
	Title           string `json:"title,omitempty"`
	Notes           string `json:"notes,omitempty"`
	CreatedAt       string `json:"created_at"`
	UpdatedAt       string `json:"updated_at"`
}

func toResponse(a model.Appointment) appointmentResponse {
	return appointmentResponse{
		ID:              a.ID,
		Category:        string(a.Category),
		Status:          string(a.Status),
		Confirmed:       a.Confirmed,
		AllDay:          a.AllDay,
		Timezone:        a.Timezone,
		RequestedStart:  formatTime(a.RequestedStart),
		RequestedEnd:    formatTime(a.RequestedEnd),
		ServiceStart:    formatTime(a.ServiceStart),
		ServiceEnd:      formatTime(a.ServiceEnd),
		BusyStart:       formatTime(a.BusyStart),
		BusyEnd:         formatTime(a.BusyEnd),
		Postcode:        a.Postcode,
		LocationID:      a.LocationRef,
		CoverageZone:    a.MobileCoverageRef,
		ProviderID:      a.ProviderRef,
		UserID:          a.UserRef,
		ServiceOptionID: a.ServiceOptionRef,
		SyncTag:         a.SyncTag,
		PaymentStatus:   string(a.PaymentStatus),
		Title:           a.Title,
		Notes:           a.Notes,
		CreatedAt:       formatTime(a.CreatedAt),
		UpdatedAt:       formatTime(a.UpdatedAt),
	}
}

type slotItem struct {
	StartTime string `json:"start_time"`
	EndTime   string `json:"end_time"`
}

type errorResponse struct {
	Error          string   `json:"error"`
	Field          string   `json:"field,omitempty"`
	ConflictingIDs []string `json:"conflicting_ids,omitempty"`
}

func parseOptionalTime(field, raw string) (time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return time.Time{}, nil
	}
	t, err := time.Parse(time.RFC3339, raw)
	if err != nil {
		return time.Time{}, validation.Invalid(field, raw, "must be an RFC3339 timestamp")
	}
	return t, nil
}

func formatTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(time.RFC3339)
}

func trimmed(s *string) *string {
	if s == nil {
		return nil
	}
	v := strings.TrimSpace(*s)
	return &v
}
