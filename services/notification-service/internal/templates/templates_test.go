package templates

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func request(variant string, r Recipient, index int) Request {
	return Request{
		Variant: variant,
		Index:   index,
		Appointment: Appointment{
			ID:           "appt-7",
			Category:     "service_booking",
			Title:        "Boiler service",
			Postcode:     "E1 6AN",
			Timezone:     "Europe/London",
			ServiceStart: time.Date(2026, 7, 1, 9, 30, 0, 0, time.UTC),
			ServiceEnd:   time.Date(2026, 7, 1, 10, 30, 0, 0, time.UTC),
		},
		Recipient: r,
	}
}

func TestRenderEveryVariant(t *testing.T) {
	for name := range variants {
		t.Run(name, func(t *testing.T) {
			msg, err := Render(request(name, Recipient{ID: "u-1", Name: "Sam"}, 0))
			require.NoError(t, err)
			assert.Contains(t, msg.Subject, "Wed 1 Jul 2026 10:30 BST")
			assert.Contains(t, msg.Body, "Hello Sam,")
			assert.Contains(t, msg.Body, "Boiler service")
			assert.Contains(t, msg.SMS, "Ref appt-7")
		})
	}
}

func TestRenderAdminCarriesIndex(t *testing.T) {
	msg, err := Render(request("cancelled_confirmed", Recipient{ID: "adm", Admin: true}, 2))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Admin notice #2,")
	assert.Contains(t, msg.Body, "has been cancelled")
	assert.NotContains(t, msg.Body, "Hello")
}

func TestRenderRescheduledIncludesLocation(t *testing.T) {
	msg, err := Render(request("rescheduled_unconfirmed", Recipient{ID: "u-1"}, 0))
	require.NoError(t, err)
	assert.Contains(t, msg.Body, "Location: E1 6AN")
	assert.Contains(t, msg.Body, "has not confirmed")
	assert.Contains(t, msg.Body, "Hello,")
}

func TestRenderAllDay(t *testing.T) {
	req := request("cancelled_unconfirmed", Recipient{ID: "u-1"}, 0)
	req.Appointment.AllDay = true
	req.Appointment.Title = ""
	req.Appointment.ServiceStart = time.Date(2026, 6, 30, 23, 0, 0, 0, time.UTC)
	msg, err := Render(req)
	require.NoError(t, err)
	assert.Equal(t, "Appointment request cancelled: Wed 1 Jul 2026 (all day)", msg.Subject)
	assert.Contains(t, msg.Body, "your appointment")
}

func TestRenderUnknownVariant(t *testing.T) {
	_, err := Render(request("reminder", Recipient{}, 0))
	assert.Error(t, err)
}
