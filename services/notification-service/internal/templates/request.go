package templates

import "time"

// Request mirrors the booking.notification.requested.v1 payload.
type Request struct {
	Variant     string      `json:"variant"`
	Index       int         `json:"index"`
	Appointment Appointment `json:"appointment"`
	Recipient   Recipient   `json:"recipient"`
	RequestedAt time.Time   `json:"requested_at"`
}

type Appointment struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Status       string    `json:"status"`
	Confirmed    bool      `json:"confirmed"`
	Title        string    `json:"title"`
	ProviderRef  string    `json:"provider_id"`
	Postcode     string    `json:"postcode"`
	Timezone     string    `json:"timezone"`
	AllDay       bool      `json:"all_day"`
	ServiceStart time.Time `json:"service_start"`
	ServiceEnd   time.Time `json:"service_end"`
}

type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
	Phone string `json:"phone"`
	Admin bool   `json:"admin"`
}
