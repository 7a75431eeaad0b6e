package notify

import (
	"context"
	"encoding/json"
	"log/slog"
	"time"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/outbox"
)

// Request is the payload of a booking.notification.requested.v1 event.
type Request struct {
	Variant     model.Variant `json:"variant"`
	Index       int           `json:"index"`
	Appointment Appointment   `json:"appointment"`
	Recipient   Recipient     `json:"recipient"`
	RequestedAt time.Time     `json:"requested_at"`
}

type Appointment struct {
	ID           string    `json:"id"`
	Category     string    `json:"category"`
	Status       string    `json:"status"`
	Confirmed    bool      `json:"confirmed"`
	Title        string    `json:"title,omitempty"`
	ProviderRef  string    `json:"provider_id"`
	Postcode     string    `json:"postcode,omitempty"`
	Timezone     string    `json:"timezone"`
	AllDay       bool      `json:"all_day"`
	ServiceStart time.Time `json:"service_start"`
	ServiceEnd   time.Time `json:"service_end"`
}

type Recipient struct {
	ID    string `json:"id"`
	Name  string `json:"name,omitempty"`
	Email string `json:"email,omitempty"`
	Phone string `json:"phone,omitempty"`
	Admin bool   `json:"admin"`
}

func NewRequest(variant model.Variant, a model.Appointment, r model.Recipient, index int, now time.Time) Request {
	return Request{
		Variant: variant,
		Index:   index,
		Appointment: Appointment{
			ID:           a.ID,
			Category:     string(a.Category),
			Status:       string(a.Status),
			Confirmed:    a.Confirmed,
			Title:        a.Title,
			ProviderRef:  a.ProviderRef,
			Postcode:     a.Postcode,
			Timezone:     a.Location().String(),
			AllDay:       a.AllDay,
			ServiceStart: a.ServiceStart.UTC(),
			ServiceEnd:   a.ServiceEnd.UTC(),
		},
		Recipient: Recipient{
			ID:    r.ID,
			Name:  r.Name,
			Email: r.Email,
			Phone: r.Phone,
			Admin: r.Admin,
		},
		RequestedAt: now.UTC(),
	}
}

// OutboxNotifier hands each notification to the notification service through the outbox.
type OutboxNotifier struct {
	q      outbox.Execer
	outbox *outbox.Repository
	now    func() time.Time
}

func NewOutboxNotifier(q outbox.Execer, repo *outbox.Repository) *OutboxNotifier {
	return &OutboxNotifier{q: q, outbox: repo, now: time.Now}
}

func (n *OutboxNotifier) Notify(ctx context.Context, variant model.Variant, a model.Appointment, r model.Recipient, index int) error {
	payload, err := json.Marshal(NewRequest(variant, a, r, index, n.now()))
	if err != nil {
		return err
	}
	return n.outbox.Insert(ctx, n.q, outbox.Event{
		AggregateType: "appointment",
		AggregateID:   a.ID,
		EventType:     outbox.TopicNotificationRequested,
		Payload:       payload,
	})
}

// LogNotifier only logs. Used by the in-memory deployment.
type LogNotifier struct {
	logger *slog.Logger
}

func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) Notify(_ context.Context, variant model.Variant, a model.Appointment, r model.Recipient, index int) error {
	n.logger.Info("notification requested",
		"variant", variant,
		"appointment_id", a.ID,
		"recipient_id", r.ID,
		"admin", r.Admin,
		"index", index,
	)
	return nil
}
