package storage

import (
	"context"
	"time"

	"github.com/md-rashed-zaman/fieldbook/libs/db"
)

type Notification struct {
	EventID       string
	AppointmentID string
	Variant       string
	RecipientID   string
	RecipientIdx  int
	Channel       string
	Address       string
	Subject       string
	Body          string
	Status        string
	ProviderID    string
	ErrorReason   string
	CreatedAt     time.Time
}

type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

func (r *Repository) Insert(ctx context.Context, n Notification) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO notifications (event_id, appointment_id, variant, recipient_id, recipient_idx, channel, address, subject, body, status, provider_id, error_reason)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`, n.EventID, n.AppointmentID, n.Variant, n.RecipientID, n.RecipientIdx, n.Channel, n.Address, n.Subject, n.Body, n.Status, n.ProviderID, n.ErrorReason)
	return err
}

// ListByAppointment returns the delivery log for one appointment, oldest first.
func (r *Repository) ListByAppointment(ctx context.Context, appointmentID string, limit int) ([]Notification, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	rows, err := r.pool.Query(ctx, `
		SELECT event_id, appointment_id, variant, recipient_id, recipient_idx, channel, address, subject, body, status, provider_id, error_reason, created_at
		FROM notifications
		WHERE appointment_id = $1
		ORDER BY created_at, id
		LIMIT $2
	`, appointmentID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []Notification
	for rows.Next() {
		var n Notification
		if err := rows.Scan(&n.EventID, &n.AppointmentID, &n.Variant, &n.RecipientID, &n.RecipientIdx, &n.Channel,
			&n.Address, &n.Subject, &n.Body, &n.Status, &n.ProviderID, &n.ErrorReason, &n.CreatedAt); err != nil {
			return nil, err
		}
		out = append(out, n)
	}
	return out, rows.Err()
}
