package storage

import (
	"context"

	"github.com/md-rashed-zaman/fieldbook/libs/db"
)

type IdempotencyRecord struct {
	Scope           string
	IdempotencyKey  string
	AppointmentID   string
	StatusCode      int
	ResponsePayload []byte
}

// Pending reports whether the original request is still in flight.
func (r IdempotencyRecord) Pending() bool {
	return r.StatusCode == 0
}

type IdempotencyRepository struct {
	pool *db.Pool
}

func NewIdempotencyRepository(pool *db.Pool) *IdempotencyRepository {
	return &IdempotencyRepository{pool: pool}
}

// Claim reserves key within scope. When the key was already claimed the stored record is
// returned with existed set.
func (r *IdempotencyRepository) Claim(ctx context.Context, scope, key string) (IdempotencyRecord, bool, error) {
	tag, err := r.pool.Exec(ctx, `
		INSERT INTO booking_idempotency_keys (scope, idempotency_key)
		VALUES ($1, $2)
		ON CONFLICT (scope, idempotency_key) DO NOTHING
	`, scope, key)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if tag.RowsAffected() == 1 {
		return IdempotencyRecord{Scope: scope, IdempotencyKey: key}, false, nil
	}

	var rec IdempotencyRecord
	var responseText string
	err = r.pool.QueryRow(ctx, `
		SELECT scope,
			idempotency_key,
			COALESCE(appointment_id, ''),
			COALESCE(status_code, 0),
			COALESCE(response_payload::text, '')
		FROM booking_idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2
	`, scope, key).Scan(
		&rec.Scope,
		&rec.IdempotencyKey,
		&rec.AppointmentID,
		&rec.StatusCode,
		&responseText,
	)
	if err != nil {
		return IdempotencyRecord{}, false, err
	}
	if responseText != "" {
		rec.ResponsePayload = []byte(responseText)
	}
	return rec, true, nil
}

func (r *IdempotencyRepository) Finalize(ctx context.Context, scope, key, appointmentID string, statusCode int, response []byte) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE booking_idempotency_keys
		SET appointment_id = $3,
			status_code = $4,
			response_payload = $5,
			updated_at = now()
		WHERE scope = $1 AND idempotency_key = $2
	`, scope, key, nullString(appointmentID), statusCode, response)
	return err
}

// Release forgets a claim whose request failed so the client may retry with the same key.
func (r *IdempotencyRepository) Release(ctx context.Context, scope, key string) error {
	_, err := r.pool.Exec(ctx, `
		DELETE FROM booking_idempotency_keys
		WHERE scope = $1 AND idempotency_key = $2 AND status_code IS NULL
	`, scope, key)
	return err
}
