package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/fieldbook/libs/db"
	otelx "github.com/md-rashed-zaman/fieldbook/libs/otel"
)

const defaultMaxAttempts = 5

type Job struct {
	ID            int64
	Name          string
	AppointmentID string
	RunAt         time.Time
	Payload       map[string]any
	Traceparent   string
	Tracestate    string
	Attempts      int
	MaxAttempts   int
	NextRunAt     time.Time
}

// Repository persists deferred charge jobs. At most one pending job exists per name.
type Repository struct {
	pool *db.Pool
}

func NewRepository(pool *db.Pool) *Repository {
	return &Repository{pool: pool}
}

// Schedule replaces any pending job of the same name.
func (r *Repository) Schedule(ctx context.Context, name string, runAt time.Time, payload map[string]any) error {
	raw, err := json.Marshal(payload)
	if err != nil {
		return err
	}
	appointmentID := appointmentOf(name, payload)
	traceparent, tracestate := otelx.TraceContextStrings(ctx)
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		if err := db.AdvisoryXactLock(ctx, tx, "job:"+name); err != nil {
			return err
		}
		if _, err := tx.Exec(ctx, `
			UPDATE charge_jobs SET status = 'cancelled', updated_at = now()
			WHERE name = $1 AND status = 'pending'
		`, name); err != nil {
			return err
		}
		_, err := tx.Exec(ctx, `
			INSERT INTO charge_jobs (name, appointment_id, run_at, payload, max_attempts, next_run_at, traceparent, tracestate)
			VALUES ($1, $2, $3, $4, $5, $3, $6, $7)
		`, name, appointmentID, runAt.UTC(), raw, defaultMaxAttempts, traceparent, tracestate)
		return err
	})
}

func (r *Repository) Cancel(ctx context.Context, name string) error {
	_, err := r.pool.Exec(ctx, `
		UPDATE charge_jobs SET status = 'cancelled', updated_at = now()
		WHERE name = $1 AND status = 'pending'
	`, name)
	return err
}

// RunTimeOf reports the run time of the pending job called name.
func (r *Repository) RunTimeOf(ctx context.Context, name string) (time.Time, bool, error) {
	var runAt time.Time
	err := r.pool.QueryRow(ctx, `
		SELECT run_at FROM charge_jobs WHERE name = $1 AND status = 'pending'
	`, name).Scan(&runAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return time.Time{}, false, nil
	}
	if err != nil {
		return time.Time{}, false, fmt.Errorf("run time of %s: %w", name, err)
	}
	return runAt, true, nil
}

func (r *Repository) FetchDue(ctx context.Context, tx pgx.Tx, limit int) ([]Job, error) {
	rows, err := tx.Query(ctx, `
		SELECT id, name, appointment_id, run_at, payload, traceparent, tracestate, attempts, max_attempts, next_run_at
		FROM charge_jobs
		WHERE status = 'pending' AND next_run_at <= now()
		ORDER BY next_run_at
		LIMIT $1
		FOR UPDATE SKIP LOCKED
	`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []Job
	for rows.Next() {
		var j Job
		var raw []byte
		if err := rows.Scan(&j.ID, &j.Name, &j.AppointmentID, &j.RunAt, &raw, &j.Traceparent, &j.Tracestate, &j.Attempts, &j.MaxAttempts, &j.NextRunAt); err != nil {
			return nil, err
		}
		j.Payload = map[string]any{}
		if len(raw) > 0 {
			if err := json.Unmarshal(raw, &j.Payload); err != nil {
				return nil, err
			}
		}
		jobs = append(jobs, j)
	}
	if rows.Err() != nil {
		return nil, rows.Err()
	}
	return jobs, nil
}

func (r *Repository) MarkDone(ctx context.Context, tx pgx.Tx, id int64) error {
	_, err := tx.Exec(ctx, `
		UPDATE charge_jobs SET status = 'done', updated_at = now() WHERE id = $1
	`, id)
	return err
}

// MarkFailed records an attempt; the job stays pending until attempts reach maxAttempts.
func (r *Repository) MarkFailed(ctx context.Context, tx pgx.Tx, id int64, attempts int, maxAttempts int, nextRunAt time.Time, lastError string) error {
	status := "pending"
	if attempts >= maxAttempts {
		status = "failed"
	}
	_, err := tx.Exec(ctx, `
		UPDATE charge_jobs
		SET attempts = $2,
		    status = $3,
		    next_run_at = $4,
		    last_error = $5,
		    updated_at = now()
		WHERE id = $1
	`, id, attempts, status, nextRunAt, lastError)
	return err
}

func appointmentOf(name string, payload map[string]any) string {
	if id, ok := payload["appointment_id"].(string); ok && id != "" {
		return id
	}
	if _, id, ok := strings.Cut(name, ":"); ok {
		return id
	}
	return name
}
