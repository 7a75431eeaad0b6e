package jobs

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/fieldbook/libs/db"
	otelx "github.com/md-rashed-zaman/fieldbook/libs/otel"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/billing"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/storage"
)

// Worker runs due charge jobs against the pending payment record of each appointment.
type Worker struct {
	pool      *db.Pool
	repo      *Repository
	payments  *storage.PaymentRepository
	outbox    *outbox.Repository
	charger   billing.Charger
	logger    *slog.Logger
	interval  time.Duration
	batchSize int
	backoff   time.Duration
	now       func() time.Time
}

type WorkerConfig struct {
	Interval  time.Duration
	BatchSize int
	Backoff   time.Duration
}

func NewWorker(pool *db.Pool, repo *Repository, payments *storage.PaymentRepository, outboxRepo *outbox.Repository, charger billing.Charger, logger *slog.Logger, cfg WorkerConfig) *Worker {
	if cfg.Interval <= 0 {
		cfg.Interval = 5 * time.Second
	}
	if cfg.BatchSize <= 0 {
		cfg.BatchSize = 20
	}
	if cfg.Backoff <= 0 {
		cfg.Backoff = time.Minute
	}
	return &Worker{
		pool:      pool,
		repo:      repo,
		payments:  payments,
		outbox:    outboxRepo,
		charger:   charger,
		logger:    logger,
		interval:  cfg.Interval,
		batchSize: cfg.BatchSize,
		backoff:   cfg.Backoff,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

func (w *Worker) Run(ctx context.Context) {
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := w.processBatch(ctx); err != nil {
				w.logger.Error("charge batch failed", "err", err)
			}
		}
	}
}

func (w *Worker) processBatch(ctx context.Context) error {
	tx, err := w.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer func() { _ = tx.Rollback(ctx) }()

	jobs, err := w.repo.FetchDue(ctx, tx, w.batchSize)
	if err != nil {
		return err
	}
	for _, job := range jobs {
		jobCtx := otelx.ContextWithTraceContext(ctx, job.Traceparent, job.Tracestate)
		if err := w.process(jobCtx, tx, job); err != nil {
			return err
		}
	}
	return tx.Commit(ctx)
}

func (w *Worker) process(ctx context.Context, tx pgx.Tx, job Job) error {
	rec, ok, err := w.payments.FindForUpdate(ctx, tx, job.AppointmentID)
	if err != nil {
		return err
	}
	if !ok || rec.Status != model.PaymentPendingCharge {
		w.logger.Info("charge job skipped", "job", job.Name, "appointment_id", job.AppointmentID, "payment_status", rec.Status)
		return w.repo.MarkDone(ctx, tx, job.ID)
	}

	ref, chargeErr := w.charger.Charge(ctx, rec)
	o := decide(job, chargeErr, w.now(), w.backoff)
	if chargeErr != nil {
		w.logger.Warn("charge attempt failed", "job", job.Name, "attempt", o.attempts, "err", chargeErr)
	}
	if ref != "" {
		rec.ChargeRef = ref
	}

	switch {
	case o.paymentStatus == model.PaymentPaid:
		rec.Status = model.PaymentPaid
		if err := w.payments.Save(ctx, tx, rec); err != nil {
			return err
		}
		if err := w.publish(ctx, tx, outbox.TopicPaymentCharged, rec, ""); err != nil {
			return err
		}
		return w.repo.MarkDone(ctx, tx, job.ID)
	case o.paymentStatus == model.PaymentFailed:
		rec.Status = model.PaymentFailed
		if err := w.payments.Save(ctx, tx, rec); err != nil {
			return err
		}
		if err := w.publish(ctx, tx, outbox.TopicPaymentFailed, rec, chargeErr.Error()); err != nil {
			return err
		}
		return w.repo.MarkFailed(ctx, tx, job.ID, o.attempts, o.attempts, o.nextRunAt, chargeErr.Error())
	default:
		return w.repo.MarkFailed(ctx, tx, job.ID, o.attempts, job.MaxAttempts, o.nextRunAt, chargeErr.Error())
	}
}

func (w *Worker) publish(ctx context.Context, tx pgx.Tx, topic string, rec model.PaymentRecord, reason string) error {
	body := map[string]any{
		"appointment_id": rec.AppointmentID,
		"status":         string(rec.Status),
		"amount_minor":   rec.AmountMinor,
		"currency":       rec.Currency,
		"charge_ref":     rec.ChargeRef,
		"occurred_at":    w.now().Format(time.RFC3339),
	}
	if reason != "" {
		body["error_reason"] = reason
	}
	payload, err := json.Marshal(body)
	if err != nil {
		return err
	}
	return w.outbox.Insert(ctx, tx, outbox.Event{
		AggregateType: "payment",
		AggregateID:   rec.AppointmentID,
		EventType:     topic,
		Payload:       payload,
	})
}

type outcome struct {
	// paymentStatus is empty while the job should be retried.
	paymentStatus model.PaymentStatus
	attempts      int
	nextRunAt     time.Time
}

func decide(job Job, chargeErr error, now time.Time, backoff time.Duration) outcome {
	if chargeErr == nil {
		return outcome{paymentStatus: model.PaymentPaid, attempts: job.Attempts + 1}
	}
	attempts := job.Attempts + 1
	o := outcome{attempts: attempts, nextRunAt: now.Add(backoff * time.Duration(attempts))}
	if errors.Is(chargeErr, billing.ErrDeclined) || attempts >= job.MaxAttempts {
		o.paymentStatus = model.PaymentFailed
	}
	return o
}
