package storage

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"

	"github.com/md-rashed-zaman/fieldbook/libs/db"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type PaymentRepository struct {
	pool *db.Pool
}

func NewPaymentRepository(pool *db.Pool) *PaymentRepository {
	return &PaymentRepository{pool: pool}
}

const paymentColumns = `appointment_id, status, amount_minor, currency, customer_ref, payment_method_ref, charge_ref, created_at, updated_at`

func (r *PaymentRepository) Find(ctx context.Context, appointmentID string) (model.PaymentRecord, bool, error) {
	return findPayment(ctx, r.pool, `SELECT `+paymentColumns+` FROM payment_records WHERE appointment_id = $1`, appointmentID)
}

// FindForUpdate locks the record for the rest of tx.
func (r *PaymentRepository) FindForUpdate(ctx context.Context, tx pgx.Tx, appointmentID string) (model.PaymentRecord, bool, error) {
	return findPayment(ctx, tx, `SELECT `+paymentColumns+` FROM payment_records WHERE appointment_id = $1 FOR UPDATE`, appointmentID)
}

func (r *PaymentRepository) Create(ctx context.Context, rec model.PaymentRecord) error {
	_, err := r.pool.Exec(ctx, `
		INSERT INTO payment_records (appointment_id, status, amount_minor, currency, customer_ref, payment_method_ref, charge_ref)
		VALUES ($1, $2, $3, $4, $5, $6, $7)
		ON CONFLICT (appointment_id) DO NOTHING
	`, rec.AppointmentID, rec.Status, rec.AmountMinor, rec.Currency, rec.CustomerRef, rec.PaymentMethodRef, rec.ChargeRef)
	return err
}

// Update moves the record to status and mirrors it onto the appointment.
func (r *PaymentRepository) Update(ctx context.Context, rec model.PaymentRecord, status model.PaymentStatus) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		rec.Status = status
		return r.Save(ctx, tx, rec)
	})
}

// Save writes the record's status and charge reference inside tx.
func (r *PaymentRepository) Save(ctx context.Context, tx pgx.Tx, rec model.PaymentRecord) error {
	tag, err := tx.Exec(ctx, `
		UPDATE payment_records
		SET status = $2, charge_ref = $3, payment_method_ref = $4, updated_at = now()
		WHERE appointment_id = $1
	`, rec.AppointmentID, rec.Status, rec.ChargeRef, rec.PaymentMethodRef)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return fmt.Errorf("payment record %s: %w", rec.AppointmentID, pgx.ErrNoRows)
	}
	return setPaymentStatus(ctx, tx, rec.AppointmentID, rec.Status)
}

// Destroy removes the record only while it is still pending a charge.
func (r *PaymentRepository) Destroy(ctx context.Context, rec model.PaymentRecord) error {
	return r.pool.WithTx(ctx, func(tx pgx.Tx) error {
		tag, err := tx.Exec(ctx, `
			DELETE FROM payment_records WHERE appointment_id = $1 AND status = 'pending_charge'
		`, rec.AppointmentID)
		if err != nil {
			return err
		}
		if tag.RowsAffected() == 0 {
			return nil
		}
		return setPaymentStatus(ctx, tx, rec.AppointmentID, model.PaymentNone)
	})
}

type queryRower interface {
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

func findPayment(ctx context.Context, q queryRower, sql, appointmentID string) (model.PaymentRecord, bool, error) {
	var rec model.PaymentRecord
	err := q.QueryRow(ctx, sql, appointmentID).Scan(
		&rec.AppointmentID,
		&rec.Status,
		&rec.AmountMinor,
		&rec.Currency,
		&rec.CustomerRef,
		&rec.PaymentMethodRef,
		&rec.ChargeRef,
		&rec.CreatedAt,
		&rec.UpdatedAt,
	)
	if errors.Is(err, pgx.ErrNoRows) {
		return model.PaymentRecord{}, false, nil
	}
	if err != nil {
		return model.PaymentRecord{}, false, err
	}
	return rec, true, nil
}
