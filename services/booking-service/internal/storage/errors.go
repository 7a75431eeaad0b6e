package storage

import (
	"errors"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

const (
	codeExclusionViolation  = "23P01"
	codeForeignKeyViolation = "23503"
	codeUniqueViolation     = "23505"
)

func IsConflict(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeExclusionViolation
}

func IsUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation
}

func IsNotFound(err error) bool {
	return errors.Is(err, pgx.ErrNoRows) || errors.Is(err, model.ErrNotFound)
}

var foreignKeyFields = map[string]string{
	"provider_id":       "provider_ref",
	"location_id":       "location_ref",
	"service_option_id": "service_option_ref",
}

// translateWriteError maps constraint violations on appointment writes onto domain errors.
func translateWriteError(err error, a model.Appointment) error {
	if err == nil {
		return nil
	}
	if IsConflict(err) {
		return conflict.NewError(a.Status)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeForeignKeyViolation {
		for column, field := range foreignKeyFields {
			if strings.Contains(pgErr.ConstraintName, column) {
				return validation.Invalid(field, referenceValue(a, field), "does not exist")
			}
		}
	}
	return err
}

func referenceValue(a model.Appointment, field string) string {
	switch field {
	case "provider_ref":
		return a.ProviderRef
	case "location_ref":
		return a.LocationRef
	case "service_option_ref":
		return a.ServiceOptionRef
	}
	return ""
}
