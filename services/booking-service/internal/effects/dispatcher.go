package effects

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/sony/gobreaker/v2"

	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/model"
)

type JobScheduler interface {
	Schedule(ctx context.Context, name string, runAt time.Time, payload map[string]any) error
	Cancel(ctx context.Context, name string) error
}

type PaymentStore interface {
	Create(ctx context.Context, record model.PaymentRecord) error
	Update(ctx context.Context, record model.PaymentRecord, status model.PaymentStatus) error
	Destroy(ctx context.Context, record model.PaymentRecord) error
}

type NotificationService interface {
	Notify(ctx context.Context, variant model.Variant, a model.Appointment, r model.Recipient, index int) error
}

type BreakerConfig struct {
	MaxRequests      uint32
	Interval         time.Duration
	Timeout          time.Duration
	FailureThreshold uint32
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.MaxRequests == 0 {
		c.MaxRequests = 1
	}
	if c.Interval <= 0 {
		c.Interval = time.Minute
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}
	if c.FailureThreshold == 0 {
		c.FailureThreshold = 5
	}
	return c
}

// Dispatcher executes commands once the originating write has committed. Each command runs
// independently behind a per-collaborator circuit breaker; failures are logged and counted,
// never returned to the caller of the write.
type Dispatcher struct {
	jobs     JobScheduler
	payments PaymentStore
	notifier NotificationService
	logger   *slog.Logger
	breakers map[string]*gobreaker.CircuitBreaker[any]
}

func NewDispatcher(jobs JobScheduler, payments PaymentStore, notifier NotificationService, logger *slog.Logger, cfg BreakerConfig) *Dispatcher {
	if logger == nil {
		logger = slog.Default()
	}
	cfg = cfg.withDefaults()
	d := &Dispatcher{
		jobs:     jobs,
		payments: payments,
		notifier: notifier,
		logger:   logger,
		breakers: make(map[string]*gobreaker.CircuitBreaker[any]),
	}
	for _, target := range []string{TargetJobs, TargetPayments, TargetNotifications} {
		d.breakers[target] = gobreaker.NewCircuitBreaker[any](gobreaker.Settings{
			Name:        target,
			MaxRequests: cfg.MaxRequests,
			Interval:    cfg.Interval,
			Timeout:     cfg.Timeout,
			ReadyToTrip: func(counts gobreaker.Counts) bool {
				return counts.ConsecutiveFailures >= cfg.FailureThreshold
			},
			OnStateChange: func(name string, from, to gobreaker.State) {
				logger.Warn("effects circuit breaker state changed",
					"collaborator", name,
					"from", from.String(),
					"to", to.String(),
				)
			},
		})
	}
	return d
}

// Dispatch runs every command in order and returns how many failed.
func (d *Dispatcher) Dispatch(ctx context.Context, cmds []Command) int {
	failed := 0
	for _, cmd := range cmds {
		if err := d.execute(ctx, cmd); err != nil {
			failed++
			d.logger.Error("side effect failed", "err", err, "command", cmd.String(), "collaborator", cmd.Target())
		}
	}
	return failed
}

func (d *Dispatcher) execute(ctx context.Context, cmd Command) error {
	breaker, ok := d.breakers[cmd.Target()]
	if !ok {
		return fmt.Errorf("no collaborator for %q", cmd.Target())
	}
	_, err := breaker.Execute(func() (any, error) {
		return nil, d.run(ctx, cmd)
	})
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		return fmt.Errorf("%s unavailable: %w", cmd.Target(), err)
	}
	return err
}

func (d *Dispatcher) run(ctx context.Context, cmd Command) error {
	switch c := cmd.(type) {
	case ScheduleJob:
		if d.jobs == nil {
			return errNotConfigured(TargetJobs)
		}
		return d.jobs.Schedule(ctx, c.Name, c.RunAt, c.Payload)
	case CancelJob:
		if d.jobs == nil {
			return errNotConfigured(TargetJobs)
		}
		return d.jobs.Cancel(ctx, c.Name)
	case CreatePayment:
		if d.payments == nil {
			return errNotConfigured(TargetPayments)
		}
		return d.payments.Create(ctx, c.Record)
	case UpdatePayment:
		if d.payments == nil {
			return errNotConfigured(TargetPayments)
		}
		return d.payments.Update(ctx, c.Record, c.Status)
	case DestroyPayment:
		if d.payments == nil {
			return errNotConfigured(TargetPayments)
		}
		return d.payments.Destroy(ctx, c.Record)
	case Notify:
		if d.notifier == nil {
			return errNotConfigured(TargetNotifications)
		}
		return d.notifier.Notify(ctx, c.Variant, c.Appointment, c.Recipient, c.Index)
	default:
		return fmt.Errorf("unknown command %T", cmd)
	}
}

func errNotConfigured(target string) error {
	return fmt.Errorf("%s collaborator not configured", target)
}
