package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/md-rashed-zaman/fieldbook/libs/config"
	"github.com/md-rashed-zaman/fieldbook/libs/db"
	"github.com/md-rashed-zaman/fieldbook/libs/httpx"
	"github.com/md-rashed-zaman/fieldbook/libs/kafkax"
	"github.com/md-rashed-zaman/fieldbook/libs/runtime"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/conflict"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/coverage"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/effects"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/handlers"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/jobs"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/lifecycle"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/locks"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/notify"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/reconcile"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/storage"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/timewindow"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/travel"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/validation"
)

type app struct {
	driver      string
	service     *lifecycle.Service
	dispatcher  *effects.Dispatcher
	idempotency handlers.IdempotencyStore
	payments    handlers.PaymentRecords
	rateLimit   httpx.Middleware
	readyChecks []runtime.ReadyCheck
	background  []func(context.Context)
	closers     []func()
}

func (a *app) close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		a.closers[i]()
	}
}

// backend is the storage-specific half of the wiring.
type backend struct {
	store      lifecycle.Store
	finder     conflict.Finder
	directory  directory
	jobs       jobStore
	payments   paymentStore
	notifier   effects.NotificationService
	idempotent handlers.IdempotencyStore
}

type directory interface {
	timewindow.ProviderDirectory
	timewindow.LocationBook
	lifecycle.ServiceCatalog
	lifecycle.ZoneDirectory
	reconcile.AdministratorDirectory
	reconcile.UserDirectory
	travel.Districts
	coverage.ZoneLookup
}

type jobStore interface {
	effects.JobScheduler
	reconcile.JobLookup
}

type paymentStore interface {
	effects.PaymentStore
	reconcile.PaymentLookup
}

func build(ctx context.Context, logger *slog.Logger) (*app, error) {
	a := &app{driver: config.String("STORAGE_DRIVER", "postgres")}

	var b backend
	switch a.driver {
	case "memory":
		mem := storage.NewMemory()
		if path := config.String("SEED_FILE", ""); path != "" {
			f, err := os.Open(path)
			if err != nil {
				return nil, err
			}
			err = mem.LoadSeed(f)
			_ = f.Close()
			if err != nil {
				return nil, err
			}
		}
		b = backend{
			store:      mem,
			finder:     mem,
			directory:  mem,
			jobs:       mem.Jobs(),
			payments:   mem.Payments(),
			notifier:   notify.NewLogNotifier(logger),
			idempotent: mem,
		}
	case "postgres":
		dbURL, err := config.RequiredString("DATABASE_URL")
		if err != nil {
			return nil, err
		}
		pool, err := db.Open(ctx, dbURL, db.Options{MaxConns: int32(config.Int("DB_MAX_CONNS", 10))})
		if err != nil {
			return nil, fmt.Errorf("db connection: %w", err)
		}
		a.closers = append(a.closers, pool.Close)
		if config.Bool("AUTO_MIGRATE", true) {
			if err := storage.Migrate(ctx, pool); err != nil {
				return nil, fmt.Errorf("migrate: %w", err)
			}
		}

		appts := storage.NewAppointmentRepository(pool)
		outboxRepo := outbox.NewRepository()
		b = backend{
			store:      appts,
			finder:     appts,
			directory:  storage.NewDirectory(pool, appts),
			jobs:       jobs.NewRepository(pool),
			payments:   storage.NewPaymentRepository(pool),
			notifier:   notify.NewOutboxNotifier(pool, outboxRepo),
			idempotent: storage.NewIdempotencyRepository(pool),
		}

		brokers := config.String("KAFKA_BROKERS", "")
		publisher := outbox.NewPublisher(pool, outboxRepo, logger, outbox.PublisherConfig{
			Brokers:   brokers,
			PollEvery: config.Duration("OUTBOX_POLL_INTERVAL", 2*time.Second),
			BatchSize: config.Int("OUTBOX_BATCH_SIZE", 50),
		})
		a.background = append(a.background, publisher.Run)
		a.readyChecks = append(a.readyChecks,
			runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
			runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
		)
	default:
		return nil, fmt.Errorf("STORAGE_DRIVER must be postgres or memory (got %q)", a.driver)
	}

	var locker lifecycle.Locker = locks.NewLocal()
	var resolver coverage.Resolver = coverage.NewTableResolver(b.directory)
	limit := config.Int("RATE_LIMIT_PER_MINUTE", 120)
	a.rateLimit = httpx.NewRateLimiter(limit, time.Minute, httpx.ClientIP).Middleware()

	if redisURL := config.String("REDIS_URL", ""); redisURL != "" {
		opts, err := redis.ParseURL(redisURL)
		if err != nil {
			return nil, fmt.Errorf("REDIS_URL: %w", err)
		}
		rdb := redis.NewClient(opts)
		a.closers = append(a.closers, func() { _ = rdb.Close() })
		locker = locks.NewRedis(rdb, locks.RedisConfig{
			Prefix: "fieldbook:lock",
			TTL:    config.Duration("PROVIDER_LOCK_TTL", 10*time.Second),
			Wait:   config.Duration("PROVIDER_LOCK_WAIT", 5*time.Second),
			Logger: logger,
		})
		resolver = coverage.NewCachedResolver(resolver, rdb, config.Duration("COVERAGE_CACHE_TTL", time.Hour), logger)
		a.rateLimit = httpx.NewRedisRateLimiter(rdb, limit, time.Minute, "fieldbook:ratelimit", httpx.ClientIP).
			Middleware(logger, true)
		a.readyChecks = append(a.readyChecks, runtime.ReadyCheck{Name: "redis", Check: func(ctx context.Context) error {
			return rdb.Ping(ctx).Err()
		}})
	}

	estimator := travel.NewEstimator(b.directory, travel.Config{
		RoadFactor:      1.3,
		DefaultSpeedKmh: 30,
		Fallback:        config.Duration("TRAVEL_FALLBACK", 30*time.Minute),
		Round:           config.Duration("TRAVEL_ROUND", 5*time.Minute),
	})

	a.service = lifecycle.NewService(lifecycle.Deps{
		Store:      b.store,
		Calculator: timewindow.NewCalculator(b.directory, estimator, b.directory),
		Gate:       validation.NewGate(conflict.NewDetector(b.finder)),
		Locker:     locker,
		Reconciler: reconcile.New(b.jobs, b.payments, b.directory, b.directory, reconcile.Config{
			RescheduleDelay: config.Duration("RESCHEDULE_CHARGE_DELAY", reconcile.DefaultRescheduleDelay),
		}),
		Catalog:  b.directory,
		Zones:    b.directory,
		Coverage: resolver,
		Logger:   logger,
	}, lifecycle.Config{
		DefaultTimezone: config.String("DEFAULT_TIMEZONE", "UTC"),
	})
	a.dispatcher = effects.NewDispatcher(b.jobs, b.payments, b.notifier, logger, effects.BreakerConfig{
		Timeout:          config.Duration("BREAKER_OPEN_TIMEOUT", 30*time.Second),
		FailureThreshold: uint32(config.Int("BREAKER_FAILURE_THRESHOLD", 5)),
	})
	a.idempotency = b.idempotent
	a.payments = b.payments
	return a, nil
}
