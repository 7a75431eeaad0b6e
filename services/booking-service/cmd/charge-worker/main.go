package main

import (
	"context"
	"net/http"
	"time"

	"github.com/md-rashed-zaman/fieldbook/libs/config"
	"github.com/md-rashed-zaman/fieldbook/libs/db"
	"github.com/md-rashed-zaman/fieldbook/libs/grpcx"
	otelx "github.com/md-rashed-zaman/fieldbook/libs/otel"
	"github.com/md-rashed-zaman/fieldbook/libs/runtime"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/billing"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/jobs"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/outbox"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/storage"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "charge-worker")
	port, err := config.Port("PORT", "8084")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext(context.Background(), logger)
	defer stop()

	otelShutdown, err := otelx.Setup(ctx, otelx.ConfigFromEnv(service))
	if err != nil {
		logger.Error("otel setup failed", "err", err)
	} else {
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = otelShutdown(shutdownCtx)
		}()
	}

	dbURL, err := config.RequiredString("DATABASE_URL")
	if err != nil {
		panic(err)
	}
	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	var charger billing.Charger = billing.NoopCharger{}
	if key := config.String("STRIPE_SECRET_KEY", ""); key != "" {
		charger = billing.NewStripeCharger(key)
	} else {
		logger.Warn("STRIPE_SECRET_KEY missing; charges are recorded without a gateway")
	}

	worker := jobs.NewWorker(pool, jobs.NewRepository(pool), storage.NewPaymentRepository(pool), outbox.NewRepository(), charger, logger, jobs.WorkerConfig{
		Interval:  config.Duration("CHARGE_POLL_INTERVAL", 5*time.Second),
		BatchSize: config.Int("CHARGE_BATCH_SIZE", 20),
		Backoff:   config.Duration("CHARGE_BACKOFF", time.Minute),
	})
	go worker.Run(ctx)

	checks := []runtime.ReadyCheck{{Name: "db", Check: db.ReadyCheck(pool)}}
	// The booking service owns the schema; report not-ready while it is down.
	if addr := config.String("BOOKING_GRPC_ADDR", ""); addr != "" {
		conn, err := grpcx.Dial(ctx, addr, grpcx.DialOptions{Timeout: 3 * time.Second})
		if err != nil {
			logger.Error("booking grpc dial failed", "err", err, "addr", addr)
			panic(err)
		}
		defer conn.Close()
		checks = append(checks, runtime.ReadyCheck{Name: "booking", Check: grpcx.HealthReadyCheck(conn, "booking")})
	}
	mux := runtime.NewBaseMuxWithReady(checks...)
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           mux,
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		logger.Info("health server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("health server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	_ = srv.Shutdown(shutdownCtx)
	logger.Info("charge worker stopped")
}
