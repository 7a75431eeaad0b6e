package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"github.com/md-rashed-zaman/fieldbook/libs/auth"
	"github.com/md-rashed-zaman/fieldbook/libs/config"
	"github.com/md-rashed-zaman/fieldbook/libs/db"
	"github.com/md-rashed-zaman/fieldbook/libs/httpx"
	"github.com/md-rashed-zaman/fieldbook/libs/kafkax"
	otelx "github.com/md-rashed-zaman/fieldbook/libs/otel"
	"github.com/md-rashed-zaman/fieldbook/libs/runtime"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/consumer"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/delivery"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/email"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/handlers"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/inbox"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/sms"
	"github.com/md-rashed-zaman/fieldbook/services/notification-service/internal/storage"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8085")
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
	if config.Bool("AUTO_MIGRATE", true) {
		if err := storage.Migrate(ctx, pool); err != nil {
			logger.Error("migration failed", "err", err)
			panic(err)
		}
	}

	emailSender := email.NewSMTPSender(
		config.String("SMTP_HOST", "mailpit"),
		config.String("SMTP_PORT", "1025"),
		config.String("SMTP_FROM", "no-reply@fieldbook.local"),
	)

	var smsSender delivery.Sender
	switch strings.ToLower(config.String("SMS_PROVIDER", "noop")) {
	case "noop":
		smsSender = sms.NewNoopSender()
	default:
		smsSender = sms.NewWebhookSender(config.String("SMS_WEBHOOK_URL", ""), config.String("SMS_WEBHOOK_TOKEN", ""))
	}

	repo := storage.NewRepository(pool)
	handler := delivery.NewHandler(emailSender, smsSender, repo, logger)
	brokers := config.String("KAFKA_BROKERS", "")
	eventConsumer := consumer.New(logger, inbox.NewRepository(pool), consumer.Config{
		Brokers:      brokers,
		GroupID:      config.String("KAFKA_GROUP_ID", "notification-service"),
		Topic:        config.String("KAFKA_CONSUME_TOPIC", "booking.notification.requested.v1"),
		RetryBackoff: config.Duration("CONSUMER_RETRY_BACKOFF", time.Second),
		MaxBackoff:   config.Duration("CONSUMER_MAX_BACKOFF", 30*time.Second),
	}, handler.Handle)
	if len(kafkax.SplitBrokers(brokers)) > 0 {
		go eventConsumer.Run(ctx)
	} else {
		logger.Warn("notification consumer disabled (no kafka brokers configured)")
	}

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	// The delivery log holds contact details, so it is only served behind admin auth.
	if secret, jwksURL := config.String("JWT_SECRET", ""), config.String("JWKS_URL", ""); secret != "" || jwksURL != "" {
		var jwks *auth.JWKSClient
		if jwksURL != "" {
			jwks = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
		}
		api := http.NewServeMux()
		handlers.New(repo, logger).Register(api)
		mux.Handle("/api/", httpx.Chain(api,
			auth.RequireAuth(auth.NewVerifier(secret, jwks)),
			auth.RequireRole(auth.RoleAdmin),
		))
	} else {
		logger.Warn("delivery log api disabled (JWT_SECRET and JWKS_URL unset)")
	}
	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "notification")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	go func() {
		logger.Info("http server starting", "addr", srv.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
