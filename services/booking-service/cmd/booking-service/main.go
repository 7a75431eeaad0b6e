package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/md-rashed-zaman/fieldbook/libs/auth"
	"github.com/md-rashed-zaman/fieldbook/libs/config"
	"github.com/md-rashed-zaman/fieldbook/libs/grpcx"
	"github.com/md-rashed-zaman/fieldbook/libs/httpx"
	otelx "github.com/md-rashed-zaman/fieldbook/libs/otel"
	"github.com/md-rashed-zaman/fieldbook/libs/runtime"
	"github.com/md-rashed-zaman/fieldbook/services/booking-service/internal/handlers"
)

func main() {
	if err := config.LoadDotenv(); err != nil {
		panic(err)
	}
	service := config.String("SERVICE_NAME", "booking-service")
	port, err := config.Port("PORT", "8083")
	if err != nil {
		panic(err)
	}
	grpcPort, err := config.Port("GRPC_PORT", "9083")
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

	app, err := build(ctx, logger)
	if err != nil {
		logger.Error("startup failed", "err", err)
		panic(err)
	}
	defer app.close()
	for _, run := range app.background {
		go run(ctx)
	}

	api := http.NewServeMux()
	handlers.NewAppointmentHandler(app.service, app.dispatcher, app.idempotency, logger).Register(api)

	var apiHandler http.Handler = api
	if secret, jwksURL := config.String("JWT_SECRET", ""), config.String("JWKS_URL", ""); secret != "" || jwksURL != "" {
		var jwks *auth.JWKSClient
		if jwksURL != "" {
			jwks = auth.NewJWKSClient(jwksURL, config.Duration("JWKS_CACHE_TTL", 5*time.Minute))
		}
		apiHandler = httpx.Chain(api, auth.RequireAuth(auth.NewVerifier(secret, jwks)))
	} else {
		logger.Warn("authentication disabled (JWT_SECRET and JWKS_URL unset)")
	}
	apiHandler = httpx.Chain(apiHandler, app.rateLimit)

	mux := runtime.NewBaseMuxWithReady(app.readyChecks...)
	mux.Handle("/api/", apiHandler)
	handlers.NewStripeWebhookHandler(
		app.payments,
		config.String("STRIPE_WEBHOOK_SECRET", ""),
		config.Duration("STRIPE_WEBHOOK_TOLERANCE", 5*time.Minute),
		logger,
	).Register(mux)

	httpHandler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithRecover(logger),
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.DefaultCORSPolicy(config.List("CORS_ALLOWED_ORIGINS"))),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(config.Duration("REQUEST_TIMEOUT", 15*time.Second)),
	)
	httpHandler = otelhttp.NewHandler(httpHandler, "booking")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           httpHandler,
		ReadHeaderTimeout: 5 * time.Second,
	}

	grpcSrv, health := grpcx.NewServer()
	health.SetServingStatus("booking", healthpb.HealthCheckResponse_SERVING)
	go func() {
		if err := grpcx.Serve(ctx, grpcSrv, ":"+grpcPort, logger); err != nil {
			logger.Error("grpc server error", "err", err)
		}
	}()

	go func() {
		logger.Info("http server starting", "addr", srv.Addr, "storage", app.driver)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logger.Error("http server error", "err", err)
		}
	}()

	<-ctx.Done()
	health.Shutdown()
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
}
