package main

import (
	"context"
	"net/http"
	"strings"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finagg/libs/config"
	"finagg/libs/db"
	"finagg/libs/httpx"
	"finagg/libs/kafkax"
	otelx "finagg/libs/otel"
	"finagg/libs/outbox"
	"finagg/libs/runtime"
	"finagg/libs/tasks"
	"finagg/services/consent-service/internal/handlers"
	"finagg/services/consent-service/internal/provider"
	"finagg/services/consent-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "consent-service")
	port, err := config.Port("PORT", "8082")
	if err != nil {
		panic(err)
	}
	logger := runtime.NewLogger(service)

	ctx, stop := runtime.SignalContext()
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

	brokers := config.String("KAFKA_BROKERS", "")

	store := outbox.NewPGStore(pool)
	consentRepo := storage.NewConsentRepository(pool)
	scheduler := tasks.NewPGScheduler(pool)
	for _, ensure := range []func(context.Context) error{
		store.EnsureSchema,
		consentRepo.EnsureSchema,
		scheduler.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.Error("schema setup failed", "err", err)
			panic(err)
		}
	}

	sender := outbox.NewSender(store)

	var providerClient provider.Client = provider.NoopClient{}
	if base := config.String("PROVIDER_BASE_URL", ""); base != "" {
		providerClient = provider.NewHTTPClient(base, config.String("PROVIDER_TOKEN", ""))
	}

	producer := kafkax.NewProducer(kafkax.SplitBrokers(brokers), logger)
	defer func() { _ = producer.Close() }()

	pollEvery, err := config.Duration("OUTBOX_POLL_EVERY", 2*time.Second)
	if err != nil {
		panic(err)
	}
	dispatcher := outbox.NewDispatcher(store, producer, logger, outbox.DispatcherConfig{
		Source:   service,
		Interval: pollEvery,
	})
	go dispatcher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	consentHandler := handlers.NewConsentHandler(pool, consentRepo, sender, providerClient, scheduler, logger)
	mux.HandleFunc("/api/v1/consents", consentHandler.Create)
	mux.HandleFunc("/api/v1/consents/", consentHandler.Consent)

	limiter := httpx.NewRateLimiter(60, time.Minute)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithCorrelationID,
		httpx.WithAccessLog(logger),
		httpx.WithCORS(httpx.CORSPolicy{
			AllowedOrigins: strings.Split(config.String("CORS_ALLOWED_ORIGINS", ""), ","),
			AllowedMethods: []string{"GET", "POST", "PUT", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", httpx.CorrelationIDHeader},
			MaxAge:         10 * time.Minute,
		}),
		limiter.Middleware(),
		httpx.WithBodyLimit(1<<20),
		httpx.WithTimeout(15*time.Second),
	)
	handler = otelhttp.NewHandler(handler, "consent")
	srv := &http.Server{
		Addr:              ":" + port,
		Handler:           handler,
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
