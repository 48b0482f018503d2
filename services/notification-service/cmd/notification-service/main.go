package main

import (
	"context"
	"net/http"
	"time"

	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finagg/libs/config"
	"finagg/libs/db"
	"finagg/libs/events"
	"finagg/libs/httpx"
	"finagg/libs/kafkax"
	otelx "finagg/libs/otel"
	"finagg/libs/runtime"
	"finagg/services/notification-service/internal/consumers"
	"finagg/services/notification-service/internal/email"
	"finagg/services/notification-service/internal/inbox"
	"finagg/services/notification-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "notification-service")
	port, err := config.Port("PORT", "8083")
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

	inboxRepo := inbox.NewRepository(pool)
	notificationsRepo := storage.NewRepository(pool)
	for _, ensure := range []func(context.Context) error{
		inboxRepo.EnsureSchema,
		notificationsRepo.EnsureSchema,
	} {
		if err := ensure(ctx); err != nil {
			logger.Error("schema setup failed", "err", err)
			panic(err)
		}
	}

	var emailSender email.Sender = email.NoopSender{}
	if host := config.String("SMTP_HOST", ""); host != "" {
		emailSender = email.NewSMTPSender(host, config.String("SMTP_PORT", "1025"), config.String("SMTP_FROM", ""))
	}
	opsRecipient := config.String("ALERTS_OPS_EMAIL", "ops@finagg.local")

	router := events.NewRouter(service)
	welcome := consumers.NewWelcomeHandler(inboxRepo, emailSender, notificationsRepo, logger)
	alerts := consumers.NewAlertsHandler(inboxRepo, emailSender, notificationsRepo, opsRecipient, logger)
	for _, h := range []events.Handler{welcome, alerts} {
		if err := router.Register(h); err != nil {
			logger.Error("handler registration failed", "err", err)
			panic(err)
		}
	}

	brokers := config.String("KAFKA_BROKERS", "")
	consumer := kafkax.NewConsumer(logger, router, kafkax.ConsumerConfig{Brokers: brokers})
	go consumer.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "notification")
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
