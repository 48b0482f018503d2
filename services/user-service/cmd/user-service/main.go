package main

import (
	"context"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"finagg/libs/config"
	"finagg/libs/db"
	"finagg/libs/events"
	"finagg/libs/httpx"
	"finagg/libs/kafkax"
	otelx "finagg/libs/otel"
	"finagg/libs/outbox"
	"finagg/libs/runtime"
	"finagg/services/user-service/internal/cache"
	"finagg/services/user-service/internal/handlers"
	"finagg/services/user-service/internal/storage"
)

func main() {
	service := config.String("SERVICE_NAME", "user-service")
	port, err := config.Port("PORT", "8081")
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

	rdb := redis.NewClient(&redis.Options{
		Addr: config.String("REDIS_ADDR", "localhost:6379"),
	})
	defer func() { _ = rdb.Close() }()

	brokers := config.String("KAFKA_BROKERS", "")

	store := outbox.NewPGStore(pool)
	userRepo := storage.NewUserRepository(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		logger.Error("outbox schema failed", "err", err)
		panic(err)
	}
	if err := userRepo.EnsureSchema(ctx); err != nil {
		logger.Error("users schema failed", "err", err)
		panic(err)
	}

	sender := outbox.NewSender(store)
	bus := events.NewLocalBus(logger)
	userCache := cache.NewUserCache(rdb, logger, 5*time.Minute)
	userCache.SubscribeInvalidation(bus)

	producer := kafkax.NewProducer(kafkax.SplitBrokers(brokers), logger)
	defer func() { _ = producer.Close() }()

	pollEvery, err := config.Duration("OUTBOX_POLL_EVERY", 2*time.Second)
	if err != nil {
		panic(err)
	}
	maxRetries, err := config.Int("OUTBOX_MAX_RETRIES", 5)
	if err != nil {
		panic(err)
	}
	dispatcher := outbox.NewDispatcher(store, producer, logger, outbox.DispatcherConfig{
		Source:     service,
		Interval:   pollEvery,
		BatchSize:  50,
		MaxRetries: maxRetries,
	})
	go dispatcher.Run(ctx)

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	userHandler := handlers.NewUserHandler(pool, userRepo, sender, bus, userCache, logger)
	limiter := httpx.NewRedisRateLimiter(rdb, 30, time.Minute, "auth")
	mux.Handle("/api/v1/auth/register", limiter.Middleware(logger, true)(http.HandlerFunc(userHandler.Register)))
	mux.Handle("/api/v1/auth/login", limiter.Middleware(logger, true)(http.HandlerFunc(userHandler.Login)))
	mux.HandleFunc("/api/v1/users/", userHandler.Profile)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithCorrelationID,
		httpx.WithAccessLog(logger),
		httpx.WithBodyLimit(1<<20),
	)
	handler = otelhttp.NewHandler(handler, "user")
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
