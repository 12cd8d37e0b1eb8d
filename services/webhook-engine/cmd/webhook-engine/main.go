package main

import (
	"context"
	"net/http"
	"os"
	"time"

	"github.com/payhookd/payhook/libs/config"
	"github.com/payhookd/payhook/libs/db"
	"github.com/payhookd/payhook/libs/httpx"
	"github.com/payhookd/payhook/libs/kafkax"
	otelx "github.com/payhookd/payhook/libs/otel"
	"github.com/payhookd/payhook/libs/runtime"
	"github.com/payhookd/payhook/services/webhook-engine/internal/deliver"
	"github.com/payhookd/payhook/services/webhook-engine/internal/enrich"
	"github.com/payhookd/payhook/services/webhook-engine/internal/ingest"
	"github.com/payhookd/payhook/services/webhook-engine/internal/journal"
	"github.com/payhookd/payhook/services/webhook-engine/internal/ops"
	"github.com/payhookd/payhook/services/webhook-engine/internal/webhook"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"
)

func main() {
	service := config.String("SERVICE_NAME", "webhook-engine")
	port, err := config.Port("PORT", "8090")
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
	brokers, err := config.RequiredString("KAFKA_BROKERS")
	if err != nil {
		panic(err)
	}
	payloadURL, err := config.RequiredString("PAYLOAD_SERVICE_URL")
	if err != nil {
		panic(err)
	}
	merchantURL, err := config.RequiredString("MERCHANT_URL")
	if err != nil {
		panic(err)
	}

	pool, err := db.Open(ctx, dbURL)
	if err != nil {
		logger.Error("db connection failed", "err", err)
		panic(err)
	}
	defer pool.Close()

	// Refuse to start against an unreachable log subsystem; a consumer
	// looping on fetch errors delivers nothing while reporting healthy.
	if err := kafkax.ReadyCheck(brokers)(ctx); err != nil {
		logger.Error("kafka unreachable at startup", "err", err, "brokers", brokers)
		panic(err)
	}

	journalRepo := journal.NewRepository(pool)
	enricher := enrich.NewClient(payloadURL, config.DurationMS("ENRICH_TIMEOUT_MS", 5*time.Second))
	sender := webhook.NewClient(merchantURL, config.DurationMS("DELIVERY_TIMEOUT_MS", 5*time.Second))

	coordinator := deliver.NewCoordinator(journalRepo, enricher, sender, logger, deliver.Options{
		MaxAttempts: config.Int("MAX_DELIVERY_ATTEMPTS", 3),
		BackoffBase: config.DurationMS("RETRY_BACKOFF_BASE_MS", time.Second),
	})

	consumer := ingest.New(logger, coordinator, ingest.Config{
		Brokers:        brokers,
		GroupID:        config.String("KAFKA_GROUP_ID", "webhook-engine"),
		Topic:          config.String("KAFKA_CONSUME_TOPIC", "webhook-events"),
		Workers:        config.Int("WORKER_POOL_SIZE", 16),
		MalformedLimit: config.Int("MALFORMED_FATAL_THRESHOLD", 10),
	})

	consumerErr := make(chan error, 1)
	go func() {
		consumerErr <- consumer.Run(ctx)
	}()

	mux := runtime.NewBaseMuxWithReady(
		runtime.ReadyCheck{Name: "db", Check: db.ReadyCheck(pool)},
		runtime.ReadyCheck{Name: "kafka", Check: kafkax.ReadyCheck(brokers)},
	)
	ops.New(journalRepo).Register(mux)

	handler := httpx.Chain(mux,
		httpx.WithRequestID,
		httpx.WithAccessLog(logger),
	)
	handler = otelhttp.NewHandler(handler, "webhook-engine")
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

	fatal := false
	select {
	case <-ctx.Done():
	case err := <-consumerErr:
		if err != nil {
			logger.Error("consumer stopped fatally", "err", err)
			fatal = true
		}
		stop()
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("http server shutdown error", "err", err)
	}
	logger.Info("http server stopped")
	if fatal {
		os.Exit(1)
	}
}
