package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	chimiddleware "github.com/go-chi/chi/v5/middleware"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"
	"go.opentelemetry.io/otel"

	"github.com/vnmchuo/llm-governor/config"
	"github.com/vnmchuo/llm-governor/internal/alert"
	"github.com/vnmchuo/llm-governor/internal/api"
	"github.com/vnmchuo/llm-governor/internal/auth"
	"github.com/vnmchuo/llm-governor/internal/ledger"
	"github.com/vnmchuo/llm-governor/internal/metering"
	"github.com/vnmchuo/llm-governor/internal/pricing"
	"github.com/vnmchuo/llm-governor/internal/telemetry"
	"github.com/vnmchuo/llm-governor/internal/usage"
)

func main() {
	// 1. Load config
	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	// 2. Init telemetry
	shutdownTracer, err := telemetry.InitTracer(cfg.OTELExporterType, cfg.OTELExporterEndpoint)
	if err != nil {
		log.Fatalf("failed to init tracer: %v", err)
	}
	defer shutdownTracer()

	// 3. Connect PostgreSQL
	ctx := context.Background()
	pool, err := pgxpool.New(ctx, cfg.PostgresDSN)
	if err != nil {
		log.Fatalf("failed to connect postgres: %v", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.Fatalf("failed to ping postgres: %v", err)
	}
	log.Println("PostgreSQL connected")

	// 4. Init ledger and schema
	store := ledger.NewPostgresStore(pool)
	if err := store.EnsureSchema(ctx); err != nil {
		log.Fatalf("failed to ensure ledger schema: %v", err)
	}

	// 5. Connect Redis (optional summary cache)
	var rdb *redis.Client
	if cfg.RedisAddr != "" {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		defer rdb.Close()

		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Fatalf("failed to ping redis: %v", err)
		}
		log.Println("Redis connected")
	} else {
		log.Println("REDIS_ADDR not set, summary caching disabled")
	}

	// 6. Init pricing
	table := pricing.DefaultTable()

	// 7. Init alert dispatcher
	dispatcher := alert.NewDispatcher(cfg.WebhookURL, alert.Options{
		Timeout:   cfg.WebhookTimeout,
		Threshold: cfg.CostAlertThreshold,
		Workers:   cfg.AlertWorkers,
		QueueSize: cfg.AlertQueueSize,
	})
	defer dispatcher.Close()

	// 8. Init orchestrator and aggregator
	orchestrator := metering.NewOrchestrator(table, store, dispatcher)
	aggregator := usage.NewAggregator(store, rdb)

	// 9. Init handler
	tracer := otel.GetTracerProvider().Tracer("llm-governor")
	handler := api.NewHandler(orchestrator, aggregator, table, tracer)

	// 10. Init Chi router
	r := chi.NewRouter()
	r.Use(chimiddleware.RequestID)
	r.Use(chimiddleware.Logger)
	r.Use(chimiddleware.Recoverer)

	// Public routes
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"llm-governor"}`))
	})

	// Protected routes
	r.Group(func(r chi.Router) {
		r.Use(auth.NewMiddleware(cfg.APIKey))
		r.Post("/process", handler.HandleProcess)
		r.Get("/usage/daily", handler.HandleDailyUsage)
		r.Get("/models", handler.HandleModels)
	})

	// 11. Graceful shutdown
	srv := &http.Server{
		Addr:         ":" + cfg.Port,
		Handler:      r,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 30 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("LLM Governor starting on port %s", cfg.Port)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-quit
	log.Println("Shutting down gracefully...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Fatalf("forced shutdown: %v", err)
	}
	log.Println("Server stopped")
}
