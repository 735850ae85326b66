// Command server wires the audit service: PostgreSQL dual-write store, the
// optional Redis integrity cache and Kafka outbox publisher, and the HTTP
// transport. Business logic lives in internal packages.
package main

import (
	"context"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"chronicle/internal/audit/cache"
	"chronicle/internal/audit/handler"
	"chronicle/internal/audit/metrics"
	"chronicle/internal/audit/outbox"
	"chronicle/internal/audit/service"
	pgstore "chronicle/internal/audit/store/postgres"
	"chronicle/internal/platform/config"
	"chronicle/internal/platform/httpserver"
	"chronicle/internal/platform/logger"
	"chronicle/internal/platform/postgres"
	platformredis "chronicle/internal/platform/redis"
	"chronicle/internal/platform/stream"
	"chronicle/pkg/platform/middleware/admin"
)

func main() {
	cfg := config.FromEnv()
	log := logger.New()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	db, err := postgres.Open(cfg)
	if err != nil {
		log.Error("postgres connection failed", "error", err)
		os.Exit(1)
	}
	defer db.Close()

	store := pgstore.New(db, pgstore.WithCommandTimeout(cfg.DBCommandTimeout))
	m := metrics.New()

	opts := []service.Option{
		service.WithLogger(log),
		service.WithMetrics(m),
	}

	redisClient, err := platformredis.New(cfg.Redis)
	if err != nil {
		log.Error("redis connection failed", "error", err)
		os.Exit(1)
	}
	if redisClient != nil {
		defer redisClient.Close()
		opts = append(opts, service.WithIntegrityCache(
			cache.New(redisClient, cfg.IntegrityCacheTTL, log)))
	}

	svc := service.New(store, store, opts...)

	// The outbox worker only runs when brokers are configured; the audit
	// write path never depends on Kafka availability either way.
	if len(cfg.KafkaBrokers) > 0 {
		publisher, err := stream.New(ctx, cfg.KafkaBrokers, cfg.KafkaTopic)
		if err != nil {
			log.Error("kafka connection failed", "error", err)
			os.Exit(1)
		}
		defer publisher.Close()

		worker := outbox.New(store, publisher, log)
		go func() {
			if err := worker.Run(ctx); err != nil && ctx.Err() == nil {
				log.Error("outbox worker stopped", "error", err)
			}
		}()
	}

	gate := admin.NewGate(cfg.AdminJWTKey, cfg.AdminKeyHash, log)
	h := handler.New(svc, log, gate)

	router := chi.NewRouter()
	h.Register(router)
	h.RegisterInternal(router)
	router.Handle("/metrics", promhttp.Handler())
	router.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		if err := db.PingContext(r.Context()); err != nil {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	srv := httpserver.New(cfg.Addr, router)

	go func() {
		log.Info("chronicle listening", "addr", cfg.Addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Error("server error", "error", err)
			stop()
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error("graceful shutdown failed", "error", err)
		os.Exit(1)
	}
	log.Info("chronicle stopped")
}
