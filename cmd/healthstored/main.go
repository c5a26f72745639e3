package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"example.com/healthstore/internal/aggregation"
	"example.com/healthstore/internal/api"
	"example.com/healthstore/internal/changelog"
	"example.com/healthstore/internal/config"
	"example.com/healthstore/internal/domain"
	"example.com/healthstore/internal/scheduler"
	"example.com/healthstore/internal/storage"
	httptransport "example.com/healthstore/internal/transport/http"
)

func main() {
	cfg := config.Load()

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	db, err := storage.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("failed to open database: %v", err)
	}
	defer db.Close()

	if err := db.Migrate(ctx); err != nil {
		log.Fatalf("failed to run migrations: %v", err)
	}

	engine := storage.NewEngine(db)
	feed := changelog.NewLog(engine, domain.AllowAll)
	aggregator := aggregation.NewAggregator(engine, domain.AllowAll)
	pool := scheduler.NewPool(cfg.WorkerPoolSize)

	service := domain.NewService(engine, feed, aggregator, domain.AllowAll, pool)

	handler := api.NewHandler(service)
	mux := http.NewServeMux()
	handler.RegisterRoutes(mux)
	mux.Handle("/metrics", promhttp.Handler())

	// Basic request logger
	logger := func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			log.Printf("%s %s", r.Method, r.URL.Path)
			next.ServeHTTP(w, r)
		})
	}

	server := httptransport.NewServer(cfg, logger(mux))

	shutdownCh := make(chan os.Signal, 1)
	signal.Notify(shutdownCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		log.Printf("healthstored listening on %s", cfg.HTTPAddress)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server error: %v", err)
		}
	}()

	<-shutdownCh
	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("graceful shutdown failed: %v", err)
	}

	if err := pool.Shutdown(shutdownCtx); err != nil {
		log.Printf("worker pool drain failed: %v", err)
	}
}
