package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"portrait-backend/cmd"
	"portrait-backend/internal/config"
	"portrait-backend/internal/core"
	"portrait-backend/internal/messaging"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
)

func main() {
	slog.Info("starting worker process")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}
	if cfg.RabbitMQURL == "" {
		log.Fatalf("RABBITMQ_URL must be set for a standalone worker")
	}

	db := cmd.CreateDatabase(cfg)
	provider := cmd.CreateStorage(cfg)

	publisher, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
	if err != nil {
		log.Fatalf("Failed to connect to RabbitMQ: %v", err)
	}

	receiver, err := messaging.NewRabbitMQReceiver(cfg.RabbitMQURL, cfg.Concurrency)
	if err != nil {
		log.Fatalf("Failed to start RabbitMQ receiver: %v", err)
	}

	worker := core.NewTaskProcessor(db, provider, publisher, receiver, cmd.CreateReplicateClient(cfg), cmd.ProcessorConfig(cfg))

	if err := worker.ResumeUnfinished(context.Background()); err != nil {
		log.Fatalf("Failed to resume unfinished sessions: %v", err)
	}

	reaper := core.NewReaper(db, cfg.StaleSessionAge, core.DefaultReapInterval)
	if err := reaper.Start(); err != nil {
		log.Fatalf("Failed to start session reaper: %v", err)
	}

	stopped := make(chan struct{})
	go func() {
		worker.Start()
		close(stopped)
	}()

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.Handler())
	metricsServer := &http.Server{Addr: ":" + cfg.MetricsPort, Handler: mux}
	go func() {
		if err := metricsServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			slog.Error("metrics server stopped", "error", err)
		}
	}()

	slog.Info("worker started, waiting for tasks", "concurrency", cfg.Concurrency)

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	slog.Info("shutdown signal received, stopping worker")

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := metricsServer.Shutdown(ctx); err != nil {
		slog.Error("error stopping metrics server", "error", err)
	}

	reaper.Stop()
	worker.Stop()
	<-stopped

	slog.Info("worker process stopped")
}
