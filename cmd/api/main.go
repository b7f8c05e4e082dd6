package main

import (
	"context"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"portrait-backend/cmd"
	"portrait-backend/internal/api"
	"portrait-backend/internal/config"
	"portrait-backend/internal/core"
	"portrait-backend/internal/core/stylize"
	"portrait-backend/internal/core/training"
	"portrait-backend/internal/messaging"
	"portrait-backend/internal/storage"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"gorm.io/gorm"
)

// worker runs the task processor inside the API process when no broker is
// configured.
type worker struct {
	proc   *core.TaskProcessor
	reaper *core.Reaper
}

func startWorker(cfg config.Config, db *gorm.DB, provider storage.Provider, queue *messaging.InMemoryQueue) *worker {
	proc := core.NewTaskProcessor(db, provider, queue, queue, cmd.CreateReplicateClient(cfg), cmd.ProcessorConfig(cfg))

	slog.Info("starting in process worker")
	go proc.Start()

	if err := proc.ResumeUnfinished(context.Background()); err != nil {
		log.Fatalf("Failed to resume unfinished sessions: %v", err)
	}

	reaper := core.NewReaper(db, cfg.StaleSessionAge, core.DefaultReapInterval)
	if err := reaper.Start(); err != nil {
		log.Fatalf("Failed to start session reaper: %v", err)
	}

	return &worker{proc: proc, reaper: reaper}
}

func (w *worker) stop() {
	w.reaper.Stop()
	w.proc.Stop()
}

func createServer(cfg config.Config, db *gorm.DB, provider storage.Provider, publisher messaging.Publisher) *http.Server {
	r := chi.NewRouter()

	r.Use(cors.Handler(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"*"},
		ExposedHeaders:   []string{"*"},
		AllowCredentials: true,
		MaxAge:           300, // Cache preflight response for 5 minutes
	}))
	r.Use(middleware.RequestID)
	r.Use(middleware.RealIP)
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	// Stylize renders through two model calls and can take a while.
	r.Use(middleware.Timeout(120 * time.Second))

	openaiClient := stylize.NewOpenAI(cfg.OpenAIAPIKey, cfg.OpenAIBaseURL)
	stylizer := stylize.NewStylizer(db, stylize.DefaultCatalogue(), openaiClient, openaiClient)
	trainingService := training.NewService(db, provider, publisher, cmd.TrainingConfig(cfg))

	apiHandler := api.NewBackendService(db, provider, stylizer, trainingService, cmd.CreateVerifier(cfg), cfg.MaxUploadBytes)

	r.Route("/api/v1", func(r chi.Router) {
		apiHandler.AddRoutes(r)
	})

	r.Handle("/metrics", promhttp.Handler())

	if !cfg.UseS3() && cfg.StoragePublicURL == "" {
		fs := http.FileServer(http.Dir(cfg.LocalStorageDir))
		r.Handle("/storage/*", http.StripPrefix("/storage", fs))
	}

	return &http.Server{
		Addr:    ":" + cfg.APIPort,
		Handler: r,
	}
}

func main() {
	slog.Info("starting API server")

	cmd.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatalf("Invalid configuration: %v", err)
	}

	db := cmd.CreateDatabase(cfg)
	provider := cmd.CreateStorage(cfg)

	var (
		publisher messaging.Publisher
		inProcess *worker
	)
	if cfg.RabbitMQURL != "" {
		rabbit, err := messaging.NewRabbitMQPublisher(cfg.RabbitMQURL)
		if err != nil {
			log.Fatalf("Failed to connect to RabbitMQ: %v", err)
		}
		defer rabbit.Close()
		publisher = rabbit
	} else {
		slog.Warn("RABBITMQ_URL not set, running tasks in process")
		queue := messaging.NewInMemoryQueue()
		inProcess = startWorker(cfg, db, provider, queue)
		publisher = queue
	}

	server := createServer(cfg, db, provider, publisher)

	go func() {
		quit := make(chan os.Signal, 1)
		signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
		<-quit
		slog.Info("shutting down server")

		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			log.Fatalf("Server forced to shutdown: %v", err)
		}

		if inProcess != nil {
			slog.Info("shutting down worker")
			inProcess.stop()
		}
	}()

	slog.Info("server started", "port", cfg.APIPort)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		log.Fatalf("Could not listen on %s: %v\n", cfg.APIPort, err)
	}

	slog.Info("server stopped")
}
