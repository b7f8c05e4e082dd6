package cmd

import (
	"context"
	"flag"
	"fmt"
	"log"
	"log/slog"
	"os"
	"path/filepath"
	"portrait-backend/internal/auth"
	"portrait-backend/internal/config"
	"portrait-backend/internal/core"
	"portrait-backend/internal/core/training"
	"portrait-backend/internal/database"
	"portrait-backend/internal/replicate"
	"portrait-backend/internal/storage"

	"github.com/joho/godotenv"
	"gorm.io/gorm"
)

func LoadEnvFile() {
	var configPath string

	flag.StringVar(&configPath, "env", "", "path to load env from")
	flag.Parse()

	if configPath == "" {
		log.Printf("no env file specified, using os.Environ only")
		return
	}

	log.Printf("loading env from file %s", configPath)
	err := godotenv.Load(configPath)
	if err != nil {
		log.Fatalf("error loading .env file '%s': %v", configPath, err)
	}
}

func CreateDatabase(cfg config.Config) *gorm.DB {
	if cfg.UsePostgres() {
		db, err := database.NewDatabase(cfg.DatabaseURL)
		if err != nil {
			log.Fatalf("Failed to connect to database: %v", err)
		}
		return db
	}

	if err := os.MkdirAll(filepath.Dir(cfg.SqlitePath), os.ModePerm); err != nil {
		log.Fatalf("Failed to create database directory: %v", err)
	}

	slog.Warn("DATABASE_URL not set, using sqlite database", "path", cfg.SqlitePath)
	// The API and the in process worker write concurrently.
	db, err := database.NewSqliteDatabase(cfg.SqlitePath + "?_busy_timeout=5000&_journal_mode=WAL")
	if err != nil {
		log.Fatalf("Failed to open sqlite database: %v", err)
	}
	return db
}

func CreateStorage(cfg config.Config) storage.Provider {
	var provider storage.Provider

	if cfg.UseS3() {
		s3p, err := storage.NewS3Provider(&storage.S3ProviderConfig{
			S3EndpointURL:     cfg.S3EndpointURL,
			S3AccessKeyID:     cfg.S3AccessKeyID,
			S3SecretAccessKey: cfg.S3SecretAccessKey,
			S3Region:          cfg.S3Region,
			PublicURL:         cfg.StoragePublicURL,
		})
		if err != nil {
			log.Fatalf("Failed to create S3 client: %v", err)
		}
		provider = s3p
	} else {
		publicURL := cfg.StoragePublicURL
		if publicURL == "" {
			publicURL = fmt.Sprintf("http://localhost:%s/storage", cfg.APIPort)
		}
		slog.Warn("S3_ENDPOINT_URL not set, storing objects on local disk", "dir", cfg.LocalStorageDir)
		provider = storage.NewLocalProvider(cfg.LocalStorageDir, publicURL)
	}

	for _, bucket := range []string{cfg.TrainingBucket, cfg.ResultBucket} {
		if err := provider.CreateBucket(context.Background(), bucket); err != nil {
			log.Fatalf("Failed to create bucket %s: %v", bucket, err)
		}
	}

	return provider
}

func CreateVerifier(cfg config.Config) auth.Verifier {
	if cfg.SupabaseURL == "" {
		slog.Warn("SUPABASE_URL not set, bearer tokens are used as user ids")
		return auth.TokenVerifier{}
	}

	verifier, err := auth.NewSupabaseVerifier(cfg.SupabaseURL, cfg.SupabaseAnonKey)
	if err != nil {
		log.Fatalf("Failed to create auth verifier: %v", err)
	}
	return verifier
}

func CreateReplicateClient(cfg config.Config) *replicate.Client {
	client, err := replicate.NewClient(cfg.ReplicateAPIToken, cfg.ReplicateBaseURL)
	if err != nil {
		log.Fatalf("Failed to create replicate client: %v", err)
	}
	return client
}

func ProcessorConfig(cfg config.Config) core.ProcessorConfig {
	return core.ProcessorConfig{
		TrainerModel:       cfg.ReplicateTrainerModel,
		TrainerVersion:     cfg.ReplicateTrainerVersion,
		Destination:        cfg.ReplicateDestination,
		TrainingSteps:      cfg.TrainingSteps,
		LoraRank:           cfg.LoraRank,
		ResultBucket:       cfg.ResultBucket,
		PollInterval:       cfg.PollInterval,
		MaxPolls:           cfg.MaxPolls,
		MaxConcurrentTasks: cfg.Concurrency,
	}
}

func TrainingConfig(cfg config.Config) training.Config {
	return training.Config{
		TrainingBucket: cfg.TrainingBucket,
		ResultBucket:   cfg.ResultBucket,
	}
}
