package config

import (
	"errors"
	"fmt"
	"time"

	"github.com/caarlos0/env/v11"
)

type Config struct {
	// Postgres is used when DATABASE_URL is set, a local sqlite file otherwise.
	DatabaseURL string `env:"DATABASE_URL"`
	SqlitePath  string `env:"SQLITE_PATH" envDefault:"./data/portrait.db"`

	// Tasks go through RabbitMQ when set. Without it the API runs the task
	// processor in process on an in-memory queue.
	RabbitMQURL string `env:"RABBITMQ_URL"`

	OpenAIAPIKey  string `env:"OPENAI_API_KEY"`
	OpenAIBaseURL string `env:"OPENAI_BASE_URL"`

	SupabaseURL     string `env:"SUPABASE_URL"`
	SupabaseAnonKey string `env:"SUPABASE_ANON_KEY"`

	S3EndpointURL     string `env:"S3_ENDPOINT_URL"`
	S3AccessKeyID     string `env:"AWS_ACCESS_KEY_ID"`
	S3SecretAccessKey string `env:"AWS_SECRET_ACCESS_KEY"`
	S3Region          string `env:"AWS_REGION" envDefault:"us-east-1"`
	StoragePublicURL  string `env:"STORAGE_PUBLIC_URL"`
	LocalStorageDir   string `env:"LOCAL_STORAGE_DIR" envDefault:"./data/storage"`
	TrainingBucket    string `env:"TRAINING_BUCKET" envDefault:"training_data"`
	ResultBucket      string `env:"RESULT_BUCKET" envDefault:"public-images"`

	ReplicateAPIToken       string `env:"REPLICATE_API_TOKEN"`
	ReplicateBaseURL        string `env:"REPLICATE_BASE_URL" envDefault:"https://api.replicate.com/v1"`
	ReplicateTrainerModel   string `env:"REPLICATE_TRAINER_MODEL" envDefault:"ostris/flux-dev-lora-trainer"`
	ReplicateTrainerVersion string `env:"REPLICATE_TRAINER_VERSION"`
	ReplicateDestination    string `env:"REPLICATE_DESTINATION"`
	TrainingSteps           int    `env:"TRAINING_STEPS" envDefault:"1000"`
	LoraRank                int    `env:"LORA_RANK" envDefault:"16"`

	PollInterval    time.Duration `env:"POLL_INTERVAL" envDefault:"5s"`
	MaxPolls        int           `env:"MAX_POLLS" envDefault:"720"`
	StaleSessionAge time.Duration `env:"STALE_SESSION_AGE" envDefault:"2h"`
	Concurrency     int           `env:"CONCURRENCY" envDefault:"16"`

	MaxUploadBytes int64  `env:"MAX_UPLOAD_BYTES" envDefault:"209715200"`
	APIPort        string `env:"API_PORT" envDefault:"8000"`
	// Standalone workers expose /metrics here, the API serves it on API_PORT.
	MetricsPort string `env:"METRICS_PORT" envDefault:"9100"`
}

func Load() (Config, error) {
	var cfg Config
	if err := env.Parse(&cfg); err != nil {
		return cfg, fmt.Errorf("error parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

func (c Config) Validate() error {
	var errs []error

	if c.PollInterval <= 0 {
		errs = append(errs, errors.New("POLL_INTERVAL must be positive"))
	}
	if c.MaxPolls <= 0 {
		errs = append(errs, errors.New("MAX_POLLS must be positive"))
	}
	if c.StaleSessionAge > 0 && c.StaleSessionAge < c.PollInterval*time.Duration(c.MaxPolls) {
		errs = append(errs, fmt.Errorf("STALE_SESSION_AGE (%v) must be at least POLL_INTERVAL * MAX_POLLS (%v)", c.StaleSessionAge, c.PollInterval*time.Duration(c.MaxPolls)))
	}
	if c.Concurrency <= 0 {
		errs = append(errs, errors.New("CONCURRENCY must be positive"))
	}
	if c.S3EndpointURL != "" && (c.S3AccessKeyID == "" || c.S3SecretAccessKey == "") {
		errs = append(errs, errors.New("S3_ENDPOINT_URL is set, but AWS_ACCESS_KEY_ID or AWS_SECRET_ACCESS_KEY are missing"))
	}
	if (c.SupabaseURL == "") != (c.SupabaseAnonKey == "") {
		errs = append(errs, errors.New("SUPABASE_URL and SUPABASE_ANON_KEY must be set together"))
	}

	return errors.Join(errs...)
}

// UseS3 reports whether objects go to an S3 compatible store (Supabase
// Storage, MinIO) instead of the local disk.
func (c Config) UseS3() bool {
	return c.S3EndpointURL != ""
}

func (c Config) UsePostgres() bool {
	return c.DatabaseURL != ""
}
