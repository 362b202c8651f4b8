// Package config loads reviewflow settings: built-in defaults, an optional YAML
// file, then environment variables. CLI flags are applied on top by cmd/reviewflow.
package config

import (
	"errors"
	"fmt"
	"os"
	"time"

	"github.com/caarlos0/env/v11"
	"gopkg.in/yaml.v3"

	"github.com/mtlprog/reviewflow/internal/domain"
)

const (
	// DefaultPort is the default HTTP server port.
	DefaultPort = "8080"

	// DefaultDatabaseURL is empty; must be provided via flag or environment.
	DefaultDatabaseURL = ""

	// DefaultStageSweepInterval is the fixed delay between stage sweeps.
	DefaultStageSweepInterval = 8 * time.Second

	// DefaultRetrySweepInterval is the fixed delay between retry sweeps.
	DefaultRetrySweepInterval = 30 * time.Second

	// DefaultWatchdogInterval disables the timeout watchdog.
	DefaultWatchdogInterval = time.Duration(0)

	// DefaultPoolSize is the number of sweep workers.
	DefaultPoolSize = 2

	// DefaultQueueSize bounds pending sweep jobs before callers run them inline.
	DefaultQueueSize = 4

	// DefaultJobTimeout bounds a single sweep.
	DefaultJobTimeout = 5 * time.Minute

	// DefaultShutdownGrace is how long in-flight sweeps may run after shutdown starts.
	DefaultShutdownGrace = 30 * time.Second

	// DefaultLeaseTTL outlives the longest sweep; a lease is released when its sweep ends.
	DefaultLeaseTTL = DefaultJobTimeout + time.Minute

	// DefaultContractBucket holds uploaded contract files.
	DefaultContractBucket = "reviewflow-contracts"

	// DefaultReportBucket receives generated reports.
	DefaultReportBucket = "reviewflow-reports"

	// DefaultPresignExpiry is the lifetime of presigned contract file URLs.
	DefaultPresignExpiry = time.Hour

	// DefaultMineruModelVersion is the MinerU extraction model.
	DefaultMineruModelVersion = "vlm"

	// DefaultMineruPollInterval is the delay between MinerU status polls.
	DefaultMineruPollInterval = 3 * time.Second

	// DefaultFilesDir holds contract files for local clause extraction.
	DefaultFilesDir = "data/contracts"

	// DefaultReportsDir receives reports when object storage is not configured.
	DefaultReportsDir = "data/reports"

	// DefaultOpenAIModel is used for model review.
	DefaultOpenAIModel = "gpt-4o-mini"
)

// Store drivers.
const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

var errInvalidConfig = errors.New("invalid configuration")

// Config is the full application configuration.
type Config struct {
	Port        string             `yaml:"port" env:"PORT"`
	DatabaseURL string             `yaml:"database_url" env:"DATABASE_URL"`
	Store       string             `yaml:"store" env:"STORE"`
	ActorID     string             `yaml:"actor_id" env:"SCHEDULER_ACTOR_ID"`
	Scheduler   SchedulerConfig    `yaml:"scheduler" envPrefix:"SCHEDULER_"`
	Retry       domain.RetryPolicy `yaml:"retry" envPrefix:"RETRY_"`
	Redis       RedisConfig        `yaml:"redis" envPrefix:"REDIS_"`
	Minio       MinioConfig        `yaml:"minio" envPrefix:"MINIO_"`
	Mineru      MineruConfig       `yaml:"mineru" envPrefix:"MINERU_"`
	OpenAI      OpenAIConfig       `yaml:"openai" envPrefix:"OPENAI_"`
	Local       LocalConfig        `yaml:"local" envPrefix:"LOCAL_"`
}

// SchedulerConfig controls the sweep loops. A zero or negative interval disables a loop.
type SchedulerConfig struct {
	StageSweepInterval time.Duration `yaml:"stage_sweep_interval" env:"STAGE_SWEEP_INTERVAL"`
	RetrySweepInterval time.Duration `yaml:"retry_sweep_interval" env:"RETRY_SWEEP_INTERVAL"`
	WatchdogInterval   time.Duration `yaml:"watchdog_interval" env:"WATCHDOG_INTERVAL"`
	PoolSize           int           `yaml:"pool_size" env:"POOL_SIZE"`
	QueueSize          int           `yaml:"queue_size" env:"QUEUE_SIZE"`
	JobTimeout         time.Duration `yaml:"job_timeout" env:"JOB_TIMEOUT"`
	ShutdownGrace      time.Duration `yaml:"shutdown_grace" env:"SHUTDOWN_GRACE"`
}

// RedisConfig enables the sweep lease when Addr is set.
type RedisConfig struct {
	Addr      string        `yaml:"addr" env:"ADDR"`
	Password  string        `yaml:"password" env:"PASSWORD"`
	DB        int           `yaml:"db" env:"DB"`
	KeyPrefix string        `yaml:"key_prefix" env:"KEY_PREFIX"`
	LeaseTTL  time.Duration `yaml:"lease_ttl" env:"LEASE_TTL"`
}

// MinioConfig locates contract files and the report bucket.
type MinioConfig struct {
	Endpoint       string        `yaml:"endpoint" env:"ENDPOINT"`
	AccessKey      string        `yaml:"access_key" env:"ACCESS_KEY"`
	SecretKey      string        `yaml:"secret_key" env:"SECRET_KEY"`
	UseSSL         bool          `yaml:"use_ssl" env:"USE_SSL"`
	Region         string        `yaml:"region" env:"REGION"`
	ContractBucket string        `yaml:"contract_bucket" env:"CONTRACT_BUCKET"`
	ReportBucket   string        `yaml:"report_bucket" env:"REPORT_BUCKET"`
	PresignExpiry  time.Duration `yaml:"presign_expiry" env:"PRESIGN_EXPIRY"`
}

// MineruConfig points at the MinerU document extraction API.
type MineruConfig struct {
	APIURL       string        `yaml:"api_url" env:"API_URL"`
	APIToken     string        `yaml:"api_token" env:"API_TOKEN"`
	ModelVersion string        `yaml:"model_version" env:"MODEL_VERSION"`
	PollInterval time.Duration `yaml:"poll_interval" env:"POLL_INTERVAL"`
}

// OpenAIConfig configures the model review stage.
type OpenAIConfig struct {
	APIKey  string `yaml:"api_key" env:"API_KEY"`
	BaseURL string `yaml:"base_url" env:"BASE_URL"`
	Model   string `yaml:"model" env:"MODEL"`
}

// LocalConfig locates files for the local collaborators.
type LocalConfig struct {
	FilesDir   string `yaml:"files_dir" env:"FILES_DIR"`
	ReportsDir string `yaml:"reports_dir" env:"REPORTS_DIR"`
}

// Default returns the built-in configuration.
func Default() *Config {
	return &Config{
		Port:        DefaultPort,
		DatabaseURL: DefaultDatabaseURL,
		Store:       StorePostgres,
		Scheduler: SchedulerConfig{
			StageSweepInterval: DefaultStageSweepInterval,
			RetrySweepInterval: DefaultRetrySweepInterval,
			WatchdogInterval:   DefaultWatchdogInterval,
			PoolSize:           DefaultPoolSize,
			QueueSize:          DefaultQueueSize,
			JobTimeout:         DefaultJobTimeout,
			ShutdownGrace:      DefaultShutdownGrace,
		},
		Retry: domain.DefaultRetryPolicy(),
		Redis: RedisConfig{
			KeyPrefix: "reviewflow",
			LeaseTTL:  DefaultLeaseTTL,
		},
		Minio: MinioConfig{
			ContractBucket: DefaultContractBucket,
			ReportBucket:   DefaultReportBucket,
			PresignExpiry:  DefaultPresignExpiry,
		},
		Mineru: MineruConfig{
			ModelVersion: DefaultMineruModelVersion,
			PollInterval: DefaultMineruPollInterval,
		},
		OpenAI: OpenAIConfig{
			Model: DefaultOpenAIModel,
		},
		Local: LocalConfig{
			FilesDir:   DefaultFilesDir,
			ReportsDir: DefaultReportsDir,
		},
	}
}

// Load builds the configuration from defaults, the YAML file at path (skipped
// when path is empty) and the environment, in that order.
func Load(path string) (*Config, error) {
	cfg := Default()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(data, cfg); err != nil {
			return nil, fmt.Errorf("parse config file %s: %w", path, err)
		}
	}

	if err := env.Parse(cfg); err != nil {
		return nil, fmt.Errorf("parse environment: %w", err)
	}

	return cfg, nil
}

// Validate checks the settings needed to start.
func (c *Config) Validate() error {
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			return fmt.Errorf("%w: database URL is required for the %s store", errInvalidConfig, StorePostgres)
		}
	case StoreMemory:
	default:
		return fmt.Errorf("%w: unknown store %q", errInvalidConfig, c.Store)
	}

	if c.Scheduler.PoolSize < 1 {
		return fmt.Errorf("%w: scheduler pool size must be at least 1", errInvalidConfig)
	}
	if c.Scheduler.QueueSize < 0 {
		return fmt.Errorf("%w: scheduler queue size must not be negative", errInvalidConfig)
	}
	if c.Redis.Addr != "" && c.Redis.LeaseTTL <= 0 {
		return fmt.Errorf("%w: redis lease TTL must be positive", errInvalidConfig)
	}

	if err := c.Retry.Validate(); err != nil {
		return err
	}
	return nil
}

// MineruEnabled reports whether clause extraction goes through MinerU.
func (c *Config) MineruEnabled() bool {
	return c.Mineru.APIURL != "" && c.Minio.Endpoint != ""
}

// OpenAIEnabled reports whether model review goes through the OpenAI API.
func (c *Config) OpenAIEnabled() bool {
	return c.OpenAI.APIKey != ""
}

// MinioEnabled reports whether reports are uploaded to object storage.
func (c *Config) MinioEnabled() bool {
	return c.Minio.Endpoint != ""
}
