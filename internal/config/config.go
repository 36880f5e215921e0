package config

import (
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the campaign engine.
type Config struct {
	Server   ServerConfig   `yaml:"server"`
	AWS      AWSConfig      `yaml:"aws"`
	SES      SESConfig      `yaml:"ses"`
	Store    StoreConfig    `yaml:"store"`
	Blob     BlobConfig     `yaml:"blob"`
	Queue    QueueConfig    `yaml:"queue"`
	Governor GovernorConfig `yaml:"governor"`
	Worker   WorkerConfig   `yaml:"worker"`
	Contacts ContactsConfig `yaml:"contacts"`
	Metrics  MetricsConfig  `yaml:"metrics"`
	Intake   IntakeConfig   `yaml:"intake"`
}

// ServerConfig holds the intake HTTP server settings.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// AWSConfig holds the shared AWS client settings.
type AWSConfig struct {
	Region  string `yaml:"region"`
	Profile string `yaml:"profile"` // Empty string uses default credential chain (IAM role on ECS)
}

// SESConfig holds mail provider credentials. Empty keys fall back to the
// default credential chain.
type SESConfig struct {
	AccessKey      string `yaml:"access_key"`
	SecretKey      string `yaml:"secret_key"`
	Region         string `yaml:"region"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-send provider timeout as a duration.
func (c SESConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// StoreConfig holds campaign store settings.
type StoreConfig struct {
	DynamoDBTable  string `yaml:"dynamodb_table"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
}

// Timeout returns the per-call store timeout as a duration.
func (c StoreConfig) Timeout() time.Duration {
	return time.Duration(c.TimeoutSeconds) * time.Second
}

// BlobConfig holds attachment blob store settings.
type BlobConfig struct {
	S3Bucket string `yaml:"s3_bucket"`
}

// QueueConfig holds work queue settings.
type QueueConfig struct {
	URL                      string `yaml:"url"`
	BatchSize                int    `yaml:"batch_size"`
	VisibilityTimeoutSeconds int    `yaml:"visibility_timeout_seconds"`
	WaitTimeSeconds          int    `yaml:"wait_time_seconds"`
}

// VisibilityTimeout returns the receive visibility timeout as a duration.
func (c QueueConfig) VisibilityTimeout() time.Duration {
	return time.Duration(c.VisibilityTimeoutSeconds) * time.Second
}

// GovernorConfig holds adaptive rate governor settings. Delays are
// fractional seconds.
type GovernorConfig struct {
	BaseDelaySeconds              float64 `yaml:"base_delay_seconds"`
	MinDelaySeconds               float64 `yaml:"min_delay_seconds"`
	MaxDelaySeconds               float64 `yaml:"max_delay_seconds"`
	ThrottleRecoveryPeriodSeconds float64 `yaml:"throttle_recovery_period_seconds"`
}

// BaseDelay returns the starting per-send delay.
func (c GovernorConfig) BaseDelay() time.Duration {
	return time.Duration(c.BaseDelaySeconds * float64(time.Second))
}

// MinDelay returns the per-send delay floor.
func (c GovernorConfig) MinDelay() time.Duration {
	return time.Duration(c.MinDelaySeconds * float64(time.Second))
}

// MaxDelay returns the per-send delay ceiling.
func (c GovernorConfig) MaxDelay() time.Duration {
	return time.Duration(c.MaxDelaySeconds * float64(time.Second))
}

// ThrottleRecoveryPeriod returns how long the governor waits after a
// throttle before delays start decaying again.
func (c GovernorConfig) ThrottleRecoveryPeriod() time.Duration {
	return time.Duration(c.ThrottleRecoveryPeriodSeconds * float64(time.Second))
}

// WorkerConfig holds dispatch worker invocation settings.
type WorkerConfig struct {
	BudgetSeconds        int `yaml:"budget_seconds"`
	BudgetReserveSeconds int `yaml:"budget_reserve_seconds"`
}

// Budget returns the wall-clock budget for one batch invocation.
func (c WorkerConfig) Budget() time.Duration {
	return time.Duration(c.BudgetSeconds) * time.Second
}

// BudgetReserve returns the slack kept at the end of the budget; the
// worker stops starting new items once less than this remains.
func (c WorkerConfig) BudgetReserve() time.Duration {
	return time.Duration(c.BudgetReserveSeconds) * time.Second
}

// ContactsConfig holds the personalization contact directory settings.
type ContactsConfig struct {
	DatabaseURL string `yaml:"database_url"`
}

// MetricsConfig holds the operational metrics sink settings.
type MetricsConfig struct {
	RedisURL string `yaml:"redis_url"`
}

// IntakeConfig holds submission validation limits.
type IntakeConfig struct {
	MaxMessageBytes int64 `yaml:"max_message_bytes"`
}

// Load reads and parses the configuration file.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}

	// Set defaults
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 8080
	}
	if cfg.Server.Host == "" {
		cfg.Server.Host = "localhost"
	}
	if cfg.AWS.Region == "" {
		cfg.AWS.Region = "us-east-1"
	}
	if cfg.SES.Region == "" {
		cfg.SES.Region = cfg.AWS.Region
	}
	if cfg.SES.TimeoutSeconds == 0 {
		cfg.SES.TimeoutSeconds = 30
	}
	if cfg.Store.TimeoutSeconds == 0 {
		cfg.Store.TimeoutSeconds = 10
	}
	if cfg.Queue.BatchSize == 0 {
		cfg.Queue.BatchSize = 10
	}
	if cfg.Queue.BatchSize > 10 {
		cfg.Queue.BatchSize = 10
	}
	if cfg.Queue.VisibilityTimeoutSeconds == 0 {
		cfg.Queue.VisibilityTimeoutSeconds = 960
	}
	if cfg.Queue.WaitTimeSeconds == 0 {
		cfg.Queue.WaitTimeSeconds = 20
	}
	if cfg.Governor.BaseDelaySeconds == 0 {
		cfg.Governor.BaseDelaySeconds = 0.1
	}
	if cfg.Governor.MinDelaySeconds == 0 {
		cfg.Governor.MinDelaySeconds = 0.01
	}
	if cfg.Governor.MaxDelaySeconds == 0 {
		cfg.Governor.MaxDelaySeconds = 5.0
	}
	if cfg.Governor.ThrottleRecoveryPeriodSeconds == 0 {
		cfg.Governor.ThrottleRecoveryPeriodSeconds = 60
	}
	if cfg.Worker.BudgetSeconds == 0 {
		cfg.Worker.BudgetSeconds = 900
	}
	if cfg.Worker.BudgetReserveSeconds == 0 {
		cfg.Worker.BudgetReserveSeconds = 30
	}
	if cfg.Intake.MaxMessageBytes == 0 {
		cfg.Intake.MaxMessageBytes = 40 << 20 // SES raw message limit
	}

	return &cfg, nil
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars on ECS.
func LoadFromEnv(path string) (*Config, error) {
	// Load .env file if it exists (no error if missing)
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if region := os.Getenv("AWS_REGION"); region != "" {
		cfg.AWS.Region = region
	}
	if profile := os.Getenv("AWS_PROFILE_OVERRIDE"); profile != "" {
		if profile == "none" || profile == "iam" {
			cfg.AWS.Profile = "" // Use default credential chain (IAM role)
		} else {
			cfg.AWS.Profile = profile
		}
	}
	if accessKey := os.Getenv("AWS_SES_ACCESS_KEY"); accessKey != "" {
		cfg.SES.AccessKey = accessKey
	}
	if secretKey := os.Getenv("AWS_SES_SECRET_KEY"); secretKey != "" {
		cfg.SES.SecretKey = secretKey
	}
	if region := os.Getenv("AWS_SES_REGION"); region != "" {
		cfg.SES.Region = region
	}
	if table := os.Getenv("CAMPAIGN_TABLE"); table != "" {
		cfg.Store.DynamoDBTable = table
	}
	if bucket := os.Getenv("ATTACHMENT_BUCKET"); bucket != "" {
		cfg.Blob.S3Bucket = bucket
	}
	if queueURL := os.Getenv("WORK_QUEUE_URL"); queueURL != "" {
		cfg.Queue.URL = queueURL
	}
	if dbURL := os.Getenv("DATABASE_URL"); dbURL != "" {
		cfg.Contacts.DatabaseURL = dbURL
	}
	if redisURL := os.Getenv("REDIS_URL"); redisURL != "" {
		cfg.Metrics.RedisURL = redisURL
	}
	if budget := os.Getenv("WORKER_BUDGET_SECONDS"); budget != "" {
		if v, err := strconv.Atoi(budget); err == nil && v > 0 {
			cfg.Worker.BudgetSeconds = v
		}
	}

	return cfg, nil
}
