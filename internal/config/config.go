// Package config loads the document-ingestion core's configuration from a
// YAML file with environment-variable and .env overlay, following the same
// Load/LoadFromEnv split used throughout this codebase's lineage: commit
// non-secret defaults to config.yaml, override secrets and per-environment
// values from the environment at deploy time.
package config

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the document ingestion core.
type Config struct {
	Database   DatabaseConfig   `yaml:"database"`
	Storage    StorageConfig    `yaml:"storage"`
	Queue      QueueConfig      `yaml:"queue"`
	Scheduler  SchedulerConfig  `yaml:"scheduler"`
	Zip        ZipConfig        `yaml:"zip"`
	Subprocess SubprocessConfig `yaml:"subprocess"`
	Gx         GxConfig         `yaml:"gx"`
	Lock       LockConfig       `yaml:"lock"`
	Server     ServerConfig     `yaml:"server"`
}

// ServerConfig holds the admin HTTP API's listen address.
type ServerConfig struct {
	Host string `yaml:"host"`
	Port int    `yaml:"port"`
}

// Addr returns the host:port the admin HTTP server binds to.
func (c ServerConfig) Addr() string {
	host := c.Host
	if host == "" {
		host = "0.0.0.0"
	}
	port := c.Port
	if port == 0 {
		port = 8080
	}
	return fmt.Sprintf("%s:%d", host, port)
}

// DatabaseConfig holds the Postgres connection and pool tuning.
type DatabaseConfig struct {
	URL             string `yaml:"url"`
	MaxOpenConns    int    `yaml:"max_open_conns"`
	MaxIdleConns    int    `yaml:"max_idle_conns"`
	ConnMaxLifeMins int    `yaml:"conn_max_life_minutes"`
	ConnMaxIdleMins int    `yaml:"conn_max_idle_minutes"`
}

// ConnMaxLifetime returns the configured connection lifetime as a duration.
func (c DatabaseConfig) ConnMaxLifetime() time.Duration {
	return time.Duration(c.ConnMaxLifeMins) * time.Minute
}

// ConnMaxIdleTime returns the configured idle connection lifetime.
func (c DatabaseConfig) ConnMaxIdleTime() time.Duration {
	return time.Duration(c.ConnMaxIdleMins) * time.Minute
}

// StorageConfig holds object-storage adapter settings (C1).
type StorageConfig struct {
	Bucket              string `yaml:"bucket"`
	Region              string `yaml:"region"`
	Profile             string `yaml:"profile"`
	PresignTTLMinutes   int    `yaml:"presign_ttl_minutes"`
	MultipartPartMBSize int    `yaml:"multipart_part_mb_size"`
}

// PresignTTL returns the configured presigned-URL lifetime.
func (c StorageConfig) PresignTTL() time.Duration {
	return time.Duration(c.PresignTTLMinutes) * time.Minute
}

// QueueConfig holds FIFO queue adapter settings (C2).
type QueueConfig struct {
	ZipQueueURL          string `yaml:"zip_queue_url"`
	FileQueueURL         string `yaml:"file_queue_url"`
	VisibilityTimeoutSec int32  `yaml:"visibility_timeout_seconds"`
	WaitTimeSeconds      int32  `yaml:"wait_time_seconds"`
	MaxMessagesPerPoll   int32  `yaml:"max_messages_per_poll"`
}

// SchedulerConfig holds run intervals and thresholds for C11/C12. The
// *Cron fields are Go duration strings (see cronInterval), not cron
// expressions.
type SchedulerConfig struct {
	FetchDocStatusCron   string `yaml:"fetch_doc_status_cron"`
	JobCompletionCron    string `yaml:"job_completion_cron"`
	StaleJobCron         string `yaml:"stale_job_cron"`
	StaleJobHours        int    `yaml:"stale_job_hours"`
	StaleLockSweepCron   string `yaml:"stale_lock_sweep_cron"`
	StaleLockMinutes     int    `yaml:"stale_lock_minutes"`
}

// StaleJobThreshold returns the configured stale-upload threshold.
func (c SchedulerConfig) StaleJobThreshold() time.Duration {
	return time.Duration(c.StaleJobHours) * time.Hour
}

// StaleLockThreshold returns the configured stuck-lock threshold used by
// the supplemental queue recovery sweep.
func (c SchedulerConfig) StaleLockThreshold() time.Duration {
	return time.Duration(c.StaleLockMinutes) * time.Minute
}

// cronInterval parses a *Cron config field as a plain Go duration string
// (e.g. "1m", "30s"). These fields are named "Cron" for operator
// familiarity but this core has no cron-expression parser; every
// scheduled loop is a ticker at a fixed interval, same as the rest of
// this codebase's background workers. An unparseable or empty value
// falls back to def.
func cronInterval(value string, def time.Duration) time.Duration {
	d, err := time.ParseDuration(value)
	if err != nil || d <= 0 {
		return def
	}
	return d
}

// FetchDocStatusInterval returns how often the GX status poller runs.
func (c SchedulerConfig) FetchDocStatusInterval() time.Duration {
	return cronInterval(c.FetchDocStatusCron, 30*time.Second)
}

// JobCompletionInterval returns how often the lifecycle scheduler
// reconciles in-flight Jobs.
func (c SchedulerConfig) JobCompletionInterval() time.Duration {
	return cronInterval(c.JobCompletionCron, time.Minute)
}

// StaleJobInterval returns how often the stale-upload sweeper runs.
func (c SchedulerConfig) StaleJobInterval() time.Duration {
	return cronInterval(c.StaleJobCron, 15*time.Minute)
}

// StaleLockSweepInterval returns how often the supplemental stuck-lock
// sweep runs.
func (c SchedulerConfig) StaleLockSweepInterval() time.Duration {
	return cronInterval(c.StaleLockSweepCron, 5*time.Minute)
}

// ZipConfig holds ZIP stream processor settings (C5/C6).
type ZipConfig struct {
	ConcurrencyLimit int    `yaml:"concurrency_limit"`
	TempDir          string `yaml:"temp_dir"`
}

// SubprocessConfig holds pluggable file-handler subprocess settings.
type SubprocessConfig struct {
	LibreofficePath        string `yaml:"libreoffice_path"`
	LibreofficeTimeoutSecs int    `yaml:"libreoffice_timeout_seconds"`
	GhostscriptPath        string `yaml:"ghostscript_path"`
}

// LibreofficeTimeout returns the configured subprocess timeout.
func (c SubprocessConfig) LibreofficeTimeout() time.Duration {
	d := time.Duration(c.LibreofficeTimeoutSecs) * time.Second
	if d <= 0 {
		return 2 * time.Minute
	}
	return d
}

// GxConfig holds the downstream GX ingestion service client settings.
type GxConfig struct {
	BaseURL        string `yaml:"base_url"`
	APIKey         string `yaml:"api_key"`
	TimeoutSeconds int    `yaml:"timeout_seconds"`
	MaxRetries     int    `yaml:"max_retries"`
}

// Timeout returns the configured GX HTTP client timeout.
func (c GxConfig) Timeout() time.Duration {
	d := time.Duration(c.TimeoutSeconds) * time.Second
	if d <= 0 {
		return 30 * time.Second
	}
	return d
}

// LockConfig holds distributed-lock settings used to singleton the cron
// schedulers across replicas (C11/C12).
type LockConfig struct {
	RedisAddr  string `yaml:"redis_addr"`
	TTLSeconds int    `yaml:"ttl_seconds"`
}

// TTL returns the configured lock lease duration.
func (c LockConfig) TTL() time.Duration {
	d := time.Duration(c.TTLSeconds) * time.Second
	if d <= 0 {
		return 5 * time.Minute
	}
	return d
}

// Load reads and parses the configuration file, applying defaults for any
// zero-valued field that must not be zero at runtime.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}

	var cfg Config
	if err := yaml.Unmarshal(data, &cfg); err != nil {
		return nil, err
	}
	applyDefaults(&cfg)
	return &cfg, nil
}

func applyDefaults(cfg *Config) {
	if cfg.Database.MaxOpenConns == 0 {
		cfg.Database.MaxOpenConns = 25
	}
	if cfg.Database.MaxIdleConns == 0 {
		cfg.Database.MaxIdleConns = 10
	}
	if cfg.Database.ConnMaxLifeMins == 0 {
		cfg.Database.ConnMaxLifeMins = 5
	}
	if cfg.Database.ConnMaxIdleMins == 0 {
		cfg.Database.ConnMaxIdleMins = 1
	}
	if cfg.Storage.PresignTTLMinutes == 0 {
		cfg.Storage.PresignTTLMinutes = 15
	}
	if cfg.Storage.MultipartPartMBSize == 0 {
		cfg.Storage.MultipartPartMBSize = 8
	}
	if cfg.Storage.Region == "" {
		cfg.Storage.Region = "us-east-1"
	}
	if cfg.Queue.VisibilityTimeoutSec == 0 {
		cfg.Queue.VisibilityTimeoutSec = 120
	}
	if cfg.Queue.WaitTimeSeconds == 0 {
		cfg.Queue.WaitTimeSeconds = 20
	}
	if cfg.Queue.MaxMessagesPerPoll == 0 {
		cfg.Queue.MaxMessagesPerPoll = 10
	}
	if cfg.Scheduler.StaleJobHours == 0 {
		cfg.Scheduler.StaleJobHours = 24
	}
	if cfg.Scheduler.StaleLockMinutes == 0 {
		cfg.Scheduler.StaleLockMinutes = 10
	}
	if cfg.Zip.ConcurrencyLimit == 0 {
		cfg.Zip.ConcurrencyLimit = 8
	}
	if cfg.Zip.TempDir == "" {
		cfg.Zip.TempDir = os.TempDir()
	}
	if cfg.Gx.TimeoutSeconds == 0 {
		cfg.Gx.TimeoutSeconds = 30
	}
	if cfg.Gx.MaxRetries == 0 {
		cfg.Gx.MaxRetries = 3
	}
	if cfg.Lock.TTLSeconds == 0 {
		cfg.Lock.TTLSeconds = 300
	}
}

// LoadFromEnv loads configuration with environment variable overrides.
// It automatically loads a .env file (if present) before reading env vars,
// so secrets can live in .env locally and in real env vars in production.
func LoadFromEnv(path string) (*Config, error) {
	_ = godotenv.Load()

	cfg, err := Load(path)
	if err != nil {
		return nil, err
	}

	if v := os.Getenv("DATABASE_URL"); v != "" {
		cfg.Database.URL = v
	}
	if v := os.Getenv("STORAGE_BUCKET"); v != "" {
		cfg.Storage.Bucket = v
	}
	if v := os.Getenv("AWS_REGION"); v != "" {
		cfg.Storage.Region = v
	}
	if v := os.Getenv("ZIP_QUEUE_URL"); v != "" {
		cfg.Queue.ZipQueueURL = v
	}
	if v := os.Getenv("FILE_QUEUE_URL"); v != "" {
		cfg.Queue.FileQueueURL = v
	}
	if v := os.Getenv("GX_BASE_URL"); v != "" {
		cfg.Gx.BaseURL = v
	}
	if v := os.Getenv("GX_API_KEY"); v != "" {
		cfg.Gx.APIKey = v
	}
	if v := os.Getenv("REDIS_ADDR"); v != "" {
		cfg.Lock.RedisAddr = v
	}
	if v := os.Getenv("PORT"); v != "" {
		if port, err := strconv.Atoi(v); err == nil {
			cfg.Server.Port = port
		}
	}

	return cfg, nil
}
