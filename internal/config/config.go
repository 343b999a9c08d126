package config

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"gopkg.in/yaml.v3"
)

// Config represents the application configuration.
type Config struct {
	Server         ServerConfig         `yaml:"server"`
	Database       DatabaseConfig       `yaml:"database"`
	Scheduler      SchedulerConfig      `yaml:"scheduler"`
	Notifier       NotifierConfig       `yaml:"notifier"`
	Cache          CacheConfig          `yaml:"cache"`
	Telemetry      TelemetryConfig      `yaml:"telemetry"`
	LeaderElection LeaderElectionConfig `yaml:"leader_election"`
}

// ServerConfig holds HTTP server settings.
type ServerConfig struct {
	Port            int           `yaml:"port"`
	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

// DatabaseConfig holds database connection settings.
type DatabaseConfig struct {
	Host     string `yaml:"host"`
	Port     int    `yaml:"port"`
	User     string `yaml:"user"`
	Password string `yaml:"password"`
	DBName   string `yaml:"dbname"`
	SSLMode  string `yaml:"sslmode"`
	Driver   string `yaml:"driver"` // "sqlx" or "memory"
}

// DSN returns the Postgres connection string.
func (d DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		d.Host, d.Port, d.User, d.Password, d.DBName, d.SSLMode,
	)
}

// SchedulerConfig holds expiry sweep settings. Multiple replicas may sweep
// concurrently; the atomic claim in the store keeps settlement exactly-once.
type SchedulerConfig struct {
	SweepInterval time.Duration `yaml:"sweep_interval"`
	ClaimBatch    int           `yaml:"claim_batch"`
}

// NotifierConfig holds outcome notification settings.
type NotifierConfig struct {
	Driver        string `yaml:"driver"` // "nats" or "log"
	URL           string `yaml:"url"`
	SubjectPrefix string `yaml:"subject_prefix"`
}

// CacheConfig holds the redis-backed listing cache settings. When disabled
// or when redis is unreachable, listings are served straight from the store.
type CacheConfig struct {
	Enabled  bool          `yaml:"enabled"`
	Addr     string        `yaml:"addr"`
	Password string        `yaml:"password"`
	DB       int           `yaml:"db"`
	TTL      time.Duration `yaml:"ttl"`
}

// TelemetryConfig holds OpenTelemetry settings.
type TelemetryConfig struct {
	ServiceName    string `yaml:"service_name"`
	ServiceVersion string `yaml:"service_version"`
	OTLPEndpoint   string `yaml:"otlp_endpoint"`
	Insecure       bool   `yaml:"insecure"`
}

// LeaderElectionConfig holds Kubernetes leader election settings for the
// expiry sweeper. Election is an optimization that avoids redundant sweeps
// in multi-replica deployments; correctness never depends on it.
type LeaderElectionConfig struct {
	Enabled        bool          `yaml:"enabled"`
	LeaseName      string        `yaml:"lease_name"`
	LeaseNamespace string        `yaml:"lease_namespace"`
	LeaseDuration  time.Duration `yaml:"lease_duration"`
	RenewDeadline  time.Duration `yaml:"renew_deadline"`
	RetryPeriod    time.Duration `yaml:"retry_period"`
}

// Load reads a YAML configuration file from the given path.
func Load(path string) (*Config, error) {
	data, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return nil, fmt.Errorf("reading config file: %w", err)
	}

	cfg := Defaults()

	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parsing config file: %w", err)
	}

	if err := cfg.validate(); err != nil {
		return nil, fmt.Errorf("validating config: %w", err)
	}

	return cfg, nil
}

// Defaults returns a Config populated with default values.
func Defaults() *Config {
	return &Config{
		Server: ServerConfig{
			Port:            8080,
			ShutdownTimeout: 15 * time.Second,
		},
		Database: DatabaseConfig{
			Host:    "localhost",
			Port:    5432,
			SSLMode: "disable",
			Driver:  "sqlx",
		},
		Scheduler: SchedulerConfig{
			SweepInterval: 5 * time.Second,
			ClaimBatch:    100,
		},
		Notifier: NotifierConfig{
			Driver:        "log",
			URL:           "nats://localhost:4222",
			SubjectPrefix: "lot.outcome",
		},
		Cache: CacheConfig{
			Enabled: false,
			Addr:    "localhost:6379",
			TTL:     30 * time.Second,
		},
		Telemetry: TelemetryConfig{
			ServiceName:    "auctioneer",
			ServiceVersion: "0.1.0",
		},
		LeaderElection: LeaderElectionConfig{
			Enabled:        false,
			LeaseName:      "auctioneer-sweeper",
			LeaseNamespace: "default",
			LeaseDuration:  15 * time.Second,
			RenewDeadline:  10 * time.Second,
			RetryPeriod:    2 * time.Second,
		},
	}
}

// validate checks configuration invariants.
func (c *Config) validate() error {
	switch c.Database.Driver {
	case "sqlx", "memory":
		// valid
	default:
		return fmt.Errorf("unsupported database driver %q: must be \"sqlx\" or \"memory\"", c.Database.Driver)
	}

	switch c.Notifier.Driver {
	case "nats", "log":
		// valid
	default:
		return fmt.Errorf("unsupported notifier driver %q: must be \"nats\" or \"log\"", c.Notifier.Driver)
	}

	if c.Scheduler.SweepInterval <= 0 {
		return fmt.Errorf("scheduler sweep_interval must be positive, got %s", c.Scheduler.SweepInterval)
	}

	return nil
}
