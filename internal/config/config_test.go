package config_test

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/farmlot/auctioneer/internal/config"
)

func TestLoad(t *testing.T) {
	tests := []struct {
		name    string
		yaml    string
		wantErr bool
		check   func(t *testing.T, cfg *config.Config)
	}{
		{
			name: "valid full config",
			yaml: `
server:
  port: 9090
database:
  host: "db.example.com"
  port: 5433
  user: "auctioneer"
  password: "secret"
  dbname: "lots"
  sslmode: "require"
  driver: "sqlx"
scheduler:
  sweep_interval: 10s
  claim_batch: 50
notifier:
  driver: "nats"
  url: "nats://broker:4222"
  subject_prefix: "farm.outcome"
cache:
  enabled: true
  addr: "redis:6379"
  ttl: 1m
telemetry:
  service_name: "my-auctioneer"
  otlp_endpoint: "localhost:4318"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Server.Port != 9090 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 9090)
				}
				if cfg.Database.Port != 5433 {
					t.Errorf("got db port %d, want %d", cfg.Database.Port, 5433)
				}
				if cfg.Scheduler.SweepInterval != 10*time.Second {
					t.Errorf("got sweep interval %s, want %s", cfg.Scheduler.SweepInterval, 10*time.Second)
				}
				if cfg.Scheduler.ClaimBatch != 50 {
					t.Errorf("got claim batch %d, want %d", cfg.Scheduler.ClaimBatch, 50)
				}
				if cfg.Notifier.SubjectPrefix != "farm.outcome" {
					t.Errorf("got subject prefix %q, want %q", cfg.Notifier.SubjectPrefix, "farm.outcome")
				}
				if !cfg.Cache.Enabled {
					t.Error("expected cache enabled")
				}
				if cfg.Telemetry.ServiceName != "my-auctioneer" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "my-auctioneer")
				}
			},
		},
		{
			name:    "defaults applied",
			yaml:    `{}`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Host != "localhost" {
					t.Errorf("got db host %q, want %q", cfg.Database.Host, "localhost")
				}
				if cfg.Database.Port != 5432 {
					t.Errorf("got db port %d, want %d", cfg.Database.Port, 5432)
				}
				if cfg.Server.Port != 8080 {
					t.Errorf("got server port %d, want %d", cfg.Server.Port, 8080)
				}
				if cfg.Scheduler.SweepInterval != 5*time.Second {
					t.Errorf("got sweep interval %s, want %s", cfg.Scheduler.SweepInterval, 5*time.Second)
				}
				if cfg.Notifier.Driver != "log" {
					t.Errorf("got notifier driver %q, want %q", cfg.Notifier.Driver, "log")
				}
				if cfg.Notifier.SubjectPrefix != "lot.outcome" {
					t.Errorf("got subject prefix %q, want %q", cfg.Notifier.SubjectPrefix, "lot.outcome")
				}
				if cfg.Telemetry.ServiceName != "auctioneer" {
					t.Errorf("got service name %q, want %q", cfg.Telemetry.ServiceName, "auctioneer")
				}
			},
		},
		{
			name:    "invalid yaml",
			yaml:    `{{{invalid`,
			wantErr: true,
		},
		{
			name: "memory driver accepted",
			yaml: `
database:
  driver: "memory"
`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Driver != "memory" {
					t.Errorf("got driver %q, want %q", cfg.Database.Driver, "memory")
				}
			},
		},
		{
			name: "invalid database driver rejected",
			yaml: `
database:
  driver: "mongodb"
`,
			wantErr: true,
		},
		{
			name: "invalid notifier driver rejected",
			yaml: `
notifier:
  driver: "kafka"
`,
			wantErr: true,
		},
		{
			name: "zero sweep interval rejected",
			yaml: `
scheduler:
  sweep_interval: 0s
`,
			wantErr: true,
		},
		{
			name:    "default driver is sqlx",
			yaml:    `{}`,
			wantErr: false,
			check: func(t *testing.T, cfg *config.Config) {
				t.Helper()
				if cfg.Database.Driver != "sqlx" {
					t.Errorf("got driver %q, want %q", cfg.Database.Driver, "sqlx")
				}
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			path := filepath.Join(dir, "config.yaml")
			if err := os.WriteFile(path, []byte(tt.yaml), 0o644); err != nil {
				t.Fatal(err)
			}

			cfg, err := config.Load(path)
			if (err != nil) != tt.wantErr {
				t.Fatalf("Load() error = %v, wantErr %v", err, tt.wantErr)
			}
			if tt.check != nil && cfg != nil {
				tt.check(t, cfg)
			}
		})
	}
}

func TestLoad_FileNotFound(t *testing.T) {
	_, err := config.Load("/nonexistent/path/config.yaml")
	if err == nil {
		t.Fatal("expected error for nonexistent file")
	}
}

func TestDatabaseConfig_DSN(t *testing.T) {
	cfg := config.DatabaseConfig{
		Host:     "localhost",
		Port:     5432,
		User:     "user",
		Password: "pass",
		DBName:   "testdb",
		SSLMode:  "disable",
	}
	want := "host=localhost port=5432 user=user password=pass dbname=testdb sslmode=disable"
	if got := cfg.DSN(); got != want {
		t.Errorf("DSN() = %q, want %q", got, want)
	}
}
