package config

import (
	"strings"
	"testing"
	"time"
)

func setRequired(t *testing.T) {
	t.Helper()
	t.Setenv("SIGAE_API_URL", "https://sigae.example.test/api/")
	t.Setenv("SIGAE_IP", "10.0.0.1")
	t.Setenv("SIGAE_USER", "operator")
	t.Setenv("SIGAE_PASSWORD", "secret")
	t.Setenv("SIGAE_COD_SYS", "7")
}

func TestLoadConfig(t *testing.T) {
	setRequired(t)
	t.Setenv("SERVER_PORT", "9090")
	t.Setenv("POSTGRES_HOST", "testhost")
	t.Setenv("QUEUE_LEASE_DURATION", "2m")
	t.Setenv("UPSTREAM_RATE_LIMIT", "2.5")
	t.Setenv("CLICKHOUSE_ENABLED", "true")

	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Server.Port != "9090" {
		t.Errorf("Server.Port = %v, want %v", cfg.Server.Port, "9090")
	}
	if cfg.Database.Postgres.Host != "testhost" {
		t.Errorf("Database.Postgres.Host = %v, want %v", cfg.Database.Postgres.Host, "testhost")
	}
	if cfg.Queue.LeaseDuration != 2*time.Minute {
		t.Errorf("Queue.LeaseDuration = %v, want %v", cfg.Queue.LeaseDuration, 2*time.Minute)
	}
	if cfg.Upstream.RateLimit != 2.5 {
		t.Errorf("Upstream.RateLimit = %v, want 2.5", cfg.Upstream.RateLimit)
	}
	if !cfg.Database.ClickHouse.Enabled {
		t.Errorf("Database.ClickHouse.Enabled = false, want true")
	}
	if cfg.Upstream.BaseURL != "https://sigae.example.test/api" {
		t.Errorf("Upstream.BaseURL = %q, trailing slash should be trimmed", cfg.Upstream.BaseURL)
	}
	if err := cfg.Validate(); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
}

func TestLoadConfigDefaults(t *testing.T) {
	cfg, err := LoadConfig()
	if err != nil {
		t.Fatalf("LoadConfig() error = %v", err)
	}

	if cfg.Queue.LeaseDuration != 15*time.Minute {
		t.Errorf("Queue.LeaseDuration = %v, want 15m", cfg.Queue.LeaseDuration)
	}
	if cfg.Discovery.CloseAfter != 72*time.Hour {
		t.Errorf("Discovery.CloseAfter = %v, want 72h", cfg.Discovery.CloseAfter)
	}
	if cfg.Queue.KeyPrefix != "sync" {
		t.Errorf("Queue.KeyPrefix = %v, want sync", cfg.Queue.KeyPrefix)
	}
}

func TestValidate(t *testing.T) {
	tests := []struct {
		name    string
		env     map[string]string
		wantErr string
	}{
		{
			name:    "missing credentials",
			env:     map[string]string{"SIGAE_PASSWORD": "", "SIGAE_COD_SYS": ""},
			wantErr: "SIGAE_PASSWORD, SIGAE_COD_SYS",
		},
		{
			name:    "lease too short",
			env:     map[string]string{"QUEUE_LEASE_DURATION": "1s"},
			wantErr: "QUEUE_LEASE_DURATION",
		},
		{
			name:    "idle interval below poll interval",
			env:     map[string]string{"QUEUE_POLL_INTERVAL": "5s", "QUEUE_MAX_IDLE_INTERVAL": "1s"},
			wantErr: "QUEUE_MAX_IDLE_INTERVAL",
		},
		{
			name:    "unknown timezone",
			env:     map[string]string{"UPSTREAM_TIMEZONE": "Mars/Olympus"},
			wantErr: "UPSTREAM_TIMEZONE",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			setRequired(t)
			for k, v := range tt.env {
				t.Setenv(k, v)
			}

			cfg, err := LoadConfig()
			if err != nil {
				t.Fatalf("LoadConfig() error = %v", err)
			}
			err = cfg.Validate()
			if err == nil {
				t.Fatalf("Validate() expected error containing %q", tt.wantErr)
			}
			if !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() error = %v, want it to contain %q", err, tt.wantErr)
			}
		})
	}
}

func TestPostgresURL(t *testing.T) {
	cfg := PostgresConfig{
		Host:     "db",
		Port:     "5432",
		Database: "incident_sync",
		User:     "sync",
		Password: "p@ss",
		SSLMode:  "disable",
	}

	want := "postgres://sync:p%40ss@db:5432/incident_sync?sslmode=disable"
	if got := cfg.URL(); got != want {
		t.Errorf("URL() = %v, want %v", got, want)
	}
}

func TestGetEnvHelpers(t *testing.T) {
	t.Setenv("TEST_INT", "42")
	t.Setenv("TEST_BAD_INT", "forty-two")
	t.Setenv("TEST_BOOL", "true")
	t.Setenv("TEST_DURATION", "90s")

	if got := getEnvAsInt("TEST_INT", 1); got != 42 {
		t.Errorf("getEnvAsInt() = %v, want 42", got)
	}
	if got := getEnvAsInt("TEST_BAD_INT", 1); got != 1 {
		t.Errorf("getEnvAsInt() with invalid value = %v, want default 1", got)
	}
	if got := getEnvAsBool("TEST_BOOL", false); !got {
		t.Errorf("getEnvAsBool() = false, want true")
	}
	if got := getEnvAsDuration("TEST_DURATION", time.Second); got != 90*time.Second {
		t.Errorf("getEnvAsDuration() = %v, want 90s", got)
	}
	if got := getEnv("NONEXISTENT_KEY", "default"); got != "default" {
		t.Errorf("getEnv() = %v, want default", got)
	}
}
