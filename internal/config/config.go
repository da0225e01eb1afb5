// Package config provides configuration management for the incident sync pipeline.
// It loads configuration from environment variables and .env files.
package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
)

// Config holds all application configuration
type Config struct {
	Server    ServerConfig
	Database  DatabaseConfig
	Upstream  UpstreamConfig
	Queue     QueueConfig
	Discovery DiscoveryConfig
	Logging   LoggingConfig
}

// ServerConfig holds the admin HTTP server configuration
type ServerConfig struct {
	Port         string
	Host         string
	Enabled      bool
	RateLimitRPS float64
}

// DatabaseConfig holds database configuration
type DatabaseConfig struct {
	Postgres   PostgresConfig
	ClickHouse ClickHouseConfig
	Redis      RedisConfig
}

// PostgresConfig holds Postgres configuration
type PostgresConfig struct {
	Host           string
	Port           string
	Database       string
	User           string
	Password       string
	SSLMode        string
	MaxConnections int
}

// URL returns the connection URL used by the migration runner.
func (c PostgresConfig) URL() string {
	u := url.URL{
		Scheme:   "postgres",
		User:     url.UserPassword(c.User, c.Password),
		Host:     c.Host + ":" + c.Port,
		Path:     "/" + c.Database,
		RawQuery: "sslmode=" + c.SSLMode,
	}
	return u.String()
}

// ClickHouseConfig holds ClickHouse configuration. The job event sink is
// only wired when Enabled is set.
type ClickHouseConfig struct {
	Enabled  bool
	Host     string
	Port     string
	Database string
	User     string
	Password string
}

// RedisConfig holds Redis configuration
type RedisConfig struct {
	Host           string
	Port           string
	Password       string
	DB             int
	MaxConnections int
}

// UpstreamConfig holds the SIGAE endpoint and the credential envelope that
// is attached to every request.
type UpstreamConfig struct {
	BaseURL    string
	IP         string
	Username   string
	Password   string
	SystemCode string

	Timeout            time.Duration
	RateLimit          float64 // requests per second across the process
	RateBurst          int
	Timezone           string
	BreakerMaxFailures int
	BreakerTimeout     time.Duration
}

// QueueConfig holds settings shared by every queue. Per-queue retry and
// retention policy lives in the job package's policy table.
type QueueConfig struct {
	KeyPrefix       string
	LeaseDuration   time.Duration
	PollInterval    time.Duration
	MaxIdleInterval time.Duration
	ReaperInterval  time.Duration
	ShutdownTimeout time.Duration
	PolicyFile      string
	SchedulerEnable bool
}

// DiscoveryConfig holds incident discovery settings
type DiscoveryConfig struct {
	LatestCount int
	OpenLimit   int
	CloseAfter  time.Duration
}

// LoggingConfig holds logging configuration
type LoggingConfig struct {
	Level  string
	Format string
}

// LoadConfig loads configuration from .env file and environment variables
func LoadConfig() (*Config, error) {
	// .env is optional, the environment can be set directly
	if err := godotenv.Load(); err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("error loading .env file: %w", err)
		}
	}

	config := &Config{
		Server: ServerConfig{
			Port:         getEnv("SERVER_PORT", "8080"),
			Host:         getEnv("SERVER_HOST", "0.0.0.0"),
			Enabled:      getEnvAsBool("SERVER_ENABLED", true),
			RateLimitRPS: getEnvAsFloat("SERVER_RATE_LIMIT_RPS", 5),
		},
		Database: DatabaseConfig{
			Postgres: PostgresConfig{
				Host:           getEnv("POSTGRES_HOST", "localhost"),
				Port:           getEnv("POSTGRES_PORT", "5432"),
				Database:       getEnv("POSTGRES_DB", "incident_sync"),
				User:           getEnv("POSTGRES_USER", "sync"),
				Password:       getEnv("POSTGRES_PASSWORD", ""),
				SSLMode:        getEnv("POSTGRES_SSLMODE", "disable"),
				MaxConnections: getEnvAsInt("POSTGRES_MAX_CONNECTIONS", 20),
			},
			ClickHouse: ClickHouseConfig{
				Enabled:  getEnvAsBool("CLICKHOUSE_ENABLED", false),
				Host:     getEnv("CLICKHOUSE_HOST", "localhost"),
				Port:     getEnv("CLICKHOUSE_PORT", "9000"),
				Database: getEnv("CLICKHOUSE_DB", "incident_sync"),
				User:     getEnv("CLICKHOUSE_USER", "default"),
				Password: getEnv("CLICKHOUSE_PASSWORD", ""),
			},
			Redis: RedisConfig{
				Host:           getEnv("REDIS_HOST", "localhost"),
				Port:           getEnv("REDIS_PORT", "6379"),
				Password:       getEnv("REDIS_PASSWORD", ""),
				DB:             getEnvAsInt("REDIS_DB", 0),
				MaxConnections: getEnvAsInt("REDIS_MAX_CONNECTIONS", 50),
			},
		},
		Upstream: UpstreamConfig{
			BaseURL:            strings.TrimRight(getEnv("SIGAE_API_URL", ""), "/"),
			IP:                 getEnv("SIGAE_IP", ""),
			Username:           getEnv("SIGAE_USER", ""),
			Password:           getEnv("SIGAE_PASSWORD", ""),
			SystemCode:         getEnv("SIGAE_COD_SYS", ""),
			Timeout:            getEnvAsDuration("UPSTREAM_TIMEOUT", 30*time.Second),
			RateLimit:          getEnvAsFloat("UPSTREAM_RATE_LIMIT", 5),
			RateBurst:          getEnvAsInt("UPSTREAM_RATE_BURST", 5),
			Timezone:           getEnv("UPSTREAM_TIMEZONE", "America/Costa_Rica"),
			BreakerMaxFailures: getEnvAsInt("UPSTREAM_BREAKER_MAX_FAILURES", 10),
			BreakerTimeout:     getEnvAsDuration("UPSTREAM_BREAKER_TIMEOUT", 30*time.Second),
		},
		Queue: QueueConfig{
			KeyPrefix:       getEnv("QUEUE_KEY_PREFIX", "sync"),
			LeaseDuration:   getEnvAsDuration("QUEUE_LEASE_DURATION", 15*time.Minute),
			PollInterval:    getEnvAsDuration("QUEUE_POLL_INTERVAL", time.Second),
			MaxIdleInterval: getEnvAsDuration("QUEUE_MAX_IDLE_INTERVAL", 10*time.Second),
			ReaperInterval:  getEnvAsDuration("QUEUE_REAPER_INTERVAL", 30*time.Second),
			ShutdownTimeout: getEnvAsDuration("QUEUE_SHUTDOWN_TIMEOUT", 30*time.Second),
			PolicyFile:      getEnv("QUEUE_POLICY_FILE", ""),
			SchedulerEnable: getEnvAsBool("QUEUE_SCHEDULER_ENABLED", true),
		},
		Discovery: DiscoveryConfig{
			LatestCount: getEnvAsInt("DISCOVERY_LATEST_COUNT", 15),
			OpenLimit:   getEnvAsInt("DISCOVERY_OPEN_LIMIT", 500),
			CloseAfter:  getEnvAsDuration("DISCOVERY_CLOSE_AFTER", 72*time.Hour),
		},
		Logging: LoggingConfig{
			Level:  getEnv("LOG_LEVEL", "info"),
			Format: getEnv("LOG_FORMAT", "json"),
		},
	}

	return config, nil
}

// Validate checks the settings the pipeline cannot start without.
func (c *Config) Validate() error {
	var missing []string
	if c.Upstream.BaseURL == "" {
		missing = append(missing, "SIGAE_API_URL")
	}
	if c.Upstream.IP == "" {
		missing = append(missing, "SIGAE_IP")
	}
	if c.Upstream.Username == "" {
		missing = append(missing, "SIGAE_USER")
	}
	if c.Upstream.Password == "" {
		missing = append(missing, "SIGAE_PASSWORD")
	}
	if c.Upstream.SystemCode == "" {
		missing = append(missing, "SIGAE_COD_SYS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required configuration: %s", strings.Join(missing, ", "))
	}

	if _, err := url.ParseRequestURI(c.Upstream.BaseURL); err != nil {
		return fmt.Errorf("invalid SIGAE_API_URL: %w", err)
	}
	if _, err := time.LoadLocation(c.Upstream.Timezone); err != nil {
		return fmt.Errorf("invalid UPSTREAM_TIMEZONE: %w", err)
	}
	if c.Upstream.RateLimit <= 0 || c.Upstream.RateBurst < 1 {
		return fmt.Errorf("upstream rate limit must be positive (got %v/s burst %d)", c.Upstream.RateLimit, c.Upstream.RateBurst)
	}
	if c.Queue.LeaseDuration < 3*time.Second {
		return fmt.Errorf("QUEUE_LEASE_DURATION must be at least 3s, got %s", c.Queue.LeaseDuration)
	}
	if c.Queue.PollInterval <= 0 || c.Queue.MaxIdleInterval < c.Queue.PollInterval {
		return fmt.Errorf("QUEUE_MAX_IDLE_INTERVAL (%s) must be >= QUEUE_POLL_INTERVAL (%s) > 0",
			c.Queue.MaxIdleInterval, c.Queue.PollInterval)
	}
	if c.Queue.ReaperInterval <= 0 {
		return fmt.Errorf("QUEUE_REAPER_INTERVAL must be positive")
	}
	if c.Discovery.LatestCount < 1 {
		return fmt.Errorf("DISCOVERY_LATEST_COUNT must be at least 1")
	}
	return nil
}

// getEnv gets an environment variable with a default value
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as an integer with a default value
func getEnvAsInt(key string, defaultValue int) int {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.Atoi(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsFloat(key string, defaultValue float64) float64 {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseFloat(valueStr, 64)
	if err != nil {
		return defaultValue
	}
	return value
}

func getEnvAsBool(key string, defaultValue bool) bool {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := strconv.ParseBool(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}

// getEnvAsDuration gets an environment variable as a duration with a default value
func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	valueStr := getEnv(key, "")
	if valueStr == "" {
		return defaultValue
	}

	value, err := time.ParseDuration(valueStr)
	if err != nil {
		return defaultValue
	}
	return value
}
