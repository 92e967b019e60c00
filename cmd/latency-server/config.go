package main

import (
	"fmt"
	"os"
	"strconv"
	"time"

	"gopkg.in/yaml.v3"

	"github.com/mandelmonkey/latency-test/internal/session"
)

// Config is the full runtime configuration. Values come from defaults,
// then an optional YAML file, then environment overrides, in that order.
type Config struct {
	Region   string
	Port     string
	LogLevel string

	// Storage selects the repository backend: "postgres" or "memory".
	Storage string

	TotalIterations   int
	CloseThresholdMs  int64
	SessionExpiration time.Duration
	SweepInterval     time.Duration
	ClosestCacheTTL   time.Duration

	// NATSURL enables completion-event publishing when non-empty.
	NATSURL string

	Database DatabaseConfig
}

// DatabaseConfig holds Postgres connection settings.
type DatabaseConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// DSN returns the Postgres connection URL.
func (c DatabaseConfig) DSN() string {
	return fmt.Sprintf(
		"postgres://%s:%s@%s:%d/%s?sslmode=%s",
		c.User, c.Password, c.Host, c.Port, c.Database, c.SSLMode,
	)
}

// fileConfig mirrors Config for the YAML file; durations are strings in
// time.ParseDuration form.
type fileConfig struct {
	Region            string `yaml:"region"`
	Port              string `yaml:"port"`
	LogLevel          string `yaml:"log_level"`
	Storage           string `yaml:"storage"`
	TotalIterations   int    `yaml:"total_iterations"`
	CloseThresholdMs  int64  `yaml:"close_threshold_ms"`
	SessionExpiration string `yaml:"session_expiration"`
	SweepInterval     string `yaml:"sweep_interval"`
	ClosestCacheTTL   string `yaml:"closest_cache_ttl"`
	NATSURL           string `yaml:"nats_url"`
}

func defaultConfig() Config {
	sessionDefaults := session.DefaultConfig()
	return Config{
		Region:            "local",
		Port:              "8080",
		LogLevel:          "info",
		Storage:           "postgres",
		TotalIterations:   5,
		CloseThresholdMs:  150,
		SessionExpiration: sessionDefaults.Expiration,
		SweepInterval:     sessionDefaults.SweepInterval,
		ClosestCacheTTL:   10 * time.Second,
		Database: DatabaseConfig{
			Host:     "localhost",
			Port:     5432,
			User:     "postgres",
			Password: "postgres",
			Database: "latency",
			SSLMode:  "disable",
		},
	}
}

// loadConfig assembles the runtime configuration. path may be empty, in
// which case only defaults and environment apply.
func loadConfig(path string) (*Config, error) {
	config := defaultConfig()

	if path != "" {
		if err := applyFile(&config, path); err != nil {
			return nil, err
		}
	}
	applyEnv(&config)

	if config.Region == "" {
		return nil, fmt.Errorf("region must be configured")
	}
	if config.TotalIterations <= 0 {
		return nil, fmt.Errorf("total_iterations must be positive, got %d", config.TotalIterations)
	}
	if config.Storage != "postgres" && config.Storage != "memory" {
		return nil, fmt.Errorf("unknown storage backend %q", config.Storage)
	}

	return &config, nil
}

func applyFile(config *Config, path string) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read config file: %w", err)
	}

	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return fmt.Errorf("failed to parse config: %w", err)
	}

	if fc.Region != "" {
		config.Region = fc.Region
	}
	if fc.Port != "" {
		config.Port = fc.Port
	}
	if fc.LogLevel != "" {
		config.LogLevel = fc.LogLevel
	}
	if fc.Storage != "" {
		config.Storage = fc.Storage
	}
	if fc.TotalIterations > 0 {
		config.TotalIterations = fc.TotalIterations
	}
	if fc.CloseThresholdMs > 0 {
		config.CloseThresholdMs = fc.CloseThresholdMs
	}
	if fc.NATSURL != "" {
		config.NATSURL = fc.NATSURL
	}

	for _, d := range []struct {
		raw  string
		dst  *time.Duration
		name string
	}{
		{fc.SessionExpiration, &config.SessionExpiration, "session_expiration"},
		{fc.SweepInterval, &config.SweepInterval, "sweep_interval"},
		{fc.ClosestCacheTTL, &config.ClosestCacheTTL, "closest_cache_ttl"},
	} {
		if d.raw == "" {
			continue
		}
		parsed, err := time.ParseDuration(d.raw)
		if err != nil {
			return fmt.Errorf("failed to parse %s: %w", d.name, err)
		}
		*d.dst = parsed
	}

	return nil
}

func applyEnv(config *Config) {
	config.Region = getEnv("REGION", config.Region)
	config.Port = getEnv("PORT", config.Port)
	config.LogLevel = getEnv("LOG_LEVEL", config.LogLevel)
	config.Storage = getEnv("STORAGE", config.Storage)
	config.TotalIterations = getEnvAsInt("TOTAL_ITERATIONS", config.TotalIterations)
	config.CloseThresholdMs = int64(getEnvAsInt("CLOSE_THRESHOLD_MS", int(config.CloseThresholdMs)))
	config.SessionExpiration = getEnvAsDuration("SESSION_EXPIRATION", config.SessionExpiration)
	config.SweepInterval = getEnvAsDuration("SWEEP_INTERVAL", config.SweepInterval)
	config.ClosestCacheTTL = getEnvAsDuration("CLOSEST_CACHE_TTL", config.ClosestCacheTTL)
	config.NATSURL = getEnv("NATS_URL", config.NATSURL)

	config.Database.Host = getEnv("DB_HOST", config.Database.Host)
	config.Database.Port = getEnvAsInt("DB_PORT", config.Database.Port)
	config.Database.User = getEnv("DB_USER", config.Database.User)
	config.Database.Password = getEnv("DB_PASSWORD", config.Database.Password)
	config.Database.Database = getEnv("DB_NAME", config.Database.Database)
	config.Database.SSLMode = getEnv("DB_SSLMODE", config.Database.SSLMode)
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvAsInt(key string, defaultValue int) int {
	if value := os.Getenv(key); value != "" {
		if intValue, err := strconv.Atoi(value); err == nil {
			return intValue
		}
	}
	return defaultValue
}

func getEnvAsDuration(key string, defaultValue time.Duration) time.Duration {
	if value := os.Getenv(key); value != "" {
		if d, err := time.ParseDuration(value); err == nil {
			return d
		}
	}
	return defaultValue
}
