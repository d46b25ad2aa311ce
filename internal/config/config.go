package config

import (
	"errors"
	"fmt"
	"log/slog"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config holds all configuration for the application.
type Config struct {
	Port        string `yaml:"port"`
	DatabaseURL string `yaml:"database_url"`
	RedisURL    string `yaml:"redis_url"`
	LogLevel    string `yaml:"log_level"`

	NumWorkers int `yaml:"num_workers"`
	QueueSize  int `yaml:"queue_size"`

	FailureThreshold     int           `yaml:"failure_threshold"`
	DefaultTimeout       time.Duration `yaml:"default_timeout"`
	MinTimeout           time.Duration `yaml:"min_timeout"`
	MaxTimeout           time.Duration `yaml:"max_timeout"`
	DefaultRetryAttempts int           `yaml:"default_retry_attempts"`
	MaxRetryAttempts     int           `yaml:"max_retry_attempts"`
	BackoffBase          time.Duration `yaml:"backoff_base"`
	BackoffMax           time.Duration `yaml:"backoff_max"`
	ThrottleDelay        time.Duration `yaml:"throttle_delay"`

	ShutdownTimeout time.Duration `yaml:"shutdown_timeout"`
}

func defaults() Config {
	return Config{
		Port:                 "8080",
		LogLevel:             "info",
		NumWorkers:           50,
		QueueSize:            1000,
		FailureThreshold:     10,
		DefaultTimeout:       10 * time.Second,
		MinTimeout:           time.Second,
		MaxTimeout:           60 * time.Second,
		DefaultRetryAttempts: 3,
		MaxRetryAttempts:     10,
		BackoffBase:          time.Second,
		BackoffMax:           30 * time.Second,
		ThrottleDelay:        250 * time.Millisecond,
		ShutdownTimeout:      30 * time.Second,
	}
}

// Load builds the configuration from defaults, then the YAML file named by
// CONFIG_FILE if set, then environment variables.
func Load() (*Config, error) {
	cfg := defaults()

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := loadFile(path, &cfg); err != nil {
			return nil, err
		}
	}

	cfg.Port = getEnv("PORT", cfg.Port)
	cfg.DatabaseURL = getEnv("DATABASE_URL", cfg.DatabaseURL)
	cfg.RedisURL = getEnv("REDIS_URL", cfg.RedisURL)
	cfg.LogLevel = getEnv("LOG_LEVEL", cfg.LogLevel)
	cfg.NumWorkers = getEnvInt("NUM_WORKERS", cfg.NumWorkers)
	cfg.QueueSize = getEnvInt("QUEUE_SIZE", cfg.QueueSize)
	cfg.FailureThreshold = getEnvInt("FAILURE_THRESHOLD", cfg.FailureThreshold)
	cfg.DefaultTimeout = getEnvDuration("DEFAULT_TIMEOUT", cfg.DefaultTimeout)
	cfg.MinTimeout = getEnvDuration("MIN_TIMEOUT", cfg.MinTimeout)
	cfg.MaxTimeout = getEnvDuration("MAX_TIMEOUT", cfg.MaxTimeout)
	cfg.DefaultRetryAttempts = getEnvInt("DEFAULT_RETRY_ATTEMPTS", cfg.DefaultRetryAttempts)
	cfg.MaxRetryAttempts = getEnvInt("MAX_RETRY_ATTEMPTS", cfg.MaxRetryAttempts)
	cfg.BackoffBase = getEnvDuration("BACKOFF_BASE", cfg.BackoffBase)
	cfg.BackoffMax = getEnvDuration("BACKOFF_MAX", cfg.BackoffMax)
	cfg.ThrottleDelay = getEnvDuration("THROTTLE_DELAY", cfg.ThrottleDelay)
	cfg.ShutdownTimeout = getEnvDuration("SHUTDOWN_TIMEOUT", cfg.ShutdownTimeout)

	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func loadFile(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("reading config file: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("parsing config file %s: %w", path, err)
	}
	return nil
}

// Validate checks required values and bounds.
func (c *Config) Validate() error {
	var errs []error

	if c.DatabaseURL == "" {
		errs = append(errs, errors.New("DATABASE_URL is required"))
	}
	if c.NumWorkers < 1 {
		errs = append(errs, errors.New("NUM_WORKERS must be at least 1"))
	}
	if c.QueueSize < 1 {
		errs = append(errs, errors.New("QUEUE_SIZE must be at least 1"))
	}
	if c.FailureThreshold < 1 {
		errs = append(errs, errors.New("FAILURE_THRESHOLD must be at least 1"))
	}
	if c.MinTimeout <= 0 || c.MaxTimeout < c.MinTimeout {
		errs = append(errs, fmt.Errorf("timeout bounds %s..%s are invalid", c.MinTimeout, c.MaxTimeout))
	} else if c.DefaultTimeout < c.MinTimeout || c.DefaultTimeout > c.MaxTimeout {
		errs = append(errs, fmt.Errorf("DEFAULT_TIMEOUT %s is outside %s..%s", c.DefaultTimeout, c.MinTimeout, c.MaxTimeout))
	}
	if c.MaxRetryAttempts < 0 || c.DefaultRetryAttempts < 0 || c.DefaultRetryAttempts > c.MaxRetryAttempts {
		errs = append(errs, fmt.Errorf("DEFAULT_RETRY_ATTEMPTS %d must be within 0..%d", c.DefaultRetryAttempts, c.MaxRetryAttempts))
	}
	if c.BackoffBase <= 0 || c.BackoffMax < c.BackoffBase {
		errs = append(errs, fmt.Errorf("backoff bounds %s..%s are invalid", c.BackoffBase, c.BackoffMax))
	}
	if _, err := ParseLogLevel(c.LogLevel); err != nil {
		errs = append(errs, err)
	}

	return errors.Join(errs...)
}

// ParseLogLevel maps a LOG_LEVEL value to a slog level.
func ParseLogLevel(s string) (slog.Level, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return slog.LevelInfo, fmt.Errorf("LOG_LEVEL %q is invalid", s)
	}
	return level, nil
}

func getEnv(key, fallback string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return fallback
}

func getEnvInt(key string, fallback int) int {
	if val := os.Getenv(key); val != "" {
		n, err := strconv.Atoi(val)
		if err == nil {
			return n
		}
	}
	return fallback
}

// getEnvDuration accepts Go durations ("10s") or plain milliseconds.
func getEnvDuration(key string, fallback time.Duration) time.Duration {
	val := os.Getenv(key)
	if val == "" {
		return fallback
	}
	if d, err := time.ParseDuration(val); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(val); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return fallback
}
