// Package config holds worker settings loaded from YAML, a .env file and
// the process environment, in that order of increasing precedence.
package config

import (
	"fmt"
	"strings"
	"time"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/filing"
	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// StoreConfig selects the backing store.
type StoreConfig struct {
	Driver string `yaml:"driver"` // memory, sqlite or postgres
	DSN    string `yaml:"dsn"`
}

// ArchiveConfig selects where raw documents are archived.
type ArchiveConfig struct {
	Kind     string `yaml:"kind"` // "", fs, s3 or gcs
	Dir      string `yaml:"dir"`
	Bucket   string `yaml:"bucket"`
	Region   string `yaml:"region"`
	Endpoint string `yaml:"endpoint"`
	Prefix   string `yaml:"prefix"`
}

// RedisConfig enables the shared entity lock when Addr is set.
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db"`
}

// Config is the full worker configuration.
type Config struct {
	YearWindowSpec     string        `yaml:"year_window"`
	ScanIntervalMin    int           `yaml:"scan_interval_min"`
	MaxConcurrency     int           `yaml:"max_concurrency"`
	ThrottleMS         int           `yaml:"throttle_ms"`
	UserAgent          string        `yaml:"user_agent"`
	ClerkBaseURL       string        `yaml:"clerk_base_url"`
	LogLevel           string        `yaml:"log_level"`
	LogFormat          string        `yaml:"log_format"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoffFactor float64       `yaml:"retry_backoff_factor"`
	HealthCheckPort    int           `yaml:"health_check_port"`
	BatchSize          int           `yaml:"batch_size"`
	TableThreshold     int           `yaml:"table_threshold"`
	OTLPEndpoint       string        `yaml:"otlp_endpoint"`
	Store              StoreConfig   `yaml:"store"`
	Archive            ArchiveConfig `yaml:"archive"`
	Redis              RedisConfig   `yaml:"redis"`
}

// Default returns the built-in settings.
func Default() Config {
	return Config{
		YearWindowSpec:     "2023-2025",
		ScanIntervalMin:    15,
		MaxConcurrency:     5,
		ThrottleMS:         1000,
		UserAgent:          "PTRWatch-Worker/1.0",
		ClerkBaseURL:       "https://disclosures-clerk.house.gov",
		LogLevel:           "INFO",
		LogFormat:          "json",
		MaxRetries:         3,
		RetryBackoffFactor: 2,
		HealthCheckPort:    8080,
		BatchSize:          50,
		TableThreshold:     3,
		Store:              StoreConfig{Driver: "sqlite", DSN: "ptrwatch.db"},
		Archive:            ArchiveConfig{Bucket: "ptr-archive", Prefix: "ptr"},
	}
}

// Validate checks ranges and enumerations.
func (c Config) Validate() error {
	var problems []string
	check := func(ok bool, format string, args ...any) {
		if !ok {
			problems = append(problems, fmt.Sprintf(format, args...))
		}
	}

	if _, err := c.YearWindow(); err != nil {
		problems = append(problems, err.Error())
	}
	check(c.ScanIntervalMin > 0, "scan interval must be positive, got %d", c.ScanIntervalMin)
	check(c.MaxConcurrency > 0, "max concurrency must be positive, got %d", c.MaxConcurrency)
	check(c.ThrottleMS >= 0, "throttle must not be negative, got %d", c.ThrottleMS)
	check(c.MaxRetries >= 0, "max retries must not be negative, got %d", c.MaxRetries)
	check(c.RetryBackoffFactor >= 1, "retry backoff factor must be at least 1, got %g", c.RetryBackoffFactor)
	check(c.HealthCheckPort > 0 && c.HealthCheckPort < 65536, "health check port out of range: %d", c.HealthCheckPort)
	check(c.BatchSize > 0, "batch size must be positive, got %d", c.BatchSize)
	check(c.TableThreshold > 0, "table threshold must be positive, got %d", c.TableThreshold)
	check(c.ClerkBaseURL != "", "clerk base url is required")

	switch strings.ToLower(c.LogLevel) {
	case "debug", "info", "warn", "warning", "error":
	default:
		problems = append(problems, fmt.Sprintf("unknown log level %q", c.LogLevel))
	}

	switch c.Store.Driver {
	case "memory":
	case "sqlite", "postgres":
		check(c.Store.DSN != "", "store driver %s needs a dsn", c.Store.Driver)
	default:
		problems = append(problems, fmt.Sprintf("unknown store driver %q", c.Store.Driver))
	}

	switch c.Archive.Kind {
	case "":
	case "fs":
		check(c.Archive.Dir != "", "fs archive needs a directory")
	case "s3", "gcs":
		check(c.Archive.Bucket != "", "%s archive needs a bucket", c.Archive.Kind)
	default:
		problems = append(problems, fmt.Sprintf("unknown archive kind %q", c.Archive.Kind))
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %s", internalerr.ErrInvalidConfig, strings.Join(problems, "; "))
	}
	return nil
}

// YearWindow parses YearWindowSpec.
func (c Config) YearWindow() (filing.YearRange, error) {
	return filing.ParseYearRange(c.YearWindowSpec)
}

// ScanInterval is the full-ingestion period.
func (c Config) ScanInterval() time.Duration {
	return time.Duration(c.ScanIntervalMin) * time.Minute
}

// DiscoveryInterval is half the scan interval, but never under 30 minutes.
func (c Config) DiscoveryInterval() time.Duration {
	return max(30*time.Minute, c.ScanInterval()/2)
}

// Throttle is the minimum delay between requests to the clerk site.
func (c Config) Throttle() time.Duration {
	return time.Duration(c.ThrottleMS) * time.Millisecond
}

// HealthAddr is the listen address of the health server.
func (c Config) HealthAddr() string {
	return fmt.Sprintf(":%d", c.HealthCheckPort)
}
