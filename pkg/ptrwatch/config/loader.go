package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"

	"github.com/cognicore/ptrwatch/pkg/ptrwatch/internalerr"
)

// Loader locates the configuration sources. Empty paths are skipped,
// except EnvPath which falls back to ".env" in the working directory.
type Loader struct {
	ConfigPath string
	EnvPath    string
	// Lookup reads the environment; os.LookupEnv when nil.
	Lookup func(string) (string, bool)
}

// Load applies defaults, the YAML file, the env file and the environment,
// then validates the result.
func (l Loader) Load() (Config, error) {
	cfg := Default()

	if l.ConfigPath != "" {
		if err := loadYAML(l.ConfigPath, &cfg); err != nil {
			return Config{}, err
		}
	}

	envPath := l.EnvPath
	if envPath == "" {
		envPath = ".env"
	}
	if err := godotenv.Load(envPath); err != nil {
		// Only an explicitly requested env file must exist.
		if l.EnvPath != "" || !errors.Is(err, fs.ErrNotExist) {
			return Config{}, fmt.Errorf("load env file %s: %w", envPath, err)
		}
	}

	lookup := l.Lookup
	if lookup == nil {
		lookup = os.LookupEnv
	}
	if err := ApplyEnv(&cfg, lookup); err != nil {
		return Config{}, err
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// LoadFile reads a YAML file over the defaults without validating.
func LoadFile(path string) (Config, error) {
	cfg := Default()
	if err := loadYAML(path, &cfg); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

func loadYAML(path string, cfg *Config) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return fmt.Errorf("%w: parse %s: %v", internalerr.ErrInvalidConfig, path, err)
	}
	return nil
}

// ApplyEnv overrides cfg with every variable lookup finds.
func ApplyEnv(cfg *Config, lookup func(string) (string, bool)) error {
	e := envReader{lookup: lookup}

	e.str("HOUSE_YEAR_WINDOW", &cfg.YearWindowSpec)
	e.int("SCAN_INTERVAL_MIN", &cfg.ScanIntervalMin)
	e.int("MAX_CONCURRENCY", &cfg.MaxConcurrency)
	e.int("THROTTLE_MS", &cfg.ThrottleMS)
	e.str("USER_AGENT", &cfg.UserAgent)
	e.str("CLERK_BASE_URL", &cfg.ClerkBaseURL)
	e.str("LOG_LEVEL", &cfg.LogLevel)
	e.str("LOG_FORMAT", &cfg.LogFormat)
	e.int("MAX_RETRIES", &cfg.MaxRetries)
	e.float("RETRY_BACKOFF_FACTOR", &cfg.RetryBackoffFactor)
	e.int("HEALTH_CHECK_PORT", &cfg.HealthCheckPort)
	e.int("BATCH_SIZE", &cfg.BatchSize)
	e.int("TABLE_THRESHOLD", &cfg.TableThreshold)
	e.str("OTEL_EXPORTER_OTLP_ENDPOINT", &cfg.OTLPEndpoint)

	e.str("STORE_DRIVER", &cfg.Store.Driver)
	e.str("STORE_DSN", &cfg.Store.DSN)

	e.str("STORAGE_BUCKET", &cfg.Archive.Bucket)
	e.str("ARCHIVE_KIND", &cfg.Archive.Kind)
	e.str("ARCHIVE_DIR", &cfg.Archive.Dir)
	e.str("ARCHIVE_REGION", &cfg.Archive.Region)
	e.str("ARCHIVE_ENDPOINT", &cfg.Archive.Endpoint)
	e.str("ARCHIVE_PREFIX", &cfg.Archive.Prefix)

	e.str("REDIS_ADDR", &cfg.Redis.Addr)
	e.str("REDIS_PASSWORD", &cfg.Redis.Password)
	e.int("REDIS_DB", &cfg.Redis.DB)

	if len(e.errs) > 0 {
		return fmt.Errorf("%w: %w", internalerr.ErrInvalidConfig, errors.Join(e.errs...))
	}
	return nil
}

type envReader struct {
	lookup func(string) (string, bool)
	errs   []error
}

func (e *envReader) str(key string, dst *string) {
	if v, ok := e.lookup(key); ok && v != "" {
		*dst = v
	}
}

func (e *envReader) int(key string, dst *int) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q is not an integer", key, v))
		return
	}
	*dst = n
}

func (e *envReader) float(key string, dst *float64) {
	v, ok := e.lookup(key)
	if !ok || v == "" {
		return
	}
	f, err := strconv.ParseFloat(v, 64)
	if err != nil {
		e.errs = append(e.errs, fmt.Errorf("%s=%q is not a number", key, v))
		return
	}
	*dst = f
}
