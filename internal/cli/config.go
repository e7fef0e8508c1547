package cli

import (
	"errors"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
)

// Config holds the CLI's store and engine settings.
type Config struct {
	Backend string `koanf:"backend"`

	RedisAddr     string `koanf:"redis_addr"`
	RedisPassword string `koanf:"redis_password"`
	RedisDB       int    `koanf:"redis_db"`
	RedisPrefix   string `koanf:"redis_prefix"`

	MaxAttempts             int           `koanf:"max_attempts"`
	ReconcileDelay          time.Duration `koanf:"reconcile_delay"`
	RetroactiveWatchPercent int           `koanf:"retroactive_watch_percent"`
	LogLevel                string        `koanf:"log_level"`
}

// Supported backends.
const (
	BackendRedis  = "redis"
	BackendMemory = "memory"
)

// Default values.
const (
	DefaultBackend                 = BackendRedis
	DefaultRedisAddr               = "localhost:6379"
	DefaultRedisPrefix             = "watchledger"
	DefaultMaxAttempts             = 10
	DefaultReconcileDelay          = 100 * time.Millisecond
	DefaultRetroactiveWatchPercent = 60
	DefaultLogLevel                = "info"
)

// Configuration validation errors.
var (
	ErrUnknownBackend     = errors.New("WATCHLEDGER_BACKEND must be redis or memory")
	ErrMissingRedisAddr   = errors.New("WATCHLEDGER_REDIS_ADDR is required for the redis backend")
	ErrInvalidPercent     = errors.New("WATCHLEDGER_RETROACTIVE_WATCH_PERCENT must be between 1 and 100")
	ErrInvalidMaxAttempts = errors.New("WATCHLEDGER_MAX_ATTEMPTS must be positive")
	ErrInvalidNumber      = errors.New("must be a valid integer")
)

// LoadConfig reads an optional YAML file and then WATCHLEDGER_* environment
// variables. Environment variables take precedence over file values.
func LoadConfig(configFilePath string) (*Config, []error) {
	k := koanf.New(".")
	var loadErrs []error

	if configFilePath != "" {
		if err := k.Load(file.Provider(configFilePath), yaml.Parser()); err != nil {
			return nil, []error{fmt.Errorf("failed to load config file %s: %w", configFilePath, err)}
		}
	}

	redisDB, err := getEnvIntOrDefault("WATCHLEDGER_REDIS_DB", k.Int("redis_db"), 0)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	maxAttempts, err := getEnvIntOrDefault("WATCHLEDGER_MAX_ATTEMPTS", k.Int("max_attempts"), DefaultMaxAttempts)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	percent, err := getEnvIntOrDefault("WATCHLEDGER_RETROACTIVE_WATCH_PERCENT", k.Int("retroactive_watch_percent"), DefaultRetroactiveWatchPercent)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}
	delay, err := getEnvDurationOrDefault("WATCHLEDGER_RECONCILE_DELAY", k.Duration("reconcile_delay"), DefaultReconcileDelay)
	if err != nil {
		loadErrs = append(loadErrs, err)
	}

	cfg := &Config{
		Backend:                 getEnvOrDefault("WATCHLEDGER_BACKEND", k.String("backend"), DefaultBackend),
		RedisAddr:               getEnvOrDefault("WATCHLEDGER_REDIS_ADDR", k.String("redis_addr"), DefaultRedisAddr),
		RedisPassword:           getEnvOrKoanf("WATCHLEDGER_REDIS_PASSWORD", k, "redis_password"),
		RedisDB:                 redisDB,
		RedisPrefix:             getEnvOrDefault("WATCHLEDGER_REDIS_PREFIX", k.String("redis_prefix"), DefaultRedisPrefix),
		MaxAttempts:             maxAttempts,
		ReconcileDelay:          delay,
		RetroactiveWatchPercent: percent,
		LogLevel:                getEnvOrDefault("WATCHLEDGER_LOG_LEVEL", k.String("log_level"), DefaultLogLevel),
	}

	errs := cfg.Validate()
	return cfg, append(loadErrs, errs...)
}

// Validate checks the loaded values. Returns an empty slice when valid.
func (c *Config) Validate() []error {
	var errs []error

	switch c.Backend {
	case BackendRedis:
		if c.RedisAddr == "" {
			errs = append(errs, ErrMissingRedisAddr)
		}
	case BackendMemory:
	default:
		errs = append(errs, ErrUnknownBackend)
	}
	if c.RetroactiveWatchPercent < 1 || c.RetroactiveWatchPercent > 100 {
		errs = append(errs, ErrInvalidPercent)
	}
	if c.MaxAttempts < 1 {
		errs = append(errs, ErrInvalidMaxAttempts)
	}
	return errs
}

// LogSummary returns the configuration with the Redis password masked.
func (c *Config) LogSummary() map[string]string {
	password := ""
	if c.RedisPassword != "" {
		password = "****"
	}
	return map[string]string{
		"backend":                   c.Backend,
		"redis_addr":                c.RedisAddr,
		"redis_password":            password,
		"redis_db":                  strconv.Itoa(c.RedisDB),
		"redis_prefix":              c.RedisPrefix,
		"max_attempts":              strconv.Itoa(c.MaxAttempts),
		"reconcile_delay":           c.ReconcileDelay.String(),
		"retroactive_watch_percent": strconv.Itoa(c.RetroactiveWatchPercent),
		"log_level":                 c.LogLevel,
	}
}

// getEnvOrKoanf returns the environment variable value if set, otherwise the koanf value.
func getEnvOrKoanf(envKey string, k *koanf.Koanf, koanfKey string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	return k.String(koanfKey)
}

// getEnvOrDefault returns the environment variable value if set, otherwise the koanf value, or default.
func getEnvOrDefault(envKey, koanfVal, defaultVal string) string {
	if val := os.Getenv(envKey); val != "" {
		return val
	}
	if koanfVal != "" {
		return koanfVal
	}
	return defaultVal
}

// getEnvIntOrDefault returns the environment variable as int if set, otherwise the koanf value, or default.
func getEnvIntOrDefault(envKey string, koanfVal, defaultVal int) (int, error) {
	if val := os.Getenv(envKey); val != "" {
		i, err := strconv.Atoi(val)
		if err != nil {
			return 0, fmt.Errorf("%s %w", envKey, ErrInvalidNumber)
		}
		return i, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}

// getEnvDurationOrDefault parses a Go duration string such as "250ms".
func getEnvDurationOrDefault(envKey string, koanfVal, defaultVal time.Duration) (time.Duration, error) {
	if val := os.Getenv(envKey); val != "" {
		d, err := time.ParseDuration(val)
		if err != nil {
			return 0, fmt.Errorf("%s must be a valid duration: %w", envKey, err)
		}
		return d, nil
	}
	if koanfVal != 0 {
		return koanfVal, nil
	}
	return defaultVal, nil
}
