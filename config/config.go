package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// MinRefreshInterval is the shortest allowed period between scheduler cycles.
const MinRefreshInterval = 60 * time.Second

// Config holds service configuration.
type Config struct {
	AppName     string `yaml:"app_name"`
	Environment string `yaml:"environment"`
	HTTPAddr    string `yaml:"http_addr"`
	APIPrefix   string `yaml:"api_prefix"`
	MetricsAddr string `yaml:"metrics_addr"`

	Timeout        time.Duration `yaml:"timeout"`
	UserAgent      string        `yaml:"user_agent"`
	MaxConnections int           `yaml:"max_connections"`

	RefreshInterval time.Duration `yaml:"refresh_interval"`

	RateLimitRequests int           `yaml:"rate_limit_requests"`
	RateLimitWindow   time.Duration `yaml:"rate_limit_window"`

	TelemetryEndpoint   string `yaml:"telemetry_endpoint"`
	TelemetryBufferSize int    `yaml:"telemetry_buffer_size"`

	APIKeys        []string `yaml:"api_keys"`
	AllowedOrigins []string `yaml:"allowed_origins"`

	StoreDriver      string `yaml:"store_driver"` // sqlite or postgres
	DatabaseURL      string `yaml:"database_url"`
	DatabaseMaxConns int    `yaml:"database_max_conns"`

	RedisURL       string        `yaml:"redis_url"`
	QueryCacheTTL  time.Duration `yaml:"query_cache_ttl"`
	QueryCacheSize int           `yaml:"query_cache_size"`

	Verbose bool `yaml:"verbose"`
}

// DefaultConfig returns defaults suitable for local development.
func DefaultConfig() *Config {
	return &Config{
		AppName:             "Dispatch",
		Environment:         "development",
		HTTPAddr:            ":8000",
		APIPrefix:           "/api/v1",
		MetricsAddr:         ":9090",
		Timeout:             10 * time.Second,
		UserAgent:           "Mozilla/5.0 (Macintosh; Intel Mac OS X 10_15_7) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/120.0.0.0 Safari/537.36",
		MaxConnections:      10,
		RefreshInterval:     15 * time.Minute,
		RateLimitRequests:   60,
		RateLimitWindow:     60 * time.Second,
		TelemetryBufferSize: 10000,
		AllowedOrigins:      []string{"*"},
		StoreDriver:         "sqlite",
		DatabaseURL:         "dispatch.db",
		DatabaseMaxConns:    10,
		QueryCacheTTL:       30 * time.Second,
		QueryCacheSize:      256,
	}
}

// Load builds a configuration from defaults, an optional YAML file, a .env
// file in the working directory and DISPATCH_* environment variables, in
// that order of precedence.
func Load(path string) (*Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		raw, err := os.ReadFile(path)
		if err != nil {
			return nil, fmt.Errorf("read config file: %w", err)
		}
		if err := yaml.Unmarshal(raw, cfg); err != nil {
			return nil, fmt.Errorf("parse config file: %w", err)
		}
	}

	if err := godotenv.Load(); err != nil && !errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("load .env: %w", err)
	}

	if err := cfg.applyEnv(); err != nil {
		return nil, err
	}
	return cfg, nil
}

func (c *Config) applyEnv() error {
	if v, ok := EnvString("DISPATCH_APP_NAME"); ok {
		c.AppName = v
	}
	if v, ok := EnvString("DISPATCH_ENVIRONMENT"); ok {
		c.Environment = v
	}
	if v, ok := EnvString("DISPATCH_HTTP_ADDR"); ok {
		c.HTTPAddr = v
	}
	if v, ok := EnvString("DISPATCH_API_PREFIX"); ok {
		c.APIPrefix = v
	}
	if v, ok := EnvString("DISPATCH_METRICS_ADDR"); ok {
		c.MetricsAddr = v
	}
	if v, ok := EnvString("DISPATCH_USER_AGENT"); ok {
		c.UserAgent = v
	}
	if v, ok := EnvString("DISPATCH_TELEMETRY_ENDPOINT"); ok {
		c.TelemetryEndpoint = v
	}
	if v, ok := EnvString("DISPATCH_STORE_DRIVER"); ok {
		c.StoreDriver = strings.ToLower(v)
	}
	if v, ok := EnvString("DISPATCH_DATABASE_URL"); ok {
		c.DatabaseURL = v
	}
	if v, ok := EnvString("DISPATCH_REDIS_URL"); ok {
		c.RedisURL = v
	}
	if v, ok := EnvList("DISPATCH_API_KEYS"); ok {
		c.APIKeys = v
	}
	if v, ok := EnvList("DISPATCH_ALLOWED_ORIGINS"); ok {
		c.AllowedOrigins = v
	}

	ints := []struct {
		key string
		dst *int
	}{
		{"DISPATCH_MAX_CONNECTIONS", &c.MaxConnections},
		{"DISPATCH_RATE_LIMIT_REQUESTS", &c.RateLimitRequests},
		{"DISPATCH_TELEMETRY_BUFFER_SIZE", &c.TelemetryBufferSize},
		{"DISPATCH_DATABASE_MAX_CONNS", &c.DatabaseMaxConns},
		{"DISPATCH_QUERY_CACHE_SIZE", &c.QueryCacheSize},
	}
	for _, item := range ints {
		v, ok, err := EnvInt(item.key)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", item.key, err)
		}
		if ok {
			*item.dst = v
		}
	}

	durations := []struct {
		key string
		dst *time.Duration
	}{
		{"DISPATCH_TIMEOUT", &c.Timeout},
		{"DISPATCH_REFRESH_INTERVAL", &c.RefreshInterval},
		{"DISPATCH_RATE_LIMIT_WINDOW", &c.RateLimitWindow},
		{"DISPATCH_QUERY_CACHE_TTL", &c.QueryCacheTTL},
	}
	for _, item := range durations {
		v, ok, err := EnvDuration(item.key)
		if err != nil {
			return fmt.Errorf("invalid %s: %w", item.key, err)
		}
		if ok {
			*item.dst = v
		}
	}

	if v, ok, err := EnvBool("DISPATCH_VERBOSE"); err != nil {
		return fmt.Errorf("invalid DISPATCH_VERBOSE: %w", err)
	} else if ok {
		c.Verbose = v
	}
	return nil
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.AppName == "" {
		return fmt.Errorf("app name cannot be empty")
	}
	if c.APIPrefix != "" && !strings.HasPrefix(c.APIPrefix, "/") {
		return fmt.Errorf("api prefix must start with /")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if c.MaxConnections <= 0 {
		return fmt.Errorf("max connections must be positive")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.RefreshInterval < MinRefreshInterval {
		return fmt.Errorf("refresh interval (%s) cannot be shorter than %s", c.RefreshInterval, MinRefreshInterval)
	}
	if c.RateLimitRequests <= 0 {
		return fmt.Errorf("rate limit requests must be positive")
	}
	if c.RateLimitWindow <= 0 {
		return fmt.Errorf("rate limit window must be positive")
	}
	if c.TelemetryBufferSize < 0 {
		return fmt.Errorf("telemetry buffer size cannot be negative")
	}
	switch c.StoreDriver {
	case "sqlite", "postgres":
	default:
		return fmt.Errorf("store driver must be sqlite or postgres")
	}
	if c.DatabaseURL == "" {
		return fmt.Errorf("database url cannot be empty")
	}
	if c.DatabaseMaxConns <= 0 {
		return fmt.Errorf("database max conns must be positive")
	}
	if c.QueryCacheTTL < 0 {
		return fmt.Errorf("query cache ttl cannot be negative")
	}
	if c.QueryCacheTTL > 0 && c.QueryCacheSize <= 0 {
		return fmt.Errorf("query cache size must be positive when caching is enabled")
	}
	return nil
}

// AuthEnabled reports whether product routes require an API key.
func (c *Config) AuthEnabled() bool {
	return len(c.APIKeys) > 0
}

// EnvString returns the trimmed value of key when it is set and non-empty.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, err
	}
	return n, true, nil
}

// EnvDuration parses key with time.ParseDuration.
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	d, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, err
	}
	return d, true, nil
}

// EnvBool parses key with strconv.ParseBool.
func EnvBool(key string) (bool, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return false, false, nil
	}
	b, err := strconv.ParseBool(value)
	if err != nil {
		return false, false, err
	}
	return b, true, nil
}

// EnvList splits a comma separated value, dropping empty entries.
func EnvList(key string) ([]string, bool) {
	value, ok := EnvString(key)
	if !ok {
		return nil, false
	}
	var out []string
	for _, part := range strings.Split(value, ",") {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out, true
}
