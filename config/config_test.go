package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

func TestConfigValidate(t *testing.T) {
	tests := []struct {
		name    string
		mutate  func(*Config)
		wantErr string
	}{
		{
			name: "negative max connections",
			mutate: func(cfg *Config) {
				cfg.MaxConnections = -1
			},
			wantErr: "max connections",
		},
		{
			name: "refresh interval below minimum",
			mutate: func(cfg *Config) {
				cfg.RefreshInterval = 30 * time.Second
			},
			wantErr: "refresh interval",
		},
		{
			name: "negative timeout",
			mutate: func(cfg *Config) {
				cfg.Timeout = -1 * time.Second
			},
			wantErr: "timeout",
		},
		{
			name: "zero rate limit",
			mutate: func(cfg *Config) {
				cfg.RateLimitRequests = 0
			},
			wantErr: "rate limit requests",
		},
		{
			name: "unknown store driver",
			mutate: func(cfg *Config) {
				cfg.StoreDriver = "mysql"
			},
			wantErr: "store driver",
		},
		{
			name: "api prefix without slash",
			mutate: func(cfg *Config) {
				cfg.APIPrefix = "api"
			},
			wantErr: "api prefix",
		},
		{
			name: "negative telemetry buffer",
			mutate: func(cfg *Config) {
				cfg.TelemetryBufferSize = -5
			},
			wantErr: "telemetry buffer",
		},
		{
			name: "cache enabled without size",
			mutate: func(cfg *Config) {
				cfg.QueryCacheSize = 0
			},
			wantErr: "query cache size",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := DefaultConfig()
			tt.mutate(cfg)
			if err := cfg.Validate(); err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Fatalf("expected error containing %q, got %v", tt.wantErr, err)
			}
		})
	}
}

func TestDefaultConfigValid(t *testing.T) {
	cfg := DefaultConfig()
	if err := cfg.Validate(); err != nil {
		t.Fatalf("default config should validate, got %v", err)
	}
	if cfg.AuthEnabled() {
		t.Fatalf("auth should be disabled without api keys")
	}
}

func TestLoadFileAndEnvOverrides(t *testing.T) {
	path := filepath.Join(t.TempDir(), "dispatch.yaml")
	body := "app_name: Dispatch Test\nrefresh_interval: 5m\nmax_connections: 4\napi_keys:\n  - from-file\n"
	if err := os.WriteFile(path, []byte(body), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	t.Setenv("DISPATCH_MAX_CONNECTIONS", "7")
	t.Setenv("DISPATCH_API_KEYS", "alpha, beta,,")
	t.Setenv("DISPATCH_RATE_LIMIT_WINDOW", "2m")

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.AppName != "Dispatch Test" {
		t.Fatalf("app name = %q, want %q", cfg.AppName, "Dispatch Test")
	}
	if cfg.RefreshInterval != 5*time.Minute {
		t.Fatalf("refresh interval = %v, want 5m", cfg.RefreshInterval)
	}
	if cfg.MaxConnections != 7 {
		t.Fatalf("max connections = %d, want 7", cfg.MaxConnections)
	}
	if len(cfg.APIKeys) != 2 || cfg.APIKeys[0] != "alpha" || cfg.APIKeys[1] != "beta" {
		t.Fatalf("api keys = %v, want [alpha beta]", cfg.APIKeys)
	}
	if cfg.RateLimitWindow != 2*time.Minute {
		t.Fatalf("rate limit window = %v, want 2m", cfg.RateLimitWindow)
	}
	if !cfg.AuthEnabled() {
		t.Fatalf("auth should be enabled with api keys")
	}
}

func TestLoadInvalidEnv(t *testing.T) {
	t.Setenv("DISPATCH_TIMEOUT", "soon")
	if _, err := Load(""); err == nil || !strings.Contains(err.Error(), "DISPATCH_TIMEOUT") {
		t.Fatalf("expected DISPATCH_TIMEOUT error, got %v", err)
	}
}

func TestEnvHelpers(t *testing.T) {
	t.Setenv("DISPATCH_TEST_INT", " 42 ")
	t.Setenv("DISPATCH_TEST_EMPTY", "   ")

	if v, ok, err := EnvInt("DISPATCH_TEST_INT"); err != nil || !ok || v != 42 {
		t.Fatalf("EnvInt = %d, %v, %v; want 42, true, nil", v, ok, err)
	}
	if _, ok := EnvString("DISPATCH_TEST_EMPTY"); ok {
		t.Fatalf("blank values should be treated as unset")
	}
	if _, ok, err := EnvBool("DISPATCH_TEST_MISSING"); ok || err != nil {
		t.Fatalf("missing bool should be unset without error")
	}
}
