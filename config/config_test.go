package config

import (
	"reflect"
	"testing"
	"time"

	env "github.com/caarlos0/env/v11"
)

func TestParseStorageDriver(t *testing.T) {
	tests := []struct {
		name        string
		input       string
		expected    StorageDriver
		expectError bool
	}{
		{name: "memory", input: "memory", expected: StorageDriverMemory},
		{name: "sqlite", input: "sqlite", expected: StorageDriverSQLite},
		{name: "redis with spaces and case", input: "  Redis ", expected: StorageDriverRedis},
		{name: "empty string", input: "", expectError: true},
		{name: "unknown driver", input: "postgres", expectError: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseStorageDriver(tt.input)
			if tt.expectError {
				if err == nil {
					t.Errorf("expected error but got none")
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.expected {
				t.Errorf("expected %q, got %q", tt.expected, got)
			}
		})
	}
}

func TestAppConfig_Defaults(t *testing.T) {
	t.Setenv("NODE_ENV", "")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	if cfg.API.BaseURL != "http://localhost:8000" {
		t.Errorf("unexpected API base URL: %q", cfg.API.BaseURL)
	}
	if cfg.Storage.Driver != StorageDriverSQLite {
		t.Errorf("expected sqlite storage, got %q", cfg.Storage.Driver)
	}
	if cfg.HTTP.Addr != "127.0.0.1:4173" {
		t.Errorf("unexpected HTTP addr: %q", cfg.HTTP.Addr)
	}
	if cfg.Session.ViewKey != "portal.view" || cfg.Session.CookieKey != "portal.cookies" {
		t.Errorf("unexpected storage keys: %q %q", cfg.Session.ViewKey, cfg.Session.CookieKey)
	}
	if cfg.Session.RenewInterval != 0 || cfg.Session.RenewSkew != 30*time.Second {
		t.Errorf("unexpected renewal defaults: %+v", cfg.Session)
	}
	if cfg.IsDev {
		t.Error("expected production mode by default")
	}
	if cfg.LogLevel != "info" {
		t.Errorf("expected info log level, got %q", cfg.LogLevel)
	}
}

func TestAppConfig_ParseEnv(t *testing.T) {
	t.Setenv("PORTAL_API_URL", "https://portal.example.com/api/")
	t.Setenv("PORTAL_API_TIMEOUT", "3s")
	t.Setenv("SESSION_RENEW_INTERVAL", "2m")
	t.Setenv("SESSION_VIEW_KEY", "ui.view")
	t.Setenv("STORAGE_DRIVER", "redis")
	t.Setenv("STORAGE_REDIS_PREFIX", "ui:")
	t.Setenv("REDIS_URI", "redis://cache:6379/2")
	t.Setenv("REDIS_DB", "2")
	t.Setenv("HTTP_LOGIN_BURST", "3")
	t.Setenv("LOG_LEVEL", "DEBUG")

	var cfg AppConfig
	if err := env.Parse(&cfg); err != nil {
		t.Fatalf("parse config: %v", err)
	}
	cfg.Sanitize()

	expectedAPI := APIConfig{
		BaseURL:   "https://portal.example.com/api",
		Timeout:   3 * time.Second,
		UserAgent: "dicom-portal",
	}
	if !reflect.DeepEqual(cfg.API, expectedAPI) {
		t.Fatalf("unexpected API configuration:\nexpected: %#v\ngot:      %#v", expectedAPI, cfg.API)
	}
	if cfg.Session.RenewInterval != 2*time.Minute {
		t.Errorf("expected 2m renewal, got %v", cfg.Session.RenewInterval)
	}
	if cfg.Session.ViewKey != "ui.view" {
		t.Errorf("expected ui.view, got %q", cfg.Session.ViewKey)
	}
	if cfg.Storage.Driver != StorageDriverRedis || cfg.Storage.RedisPrefix != "ui:" {
		t.Errorf("unexpected storage configuration: %+v", cfg.Storage)
	}
	if cfg.Redis.URI != "redis://cache:6379/2" || cfg.Redis.DB != 2 {
		t.Errorf("unexpected redis configuration: %+v", cfg.Redis)
	}
	if cfg.HTTP.LoginBurst != 3 {
		t.Errorf("expected login burst 3, got %d", cfg.HTTP.LoginBurst)
	}
	if cfg.LogLevel != "debug" {
		t.Errorf("expected debug log level, got %q", cfg.LogLevel)
	}
}

func TestAppConfig_DetectDevMode(t *testing.T) {
	t.Setenv("NODE_ENV", "development")

	cfg := AppConfig{}
	cfg.Sanitize()

	if !cfg.IsDev {
		t.Error("expected NODE_ENV=development to enable dev mode")
	}
}

func TestSessionConfig_Sanitize(t *testing.T) {
	tests := []struct {
		name     string
		input    SessionConfig
		expected SessionConfig
	}{
		{
			name:  "zero values get defaults",
			input: SessionConfig{},
			expected: SessionConfig{
				RenewSkew:        30 * time.Second,
				MinRenewInterval: 15 * time.Second,
				LogoutTimeout:    5 * time.Second,
				ViewKey:          "portal.view",
				CookieKey:        "portal.cookies",
			},
		},
		{
			name: "tiny fixed interval is floored",
			input: SessionConfig{
				RenewInterval:    10 * time.Millisecond,
				RenewSkew:        time.Minute,
				MinRenewInterval: 20 * time.Second,
				LogoutTimeout:    time.Second,
				ViewKey:          "v",
				CookieKey:        "c",
			},
			expected: SessionConfig{
				RenewInterval:    time.Second,
				RenewSkew:        time.Minute,
				MinRenewInterval: 20 * time.Second,
				LogoutTimeout:    time.Second,
				ViewKey:          "v",
				CookieKey:        "c",
			},
		},
		{
			name: "colliding keys are separated",
			input: SessionConfig{
				ViewKey:   "same",
				CookieKey: "same",
			},
			expected: SessionConfig{
				RenewSkew:        30 * time.Second,
				MinRenewInterval: 15 * time.Second,
				LogoutTimeout:    5 * time.Second,
				ViewKey:          "same",
				CookieKey:        "portal.cookies",
			},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := tt.input
			cfg.Sanitize()
			if !reflect.DeepEqual(cfg, tt.expected) {
				t.Fatalf("expected %#v, got %#v", tt.expected, cfg)
			}
		})
	}
}

func TestStorageConfig_Sanitize(t *testing.T) {
	cfg := StorageConfig{Driver: " SQLite ", RedisTTL: -time.Second}
	cfg.Sanitize()

	if cfg.Driver != StorageDriverSQLite {
		t.Errorf("expected sqlite, got %q", cfg.Driver)
	}
	if cfg.SQLitePath != "portal-state.db" || cfg.RedisPrefix != "portal:" || cfg.RedisTTL != 0 {
		t.Errorf("unexpected storage defaults: %+v", cfg)
	}

	bad := StorageConfig{Driver: "etcd"}
	bad.Sanitize()
	if bad.Driver != "etcd" {
		t.Errorf("expected unknown driver to be preserved for reporting, got %q", bad.Driver)
	}
}

func TestObservabilityMetricsConfig_Sanitize(t *testing.T) {
	cfg := ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "  ", Prefix: ".portal."}
	cfg.Sanitize()

	if cfg.IsEnabled() {
		t.Error("expected metrics to be disabled without an address")
	}
	if cfg.Prefix != "portal" {
		t.Errorf("expected trimmed prefix, got %q", cfg.Prefix)
	}

	cfg = ObservabilityMetricsConfig{Enabled: true, StatsdAddress: "127.0.0.1:8125"}
	cfg.Sanitize()
	if !cfg.IsEnabled() || cfg.Prefix != "dicom_portal" {
		t.Errorf("unexpected metrics config: %+v", cfg)
	}
}

func TestHTTPConfig_Sanitize(t *testing.T) {
	cfg := HTTPConfig{Addr: " ", LoginRate: -1, LoginBurst: 0, MaxUploadMB: -5}
	cfg.Sanitize()

	expected := HTTPConfig{Addr: "127.0.0.1:4173", LoginRate: 1, LoginBurst: 1, MaxUploadMB: 512}
	if !reflect.DeepEqual(cfg, expected) {
		t.Fatalf("expected %#v, got %#v", expected, cfg)
	}
	if got := cfg.MaxUploadBytes(); got != 512<<20 {
		t.Errorf("expected 512 MiB in bytes, got %d", got)
	}
}
