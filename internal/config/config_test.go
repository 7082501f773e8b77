package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"
)

const minimalEnvYAML = `
server:
  port: "8080"
provider:
  url: "https://api.example.com/forecast"
  timeout: "2s"
request:
  timeout: "5s"
cache:
  ttl: "5m"
`

// clearEnv isolates a test from overrides set in the surrounding environment.
func clearEnv(t *testing.T) {
	t.Helper()
	t.Setenv("ENV_NAME", "dev")
	for _, k := range []string{"WEATHER_API_KEY", "FORECAST_API_URL", "PORT", "CACHE_BACKEND", "MEMCACHED_ADDRS", "LOG_FILE"} {
		t.Setenv(k, "")
	}
}

func writeEnvFile(t *testing.T, dir, content string) {
	t.Helper()
	writeConfigFile(t, dir, "dev.yaml", content)
}

func writeSecretsFile(t *testing.T, dir, content string) {
	t.Helper()
	writeConfigFile(t, dir, "secrets.yaml", content)
}

func writeConfigFile(t *testing.T, dir, name, content string) {
	t.Helper()
	configDir := filepath.Join(dir, "config")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("mkdir config: %v", err)
	}
	if err := os.WriteFile(filepath.Join(configDir, name), []byte(content), 0644); err != nil {
		t.Fatalf("write %s: %v", name, err)
	}
}

func TestLoad_FailsWhenNoAPIKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadFrom(dir)
	if err == nil {
		t.Fatal("LoadFrom() expected error when no WEATHER_API_KEY and no secrets file, got nil")
	}
	if cfg != nil {
		t.Fatalf("LoadFrom() expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "WEATHER_API_KEY") {
		t.Errorf("error = %v, want message containing WEATHER_API_KEY", err)
	}
}

func TestLoad_SucceedsWithSecretsFile(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-secrets-file" {
		t.Errorf("WeatherAPIKey = %q, want key from secrets file", cfg.WeatherAPIKey)
	}
}

func TestLoad_EnvKeyBeatsSecretsFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "key-from-env-123")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)
	writeSecretsFile(t, dir, "weather_api_key: key-from-secrets-file\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.WeatherAPIKey != "key-from-env-123" {
		t.Errorf("WeatherAPIKey = %q, want env value", cfg.WeatherAPIKey)
	}
}

func TestLoad_Defaults(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, "server:\n  port: \"9090\"\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	checks := []struct {
		name string
		got  interface{}
		want interface{}
	}{
		{"ForecastAPIURL", cfg.ForecastAPIURL, "http://localhost:9090/forecast"},
		{"ForecastAPITimeout", cfg.ForecastAPITimeout, 10 * time.Second},
		{"ProviderEnabled", cfg.ProviderEnabled, true},
		{"WeatherAPIURL", cfg.WeatherAPIURL, "https://api.openweathermap.org/data/2.5/forecast"},
		{"DefaultCity", cfg.DefaultCity, "Manchester"},
		{"CacheBackend", cfg.CacheBackend, "in_memory"},
		{"CoalesceEnabled", cfg.CoalesceEnabled, true},
		{"SessionTTL", cfg.SessionTTL, 30 * time.Minute},
		{"RetryAttempts", cfg.RetryAttempts, 3},
		{"CircuitBreakerEnabled", cfg.CircuitBreakerEnabled, false},
		{"DegradedErrorPct", cfg.DegradedErrorPct, 50},
		{"OverloadWindow", cfg.OverloadWindow, time.Minute},
		{"OverloadThresholdPct", cfg.OverloadThresholdPct, 80},
		{"LogFile", cfg.LogFile, ""},
	}
	for _, c := range checks {
		if c.got != c.want {
			t.Errorf("%s = %v, want %v", c.name, c.got, c.want)
		}
	}
}

func TestLoad_EnvOverrides(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	t.Setenv("FORECAST_API_URL", "https://forecast.example.com/api")
	t.Setenv("PORT", "7000")
	t.Setenv("CACHE_BACKEND", "MEMCACHED")
	t.Setenv("MEMCACHED_ADDRS", "mc1:11211,mc2:11211")
	t.Setenv("LOG_FILE", "/var/log/forecast.log")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ForecastAPIURL != "https://forecast.example.com/api" {
		t.Errorf("ForecastAPIURL = %q", cfg.ForecastAPIURL)
	}
	if cfg.ServerPort != "7000" {
		t.Errorf("ServerPort = %q", cfg.ServerPort)
	}
	if cfg.CacheBackend != "memcached" {
		t.Errorf("CacheBackend = %q, want lowercased memcached", cfg.CacheBackend)
	}
	if cfg.MemcachedAddrs != "mc1:11211,mc2:11211" {
		t.Errorf("MemcachedAddrs = %q", cfg.MemcachedAddrs)
	}
	if cfg.LogFile != "/var/log/forecast.log" {
		t.Errorf("LogFile = %q", cfg.LogFile)
	}
}

func TestLoad_ProviderDisabledNeedsNoKey(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, `
provider:
  enabled: false
forecast_api:
  url: "https://remote.example.com/forecast?units=metric"
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.ProviderEnabled {
		t.Error("ProviderEnabled = true, want false")
	}
	if cfg.ForecastAPIURL != "https://remote.example.com/forecast?units=metric" {
		t.Errorf("ForecastAPIURL = %q", cfg.ForecastAPIURL)
	}
}

func TestLoad_ProviderDisabledNeedsForecastURL(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "provider:\n  enabled: false\n")

	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "forecast_api.url") {
		t.Errorf("LoadFrom() error = %v, want forecast_api.url error", err)
	}
}

func TestLoad_EnvFileNotFound(t *testing.T) {
	clearEnv(t)
	t.Setenv("ENV_NAME", "nonexistent")

	cfg, err := LoadFrom(t.TempDir())
	if err == nil {
		t.Fatal("LoadFrom() expected error for missing env file, got nil")
	}
	if cfg != nil {
		t.Fatalf("expected nil config on error, got %+v", cfg)
	}
	if !strings.Contains(err.Error(), "not found") {
		t.Errorf("error = %v, want message about config file not found", err)
	}
}

func TestLoad_InvalidYAML(t *testing.T) {
	clearEnv(t)
	dir := t.TempDir()
	writeEnvFile(t, dir, "server: [unclosed\n")

	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "parse config file") {
		t.Errorf("LoadFrom() error = %v, want parse error", err)
	}
}

func TestLoad_InvalidDurationFallsBackToDefault(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
cache:
  ttl: "invalid"
session:
  ttl: "-5m"
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.CacheTTL != 10*time.Minute {
		t.Errorf("CacheTTL = %v, want default 10m", cfg.CacheTTL)
	}
	if cfg.SessionTTL != 30*time.Minute {
		t.Errorf("SessionTTL = %v, want default 30m", cfg.SessionTTL)
	}
}

func TestLoad_ValidationFailsWhenProviderTimeoutZero(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, "provider:\n  timeout: \"0s\"\n")

	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "provider.timeout") {
		t.Errorf("LoadFrom() error = %v, want provider.timeout error", err)
	}
}

func TestLoad_RequestTimeoutRaisedAboveProviderTimeout(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, "provider:\n  timeout: \"5s\"\nrequest:\n  timeout: \"3s\"\n")

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if cfg.RequestTimeout != 6*time.Second {
		t.Errorf("RequestTimeout = %v, want 6s", cfg.RequestTimeout)
	}
}

func TestLoad_InvalidCacheBackend(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	t.Setenv("CACHE_BACKEND", "redis")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "cache.backend") {
		t.Errorf("LoadFrom() error = %v, want cache.backend error", err)
	}
}

func TestLoad_InvalidForecastURL(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	t.Setenv("FORECAST_API_URL", "ftp://example.com/forecast")
	dir := t.TempDir()
	writeEnvFile(t, dir, minimalEnvYAML)

	if _, err := LoadFrom(dir); err == nil || !strings.Contains(err.Error(), "forecast_api.url") {
		t.Errorf("LoadFrom() error = %v, want forecast_api.url error", err)
	}
}

func TestLoad_FullFile(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")
	dir := t.TempDir()
	writeEnvFile(t, dir, `
server:
  port: "8081"
session:
  ttl: "1h"
  prune_interval: "2m"
  secure_cookie: true
provider:
  default_city: "Leeds"
  city_max_length: 50
circuit_breaker:
  enabled: true
  failure_threshold: 3
  timeout: "10s"
cache:
  backend: "memcached"
  coalesce:
    enabled: false
  warm: true
  warm_interval: "15m"
lifecycle:
  degraded_error_pct: 20
  degraded_min_requests: 10
logging:
  file: "logs/app.log"
  max_size_mb: 5
  compress: true
metrics:
  tracked_cities: ["London", "Leeds"]
`)

	cfg, err := LoadFrom(dir)
	if err != nil {
		t.Fatalf("LoadFrom() error = %v", err)
	}
	if !cfg.SecureCookie || cfg.SessionTTL != time.Hour || cfg.SessionPruneInterval != 2*time.Minute {
		t.Errorf("session = %v %v %v", cfg.SecureCookie, cfg.SessionTTL, cfg.SessionPruneInterval)
	}
	if cfg.DefaultCity != "Leeds" || cfg.CityMaxLength != 50 {
		t.Errorf("provider = %q %d", cfg.DefaultCity, cfg.CityMaxLength)
	}
	if !cfg.CircuitBreakerEnabled || cfg.CircuitBreakerFailureThreshold != 3 || cfg.CircuitBreakerSuccessThreshold != 2 || cfg.CircuitBreakerTimeout != 10*time.Second {
		t.Errorf("circuit breaker = %v %d %d %v", cfg.CircuitBreakerEnabled, cfg.CircuitBreakerFailureThreshold, cfg.CircuitBreakerSuccessThreshold, cfg.CircuitBreakerTimeout)
	}
	if cfg.CacheBackend != "memcached" || cfg.CoalesceEnabled || !cfg.WarmCache || cfg.WarmInterval != 15*time.Minute {
		t.Errorf("cache = %q %v %v %v", cfg.CacheBackend, cfg.CoalesceEnabled, cfg.WarmCache, cfg.WarmInterval)
	}
	if cfg.DegradedErrorPct != 20 || cfg.DegradedMinRequests != 10 {
		t.Errorf("lifecycle = %d %d", cfg.DegradedErrorPct, cfg.DegradedMinRequests)
	}
	if cfg.LogFile != "logs/app.log" || cfg.LogMaxSizeMB != 5 || cfg.LogMaxBackups != 3 || !cfg.LogCompress {
		t.Errorf("logging = %q %d %d %v", cfg.LogFile, cfg.LogMaxSizeMB, cfg.LogMaxBackups, cfg.LogCompress)
	}
	if len(cfg.TrackedCities) != 2 || cfg.TrackedCities[1] != "Leeds" {
		t.Errorf("TrackedCities = %v", cfg.TrackedCities)
	}
}

func TestParseDuration(t *testing.T) {
	tests := []struct {
		in   string
		want time.Duration
	}{
		{"", 7 * time.Second},
		{"bogus", 7 * time.Second},
		{"0s", 7 * time.Second},
		{"-1s", 7 * time.Second},
		{" 3s ", 3 * time.Second},
	}
	for _, tt := range tests {
		if got := parseDuration(tt.in, 7*time.Second); got != tt.want {
			t.Errorf("parseDuration(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
	if got := parseDurationOrZero("0s", time.Second); got != 0 {
		t.Errorf("parseDurationOrZero(0s) = %v, want 0", got)
	}
}

// TestLoad_ProjectConfig loads the checked-in config/dev.yaml.
func TestLoad_ProjectConfig(t *testing.T) {
	clearEnv(t)
	t.Setenv("WEATHER_API_KEY", "test-key-1234567890")

	cfg, err := LoadFrom(filepath.Join("..", ".."))
	if err != nil {
		t.Fatalf("LoadFrom(project root) error = %v", err)
	}
	if cfg.ServerPort == "" || cfg.ForecastAPIURL == "" {
		t.Errorf("config = %+v", cfg)
	}
}
