package config

import (
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/kelseyhightower/envconfig"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration loaded from YAML, the secrets file and env.
type Config struct {
	ServerPort string

	// Forecast client: the endpoint the UI fetches from.
	ForecastAPIURL     string
	ForecastAPITimeout time.Duration

	SessionTTL           time.Duration
	SessionPruneInterval time.Duration
	SecureCookie         bool

	// Forecast API served by this process, backed by OpenWeatherMap.
	ProviderEnabled   bool
	WeatherAPIKey     string
	WeatherAPIURL     string
	WeatherAPITimeout time.Duration
	DefaultCity       string
	CityMaxLength     int

	RetryAttempts  int
	RetryBaseDelay time.Duration
	RetryMaxDelay  time.Duration

	CircuitBreakerEnabled          bool
	CircuitBreakerFailureThreshold int
	CircuitBreakerSuccessThreshold int
	CircuitBreakerTimeout          time.Duration

	RequestTimeout time.Duration
	RateLimitRPS   int
	RateLimitBurst int

	CacheBackend          string // "in_memory" or "memcached"
	CacheTTL              time.Duration
	MemcachedAddrs        string
	MemcachedTimeout      time.Duration
	MemcachedMaxIdleConns int
	CoalesceEnabled       bool
	CoalesceTimeout       time.Duration
	WarmCache             bool
	WarmInterval          time.Duration

	ShutdownTimeout               time.Duration
	ShutdownInFlightTimeout       time.Duration
	ShutdownInFlightCheckInterval time.Duration

	OverloadWindow       time.Duration
	OverloadThresholdPct int
	DegradedWindow       time.Duration
	DegradedErrorPct     int
	DegradedMinRequests  int

	LogFile       string
	LogMaxSizeMB  int
	LogMaxBackups int
	LogMaxAgeDays int
	LogCompress   bool

	TrackedCities []string
}

type fileConfig struct {
	Server struct {
		Port string `yaml:"port"`
	} `yaml:"server"`

	ForecastAPI struct {
		URL     string `yaml:"url"`
		Timeout string `yaml:"timeout"`
	} `yaml:"forecast_api"`

	Session struct {
		TTL           string `yaml:"ttl"`
		PruneInterval string `yaml:"prune_interval"`
		SecureCookie  bool   `yaml:"secure_cookie"`
	} `yaml:"session"`

	Provider struct {
		Enabled       *bool  `yaml:"enabled"`
		URL           string `yaml:"url"`
		Timeout       string `yaml:"timeout"`
		DefaultCity   string `yaml:"default_city"`
		CityMaxLength int    `yaml:"city_max_length"`
	} `yaml:"provider"`

	CircuitBreaker struct {
		Enabled          bool   `yaml:"enabled"`
		FailureThreshold int    `yaml:"failure_threshold"`
		SuccessThreshold int    `yaml:"success_threshold"`
		Timeout          string `yaml:"timeout"`
	} `yaml:"circuit_breaker"`

	Request struct {
		Timeout string `yaml:"timeout"`
	} `yaml:"request"`

	Cache struct {
		Backend   string `yaml:"backend"`
		TTL       string `yaml:"ttl"`
		Memcached struct {
			Addrs        string `yaml:"addrs"`
			Timeout      string `yaml:"timeout"`
			MaxIdleConns int    `yaml:"max_idle_conns"`
		} `yaml:"memcached"`
		Coalesce struct {
			Enabled *bool  `yaml:"enabled"`
			Timeout string `yaml:"timeout"`
		} `yaml:"coalesce"`
		Warm         bool   `yaml:"warm"`
		WarmInterval string `yaml:"warm_interval"`
	} `yaml:"cache"`

	Reliability struct {
		RetryMaxAttempts int    `yaml:"retry_max_attempts"`
		RetryBaseDelay   string `yaml:"retry_base_delay"`
		RetryMaxDelay    string `yaml:"retry_max_delay"`
		RateLimitRPS     int    `yaml:"rate_limit_rps"`
		RateLimitBurst   int    `yaml:"rate_limit_burst"`
	} `yaml:"reliability"`

	Shutdown struct {
		Timeout               string `yaml:"timeout"`
		InFlightTimeout       string `yaml:"in_flight_timeout"`
		InFlightCheckInterval string `yaml:"in_flight_check_interval"`
	} `yaml:"shutdown"`

	Lifecycle struct {
		OverloadWindow       string `yaml:"overload_window"`
		OverloadThresholdPct int    `yaml:"overload_threshold_pct"`
		DegradedWindow       string `yaml:"degraded_window"`
		DegradedErrorPct     int    `yaml:"degraded_error_pct"`
		DegradedMinRequests  int    `yaml:"degraded_min_requests"`
	} `yaml:"lifecycle"`

	Logging struct {
		File       string `yaml:"file"`
		MaxSizeMB  int    `yaml:"max_size_mb"`
		MaxBackups int    `yaml:"max_backups"`
		MaxAgeDays int    `yaml:"max_age_days"`
		Compress   bool   `yaml:"compress"`
	} `yaml:"logging"`

	Metrics struct {
		TrackedCities []string `yaml:"tracked_cities"`
	} `yaml:"metrics"`
}

type secretsFile struct {
	WeatherAPIKey string `yaml:"weather_api_key"`
}

// envOverrides are read with envconfig after the YAML file; non-empty values win.
type envOverrides struct {
	EnvName        string `envconfig:"ENV_NAME" default:"dev"`
	WeatherAPIKey  string `envconfig:"WEATHER_API_KEY"`
	ForecastAPIURL string `envconfig:"FORECAST_API_URL"`
	Port           string `envconfig:"PORT"`
	CacheBackend   string `envconfig:"CACHE_BACKEND"`
	MemcachedAddrs string `envconfig:"MEMCACHED_ADDRS"`
	LogFile        string `envconfig:"LOG_FILE"`
}

// Load reads config/{ENV_NAME}.yaml (default dev) and config/secrets.yaml relative to the
// working directory. Call from project root.
func Load() (*Config, error) {
	cwd, err := os.Getwd()
	if err != nil {
		return nil, fmt.Errorf("config: get working directory: %w", err)
	}
	return LoadFrom(cwd)
}

// LoadFrom is Load with an explicit project root.
func LoadFrom(root string) (*Config, error) {
	var env envOverrides
	if err := envconfig.Process("", &env); err != nil {
		return nil, fmt.Errorf("read environment: %w", err)
	}
	if env.EnvName == "" {
		env.EnvName = "dev"
	}

	configPath := filepath.Join(root, "config", env.EnvName+".yaml")
	data, err := os.ReadFile(configPath)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, fmt.Errorf("config file not found: %s", configPath)
		}
		return nil, fmt.Errorf("read config file: %w", err)
	}
	var fc fileConfig
	if err := yaml.Unmarshal(data, &fc); err != nil {
		return nil, fmt.Errorf("parse config file: %w", err)
	}

	cfg := fromFile(&fc)
	applyEnv(cfg, &env)

	if cfg.ProviderEnabled && cfg.WeatherAPIKey == "" {
		key, err := readSecrets(filepath.Join(root, "config", "secrets.yaml"))
		if err != nil {
			return nil, err
		}
		cfg.WeatherAPIKey = key
	}
	if cfg.ProviderEnabled && cfg.WeatherAPIKey == "" {
		return nil, fmt.Errorf("WEATHER_API_KEY required when provider is enabled (set env or config/secrets.yaml weather_api_key)")
	}
	if cfg.ForecastAPIURL == "" && cfg.ProviderEnabled {
		cfg.ForecastAPIURL = "http://localhost:" + cfg.ServerPort + "/forecast"
	}

	if err := validate(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func fromFile(fc *fileConfig) *Config {
	cfg := &Config{}

	cfg.ServerPort = orDefault(fc.Server.Port, "8080")

	cfg.ForecastAPIURL = strings.TrimSpace(fc.ForecastAPI.URL)
	cfg.ForecastAPITimeout = parseDuration(fc.ForecastAPI.Timeout, 10*time.Second)

	cfg.SessionTTL = parseDuration(fc.Session.TTL, 30*time.Minute)
	cfg.SessionPruneInterval = parseDuration(fc.Session.PruneInterval, time.Minute)
	cfg.SecureCookie = fc.Session.SecureCookie

	cfg.ProviderEnabled = fc.Provider.Enabled == nil || *fc.Provider.Enabled
	cfg.WeatherAPIURL = orDefault(fc.Provider.URL, "https://api.openweathermap.org/data/2.5/forecast")
	cfg.WeatherAPITimeout = parseDurationOrZero(fc.Provider.Timeout, 2*time.Second)
	cfg.DefaultCity = orDefault(fc.Provider.DefaultCity, "Manchester")
	cfg.CityMaxLength = positiveOr(fc.Provider.CityMaxLength, 100)

	cfg.RetryAttempts = positiveOr(fc.Reliability.RetryMaxAttempts, 3)
	cfg.RetryBaseDelay = parseDuration(fc.Reliability.RetryBaseDelay, 100*time.Millisecond)
	cfg.RetryMaxDelay = parseDuration(fc.Reliability.RetryMaxDelay, 2*time.Second)
	cfg.RateLimitRPS = positiveOr(fc.Reliability.RateLimitRPS, 100)
	cfg.RateLimitBurst = positiveOr(fc.Reliability.RateLimitBurst, 250)

	cfg.CircuitBreakerEnabled = fc.CircuitBreaker.Enabled
	cfg.CircuitBreakerFailureThreshold = positiveOr(fc.CircuitBreaker.FailureThreshold, 5)
	cfg.CircuitBreakerSuccessThreshold = positiveOr(fc.CircuitBreaker.SuccessThreshold, 2)
	cfg.CircuitBreakerTimeout = parseDuration(fc.CircuitBreaker.Timeout, 30*time.Second)

	cfg.RequestTimeout = parseDuration(fc.Request.Timeout, 5*time.Second)

	cfg.CacheBackend = strings.ToLower(orDefault(fc.Cache.Backend, "in_memory"))
	cfg.CacheTTL = parseDuration(fc.Cache.TTL, 10*time.Minute)
	cfg.MemcachedAddrs = orDefault(fc.Cache.Memcached.Addrs, "localhost:11211")
	cfg.MemcachedTimeout = parseDuration(fc.Cache.Memcached.Timeout, 500*time.Millisecond)
	cfg.MemcachedMaxIdleConns = positiveOr(fc.Cache.Memcached.MaxIdleConns, 2)
	cfg.CoalesceEnabled = fc.Cache.Coalesce.Enabled == nil || *fc.Cache.Coalesce.Enabled
	cfg.CoalesceTimeout = parseDuration(fc.Cache.Coalesce.Timeout, 5*time.Second)
	cfg.WarmCache = fc.Cache.Warm
	cfg.WarmInterval = parseDurationOrZero(fc.Cache.WarmInterval, 0)

	cfg.ShutdownTimeout = parseDuration(fc.Shutdown.Timeout, 30*time.Second)
	cfg.ShutdownInFlightTimeout = parseDuration(fc.Shutdown.InFlightTimeout, 10*time.Second)
	cfg.ShutdownInFlightCheckInterval = parseDuration(fc.Shutdown.InFlightCheckInterval, 100*time.Millisecond)

	cfg.OverloadWindow = parseDuration(fc.Lifecycle.OverloadWindow, time.Minute)
	cfg.OverloadThresholdPct = positiveOr(fc.Lifecycle.OverloadThresholdPct, 80)
	cfg.DegradedWindow = parseDuration(fc.Lifecycle.DegradedWindow, time.Minute)
	cfg.DegradedErrorPct = positiveOr(fc.Lifecycle.DegradedErrorPct, 50)
	cfg.DegradedMinRequests = positiveOr(fc.Lifecycle.DegradedMinRequests, 5)

	cfg.LogFile = strings.TrimSpace(fc.Logging.File)
	cfg.LogMaxSizeMB = positiveOr(fc.Logging.MaxSizeMB, 10)
	cfg.LogMaxBackups = positiveOr(fc.Logging.MaxBackups, 3)
	cfg.LogMaxAgeDays = positiveOr(fc.Logging.MaxAgeDays, 28)
	cfg.LogCompress = fc.Logging.Compress

	cfg.TrackedCities = fc.Metrics.TrackedCities
	return cfg
}

func applyEnv(cfg *Config, env *envOverrides) {
	if v := strings.TrimSpace(env.WeatherAPIKey); v != "" {
		cfg.WeatherAPIKey = v
	}
	if v := strings.TrimSpace(env.ForecastAPIURL); v != "" {
		cfg.ForecastAPIURL = v
	}
	if v := strings.TrimSpace(env.Port); v != "" {
		cfg.ServerPort = v
	}
	if v := strings.TrimSpace(env.CacheBackend); v != "" {
		cfg.CacheBackend = strings.ToLower(v)
	}
	if v := strings.TrimSpace(env.MemcachedAddrs); v != "" {
		cfg.MemcachedAddrs = v
	}
	if v := strings.TrimSpace(env.LogFile); v != "" {
		cfg.LogFile = v
	}
}

func readSecrets(path string) (string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return "", nil
		}
		return "", fmt.Errorf("read secrets file: %w", err)
	}
	var sec secretsFile
	if err := yaml.Unmarshal(data, &sec); err != nil {
		return "", fmt.Errorf("parse secrets file: %w", err)
	}
	return strings.TrimSpace(sec.WeatherAPIKey), nil
}

func orDefault(s, def string) string {
	if s = strings.TrimSpace(s); s != "" {
		return s
	}
	return def
}

func positiveOr(n, def int) int {
	if n > 0 {
		return n
	}
	return def
}

// parseDuration parses s, returning defaultVal when s is empty, invalid or not positive.
func parseDuration(s string, defaultVal time.Duration) time.Duration {
	d := parseDurationOrZero(s, defaultVal)
	if d <= 0 {
		return defaultVal
	}
	return d
}

// parseDurationOrZero parses s, returning defaultVal when s is empty or invalid.
// Zero and negative durations are returned as-is.
func parseDurationOrZero(s string, defaultVal time.Duration) time.Duration {
	s = strings.TrimSpace(s)
	if s == "" {
		return defaultVal
	}
	d, err := time.ParseDuration(s)
	if err != nil {
		return defaultVal
	}
	return d
}

// validate checks cross-field constraints. RequestTimeout is raised above the provider
// timeout when needed.
func validate(cfg *Config) error {
	if cfg.ForecastAPIURL == "" {
		return fmt.Errorf("forecast_api.url required when provider is disabled (or set FORECAST_API_URL)")
	}
	u, err := url.Parse(cfg.ForecastAPIURL)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return fmt.Errorf("forecast_api.url must be an absolute http(s) URL, got %q", cfg.ForecastAPIURL)
	}
	if cfg.ProviderEnabled {
		if cfg.WeatherAPITimeout <= 0 {
			return fmt.Errorf("provider.timeout must be positive")
		}
		if cfg.RequestTimeout <= cfg.WeatherAPITimeout {
			cfg.RequestTimeout = cfg.WeatherAPITimeout + time.Second
		}
	}
	switch cfg.CacheBackend {
	case "in_memory", "memcached":
	default:
		return fmt.Errorf("cache.backend must be in_memory or memcached, got %q", cfg.CacheBackend)
	}
	if cfg.DegradedErrorPct > 100 {
		return fmt.Errorf("lifecycle.degraded_error_pct must be at most 100, got %d", cfg.DegradedErrorPct)
	}
	return nil
}
