package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-forecast-app/internal/app"
	"github.com/kjstillabower/weather-forecast-app/internal/cache"
	"github.com/kjstillabower/weather-forecast-app/internal/circuitbreaker"
	"github.com/kjstillabower/weather-forecast-app/internal/client"
	"github.com/kjstillabower/weather-forecast-app/internal/config"
	httphandler "github.com/kjstillabower/weather-forecast-app/internal/http"
	"github.com/kjstillabower/weather-forecast-app/internal/lifecycle"
	"github.com/kjstillabower/weather-forecast-app/internal/observability"
	"github.com/kjstillabower/weather-forecast-app/internal/provider"
	"github.com/kjstillabower/weather-forecast-app/internal/service"
	"github.com/kjstillabower/weather-forecast-app/internal/traffic"
)

func main() {
	// A missing .env is fine; the environment and config files still apply.
	_ = godotenv.Load()

	logger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal("config", zap.Error(err))
	}
	logger = observability.WithFileSink(logger, observability.FileSinkConfig{
		Path:       cfg.LogFile,
		MaxSizeMB:  cfg.LogMaxSizeMB,
		MaxBackups: cfg.LogMaxBackups,
		MaxAgeDays: cfg.LogMaxAgeDays,
		Compress:   cfg.LogCompress,
	})
	defer func() { _ = logger.Sync() }()

	rootCtx, cancelRoot := context.WithCancel(context.Background())
	defer cancelRoot()

	tracker := traffic.NewTracker(0)
	healthConfig := &httphandler.HealthConfig{
		OverloadWindow:       cfg.OverloadWindow,
		OverloadThresholdPct: cfg.OverloadThresholdPct,
		RateLimitRPS:         cfg.RateLimitRPS,
		DegradedWindow:       cfg.DegradedWindow,
		DegradedErrorPct:     cfg.DegradedErrorPct,
		DegradedMinRequests:  cfg.DegradedMinRequests,
	}

	var forecastService httphandler.ForecastService
	var memcacheCloser *cache.MemcachedCache
	if cfg.ProviderEnabled {
		svc, mc := buildForecastService(rootCtx, cfg, logger)
		forecastService = svc
		memcacheCloser = mc
		if mc != nil {
			healthConfig.CachePing = mc.Ping
		}
	} else {
		logger.Info("forecast API disabled; UI fetches from remote endpoint", zap.String("url", cfg.ForecastAPIURL))
	}
	apiHandler := httphandler.NewHandler(forecastService, tracker, healthConfig, logger, cfg.CityMaxLength)

	forecastClient, err := client.NewHTTPForecastClient(cfg.ForecastAPIURL, cfg.ForecastAPITimeout)
	if err != nil {
		logger.Fatal("forecast client", zap.Error(err))
	}
	sessions := app.NewSessionStore(forecastClient, cfg.SessionTTL, logger)
	go func() {
		if err := sessions.PrunePeriodic(rootCtx, cfg.SessionPruneInterval); err != nil && !errors.Is(err, context.Canceled) {
			logger.Error("session pruning stopped", zap.Error(err))
		}
	}()
	uiHandler := httphandler.NewUIHandler(sessions, logger, cfg.SecureCookie)

	var limiter *rate.Limiter
	if cfg.RateLimitRPS > 0 {
		limiter = rate.NewLimiter(rate.Limit(cfg.RateLimitRPS), cfg.RateLimitBurst)
	}
	router := httphandler.NewRouter(httphandler.RouterConfig{
		Logger:         logger,
		API:            apiHandler,
		UI:             uiHandler,
		Limiter:        limiter,
		Tracker:        tracker,
		RequestTimeout: cfg.RequestTimeout,
	})

	srv := &http.Server{
		Addr:    ":" + cfg.ServerPort,
		Handler: router,
		// The UI's own fetch to /forecast runs inside a page request, so the write
		// deadline must cover a full client timeout.
		ReadTimeout:  10 * time.Second,
		WriteTimeout: cfg.ForecastAPITimeout + 5*time.Second,
	}

	go func() {
		logger.Info("server starting", zap.String("addr", srv.Addr), zap.String("forecast_api", cfg.ForecastAPIURL))
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Fatal("server", zap.Error(err))
		}
	}()
	lifecycle.SetPhase(lifecycle.Serving)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	<-ctx.Done()
	stop()

	logger.Info("graceful shutdown triggered")
	lifecycle.SetPhase(lifecycle.Draining)
	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		logger.Error("server shutdown", zap.Error(err))
	}

	logger.Info("waiting for in-flight requests", zap.Int64("count", httphandler.InFlightCount()))
	waitCtx, waitCancel := context.WithTimeout(context.Background(), cfg.ShutdownInFlightTimeout)
	defer waitCancel()
	if err := httphandler.WaitForInFlight(waitCtx, cfg.ShutdownInFlightCheckInterval); err != nil {
		logger.Warn("in-flight requests not completed", zap.Error(err), zap.Int64("remaining", httphandler.InFlightCount()))
	}
	cancelRoot()

	if err := observability.FlushTelemetry(context.Background(), logger); err != nil {
		logger.Error("telemetry flush", zap.Error(err))
	}
	if memcacheCloser != nil {
		if err := memcacheCloser.Close(); err != nil {
			logger.Error("memcached close", zap.Error(err))
		}
	}
	logger.Info("shutdown complete")
}

// buildForecastService wires the OpenWeatherMap provider, circuit breaker, cache and warmer.
// The returned MemcachedCache is non-nil when that backend is in use and must be closed.
func buildForecastService(ctx context.Context, cfg *config.Config, logger *zap.Logger) (*service.ForecastService, *cache.MemcachedCache) {
	owm, err := provider.NewOpenWeatherProviderWithRetry(
		cfg.WeatherAPIKey,
		cfg.WeatherAPIURL,
		cfg.WeatherAPITimeout,
		cfg.RetryAttempts,
		cfg.RetryBaseDelay,
		cfg.RetryMaxDelay,
	)
	if err != nil {
		logger.Fatal("forecast provider", zap.Error(err))
	}

	if cfg.CircuitBreakerEnabled {
		const component = "openweather"
		cb := circuitbreaker.New(circuitbreaker.Config{
			FailureThreshold: cfg.CircuitBreakerFailureThreshold,
			SuccessThreshold: cfg.CircuitBreakerSuccessThreshold,
			Timeout:          cfg.CircuitBreakerTimeout,
			OnStateChange: func(from, to circuitbreaker.State) {
				observability.RecordCircuitBreakerTransition(component, from.String(), to.String())
				observability.SetCircuitBreakerStateGauge(component, int(to))
				logger.Warn("circuit breaker transition", zap.String("from", from.String()), zap.String("to", to.String()))
			},
		})
		owm.SetCircuitBreaker(cb)
		observability.SetCircuitBreakerStateGauge(component, int(circuitbreaker.StateClosed))
		logger.Info("circuit breaker enabled", zap.Int("failure_threshold", cfg.CircuitBreakerFailureThreshold), zap.Duration("timeout", cfg.CircuitBreakerTimeout))
	}

	var store cache.Cache
	var mc *cache.MemcachedCache
	switch cfg.CacheBackend {
	case "memcached":
		mc, err = cache.NewMemcachedCache(cfg.MemcachedAddrs, cfg.MemcachedTimeout, cfg.MemcachedMaxIdleConns)
		if err != nil {
			logger.Fatal("memcached cache", zap.Error(err))
		}
		store = mc
		logger.Info("cache backend: memcached", zap.String("addrs", cfg.MemcachedAddrs))
	default:
		store = cache.NewInMemoryCache()
		logger.Info("cache backend: in_memory")
	}

	svc := service.NewForecastService(owm, store, cfg.CacheTTL, cfg.DefaultCity, cfg.CoalesceEnabled, cfg.CoalesceTimeout)

	if len(cfg.TrackedCities) > 0 {
		observability.SetTrackedCities(cfg.TrackedCities)
	}
	if cfg.WarmCache && len(cfg.TrackedCities) > 0 {
		warmer := cache.NewCacheWarmer(svc, logger)
		if cfg.WarmInterval > 0 {
			go func() {
				if err := warmer.WarmPeriodic(ctx, cfg.TrackedCities, cfg.WarmInterval); err != nil && !errors.Is(err, context.Canceled) {
					logger.Error("periodic cache warming stopped", zap.Error(err))
				}
			}()
		} else {
			warmCtx, warmCancel := context.WithTimeout(ctx, 30*time.Second)
			if err := warmer.Warm(warmCtx, cfg.TrackedCities); err != nil {
				logger.Warn("cache warming failed", zap.Error(err))
			}
			warmCancel()
		}
	}
	return svc, mc
}
