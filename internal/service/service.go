package service

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-app/internal/cache"
	"github.com/kjstillabower/weather-forecast-app/internal/models"
	"github.com/kjstillabower/weather-forecast-app/internal/observability"
	"github.com/kjstillabower/weather-forecast-app/internal/provider"
)

// ForecastService serves daily forecasts using cache-aside over a ForecastProvider.
type ForecastService struct {
	provider        provider.ForecastProvider
	cache           cache.Cache
	ttl             time.Duration
	defaultCity     string
	stampedeTracker *stampedeTracker
	coalescer       *requestCoalescer // nil when coalescing is disabled
}

// NewForecastService creates a ForecastService. An empty city passed to GetForecast is served
// as defaultCity. Coalescing is disabled when coalesceEnabled is false or coalesceTimeout is 0.
func NewForecastService(p provider.ForecastProvider, c cache.Cache, ttl time.Duration, defaultCity string, coalesceEnabled bool, coalesceTimeout time.Duration) *ForecastService {
	var coalescer *requestCoalescer
	if coalesceEnabled && coalesceTimeout > 0 {
		coalescer = newRequestCoalescer(coalesceTimeout)
	}
	return &ForecastService{
		provider:        p,
		cache:           c,
		ttl:             ttl,
		defaultCity:     defaultCity,
		stampedeTracker: newStampedeTracker(),
		coalescer:       coalescer,
	}
}

// DefaultCity returns the city served for an empty query.
func (s *ForecastService) DefaultCity() string {
	return s.defaultCity
}

// GetForecast returns the daily forecast for city, from cache when fresh.
func (s *ForecastService) GetForecast(ctx context.Context, city string) (models.ForecastResponse, error) {
	key := normalizeCity(city)
	if key == "" {
		key = normalizeCity(s.defaultCity)
	}
	start := time.Now()
	logger := observability.LoggerFromContext(ctx)
	if logger == nil {
		logger = zap.NewNop()
	}
	observability.RecordCityQuery(key)

	getStart := time.Now()
	cached, ok, err := s.cache.Get(ctx, key)
	getDuration := time.Since(getStart).Seconds()
	if err != nil {
		observability.CacheErrorsTotal.WithLabelValues("get", categorizeCacheError(err)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "error").Observe(getDuration)
		logger.Warn("cache get failed", zap.String("city", key), zap.Error(err))
	} else if ok {
		observability.CacheOperationDurationSeconds.WithLabelValues("get", "success").Observe(getDuration)
		observability.CacheHitsTotal.WithLabelValues("forecast").Inc()
		logger.Debug("forecast served", zap.String("city", key), zap.Bool("cached", true), zap.Duration("duration", time.Since(start)))
		return cached, nil
	}

	concurrent := s.stampedeTracker.RecordMiss(key)
	defer s.stampedeTracker.RecordHit(key)
	if concurrent > 1 {
		observability.CacheStampedeDetectedTotal.WithLabelValues(observability.MetricCityLabel(key)).Inc()
	}
	logger.Debug("cache miss, fetching upstream", zap.String("city", key))

	var data models.ForecastResponse
	var upstreamErr error
	if s.coalescer != nil {
		var shared bool
		data, shared, upstreamErr = s.coalescer.GetOrDo(ctx, key, func(ctx context.Context) (models.ForecastResponse, error) {
			return s.provider.GetForecast(ctx, key)
		})
		if shared && upstreamErr == nil {
			observability.RequestCoalescingHitsTotal.Inc()
		}
	} else {
		data, upstreamErr = s.provider.GetForecast(ctx, key)
	}
	if upstreamErr != nil {
		return models.ForecastResponse{}, fmt.Errorf("fetch forecast for %s: %w", key, upstreamErr)
	}

	setStart := time.Now()
	if setErr := s.cache.Set(ctx, key, data, s.ttl); setErr != nil {
		observability.CacheErrorsTotal.WithLabelValues("set", categorizeCacheError(setErr)).Inc()
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "error").Observe(time.Since(setStart).Seconds())
		logger.Warn("cache set failed", zap.String("city", key), zap.Error(setErr))
	} else {
		observability.CacheOperationDurationSeconds.WithLabelValues("set", "success").Observe(time.Since(setStart).Seconds())
	}
	logger.Debug("forecast served", zap.String("city", key), zap.Bool("cached", false), zap.Duration("duration", time.Since(start)))
	return data, nil
}

// categorizeCacheError returns a stable label for cache error metrics.
func categorizeCacheError(err error) string {
	if err == nil {
		return "unknown"
	}
	msg := err.Error()
	switch {
	case strings.Contains(msg, "timeout"):
		return "timeout"
	case strings.Contains(msg, "connection"), strings.Contains(msg, "network"):
		return "connection"
	}
	return "unknown"
}

// normalizeCity trims and lowercases city so cache keys and upstream queries agree.
func normalizeCity(city string) string {
	return strings.ToLower(strings.Join(strings.Fields(city), " "))
}
