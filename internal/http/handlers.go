package http

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-app/internal/lifecycle"
	"github.com/kjstillabower/weather-forecast-app/internal/models"
	"github.com/kjstillabower/weather-forecast-app/internal/observability"
	"github.com/kjstillabower/weather-forecast-app/internal/provider"
	"github.com/kjstillabower/weather-forecast-app/internal/traffic"
	"github.com/kjstillabower/weather-forecast-app/internal/validation"
)

// ForecastService is the service-layer dependency of the forecast API.
type ForecastService interface {
	GetForecast(ctx context.Context, city string) (models.ForecastResponse, error)
}

// HealthConfig holds the thresholds the health handler evaluates.
type HealthConfig struct {
	// Overload compares all forecast API outcomes in the window (denials included) with
	// the rate limiter's capacity for that window.
	OverloadWindow       time.Duration
	OverloadThresholdPct int
	RateLimitRPS         int

	DegradedWindow      time.Duration
	DegradedErrorPct    int
	DegradedMinRequests int
	// CachePing, when set, reports cache reachability. Set when the backend is memcached.
	CachePing func() error
}

// Handler serves the forecast API and health endpoints.
type Handler struct {
	service      ForecastService
	tracker      *traffic.Tracker
	healthConfig *HealthConfig
	logger       *zap.Logger
	maxCityLen   int

	healthStatusMu   sync.Mutex
	healthStatusPrev string
}

// NewHandler returns a Handler. tracker and healthConfig may be nil.
func NewHandler(svc ForecastService, tracker *traffic.Tracker, healthConfig *HealthConfig, logger *zap.Logger, maxCityLen int) *Handler {
	if tracker == nil {
		tracker = traffic.NewTracker(0)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Handler{
		service:      svc,
		tracker:      tracker,
		healthConfig: healthConfig,
		logger:       logger,
		maxCityLen:   maxCityLen,
	}
}

// GetForecast handles GET /forecast?city=. An absent or empty city selects the default city.
func (h *Handler) GetForecast(w http.ResponseWriter, r *http.Request) {
	city, err := validation.ValidateCity(r.URL.Query().Get("city"), h.maxCityLen)
	if err != nil {
		writeError(w, r, http.StatusBadRequest, "INVALID_CITY", err.Error())
		return
	}

	result, err := h.service.GetForecast(r.Context(), city)
	if err != nil {
		if errors.Is(err, provider.ErrCityNotFound) {
			h.tracker.Record(traffic.Success)
			writeError(w, r, http.StatusNotFound, "CITY_NOT_FOUND", "no forecast for "+city)
			return
		}
		h.tracker.Record(traffic.Failure)
		writeServiceError(w, r, err)
		return
	}
	h.tracker.Record(traffic.Success)
	writeJSON(w, http.StatusOK, result)
}

type healthResult struct {
	status     string
	statusCode int
	reason     string
}

// GetHealth handles GET /health.
func (h *Handler) GetHealth(w http.ResponseWriter, r *http.Request) {
	result := h.computeHealthStatus()

	h.healthStatusMu.Lock()
	prev := h.healthStatusPrev
	if prev != "" && prev != result.status {
		h.logger.Info("health status transition",
			zap.String("previous_status", prev),
			zap.String("current_status", result.status),
			zap.String("reason", result.reason))
	}
	h.healthStatusPrev = result.status
	h.healthStatusMu.Unlock()

	checks := map[string]string{"forecastApi": "healthy"}
	if result.status == "degraded" {
		checks["forecastApi"] = "unhealthy"
	}
	if h.healthConfig != nil && h.healthConfig.CachePing != nil {
		if h.healthConfig.CachePing() == nil {
			checks["cache"] = "healthy"
		} else {
			checks["cache"] = "unhealthy"
		}
	}
	writeJSON(w, result.statusCode, map[string]interface{}{
		"status":    result.status,
		"service":   "weather-forecast-app",
		"phase":     lifecycle.Current().String(),
		"checks":    checks,
		"timestamp": time.Now().UTC().Format(time.RFC3339),
	})
}

// computeHealthStatus evaluates, in order: shutting-down, overloaded, degraded, healthy.
func (h *Handler) computeHealthStatus() healthResult {
	if lifecycle.IsShuttingDown() {
		return healthResult{"shutting-down", http.StatusServiceUnavailable, "signal"}
	}
	if h.healthConfig != nil && h.healthConfig.OverloadWindow > 0 && h.healthConfig.RateLimitRPS > 0 && h.healthConfig.OverloadThresholdPct > 0 {
		capacity := float64(h.healthConfig.RateLimitRPS) * h.healthConfig.OverloadWindow.Seconds()
		threshold := capacity * float64(h.healthConfig.OverloadThresholdPct) / 100
		if float64(h.tracker.Counts(h.healthConfig.OverloadWindow).Total()) > threshold {
			return healthResult{"overloaded", http.StatusServiceUnavailable, "overload_threshold"}
		}
	}
	if h.healthConfig != nil && h.healthConfig.DegradedWindow > 0 && h.healthConfig.DegradedErrorPct > 0 {
		threshold := float64(h.healthConfig.DegradedErrorPct) / 100
		if h.tracker.Degraded(h.healthConfig.DegradedWindow, threshold, h.healthConfig.DegradedMinRequests) {
			return healthResult{"degraded", http.StatusServiceUnavailable, "error_rate_breach"}
		}
	}
	return healthResult{"healthy", http.StatusOK, ""}
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError writes {"error":{code,message,requestId}}.
func writeError(w http.ResponseWriter, r *http.Request, status int, code, message string) {
	writeJSON(w, status, map[string]interface{}{
		"error": map[string]string{
			"code":      code,
			"message":   message,
			"requestId": observability.CorrelationID(r.Context()),
		},
	})
}

// writeServiceError writes the 500 the forecast client reports as a server error.
func writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	writeError(w, r, http.StatusInternalServerError, "UPSTREAM_ERROR", "unable to fetch forecast")
	requestLogger(r, nil).Warn("upstream error", zap.Error(err))
}

// requestLogger returns the correlation-scoped logger, falling back to fallback or a no-op.
func requestLogger(r *http.Request, fallback *zap.Logger) *zap.Logger {
	if l := observability.LoggerFromContext(r.Context()); l != nil {
		return l
	}
	if fallback != nil {
		return fallback
	}
	return zap.NewNop()
}
