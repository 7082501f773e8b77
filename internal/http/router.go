package http

import (
	"net/http"
	"time"

	"github.com/gorilla/mux"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/kjstillabower/weather-forecast-app/internal/observability"
	"github.com/kjstillabower/weather-forecast-app/internal/traffic"
	"github.com/kjstillabower/weather-forecast-app/internal/ui"
)

// RouterConfig lists what NewRouter mounts. A nil UI skips the page routes; an API
// handler without a service serves /health only.
type RouterConfig struct {
	Logger         *zap.Logger
	API            *Handler
	UI             *UIHandler
	Limiter        *rate.Limiter
	Tracker        *traffic.Tracker
	RequestTimeout time.Duration
}

// NewRouter builds the application router: the page and its actions, the forecast API,
// /health and /metrics.
func NewRouter(cfg RouterConfig) *mux.Router {
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	router := mux.NewRouter()
	router.Use(CorrelationIDMiddleware(logger))
	router.Use(MetricsMiddleware)
	router.Handle("/metrics", observability.MetricsHandler()).Methods(http.MethodGet)

	if cfg.API != nil {
		router.HandleFunc("/health", cfg.API.GetHealth).Methods(http.MethodGet)
	}
	if cfg.API != nil && cfg.API.service != nil {
		forecastRouter := router.Path("/forecast").Subrouter()
		forecastRouter.Use(RateLimitMiddleware(cfg.Limiter, cfg.Tracker))
		forecastRouter.Use(TimeoutMiddleware(cfg.RequestTimeout))
		forecastRouter.Methods(http.MethodGet).HandlerFunc(cfg.API.GetForecast)
	}

	if cfg.UI != nil {
		router.HandleFunc("/", cfg.UI.Index).Methods(http.MethodGet)
		router.HandleFunc("/state", cfg.UI.GetState).Methods(http.MethodGet)
		router.HandleFunc(ui.SearchTextPath, cfg.UI.SearchText).Methods(http.MethodPost)
		router.HandleFunc(ui.SearchSubmitPath, cfg.UI.Search).Methods(http.MethodPost)
		router.HandleFunc(ui.SelectForecastPath, cfg.UI.SelectForecast).Methods(http.MethodPost)
	}
	return router
}
