// Package provider fetches forecasts from OpenWeatherMap and shapes them into daily entries.
package provider

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"math"
	"math/rand"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/kjstillabower/weather-forecast-app/internal/circuitbreaker"
	"github.com/kjstillabower/weather-forecast-app/internal/models"
	"github.com/kjstillabower/weather-forecast-app/internal/observability"
)

type ForecastProvider interface {
	GetForecast(ctx context.Context, city string) (models.ForecastResponse, error)
}

var (
	ErrInvalidAPIKey   = errors.New("invalid API key")
	ErrCityNotFound    = errors.New("city not found")
	ErrUpstreamFailure = errors.New("upstream failure")
	ErrRateLimited     = errors.New("rate limited")
)

// DefaultURL is OpenWeatherMap's 5-day / 3-hour forecast endpoint.
const DefaultURL = "https://api.openweathermap.org/data/2.5/forecast"

type OpenWeatherProvider struct {
	apiKey         string
	apiURL         string
	timeout        time.Duration
	client         *http.Client
	retryAttempts  int
	retryBaseDelay time.Duration
	retryMaxDelay  time.Duration
	breaker        *circuitbreaker.CircuitBreaker
}

func NewOpenWeatherProvider(apiKey, apiURL string, timeout time.Duration) (*OpenWeatherProvider, error) {
	return NewOpenWeatherProviderWithRetry(apiKey, apiURL, timeout, 3, 100*time.Millisecond, 2*time.Second)
}

func NewOpenWeatherProviderWithRetry(apiKey, apiURL string, timeout time.Duration, retryAttempts int, retryBaseDelay, retryMaxDelay time.Duration) (*OpenWeatherProvider, error) {
	if apiKey == "" {
		return nil, fmt.Errorf("%w: API key is required", ErrInvalidAPIKey)
	}
	if len(apiKey) < 10 {
		return nil, fmt.Errorf("%w: API key appears invalid (too short)", ErrInvalidAPIKey)
	}
	if apiURL == "" {
		apiURL = DefaultURL
	}
	if retryAttempts <= 0 {
		retryAttempts = 1
	}

	return &OpenWeatherProvider{
		apiKey:         apiKey,
		apiURL:         apiURL,
		timeout:        timeout,
		retryAttempts:  retryAttempts,
		retryBaseDelay: retryBaseDelay,
		retryMaxDelay:  retryMaxDelay,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// SetCircuitBreaker guards every upstream attempt with cb. Not-found responses do not count as failures.
func (p *OpenWeatherProvider) SetCircuitBreaker(cb *circuitbreaker.CircuitBreaker) {
	p.breaker = cb
}

type owmForecastResponse struct {
	City struct {
		Name     string `json:"name"`
		Country  string `json:"country"`
		Timezone int    `json:"timezone"` // seconds east of UTC
	} `json:"city"`
	List []owmSlot `json:"list"`
}

type owmSlot struct {
	Dt   int64 `json:"dt"`
	Main struct {
		Temp     float64  `json:"temp"`
		TempMin  *float64 `json:"temp_min"` // nil when absent; 0 is a real reading
		TempMax  *float64 `json:"temp_max"`
		Humidity float64  `json:"humidity"`
	} `json:"main"`
	Weather []struct {
		Main        string `json:"main"`
		Description string `json:"description"`
		Icon        string `json:"icon"`
	} `json:"weather"`
	Wind struct {
		Speed float64 `json:"speed"`
		Deg   float64 `json:"deg"`
	} `json:"wind"`
}

func (p *OpenWeatherProvider) GetForecast(ctx context.Context, city string) (models.ForecastResponse, error) {
	var lastErr error

	for attempt := 0; attempt < p.retryAttempts; attempt++ {
		if attempt > 0 {
			observability.UpstreamRetriesTotal.Inc()
			delay := p.calculateBackoff(attempt)
			select {
			case <-ctx.Done():
				return models.ForecastResponse{}, ctx.Err()
			case <-time.After(delay):
			}
		}

		result, err := p.guardedCall(ctx, city)
		if err == nil {
			return result, nil
		}

		lastErr = err
		if !p.isRetryable(err) {
			return models.ForecastResponse{}, err
		}
	}

	return models.ForecastResponse{}, fmt.Errorf("exhausted retries: %w", lastErr)
}

func (p *OpenWeatherProvider) guardedCall(ctx context.Context, city string) (models.ForecastResponse, error) {
	if p.breaker == nil {
		return p.callAPI(ctx, city)
	}
	var result models.ForecastResponse
	var notFound error
	err := p.breaker.Call(ctx, func() error {
		r, err := p.callAPI(ctx, city)
		if errors.Is(err, ErrCityNotFound) {
			notFound = err
			return nil
		}
		result = r
		return err
	})
	if notFound != nil {
		return models.ForecastResponse{}, notFound
	}
	if errors.Is(err, circuitbreaker.ErrOpen) {
		return models.ForecastResponse{}, fmt.Errorf("%w: %w", ErrUpstreamFailure, err)
	}
	return result, err
}

func (p *OpenWeatherProvider) callAPI(ctx context.Context, city string) (models.ForecastResponse, error) {
	start := time.Now()

	reqCtx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	req, err := p.buildRequest(reqCtx, city)
	if err != nil {
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		return models.ForecastResponse{}, fmt.Errorf("build request: %w", err)
	}

	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		duration := time.Since(start).Seconds()
		observability.UpstreamCallsTotal.WithLabelValues("error").Inc()
		observability.UpstreamDuration.WithLabelValues("error").Observe(duration)

		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.ForecastResponse{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.ForecastResponse{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	status := statusLabel(resp.StatusCode)
	observability.UpstreamCallsTotal.WithLabelValues(status).Inc()
	observability.UpstreamDuration.WithLabelValues(status).Observe(time.Since(start).Seconds())

	if err := handleErrorResponse(resp); err != nil {
		return models.ForecastResponse{}, err
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return models.ForecastResponse{}, fmt.Errorf("read response body: %w", err)
	}

	var apiResp owmForecastResponse
	if err := json.Unmarshal(body, &apiResp); err != nil {
		return models.ForecastResponse{}, fmt.Errorf("parse response: %w", err)
	}
	if len(apiResp.List) == 0 {
		return models.ForecastResponse{}, fmt.Errorf("%w: empty forecast list", ErrUpstreamFailure)
	}

	return mapResponse(apiResp, city), nil
}

func (p *OpenWeatherProvider) isRetryable(err error) bool {
	if err == nil {
		return false
	}

	if errors.Is(err, circuitbreaker.ErrOpen) {
		return false
	}
	if errors.Is(err, ErrRateLimited) || errors.Is(err, ErrUpstreamFailure) {
		return true
	}

	errStr := err.Error()
	return strings.Contains(errStr, "timeout") || strings.Contains(errStr, "context deadline exceeded")
}

func (p *OpenWeatherProvider) calculateBackoff(attempt int) time.Duration {
	delay := float64(p.retryBaseDelay) * math.Pow(2, float64(attempt-1))
	if delay > float64(p.retryMaxDelay) {
		delay = float64(p.retryMaxDelay)
	}

	jitter := delay * 0.1 * rand.Float64()
	return time.Duration(delay + jitter)
}

func (p *OpenWeatherProvider) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	baseURL, err := url.Parse(p.apiURL)
	if err != nil {
		return nil, fmt.Errorf("invalid API URL: %w", err)
	}

	params := baseURL.Query()
	params.Set("q", city)
	params.Set("appid", p.apiKey)
	params.Set("units", "metric")
	baseURL.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, baseURL.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}

	req.Header.Set("Accept", "application/json")
	return req, nil
}

func handleErrorResponse(resp *http.Response) error {
	switch resp.StatusCode {
	case http.StatusUnauthorized:
		return fmt.Errorf("%w: invalid API key", ErrInvalidAPIKey)
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrCityNotFound)
	case http.StatusTooManyRequests:
		return fmt.Errorf("%w", ErrRateLimited)
	}

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%w: HTTP %d", ErrUpstreamFailure, resp.StatusCode)
	}
	return nil
}

func statusLabel(statusCode int) string {
	if statusCode >= 200 && statusCode < 300 {
		return "success"
	}
	if statusCode == 429 {
		return "rate_limited"
	}
	if statusCode >= 400 && statusCode < 500 {
		return "client_error"
	}
	if statusCode >= 500 {
		return "server_error"
	}
	return "error"
}
