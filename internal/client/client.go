package client

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"time"

	"github.com/kjstillabower/weather-forecast-app/internal/models"
	"github.com/kjstillabower/weather-forecast-app/internal/observability"
)

// ForecastClient fetches a forecast for a city; an empty city means the endpoint's default location.
type ForecastClient interface {
	GetForecast(ctx context.Context, city string) (models.ForecastResponse, error)
}

var (
	ErrLocationNotFound = errors.New("location not found")
	ErrServerError      = errors.New("server error")
	ErrUnexpectedStatus = errors.New("unexpected status")
	ErrEmptyForecast    = errors.New("empty forecast list")
)

const maxBodyBytes = 1 << 20

// HTTPForecastClient issues a single GET per lookup against a fixed base endpoint. It never retries.
type HTTPForecastClient struct {
	baseURL *url.URL
	client  *http.Client
}

func NewHTTPForecastClient(baseURL string, timeout time.Duration) (*HTTPForecastClient, error) {
	if baseURL == "" {
		return nil, fmt.Errorf("forecast endpoint is required")
	}
	u, err := url.Parse(baseURL)
	if err != nil {
		return nil, fmt.Errorf("invalid forecast endpoint: %w", err)
	}
	if u.Scheme != "http" && u.Scheme != "https" {
		return nil, fmt.Errorf("invalid forecast endpoint scheme %q", u.Scheme)
	}
	return &HTTPForecastClient{
		baseURL: u,
		client: &http.Client{
			Timeout: timeout,
		},
	}, nil
}

// GetForecast performs exactly one request. Non-200 statuses map to ErrLocationNotFound (404),
// ErrServerError (500) or ErrUnexpectedStatus.
func (c *HTTPForecastClient) GetForecast(ctx context.Context, city string) (models.ForecastResponse, error) {
	req, err := c.buildRequest(ctx, city)
	if err != nil {
		return models.ForecastResponse{}, fmt.Errorf("build request: %w", err)
	}

	resp, err := c.client.Do(req)
	if err != nil {
		if errors.Is(err, context.DeadlineExceeded) || errors.Is(err, context.Canceled) {
			return models.ForecastResponse{}, fmt.Errorf("request timeout: %w", err)
		}
		return models.ForecastResponse{}, fmt.Errorf("http request failed: %w", err)
	}
	defer resp.Body.Close()

	if err := statusError(resp.StatusCode); err != nil {
		return models.ForecastResponse{}, err
	}

	body, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyBytes))
	if err != nil {
		return models.ForecastResponse{}, fmt.Errorf("read response body: %w", err)
	}

	var out models.ForecastResponse
	if err := json.Unmarshal(body, &out); err != nil {
		return models.ForecastResponse{}, fmt.Errorf("parse response: %w", err)
	}
	if len(out.Forecasts) == 0 {
		return models.ForecastResponse{}, ErrEmptyForecast
	}
	return out, nil
}

func (c *HTTPForecastClient) buildRequest(ctx context.Context, city string) (*http.Request, error) {
	u := *c.baseURL
	if city != "" {
		params := u.Query()
		params.Set("city", city)
		u.RawQuery = params.Encode()
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("create request: %w", err)
	}
	req.Header.Set("Accept", "application/json")
	if corrID := observability.CorrelationID(ctx); corrID != "" {
		req.Header.Set("X-Correlation-ID", corrID)
	}
	return req, nil
}

func statusError(code int) error {
	switch code {
	case http.StatusOK:
		return nil
	case http.StatusNotFound:
		return fmt.Errorf("%w", ErrLocationNotFound)
	case http.StatusInternalServerError:
		return fmt.Errorf("%w: HTTP %d", ErrServerError, code)
	}
	return fmt.Errorf("%w: HTTP %d", ErrUnexpectedStatus, code)
}
