// Package app holds per-session UI state and wires user actions to the forecast client.
package app

import (
	"context"
	"sync"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-app/internal/client"
	"github.com/kjstillabower/weather-forecast-app/internal/models"
)

// State is everything the display components need to render.
type State struct {
	Location     models.Location   `json:"location"`
	SearchText   string            `json:"searchText"`
	ErrorMessage string            `json:"errorMessage"`
	SelectedDate string            `json:"selectedDate"`
	Forecasts    []models.Forecast `json:"forecasts"`
}

// SelectedForecast returns the forecast whose date matches SelectedDate.
func (s State) SelectedForecast() (models.Forecast, bool) {
	if s.SelectedDate == "" {
		return models.Forecast{}, false
	}
	for _, f := range s.Forecasts {
		if f.Date == s.SelectedDate {
			return f, true
		}
	}
	return models.Forecast{}, false
}

// Container owns the mutable UI state of one session.
// Fetches run without holding the lock; each outcome is applied under one lock acquisition.
// Concurrent fetches are not ordered, so the last response to arrive is the one left in state.
type Container struct {
	mu      sync.RWMutex
	state   State
	mounted bool

	client client.ForecastClient
	logger *zap.Logger
}

// NewContainer returns a Container with default state. logger may be nil.
func NewContainer(c client.ForecastClient, logger *zap.Logger) *Container {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Container{client: c, logger: logger}
}

// Mount performs the initial-load fetch on first render. Later calls do nothing.
// Reports whether a fetch was issued.
func (c *Container) Mount(ctx context.Context) bool {
	c.mu.Lock()
	if c.mounted {
		c.mu.Unlock()
		return false
	}
	c.mounted = true
	c.mu.Unlock()

	c.Submit(ctx)
	return true
}

// SetSearchText records the full value of the search field.
func (c *Container) SetSearchText(text string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SearchText = text
}

// Submit fetches the forecast for the current search text.
func (c *Container) Submit(ctx context.Context) {
	c.mu.RLock()
	search := c.state.SearchText
	c.mu.RUnlock()

	client.FetchForecast(ctx, c.client, search, c.setters(), c.logger)
}

// SelectDate marks the forecast for date as the one shown in detail.
func (c *Container) SelectDate(date string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.state.SelectedDate = date
}

// Snapshot returns a copy of the current state.
func (c *Container) Snapshot() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	s := c.state
	if c.state.Forecasts != nil {
		s.Forecasts = append([]models.Forecast(nil), c.state.Forecasts...)
	}
	return s
}

// setters write state directly; FetchForecast only calls them inside Apply, which holds the lock.
func (c *Container) setters() client.StateSetters {
	return client.StateSetters{
		SetErrorMessage: func(msg string) { c.state.ErrorMessage = msg },
		SetSelectedDate: func(date string) { c.state.SelectedDate = date },
		SetForecasts:    func(forecasts []models.Forecast) { c.state.Forecasts = forecasts },
		SetLocation:     func(loc models.Location) { c.state.Location = loc },
		Apply: func(fn func()) {
			c.mu.Lock()
			defer c.mu.Unlock()
			fn()
		},
	}
}
