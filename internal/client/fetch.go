package client

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"

	"github.com/kjstillabower/weather-forecast-app/internal/models"
	"github.com/kjstillabower/weather-forecast-app/internal/observability"
)

// User-facing messages shown in place of the location when a fetch fails.
const (
	NotFoundMessage    = "no such town or city"
	ServerErrorMessage = "server error, try again later"
	FallbackMessage    = "unable to fetch forecast, try again later"
)

// StateSetters receive the outcome of a fetch. Each setter owns exactly one piece of UI state.
// When Apply is set, every setter call for one outcome runs inside a single Apply call.
type StateSetters struct {
	SetErrorMessage func(string)
	SetSelectedDate func(string)
	SetForecasts    func([]models.Forecast)
	SetLocation     func(models.Location)
	Apply           func(func())
}

func (s StateSetters) apply(fn func()) {
	if s.Apply == nil {
		fn()
		return
	}
	s.Apply(fn)
}

// FetchForecast looks up searchText and applies the result through setters.
//
// On success the selected date becomes the first forecast's date, the list and location are
// replaced, and any previous error message is cleared. On failure only the error message is set;
// forecasts and location keep their previous values.
func FetchForecast(ctx context.Context, c ForecastClient, searchText string, setters StateSetters, logger *zap.Logger) {
	start := time.Now()
	resp, err := c.GetForecast(ctx, searchText)
	if err != nil {
		category := CategorizeError(err)
		observability.ForecastFetchesTotal.WithLabelValues(string(category)).Inc()
		observability.ForecastFetchDuration.WithLabelValues(string(category)).Observe(time.Since(start).Seconds())
		if logger != nil {
			logger.Warn("forecast fetch failed",
				zap.String("search_text", searchText),
				zap.String("category", string(category)),
				zap.Error(err))
		}
		msg := ErrorMessage(err)
		setters.apply(func() { setters.SetErrorMessage(msg) })
		return
	}

	observability.ForecastFetchesTotal.WithLabelValues("success").Inc()
	observability.ForecastFetchDuration.WithLabelValues("success").Observe(time.Since(start).Seconds())
	if logger != nil {
		logger.Debug("forecast fetched",
			zap.String("search_text", searchText),
			zap.String("city", resp.Location.City),
			zap.Int("forecasts", len(resp.Forecasts)))
	}

	setters.apply(func() {
		setters.SetErrorMessage("")
		setters.SetSelectedDate(resp.Forecasts[0].Date)
		setters.SetForecasts(resp.Forecasts)
		setters.SetLocation(resp.Location)
	})
}

// ErrorMessage maps a fetch error to the text shown to the user.
func ErrorMessage(err error) string {
	switch {
	case err == nil:
		return ""
	case errors.Is(err, ErrLocationNotFound):
		return NotFoundMessage
	case errors.Is(err, ErrServerError):
		return ServerErrorMessage
	default:
		return FallbackMessage
	}
}
