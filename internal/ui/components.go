// Package ui renders the forecast page and its components as HTML.
package ui

import (
	"embed"
	"fmt"
	"html/template"
	"io"

	"github.com/kjstillabower/weather-forecast-app/internal/app"
	"github.com/kjstillabower/weather-forecast-app/internal/models"
)

//go:embed templates/*.html
var templateFS embed.FS

var templates = template.Must(template.New("ui").ParseFS(templateFS, "templates/*.html"))

// Routes the components post to. Kept here so markup and router agree.
const (
	SearchTextPath     = "/search/text"
	SearchSubmitPath   = "/search"
	SelectForecastPath = "/forecasts"
)

// SearchInputProps drives the search field and its submit control.
type SearchInputProps struct {
	SearchText string
	TextPath   string
	SubmitPath string
}

// LocationProps drives the location line. City and Country are required; ErrorMessage overrides both.
type LocationProps struct {
	City         string
	Country      string
	ErrorMessage string
}

// ForecastListProps drives the forecast summary list.
type ForecastListProps struct {
	Forecasts    []models.Forecast
	SelectedDate string
	SelectPath   string
	ErrorMessage string
}

// ForecastDetailProps drives the detail panel. Forecast is nil when nothing is selected.
type ForecastDetailProps struct {
	Forecast     *models.Forecast
	ErrorMessage string
}

// PageProps composes every component of the page.
type PageProps struct {
	Search   SearchInputProps
	Location LocationProps
	List     ForecastListProps
	Detail   ForecastDetailProps
}

// NewPageProps passes container state down to the components unchanged.
func NewPageProps(s app.State) PageProps {
	var selected *models.Forecast
	if f, ok := s.SelectedForecast(); ok {
		selected = &f
	}
	return PageProps{
		Search: SearchInputProps{
			SearchText: s.SearchText,
			TextPath:   SearchTextPath,
			SubmitPath: SearchSubmitPath,
		},
		Location: LocationProps{
			City:         s.Location.City,
			Country:      s.Location.Country,
			ErrorMessage: s.ErrorMessage,
		},
		List: ForecastListProps{
			Forecasts:    s.Forecasts,
			SelectedDate: s.SelectedDate,
			SelectPath:   SelectForecastPath,
			ErrorMessage: s.ErrorMessage,
		},
		Detail: ForecastDetailProps{
			Forecast:     selected,
			ErrorMessage: s.ErrorMessage,
		},
	}
}

// Text is the location line: the error message when set, else "{city}, {country}".
func (p LocationProps) Text() string {
	if p.ErrorMessage != "" {
		return p.ErrorMessage
	}
	return fmt.Sprintf("%s, %s", p.City, p.Country)
}

func RenderPage(w io.Writer, p PageProps) error {
	return templates.ExecuteTemplate(w, "page", p)
}

func RenderSearchInput(w io.Writer, p SearchInputProps) error {
	return templates.ExecuteTemplate(w, "search_input", p)
}

func RenderLocation(w io.Writer, p LocationProps) error {
	return templates.ExecuteTemplate(w, "location_display", p)
}

func RenderForecastList(w io.Writer, p ForecastListProps) error {
	return templates.ExecuteTemplate(w, "forecast_list", p)
}

func RenderForecastDetail(w io.Writer, p ForecastDetailProps) error {
	return templates.ExecuteTemplate(w, "forecast_detail", p)
}
