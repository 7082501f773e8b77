package provider

import (
	"math"
	"sort"
	"time"

	"github.com/kjstillabower/weather-forecast-app/internal/models"
)

var compassPoints = [...]string{
	"N", "NNE", "NE", "ENE", "E", "ESE", "SE", "SSE",
	"S", "SSW", "SW", "WSW", "W", "WNW", "NW", "NNW",
}

// compassDirection converts a bearing in degrees to a 16-point compass label.
func compassDirection(deg float64) string {
	deg = math.Mod(deg, 360)
	if deg < 0 {
		deg += 360
	}
	idx := int(math.Floor(deg/22.5+0.5)) % len(compassPoints)
	return compassPoints[idx]
}

type dayAggregate struct {
	date     string
	min, max float64
	noon     owmSlot
	noonDist time.Duration
}

// mapResponse folds 3-hour slots into one entry per local calendar day, earliest first.
// Temperatures span the whole day; the other attributes come from the slot closest to local noon.
func mapResponse(apiResp owmForecastResponse, requested string) models.ForecastResponse {
	loc := time.FixedZone("city", apiResp.City.Timezone)
	days := make(map[string]*dayAggregate)

	for _, slot := range apiResp.List {
		t := time.Unix(slot.Dt, 0).In(loc)
		date := t.Format("2006-01-02")
		noon := time.Date(t.Year(), t.Month(), t.Day(), 12, 0, 0, 0, loc)
		dist := t.Sub(noon)
		if dist < 0 {
			dist = -dist
		}

		lo, hi := slot.Main.Temp, slot.Main.Temp
		if slot.Main.TempMin != nil {
			lo = *slot.Main.TempMin
		}
		if slot.Main.TempMax != nil {
			hi = *slot.Main.TempMax
		}

		day, ok := days[date]
		if !ok {
			days[date] = &dayAggregate{date: date, min: lo, max: hi, noon: slot, noonDist: dist}
			continue
		}
		day.min = math.Min(day.min, lo)
		day.max = math.Max(day.max, hi)
		if dist < day.noonDist {
			day.noon = slot
			day.noonDist = dist
		}
	}

	ordered := make([]*dayAggregate, 0, len(days))
	for _, d := range days {
		ordered = append(ordered, d)
	}
	sort.Slice(ordered, func(i, j int) bool { return ordered[i].date < ordered[j].date })

	forecasts := make([]models.Forecast, 0, len(ordered))
	for _, d := range ordered {
		forecasts = append(forecasts, dailyForecast(d))
	}

	city := apiResp.City.Name
	if city == "" {
		city = requested
	}
	return models.ForecastResponse{
		Location:  models.Location{City: city, Country: apiResp.City.Country},
		Forecasts: forecasts,
	}
}

func dailyForecast(d *dayAggregate) models.Forecast {
	description, icon := "", ""
	if len(d.noon.Weather) > 0 {
		description = d.noon.Weather[0].Description
		if description == "" {
			description = d.noon.Weather[0].Main
		}
		icon = d.noon.Weather[0].Icon
	}
	return models.Forecast{
		Date: d.date,
		Attributes: map[string]interface{}{
			"description": description,
			"icon":        icon,
			"humidity":    d.noon.Main.Humidity,
			"temperature": map[string]interface{}{
				"max": round1(d.max),
				"min": round1(d.min),
			},
			"wind": map[string]interface{}{
				"speed":     round1(d.noon.Wind.Speed),
				"direction": compassDirection(d.noon.Wind.Deg),
			},
		},
	}
}

func round1(v float64) float64 {
	return math.Round(v*10) / 10
}
