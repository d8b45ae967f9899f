package forecast

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

// Forecast is an hourly irradiance and temperature forecast. The slices are
// index aligned.
type Forecast struct {
	Timestamps []time.Time
	// Irradiance is global horizontal irradiance in W/m².
	Irradiance []float64
	// Temperature is ambient air temperature in °C.
	Temperature []float64
}

// Provider fetches hourly forecasts.
type Provider interface {
	FetchForecast(ctx context.Context, lat, lon float64, hours int) (Forecast, error)
}

// Model converts irradiance into panel output.
type Model struct {
	// PanelArea is in m².
	PanelArea float64
	// Efficiency is the fraction of irradiance converted at the reference
	// temperature.
	Efficiency float64
	// TempCoefficient is the fractional change in output per °C above the
	// reference temperature. It is negative for silicon panels.
	TempCoefficient float64
	// ReferenceTemperature is in °C.
	ReferenceTemperature float64
}

// Power returns the predicted output in W. Irradiance at or below zero always
// yields zero.
func (m Model) Power(irradiance, temperature float64) float64 {
	if !(irradiance > 0) {
		return 0
	}
	return m.PanelArea * m.Efficiency * irradiance * (1 + m.TempCoefficient*(temperature-m.ReferenceTemperature))
}

// Predict returns one sample per forecast hour with TimeLocal rendered in loc.
func (m Model) Predict(f Forecast, loc *time.Location) ([]types.SolarSample, error) {
	if len(f.Irradiance) != len(f.Timestamps) || len(f.Temperature) != len(f.Timestamps) {
		return nil, fmt.Errorf(
			"forecast arrays differ in length: %d timestamps, %d irradiance, %d temperature",
			len(f.Timestamps), len(f.Irradiance), len(f.Temperature),
		)
	}
	samples := make([]types.SolarSample, 0, len(f.Timestamps))
	for i, ts := range f.Timestamps {
		samples = append(samples, types.SolarSample{
			TimeUTC:        ts.UTC().Format(time.RFC3339),
			TimeLocal:      ts.In(loc).Format("2006-01-02T15:04"),
			Irradiance:     f.Irradiance[i],
			Temperature:    f.Temperature[i],
			PredictedPower: m.Power(f.Irradiance[i], f.Temperature[i]),
		})
	}
	return samples, nil
}

// WeatherProvider fetches current conditions.
type WeatherProvider interface {
	Current(ctx context.Context, lat, lon float64) (types.Weather, error)
}

// Forecaster fetches a forecast for one site and runs it through the model.
type Forecaster struct {
	provider Provider
	weather  WeatherProvider
	model    Model
	lat      float64
	lon      float64
	hours    int
	loc      *time.Location
}

// NewForecaster returns a Forecaster for the site at lat, lon.
func NewForecaster(provider Provider, model Model, lat, lon float64, hours int, loc *time.Location) *Forecaster {
	return &Forecaster{
		provider: provider,
		model:    model,
		lat:      lat,
		lon:      lon,
		hours:    hours,
		loc:      loc,
	}
}

// Configured sets up the forecaster based on flags.
func Configured() *Forecaster {
	area := 10.0
	lflag.JSON(&area, "solar-panel-area", area, "Total panel area in m²")
	efficiency := 0.2
	lflag.JSON(&efficiency, "solar-panel-efficiency", efficiency, "Panel efficiency at the reference temperature (0-1)")
	tempCoeff := -0.004
	lflag.JSON(&tempCoeff, "solar-temp-coefficient", tempCoeff, "Fractional change in panel output per °C above the reference temperature")
	refTemp := 25.0
	lflag.JSON(&refTemp, "solar-reference-temperature", refTemp, "Panel reference temperature in °C")
	lat := 58.41
	lflag.JSON(&lat, "site-latitude", lat, "Latitude of the panels")
	lon := 15.62
	lflag.JSON(&lon, "site-longitude", lon, "Longitude of the panels")
	hours := lflag.Int("solar-forecast-hours", 48, "Number of forecast hours to fetch")
	timezone := lflag.String("site-timezone", "Europe/Stockholm", "Time zone used for local forecast times")
	om := configuredOpenMeteo()
	metno := configuredMetNo()

	f := &Forecaster{}

	lflag.Do(func() {
		if area <= 0 {
			panic(fmt.Sprintf("solar-panel-area must be positive: %v", area))
		}
		if efficiency <= 0 || efficiency > 1 {
			panic(fmt.Sprintf("solar-panel-efficiency must be in (0, 1]: %v", efficiency))
		}
		if *hours <= 0 {
			panic(fmt.Sprintf("solar-forecast-hours must be positive: %d", *hours))
		}
		if err := om.Validate(); err != nil {
			panic(fmt.Sprintf("forecast provider validation failed: %v", err))
		}
		loc, err := time.LoadLocation(*timezone)
		if err != nil {
			panic(fmt.Sprintf("failed to load site-timezone %q: %v", *timezone, err))
		}
		*f = *NewForecaster(om, Model{
			PanelArea:            area,
			Efficiency:           efficiency,
			TempCoefficient:      tempCoeff,
			ReferenceTemperature: refTemp,
		}, lat, lon, *hours, loc)
		f.weather = metno
	})

	return f
}

// WithWeather sets the provider used by Weather.
func (f *Forecaster) WithWeather(w WeatherProvider) *Forecaster {
	f.weather = w
	return f
}

// Weather returns the current conditions at the site.
func (f *Forecaster) Weather(ctx context.Context) (types.Weather, error) {
	if f.weather == nil {
		return types.Weather{}, fmt.Errorf("no weather provider configured")
	}
	w, err := f.weather.Current(ctx, f.lat, f.lon)
	if err != nil {
		return types.Weather{}, fmt.Errorf("failed to fetch current weather: %w", err)
	}
	return w, nil
}

// Location returns the site's time zone.
func (f *Forecaster) Location() *time.Location {
	return f.loc
}

// Fetch returns predicted samples for the configured number of hours.
func (f *Forecaster) Fetch(ctx context.Context) ([]types.SolarSample, error) {
	fc, err := f.provider.FetchForecast(ctx, f.lat, f.lon, f.hours)
	if err != nil {
		return nil, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	samples, err := f.model.Predict(fc, f.loc)
	if err != nil {
		return nil, fmt.Errorf("failed to predict solar output: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "predicted solar output", slog.Int("hours", len(samples)))
	return samples, nil
}
