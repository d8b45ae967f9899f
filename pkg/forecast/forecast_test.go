package forecast

import (
	"context"
	"errors"
	"log/slog"
	"math"
	"testing"
	"time"

	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/storage"
	"github.com/raterudder/homeplug/pkg/types"
	"github.com/levenlabs/go-lflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	log.SetDefaultLogLevel(slog.LevelError)
}

var testModel = Model{
	PanelArea:            10,
	Efficiency:           0.2,
	TempCoefficient:      -0.004,
	ReferenceTemperature: 25,
}

func TestModelPower(t *testing.T) {
	t.Run("NonPositiveIrradiance", func(t *testing.T) {
		for _, irr := range []float64{0, -0.0001, -1, -500, math.Inf(-1), math.NaN()} {
			for _, temp := range []float64{-30, 0, 25, 60} {
				assert.Equal(t, 0.0, testModel.Power(irr, temp), "irradiance %v temperature %v", irr, temp)
			}
		}
	})

	t.Run("ReferenceTemperature", func(t *testing.T) {
		// 10 m² * 0.2 * 800 W/m²
		assert.InDelta(t, 1600, testModel.Power(800, 25), 1e-9)
	})

	t.Run("Derating", func(t *testing.T) {
		// 10 °C above reference loses 4%
		assert.InDelta(t, 1536, testModel.Power(800, 35), 1e-9)
		// 10 °C below reference gains 4%
		assert.InDelta(t, 1664, testModel.Power(800, 15), 1e-9)
	})

	t.Run("LinearInIrradiance", func(t *testing.T) {
		for _, temp := range []float64{-10, 25, 40} {
			base := testModel.Power(100, temp)
			for _, k := range []float64{0.5, 2, 7.25} {
				assert.InDelta(t, k*base, testModel.Power(k*100, temp), 1e-9)
			}
		}
	})
}

func TestModelPredict(t *testing.T) {
	loc, err := time.LoadLocation("Europe/Stockholm")
	require.NoError(t, err)
	start := time.Date(2024, 6, 1, 10, 0, 0, 0, time.UTC)

	t.Run("Samples", func(t *testing.T) {
		samples, err := testModel.Predict(Forecast{
			Timestamps:  []time.Time{start, start.Add(time.Hour)},
			Irradiance:  []float64{500, -3},
			Temperature: []float64{25, 12},
		}, loc)
		require.NoError(t, err)
		require.Len(t, samples, 2)

		assert.Equal(t, types.SolarSample{
			TimeUTC:        "2024-06-01T10:00:00Z",
			TimeLocal:      "2024-06-01T12:00",
			Irradiance:     500,
			Temperature:    25,
			PredictedPower: 1000,
		}, samples[0])
		assert.Equal(t, 0.0, samples[1].PredictedPower)
		assert.Equal(t, "2024-06-01T11:00:00Z", samples[1].TimeUTC)
	})

	t.Run("LengthMismatch", func(t *testing.T) {
		_, err := testModel.Predict(Forecast{
			Timestamps:  []time.Time{start, start.Add(time.Hour)},
			Irradiance:  []float64{500},
			Temperature: []float64{25, 12},
		}, loc)
		assert.ErrorContains(t, err, "differ in length")
	})

	t.Run("Empty", func(t *testing.T) {
		samples, err := testModel.Predict(Forecast{}, loc)
		require.NoError(t, err)
		assert.Empty(t, samples)
	})
}

type fakeForecastProvider struct {
	forecast Forecast
	err      error
	calls    int
}

func (f *fakeForecastProvider) FetchForecast(ctx context.Context, lat, lon float64, hours int) (Forecast, error) {
	f.calls++
	return f.forecast, f.err
}

type fakeWeather struct {
	weather types.Weather
}

func (f fakeWeather) Current(ctx context.Context, lat, lon float64) (types.Weather, error) {
	return f.weather, nil
}

func TestForecaster(t *testing.T) {
	ctx := context.Background()
	start := time.Date(2024, 6, 1, 0, 0, 0, 0, time.UTC)
	hourly := Forecast{}
	for i := 0; i < 6; i++ {
		hourly.Timestamps = append(hourly.Timestamps, start.Add(time.Duration(i)*time.Hour))
		hourly.Irradiance = append(hourly.Irradiance, float64(i*100))
		hourly.Temperature = append(hourly.Temperature, 20)
	}

	t.Run("FetchIntoStore", func(t *testing.T) {
		provider := &fakeForecastProvider{forecast: hourly}
		f := NewForecaster(provider, testModel, 58.41, 15.62, 6, time.UTC)
		store := storage.NewStore(storage.NewMemory(), storage.DefaultRetentionCap)

		samples, err := f.Fetch(ctx)
		require.NoError(t, err)
		added, err := store.Solar.AppendAll(ctx, samples)
		require.NoError(t, err)
		assert.Equal(t, 6, added)

		// the next hourly run sees an overlapping forecast
		samples, err = f.Fetch(ctx)
		require.NoError(t, err)
		added, err = store.Solar.AppendAll(ctx, samples)
		require.NoError(t, err)
		assert.Equal(t, 0, added)

		n, err := store.Solar.Count(ctx)
		require.NoError(t, err)
		assert.Equal(t, 6, n)
		assert.Equal(t, 2, provider.calls)
	})

	t.Run("ProviderError", func(t *testing.T) {
		boom := errors.New("boom")
		f := NewForecaster(&fakeForecastProvider{err: boom}, testModel, 0, 0, 6, time.UTC)
		_, err := f.Fetch(ctx)
		assert.ErrorIs(t, err, boom)
	})

	t.Run("RejectsMisalignedForecast", func(t *testing.T) {
		bad := hourly
		bad.Temperature = bad.Temperature[:2]
		f := NewForecaster(&fakeForecastProvider{forecast: bad}, testModel, 0, 0, 6, time.UTC)
		_, err := f.Fetch(ctx)
		assert.ErrorContains(t, err, "differ in length")
	})

	t.Run("Weather", func(t *testing.T) {
		f := NewForecaster(&fakeForecastProvider{}, testModel, 0, 0, 6, time.UTC)
		_, err := f.Weather(ctx)
		assert.Error(t, err)

		want := types.Weather{Time: start, Temperature: 14.5, WindSpeed: 3}
		f.WithWeather(fakeWeather{weather: want})
		got, err := f.Weather(ctx)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	})
}

func TestConfigured(t *testing.T) {
	lflag.Reset()
	t.Cleanup(lflag.Reset)

	f := Configured()
	lflag.Parse(lflag.SourceStub{
		"solar-panel-area":            "1.6",
		"solar-panel-efficiency":      "0.21",
		"solar-temp-coefficient":      "-0.0035",
		"solar-reference-temperature": "20",
		"site-latitude":               "59.33",
		"site-longitude":              "18.07",
		"solar-forecast-hours":        "24",
	})

	assert.Equal(t, Model{PanelArea: 1.6, Efficiency: 0.21, TempCoefficient: -0.0035, ReferenceTemperature: 20}, f.model)
	assert.Equal(t, 59.33, f.lat)
	assert.Equal(t, 18.07, f.lon)
	assert.Equal(t, 24, f.hours)
	assert.Equal(t, "Europe/Stockholm", f.Location().String())
	assert.NotNil(t, f.weather)

	t.Run("BadEfficiency", func(t *testing.T) {
		lflag.Reset()
		Configured()
		assert.Panics(t, func() {
			lflag.Parse(lflag.SourceStub{"solar-panel-efficiency": "1.5"})
		})
	})
}
