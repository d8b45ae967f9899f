package forecast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/common"
	"github.com/raterudder/homeplug/pkg/log"
)

// OpenMeteo implements the Provider interface using the Open-Meteo forecast
// API. Times are requested in UTC.
type OpenMeteo struct {
	apiURL string
	client *http.Client
}

var _ Provider = (*OpenMeteo)(nil)

func configuredOpenMeteo() *OpenMeteo {
	o := &OpenMeteo{
		client: common.HTTPClient(10 * time.Second),
	}
	apiURL := lflag.String("open-meteo-api-url", "https://api.open-meteo.com/v1/forecast", "URL for the Open-Meteo forecast API")

	lflag.Do(func() {
		o.apiURL = *apiURL
	})

	return o
}

// NewOpenMeteo returns an OpenMeteo talking to apiURL with client.
func NewOpenMeteo(apiURL string, client *http.Client) *OpenMeteo {
	return &OpenMeteo{apiURL: apiURL, client: client}
}

// Validate ensures the configuration is valid.
func (o *OpenMeteo) Validate() error {
	if o.apiURL == "" {
		return fmt.Errorf("open-meteo-api-url is required")
	}
	if _, err := url.Parse(o.apiURL); err != nil {
		return fmt.Errorf("failed to parse open-meteo url (%s): %w", o.apiURL, err)
	}
	return nil
}

type openMeteoResponse struct {
	Hourly struct {
		Time               []string   `json:"time"`
		ShortwaveRadiation []*float64 `json:"shortwave_radiation"`
		Temperature2m      []*float64 `json:"temperature_2m"`
	} `json:"hourly"`
}

// FetchForecast implements Provider. Hours where the API returned null for
// either variable are dropped.
func (o *OpenMeteo) FetchForecast(ctx context.Context, lat, lon float64, hours int) (Forecast, error) {
	u, err := url.Parse(o.apiURL)
	if err != nil {
		return Forecast{}, fmt.Errorf("invalid api url: %w", err)
	}
	params := url.Values{}
	params.Set("latitude", strconv.FormatFloat(lat, 'f', -1, 64))
	params.Set("longitude", strconv.FormatFloat(lon, 'f', -1, 64))
	params.Set("hourly", "shortwave_radiation,temperature_2m")
	params.Set("timezone", "UTC")
	params.Set("forecast_hours", strconv.Itoa(hours))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return Forecast{}, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching forecast from open-meteo", slog.String("url", u.String()))

	resp, err := o.client.Do(req)
	if err != nil {
		return Forecast{}, fmt.Errorf("failed to fetch forecast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return Forecast{}, fmt.Errorf("open-meteo api returned status: %d", resp.StatusCode)
	}

	var data openMeteoResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return Forecast{}, fmt.Errorf("failed to decode response: %w", err)
	}
	h := data.Hourly
	if len(h.ShortwaveRadiation) != len(h.Time) || len(h.Temperature2m) != len(h.Time) {
		return Forecast{}, fmt.Errorf(
			"open-meteo arrays differ in length: %d times, %d radiation, %d temperature",
			len(h.Time), len(h.ShortwaveRadiation), len(h.Temperature2m),
		)
	}

	var f Forecast
	for i, ts := range h.Time {
		t, err := time.ParseInLocation("2006-01-02T15:04", ts, time.UTC)
		if err != nil {
			log.Ctx(ctx).WarnContext(ctx, "failed to parse open-meteo time", slog.String("value", ts), slog.Any("error", err))
			continue
		}
		if h.ShortwaveRadiation[i] == nil || h.Temperature2m[i] == nil {
			continue
		}
		f.Timestamps = append(f.Timestamps, t)
		f.Irradiance = append(f.Irradiance, *h.ShortwaveRadiation[i])
		f.Temperature = append(f.Temperature, *h.Temperature2m[i])
	}
	log.Ctx(ctx).DebugContext(ctx, "fetched forecast", slog.Int("hours", len(f.Timestamps)))
	return f, nil
}
