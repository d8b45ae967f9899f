package forecast

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"sync"
	"time"

	"github.com/levenlabs/go-lflag"
	"github.com/raterudder/homeplug/pkg/common"
	"github.com/raterudder/homeplug/pkg/log"
	"github.com/raterudder/homeplug/pkg/types"
)

// nowcastCacheDuration is how long a nowcast is reused. met.no asks clients
// not to poll more often than the data changes.
const nowcastCacheDuration = 5 * time.Minute

// MetNo fetches current conditions from the MET Norway nowcast API.
type MetNo struct {
	apiURL string
	client *http.Client
	now    func() time.Time

	mu          sync.Mutex
	lastFetch   time.Time
	lastKey     string
	lastWeather types.Weather
}

func configuredMetNo() *MetNo {
	m := &MetNo{
		client: common.HTTPClient(5 * time.Second),
		now:    time.Now,
	}
	apiURL := lflag.String("metno-api-url", "https://api.met.no/weatherapi/nowcast/2.0/complete", "URL for the MET Norway nowcast API")

	lflag.Do(func() {
		m.apiURL = *apiURL
	})

	return m
}

// NewMetNo returns a MetNo talking to apiURL with client.
func NewMetNo(apiURL string, client *http.Client) *MetNo {
	return &MetNo{apiURL: apiURL, client: client, now: time.Now}
}

type metNoResponse struct {
	Properties struct {
		Timeseries []struct {
			Time time.Time `json:"time"`
			Data struct {
				Instant struct {
					Details struct {
						AirTemperature *float64 `json:"air_temperature"`
						WindSpeed      *float64 `json:"wind_speed"`
					} `json:"details"`
				} `json:"instant"`
			} `json:"data"`
		} `json:"timeseries"`
	} `json:"properties"`
}

// Current returns the first nowcast entry for lat, lon. Results are cached for
// a few minutes per location.
func (m *MetNo) Current(ctx context.Context, lat, lon float64) (types.Weather, error) {
	key := fmt.Sprintf("%.2f,%.2f", lat, lon)
	now := m.now()

	m.mu.Lock()
	if m.lastKey == key && now.Sub(m.lastFetch) < nowcastCacheDuration {
		w := m.lastWeather
		m.mu.Unlock()
		return w, nil
	}
	m.mu.Unlock()

	u, err := url.Parse(m.apiURL)
	if err != nil {
		return types.Weather{}, fmt.Errorf("invalid api url: %w", err)
	}
	params := url.Values{}
	// met.no rejects more than 4 decimals
	params.Set("lat", strconv.FormatFloat(lat, 'f', 4, 64))
	params.Set("lon", strconv.FormatFloat(lon, 'f', 4, 64))
	u.RawQuery = params.Encode()

	req, err := http.NewRequestWithContext(ctx, "GET", u.String(), nil)
	if err != nil {
		return types.Weather{}, fmt.Errorf("failed to create request: %w", err)
	}
	log.Ctx(ctx).DebugContext(ctx, "fetching nowcast from met.no", "url", u.String())

	resp, err := m.client.Do(req)
	if err != nil {
		return types.Weather{}, fmt.Errorf("failed to fetch nowcast: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return types.Weather{}, fmt.Errorf("met.no api returned status: %d", resp.StatusCode)
	}

	var data metNoResponse
	if err := json.NewDecoder(resp.Body).Decode(&data); err != nil {
		return types.Weather{}, fmt.Errorf("failed to decode response: %w", err)
	}
	if len(data.Properties.Timeseries) == 0 {
		return types.Weather{}, errors.New("met.no response has no timeseries")
	}
	entry := data.Properties.Timeseries[0]
	details := entry.Data.Instant.Details
	if details.AirTemperature == nil {
		return types.Weather{}, errors.New("met.no response missing air_temperature")
	}
	w := types.Weather{
		Time:        entry.Time,
		Temperature: *details.AirTemperature,
	}
	if details.WindSpeed != nil {
		w.WindSpeed = *details.WindSpeed
	}

	m.mu.Lock()
	m.lastFetch = now
	m.lastKey = key
	m.lastWeather = w
	m.mu.Unlock()

	return w, nil
}
