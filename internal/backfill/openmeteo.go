// Package backfill fetches historical aggregates from the Open-Meteo archive
// API. The station vendor exposes no working historical endpoint, so the
// climate archive (keyed by station coordinates) and user spreadsheet exports
// are the only ways to fill gaps in the timeline.
package backfill

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/sony/gobreaker"
	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/httpx"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// Client queries Open-Meteo for a fixed station location.
type Client struct {
	archiveURL  string
	forecastURL string
	lat, lon    float64
	httpCfg     httpx.ClientConfig
	circuit     *gobreaker.CircuitBreaker
	log         *zap.Logger
}

// NewClient creates a backfill client for the station coordinates.
func NewClient(client *http.Client, lat, lon float64, log *zap.Logger) *Client {
	return &Client{
		archiveURL:  "https://archive-api.open-meteo.com/v1/archive",
		forecastURL: "https://api.open-meteo.com/v1/forecast",
		lat:         lat,
		lon:         lon,
		httpCfg:     httpx.ClientConfig{Client: client, Backoff: httpx.DefaultBackoff()},
		circuit:     httpx.NewBreaker("openmeteo"),
		log:         log,
	}
}

// Hourly fetches hourly aggregates for [start, end] and maps them 1:1 to
// records tagged with the backfill source.
func (c *Client) Hourly(ctx context.Context, start, end time.Time) ([]weather.Record, error) {
	values := c.baseValues(start, end)
	values.Set("hourly", "temperature_2m,relative_humidity_2m,surface_pressure,wind_speed_10m,wind_direction_10m,precipitation,dew_point_2m")

	var payload struct {
		Hourly struct {
			Time          []string   `json:"time"`
			Temperature   []*float64 `json:"temperature_2m"`
			Humidity      []*float64 `json:"relative_humidity_2m"`
			Pressure      []*float64 `json:"surface_pressure"`
			WindSpeed     []*float64 `json:"wind_speed_10m"`
			WindDirection []*float64 `json:"wind_direction_10m"`
			Precipitation []*float64 `json:"precipitation"`
			DewPoint      []*float64 `json:"dew_point_2m"`
		} `json:"hourly"`
	}
	if err := c.fetch(ctx, c.archiveURL, values, &payload); err != nil {
		return nil, err
	}

	h := payload.Hourly
	records := make([]weather.Record, 0, len(h.Time))
	for i, t := range h.Time {
		ts, err := parseAPITime(t)
		if err != nil {
			c.log.Warn("skipping backfill row", zap.String("time", t), zap.Error(err))
			continue
		}
		rec := weather.Record{
			Timestamp:     ts,
			Source:        weather.SourceBackfill,
			Temperature:   at(h.Temperature, i),
			Humidity:      at(h.Humidity, i),
			Pressure:      at(h.Pressure, i),
			WindSpeed:     at(h.WindSpeed, i),
			WindDirection: at(h.WindDirection, i),
			Rainfall:      at(h.Precipitation, i),
			DewPoint:      at(h.DewPoint, i),
		}
		if rec.HasObservations() {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Daily fetches daily aggregates for [start, end]. Humidity is not available
// at daily granularity and is left unset.
func (c *Client) Daily(ctx context.Context, start, end time.Time) ([]weather.Record, error) {
	values := c.baseValues(start, end)
	values.Set("daily", "temperature_2m_mean,precipitation_sum,wind_speed_10m_max")

	var payload struct {
		Daily struct {
			Time          []string   `json:"time"`
			Temperature   []*float64 `json:"temperature_2m_mean"`
			Precipitation []*float64 `json:"precipitation_sum"`
			WindSpeedMax  []*float64 `json:"wind_speed_10m_max"`
		} `json:"daily"`
	}
	if err := c.fetch(ctx, c.archiveURL, values, &payload); err != nil {
		return nil, err
	}

	d := payload.Daily
	records := make([]weather.Record, 0, len(d.Time))
	for i, t := range d.Time {
		ts, err := parseAPITime(t)
		if err != nil {
			c.log.Warn("skipping backfill row", zap.String("time", t), zap.Error(err))
			continue
		}
		rec := weather.Record{
			Timestamp:   ts,
			Source:      weather.SourceBackfill,
			Temperature: at(d.Temperature, i),
			Rainfall:    at(d.Precipitation, i),
			WindGust:    at(d.WindSpeedMax, i),
		}
		if rec.HasObservations() {
			records = append(records, rec)
		}
	}
	return records, nil
}

// Current fetches the current conditions for the station location. The
// collector uses it as the fallback reading when the device is offline.
func (c *Client) Current(ctx context.Context) (*weather.Record, error) {
	values := url.Values{}
	values.Set("latitude", formatCoord(c.lat))
	values.Set("longitude", formatCoord(c.lon))
	values.Set("current_weather", "true")
	values.Set("windspeed_unit", "ms")

	var payload struct {
		CurrentWeather struct {
			Temperature   float64 `json:"temperature"`
			WindSpeed     float64 `json:"windspeed"`
			WindDirection float64 `json:"winddirection"`
			Time          string  `json:"time"`
		} `json:"current_weather"`
	}
	if err := c.fetch(ctx, c.forecastURL, values, &payload); err != nil {
		return nil, err
	}

	ts, err := parseAPITime(payload.CurrentWeather.Time)
	if err != nil {
		ts = time.Now().UTC()
	}
	return &weather.Record{
		Timestamp:     ts,
		Source:        weather.SourceAPIPoll,
		Temperature:   weather.Float(payload.CurrentWeather.Temperature),
		WindSpeed:     weather.Float(payload.CurrentWeather.WindSpeed),
		WindDirection: weather.Float(payload.CurrentWeather.WindDirection),
	}, nil
}

func (c *Client) baseValues(start, end time.Time) url.Values {
	values := url.Values{}
	values.Set("latitude", formatCoord(c.lat))
	values.Set("longitude", formatCoord(c.lon))
	values.Set("start_date", start.UTC().Format("2006-01-02"))
	values.Set("end_date", end.UTC().Format("2006-01-02"))
	values.Set("windspeed_unit", "ms")
	values.Set("timezone", "UTC")
	return values
}

func (c *Client) fetch(ctx context.Context, baseURL string, values url.Values, out any) error {
	buildRequest := func() (*http.Request, error) {
		return http.NewRequest(http.MethodGet, fmt.Sprintf("%s?%s", baseURL, values.Encode()), nil)
	}

	resp, err := httpx.DoWithResilience(ctx, c.httpCfg, c.circuit, buildRequest)
	if err != nil {
		return err
	}
	defer resp.Body.Close()

	if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
		return fmt.Errorf("decode open-meteo response: %w", err)
	}
	return nil
}

// parseAPITime handles both the date-only and the minute-resolution shapes
// Open-Meteo returns.
func parseAPITime(s string) (time.Time, error) {
	for _, layout := range []string{"2006-01-02T15:04", time.RFC3339, "2006-01-02"} {
		if ts, err := time.Parse(layout, s); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognized time %q", s)
}

func at(vals []*float64, i int) *float64 {
	if i < len(vals) {
		return vals[i]
	}
	return nil
}

func formatCoord(v float64) string {
	return strconv.FormatFloat(v, 'f', 6, 64)
}
