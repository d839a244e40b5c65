package backfill

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/weather"
)

func newTestClient(archive, forecast string) *Client {
	c := NewClient(http.DefaultClient, 50.087, 14.421, zap.NewNop())
	if archive != "" {
		c.archiveURL = archive
	}
	if forecast != "" {
		c.forecastURL = forecast
	}
	return c
}

func TestHourlyMapsSeriesToRecords(t *testing.T) {
	var gotQuery map[string]string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotQuery = map[string]string{
			"latitude":       r.URL.Query().Get("latitude"),
			"windspeed_unit": r.URL.Query().Get("windspeed_unit"),
			"hourly":         r.URL.Query().Get("hourly"),
			"timezone":       r.URL.Query().Get("timezone"),
		}
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"hourly": {
				"time": ["2025-06-01T00:00", "2025-06-01T01:00", "2025-06-01T02:00"],
				"temperature_2m": [14.2, 13.8, null],
				"relative_humidity_2m": [82, 85, null],
				"surface_pressure": [1012.4, 1012.1, null],
				"wind_speed_10m": [2.1, 1.8, null],
				"wind_direction_10m": [270, 265, null],
				"precipitation": [0.0, 0.2, null],
				"dew_point_2m": [11.0, 11.2, null]
			}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	records, err := c.Hourly(context.Background(),
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 1, 23, 0, 0, 0, time.UTC))
	require.NoError(t, err)

	// The all-null third hour carries no observations and is dropped.
	require.Len(t, records, 2)
	require.Equal(t, weather.SourceBackfill, records[0].Source)
	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), records[0].Timestamp)
	require.InDelta(t, 14.2, *records[0].Temperature, 1e-9)
	require.InDelta(t, 82.0, *records[0].Humidity, 1e-9)
	require.InDelta(t, 0.2, *records[1].Rainfall, 1e-9)
	require.InDelta(t, 11.2, *records[1].DewPoint, 1e-9)

	require.Equal(t, "50.087000", gotQuery["latitude"])
	require.Equal(t, "ms", gotQuery["windspeed_unit"])
	require.Equal(t, "UTC", gotQuery["timezone"])
	require.Contains(t, gotQuery["hourly"], "temperature_2m")
}

func TestDailyOmitsHumidity(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.NotEmpty(t, r.URL.Query().Get("daily"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"daily": {
				"time": ["2025-06-01", "2025-06-02"],
				"temperature_2m_mean": [15.3, 16.1],
				"precipitation_sum": [0.4, 0.0],
				"wind_speed_10m_max": [6.2, 4.9]
			}
		}`))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	records, err := c.Daily(context.Background(),
		time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
		time.Date(2025, 6, 2, 0, 0, 0, 0, time.UTC))
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC), records[0].Timestamp)
	require.InDelta(t, 15.3, *records[0].Temperature, 1e-9)
	require.InDelta(t, 0.4, *records[0].Rainfall, 1e-9)
	require.InDelta(t, 6.2, *records[0].WindGust, 1e-9)
	require.Nil(t, records[0].Humidity)
}

func TestCurrentMapsToAPIPollRecord(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "true", r.URL.Query().Get("current_weather"))
		w.Header().Set("Content-Type", "application/json")
		w.Write([]byte(`{
			"current_weather": {
				"temperature": 18.4,
				"windspeed": 3.1,
				"winddirection": 200,
				"time": "2025-06-01T12:00"
			}
		}`))
	}))
	defer srv.Close()

	c := newTestClient("", srv.URL)
	rec, err := c.Current(context.Background())
	require.NoError(t, err)

	require.Equal(t, weather.SourceAPIPoll, rec.Source)
	require.Equal(t, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), rec.Timestamp)
	require.InDelta(t, 18.4, *rec.Temperature, 1e-9)
	require.InDelta(t, 3.1, *rec.WindSpeed, 1e-9)
	require.InDelta(t, 200.0, *rec.WindDirection, 1e-9)
}

func TestFetchSurfacesMalformedBody(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("not json"))
	}))
	defer srv.Close()

	c := newTestClient(srv.URL, "")
	_, err := c.Hourly(context.Background(), time.Now().AddDate(0, 0, -1), time.Now())
	require.Error(t, err)
}
