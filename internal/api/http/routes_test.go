package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/collector"
	"github.com/pkozlovsky/station-monitor/internal/ingest"
	"github.com/pkozlovsky/station-monitor/internal/store"
	"github.com/pkozlovsky/station-monitor/internal/tuya"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

func newTestApp(t *testing.T) (*fiber.App, *store.MemoryStore) {
	t.Helper()
	log := zap.NewNop()
	mem := store.NewMemoryStore()
	norm := ingest.NewNormalizer(mem, ingest.DefaultWindows(), log)

	session := tuya.NewSession(http.DefaultClient, tuya.Credentials{
		ClientID: "vaqfxw4cpkx5gwxg4jtu",
		Secret:   "f59f1d4cf2d94a2d9ddba1c1e05dd7a3",
		DeviceID: "bf0000000000000000rxqw",
		Endpoint: "https://openapi.tuyaeu.com",
	}, log)

	app := fiber.New()
	RegisterRoutes(app, Deps{
		Store:     mem,
		Session:   session,
		Collector: collector.New(nil, nil, norm, ingest.NewBlobDecoder(log), nil, log),
		Norm:      norm,
		Importer:  ingest.NewSpreadsheetImporter(log),
	})
	return app, mem
}

func seedRecord(t *testing.T, mem *store.MemoryStore, ts time.Time, temp float64) {
	t.Helper()
	rec := weather.Record{
		Timestamp:   ts,
		Source:      weather.SourceLiveDevice,
		Temperature: weather.Float(temp),
	}
	_, err := mem.Insert(context.Background(), &rec)
	require.NoError(t, err)
}

func decodeBody(t *testing.T, resp *http.Response, out any) {
	t.Helper()
	defer resp.Body.Close()
	require.NoError(t, json.NewDecoder(resp.Body).Decode(out))
}

func TestCurrentWeatherEmptyStoreIs404(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather/current", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusNotFound, resp.StatusCode)
}

func TestCurrentWeatherReturnsNewestRecord(t *testing.T) {
	app, mem := newTestApp(t)
	base := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedRecord(t, mem, base, 20.0)
	seedRecord(t, mem, base.Add(time.Hour), 22.5)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather/current", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var rec weather.Record
	decodeBody(t, resp, &rec)
	require.InDelta(t, 22.5, *rec.Temperature, 1e-9)
}

func TestLatestRejectsBadCount(t *testing.T) {
	app, _ := newTestApp(t)

	for _, q := range []string{"n=0", "n=-3", "n=1001", "n=abc"} {
		resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather/latest?"+q, nil))
		require.NoError(t, err)
		require.Equal(t, fiber.StatusBadRequest, resp.StatusCode, q)
	}
}

func TestHistoryValidatesRange(t *testing.T) {
	app, _ := newTestApp(t)

	// missing params
	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather/history", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)

	// from after to
	resp, err = app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/weather/history?from=2025-06-02T00:00:00Z&to=2025-06-01T00:00:00Z", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestHistoryReturnsRecordsInRange(t *testing.T) {
	app, mem := newTestApp(t)
	base := time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC)
	for i := 0; i < 4; i++ {
		seedRecord(t, mem, base.Add(time.Duration(i)*time.Hour), 20+float64(i))
	}

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/weather/history?from=2025-06-01T01:00:00Z&to=2025-06-01T02:00:00Z", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Records []weather.Record `json:"records"`
	}
	decodeBody(t, resp, &body)
	require.Len(t, body.Records, 2)
}

func TestHistoryAcceptsUnixSeconds(t *testing.T) {
	app, mem := newTestApp(t)
	ts := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	seedRecord(t, mem, ts, 21.0)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet,
		"/api/v1/weather/history?from=1748736000&to=1748822400", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)
}

func TestStatsReportsSourceCounts(t *testing.T) {
	app, mem := newTestApp(t)
	seedRecord(t, mem, time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC), 21.0)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/weather/stats", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var stats weather.StoreStats
	decodeBody(t, resp, &stats)
	require.Equal(t, int64(1), stats.TotalRecords)
	require.Equal(t, int64(1), stats.SourceCounts[weather.SourceLiveDevice])
}

func TestCollectorStatusExposesSessionState(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodGet, "/api/v1/collector/status", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		Collector collector.RunStats `json:"collector"`
		Session   tuya.Status        `json:"session"`
	}
	decodeBody(t, resp, &body)
	require.Zero(t, body.Collector.TotalRuns)
	require.False(t, body.Session.Authenticated)
}

func TestImportSpreadsheetRoundTrip(t *testing.T) {
	app, mem := newTestApp(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "export.csv")
	require.NoError(t, err)
	_, err = fw.Write([]byte("time,temp,humidity\n2025-06-01 12:00:00,21.5,55\n2025-06-01 13:00:00,22.0,54\n"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	req := httptest.NewRequest(http.MethodPost, "/api/v1/import/spreadsheet", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())

	resp, err := app.Test(req)
	require.NoError(t, err)
	require.Equal(t, fiber.StatusOK, resp.StatusCode)

	var body struct {
		JobID string             `json:"jobId"`
		Batch ingest.BatchResult `json:"batch"`
	}
	decodeBody(t, resp, &body)
	require.NotEmpty(t, body.JobID)
	require.Equal(t, 2, body.Batch.Inserted)

	stats, err := mem.Stats(context.Background())
	require.NoError(t, err)
	require.Equal(t, int64(2), stats.SourceCounts[weather.SourceSpreadsheet])
}

func TestImportSpreadsheetRequiresFile(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost, "/api/v1/import/spreadsheet", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
}

func TestBackfillWithoutClimateClientIs503(t *testing.T) {
	app, _ := newTestApp(t)

	resp, err := app.Test(httptest.NewRequest(http.MethodPost,
		"/api/v1/backfill?from=2025-06-01T00:00:00Z&to=2025-06-02T00:00:00Z&granularity=daily", nil))
	require.NoError(t, err)
	require.Equal(t, fiber.StatusServiceUnavailable, resp.StatusCode)
}
