package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/google/uuid"

	"github.com/pkozlovsky/station-monitor/internal/backfill"
	"github.com/pkozlovsky/station-monitor/internal/collector"
	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/ingest"
	"github.com/pkozlovsky/station-monitor/internal/tuya"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

var validate = validator.New()

// LatestCache is the optional read side of the hot-path cache.
type LatestCache interface {
	Get(ctx context.Context) (*weather.Record, error)
}

// Deps bundles everything the handlers need. Cache and Climate may be nil;
// the affected endpoints then fall back or return 503.
type Deps struct {
	Store     weather.Store
	Cache     LatestCache
	Session   *tuya.Session
	Collector *collector.Collector
	Norm      *ingest.Normalizer
	Importer  *ingest.SpreadsheetImporter
	Climate   *backfill.Client
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, d Deps) {
	v1 := app.Group("/api/v1")

	v1.Get("/weather/current", func(c *fiber.Ctx) error {
		// Hot path first; a cache miss or error falls through to the store.
		if d.Cache != nil {
			if rec, err := d.Cache.Get(c.Context()); err == nil {
				return c.JSON(rec)
			}
		}

		recs, err := d.Store.Latest(c.Context(), 1)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather data collected yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch current weather")
		}
		return c.JSON(recs[0])
	})

	v1.Get("/weather/latest", func(c *fiber.Ctx) error {
		n, err := strconv.Atoi(c.Query("n", "24"))
		if err != nil || n <= 0 || n > 1000 {
			return fiber.NewError(fiber.StatusBadRequest, "n must be between 1 and 1000")
		}

		recs, err := d.Store.Latest(c.Context(), n)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather data collected yet")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch records")
		}
		return c.JSON(fiber.Map{"records": recs})
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		recs, err := d.Store.Range(c.Context(), req.From, req.To)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather history for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}

		return c.JSON(fiber.Map{
			"from":    req.From,
			"to":      req.To,
			"records": recs,
		})
	})

	v1.Get("/weather/daily", func(c *fiber.Ctx) error {
		var req rangeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		aggs, err := d.Store.DailyAggregates(c.Context(), req.From, req.To)
		if err != nil {
			if errors.Is(err, errs.ErrNotFound) {
				return fiber.NewError(fiber.StatusNotFound, "no weather data for requested range")
			}
			return fiber.NewError(fiber.StatusInternalServerError, "failed to aggregate weather data")
		}
		return c.JSON(fiber.Map{"days": aggs})
	})

	v1.Get("/weather/stats", func(c *fiber.Ctx) error {
		stats, err := d.Store.Stats(c.Context())
		if err != nil {
			return fiber.NewError(fiber.StatusInternalServerError, "failed to compute stats")
		}
		return c.JSON(stats)
	})

	v1.Get("/collector/status", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"collector": d.Collector.Stats(),
			"session":   d.Session.Status(),
		})
	})

	v1.Post("/collector/run", func(c *fiber.Ctx) error {
		ctx, cancel := context.WithTimeout(c.Context(), 30*time.Second)
		defer cancel()

		if err := d.Collector.Collect(ctx); err != nil {
			if apiErr, ok := tuya.AsAPIError(err); ok {
				return fiber.NewError(fiber.StatusBadGateway, apiErr.Error())
			}
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}
		return c.JSON(d.Collector.Stats())
	})

	v1.Post("/import/spreadsheet", func(c *fiber.Ctx) error {
		fileHeader, err := c.FormFile("file")
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "multipart field 'file' is required")
		}
		f, err := fileHeader.Open()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "cannot open uploaded file")
		}
		defer f.Close()

		records, stats, err := d.Importer.Parse(f)
		if err != nil {
			return fiber.NewError(fiber.StatusUnprocessableEntity, err.Error())
		}
		batch := d.Norm.AdmitBatch(c.Context(), records)

		return c.JSON(fiber.Map{
			"jobId": uuid.NewString(),
			"file":  fileHeader.Filename,
			"parse": stats,
			"batch": batch,
		})
	})

	v1.Post("/backfill", func(c *fiber.Ctx) error {
		if d.Climate == nil {
			return fiber.NewError(fiber.StatusServiceUnavailable, "climate backfill is not configured")
		}

		var req backfillQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		var (
			records []weather.Record
			err     error
		)
		if req.Granularity == "daily" {
			records, err = d.Climate.Daily(c.Context(), req.From, req.To)
		} else {
			records, err = d.Climate.Hourly(c.Context(), req.From, req.To)
		}
		if err != nil {
			return fiber.NewError(fiber.StatusBadGateway, err.Error())
		}

		batch := d.Norm.AdmitBatch(c.Context(), records)
		return c.JSON(fiber.Map{
			"jobId":       uuid.NewString(),
			"granularity": req.Granularity,
			"batch":       batch,
		})
	})
}

// rangeQuery holds from/to query parameters.
type rangeQuery struct {
	From time.Time `validate:"required"`
	To   time.Time `validate:"required,gtefield=From"`
}

func (r *rangeQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	r.From = from
	r.To = to
	return validate.Struct(r)
}

// backfillQuery holds parameters for the climate backfill endpoint.
type backfillQuery struct {
	rangeQuery
	Granularity string `validate:"required,oneof=hourly daily"`
}

func (b *backfillQuery) bind(c *fiber.Ctx) error {
	if err := b.rangeQuery.bind(c); err != nil {
		return err
	}
	b.Granularity = c.Query("granularity", "hourly")
	return validate.Struct(b)
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
