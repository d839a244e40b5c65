// Command station-monitor polls a GARNI 925T weather station through the
// vendor cloud API, stores readings in Postgres, and serves the dashboard
// API.
package main

import (
	"context"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"go.uber.org/zap"

	httpapi "github.com/pkozlovsky/station-monitor/internal/api/http"
	"github.com/pkozlovsky/station-monitor/internal/backfill"
	"github.com/pkozlovsky/station-monitor/internal/cache"
	"github.com/pkozlovsky/station-monitor/internal/collector"
	"github.com/pkozlovsky/station-monitor/internal/config"
	"github.com/pkozlovsky/station-monitor/internal/ingest"
	"github.com/pkozlovsky/station-monitor/internal/migrate"
	"github.com/pkozlovsky/station-monitor/internal/scheduler"
	"github.com/pkozlovsky/station-monitor/internal/store"
	"github.com/pkozlovsky/station-monitor/internal/tuya"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

func main() {
	log, _ := zap.NewProduction()
	defer func() { _ = log.Sync() }()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("failed to load config", zap.Error(err))
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Store: Postgres when a DSN is configured, in-memory otherwise.
	var weatherStore weather.Store
	if cfg.DatabaseDSN != "" {
		if err := migrate.Up(ctx, cfg.DatabaseDSN); err != nil {
			log.Fatal("migrate up", zap.Error(err))
		}
		db, err := store.New(ctx, cfg.DatabaseDSN)
		if err != nil {
			log.Fatal("connect to postgres", zap.Error(err))
		}
		defer db.Close()
		weatherStore = store.NewWeatherStore(db)
	} else {
		log.Warn("DATABASE_DSN not set; using in-memory store, readings are lost on restart")
		weatherStore = store.NewMemoryStore()
	}

	// Optional latest-record hot cache.
	var latest *cache.LatestCache
	if cfg.RedisAddr != "" {
		latest, err = cache.NewLatestCache(ctx, cfg.RedisAddr)
		if err != nil {
			log.Fatal("connect to redis", zap.Error(err))
		}
		defer latest.Close()
	}

	// Shared HTTP client for outbound calls.
	httpClient := &http.Client{Timeout: cfg.HTTPTimeout}

	session := tuya.NewSession(httpClient, tuya.Credentials{
		ClientID: cfg.Tuya.ClientID,
		Secret:   cfg.Tuya.Secret,
		DeviceID: cfg.Tuya.DeviceID,
		Endpoint: cfg.Tuya.Endpoint,
	}, log)
	device := tuya.NewDeviceClient(session, cfg.Tuya.DeviceID, log)
	climate := backfill.NewClient(httpClient, cfg.Latitude, cfg.Longitude, log)

	norm := ingest.NewNormalizer(weatherStore, ingest.Windows{
		Default: cfg.DedupWindow,
		Fine:    cfg.FineDedupWindow,
	}, log)
	blobs := ingest.NewBlobDecoder(log)
	importer := ingest.NewSpreadsheetImporter(log)

	var collectorCache collector.LatestCache
	if latest != nil {
		collectorCache = latest
	}
	coll := collector.New(device, climate, norm, blobs, collectorCache, log)

	sched := scheduler.New(coll, weatherStore, cfg.FetchInterval, cfg.RetentionDays, log)
	if err := sched.Start(); err != nil {
		log.Fatal("failed to start scheduler", zap.Error(err))
	}
	defer sched.Stop()

	app := fiber.New(fiber.Config{
		AppName:               "station-monitor",
		DisableStartupMessage: true,
		ReadTimeout:           10 * time.Second,
		WriteTimeout:          10 * time.Second,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			// Centralized error response
			code := fiber.StatusInternalServerError
			if e, ok := err.(*fiber.Error); ok {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{
				"error":   true,
				"message": err.Error(),
			})
		},
	})

	app.Use(logger.New())
	app.Use(recover.New())

	app.Get("/health", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{
			"status":  "ok",
			"service": "station-monitor",
		})
	})

	var apiCache httpapi.LatestCache
	if latest != nil {
		apiCache = latest
	}
	httpapi.RegisterRoutes(app, httpapi.Deps{
		Store:     weatherStore,
		Cache:     apiCache,
		Session:   session,
		Collector: coll,
		Norm:      norm,
		Importer:  importer,
		Climate:   climate,
	})

	go func() {
		if err := app.Listen(":" + cfg.Port); err != nil {
			log.Error("fiber server stopped", zap.Error(err))
		}
	}()

	<-ctx.Done()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		log.Error("error during shutdown", zap.Error(err))
	}
}
