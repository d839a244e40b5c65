// Package config loads process configuration from the environment.
package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/joho/godotenv"
	"github.com/kelvins/geocoder"
)

var validate = validator.New()

// regionalEndpoints maps the region shorthand to the vendor API host.
var regionalEndpoints = map[string]string{
	"eu": "https://openapi.tuyaeu.com",
	"us": "https://openapi.tuyaus.com",
	"cn": "https://openapi.tuyacn.com",
	"in": "https://openapi.tuyain.com",
}

// TuyaCredentials identify the cloud project and device. The vendor issues
// fixed-length identifiers; anything else is a copy-paste mistake caught at
// startup rather than as a signature rejection at runtime.
type TuyaCredentials struct {
	ClientID string `validate:"required,len=20"`
	Secret   string `validate:"required,len=32"`
	DeviceID string `validate:"required,len=22"`
	Endpoint string `validate:"required,url"`
}

// AppConfig is the full immutable process configuration, loaded once at
// startup.
type AppConfig struct {
	Tuya TuyaCredentials

	// Station coordinates for the climate backfill API.
	Latitude  float64
	Longitude float64

	// FetchInterval controls how often the collection pipeline runs.
	FetchInterval time.Duration

	// Coincidence windows for duplicate suppression.
	DedupWindow     time.Duration
	FineDedupWindow time.Duration

	// RetentionDays bounds the age-based purge job.
	RetentionDays int

	// DatabaseDSN selects the Postgres store; empty falls back to the
	// in-memory store (no durability).
	DatabaseDSN string

	// RedisAddr enables the latest-record hot cache when non-empty.
	RedisAddr string

	HTTPTimeout time.Duration
	Port        string
}

// Load reads configuration from environment with sensible defaults.
func Load() (*AppConfig, error) {
	if err := godotenv.Load(); err != nil {
		log.Printf("INFO: No .env file found or error loading it: %v", err)
	}

	cfg := &AppConfig{}

	region := getenvDefault("TUYA_REGION", "eu")
	endpoint, ok := regionalEndpoints[region]
	if !ok {
		return nil, fmt.Errorf("unknown TUYA_REGION %q", region)
	}

	cfg.Tuya = TuyaCredentials{
		ClientID: os.Getenv("TUYA_CLIENT_ID"),
		Secret:   os.Getenv("TUYA_CLIENT_SECRET"),
		DeviceID: os.Getenv("TUYA_DEVICE_ID"),
		Endpoint: endpoint,
	}
	if err := validate.Struct(cfg.Tuya); err != nil {
		return nil, fmt.Errorf("invalid tuya credentials: %w", err)
	}

	var err error
	if cfg.FetchInterval, err = getenvDuration("FETCH_INTERVAL", 15*time.Minute); err != nil {
		return nil, err
	}
	if cfg.DedupWindow, err = getenvDuration("DEDUP_WINDOW", 60*time.Second); err != nil {
		return nil, err
	}
	if cfg.FineDedupWindow, err = getenvDuration("DEDUP_WINDOW_FINE", 30*time.Second); err != nil {
		return nil, err
	}
	if cfg.HTTPTimeout, err = getenvDuration("HTTP_TIMEOUT", 10*time.Second); err != nil {
		return nil, err
	}

	cfg.RetentionDays = getenvInt("RETENTION_DAYS", 365)
	cfg.DatabaseDSN = os.Getenv("DATABASE_DSN")
	cfg.RedisAddr = os.Getenv("REDIS_ADDR")
	cfg.Port = getenvDefault("PORT", "8080")

	if err := loadCoordinates(cfg); err != nil {
		return nil, err
	}

	return cfg, nil
}

// loadCoordinates takes explicit STATION_LATITUDE/STATION_LONGITUDE when
// set, otherwise resolves STATION_CITY/STATION_COUNTRY through the Google
// geocoding API.
func loadCoordinates(cfg *AppConfig) error {
	latStr, lonStr := os.Getenv("STATION_LATITUDE"), os.Getenv("STATION_LONGITUDE")
	if latStr != "" && lonStr != "" {
		lat, err := strconv.ParseFloat(latStr, 64)
		if err != nil {
			return fmt.Errorf("invalid STATION_LATITUDE: %w", err)
		}
		lon, err := strconv.ParseFloat(lonStr, 64)
		if err != nil {
			return fmt.Errorf("invalid STATION_LONGITUDE: %w", err)
		}
		cfg.Latitude, cfg.Longitude = lat, lon
		return nil
	}

	city := os.Getenv("STATION_CITY")
	country := os.Getenv("STATION_COUNTRY")
	apiKey := os.Getenv("GEOCODER_API_KEY")
	if city == "" || apiKey == "" {
		return fmt.Errorf("station location required: set STATION_LATITUDE/STATION_LONGITUDE, or STATION_CITY with GEOCODER_API_KEY")
	}

	geocoder.ApiKey = apiKey
	location, err := geocoder.Geocoding(geocoder.Address{City: city, Country: country})
	if err != nil {
		return fmt.Errorf("geocode %s,%s: %w", city, country, err)
	}
	cfg.Latitude, cfg.Longitude = location.Latitude, location.Longitude
	return nil
}

func getenvDefault(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}

func getenvInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		n, err := strconv.Atoi(v)
		if err == nil {
			return n
		}
	}
	return def
}

func getenvDuration(key string, def time.Duration) (time.Duration, error) {
	v := os.Getenv(key)
	if v == "" {
		return def, nil
	}
	d, err := time.ParseDuration(v)
	if err != nil {
		return 0, fmt.Errorf("invalid %s: %w", key, err)
	}
	return d, nil
}
