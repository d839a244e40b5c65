// Package cache mirrors the most recent live reading into Redis so the
// dashboard's "current conditions" pane never touches the database on the
// hot path.
package cache

import (
	"context"
	"encoding/json"
	"errors"
	"time"

	"github.com/redis/go-redis/v9"

	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// latestKey is the single key holding the last live record. The TTL makes a
// dead station disappear from the dashboard instead of showing stale data
// forever.
const (
	latestKey = "station:latest"
	latestTTL = 24 * time.Hour
)

// LatestCache stores the newest live record in Redis.
type LatestCache struct {
	rdb *redis.Client
}

// NewLatestCache connects to Redis and verifies the connection.
func NewLatestCache(ctx context.Context, addr string) (*LatestCache, error) {
	rdb := redis.NewClient(&redis.Options{Addr: addr})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return nil, err
	}
	return &LatestCache{rdb: rdb}, nil
}

// Close releases the client.
func (c *LatestCache) Close() error { return c.rdb.Close() }

// Set overwrites the cached latest record. A cache write failure is the
// caller's to log; the record is already durable in Postgres.
func (c *LatestCache) Set(ctx context.Context, rec *weather.Record) error {
	raw, err := json.Marshal(rec)
	if err != nil {
		return err
	}
	return c.rdb.Set(ctx, latestKey, raw, latestTTL).Err()
}

// Get returns the cached latest record, or errs.ErrNotFound when the key is
// missing or expired.
func (c *LatestCache) Get(ctx context.Context) (*weather.Record, error) {
	raw, err := c.rdb.Get(ctx, latestKey).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, errs.ErrNotFound
		}
		return nil, err
	}
	var rec weather.Record
	if err := json.Unmarshal(raw, &rec); err != nil {
		return nil, err
	}
	return &rec, nil
}
