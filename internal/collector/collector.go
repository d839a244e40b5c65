// Package collector runs the collection pipeline: authenticated device
// snapshot, property decoding, device-memory blob extraction, and the
// climate-API fallback, all feeding the ingestion normalizer.
package collector

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/ingest"
	"github.com/pkozlovsky/station-monitor/internal/tuya"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// minBlobLength filters property values worth handing to the blob decoder;
// short strings are enum states, not encoded memory.
const minBlobLength = 20

// LatestCache is the optional hot-path mirror of the newest live record.
type LatestCache interface {
	Set(ctx context.Context, rec *weather.Record) error
}

// ClimateSource provides the fallback current reading when the device is
// unreachable.
type ClimateSource interface {
	Current(ctx context.Context) (*weather.Record, error)
}

// RunStats describes collection health for the dashboard status pane.
type RunStats struct {
	TotalRuns   int                `json:"totalRuns"`
	Successes   int                `json:"successes"`
	Failures    int                `json:"failures"`
	LastRun     time.Time          `json:"lastRun,omitempty"`
	LastSuccess time.Time          `json:"lastSuccess,omitempty"`
	LastError   string             `json:"lastError,omitempty"`
	LastSource  weather.Source     `json:"lastSource,omitempty"`
	LastBatch   ingest.BatchResult `json:"lastBatch"`
}

// Collector owns one collection cycle and its run statistics. Safe for
// concurrent use by the scheduler and the manual-run API endpoint.
type Collector struct {
	device  *tuya.DeviceClient
	climate ClimateSource
	norm    *ingest.Normalizer
	blobs   *ingest.BlobDecoder
	cache   LatestCache // may be nil
	log     *zap.Logger

	mu    sync.Mutex
	stats RunStats
}

// New creates a collector. cache may be nil to disable the hot path.
func New(device *tuya.DeviceClient, climate ClimateSource, norm *ingest.Normalizer, blobs *ingest.BlobDecoder, cache LatestCache, log *zap.Logger) *Collector {
	return &Collector{
		device:  device,
		climate: climate,
		norm:    norm,
		blobs:   blobs,
		cache:   cache,
		log:     log,
	}
}

// Collect runs one cycle. The device path is tried first; when the station
// is offline or the vendor rejects the call, the climate API supplies a
// fallback reading so the timeline keeps its cadence. Errors are recorded
// in the run stats and returned, but the next scheduled run is unaffected.
func (c *Collector) Collect(ctx context.Context) error {
	runID := uuid.NewString()
	log := c.log.With(zap.String("run", runID))

	c.mu.Lock()
	c.stats.TotalRuns++
	c.stats.LastRun = time.Now().UTC()
	c.mu.Unlock()

	result, source, err := c.collectDevice(ctx, log)
	if err != nil {
		log.Warn("device collection failed, falling back to climate api", zap.Error(err))
		result, source, err = c.collectFallback(ctx)
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	if err != nil {
		c.stats.Failures++
		c.stats.LastError = err.Error()
		return err
	}
	c.stats.Successes++
	c.stats.LastSuccess = time.Now().UTC()
	c.stats.LastError = ""
	c.stats.LastSource = source
	c.stats.LastBatch = result

	log.Info("collection cycle complete",
		zap.String("source", string(source)),
		zap.Int("inserted", result.Inserted),
		zap.Int("duplicates", result.Duplicates),
	)
	return nil
}

func (c *Collector) collectDevice(ctx context.Context, log *zap.Logger) (ingest.BatchResult, weather.Source, error) {
	props, err := c.device.Properties(ctx)
	if err != nil {
		return ingest.BatchResult{}, "", err
	}

	records := tuya.DecodeProperties(props, weather.SourceLiveDevice)
	result := c.norm.AdmitBatch(ctx, records)

	// Long string-valued properties hold encoded device memory; decode them
	// into fine-grained historical records on the side.
	for _, p := range props {
		text, ok := p.Text()
		if !ok || len(text) < minBlobLength {
			continue
		}
		blobRecords, err := c.blobs.Decode(text, p.Code)
		if err != nil {
			log.Debug("blob decode skipped", zap.String("code", p.Code), zap.Error(err))
			continue
		}
		blobResult := c.norm.AdmitBatch(ctx, blobRecords)
		result.Total += blobResult.Total
		result.Inserted += blobResult.Inserted
		result.Duplicates += blobResult.Duplicates
		result.Rejected += blobResult.Rejected
		result.Failed += blobResult.Failed
	}

	c.updateCache(ctx, records)
	return result, weather.SourceLiveDevice, nil
}

func (c *Collector) collectFallback(ctx context.Context) (ingest.BatchResult, weather.Source, error) {
	rec, err := c.climate.Current(ctx)
	if err != nil {
		return ingest.BatchResult{}, "", err
	}

	result := ingest.BatchResult{Total: 1}
	switch admitErr := c.norm.Admit(ctx, rec); {
	case admitErr == nil:
		result.Inserted = 1
		c.updateCache(ctx, []weather.Record{*rec})
	case errors.Is(admitErr, errs.ErrDuplicate):
		result.Duplicates = 1
	case errors.Is(admitErr, errs.ErrEmptyRecord):
		result.Rejected = 1
	default:
		return result, weather.SourceAPIPoll, admitErr
	}
	return result, weather.SourceAPIPoll, nil
}

// updateCache mirrors the newest record to the hot cache. Cache failures are
// logged only; the record is already durable.
func (c *Collector) updateCache(ctx context.Context, records []weather.Record) {
	if c.cache == nil || len(records) == 0 {
		return
	}
	newest := records[0]
	for _, rec := range records[1:] {
		if rec.Timestamp.After(newest.Timestamp) {
			newest = rec
		}
	}
	if err := c.cache.Set(ctx, &newest); err != nil {
		c.log.Warn("latest-record cache update failed", zap.Error(err))
	}
}

// Stats returns a snapshot of the run statistics.
func (c *Collector) Stats() RunStats {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.stats
}
