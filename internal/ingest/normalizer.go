// Package ingest normalizes readings from the four collection paths (live
// device snapshots, climate-API backfill, device memory blobs, spreadsheet
// imports) into canonical records and decides their admission into the store.
package ingest

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// Windows configures the coincidence windows for duplicate suppression.
// Device-memory extraction uses the finer window because blob records carry
// device-clock timestamps that drift slightly against live readings.
type Windows struct {
	Default time.Duration
	Fine    time.Duration
}

// DefaultWindows returns the standard 60s/30s configuration.
func DefaultWindows() Windows {
	return Windows{Default: 60 * time.Second, Fine: 30 * time.Second}
}

// BatchResult counts the outcome of one admitted batch.
type BatchResult struct {
	Total      int `json:"total"`
	Inserted   int `json:"inserted"`
	Duplicates int `json:"duplicates"`
	Rejected   int `json:"rejected"`
	Failed     int `json:"failed"`
}

// Normalizer owns the admission rule. The duplicate check and the insert are
// not one atomic statement, so the whole sequence is serialized under a
// mutex; without it two concurrent ingestions of the same timestamp both
// pass the check before either inserts.
type Normalizer struct {
	store   weather.Store
	windows Windows
	log     *zap.Logger

	mu sync.Mutex
}

// NewNormalizer creates a normalizer over the given store.
func NewNormalizer(store weather.Store, windows Windows, log *zap.Logger) *Normalizer {
	if windows.Default <= 0 {
		windows = DefaultWindows()
	}
	return &Normalizer{store: store, windows: windows, log: log}
}

// Admit inserts the candidate record unless it is empty or a duplicate.
// Returns errs.ErrEmptyRecord, errs.ErrDuplicate, or the storage error.
// Admitted records are never merged with or overwritten by later ones.
func (n *Normalizer) Admit(ctx context.Context, rec *weather.Record) error {
	if !rec.HasObservations() {
		return errs.ErrEmptyRecord
	}
	rec.Timestamp = rec.Timestamp.UTC()

	n.mu.Lock()
	defer n.mu.Unlock()

	window := n.windowFor(rec.Source)
	exists, err := n.store.ExistsNear(ctx, rec.Timestamp, window, rec.Source, sourcePattern(rec.Source))
	if err != nil {
		return fmt.Errorf("duplicate check: %w", err)
	}
	if exists {
		return errs.ErrDuplicate
	}

	if _, err := n.store.Insert(ctx, rec); err != nil {
		return fmt.Errorf("insert: %w", err)
	}
	return nil
}

// AdmitBatch admits each record independently; one bad record never aborts
// the batch.
func (n *Normalizer) AdmitBatch(ctx context.Context, recs []weather.Record) BatchResult {
	res := BatchResult{Total: len(recs)}
	for i := range recs {
		err := n.Admit(ctx, &recs[i])
		switch {
		case err == nil:
			res.Inserted++
		case errors.Is(err, errs.ErrDuplicate):
			res.Duplicates++
		case errors.Is(err, errs.ErrEmptyRecord):
			res.Rejected++
		default:
			res.Failed++
			n.log.Warn("record admission failed",
				zap.Time("timestamp", recs[i].Timestamp),
				zap.String("source", string(recs[i].Source)),
				zap.Error(err),
			)
		}
	}
	return res
}

// windowFor picks the coincidence window: device-memory blob sources get the
// fine window, everything else the default.
func (n *Normalizer) windowFor(src weather.Source) time.Duration {
	if n.windows.Fine > 0 && isBinarySource(src) {
		return n.windows.Fine
	}
	return n.windows.Default
}

// isBinarySource reports whether the source is a device-memory extraction
// tag (station prefix plus a property code, distinct from the live and
// api-poll tags).
func isBinarySource(src weather.Source) bool {
	if src == weather.SourceLiveDevice || src == weather.SourceAPIPoll {
		return false
	}
	return strings.HasPrefix(string(src), weather.SourceBinaryPrefix)
}

// sourcePattern widens the duplicate match to sibling pipelines of the same
// station: every garni_925t_* tag suppresses against every other.
func sourcePattern(src weather.Source) string {
	if strings.Contains(string(src), "garni_925t") {
		return weather.SourceBinaryPrefix + "%"
	}
	return ""
}
