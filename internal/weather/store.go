package weather

import (
	"context"
	"time"
)

// DailyAggregate is the per-calendar-day rollup returned by the store.
type DailyAggregate struct {
	Date           time.Time `json:"date"`
	AvgTemperature *float64  `json:"avgTemperature,omitempty"`
	MinTemperature *float64  `json:"minTemperature,omitempty"`
	MaxTemperature *float64  `json:"maxTemperature,omitempty"`
	AvgHumidity    *float64  `json:"avgHumidity,omitempty"`
	AvgPressure    *float64  `json:"avgPressure,omitempty"`
	AvgWindSpeed   *float64  `json:"avgWindSpeed,omitempty"`
	MaxWindGust    *float64  `json:"maxWindGust,omitempty"`
	TotalRainfall  *float64  `json:"totalRainfall,omitempty"`
	AvgUVIndex     *float64  `json:"avgUvIndex,omitempty"`
	RecordCount    int64     `json:"recordCount"`
}

// StoreStats summarizes the stored dataset.
type StoreStats struct {
	TotalRecords  int64            `json:"totalRecords"`
	OldestRecord  *time.Time       `json:"oldestRecord,omitempty"`
	NewestRecord  *time.Time       `json:"newestRecord,omitempty"`
	RecordsPerDay float64          `json:"recordsPerDay"`
	SourceCounts  map[Source]int64 `json:"sourceCounts"`
}

// Store is the contract the Postgres store (and any test double) must satisfy.
// Insert is append-only: nothing ever updates a stored row, and the store
// itself enforces no uniqueness; duplicate suppression is the ingestion
// layer's job via ExistsNear.
type Store interface {
	Insert(ctx context.Context, rec *Record) (int64, error)
	Latest(ctx context.Context, n int) ([]Record, error)
	Range(ctx context.Context, from, to time.Time) ([]Record, error)
	DailyAggregates(ctx context.Context, from, to time.Time) ([]DailyAggregate, error)
	Stats(ctx context.Context) (StoreStats, error)
	PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error)

	// ExistsNear reports whether any record from a compatible source lies
	// within the given window around ts. sourcePattern is a SQL LIKE pattern
	// widening the match to sibling pipelines of the same station; pass ""
	// to match the exact source only.
	ExistsNear(ctx context.Context, ts time.Time, window time.Duration, source Source, sourcePattern string) (bool, error)
}
