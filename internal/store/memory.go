package store

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// MemoryStore is a concurrency-safe in-memory implementation of
// weather.Store. It backs tests and lets the monitor run without a database
// (readings are then lost on restart).
type MemoryStore struct {
	mu      sync.RWMutex
	records []weather.Record
	nextID  int64
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{nextID: 1}
}

// Insert appends a record and assigns a surrogate id.
func (s *MemoryStore) Insert(_ context.Context, rec *weather.Record) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec.ID = s.nextID
	s.nextID++
	rec.Timestamp = rec.Timestamp.UTC()
	s.records = append(s.records, *rec)
	return rec.ID, nil
}

// Latest returns the most recent n records, newest first.
func (s *MemoryStore) Latest(_ context.Context, n int) ([]weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	sorted := make([]weather.Record, len(s.records))
	copy(sorted, s.records)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Timestamp.After(sorted[j].Timestamp) })

	if len(sorted) > n {
		sorted = sorted[:n]
	}
	if len(sorted) == 0 {
		return nil, errs.ErrNotFound
	}
	return sorted, nil
}

// Range returns all records with from <= ts <= to, oldest first.
func (s *MemoryStore) Range(_ context.Context, from, to time.Time) ([]weather.Record, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []weather.Record
	for _, rec := range s.records {
		if !rec.Timestamp.Before(from) && !rec.Timestamp.After(to) {
			out = append(out, rec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Timestamp.Before(out[j].Timestamp) })

	if len(out) == 0 {
		return nil, errs.ErrNotFound
	}
	return out, nil
}

// DailyAggregates returns per-calendar-day rollups over the range.
func (s *MemoryStore) DailyAggregates(ctx context.Context, from, to time.Time) ([]weather.DailyAggregate, error) {
	recs, err := s.Range(ctx, from, to)
	if err != nil {
		return nil, err
	}

	type acc struct {
		temps, hums, press, winds, uvs []float64
		maxTemp, minTemp, maxGust      *float64
		rain                           *float64
		count                          int64
	}
	days := make(map[string]*acc)

	for _, rec := range recs {
		key := rec.Timestamp.Format("2006-01-02")
		a, ok := days[key]
		if !ok {
			a = &acc{}
			days[key] = a
		}
		a.count++
		if rec.Temperature != nil {
			a.temps = append(a.temps, *rec.Temperature)
			a.minTemp = minPtr(a.minTemp, *rec.Temperature)
			a.maxTemp = maxPtr(a.maxTemp, *rec.Temperature)
		}
		if rec.Humidity != nil {
			a.hums = append(a.hums, *rec.Humidity)
		}
		if rec.Pressure != nil {
			a.press = append(a.press, *rec.Pressure)
		}
		if rec.WindSpeed != nil {
			a.winds = append(a.winds, *rec.WindSpeed)
		}
		if rec.WindGust != nil {
			a.maxGust = maxPtr(a.maxGust, *rec.WindGust)
		}
		if rec.Rainfall != nil {
			sum := *rec.Rainfall
			if a.rain != nil {
				sum += *a.rain
			}
			a.rain = &sum
		}
		if rec.UVIndex != nil {
			a.uvs = append(a.uvs, *rec.UVIndex)
		}
	}

	keys := make([]string, 0, len(days))
	for k := range days {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]weather.DailyAggregate, 0, len(keys))
	for _, k := range keys {
		a := days[k]
		date, _ := time.Parse("2006-01-02", k)
		out = append(out, weather.DailyAggregate{
			Date:           date,
			AvgTemperature: avg(a.temps),
			MinTemperature: a.minTemp,
			MaxTemperature: a.maxTemp,
			AvgHumidity:    avg(a.hums),
			AvgPressure:    avg(a.press),
			AvgWindSpeed:   avg(a.winds),
			MaxWindGust:    a.maxGust,
			TotalRainfall:  a.rain,
			AvgUVIndex:     avg(a.uvs),
			RecordCount:    a.count,
		})
	}
	return out, nil
}

// Stats summarizes the stored dataset.
func (s *MemoryStore) Stats(_ context.Context) (weather.StoreStats, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	stats := weather.StoreStats{SourceCounts: make(map[weather.Source]int64)}
	stats.TotalRecords = int64(len(s.records))
	for _, rec := range s.records {
		ts := rec.Timestamp
		if stats.OldestRecord == nil || ts.Before(*stats.OldestRecord) {
			t := ts
			stats.OldestRecord = &t
		}
		if stats.NewestRecord == nil || ts.After(*stats.NewestRecord) {
			t := ts
			stats.NewestRecord = &t
		}
		stats.SourceCounts[rec.Source]++
	}
	if stats.TotalRecords > 0 && stats.OldestRecord != nil && stats.NewestRecord != nil {
		days := stats.NewestRecord.Sub(*stats.OldestRecord).Hours() / 24
		if days < 1 {
			days = 1
		}
		stats.RecordsPerDay = float64(stats.TotalRecords) / days
	}
	return stats, nil
}

// PurgeOlderThan deletes records with ts before the cutoff.
func (s *MemoryStore) PurgeOlderThan(_ context.Context, cutoff time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	kept := s.records[:0]
	var removed int64
	for _, rec := range s.records {
		if rec.Timestamp.Before(cutoff) {
			removed++
			continue
		}
		kept = append(kept, rec)
	}
	s.records = kept
	return removed, nil
}

// ExistsNear reports whether a compatible record lies within the window
// around ts.
func (s *MemoryStore) ExistsNear(_ context.Context, ts time.Time, window time.Duration, source weather.Source, sourcePattern string) (bool, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	prefix := strings.TrimSuffix(sourcePattern, "%")
	for _, rec := range s.records {
		d := rec.Timestamp.Sub(ts)
		if d < 0 {
			d = -d
		}
		if d > window {
			continue
		}
		if rec.Source == source {
			return true, nil
		}
		if sourcePattern != "" && strings.HasPrefix(string(rec.Source), prefix) {
			return true, nil
		}
	}
	return false, nil
}

func avg(vals []float64) *float64 {
	if len(vals) == 0 {
		return nil
	}
	var sum float64
	for _, v := range vals {
		sum += v
	}
	return weather.Float(sum / float64(len(vals)))
}

func minPtr(cur *float64, v float64) *float64 {
	if cur != nil && *cur < v {
		return cur
	}
	return weather.Float(v)
}

func maxPtr(cur *float64, v float64) *float64 {
	if cur != nil && *cur > v {
		return cur
	}
	return weather.Float(v)
}
