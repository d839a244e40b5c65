package store

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// WeatherStore implements weather.Store on PostgreSQL.
type WeatherStore struct{ db *DB }

// NewWeatherStore constructs the store.
func NewWeatherStore(db *DB) *WeatherStore { return &WeatherStore{db: db} }

const recordColumns = `id, ts, source, temperature, humidity, pressure,
wind_speed, wind_direction, wind_gust, rainfall, uv_index, solar_radiation,
dew_point, feels_like, air_quality_aqi, air_quality_pm25, air_quality_pm10,
condition`

// Insert appends a record and returns its surrogate key. Rows are never
// updated after insertion.
func (s *WeatherStore) Insert(ctx context.Context, rec *weather.Record) (int64, error) {
	const q = `
INSERT INTO weather_records (
	ts, source, temperature, humidity, pressure, wind_speed, wind_direction,
	wind_gust, rainfall, uv_index, solar_radiation, dew_point, feels_like,
	air_quality_aqi, air_quality_pm25, air_quality_pm10, condition
) VALUES ($1,$2,$3,$4,$5,$6,$7,$8,$9,$10,$11,$12,$13,$14,$15,$16,$17)
RETURNING id`

	var cond *string
	if rec.Condition != "" {
		cond = &rec.Condition
	}

	var id int64
	err := s.db.Pool.QueryRow(ctx, q,
		rec.Timestamp.UTC(), string(rec.Source),
		rec.Temperature, rec.Humidity, rec.Pressure,
		rec.WindSpeed, rec.WindDirection, rec.WindGust,
		rec.Rainfall, rec.UVIndex, rec.SolarRadiation,
		rec.DewPoint, rec.FeelsLike,
		rec.AirQualityAQI, rec.AirQualityPM25, rec.AirQualityPM10,
		cond,
	).Scan(&id)
	if err != nil {
		return 0, err
	}
	rec.ID = id
	return id, nil
}

// Latest returns the most recent n records, newest first.
func (s *WeatherStore) Latest(ctx context.Context, n int) ([]weather.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM weather_records
ORDER BY ts DESC
LIMIT $1`
	rows, err := s.db.Pool.Query(ctx, q, n)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// Range returns all records with from <= ts <= to, oldest first.
func (s *WeatherStore) Range(ctx context.Context, from, to time.Time) ([]weather.Record, error) {
	const q = `
SELECT ` + recordColumns + `
FROM weather_records
WHERE ts BETWEEN $1 AND $2
ORDER BY ts ASC`
	rows, err := s.db.Pool.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	return scanRecords(rows)
}

// DailyAggregates returns per-calendar-day rollups over the range.
func (s *WeatherStore) DailyAggregates(ctx context.Context, from, to time.Time) ([]weather.DailyAggregate, error) {
	const q = `
SELECT
	date_trunc('day', ts) AS day,
	AVG(temperature), MIN(temperature), MAX(temperature),
	AVG(humidity), AVG(pressure), AVG(wind_speed),
	MAX(wind_gust), SUM(rainfall), AVG(uv_index),
	COUNT(*)
FROM weather_records
WHERE ts BETWEEN $1 AND $2
GROUP BY day
ORDER BY day ASC`
	rows, err := s.db.Pool.Query(ctx, q, from.UTC(), to.UTC())
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []weather.DailyAggregate
	for rows.Next() {
		var agg weather.DailyAggregate
		if err := rows.Scan(
			&agg.Date,
			&agg.AvgTemperature, &agg.MinTemperature, &agg.MaxTemperature,
			&agg.AvgHumidity, &agg.AvgPressure, &agg.AvgWindSpeed,
			&agg.MaxWindGust, &agg.TotalRainfall, &agg.AvgUVIndex,
			&agg.RecordCount,
		); err != nil {
			return nil, err
		}
		out = append(out, agg)
	}
	return out, rows.Err()
}

// Stats summarizes the stored dataset: totals, time bounds and per-source
// record counts.
func (s *WeatherStore) Stats(ctx context.Context) (weather.StoreStats, error) {
	stats := weather.StoreStats{SourceCounts: make(map[weather.Source]int64)}

	const totals = `SELECT COUNT(*), MIN(ts), MAX(ts) FROM weather_records`
	if err := s.db.Pool.QueryRow(ctx, totals).Scan(
		&stats.TotalRecords, &stats.OldestRecord, &stats.NewestRecord,
	); err != nil {
		return weather.StoreStats{}, err
	}

	if stats.TotalRecords > 0 && stats.OldestRecord != nil && stats.NewestRecord != nil {
		days := stats.NewestRecord.Sub(*stats.OldestRecord).Hours() / 24
		if days < 1 {
			days = 1
		}
		stats.RecordsPerDay = float64(stats.TotalRecords) / days
	}

	const perSource = `SELECT source, COUNT(*) FROM weather_records GROUP BY source`
	rows, err := s.db.Pool.Query(ctx, perSource)
	if err != nil {
		return weather.StoreStats{}, err
	}
	defer rows.Close()
	for rows.Next() {
		var src string
		var n int64
		if err := rows.Scan(&src, &n); err != nil {
			return weather.StoreStats{}, err
		}
		stats.SourceCounts[weather.Source(src)] = n
	}
	return stats, rows.Err()
}

// PurgeOlderThan deletes records with ts before the cutoff and returns how
// many were removed.
func (s *WeatherStore) PurgeOlderThan(ctx context.Context, cutoff time.Time) (int64, error) {
	const q = `DELETE FROM weather_records WHERE ts < $1`
	tag, err := s.db.Pool.Exec(ctx, q, cutoff.UTC())
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}

// ExistsNear reports whether a record from a compatible source already lies
// within the window around ts. sourcePattern, when non-empty, widens the
// match with a SQL LIKE over sibling pipelines of the same station.
func (s *WeatherStore) ExistsNear(ctx context.Context, ts time.Time, window time.Duration, source weather.Source, sourcePattern string) (bool, error) {
	const q = `
SELECT EXISTS (
	SELECT 1 FROM weather_records
	WHERE ts BETWEEN $1 AND $2
	  AND (source = $3 OR ($4 <> '' AND source LIKE $4))
)`
	var exists bool
	err := s.db.Pool.QueryRow(ctx, q,
		ts.Add(-window).UTC(), ts.Add(window).UTC(),
		string(source), sourcePattern,
	).Scan(&exists)
	if err != nil {
		return false, err
	}
	return exists, nil
}

func scanRecords(rows pgx.Rows) ([]weather.Record, error) {
	var out []weather.Record
	for rows.Next() {
		var rec weather.Record
		var src string
		var cond *string
		if err := rows.Scan(
			&rec.ID, &rec.Timestamp, &src,
			&rec.Temperature, &rec.Humidity, &rec.Pressure,
			&rec.WindSpeed, &rec.WindDirection, &rec.WindGust,
			&rec.Rainfall, &rec.UVIndex, &rec.SolarRadiation,
			&rec.DewPoint, &rec.FeelsLike,
			&rec.AirQualityAQI, &rec.AirQualityPM25, &rec.AirQualityPM10,
			&cond,
		); err != nil {
			return nil, err
		}
		rec.Source = weather.Source(src)
		rec.Timestamp = rec.Timestamp.UTC()
		if cond != nil {
			rec.Condition = *cond
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(out) == 0 {
		return nil, errs.ErrNotFound
	}
	return out, nil
}
