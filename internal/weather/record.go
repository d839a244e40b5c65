package weather

import (
	"time"
)

// Source tags the collection pipeline a record arrived through.
// Tags sharing the "garni_925t" substring belong to the same physical
// station and are treated as one pipeline for duplicate suppression.
type Source string

const (
	SourceLiveDevice  Source = "garni_925t_device"
	SourceAPIPoll     Source = "garni_925t_api"
	SourceBackfill    Source = "open_meteo_archive"
	SourceSpreadsheet Source = "smart_life_import"

	// SourceBinaryPrefix prefixes records decoded from device memory blobs;
	// the originating property code is appended (e.g. garni_925t_all_max_min).
	SourceBinaryPrefix = "garni_925t_"
)

// Record is the normalized, source-tagged weather observation used for all
// storage and retrieval. All physical fields are optional; a record with none
// of them set is invalid and must never reach the store.
type Record struct {
	ID        int64     `json:"id,omitempty"`
	Timestamp time.Time `json:"timestamp"` // always UTC
	Source    Source    `json:"source"`

	Temperature    *float64 `json:"temperatureC,omitempty"`
	Humidity       *float64 `json:"humidityPercent,omitempty"`
	Pressure       *float64 `json:"pressureHpa,omitempty"`
	WindSpeed      *float64 `json:"windSpeedMs,omitempty"`
	WindDirection  *float64 `json:"windDirectionDeg,omitempty"`
	WindGust       *float64 `json:"windGustMs,omitempty"`
	Rainfall       *float64 `json:"rainfallMm,omitempty"`
	UVIndex        *float64 `json:"uvIndex,omitempty"`
	SolarRadiation *float64 `json:"solarRadiation,omitempty"`
	DewPoint       *float64 `json:"dewPointC,omitempty"`
	FeelsLike      *float64 `json:"feelsLikeC,omitempty"`
	AirQualityAQI  *int     `json:"airQualityAqi,omitempty"`
	AirQualityPM25 *float64 `json:"airQualityPm25,omitempty"`
	AirQualityPM10 *float64 `json:"airQualityPm10,omitempty"`
	Condition      string   `json:"condition,omitempty"`
}

// HasObservations reports whether at least one physical field is set.
// Condition text alone does not make a record valid.
func (r *Record) HasObservations() bool {
	return r.Temperature != nil || r.Humidity != nil || r.Pressure != nil ||
		r.WindSpeed != nil || r.WindDirection != nil || r.WindGust != nil ||
		r.Rainfall != nil || r.UVIndex != nil || r.SolarRadiation != nil ||
		r.DewPoint != nil || r.FeelsLike != nil || r.AirQualityAQI != nil ||
		r.AirQualityPM25 != nil || r.AirQualityPM10 != nil
}

// Float returns a pointer to v, for filling optional record fields.
func Float(v float64) *float64 { return &v }

// Int returns a pointer to v.
func Int(v int) *int { return &v }
