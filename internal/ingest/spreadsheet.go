package ingest

import (
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/common"
	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// parameterSynonyms maps normalized spreadsheet headers to record fields.
// Keys are lowercased with spaces and underscores stripped.
var parameterSynonyms = map[string]string{
	"temp":            "temperature",
	"temperature":     "temperature",
	"tempcurrent":     "temperature",
	"currenttemp":     "temperature",
	"airtemp":         "temperature",
	"outdoortemp":     "temperature",
	"humid":           "humidity",
	"humidity":        "humidity",
	"humidcurrent":    "humidity",
	"currenthumid":    "humidity",
	"rh":              "humidity",
	"relativehumidity": "humidity",
	"press":               "pressure",
	"pressure":            "pressure",
	"barometricpressure":  "pressure",
	"atmosphericpressure": "pressure",
	"presscurrent":        "pressure",
	"wind":         "wind_speed",
	"windspeed":    "wind_speed",
	"windvelocity": "wind_speed",
	"uv":          "uv_index",
	"uvindex":     "uv_index",
	"ultraviolet": "uv_index",
	"uvlevel":     "uv_index",
	"rain":     "rainfall",
	"rainfall": "rainfall",
	"rainrate": "rainfall",
}

// timestampKeywords flag a column as the timestamp by name.
var timestampKeywords = []string{"time", "date", "timestamp", "datetime"}

// timestampValuePatterns recognize timestamp-shaped cell values when no
// column name matches.
var timestampValuePatterns = []*regexp.Regexp{
	regexp.MustCompile(`\d{4}-\d{2}-\d{2}`),
	regexp.MustCompile(`\d{2}/\d{2}/\d{4}`),
	regexp.MustCompile(`\d{2}:\d{2}:\d{2}`),
	regexp.MustCompile(`^\d{10,13}$`),
}

// timestampLayouts are tried in order per cell; the first parse wins, so
// mixed formats across rows are tolerated.
var timestampLayouts = []string{
	"2006-01-02 15:04:05",
	"2006-01-02 15:04",
	"01/02/2006 15:04:05",
	"01/02/2006 15:04",
	"02/01/2006 15:04:05",
	"02/01/2006 15:04",
	"2006-01-02T15:04:05",
	"2006-01-02T15:04:05Z",
	"2006-01-02",
	"01/02/2006",
	"02/01/2006",
}

// ImportStats reports how a spreadsheet parse went row by row.
type ImportStats struct {
	Rows        int      `json:"rows"`
	Parsed      int      `json:"parsed"`
	SkippedRows int      `json:"skippedRows"`
	Errors      []string `json:"errors,omitempty"`
}

// SpreadsheetImporter parses weather app CSV exports into canonical records.
// Header names vary wildly between app versions, so columns are matched
// through the synonym table and the timestamp column is detected
// heuristically.
type SpreadsheetImporter struct {
	log *zap.Logger
}

// NewSpreadsheetImporter creates an importer.
func NewSpreadsheetImporter(log *zap.Logger) *SpreadsheetImporter {
	return &SpreadsheetImporter{log: log}
}

// Parse reads CSV bytes and returns the records it could extract, tagged
// with the spreadsheet-import source. A malformed row is skipped and
// reported in the stats; it never aborts the file.
func (im *SpreadsheetImporter) Parse(r io.Reader) ([]weather.Record, ImportStats, error) {
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	cr.TrimLeadingSpace = true

	rows, err := cr.ReadAll()
	if err != nil {
		return nil, ImportStats{}, fmt.Errorf("read csv: %w", err)
	}
	if len(rows) < 2 {
		return nil, ImportStats{}, fmt.Errorf("spreadsheet has no data rows")
	}

	header := rows[0]
	data := rows[1:]

	tsCol := findTimestampColumn(header, data)
	if tsCol < 0 {
		return nil, ImportStats{}, fmt.Errorf("no timestamp column: %w", errs.ErrNoTimestamp)
	}

	fieldCols := make(map[int]string)
	for i, name := range header {
		if i == tsCol {
			continue
		}
		if field, ok := parameterSynonyms[normalizeHeader(name)]; ok {
			fieldCols[i] = field
		}
	}
	if len(fieldCols) == 0 {
		return nil, ImportStats{}, fmt.Errorf("no recognizable weather columns in header %v", header)
	}

	stats := ImportStats{Rows: len(data)}
	var records []weather.Record

	for rowIdx, row := range data {
		if tsCol >= len(row) {
			stats.SkippedRows++
			continue
		}
		ts, err := parseTimestampCell(row[tsCol])
		if err != nil {
			stats.SkippedRows++
			stats.Errors = append(stats.Errors, fmt.Sprintf("row %d: %v", rowIdx+2, err))
			continue
		}

		rec := weather.Record{Timestamp: ts, Source: weather.SourceSpreadsheet}
		for col, field := range fieldCols {
			if col >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[col])
			if cell == "" {
				continue
			}
			v, err := strconv.ParseFloat(cell, 64)
			if err != nil {
				continue
			}
			applyImportedValue(&rec, field, v)
		}

		if !rec.HasObservations() {
			stats.SkippedRows++
			continue
		}
		stats.Parsed++
		records = append(records, rec)
	}

	im.log.Info("parsed spreadsheet import",
		zap.Int("rows", stats.Rows),
		zap.Int("parsed", stats.Parsed),
		zap.Int("skipped", stats.SkippedRows),
	)
	return records, stats, nil
}

func applyImportedValue(rec *weather.Record, field string, v float64) {
	switch field {
	case "temperature":
		// App exports mix units; anything above 50 cannot be outdoor
		// Celsius and is treated as Fahrenheit.
		if v > 50 {
			v = (v - 32) * 5 / 9
		}
		rec.Temperature = weather.Float(v)
	case "humidity":
		rec.Humidity = weather.Float(v)
	case "pressure":
		rec.Pressure = weather.Float(v)
	case "wind_speed":
		rec.WindSpeed = weather.Float(v)
	case "uv_index":
		rec.UVIndex = weather.Float(v)
	case "rainfall":
		rec.Rainfall = weather.Float(v)
	}
}

// findTimestampColumn picks the timestamp column by header keyword first,
// then by pattern-matching sample values.
func findTimestampColumn(header []string, data [][]string) int {
	for i, name := range header {
		if common.HasAny(strings.ToLower(name), timestampKeywords...) {
			return i
		}
	}

	sample := data
	if len(sample) > 10 {
		sample = sample[:10]
	}
	for i := range header {
		for _, row := range sample {
			if i >= len(row) {
				continue
			}
			cell := strings.TrimSpace(row[i])
			for _, pat := range timestampValuePatterns {
				if pat.MatchString(cell) {
					return i
				}
			}
		}
	}
	return -1
}

// parseTimestampCell parses one cell: Unix epoch first (seconds vs
// milliseconds by digit count), then the layout list in order.
func parseTimestampCell(cell string) (time.Time, error) {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		return time.Time{}, errs.ErrNoTimestamp
	}

	if n, err := strconv.ParseInt(cell, 10, 64); err == nil {
		// 10 digits are epoch seconds; 11 and up are milliseconds. Anything
		// shorter is a plain number, not a timestamp.
		switch {
		case len(cell) >= 11:
			return time.UnixMilli(n).UTC(), nil
		case len(cell) == 10:
			return time.Unix(n, 0).UTC(), nil
		}
		return time.Time{}, fmt.Errorf("numeric cell %q is not an epoch timestamp", cell)
	}

	for _, layout := range timestampLayouts {
		if ts, err := time.Parse(layout, cell); err == nil {
			return ts.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unparseable timestamp %q", cell)
}

func normalizeHeader(name string) string {
	name = strings.ToLower(strings.TrimSpace(name))
	name = strings.ReplaceAll(name, "_", "")
	name = strings.ReplaceAll(name, " ", "")
	return name
}
