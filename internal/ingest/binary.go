package ingest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/common"
	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// Plausible Unix-second bounds for embedded blob timestamps.
const (
	minBlobEpoch = 1_500_000_000
	maxBlobEpoch = 2_000_000_000
)

// maxBlobRecords caps how many records one blob may produce.
const maxBlobRecords = 1000

// quantity is one physical field a decoded scalar can be classified as.
type quantity struct {
	name    string
	hints   []string
	convert func(v float64) (float64, bool)
	assign  func(rec *weather.Record, v float64)
}

// quantities is the ranked plausible-range table. Order matters: with no
// usable hint a scalar is accepted only when exactly one quantity claims it.
var quantities = []quantity{
	{
		name:  "temperature",
		hints: []string{"temp"},
		convert: func(v float64) (float64, bool) {
			switch {
			case v > 0 && v < 500: // tenths of °C
				return v / 10, true
			case v > 1000 && v < 1500: // tenths of °F
				return (v/10 - 32) * 5 / 9, true
			}
			return 0, false
		},
		assign: func(rec *weather.Record, v float64) { rec.Temperature = weather.Float(v) },
	},
	{
		name:  "humidity",
		hints: []string{"humid"},
		convert: func(v float64) (float64, bool) {
			switch {
			case v >= 0 && v <= 100:
				return v, true
			case v > 100 && v <= 1000: // tenths of %
				return v / 10, true
			}
			return 0, false
		},
		assign: func(rec *weather.Record, v float64) { rec.Humidity = weather.Float(v) },
	},
	{
		name:  "pressure",
		hints: []string{"press"},
		convert: func(v float64) (float64, bool) {
			switch {
			case v >= 90_000 && v <= 110_000: // hundredths of hPa
				return v / 100, true
			case v >= 9_000 && v <= 11_000: // tenths of hPa
				return v / 10, true
			case v >= 900 && v <= 1_100: // direct hPa
				return v, true
			}
			return 0, false
		},
		assign: func(rec *weather.Record, v float64) { rec.Pressure = weather.Float(v) },
	},
	{
		name:  "wind_speed",
		hints: []string{"wind"},
		convert: func(v float64) (float64, bool) {
			if v >= 0 && v <= 500 { // tenths of m/s
				return v / 10, true
			}
			return 0, false
		},
		assign: func(rec *weather.Record, v float64) { rec.WindSpeed = weather.Float(v) },
	},
	{
		name:  "rainfall",
		hints: []string{"rain"},
		convert: func(v float64) (float64, bool) {
			if v >= 0 && v <= 5000 { // tenths of mm
				return v / 10, true
			}
			return 0, false
		},
		assign: func(rec *weather.Record, v float64) { rec.Rainfall = weather.Float(v) },
	},
	{
		name:  "uv_index",
		hints: []string{"uv"},
		convert: func(v float64) (float64, bool) {
			if v >= 0 && v <= 160 { // tenths of index
				return v / 10, true
			}
			return 0, false
		},
		assign: func(rec *weather.Record, v float64) { rec.UVIndex = weather.Float(v) },
	},
}

// BlobDecoder interprets encoded device-memory fields (e.g. all_max_min) as
// fixed-width record arrays. The format is undocumented, so decoding is
// best-effort: a scalar becomes a given physical quantity only when it falls
// inside that quantity's plausible range.
type BlobDecoder struct {
	log *zap.Logger
	now func() time.Time
}

// NewBlobDecoder creates a decoder.
func NewBlobDecoder(log *zap.Logger) *BlobDecoder {
	return &BlobDecoder{log: log, now: time.Now}
}

// Decode interprets an encoded blob. fieldCode is the vendor property code
// the blob arrived under; it both names the resulting source tag and hints
// which quantity ambiguous scalars belong to.
func (d *BlobDecoder) Decode(encoded, fieldCode string) ([]weather.Record, error) {
	raw, err := decodeBlobBytes(encoded)
	if err != nil {
		return nil, err
	}
	if len(raw) < 2 {
		return nil, fmt.Errorf("blob %s: too short (%d bytes)", fieldCode, len(raw))
	}

	source := weather.Source(weather.SourceBinaryPrefix + fieldCode)

	var records []weather.Record
	switch {
	case len(raw) >= 8 && len(raw)%6 == 0:
		records = d.decodeTimestamped(raw, 6, fieldCode, source)
	case len(raw) >= 8 && len(raw)%8 == 0:
		records = d.decodeTimestamped(raw, 8, fieldCode, source)
	case len(raw)%2 == 0:
		records = d.decodePlainValues(raw, fieldCode, source)
	default:
		return nil, fmt.Errorf("blob %s: no layout fits %d bytes", fieldCode, len(raw))
	}

	d.log.Info("decoded device memory blob",
		zap.String("field", fieldCode),
		zap.Int("bytes", len(raw)),
		zap.Int("records", len(records)),
	)
	return records, nil
}

// decodeTimestamped reads width-byte records: a 4-byte big-endian Unix
// timestamp followed by a 2- or 4-byte big-endian value. Entries whose
// timestamp is outside the plausible epoch range are skipped.
func (d *BlobDecoder) decodeTimestamped(raw []byte, width int, fieldCode string, source weather.Source) []weather.Record {
	count := len(raw) / width
	if count > maxBlobRecords {
		count = maxBlobRecords
	}

	var records []weather.Record
	for i := 0; i < count; i++ {
		off := i * width
		epoch := binary.BigEndian.Uint32(raw[off : off+4])
		if epoch < minBlobEpoch || epoch > maxBlobEpoch {
			continue
		}

		var v float64
		if width == 6 {
			v = float64(binary.BigEndian.Uint16(raw[off+4 : off+6]))
		} else {
			v = float64(binary.BigEndian.Uint32(raw[off+4 : off+8]))
		}

		rec := weather.Record{
			Timestamp: time.Unix(int64(epoch), 0).UTC(),
			Source:    source,
		}
		if err := classifyValue(&rec, v, fieldCode); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// decodePlainValues reads a bare big-endian u16 array. No timestamps are
// embedded, so hourly timestamps are synthesized backwards from now.
func (d *BlobDecoder) decodePlainValues(raw []byte, fieldCode string, source weather.Source) []weather.Record {
	count := len(raw) / 2
	if count > maxBlobRecords {
		count = maxBlobRecords
	}
	base := d.now().UTC().Add(-time.Duration(count) * time.Hour)

	var records []weather.Record
	for i := 0; i < count; i++ {
		v := float64(binary.BigEndian.Uint16(raw[i*2 : i*2+2]))
		rec := weather.Record{
			Timestamp: base.Add(time.Duration(i) * time.Hour),
			Source:    source,
		}
		if err := classifyValue(&rec, v, fieldCode); err != nil {
			continue
		}
		records = append(records, rec)
	}
	return records
}

// classifyValue assigns a raw scalar to the single best-fit quantity. With a
// usable field-name hint the hinted quantity decides; without one the value
// is accepted only when exactly one quantity's range claims it, otherwise
// errs.ErrAmbiguousValue.
func classifyValue(rec *weather.Record, v float64, fieldCode string) error {
	hint := strings.ToLower(fieldCode)

	for _, q := range quantities {
		if common.HasAny(hint, q.hints...) {
			conv, ok := q.convert(v)
			if !ok {
				return fmt.Errorf("value %v outside %s range", v, q.name)
			}
			q.assign(rec, conv)
			return nil
		}
	}

	// No hint: accept only an unambiguous match.
	var match *quantity
	var converted float64
	for i := range quantities {
		if conv, ok := quantities[i].convert(v); ok {
			if match != nil {
				return fmt.Errorf("value %v: %w", v, errs.ErrAmbiguousValue)
			}
			match = &quantities[i]
			converted = conv
		}
	}
	if match == nil {
		return fmt.Errorf("value %v matches no known quantity", v)
	}
	match.assign(rec, converted)
	return nil
}

// decodeBlobBytes accepts hex or base64. Hex is checked first: every
// even-length hex string is also decodable as base64, so the reverse order
// would turn hex payloads into garbage bytes.
func decodeBlobBytes(encoded string) ([]byte, error) {
	if raw, err := hex.DecodeString(strings.TrimSpace(encoded)); err == nil {
		return raw, nil
	}
	if raw, err := base64.StdEncoding.DecodeString(strings.TrimSpace(encoded)); err == nil {
		return raw, nil
	}
	return nil, fmt.Errorf("blob is neither hex nor base64")
}
