package ingest

import (
	"encoding/base64"
	"encoding/binary"
	"encoding/hex"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/pkozlovsky/station-monitor/internal/errs"
	"github.com/pkozlovsky/station-monitor/internal/weather"
)

func packTimestamped16(entries ...[2]uint32) []byte {
	raw := make([]byte, 0, len(entries)*6)
	for _, e := range entries {
		var buf [6]byte
		binary.BigEndian.PutUint32(buf[0:4], e[0])
		binary.BigEndian.PutUint16(buf[4:6], uint16(e[1]))
		raw = append(raw, buf[:]...)
	}
	return raw
}

func TestDecodeTimestampedTemperatureBlob(t *testing.T) {
	raw := packTimestamped16(
		[2]uint32{1_700_000_000, 215},
		[2]uint32{1_700_003_600, 230},
	)
	d := NewBlobDecoder(zap.NewNop())

	records, err := d.Decode(base64.StdEncoding.EncodeToString(raw), "temp_max")
	require.NoError(t, err)
	require.Len(t, records, 2)

	require.Equal(t, weather.Source("garni_925t_temp_max"), records[0].Source)
	require.Equal(t, time.Unix(1_700_000_000, 0).UTC(), records[0].Timestamp)
	require.InDelta(t, 21.5, *records[0].Temperature, 1e-9)
	require.InDelta(t, 23.0, *records[1].Temperature, 1e-9)
}

func TestDecodeSkipsImplausibleEpochs(t *testing.T) {
	raw := packTimestamped16(
		[2]uint32{100, 215}, // 1970, not a station reading
		[2]uint32{1_700_000_000, 220},
	)
	d := NewBlobDecoder(zap.NewNop())

	records, err := d.Decode(base64.StdEncoding.EncodeToString(raw), "temp_max")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.InDelta(t, 22.0, *records[0].Temperature, 1e-9)
}

func TestDecodeAcceptsHexEncoding(t *testing.T) {
	raw := packTimestamped16([2]uint32{1_700_000_000, 655})
	d := NewBlobDecoder(zap.NewNop())

	records, err := d.Decode(hex.EncodeToString(raw), "humidity_max")
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.InDelta(t, 65.5, *records[0].Humidity, 1e-9)
}

// Bare u16 arrays carry no timestamps; hourly ones are synthesized ending at
// the present.
func TestDecodePlainValuesSynthesizesHourlyTimestamps(t *testing.T) {
	raw := make([]byte, 4)
	binary.BigEndian.PutUint16(raw[0:2], 10130)
	binary.BigEndian.PutUint16(raw[2:4], 10140)

	now := time.Date(2025, 6, 1, 12, 0, 0, 0, time.UTC)
	d := NewBlobDecoder(zap.NewNop())
	d.now = func() time.Time { return now }

	records, err := d.Decode(base64.StdEncoding.EncodeToString(raw), "pressure_log")
	require.NoError(t, err)
	require.Len(t, records, 2)
	require.Equal(t, now.Add(-2*time.Hour), records[0].Timestamp)
	require.Equal(t, now.Add(-1*time.Hour), records[1].Timestamp)
	require.InDelta(t, 1013.0, *records[0].Pressure, 1e-9)
	require.InDelta(t, 1014.0, *records[1].Pressure, 1e-9)
}

func TestDecodeRejectsGarbageInput(t *testing.T) {
	d := NewBlobDecoder(zap.NewNop())
	_, err := d.Decode("not base64 !!! and not hex", "temp_max")
	require.Error(t, err)
}

func TestClassifyValueHintedOverridesShapeMatch(t *testing.T) {
	var rec weather.Record
	require.NoError(t, classifyValue(&rec, 95, "humidity_outdoor"))
	require.Nil(t, rec.Temperature)
	require.InDelta(t, 95.0, *rec.Humidity, 1e-9)
}

func TestClassifyValueHintedOutOfRange(t *testing.T) {
	var rec weather.Record
	require.Error(t, classifyValue(&rec, 40_000, "temp_max"))
}

func TestClassifyValueUnhintedUnique(t *testing.T) {
	// 10132 fits only the tenths-of-hPa pressure range.
	var rec weather.Record
	require.NoError(t, classifyValue(&rec, 10132, "all_max_min"))
	require.InDelta(t, 1013.2, *rec.Pressure, 1e-9)
}

func TestClassifyValueUnhintedAmbiguousRejected(t *testing.T) {
	// 50 is a plausible temperature, humidity, wind speed and more.
	var rec weather.Record
	err := classifyValue(&rec, 50, "all_max_min")
	require.ErrorIs(t, err, errs.ErrAmbiguousValue)
	require.False(t, rec.HasObservations())
}
