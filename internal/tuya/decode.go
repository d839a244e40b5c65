package tuya

import (
	"sort"
	"time"

	"github.com/pkozlovsky/station-monitor/internal/weather"
)

// DecodeProperties groups a raw property snapshot by device timestamp and
// translates vendor property codes into physical units, one record per
// timestamp group. The vendor transmits decimal quantities as fixed-point
// integers (×10 or ×100). Unknown codes are ignored so new firmware
// properties do not break decoding. Records with no recognized measurement
// are dropped.
func DecodeProperties(props []Property, source weather.Source) []weather.Record {
	groups := make(map[int64][]Property)
	for _, p := range props {
		if p.Time == 0 {
			continue
		}
		groups[p.Time] = append(groups[p.Time], p)
	}

	times := make([]int64, 0, len(groups))
	for ts := range groups {
		times = append(times, ts)
	}
	sort.Slice(times, func(i, j int) bool { return times[i] < times[j] })

	records := make([]weather.Record, 0, len(groups))
	for _, ts := range times {
		rec := weather.Record{
			Timestamp: time.UnixMilli(ts).UTC(),
			Source:    source,
		}
		for _, p := range groups[ts] {
			applyProperty(&rec, p)
		}
		if rec.HasObservations() {
			records = append(records, rec)
		}
	}
	return records
}

func applyProperty(rec *weather.Record, p Property) {
	v, ok := p.Number()
	if !ok {
		return
	}

	switch p.Code {
	case "temp_current", "temp_current_external",
		"temp_current_external_1", "temp_current_external_2":
		rec.Temperature = weather.Float(v / 10)

	case "humidity_value", "humidity_outdoor",
		"humidity_outdoor_1", "humidity_outdoor_2":
		rec.Humidity = weather.Float(v)

	case "atmospheric_pressture": // vendor's own spelling
		rec.Pressure = weather.Float(v / 100)

	case "windspeed_avg":
		rec.WindSpeed = maxField(rec.WindSpeed, v/10)

	case "windspeed_gust":
		rec.WindGust = maxField(rec.WindGust, v/10)

	case "wind_direct":
		rec.WindDirection = weather.Float(v)

	case "uv_index":
		rec.UVIndex = weather.Float(v / 10)

	case "bright_value":
		rec.SolarRadiation = weather.Float(v)

	case "dew_point_temp":
		rec.DewPoint = weather.Float(v / 10)

	case "feellike_temp":
		rec.FeelsLike = weather.Float(v / 10)

	case "heat_index", "windchill_index":
		// Secondary apparent-temperature codes; feellike_temp wins when the
		// snapshot carries it.
		if rec.FeelsLike == nil {
			rec.FeelsLike = weather.Float(v / 10)
		}

	case "rain_rate":
		rec.Rainfall = weather.Float(v / 10)
	}
}

// maxField keeps the larger of the existing and the incoming value.
func maxField(existing *float64, v float64) *float64 {
	if existing != nil && *existing > v {
		return existing
	}
	return weather.Float(v)
}
