package testutil

import (
	"math"
	"testing"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/stretchr/testify/require"
)

// Jan1 is the first hour of the fixture data, a Friday.
var Jan1 = time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)

// Frame builds a frame or fails the test.
func Frame(t *testing.T, names []string, cols ...columnar.Column) *columnar.Frame {
	t.Helper()
	f, err := columnar.NewFrameFrom(names, cols)
	require.NoError(t, err)
	return f
}

// Hours returns n consecutive hourly timestamps starting at start.
func Hours(start time.Time, n int) []time.Time {
	out := make([]time.Time, n)
	for i := range out {
		out[i] = start.Add(time.Duration(i) * time.Hour)
	}
	return out
}

// EnergyFrame is a small fact_energy_usage table: buildings 1 and 2, meter
// 0, three hours each.
func EnergyFrame(t *testing.T) *columnar.Frame {
	t.Helper()
	hours := Hours(Jan1, 3)
	return Frame(t,
		[]string{"building_id", "meter", "timestamp", "meter_reading"},
		columnar.NewNumericColumn([]int32{1, 1, 1, 2, 2, 2}),
		columnar.NewNumericColumn([]int8{0, 0, 0, 0, 0, 0}),
		columnar.TimestampColumnFromTimes(append(append([]time.Time{}, hours...), hours...)),
		columnar.NewNumericColumn([]float32{0, 9, 99, 10, 20, 30}),
	)
}

// BuildingFrame is a dim_building table for buildings 1 and 2 at site 0.
func BuildingFrame(t *testing.T) *columnar.Frame {
	t.Helper()
	return Frame(t,
		[]string{"site_id", "building_id", "primary_use", "square_feet", "year_built", "floor_count"},
		columnar.NewNumericColumn([]int8{0, 0}),
		columnar.NewNumericColumn([]int32{1, 2}),
		columnar.CategoryColumnFromStrings([]string{"Office", "Education"}, nil),
		columnar.NewNumericColumn([]int32{5000, 12000}),
		columnar.NewNumericColumn([]float32{2008, float32(math.NaN())}),
		columnar.NewNumericColumn([]float32{3, float32(math.NaN())}),
	)
}

// WeatherFrame is a dim_weather table for site 0 covering the first two
// fixture hours only, so the third energy hour has no weather.
func WeatherFrame(t *testing.T) *columnar.Frame {
	t.Helper()
	hours := Hours(Jan1, 2)
	return Frame(t,
		[]string{
			"site_id", "timestamp", "air_temperature", "cloud_coverage", "dew_temperature",
			"precip_depth_1_hr", "sea_level_pressure", "wind_direction", "wind_speed",
			"datetime", "day", "month", "week", "hour",
		},
		columnar.NewNumericColumn([]int8{0, 0}),
		columnar.TimestampColumnFromTimes(hours),
		columnar.NewNumericColumn([]float32{25, 24.4}),
		columnar.NewNumericColumn([]float32{6, 2}),
		columnar.NewNumericColumn([]float32{20, 21.1}),
		columnar.NewNumericColumn([]float32{0, -1}),
		columnar.NewNumericColumn([]float32{1019.7, 1020.2}),
		columnar.NewNumericColumn([]float32{0, 70}),
		columnar.NewNumericColumn([]float32{0, 1.5}),
		columnar.TimestampColumnFromTimes(hours),
		columnar.NewNumericColumn([]int8{1, 1}),
		columnar.NewNumericColumn([]int8{1, 1}),
		columnar.NewNumericColumn([]int8{53, 53}),
		columnar.NewNumericColumn([]int8{0, 1}),
	)
}

// RequestFields returns the fields of a valid prediction request.
func RequestFields() map[string]interface{} {
	return map[string]interface{}{
		"building_id":        10,
		"meter":              0,
		"site_id":            0,
		"primary_use":        "Education",
		"square_feet":        50000,
		"air_temperature":    22.5,
		"cloud_coverage":     2.0,
		"dew_temperature":    10.0,
		"precip_depth_1_hr":  0.0,
		"sea_level_pressure": 1012.0,
		"wind_direction":     160.0,
		"wind_speed":         4.0,
		"day":                1,
		"month":              5,
		"week":               18,
		"hour":               12,
		"is_weekend":         0,
	}
}
