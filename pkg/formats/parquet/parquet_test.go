package parquet

import (
	"context"
	"math"
	"path/filepath"
	"testing"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func weatherFrame(t *testing.T) *columnar.Frame {
	t.Helper()
	ts := time.Date(2016, 1, 1, 0, 0, 0, 0, time.UTC)
	f, err := columnar.NewFrameFrom(
		[]string{"site_id", "timestamp", "air_temperature", "cloud_coverage", "primary_use", "note", "meter_reading"},
		[]columnar.Column{
			columnar.NewNumericColumn([]int8{0, 1, 2}),
			columnar.TimestampColumnFromTimes([]time.Time{ts, ts.Add(time.Hour), {}}),
			columnar.Float16FromFloat64s([]float64{25, math.NaN(), -1.5}),
			columnar.NewNumericColumn([]float32{2, 4, float32(math.NaN())}),
			columnar.CategoryColumnFromStrings([]string{"Office", "", "Education"}, []bool{true, false, true}),
			columnar.NewStringColumn([]string{"a", "b", ""}, []bool{true, true, false}),
			columnar.NewNumericColumn([]float64{0, 12.5, 300}),
		},
	)
	require.NoError(t, err)
	return f
}

func TestRoundTripPreservesTypes(t *testing.T) {
	for _, comp := range []string{"snappy", "zstd", "gzip", "none"} {
		t.Run(comp, func(t *testing.T) {
			in := weatherFrame(t)
			data, err := Encode(in, Options{Compression: comp, BatchRows: 2})
			require.NoError(t, err)

			out, err := Decode(data)
			require.NoError(t, err)

			assert.Equal(t, in.Names(), out.Names())
			assert.Equal(t, in.Types(), out.Types())
			assert.Equal(t, 3, out.Len())

			temp, _ := out.Column("air_temperature")
			assert.Equal(t, 25.0, temp.Float64(0))
			assert.True(t, temp.IsNull(1))

			use, _ := out.Column("primary_use")
			assert.True(t, use.IsNull(1))
			v, ok := use.Text(2)
			assert.True(t, ok)
			assert.Equal(t, "Education", v)

			ts, _ := out.Column("timestamp")
			assert.True(t, ts.IsNull(2))
			got, ok := ts.(*columnar.TimestampColumn).Time(1)
			require.True(t, ok)
			assert.Equal(t, time.Date(2016, 1, 1, 1, 0, 0, 0, time.UTC), got)
		})
	}
}

func TestWriteFileAndReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "nested", "reference.parquet")
	require.NoError(t, WriteFile(path, weatherFrame(t), DefaultOptions()))

	out, err := ReadFile(context.Background(), path)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())

	meter, _ := out.Column("meter_reading")
	assert.Equal(t, 300.0, meter.Float64(2))
}

func TestEmptyFrameKeepsSchema(t *testing.T) {
	in := weatherFrame(t).Head(0)
	data, err := Encode(in, DefaultOptions())
	require.NoError(t, err)

	out, err := Decode(data)
	require.NoError(t, err)
	assert.Equal(t, 0, out.Len())
	assert.Equal(t, in.Names(), out.Names())
}

func TestUnknownCompression(t *testing.T) {
	_, err := Encode(weatherFrame(t), Options{Compression: "brotli-9000"})
	assert.ErrorContains(t, err, "unsupported parquet compression")
}
