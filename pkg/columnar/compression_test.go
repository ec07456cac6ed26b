package columnar

import (
	"math"
	"testing"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/compression"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeFrame(t *testing.T) {
	ts := time.Date(2016, 6, 1, 12, 0, 0, 0, time.UTC)
	f, err := NewFrameFrom(
		[]string{"i8", "i16", "i32", "i64", "f16", "f32", "f64", "cat", "str", "ts"},
		[]Column{
			NewNumericColumn([]int8{1, -1}),
			NewNumericColumn([]int16{300, 0}),
			NewNumericColumn([]int32{70000, 1}),
			NewNumericColumn([]int64{1 << 40, 2}),
			Float16FromFloat64s([]float64{0.5, math.NaN()}),
			NewNumericColumn([]float32{1.25, float32(math.NaN())}),
			NewNumericColumn([]float64{math.Pi, 0}),
			CategoryColumnFromStrings([]string{"Office", ""}, []bool{true, false}),
			NewStringColumn([]string{"", "x"}, []bool{false, true}),
			TimestampColumnFromTimes([]time.Time{ts, {}}),
		},
	)
	require.NoError(t, err)

	for _, alg := range []compression.Algorithm{compression.Zstd, compression.S2, compression.LZ4} {
		blob, err := EncodeFrame(f, alg)
		require.NoError(t, err)

		got, err := DecodeFrame(blob)
		require.NoError(t, err)
		assert.Equal(t, f.Names(), got.Names())
		assert.Equal(t, f.Types(), got.Types())

		for _, name := range f.Names() {
			want := mustColumn(t, f, name)
			have := mustColumn(t, got, name)
			for i := 0; i < f.Len(); i++ {
				assert.Equal(t, want.IsNull(i), have.IsNull(i), "%s[%d] null", name, i)
				assert.Equal(t, want.Value(i), have.Value(i), "%s[%d]", name, i)
			}
		}
	}
}

func TestDecodeFrameRejectsGarbage(t *testing.T) {
	_, err := DecodeFrame([]byte("nope"))
	assert.Error(t, err)

	blob, err := compression.Seal(compression.None, compression.Default, []byte("XXXX"))
	require.NoError(t, err)
	_, err = DecodeFrame(blob)
	assert.Error(t, err)
}
