package columnar

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLeftJoin(t *testing.T) {
	energy, err := NewFrameFrom([]string{"building_id", "meter_reading"}, []Column{
		NewNumericColumn([]int16{1, 2, 9}),
		NewNumericColumn([]float32{10, 20, 30}),
	})
	require.NoError(t, err)
	building, err := NewFrameFrom([]string{"building_id", "site_id", "primary_use"}, []Column{
		NewNumericColumn([]int32{2, 1}),
		NewNumericColumn([]int8{0, 3}),
		CategoryColumnFromStrings([]string{"Office", "Retail"}, nil),
	})
	require.NoError(t, err)

	out, err := LeftJoin(energy, building, []string{"building_id"})
	require.NoError(t, err)

	assert.Equal(t, []string{"building_id", "meter_reading", "site_id", "primary_use"}, out.Names())
	assert.Equal(t, 3, out.Len())

	site := mustColumn(t, out, "site_id")
	assert.Equal(t, ColumnTypeFloat64, site.Type(), "int widened to hold the unmatched row")
	assert.Equal(t, 3.0, site.Float64(0))
	assert.Equal(t, 0.0, site.Float64(1))
	assert.True(t, site.IsNull(2))

	use := mustColumn(t, out, "primary_use")
	v, _ := use.Text(1)
	assert.Equal(t, "Office", v)
	assert.True(t, use.IsNull(2))
}

func TestLeftJoinCompositeKeyAndDuplicates(t *testing.T) {
	left, err := NewFrameFrom([]string{"site_id", "timestamp", "v"}, []Column{
		NewNumericColumn([]int8{0, 0}),
		NewTimestampColumn([]int64{100, 200}),
		NewNumericColumn([]float32{1, 2}),
	})
	require.NoError(t, err)
	right, err := NewFrameFrom([]string{"site_id", "timestamp", "v", "air_temperature"}, []Column{
		NewNumericColumn([]float64{0, 0, 1}),
		NewTimestampColumn([]int64{100, 100, 200}),
		NewNumericColumn([]float32{7, 8, 9}),
		NewNumericColumn([]float32{25, 26, 27}),
	})
	require.NoError(t, err)

	out, err := LeftJoin(left, right, []string{"site_id", "timestamp"})
	require.NoError(t, err)

	assert.Equal(t, []string{"site_id", "timestamp", "v_x", "v_y", "air_temperature"}, out.Names())
	assert.Equal(t, 3, out.Len(), "first row matches twice, second row once with a miss")
	air := mustColumn(t, out, "air_temperature")
	assert.Equal(t, ColumnTypeFloat32, air.Type())
	assert.Equal(t, 25.0, air.Float64(0))
	assert.Equal(t, 26.0, air.Float64(1))
	assert.True(t, air.IsNull(2))
}

func TestLeftJoinMissingKey(t *testing.T) {
	a := NewFrame()
	require.NoError(t, a.Set("k", NewNumericColumn([]int8{1})))
	b := NewFrame()
	require.NoError(t, b.Set("j", NewNumericColumn([]int8{1})))

	_, err := LeftJoin(a, b, []string{"k"})
	assert.Error(t, err)
	_, err = LeftJoin(a, b, nil)
	assert.Error(t, err)
}
