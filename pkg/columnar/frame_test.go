package columnar

import (
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func sampleFrame(t *testing.T) *Frame {
	t.Helper()
	f, err := NewFrameFrom(
		[]string{"building_id", "primary_use", "air_temperature"},
		[]Column{
			NewNumericColumn([]int16{1, 2, 3}),
			CategoryColumnFromStrings([]string{"Office", "", "Retail"}, []bool{true, false, true}),
			NewNumericColumn([]float32{20.5, float32(math.NaN()), -3}),
		},
	)
	require.NoError(t, err)
	return f
}

func TestFrameBasics(t *testing.T) {
	f := sampleFrame(t)

	assert.Equal(t, 3, f.Len())
	assert.Equal(t, 3, f.Width())
	assert.Equal(t, []string{"building_id", "primary_use", "air_temperature"}, f.Names())
	assert.True(t, f.Has("primary_use"))
	assert.False(t, f.Has("meter"))

	col, ok := f.Column("air_temperature")
	require.True(t, ok)
	assert.Equal(t, ColumnTypeFloat32, col.Type())
	assert.True(t, col.IsNull(1))

	row := f.Row(1)
	assert.Equal(t, int16(2), row["building_id"])
	assert.Nil(t, row["primary_use"])
	assert.Nil(t, row["air_temperature"])
}

func TestFrameSetRejectsLengthMismatch(t *testing.T) {
	f := sampleFrame(t)
	err := f.Set("meter", NewNumericColumn([]int8{0}))
	assert.Error(t, err)

	require.NoError(t, f.Set("building_id", NewNumericColumn([]int32{7, 8, 9})))
	assert.Equal(t, []string{"building_id", "primary_use", "air_temperature"}, f.Names(), "replacing keeps position")
}

func TestFrameDuplicateNames(t *testing.T) {
	_, err := NewFrameFrom([]string{"a", "a"}, []Column{
		NewNumericColumn([]int8{1}), NewNumericColumn([]int8{2}),
	})
	assert.Error(t, err)
}

func TestFrameDropAndSelect(t *testing.T) {
	f := sampleFrame(t)
	f.Drop("primary_use", "not_there")
	assert.Equal(t, []string{"building_id", "air_temperature"}, f.Names())

	sel, err := f.Select("air_temperature", "building_id")
	require.NoError(t, err)
	assert.Equal(t, []string{"air_temperature", "building_id"}, sel.Names())

	_, err = f.Select("missing")
	assert.Error(t, err)
}

func TestFrameTakeSliceHead(t *testing.T) {
	f := sampleFrame(t)

	taken := f.Take([]int{2, 0})
	assert.Equal(t, 2, taken.Len())
	s, ok := mustColumn(t, taken, "primary_use").Text(0)
	assert.True(t, ok)
	assert.Equal(t, "Retail", s)

	sl := f.Slice(1, 10)
	assert.Equal(t, 2, sl.Len())
	assert.Equal(t, 3.0, mustColumn(t, sl, "building_id").Float64(1))

	assert.Equal(t, 1, f.Head(1).Len())
	assert.Equal(t, 0, f.Slice(2, 1).Len())
}

func TestFrameRename(t *testing.T) {
	f := sampleFrame(t)
	require.NoError(t, f.Rename("air_temperature", "temp"))
	assert.Equal(t, []string{"building_id", "primary_use", "temp"}, f.Names())
	assert.Error(t, f.Rename("temp", "building_id"))
	assert.Error(t, f.Rename("nope", "x"))

	err := f.RenameAll(func(string) string { return "same" })
	assert.Error(t, err)
	assert.Equal(t, []string{"building_id", "primary_use", "temp"}, f.Names(), "failed rename leaves frame unchanged")
}

func TestFrameReindex(t *testing.T) {
	f := sampleFrame(t)
	out, err := f.Reindex([]string{"meter", "building_id"}, func(name string, n int) Column {
		return Zeros(ColumnTypeInt8, n)
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"meter", "building_id"}, out.Names())
	assert.Equal(t, ColumnTypeInt8, mustColumn(t, out, "meter").Type())
	assert.Equal(t, 0.0, mustColumn(t, out, "meter").Float64(2))
	assert.True(t, f.Has("primary_use"), "source frame keeps its columns")
}

func TestFrameCloneIsDeep(t *testing.T) {
	f := sampleFrame(t)
	c := f.Clone()
	require.NoError(t, c.Cast("building_id", ColumnTypeFloat64))
	assert.Equal(t, ColumnTypeInt16, mustColumn(t, f, "building_id").Type())

	s := f.ShallowCopy()
	s.Drop("building_id")
	assert.True(t, f.Has("building_id"))
}

func TestConcatPromotesTypes(t *testing.T) {
	a, err := NewFrameFrom([]string{"x", "label"}, []Column{
		NewNumericColumn([]int8{1, 2}),
		CategoryColumnFromStrings([]string{"a", "b"}, nil),
	})
	require.NoError(t, err)
	b, err := NewFrameFrom([]string{"x", "label"}, []Column{
		NewNumericColumn([]float32{2.5}),
		CategoryColumnFromStrings([]string{"c"}, nil),
	})
	require.NoError(t, err)

	out, err := Concat(a, b)
	require.NoError(t, err)
	assert.Equal(t, 3, out.Len())
	x := mustColumn(t, out, "x")
	assert.Equal(t, ColumnTypeFloat32, x.Type())
	assert.Equal(t, 2.5, x.Float64(2))
	label, _ := mustColumn(t, out, "label").Text(2)
	assert.Equal(t, "c", label)

	c, err := NewFrameFrom([]string{"y"}, []Column{NewNumericColumn([]int8{1})})
	require.NoError(t, err)
	_, err = Concat(a, c)
	assert.Error(t, err)

	empty, err := Concat()
	require.NoError(t, err)
	assert.Equal(t, 0, empty.Len())
}

func TestMemoryUsageShrinksWithNarrowTypes(t *testing.T) {
	wide := NewFrame()
	require.NoError(t, wide.Set("v", NewNumericColumn(make([]float64, 1000))))
	narrow := NewFrame()
	require.NoError(t, narrow.Set("v", NewNumericColumn(make([]int8, 1000))))
	assert.Equal(t, int64(8000), wide.MemoryUsage())
	assert.Equal(t, int64(1000), narrow.MemoryUsage())
}

func TestTimestampColumn(t *testing.T) {
	ts := time.Date(2016, 1, 2, 3, 0, 0, 0, time.UTC)
	col := TimestampColumnFromTimes([]time.Time{ts, {}})

	s, ok := col.Text(0)
	assert.True(t, ok)
	assert.Equal(t, "2016-01-02 03:00:00", s)
	assert.True(t, col.IsNull(1))
	got, ok := col.Time(0)
	assert.True(t, ok)
	assert.True(t, ts.Equal(got))
}

func TestParseTimestamp(t *testing.T) {
	for _, in := range []string{"2016-01-01 05:00:00", "2016-01-01T05:00:00Z", "2016-01-01T05:00:00"} {
		got, err := ParseTimestamp(in)
		require.NoError(t, err, in)
		assert.Equal(t, time.Date(2016, 1, 1, 5, 0, 0, 0, time.UTC), got)
	}
	day, err := ParseTimestamp("2016-03-04")
	require.NoError(t, err)
	assert.Equal(t, 4, day.Day())

	_, err = ParseTimestamp("yesterday")
	assert.Error(t, err)
}

func TestColumnTypeText(t *testing.T) {
	b, err := ColumnTypeInt16.MarshalText()
	require.NoError(t, err)
	assert.Equal(t, "int16", string(b))

	var ct ColumnType
	require.NoError(t, ct.UnmarshalText([]byte("category")))
	assert.Equal(t, ColumnTypeCategory, ct)
	assert.Error(t, ct.UnmarshalText([]byte("decimal")))

	assert.True(t, ColumnTypeFloat16.IsFloat())
	assert.True(t, ColumnTypeString.IsCategorical())
	assert.False(t, ColumnTypeTimestamp.IsNumeric())
}

func TestCategorySortedCategories(t *testing.T) {
	c := CategoryColumnFromStrings([]string{"Retail", "Office", "Retail", "x"}, []bool{true, true, true, false})
	assert.Equal(t, []string{"Office", "Retail"}, c.SortedCategories())
	assert.Equal(t, []string{"Retail", "Office", "x"}, c.Categories())
	assert.Equal(t, int32(-1), c.Codes()[3])
}

func mustColumn(t *testing.T, f *Frame, name string) Column {
	t.Helper()
	c, ok := f.Column(name)
	require.True(t, ok, "column %s", name)
	return c
}
