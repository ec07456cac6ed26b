package features

import (
	"math"
	"testing"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/stretchr/testify/assert"
)

func TestReduceMemUsage(t *testing.T) {
	nan := math.NaN()
	f := testutil.Frame(t,
		[]string{"small", "edge", "wide", "price", "huge", "empty", "label", "ts"},
		columnar.NewNumericColumn([]int64{1, 100, 3}),
		columnar.NewNumericColumn([]int64{-128, 5, 0}),
		columnar.NewNumericColumn([]int64{1 << 40, 0, 1}),
		columnar.NewNumericColumn([]float64{1.5, nan, 2}),
		columnar.NewNumericColumn([]float64{1e300, 0, 1}),
		columnar.NewNumericColumn([]float32{float32(nan), float32(nan), float32(nan)}),
		columnar.CategoryColumnFromStrings([]string{"a", "b", "a"}, nil),
		columnar.TimestampColumnFromTimes(testutil.Hours(testutil.Jan1, 3)),
	)

	out := NewOptimizer(testutil.TestLogger(t)).ReduceMemUsage(f, false)
	types := out.Types()

	assert.Equal(t, columnar.ColumnTypeInt8, types["small"])
	assert.Equal(t, columnar.ColumnTypeInt16, types["edge"], "int8 minimum is not strictly inside the int8 range")
	assert.Equal(t, columnar.ColumnTypeInt64, types["wide"])
	assert.Equal(t, columnar.ColumnTypeFloat32, types["price"])
	assert.Equal(t, columnar.ColumnTypeFloat64, types["huge"])
	assert.Equal(t, columnar.ColumnTypeFloat64, types["empty"])
	assert.Equal(t, columnar.ColumnTypeCategory, types["label"])
	assert.Equal(t, columnar.ColumnTypeTimestamp, types["ts"])
	assert.Equal(t, 3, out.Len())

	price, _ := out.Column("price")
	assert.True(t, price.IsNull(1))
	assert.Equal(t, 2.0, price.Float64(2))
}

func TestReduceMemUsageFloat16IsOptIn(t *testing.T) {
	build := func() *columnar.Frame {
		return testutil.Frame(t,
			[]string{"temp", "pressure"},
			columnar.NewNumericColumn([]float64{-3.5, 40}),
			columnar.NewNumericColumn([]float64{1019.5, 70000}),
		)
	}
	opt := NewOptimizer(nil)

	assert.Equal(t, columnar.ColumnTypeFloat32, opt.ReduceMemUsage(build(), false).Types()["temp"])

	types := opt.ReduceMemUsage(build(), true).Types()
	assert.Equal(t, columnar.ColumnTypeFloat16, types["temp"])
	assert.Equal(t, columnar.ColumnTypeFloat32, types["pressure"], "beyond the half precision range")
}
