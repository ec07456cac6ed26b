package features

import (
	"math"
	"testing"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func round4(v float64) float64 { return math.Round(v*1e4) / 1e4 }

func TestEngineerWeekendAndTarget(t *testing.T) {
	f := testutil.Frame(t,
		[]string{"timestamp", "meter_reading"},
		columnar.NewStringColumn([]string{"2016-01-01 00:00:00", "2016-01-02 13:00:00", "2016-01-04T08:00:00Z"}, nil),
		columnar.NewNumericColumn([]float64{0, 9, 99}),
	)

	out, err := NewEngineer(testutil.TestLogger(t)).Engineer(f)
	require.NoError(t, err)

	ts, _ := out.Column("timestamp")
	assert.Equal(t, columnar.ColumnTypeTimestamp, ts.Type())

	weekend, ok := out.Column(WeekendColumn)
	require.True(t, ok)
	assert.Equal(t, columnar.ColumnTypeInt8, weekend.Type())
	assert.Equal(t, []int8{0, 1, 0}, weekend.(*columnar.NumericColumn[int8]).Values(), "Friday, Saturday, Monday")

	target, _ := out.Column(TargetColumn)
	assert.Equal(t, columnar.ColumnTypeFloat32, target.Type())
	got := []float64{round4(target.Float64(0)), round4(target.Float64(1)), round4(target.Float64(2))}
	assert.Equal(t, []float64{0, 2.3026, 4.6052}, got)
}

func TestEngineerSunday(t *testing.T) {
	f := testutil.Frame(t, []string{"timestamp"},
		columnar.NewStringColumn([]string{"2016-01-03"}, nil))
	out, err := NewEngineer(nil).Engineer(f)
	require.NoError(t, err)
	weekend, _ := out.Column(WeekendColumn)
	assert.Equal(t, 1.0, weekend.Float64(0))
}

func TestEngineerWithoutTimestampPassesThrough(t *testing.T) {
	f := testutil.Frame(t, []string{"is_weekend", "air_temperature"},
		columnar.NewNumericColumn([]int8{1}),
		columnar.NewNumericColumn([]float32{22.5}),
	)
	out, err := NewEngineer(nil).Engineer(f)
	require.NoError(t, err)
	assert.Equal(t, []string{"is_weekend", "air_temperature"}, out.Names())
}

func TestEngineerRejectsBadTimestamp(t *testing.T) {
	f := testutil.Frame(t, []string{"timestamp"},
		columnar.NewStringColumn([]string{"yesterday"}, nil))
	_, err := NewEngineer(nil).Engineer(f)
	assert.Error(t, err)
}

func TestInverseTarget(t *testing.T) {
	assert.InDelta(t, 9.0, InverseTarget(2.3026), 1e-3)
	assert.Equal(t, 0.0, InverseTarget(0))
	assert.GreaterOrEqual(t, InverseTarget(-5.0), 0.0)
	assert.Equal(t, 0.0, InverseTarget(math.NaN()))
}
