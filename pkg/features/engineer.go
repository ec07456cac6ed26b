package features

import (
	"math"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"go.uber.org/zap"
)

// Column names the feature pipeline relies on.
const (
	TargetColumn    = "meter_reading"
	TimestampColumn = "timestamp"
	WeekendColumn   = "is_weekend"
)

// Engineer derives temporal features and stabilizes the target.
type Engineer struct {
	logger *zap.Logger
}

// NewEngineer creates an engineer.
func NewEngineer(logger *zap.Logger) *Engineer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Engineer{logger: logger.With(zap.String("component", "feature_engineer"))}
}

// Engineer adds is_weekend from the timestamp column (parsing text
// timestamps first) and replaces the target with float32(log1p(x)) when it
// is present. A frame without a timestamp column is passed through, which
// is the case for inference requests that carry is_weekend already.
func (e *Engineer) Engineer(f *columnar.Frame) (*columnar.Frame, error) {
	if f.Has(TimestampColumn) {
		if err := addWeekend(f); err != nil {
			return nil, err
		}
	}

	if col, ok := f.Column(TargetColumn); ok {
		if err := f.Set(TargetColumn, log1pColumn(col)); err != nil {
			return nil, err
		}
	}

	e.logger.Debug("feature engineering complete", zap.Strings("columns", f.Names()))
	return f, nil
}

func addWeekend(f *columnar.Frame) error {
	col, _ := f.Column(TimestampColumn)
	if col.Type() != columnar.ColumnTypeTimestamp {
		if err := f.Cast(TimestampColumn, columnar.ColumnTypeTimestamp); err != nil {
			return errors.Wrap(err, errors.ErrorTypeData, "parse timestamp column")
		}
		col, _ = f.Column(TimestampColumn)
	}
	ts := col.(*columnar.TimestampColumn)

	weekend := make([]int8, ts.Len())
	for i := range weekend {
		t, ok := ts.Time(i)
		if !ok {
			continue
		}
		if dayOfWeek(t) >= 5 {
			weekend[i] = 1
		}
	}
	return f.Set(WeekendColumn, columnar.NewNumericColumn(weekend))
}

// dayOfWeek numbers days from Monday=0 to Sunday=6.
func dayOfWeek(t time.Time) int {
	return (int(t.Weekday()) + 6) % 7
}

func log1pColumn(col columnar.Column) columnar.Column {
	out := make([]float32, col.Len())
	for i := range out {
		if col.IsNull(i) {
			out[i] = float32(math.NaN())
			continue
		}
		out[i] = float32(math.Log1p(col.Float64(i)))
	}
	return columnar.NewNumericColumn(out)
}

// InverseTarget maps a raw model output back to meter units. The result is
// never negative and NaN maps to 0.
func InverseTarget(raw float64) float64 {
	v := math.Expm1(raw)
	if math.IsNaN(v) || v < 0 {
		return 0
	}
	return v
}
