package features

import (
	"math"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"go.uber.org/zap"
)

// maxFloat16 is the largest finite half precision value.
const maxFloat16 = 65504.0

// Optimizer narrows column types to the smallest width that holds the
// observed values.
type Optimizer struct {
	logger *zap.Logger
}

// NewOptimizer creates an optimizer.
func NewOptimizer(logger *zap.Logger) *Optimizer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Optimizer{logger: logger.With(zap.String("component", "optimizer"))}
}

// ReduceMemUsage recasts every numeric column of f. Integers take the first
// of int8, int16, int32 whose range strictly contains [min, max], else
// int64. Floats take float16 (only when useFloat16), then float32, else
// float64. Timestamp and label columns are left alone. Rows are never
// added, removed or reordered and the call cannot fail.
func (o *Optimizer) ReduceMemUsage(f *columnar.Frame, useFloat16 bool) *columnar.Frame {
	before := f.MemoryUsage()
	o.logger.Info("memory optimization started", zap.Float64("mb", toMB(before)))

	for _, name := range f.Names() {
		col, _ := f.Column(name)
		typ := col.Type()
		if !typ.IsNumeric() {
			continue
		}

		lo, hi, seen := observedRange(col)
		target := narrowest(typ, lo, hi, seen, useFloat16)
		if target == typ {
			continue
		}
		if err := f.Cast(name, target); err != nil {
			o.logger.Warn("keeping column type",
				zap.String("column", name),
				zap.Stringer("type", typ),
				zap.Error(err))
		}
	}

	after := f.MemoryUsage()
	reduction := 0.0
	if before > 0 {
		reduction = 100 * float64(before-after) / float64(before)
	}
	metrics.FrameBytes.WithLabelValues("before").Set(float64(before))
	metrics.FrameBytes.WithLabelValues("after").Set(float64(after))
	o.logger.Info("memory optimization finished",
		zap.Float64("mb", toMB(after)),
		zap.Float64("reduction_pct", math.Round(reduction*10)/10))
	return f
}

func observedRange(col columnar.Column) (lo, hi float64, seen bool) {
	lo, hi = math.Inf(1), math.Inf(-1)
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		v := col.Float64(i)
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
		seen = true
	}
	return lo, hi, seen
}

func narrowest(typ columnar.ColumnType, lo, hi float64, seen, useFloat16 bool) columnar.ColumnType {
	if typ.IsInteger() {
		if !seen {
			return typ
		}
		for _, cand := range []columnar.ColumnType{columnar.ColumnTypeInt8, columnar.ColumnTypeInt16, columnar.ColumnTypeInt32} {
			tmin, tmax := cand.IntRange()
			if lo > float64(tmin) && hi < float64(tmax) {
				return cand
			}
		}
		return columnar.ColumnTypeInt64
	}

	switch {
	case !seen:
		return columnar.ColumnTypeFloat64
	case useFloat16 && lo > -maxFloat16 && hi < maxFloat16:
		return columnar.ColumnTypeFloat16
	case lo > -math.MaxFloat32 && hi < math.MaxFloat32:
		return columnar.ColumnTypeFloat32
	default:
		return columnar.ColumnTypeFloat64
	}
}

func toMB(b int64) float64 {
	return math.Round(float64(b)/(1024*1024)*100) / 100
}
