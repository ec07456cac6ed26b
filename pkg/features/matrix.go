package features

import (
	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
)

// LabelColumn names the single column of a stored target frame.
const LabelColumn = "target"

// DesignMatrix flattens the named columns of f into a row-major float64
// matrix. Nulls become NaN.
func DesignMatrix(f *columnar.Frame, columns []string) ([]float64, error) {
	cols := make([]columnar.Column, len(columns))
	for j, name := range columns {
		c, ok := f.Column(name)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "design matrix column %q missing", name)
		}
		if !c.Type().IsNumeric() {
			return nil, errors.Newf(errors.ErrorTypeData, "design matrix column %q is %s", name, c.Type())
		}
		cols[j] = c
	}

	width := len(cols)
	out := make([]float64, f.Len()*width)
	for j, c := range cols {
		for i := 0; i < f.Len(); i++ {
			out[i*width+j] = c.Float64(i)
		}
	}
	return out, nil
}

// TargetFrame wraps y in a one-column frame for storage.
func TargetFrame(y []float32) *columnar.Frame {
	f := columnar.NewFrame()
	_ = f.Set(LabelColumn, columnar.NewNumericColumn(y))
	return f
}

// TargetFromFrame reads y back from a frame written by TargetFrame.
func TargetFromFrame(f *columnar.Frame) ([]float32, error) {
	col, ok := f.Column(LabelColumn)
	if !ok {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "target frame has no %q column", LabelColumn)
	}
	if nc, ok := col.(*columnar.NumericColumn[float32]); ok {
		return nc.Values(), nil
	}
	y := make([]float32, col.Len())
	for i := range y {
		y[i] = float32(col.Float64(i))
	}
	return y, nil
}
