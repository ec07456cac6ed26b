package columnar

import (
	"math"
	"strconv"

	"github.com/x448/float16"
)

// Number is the set of Go types backing numeric columns.
type Number interface {
	int8 | int16 | int32 | int64 | float32 | float64
}

// NumericColumn stores fixed-width numbers. Float columns use NaN as null;
// integer columns cannot hold nulls.
type NumericColumn[T Number] struct {
	typ    ColumnType
	values []T
}

// NewNumericColumn wraps values without copying.
func NewNumericColumn[T Number](values []T) *NumericColumn[T] {
	return &NumericColumn[T]{typ: numberType[T](), values: values}
}

func numberType[T Number]() ColumnType {
	var zero T
	switch any(zero).(type) {
	case int8:
		return ColumnTypeInt8
	case int16:
		return ColumnTypeInt16
	case int32:
		return ColumnTypeInt32
	case int64:
		return ColumnTypeInt64
	case float32:
		return ColumnTypeFloat32
	default:
		return ColumnTypeFloat64
	}
}

// Values exposes the backing slice; callers must not modify it.
func (c *NumericColumn[T]) Values() []T { return c.values }

func (c *NumericColumn[T]) Type() ColumnType { return c.typ }
func (c *NumericColumn[T]) Len() int         { return len(c.values) }

func (c *NumericColumn[T]) IsNull(i int) bool {
	if !c.typ.IsFloat() {
		return false
	}
	return math.IsNaN(float64(c.values[i]))
}

func (c *NumericColumn[T]) Float64(i int) float64 { return float64(c.values[i]) }

func (c *NumericColumn[T]) Text(i int) (string, bool) {
	if c.IsNull(i) {
		return "", false
	}
	switch c.typ {
	case ColumnTypeFloat32:
		return strconv.FormatFloat(float64(c.values[i]), 'g', -1, 32), true
	case ColumnTypeFloat64:
		return strconv.FormatFloat(float64(c.values[i]), 'g', -1, 64), true
	default:
		return strconv.FormatInt(int64(c.values[i]), 10), true
	}
}

func (c *NumericColumn[T]) Value(i int) interface{} {
	if c.IsNull(i) {
		return nil
	}
	return c.values[i]
}

func (c *NumericColumn[T]) MemoryUsage() int64 {
	return int64(len(c.values)) * int64(c.typ.ByteWidth())
}

func (c *NumericColumn[T]) Clone() Column {
	return NewNumericColumn(append([]T(nil), c.values...))
}

func (c *NumericColumn[T]) Take(idx []int) Column {
	out := make([]T, len(idx))
	for j, i := range idx {
		out[j] = c.values[i]
	}
	return NewNumericColumn(out)
}

func (c *NumericColumn[T]) Slice(lo, hi int) Column {
	return NewNumericColumn(append([]T(nil), c.values[lo:hi]...))
}

// Float16Column stores half precision floats; NaN is null.
type Float16Column struct {
	values []float16.Float16
}

// NewFloat16Column wraps values without copying.
func NewFloat16Column(values []float16.Float16) *Float16Column {
	return &Float16Column{values: values}
}

// Float16FromFloat64s narrows values to half precision.
func Float16FromFloat64s(values []float64) *Float16Column {
	out := make([]float16.Float16, len(values))
	for i, v := range values {
		out[i] = float16.Fromfloat32(float32(v))
	}
	return &Float16Column{values: out}
}

// Values exposes the backing slice; callers must not modify it.
func (c *Float16Column) Values() []float16.Float16 { return c.values }

func (c *Float16Column) Type() ColumnType      { return ColumnTypeFloat16 }
func (c *Float16Column) Len() int              { return len(c.values) }
func (c *Float16Column) IsNull(i int) bool     { return c.values[i].IsNaN() }
func (c *Float16Column) Float64(i int) float64 { return float64(c.values[i].Float32()) }

func (c *Float16Column) Text(i int) (string, bool) {
	if c.IsNull(i) {
		return "", false
	}
	return strconv.FormatFloat(float64(c.values[i].Float32()), 'g', -1, 32), true
}

func (c *Float16Column) Value(i int) interface{} {
	if c.IsNull(i) {
		return nil
	}
	return c.values[i].Float32()
}

func (c *Float16Column) MemoryUsage() int64 { return int64(len(c.values)) * 2 }

func (c *Float16Column) Clone() Column {
	return NewFloat16Column(append([]float16.Float16(nil), c.values...))
}

func (c *Float16Column) Take(idx []int) Column {
	out := make([]float16.Float16, len(idx))
	for j, i := range idx {
		out[j] = c.values[i]
	}
	return NewFloat16Column(out)
}

func (c *Float16Column) Slice(lo, hi int) Column {
	return NewFloat16Column(append([]float16.Float16(nil), c.values[lo:hi]...))
}

// Fill returns a numeric column of n copies of v converted to typ.
func Fill(typ ColumnType, n int, v float64) (Column, error) {
	switch typ {
	case ColumnTypeInt8:
		return fillNumber[int8](n, v), nil
	case ColumnTypeInt16:
		return fillNumber[int16](n, v), nil
	case ColumnTypeInt32:
		return fillNumber[int32](n, v), nil
	case ColumnTypeInt64:
		return fillNumber[int64](n, v), nil
	case ColumnTypeFloat16:
		vals := make([]float64, n)
		for i := range vals {
			vals[i] = v
		}
		return Float16FromFloat64s(vals), nil
	case ColumnTypeFloat32:
		return fillNumber[float32](n, v), nil
	case ColumnTypeFloat64:
		return fillNumber[float64](n, v), nil
	default:
		return nil, errNotNumeric(typ)
	}
}

func fillNumber[T Number](n int, v float64) *NumericColumn[T] {
	vals := make([]T, n)
	x := T(v)
	for i := range vals {
		vals[i] = x
	}
	return NewNumericColumn(vals)
}

// Zeros returns n zero values of typ: 0 for numbers, null for labels and
// NaT for timestamps.
func Zeros(typ ColumnType, n int) Column {
	switch typ {
	case ColumnTypeCategory:
		c := NewCategoryColumn()
		for i := 0; i < n; i++ {
			c.AppendNull()
		}
		return c
	case ColumnTypeString:
		c := NewStringColumn(nil, nil)
		for i := 0; i < n; i++ {
			c.AppendNull()
		}
		return c
	case ColumnTypeTimestamp:
		vals := make([]int64, n)
		for i := range vals {
			vals[i] = NaT
		}
		return NewTimestampColumn(vals)
	default:
		col, err := Fill(typ, n, 0)
		if err != nil {
			return NewNumericColumn(make([]float64, n))
		}
		return col
	}
}
