package columnar

import (
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/gridcast/pkg/errors"
)

func nan() float64 { return math.NaN() }

func errNotNumeric(t ColumnType) error {
	return errors.Newf(errors.ErrorTypeData, "column type %s is not numeric", t)
}

// Cast converts col to type to. A column already of that type is returned
// as is. Nulls survive every conversion except into integer types, which
// cannot represent them and fail with a data error, as do out-of-range
// integers and unparseable text.
func Cast(col Column, to ColumnType) (Column, error) {
	if col.Type() == to {
		return col, nil
	}

	switch to {
	case ColumnTypeInt8:
		return castNumber[int8](col, to)
	case ColumnTypeInt16:
		return castNumber[int16](col, to)
	case ColumnTypeInt32:
		return castNumber[int32](col, to)
	case ColumnTypeInt64:
		return castNumber[int64](col, to)
	case ColumnTypeFloat32:
		return castNumber[float32](col, to)
	case ColumnTypeFloat64:
		return castNumber[float64](col, to)
	case ColumnTypeFloat16:
		wide, err := castNumber[float64](col, ColumnTypeFloat64)
		if err != nil {
			return nil, err
		}
		return Float16FromFloat64s(wide.(*NumericColumn[float64]).values), nil
	case ColumnTypeCategory:
		if s, ok := col.(*StringColumn); ok {
			return s.ToCategory(), nil
		}
		out := NewCategoryColumn()
		for i := 0; i < col.Len(); i++ {
			out.Append(col.Text(i))
		}
		return out, nil
	case ColumnTypeString:
		out := NewStringColumn(make([]string, 0, col.Len()), nil)
		for i := 0; i < col.Len(); i++ {
			out.Append(col.Text(i))
		}
		return out, nil
	case ColumnTypeTimestamp:
		return castTimestamp(col)
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "cannot cast to %s", to)
	}
}

func castNumber[T Number](col Column, to ColumnType) (Column, error) {
	n := col.Len()
	out := make([]T, n)
	intTarget := to.IsInteger()
	lo, hi := to.IntRange()

	if src, ok := col.(*NumericColumn[int64]); ok && intTarget {
		for i, v := range src.values {
			if v < lo || v > hi {
				return nil, errOutOfRange(v, to)
			}
			out[i] = T(v)
		}
		return NewNumericColumn(out), nil
	}

	for i := 0; i < n; i++ {
		v, err := numericAt(col, i)
		if err != nil {
			return nil, err
		}
		if intTarget {
			if math.IsNaN(v) {
				return nil, errors.Newf(errors.ErrorTypeData, "cannot cast null at row %d to %s", i, to)
			}
			v = math.Trunc(v)
			if v < float64(lo) || v > float64(hi) {
				return nil, errOutOfRange(v, to)
			}
		}
		out[i] = T(v)
	}
	return NewNumericColumn(out), nil
}

func errOutOfRange(v interface{}, to ColumnType) error {
	return errors.Newf(errors.ErrorTypeData, "value %v out of range for %s", v, to)
}

// numericAt reads row i as a number, parsing labels.
func numericAt(col Column, i int) (float64, error) {
	switch col.Type() {
	case ColumnTypeCategory, ColumnTypeString:
		s, ok := col.Text(i)
		if !ok || strings.TrimSpace(s) == "" {
			return nan(), nil
		}
		v, err := strconv.ParseFloat(strings.TrimSpace(s), 64)
		if err != nil {
			return 0, errors.Wrap(err, errors.ErrorTypeData, "cannot parse number").
				WithDetail("row", i).WithDetail("value", s)
		}
		return v, nil
	default:
		return col.Float64(i), nil
	}
}

func castTimestamp(col Column) (Column, error) {
	n := col.Len()
	out := make([]int64, n)
	switch {
	case col.Type().IsCategorical():
		for i := 0; i < n; i++ {
			s, ok := col.Text(i)
			if !ok || strings.TrimSpace(s) == "" {
				out[i] = NaT
				continue
			}
			t, err := ParseTimestamp(s)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "cannot parse timestamp").
					WithDetail("row", i).WithDetail("value", s)
			}
			out[i] = t.UnixNano()
		}
	case col.Type() == ColumnTypeInt64:
		copy(out, col.(*NumericColumn[int64]).values)
	default:
		return nil, errors.Newf(errors.ErrorTypeData, "cannot cast %s to timestamp", col.Type())
	}
	return NewTimestampColumn(out), nil
}

// CommonType is the type two columns are promoted to when concatenated.
func CommonType(a, b ColumnType) ColumnType {
	switch {
	case a == b:
		return a
	case a.IsInteger() && b.IsInteger():
		if a > b {
			return a
		}
		return b
	case a.IsNumeric() && b.IsNumeric():
		return promoteFloat(a, b)
	case a.IsCategorical() && b.IsCategorical():
		return ColumnTypeCategory
	default:
		return ColumnTypeString
	}
}

func promoteFloat(a, b ColumnType) ColumnType {
	f, other := a, b
	if !f.IsFloat() || (other.IsFloat() && other > f) {
		f, other = b, a
	}
	if other.IsInteger() && other.ByteWidth() >= f.ByteWidth() {
		if f == ColumnTypeFloat16 {
			f = ColumnTypeFloat32
		}
		if other.ByteWidth() >= f.ByteWidth() {
			f = ColumnTypeFloat64
		}
	}
	return f
}

// concatColumns appends columns that share one concrete type.
func concatColumns(cols []Column) Column {
	switch first := cols[0].(type) {
	case *NumericColumn[int8]:
		return concatNumeric[int8](cols)
	case *NumericColumn[int16]:
		return concatNumeric[int16](cols)
	case *NumericColumn[int32]:
		return concatNumeric[int32](cols)
	case *NumericColumn[int64]:
		return concatNumeric[int64](cols)
	case *NumericColumn[float32]:
		return concatNumeric[float32](cols)
	case *NumericColumn[float64]:
		return concatNumeric[float64](cols)
	case *Float16Column:
		out := append(first.values[:0:0], first.values...)
		for _, c := range cols[1:] {
			out = append(out, c.(*Float16Column).values...)
		}
		return NewFloat16Column(out)
	case *TimestampColumn:
		out := append([]int64(nil), first.values...)
		for _, c := range cols[1:] {
			out = append(out, c.(*TimestampColumn).values...)
		}
		return NewTimestampColumn(out)
	case *CategoryColumn:
		out := first.Clone().(*CategoryColumn)
		for _, c := range cols[1:] {
			for i := 0; i < c.Len(); i++ {
				out.Append(c.Text(i))
			}
		}
		return out
	default:
		out := NewStringColumn(nil, nil)
		for _, c := range cols {
			for i := 0; i < c.Len(); i++ {
				out.Append(c.Text(i))
			}
		}
		return out
	}
}

func concatNumeric[T Number](cols []Column) Column {
	total := 0
	for _, c := range cols {
		total += c.Len()
	}
	out := make([]T, 0, total)
	for _, c := range cols {
		out = append(out, c.(*NumericColumn[T]).values...)
	}
	return NewNumericColumn(out)
}
