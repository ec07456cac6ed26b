package columnar

import (
	"math"
	"strconv"
	"strings"

	"github.com/ajitpratap0/gridcast/pkg/errors"
)

// LeftJoin keeps every left row, in order, and attaches the matching right
// rows on the key columns. A left row with several matches is repeated. Right
// columns of unmatched rows are null; integer columns are widened to float64
// to hold that null. Rows with a null key never match. Non-key names present
// on both sides get "_x" and "_y" suffixes.
func LeftJoin(left, right *Frame, on []string) (*Frame, error) {
	if len(on) == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "join needs at least one key column")
	}
	leftKeys := make([]Column, len(on))
	rightKeys := make([]Column, len(on))
	for i, k := range on {
		lc, ok := left.Column(k)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "join key %q missing on left", k)
		}
		rc, ok := right.Column(k)
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "join key %q missing on right", k)
		}
		leftKeys[i], rightKeys[i] = lc, rc
	}

	index := make(map[string][]int, right.Len())
	for i := 0; i < right.Len(); i++ {
		if key, ok := joinKey(rightKeys, i); ok {
			index[key] = append(index[key], i)
		}
	}

	leftIdx := make([]int, 0, left.Len())
	rightIdx := make([]int, 0, left.Len())
	for i := 0; i < left.Len(); i++ {
		key, ok := joinKey(leftKeys, i)
		matches := index[key]
		if !ok || len(matches) == 0 {
			leftIdx = append(leftIdx, i)
			rightIdx = append(rightIdx, -1)
			continue
		}
		for _, j := range matches {
			leftIdx = append(leftIdx, i)
			rightIdx = append(rightIdx, j)
		}
	}

	keySet := make(map[string]struct{}, len(on))
	for _, k := range on {
		keySet[k] = struct{}{}
	}

	out := NewFrame()
	for _, name := range left.names {
		outName := name
		if _, isKey := keySet[name]; !isKey && right.Has(name) {
			outName = name + "_x"
		}
		if err := out.Set(outName, left.cols[name].Take(leftIdx)); err != nil {
			return nil, err
		}
	}
	for _, name := range right.names {
		if _, isKey := keySet[name]; isKey {
			continue
		}
		outName := name
		if left.Has(name) {
			outName = name + "_y"
		}
		if err := out.Set(outName, TakeNullable(right.cols[name], rightIdx)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// joinKey renders the key columns of row i; false when any part is null.
func joinKey(cols []Column, i int) (string, bool) {
	var b strings.Builder
	for j, c := range cols {
		if c.IsNull(i) {
			return "", false
		}
		if j > 0 {
			b.WriteByte(0)
		}
		switch c.Type() {
		case ColumnTypeCategory, ColumnTypeString:
			s, _ := c.Text(i)
			b.WriteString(s)
		case ColumnTypeTimestamp:
			b.WriteString(strconv.FormatInt(c.(*TimestampColumn).values[i], 10))
		default:
			v := c.Float64(i)
			if v == math.Trunc(v) && math.Abs(v) < 1<<53 {
				b.WriteString(strconv.FormatInt(int64(v), 10))
			} else {
				b.WriteString(strconv.FormatFloat(v, 'g', -1, 64))
			}
		}
	}
	return b.String(), true
}

// TakeNullable is Take where -1 produces a null row.
func TakeNullable(col Column, idx []int) Column {
	missing := false
	for _, i := range idx {
		if i < 0 {
			missing = true
			break
		}
	}
	if !missing {
		return col.Take(idx)
	}

	switch c := col.(type) {
	case *NumericColumn[float32]:
		out := make([]float32, len(idx))
		nan32 := float32(math.NaN())
		for j, i := range idx {
			if i < 0 {
				out[j] = nan32
				continue
			}
			out[j] = c.values[i]
		}
		return NewNumericColumn(out)
	case *Float16Column:
		vals := make([]float64, len(idx))
		for j, i := range idx {
			if i < 0 {
				vals[j] = math.NaN()
				continue
			}
			vals[j] = c.Float64(i)
		}
		return Float16FromFloat64s(vals)
	case *CategoryColumn:
		codes := make([]int32, len(idx))
		for j, i := range idx {
			if i < 0 {
				codes[j] = -1
				continue
			}
			codes[j] = c.codes[i]
		}
		return c.withCodes(codes)
	case *StringColumn:
		out := NewStringColumn(make([]string, 0, len(idx)), nil)
		for _, i := range idx {
			if i < 0 {
				out.AppendNull()
				continue
			}
			out.Append(c.Text(i))
		}
		return out
	case *TimestampColumn:
		out := make([]int64, len(idx))
		for j, i := range idx {
			if i < 0 {
				out[j] = NaT
				continue
			}
			out[j] = c.values[i]
		}
		return NewTimestampColumn(out)
	default:
		out := make([]float64, len(idx))
		for j, i := range idx {
			if i < 0 {
				out[j] = math.NaN()
				continue
			}
			out[j] = col.Float64(i)
		}
		return NewNumericColumn(out)
	}
}
