package columnar

import (
	"fmt"
	"math"
)

// ColumnType represents the data type of a column
type ColumnType uint8

const (
	ColumnTypeInvalid ColumnType = iota
	ColumnTypeInt8
	ColumnTypeInt16
	ColumnTypeInt32
	ColumnTypeInt64
	ColumnTypeFloat16
	ColumnTypeFloat32
	ColumnTypeFloat64
	ColumnTypeCategory
	ColumnTypeString
	ColumnTypeTimestamp
)

// NaT is the sentinel stored by timestamp columns for a missing instant.
const NaT int64 = math.MinInt64

var columnTypeNames = map[ColumnType]string{
	ColumnTypeInt8:      "int8",
	ColumnTypeInt16:     "int16",
	ColumnTypeInt32:     "int32",
	ColumnTypeInt64:     "int64",
	ColumnTypeFloat16:   "float16",
	ColumnTypeFloat32:   "float32",
	ColumnTypeFloat64:   "float64",
	ColumnTypeCategory:  "category",
	ColumnTypeString:    "string",
	ColumnTypeTimestamp: "timestamp",
}

func (t ColumnType) String() string {
	if name, ok := columnTypeNames[t]; ok {
		return name
	}
	return fmt.Sprintf("invalid(%d)", uint8(t))
}

// ParseColumnType resolves a type name such as "int16" or "category".
func ParseColumnType(name string) (ColumnType, error) {
	for t, n := range columnTypeNames {
		if n == name {
			return t, nil
		}
	}
	return ColumnTypeInvalid, fmt.Errorf("unknown column type %q", name)
}

// MarshalText encodes the type as its name.
func (t ColumnType) MarshalText() ([]byte, error) {
	name, ok := columnTypeNames[t]
	if !ok {
		return nil, fmt.Errorf("cannot marshal column type %d", uint8(t))
	}
	return []byte(name), nil
}

// UnmarshalText decodes a type name.
func (t *ColumnType) UnmarshalText(b []byte) error {
	parsed, err := ParseColumnType(string(b))
	if err != nil {
		return err
	}
	*t = parsed
	return nil
}

// IsInteger reports whether the type is a signed integer.
func (t ColumnType) IsInteger() bool {
	return t >= ColumnTypeInt8 && t <= ColumnTypeInt64
}

// IsFloat reports whether the type is a floating point type.
func (t ColumnType) IsFloat() bool {
	return t >= ColumnTypeFloat16 && t <= ColumnTypeFloat64
}

// IsNumeric reports whether the type is an integer or float.
func (t ColumnType) IsNumeric() bool {
	return t.IsInteger() || t.IsFloat()
}

// IsCategorical reports whether values are labels (category or string).
func (t ColumnType) IsCategorical() bool {
	return t == ColumnTypeCategory || t == ColumnTypeString
}

// ByteWidth is the in-memory width of one value. Strings report the header
// size only; StringColumn adds the payload in MemoryUsage.
func (t ColumnType) ByteWidth() int {
	switch t {
	case ColumnTypeInt8:
		return 1
	case ColumnTypeInt16, ColumnTypeFloat16:
		return 2
	case ColumnTypeInt32, ColumnTypeFloat32, ColumnTypeCategory:
		return 4
	case ColumnTypeInt64, ColumnTypeFloat64, ColumnTypeTimestamp:
		return 8
	case ColumnTypeString:
		return 16
	default:
		return 0
	}
}

// IntRange returns the representable range of an integer type.
func (t ColumnType) IntRange() (lo, hi int64) {
	switch t {
	case ColumnTypeInt8:
		return math.MinInt8, math.MaxInt8
	case ColumnTypeInt16:
		return math.MinInt16, math.MaxInt16
	case ColumnTypeInt32:
		return math.MinInt32, math.MaxInt32
	default:
		return math.MinInt64, math.MaxInt64
	}
}

// Column is the base interface for all column types. Columns are treated as
// immutable once placed in a Frame: transformations build new columns.
type Column interface {
	Type() ColumnType
	Len() int
	// IsNull reports whether row i holds the type's null marker.
	IsNull(i int) bool
	// Float64 returns the numeric value of row i, NaN when null. Category
	// columns return the dictionary code; timestamps return unix nanoseconds.
	Float64(i int) float64
	// Text returns the textual value of row i and false when null.
	Text(i int) (string, bool)
	// Value returns the typed value of row i, nil when null.
	Value(i int) interface{}
	MemoryUsage() int64
	Clone() Column
	Take(idx []int) Column
	Slice(lo, hi int) Column
}

// bitmap marks null rows; a set bit means null
type bitmap []uint64

func (b bitmap) get(i int) bool {
	w := i >> 6
	if w >= len(b) {
		return false
	}
	return b[w]&(1<<(uint(i)&63)) != 0
}

func (b *bitmap) set(i int) {
	w := i >> 6
	for len(*b) <= w {
		*b = append(*b, 0)
	}
	(*b)[w] |= 1 << (uint(i) & 63)
}

func (b bitmap) clone() bitmap {
	if len(b) == 0 {
		return nil
	}
	return append(bitmap(nil), b...)
}
