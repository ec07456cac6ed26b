package columnar

import (
	"sort"
	"strings"
)

// CategoryColumn dictionary-encodes labels. Codes index Categories; -1 is null.
type CategoryColumn struct {
	categories []string
	index      map[string]int32
	codes      []int32
}

// NewCategoryColumn creates an empty category column.
func NewCategoryColumn() *CategoryColumn {
	return &CategoryColumn{index: make(map[string]int32)}
}

// CategoryColumnFromStrings builds a column from labels. valid may be nil,
// meaning every value is present.
func CategoryColumnFromStrings(values []string, valid []bool) *CategoryColumn {
	c := NewCategoryColumn()
	c.codes = make([]int32, 0, len(values))
	for i, v := range values {
		c.Append(v, valid == nil || valid[i])
	}
	return c
}

// Append adds a label, or a null when valid is false.
func (c *CategoryColumn) Append(v string, valid bool) {
	if !valid {
		c.codes = append(c.codes, -1)
		return
	}
	code, ok := c.index[v]
	if !ok {
		code = int32(len(c.categories)) //nolint:gosec // dictionary stays far below MaxInt32
		c.categories = append(c.categories, v)
		c.index[v] = code
	}
	c.codes = append(c.codes, code)
}

// AppendNull adds a null row.
func (c *CategoryColumn) AppendNull() { c.codes = append(c.codes, -1) }

// Categories returns the dictionary in first-seen order.
func (c *CategoryColumn) Categories() []string {
	return append([]string(nil), c.categories...)
}

// SortedCategories returns the distinct labels that occur, sorted.
func (c *CategoryColumn) SortedCategories() []string {
	seen := make([]bool, len(c.categories))
	for _, code := range c.codes {
		if code >= 0 {
			seen[code] = true
		}
	}
	out := make([]string, 0, len(c.categories))
	for code, ok := range seen {
		if ok {
			out = append(out, c.categories[code])
		}
	}
	sort.Strings(out)
	return out
}

// Codes exposes the backing code slice; callers must not modify it.
func (c *CategoryColumn) Codes() []int32 { return c.codes }

func (c *CategoryColumn) Type() ColumnType  { return ColumnTypeCategory }
func (c *CategoryColumn) Len() int          { return len(c.codes) }
func (c *CategoryColumn) IsNull(i int) bool { return c.codes[i] < 0 }

func (c *CategoryColumn) Float64(i int) float64 {
	if c.codes[i] < 0 {
		return nan()
	}
	return float64(c.codes[i])
}

func (c *CategoryColumn) Text(i int) (string, bool) {
	code := c.codes[i]
	if code < 0 {
		return "", false
	}
	return c.categories[code], true
}

func (c *CategoryColumn) Value(i int) interface{} {
	if s, ok := c.Text(i); ok {
		return s
	}
	return nil
}

func (c *CategoryColumn) MemoryUsage() int64 {
	total := int64(len(c.codes)) * 4
	for _, s := range c.categories {
		total += int64(len(s)) + 16
	}
	return total
}

func (c *CategoryColumn) withCodes(codes []int32) *CategoryColumn {
	out := &CategoryColumn{
		categories: append([]string(nil), c.categories...),
		index:      make(map[string]int32, len(c.index)),
		codes:      codes,
	}
	for k, v := range c.index {
		out.index[k] = v
	}
	return out
}

func (c *CategoryColumn) Clone() Column {
	return c.withCodes(append([]int32(nil), c.codes...))
}

func (c *CategoryColumn) Take(idx []int) Column {
	codes := make([]int32, len(idx))
	for j, i := range idx {
		codes[j] = c.codes[i]
	}
	return c.withCodes(codes)
}

func (c *CategoryColumn) Slice(lo, hi int) Column {
	return c.withCodes(append([]int32(nil), c.codes[lo:hi]...))
}

// StringColumn stores free text with a null bitmap.
type StringColumn struct {
	values []string
	nulls  bitmap
}

// NewStringColumn wraps values; valid may be nil, meaning no nulls.
func NewStringColumn(values []string, valid []bool) *StringColumn {
	c := &StringColumn{values: values}
	for i := range valid {
		if !valid[i] {
			c.nulls.set(i)
		}
	}
	return c
}

// Append adds a value, or a null when valid is false.
func (c *StringColumn) Append(v string, valid bool) {
	if !valid {
		c.AppendNull()
		return
	}
	c.values = append(c.values, v)
}

// AppendNull adds a null row.
func (c *StringColumn) AppendNull() {
	c.nulls.set(len(c.values))
	c.values = append(c.values, "")
}

func (c *StringColumn) Type() ColumnType  { return ColumnTypeString }
func (c *StringColumn) Len() int          { return len(c.values) }
func (c *StringColumn) IsNull(i int) bool { return c.nulls.get(i) }

func (c *StringColumn) Float64(i int) float64 { return nan() }

func (c *StringColumn) Text(i int) (string, bool) {
	if c.nulls.get(i) {
		return "", false
	}
	return c.values[i], true
}

func (c *StringColumn) Value(i int) interface{} {
	if s, ok := c.Text(i); ok {
		return s
	}
	return nil
}

func (c *StringColumn) MemoryUsage() int64 {
	total := int64(len(c.values))*16 + int64(len(c.nulls))*8
	for _, s := range c.values {
		total += int64(len(s))
	}
	return total
}

func (c *StringColumn) Clone() Column {
	return &StringColumn{values: append([]string(nil), c.values...), nulls: c.nulls.clone()}
}

func (c *StringColumn) Take(idx []int) Column {
	out := &StringColumn{values: make([]string, len(idx))}
	for j, i := range idx {
		out.values[j] = c.values[i]
		if c.nulls.get(i) {
			out.nulls.set(j)
		}
	}
	return out
}

func (c *StringColumn) Slice(lo, hi int) Column {
	idx := make([]int, hi-lo)
	for i := range idx {
		idx[i] = lo + i
	}
	return c.Take(idx)
}

// ToCategory dictionary-encodes the column, trimming surrounding spaces.
func (c *StringColumn) ToCategory() *CategoryColumn {
	out := NewCategoryColumn()
	for i, v := range c.values {
		out.Append(strings.TrimSpace(v), !c.nulls.get(i))
	}
	return out
}
