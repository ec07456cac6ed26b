package columnar

import (
	"fmt"

	"github.com/ajitpratap0/gridcast/pkg/errors"
)

// Frame is an ordered set of equally long named columns.
//
// Frames follow ownership transfer: an operation that transforms a frame
// may change it and returns the result, so callers must not assume the
// input is unchanged. A Frame is not safe for concurrent mutation.
type Frame struct {
	names []string
	cols  map[string]Column
	nrows int
}

// NewFrame creates an empty frame.
func NewFrame() *Frame {
	return &Frame{cols: make(map[string]Column)}
}

// NewFrameFrom builds a frame from parallel name and column slices.
func NewFrameFrom(names []string, cols []Column) (*Frame, error) {
	if len(names) != len(cols) {
		return nil, fmt.Errorf("got %d names for %d columns", len(names), len(cols))
	}
	f := NewFrame()
	for i, name := range names {
		if f.Has(name) {
			return nil, fmt.Errorf("duplicate column %q", name)
		}
		if err := f.Set(name, cols[i]); err != nil {
			return nil, err
		}
	}
	return f, nil
}

// Len returns the row count.
func (f *Frame) Len() int { return f.nrows }

// Width returns the column count.
func (f *Frame) Width() int { return len(f.names) }

// Names returns the column names in order.
func (f *Frame) Names() []string { return append([]string(nil), f.names...) }

// Has reports whether a column exists.
func (f *Frame) Has(name string) bool {
	_, ok := f.cols[name]
	return ok
}

// Column returns a column by name.
func (f *Frame) Column(name string) (Column, bool) {
	c, ok := f.cols[name]
	return c, ok
}

// Columns returns the columns in order.
func (f *Frame) Columns() []Column {
	out := make([]Column, len(f.names))
	for i, n := range f.names {
		out[i] = f.cols[n]
	}
	return out
}

// Types returns each column's type keyed by name.
func (f *Frame) Types() map[string]ColumnType {
	out := make(map[string]ColumnType, len(f.names))
	for _, n := range f.names {
		out[n] = f.cols[n].Type()
	}
	return out
}

// Set replaces an existing column in place or appends a new one. The first
// column of an empty frame fixes the row count.
func (f *Frame) Set(name string, col Column) error {
	if len(f.names) > 0 && col.Len() != f.nrows {
		return errors.Newf(errors.ErrorTypeData, "column %q has %d rows, frame has %d", name, col.Len(), f.nrows).
			WithDetail("column", name)
	}
	if len(f.names) == 0 {
		f.nrows = col.Len()
	}
	if _, ok := f.cols[name]; !ok {
		f.names = append(f.names, name)
	}
	f.cols[name] = col
	return nil
}

// Drop removes the named columns; absent names are ignored.
func (f *Frame) Drop(names ...string) *Frame {
	if len(names) == 0 {
		return f
	}
	drop := make(map[string]struct{}, len(names))
	for _, n := range names {
		drop[n] = struct{}{}
	}
	kept := f.names[:0]
	for _, n := range f.names {
		if _, ok := drop[n]; ok {
			delete(f.cols, n)
			continue
		}
		kept = append(kept, n)
	}
	f.names = kept
	if len(f.names) == 0 {
		f.nrows = 0
	}
	return f
}

// Select returns a frame sharing the named columns, in the given order.
func (f *Frame) Select(names ...string) (*Frame, error) {
	out := NewFrame()
	for _, n := range names {
		c, ok := f.cols[n]
		if !ok {
			return nil, errors.Newf(errors.ErrorTypeNotFound, "column %q not found", n)
		}
		if err := out.Set(n, c); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Take returns a new frame with the rows at idx, in idx order.
func (f *Frame) Take(idx []int) *Frame {
	out := &Frame{names: f.Names(), cols: make(map[string]Column, len(f.names)), nrows: len(idx)}
	for _, n := range f.names {
		out.cols[n] = f.cols[n].Take(idx)
	}
	return out
}

// Slice returns a copy of rows [lo, hi).
func (f *Frame) Slice(lo, hi int) *Frame {
	if lo < 0 {
		lo = 0
	}
	if hi > f.nrows {
		hi = f.nrows
	}
	if hi < lo {
		hi = lo
	}
	out := &Frame{names: f.Names(), cols: make(map[string]Column, len(f.names)), nrows: hi - lo}
	for _, n := range f.names {
		out.cols[n] = f.cols[n].Slice(lo, hi)
	}
	return out
}

// Head returns a copy of the first n rows.
func (f *Frame) Head(n int) *Frame { return f.Slice(0, n) }

// Concat stacks frames with identical column names. Columns whose types
// differ between frames are promoted with CommonType.
func Concat(frames ...*Frame) (*Frame, error) {
	var parts []*Frame
	for _, fr := range frames {
		if fr != nil && fr.Width() > 0 {
			parts = append(parts, fr)
		}
	}
	if len(parts) == 0 {
		return NewFrame(), nil
	}
	if len(parts) == 1 {
		return parts[0], nil
	}

	first := parts[0]
	out := NewFrame()
	for _, name := range first.names {
		typ := first.cols[name].Type()
		for _, p := range parts[1:] {
			c, ok := p.cols[name]
			if !ok || p.Width() != first.Width() {
				return nil, errors.Newf(errors.ErrorTypeData, "concat: column sets differ at %q", name)
			}
			typ = CommonType(typ, c.Type())
		}

		cols := make([]Column, len(parts))
		for i, p := range parts {
			c, err := Cast(p.cols[name], typ)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeData, "concat: promote column").WithDetail("column", name)
			}
			cols[i] = c
		}
		if err := out.Set(name, concatColumns(cols)); err != nil {
			return nil, err
		}
	}
	return out, nil
}

// Rename changes one column name, keeping its position.
func (f *Frame) Rename(from, to string) error {
	if from == to {
		return nil
	}
	c, ok := f.cols[from]
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "column %q not found", from)
	}
	if f.Has(to) {
		return errors.Newf(errors.ErrorTypeData, "column %q already exists", to)
	}
	for i, n := range f.names {
		if n == from {
			f.names[i] = to
		}
	}
	delete(f.cols, from)
	f.cols[to] = c
	return nil
}

// RenameAll applies fn to every column name. Two names mapping to the same
// result is an error and leaves the frame unchanged.
func (f *Frame) RenameAll(fn func(string) string) error {
	renamed := make([]string, len(f.names))
	seen := make(map[string]string, len(f.names))
	for i, n := range f.names {
		r := fn(n)
		if prev, dup := seen[r]; dup {
			return errors.Newf(errors.ErrorTypeData, "columns %q and %q both rename to %q", prev, n, r)
		}
		seen[r] = n
		renamed[i] = r
	}
	cols := make(map[string]Column, len(f.names))
	for i, n := range f.names {
		cols[renamed[i]] = f.cols[n]
	}
	f.names = renamed
	f.cols = cols
	return nil
}

// Reindex returns a frame with exactly names, in order. Present columns are
// shared; missing ones are produced by fill, which must return a column of
// Len() rows.
func (f *Frame) Reindex(names []string, fill func(name string, n int) Column) (*Frame, error) {
	out := NewFrame()
	out.nrows = f.nrows
	for _, n := range names {
		c, ok := f.cols[n]
		if !ok {
			c = fill(n, f.nrows)
		}
		if c.Len() != f.nrows {
			return nil, errors.Newf(errors.ErrorTypeData, "reindex: column %q has %d rows, want %d", n, c.Len(), f.nrows)
		}
		out.names = append(out.names, n)
		out.cols[n] = c
	}
	return out, nil
}

// Cast converts one column in place.
func (f *Frame) Cast(name string, to ColumnType) error {
	c, ok := f.cols[name]
	if !ok {
		return errors.Newf(errors.ErrorTypeNotFound, "column %q not found", name)
	}
	converted, err := Cast(c, to)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeData, "cast failed").WithDetail("column", name).WithDetail("type", to.String())
	}
	f.cols[name] = converted
	return nil
}

// MemoryUsage estimates the bytes held by all columns.
func (f *Frame) MemoryUsage() int64 {
	var total int64
	for _, c := range f.cols {
		total += c.MemoryUsage()
	}
	return total
}

// Row returns row i keyed by column name; nulls are nil.
func (f *Frame) Row(i int) map[string]interface{} {
	row := make(map[string]interface{}, len(f.names))
	for _, n := range f.names {
		row[n] = f.cols[n].Value(i)
	}
	return row
}

// Clone deep-copies the frame.
func (f *Frame) Clone() *Frame {
	out := &Frame{names: f.Names(), cols: make(map[string]Column, len(f.names)), nrows: f.nrows}
	for _, n := range f.names {
		out.cols[n] = f.cols[n].Clone()
	}
	return out
}

// ShallowCopy returns a new frame sharing the column data. Setting or
// dropping columns on the copy leaves f untouched.
func (f *Frame) ShallowCopy() *Frame {
	out := &Frame{names: f.Names(), cols: make(map[string]Column, len(f.names)), nrows: f.nrows}
	for _, n := range f.names {
		out.cols[n] = f.cols[n]
	}
	return out
}
