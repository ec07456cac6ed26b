package columnar

import (
	"strings"
	"time"
)

// TimestampLayout is the canonical text form of timestamps.
const TimestampLayout = "2006-01-02 15:04:05"

var timestampLayouts = []string{
	TimestampLayout,
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02",
}

// ParseTimestamp parses the text forms found in the raw sources and API
// requests. Times without a zone are UTC.
func ParseTimestamp(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var firstErr error
	for _, layout := range timestampLayouts {
		t, err := time.ParseInLocation(layout, s, time.UTC)
		if err == nil {
			return t.UTC(), nil
		}
		if firstErr == nil {
			firstErr = err
		}
	}
	return time.Time{}, firstErr
}

// TimestampColumn stores unix nanoseconds; NaT marks null.
type TimestampColumn struct {
	values []int64
}

// NewTimestampColumn wraps unix nanosecond values without copying.
func NewTimestampColumn(nanos []int64) *TimestampColumn {
	return &TimestampColumn{values: nanos}
}

// TimestampColumnFromTimes converts times; the zero time becomes NaT.
func TimestampColumnFromTimes(times []time.Time) *TimestampColumn {
	out := make([]int64, len(times))
	for i, t := range times {
		if t.IsZero() {
			out[i] = NaT
			continue
		}
		out[i] = t.UnixNano()
	}
	return &TimestampColumn{values: out}
}

// Values exposes the backing slice; callers must not modify it.
func (c *TimestampColumn) Values() []int64 { return c.values }

// Time returns row i as a UTC time and false for NaT.
func (c *TimestampColumn) Time(i int) (time.Time, bool) {
	if c.values[i] == NaT {
		return time.Time{}, false
	}
	return time.Unix(0, c.values[i]).UTC(), true
}

func (c *TimestampColumn) Type() ColumnType  { return ColumnTypeTimestamp }
func (c *TimestampColumn) Len() int          { return len(c.values) }
func (c *TimestampColumn) IsNull(i int) bool { return c.values[i] == NaT }

func (c *TimestampColumn) Float64(i int) float64 {
	if c.values[i] == NaT {
		return nan()
	}
	return float64(c.values[i])
}

func (c *TimestampColumn) Text(i int) (string, bool) {
	t, ok := c.Time(i)
	if !ok {
		return "", false
	}
	return t.Format(TimestampLayout), true
}

func (c *TimestampColumn) Value(i int) interface{} {
	t, ok := c.Time(i)
	if !ok {
		return nil
	}
	return t
}

func (c *TimestampColumn) MemoryUsage() int64 { return int64(len(c.values)) * 8 }

func (c *TimestampColumn) Clone() Column {
	return NewTimestampColumn(append([]int64(nil), c.values...))
}

func (c *TimestampColumn) Take(idx []int) Column {
	out := make([]int64, len(idx))
	for j, i := range idx {
		out[j] = c.values[i]
	}
	return NewTimestampColumn(out)
}

func (c *TimestampColumn) Slice(lo, hi int) Column {
	return NewTimestampColumn(append([]int64(nil), c.values[lo:hi]...))
}
