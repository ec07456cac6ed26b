package ingestion

import (
	"math"
	"sort"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"go.uber.org/zap"
)

// Transformer cleans one raw chunk before it is written.
type Transformer interface {
	Transform(chunk *columnar.Frame) (*columnar.Frame, error)
}

// chunkTransformer applies the steps shared by every dataset and then the
// step chosen for its kind when the transformer was built.
type chunkTransformer struct {
	kind     schema.DatasetKind
	specific func(*columnar.Frame) (*columnar.Frame, error)
	now      func() time.Time
	logger   *zap.Logger
}

// TransformerOption configures a Transformer.
type TransformerOption func(*chunkTransformer)

// WithClock overrides the lineage clock.
func WithClock(now func() time.Time) TransformerOption {
	return func(t *chunkTransformer) { t.now = now }
}

// NewTransformer resolves the transformation for a dataset kind once.
func NewTransformer(kind schema.DatasetKind, logger *zap.Logger, opts ...TransformerOption) (Transformer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &chunkTransformer{
		kind:   kind,
		now:    time.Now,
		logger: logger.With(zap.String("component", "transformer"), zap.Stringer("dataset", kind)),
	}
	switch kind {
	case schema.KindWeather:
		t.specific = t.transformWeather
	case schema.KindTrain, schema.KindBuilding:
		t.specific = passThrough
	default:
		return nil, errors.Newf(errors.ErrorTypeConfig, "no ingestion transform for %s", kind)
	}
	for _, opt := range opts {
		opt(t)
	}
	return t, nil
}

func passThrough(f *columnar.Frame) (*columnar.Frame, error) { return f, nil }

// Transform snake_cases the headers, stamps the lineage column and runs the
// dataset specific step. Empty chunks are returned unchanged.
func (t *chunkTransformer) Transform(chunk *columnar.Frame) (*columnar.Frame, error) {
	if chunk == nil || chunk.Len() == 0 {
		return chunk, nil
	}
	if err := chunk.RenameAll(schema.SnakeCase); err != nil {
		return nil, err
	}

	stamp := t.now().UTC().UnixNano()
	lineage := make([]int64, chunk.Len())
	for i := range lineage {
		lineage[i] = stamp
	}
	if err := chunk.Set(schema.LineageColumn, columnar.NewTimestampColumn(lineage)); err != nil {
		return nil, err
	}

	return t.specific(chunk)
}

// forwardFilled measures take the previous group's mean when a whole
// (site, day, month) group is missing.
var forwardFilled = map[string]bool{
	"cloud_coverage":     true,
	"sea_level_pressure": true,
	"precip_depth_1_hr":  true,
}

func (t *chunkTransformer) transformWeather(f *columnar.Frame) (*columnar.Frame, error) {
	if err := f.Cast("timestamp", columnar.ColumnTypeTimestamp); err != nil {
		return nil, err
	}
	tsCol, _ := f.Column("timestamp")
	ts := tsCol.(*columnar.TimestampColumn)

	n := f.Len()
	day := make([]int8, n)
	month := make([]int8, n)
	week := make([]int8, n)
	hour := make([]int8, n)
	for i := 0; i < n; i++ {
		tm, ok := ts.Time(i)
		if !ok {
			continue
		}
		_, w := tm.ISOWeek()
		day[i] = int8(tm.Day())     //nolint:gosec // 1..31
		month[i] = int8(tm.Month()) //nolint:gosec // 1..12
		week[i] = int8(w)           //nolint:gosec // 1..53
		hour[i] = int8(tm.Hour())   //nolint:gosec // 0..23
	}
	derived := []struct {
		name string
		col  columnar.Column
	}{
		{"datetime", ts.Clone()},
		{"day", columnar.NewNumericColumn(day)},
		{"month", columnar.NewNumericColumn(month)},
		{"week", columnar.NewNumericColumn(week)},
		{"hour", columnar.NewNumericColumn(hour)},
	}
	for _, d := range derived {
		if err := f.Set(d.name, d.col); err != nil {
			return nil, err
		}
	}

	site, ok := f.Column("site_id")
	if !ok {
		return nil, errors.New(errors.ErrorTypeData, "weather chunk has no site_id")
	}
	groups := groupRows(site, day, month)

	imputed := 0
	for _, name := range schema.WeatherMeasures {
		col, ok := f.Column(name)
		if !ok {
			continue
		}
		filled, count := imputeGroupMean(col, groups, forwardFilled[name])
		if count == 0 {
			continue
		}
		if err := f.Set(name, filled); err != nil {
			return nil, err
		}
		imputed += count
	}
	t.logger.Debug("imputed weather values", zap.Int("cells", imputed), zap.Int("groups", len(groups.order)))
	return f, nil
}

type groupKey struct {
	site       float64
	day, month int8
}

// rowGroups maps each row to its (site, day, month) group, with groups in
// sorted key order.
type rowGroups struct {
	order []groupKey
	ofRow []int
}

func groupRows(site columnar.Column, day, month []int8) rowGroups {
	index := make(map[groupKey]int)
	keys := make([]groupKey, len(day))
	for i := range day {
		k := groupKey{site: site.Float64(i), day: day[i], month: month[i]}
		keys[i] = k
		if _, ok := index[k]; !ok {
			index[k] = len(index)
		}
	}

	order := make([]groupKey, 0, len(index))
	for k := range index {
		order = append(order, k)
	}
	sort.Slice(order, func(a, b int) bool {
		ka, kb := order[a], order[b]
		if ka.site != kb.site {
			return ka.site < kb.site
		}
		if ka.day != kb.day {
			return ka.day < kb.day
		}
		return ka.month < kb.month
	})
	for i, k := range order {
		index[k] = i
	}

	ofRow := make([]int, len(keys))
	for i, k := range keys {
		ofRow[i] = index[k]
	}
	return rowGroups{order: order, ofRow: ofRow}
}

// imputeGroupMean fills nulls with their group mean. With ffill, groups
// without any value take the mean of the previous group in key order.
func imputeGroupMean(col columnar.Column, g rowGroups, ffill bool) (columnar.Column, int) {
	sums := make([]float64, len(g.order))
	counts := make([]int, len(g.order))
	missing := 0
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			missing++
			continue
		}
		sums[g.ofRow[i]] += col.Float64(i)
		counts[g.ofRow[i]]++
	}
	if missing == 0 {
		return col, 0
	}

	means := make([]float64, len(g.order))
	for i := range means {
		means[i] = math.NaN()
		if counts[i] > 0 {
			means[i] = sums[i] / float64(counts[i])
		}
		if ffill && math.IsNaN(means[i]) && i > 0 {
			means[i] = means[i-1]
		}
	}

	out := make([]float64, col.Len())
	filled := 0
	for i := range out {
		out[i] = col.Float64(i)
		if col.IsNull(i) {
			out[i] = means[g.ofRow[i]]
			if !math.IsNaN(out[i]) {
				filled++
			}
		}
	}
	res, err := columnar.Cast(columnar.NewNumericColumn(out), col.Type())
	if err != nil {
		return col, 0
	}
	return res, filled
}
