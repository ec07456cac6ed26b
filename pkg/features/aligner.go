package features

import (
	"math"
	"sort"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"go.uber.org/zap"
)

// UnknownCode encodes null and unseen categories.
const UnknownCode int16 = -1

// maxCategories is the number of codes an int16 column can carry.
const maxCategories = math.MaxInt16

// ExcludedColumns never enter the design matrix.
var ExcludedColumns = []string{"timestamp", "datetime", "year_built"}

// IdentifierColumns stay unscaled.
var IdentifierColumns = []string{"site_id", "building_id", "meter"}

// identifierType is the narrowest type an identifier is recorded at. It
// matches the widest inference declaration (building_id int32), so any id a
// request can carry fits the trained type.
const identifierType = columnar.ColumnTypeInt32

// Aligner fits categorical codes and numeric scalers on the training frame
// and replays them on inference requests.
//
// Fit must not run concurrently with Transform. Transform only reads the
// artifact and is safe for concurrent use.
type Aligner struct {
	logger   *zap.Logger
	target   string
	artifact *Artifact
}

// NewAligner creates an unfitted aligner for the given target column.
func NewAligner(logger *zap.Logger, target string) *Aligner {
	if logger == nil {
		logger = zap.NewNop()
	}
	if target == "" {
		target = TargetColumn
	}
	return &Aligner{logger: logger.With(zap.String("component", "aligner")), target: target}
}

// NewAlignerFromArtifact wraps a fitted artifact for serving.
func NewAlignerFromArtifact(logger *zap.Logger, a *Artifact) *Aligner {
	al := NewAligner(logger, a.TargetColumn)
	al.artifact = a
	return al
}

// Artifact returns the fitted state, nil before Fit.
func (a *Aligner) Artifact() *Artifact { return a.artifact }

// Fit encodes and scales f and freezes its column order. It returns the
// transformed frame and the target as float32. f is consumed.
func (a *Aligner) Fit(f *columnar.Frame) (*columnar.Frame, []float32, error) {
	targetCol, ok := f.Column(a.target)
	if !ok {
		return nil, nil, errors.Newf(errors.ErrorTypeValidation, "target column %q missing", a.target)
	}
	y := make([]float32, targetCol.Len())
	for i := range y {
		y[i] = float32(targetCol.Float64(i))
	}
	f.Drop(append([]string{a.target}, ExcludedColumns...)...)

	art := &Artifact{
		TargetColumn: a.target,
		CategoryMaps: make(map[string]map[string]int16),
		ScalerMap:    make(map[string]Scaler),
		FittedAt:     time.Now().UTC(),
	}

	var numeric, leftovers []string
	for _, name := range f.Names() {
		col, _ := f.Column(name)
		switch {
		case col.Type().IsCategorical():
			mapping, err := fitCategories(col)
			if err != nil {
				return nil, nil, err.WithDetail("column", name)
			}
			a.logger.Info("encoding categorical", zap.String("column", name), zap.Int("categories", len(mapping)))
			if err := f.Set(name, encodeCategories(col, mapping)); err != nil {
				return nil, nil, err
			}
			art.CategoricalColumns = append(art.CategoricalColumns, name)
			art.CategoryMaps[name] = mapping
		case col.Type().IsNumeric():
			if !isIdentifier(name) {
				numeric = append(numeric, name)
				continue
			}
			if col.Type().IsInteger() && col.Type() < identifierType {
				if err := f.Cast(name, identifierType); err != nil {
					return nil, nil, err
				}
			}
		default:
			leftovers = append(leftovers, name)
		}
	}

	if len(leftovers) > 0 {
		a.logger.Warn("dropping columns that cannot enter the design matrix", zap.Strings("columns", leftovers))
		f.Drop(leftovers...)
	}

	// One column at a time keeps the peak allocation at a single float32
	// column instead of a full-width copy of the matrix.
	for _, name := range numeric {
		col, _ := f.Column(name)
		sc := fitScaler(col)
		a.logger.Info("scaling numeric",
			zap.String("column", name),
			zap.Float64("mean", sc.Mean),
			zap.Float64("std", sc.Std))
		if err := f.Set(name, standardize(col, sc)); err != nil {
			return nil, nil, err
		}
		art.NumericScaledColumns = append(art.NumericScaledColumns, name)
		art.ScalerMap[name] = sc
	}

	art.FeatureColumns = f.Names()
	if art.FeatureColumns == nil {
		art.FeatureColumns = []string{}
	}
	art.FeatureTypes = f.Types()
	a.artifact = art

	a.logger.Info("alignment fitted",
		zap.Int("rows", f.Len()),
		zap.Int("features", len(art.FeatureColumns)),
		zap.Int("categorical", len(art.CategoricalColumns)),
		zap.Int("scaled", len(art.NumericScaledColumns)))
	return f, y, nil
}

// Transform replays the fitted encoding on f. Unseen and null categories
// become UnknownCode, absent categorical columns are all UnknownCode,
// absent numeric columns are 0 (the standardized mean). The result has
// exactly the fitted columns, order and types. The column data of f is not
// modified.
func (a *Aligner) Transform(f *columnar.Frame) (*columnar.Frame, error) {
	art := a.artifact
	if !art.Fitted() {
		return nil, errors.New(errors.ErrorTypePrecondition, "aligner is not fitted")
	}

	out := f.ShallowCopy()
	out.Drop(append([]string{art.TargetColumn}, ExcludedColumns...)...)
	n := f.Len()

	for _, name := range art.CategoricalColumns {
		mapping := art.CategoryMaps[name]
		col, ok := out.Column(name)
		if !ok {
			col = columnar.Zeros(columnar.ColumnTypeCategory, n)
		}
		if err := out.Set(name, encodeCategories(col, mapping)); err != nil {
			return nil, err
		}
	}

	for _, name := range art.NumericScaledColumns {
		col, ok := out.Column(name)
		if !ok {
			if err := out.Set(name, columnar.Zeros(columnar.ColumnTypeFloat32, n)); err != nil {
				return nil, err
			}
			continue
		}
		if !col.Type().IsNumeric() {
			parsed, err := columnar.Cast(col, columnar.ColumnTypeFloat64)
			if err != nil {
				return nil, errors.Wrap(err, errors.ErrorTypeValidation, "numeric feature is not a number").
					WithDetail("column", name)
			}
			col = parsed
		}
		if err := out.Set(name, standardize(col, art.ScalerMap[name])); err != nil {
			return nil, err
		}
	}

	aligned, err := out.Reindex(art.FeatureColumns, func(name string, rows int) columnar.Column {
		return columnar.Zeros(art.FeatureTypes[name], rows)
	})
	if err != nil {
		return nil, err
	}
	for _, name := range art.FeatureColumns {
		if err := aligned.Cast(name, art.FeatureTypes[name]); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeValidation, "feature does not fit its trained type").
				WithDetail("column", name)
		}
	}
	return aligned, nil
}

func isIdentifier(name string) bool {
	for _, id := range IdentifierColumns {
		if id == name {
			return true
		}
	}
	return false
}

// fitCategories ranks the distinct non-null values of col.
func fitCategories(col columnar.Column) (map[string]int16, *errors.Error) {
	var values []string
	if cat, ok := col.(*columnar.CategoryColumn); ok {
		values = cat.SortedCategories()
	} else {
		seen := make(map[string]struct{})
		for i := 0; i < col.Len(); i++ {
			if v, ok := col.Text(i); ok {
				seen[v] = struct{}{}
			}
		}
		values = make([]string, 0, len(seen))
		for v := range seen {
			values = append(values, v)
		}
		sort.Strings(values)
	}
	if len(values) > maxCategories {
		return nil, errors.Newf(errors.ErrorTypeData, "%d distinct categories exceed the int16 code space", len(values))
	}

	mapping := make(map[string]int16, len(values))
	for code, v := range values {
		mapping[v] = int16(code)
	}
	return mapping, nil
}

func encodeCategories(col columnar.Column, mapping map[string]int16) columnar.Column {
	out := make([]int16, col.Len())

	if cat, ok := col.(*columnar.CategoryColumn); ok {
		cats := cat.Categories()
		lookup := make([]int16, len(cats))
		for i, v := range cats {
			code, ok := mapping[v]
			if !ok {
				code = UnknownCode
			}
			lookup[i] = code
		}
		for i, c := range cat.Codes() {
			if c < 0 {
				out[i] = UnknownCode
				continue
			}
			out[i] = lookup[c]
		}
		return columnar.NewNumericColumn(out)
	}

	for i := range out {
		v, ok := col.Text(i)
		if !ok {
			out[i] = UnknownCode
			continue
		}
		code, known := mapping[v]
		if !known {
			code = UnknownCode
		}
		out[i] = code
	}
	return columnar.NewNumericColumn(out)
}

// fitScaler computes the population mean and standard deviation over the
// non-null values. A zero or non-finite deviation is stored as 1.
func fitScaler(col columnar.Column) Scaler {
	var sum float64
	var n int
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		sum += col.Float64(i)
		n++
	}
	if n == 0 {
		return Scaler{Mean: 0, Std: 1}
	}
	mean := sum / float64(n)

	var sq float64
	for i := 0; i < col.Len(); i++ {
		if col.IsNull(i) {
			continue
		}
		d := col.Float64(i) - mean
		sq += d * d
	}
	return Scaler{Mean: mean, Std: guardStd(math.Sqrt(sq / float64(n)))}
}

func guardStd(std float64) float64 {
	if std == 0 || math.IsNaN(std) || math.IsInf(std, 0) {
		return 1
	}
	return std
}

func standardize(col columnar.Column, sc Scaler) columnar.Column {
	std := guardStd(sc.Std)
	out := make([]float32, col.Len())
	for i := range out {
		if col.IsNull(i) {
			out[i] = float32(math.NaN())
			continue
		}
		out[i] = float32((col.Float64(i) - sc.Mean) / std)
	}
	return columnar.NewNumericColumn(out)
}
