package features

import (
	"fmt"
	"math"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// trainingFrame mimics an assembled and engineered training frame.
func trainingFrame(t *testing.T) *columnar.Frame {
	t.Helper()
	nan32 := float32(math.NaN())
	return testutil.Frame(t,
		[]string{
			"building_id", "meter", "timestamp", "meter_reading", "site_id", "primary_use",
			"square_feet", "year_built", "air_temperature", "datetime", "hour", "is_weekend", "ingested_at",
		},
		columnar.NewNumericColumn([]int16{1, 1, 2, 3}),
		columnar.NewNumericColumn([]int8{0, 1, 0, 0}),
		columnar.TimestampColumnFromTimes(testutil.Hours(testutil.Jan1, 4)),
		columnar.NewNumericColumn([]float32{0, 2.3026, 4.6052, 1}),
		columnar.NewNumericColumn([]int8{0, 0, 1, 1}),
		columnar.CategoryColumnFromStrings([]string{"Office", "Office", "Education", ""}, []bool{true, true, true, false}),
		columnar.NewNumericColumn([]int32{5000, 5000, 12000, 800}),
		columnar.NewNumericColumn([]int16{2008, 2008, -1, 1990}),
		columnar.NewNumericColumn([]float32{25, 24, nan32, 20}),
		columnar.TimestampColumnFromTimes(testutil.Hours(testutil.Jan1, 4)),
		columnar.NewNumericColumn([]int8{0, 1, 2, 3}),
		columnar.NewNumericColumn([]int8{0, 0, 0, 0}),
		columnar.TimestampColumnFromTimes(testutil.Hours(testutil.Jan1, 4)),
	)
}

func fitted(t *testing.T) (*Aligner, *columnar.Frame, []float32) {
	t.Helper()
	al := NewAligner(testutil.TestLogger(t), "")
	x, y, err := al.Fit(trainingFrame(t))
	require.NoError(t, err)
	return al, x, y
}

func TestFitFeatureColumns(t *testing.T) {
	al, x, y := fitted(t)
	art := al.Artifact()

	assert.Equal(t, []string{
		"building_id", "meter", "site_id", "primary_use", "square_feet", "air_temperature", "hour", "is_weekend",
	}, art.FeatureColumns)
	assert.Equal(t, x.Names(), art.FeatureColumns)

	seen := map[string]bool{}
	for _, c := range art.FeatureColumns {
		assert.False(t, seen[c], "duplicate %s", c)
		seen[c] = true
	}
	for _, dropped := range []string{TargetColumn, "timestamp", "datetime", "year_built", "ingested_at"} {
		assert.False(t, seen[dropped], dropped)
	}

	assert.Equal(t, []float32{0, 2.3026, 4.6052, 1}, y)
	assert.Equal(t, []string{"primary_use"}, art.CategoricalColumns)
	assert.Equal(t, []string{"square_feet", "air_temperature", "hour", "is_weekend"}, art.NumericScaledColumns)
	assert.Equal(t, columnar.ColumnTypeInt16, art.FeatureTypes["primary_use"])
	assert.Equal(t, columnar.ColumnTypeFloat32, art.FeatureTypes["square_feet"])
	assert.Equal(t, columnar.ColumnTypeInt32, art.FeatureTypes["building_id"], "identifiers are widened to int32")
	assert.Equal(t, columnar.ColumnTypeInt32, art.FeatureTypes["meter"])
}

func TestFitCategoryMapIsSortedBijection(t *testing.T) {
	al, x, _ := fitted(t)
	mapping := al.Artifact().CategoryMaps["primary_use"]
	assert.Equal(t, map[string]int16{"Education": 0, "Office": 1}, mapping)

	codes := make([]int, 0, len(mapping))
	keys := make([]string, 0, len(mapping))
	for k, v := range mapping {
		codes = append(codes, int(v))
		keys = append(keys, k)
	}
	sort.Ints(codes)
	sort.Strings(keys)
	for i, k := range keys {
		assert.Equal(t, i, codes[i])
		assert.Equal(t, int16(i), mapping[k])
	}

	col, _ := x.Column("primary_use")
	assert.Equal(t, []int16{1, 1, 0, UnknownCode}, col.(*columnar.NumericColumn[int16]).Values())
}

func TestFitScalesColumnByColumn(t *testing.T) {
	al, x, _ := fitted(t)
	sc := al.Artifact().ScalerMap["air_temperature"]
	assert.InDelta(t, 23.0, sc.Mean, 1e-9)
	assert.InDelta(t, math.Sqrt(14.0/3.0), sc.Std, 1e-9)

	col, _ := x.Column("air_temperature")
	assert.True(t, col.IsNull(2), "nulls stay null")
	assert.InDelta(t, (25-23)/math.Sqrt(14.0/3.0), col.Float64(0), 1e-6)

	weekend := al.Artifact().ScalerMap["is_weekend"]
	assert.Equal(t, 1.0, weekend.Std, "zero variance is stored as 1")
	wcol, _ := x.Column("is_weekend")
	for i := 0; i < wcol.Len(); i++ {
		assert.False(t, math.IsNaN(wcol.Float64(i)) || math.IsInf(wcol.Float64(i), 0))
	}
}

func TestFitMissingTarget(t *testing.T) {
	f := trainingFrame(t).Drop(TargetColumn)
	_, _, err := NewAligner(nil, "").Fit(f)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestFitTooManyCategories(t *testing.T) {
	n := maxCategories + 1
	labels := make([]string, n)
	target := make([]float32, n)
	for i := range labels {
		labels[i] = fmt.Sprintf("b%06d", i)
	}
	f := testutil.Frame(t, []string{"label", TargetColumn},
		columnar.NewStringColumn(labels, nil),
		columnar.NewNumericColumn(target),
	)
	_, _, err := NewAligner(nil, "").Fit(f)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))
}

func TestTransformRequiresFit(t *testing.T) {
	_, err := NewAligner(nil, "").Transform(trainingFrame(t))
	assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))
}

func TestTransformReproducesTrainingRows(t *testing.T) {
	al, x, _ := fitted(t)
	raw := trainingFrame(t)

	for i := 0; i < raw.Len(); i++ {
		out, err := al.Transform(raw.Take([]int{i}))
		require.NoError(t, err)
		assert.Equal(t, x.Names(), out.Names())
		assert.Equal(t, x.Types(), out.Types())
		want := x.Row(i)
		got := out.Row(0)
		for name, v := range want {
			if f, ok := v.(float32); ok {
				assert.InDelta(t, f, got[name], 1e-6, "row %d column %s", i, name)
				continue
			}
			assert.Equal(t, v, got[name], "row %d column %s", i, name)
		}
	}
}

func TestTransformUnseenAndMissing(t *testing.T) {
	al, _, _ := fitted(t)

	req := testutil.Frame(t,
		[]string{"building_id", "primary_use", "extra"},
		columnar.NewNumericColumn([]int32{7}),
		columnar.CategoryColumnFromStrings([]string{"Retail"}, nil),
		columnar.NewNumericColumn([]float64{1}),
	)
	out, err := al.Transform(req)
	require.NoError(t, err)

	assert.Equal(t, al.Artifact().FeatureColumns, out.Names())
	row := out.Row(0)
	assert.Equal(t, UnknownCode, row["primary_use"])
	assert.Equal(t, float32(0), row["air_temperature"])
	assert.Equal(t, float32(0), row["square_feet"])
	assert.Equal(t, int32(0), row["meter"])
	assert.Equal(t, int32(7), row["building_id"])
	assert.False(t, out.Has("extra"))

	noCat := testutil.Frame(t, []string{"hour"}, columnar.NewNumericColumn([]int8{3}))
	out, err = al.Transform(noCat)
	require.NoError(t, err)
	assert.Equal(t, UnknownCode, out.Row(0)["primary_use"])
}

func TestTransformIdentifierAboveTrainedRange(t *testing.T) {
	al, _, _ := fitted(t)

	req := testutil.Frame(t,
		[]string{"building_id", "site_id", "meter"},
		columnar.NewNumericColumn([]int32{40000}),
		columnar.NewNumericColumn([]int8{120}),
		columnar.NewNumericColumn([]int8{3}),
	)
	out, err := al.Transform(req)
	require.NoError(t, err)
	assert.Equal(t, al.Artifact().FeatureTypes, out.Types())
	row := out.Row(0)
	assert.Equal(t, int32(40000), row["building_id"])
	assert.Equal(t, int32(120), row["site_id"])
	assert.Equal(t, int32(3), row["meter"])
}

func TestTransformThreeRowScenario(t *testing.T) {
	f := testutil.Frame(t, []string{"primary_use", TargetColumn},
		columnar.NewStringColumn([]string{"Office", "Office", "Education"}, nil),
		columnar.NewNumericColumn([]float32{1, 2, 3}),
	)
	al := NewAligner(nil, "")
	_, _, err := al.Fit(f)
	require.NoError(t, err)
	assert.Equal(t, map[string]int16{"Education": 0, "Office": 1}, al.Artifact().CategoryMaps["primary_use"])

	req := testutil.Frame(t, []string{"primary_use"}, columnar.NewStringColumn([]string{"Retail"}, nil))
	out, err := al.Transform(req)
	require.NoError(t, err)
	assert.Equal(t, UnknownCode, out.Row(0)["primary_use"])
}

func TestTransformIsIdempotentAndLeavesInputAlone(t *testing.T) {
	al, _, _ := fitted(t)
	req := trainingFrame(t).Take([]int{0})
	before := req.Clone()

	first, err := al.Transform(req)
	require.NoError(t, err)
	second, err := al.Transform(req)
	require.NoError(t, err)

	assert.Equal(t, first.Row(0), second.Row(0))
	assert.Equal(t, before.Names(), req.Names())
	assert.Equal(t, before.Types(), req.Types())
	assert.Equal(t, before.Row(0)["square_feet"], req.Row(0)["square_feet"])
}

func TestTransformZeroVarianceStaysFinite(t *testing.T) {
	al, _, _ := fitted(t)
	req := testutil.Frame(t, []string{"is_weekend"}, columnar.NewNumericColumn([]int8{1}))
	out, err := al.Transform(req)
	require.NoError(t, err)
	v := out.Row(0)["is_weekend"].(float32)
	assert.False(t, math.IsNaN(float64(v)) || math.IsInf(float64(v), 0))
	assert.Equal(t, float32(1), v)
}

func TestArtifactPersistence(t *testing.T) {
	al, _, _ := fitted(t)
	path := filepath.Join(t.TempDir(), "models", "preprocessor.json.zst")
	require.NoError(t, SaveArtifact(path, al.Artifact()))

	loaded, err := LoadArtifact(path)
	require.NoError(t, err)
	assert.Equal(t, al.Artifact().FeatureColumns, loaded.FeatureColumns)
	assert.Equal(t, al.Artifact().CategoryMaps, loaded.CategoryMaps)
	assert.Equal(t, al.Artifact().ScalerMap, loaded.ScalerMap)
	assert.Equal(t, al.Artifact().FeatureTypes, loaded.FeatureTypes)

	req := trainingFrame(t).Take([]int{2})
	want, err := al.Transform(req)
	require.NoError(t, err)
	got, err := NewAlignerFromArtifact(nil, loaded).Transform(req)
	require.NoError(t, err)
	assert.Equal(t, want.Row(0), got.Row(0))

	_, err = LoadArtifact(filepath.Join(t.TempDir(), "missing.json.zst"))
	assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))

	_, err = MarshalArtifact(&Artifact{})
	assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))
}
