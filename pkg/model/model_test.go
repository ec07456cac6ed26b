package model

import (
	"context"
	"math"
	"os"
	"path/filepath"
	"sort"
	"testing"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// stepData has y = 10 when x0 > 5 and 0 otherwise; x1 is noise.
func stepData(n int) Dataset {
	d := Dataset{Cols: 2}
	for i := 0; i < n; i++ {
		x0 := float64(i % 10)
		d.X = append(d.X, x0, float64((i*7)%13))
		y := 0.0
		if x0 > 5 {
			y = 10
		}
		d.Y = append(d.Y, y)
	}
	return d
}

func testParams() Params {
	p := DefaultParams()
	p.NumRounds = 50
	p.LearningRate = 0.5
	p.MaxDepth = 2
	p.MinSamplesLeaf = 1
	p.EarlyStoppingRounds = 0
	return p
}

func TestTrainLearnsStep(t *testing.T) {
	train := stepData(100)
	g, err := NewTrainer(testParams(), testutil.TestLogger(t)).Train(context.Background(), train, Dataset{})
	require.NoError(t, err)

	assert.Len(t, g.Trees, 50)
	assert.Equal(t, 2, g.NumFeatures())
	assert.InDelta(t, 4.0, g.BaseScore, 1e-9)

	for _, x0 := range []float64{0, 5, 6, 9} {
		want := 0.0
		if x0 > 5 {
			want = 10
		}
		got, err := g.Predict([]float64{x0, 3})
		require.NoError(t, err)
		assert.InDelta(t, want, got, 0.01, "x0=%v", x0)
	}

	pred, err := PredictRows(g, train.X)
	require.NoError(t, err)
	assert.Less(t, Evaluate(train.Y, pred).RMSE, 0.01)
}

func TestTrainRoutesMissingLeft(t *testing.T) {
	d := Dataset{Cols: 1}
	for i := 0; i < 40; i++ {
		if i%2 == 0 {
			d.X = append(d.X, math.NaN())
			d.Y = append(d.Y, 10)
		} else {
			d.X = append(d.X, float64(i))
			d.Y = append(d.Y, 0)
		}
	}
	g, err := NewTrainer(testParams(), nil).Train(context.Background(), d, Dataset{})
	require.NoError(t, err)

	missing, err := g.Predict([]float64{math.NaN()})
	require.NoError(t, err)
	present, err := g.Predict([]float64{3})
	require.NoError(t, err)
	assert.InDelta(t, 10, missing, 0.01)
	assert.InDelta(t, 0, present, 0.01)
}

func TestTrainEarlyStopping(t *testing.T) {
	p := testParams()
	p.NumRounds = 500
	p.EarlyStoppingRounds = 3

	// the validation rows disagree with the training signal, so every
	// round after the first makes them worse
	valid := Dataset{Cols: 2, X: []float64{9, 0, 9, 1}, Y: []float64{0, 0}}
	g, err := NewTrainer(p, nil).Train(context.Background(), stepData(100), valid)
	require.NoError(t, err)
	assert.Equal(t, 1, g.BestIteration)
	assert.Len(t, g.Trees, 1)
}

func TestTrainRejectsBadInput(t *testing.T) {
	tr := NewTrainer(testParams(), nil)

	_, err := tr.Train(context.Background(), Dataset{Cols: 2}, Dataset{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = tr.Train(context.Background(), Dataset{Cols: 2, X: []float64{1}, Y: []float64{1}}, Dataset{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	p := testParams()
	p.MaxBins = 300
	_, err = NewTrainer(p, nil).Train(context.Background(), stepData(10), Dataset{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = tr.Train(ctx, stepData(10), Dataset{})
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))
}

func TestQuantileCuts(t *testing.T) {
	assert.Nil(t, quantileCuts(nil, 255))
	assert.Empty(t, quantileCuts([]float64{3, 3, 3}, 255))
	assert.Equal(t, []float64{1, 2}, quantileCuts([]float64{3, 1, 2, 1}, 255))

	many := make([]float64, 1000)
	for i := range many {
		many[i] = float64(i)
	}
	cuts := quantileCuts(many, 16)
	assert.LessOrEqual(t, len(cuts), 15)
	assert.True(t, sort.Float64sAreSorted(cuts))
}

func TestSaveAndLoad(t *testing.T) {
	g, err := NewTrainer(testParams(), nil).Train(context.Background(), stepData(50), Dataset{})
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "models", "model.json")
	require.NoError(t, g.Save(path))

	loaded, err := Load(path)
	require.NoError(t, err)
	assert.Equal(t, 2, loaded.NumFeatures())

	row := []float64{7, 1}
	want, _ := g.Predict(row)
	got, err := loaded.Predict(row)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-12)

	_, err = loaded.Predict([]float64{1})
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestLoadErrors(t *testing.T) {
	dir := t.TempDir()

	_, err := Load(filepath.Join(dir, "missing.json"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeNotFound))

	_, err = Load(filepath.Join(dir, "model.pkl"))
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte(`{"format":"other","num_features":1}`), 0o600))
	_, err = Load(bad)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	broken := `{"format":"gridcast-gbdt/v1","num_features":1,"trees":[{"nodes":[{"f":3,"l":1,"r":2},{"l":-1},{"l":-1}]}]}`
	_, err = Decode([]byte(broken), FormatNative)
	assert.True(t, errors.IsType(err, errors.ErrorTypeData))

	_, err = Decode([]byte("garbage\n\n"), FormatLightGBM)
	assert.Error(t, err)
}

func TestDecodeRejectsCyclicTrees(t *testing.T) {
	for name, nodes := range map[string]string{
		"self loop":      `[{"f":0,"t":1,"l":0,"r":1},{"l":-1,"v":1}]`,
		"back to parent": `[{"f":0,"t":1,"l":1,"r":2},{"f":0,"t":0,"l":0,"r":2},{"l":-1,"v":1}]`,
		"right to self":  `[{"f":0,"t":1,"l":1,"r":0},{"l":-1,"v":1}]`,
	} {
		t.Run(name, func(t *testing.T) {
			data := `{"format":"gridcast-gbdt/v1","num_features":1,"trees":[{"nodes":` + nodes + `}]}`
			_, err := Decode([]byte(data), FormatNative)
			assert.True(t, errors.IsType(err, errors.ErrorTypeData))
		})
	}
}

func TestFormatFromPath(t *testing.T) {
	f, err := FormatFromPath("saved_models/v2/model.json")
	require.NoError(t, err)
	assert.Equal(t, FormatNative, f)

	f, err = FormatFromPath("model.TXT")
	require.NoError(t, err)
	assert.Equal(t, FormatLightGBM, f)
}

func TestEvaluate(t *testing.T) {
	m := Evaluate([]float64{1, 2, 3, 4}, []float64{1, 2, 3, 5})
	assert.Equal(t, Metrics{RMSE: 0.5, MSE: 0.25, MAE: 0.25, R2: 0.8, MedianAE: 0}, m)
	assert.Equal(t, 0.8, m.Map()["R2"])

	m = Evaluate([]float64{1, 1, 1}, []float64{1, 2, 4})
	assert.Equal(t, 0.0, m.R2)
	assert.Equal(t, 1.0, m.MedianAE)
	assert.Equal(t, 1.8257, m.RMSE)

	assert.Equal(t, Metrics{}, Evaluate(nil, nil))
}

func TestTrainTestSplit(t *testing.T) {
	train, test := TrainTestSplit(10, 0.2, 42)
	assert.Len(t, train, 8)
	assert.Len(t, test, 2)

	all := append(append([]int{}, train...), test...)
	sort.Ints(all)
	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, all)

	train2, test2 := TrainTestSplit(10, 0.2, 42)
	assert.Equal(t, train, train2)
	assert.Equal(t, test, test2)

	_, test = TrainTestSplit(3, 0.2, 1)
	assert.Len(t, test, 1)
}

func TestDatasetSubset(t *testing.T) {
	d := stepData(10)
	s := d.Subset([]int{9, 0})
	assert.Equal(t, []float64{9, float64((9 * 7) % 13), 0, 0}, s.X)
	assert.Equal(t, []float64{10, 0}, s.Y)
}
