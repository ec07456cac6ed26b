package explain

import (
	"math"
	"testing"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// linear scores 3*x0 - 2*x1 and ignores x2.
type linear struct{}

func (linear) Predict(x []float64) (float64, error) { return 3*x[0] - 2*x[1], nil }
func (linear) NumFeatures() int                      { return 3 }

func background() []float64 {
	var out []float64
	for i := 0; i < 50; i++ {
		out = append(out, float64(i%10), float64(i%5)*2, 7)
	}
	return out
}

func TestExplainRecoversLinearWeights(t *testing.T) {
	names := []string{"air_temperature", "square_feet", "site_id"}
	e, err := NewExplainer(background(), names, Options{Samples: 2000, Seed: 1}, testutil.TestLogger(t))
	require.NoError(t, err)

	row := []float64{8, 2, 7}
	exp, err := e.Explain(linear{}, row, "sample_prediction")
	require.NoError(t, err)

	assert.Equal(t, 2000, exp.Samples)
	assert.Equal(t, 20.0, exp.Prediction)
	assert.InDelta(t, exp.Prediction, exp.LocalPrediction, 0.5)
	assert.Greater(t, exp.Score, 0.99)

	require.Len(t, exp.Contributions, 3)
	byName := map[string]Contribution{}
	for _, c := range exp.Contributions {
		byName[c.Feature] = c
	}
	// weights are per standard deviation of the background
	std0 := math.Sqrt(8.25)
	std1 := math.Sqrt(8.0)
	assert.InDelta(t, 3*std0, byName["air_temperature"].Weight, 0.05*3*std0)
	assert.InDelta(t, -2*std1, byName["square_feet"].Weight, 0.05*2*std1)
	assert.InDelta(t, 0, byName["site_id"].Weight, 0.1)
	assert.Equal(t, 8.0, byName["air_temperature"].Value)
	assert.Equal(t, "air_temperature", exp.Contributions[0].Feature, "sorted by absolute weight")
	assert.Equal(t, "site_id", exp.Contributions[2].Feature)
}

func TestExplainIsReproducible(t *testing.T) {
	names := []string{"a", "b", "c"}
	e, err := NewExplainer(background(), names, Options{Samples: 300, Seed: 9}, nil)
	require.NoError(t, err)

	first, err := e.Explain(linear{}, []float64{1, 2, 3}, "x")
	require.NoError(t, err)
	second, err := e.Explain(linear{}, []float64{1, 2, 3}, "x")
	require.NoError(t, err)
	assert.Equal(t, first.Contributions, second.Contributions)
}

func TestExplainTopFeatures(t *testing.T) {
	e, err := NewExplainer(background(), []string{"a", "b", "c"}, Options{Samples: 200, TopFeatures: 1}, nil)
	require.NoError(t, err)
	exp, err := e.Explain(linear{}, []float64{1, 1, 1}, "x")
	require.NoError(t, err)
	require.Len(t, exp.Contributions, 1)
	assert.Equal(t, "a", exp.Contributions[0].Feature)
}

func TestExplainerErrors(t *testing.T) {
	_, err := NewExplainer(nil, []string{"a"}, Options{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	_, err = NewExplainer([]float64{1, 2, 3}, []string{"a", "b"}, Options{}, nil)
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))

	e, err := NewExplainer([]float64{1, 2}, []string{"a", "b"}, Options{Samples: 10}, nil)
	require.NoError(t, err)
	_, err = e.Explain(linear{}, []float64{1, 2}, "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))
	_, err = e.Explain(linear{}, []float64{1}, "x")
	assert.True(t, errors.IsType(err, errors.ErrorTypeValidation))
}

func TestRender(t *testing.T) {
	e, err := NewExplainer(background(), []string{"air_temperature", "square_feet", "site_id"}, Options{Samples: 200}, nil)
	require.NoError(t, err)
	exp, err := e.Explain(linear{}, []float64{8, 2, 7}, "sample_prediction")
	require.NoError(t, err)

	page, err := Render(exp)
	require.NoError(t, err)
	html := string(page)
	assert.Contains(t, html, "Local Explanation: sample_prediction")
	assert.Contains(t, html, "air_temperature")
	assert.Contains(t, html, `class="neg"`)
	assert.Contains(t, html, `class="pos"`)
}
