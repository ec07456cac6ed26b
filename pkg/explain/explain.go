// Package explain builds local surrogate explanations of single
// predictions. Perturbed copies of a row are drawn from the feature
// distribution of a background sample, scored by the model, and a weighted
// ridge regression fitted around the row tells which features moved the
// prediction and in which direction.
package explain

import (
	"math"
	"math/rand"
	"sort"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/model"
	"go.uber.org/zap"
	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/gonum/stat"
)

const (
	// DefaultSamples is the number of perturbations scored per explanation.
	DefaultSamples = 5000
	// DefaultTopFeatures is the number of contributions reported.
	DefaultTopFeatures = 10
	// DefaultBackgroundRows caps the rows the feature statistics are taken from.
	DefaultBackgroundRows = 500
)

// Options tunes an Explainer.
type Options struct {
	Samples     int
	TopFeatures int
	// KernelWidth defaults to 0.75 * sqrt(features)
	KernelWidth float64
	// Ridge is the L2 penalty of the surrogate, default 1
	Ridge       float64
	Seed        int64
}

// Contribution is one feature's weight in the surrogate model.
type Contribution struct {
	Feature string  `json:"feature"`
	Value   float64 `json:"value"`
	// Weight is the surrogate coefficient of the standardized feature
	Weight  float64 `json:"weight"`
	// Effect is Weight times the row's standardized value
	Effect  float64 `json:"effect"`
}

// Explanation describes one prediction.
type Explanation struct {
	Name            string         `json:"name"`
	Prediction      float64        `json:"prediction"`
	LocalPrediction float64        `json:"local_prediction"`
	Intercept       float64        `json:"intercept"`
	Score           float64        `json:"score"`
	Samples         int            `json:"samples"`
	Contributions   []Contribution `json:"contributions"`
	GeneratedAt     time.Time      `json:"generated_at"`
}

// Explainer holds the background statistics of the design matrix.
type Explainer struct {
	names  []string
	mean   []float64
	std    []float64
	opts   Options
	logger *zap.Logger
}

// NewExplainer computes per-feature mean and deviation over background, a
// row-major matrix of len(names) columns. Non-finite cells are ignored and
// constant features get a deviation of 1.
func NewExplainer(background []float64, names []string, opts Options, logger *zap.Logger) (*Explainer, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	d := len(names)
	if d == 0 {
		return nil, errors.New(errors.ErrorTypeValidation, "explainer needs at least one feature")
	}
	if len(background) == 0 || len(background)%d != 0 {
		return nil, errors.Newf(errors.ErrorTypeValidation,
			"background has %d cells, not a multiple of %d features", len(background), d)
	}
	if opts.Samples <= 1 {
		opts.Samples = DefaultSamples
	}
	if opts.TopFeatures <= 0 {
		opts.TopFeatures = DefaultTopFeatures
	}
	if opts.KernelWidth <= 0 {
		opts.KernelWidth = 0.75 * math.Sqrt(float64(d))
	}
	if opts.Ridge <= 0 {
		opts.Ridge = 1
	}

	rows := len(background) / d
	e := &Explainer{
		names:  names,
		mean:   make([]float64, d),
		std:    make([]float64, d),
		opts:   opts,
		logger: logger.With(zap.String("component", "explainer")),
	}
	col := make([]float64, 0, rows)
	for j := 0; j < d; j++ {
		col = col[:0]
		for i := 0; i < rows; i++ {
			if v := background[i*d+j]; !math.IsNaN(v) && !math.IsInf(v, 0) {
				col = append(col, v)
			}
		}
		e.mean[j], e.std[j] = 0, 1
		if len(col) == 0 {
			continue
		}
		m, sd := stat.PopMeanStdDev(col, nil)
		e.mean[j] = m
		if sd > 0 && !math.IsNaN(sd) {
			e.std[j] = sd
		}
	}
	return e, nil
}

// Explain fits the surrogate around row. name labels the explanation.
func (e *Explainer) Explain(p model.Predictor, row []float64, name string) (*Explanation, error) {
	d := len(e.names)
	if len(row) != d {
		return nil, errors.Newf(errors.ErrorTypeValidation, "row has %d features, explainer has %d", len(row), d)
	}
	if p.NumFeatures() != d {
		return nil, errors.Newf(errors.ErrorTypePrecondition,
			"model expects %d features, explainer has %d", p.NumFeatures(), d)
	}

	n := e.opts.Samples
	rng := rand.New(rand.NewSource(e.opts.Seed)) //nolint:gosec // reproducible sampling, not security

	// z holds standardized samples; the first one is the row itself.
	z := mat.NewDense(n, d, nil)
	x := make([]float64, n*d)
	origin := make([]float64, d)
	for j, v := range row {
		if math.IsNaN(v) {
			origin[j] = 0
		} else {
			origin[j] = (v - e.mean[j]) / e.std[j]
		}
		z.Set(0, j, origin[j])
		x[j] = v
	}
	for i := 1; i < n; i++ {
		for j := 0; j < d; j++ {
			v := rng.NormFloat64()
			z.Set(i, j, v)
			x[i*d+j] = v*e.std[j] + e.mean[j]
		}
	}

	y, err := model.PredictRows(p, x)
	if err != nil {
		return nil, err
	}

	w := make([]float64, n)
	width2 := e.opts.KernelWidth * e.opts.KernelWidth
	for i := 0; i < n; i++ {
		var dist2 float64
		for j := 0; j < d; j++ {
			diff := z.At(i, j) - origin[j]
			dist2 += diff * diff
		}
		w[i] = math.Sqrt(math.Exp(-dist2 / width2))
	}

	coef, intercept, score, err := weightedRidge(z, y, w, e.opts.Ridge)
	if err != nil {
		return nil, err
	}

	local := intercept
	contribs := make([]Contribution, d)
	for j := 0; j < d; j++ {
		local += coef[j] * origin[j]
		contribs[j] = Contribution{
			Feature: e.names[j],
			Value:   row[j],
			Weight:  coef[j],
			Effect:  coef[j] * origin[j],
		}
	}
	sort.SliceStable(contribs, func(a, b int) bool {
		return math.Abs(contribs[a].Weight) > math.Abs(contribs[b].Weight)
	})
	if len(contribs) > e.opts.TopFeatures {
		contribs = contribs[:e.opts.TopFeatures]
	}

	exp := &Explanation{
		Name:            name,
		Prediction:      y[0],
		LocalPrediction: local,
		Intercept:       intercept,
		Score:           score,
		Samples:         n,
		Contributions:   contribs,
		GeneratedAt:     time.Now().UTC(),
	}
	e.logger.Info("explanation fitted",
		zap.String("name", name),
		zap.Float64("prediction", exp.Prediction),
		zap.Float64("local_prediction", exp.LocalPrediction),
		zap.Float64("score", exp.Score))
	return exp, nil
}

// weightedRidge solves min sum w_i (y_i - b - z_i.beta)^2 + alpha |beta|^2
// with an unpenalized intercept, and returns the weighted R^2 of the fit.
func weightedRidge(z *mat.Dense, y, w []float64, alpha float64) ([]float64, float64, float64, error) {
	n, d := z.Dims()

	var wsum float64
	for _, v := range w {
		wsum += v
	}
	if wsum == 0 {
		return nil, 0, 0, errors.New(errors.ErrorTypeData, "all perturbation weights are zero")
	}
	zbar := make([]float64, d)
	for j := 0; j < d; j++ {
		zbar[j] = stat.Mean(mat.Col(nil, j, z), w)
	}
	ybar := stat.Mean(y, w)

	xc := mat.NewDense(n, d, nil)
	yc := mat.NewVecDense(n, nil)
	for i := 0; i < n; i++ {
		sw := math.Sqrt(w[i])
		for j := 0; j < d; j++ {
			xc.Set(i, j, (z.At(i, j)-zbar[j])*sw)
		}
		yc.SetVec(i, (y[i]-ybar)*sw)
	}

	var a mat.Dense
	a.Mul(xc.T(), xc)
	for j := 0; j < d; j++ {
		a.Set(j, j, a.At(j, j)+alpha)
	}
	var b mat.VecDense
	b.MulVec(xc.T(), yc)

	var beta mat.VecDense
	if err := beta.SolveVec(&a, &b); err != nil {
		return nil, 0, 0, errors.Wrap(err, errors.ErrorTypeData, "solve surrogate")
	}

	coef := make([]float64, d)
	intercept := ybar
	for j := 0; j < d; j++ {
		coef[j] = beta.AtVec(j)
		intercept -= coef[j] * zbar[j]
	}

	var ssRes, ssTot float64
	for i := 0; i < n; i++ {
		fit := intercept
		for j := 0; j < d; j++ {
			fit += coef[j] * z.At(i, j)
		}
		ssRes += w[i] * (y[i] - fit) * (y[i] - fit)
		ssTot += w[i] * (y[i] - ybar) * (y[i] - ybar)
	}
	score := 1.0
	if ssTot > 0 {
		score = 1 - ssRes/ssTot
	}
	return coef, intercept, score, nil
}
