package model

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"go.uber.org/zap"
)

// Params configures boosting.
type Params struct {
	NumRounds           int     `json:"num_boost_round"`
	LearningRate        float64 `json:"learning_rate"`
	MaxDepth            int     `json:"max_depth"`
	MinSamplesLeaf      int     `json:"min_samples_leaf"`
	Lambda              float64 `json:"lambda_l2"`
	MaxBins             int     `json:"max_bins"`
	EarlyStoppingRounds int     `json:"early_stopping_rounds"`
	// LogEvery logs the validation score every n rounds; 0 disables it.
	LogEvery int `json:"-"`
}

// DefaultParams returns the settings used when the config leaves them unset.
func DefaultParams() Params {
	return Params{
		NumRounds:           1000,
		LearningRate:        0.3,
		MaxDepth:            8,
		MinSamplesLeaf:      20,
		Lambda:              1,
		MaxBins:             255,
		EarlyStoppingRounds: 50,
		LogEvery:            100,
	}
}

func (p Params) validate() error {
	switch {
	case p.NumRounds <= 0:
		return errors.New(errors.ErrorTypeConfig, "num_boost_round must be positive")
	case p.LearningRate <= 0:
		return errors.New(errors.ErrorTypeConfig, "learning_rate must be positive")
	case p.MaxDepth <= 0:
		return errors.New(errors.ErrorTypeConfig, "max_depth must be positive")
	case p.MaxBins < 2 || p.MaxBins > 255:
		return errors.New(errors.ErrorTypeConfig, "max_bins must be in [2, 255]")
	case p.Lambda < 0:
		return errors.New(errors.ErrorTypeConfig, "lambda_l2 must not be negative")
	}
	return nil
}

// Dataset is a row-major design matrix with its target.
type Dataset struct {
	X    []float64
	Y    []float64
	Cols int
}

// Rows returns the number of samples.
func (d Dataset) Rows() int { return len(d.Y) }

// Row returns sample i.
func (d Dataset) Row(i int) []float64 { return d.X[i*d.Cols : (i+1)*d.Cols] }

// Subset copies the given rows.
func (d Dataset) Subset(idx []int) Dataset {
	out := Dataset{X: make([]float64, 0, len(idx)*d.Cols), Y: make([]float64, len(idx)), Cols: d.Cols}
	for k, i := range idx {
		out.X = append(out.X, d.Row(i)...)
		out.Y[k] = d.Y[i]
	}
	return out
}

func (d Dataset) check() error {
	if d.Cols <= 0 || d.Rows() == 0 {
		return errors.New(errors.ErrorTypeValidation, "dataset is empty")
	}
	if len(d.X) != d.Rows()*d.Cols {
		return errors.Newf(errors.ErrorTypeValidation, "matrix has %d values, want %d x %d", len(d.X), d.Rows(), d.Cols)
	}
	return nil
}

// Trainer fits GBDT ensembles.
type Trainer struct {
	params Params
	logger *zap.Logger
}

// NewTrainer creates a trainer.
func NewTrainer(params Params, logger *zap.Logger) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Trainer{params: params, logger: logger.With(zap.String("component", "trainer"))}
}

// Train boosts squared-loss trees on train. When valid has rows, training
// stops once its RMSE has not improved for EarlyStoppingRounds rounds and
// the ensemble is cut back to the best round.
func (t *Trainer) Train(ctx context.Context, train, valid Dataset) (*GBDT, error) {
	p := t.params
	if err := p.validate(); err != nil {
		return nil, err
	}
	if err := train.check(); err != nil {
		return nil, err
	}
	hasValid := valid.Rows() > 0
	if hasValid && valid.Cols != train.Cols {
		return nil, errors.Newf(errors.ErrorTypeValidation, "validation width %d differs from training width %d", valid.Cols, train.Cols)
	}

	start := time.Now()
	bins := newBinner(train, p.MaxBins)

	g := &GBDT{Format: gbdtFormat, Features: train.Cols, BaseScore: mean(train.Y), Params: p}

	n := train.Rows()
	pred := make([]float64, n)
	for i := range pred {
		pred[i] = g.BaseScore
	}
	var validPred []float64
	if hasValid {
		validPred = make([]float64, valid.Rows())
		for i := range validPred {
			validPred[i] = g.BaseScore
		}
	}

	grad := make([]float64, n)
	rows := make([]int, n)
	best, bestRound := math.Inf(1), 0

	for round := 0; round < p.NumRounds; round++ {
		if err := ctx.Err(); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeTimeout, "training cancelled")
		}
		for i := range grad {
			grad[i] = pred[i] - train.Y[i]
			rows[i] = i
		}

		b := &treeBuilder{bins: bins, grad: grad, params: p, leafOf: pred}
		tree := b.build(rows)
		g.Trees = append(g.Trees, tree)

		if !hasValid {
			continue
		}
		for i := range validPred {
			validPred[i] += tree.Predict(valid.Row(i))
		}
		score := rmse(valid.Y, validPred)
		if p.LogEvery > 0 && (round+1)%p.LogEvery == 0 {
			t.logger.Info("boosting progress", zap.Int("round", round+1), zap.Float64("valid_rmse", score))
		}
		if score < best {
			best, bestRound = score, round+1
		} else if p.EarlyStoppingRounds > 0 && round+1-bestRound >= p.EarlyStoppingRounds {
			t.logger.Info("early stopping", zap.Int("round", round+1), zap.Int("best_round", bestRound))
			break
		}
	}

	g.BestIteration = len(g.Trees)
	if hasValid && bestRound > 0 {
		g.Trees = g.Trees[:bestRound]
		g.BestIteration = bestRound
	}
	g.TrainedAt = time.Now().UTC()

	t.logger.Info("training finished",
		zap.Int("trees", len(g.Trees)),
		zap.Int("rows", n),
		zap.Int("features", train.Cols),
		zap.Duration("duration", time.Since(start)))
	return g, nil
}

// binner quantizes each feature into at most maxBins value bins. Bin 0 is
// reserved for missing values; value v lands in 1+SearchFloat64s(cuts, v).
type binner struct {
	cols  int
	cuts  [][]float64
	codes [][]uint8 // per feature, per row
}

func newBinner(d Dataset, maxBins int) *binner {
	b := &binner{cols: d.Cols, cuts: make([][]float64, d.Cols), codes: make([][]uint8, d.Cols)}
	n := d.Rows()
	vals := make([]float64, 0, n)
	for j := 0; j < d.Cols; j++ {
		vals = vals[:0]
		for i := 0; i < n; i++ {
			if v := d.X[i*d.Cols+j]; !math.IsNaN(v) {
				vals = append(vals, v)
			}
		}
		b.cuts[j] = quantileCuts(vals, maxBins)

		codes := make([]uint8, n)
		for i := 0; i < n; i++ {
			v := d.X[i*d.Cols+j]
			if math.IsNaN(v) {
				continue
			}
			codes[i] = uint8(1 + sort.SearchFloat64s(b.cuts[j], v))
		}
		b.codes[j] = codes
	}
	return b
}

// threshold returns the split value sending bins <= bin left.
func (b *binner) threshold(feature, bin int) float64 {
	if bin == 0 {
		return -math.MaxFloat64
	}
	return b.cuts[feature][bin-1]
}

// quantileCuts sorts vals in place and returns at most maxBins-1 distinct
// cut points; every distinct value is a cut when there are few enough.
func quantileCuts(vals []float64, maxBins int) []float64 {
	if len(vals) == 0 {
		return nil
	}
	sort.Float64s(vals)
	uniq := vals[:0:0]
	for i, v := range vals {
		if i == 0 || v != vals[i-1] {
			uniq = append(uniq, v)
		}
	}
	if len(uniq) <= maxBins-1 {
		return uniq[:len(uniq)-1]
	}
	cuts := make([]float64, 0, maxBins-1)
	for k := 1; k < maxBins; k++ {
		v := vals[k*len(vals)/maxBins]
		if len(cuts) == 0 || v > cuts[len(cuts)-1] {
			cuts = append(cuts, v)
		}
	}
	return cuts
}

type treeBuilder struct {
	bins   *binner
	grad   []float64
	params Params
	// leafOf receives each training row's leaf value as the tree is built
	leafOf []float64
	nodes  []Node
}

func (b *treeBuilder) build(rows []int) Tree {
	b.grow(rows, 0)
	return Tree{Nodes: b.nodes}
}

type split struct {
	feature int
	bin     int
	gain    float64
}

func (b *treeBuilder) grow(rows []int, depth int) int {
	id := len(b.nodes)
	b.nodes = append(b.nodes, Node{Left: -1})

	var g float64
	for _, i := range rows {
		g += b.grad[i]
	}
	h := float64(len(rows))

	if depth < b.params.MaxDepth && len(rows) >= 2*max(b.params.MinSamplesLeaf, 1) {
		if s, ok := b.bestSplit(rows, g, h); ok {
			left, right := partition(rows, b.bins.codes[s.feature], uint8(s.bin))
			l := b.grow(left, depth+1)
			r := b.grow(right, depth+1)
			b.nodes[id] = Node{
				Feature:   s.feature,
				Threshold: b.bins.threshold(s.feature, s.bin),
				Left:      l,
				Right:     r,
			}
			return id
		}
	}

	value := -g / (h + b.params.Lambda) * b.params.LearningRate
	b.nodes[id].Value = value
	for _, i := range rows {
		b.leafOf[i] += value
	}
	return id
}

func (b *treeBuilder) bestSplit(rows []int, g, h float64) (split, bool) {
	lambda := b.params.Lambda
	minLeaf := float64(max(b.params.MinSamplesLeaf, 1))
	parent := g * g / (h + lambda)

	best := split{gain: 0}
	found := false
	var sumG [256]float64
	var cnt [256]float64
	for j := 0; j < b.bins.cols; j++ {
		codes := b.bins.codes[j]
		nbins := len(b.bins.cuts[j]) + 2
		for k := 0; k < nbins; k++ {
			sumG[k], cnt[k] = 0, 0
		}
		for _, i := range rows {
			sumG[codes[i]] += b.grad[i]
			cnt[codes[i]]++
		}

		var gl, hl float64
		for k := 0; k < nbins-1; k++ {
			gl += sumG[k]
			hl += cnt[k]
			hr := h - hl
			if hl < minLeaf {
				continue
			}
			if hr < minLeaf {
				break
			}
			gr := g - gl
			gain := gl*gl/(hl+lambda) + gr*gr/(hr+lambda) - parent
			if gain > best.gain+1e-12 {
				best = split{feature: j, bin: k, gain: gain}
				found = true
			}
		}
	}
	return best, found
}

// partition splits rows in place into bins <= bin and the rest.
func partition(rows []int, codes []uint8, bin uint8) (left, right []int) {
	lo, hi := 0, len(rows)-1
	for lo <= hi {
		if codes[rows[lo]] <= bin {
			lo++
			continue
		}
		rows[lo], rows[hi] = rows[hi], rows[lo]
		hi--
	}
	return rows[:lo], rows[lo:]
}

func mean(v []float64) float64 {
	if len(v) == 0 {
		return 0
	}
	s := 0.0
	for _, x := range v {
		s += x
	}
	return s / float64(len(v))
}
