package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/explain"
	"github.com/ajitpratap0/gridcast/pkg/features"
	"github.com/ajitpratap0/gridcast/pkg/model"
	"github.com/ajitpratap0/gridcast/pkg/modelcache"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

const (
	// DefaultEvaluationRows caps the rows scored by the evaluation stage.
	DefaultEvaluationRows = 1000
	// ExplanationArtifact is the run-relative path of the local explanation.
	ExplanationArtifact = "explanations/lime_sample_prediction.html"
	explanationRun      = "explainability"
)

// ModelResolver returns a loaded model for a version token.
type ModelResolver interface {
	Resolve(ctx context.Context, version string) (*modelcache.Entry, error)
}

// ArtifactPublisher records a file in a tracking run of its own and returns
// the run id.
type ArtifactPublisher interface {
	Publish(ctx context.Context, runName, relPath string, data []byte) (string, error)
}

// EvaluationResult scores one model version on held out rows, both on the
// log1p scale the model is trained on and in meter units.
type EvaluationResult struct {
	Version     string        `json:"version"`
	Source      string        `json:"source"`
	Path        string        `json:"path,omitempty"`
	Rows        int           `json:"rows"`
	Log         model.Metrics `json:"log_scale"`
	Meter       model.Metrics `json:"meter_units"`
	EvaluatedAt time.Time     `json:"evaluated_at"`

	Explanation      *explain.Explanation `json:"explanation,omitempty"`
	ExplanationPath  string               `json:"explanation_path,omitempty"`
	ExplanationRunID string               `json:"explanation_run_id,omitempty"`
}

// Evaluator scores the served model on the test split of the stored matrix.
type Evaluator struct {
	cfg        config.TrainingConfig
	data       DatasetStore
	models     ModelResolver
	maxRows    int
	reportPath string
	explainTo  string
	publisher  ArtifactPublisher
	logger     *zap.Logger
}

// EvaluatorOption configures an Evaluator.
type EvaluatorOption func(*Evaluator)

// WithMaxRows caps the scored rows.
func WithMaxRows(n int) EvaluatorOption {
	return func(e *Evaluator) {
		if n > 0 {
			e.maxRows = n
		}
	}
}

// WithReportPath writes the result as JSON to path.
func WithReportPath(path string) EvaluatorOption {
	return func(e *Evaluator) { e.reportPath = path }
}

// WithExplanation explains the first held out row and writes the page to
// path.
func WithExplanation(path string) EvaluatorOption {
	return func(e *Evaluator) { e.explainTo = path }
}

// WithPublisher logs the explanation page to a tracking run.
func WithPublisher(p ArtifactPublisher) EvaluatorOption {
	return func(e *Evaluator) { e.publisher = p }
}

// NewEvaluator creates an evaluation stage.
func NewEvaluator(cfg config.TrainingConfig, data DatasetStore, models ModelResolver, logger *zap.Logger, opts ...EvaluatorOption) *Evaluator {
	if logger == nil {
		logger = zap.NewNop()
	}
	e := &Evaluator{
		cfg:     cfg,
		data:    data,
		models:  models,
		maxRows: DefaultEvaluationRows,
		logger:  logger.With(zap.String("component", "evaluation")),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Run resolves version and scores it. The rows are the test split the
// training stage held out, so the same config reproduces the same rows.
func (e *Evaluator) Run(ctx context.Context, version string) (*EvaluationResult, error) {
	entry, err := e.models.Resolve(ctx, version)
	if err != nil {
		return nil, err
	}

	x, y, err := e.data.Dataset()
	if err != nil {
		return nil, err
	}
	full, err := toDataset(x, y)
	if err != nil {
		return nil, err
	}
	if full.Cols != entry.Predictor.NumFeatures() {
		return nil, errors.Newf(errors.ErrorTypePrecondition,
			"model %s expects %d features, stored matrix has %d", entry.Version, entry.Predictor.NumFeatures(), full.Cols).
			WithDetail("hint", "rerun preprocessing and training together")
	}

	_, testIdx := model.TrainTestSplit(full.Rows(), e.cfg.TestSize, e.cfg.Seed)
	if len(testIdx) == 0 {
		return nil, errors.New(errors.ErrorTypeData, "no held out rows to evaluate")
	}
	if len(testIdx) > e.maxRows {
		testIdx = testIdx[:e.maxRows]
	}
	test := full.Subset(testIdx)

	preds, err := model.PredictRows(entry.Predictor, test.X)
	if err != nil {
		return nil, err
	}
	meterTrue := make([]float64, len(preds))
	meterPred := make([]float64, len(preds))
	for i := range preds {
		meterTrue[i] = features.InverseTarget(test.Y[i])
		meterPred[i] = features.InverseTarget(preds[i])
	}

	res := &EvaluationResult{
		Version:     entry.Version,
		Source:      string(entry.Source),
		Path:        entry.Path,
		Rows:        test.Rows(),
		Log:         model.Evaluate(test.Y, preds),
		Meter:       model.Evaluate(meterTrue, meterPred),
		EvaluatedAt: time.Now().UTC(),
	}
	e.logger.Info("evaluation complete",
		zap.String("version", res.Version),
		zap.String("source", res.Source),
		zap.Int("rows", res.Rows),
		zap.Float64("rmse", res.Log.RMSE),
		zap.Float64("r2", res.Log.R2))

	if e.explainTo != "" || e.publisher != nil {
		if err := e.explainSample(ctx, entry.Predictor, x.Names(), test, res); err != nil {
			return res, err
		}
	}

	if e.reportPath != "" {
		if err := writeJSON(e.reportPath, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

// explainSample fits a local surrogate around the first test row. The
// background statistics come from the leading test rows.
func (e *Evaluator) explainSample(ctx context.Context, p model.Predictor, names []string, test model.Dataset, res *EvaluationResult) error {
	bg := test.X
	if limit := explain.DefaultBackgroundRows * test.Cols; len(bg) > limit {
		bg = bg[:limit]
	}
	explainer, err := explain.NewExplainer(bg, names, explain.Options{Seed: e.cfg.Seed}, e.logger)
	if err != nil {
		return err
	}
	exp, err := explainer.Explain(p, test.Row(0), "sample_prediction")
	if err != nil {
		return err
	}
	res.Explanation = exp

	page, err := explain.Render(exp)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "render explanation")
	}
	if e.explainTo != "" {
		if err := writeFile(e.explainTo, page); err != nil {
			return err
		}
		res.ExplanationPath = e.explainTo
	}
	if e.publisher != nil {
		runID, err := e.publisher.Publish(ctx, explanationRun, ExplanationArtifact, page)
		if err != nil {
			return err
		}
		res.ExplanationRunID = runID
		e.logger.Info("explanation logged", zap.String("run_id", runID), zap.String("artifact", ExplanationArtifact))
	}
	return nil
}

func writeJSON(path string, v interface{}) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeInternal, "encode report")
	}
	return writeFile(path, data)
}

func writeFile(path string, data []byte) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "create report directory")
	}
	if err := os.WriteFile(path, data, 0o644); err != nil { //nolint:gosec // report is not secret
		return errors.Wrap(err, errors.ErrorTypeFile, "write report").WithDetail("path", path)
	}
	return nil
}
