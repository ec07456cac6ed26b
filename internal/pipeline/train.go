package pipeline

import (
	"context"
	"os"
	"path"
	"path/filepath"
	"strconv"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/features"
	"github.com/ajitpratap0/gridcast/pkg/model"
	"github.com/ajitpratap0/gridcast/pkg/registry"
	"go.uber.org/zap"
)

// TrainResult describes a finished training run.
type TrainResult struct {
	Metrics   map[string]float64 `json:"metrics"`
	ModelPath string             `json:"model_path"`
	TrainRows int                `json:"train_rows"`
	TestRows  int                `json:"test_rows"`
	Trees     int                `json:"trees"`
	RunID     string             `json:"run_id,omitempty"`
	Version   string             `json:"registered_version,omitempty"`
	Uploaded  []string           `json:"uploaded,omitempty"`
}

// Trainer fits the booster on the stored design matrix and publishes the
// result locally, to the tracking server and to the artifact store.
type Trainer struct {
	cfg          config.TrainingConfig
	mlflowCfg    config.MLflowConfig
	artifactPath string
	data         DatasetStore
	tracking     *registry.MLflowClient
	artifacts    *registry.S3Store
	logger       *zap.Logger
}

// TrainerOption configures a Trainer.
type TrainerOption func(*Trainer)

// WithTracking logs runs to MLflow and registers the model.
func WithTracking(client *registry.MLflowClient, cfg config.MLflowConfig) TrainerOption {
	return func(t *Trainer) {
		t.tracking = client
		t.mlflowCfg = cfg
	}
}

// WithArtifactStore uploads the model and preprocessor after training.
func WithArtifactStore(s3 *registry.S3Store) TrainerOption {
	return func(t *Trainer) { t.artifacts = s3 }
}

// NewTrainer creates a training stage. artifactPath is the fitted alignment
// artifact shipped alongside the model.
func NewTrainer(cfg config.TrainingConfig, artifactPath string, data DatasetStore, logger *zap.Logger, opts ...TrainerOption) *Trainer {
	if logger == nil {
		logger = zap.NewNop()
	}
	t := &Trainer{
		cfg:          cfg,
		artifactPath: artifactPath,
		data:         data,
		logger:       logger.With(zap.String("component", "training")),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// Params maps the training config onto booster parameters.
func Params(cfg config.TrainingConfig) model.Params {
	p := model.DefaultParams()
	p.NumRounds = cfg.NumRounds
	p.LearningRate = cfg.LearningRate
	p.MaxDepth = cfg.MaxDepth
	p.MinSamplesLeaf = cfg.MinSamplesLeaf
	p.Lambda = cfg.Lambda
	p.MaxBins = cfg.MaxBins
	p.EarlyStoppingRounds = cfg.EarlyStoppingRounds
	return p
}

// Run trains, evaluates on the held out split and saves the model.
// Tracking and upload failures fail the run; the local model is already
// saved by then.
func (t *Trainer) Run(ctx context.Context) (*TrainResult, error) {
	x, y, err := t.data.Dataset()
	if err != nil {
		return nil, err
	}
	if t.cfg.UseSample && t.cfg.SampleSize > 0 && t.cfg.SampleSize < x.Len() {
		t.logger.Info("training on a sample", zap.Int("rows", t.cfg.SampleSize), zap.Int("available", x.Len()))
		x, y = x.Head(t.cfg.SampleSize), y[:t.cfg.SampleSize]
	}

	full, err := toDataset(x, y)
	if err != nil {
		return nil, err
	}
	trainIdx, testIdx := model.TrainTestSplit(full.Rows(), t.cfg.TestSize, t.cfg.Seed)
	trainSet, testSet := full.Subset(trainIdx), full.Subset(testIdx)
	t.logger.Info("data split",
		zap.Int("train_rows", trainSet.Rows()),
		zap.Int("test_rows", testSet.Rows()),
		zap.Int("features", full.Cols))

	params := Params(t.cfg)
	start := time.Now()
	g, err := model.NewTrainer(params, t.logger).Train(ctx, trainSet, testSet)
	if err != nil {
		return nil, err
	}
	duration := time.Since(start)
	g.FeatureNames = x.Names()

	scores := map[string]float64{}
	if testSet.Rows() > 0 {
		preds, err := model.PredictRows(g, testSet.X)
		if err != nil {
			return nil, err
		}
		scores = model.Evaluate(testSet.Y, preds).Map()
	}
	scores["training_duration"] = duration.Seconds()
	t.logger.Info("model evaluated", zap.Any("metrics", scores))

	if err := g.Save(t.cfg.ModelSavePath); err != nil {
		return nil, err
	}
	res := &TrainResult{
		Metrics:   scores,
		ModelPath: t.cfg.ModelSavePath,
		TrainRows: trainSet.Rows(),
		TestRows:  testSet.Rows(),
		Trees:     len(g.Trees),
	}
	t.logger.Info("model saved", zap.String("path", res.ModelPath), zap.Int("trees", res.Trees))

	if t.tracking != nil {
		if err := t.track(ctx, g, params, res); err != nil {
			return res, err
		}
	}
	if t.artifacts != nil {
		if err := t.upload(ctx, res); err != nil {
			return res, err
		}
	}
	return res, nil
}

func toDataset(x *columnar.Frame, y []float32) (model.Dataset, error) {
	if x.Len() != len(y) {
		return model.Dataset{}, errors.Newf(errors.ErrorTypeData, "design matrix has %d rows, target has %d", x.Len(), len(y))
	}
	matrix, err := features.DesignMatrix(x, x.Names())
	if err != nil {
		return model.Dataset{}, err
	}
	yy := make([]float64, len(y))
	for i, v := range y {
		yy[i] = float64(v)
	}
	return model.Dataset{X: matrix, Y: yy, Cols: x.Width()}, nil
}

func (t *Trainer) track(ctx context.Context, g *model.GBDT, params model.Params, res *TrainResult) (err error) {
	runName := "gbdt_" + time.Now().UTC().Format("20060102_150405")
	tracker, err := registry.StartRun(ctx, t.tracking, t.mlflowCfg, runName)
	if err != nil {
		return err
	}
	res.RunID = tracker.RunID()
	defer func() {
		if endErr := tracker.End(ctx, err); endErr != nil && err == nil {
			err = endErr
		}
	}()

	if err = tracker.LogMetadata(ctx, paramMap(params, t.cfg), res.Metrics); err != nil {
		return err
	}
	data, err := model.MarshalGBDT(g)
	if err != nil {
		return err
	}
	version, err := tracker.LogModel(ctx, data, model.FormatNative)
	if err != nil {
		return err
	}
	res.Version = version.Version

	blob, err := os.ReadFile(t.artifactPath) //nolint:gosec // path comes from configuration
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "read alignment artifact").WithDetail("path", t.artifactPath)
	}
	if _, err = tracker.LogArtifact(ctx, path.Join("preprocessor", filepath.Base(t.artifactPath)), blob); err != nil {
		return err
	}
	t.logger.Info("run tracked", zap.String("run_id", res.RunID), zap.String("version", res.Version))
	return nil
}

func (t *Trainer) upload(ctx context.Context, res *TrainResult) error {
	for _, f := range []struct{ name, local string }{
		{path.Join("models", filepath.Base(res.ModelPath)), res.ModelPath},
		{path.Join("preprocessors", filepath.Base(t.artifactPath)), t.artifactPath},
	} {
		uri, err := t.artifacts.PutFile(ctx, f.name, f.local)
		if err != nil {
			return err
		}
		res.Uploaded = append(res.Uploaded, uri)
	}
	t.logger.Info("artifacts uploaded", zap.Strings("uris", res.Uploaded))
	return nil
}

func paramMap(p model.Params, cfg config.TrainingConfig) map[string]string {
	return map[string]string{
		"num_boost_round":       strconv.Itoa(p.NumRounds),
		"learning_rate":         strconv.FormatFloat(p.LearningRate, 'g', -1, 64),
		"max_depth":             strconv.Itoa(p.MaxDepth),
		"min_samples_leaf":      strconv.Itoa(p.MinSamplesLeaf),
		"lambda_l2":             strconv.FormatFloat(p.Lambda, 'g', -1, 64),
		"max_bins":              strconv.Itoa(p.MaxBins),
		"early_stopping_rounds": strconv.Itoa(p.EarlyStoppingRounds),
		"test_size":             strconv.FormatFloat(cfg.TestSize, 'g', -1, 64),
		"seed":                  strconv.FormatInt(cfg.Seed, 10),
		"use_sample":            strconv.FormatBool(cfg.UseSample),
		"objective":             "regression_l2",
	}
}
