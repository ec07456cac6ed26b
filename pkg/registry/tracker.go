package registry

import (
	"context"
	"path"
	"strings"

	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/model"
	"go.uber.org/zap"
)

// ModelArtifactPath is the run-relative directory a model is logged under.
const ModelArtifactPath = "model"

// Tracker records one training run.
type Tracker struct {
	client    *MLflowClient
	modelName string
	run       *Run
	logger    *zap.Logger
}

// StartRun ensures the configured experiment exists and opens a run in it.
func StartRun(ctx context.Context, client *MLflowClient, cfg config.MLflowConfig, runName string) (*Tracker, error) {
	expID, err := client.EnsureExperiment(ctx, cfg.ExperimentName)
	if err != nil {
		return nil, err
	}
	run, err := client.CreateRun(ctx, expID, runName)
	if err != nil {
		return nil, err
	}
	return &Tracker{
		client:    client,
		modelName: cfg.ModelName,
		run:       run,
		logger:    client.logger.With(zap.String("run_id", run.ID)),
	}, nil
}

// RunID returns the tracking run id.
func (t *Tracker) RunID() string { return t.run.ID }

// LogMetadata records training parameters and evaluation metrics.
func (t *Tracker) LogMetadata(ctx context.Context, params map[string]string, metrics map[string]float64) error {
	if err := t.client.LogBatch(ctx, t.run.ID, params, metrics); err != nil {
		return errors.Wrap(err, errors.TypeOf(err), "log run metadata")
	}
	t.logger.Info("run metadata logged", zap.Int("params", len(params)), zap.Int("metrics", len(metrics)))
	return nil
}

// LogArtifact uploads data at relPath under the run's artifact root.
func (t *Tracker) LogArtifact(ctx context.Context, relPath string, data []byte) (string, error) {
	return t.client.UploadArtifact(ctx, t.run, relPath, data)
}

// LogModel uploads a serialized model and registers it as a new version of
// the configured model name.
func (t *Tracker) LogModel(ctx context.Context, data []byte, format model.Format) (*ModelVersion, error) {
	if t.modelName == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "mlflow model name is not set")
	}
	file := modelFileName(format)
	if _, err := t.LogArtifact(ctx, path.Join(ModelArtifactPath, file), data); err != nil {
		return nil, err
	}
	source := strings.TrimRight(t.run.ArtifactURI, "/") + "/" + ModelArtifactPath
	return t.client.RegisterModel(ctx, t.modelName, source, t.run.ID)
}

// End finishes the run, FAILED when runErr is non-nil.
func (t *Tracker) End(ctx context.Context, runErr error) error {
	return t.client.FinishRun(ctx, t.run.ID, runErr != nil)
}

func modelFileName(format model.Format) string {
	if format == model.FormatLightGBM {
		return "model.lgb"
	}
	return "model.json"
}

// RunPublisher logs standalone artifacts, each in a short run of its own.
type RunPublisher struct {
	client *MLflowClient
	cfg    config.MLflowConfig
}

// NewRunPublisher publishes into the configured experiment.
func NewRunPublisher(client *MLflowClient, cfg config.MLflowConfig) *RunPublisher {
	return &RunPublisher{client: client, cfg: cfg}
}

// Publish opens runName, logs data at relPath and finishes the run. It
// returns the run id.
func (p *RunPublisher) Publish(ctx context.Context, runName, relPath string, data []byte) (runID string, err error) {
	tr, err := StartRun(ctx, p.client, p.cfg, runName)
	if err != nil {
		return "", err
	}
	defer func() {
		if endErr := tr.End(ctx, err); endErr != nil && err == nil {
			err = endErr
		}
	}()
	if _, err = tr.LogArtifact(ctx, relPath, data); err != nil {
		return "", err
	}
	tr.logger.Info("artifact published", zap.String("path", relPath))
	return tr.RunID(), nil
}
