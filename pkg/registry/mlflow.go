// Package registry talks to the MLflow tracking server and model registry
// over its REST API, and to the S3 artifact store behind it. Training uses
// it to record runs and register model versions; serving uses it as the
// remote source of the model version cache.
package registry

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/clients"
	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"go.uber.org/zap"
)

const apiPrefix = "/api/2.0/mlflow"

// Run identifies a tracking run.
type Run struct {
	ID           string `json:"run_id"`
	ExperimentID string `json:"experiment_id"`
	ArtifactURI  string `json:"artifact_uri"`
}

// ModelVersion is a registered model version.
type ModelVersion struct {
	Name    string `json:"name"`
	Version string `json:"version"`
	Source  string `json:"source"`
	RunID   string `json:"run_id"`
	Stage   string `json:"current_stage"`
}

// MLflowClient is a minimal MLflow REST client.
type MLflowClient struct {
	baseURL string
	http    *clients.HTTPClient
	s3      *S3Store
	logger  *zap.Logger
}

// NewMLflowClient creates a client for cfg.TrackingURI. s3 serves s3://
// artifact sources and may be nil.
func NewMLflowClient(cfg config.MLflowConfig, s3 *S3Store, logger *zap.Logger) *MLflowClient {
	if logger == nil {
		logger = zap.NewNop()
	}
	httpCfg := clients.DefaultHTTPConfig()
	if cfg.Timeout > 0 {
		httpCfg.RequestTimeout = cfg.Timeout
	}
	return &MLflowClient{
		baseURL: strings.TrimRight(cfg.TrackingURI, "/"),
		http:    clients.NewHTTPClient("mlflow", httpCfg, logger),
		s3:      s3,
		logger:  logger.With(zap.String("component", "mlflow")),
	}
}

// Close releases idle connections.
func (c *MLflowClient) Close() error { return c.http.Close() }

func (c *MLflowClient) endpoint(path string, query url.Values) string {
	u := c.baseURL + apiPrefix + path
	if len(query) > 0 {
		u += "?" + query.Encode()
	}
	return u
}

// EnsureExperiment returns the id of the named experiment, creating it
// when missing.
func (c *MLflowClient) EnsureExperiment(ctx context.Context, name string) (string, error) {
	var got struct {
		Experiment struct {
			ID string `json:"experiment_id"`
		} `json:"experiment"`
	}
	err := c.http.GetJSON(ctx, c.endpoint("/experiments/get-by-name", url.Values{"experiment_name": {name}}), &got)
	switch {
	case err == nil:
		return got.Experiment.ID, nil
	case !errors.IsType(err, errors.ErrorTypeNotFound):
		return "", err
	}

	var created struct {
		ID string `json:"experiment_id"`
	}
	if err := c.http.PostJSON(ctx, c.endpoint("/experiments/create", nil), map[string]string{"name": name}, &created); err != nil {
		return "", err
	}
	c.logger.Info("experiment created", zap.String("experiment", name), zap.String("id", created.ID))
	return created.ID, nil
}

// CreateRun starts a run in experimentID.
func (c *MLflowClient) CreateRun(ctx context.Context, experimentID, runName string) (*Run, error) {
	in := map[string]interface{}{
		"experiment_id": experimentID,
		"run_name":      runName,
		"start_time":    time.Now().UnixMilli(),
	}
	var out struct {
		Run struct {
			Info Run `json:"info"`
		} `json:"run"`
	}
	if err := c.http.PostJSON(ctx, c.endpoint("/runs/create", nil), in, &out); err != nil {
		return nil, err
	}
	run := out.Run.Info
	c.logger.Info("run started", zap.String("run_id", run.ID), zap.String("run_name", runName))
	return &run, nil
}

// GetRun fetches run metadata.
func (c *MLflowClient) GetRun(ctx context.Context, runID string) (*Run, error) {
	var out struct {
		Run struct {
			Info Run `json:"info"`
		} `json:"run"`
	}
	if err := c.http.GetJSON(ctx, c.endpoint("/runs/get", url.Values{"run_id": {runID}}), &out); err != nil {
		return nil, err
	}
	return &out.Run.Info, nil
}

type keyValue struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type metric struct {
	Key       string  `json:"key"`
	Value     float64 `json:"value"`
	Timestamp int64   `json:"timestamp"`
	Step      int64   `json:"step"`
}

// LogBatch records params and metrics on a run.
func (c *MLflowClient) LogBatch(ctx context.Context, runID string, params map[string]string, metrics map[string]float64) error {
	now := time.Now().UnixMilli()
	in := struct {
		RunID   string     `json:"run_id"`
		Params  []keyValue `json:"params"`
		Metrics []metric   `json:"metrics"`
	}{RunID: runID, Params: []keyValue{}, Metrics: []metric{}}
	for _, k := range sortedKeys(params) {
		in.Params = append(in.Params, keyValue{Key: k, Value: params[k]})
	}
	for _, k := range sortedKeys(metrics) {
		in.Metrics = append(in.Metrics, metric{Key: k, Value: metrics[k], Timestamp: now})
	}
	return c.http.PostJSON(ctx, c.endpoint("/runs/log-batch", nil), in, nil)
}

// FinishRun marks a run FINISHED or FAILED.
func (c *MLflowClient) FinishRun(ctx context.Context, runID string, failed bool) error {
	status := "FINISHED"
	if failed {
		status = "FAILED"
	}
	in := map[string]interface{}{"run_id": runID, "status": status, "end_time": time.Now().UnixMilli()}
	return c.http.PostJSON(ctx, c.endpoint("/runs/update", nil), in, nil)
}

// UploadArtifact stores data at relPath under the run's artifact root.
func (c *MLflowClient) UploadArtifact(ctx context.Context, run *Run, relPath string, data []byte) (string, error) {
	uri := strings.TrimRight(run.ArtifactURI, "/") + "/" + strings.TrimLeft(relPath, "/")
	switch {
	case strings.HasPrefix(uri, "s3://"):
		if c.s3 == nil {
			return "", errors.New(errors.ErrorTypeConfig, "run stores artifacts in s3 but no s3 store is configured")
		}
		bucket, key, err := ParseS3URI(uri)
		if err != nil {
			return "", err
		}
		if err := c.s3.PutObject(ctx, bucket, key, readerOf(data)); err != nil {
			return "", err
		}
		return uri, nil
	case strings.HasPrefix(uri, "mlflow-artifacts:"):
		req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.proxyURL(uri), bytes.NewReader(data))
		if err != nil {
			return "", errors.Wrap(err, errors.ErrorTypeConfig, "build upload request")
		}
		resp, err := c.http.Do(req)
		if err != nil {
			return "", err
		}
		defer resp.Body.Close()
		_, _ = io.Copy(io.Discard, resp.Body)
		if resp.StatusCode >= 300 {
			return "", errors.Newf(errors.ErrorTypeConnection, "artifact upload returned %d", resp.StatusCode).WithDetail("uri", uri)
		}
		return uri, nil
	default:
		return "", errors.Newf(errors.ErrorTypeConfig, "unsupported artifact root %q", run.ArtifactURI)
	}
}

// RegisterModel creates the registered model if needed and adds a version
// pointing at source.
func (c *MLflowClient) RegisterModel(ctx context.Context, name, source, runID string) (*ModelVersion, error) {
	err := c.http.PostJSON(ctx, c.endpoint("/registered-models/create", nil), map[string]string{"name": name}, nil)
	if err != nil && !alreadyExists(err) {
		return nil, err
	}
	var out struct {
		ModelVersion ModelVersion `json:"model_version"`
	}
	in := map[string]string{"name": name, "source": source, "run_id": runID}
	if err := c.http.PostJSON(ctx, c.endpoint("/model-versions/create", nil), in, &out); err != nil {
		return nil, err
	}
	c.logger.Info("model version registered",
		zap.String("model", name),
		zap.String("version", out.ModelVersion.Version),
		zap.String("source", source))
	return &out.ModelVersion, nil
}

func alreadyExists(err error) bool {
	var se *clients.StatusError
	return errors.As(err, &se) && strings.Contains(se.Body, "RESOURCE_ALREADY_EXISTS")
}

// ResolveVersion looks up a version; "latest" picks the highest version
// number across stages.
func (c *MLflowClient) ResolveVersion(ctx context.Context, name, version string) (*ModelVersion, error) {
	if version != "" && version != "latest" {
		var out struct {
			ModelVersion ModelVersion `json:"model_version"`
		}
		q := url.Values{"name": {name}, "version": {strings.TrimPrefix(version, "v")}}
		if err := c.http.GetJSON(ctx, c.endpoint("/model-versions/get", q), &out); err != nil {
			return nil, err
		}
		return &out.ModelVersion, nil
	}

	var out struct {
		ModelVersions []ModelVersion `json:"model_versions"`
	}
	if err := c.http.PostJSON(ctx, c.endpoint("/registered-models/get-latest-versions", nil), map[string]string{"name": name}, &out); err != nil {
		return nil, err
	}
	if len(out.ModelVersions) == 0 {
		return nil, errors.Newf(errors.ErrorTypeNotFound, "model %q has no versions", name)
	}
	sort.Slice(out.ModelVersions, func(i, j int) bool {
		return versionNumber(out.ModelVersions[i].Version) > versionNumber(out.ModelVersions[j].Version)
	})
	return &out.ModelVersions[0], nil
}

func versionNumber(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return -1
	}
	return n
}

// Download fetches an artifact by URI: mlflow-artifacts:, runs:/, s3://,
// http(s):// and file paths are understood.
func (c *MLflowClient) Download(ctx context.Context, uri string) ([]byte, error) {
	switch {
	case strings.HasPrefix(uri, "runs:/"):
		runID, rel, _ := strings.Cut(strings.TrimPrefix(uri, "runs:/"), "/")
		run, err := c.GetRun(ctx, runID)
		if err != nil {
			return nil, err
		}
		return c.Download(ctx, strings.TrimRight(run.ArtifactURI, "/")+"/"+rel)
	case strings.HasPrefix(uri, "s3://"):
		if c.s3 == nil {
			return nil, errors.Newf(errors.ErrorTypeConfig, "no s3 store configured for %s", uri)
		}
		bucket, key, err := ParseS3URI(uri)
		if err != nil {
			return nil, err
		}
		return c.s3.GetObject(ctx, bucket, key)
	case strings.HasPrefix(uri, "mlflow-artifacts:"):
		return c.get(ctx, c.proxyURL(uri))
	case strings.HasPrefix(uri, "http://"), strings.HasPrefix(uri, "https://"):
		return c.get(ctx, uri)
	default:
		p := strings.TrimPrefix(uri, "file://")
		data, err := os.ReadFile(p)
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeNotFound, "read artifact").WithDetail("path", p)
		}
		return data, nil
	}
}

func (c *MLflowClient) get(ctx context.Context, u string) ([]byte, error) {
	var buf bytes.Buffer
	if _, err := c.http.Download(ctx, u, &buf); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// proxyURL maps mlflow-artifacts:/path (or mlflow-artifacts://host/path) to
// the tracking server's artifact proxy.
func (c *MLflowClient) proxyURL(uri string) string {
	rest := strings.TrimPrefix(uri, "mlflow-artifacts:")
	if strings.HasPrefix(rest, "//") {
		if _, p, ok := strings.Cut(strings.TrimPrefix(rest, "//"), "/"); ok {
			rest = "/" + p
		}
	}
	return fmt.Sprintf("%s/api/2.0/mlflow-artifacts/artifacts/%s", c.baseURL, strings.TrimLeft(rest, "/"))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
