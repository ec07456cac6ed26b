package service

import (
	"context"
	"math"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/features"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"github.com/ajitpratap0/gridcast/pkg/model"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/ajitpratap0/gridcast/pkg/warehouse"
	promtest "github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingSink struct {
	mu      sync.Mutex
	records []warehouse.InferenceRecord
	err     error
}

func (s *recordingSink) LogInference(_ context.Context, rec warehouse.InferenceRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, rec)
	return s.err
}

func sampleRequest() PredictionRequest {
	return PredictionRequest{
		BuildingID:       10,
		SiteID:           0,
		PrimaryUse:       "Education",
		SquareFeet:       50000,
		AirTemperature:   22.5,
		CloudCoverage:    2,
		DewTemperature:   10,
		SeaLevelPressure: 1012,
		WindDirection:    160,
		WindSpeed:        4,
		Day:              1,
		Month:            5,
		Week:             18,
		Hour:             12,
	}
}

// fittedArtifact fits an aligner on frames built from requests.
func fittedArtifact(t *testing.T) *features.Artifact {
	t.Helper()
	var frames []*columnar.Frame
	for i, use := range []string{"Education", "Office", "Lodging/residential"} {
		req := sampleRequest()
		req.BuildingID = int32(i)
		req.PrimaryUse = use
		req.AirTemperature = float32(10 * i)
		f, err := requestFrame(req)
		require.NoError(t, err)
		frames = append(frames, f)
	}
	f, err := columnar.Concat(frames...)
	require.NoError(t, err)
	require.NoError(t, f.Set(features.TargetColumn, columnar.NewNumericColumn([]float32{1, 2, 3})))

	al := features.NewAligner(testutil.TestLogger(t), "")
	_, _, err = al.Fit(f)
	require.NoError(t, err)
	return al.Artifact()
}

func saveConstantModel(t *testing.T, path string, width int, meterReading float64) {
	t.Helper()
	g := &model.GBDT{Format: "gridcast-gbdt/v1", Features: width, BaseScore: math.Log1p(meterReading)}
	require.NoError(t, g.Save(path))
}

func newService(t *testing.T, sink InferenceSink) (*Service, string) {
	t.Helper()
	art := fittedArtifact(t)
	dir := t.TempDir()
	saveConstantModel(t, filepath.Join(dir, "model.json"), len(art.FeatureColumns), 100)

	svc, err := New(context.Background(), Deps{
		Serving: config.ServingConfig{
			LocalModelDir: dir,
			ModelFile:     "model.json",
			WarmDefault:   true,
		},
		Artifact:  art,
		ModelName: "energy",
		Sink:      sink,
		Logger:    testutil.TestLogger(t),
	})
	require.NoError(t, err)
	return svc, dir
}

func TestPredict(t *testing.T) {
	sink := &recordingSink{}
	svc, _ := newService(t, sink)
	assert.Equal(t, "latest", svc.DefaultVersion())
	assert.Equal(t, []string{"latest"}, svc.Cache().Versions(), "default version is warmed")

	res, err := svc.Predict(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.InDelta(t, 100, res.MeterReading, 1e-9)
	assert.Equal(t, "latest", res.ModelVersion)

	require.Len(t, sink.records, 1)
	assert.Equal(t, int32(10), sink.records[0].BuildingID)
	assert.Equal(t, "Education", sink.records[0].PrimaryUse)
	assert.InDelta(t, 100, sink.records[0].MeterReading, 1e-4)
	assert.Equal(t, "latest", sink.records[0].ModelVersion)
}

func TestPredictUnseenCategoryAndVersion(t *testing.T) {
	svc, dir := newService(t, nil)
	width := len(svc.aligner.Artifact().FeatureColumns)
	saveConstantModel(t, filepath.Join(dir, "v2", "model.json"), width, 7)

	req := sampleRequest()
	req.PrimaryUse = "Parking"
	req.ModelVersion = "v2"
	res, err := svc.Predict(context.Background(), req)
	require.NoError(t, err)
	assert.InDelta(t, 7, res.MeterReading, 1e-9)
	assert.Equal(t, "v2", res.ModelVersion)
}

func TestPredictWithTimestamp(t *testing.T) {
	svc, _ := newService(t, nil)
	req := sampleRequest()
	sat := time.Date(2016, 1, 2, 12, 0, 0, 0, time.UTC)
	req.Timestamp = &sat

	f, err := requestFrame(req)
	require.NoError(t, err)
	f, err = svc.engineer.Engineer(f)
	require.NoError(t, err)
	col, _ := f.Column(features.WeekendColumn)
	assert.Equal(t, 1.0, col.Float64(0))

	_, err = svc.Predict(context.Background(), req)
	require.NoError(t, err)
}

func TestSinkFailureIsNotReturned(t *testing.T) {
	sink := &recordingSink{err: errors.New(errors.ErrorTypeConnection, "warehouse down")}
	svc, _ := newService(t, sink)
	before := promtest.ToFloat64(metrics.InferenceLogFailures)

	res, err := svc.Predict(context.Background(), sampleRequest())
	require.NoError(t, err)
	assert.InDelta(t, 100, res.MeterReading, 1e-9)
	assert.Equal(t, before+1, promtest.ToFloat64(metrics.InferenceLogFailures))
}

func TestModelUnavailable(t *testing.T) {
	before := promtest.ToFloat64(metrics.PredictionsTotal.WithLabelValues("error"))
	svc, err := New(context.Background(), Deps{
		Serving:  config.ServingConfig{LocalModelDir: t.TempDir(), ModelFile: "model.json", WarmDefault: true},
		Artifact: fittedArtifact(t),
		Logger:   testutil.TestLogger(t),
	})
	require.NoError(t, err, "a failed warm-up is not fatal")

	req := sampleRequest()
	req.ModelVersion = "v404"
	_, err = svc.Predict(context.Background(), req)
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))
	assert.Contains(t, err.Error(), "v404")
	assert.Equal(t, before+1, promtest.ToFloat64(metrics.PredictionsTotal.WithLabelValues("error")))
}

func TestNewRequiresArtifact(t *testing.T) {
	_, err := New(context.Background(), Deps{ArtifactPath: filepath.Join(t.TempDir(), "missing.json.zst")})
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))

	_, err = New(context.Background(), Deps{Artifact: &features.Artifact{}})
	assert.True(t, errors.IsType(err, errors.ErrorTypePrecondition))
}
