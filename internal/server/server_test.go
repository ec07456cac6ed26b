package server

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"

	"github.com/ajitpratap0/gridcast/internal/service"
	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type fakePredictor struct {
	got service.PredictionRequest
	err error
}

func (f *fakePredictor) Predict(_ context.Context, req service.PredictionRequest) (*service.PredictionResult, error) {
	f.got = req
	if f.err != nil {
		return nil, f.err
	}
	version := req.ModelVersion
	if version == "" {
		version = "latest"
	}
	return &service.PredictionResult{MeterReading: 123.5, ModelVersion: version}, nil
}

func (f *fakePredictor) DefaultVersion() string { return "latest" }

type fakeMonitor struct{}

func (fakeMonitor) Generate(context.Context) []byte {
	return []byte("<html><body><h1>No data collected yet.</h1></body></html>")
}

func newTestServer(t *testing.T, p Predictor) *Server {
	t.Helper()
	return New(config.ServingConfig{Addr: ":0"}, p, fakeMonitor{}, testutil.TestLogger(t))
}

func do(t *testing.T, s *Server, method, path string, body interface{}) *httptest.ResponseRecorder {
	t.Helper()
	var buf bytes.Buffer
	if body != nil {
		require.NoError(t, json.NewEncoder(&buf).Encode(body))
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder) map[string]interface{} {
	t.Helper()
	var out map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &out))
	return out
}

func TestRootAndHealth(t *testing.T) {
	s := newTestServer(t, &fakePredictor{})

	w := do(t, s, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, "API is running", decode(t, w)["message"])
	assert.NotEmpty(t, w.Header().Get(RequestIDHeader))

	w = do(t, s, http.MethodGet, "/health", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, map[string]interface{}{"status": "online", "model_version": "latest"}, decode(t, w))
}

func TestPredict(t *testing.T) {
	p := &fakePredictor{}
	s := newTestServer(t, p)

	body := testutil.RequestFields()
	body["model_version"] = "v2"
	w := do(t, s, http.MethodPost, "/api/v1/predict", body)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	out := decode(t, w)
	assert.Equal(t, 123.5, out["meter_reading"])
	assert.Equal(t, "success", out["status"])
	assert.Equal(t, "v2", out["model_version"])

	assert.Equal(t, int32(10), p.got.BuildingID)
	assert.Equal(t, int8(0), p.got.Meter)
	assert.Equal(t, "Education", p.got.PrimaryUse)
	assert.Equal(t, float32(1012), p.got.SeaLevelPressure)
	assert.Equal(t, int8(18), p.got.Week)
	assert.Nil(t, p.got.Timestamp)
}

func TestPredictValidation(t *testing.T) {
	s := newTestServer(t, &fakePredictor{})

	missing := testutil.RequestFields()
	delete(missing, "air_temperature")
	badMeter := testutil.RequestFields()
	badMeter["meter"] = 9
	wrongType := testutil.RequestFields()
	wrongType["building_id"] = "ten"

	for name, body := range map[string]map[string]interface{}{
		"missing field": missing,
		"out of range":  badMeter,
		"wrong type":    wrongType,
	} {
		t.Run(name, func(t *testing.T) {
			w := do(t, s, http.MethodPost, "/api/v1/predict", body)
			assert.Equal(t, http.StatusUnprocessableEntity, w.Code)
			assert.NotEmpty(t, decode(t, w)["detail"])
		})
	}
}

func TestPredictValidationNamesFields(t *testing.T) {
	s := newTestServer(t, &fakePredictor{})

	body := testutil.RequestFields()
	delete(body, "air_temperature")
	body["hour"] = 24

	w := do(t, s, http.MethodPost, "/api/v1/predict", body)
	require.Equal(t, http.StatusUnprocessableEntity, w.Code)

	detail, ok := decode(t, w)["detail"].([]interface{})
	require.True(t, ok)
	rules := map[string]string{}
	for _, d := range detail {
		fe := d.(map[string]interface{})
		rules[fe["field"].(string)] = fe["rule"].(string)
	}
	assert.Equal(t, map[string]string{"air_temperature": "required", "hour": "max"}, rules)
}

func TestPredictServiceError(t *testing.T) {
	s := newTestServer(t, &fakePredictor{err: errors.New(errors.ErrorTypeUnavailable, "model unavailable: version v9")})

	w := do(t, s, http.MethodPost, "/api/v1/predict", testutil.RequestFields())
	assert.Equal(t, http.StatusInternalServerError, w.Code)
	assert.Contains(t, decode(t, w)["detail"], "model unavailable")
}

func TestReportAndMetrics(t *testing.T) {
	s := newTestServer(t, &fakePredictor{})

	w := do(t, s, http.MethodGet, "/api/v1/monitoring/report", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.True(t, strings.HasPrefix(w.Header().Get("Content-Type"), "text/html"))
	assert.Contains(t, w.Body.String(), "No data collected yet.")

	w = do(t, s, http.MethodGet, "/metrics", nil)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "go_goroutines")
}

func TestRequestIDPropagates(t *testing.T) {
	s := newTestServer(t, &fakePredictor{})
	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	req.Header.Set(RequestIDHeader, "abc-123")
	w := httptest.NewRecorder()
	s.Handler().ServeHTTP(w, req)
	assert.Equal(t, "abc-123", w.Header().Get(RequestIDHeader))
}

func TestRunShutsDown(t *testing.T) {
	s := New(config.ServingConfig{Addr: "127.0.0.1:0"}, &fakePredictor{}, nil, testutil.TestLogger(t))
	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- s.Run(ctx) }()
	cancel()
	assert.NoError(t, <-done)
}
