package modelcache

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/model"
	"github.com/ajitpratap0/gridcast/pkg/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeRemote struct {
	calls atomic.Int32
	delay time.Duration
	err   error
	value float64
}

func (f *fakeRemote) Load(ctx context.Context, _, _ string) (model.Predictor, error) {
	f.calls.Add(1)
	if f.delay > 0 {
		select {
		case <-time.After(f.delay):
		case <-ctx.Done():
			return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "registry timed out")
		}
	}
	if f.err != nil {
		return nil, f.err
	}
	return &model.GBDT{Format: "gridcast-gbdt/v1", Features: 1, BaseScore: f.value}, nil
}

func writeModel(t *testing.T, path string, value float64) {
	t.Helper()
	g := &model.GBDT{Format: "gridcast-gbdt/v1", Features: 1, BaseScore: value}
	require.NoError(t, g.Save(path))
}

func predict(t *testing.T, e *Entry) float64 {
	t.Helper()
	v, err := e.Predictor.Predict([]float64{0})
	require.NoError(t, err)
	return v
}

func TestLocalFallbackIsCached(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, filepath.Join(dir, "v2", "model.json"), 2)
	remote := &fakeRemote{err: errors.New(errors.ErrorTypeConnection, "registry down")}

	c := New(Options{
		ModelName: "energy",
		Remote:    remote,
		Local:     NewLocalSource(dir, "model.json", filepath.Join(dir, "model.json")),
		Logger:    testutil.TestLogger(t),
	})

	e, err := c.Resolve(context.Background(), "v2")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, e.Source)
	assert.Equal(t, filepath.Join(dir, "v2", "model.json"), e.Path)
	assert.Equal(t, 2.0, predict(t, e))

	again, err := c.Resolve(context.Background(), "v2")
	require.NoError(t, err)
	assert.Same(t, e, again)
	assert.Equal(t, int32(1), remote.calls.Load(), "cached version must not hit the registry again")
}

func TestRemoteWinsAndLatestIsPinned(t *testing.T) {
	remote := &fakeRemote{value: 7}
	c := New(Options{Remote: remote, Logger: testutil.TestLogger(t)})

	e, err := c.Resolve(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, e.Source)
	assert.Equal(t, 7.0, predict(t, e))

	remote.value = 8
	e, err = c.Resolve(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, 7.0, predict(t, e))
	assert.Equal(t, int32(1), remote.calls.Load())
	assert.Equal(t, []string{"latest"}, c.Versions())
}

func TestDefaultPathFallback(t *testing.T) {
	dir := t.TempDir()
	def := filepath.Join(dir, "model.json")
	writeModel(t, def, 4)

	c := New(Options{
		Remote:        &fakeRemote{delay: time.Second},
		Local:         NewLocalSource(dir, "model.json", def),
		RemoteTimeout: 20 * time.Millisecond,
		Logger:        testutil.TestLogger(t),
	})

	e, err := c.Resolve(context.Background(), "v9")
	require.NoError(t, err)
	assert.Equal(t, def, e.Path)
	assert.Equal(t, 4.0, predict(t, e))
}

func TestUnavailableIsNotCached(t *testing.T) {
	dir := t.TempDir()
	remote := &fakeRemote{err: errors.New(errors.ErrorTypeNotFound, "no such version")}
	c := New(Options{
		Remote: remote,
		Local:  NewLocalSource(dir, "model.json", filepath.Join(dir, "model.json")),
		Logger: testutil.TestLogger(t),
	})

	_, err := c.Resolve(context.Background(), "v3")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeUnavailable))
	assert.Contains(t, err.Error(), "model unavailable")
	assert.Contains(t, err.Error(), "v3")

	var e *errors.Error
	require.True(t, errors.As(err, &e))
	assert.Contains(t, e.Details["paths_tried"], filepath.Join(dir, "v3", "model.json"))

	writeModel(t, filepath.Join(dir, "v3", "model.json"), 3)
	got, err := c.Resolve(context.Background(), "v3")
	require.NoError(t, err)
	assert.Equal(t, 3.0, predict(t, got))
	assert.Equal(t, int32(2), remote.calls.Load())
}

func TestConcurrentMissesShareOneLoad(t *testing.T) {
	remote := &fakeRemote{value: 1, delay: 50 * time.Millisecond}
	c := New(Options{Remote: remote, Logger: testutil.TestLogger(t)})

	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			_, err := c.Resolve(context.Background(), "v1")
			assert.NoError(t, err)
		}()
	}
	wg.Wait()
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestCallerCancellationDoesNotForceFallback(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, filepath.Join(dir, "model.json"), 1)
	remote := &fakeRemote{value: 5, delay: 80 * time.Millisecond}
	c := New(Options{
		Remote: remote,
		Local:  NewLocalSource(dir, "model.json", filepath.Join(dir, "model.json")),
		Logger: testutil.TestLogger(t),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		time.Sleep(10 * time.Millisecond)
		cancel()
	}()
	_, err := c.Resolve(ctx, "latest")
	require.Error(t, err)
	assert.True(t, errors.IsType(err, errors.ErrorTypeTimeout))

	assert.Eventually(t, func() bool { return len(c.Versions()) == 1 }, 2*time.Second, 10*time.Millisecond)
	e, err := c.Resolve(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, SourceRemote, e.Source)
	assert.Equal(t, 5.0, predict(t, e))
	assert.Equal(t, int32(1), remote.calls.Load())
}

func TestCandidates(t *testing.T) {
	l := NewLocalSource("saved_models", "model.json", "saved_models/model.json")
	assert.Equal(t, []string{filepath.Join("saved_models", "v2", "model.json"), "saved_models/model.json"}, l.Candidates("v2"))
	assert.Equal(t, []string{"saved_models/model.json"}, l.Candidates("../etc"))

	_, _, _, err := NewLocalSource("", "", "").Load("v1")
	assert.True(t, errors.IsType(err, errors.ErrorTypeConfig))
}

func TestNoRemoteConfigured(t *testing.T) {
	dir := t.TempDir()
	writeModel(t, filepath.Join(dir, "model.json"), 5)
	_, err := os.Stat(filepath.Join(dir, "model.json"))
	require.NoError(t, err)

	c := New(Options{Local: NewLocalSource(dir, "model.json", filepath.Join(dir, "model.json"))})
	e, err := c.Resolve(context.Background(), "latest")
	require.NoError(t, err)
	assert.Equal(t, SourceLocal, e.Source)
}
