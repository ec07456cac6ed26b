// Package modelcache resolves model version tokens to loaded predictors.
//
// A token is looked up in process first, then in the remote registry under
// a short timeout, then on local disk. Successful loads are kept for the
// life of the process under the requested token, "latest" included.
// Failures are not remembered, so the next request retries.
package modelcache

import (
	"context"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"github.com/ajitpratap0/gridcast/pkg/model"
	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// DefaultRemoteTimeout bounds a single remote load.
const DefaultRemoteTimeout = 2 * time.Second

// RemoteSource loads a registered model version.
type RemoteSource interface {
	Load(ctx context.Context, name, version string) (model.Predictor, error)
}

// Source reports where a cached predictor came from.
type Source string

const (
	SourceRemote Source = "remote"
	SourceLocal  Source = "local"
)

// Entry is a cached predictor.
type Entry struct {
	Version   string
	Predictor model.Predictor
	Source    Source
	Path      string
	LoadedAt  time.Time
}

// Options configures a Cache.
type Options struct {
	ModelName     string
	Remote        RemoteSource
	Local         *LocalSource
	RemoteTimeout time.Duration
	Logger        *zap.Logger
}

// Cache maps version tokens to predictors. Safe for concurrent use.
type Cache struct {
	mu      sync.RWMutex
	entries map[string]*Entry
	group   singleflight.Group

	name          string
	remote        RemoteSource
	local         *LocalSource
	remoteTimeout time.Duration
	logger        *zap.Logger
}

// New creates a cache. Remote may be nil when no registry is configured.
func New(opts Options) *Cache {
	if opts.Logger == nil {
		opts.Logger = zap.NewNop()
	}
	if opts.RemoteTimeout <= 0 {
		opts.RemoteTimeout = DefaultRemoteTimeout
	}
	if opts.Local == nil {
		opts.Local = NewLocalSource("", "", "")
	}
	return &Cache{
		entries:       make(map[string]*Entry),
		name:          opts.ModelName,
		remote:        opts.Remote,
		local:         opts.Local,
		remoteTimeout: opts.RemoteTimeout,
		logger:        opts.Logger.With(zap.String("component", "model_cache")),
	}
}

// Resolve returns the predictor for version, loading it on a miss.
// Concurrent misses for one token share a single load.
func (c *Cache) Resolve(ctx context.Context, version string) (*Entry, error) {
	if e, ok := c.lookup(version); ok {
		metrics.ModelCacheEvents.WithLabelValues("hit").Inc()
		return e, nil
	}

	// The shared load outlives any single caller; only the remote timeout
	// bounds it, so a disconnecting client cannot force a local fallback.
	loadCtx := context.WithoutCancel(ctx)
	ch := c.group.DoChan(version, func() (interface{}, error) {
		if e, ok := c.lookup(version); ok {
			return e, nil
		}
		e, err := c.load(loadCtx, version)
		if err != nil {
			return nil, err
		}
		c.mu.Lock()
		c.entries[version] = e
		c.mu.Unlock()
		return e, nil
	})

	select {
	case res := <-ch:
		if res.Err != nil {
			metrics.ModelCacheEvents.WithLabelValues("failure").Inc()
			return nil, res.Err
		}
		return res.Val.(*Entry), nil
	case <-ctx.Done():
		return nil, errors.Wrap(ctx.Err(), errors.ErrorTypeTimeout, "model resolution abandoned").
			WithDetail("version", version)
	}
}

func (c *Cache) lookup(version string) (*Entry, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	e, ok := c.entries[version]
	return e, ok
}

func (c *Cache) load(ctx context.Context, version string) (*Entry, error) {
	var remoteErr error
	if c.remote != nil {
		rctx, cancel := context.WithTimeout(ctx, c.remoteTimeout)
		p, err := c.remote.Load(rctx, c.name, version)
		cancel()
		if err == nil {
			metrics.ModelCacheEvents.WithLabelValues("remote").Inc()
			c.logger.Info("model loaded from registry", zap.String("version", version), zap.String("model", c.name))
			return &Entry{Version: version, Predictor: p, Source: SourceRemote, LoadedAt: time.Now()}, nil
		}
		remoteErr = err
		c.logger.Warn("registry load failed, falling back to local model",
			zap.String("version", version),
			zap.Error(err))
	}

	p, path, tried, err := c.local.Load(version)
	if err == nil {
		metrics.ModelCacheEvents.WithLabelValues("local").Inc()
		c.logger.Info("model loaded from disk", zap.String("version", version), zap.String("path", path))
		return &Entry{Version: version, Predictor: p, Source: SourceLocal, Path: path, LoadedAt: time.Now()}, nil
	}

	uerr := errors.Wrap(err, errors.ErrorTypeUnavailable, "model unavailable: version "+version).
		WithDetail("version", version).
		WithDetail("paths_tried", strings.Join(tried, ", "))
	if remoteErr != nil {
		uerr = uerr.WithDetail("remote_error", remoteErr.Error())
	}
	c.logger.Error("model unavailable", zap.String("version", version), zap.Strings("paths_tried", tried), zap.Error(err))
	return nil, uerr
}

// Versions lists the cached tokens.
func (c *Cache) Versions() []string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	out := make([]string, 0, len(c.entries))
	for v := range c.entries {
		out = append(out, v)
	}
	return out
}

// LocalSource loads models from disk.
type LocalSource struct {
	dir         string
	file        string
	defaultPath string
}

// NewLocalSource looks for <dir>/<version>/<file> and then defaultPath.
func NewLocalSource(dir, file, defaultPath string) *LocalSource {
	return &LocalSource{dir: dir, file: file, defaultPath: defaultPath}
}

// Candidates lists the paths tried for version, in order.
func (l *LocalSource) Candidates(version string) []string {
	var out []string
	if l.dir != "" && l.file != "" && version != "" && !strings.ContainsAny(version, `/\`) && version != ".." {
		out = append(out, filepath.Join(l.dir, version, l.file))
	}
	if l.defaultPath != "" {
		out = append(out, l.defaultPath)
	}
	return out
}

// Load returns the first candidate that loads, its path and the paths tried.
func (l *LocalSource) Load(version string) (model.Predictor, string, []string, error) {
	candidates := l.Candidates(version)
	if len(candidates) == 0 {
		return nil, "", nil, errors.New(errors.ErrorTypeConfig, "no local model path configured")
	}
	var lastErr error
	for i, path := range candidates {
		p, err := model.Load(path)
		if err == nil {
			return p, path, candidates[:i+1], nil
		}
		lastErr = err
	}
	return nil, "", candidates, lastErr
}
