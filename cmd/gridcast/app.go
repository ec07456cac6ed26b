package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/logger"
	"github.com/ajitpratap0/gridcast/pkg/matrixstore"
	"github.com/ajitpratap0/gridcast/pkg/modelcache"
	"github.com/ajitpratap0/gridcast/pkg/observability"
	"github.com/ajitpratap0/gridcast/pkg/registry"
	"github.com/ajitpratap0/gridcast/pkg/warehouse"
	"github.com/goccy/go-json"
	"go.uber.org/zap"
)

type rootOptions struct {
	configPath string
	logLevel   string
}

// app holds the loaded configuration and the clients a command opened.
type app struct {
	cfg     *config.PipelineConfig
	log     *zap.Logger
	closers []func() error
}

func newApp(opts *rootOptions, command string) (*app, error) {
	cfg := config.Defaults()
	if err := config.Load(opts.configPath, cfg); err != nil {
		return nil, err
	}
	if opts.logLevel != "" {
		cfg.Logging.Level = opts.logLevel
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if err := logger.Init(cfg.Logging); err != nil {
		return nil, err
	}

	obs := observability.DefaultConfig()
	obs.Enabled = cfg.Tracing.Enabled
	obs.ServiceName = cfg.Tracing.ServiceName
	obs.ServiceVersion = version
	obs.Environment = cfg.Tracing.Environment
	obs.SamplingRate = cfg.Tracing.SampleRate
	if err := observability.Initialize(obs); err != nil {
		return nil, err
	}

	a := &app{
		cfg: cfg,
		log: logger.Get().With(zap.String("component", "gridcast-cli"), zap.String("command", command)),
	}
	a.log.Debug("configuration loaded", zap.String("path", opts.configPath))
	return a, nil
}

func (a *app) onClose(fn func() error) { a.closers = append(a.closers, fn) }

// Close releases clients in reverse order and flushes tracing and logs.
func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			a.log.Warn("close failed", zap.Error(err))
		}
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := observability.Shutdown(ctx); err != nil {
		a.log.Warn("tracing shutdown failed", zap.Error(err))
	}
	_ = logger.Sync()
}

func (a *app) warehouse(ctx context.Context) (*warehouse.Client, error) {
	wh, err := warehouse.Open(ctx, a.cfg.DB, a.log)
	if err != nil {
		return nil, err
	}
	a.onClose(wh.Close)
	return wh, nil
}

func (a *app) matrixStore() (*matrixstore.Store, error) {
	store, err := matrixstore.Open(a.cfg.Preprocessing.MatrixStorePath, a.log,
		matrixstore.WithCodec(a.cfg.Preprocessing.MatrixCodec))
	if err != nil {
		return nil, err
	}
	a.onClose(store.Close)
	return store, nil
}

// artifactStore returns nil when artifacts are disabled.
func (a *app) artifactStore(ctx context.Context) (*registry.S3Store, error) {
	if !a.cfg.Artifacts.Enabled {
		return nil, nil
	}
	return registry.NewS3Store(ctx, a.cfg.Artifacts, a.log)
}

// tracking returns nil when MLflow is disabled.
func (a *app) tracking(ctx context.Context) (*registry.MLflowClient, error) {
	if !a.cfg.MLflow.Enabled {
		return nil, nil
	}
	s3, err := a.artifactStore(ctx)
	if err != nil {
		return nil, err
	}
	client := registry.NewMLflowClient(a.cfg.MLflow, s3, a.log)
	a.onClose(client.Close)
	return client, nil
}

// modelCache builds the registry, then local disk, lookup used for serving.
func (a *app) modelCache(ctx context.Context) (*modelcache.Cache, error) {
	opts := modelcache.Options{
		ModelName:     a.cfg.MLflow.ModelName,
		Local:         modelcache.NewLocalSource(a.cfg.Serving.LocalModelDir, a.cfg.Serving.ModelFile, a.cfg.Serving.DefaultModelPath()),
		RemoteTimeout: a.cfg.Serving.RemoteTimeout,
		Logger:        a.log,
	}
	client, err := a.tracking(ctx)
	if err != nil {
		return nil, err
	}
	if client != nil {
		opts.Remote = client
	}
	return modelcache.New(opts), nil
}

func printJSON(v interface{}) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	if err := enc.Encode(v); err != nil {
		return fmt.Errorf("failed to print result: %w", err)
	}
	return nil
}
