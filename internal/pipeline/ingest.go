package pipeline

import (
	"context"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/ingestion"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"github.com/ajitpratap0/gridcast/pkg/warehouse"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// Ingestion outcome of one file.
const (
	StatusSuccess = "SUCCESS"
	StatusFailed  = "FAILED"
)

// IngestionMetrics reports how one source file was loaded.
type IngestionMetrics struct {
	Entity  string  `json:"entity"`
	Table   string  `json:"table"`
	Rows    int64   `json:"rows"`
	Seconds float64 `json:"seconds"`
	Status  string  `json:"status"`
	Error   string  `json:"error,omitempty"`
}

// IngestTarget is the warehouse surface ingestion writes to.
type IngestTarget interface {
	EnsureTables(ctx context.Context, tables ...schema.Table) error
	Truncate(ctx context.Context, table string) error
	Sink(t schema.Table) ChunkSink
}

// WarehouseTarget adapts a warehouse client to IngestTarget.
type WarehouseTarget struct {
	*warehouse.Client
}

// Sink returns a staging writer for t.
func (w WarehouseTarget) Sink(t schema.Table) ChunkSink { return w.NewStagingWriter(t) }

// SourceFactory opens a chunked reader for one file.
type SourceFactory func(file config.SourceFile, kind schema.DatasetKind) (ChunkSource, error)

// Ingester loads every configured CSV file into its warehouse table.
type Ingester struct {
	cfg          config.IngestionConfig
	target       IngestTarget
	logger       *zap.Logger
	openSource   SourceFactory
	chunkWorkers int
	transformOps []ingestion.TransformerOption
}

// IngesterOption configures an Ingester.
type IngesterOption func(*Ingester)

// WithSourceFactory replaces the CSV reader, mostly for tests.
func WithSourceFactory(fn SourceFactory) IngesterOption {
	return func(i *Ingester) { i.openSource = fn }
}

// WithChunkWorkers sets the transform workers used per file.
func WithChunkWorkers(n int) IngesterOption {
	return func(i *Ingester) {
		if n > 0 {
			i.chunkWorkers = n
		}
	}
}

// WithTransformerOptions passes options to every transformer.
func WithTransformerOptions(opts ...ingestion.TransformerOption) IngesterOption {
	return func(i *Ingester) { i.transformOps = append(i.transformOps, opts...) }
}

// NewIngester creates an ingester.
func NewIngester(cfg config.IngestionConfig, target IngestTarget, logger *zap.Logger, opts ...IngesterOption) *Ingester {
	if logger == nil {
		logger = zap.NewNop()
	}
	i := &Ingester{
		cfg:          cfg,
		target:       target,
		logger:       logger.With(zap.String("component", "ingester")),
		chunkWorkers: 2,
	}
	i.openSource = func(file config.SourceFile, kind schema.DatasetKind) (ChunkSource, error) {
		r, err := ingestion.NewCSVReader(file.Path, kind, cfg.BatchSize, i.logger)
		if err != nil {
			return nil, err
		}
		return r, nil
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

type plannedFile struct {
	file  config.SourceFile
	kind  schema.DatasetKind
	table schema.Table
}

// Run ingests all files, at most cfg.Workers at a time. A failing file does
// not stop the others; its metrics carry StatusFailed and Run returns a data
// error naming every failed file after all of them finished.
func (i *Ingester) Run(ctx context.Context) ([]IngestionMetrics, error) {
	results := make([]IngestionMetrics, len(i.cfg.Files))
	var plans []plannedFile
	var planIdx []int
	for idx, file := range i.cfg.Files {
		p, err := plan(file)
		if err != nil {
			results[idx] = IngestionMetrics{Entity: file.Name, Table: file.Table, Status: StatusFailed, Error: err.Error()}
			i.logger.Error("cannot ingest file", zap.String("entity", file.Name), zap.Error(err))
			continue
		}
		plans = append(plans, p)
		planIdx = append(planIdx, idx)
	}

	tables := make([]schema.Table, 0, len(plans)+1)
	for _, p := range plans {
		tables = append(tables, p.table)
	}
	if inference, err := schema.TableFor(schema.KindInference); err == nil {
		tables = append(tables, inference)
	}
	if err := i.target.EnsureTables(ctx, tables...); err != nil {
		return nil, err
	}

	g, gctx := errgroup.WithContext(ctx)
	if i.cfg.Workers > 0 {
		g.SetLimit(i.cfg.Workers)
	}
	var mu sync.Mutex
	for k, p := range plans {
		idx, p := planIdx[k], p
		g.Go(func() error {
			m := i.ingestFile(gctx, p)
			mu.Lock()
			results[idx] = m
			mu.Unlock()
			return nil
		})
	}
	_ = g.Wait()

	if err := ctx.Err(); err != nil {
		return results, errors.Wrap(err, errors.ErrorTypeTimeout, "ingestion cancelled")
	}

	var failed []string
	var rows int64
	for _, m := range results {
		rows += m.Rows
		if m.Status != StatusSuccess {
			failed = append(failed, m.Entity)
		}
	}
	i.logger.Info("ingestion summary", zap.Int("files", len(results)), zap.Int("failed", len(failed)), zap.Int64("rows", rows))
	if len(failed) > 0 {
		sort.Strings(failed)
		return results, errors.Newf(errors.ErrorTypeData, "ingestion failed for: %s", strings.Join(failed, ", ")).
			WithDetail("files", failed)
	}
	return results, nil
}

func plan(file config.SourceFile) (plannedFile, error) {
	kind, err := schema.ParseDatasetKind(file.Name)
	if err != nil {
		return plannedFile{}, errors.Wrap(err, errors.ErrorTypeConfig, "resolve dataset")
	}
	table, err := schema.TableFor(kind)
	if err != nil {
		return plannedFile{}, err
	}
	if file.Table != "" {
		table.Name = file.Table
	}
	return plannedFile{file: file, kind: kind, table: table}, nil
}

func (i *Ingester) ingestFile(ctx context.Context, p plannedFile) IngestionMetrics {
	start := time.Now()
	log := i.logger.With(zap.String("entity", p.file.Name), zap.String("table", p.table.Name))
	m := IngestionMetrics{Entity: p.file.Name, Table: p.table.Name, Status: StatusFailed}

	rows, err := i.load(ctx, p, log)
	m.Rows = rows
	m.Seconds = time.Since(start).Seconds()
	if err != nil {
		m.Error = err.Error()
		log.Error("ingestion failed", zap.Float64("seconds", m.Seconds), zap.Error(err))
		return m
	}
	m.Status = StatusSuccess
	log.Info("ingestion complete", zap.Int64("rows", rows), zap.Float64("seconds", m.Seconds))
	return m
}

func (i *Ingester) load(ctx context.Context, p plannedFile, log *zap.Logger) (int64, error) {
	// Truncating first makes a rerun replace the table instead of appending.
	if err := i.target.Truncate(ctx, p.table.Name); err != nil {
		return 0, err
	}
	src, err := i.openSource(p.file, p.kind)
	if err != nil {
		return 0, err
	}
	tr, err := ingestion.NewTransformer(p.kind, log, i.transformOps...)
	if err != nil {
		return 0, err
	}

	cp := NewChunkPipeline(p.file.Name, src, tr.Transform, i.target.Sink(p.table), log, WithWorkers(i.chunkWorkers))
	stats, err := cp.Run(ctx)
	return stats.Rows, err
}
