package pipeline

import (
	"context"
	"sync"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// ChunkSource yields frames in order until the input is exhausted.
type ChunkSource interface {
	ReadChunks(ctx context.Context, fn func(chunk *columnar.Frame) error) error
}

// ChunkSink persists transformed frames. WriteChunk returns the rows written.
type ChunkSink interface {
	WriteChunk(ctx context.Context, f *columnar.Frame) (int, error)
}

// ChunkTransform converts one chunk. It must be safe for concurrent use.
type ChunkTransform func(chunk *columnar.Frame) (*columnar.Frame, error)

// ChunkStats summarizes a finished run.
type ChunkStats struct {
	Chunks   int64
	Rows     int64
	Retries  int64
	Duration time.Duration
}

// ChunkPipeline streams chunks from a source through a pool of transform
// workers into a single writer. Chunks may reach the sink out of order.
//
// The pipeline consists of three stages:
//  1. Reader: pulls chunks from the source
//  2. Workers: apply the transform concurrently
//  3. Writer: hands each transformed chunk to the sink, retrying transient
//     failures with exponential backoff
//
// The first error cancels every stage and is returned by Run.
type ChunkPipeline struct {
	dataset   string
	source    ChunkSource
	transform ChunkTransform
	sink      ChunkSink
	logger    *zap.Logger

	workerCount  int
	bufferSize   int
	maxRetries   int
	retryBackoff time.Duration

	mu    sync.Mutex
	stats ChunkStats
}

// ChunkOption configures a ChunkPipeline.
type ChunkOption func(*ChunkPipeline)

// WithWorkers sets the number of transform workers.
func WithWorkers(n int) ChunkOption {
	return func(p *ChunkPipeline) {
		if n > 0 {
			p.workerCount = n
		}
	}
}

// WithBufferSize sets the capacity of the channels between stages.
func WithBufferSize(n int) ChunkOption {
	return func(p *ChunkPipeline) {
		if n > 0 {
			p.bufferSize = n
		}
	}
}

// WithRetry retries sink writes that fail with a retryable error up to
// attempts times, doubling backoff after each attempt.
func WithRetry(attempts int, backoff time.Duration) ChunkOption {
	return func(p *ChunkPipeline) {
		p.maxRetries = attempts
		p.retryBackoff = backoff
	}
}

// NewChunkPipeline creates a pipeline for one dataset. A nil transform
// passes chunks through unchanged.
func NewChunkPipeline(dataset string, source ChunkSource, transform ChunkTransform, sink ChunkSink, logger *zap.Logger, opts ...ChunkOption) *ChunkPipeline {
	if logger == nil {
		logger = zap.NewNop()
	}
	if transform == nil {
		transform = func(f *columnar.Frame) (*columnar.Frame, error) { return f, nil }
	}
	p := &ChunkPipeline{
		dataset:      dataset,
		source:       source,
		transform:    transform,
		sink:         sink,
		logger:       logger.With(zap.String("component", "chunk_pipeline"), zap.String("dataset", dataset)),
		workerCount:  2,
		bufferSize:   2,
		maxRetries:   3,
		retryBackoff: 200 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

type sequencedChunk struct {
	seq   int
	frame *columnar.Frame
}

// Run executes the pipeline to completion.
func (p *ChunkPipeline) Run(ctx context.Context) (ChunkStats, error) {
	start := time.Now()
	p.logger.Info("starting chunk pipeline",
		zap.Int("workers", p.workerCount),
		zap.Int("buffer_size", p.bufferSize))

	g, ctx := errgroup.WithContext(ctx)
	chunks := make(chan sequencedChunk, p.bufferSize)
	transformed := make(chan sequencedChunk, p.bufferSize)

	g.Go(func() error {
		defer close(chunks)
		return p.readSource(ctx, chunks)
	})

	var workers sync.WaitGroup
	for i := 0; i < p.workerCount; i++ {
		workers.Add(1)
		workerID := i
		g.Go(func() error {
			defer workers.Done()
			return p.transformWorker(ctx, workerID, chunks, transformed)
		})
	}
	g.Go(func() error {
		workers.Wait()
		close(transformed)
		return nil
	})

	g.Go(func() error {
		return p.writeSink(ctx, transformed)
	})

	err := g.Wait()

	p.mu.Lock()
	p.stats.Duration = time.Since(start)
	stats := p.stats
	p.mu.Unlock()

	if err != nil {
		p.logger.Error("chunk pipeline failed", zap.Error(err), zap.Int64("rows_written", stats.Rows))
		return stats, err
	}
	p.logger.Info("chunk pipeline finished",
		zap.Int64("chunks", stats.Chunks),
		zap.Int64("rows", stats.Rows),
		zap.Duration("duration", stats.Duration))
	return stats, nil
}

func (p *ChunkPipeline) readSource(ctx context.Context, out chan<- sequencedChunk) error {
	seq := 0
	return p.source.ReadChunks(ctx, func(chunk *columnar.Frame) error {
		select {
		case out <- sequencedChunk{seq: seq, frame: chunk}:
			seq++
			return nil
		case <-ctx.Done():
			return ctx.Err()
		}
	})
}

func (p *ChunkPipeline) transformWorker(ctx context.Context, id int, in <-chan sequencedChunk, out chan<- sequencedChunk) error {
	logger := p.logger.With(zap.Int("worker_id", id))
	for c := range in {
		f, err := p.transform(c.frame)
		if err != nil {
			return errors.Wrap(err, errors.TypeOf(err), "transform chunk").
				WithDetail("dataset", p.dataset).
				WithDetail("chunk", c.seq)
		}
		logger.Debug("chunk transformed", zap.Int("chunk", c.seq), zap.Int("rows", f.Len()))
		select {
		case out <- sequencedChunk{seq: c.seq, frame: f}:
		case <-ctx.Done():
			return ctx.Err()
		}
	}
	return nil
}

func (p *ChunkPipeline) writeSink(ctx context.Context, in <-chan sequencedChunk) error {
	tracker := metrics.NewThroughputTracker("ingestion", p.dataset)
	defer tracker.GetAndReset()

	for {
		select {
		case c, ok := <-in:
			if !ok {
				return nil
			}
			n, err := p.writeWithRetry(ctx, c)
			if err != nil {
				return err
			}
			tracker.Increment(int64(n))
			p.mu.Lock()
			p.stats.Chunks++
			p.stats.Rows += int64(n)
			p.mu.Unlock()
			p.logger.Debug("chunk written", zap.Int("chunk", c.seq), zap.Int("rows", n))
		case <-ctx.Done():
			return ctx.Err()
		}
	}
}

func (p *ChunkPipeline) writeWithRetry(ctx context.Context, c sequencedChunk) (int, error) {
	delay := p.retryBackoff
	for attempt := 0; ; attempt++ {
		n, err := p.sink.WriteChunk(ctx, c.frame)
		if err == nil {
			return n, nil
		}
		if attempt >= p.maxRetries || !errors.IsRetryable(err) {
			return n, errors.Wrap(err, errors.TypeOf(err), "write chunk").
				WithDetail("dataset", p.dataset).
				WithDetail("chunk", c.seq).
				WithDetail("attempts", attempt+1)
		}

		p.logger.Warn("retrying chunk write",
			zap.Int("chunk", c.seq),
			zap.Int("attempt", attempt+1),
			zap.Duration("backoff", delay),
			zap.Error(err))
		p.mu.Lock()
		p.stats.Retries++
		p.mu.Unlock()

		select {
		case <-time.After(delay):
		case <-ctx.Done():
			return 0, ctx.Err()
		}
		delay *= 2
	}
}
