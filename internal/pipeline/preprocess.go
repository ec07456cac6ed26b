package pipeline

import (
	"context"
	"math"
	"math/rand"
	"sort"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/features"
	"github.com/ajitpratap0/gridcast/pkg/formats/parquet"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"github.com/ajitpratap0/gridcast/pkg/validation"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

// referenceSeed fixes the reference sample across runs.
const referenceSeed = 42

// TableSource reads an ingested table back from the warehouse.
type TableSource interface {
	ReadTable(ctx context.Context, kind schema.DatasetKind) (*columnar.Frame, error)
}

// DatasetStore keeps the aligned design matrix between stages.
type DatasetStore interface {
	PutDataset(x *columnar.Frame, y []float32) error
	Dataset() (*columnar.Frame, []float32, error)
}

// PreprocessResult describes what a preprocessing run produced.
type PreprocessResult struct {
	Rows          int                 `json:"rows"`
	Features      []string            `json:"features"`
	ArtifactPath  string              `json:"artifact_path"`
	ReferencePath string              `json:"reference_path,omitempty"`
	ReferenceRows int                 `json:"reference_rows"`
	Reports       []validation.Report `json:"validation"`
}

// Preprocessor turns the warehouse tables into the aligned training matrix
// and the fitted alignment artifact.
type Preprocessor struct {
	cfg    config.PreprocessingConfig
	tables TableSource
	store  DatasetStore
	logger *zap.Logger
}

// NewPreprocessor creates a preprocessor.
func NewPreprocessor(cfg config.PreprocessingConfig, tables TableSource, store DatasetStore, logger *zap.Logger) *Preprocessor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Preprocessor{
		cfg:    cfg,
		tables: tables,
		store:  store,
		logger: logger.With(zap.String("component", "preprocessor")),
	}
}

// Run reads, validates, assembles and engineers the training data, writes
// the drift reference sample, fits the aligner and stores X and y. A failed
// validation suite aborts before anything is written.
func (p *Preprocessor) Run(ctx context.Context) (*PreprocessResult, error) {
	energy, building, weather, err := p.readTables(ctx)
	if err != nil {
		return nil, err
	}

	reports, err := validation.NewValidator(p.logger).ValidateIngested(energy, building, weather)
	if err != nil {
		return &PreprocessResult{Reports: reports}, err
	}

	assembler := features.NewAssembler(p.logger,
		features.WithJoinChunks(p.cfg.JoinChunks),
		features.WithFloat16(p.cfg.UseFloat16))
	joined, err := assembler.Process(energy, building, weather)
	if err != nil {
		return nil, err
	}

	engineered, err := features.NewEngineer(p.logger).Engineer(joined)
	if err != nil {
		return nil, err
	}

	res := &PreprocessResult{Reports: reports, ArtifactPath: p.cfg.ArtifactPath}
	if p.cfg.ReferenceDataPath != "" && p.cfg.ReferenceSampleN > 0 {
		n, err := p.writeReference(engineered)
		if err != nil {
			return nil, err
		}
		res.ReferencePath, res.ReferenceRows = p.cfg.ReferenceDataPath, n
	}

	aligner := features.NewAligner(p.logger, features.TargetColumn)
	x, y, err := aligner.Fit(engineered)
	if err != nil {
		return nil, err
	}
	if err := features.SaveArtifact(p.cfg.ArtifactPath, aligner.Artifact()); err != nil {
		return nil, err
	}
	if err := p.store.PutDataset(x, y); err != nil {
		return nil, err
	}

	res.Rows = x.Len()
	res.Features = aligner.Artifact().FeatureColumns
	p.logger.Info("preprocessing complete",
		zap.Int("rows", res.Rows),
		zap.Int("features", len(res.Features)),
		zap.String("artifact", res.ArtifactPath))
	return res, nil
}

func (p *Preprocessor) readTables(ctx context.Context) (energy, building, weather *columnar.Frame, err error) {
	g, gctx := errgroup.WithContext(ctx)
	read := func(kind schema.DatasetKind, dst **columnar.Frame) {
		g.Go(func() error {
			f, err := p.tables.ReadTable(gctx, kind)
			if err != nil {
				return errors.Wrap(err, errors.TypeOf(err), "read "+kind.String())
			}
			p.logger.Info("table loaded", zap.Stringer("dataset", kind), zap.Int("rows", f.Len()))
			*dst = f
			return nil
		})
	}
	read(schema.KindTrain, &energy)
	read(schema.KindBuilding, &building)
	read(schema.KindWeather, &weather)
	if err := g.Wait(); err != nil {
		return nil, nil, nil, err
	}
	return energy, building, weather, nil
}

// writeReference saves a seeded random sample of the engineered frame with
// the target back in meter units, the scale inference logs are kept in.
func (p *Preprocessor) writeReference(f *columnar.Frame) (int, error) {
	idx := sampleRows(f.Len(), p.cfg.ReferenceSampleN, referenceSeed)
	ref := f.Take(idx)
	if col, ok := ref.Column(features.TargetColumn); ok {
		if err := ref.Set(features.TargetColumn, expm1Column(col)); err != nil {
			return 0, err
		}
	}

	if err := parquet.WriteFile(p.cfg.ReferenceDataPath, ref, parquet.DefaultOptions()); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeFile, "write reference sample").WithDetail("path", p.cfg.ReferenceDataPath)
	}
	p.logger.Info("reference sample written", zap.String("path", p.cfg.ReferenceDataPath), zap.Int("rows", ref.Len()))
	return ref.Len(), nil
}

// sampleRows picks min(n, k) distinct row indexes in ascending order.
func sampleRows(n, k int, seed int64) []int {
	if k >= n {
		idx := make([]int, n)
		for i := range idx {
			idx[i] = i
		}
		return idx
	}
	idx := rand.New(rand.NewSource(seed)).Perm(n)[:k] //nolint:gosec // reproducible sample
	sort.Ints(idx)
	return idx
}

func expm1Column(col columnar.Column) columnar.Column {
	out := make([]float32, col.Len())
	for i := range out {
		if col.IsNull(i) {
			out[i] = float32(math.NaN())
			continue
		}
		out[i] = float32(features.InverseTarget(col.Float64(i)))
	}
	return columnar.NewNumericColumn(out)
}
