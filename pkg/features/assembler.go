package features

import (
	"math"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"go.uber.org/zap"
)

// DefaultJoinChunks is the number of slices the weather join is split into.
const DefaultJoinChunks = 500

// Assembler joins the energy, building and weather tables into one
// training frame.
type Assembler struct {
	logger     *zap.Logger
	optimizer  *Optimizer
	joinChunks int
	useFloat16 bool
}

// AssemblerOption configures an Assembler.
type AssemblerOption func(*Assembler)

// WithJoinChunks sets how many slices the weather join is split into.
func WithJoinChunks(n int) AssemblerOption {
	return func(a *Assembler) {
		if n > 0 {
			a.joinChunks = n
		}
	}
}

// WithFloat16 lets the final optimization pass use half precision.
func WithFloat16(enabled bool) AssemblerOption {
	return func(a *Assembler) { a.useFloat16 = enabled }
}

// NewAssembler creates an assembler.
func NewAssembler(logger *zap.Logger, opts ...AssemblerOption) *Assembler {
	if logger == nil {
		logger = zap.NewNop()
	}
	a := &Assembler{
		logger:     logger.With(zap.String("component", "assembler")),
		optimizer:  NewOptimizer(logger),
		joinChunks: DefaultJoinChunks,
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// joinCasts are applied after the building join.
var joinCasts = []struct {
	name string
	typ  columnar.ColumnType
}{
	{"building_id", columnar.ColumnTypeInt16},
	{"meter", columnar.ColumnTypeInt8},
	{"site_id", columnar.ColumnTypeInt8},
	{"square_feet", columnar.ColumnTypeInt32},
	{"year_built", columnar.ColumnTypeInt16},
	{"primary_use", columnar.ColumnTypeCategory},
}

// Process consumes the three tables and returns the joined frame.
func (a *Assembler) Process(energy, building, weather *columnar.Frame) (*columnar.Frame, error) {
	a.logger.Info("assembling training frame",
		zap.Int("energy_rows", energy.Len()),
		zap.Int("building_rows", building.Len()),
		zap.Int("weather_rows", weather.Len()))

	energy = a.optimizer.ReduceMemUsage(energy, false)

	train, err := columnar.LeftJoin(energy, building, []string{"building_id"})
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeData, "join building metadata")
	}

	if col, ok := train.Column("year_built"); ok {
		if err := train.Set("year_built", fillNull(col, -1)); err != nil {
			return nil, err
		}
	}
	for _, c := range joinCasts {
		if !train.Has(c.name) {
			continue
		}
		if err := train.Cast(c.name, c.typ); err != nil {
			return nil, err
		}
	}

	weather = a.optimizer.ReduceMemUsage(weather, false)

	chunks := splitRows(train.Len(), a.joinChunks)
	a.logger.Info("joining weather in chunks", zap.Int("chunks", len(chunks)))
	parts := make([]*columnar.Frame, 0, len(chunks))
	for _, c := range chunks {
		merged, err := columnar.LeftJoin(train.Slice(c[0], c[1]), weather, []string{"site_id", "timestamp"})
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "join weather")
		}
		parts = append(parts, merged)
	}
	train = nil

	joined, err := columnar.Concat(parts...)
	if err != nil {
		return nil, err
	}
	if err := joined.RenameAll(schema.SnakeCase); err != nil {
		return nil, err
	}

	joined = a.optimizer.ReduceMemUsage(joined, a.useFloat16)
	a.logger.Info("training frame assembled", zap.Int("rows", joined.Len()), zap.Int("columns", joined.Width()))
	return joined, nil
}

// splitRows splits [0, n) into at most k contiguous ranges whose sizes
// differ by at most one.
func splitRows(n, k int) [][2]int {
	if n == 0 {
		return [][2]int{{0, 0}}
	}
	if k > n {
		k = n
	}
	out := make([][2]int, 0, k)
	base, extra := n/k, n%k
	lo := 0
	for i := 0; i < k; i++ {
		size := base
		if i < extra {
			size++
		}
		out = append(out, [2]int{lo, lo + size})
		lo += size
	}
	return out
}

func fillNull(col columnar.Column, v float64) columnar.Column {
	if !col.Type().IsFloat() {
		return col
	}
	out := make([]float64, col.Len())
	for i := range out {
		x := col.Float64(i)
		if math.IsNaN(x) {
			x = v
		}
		out[i] = x
	}
	filled, err := columnar.Cast(columnar.NewNumericColumn(out), col.Type())
	if err != nil {
		return columnar.NewNumericColumn(out)
	}
	return filled
}
