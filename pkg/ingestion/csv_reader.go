// Package ingestion reads the raw CSV extracts in bounded chunks and
// prepares them for the warehouse.
package ingestion

import (
	"bufio"
	"context"
	"encoding/csv"
	"io"
	"math"
	"os"
	"strconv"
	"strings"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/features"
	"github.com/ajitpratap0/gridcast/pkg/metrics"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"go.uber.org/zap"
)

// DefaultBatchSize is the number of rows per chunk.
const DefaultBatchSize = 500000

// CSVReader streams a CSV file as typed frames. Declared columns are parsed
// to their canonical types; undeclared ones become numbers when every cell
// parses and text otherwise.
type CSVReader struct {
	Path      string
	Kind      schema.DatasetKind
	BatchSize int

	decl      *schema.Declaration
	optimizer *features.Optimizer
	logger    *zap.Logger
}

// NewCSVReader creates a reader for a dataset kind.
func NewCSVReader(path string, kind schema.DatasetKind, batchSize int, logger *zap.Logger) (*CSVReader, error) {
	decl, err := schema.For(kind)
	if err != nil {
		return nil, err
	}
	if batchSize <= 0 {
		batchSize = DefaultBatchSize
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &CSVReader{
		Path:      path,
		Kind:      kind,
		BatchSize: batchSize,
		decl:      decl,
		optimizer: features.NewOptimizer(logger),
		logger:    logger.With(zap.String("component", "csv_reader"), zap.Stringer("dataset", kind)),
	}, nil
}

// ReadChunks calls fn with each memory-optimized chunk in file order. It
// stops at the first error from fn or when ctx is done.
func (r *CSVReader) ReadChunks(ctx context.Context, fn func(chunk *columnar.Frame) error) error {
	file, err := os.Open(r.Path)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeFile, "open source file").WithDetail("path", r.Path)
	}
	defer file.Close()

	r.logger.Info("starting chunked read", zap.String("path", r.Path), zap.Int("batch_size", r.BatchSize))

	reader := csv.NewReader(bufio.NewReaderSize(file, 1<<20))
	reader.FieldsPerRecord = -1
	reader.ReuseRecord = true

	header, err := reader.Read()
	if err != nil {
		if errors.Is(err, io.EOF) {
			return errors.New(errors.ErrorTypeData, "source file is empty").WithDetail("path", r.Path)
		}
		return errors.Wrap(err, errors.ErrorTypeData, "read header").WithDetail("path", r.Path)
	}
	header = append([]string(nil), header...)

	tracker := metrics.NewThroughputTracker("ingestion", r.Kind.String())
	line := 1
	batch := 0
	for {
		if err := ctx.Err(); err != nil {
			return err
		}
		builders := r.newBuilders(header)
		n := 0
		for n < r.BatchSize {
			record, err := reader.Read()
			if errors.Is(err, io.EOF) {
				break
			}
			line++
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "read row").WithDetail("line", line)
			}
			for j, b := range builders {
				cell := ""
				if j < len(record) {
					cell = record[j]
				}
				if err := b.add(cell); err != nil {
					return errors.Wrap(err, errors.ErrorTypeData, "parse cell").
						WithDetail("line", line).
						WithDetail("column", header[j]).
						WithDetail("value", cell)
				}
			}
			n++
		}
		if n == 0 {
			break
		}

		chunk := columnar.NewFrame()
		for j, b := range builders {
			col, err := b.finish()
			if err != nil {
				return errors.Wrap(err, errors.ErrorTypeData, "finish column").WithDetail("column", header[j])
			}
			if err := chunk.Set(header[j], col); err != nil {
				return err
			}
		}
		chunk = r.optimizer.ReduceMemUsage(chunk, false)

		tracker.Increment(int64(n))
		if batch%5 == 0 {
			r.logger.Info("processed batch",
				zap.Int("batch", batch+1),
				zap.Int("rows", line-1),
				zap.Float64("rows_per_sec", tracker.GetAndReset()))
		}
		batch++

		if err := fn(chunk); err != nil {
			return err
		}
		if n < r.BatchSize {
			break
		}
	}
	return nil
}

func (r *CSVReader) newBuilders(header []string) []columnBuilder {
	out := make([]columnBuilder, len(header))
	for j, name := range header {
		typ, ok := r.decl.TypeOf(name)
		if !ok {
			typ, ok = r.decl.TypeOf(schema.SnakeCase(name))
		}
		switch {
		case !ok:
			out[j] = &inferBuilder{}
		case typ.IsNumeric():
			out[j] = &numberBuilder{typ: typ}
		case typ == columnar.ColumnTypeTimestamp:
			out[j] = &timestampBuilder{}
		default:
			out[j] = &labelBuilder{col: columnar.NewCategoryColumn()}
		}
	}
	return out
}

type columnBuilder interface {
	add(cell string) error
	finish() (columnar.Column, error)
}

// numberBuilder parses into float64 and narrows to the declared type at the
// end. An integer column with empty cells stays float64 so it can hold NaN.
type numberBuilder struct {
	typ    columnar.ColumnType
	values []float64
	nulls  int
}

func (b *numberBuilder) add(cell string) error {
	cell = strings.TrimSpace(cell)
	if cell == "" {
		b.values = append(b.values, math.NaN())
		b.nulls++
		return nil
	}
	v, err := strconv.ParseFloat(cell, 64)
	if err != nil {
		return err
	}
	b.values = append(b.values, v)
	return nil
}

func (b *numberBuilder) finish() (columnar.Column, error) {
	col := columnar.NewNumericColumn(b.values)
	if b.typ.IsInteger() && b.nulls > 0 {
		return col, nil
	}
	return columnar.Cast(col, b.typ)
}

type timestampBuilder struct {
	values []int64
}

func (b *timestampBuilder) add(cell string) error {
	if strings.TrimSpace(cell) == "" {
		b.values = append(b.values, columnar.NaT)
		return nil
	}
	t, err := columnar.ParseTimestamp(cell)
	if err != nil {
		return err
	}
	b.values = append(b.values, t.UnixNano())
	return nil
}

func (b *timestampBuilder) finish() (columnar.Column, error) {
	return columnar.NewTimestampColumn(b.values), nil
}

type labelBuilder struct {
	col *columnar.CategoryColumn
}

func (b *labelBuilder) add(cell string) error {
	cell = strings.TrimSpace(cell)
	b.col.Append(cell, cell != "")
	return nil
}

func (b *labelBuilder) finish() (columnar.Column, error) { return b.col, nil }

// inferBuilder keeps cells as text until the chunk is complete.
type inferBuilder struct {
	values []string
	valid  []bool
}

func (b *inferBuilder) add(cell string) error {
	cell = strings.TrimSpace(cell)
	b.values = append(b.values, cell)
	b.valid = append(b.valid, cell != "")
	return nil
}

func (b *inferBuilder) finish() (columnar.Column, error) {
	text := columnar.NewStringColumn(b.values, b.valid)
	if num, err := columnar.Cast(text, columnar.ColumnTypeFloat64); err == nil {
		return num, nil
	}
	return text, nil
}
