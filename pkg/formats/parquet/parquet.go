// Package parquet converts columnar frames to and from Apache Parquet using
// arrow-go. It backs the drift reference sample and the training matrices.
package parquet

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"math"
	"os"
	"path/filepath"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/apache/arrow-go/v18/arrow"
	"github.com/apache/arrow-go/v18/arrow/array"
	"github.com/apache/arrow-go/v18/arrow/memory"
	"github.com/apache/arrow-go/v18/parquet"
	"github.com/apache/arrow-go/v18/parquet/compress"
	"github.com/apache/arrow-go/v18/parquet/file"
	"github.com/apache/arrow-go/v18/parquet/pqarrow"
	"github.com/goccy/go-json"
)

// typesKey holds the frame's column types in the file metadata so that
// narrow types (float16, category) survive a round trip.
const typesKey = "gridcast.column_types"

// Options configures the writer.
type Options struct {
	// Compression is one of snappy, zstd, gzip or none.
	Compression string
	// BatchRows bounds the rows buffered per Arrow record.
	BatchRows int
}

// DefaultOptions returns zstd compression with 256k row batches.
func DefaultOptions() Options {
	return Options{Compression: "zstd", BatchRows: 256 * 1024}
}

func codec(name string) (compress.Compression, error) {
	switch name {
	case "", "snappy":
		return compress.Codecs.Snappy, nil
	case "zstd":
		return compress.Codecs.Zstd, nil
	case "gzip":
		return compress.Codecs.Gzip, nil
	case "none":
		return compress.Codecs.Uncompressed, nil
	default:
		return compress.Codecs.Uncompressed, fmt.Errorf("unsupported parquet compression %q", name)
	}
}

func arrowType(t columnar.ColumnType) arrow.DataType {
	switch t {
	case columnar.ColumnTypeInt8:
		return arrow.PrimitiveTypes.Int8
	case columnar.ColumnTypeInt16:
		return arrow.PrimitiveTypes.Int16
	case columnar.ColumnTypeInt32:
		return arrow.PrimitiveTypes.Int32
	case columnar.ColumnTypeInt64:
		return arrow.PrimitiveTypes.Int64
	case columnar.ColumnTypeFloat16, columnar.ColumnTypeFloat32:
		return arrow.PrimitiveTypes.Float32
	case columnar.ColumnTypeFloat64:
		return arrow.PrimitiveTypes.Float64
	case columnar.ColumnTypeTimestamp:
		return &arrow.TimestampType{Unit: arrow.Microsecond, TimeZone: "UTC"}
	default:
		return arrow.BinaryTypes.String
	}
}

// Write encodes f as a Parquet file.
func Write(w io.Writer, f *columnar.Frame, opts Options) error {
	comp, err := codec(opts.Compression)
	if err != nil {
		return err
	}
	if opts.BatchRows <= 0 {
		opts.BatchRows = DefaultOptions().BatchRows
	}

	names := f.Names()
	cols := f.Columns()
	fields := make([]arrow.Field, len(names))
	types := make(map[string]string, len(names))
	for i, name := range names {
		fields[i] = arrow.Field{Name: name, Type: arrowType(cols[i].Type()), Nullable: true}
		types[name] = cols[i].Type().String()
	}
	typesJSON, err := json.Marshal(types)
	if err != nil {
		return err
	}
	md := arrow.NewMetadata([]string{typesKey}, []string{string(typesJSON)})
	schema := arrow.NewSchema(fields, &md)

	mem := memory.NewGoAllocator()
	props := parquet.NewWriterProperties(
		parquet.WithCompression(comp),
		parquet.WithDictionaryDefault(true),
		parquet.WithAllocator(mem),
	)
	arrowProps := pqarrow.NewArrowWriterProperties(
		pqarrow.WithAllocator(mem),
		pqarrow.WithStoreSchema(),
	)

	fw, err := pqarrow.NewFileWriter(schema, w, props, arrowProps)
	if err != nil {
		return fmt.Errorf("failed to create Parquet writer: %w", err)
	}

	rb := array.NewRecordBuilder(mem, schema)
	defer rb.Release()

	// An empty frame still writes one empty batch so the schema lands.
	for lo := 0; ; lo += opts.BatchRows {
		hi := min(lo+opts.BatchRows, f.Len())
		for i, col := range cols {
			if err := appendRange(rb.Field(i), col, lo, hi); err != nil {
				_ = fw.Close()
				return fmt.Errorf("failed to append column %s: %w", names[i], err)
			}
		}
		rec := rb.NewRecord()
		err := fw.WriteBuffered(rec)
		rec.Release()
		if err != nil {
			_ = fw.Close()
			return fmt.Errorf("failed to write record batch: %w", err)
		}
		if hi >= f.Len() {
			break
		}
	}

	if err := fw.Close(); err != nil {
		return fmt.Errorf("failed to close Parquet writer: %w", err)
	}
	return nil
}

func appendRange(b array.Builder, col columnar.Column, lo, hi int) error {
	switch bb := b.(type) {
	case *array.Int8Builder:
		for i := lo; i < hi; i++ {
			bb.Append(int8(col.Float64(i)))
		}
	case *array.Int16Builder:
		for i := lo; i < hi; i++ {
			bb.Append(int16(col.Float64(i)))
		}
	case *array.Int32Builder:
		for i := lo; i < hi; i++ {
			bb.Append(int32(col.Float64(i)))
		}
	case *array.Int64Builder:
		vals := col.(*columnar.NumericColumn[int64]).Values()
		bb.AppendValues(vals[lo:hi], nil)
	case *array.Float32Builder:
		for i := lo; i < hi; i++ {
			if col.IsNull(i) {
				bb.AppendNull()
				continue
			}
			bb.Append(float32(col.Float64(i)))
		}
	case *array.Float64Builder:
		for i := lo; i < hi; i++ {
			if col.IsNull(i) {
				bb.AppendNull()
				continue
			}
			bb.Append(col.Float64(i))
		}
	case *array.TimestampBuilder:
		ts := col.(*columnar.TimestampColumn).Values()
		for i := lo; i < hi; i++ {
			if ts[i] == columnar.NaT {
				bb.AppendNull()
				continue
			}
			bb.Append(arrow.Timestamp(ts[i] / int64(time.Microsecond)))
		}
	case *array.StringBuilder:
		for i := lo; i < hi; i++ {
			s, ok := col.Text(i)
			if !ok {
				bb.AppendNull()
				continue
			}
			bb.Append(s)
		}
	default:
		return fmt.Errorf("unsupported builder type: %T", b)
	}
	return nil
}

// WriteFile writes f to path, creating parent directories.
func WriteFile(path string, f *columnar.Frame, opts Options) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return err
	}
	tmp := path + ".tmp"
	out, err := os.Create(tmp) //nolint:gosec // path comes from configuration
	if err != nil {
		return err
	}
	if err := Write(out, f, opts); err != nil {
		_ = out.Close()
		_ = os.Remove(tmp)
		return err
	}
	if err := out.Close(); err != nil {
		_ = os.Remove(tmp)
		return err
	}
	return os.Rename(tmp, path)
}

// Encode returns f as Parquet bytes.
func Encode(f *columnar.Frame, opts Options) ([]byte, error) {
	var buf bytes.Buffer
	if err := Write(&buf, f, opts); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

// Decode reads a frame from Parquet bytes.
func Decode(data []byte) (*columnar.Frame, error) {
	return Read(context.Background(), bytes.NewReader(data))
}

// ReadFile reads a frame from a Parquet file.
func ReadFile(ctx context.Context, path string) (*columnar.Frame, error) {
	in, err := os.Open(path) //nolint:gosec // path comes from configuration
	if err != nil {
		return nil, err
	}
	defer in.Close()
	return Read(ctx, in)
}

// Read decodes a Parquet file into a frame.
func Read(ctx context.Context, r parquet.ReaderAtSeeker) (*columnar.Frame, error) {
	fr, err := file.NewParquetReader(r)
	if err != nil {
		return nil, fmt.Errorf("failed to create Parquet reader: %w", err)
	}
	defer fr.Close()

	mem := memory.NewGoAllocator()
	arrowReader, err := pqarrow.NewFileReader(fr, pqarrow.ArrowReadProperties{}, mem)
	if err != nil {
		return nil, fmt.Errorf("failed to create Arrow reader: %w", err)
	}

	tbl, err := arrowReader.ReadTable(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to read Parquet table: %w", err)
	}
	defer tbl.Release()

	declared := map[string]string{}
	schema := tbl.Schema()
	if idx := schema.Metadata().FindKey(typesKey); idx >= 0 {
		_ = json.Unmarshal([]byte(schema.Metadata().Values()[idx]), &declared)
	}

	out := columnar.NewFrame()
	for i := 0; i < int(tbl.NumCols()); i++ {
		field := schema.Field(i)
		col, err := fromChunks(tbl.Column(i).Data().Chunks())
		if err != nil {
			return nil, fmt.Errorf("column %s: %w", field.Name, err)
		}
		if name, ok := declared[field.Name]; ok {
			if want, err := columnar.ParseColumnType(name); err == nil && want != col.Type() {
				if col, err = columnar.Cast(col, want); err != nil {
					return nil, fmt.Errorf("column %s: %w", field.Name, err)
				}
			}
		}
		if err := out.Set(field.Name, col); err != nil {
			return nil, err
		}
	}
	return out, nil
}

func fromChunks(chunks []arrow.Array) (columnar.Column, error) {
	if len(chunks) == 0 {
		// Cast from an empty string column yields an empty column of any type.
		return columnar.NewStringColumn(nil, nil), nil
	}
	nulls := 0
	total := 0
	for _, c := range chunks {
		nulls += c.NullN()
		total += c.Len()
	}

	switch chunks[0].(type) {
	case *array.Int8, *array.Int16, *array.Int32, *array.Int64, *array.Uint8, *array.Uint16, *array.Uint32:
		if nulls > 0 {
			return floats64(chunks, total), nil
		}
		return ints(chunks, total)
	case *array.Float32:
		vals := make([]float32, 0, total)
		nan32 := float32(math.NaN())
		for _, c := range chunks {
			a := c.(*array.Float32)
			for i := 0; i < a.Len(); i++ {
				if a.IsNull(i) {
					vals = append(vals, nan32)
					continue
				}
				vals = append(vals, a.Value(i))
			}
		}
		return columnar.NewNumericColumn(vals), nil
	case *array.Float64:
		return floats64(chunks, total), nil
	case *array.Boolean:
		vals := make([]int8, 0, total)
		for _, c := range chunks {
			a := c.(*array.Boolean)
			for i := 0; i < a.Len(); i++ {
				var v int8
				if a.Value(i) {
					v = 1
				}
				vals = append(vals, v)
			}
		}
		return columnar.NewNumericColumn(vals), nil
	case *array.String:
		out := columnar.NewStringColumn(make([]string, 0, total), nil)
		for _, c := range chunks {
			a := c.(*array.String)
			for i := 0; i < a.Len(); i++ {
				out.Append(a.Value(i), !a.IsNull(i))
			}
		}
		return out, nil
	case *array.Timestamp:
		vals := make([]int64, 0, total)
		for _, c := range chunks {
			a := c.(*array.Timestamp)
			unit := a.DataType().(*arrow.TimestampType).Unit
			for i := 0; i < a.Len(); i++ {
				if a.IsNull(i) {
					vals = append(vals, columnar.NaT)
					continue
				}
				vals = append(vals, a.Value(i).ToTime(unit).UnixNano())
			}
		}
		return columnar.NewTimestampColumn(vals), nil
	default:
		return nil, fmt.Errorf("unsupported arrow type %s", chunks[0].DataType())
	}
}

func intAt(a arrow.Array, i int) int64 {
	switch v := a.(type) {
	case *array.Int8:
		return int64(v.Value(i))
	case *array.Int16:
		return int64(v.Value(i))
	case *array.Int32:
		return int64(v.Value(i))
	case *array.Int64:
		return v.Value(i)
	case *array.Uint8:
		return int64(v.Value(i))
	case *array.Uint16:
		return int64(v.Value(i))
	case *array.Uint32:
		return int64(v.Value(i))
	default:
		return 0
	}
}

func ints(chunks []arrow.Array, total int) (columnar.Column, error) {
	vals := make([]int64, 0, total)
	for _, c := range chunks {
		for i := 0; i < c.Len(); i++ {
			vals = append(vals, intAt(c, i))
		}
	}
	col := columnar.NewNumericColumn(vals)
	switch chunks[0].(type) {
	case *array.Int8:
		return columnar.Cast(col, columnar.ColumnTypeInt8)
	case *array.Int16, *array.Uint8:
		return columnar.Cast(col, columnar.ColumnTypeInt16)
	case *array.Int32, *array.Uint16:
		return columnar.Cast(col, columnar.ColumnTypeInt32)
	default:
		return col, nil
	}
}

func floats64(chunks []arrow.Array, total int) columnar.Column {
	vals := make([]float64, 0, total)
	for _, c := range chunks {
		for i := 0; i < c.Len(); i++ {
			if c.IsNull(i) {
				vals = append(vals, math.NaN())
				continue
			}
			if f, ok := c.(*array.Float64); ok {
				vals = append(vals, f.Value(i))
				continue
			}
			vals = append(vals, float64(intAt(c, i)))
		}
	}
	return columnar.NewNumericColumn(vals)
}
