package columnar

import (
	"bufio"
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"

	"github.com/ajitpratap0/gridcast/pkg/compression"
	"github.com/x448/float16"
)

var frameMagic = []byte("GCF1")

// EncodeFrame serializes a frame column by column and compresses the result
// with alg. The blob is self-describing; DecodeFrame needs no options.
func EncodeFrame(f *Frame, alg compression.Algorithm) ([]byte, error) {
	var buf bytes.Buffer
	buf.Write(frameMagic)
	if err := writeU32(&buf, f.Width()); err != nil {
		return nil, err
	}
	if err := writeU32(&buf, f.Len()); err != nil {
		return nil, err
	}

	for _, name := range f.names {
		if err := writeString(&buf, name); err != nil {
			return nil, err
		}
		col := f.cols[name]
		buf.WriteByte(byte(col.Type()))
		if err := serializeColumn(&buf, col); err != nil {
			return nil, fmt.Errorf("failed to serialize column %q: %w", name, err)
		}
	}

	return compression.Seal(alg, compression.Default, buf.Bytes())
}

// DecodeFrame restores a frame written by EncodeFrame.
func DecodeFrame(blob []byte) (*Frame, error) {
	raw, err := compression.Open(blob)
	if err != nil {
		return nil, err
	}
	r := bufio.NewReader(bytes.NewReader(raw))

	head := make([]byte, len(frameMagic))
	if _, err := io.ReadFull(r, head); err != nil || !bytes.Equal(head, frameMagic) {
		return nil, fmt.Errorf("not a frame blob")
	}
	width, err := readU32(r)
	if err != nil {
		return nil, err
	}
	rows, err := readU32(r)
	if err != nil {
		return nil, err
	}

	f := NewFrame()
	for i := 0; i < width; i++ {
		name, err := readString(r)
		if err != nil {
			return nil, err
		}
		tb, err := r.ReadByte()
		if err != nil {
			return nil, err
		}
		col, err := deserializeColumn(r, ColumnType(tb), rows)
		if err != nil {
			return nil, fmt.Errorf("failed to decode column %q: %w", name, err)
		}
		if err := f.Set(name, col); err != nil {
			return nil, err
		}
	}
	return f, nil
}

func serializeColumn(w io.Writer, col Column) error {
	switch c := col.(type) {
	case *NumericColumn[int8]:
		return binary.Write(w, binary.LittleEndian, c.values)
	case *NumericColumn[int16]:
		return binary.Write(w, binary.LittleEndian, c.values)
	case *NumericColumn[int32]:
		return binary.Write(w, binary.LittleEndian, c.values)
	case *NumericColumn[int64]:
		return binary.Write(w, binary.LittleEndian, c.values)
	case *NumericColumn[float32]:
		return binary.Write(w, binary.LittleEndian, c.values)
	case *NumericColumn[float64]:
		return binary.Write(w, binary.LittleEndian, c.values)
	case *Float16Column:
		bits := make([]uint16, len(c.values))
		for i, v := range c.values {
			bits[i] = v.Bits()
		}
		return binary.Write(w, binary.LittleEndian, bits)
	case *TimestampColumn:
		return binary.Write(w, binary.LittleEndian, c.values)
	case *CategoryColumn:
		if err := writeU32(w, len(c.categories)); err != nil {
			return err
		}
		for _, s := range c.categories {
			if err := writeString(w, s); err != nil {
				return err
			}
		}
		return binary.Write(w, binary.LittleEndian, c.codes)
	case *StringColumn:
		nulls := make([]uint8, len(c.values))
		for i := range c.values {
			if c.nulls.get(i) {
				nulls[i] = 1
			}
		}
		if err := binary.Write(w, binary.LittleEndian, nulls); err != nil {
			return err
		}
		for _, s := range c.values {
			if err := writeString(w, s); err != nil {
				return err
			}
		}
		return nil
	default:
		return fmt.Errorf("unsupported column type: %v", col.Type())
	}
}

func deserializeColumn(r io.Reader, typ ColumnType, n int) (Column, error) {
	switch typ {
	case ColumnTypeInt8:
		return readNumeric[int8](r, n)
	case ColumnTypeInt16:
		return readNumeric[int16](r, n)
	case ColumnTypeInt32:
		return readNumeric[int32](r, n)
	case ColumnTypeInt64:
		return readNumeric[int64](r, n)
	case ColumnTypeFloat32:
		return readNumeric[float32](r, n)
	case ColumnTypeFloat64:
		return readNumeric[float64](r, n)
	case ColumnTypeFloat16:
		bits := make([]uint16, n)
		if err := binary.Read(r, binary.LittleEndian, bits); err != nil {
			return nil, err
		}
		vals := make([]float16.Float16, n)
		for i, b := range bits {
			vals[i] = float16.Frombits(b)
		}
		return NewFloat16Column(vals), nil
	case ColumnTypeTimestamp:
		vals := make([]int64, n)
		if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
			return nil, err
		}
		return NewTimestampColumn(vals), nil
	case ColumnTypeCategory:
		ncat, err := readU32(r)
		if err != nil {
			return nil, err
		}
		c := NewCategoryColumn()
		for i := 0; i < ncat; i++ {
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			c.index[s] = int32(i) //nolint:gosec // bounded by ncat
			c.categories = append(c.categories, s)
		}
		c.codes = make([]int32, n)
		if err := binary.Read(r, binary.LittleEndian, c.codes); err != nil {
			return nil, err
		}
		return c, nil
	case ColumnTypeString:
		nulls := make([]uint8, n)
		if err := binary.Read(r, binary.LittleEndian, nulls); err != nil {
			return nil, err
		}
		c := NewStringColumn(make([]string, 0, n), nil)
		for i := 0; i < n; i++ {
			s, err := readString(r)
			if err != nil {
				return nil, err
			}
			c.Append(s, nulls[i] == 0)
		}
		return c, nil
	default:
		return nil, fmt.Errorf("unsupported column type: %v", typ)
	}
}

func readNumeric[T Number](r io.Reader, n int) (Column, error) {
	vals := make([]T, n)
	if err := binary.Read(r, binary.LittleEndian, vals); err != nil {
		return nil, err
	}
	return NewNumericColumn(vals), nil
}

func writeU32(w io.Writer, v int) error {
	if v < 0 || v > math.MaxUint32 {
		return fmt.Errorf("value %d does not fit in uint32", v)
	}
	return binary.Write(w, binary.LittleEndian, uint32(v))
}

func readU32(r io.Reader) (int, error) {
	var v uint32
	if err := binary.Read(r, binary.LittleEndian, &v); err != nil {
		return 0, err
	}
	return int(v), nil
}

func writeString(w io.Writer, s string) error {
	if err := writeU32(w, len(s)); err != nil {
		return err
	}
	_, err := io.WriteString(w, s)
	return err
}

func readString(r io.Reader) (string, error) {
	n, err := readU32(r)
	if err != nil {
		return "", err
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(r, b); err != nil {
		return "", err
	}
	return string(b), nil
}
