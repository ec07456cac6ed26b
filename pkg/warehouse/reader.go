package warehouse

import (
	"context"
	"database/sql"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"go.uber.org/zap"
)

// rowSource is the part of *sql.Rows the reader needs.
type rowSource interface {
	Next() bool
	Scan(dest ...interface{}) error
	Err() error
}

// ReadTable loads the declared columns of the table holding kind. Lineage
// and id columns are not selected.
func (c *Client) ReadTable(ctx context.Context, kind schema.DatasetKind) (*columnar.Frame, error) {
	t, err := schema.TableFor(kind)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, t, SelectStatement(t, ""))
}

// ReadLatestInferences loads the newest n inference records.
func (c *Client) ReadLatestInferences(ctx context.Context, n int) (*columnar.Frame, error) {
	t, err := schema.TableFor(schema.KindInference)
	if err != nil {
		return nil, err
	}
	return c.query(ctx, t, SelectStatement(t, "ORDER BY `id` DESC LIMIT ?"), n)
}

func (c *Client) query(ctx context.Context, t schema.Table, q string, args ...interface{}) (*columnar.Frame, error) {
	start := time.Now()
	rows, err := c.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "select failed").WithDetail("table", t.Name)
	}
	defer rows.Close()

	f, err := scanFrame(rows, t.Columns)
	if err != nil {
		return nil, errors.Wrap(err, errors.TypeOf(err), "read failed").WithDetail("table", t.Name)
	}
	c.logger.Info("table loaded",
		zap.String("table", t.Name),
		zap.Int("rows", f.Len()),
		zap.Duration("duration", time.Since(start)))
	return f, nil
}

// SelectStatement renders a SELECT of the table's declared columns.
func SelectStatement(t schema.Table, suffix string) string {
	cols := make([]string, len(t.Columns))
	for i, c := range t.Columns {
		cols[i] = quoteIdent(c.Name)
	}
	q := fmt.Sprintf("SELECT %s FROM %s", strings.Join(cols, ", "), quoteIdent(t.Name))
	if suffix != "" {
		q += " " + suffix
	}
	return q
}

type scanColumn interface {
	dest() interface{}
	push()
	build() (columnar.Column, error)
}

func newScanColumn(f schema.Field) scanColumn {
	switch {
	case f.Type == columnar.ColumnTypeTimestamp:
		return &timeScan{}
	case f.Type.IsNumeric():
		return &numberScan{typ: f.Type}
	default:
		return &textScan{}
	}
}

// numberScan reads every numeric as float64. Integer columns are narrowed
// only when they hold no nulls, so validation can still see them.
type numberScan struct {
	typ    columnar.ColumnType
	cur    sql.NullFloat64
	values []float64
	nulls  int
}

func (s *numberScan) dest() interface{} { return &s.cur }

func (s *numberScan) push() {
	if !s.cur.Valid {
		s.values = append(s.values, math.NaN())
		s.nulls++
		return
	}
	s.values = append(s.values, s.cur.Float64)
}

func (s *numberScan) build() (columnar.Column, error) {
	col := columnar.Column(columnar.NewNumericColumn(s.values))
	if s.typ.IsInteger() && s.nulls > 0 {
		return col, nil
	}
	return columnar.Cast(col, s.typ)
}

type timeScan struct {
	cur    sql.NullTime
	values []int64
}

func (s *timeScan) dest() interface{} { return &s.cur }

func (s *timeScan) push() {
	if !s.cur.Valid {
		s.values = append(s.values, columnar.NaT)
		return
	}
	s.values = append(s.values, s.cur.Time.UTC().UnixNano())
}

func (s *timeScan) build() (columnar.Column, error) {
	return columnar.NewTimestampColumn(s.values), nil
}

type textScan struct {
	cur    sql.NullString
	values []string
	valid  []bool
}

func (s *textScan) dest() interface{} { return &s.cur }

func (s *textScan) push() {
	s.values = append(s.values, s.cur.String)
	s.valid = append(s.valid, s.cur.Valid)
}

func (s *textScan) build() (columnar.Column, error) {
	return columnar.CategoryColumnFromStrings(s.values, s.valid), nil
}

func scanFrame(rows rowSource, fields []schema.Field) (*columnar.Frame, error) {
	cols := make([]scanColumn, len(fields))
	dest := make([]interface{}, len(fields))
	for i, f := range fields {
		cols[i] = newScanColumn(f)
		dest[i] = cols[i].dest()
	}

	for rows.Next() {
		if err := rows.Scan(dest...); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "scan failed")
		}
		for _, c := range cols {
			c.push()
		}
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeQuery, "row iteration failed")
	}

	f := columnar.NewFrame()
	for i, c := range cols {
		col, err := c.build()
		if err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeData, "column "+fields[i].Name)
		}
		if err := f.Set(fields[i].Name, col); err != nil {
			return nil, errors.Wrap(err, errors.ErrorTypeInternal, "assemble frame")
		}
	}
	return f, nil
}
