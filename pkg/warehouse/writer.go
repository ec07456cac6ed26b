package warehouse

import (
	"context"
	"fmt"
	"strings"
	"sync/atomic"

	"github.com/ajitpratap0/gridcast/pkg/columnar"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"go.uber.org/zap"
)

// maxPlaceholders is the MySQL protocol limit on bound parameters.
const maxPlaceholders = 65535

// DefaultInsertBatchRows is used when the config does not set one.
const DefaultInsertBatchRows = 5000

// StagingWriter appends frames to one warehouse table.
type StagingWriter struct {
	client    *Client
	table     schema.Table
	batchRows int
	rows      atomic.Int64
}

// NewStagingWriter creates a writer for t.
func (c *Client) NewStagingWriter(t schema.Table) *StagingWriter {
	batch := c.cfg.InsertBatchRows
	if batch <= 0 {
		batch = DefaultInsertBatchRows
	}
	return &StagingWriter{client: c, table: t, batchRows: batch}
}

// InsertColumns returns the columns written for f: the declared columns
// plus the lineage column when the frame carries it and the database does
// not fill it.
func InsertColumns(t schema.Table, f *columnar.Frame) ([]string, error) {
	cols := t.ColumnNames()
	var missing []string
	for _, name := range cols {
		if !f.Has(name) {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, errors.Newf(errors.ErrorTypeData, "frame is missing columns of %s", t.Name).
			WithDetail("missing", missing)
	}
	if t.Lineage != "" && !t.LineageDefault && f.Has(t.Lineage) {
		cols = append(cols, t.Lineage)
	}
	return cols, nil
}

// WriteChunk inserts every row of f in one transaction and returns the
// number of rows written.
func (w *StagingWriter) WriteChunk(ctx context.Context, f *columnar.Frame) (int, error) {
	if f.Len() == 0 {
		return 0, nil
	}
	cols, err := InsertColumns(w.table, f)
	if err != nil {
		return 0, err
	}
	if err := w.client.insertFrame(ctx, w.table.Name, cols, f, w.batchRows); err != nil {
		return 0, err
	}
	total := w.rows.Add(int64(f.Len()))
	w.client.logger.Debug("chunk staged",
		zap.String("table", w.table.Name),
		zap.Int("rows", f.Len()),
		zap.Int64("total_rows", total))
	return f.Len(), nil
}

// Rows returns the number of rows written so far.
func (w *StagingWriter) Rows() int64 { return w.rows.Load() }

// InsertStatement renders a multi-row INSERT with placeholders.
func InsertStatement(table string, cols []string, rows int) string {
	quoted := make([]string, len(cols))
	for i, c := range cols {
		quoted[i] = quoteIdent(c)
	}
	tuple := "(" + strings.TrimSuffix(strings.Repeat("?,", len(cols)), ",") + ")"

	var b strings.Builder
	fmt.Fprintf(&b, "INSERT INTO %s (%s) VALUES ", quoteIdent(table), strings.Join(quoted, ", "))
	for i := 0; i < rows; i++ {
		if i > 0 {
			b.WriteByte(',')
		}
		b.WriteString(tuple)
	}
	return b.String()
}

func (c *Client) insertFrame(ctx context.Context, table string, cols []string, f *columnar.Frame, batchRows int) error {
	if limit := maxPlaceholders / len(cols); batchRows > limit {
		batchRows = limit
	}
	data := make([]columnar.Column, len(cols))
	for i, name := range cols {
		data[i], _ = f.Column(name)
	}

	tx, err := c.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "begin transaction failed")
	}
	for lo := 0; lo < f.Len(); lo += batchRows {
		hi := min(lo+batchRows, f.Len())
		args := make([]interface{}, 0, (hi-lo)*len(cols))
		for r := lo; r < hi; r++ {
			for _, col := range data {
				args = append(args, argAt(col, r))
			}
		}
		if _, err := tx.ExecContext(ctx, InsertStatement(table, cols, hi-lo), args...); err != nil {
			_ = tx.Rollback() // the insert error is the one to report
			return errors.Wrap(err, errors.ErrorTypeQuery, "insert failed").
				WithDetail("table", table).
				WithDetail("offset", lo)
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "commit failed").WithDetail("table", table)
	}
	return nil
}

// argAt converts one cell to a driver value; nulls become NULL.
func argAt(col columnar.Column, i int) interface{} {
	if col.IsNull(i) {
		return nil
	}
	switch t := col.Type(); {
	case t == columnar.ColumnTypeTimestamp:
		return col.Value(i)
	case t.IsInteger():
		return int64(col.Float64(i))
	case t.IsFloat():
		return col.Float64(i)
	default:
		s, _ := col.Text(i)
		return s
	}
}
