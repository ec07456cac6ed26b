package warehouse

import (
	"context"
	"fmt"

	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/ajitpratap0/gridcast/pkg/schema"
	"go.uber.org/zap"
)

// EnsureTables creates every table that does not exist yet.
func (c *Client) EnsureTables(ctx context.Context, tables ...schema.Table) error {
	for _, t := range tables {
		if t.Engine == "" {
			t.Engine = c.cfg.Engine
		}
		if _, err := c.db.ExecContext(ctx, t.CreateStatement()); err != nil {
			return errors.Wrap(err, errors.ErrorTypeQuery, "create table failed").
				WithDetail("table", t.Name)
		}
		c.logger.Debug("table ensured", zap.String("table", t.Name), zap.String("engine", t.Engine))
	}
	return nil
}

// Truncate empties a table so that a rerun does not duplicate rows.
func (c *Client) Truncate(ctx context.Context, table string) error {
	if _, err := c.db.ExecContext(ctx, fmt.Sprintf("TRUNCATE TABLE %s", quoteIdent(table))); err != nil {
		return errors.Wrap(err, errors.ErrorTypeQuery, "truncate failed").WithDetail("table", table)
	}
	c.logger.Info("table truncated", zap.String("table", table))
	return nil
}

// Count returns the number of rows in a table.
func (c *Client) Count(ctx context.Context, table string) (int64, error) {
	var n int64
	q := fmt.Sprintf("SELECT COUNT(*) FROM %s", quoteIdent(table))
	if err := c.db.QueryRowContext(ctx, q).Scan(&n); err != nil {
		return 0, errors.Wrap(err, errors.ErrorTypeQuery, "count failed").WithDetail("table", table)
	}
	return n, nil
}

func quoteIdent(name string) string {
	out := make([]byte, 0, len(name)+2)
	out = append(out, '`')
	for i := 0; i < len(name); i++ {
		if name[i] == '`' {
			out = append(out, '`')
		}
		out = append(out, name[i])
	}
	return string(append(out, '`'))
}
