// Package warehouse talks to the MariaDB ColumnStore warehouse: it creates
// the tables, stages ingested chunks, reads declared tables back into frames
// and records served predictions.
package warehouse

import (
	"context"
	"database/sql"
	"time"

	"github.com/ajitpratap0/gridcast/pkg/config"
	"github.com/ajitpratap0/gridcast/pkg/errors"
	"github.com/go-sql-driver/mysql"
	"go.uber.org/zap"
)

// DefaultConnectTimeout bounds the initial ping.
const DefaultConnectTimeout = 10 * time.Second

// Client wraps a pooled *sql.DB for the warehouse.
type Client struct {
	db     *sql.DB
	cfg    config.DBConfig
	logger *zap.Logger
}

// Open connects to the warehouse described by cfg and verifies the
// connection with a ping.
func Open(ctx context.Context, cfg config.DBConfig, logger *zap.Logger) (*Client, error) {
	if cfg.Host == "" || cfg.Database == "" {
		return nil, errors.New(errors.ErrorTypeConfig, "db host and database are required")
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	mc, err := mysql.ParseDSN(cfg.DSN())
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConfig, "invalid warehouse dsn")
	}
	mc.Loc = time.UTC
	connector, err := mysql.NewConnector(mc)
	if err != nil {
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "failed to create warehouse connector")
	}
	db := sql.OpenDB(connector)

	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	if cfg.ConnMaxLifetime > 0 {
		db.SetConnMaxLifetime(cfg.ConnMaxLifetime)
	}

	pingCtx, cancel := context.WithTimeout(ctx, DefaultConnectTimeout)
	defer cancel()
	if err := db.PingContext(pingCtx); err != nil {
		_ = db.Close() // ping failure is the error worth reporting
		return nil, errors.Wrap(err, errors.ErrorTypeConnection, "warehouse ping failed").
			WithDetail("host", cfg.Host).
			WithDetail("database", cfg.Database)
	}

	logger.Info("warehouse connection established",
		zap.String("host", cfg.Host),
		zap.Int("port", cfg.Port),
		zap.String("database", cfg.Database),
		zap.Int("max_open_conns", cfg.MaxOpenConns))

	return NewClient(db, cfg, logger), nil
}

// NewClient wraps an already opened database.
func NewClient(db *sql.DB, cfg config.DBConfig, logger *zap.Logger) *Client {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Client{db: db, cfg: cfg, logger: logger.With(zap.String("component", "warehouse"))}
}

// DB exposes the pool.
func (c *Client) DB() *sql.DB { return c.db }

// Ping checks the connection.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.db.PingContext(ctx); err != nil {
		return errors.Wrap(err, errors.ErrorTypeConnection, "warehouse ping failed")
	}
	return nil
}

// Close releases the pool.
func (c *Client) Close() error {
	return c.db.Close()
}

// Stats returns pool statistics for logging.
func (c *Client) Stats() sql.DBStats {
	return c.db.Stats()
}
