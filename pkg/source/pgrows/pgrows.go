// Package pgrows publishes the rows of a PostgreSQL query as a chunk
// stream, one JSON object per line. Rows are fetched only as fast as the
// subscriber requests them, so a slow client holds back the cursor instead
// of buffering the result set.
package pgrows

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"regexp"
	"strings"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/rhuss/trickle/pkg/debug"
	"github.com/rhuss/trickle/pkg/stream"
)

// ErrInvalidTable is returned for table names that are not plain
// (optionally schema-qualified) identifiers.
var ErrInvalidTable = errors.New("pgrows: invalid table name")

var tableName = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*(\.[A-Za-z_][A-Za-z0-9_]*)?$`)

// Source creates row publishers backed by a connection pool.
type Source struct {
	pool *pgxpool.Pool
	exec stream.Executor
}

// Open connects to the database described by cfg.
func Open(ctx context.Context, cfg Config, exec stream.Executor) (*Source, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}
	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}
	return New(pool, exec), nil
}

// New wraps an existing pool. Rows are fetched on exec (stream.Async if
// nil).
func New(pool *pgxpool.Pool, exec stream.Executor) *Source {
	if exec == nil {
		exec = stream.Async
	}
	return &Source{pool: pool, exec: exec}
}

// HealthCheck pings the database.
func (s *Source) HealthCheck(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

// Close closes the pool.
func (s *Source) Close() {
	s.pool.Close()
}

// Table publishes every row of table.
func (s *Source) Table(table string) (stream.Publisher, error) {
	if !tableName.MatchString(table) {
		return nil, fmt.Errorf("%w: %q", ErrInvalidTable, table)
	}
	ident := pgx.Identifier(strings.Split(table, "."))
	return s.Query("SELECT * FROM " + ident.Sanitize()), nil
}

// Query publishes the rows of sql. The query runs when the first row is
// requested; cancelling the subscription closes the rows and returns the
// connection to the pool.
func (s *Source) Query(sql string, args ...any) stream.Publisher {
	var rows pgx.Rows
	next := func(ctx context.Context) ([]byte, error) {
		if rows == nil {
			r, err := s.pool.Query(ctx, sql, args...)
			if err != nil {
				return nil, fmt.Errorf("querying rows: %w", err)
			}
			rows = r
			debug.Log(debug.Source, "query started", "sql", sql)
		}
		if !rows.Next() {
			if err := rows.Err(); err != nil {
				return nil, fmt.Errorf("reading rows: %w", err)
			}
			return nil, io.EOF
		}
		return encodeRow(rows)
	}
	closer := func() error {
		if rows != nil {
			rows.Close()
			debug.Log(debug.Source, "rows closed", "sql", sql, "rows", rows.CommandTag().RowsAffected())
		}
		return nil
	}
	return stream.Pull(next, stream.WithExecutor(s.exec), stream.WithCloser(closer))
}

func encodeRow(rows pgx.Rows) ([]byte, error) {
	m, err := pgx.RowToMap(rows)
	if err != nil {
		return nil, fmt.Errorf("scanning row: %w", err)
	}
	b, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("encoding row: %w", err)
	}
	return append(b, '\n'), nil
}
