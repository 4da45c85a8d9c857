// Package store implements the relational storage layer (component I): the
// generic bulk insert/delete/count operations the core treats the database
// through, plus the two RPC-style primitives that don't fit that shape —
// the atomic staging/serving promotion and the polygon-containment query
// (StationsInPolygon, which the refresh cycle does not call).
package store

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/rotisserie/eris"

	"github.com/ev-readiness/pipeline/internal/db"
)

// Store wraps the shared connection pool with the operations spec.md's
// storage-layer section names: bulk insert, delete, count, and the two
// RPCs. Everything else (aggregation writes, staging ingestion) goes
// through internal/db and internal/aggregate directly, since those
// callers already know their own column sets; Store exists for the
// operations that cut across tables.
type Store struct {
	pool db.Pool
}

// New constructs a Store over pool.
func New(pool db.Pool) *Store {
	return &Store{pool: pool}
}

// Insert bulk-loads rows into a schema-qualified table via COPY.
func (s *Store) Insert(ctx context.Context, schema, table string, columns []string, rows [][]any) (int64, error) {
	return db.CopyFromSchema(ctx, s.pool, schema, table, columns, rows)
}

// Delete removes rows from table matching predicate (a raw SQL WHERE
// fragment, e.g. "state = $1"). An empty predicate deletes every row.
func (s *Store) Delete(ctx context.Context, table, predicate string, args ...any) (int64, error) {
	sql := "DELETE FROM " + table
	if predicate != "" {
		sql += " WHERE " + predicate
	}
	tag, err := s.pool.Exec(ctx, sql, args...)
	if err != nil {
		return 0, eris.Wrapf(err, "store: delete from %s", table)
	}
	return tag.RowsAffected(), nil
}

// Count returns the number of rows in table matching predicate.
func (s *Store) Count(ctx context.Context, table, predicate string, args ...any) (int64, error) {
	sql := "SELECT count(*) FROM " + table
	if predicate != "" {
		sql += " WHERE " + predicate
	}
	var n int64
	if err := s.pool.QueryRow(ctx, sql, args...).Scan(&n); err != nil {
		return 0, eris.Wrapf(err, "store: count %s", table)
	}
	return n, nil
}

// Select runs a projection query over table and returns the raw rows for
// the caller to scan; the caller owns rows.Close().
func (s *Store) Select(ctx context.Context, table, projection, predicate string, args ...any) (pgx.Rows, error) {
	sql := "SELECT " + projection + " FROM " + table
	if predicate != "" {
		sql += " WHERE " + predicate
	}
	rows, err := s.pool.Query(ctx, sql, args...)
	if err != nil {
		return nil, eris.Wrapf(err, "store: select from %s", table)
	}
	return rows, nil
}
