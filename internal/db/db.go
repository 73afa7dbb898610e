// Package db is a hand-written, sqlc-shaped query layer: one typed Queries
// struct, one method per SQL statement, pgx/pgtype parameter and row types.
// It is not generated (no .sql source + sqlc.yaml pipeline ships with this
// repo) but follows that generator's conventions deliberately, since every
// storage adapter in this codebase is written against that shape.
package db

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
)

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx, letting Queries run
// either standalone or inside a caller-managed transaction.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

// Queries wraps a DBTX with one method per statement this repo issues.
type Queries struct{ db DBTX }

// New builds a Queries bound to db (a pool, for top-level calls).
func New(db DBTX) *Queries { return &Queries{db: db} }

// WithTx rebinds Queries to run within an already-open transaction.
func (q *Queries) WithTx(tx pgx.Tx) *Queries { return &Queries{db: tx} }
