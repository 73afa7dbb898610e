// Package postgres implements the scanning domain's repository ports against
// Postgres, using conditional updates and span-wrapped queries throughout.
package postgres

import (
	"github.com/jackc/pgx/v5/pgxpool"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"

	"github.com/ahrav/commit-quality-orchestrator/internal/db"
)

var defaultDBAttributes = []attribute.KeyValue{
	attribute.String("db.system", "postgresql"),
}

// Store bundles every scanning-domain repository over a single pool, one
// store per aggregate sharing a pgxpool.
type Store struct {
	q      *db.Queries
	pool   *pgxpool.Pool
	tracer trace.Tracer
}

// NewStore builds a Store over pool, traced via tracer.
func NewStore(pool *pgxpool.Pool, tracer trace.Tracer) *Store {
	return &Store{q: db.New(pool), pool: pool, tracer: tracer}
}
