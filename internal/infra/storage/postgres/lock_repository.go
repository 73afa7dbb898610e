package postgres

import (
	"context"
	"fmt"
	"hash/fnv"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/commit-quality-orchestrator/internal/db"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// LockStore implements scanning.LockRepository as a Postgres-backed bounded
// counter: each analysis server may hold at most cap unexpired rows in
// instance_locks at once. A transaction-scoped advisory lock keyed on the
// server name serializes concurrent Acquire calls against the same server so
// the count-then-insert below can't race.
type LockStore struct{ *Store }

// NewLockStore builds a LockStore over store's pool.
func NewLockStore(store *Store) *LockStore { return &LockStore{Store: store} }

func serverLockKey(server string) int64 {
	h := fnv.New64a()
	_, _ = h.Write([]byte(server))
	return int64(h.Sum64())
}

// Acquire takes one of cap concurrency slots for server, or returns
// scanning.ErrLockCapacityExceeded if all are currently held.
func (s *LockStore) Acquire(ctx context.Context, server string, jobID uuid.UUID, cap int, ttl time.Duration) (*scanning.InstanceLock, error) {
	var lock *scanning.InstanceLock
	attrs := append(defaultDBAttributes, attribute.String("analysis_server", server), attribute.Int("lock.cap", cap))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.lock.acquire", attrs, func(ctx context.Context) error {
		tx, err := s.pool.Begin(ctx)
		if err != nil {
			return fmt.Errorf("beginning tx: %w", err)
		}
		defer func() { _ = tx.Rollback(ctx) }()

		if _, err := tx.Exec(ctx, "SELECT pg_advisory_xact_lock($1)", serverLockKey(server)); err != nil {
			return fmt.Errorf("acquiring advisory lock: %w", err)
		}

		q := s.q.WithTx(tx)
		now := time.Now().UTC()

		active, err := q.CountActiveInstanceLocks(ctx, server, toPgTimestamptz(now))
		if err != nil {
			return fmt.Errorf("counting active locks: %w", err)
		}
		if int(active) >= cap {
			return scanning.ErrLockCapacityExceeded
		}

		candidate := scanning.NewInstanceLock(server, jobID, ttl)
		if err := q.CreateInstanceLock(ctx, db.CreateInstanceLockParams{
			Token:          candidate.Token(),
			AnalysisServer: candidate.AnalysisServer(),
			JobID:          toPgUUID(candidate.JobID()),
			AcquiredAt:     toPgTimestamptz(candidate.AcquiredAt()),
			ExpiresAt:      toPgTimestamptz(candidate.ExpiresAt()),
		}); err != nil {
			return fmt.Errorf("inserting lock: %w", err)
		}

		if err := tx.Commit(ctx); err != nil {
			return fmt.Errorf("committing tx: %w", err)
		}
		lock = candidate
		return nil
	})
	return lock, err
}

// Renew extends token's expiry by ttl from now.
func (s *LockStore) Renew(ctx context.Context, token string, ttl time.Duration) error {
	attrs := append(defaultDBAttributes, attribute.String("lock.token", token))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.lock.renew", attrs, func(ctx context.Context) error {
		rows, err := s.q.RenewInstanceLock(ctx, token, toPgTimestamptz(time.Now().UTC().Add(ttl)))
		if err != nil {
			return err
		}
		if rows == 0 {
			return fmt.Errorf("renewing lock %s: %w", token, scanning.ErrJobNotFound)
		}
		return nil
	})
}

// Release deletes token, freeing its slot immediately rather than waiting
// for expiry.
func (s *LockStore) Release(ctx context.Context, token string) error {
	attrs := append(defaultDBAttributes, attribute.String("lock.token", token))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.lock.release", attrs, func(ctx context.Context) error {
		_, err := s.q.DeleteInstanceLock(ctx, token)
		return err
	})
}

// ReapExpired deletes every lock past its expiry, returning how many rows
// were reclaimed. The Reconciler calls this on its sweep interval so a
// crashed dispatcher's held slots aren't lost forever.
func (s *LockStore) ReapExpired(ctx context.Context) (int, error) {
	var n int64
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.lock.reap_expired", defaultDBAttributes, func(ctx context.Context) error {
		var err error
		n, err = s.q.DeleteExpiredInstanceLocks(ctx, toPgTimestamptz(time.Now().UTC()))
		return err
	})
	return int(n), err
}
