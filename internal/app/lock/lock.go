// Package lock implements the LockManager app service: a thin wrapper over
// scanning.LockRepository's Postgres-backed bounded-counter semaphore. A
// lock's lifetime spans an entire external analysis run (minutes, not the
// duration of one Dispatcher call), so its TTL is set generously and release
// is driven by whichever caller learns the job reached a terminal state
// first: WebhookIntake on a terminal delivery, the Dispatcher on a
// pre-RUNNING failure, or the Reconciler reaping anything left stranded past
// its TTL. Renew exists for a caller that needs to extend a held lock before
// it expires.
package lock

import (
	"context"
	"time"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// Manager acquires, renews, and releases InstanceLocks against a fixed
// per-server capacity.
type Manager struct {
	repo scanning.LockRepository
	cap  int
	ttl  time.Duration
}

// New builds a Manager enforcing cap concurrent locks per analysis server,
// each valid for ttl unless renewed.
func New(repo scanning.LockRepository, cap int, ttl time.Duration) *Manager {
	return &Manager{repo: repo, cap: cap, ttl: ttl}
}

// Acquire takes a lock slot for jobID against server. Returns
// scanning.ErrLockCapacityExceeded if server is already at capacity.
func (m *Manager) Acquire(ctx context.Context, server string, jobID uuid.UUID) (*scanning.InstanceLock, error) {
	return m.repo.Acquire(ctx, server, jobID, m.cap, m.ttl)
}

// Renew extends token's lease by the Manager's configured ttl, called
// periodically by the Dispatcher while a job it submitted is still RUNNING.
func (m *Manager) Renew(ctx context.Context, token string) error {
	return m.repo.Renew(ctx, token, m.ttl)
}

// Release frees token's slot immediately, called once a job reaches a
// terminal state.
func (m *Manager) Release(ctx context.Context, token string) error {
	return m.repo.Release(ctx, token)
}

// ReapExpired releases every lock past its expiry, returning how many were
// reclaimed. Called periodically by the Reconciler to recover slots from
// jobs whose terminal webhook never arrived.
func (m *Manager) ReapExpired(ctx context.Context) (int, error) {
	return m.repo.ReapExpired(ctx)
}
