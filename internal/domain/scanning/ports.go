package scanning

import (
	"context"
	"time"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// JobRepository persists ScanJobs and mediates the conditional writes the
// state machine relies on for at-least-once-safe concurrent updates.
type JobRepository interface {
	Create(ctx context.Context, job *ScanJob) error
	// CompareAndSwap applies the mutation already performed in-memory on job
	// (its new status/attempts/etc.) IF AND ONLY IF the row's current state
	// and attempts still match expectedStatus/expectedAttempts. Returns
	// ErrOptimisticLock if the row has since moved.
	CompareAndSwap(ctx context.Context, job *ScanJob, expectedStatus JobStatus, expectedAttempts int) error
	Get(ctx context.Context, id uuid.UUID) (*ScanJob, error)
	GetBySubmissionID(ctx context.Context, submissionID string) (*ScanJob, error)
	// ListStale returns RUNNING jobs whose updated_at is older than olderThan,
	// used by the Reconciler to find orphaned jobs.
	ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*ScanJob, error)
	// ListStaleQueued returns QUEUED jobs whose queued_at is older than
	// olderThan, used by the Reconciler to catch jobs the dispatcher never
	// picked up (e.g. a crash between MarkQueued and consuming the message).
	ListStaleQueued(ctx context.Context, olderThan time.Duration, limit int) ([]*ScanJob, error)
	// ListFailedPermanentMissingFailedCommit returns FAILED_PERMANENT jobs with
	// no corresponding FailedCommit row, used by the Reconciler to backfill
	// rows lost to a crash between the status write and the FailedCommit save.
	ListFailedPermanentMissingFailedCommit(ctx context.Context, limit int) ([]*ScanJob, error)
	ListByProject(ctx context.Context, projectID uuid.UUID) ([]*ScanJob, error)
	CountByProjectAndStatus(ctx context.Context, projectID uuid.UUID) (succeeded, failedPermanent int, err error)
}

// ProjectRepository persists Projects and their aggregate completion state.
type ProjectRepository interface {
	Create(ctx context.Context, project *Project) error
	Get(ctx context.Context, id uuid.UUID) (*Project, error)
	Update(ctx context.Context, project *Project) error
}

// ResultRepository persists ScanResults and FailedCommits, the two terminal
// outcomes of a ScanJob.
type ResultRepository interface {
	SaveResult(ctx context.Context, result *ScanResult) error
	SaveFailedCommit(ctx context.Context, fc *FailedCommit) error
	ListResultsByProject(ctx context.Context, projectID uuid.UUID) ([]*ScanResult, error)
	ListFailedCommitsByProject(ctx context.Context, projectID uuid.UUID) ([]*FailedCommit, error)
	// ResolveFailedCommit marks a job's FailedCommit RESOLVED after a later
	// run of the same job SUCCEEDED. A no-op if no row exists.
	ResolveFailedCommit(ctx context.Context, jobID uuid.UUID) error
	// MarkFailedCommitQueued marks a job's FailedCommit QUEUED after an
	// operator retries it. A no-op if no row exists.
	MarkFailedCommitQueued(ctx context.Context, jobID uuid.UUID) error
}

// LockRepository implements a Postgres-backed bounded-counter semaphore: at
// most Cap concurrent InstanceLocks per analysis server.
type LockRepository interface {
	// Acquire attempts to take one of cap slots for server. Returns
	// ErrLockCapacityExceeded if none are free.
	Acquire(ctx context.Context, server string, jobID uuid.UUID, cap int, ttl time.Duration) (*InstanceLock, error)
	Renew(ctx context.Context, token string, ttl time.Duration) error
	Release(ctx context.Context, token string) error
	// ReapExpired releases any lock past its expiry, returning how many were
	// reclaimed. Used by the Reconciler sweep.
	ReapExpired(ctx context.Context) (int, error)
}

// WebhookRepository persists inbound webhook deliveries.
type WebhookRepository interface {
	Save(ctx context.Context, event *WebhookEvent) error
}
