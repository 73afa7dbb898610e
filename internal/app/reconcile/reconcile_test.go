package reconcile

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/internal/app/lock"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func newTestLogger() *logger.Logger { return logger.New(discard{}, logger.LevelError, "TEST", nil) }

type fakeLockRepo struct {
	released  []string
	reapCount int
}

func (f *fakeLockRepo) Acquire(ctx context.Context, server string, jobID uuid.UUID, cap int, ttl time.Duration) (*scanning.InstanceLock, error) {
	return scanning.NewInstanceLock(server, jobID, ttl), nil
}
func (f *fakeLockRepo) Renew(ctx context.Context, token string, ttl time.Duration) error { return nil }
func (f *fakeLockRepo) Release(ctx context.Context, token string) error {
	f.released = append(f.released, token)
	return nil
}
func (f *fakeLockRepo) ReapExpired(ctx context.Context) (int, error) { return f.reapCount, nil }

type fakeJobs struct {
	stale               []*scanning.ScanJob
	staleQueued         []*scanning.ScanJob
	missingFailedCommit []*scanning.ScanJob
	swapped             []*scanning.ScanJob
	succ                int
	failed              int
}

func (f *fakeJobs) Create(ctx context.Context, job *scanning.ScanJob) error { return nil }
func (f *fakeJobs) CompareAndSwap(ctx context.Context, job *scanning.ScanJob, expectedStatus scanning.JobStatus, expectedAttempts int) error {
	f.swapped = append(f.swapped, job)
	return nil
}
func (f *fakeJobs) Get(ctx context.Context, id uuid.UUID) (*scanning.ScanJob, error) {
	return nil, scanning.ErrJobNotFound
}
func (f *fakeJobs) GetBySubmissionID(ctx context.Context, submissionID string) (*scanning.ScanJob, error) {
	return nil, scanning.ErrJobNotFound
}
func (f *fakeJobs) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*scanning.ScanJob, error) {
	return f.stale, nil
}
func (f *fakeJobs) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.ScanJob, error) {
	return nil, nil
}
func (f *fakeJobs) CountByProjectAndStatus(ctx context.Context, projectID uuid.UUID) (int, int, error) {
	return f.succ, f.failed, nil
}
func (f *fakeJobs) ListStaleQueued(ctx context.Context, olderThan time.Duration, limit int) ([]*scanning.ScanJob, error) {
	return f.staleQueued, nil
}
func (f *fakeJobs) ListFailedPermanentMissingFailedCommit(ctx context.Context, limit int) ([]*scanning.ScanJob, error) {
	return f.missingFailedCommit, nil
}

type fakeResults struct {
	failures []*scanning.FailedCommit
}

func (f *fakeResults) SaveResult(ctx context.Context, r *scanning.ScanResult) error { return nil }
func (f *fakeResults) SaveFailedCommit(ctx context.Context, fc *scanning.FailedCommit) error {
	f.failures = append(f.failures, fc)
	return nil
}
func (f *fakeResults) ListResultsByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.ScanResult, error) {
	return nil, nil
}
func (f *fakeResults) ListFailedCommitsByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.FailedCommit, error) {
	return f.failures, nil
}
func (f *fakeResults) ResolveFailedCommit(ctx context.Context, jobID uuid.UUID) error    { return nil }
func (f *fakeResults) MarkFailedCommitQueued(ctx context.Context, jobID uuid.UUID) error { return nil }

type fakeProjects struct{ updated []*scanning.Project }

func (f *fakeProjects) Create(ctx context.Context, p *scanning.Project) error { return nil }
func (f *fakeProjects) Get(ctx context.Context, id uuid.UUID) (*scanning.Project, error) {
	return scanning.NewProject("acme-portfolio", "/data/acme.csv", 10), nil
}
func (f *fakeProjects) Update(ctx context.Context, p *scanning.Project) error {
	f.updated = append(f.updated, p)
	return nil
}

func newTestQueue(t *testing.T, expectedMessages int) *kafka.Queue {
	t.Helper()
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	for i := 0; i < expectedMessages; i++ {
		producer.ExpectSendMessageAndSucceed()
	}
	qcfg := &kafka.Config{NormalTopic: "scan-jobs-normal", RetryTopic: "scan-jobs-retry", HighTopic: "scan-jobs-high", DLQTopic: "scan-jobs-dlq"}
	return kafka.NewQueue(producer, nil, qcfg, newTestLogger(), nil, storage.NoOpTracer())
}

func runningJobWithAttempts(t *testing.T, attempts int) *scanning.ScanJob {
	t.Helper()
	job := scanning.NewScanJob(uuid.New(), "acme/widgets", "https://git.example.com/acme/widgets.git", "deadbeef", "main")
	require.NoError(t, job.MarkQueued("analysis-1"))
	require.NoError(t, job.MarkRunning("lock-token-1", "task-123"))
	for i := 0; i < attempts; i++ {
		require.NoError(t, job.MarkFailedTemp("scanner timeout"))
		require.NoError(t, job.Retry())
		require.NoError(t, job.MarkRunning("lock-token-1", "task-123"))
	}
	return job
}

func TestReconciler_RequeueOrFail_RetriesWhenBudgetRemains(t *testing.T) {
	locksRepo := &fakeLockRepo{}
	locks := lock.New(locksRepo, 4, 30*time.Minute)
	jobs := &fakeJobs{}
	projects := &fakeProjects{}
	queue := newTestQueue(t, 1)

	r := New(jobs, projects, &fakeResults{}, locks, queue, time.Minute, 10*time.Minute, 15*time.Minute, 5*time.Second, 5*time.Minute, 0.2, newTestLogger())

	job := runningJobWithAttempts(t, 0)
	require.NoError(t, r.requeueOrFail(context.Background(), job))

	assert.Equal(t, scanning.JobStatusQueued, job.Status())
	assert.Equal(t, 1, job.Attempts())
	assert.Equal(t, []string{"lock-token-1"}, locksRepo.released)
	require.Len(t, jobs.swapped, 2)
}

func TestReconciler_RequeueOrFail_FailsPermanentWhenBudgetExhausted(t *testing.T) {
	locksRepo := &fakeLockRepo{}
	locks := lock.New(locksRepo, 4, 30*time.Minute)
	jobs := &fakeJobs{succ: 3, failed: 1}
	projects := &fakeProjects{}
	queue := newTestQueue(t, 0)

	r := New(jobs, projects, &fakeResults{}, locks, queue, time.Minute, 10*time.Minute, 15*time.Minute, 5*time.Second, 5*time.Minute, 0.2, newTestLogger())

	job := runningJobWithAttempts(t, scanning.MaxAttempts-1)
	require.NoError(t, r.requeueOrFail(context.Background(), job))

	assert.Equal(t, scanning.JobStatusFailedPermanent, job.Status())
	assert.Equal(t, []string{"lock-token-1"}, locksRepo.released)
	require.Len(t, jobs.swapped, 1)
	require.Len(t, projects.updated, 1)
}

func TestReconciler_Sweep_ReapsLocksAndRequeuesStaleJobs(t *testing.T) {
	locksRepo := &fakeLockRepo{reapCount: 2}
	locks := lock.New(locksRepo, 4, 30*time.Minute)
	job := runningJobWithAttempts(t, 0)
	jobs := &fakeJobs{stale: []*scanning.ScanJob{job}}
	projects := &fakeProjects{}
	queue := newTestQueue(t, 1)

	r := New(jobs, projects, &fakeResults{}, locks, queue, time.Minute, 10*time.Minute, 15*time.Minute, 5*time.Second, 5*time.Minute, 0.2, newTestLogger())
	r.sweep(context.Background())

	assert.Equal(t, scanning.JobStatusQueued, job.Status())
	assert.Equal(t, []string{"lock-token-1"}, locksRepo.released)
}

func TestReconciler_Sweep_RepublishesStaleQueuedJobs(t *testing.T) {
	locksRepo := &fakeLockRepo{}
	locks := lock.New(locksRepo, 4, 30*time.Minute)
	job := scanning.NewScanJob(uuid.New(), "acme/widgets", "https://git.example.com/acme/widgets.git", "deadbeef", "main")
	require.NoError(t, job.MarkQueued("analysis-1"))
	jobs := &fakeJobs{staleQueued: []*scanning.ScanJob{job}}
	projects := &fakeProjects{}
	queue := newTestQueue(t, 1)

	r := New(jobs, projects, &fakeResults{}, locks, queue, time.Minute, 10*time.Minute, 15*time.Minute, 5*time.Second, 5*time.Minute, 0.2, newTestLogger())
	r.sweep(context.Background())
}

func TestReconciler_Sweep_BackfillsMissingFailedCommits(t *testing.T) {
	locksRepo := &fakeLockRepo{}
	locks := lock.New(locksRepo, 4, 30*time.Minute)
	job := scanning.NewScanJob(uuid.New(), "acme/widgets", "https://git.example.com/acme/widgets.git", "deadbeef", "main")
	require.NoError(t, job.MarkQueued("analysis-1"))
	require.NoError(t, job.MarkRunning("lock-token-1", "task-123"))
	for i := 0; i < scanning.MaxAttempts; i++ {
		require.NoError(t, job.MarkFailedTemp("scanner timeout"))
		if job.ExhaustedAttempts() {
			require.NoError(t, job.MarkFailedPermanent("attempt budget exhausted"))
			break
		}
		require.NoError(t, job.Retry())
		require.NoError(t, job.MarkRunning("lock-token-1", "task-123"))
	}
	require.Equal(t, scanning.JobStatusFailedPermanent, job.Status())

	jobs := &fakeJobs{missingFailedCommit: []*scanning.ScanJob{job}}
	projects := &fakeProjects{}
	results := &fakeResults{}
	queue := newTestQueue(t, 0)

	r := New(jobs, projects, results, locks, queue, time.Minute, 10*time.Minute, 15*time.Minute, 5*time.Second, 5*time.Minute, 0.2, newTestLogger())
	r.sweep(context.Background())

	require.Len(t, results.failures, 1)
	assert.Equal(t, job.ID(), results.failures[0].JobID())
}
