package retry

import (
	"context"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func testLogger() *logger.Logger { return logger.New(discard{}, logger.LevelError, "TEST", nil) }

type fakeJobs struct {
	byID    map[uuid.UUID]*scanning.ScanJob
	swapped []*scanning.ScanJob
}

func newFakeJobs() *fakeJobs { return &fakeJobs{byID: map[uuid.UUID]*scanning.ScanJob{}} }

func (f *fakeJobs) put(job *scanning.ScanJob) { f.byID[job.ID()] = job }

func (f *fakeJobs) Create(ctx context.Context, job *scanning.ScanJob) error { f.put(job); return nil }
func (f *fakeJobs) CompareAndSwap(ctx context.Context, job *scanning.ScanJob, expectedStatus scanning.JobStatus, expectedAttempts int) error {
	f.swapped = append(f.swapped, job)
	f.put(job)
	return nil
}
func (f *fakeJobs) Get(ctx context.Context, id uuid.UUID) (*scanning.ScanJob, error) {
	job, ok := f.byID[id]
	if !ok {
		return nil, scanning.ErrJobNotFound
	}
	return job, nil
}
func (f *fakeJobs) GetBySubmissionID(ctx context.Context, submissionID string) (*scanning.ScanJob, error) {
	return nil, scanning.ErrJobNotFound
}
func (f *fakeJobs) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*scanning.ScanJob, error) {
	return nil, nil
}
func (f *fakeJobs) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.ScanJob, error) {
	return nil, nil
}
func (f *fakeJobs) CountByProjectAndStatus(ctx context.Context, projectID uuid.UUID) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeJobs) ListStaleQueued(ctx context.Context, olderThan time.Duration, limit int) ([]*scanning.ScanJob, error) {
	return nil, nil
}
func (f *fakeJobs) ListFailedPermanentMissingFailedCommit(ctx context.Context, limit int) ([]*scanning.ScanJob, error) {
	return nil, nil
}

type fakeResults struct {
	queuedFailedCommits []uuid.UUID
}

func (f *fakeResults) SaveResult(ctx context.Context, r *scanning.ScanResult) error { return nil }
func (f *fakeResults) SaveFailedCommit(ctx context.Context, fc *scanning.FailedCommit) error {
	return nil
}
func (f *fakeResults) ListResultsByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.ScanResult, error) {
	return nil, nil
}
func (f *fakeResults) ListFailedCommitsByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.FailedCommit, error) {
	return nil, nil
}
func (f *fakeResults) ResolveFailedCommit(ctx context.Context, jobID uuid.UUID) error { return nil }
func (f *fakeResults) MarkFailedCommitQueued(ctx context.Context, jobID uuid.UUID) error {
	f.queuedFailedCommits = append(f.queuedFailedCommits, jobID)
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
	return kafka.NewQueue(producer, nil, qcfg, testLogger(), nil, storage.NoOpTracer())
}

func failedPermanentJob(t *testing.T) *scanning.ScanJob {
	t.Helper()
	job := scanning.NewScanJob(uuid.New(), "acme/widgets", "https://git.example.com/acme/widgets.git", "deadbeef", "main")
	require.NoError(t, job.MarkQueued("analysis-1"))
	for i := 0; i < scanning.MaxAttempts; i++ {
		require.NoError(t, job.MarkRunning("lock-token-1", "task-123"))
		require.NoError(t, job.MarkFailedTemp("scanner timeout"))
		if job.ExhaustedAttempts() {
			require.NoError(t, job.MarkFailedPermanent("attempt budget exhausted"))
			break
		}
		require.NoError(t, job.Retry())
	}
	require.Equal(t, scanning.JobStatusFailedPermanent, job.Status())
	return job
}

func TestService_RetryFailedCommit_RequeuesAndResetsAttempts(t *testing.T) {
	jobs := newFakeJobs()
	job := failedPermanentJob(t)
	jobs.put(job)

	results := &fakeResults{}
	queue := newTestQueue(t, 1)

	svc := New(jobs, results, queue, testLogger())

	require.NoError(t, svc.RetryFailedCommit(context.Background(), job.ID()))

	assert.Equal(t, scanning.JobStatusQueued, job.Status())
	assert.Equal(t, 0, job.Attempts())
	require.Len(t, jobs.swapped, 1)
	assert.Equal(t, []uuid.UUID{job.ID()}, results.queuedFailedCommits)
}

func TestService_RetryFailedCommit_UnknownJobFails(t *testing.T) {
	jobs := newFakeJobs()
	results := &fakeResults{}
	queue := newTestQueue(t, 0)

	svc := New(jobs, results, queue, testLogger())

	err := svc.RetryFailedCommit(context.Background(), uuid.New())
	require.Error(t, err)
}

func TestService_RetryFailedCommit_NonRetryableStatusFails(t *testing.T) {
	jobs := newFakeJobs()
	job := scanning.NewScanJob(uuid.New(), "acme/widgets", "https://git.example.com/acme/widgets.git", "deadbeef", "main")
	jobs.put(job)

	results := &fakeResults{}
	queue := newTestQueue(t, 0)

	svc := New(jobs, results, queue, testLogger())

	err := svc.RetryFailedCommit(context.Background(), job.ID())
	require.ErrorIs(t, err, scanning.ErrInvalidTransition)
}
