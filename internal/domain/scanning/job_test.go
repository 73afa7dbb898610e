package scanning

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

func newTestJob(t *testing.T) *ScanJob {
	t.Helper()
	return NewScanJob(uuid.New(), "acme/widgets", "https://git.example.com/acme/widgets.git", "deadbeef", "main")
}

func TestScanJob_HappyPath(t *testing.T) {
	job := newTestJob(t)
	require.Equal(t, JobStatusPending, job.Status())

	require.NoError(t, job.MarkQueued("analysis-1"))
	assert.Equal(t, JobStatusQueued, job.Status())
	assert.Equal(t, "analysis-1", job.AnalysisServer())

	require.NoError(t, job.MarkRunning("lock-token", "task-123"))
	assert.Equal(t, JobStatusRunning, job.Status())
	assert.Equal(t, "task-123", job.SubmissionID())

	require.NoError(t, job.MarkSucceeded())
	assert.Equal(t, JobStatusSucceeded, job.Status())
	assert.NotNil(t, job.CompletedAt())
}

func TestScanJob_RetryUntilBudgetExhausted(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.MarkQueued("analysis-1"))
	require.NoError(t, job.MarkRunning("lock-token", "task-123"))

	for i := 0; i < MaxAttempts; i++ {
		require.NoError(t, job.MarkFailedTemp("scanner timeout"))
		if job.ExhaustedAttempts() {
			break
		}
		require.NoError(t, job.Retry())
		require.NoError(t, job.MarkRunning("lock-token", "task-123"))
	}

	assert.True(t, job.ExhaustedAttempts())
	assert.ErrorIs(t, job.Retry(), ErrAttemptBudgetExhausted)

	require.NoError(t, job.MarkFailedPermanent("attempt budget exhausted"))
	assert.Equal(t, JobStatusFailedPermanent, job.Status())
}

func TestScanJob_InvalidTransitionRejected(t *testing.T) {
	job := newTestJob(t)
	err := job.MarkRunning("lock-token", "task-123")
	assert.ErrorIs(t, err, ErrInvalidTransition)
}

func TestScanJob_RequeueAfterFailure(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.MarkQueued("analysis-1"))

	require.NoError(t, job.RequeueAfterFailure("checkout failed: repo not found"))
	assert.Equal(t, JobStatusQueued, job.Status())
	assert.Equal(t, 1, job.Attempts())
	assert.Equal(t, "checkout failed: repo not found", job.FailureReason())
	assert.NotNil(t, job.QueuedAt())
}

func TestScanJob_PreRunningFailureCanExhaustBudget(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.MarkQueued("analysis-1"))

	for i := 0; i < MaxAttempts; i++ {
		require.NoError(t, job.RequeueAfterFailure("checkout failed"))
	}
	assert.True(t, job.ExhaustedAttempts())

	require.NoError(t, job.MarkFailedPermanent("checkout failed too many times"))
	assert.Equal(t, JobStatusFailedPermanent, job.Status())
}

func TestScanJob_RetryFromFailedPermanentResetsAttempts(t *testing.T) {
	job := newTestJob(t)
	require.NoError(t, job.MarkQueued("analysis-1"))

	for i := 0; i < MaxAttempts; i++ {
		require.NoError(t, job.RequeueAfterFailure("checkout failed"))
	}
	require.True(t, job.ExhaustedAttempts())
	require.NoError(t, job.MarkFailedPermanent("checkout failed too many times"))

	require.NoError(t, job.Retry())
	assert.Equal(t, JobStatusQueued, job.Status())
	assert.Equal(t, 0, job.Attempts())
}

func TestScanJob_ConfigOverride(t *testing.T) {
	job := newTestJob(t)
	assert.Empty(t, job.ConfigOverride())

	job.SetConfigOverride("sonar.exclusions=**/vendor/**")
	assert.Equal(t, "sonar.exclusions=**/vendor/**", job.ConfigOverride())
}
