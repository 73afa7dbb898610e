// Package retry implements an operator-triggered requeue of a permanently
// failed commit: resetting its ScanJob back to QUEUED and republishing it,
// without waiting for a fresh CSV ingestion run.
package retry

import (
	"context"
	"fmt"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// Service retries a job an operator has chosen to re-run, typically one
// triaged off the failed_commits table after a flaky scanner or a transient
// analysis-server outage.
type Service struct {
	jobs    scanning.JobRepository
	results scanning.ResultRepository
	queue   *kafka.Queue
	logger  *logger.Logger
}

// New builds a Service wired to its collaborators.
func New(jobs scanning.JobRepository, results scanning.ResultRepository, queue *kafka.Queue, log *logger.Logger) *Service {
	return &Service{jobs: jobs, results: results, queue: queue, logger: log}
}

// RetryFailedCommit loads jobID, transitions it back to QUEUED via
// ScanJob.Retry (resetting its attempt counter when it was
// FAILED_PERMANENT), marks the matching FailedCommit row QUEUED so it drops
// out of the operator's triage view, and republishes it at retry priority.
// Returns scanning.ErrInvalidTransition if jobID isn't in a retryable
// state.
func (s *Service) RetryFailedCommit(ctx context.Context, jobID uuid.UUID) error {
	job, err := s.jobs.Get(ctx, jobID)
	if err != nil {
		return fmt.Errorf("loading job %s: %w", jobID.String(), err)
	}

	expectedStatus := job.Status()
	expectedAttempts := job.Attempts()

	if err := job.Retry(); err != nil {
		return fmt.Errorf("retrying job %s: %w", jobID.String(), err)
	}
	if err := s.jobs.CompareAndSwap(ctx, job, expectedStatus, expectedAttempts); err != nil {
		return fmt.Errorf("persisting retry for job %s: %w", jobID.String(), err)
	}

	if err := s.results.MarkFailedCommitQueued(ctx, jobID); err != nil {
		s.logger.Error(ctx, "failed to mark failed commit queued", "job_id", jobID.String(), "error", err)
	}

	msg := kafka.JobMessage{JobID: jobID, Priority: kafka.PriorityRetry, Attempt: job.Attempts()}
	if err := s.queue.Publish(ctx, msg); err != nil {
		return fmt.Errorf("publishing retry for job %s: %w", jobID.String(), err)
	}

	s.logger.Info(ctx, "operator requeued failed commit", "job_id", jobID.String())
	return nil
}
