package postgres

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/commit-quality-orchestrator/internal/db"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// JobStore implements scanning.JobRepository over Postgres.
type JobStore struct{ *Store }

// NewJobStore builds a JobStore over store's pool.
func NewJobStore(store *Store) *JobStore { return &JobStore{Store: store} }

func toDomainJob(row db.ScanJob) *scanning.ScanJob {
	return scanning.ReconstructScanJob(
		fromPgUUID(row.ID), fromPgUUID(row.ProjectID),
		row.RepoSlug, row.RepoUrl, row.CommitSha, row.Branch, row.AnalysisServer,
		scanning.JobStatus(row.Status), int(row.Attempts),
		row.SubmissionID, row.LockToken, row.LogPath, row.FailureReason,
		row.CreatedAt.Time, row.UpdatedAt.Time,
		fromPgTimestamptzPtr(row.QueuedAt), fromPgTimestamptzPtr(row.StartedAt), fromPgTimestamptzPtr(row.CompletedAt),
		row.ConfigOverride,
	)
}

// Create inserts a new PENDING ScanJob row.
func (s *JobStore) Create(ctx context.Context, job *scanning.ScanJob) error {
	attrs := append(defaultDBAttributes, attribute.String("scan_job.id", job.ID().String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.create", attrs, func(ctx context.Context) error {
		return s.q.CreateScanJob(ctx, db.CreateScanJobParams{
			ID:             toPgUUID(job.ID()),
			ProjectID:      toPgUUID(job.ProjectID()),
			RepoSlug:       job.RepoSlug(),
			RepoUrl:        job.RepoURL(),
			CommitSha:      job.CommitSHA(),
			Branch:         job.Branch(),
			Status:         job.Status().String(),
			Attempts:       int32(job.Attempts()),
			ConfigOverride: job.ConfigOverride(),
			CreatedAt:      toPgTimestamptz(job.CreatedAt()),
			UpdatedAt:      toPgTimestamptz(job.UpdatedAt()),
		})
	})
}

// CompareAndSwap persists job's current in-memory field values, but only if
// the row still has expectedStatus/expectedAttempts. This is the optimistic
// write every state-machine transition in the app layer goes through.
func (s *JobStore) CompareAndSwap(ctx context.Context, job *scanning.ScanJob, expectedStatus scanning.JobStatus, expectedAttempts int) error {
	attrs := append(defaultDBAttributes, attribute.String("scan_job.id", job.ID().String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.compare_and_swap", attrs, func(ctx context.Context) error {
		rows, err := s.q.UpdateScanJobCAS(ctx, db.UpdateScanJobCASParams{
			ID:               toPgUUID(job.ID()),
			ExpectedStatus:   expectedStatus.String(),
			AnalysisServer:   job.AnalysisServer(),
			Status:           job.Status().String(),
			Attempts:         int32(job.Attempts()),
			SubmissionID:     job.SubmissionID(),
			LockToken:        job.LockToken(),
			LogPath:          job.LogPath(),
			FailureReason:    job.FailureReason(),
			UpdatedAt:        toPgTimestamptz(job.UpdatedAt()),
			QueuedAt:         toPgTimestamptzPtr(job.QueuedAt()),
			StartedAt:        toPgTimestamptzPtr(job.StartedAt()),
			CompletedAt:      toPgTimestamptzPtr(job.CompletedAt()),
			ConfigOverride:   job.ConfigOverride(),
			ExpectedAttempts: int32(expectedAttempts),
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return scanning.ErrOptimisticLock
		}
		return nil
	})
}

// Get fetches a ScanJob by id.
func (s *JobStore) Get(ctx context.Context, id uuid.UUID) (*scanning.ScanJob, error) {
	var job *scanning.ScanJob
	attrs := append(defaultDBAttributes, attribute.String("scan_job.id", id.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.get", attrs, func(ctx context.Context) error {
		row, err := s.q.GetScanJob(ctx, toPgUUID(id))
		if err != nil {
			return mapNotFound(err, scanning.ErrJobNotFound)
		}
		job = toDomainJob(row)
		return nil
	})
	return job, err
}

// GetBySubmissionID fetches a ScanJob by the analysis-server-assigned task
// id, used to correlate inbound webhook deliveries.
func (s *JobStore) GetBySubmissionID(ctx context.Context, submissionID string) (*scanning.ScanJob, error) {
	var job *scanning.ScanJob
	attrs := append(defaultDBAttributes, attribute.String("scan_job.submission_id", submissionID))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.get_by_submission_id", attrs, func(ctx context.Context) error {
		row, err := s.q.GetScanJobBySubmissionID(ctx, submissionID)
		if err != nil {
			return mapNotFound(err, scanning.ErrJobNotFound)
		}
		job = toDomainJob(row)
		return nil
	})
	return job, err
}

// ListStale returns RUNNING jobs whose updated_at predates now-olderThan.
func (s *JobStore) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*scanning.ScanJob, error) {
	var jobs []*scanning.ScanJob
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.list_stale", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.q.ListStaleRunningScanJobs(ctx, time.Now().UTC().Add(-olderThan), int32(limit))
		if err != nil {
			return err
		}
		for _, row := range rows {
			jobs = append(jobs, toDomainJob(row))
		}
		return nil
	})
	return jobs, err
}

// ListByProject returns every ScanJob belonging to projectID, ordered by
// creation time.
func (s *JobStore) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.ScanJob, error) {
	var jobs []*scanning.ScanJob
	attrs := append(defaultDBAttributes, attribute.String("project.id", projectID.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.list_by_project", attrs, func(ctx context.Context) error {
		rows, err := s.q.ListScanJobsByProject(ctx, toPgUUID(projectID))
		if err != nil {
			return err
		}
		for _, row := range rows {
			jobs = append(jobs, toDomainJob(row))
		}
		return nil
	})
	return jobs, err
}

// ListStaleQueued returns QUEUED jobs whose queued_at predates now-olderThan.
func (s *JobStore) ListStaleQueued(ctx context.Context, olderThan time.Duration, limit int) ([]*scanning.ScanJob, error) {
	var jobs []*scanning.ScanJob
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.list_stale_queued", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.q.ListStaleQueuedScanJobs(ctx, time.Now().UTC().Add(-olderThan), int32(limit))
		if err != nil {
			return err
		}
		for _, row := range rows {
			jobs = append(jobs, toDomainJob(row))
		}
		return nil
	})
	return jobs, err
}

// ListFailedPermanentMissingFailedCommit returns FAILED_PERMANENT jobs with
// no corresponding FailedCommit row.
func (s *JobStore) ListFailedPermanentMissingFailedCommit(ctx context.Context, limit int) ([]*scanning.ScanJob, error) {
	var jobs []*scanning.ScanJob
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.list_failed_permanent_missing_failed_commit", defaultDBAttributes, func(ctx context.Context) error {
		rows, err := s.q.ListFailedPermanentScanJobsMissingFailedCommit(ctx, int32(limit))
		if err != nil {
			return err
		}
		for _, row := range rows {
			jobs = append(jobs, toDomainJob(row))
		}
		return nil
	})
	return jobs, err
}

// CountByProjectAndStatus returns the SUCCEEDED and FAILED_PERMANENT counts
// for projectID, used to recompute Project completion.
func (s *JobStore) CountByProjectAndStatus(ctx context.Context, projectID uuid.UUID) (succeeded, failedPermanent int, err error) {
	attrs := append(defaultDBAttributes, attribute.String("project.id", projectID.String()))
	err = storage.ExecuteAndTrace(ctx, s.tracer, "postgres.job.count_by_project_and_status", attrs, func(ctx context.Context) error {
		s32, f32, err := s.q.CountScanJobsByProjectAndStatus(ctx, toPgUUID(projectID))
		succeeded, failedPermanent = int(s32), int(f32)
		return err
	})
	return succeeded, failedPermanent, err
}
