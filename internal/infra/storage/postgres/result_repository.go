package postgres

import (
	"context"
	"encoding/json"
	"fmt"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/commit-quality-orchestrator/internal/db"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// ResultStore implements scanning.ResultRepository over Postgres.
type ResultStore struct{ *Store }

// NewResultStore builds a ResultStore over store's pool.
func NewResultStore(store *Store) *ResultStore { return &ResultStore{Store: store} }

// SaveResult upserts a SUCCEEDED job's fetched metrics.
func (s *ResultStore) SaveResult(ctx context.Context, r *scanning.ScanResult) error {
	attrs := append(defaultDBAttributes, attribute.String("scan_job.id", r.JobID().String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.result.save", attrs, func(ctx context.Context) error {
		metrics, err := json.Marshal(r.Metrics())
		if err != nil {
			return fmt.Errorf("marshaling metrics: %w", err)
		}
		return s.q.CreateScanResult(ctx, db.CreateScanResultParams{
			JobID:     toPgUUID(r.JobID()),
			ProjectID: toPgUUID(r.ProjectID()),
			RepoSlug:  r.RepoSlug(),
			CommitSha: r.CommitSHA(),
			Metrics:   metrics,
			FetchedAt: toPgTimestamptz(r.FetchedAt()),
		})
	})
}

// SaveFailedCommit upserts a FAILED_PERMANENT job's failure record.
func (s *ResultStore) SaveFailedCommit(ctx context.Context, fc *scanning.FailedCommit) error {
	attrs := append(defaultDBAttributes, attribute.String("scan_job.id", fc.JobID().String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.result.save_failed_commit", attrs, func(ctx context.Context) error {
		return s.q.CreateFailedCommit(ctx, db.CreateFailedCommitParams{
			JobID:     toPgUUID(fc.JobID()),
			ProjectID: toPgUUID(fc.ProjectID()),
			RepoSlug:  fc.RepoSlug(),
			CommitSha: fc.CommitSHA(),
			Reason:    fc.Reason(),
			LogPath:   fc.LogPath(),
			FailedAt:  toPgTimestamptz(fc.FailedAt()),
		})
	})
}

// ListResultsByProject returns every ScanResult for projectID, the backing
// query for Exporter.Stream.
func (s *ResultStore) ListResultsByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.ScanResult, error) {
	var results []*scanning.ScanResult
	attrs := append(defaultDBAttributes, attribute.String("project.id", projectID.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.result.list_by_project", attrs, func(ctx context.Context) error {
		rows, err := s.q.ListScanResultsByProject(ctx, toPgUUID(projectID))
		if err != nil {
			return err
		}
		for _, row := range rows {
			var metrics map[string]string
			if err := json.Unmarshal(row.Metrics, &metrics); err != nil {
				return fmt.Errorf("unmarshaling metrics for job %s: %w", fromPgUUID(row.JobID), err)
			}
			results = append(results, scanning.ReconstructScanResult(
				fromPgUUID(row.JobID), fromPgUUID(row.ProjectID), row.RepoSlug, row.CommitSha, metrics, row.FetchedAt.Time,
			))
		}
		return nil
	})
	return results, err
}

// ListFailedCommitsByProject returns every FailedCommit for projectID.
func (s *ResultStore) ListFailedCommitsByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.FailedCommit, error) {
	var failures []*scanning.FailedCommit
	attrs := append(defaultDBAttributes, attribute.String("project.id", projectID.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.result.list_failed_by_project", attrs, func(ctx context.Context) error {
		rows, err := s.q.ListFailedCommitsByProject(ctx, toPgUUID(projectID))
		if err != nil {
			return err
		}
		for _, row := range rows {
			failures = append(failures, scanning.ReconstructFailedCommit(
				fromPgUUID(row.JobID), fromPgUUID(row.ProjectID), row.RepoSlug, row.CommitSha, row.Reason, row.LogPath, row.FailedAt.Time,
				scanning.FailedCommitDisposition(row.Disposition),
			))
		}
		return nil
	})
	return failures, err
}

// ResolveFailedCommit marks jobID's FailedCommit RESOLVED after a later run
// of the same job succeeded.
func (s *ResultStore) ResolveFailedCommit(ctx context.Context, jobID uuid.UUID) error {
	attrs := append(defaultDBAttributes, attribute.String("scan_job.id", jobID.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.result.resolve_failed_commit", attrs, func(ctx context.Context) error {
		return s.q.ResolveFailedCommit(ctx, toPgUUID(jobID))
	})
}

// MarkFailedCommitQueued marks jobID's FailedCommit QUEUED after an operator
// retries it.
func (s *ResultStore) MarkFailedCommitQueued(ctx context.Context, jobID uuid.UUID) error {
	attrs := append(defaultDBAttributes, attribute.String("scan_job.id", jobID.String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.result.mark_failed_commit_queued", attrs, func(ctx context.Context) error {
		return s.q.MarkFailedCommitQueued(ctx, toPgUUID(jobID))
	})
}
