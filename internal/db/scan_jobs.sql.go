package db

import (
	"context"
	"time"

	"github.com/jackc/pgx/v5/pgtype"
)

const createScanJob = `
INSERT INTO scan_jobs (id, project_id, repo_slug, repo_url, commit_sha, branch, status, attempts, config_override, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
`

type CreateScanJobParams struct {
	ID             pgtype.UUID
	ProjectID      pgtype.UUID
	RepoSlug       string
	RepoUrl        string
	CommitSha      string
	Branch         string
	Status         string
	Attempts       int32
	ConfigOverride string
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

func (q *Queries) CreateScanJob(ctx context.Context, arg CreateScanJobParams) error {
	_, err := q.db.Exec(ctx, createScanJob, arg.ID, arg.ProjectID, arg.RepoSlug, arg.RepoUrl, arg.CommitSha, arg.Branch, arg.Status, arg.Attempts, arg.ConfigOverride, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const getScanJob = `
SELECT id, project_id, repo_slug, repo_url, commit_sha, branch, analysis_server, status, attempts,
       submission_id, lock_token, log_path, failure_reason, created_at, updated_at, queued_at, started_at, completed_at, config_override
FROM scan_jobs WHERE id = $1
`

const getScanJobBySubmissionID = `
SELECT id, project_id, repo_slug, repo_url, commit_sha, branch, analysis_server, status, attempts,
       submission_id, lock_token, log_path, failure_reason, created_at, updated_at, queued_at, started_at, completed_at, config_override
FROM scan_jobs WHERE submission_id = $1
`

func scanScanJobRow(row interface {
	Scan(dest ...any) error
}) (ScanJob, error) {
	var j ScanJob
	err := row.Scan(
		&j.ID, &j.ProjectID, &j.RepoSlug, &j.RepoUrl, &j.CommitSha, &j.Branch, &j.AnalysisServer, &j.Status, &j.Attempts,
		&j.SubmissionID, &j.LockToken, &j.LogPath, &j.FailureReason, &j.CreatedAt, &j.UpdatedAt, &j.QueuedAt, &j.StartedAt, &j.CompletedAt,
		&j.ConfigOverride,
	)
	return j, err
}

func (q *Queries) GetScanJob(ctx context.Context, id pgtype.UUID) (ScanJob, error) {
	return scanScanJobRow(q.db.QueryRow(ctx, getScanJob, id))
}

func (q *Queries) GetScanJobBySubmissionID(ctx context.Context, submissionID string) (ScanJob, error) {
	return scanScanJobRow(q.db.QueryRow(ctx, getScanJobBySubmissionID, submissionID))
}

const listScanJobsByProject = `
SELECT id, project_id, repo_slug, repo_url, commit_sha, branch, analysis_server, status, attempts,
       submission_id, lock_token, log_path, failure_reason, created_at, updated_at, queued_at, started_at, completed_at, config_override
FROM scan_jobs WHERE project_id = $1 ORDER BY created_at
`

func (q *Queries) ListScanJobsByProject(ctx context.Context, projectID pgtype.UUID) ([]ScanJob, error) {
	rows, err := q.db.Query(ctx, listScanJobsByProject, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ScanJob
	for rows.Next() {
		j, err := scanScanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const listStaleRunningScanJobs = `
SELECT id, project_id, repo_slug, repo_url, commit_sha, branch, analysis_server, status, attempts,
       submission_id, lock_token, log_path, failure_reason, created_at, updated_at, queued_at, started_at, completed_at, config_override
FROM scan_jobs WHERE status = 'RUNNING' AND updated_at < $1 ORDER BY updated_at LIMIT $2
`

func (q *Queries) ListStaleRunningScanJobs(ctx context.Context, olderThan time.Time, limit int32) ([]ScanJob, error) {
	rows, err := q.db.Query(ctx, listStaleRunningScanJobs, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ScanJob
	for rows.Next() {
		j, err := scanScanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const listStaleQueuedScanJobs = `
SELECT id, project_id, repo_slug, repo_url, commit_sha, branch, analysis_server, status, attempts,
       submission_id, lock_token, log_path, failure_reason, created_at, updated_at, queued_at, started_at, completed_at, config_override
FROM scan_jobs WHERE status = 'QUEUED' AND queued_at < $1 ORDER BY queued_at LIMIT $2
`

// ListStaleQueuedScanJobs returns QUEUED jobs the dispatcher never picked up.
func (q *Queries) ListStaleQueuedScanJobs(ctx context.Context, olderThan time.Time, limit int32) ([]ScanJob, error) {
	rows, err := q.db.Query(ctx, listStaleQueuedScanJobs, olderThan, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ScanJob
	for rows.Next() {
		j, err := scanScanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const listFailedPermanentScanJobsMissingFailedCommit = `
SELECT sj.id, sj.project_id, sj.repo_slug, sj.repo_url, sj.commit_sha, sj.branch, sj.analysis_server, sj.status, sj.attempts,
       sj.submission_id, sj.lock_token, sj.log_path, sj.failure_reason, sj.created_at, sj.updated_at, sj.queued_at, sj.started_at, sj.completed_at, sj.config_override
FROM scan_jobs sj
LEFT JOIN failed_commits fc ON fc.job_id = sj.id
WHERE sj.status = 'FAILED_PERMANENT' AND fc.job_id IS NULL
ORDER BY sj.updated_at LIMIT $1
`

// ListFailedPermanentScanJobsMissingFailedCommit backfills FailedCommit rows
// lost to a crash between the status write and the FailedCommit save.
func (q *Queries) ListFailedPermanentScanJobsMissingFailedCommit(ctx context.Context, limit int32) ([]ScanJob, error) {
	rows, err := q.db.Query(ctx, listFailedPermanentScanJobsMissingFailedCommit, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var jobs []ScanJob
	for rows.Next() {
		j, err := scanScanJobRow(rows)
		if err != nil {
			return nil, err
		}
		jobs = append(jobs, j)
	}
	return jobs, rows.Err()
}

const countScanJobsByProjectAndStatus = `
SELECT
  count(*) FILTER (WHERE status = 'SUCCEEDED') AS succeeded,
  count(*) FILTER (WHERE status = 'FAILED_PERMANENT') AS failed_permanent
FROM scan_jobs WHERE project_id = $1
`

func (q *Queries) CountScanJobsByProjectAndStatus(ctx context.Context, projectID pgtype.UUID) (succeeded, failedPermanent int32, err error) {
	row := q.db.QueryRow(ctx, countScanJobsByProjectAndStatus, projectID)
	err = row.Scan(&succeeded, &failedPermanent)
	return
}

// updateScanJobCAS is the conditional UPDATE backing JobRepository.CompareAndSwap:
// it only applies when the row's state and attempts still match the caller's
// expectation, giving optimistic-concurrency-safe writes under concurrent
// dispatchers/webhooks/reconciler sweeps.
const updateScanJobCAS = `
UPDATE scan_jobs
SET analysis_server = $3, status = $4, attempts = $5, submission_id = $6, lock_token = $7,
    log_path = $8, failure_reason = $9, updated_at = $10, queued_at = $11, started_at = $12, completed_at = $13,
    config_override = $14
WHERE id = $1 AND status = $2 AND attempts = $15
`

type UpdateScanJobCASParams struct {
	ID               pgtype.UUID
	ExpectedStatus   string
	AnalysisServer   string
	Status           string
	Attempts         int32
	SubmissionID     string
	LockToken        string
	LogPath          string
	FailureReason    string
	UpdatedAt        pgtype.Timestamptz
	QueuedAt         pgtype.Timestamptz
	StartedAt        pgtype.Timestamptz
	CompletedAt      pgtype.Timestamptz
	ConfigOverride   string
	ExpectedAttempts int32
}

func (q *Queries) UpdateScanJobCAS(ctx context.Context, arg UpdateScanJobCASParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateScanJobCAS,
		arg.ID, arg.ExpectedStatus, arg.AnalysisServer, arg.Status, arg.Attempts, arg.SubmissionID, arg.LockToken,
		arg.LogPath, arg.FailureReason, arg.UpdatedAt, arg.QueuedAt, arg.StartedAt, arg.CompletedAt, arg.ConfigOverride,
		arg.ExpectedAttempts,
	)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
