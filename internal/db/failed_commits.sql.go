package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createFailedCommit = `
INSERT INTO failed_commits (job_id, project_id, repo_slug, commit_sha, reason, log_path, failed_at, disposition)
VALUES ($1, $2, $3, $4, $5, $6, $7, 'PENDING')
ON CONFLICT (job_id) DO UPDATE SET reason = EXCLUDED.reason, log_path = EXCLUDED.log_path, failed_at = EXCLUDED.failed_at, disposition = 'PENDING'
`

type CreateFailedCommitParams struct {
	JobID     pgtype.UUID
	ProjectID pgtype.UUID
	RepoSlug  string
	CommitSha string
	Reason    string
	LogPath   string
	FailedAt  pgtype.Timestamptz
}

func (q *Queries) CreateFailedCommit(ctx context.Context, arg CreateFailedCommitParams) error {
	_, err := q.db.Exec(ctx, createFailedCommit, arg.JobID, arg.ProjectID, arg.RepoSlug, arg.CommitSha, arg.Reason, arg.LogPath, arg.FailedAt)
	return err
}

const listFailedCommitsByProject = `
SELECT job_id, project_id, repo_slug, commit_sha, reason, log_path, failed_at, disposition
FROM failed_commits WHERE project_id = $1 ORDER BY repo_slug, commit_sha
`

func (q *Queries) ListFailedCommitsByProject(ctx context.Context, projectID pgtype.UUID) ([]FailedCommit, error) {
	rows, err := q.db.Query(ctx, listFailedCommitsByProject, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []FailedCommit
	for rows.Next() {
		var r FailedCommit
		if err := rows.Scan(&r.JobID, &r.ProjectID, &r.RepoSlug, &r.CommitSha, &r.Reason, &r.LogPath, &r.FailedAt, &r.Disposition); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}

const resolveFailedCommit = `
UPDATE failed_commits SET disposition = 'RESOLVED' WHERE job_id = $1
`

// ResolveFailedCommit marks a job's FailedCommit RESOLVED. A no-op if no row
// exists for jobID.
func (q *Queries) ResolveFailedCommit(ctx context.Context, jobID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, resolveFailedCommit, jobID)
	return err
}

const markFailedCommitQueued = `
UPDATE failed_commits SET disposition = 'QUEUED' WHERE job_id = $1
`

// MarkFailedCommitQueued marks a job's FailedCommit QUEUED. A no-op if no row
// exists for jobID.
func (q *Queries) MarkFailedCommitQueued(ctx context.Context, jobID pgtype.UUID) error {
	_, err := q.db.Exec(ctx, markFailedCommitQueued, jobID)
	return err
}
