package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createScanResult = `
INSERT INTO scan_results (job_id, project_id, repo_slug, commit_sha, metrics, fetched_at)
VALUES ($1, $2, $3, $4, $5, $6)
ON CONFLICT (job_id) DO UPDATE SET metrics = EXCLUDED.metrics, fetched_at = EXCLUDED.fetched_at
`

type CreateScanResultParams struct {
	JobID     pgtype.UUID
	ProjectID pgtype.UUID
	RepoSlug  string
	CommitSha string
	Metrics   []byte
	FetchedAt pgtype.Timestamptz
}

func (q *Queries) CreateScanResult(ctx context.Context, arg CreateScanResultParams) error {
	_, err := q.db.Exec(ctx, createScanResult, arg.JobID, arg.ProjectID, arg.RepoSlug, arg.CommitSha, arg.Metrics, arg.FetchedAt)
	return err
}

const listScanResultsByProject = `
SELECT job_id, project_id, repo_slug, commit_sha, metrics, fetched_at
FROM scan_results WHERE project_id = $1 ORDER BY repo_slug, commit_sha
`

func (q *Queries) ListScanResultsByProject(ctx context.Context, projectID pgtype.UUID) ([]ScanResult, error) {
	rows, err := q.db.Query(ctx, listScanResultsByProject, projectID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []ScanResult
	for rows.Next() {
		var r ScanResult
		if err := rows.Scan(&r.JobID, &r.ProjectID, &r.RepoSlug, &r.CommitSha, &r.Metrics, &r.FetchedAt); err != nil {
			return nil, err
		}
		results = append(results, r)
	}
	return results, rows.Err()
}
