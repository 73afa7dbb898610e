package db

import (
	"context"

	"github.com/jackc/pgx/v5/pgtype"
)

const createProject = `
INSERT INTO projects (id, name, source_path, total_commits, status, config_override, created_at, updated_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
`

type CreateProjectParams struct {
	ID             pgtype.UUID
	Name           string
	SourcePath     string
	TotalCommits   int32
	Status         string
	ConfigOverride string
	CreatedAt      pgtype.Timestamptz
	UpdatedAt      pgtype.Timestamptz
}

func (q *Queries) CreateProject(ctx context.Context, arg CreateProjectParams) error {
	_, err := q.db.Exec(ctx, createProject, arg.ID, arg.Name, arg.SourcePath, arg.TotalCommits, arg.Status, arg.ConfigOverride, arg.CreatedAt, arg.UpdatedAt)
	return err
}

const getProject = `
SELECT id, name, source_path, total_commits, processed_commits, failed_commits, status, created_at, updated_at, config_override
FROM projects WHERE id = $1
`

func (q *Queries) GetProject(ctx context.Context, id pgtype.UUID) (Project, error) {
	row := q.db.QueryRow(ctx, getProject, id)
	var p Project
	err := row.Scan(&p.ID, &p.Name, &p.SourcePath, &p.TotalCommits, &p.ProcessedCommits, &p.FailedCommits, &p.Status, &p.CreatedAt, &p.UpdatedAt, &p.ConfigOverride)
	return p, err
}

const updateProject = `
UPDATE projects
SET processed_commits = $2, failed_commits = $3, status = $4, updated_at = $5, config_override = $6
WHERE id = $1
`

type UpdateProjectParams struct {
	ID               pgtype.UUID
	ProcessedCommits int32
	FailedCommits    int32
	Status           string
	UpdatedAt        pgtype.Timestamptz
	ConfigOverride   string
}

func (q *Queries) UpdateProject(ctx context.Context, arg UpdateProjectParams) (int64, error) {
	tag, err := q.db.Exec(ctx, updateProject, arg.ID, arg.ProcessedCommits, arg.FailedCommits, arg.Status, arg.UpdatedAt, arg.ConfigOverride)
	if err != nil {
		return 0, err
	}
	return tag.RowsAffected(), nil
}
