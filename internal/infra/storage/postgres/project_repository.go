package postgres

import (
	"context"

	"go.opentelemetry.io/otel/attribute"

	"github.com/ahrav/commit-quality-orchestrator/internal/db"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// ProjectStore implements scanning.ProjectRepository over Postgres.
type ProjectStore struct{ *Store }

// NewProjectStore builds a ProjectStore over store's pool.
func NewProjectStore(store *Store) *ProjectStore { return &ProjectStore{Store: store} }

func toDomainProject(row db.Project) *scanning.Project {
	return scanning.ReconstructProject(
		fromPgUUID(row.ID), row.Name, row.SourcePath,
		int(row.TotalCommits), int(row.ProcessedCommits), int(row.FailedCommits),
		scanning.ProjectStatus(row.Status), row.CreatedAt.Time, row.UpdatedAt.Time,
		row.ConfigOverride,
	)
}

// Create inserts a new Project row.
func (s *ProjectStore) Create(ctx context.Context, p *scanning.Project) error {
	attrs := append(defaultDBAttributes, attribute.String("project.id", p.ID().String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.project.create", attrs, func(ctx context.Context) error {
		return s.q.CreateProject(ctx, db.CreateProjectParams{
			ID:             toPgUUID(p.ID()),
			Name:           p.Name(),
			SourcePath:     p.SourcePath(),
			TotalCommits:   int32(p.TotalCommits()),
			Status:         string(p.Status()),
			ConfigOverride: p.ConfigOverride(),
			CreatedAt:      toPgTimestamptz(p.CreatedAt()),
			UpdatedAt:      toPgTimestamptz(p.UpdatedAt()),
		})
	})
}

// Get fetches a Project by id.
func (s *ProjectStore) Get(ctx context.Context, id uuid.UUID) (*scanning.Project, error) {
	var project *scanning.Project
	attrs := append(defaultDBAttributes, attribute.String("project.id", id.String()))
	err := storage.ExecuteAndTrace(ctx, s.tracer, "postgres.project.get", attrs, func(ctx context.Context) error {
		row, err := s.q.GetProject(ctx, toPgUUID(id))
		if err != nil {
			return mapNotFound(err, scanning.ErrProjectNotFound)
		}
		project = toDomainProject(row)
		return nil
	})
	return project, err
}

// Update persists the project's aggregate counters and status.
func (s *ProjectStore) Update(ctx context.Context, p *scanning.Project) error {
	attrs := append(defaultDBAttributes, attribute.String("project.id", p.ID().String()))
	return storage.ExecuteAndTrace(ctx, s.tracer, "postgres.project.update", attrs, func(ctx context.Context) error {
		rows, err := s.q.UpdateProject(ctx, db.UpdateProjectParams{
			ID:               toPgUUID(p.ID()),
			ProcessedCommits: int32(p.ProcessedCommits()),
			FailedCommits:    int32(p.FailedCommits()),
			Status:           string(p.Status()),
			UpdatedAt:        toPgTimestamptz(p.UpdatedAt()),
			ConfigOverride:   p.ConfigOverride(),
		})
		if err != nil {
			return err
		}
		if rows == 0 {
			return scanning.ErrProjectNotFound
		}
		return nil
	})
}
