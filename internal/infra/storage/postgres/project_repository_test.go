package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

func TestProjectStore_CreateAndGet(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	projects := NewProjectStore(s)

	p := scanning.NewProject("acme-portfolio", "/data/acme.csv", 25)
	require.NoError(t, projects.Create(context.Background(), p))

	got, err := projects.Get(context.Background(), p.ID())
	require.NoError(t, err)
	assert.Equal(t, "acme-portfolio", got.Name())
	assert.Equal(t, 25, got.TotalCommits())
	assert.Equal(t, scanning.ProjectStatusCreated, got.Status())
}

func TestProjectStore_Get_NotFound(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	projects := NewProjectStore(s)

	_, err := projects.Get(context.Background(), uuid.New())
	assert.ErrorIs(t, err, scanning.ErrProjectNotFound)
}

func TestProjectStore_Update_PersistsCountersAndStatus(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	projects := NewProjectStore(s)

	p := scanning.NewProject("acme-portfolio", "/data/acme.csv", 2)
	require.NoError(t, projects.Create(context.Background(), p))

	p.RecomputeCompletion(1, 1)
	require.NoError(t, projects.Update(context.Background(), p))

	got, err := projects.Get(context.Background(), p.ID())
	require.NoError(t, err)
	assert.Equal(t, 1, got.ProcessedCommits())
	assert.Equal(t, 1, got.FailedCommits())
	assert.Equal(t, scanning.ProjectStatusPartial, got.Status())
}

func TestProjectStore_Update_NotFound(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	projects := NewProjectStore(s)

	ghost := scanning.NewProject("ghost", "/data/ghost.csv", 1)
	err := projects.Update(context.Background(), ghost)
	assert.ErrorIs(t, err, scanning.ErrProjectNotFound)
}
