package postgres

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
)

func seedJob(t *testing.T, s *Store) (*scanning.Project, *scanning.ScanJob) {
	t.Helper()
	projects := NewProjectStore(s)
	jobs := NewJobStore(s)

	p := scanning.NewProject("acme-portfolio", "/data/acme.csv", 1)
	require.NoError(t, projects.Create(context.Background(), p))
	j := scanning.NewScanJob(p.ID(), "acme/widgets", "git@host:acme/widgets.git", "deadbeef", "main")
	require.NoError(t, jobs.Create(context.Background(), j))
	return p, j
}

func TestResultStore_SaveAndListResult(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	results := NewResultStore(s)

	project, job := seedJob(t, s)
	result := scanning.NewScanResult(job.ID(), project.ID(), job.RepoSlug(), job.CommitSHA(), map[string]string{"coverage": "92.0"})
	require.NoError(t, results.SaveResult(context.Background(), result))

	got, err := results.ListResultsByProject(context.Background(), project.ID())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, job.ID(), got[0].JobID())
	assert.Equal(t, map[string]string{"coverage": "92.0"}, got[0].Metrics())
}

func TestResultStore_SaveAndListFailedCommit(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	results := NewResultStore(s)

	project, job := seedJob(t, s)
	fc := scanning.NewFailedCommit(job.ID(), project.ID(), job.RepoSlug(), job.CommitSHA(), "checkout failed", "/logs/job.log")
	require.NoError(t, results.SaveFailedCommit(context.Background(), fc))

	got, err := results.ListFailedCommitsByProject(context.Background(), project.ID())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, "checkout failed", got[0].Reason())
	assert.Equal(t, "/logs/job.log", got[0].LogPath())
	assert.Equal(t, scanning.FailedCommitPending, got[0].Disposition())
}

func TestResultStore_ResolveAndMarkQueuedFailedCommit(t *testing.T) {
	pool, cleanup := setupTestContainer(t)
	defer cleanup()
	s := NewStore(pool, storage.NoOpTracer())
	results := NewResultStore(s)

	project, job := seedJob(t, s)
	fc := scanning.NewFailedCommit(job.ID(), project.ID(), job.RepoSlug(), job.CommitSHA(), "checkout failed", "/logs/job.log")
	require.NoError(t, results.SaveFailedCommit(context.Background(), fc))

	require.NoError(t, results.MarkFailedCommitQueued(context.Background(), job.ID()))
	got, err := results.ListFailedCommitsByProject(context.Background(), project.ID())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, scanning.FailedCommitQueued, got[0].Disposition())

	require.NoError(t, results.ResolveFailedCommit(context.Background(), job.ID()))
	got, err = results.ListFailedCommitsByProject(context.Background(), project.ID())
	require.NoError(t, err)
	require.Len(t, got, 1)
	assert.Equal(t, scanning.FailedCommitResolved, got[0].Disposition())
}
