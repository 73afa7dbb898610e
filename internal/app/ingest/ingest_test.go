package ingest

import (
	"context"
	"strings"
	"testing"
	"time"

	"github.com/IBM/sarama/mocks"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/storage"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

type fakeProjects struct {
	created []*scanning.Project
	updated []*scanning.Project
}

func (f *fakeProjects) Create(ctx context.Context, p *scanning.Project) error {
	f.created = append(f.created, p)
	return nil
}
func (f *fakeProjects) Get(ctx context.Context, id uuid.UUID) (*scanning.Project, error) {
	for _, p := range f.created {
		if p.ID() == id {
			return p, nil
		}
	}
	return nil, scanning.ErrProjectNotFound
}
func (f *fakeProjects) Update(ctx context.Context, p *scanning.Project) error {
	f.updated = append(f.updated, p)
	return nil
}

type fakeJobs struct {
	created []*scanning.ScanJob
	swapped []*scanning.ScanJob
}

func (f *fakeJobs) Create(ctx context.Context, job *scanning.ScanJob) error {
	f.created = append(f.created, job)
	return nil
}
func (f *fakeJobs) CompareAndSwap(ctx context.Context, job *scanning.ScanJob, expectedStatus scanning.JobStatus, expectedAttempts int) error {
	f.swapped = append(f.swapped, job)
	return nil
}
func (f *fakeJobs) Get(ctx context.Context, id uuid.UUID) (*scanning.ScanJob, error) {
	return nil, scanning.ErrJobNotFound
}
func (f *fakeJobs) GetBySubmissionID(ctx context.Context, submissionID string) (*scanning.ScanJob, error) {
	return nil, scanning.ErrJobNotFound
}
func (f *fakeJobs) ListStale(ctx context.Context, olderThan time.Duration, limit int) ([]*scanning.ScanJob, error) {
	return nil, nil
}
func (f *fakeJobs) ListByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.ScanJob, error) {
	return nil, nil
}
func (f *fakeJobs) CountByProjectAndStatus(ctx context.Context, projectID uuid.UUID) (int, int, error) {
	return 0, 0, nil
}
func (f *fakeJobs) ListStaleQueued(ctx context.Context, olderThan time.Duration, limit int) ([]*scanning.ScanJob, error) {
	return nil, nil
}
func (f *fakeJobs) ListFailedPermanentMissingFailedCommit(ctx context.Context, limit int) ([]*scanning.ScanJob, error) {
	return nil, nil
}

func newTestQueue(t *testing.T, expectedMessages int) *kafka.Queue {
	t.Helper()
	cfg := mocks.NewTestConfig()
	cfg.Producer.Return.Successes = true
	producer := mocks.NewSyncProducer(t, cfg)
	for i := 0; i < expectedMessages; i++ {
		producer.ExpectSendMessageAndSucceed()
	}

	qcfg := &kafka.Config{NormalTopic: "scan-jobs-normal", RetryTopic: "scan-jobs-retry", HighTopic: "scan-jobs-high", DLQTopic: "scan-jobs-dlq"}
	log := logger.New(discard{}, logger.LevelError, "TEST", nil)
	return kafka.NewQueue(producer, nil, qcfg, log, nil, storage.NoOpTracer())
}

func TestIngestor_Ingest_CreatesProjectAndQueuesJobs(t *testing.T) {
	csvBody := "gh_project_name,git_trigger_commit,git_branch\n" +
		"acme/alpha,c1,main\n" +
		"acme/beta,c2,main\n"

	projects := &fakeProjects{}
	jobs := &fakeJobs{}
	queue := newTestQueue(t, 2)
	selector := func() string { return "analysis-1" }
	log := logger.New(discard{}, logger.LevelError, "TEST", nil)

	ingestor := New(projects, jobs, queue, selector, log)

	project, err := ingestor.Ingest(context.Background(), "acme-portfolio", "/data/acme.csv", strings.NewReader(csvBody))
	require.NoError(t, err)

	require.Len(t, projects.created, 1)
	assert.Equal(t, project.ID(), projects.created[0].ID())
	assert.Equal(t, 2, project.TotalCommits())

	require.Len(t, jobs.created, 2)
	assert.Equal(t, "acme/alpha", jobs.created[0].RepoSlug())
	assert.Equal(t, "c1", jobs.created[0].CommitSHA())
	assert.Equal(t, "acme/beta", jobs.created[1].RepoSlug())

	require.Len(t, jobs.swapped, 2)
	for _, j := range jobs.swapped {
		assert.Equal(t, scanning.JobStatusQueued, j.Status())
		assert.Equal(t, "analysis-1", j.AnalysisServer())
	}

	require.Len(t, projects.updated, 1)
	assert.Equal(t, scanning.ProjectStatusCollecting, projects.updated[0].Status())
}

func TestIngestor_Ingest_AppliesPerRowConfigOverride(t *testing.T) {
	csvBody := "gh_project_name,git_trigger_commit,git_branch,config_override\n" +
		"acme/alpha,c1,main,sonar.exclusions=**/vendor/**\n" +
		"acme/beta,c2,main,\n"

	projects := &fakeProjects{}
	jobs := &fakeJobs{}
	queue := newTestQueue(t, 2)
	log := logger.New(discard{}, logger.LevelError, "TEST", nil)

	ingestor := New(projects, jobs, queue, func() string { return "analysis-1" }, log)

	_, err := ingestor.Ingest(context.Background(), "acme-portfolio", "/data/acme.csv", strings.NewReader(csvBody))
	require.NoError(t, err)

	require.Len(t, jobs.created, 2)
	assert.Equal(t, "sonar.exclusions=**/vendor/**", jobs.created[0].ConfigOverride())
	assert.Empty(t, jobs.created[1].ConfigOverride())
}

func TestIngestor_Ingest_MissingRequiredColumnFails(t *testing.T) {
	csvBody := "gh_project_name,git_branch\nacme/alpha,main\n"

	projects := &fakeProjects{}
	jobs := &fakeJobs{}
	queue := newTestQueue(t, 0)
	log := logger.New(discard{}, logger.LevelError, "TEST", nil)

	ingestor := New(projects, jobs, queue, func() string { return "analysis-1" }, log)

	_, err := ingestor.Ingest(context.Background(), "acme-portfolio", "/data/acme.csv", strings.NewReader(csvBody))
	require.Error(t, err)
	assert.Empty(t, projects.created)
}
