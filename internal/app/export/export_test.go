package export

import (
	"context"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

type fakeResults struct {
	results  []*scanning.ScanResult
	failures []*scanning.FailedCommit
}

func (f *fakeResults) SaveResult(ctx context.Context, result *scanning.ScanResult) error { return nil }
func (f *fakeResults) SaveFailedCommit(ctx context.Context, fc *scanning.FailedCommit) error {
	return nil
}
func (f *fakeResults) ListResultsByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.ScanResult, error) {
	return f.results, nil
}
func (f *fakeResults) ListFailedCommitsByProject(ctx context.Context, projectID uuid.UUID) ([]*scanning.FailedCommit, error) {
	return f.failures, nil
}
func (f *fakeResults) MarkFailedCommitQueued(ctx context.Context, jobID uuid.UUID) error { return nil }
func (f *fakeResults) ResolveFailedCommit(ctx context.Context, jobID uuid.UUID) error    { return nil }

func TestExporter_Stream(t *testing.T) {
	projectID := uuid.New()

	results := &fakeResults{
		results: []*scanning.ScanResult{
			scanning.NewScanResult(uuid.New(), projectID, "acme/beta", "c2", map[string]string{"coverage": "90.0", "code_smells": "3"}),
			scanning.NewScanResult(uuid.New(), projectID, "acme/alpha", "c1", map[string]string{"coverage": "80.0"}),
		},
		failures: []*scanning.FailedCommit{
			scanning.NewFailedCommit(uuid.New(), projectID, "acme/gamma", "c3", "checkout failed", "/logs/c3.log"),
		},
	}

	exporter := New(results)
	var buf strings.Builder
	require.NoError(t, exporter.Stream(context.Background(), projectID, &buf))

	lines := strings.Split(strings.TrimRight(buf.String(), "\n"), "\n")
	require.Len(t, lines, 4)

	assert.Equal(t, "repo_slug,commit_sha,status,failure_reason,code_smells,coverage", lines[0])
	assert.Equal(t, "acme/alpha,c1,SUCCEEDED,,,80.0", lines[1])
	assert.Equal(t, "acme/beta,c2,SUCCEEDED,,3,90.0", lines[2])
	assert.Equal(t, "acme/gamma,c3,FAILED_PERMANENT,checkout failed,,", lines[3])
}

func TestExporter_Stream_NoResults(t *testing.T) {
	results := &fakeResults{}
	exporter := New(results)

	var buf strings.Builder
	require.NoError(t, exporter.Stream(context.Background(), uuid.New(), &buf))

	assert.Equal(t, "repo_slug,commit_sha,status,failure_reason\n", buf.String())
}
