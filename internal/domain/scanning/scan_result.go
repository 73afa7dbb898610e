package scanning

import (
	"time"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// ScanResult is the set of metrics MetricsFetcher retrieved for a SUCCEEDED
// ScanJob, keyed by the analysis server's metric key (e.g. "coverage",
// "complexity", "code_smells").
type ScanResult struct {
	jobID     uuid.UUID
	projectID uuid.UUID
	repoSlug  string
	commitSHA string
	metrics   map[string]string
	fetchedAt time.Time
}

// NewScanResult constructs a ScanResult for a job whose metrics were just
// fetched.
func NewScanResult(jobID, projectID uuid.UUID, repoSlug, commitSHA string, metrics map[string]string) *ScanResult {
	return &ScanResult{
		jobID:     jobID,
		projectID: projectID,
		repoSlug:  repoSlug,
		commitSHA: commitSHA,
		metrics:   metrics,
		fetchedAt: time.Now().UTC(),
	}
}

// ReconstructScanResult rebuilds a ScanResult from persisted column values.
func ReconstructScanResult(jobID, projectID uuid.UUID, repoSlug, commitSHA string, metrics map[string]string, fetchedAt time.Time) *ScanResult {
	return &ScanResult{jobID: jobID, projectID: projectID, repoSlug: repoSlug, commitSHA: commitSHA, metrics: metrics, fetchedAt: fetchedAt}
}

func (r *ScanResult) JobID() uuid.UUID            { return r.jobID }
func (r *ScanResult) ProjectID() uuid.UUID        { return r.projectID }
func (r *ScanResult) RepoSlug() string            { return r.repoSlug }
func (r *ScanResult) CommitSHA() string           { return r.commitSHA }
func (r *ScanResult) Metrics() map[string]string  { return r.metrics }
func (r *ScanResult) FetchedAt() time.Time        { return r.fetchedAt }

// FailedCommitDisposition tracks an operator's progress toward resolving a
// FailedCommit: left alone, requeued for another attempt, or superseded by a
// later SUCCEEDED run of the same job.
type FailedCommitDisposition string

const (
	FailedCommitPending  FailedCommitDisposition = "PENDING"
	FailedCommitQueued   FailedCommitDisposition = "QUEUED"
	FailedCommitResolved FailedCommitDisposition = "RESOLVED"
)

// FailedCommit records a ScanJob that reached FAILED_PERMANENT, kept
// separately from ScanResult so the Exporter can report successes and
// failures through distinct, simply-shaped queries.
type FailedCommit struct {
	jobID     uuid.UUID
	projectID uuid.UUID
	repoSlug  string
	commitSHA string
	reason    string
	logPath   string
	failedAt  time.Time

	disposition FailedCommitDisposition
}

// NewFailedCommit constructs a FailedCommit for a job that just reached
// FAILED_PERMANENT.
func NewFailedCommit(jobID, projectID uuid.UUID, repoSlug, commitSHA, reason, logPath string) *FailedCommit {
	return &FailedCommit{
		jobID: jobID, projectID: projectID, repoSlug: repoSlug, commitSHA: commitSHA,
		reason: reason, logPath: logPath, failedAt: time.Now().UTC(),
		disposition: FailedCommitPending,
	}
}

// ReconstructFailedCommit rebuilds a FailedCommit from persisted column
// values.
func ReconstructFailedCommit(jobID, projectID uuid.UUID, repoSlug, commitSHA, reason, logPath string, failedAt time.Time, disposition FailedCommitDisposition) *FailedCommit {
	return &FailedCommit{
		jobID: jobID, projectID: projectID, repoSlug: repoSlug, commitSHA: commitSHA,
		reason: reason, logPath: logPath, failedAt: failedAt, disposition: disposition,
	}
}

func (f *FailedCommit) JobID() uuid.UUID                        { return f.jobID }
func (f *FailedCommit) ProjectID() uuid.UUID                    { return f.projectID }
func (f *FailedCommit) RepoSlug() string                        { return f.repoSlug }
func (f *FailedCommit) CommitSHA() string                       { return f.commitSHA }
func (f *FailedCommit) Reason() string                          { return f.reason }
func (f *FailedCommit) LogPath() string                         { return f.logPath }
func (f *FailedCommit) FailedAt() time.Time                     { return f.failedAt }
func (f *FailedCommit) Disposition() FailedCommitDisposition    { return f.disposition }

// MarkQueued records that an operator requeued the underlying job for
// another attempt.
func (f *FailedCommit) MarkQueued() { f.disposition = FailedCommitQueued }

// MarkResolved records that a later run of the same job succeeded.
func (f *FailedCommit) MarkResolved() { f.disposition = FailedCommitResolved }
