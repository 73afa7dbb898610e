package scanning

import (
	"fmt"
	"time"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// MaxAttempts bounds how many times a ScanJob may cycle through
// FAILED_TEMP -> QUEUED before it is classified FAILED_PERMANENT.
const MaxAttempts = 5

// ScanJob is a single (repo, commit) unit of work moving through the state
// machine documented in job_status.go. Fields are private; callers mutate
// through the methods below so every transition is validated in one place.
type ScanJob struct {
	id        uuid.UUID
	projectID uuid.UUID

	repoSlug   string
	repoURL    string
	commitSHA  string
	branch     string

	analysisServer string // the instance this job is bound to once QUEUED

	status   JobStatus
	attempts int

	submissionID string // analysis-server-assigned task id, set on submit
	lockToken    string // InstanceLock token held while RUNNING
	logPath      string // local path to the scanner's captured output
	failureReason string

	configOverride string // raw sonar-project properties content, job-level override

	createdAt   time.Time
	updatedAt   time.Time
	queuedAt    *time.Time
	startedAt   *time.Time
	completedAt *time.Time
}

// NewScanJob constructs a fresh PENDING job for a CSV-ingested commit row.
func NewScanJob(projectID uuid.UUID, repoSlug, repoURL, commitSHA, branch string) *ScanJob {
	now := time.Now().UTC()
	return &ScanJob{
		id:         uuid.New(),
		projectID:  projectID,
		repoSlug:   repoSlug,
		repoURL:    repoURL,
		commitSHA:  commitSHA,
		branch:     branch,
		status:     JobStatusPending,
		attempts:   0,
		createdAt:  now,
		updatedAt:  now,
	}
}

// ReconstructScanJob rebuilds a ScanJob from persisted column values. Used
// exclusively by the storage layer when mapping rows back to domain objects.
func ReconstructScanJob(
	id, projectID uuid.UUID,
	repoSlug, repoURL, commitSHA, branch, analysisServer string,
	status JobStatus,
	attempts int,
	submissionID, lockToken, logPath, failureReason string,
	createdAt, updatedAt time.Time,
	queuedAt, startedAt, completedAt *time.Time,
	configOverride string,
) *ScanJob {
	return &ScanJob{
		id:             id,
		projectID:      projectID,
		repoSlug:       repoSlug,
		repoURL:        repoURL,
		commitSHA:      commitSHA,
		branch:         branch,
		analysisServer: analysisServer,
		status:         status,
		attempts:       attempts,
		submissionID:   submissionID,
		lockToken:      lockToken,
		logPath:        logPath,
		failureReason:  failureReason,
		createdAt:      createdAt,
		updatedAt:      updatedAt,
		queuedAt:       queuedAt,
		startedAt:      startedAt,
		completedAt:    completedAt,
		configOverride: configOverride,
	}
}

func (j *ScanJob) ID() uuid.UUID             { return j.id }
func (j *ScanJob) ProjectID() uuid.UUID      { return j.projectID }
func (j *ScanJob) RepoSlug() string          { return j.repoSlug }
func (j *ScanJob) RepoURL() string           { return j.repoURL }
func (j *ScanJob) CommitSHA() string         { return j.commitSHA }
func (j *ScanJob) Branch() string            { return j.branch }
func (j *ScanJob) AnalysisServer() string    { return j.analysisServer }
func (j *ScanJob) Status() JobStatus         { return j.status }
func (j *ScanJob) Attempts() int             { return j.attempts }
func (j *ScanJob) SubmissionID() string      { return j.submissionID }
func (j *ScanJob) LockToken() string         { return j.lockToken }
func (j *ScanJob) LogPath() string           { return j.logPath }
func (j *ScanJob) FailureReason() string     { return j.failureReason }
func (j *ScanJob) CreatedAt() time.Time      { return j.createdAt }
func (j *ScanJob) UpdatedAt() time.Time      { return j.updatedAt }
func (j *ScanJob) QueuedAt() *time.Time      { return j.queuedAt }
func (j *ScanJob) StartedAt() *time.Time     { return j.startedAt }
func (j *ScanJob) CompletedAt() *time.Time   { return j.completedAt }
func (j *ScanJob) ConfigOverride() string    { return j.configOverride }

// SetConfigOverride records a job-level sonar-project.properties override,
// taking precedence over the project's override at scan time.
func (j *ScanJob) SetConfigOverride(v string) { j.configOverride = v }

// MarkQueued transitions PENDING/FAILED_TEMP/FAILED_PERMANENT -> QUEUED and
// records the analysis server the dispatcher intends to bind this job to.
func (j *ScanJob) MarkQueued(analysisServer string) error {
	if err := ValidateTransition(j.status, JobStatusQueued); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.status = JobStatusQueued
	j.analysisServer = analysisServer
	j.queuedAt = &now
	j.updatedAt = now
	return nil
}

// MarkRunning transitions QUEUED -> RUNNING once a dispatcher has acquired
// the instance lock and submitted the scan, recording the lease token and
// the analysis-server-assigned submission id.
func (j *ScanJob) MarkRunning(lockToken, submissionID string) error {
	if err := ValidateTransition(j.status, JobStatusRunning); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.status = JobStatusRunning
	j.lockToken = lockToken
	j.submissionID = submissionID
	j.startedAt = &now
	j.updatedAt = now
	return nil
}

// MarkSucceeded transitions RUNNING -> SUCCEEDED.
func (j *ScanJob) MarkSucceeded() error {
	if err := ValidateTransition(j.status, JobStatusSucceeded); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.status = JobStatusSucceeded
	j.completedAt = &now
	j.updatedAt = now
	j.failureReason = ""
	return nil
}

// MarkFailedTemp transitions RUNNING -> FAILED_TEMP, incrementing the
// attempt counter and recording why. If the attempt budget is now exhausted,
// callers should follow with MarkFailedPermanent instead of requeuing.
func (j *ScanJob) MarkFailedTemp(reason string) error {
	if err := ValidateTransition(j.status, JobStatusFailedTemp); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.status = JobStatusFailedTemp
	j.attempts++
	j.failureReason = reason
	j.updatedAt = now
	return nil
}

// RequeueAfterFailure records a failure that happened before the job ever
// reached RUNNING (checkout or submission failed) and loops it back through
// QUEUED via the self-transition, bumping the attempt counter the same way
// MarkFailedTemp does. Callers must check ExhaustedAttempts first and call
// MarkFailedPermanent instead once the budget is spent.
func (j *ScanJob) RequeueAfterFailure(reason string) error {
	if err := ValidateTransition(j.status, JobStatusQueued); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.status = JobStatusQueued
	j.attempts++
	j.failureReason = reason
	j.queuedAt = &now
	j.updatedAt = now
	return nil
}

// ExhaustedAttempts reports whether attempts has reached MaxAttempts.
func (j *ScanJob) ExhaustedAttempts() bool { return j.attempts >= MaxAttempts }

// MarkFailedPermanent transitions QUEUED, RUNNING or FAILED_TEMP ->
// FAILED_PERMANENT.
func (j *ScanJob) MarkFailedPermanent(reason string) error {
	if err := ValidateTransition(j.status, JobStatusFailedPermanent); err != nil {
		return err
	}
	now := time.Now().UTC()
	j.status = JobStatusFailedPermanent
	j.failureReason = reason
	j.completedAt = &now
	j.updatedAt = now
	return nil
}

// Retry transitions FAILED_TEMP or FAILED_PERMANENT (operator override) back
// to QUEUED. Returns ErrAttemptBudgetExhausted if called from FAILED_TEMP
// once the budget is already spent instead of progressing to
// FAILED_PERMANENT first.
func (j *ScanJob) Retry() error {
	if j.status != JobStatusFailedTemp && j.status != JobStatusFailedPermanent {
		return fmt.Errorf("%w: retry from %s", ErrInvalidTransition, j.status)
	}
	if j.status == JobStatusFailedTemp && j.ExhaustedAttempts() {
		return ErrAttemptBudgetExhausted
	}
	if err := ValidateTransition(j.status, JobStatusQueued); err != nil {
		return err
	}
	now := time.Now().UTC()
	if j.status == JobStatusFailedPermanent {
		j.attempts = 0
	}
	j.status = JobStatusQueued
	j.queuedAt = &now
	j.updatedAt = now
	return nil
}

// SetLogPath records the local path to the scanner's captured stdout/stderr.
func (j *ScanJob) SetLogPath(path string) { j.logPath = path }
