package scanning

import (
	"time"

	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// ProjectStatus tracks whether a Project's commits are still being
// processed or have all reached a terminal ScanJob state.
type ProjectStatus string

const (
	// ProjectStatusCreated is the initial state, set before the Ingestor has
	// written any ScanJob rows for this project.
	ProjectStatusCreated ProjectStatus = "CREATED"
	// ProjectStatusCollecting holds while ScanJobs are queued or running.
	ProjectStatusCollecting ProjectStatus = "COLLECTING"
	// ProjectStatusDone means every commit reached a terminal state with zero
	// permanent failures.
	ProjectStatusDone ProjectStatus = "DONE"
	// ProjectStatusPartial means every commit reached a terminal state but at
	// least one ended FAILED_PERMANENT.
	ProjectStatusPartial ProjectStatus = "PARTIAL"
)

// Project groups the ScanJobs ingested from a single CSV upload.
type Project struct {
	id   uuid.UUID
	name string

	sourcePath string // path to the ingested CSV

	totalCommits     int
	processedCommits int // SUCCEEDED
	failedCommits    int // FAILED_PERMANENT

	status ProjectStatus

	configOverride string // raw sonar-project properties content, project-level default

	createdAt time.Time
	updatedAt time.Time
}

// NewProject constructs a Project about to be populated by the Ingestor.
func NewProject(name, sourcePath string, totalCommits int) *Project {
	now := time.Now().UTC()
	return &Project{
		id:           uuid.New(),
		name:         name,
		sourcePath:   sourcePath,
		totalCommits: totalCommits,
		status:       ProjectStatusCreated,
		createdAt:    now,
		updatedAt:    now,
	}
}

// ReconstructProject rebuilds a Project from persisted column values.
func ReconstructProject(
	id uuid.UUID, name, sourcePath string,
	totalCommits, processedCommits, failedCommits int,
	status ProjectStatus,
	createdAt, updatedAt time.Time,
	configOverride string,
) *Project {
	return &Project{
		id:               id,
		name:             name,
		sourcePath:       sourcePath,
		totalCommits:     totalCommits,
		processedCommits: processedCommits,
		failedCommits:    failedCommits,
		status:           status,
		createdAt:        createdAt,
		updatedAt:        updatedAt,
		configOverride:   configOverride,
	}
}

func (p *Project) ID() uuid.UUID               { return p.id }
func (p *Project) Name() string                { return p.name }
func (p *Project) SourcePath() string          { return p.sourcePath }
func (p *Project) TotalCommits() int           { return p.totalCommits }
func (p *Project) ProcessedCommits() int       { return p.processedCommits }
func (p *Project) FailedCommits() int          { return p.failedCommits }
func (p *Project) Status() ProjectStatus       { return p.status }
func (p *Project) CreatedAt() time.Time        { return p.createdAt }
func (p *Project) UpdatedAt() time.Time        { return p.updatedAt }
func (p *Project) ConfigOverride() string      { return p.configOverride }

// SetConfigOverride records a project-level sonar-project.properties default,
// applied to any ScanJob that doesn't carry its own override.
func (p *Project) SetConfigOverride(v string) { p.configOverride = v }

// MarkCollecting transitions CREATED -> COLLECTING once the Ingestor has
// written the project's ScanJob rows.
func (p *Project) MarkCollecting() {
	if p.status != ProjectStatusCreated {
		return
	}
	p.status = ProjectStatusCollecting
	p.updatedAt = time.Now().UTC()
}

// RecomputeCompletion folds a terminal ScanJob outcome into the aggregate
// counters and flips status to DONE or PARTIAL once every commit has reached
// a terminal state. Mirrors the original pipeline's completion check, which
// recomputed this on every terminal job write rather than via a scheduled
// sweep.
func (p *Project) RecomputeCompletion(succeeded, failedPermanent int) {
	p.processedCommits = succeeded
	p.failedCommits = failedPermanent
	p.updatedAt = time.Now().UTC()
	if p.processedCommits+p.failedCommits >= p.totalCommits {
		if p.failedCommits > 0 {
			p.status = ProjectStatusPartial
		} else {
			p.status = ProjectStatusDone
		}
		return
	}
	if p.status == ProjectStatusCreated {
		p.status = ProjectStatusCollecting
	}
}
