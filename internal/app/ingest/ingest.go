// Package ingest implements the Ingestor: turning a CSV of (repo, commit)
// rows into a durable Project and one PENDING ScanJob per row, enforcing an
// exact required-header contract rather than fuzzy column matching.
package ingest

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
)

// Required CSV header names, checked verbatim against the file's first row.
const (
	columnProjectName = "gh_project_name"
	columnCommitSHA    = "git_trigger_commit"
	columnBranch       = "git_branch"
	// columnConfigOverride is optional: rows may omit it entirely.
	columnConfigOverride = "config_override"
)

// commitRow is one parsed, not-yet-persisted CSV data row.
type commitRow struct {
	repoSlug       string
	commitSHA      string
	branch         string
	configOverride string
}

// ServerSelector picks which analysis server a freshly ingested job should
// be bound to, e.g. round-robin over the configured fleet.
type ServerSelector func() string

// Ingestor reads a project CSV and materializes its Project and ScanJob rows.
type Ingestor struct {
	projects scanning.ProjectRepository
	jobs     scanning.JobRepository
	queue    *kafka.Queue
	selector ServerSelector
	logger   *logger.Logger
}

// New builds an Ingestor. Jobs are enqueued onto the analysis server
// selector returns, published at normal priority.
func New(projects scanning.ProjectRepository, jobs scanning.JobRepository, queue *kafka.Queue, selector ServerSelector, log *logger.Logger) *Ingestor {
	return &Ingestor{projects: projects, jobs: jobs, queue: queue, selector: selector, logger: log}
}

// CanonicalRepoURL derives a clone URL from a "org/repo" slug. Real
// deployments configure a URL template per source host; a single github.com
// template is sufficient for this orchestrator's scope. Also used by the
// Dispatcher to derive a fork-fallback candidate when a job's stored
// repo_url has gone stale (renamed org, transferred repo).
func CanonicalRepoURL(slug string) string { return fmt.Sprintf("https://github.com/%s.git", slug) }

// Ingest parses r as a Project CSV, creates the Project, and writes one
// PENDING ScanJob per row, returning the created Project.
func (in *Ingestor) Ingest(ctx context.Context, projectName, sourcePath string, r io.Reader) (*scanning.Project, error) {
	rows, err := parseCSV(r)
	if err != nil {
		return nil, fmt.Errorf("parsing project csv: %w", err)
	}

	project := scanning.NewProject(projectName, sourcePath, len(rows))
	if err := in.projects.Create(ctx, project); err != nil {
		return nil, fmt.Errorf("creating project: %w", err)
	}

	for _, row := range rows {
		job := scanning.NewScanJob(project.ID(), row.repoSlug, CanonicalRepoURL(row.repoSlug), row.commitSHA, row.branch)
		if row.configOverride != "" {
			job.SetConfigOverride(row.configOverride)
		}
		if err := in.jobs.Create(ctx, job); err != nil {
			return nil, fmt.Errorf("creating scan job for %s@%s: %w", row.repoSlug, row.commitSHA, err)
		}

		server := in.selector()
		if err := job.MarkQueued(server); err != nil {
			return nil, fmt.Errorf("queuing scan job for %s@%s: %w", row.repoSlug, row.commitSHA, err)
		}
		if err := in.jobs.CompareAndSwap(ctx, job, scanning.JobStatusPending, 0); err != nil {
			return nil, fmt.Errorf("persisting queued state for %s@%s: %w", row.repoSlug, row.commitSHA, err)
		}
		if err := in.queue.Publish(ctx, kafka.JobMessage{JobID: job.ID(), Priority: kafka.PriorityNormal, Attempt: 0}); err != nil {
			return nil, fmt.Errorf("publishing scan job for %s@%s: %w", row.repoSlug, row.commitSHA, err)
		}
	}

	project.MarkCollecting()
	if err := in.projects.Update(ctx, project); err != nil {
		return nil, fmt.Errorf("marking project collecting: %w", err)
	}

	in.logger.Info(ctx, "ingested project", "project_id", project.ID().String(), "commits", len(rows))
	return project, nil
}

func parseCSV(r io.Reader) ([]commitRow, error) {
	cr := csv.NewReader(r)
	cr.TrimLeadingSpace = true

	header, err := cr.Read()
	if err != nil {
		return nil, fmt.Errorf("reading header: %w", err)
	}

	idx := make(map[string]int, len(header))
	for i, name := range header {
		idx[name] = i
	}
	for _, required := range []string{columnProjectName, columnCommitSHA, columnBranch} {
		if _, ok := idx[required]; !ok {
			return nil, fmt.Errorf("missing required column %q", required)
		}
	}

	var rows []commitRow
	for {
		record, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("reading row: %w", err)
		}
		row := commitRow{
			repoSlug:  record[idx[columnProjectName]],
			commitSHA: record[idx[columnCommitSHA]],
			branch:    record[idx[columnBranch]],
		}
		if i, ok := idx[columnConfigOverride]; ok && i < len(record) {
			row.configOverride = record[i]
		}
		rows = append(rows, row)
	}
	return rows, nil
}
