// Package export implements the Exporter: streaming a Project's ScanResults
// and FailedCommits back out as CSV, one row per commit with metric columns
// alongside the identifying repo/commit columns, failures reported with
// their reason instead of metric values.
package export

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"sort"

	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// fixedColumns are always present, ahead of the sorted metric-key columns.
var fixedColumns = []string{"repo_slug", "commit_sha", "status", "failure_reason"}

// Exporter streams a Project's terminal outcomes as CSV.
type Exporter struct {
	results scanning.ResultRepository
}

// New builds an Exporter.
func New(results scanning.ResultRepository) *Exporter {
	return &Exporter{results: results}
}

// Stream writes every ScanResult recorded for projectID to w as CSV. The
// header row is the fixed identifying columns followed by the union of
// metric keys observed across all results, sorted for stable column order
// across runs over the same data.
func (e *Exporter) Stream(ctx context.Context, projectID uuid.UUID, w io.Writer) error {
	results, err := e.results.ListResultsByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("listing results for project %s: %w", projectID.String(), err)
	}
	failures, err := e.results.ListFailedCommitsByProject(ctx, projectID)
	if err != nil {
		return fmt.Errorf("listing failed commits for project %s: %w", projectID.String(), err)
	}

	metricKeys := make(map[string]struct{})
	for _, r := range results {
		for k := range r.Metrics() {
			metricKeys[k] = struct{}{}
		}
	}
	sortedMetrics := make([]string, 0, len(metricKeys))
	for k := range metricKeys {
		sortedMetrics = append(sortedMetrics, k)
	}
	sort.Strings(sortedMetrics)

	cw := csv.NewWriter(w)
	header := append(append([]string{}, fixedColumns...), sortedMetrics...)
	if err := cw.Write(header); err != nil {
		return fmt.Errorf("writing csv header: %w", err)
	}

	sort.Slice(results, func(i, j int) bool {
		if results[i].RepoSlug() != results[j].RepoSlug() {
			return results[i].RepoSlug() < results[j].RepoSlug()
		}
		return results[i].CommitSHA() < results[j].CommitSHA()
	})
	sort.Slice(failures, func(i, j int) bool {
		if failures[i].RepoSlug() != failures[j].RepoSlug() {
			return failures[i].RepoSlug() < failures[j].RepoSlug()
		}
		return failures[i].CommitSHA() < failures[j].CommitSHA()
	})

	for _, r := range results {
		row := make([]string, 0, len(header))
		row = append(row, r.RepoSlug(), r.CommitSHA(), string(scanning.JobStatusSucceeded), "")
		for _, k := range sortedMetrics {
			row = append(row, r.Metrics()[k])
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row for %s@%s: %w", r.RepoSlug(), r.CommitSHA(), err)
		}
	}

	for _, f := range failures {
		row := make([]string, 0, len(header))
		row = append(row, f.RepoSlug(), f.CommitSHA(), string(scanning.JobStatusFailedPermanent), f.Reason())
		for range sortedMetrics {
			row = append(row, "")
		}
		if err := cw.Write(row); err != nil {
			return fmt.Errorf("writing csv row for %s@%s: %w", f.RepoSlug(), f.CommitSHA(), err)
		}
	}

	cw.Flush()
	return cw.Error()
}
