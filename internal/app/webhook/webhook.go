// Package webhook implements WebhookIntake: verifying and correlating
// inbound analysis-server delivery callbacks via dual-header signature
// validation and task-id correlation. Orphaned or unverified deliveries are
// still stored and always answered with 200, since the analysis server has
// no useful retry behavior to trigger with a 4xx.
package webhook

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"crypto/subtle"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/ahrav/commit-quality-orchestrator/internal/app/config"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/metrics"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// Headers the analysis server may sign its delivery with; shared-secret is
// checked first, HMAC second, matching the original's precedence.
const (
	HeaderSharedSecret = "X-Sonar-Webhook-Shared-Secret"
	HeaderHMAC         = "X-Sonar-Webhook-HMAC-SHA256"
)

// ErrInvalidSignature is returned when neither header validates against the
// configured secrets.
var ErrInvalidSignature = errors.New("invalid webhook signature")

// payload mirrors the subset of the analysis server's webhook body this
// intake correlates against: the task/component id and terminal status.
type payload struct {
	TaskID       string `json:"taskId"`
	Status       string `json:"status"`
	AnalysedAt   string `json:"analysedAt"`
	ComponentKey string `json:"project.key"`
}

// Intake verifies, correlates, and stores inbound webhook deliveries.
type Intake struct {
	jobs         scanning.JobRepository
	projects     scanning.ProjectRepository
	results      scanning.ResultRepository
	webhooks     scanning.WebhookRepository
	locks        scanning.LockRepository
	fetcher      *metrics.Fetcher
	cfg          *config.Config
	sharedSecret string
	hmacSecret   string
	logger       *logger.Logger
}

// New builds an Intake. Either secret may be empty to disable that
// verification method.
func New(
	jobs scanning.JobRepository,
	projects scanning.ProjectRepository,
	results scanning.ResultRepository,
	webhooks scanning.WebhookRepository,
	locks scanning.LockRepository,
	fetcher *metrics.Fetcher,
	cfg *config.Config,
	sharedSecret, hmacSecret string,
	log *logger.Logger,
) *Intake {
	return &Intake{
		jobs: jobs, projects: projects, results: results, webhooks: webhooks, locks: locks,
		fetcher: fetcher, cfg: cfg, sharedSecret: sharedSecret, hmacSecret: hmacSecret, logger: log,
	}
}

// VerifySignature checks body against the shared-secret header first, then
// the HMAC-SHA256 header, returning ErrInvalidSignature if neither matches.
func (in *Intake) VerifySignature(body []byte, sharedSecretHeader, hmacHeader string) error {
	if in.sharedSecret != "" && sharedSecretHeader != "" {
		if subtle.ConstantTimeCompare([]byte(sharedSecretHeader), []byte(in.sharedSecret)) == 1 {
			return nil
		}
	}
	if in.hmacSecret != "" && hmacHeader != "" {
		mac := hmac.New(sha256.New, []byte(in.hmacSecret))
		mac.Write(body)
		expected := hex.EncodeToString(mac.Sum(nil))
		if hmac.Equal([]byte(hmacHeader), []byte(expected)) {
			return nil
		}
	}
	return ErrInvalidSignature
}

// Handle verifies and correlates one webhook delivery, persisting a
// WebhookEvent regardless of outcome (orphan or not) and moving a matching
// RUNNING job toward SUCCEEDED/FAILED_TEMP. It never returns an error for an
// orphaned or duplicate delivery: these are always accepted so the analysis
// server never retries a delivery we've already seen.
func (in *Intake) Handle(ctx context.Context, body []byte, sharedSecretHeader, hmacHeader string) error {
	sigErr := in.VerifySignature(body, sharedSecretHeader, hmacHeader)
	valid := sigErr == nil

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		in.logger.Error(ctx, "malformed webhook payload", "error", err)
		event := scanning.NewWebhookEvent("", body, valid, nil)
		return in.webhooks.Save(ctx, event)
	}

	if !valid {
		in.logger.Error(ctx, "webhook signature verification failed", "task_id", p.TaskID)
		event := scanning.NewWebhookEvent(p.TaskID, body, false, nil)
		return in.webhooks.Save(ctx, event)
	}

	job, err := in.jobs.GetBySubmissionID(ctx, p.TaskID)
	if err != nil {
		in.logger.Info(ctx, "orphaned webhook delivery", "task_id", p.TaskID)
		event := scanning.NewWebhookEvent(p.TaskID, body, true, nil)
		return in.webhooks.Save(ctx, event)
	}

	if job.Status() != scanning.JobStatusRunning {
		in.logger.Info(ctx, "webhook for job not in RUNNING state, ignoring transition", "job_id", job.ID().String(), "status", job.Status())
		event := scanning.NewWebhookEvent(p.TaskID, body, true, nil)
		return in.webhooks.Save(ctx, event)
	}

	jobID := job.ID()
	event := scanning.NewWebhookEvent(p.TaskID, body, true, &jobID)
	if err := in.webhooks.Save(ctx, event); err != nil {
		return fmt.Errorf("saving webhook event: %w", err)
	}

	expectedAttempts := job.Attempts()
	lockToken := job.LockToken()

	if p.Status != "SUCCESS" {
		if err := job.MarkFailedTemp("analysis server reported status " + p.Status); err != nil {
			return fmt.Errorf("marking job %s failed_temp: %w", jobID.String(), err)
		}
		if err := in.jobs.CompareAndSwap(ctx, job, scanning.JobStatusRunning, expectedAttempts); err != nil {
			return fmt.Errorf("persisting webhook-driven transition for job %s: %w", jobID.String(), err)
		}
		if lockToken != "" {
			if err := in.locks.Release(ctx, lockToken); err != nil {
				in.logger.Error(ctx, "failed to release instance lock after terminal webhook", "job_id", jobID.String(), "token", lockToken, "error", err)
			}
		}
		return nil
	}

	return in.completeSucceeded(ctx, job, expectedAttempts, lockToken)
}

// completeSucceeded fetches metrics for a SUCCESS delivery, persists the
// resulting ScanResult, and transitions job to SUCCEEDED. Matching the
// Dispatcher's completeExisting, it resolves any FailedCommit left over
// from a prior failed attempt at this same commit and recomputes the
// Project's aggregate completion.
func (in *Intake) completeSucceeded(ctx context.Context, job *scanning.ScanJob, expectedAttempts int, lockToken string) error {
	server, ok := in.cfg.ServerByName(job.AnalysisServer())
	if !ok {
		return fmt.Errorf("job %s bound to unknown analysis server %s", job.ID().String(), job.AnalysisServer())
	}

	componentKey := job.RepoSlug() + "@" + job.CommitSHA()
	fetched, err := in.fetcher.Fetch(ctx, server.BaseURL, server.Token, componentKey, in.cfg.Dispatcher.MetricsKeys, in.cfg.Dispatcher.MetricsDeadline)
	if err != nil {
		return fmt.Errorf("fetching metrics for job %s: %w", job.ID().String(), err)
	}

	if err := job.MarkSucceeded(); err != nil {
		return fmt.Errorf("marking job %s succeeded: %w", job.ID().String(), err)
	}
	if err := in.jobs.CompareAndSwap(ctx, job, scanning.JobStatusRunning, expectedAttempts); err != nil {
		return fmt.Errorf("persisting webhook-driven transition for job %s: %w", job.ID().String(), err)
	}

	result := scanning.NewScanResult(job.ID(), job.ProjectID(), job.RepoSlug(), job.CommitSHA(), fetched)
	if err := in.results.SaveResult(ctx, result); err != nil {
		in.logger.Error(ctx, "failed to save scan result", "job_id", job.ID().String(), "error", err)
	}
	if err := in.results.ResolveFailedCommit(ctx, job.ID()); err != nil {
		in.logger.Error(ctx, "failed to resolve failed commit record", "job_id", job.ID().String(), "error", err)
	}

	if lockToken != "" {
		if err := in.locks.Release(ctx, lockToken); err != nil {
			in.logger.Error(ctx, "failed to release instance lock after terminal webhook", "job_id", job.ID().String(), "token", lockToken, "error", err)
		}
	}

	in.recomputeProjectCompletion(ctx, job.ProjectID())
	return nil
}

// recomputeProjectCompletion mirrors the Dispatcher's helper of the same
// name: it folds a just-written terminal job outcome into its Project's
// aggregate counters.
func (in *Intake) recomputeProjectCompletion(ctx context.Context, projectID uuid.UUID) {
	succeeded, failedPermanent, err := in.jobs.CountByProjectAndStatus(ctx, projectID)
	if err != nil {
		in.logger.Error(ctx, "failed to count project job statuses", "project_id", projectID.String(), "error", err)
		return
	}

	project, err := in.projects.Get(ctx, projectID)
	if err != nil {
		in.logger.Error(ctx, "failed to load project for completion recompute", "project_id", projectID.String(), "error", err)
		return
	}

	project.RecomputeCompletion(succeeded, failedPermanent)
	if err := in.projects.Update(ctx, project); err != nil {
		in.logger.Error(ctx, "failed to persist project completion", "project_id", projectID.String(), "error", err)
	}
}
