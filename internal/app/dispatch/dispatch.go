// Package dispatch implements the Dispatcher: claiming queued ScanJobs,
// acquiring their instance lock, checking out the commit, and submitting it
// to the analysis server. Implemented as a Kafka consumer-group Handler so
// many dispatcher instances can share the backlog.
package dispatch

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ahrav/commit-quality-orchestrator/internal/app/config"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/ingest"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/lock"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/metrics"
	"github.com/ahrav/commit-quality-orchestrator/internal/app/repocache"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/scanner"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/uuid"
)

// Dispatcher processes JobMessages claimed off the Queue.
type Dispatcher struct {
	jobs      scanning.JobRepository
	projects  scanning.ProjectRepository
	results   scanning.ResultRepository
	locks     *lock.Manager
	repoCache *repocache.RepoCache
	scanner   *scanner.Scanner
	fetcher   *metrics.Fetcher
	queue     *kafka.Queue
	cfg       *config.Config
	logger    *logger.Logger
}

// New builds a Dispatcher wired to its collaborators.
func New(
	jobs scanning.JobRepository,
	projects scanning.ProjectRepository,
	results scanning.ResultRepository,
	locks *lock.Manager,
	repoCache *repocache.RepoCache,
	sc *scanner.Scanner,
	fetcher *metrics.Fetcher,
	queue *kafka.Queue,
	cfg *config.Config,
	log *logger.Logger,
) *Dispatcher {
	return &Dispatcher{
		jobs: jobs, projects: projects, results: results,
		locks: locks, repoCache: repoCache, scanner: sc, fetcher: fetcher,
		queue: queue, cfg: cfg, logger: log,
	}
}

// Handle implements kafka.Handler, processing one claimed JobMessage.
func (d *Dispatcher) Handle(ctx context.Context, msg kafka.JobMessage) (kafka.HandlerResult, error) {
	job, err := d.jobs.Get(ctx, msg.JobID)
	if err != nil {
		d.logger.Error(ctx, "claimed job not found", "job_id", msg.JobID.String(), "error", err)
		return kafka.Ack, nil
	}

	if job.Status() != scanning.JobStatusQueued {
		d.logger.Info(ctx, "skipping job no longer QUEUED", "job_id", job.ID().String(), "status", job.Status())
		return kafka.Ack, nil
	}

	server, ok := d.cfg.ServerByName(job.AnalysisServer())
	if !ok {
		d.logger.Error(ctx, "job bound to unknown analysis server", "job_id", job.ID().String(), "server", job.AnalysisServer())
		return d.failPermanently(ctx, job, "unknown analysis server "+job.AnalysisServer())
	}

	instanceLock, err := d.locks.Acquire(ctx, server.Name, job.ID())
	if err != nil {
		if errors.Is(err, scanning.ErrLockCapacityExceeded) {
			d.logger.Debug(ctx, "analysis server at capacity, requeuing", "job_id", job.ID().String(), "server", server.Name)
			return kafka.Requeue, nil
		}
		return kafka.Nack, fmt.Errorf("acquiring instance lock for job %s: %w", job.ID().String(), err)
	}

	forkURL := ingest.CanonicalRepoURL(job.RepoSlug())
	if forkURL == job.RepoURL() {
		forkURL = ""
	}

	checkout, err := d.repoCache.Checkout(ctx, job.RepoSlug(), job.RepoURL(), job.CommitSHA(), forkURL)
	if err != nil {
		_ = d.locks.Release(ctx, instanceLock.Token())
		return d.handleFailure(ctx, job, fmt.Sprintf("checkout failed: %v", err))
	}
	defer func() {
		if rmErr := checkout.Remove(ctx); rmErr != nil {
			d.logger.Error(ctx, "failed to remove worktree", "path", checkout.Path, "error", rmErr)
		}
	}()

	configOverride := job.ConfigOverride()
	if configOverride == "" {
		if project, err := d.projects.Get(ctx, job.ProjectID()); err == nil {
			configOverride = project.ConfigOverride()
		} else {
			d.logger.Error(ctx, "failed to load project for config override resolution", "job_id", job.ID().String(), "error", err)
		}
	}

	componentKey := job.RepoSlug() + "@" + job.CommitSHA()
	result, err := d.scanner.Run(ctx, componentKey, checkout.Path, server.ScannerPath, server.BaseURL, server.Token, configOverride)
	if err != nil {
		_ = d.locks.Release(ctx, instanceLock.Token())
		return d.handleFailure(ctx, job, fmt.Sprintf("scan submission failed: %v", err))
	}

	expectedAttempts := job.Attempts()
	if err := job.MarkRunning(instanceLock.Token(), result.SubmissionID); err != nil {
		_ = d.locks.Release(ctx, instanceLock.Token())
		return kafka.Nack, fmt.Errorf("marking job %s running: %w", job.ID().String(), err)
	}
	job.SetLogPath(result.LogPath)
	if err := d.jobs.CompareAndSwap(ctx, job, scanning.JobStatusQueued, expectedAttempts); err != nil {
		_ = d.locks.Release(ctx, instanceLock.Token())
		return kafka.Nack, fmt.Errorf("persisting RUNNING state for job %s: %w", job.ID().String(), err)
	}

	if !result.Skipped {
		// The analysis server completes this asynchronously; WebhookIntake
		// will transition the job the rest of the way once it reports back.
		// Keep the instance lock alive for however long that takes.
		d.startHeartbeat(instanceLock.Token())
		return kafka.Ack, nil
	}

	// The component already existed: the analysis completed in a previous
	// attempt that never reached a terminal state here. Finish the job now
	// instead of waiting on a webhook delivery that already happened.
	return d.completeExisting(ctx, job, server, componentKey, instanceLock.Token())
}

// startHeartbeat renews token at ttl/3 intervals until a renewal fails. It
// runs detached from the request context since the analysis run it backs
// outlives one Handle call by minutes; WebhookIntake's Release or the
// Reconciler's expiry reap is what eventually makes Renew fail and the
// goroutine exit.
func (d *Dispatcher) startHeartbeat(token string) {
	ttl := d.cfg.Dispatcher.LockTTL
	if ttl <= 0 {
		return
	}
	go func() {
		ticker := time.NewTicker(ttl / 3)
		defer ticker.Stop()
		for range ticker.C {
			if err := d.locks.Renew(context.Background(), token); err != nil {
				return
			}
		}
	}()
}

func (d *Dispatcher) completeExisting(ctx context.Context, job *scanning.ScanJob, server config.AnalysisServer, componentKey, lockToken string) (kafka.HandlerResult, error) {
	fetched, err := d.fetcher.Fetch(ctx, server.BaseURL, server.Token, componentKey, d.cfg.Dispatcher.MetricsKeys, d.cfg.Dispatcher.MetricsDeadline)
	if err != nil {
		_ = d.locks.Release(ctx, lockToken)
		return d.handleFailure(ctx, job, fmt.Sprintf("fetching metrics for pre-existing component: %v", err))
	}

	expectedAttempts := job.Attempts()
	if err := job.MarkSucceeded(); err != nil {
		_ = d.locks.Release(ctx, lockToken)
		return kafka.Nack, fmt.Errorf("marking job %s succeeded: %w", job.ID().String(), err)
	}
	if err := d.jobs.CompareAndSwap(ctx, job, scanning.JobStatusRunning, expectedAttempts); err != nil {
		_ = d.locks.Release(ctx, lockToken)
		return kafka.Nack, fmt.Errorf("persisting SUCCEEDED state for job %s: %w", job.ID().String(), err)
	}

	result := scanning.NewScanResult(job.ID(), job.ProjectID(), job.RepoSlug(), job.CommitSHA(), fetched)
	if err := d.results.SaveResult(ctx, result); err != nil {
		d.logger.Error(ctx, "failed to save scan result", "job_id", job.ID().String(), "error", err)
	}
	if err := d.results.ResolveFailedCommit(ctx, job.ID()); err != nil {
		d.logger.Error(ctx, "failed to resolve failed commit record", "job_id", job.ID().String(), "error", err)
	}

	if err := d.locks.Release(ctx, lockToken); err != nil {
		d.logger.Error(ctx, "failed to release instance lock", "job_id", job.ID().String(), "error", err)
	}

	d.recomputeProjectCompletion(ctx, job.ProjectID())
	return kafka.Ack, nil
}

// handleFailure records a pre-RUNNING failure: increments the attempt
// counter and either requeues or gives up permanently, depending on the
// attempt budget.
func (d *Dispatcher) handleFailure(ctx context.Context, job *scanning.ScanJob, reason string) (kafka.HandlerResult, error) {
	if job.Attempts()+1 >= scanning.MaxAttempts {
		return d.failPermanently(ctx, job, reason)
	}

	expectedAttempts := job.Attempts()
	originalStatus := job.Status()

	if err := job.RequeueAfterFailure(reason); err != nil {
		return kafka.Nack, fmt.Errorf("requeuing job %s: %w", job.ID().String(), err)
	}
	if err := d.jobs.CompareAndSwap(ctx, job, originalStatus, expectedAttempts); err != nil {
		return kafka.Nack, fmt.Errorf("persisting requeue for job %s: %w", job.ID().String(), err)
	}

	delay := kafka.ComputeRetryDelay(job.Attempts(), d.cfg.Dispatcher.RetryBackoffBase, d.cfg.Dispatcher.RetryBackoffCap, d.cfg.Dispatcher.RetryJitterRatio)
	msg := kafka.JobMessage{JobID: job.ID(), Priority: kafka.PriorityRetry, Attempt: job.Attempts()}
	if err := d.queue.PublishDelayed(ctx, msg, delay); err != nil {
		d.logger.Error(ctx, "failed to publish retry message", "job_id", job.ID().String(), "error", err)
	}
	return kafka.Ack, nil
}

func (d *Dispatcher) failPermanently(ctx context.Context, job *scanning.ScanJob, reason string) (kafka.HandlerResult, error) {
	expectedAttempts := job.Attempts()
	originalStatus := job.Status()

	if err := job.MarkFailedPermanent(reason); err != nil {
		return kafka.Nack, fmt.Errorf("marking job %s failed_permanent: %w", job.ID().String(), err)
	}
	if err := d.jobs.CompareAndSwap(ctx, job, originalStatus, expectedAttempts); err != nil {
		return kafka.Nack, fmt.Errorf("persisting failed_permanent for job %s: %w", job.ID().String(), err)
	}

	failedCommit := scanning.NewFailedCommit(job.ID(), job.ProjectID(), job.RepoSlug(), job.CommitSHA(), reason, job.LogPath())
	if err := d.results.SaveFailedCommit(ctx, failedCommit); err != nil {
		d.logger.Error(ctx, "failed to save failed commit record", "job_id", job.ID().String(), "error", err)
	}

	if err := d.queue.PublishDLQ(ctx, kafka.JobMessage{JobID: job.ID(), Priority: kafka.PriorityNormal, Attempt: job.Attempts()}); err != nil {
		d.logger.Error(ctx, "failed to publish dlq message", "job_id", job.ID().String(), "error", err)
	}

	d.recomputeProjectCompletion(ctx, job.ProjectID())
	return kafka.Ack, nil
}

// recomputeProjectCompletion folds a just-written terminal job outcome into
// its Project's aggregate counters, flipping the Project to DONE or PARTIAL
// once every commit has reached SUCCEEDED or FAILED_PERMANENT.
func (d *Dispatcher) recomputeProjectCompletion(ctx context.Context, projectID uuid.UUID) {
	succeeded, failedPermanent, err := d.jobs.CountByProjectAndStatus(ctx, projectID)
	if err != nil {
		d.logger.Error(ctx, "failed to count project job statuses", "project_id", projectID.String(), "error", err)
		return
	}

	project, err := d.projects.Get(ctx, projectID)
	if err != nil {
		d.logger.Error(ctx, "failed to load project for completion recompute", "project_id", projectID.String(), "error", err)
		return
	}

	project.RecomputeCompletion(succeeded, failedPermanent)
	if err := d.projects.Update(ctx, project); err != nil {
		d.logger.Error(ctx, "failed to persist project completion", "project_id", projectID.String(), "error", err)
	}
}
