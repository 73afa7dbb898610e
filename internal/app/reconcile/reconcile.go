// Package reconcile implements the Reconciler: a periodic sweep that
// requeues ScanJobs stuck RUNNING past a staleness threshold (their terminal
// webhook never arrived), requeues ScanJobs stuck QUEUED past their own
// staleness threshold (a dispatcher died mid-claim), backfills FailedCommit
// records for any FAILED_PERMANENT job that never got one, and reclaims the
// instance locks stale RUNNING jobs were holding. Gated to run only on the
// instance the Kubernetes leaderelection-backed Coordinator has elected
// leader.
package reconcile

import (
	"context"
	"fmt"
	"time"

	"github.com/ahrav/commit-quality-orchestrator/internal/app/lock"
	"github.com/ahrav/commit-quality-orchestrator/internal/domain/scanning"
	"github.com/ahrav/commit-quality-orchestrator/internal/infra/eventbus/kafka"
	"github.com/ahrav/commit-quality-orchestrator/pkg/common/logger"
)

// sweepLimit bounds how many rows each sweep query pulls per pass, so one
// tick of the Reconciler can't stall behind an unbounded backlog.
const sweepLimit = 100

// Reconciler periodically sweeps for stale RUNNING/QUEUED jobs, expired
// locks, and FailedCommit backfill gaps.
type Reconciler struct {
	jobs       scanning.JobRepository
	projects   scanning.ProjectRepository
	results    scanning.ResultRepository
	locks      *lock.Manager
	queue      *kafka.Queue
	interval   time.Duration
	staleAfter time.Duration

	staleQueueAfter  time.Duration
	retryBackoffBase time.Duration
	retryBackoffCap  time.Duration
	retryJitterRatio float64

	logger *logger.Logger
}

// New builds a Reconciler that sweeps every interval for RUNNING jobs older
// than staleAfter and QUEUED jobs older than staleQueueAfter. Requeue
// publishes are delayed using the same exponential-backoff-with-jitter
// schedule as the Dispatcher's own retries.
func New(
	jobs scanning.JobRepository,
	projects scanning.ProjectRepository,
	results scanning.ResultRepository,
	locks *lock.Manager,
	queue *kafka.Queue,
	interval, staleAfter, staleQueueAfter time.Duration,
	retryBackoffBase, retryBackoffCap time.Duration,
	retryJitterRatio float64,
	log *logger.Logger,
) *Reconciler {
	return &Reconciler{
		jobs: jobs, projects: projects, results: results, locks: locks, queue: queue,
		interval: interval, staleAfter: staleAfter, staleQueueAfter: staleQueueAfter,
		retryBackoffBase: retryBackoffBase, retryBackoffCap: retryBackoffCap, retryJitterRatio: retryJitterRatio,
		logger: log,
	}
}

// Run blocks, sweeping every r.interval until ctx is canceled. Intended to
// be started only while the caller holds cluster leadership.
func (r *Reconciler) Run(ctx context.Context) error {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			r.sweep(ctx)
		}
	}
}

func (r *Reconciler) sweep(ctx context.Context) {
	reaped, err := r.locks.ReapExpired(ctx)
	if err != nil {
		r.logger.Error(ctx, "failed to reap expired instance locks", "error", err)
	} else if reaped > 0 {
		r.logger.Info(ctx, "reaped expired instance locks", "count", reaped)
	}

	stale, err := r.jobs.ListStale(ctx, r.staleAfter, sweepLimit)
	if err != nil {
		r.logger.Error(ctx, "failed to list stale running jobs", "error", err)
	} else {
		for _, job := range stale {
			if err := r.requeueOrFail(ctx, job); err != nil {
				r.logger.Error(ctx, "failed to reconcile stale running job", "job_id", job.ID().String(), "error", err)
			}
		}
	}

	staleQueued, err := r.jobs.ListStaleQueued(ctx, r.staleQueueAfter, sweepLimit)
	if err != nil {
		r.logger.Error(ctx, "failed to list stale queued jobs", "error", err)
	} else {
		for _, job := range staleQueued {
			if err := r.republishStaleQueued(ctx, job); err != nil {
				r.logger.Error(ctx, "failed to reconcile stale queued job", "job_id", job.ID().String(), "error", err)
			}
		}
	}

	r.backfillFailedCommits(ctx)
}

// republishStaleQueued re-publishes a job that's been QUEUED longer than
// staleQueueAfter without a dispatcher claiming it, covering a dispatcher
// that crashed between publishing and consuming its own message, or a
// message a broker rebalance silently dropped.
func (r *Reconciler) republishStaleQueued(ctx context.Context, job *scanning.ScanJob) error {
	delay := kafka.ComputeRetryDelay(job.Attempts(), r.retryBackoffBase, r.retryBackoffCap, r.retryJitterRatio)
	msg := kafka.JobMessage{JobID: job.ID(), Priority: kafka.PriorityRetry, Attempt: job.Attempts()}
	if err := r.queue.PublishDelayed(ctx, msg, delay); err != nil {
		return fmt.Errorf("republishing stale queued job %s: %w", job.ID().String(), err)
	}
	return nil
}

// backfillFailedCommits covers a job that reached FAILED_PERMANENT through
// a code path that didn't get to write its FailedCommit row, most commonly
// a process crash between the CompareAndSwap and the SaveFailedCommit call.
func (r *Reconciler) backfillFailedCommits(ctx context.Context) {
	missing, err := r.jobs.ListFailedPermanentMissingFailedCommit(ctx, sweepLimit)
	if err != nil {
		r.logger.Error(ctx, "failed to list failed_permanent jobs missing a failed commit record", "error", err)
		return
	}
	for _, job := range missing {
		failedCommit := scanning.NewFailedCommit(job.ID(), job.ProjectID(), job.RepoSlug(), job.CommitSHA(), job.FailureReason(), job.LogPath())
		if err := r.results.SaveFailedCommit(ctx, failedCommit); err != nil {
			r.logger.Error(ctx, "failed to backfill failed commit record", "job_id", job.ID().String(), "error", err)
		}
	}
}

func (r *Reconciler) requeueOrFail(ctx context.Context, job *scanning.ScanJob) error {
	expectedAttempts := job.Attempts()
	reason := fmt.Sprintf("no terminal webhook received within %s", r.staleAfter)

	if job.LockToken() != "" {
		if err := r.locks.Release(ctx, job.LockToken()); err != nil {
			r.logger.Error(ctx, "failed to release lock for stale job", "job_id", job.ID().String(), "error", err)
		}
	}

	if job.Attempts()+1 >= scanning.MaxAttempts {
		if err := job.MarkFailedPermanent(reason); err != nil {
			return fmt.Errorf("marking stale job %s failed_permanent: %w", job.ID().String(), err)
		}
		if err := r.jobs.CompareAndSwap(ctx, job, scanning.JobStatusRunning, expectedAttempts); err != nil {
			return fmt.Errorf("persisting failed_permanent for stale job %s: %w", job.ID().String(), err)
		}
		r.recomputeProjectCompletion(ctx, job)
		return nil
	}

	if err := job.MarkFailedTemp(reason); err != nil {
		return fmt.Errorf("marking stale job %s failed_temp: %w", job.ID().String(), err)
	}
	if err := r.jobs.CompareAndSwap(ctx, job, scanning.JobStatusRunning, expectedAttempts); err != nil {
		return fmt.Errorf("persisting failed_temp for stale job %s: %w", job.ID().String(), err)
	}

	expectedAttempts = job.Attempts()
	if err := job.Retry(); err != nil {
		return fmt.Errorf("requeuing stale job %s: %w", job.ID().String(), err)
	}
	if err := r.jobs.CompareAndSwap(ctx, job, scanning.JobStatusFailedTemp, expectedAttempts); err != nil {
		return fmt.Errorf("persisting requeue for stale job %s: %w", job.ID().String(), err)
	}

	delay := kafka.ComputeRetryDelay(job.Attempts(), r.retryBackoffBase, r.retryBackoffCap, r.retryJitterRatio)
	msg := kafka.JobMessage{JobID: job.ID(), Priority: kafka.PriorityRetry, Attempt: job.Attempts()}
	if err := r.queue.PublishDelayed(ctx, msg, delay); err != nil {
		r.logger.Error(ctx, "failed to publish reconciler retry message", "job_id", job.ID().String(), "error", err)
	}
	return nil
}

func (r *Reconciler) recomputeProjectCompletion(ctx context.Context, job *scanning.ScanJob) {
	succeeded, failedPermanent, err := r.jobs.CountByProjectAndStatus(ctx, job.ProjectID())
	if err != nil {
		r.logger.Error(ctx, "failed to count project job statuses", "project_id", job.ProjectID().String(), "error", err)
		return
	}
	project, err := r.projects.Get(ctx, job.ProjectID())
	if err != nil {
		r.logger.Error(ctx, "failed to load project for completion recompute", "project_id", job.ProjectID().String(), "error", err)
		return
	}
	project.RecomputeCompletion(succeeded, failedPermanent)
	if err := r.projects.Update(ctx, project); err != nil {
		r.logger.Error(ctx, "failed to persist project completion", "project_id", job.ProjectID().String(), "error", err)
	}
}
