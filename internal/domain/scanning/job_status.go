// Package scanning models the commit-quality scan domain: the ScanJob state
// machine, the Project it belongs to, and the records produced as a job
// completes (ScanResult, FailedCommit) or is observed from the outside
// (WebhookEvent, InstanceLock).
package scanning

import "fmt"

// JobStatus is the state of a single ScanJob in its lifecycle.
type JobStatus string

const (
	// JobStatusPending is the initial state after CSV ingestion, before the
	// job has been handed to the Queue.
	JobStatusPending JobStatus = "PENDING"
	// JobStatusQueued means the job has been published to the Queue and is
	// waiting for a dispatcher to claim it.
	JobStatusQueued JobStatus = "QUEUED"
	// JobStatusRunning means a dispatcher holds the job's instance lock and
	// the scan has been submitted to the analysis server.
	JobStatusRunning JobStatus = "RUNNING"
	// JobStatusSucceeded is terminal: the scan completed and metrics were
	// fetched successfully.
	JobStatusSucceeded JobStatus = "SUCCEEDED"
	// JobStatusFailedTemp is a recoverable failure; the job may be retried by
	// transitioning back to QUEUED, subject to the attempt budget.
	JobStatusFailedTemp JobStatus = "FAILED_TEMP"
	// JobStatusFailedPermanent is terminal: the attempt budget was exhausted
	// or the failure was classified as unrecoverable.
	JobStatusFailedPermanent JobStatus = "FAILED_PERMANENT"
)

// String implements fmt.Stringer.
func (s JobStatus) String() string { return string(s) }

// IsTerminal reports whether no further automatic transition is expected
// from this state (an operator-initiated requeue is still possible from
// FAILED_PERMANENT).
func (s JobStatus) IsTerminal() bool {
	switch s {
	case JobStatusSucceeded, JobStatusFailedPermanent:
		return true
	default:
		return false
	}
}

// validTransitions enumerates the edges of the ScanJob state machine. A
// transition not present here is rejected by ValidateTransition.
var validTransitions = map[JobStatus]map[JobStatus]struct{}{
	JobStatusPending: {
		JobStatusQueued: {},
	},
	JobStatusQueued: {
		JobStatusRunning: {},
		// A requeue (e.g. checkout or scan submission failure before RUNNING)
		// loops back to QUEUED without ever reaching RUNNING.
		JobStatusQueued: {},
		// A pre-RUNNING failure (checkout, submission, or an unresolvable
		// analysis-server binding) can exhaust the attempt budget without the
		// job ever having reached RUNNING.
		JobStatusFailedPermanent: {},
	},
	JobStatusRunning: {
		JobStatusSucceeded:       {},
		JobStatusFailedTemp:      {},
		JobStatusFailedPermanent: {},
	},
	JobStatusFailedTemp: {
		JobStatusQueued:          {}, // retried, attempts < budget
		JobStatusFailedPermanent: {}, // attempt budget exhausted
	},
	JobStatusFailedPermanent: {
		JobStatusQueued: {}, // operator-initiated manual retry
	},
	JobStatusSucceeded: {},
}

// ValidateTransition reports an error unless from->to is a legal edge in the
// ScanJob state machine.
func ValidateTransition(from, to JobStatus) error {
	edges, ok := validTransitions[from]
	if !ok {
		return fmt.Errorf("%w: unknown state %q", ErrInvalidStatus, from)
	}
	if _, ok := edges[to]; !ok {
		return fmt.Errorf("%w: %s -> %s", ErrInvalidTransition, from, to)
	}
	return nil
}
