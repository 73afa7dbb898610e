package scanning

import "errors"

var (
	// ErrInvalidStatus is returned when a JobStatus value is not one of the
	// known states.
	ErrInvalidStatus = errors.New("invalid job status")
	// ErrInvalidTransition is returned when a requested state transition is
	// not a legal edge in the ScanJob state machine.
	ErrInvalidTransition = errors.New("invalid job status transition")
	// ErrJobNotFound is returned by JobRepository lookups that find no row.
	ErrJobNotFound = errors.New("scan job not found")
	// ErrProjectNotFound is returned by ProjectRepository lookups that find
	// no row.
	ErrProjectNotFound = errors.New("project not found")
	// ErrOptimisticLock is returned when a conditional UPDATE affects zero
	// rows because the row's state/attempts no longer match the expected
	// precondition (another writer beat us to it).
	ErrOptimisticLock = errors.New("scan job changed concurrently")
	// ErrAttemptBudgetExhausted is returned when a retry is attempted after
	// the job's attempt budget has already been exhausted.
	ErrAttemptBudgetExhausted = errors.New("attempt budget exhausted")
	// ErrLockCapacityExceeded is returned by LockRepository.Acquire when an
	// analysis server already has cap InstanceLocks held.
	ErrLockCapacityExceeded = errors.New("instance lock capacity exceeded")
)
