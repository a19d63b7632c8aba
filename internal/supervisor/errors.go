package supervisor

import "errors"

var (
	// ErrSpawnFailed is returned by Start when the very first child cannot be created.
	ErrSpawnFailed = errors.New("supervisor: spawn failed")
	// ErrTransitionInProgress is returned when a lifecycle transition is rejected
	// because another reload or scale-down is already active.
	ErrTransitionInProgress = errors.New("supervisor: a lifecycle transition is already in progress")
	// ErrShuttingDown is returned when an operation is rejected because shutdown is terminal.
	ErrShuttingDown = errors.New("supervisor: shutdown in progress")
	// ErrMinimumWorkers is the scale-down reply when the registry size is already ≤ 1.
	ErrMinimumWorkers = errors.New("supervisor: cannot scale below one worker")
)
