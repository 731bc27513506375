package lifecycle

import (
	"fmt"

	"github.com/orchestrator/controlplane/pkg/types"
)

// validExecutionTransitions enumerates the legal Execution state moves:
// PENDING -> RUNNING -> {SUCCEEDED|FAILED|CANCELLED}, plus the direct
// PENDING -> CANCELLED path for a job cancelled before dispatch and
// PENDING -> FAILED for one that never started (e.g. a dispatch timeout).
var validExecutionTransitions = map[types.ExecutionState][]types.ExecutionState{
	types.ExecutionPending: {types.ExecutionRunning, types.ExecutionCancelled, types.ExecutionFailed},
	types.ExecutionRunning: {types.ExecutionSucceeded, types.ExecutionFailed, types.ExecutionCancelled},
}

// ValidateExecutionTransition reports whether moving an Execution from
// `from` to `to` is legal. Terminal states never transition further.
func ValidateExecutionTransition(from, to types.ExecutionState) error {
	if from.Terminal() {
		return fmt.Errorf("execution is already in terminal state %s, cannot move to %s", from, to)
	}
	for _, allowed := range validExecutionTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("illegal execution transition %s -> %s", from, to)
}

// validJobTransitions mirrors the Execution table one level up: a Job moves
// PENDING -> QUEUED -> RUNNING -> {COMPLETED|FAILED|CANCELLED}, with
// CANCELLED reachable from any non-terminal state.
var validJobTransitions = map[types.JobStatus][]types.JobStatus{
	types.JobPending: {types.JobQueued, types.JobCancelled},
	types.JobQueued:  {types.JobRunning, types.JobCancelled},
	types.JobRunning: {types.JobCompleted, types.JobFailed, types.JobCancelled, types.JobQueued},
}

// ValidateJobTransition reports whether moving a Job from `from` to `to` is
// legal. JobRunning -> JobQueued covers a retried attempt being requeued.
func ValidateJobTransition(from, to types.JobStatus) error {
	if from.Terminal() {
		return fmt.Errorf("job is already in terminal status %s, cannot move to %s", from, to)
	}
	for _, allowed := range validJobTransitions[from] {
		if allowed == to {
			return nil
		}
	}
	return fmt.Errorf("illegal job transition %s -> %s", from, to)
}
