package workflow

import (
	"errors"
	"fmt"
)

// Engine error taxonomy. Callers branch on these with errors.Is / errors.As;
// the API layer maps them to HTTP statuses. None of them is retryable —
// transient infrastructure errors pass through unwrapped from the store.
var (
	// ErrWorkflowNotFound means the referenced workflow template does not
	// exist or has no stages.
	ErrWorkflowNotFound = errors.New("workflow not found")

	// ErrRequestNotFound means the referenced workflow request does not
	// exist.
	ErrRequestNotFound = errors.New("workflow request not found")

	// ErrStageNotFound means the referenced instance stage does not exist.
	ErrStageNotFound = errors.New("stage not found")

	// ErrInvalidStageState means an action was attempted on a stage that is
	// not pending, or on a request already in a terminal status. It
	// indicates stale client state.
	ErrInvalidStageState = errors.New("stage is not in an actionable state")
)

// UnresolvedAssigneeError is returned when none of a stage's assignment
// rules yields a user. The engine never creates a stage without an assignee,
// since such a stage could never be actioned; this error surfaces the
// workflow configuration for manual fixing.
type UnresolvedAssigneeError struct {
	StageID   string
	StageName string
}

func (e *UnresolvedAssigneeError) Error() string {
	return fmt.Sprintf("no assignment rule resolved an assignee for stage %q (%s)", e.StageName, e.StageID)
}

// InvalidStepError is returned for non-finite or malformed step values.
// Step ordering is load-bearing for correctness, so this indicates template
// or data corruption and is fatal to the transition.
type InvalidStepError struct {
	Step   float64
	Reason string
}

func (e *InvalidStepError) Error() string {
	return fmt.Sprintf("invalid step value %v: %s", e.Step, e.Reason)
}
