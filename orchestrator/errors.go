// Package orchestrator implements the command surface and concurrency
// invariants of spec.md §4.4: create/queue/queue_and_plan/approve/reject/
// replan/cancel/set_plan, worktree exclusion, the global concurrency cap,
// and the single-runner-per-workflow guarantee.
package orchestrator

import "fmt"

// ConflictError is raised when a state-creating command would violate
// worktree exclusion or the single-runner invariant (spec.md §4.4). Wire
// code WORKFLOW_CONFLICT, HTTP 409.
type ConflictError struct {
	// IncumbentWorkflowID identifies the workflow already holding the
	// conflicting resource, when known (worktree conflicts always set this;
	// single-runner conflicts may not).
	IncumbentWorkflowID string
	Reason              string
}

func (e *ConflictError) Error() string {
	if e.IncumbentWorkflowID != "" {
		return fmt.Sprintf("orchestrator: conflict (%s), incumbent workflow %s", e.Reason, e.IncumbentWorkflowID)
	}
	return fmt.Sprintf("orchestrator: conflict (%s)", e.Reason)
}

// InvalidStateError is raised when a command is attempted from a status that
// does not permit it (spec.md §4.4's state machine, or a terminal-state
// guard). Wire code INVALID_STATE, HTTP 422.
type InvalidStateError struct {
	WorkflowID string
	Status     string
	Operation  string
}

func (e *InvalidStateError) Error() string {
	return fmt.Sprintf("orchestrator: workflow %s: %s not valid from status %s", e.WorkflowID, e.Operation, e.Status)
}

// ConcurrencyLimitError is raised when MAX_CONCURRENT_WORKFLOWS would be
// exceeded (spec.md §4.4). Wire code CONCURRENCY_LIMIT, HTTP 429,
// Retry-After: 30.
type ConcurrencyLimitError struct {
	Limit int
}

func (e *ConcurrencyLimitError) Error() string {
	return fmt.Sprintf("orchestrator: concurrency limit of %d non-terminal workflows reached", e.Limit)
}

// RetryAfterSeconds is the fixed Retry-After value spec.md §4.4 prescribes
// for ConcurrencyLimitError responses.
const RetryAfterSeconds = 30
