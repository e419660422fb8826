// Package statemachine validates Workflow.Status transitions against the
// single fixed table in spec.md §4.4. It has no side effects: callers
// (orchestrator command methods) consult Validate before mutating a workflow
// row and before spawning or resuming a supervised task.
package statemachine

import (
	"fmt"

	"github.com/amelia-dev/amelia/workflow"
)

// Trigger names why a transition is being attempted. Triggers exist purely
// for logging/telemetry context; validity is determined by (from, to) alone.
type Trigger string

const (
	TriggerStartPlanning     Trigger = "start_planning"
	TriggerSkipApprovalStart Trigger = "skip_approval_start"
	TriggerCancel            Trigger = "cancel"
	TriggerAwaitApproval     Trigger = "await_approval"
	TriggerArchitectFailure  Trigger = "architect_failure"
	TriggerReplan            Trigger = "replan"
	TriggerApprove           Trigger = "approve"
	TriggerReject            Trigger = "reject"
	TriggerIteration         Trigger = "iteration"
	TriggerReviewerApprove   Trigger = "reviewer_approve"
	TriggerMaxIterations     Trigger = "max_iterations_or_fatal"
)

type edge struct {
	from, to workflow.Status
}

// table enumerates every legal transition in spec.md §4.4. in_progress ->
// in_progress (internal iteration) is included even though it is a status
// no-op: Validate still runs so callers get one code path regardless of
// whether a transition actually changes Status.
var table = map[edge]Trigger{
	{workflow.StatusPending, workflow.StatusPlanning}:    TriggerStartPlanning,
	{workflow.StatusPending, workflow.StatusInProgress}:  TriggerSkipApprovalStart,
	{workflow.StatusPending, workflow.StatusCancelled}:   TriggerCancel,
	{workflow.StatusPlanning, workflow.StatusBlocked}:    TriggerAwaitApproval,
	{workflow.StatusPlanning, workflow.StatusFailed}:     TriggerArchitectFailure,
	{workflow.StatusPlanning, workflow.StatusCancelled}:  TriggerCancel,
	{workflow.StatusBlocked, workflow.StatusPlanning}:    TriggerReplan,
	{workflow.StatusBlocked, workflow.StatusInProgress}:  TriggerApprove,
	{workflow.StatusBlocked, workflow.StatusFailed}:      TriggerReject,
	{workflow.StatusBlocked, workflow.StatusCancelled}:   TriggerCancel,
	{workflow.StatusInProgress, workflow.StatusInProgress}: TriggerIteration,
	{workflow.StatusInProgress, workflow.StatusCompleted}:  TriggerReviewerApprove,
	{workflow.StatusInProgress, workflow.StatusFailed}:     TriggerMaxIterations,
	{workflow.StatusInProgress, workflow.StatusCancelled}:  TriggerCancel,
}

// InvalidTransitionError reports a rejected (from, to) pair. Orchestrator
// commands turn it into an orchestrator.InvalidStateError, which wire/http's
// exception mapper reports as INVALID_STATE, HTTP 422 (spec.md §4.5).
type InvalidTransitionError struct {
	From, To workflow.Status
}

func (e *InvalidTransitionError) Error() string {
	if e.From.Terminal() {
		return fmt.Sprintf("statemachine: workflow is in terminal state %q, no transitions allowed", e.From)
	}
	return fmt.Sprintf("statemachine: transition %q -> %q is not allowed", e.From, e.To)
}

// Validate reports whether from -> to is a legal transition and, if so, the
// trigger it corresponds to. It never mutates anything; the caller is
// responsible for actually persisting the new status once Validate succeeds.
func Validate(from, to workflow.Status) (Trigger, error) {
	trig, ok := table[edge{from, to}]
	if !ok {
		return "", &InvalidTransitionError{From: from, To: to}
	}
	return trig, nil
}

// MustValidate is a convenience for call sites that already guard with their
// own error handling path and just want a boolean.
func MustValidate(from, to workflow.Status) bool {
	_, err := Validate(from, to)
	return err == nil
}
