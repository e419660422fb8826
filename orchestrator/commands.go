package orchestrator

import (
	"context"
	"fmt"
	"time"

	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/pipeline/amelia"
	"github.com/amelia-dev/amelia/statemachine"
	"github.com/amelia-dev/amelia/workflow"
	"github.com/google/uuid"
)

// CreateRequest is the input to Create/Queue/QueueAndPlan.
type CreateRequest struct {
	IssueID      string
	WorktreePath string
	WorktreeName string
	ProfileName  string

	// PlanNow, when true, fires-and-forgets a planning task immediately
	// after the workflow row is created (spec.md §4.4 "optionally fires-
	// and-forgets a planning task").
	PlanNow bool
	// SkipApproval, when true, bypasses the human plan-approval gate: the
	// architect's plan is auto-approved the instant it is produced and the
	// workflow proceeds straight through to the developer/reviewer loop
	// without ever visiting `blocked` (spec.md §4.4 "pending -> in_progress
	// skip-plan-approval start (not default)").
	SkipApproval bool
}

// Create creates a pending workflow after checking the concurrency
// invariants (spec.md §4.4 "create"), then optionally starts planning
// and/or skips the approval gate per req.
func (s *Service) Create(ctx context.Context, req CreateRequest) (string, error) {
	w, err := s.createPendingWorkflow(ctx, req)
	if err != nil {
		return "", err
	}

	switch {
	case req.SkipApproval:
		initial, err := s.buildInitialState(ctx, w)
		if err != nil {
			s.failWorkflow(ctx, w.WorkflowID, err.Error())
			return w.WorkflowID, nil
		}
		if err := s.workflows.SetStatus(ctx, w.WorkflowID, workflow.StatusInProgress, nil); err != nil {
			return "", fmt.Errorf("orchestrator: transition to in_progress: %w", err)
		}
		go s.runSkipApprovalTask(w.WorkflowID, initial)

	case req.PlanNow:
		if err := s.workflows.SetStatus(ctx, w.WorkflowID, workflow.StatusPlanning, nil); err != nil {
			return "", fmt.Errorf("orchestrator: transition to planning: %w", err)
		}
		initial, err := s.buildInitialState(ctx, w)
		if err != nil {
			s.failWorkflow(ctx, w.WorkflowID, err.Error())
			return w.WorkflowID, nil
		}
		go s.runPlanningTask(w.WorkflowID, initial)
	}

	return w.WorkflowID, nil
}

// Queue creates a pending workflow without starting planning or execution
// (spec.md §4.4 "queue").
func (s *Service) Queue(ctx context.Context, req CreateRequest) (string, error) {
	req.PlanNow = false
	req.SkipApproval = false
	w, err := s.createPendingWorkflow(ctx, req)
	if err != nil {
		return "", err
	}
	return w.WorkflowID, nil
}

// QueueAndPlan creates a pending workflow and immediately spawns a planning
// task (spec.md §4.4 "queue_and_plan").
func (s *Service) QueueAndPlan(ctx context.Context, req CreateRequest) (string, error) {
	req.PlanNow = true
	req.SkipApproval = false
	return s.Create(ctx, req)
}

func (s *Service) createPendingWorkflow(ctx context.Context, req CreateRequest) (workflow.Workflow, error) {
	// The concurrency-cap and worktree-exclusion checks and the subsequent
	// insert must be serialized, or two concurrent creates can both observe
	// room under the cap (or an unclaimed worktree) and both proceed
	// (spec.md §8 invariants 3 and 4). s.mu is otherwise only held briefly
	// around s.tasks bookkeeping in tasks.go, so holding it across this
	// check-then-insert section introduces no deadlock risk.
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.checkConcurrencyInvariants(ctx, req.WorktreePath); err != nil {
		return workflow.Workflow{}, err
	}

	w := workflow.Workflow{
		WorkflowID:   uuid.NewString(),
		IssueID:      req.IssueID,
		WorktreePath: req.WorktreePath,
		WorktreeName: req.WorktreeName,
		ProfileName:  req.ProfileName,
		Status:       workflow.StatusPending,
		CreatedAt:    time.Now().UTC(),
	}
	if err := s.workflows.Create(ctx, w); err != nil {
		return workflow.Workflow{}, fmt.Errorf("orchestrator: create workflow: %w", err)
	}
	s.emit(ctx, w.WorkflowID, events.WorkflowCreated, "", "")
	return w, nil
}

// buildInitialState resolves the workflow's profile and issue and builds
// the pipeline's initial state bag (spec.md §4.4 "initial state built from
// (issue, profile, worktree)").
func (s *Service) buildInitialState(ctx context.Context, w workflow.Workflow) (workflow.State, error) {
	profile, err := s.profiles.Get(w.ProfileName)
	if err != nil {
		return workflow.State{}, fmt.Errorf("orchestrator: resolve profile %q: %w", w.ProfileName, err)
	}
	issue, err := s.tracker.GetIssue(ctx, w.IssueID)
	if err != nil {
		return workflow.State{}, fmt.Errorf("orchestrator: fetch issue %q: %w", w.IssueID, err)
	}
	_ = profile // profile drives agent/driver wiring outside the orchestration core (spec.md §1)
	return workflow.State{
		WorkflowID: w.WorkflowID,
		ProfileID:  profile.Name,
		Issue:      issue,
	}, nil
}

// runSkipApprovalTask implements the req.SkipApproval path of Create: run
// the graph to its first interrupt, then immediately resume it with an
// auto-approval, never surfacing `blocked` to the caller.
func (s *Service) runSkipApprovalTask(workflowID string, initial workflow.State) {
	taskCtx, err := s.acquireTask(context.Background(), workflowID, taskKindExecution)
	if err != nil {
		s.logger.Error(context.Background(), "failed to acquire skip-approval task slot", "workflow_id", workflowID, "error", err)
		return
	}
	defer s.finishTask(workflowID)

	s.emit(taskCtx, workflowID, events.StageStarted, string(workflow.AgentArchitect), "")
	outcome, err := s.engine.Run(taskCtx, workflowID, initial)
	if err != nil {
		s.failWorkflow(taskCtx, workflowID, fmt.Sprintf("pipeline error: %v", err))
		return
	}
	if outcome.Interrupt == nil {
		s.handlePipelineOutcome(taskCtx, workflowID, outcome, nil)
		return
	}
	outcome, err = s.engine.Resume(taskCtx, workflowID, amelia.PlanApprovalPayload{Approved: true})
	s.handlePipelineOutcome(taskCtx, workflowID, outcome, err)
}

// Approve transitions a `blocked` workflow to `in_progress` and spawns an
// execution task that resumes the pipeline with an approval payload
// (spec.md §4.4 "approve").
func (s *Service) Approve(ctx context.Context, workflowID string) error {
	w, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.Status != workflow.StatusBlocked {
		return &InvalidStateError{WorkflowID: workflowID, Status: string(w.Status), Operation: "approve"}
	}
	if _, err := statemachine.Validate(w.Status, workflow.StatusInProgress); err != nil {
		return &InvalidStateError{WorkflowID: workflowID, Status: string(w.Status), Operation: "approve"}
	}
	if err := s.workflows.SetStatus(ctx, workflowID, workflow.StatusInProgress, nil); err != nil {
		return fmt.Errorf("orchestrator: approve: %w", err)
	}
	s.emit(ctx, workflowID, events.ApprovalGranted, string(workflow.AgentArchitect), "")
	go s.runExecutionTask(workflowID, amelia.PlanApprovalPayload{Approved: true})
	return nil
}

// Reject transitions a `blocked` workflow straight to `failed`, recording
// feedback as the failure reason (spec.md §4.4 "reject"). The pipeline is
// still resumed (with a rejection payload) so the architect node's own
// resume branch runs to completion and the checkpoint reflects a terminated
// run, but the workflow's externally visible status change happens
// immediately rather than waiting on that task.
func (s *Service) Reject(ctx context.Context, workflowID, feedback string) error {
	w, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if _, err := statemachine.Validate(w.Status, workflow.StatusFailed); err != nil || w.Status != workflow.StatusBlocked {
		return &InvalidStateError{WorkflowID: workflowID, Status: string(w.Status), Operation: "reject"}
	}
	s.failWorkflow(ctx, workflowID, feedback)
	go s.runExecutionTask(workflowID, amelia.PlanApprovalPayload{Approved: false, Feedback: feedback})
	return nil
}

// Replan deletes all checkpoints for workflowID, clears the plan fields in
// its pipeline state, transitions it back to `planning`, and spawns a fresh
// planning task (spec.md §4.4 "replan"). Rejected if a planning task is
// already running for this workflow — acquireTask's single-runner check
// covers that once the new task is spawned, but the status-machine check
// below additionally rejects replan from any status other than `blocked`.
func (s *Service) Replan(ctx context.Context, workflowID string) error {
	w, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if _, err := statemachine.Validate(w.Status, workflow.StatusPlanning); err != nil || w.Status != workflow.StatusBlocked {
		return &InvalidStateError{WorkflowID: workflowID, Status: string(w.Status), Operation: "replan"}
	}

	if err := s.checkpoints.DeleteAll(ctx, workflowID); err != nil {
		return fmt.Errorf("orchestrator: replan: purge checkpoints: %w", err)
	}
	resetState := workflow.ResetForReplan(w.PipelineState)
	if err := s.workflows.UpdatePipelineState(ctx, workflowID, resetState); err != nil {
		return fmt.Errorf("orchestrator: replan: reset pipeline state: %w", err)
	}
	if err := s.workflows.UpdatePlanCache(ctx, workflowID, "", ""); err != nil {
		return fmt.Errorf("orchestrator: replan: clear plan cache: %w", err)
	}
	if err := s.workflows.SetStatus(ctx, workflowID, workflow.StatusPlanning, nil); err != nil {
		return fmt.Errorf("orchestrator: replan: transition to planning: %w", err)
	}
	s.emit(ctx, workflowID, events.ReplanStarted, string(workflow.AgentArchitect), "")

	initial, err := s.buildInitialState(ctx, w)
	if err != nil {
		s.failWorkflow(ctx, workflowID, err.Error())
		return nil
	}
	initial.WorkflowID = workflowID
	go s.runPlanningTask(workflowID, initial)
	return nil
}

// Cancel requests cooperative cancellation of workflowID's supervised task,
// if any, waits up to the configured grace period for it to exit, then
// transitions the workflow to `cancelled` regardless (spec.md §4.4
// "Cancellation semantics"). Valid from any non-terminal status; a second
// Cancel on an already-terminal workflow is rejected as INVALID_STATE.
func (s *Service) Cancel(ctx context.Context, workflowID string) error {
	w, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.Status.Terminal() {
		return &InvalidStateError{WorkflowID: workflowID, Status: string(w.Status), Operation: "cancel"}
	}

	s.mu.Lock()
	rt, hasTask := s.tasks[workflowID]
	s.mu.Unlock()

	if hasTask {
		rt.cancel()
		select {
		case <-rt.done:
		case <-time.After(s.cancelGrace):
			s.logger.Warn(ctx, "supervised task did not acknowledge cancel within grace period, task is now orphaned",
				"workflow_id", workflowID, "grace_period", s.cancelGrace)
		}
	}

	if err := s.workflows.SetStatus(ctx, workflowID, workflow.StatusCancelled, nil); err != nil {
		return fmt.Errorf("orchestrator: cancel: %w", err)
	}
	s.emit(ctx, workflowID, events.WorkflowCancelled, "", "")
	return nil
}

// SetPlan administratively injects a pre-baked plan into a `blocked`
// workflow's pipeline state so a subsequent Approve resumes with it
// (spec.md §4.4 "set_plan").
func (s *Service) SetPlan(ctx context.Context, workflowID, planMarkdown string) error {
	w, err := s.workflows.Get(ctx, workflowID)
	if err != nil {
		return err
	}
	if w.Status != workflow.StatusBlocked {
		return &InvalidStateError{WorkflowID: workflowID, Status: string(w.Status), Operation: "set_plan"}
	}
	if _, err := s.engine.UpdateState(ctx, workflowID, workflow.Delta{PlanMarkdown: &planMarkdown}); err != nil {
		return fmt.Errorf("orchestrator: set_plan: update pipeline state: %w", err)
	}
	return s.workflows.UpdatePlanCache(ctx, workflowID, planMarkdown, w.PlanSummary)
}
