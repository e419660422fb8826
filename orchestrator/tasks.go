package orchestrator

import (
	"context"
	"fmt"

	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/pipeline"
	"github.com/amelia-dev/amelia/pipeline/amelia"
	"github.com/amelia-dev/amelia/workflow"
)

// acquireTask registers a running task for workflowID, enforcing spec.md
// §4.4 invariant 3 (single runner) and, for planning tasks, the "no replan
// while planning" rule from the `replan` command description. Returns the
// task's cancellable context, or a *ConflictError if a task is already
// registered; on success the caller must defer finishTask exactly once.
func (s *Service) acquireTask(_ context.Context, workflowID string, kind taskKind) (context.Context, error) {
	s.mu.Lock()
	if _, exists := s.tasks[workflowID]; exists {
		s.mu.Unlock()
		return nil, &ConflictError{IncumbentWorkflowID: workflowID, Reason: "a supervised task is already running for this workflow"}
	}
	taskCtx, cancel := context.WithCancel(context.Background())
	rt := &runningTask{cancel: cancel, done: make(chan struct{}), kind: kind}
	s.tasks[workflowID] = rt
	s.mu.Unlock()

	return taskCtx, nil
}

// finishTask is called by the task goroutine that acquired the slot, always
// via defer, to clear the running-tasks slot and close the done channel Cancel
// waits on.
func (s *Service) finishTask(workflowID string) {
	s.mu.Lock()
	rt, ok := s.tasks[workflowID]
	delete(s.tasks, workflowID)
	s.mu.Unlock()
	if ok {
		close(rt.done)
	}
}

// runPlanningTask implements spec.md §4.4's "Planning task lifecycle": run
// the graph from its entry node and react to the architect's interrupt or
// failure.
func (s *Service) runPlanningTask(workflowID string, initial workflow.State) {
	taskCtx, err := s.acquireTask(context.Background(), workflowID, taskKindPlanning)
	if err != nil {
		s.logger.Error(context.Background(), "failed to acquire planning task slot", "workflow_id", workflowID, "error", err)
		return
	}
	defer s.finishTask(workflowID)

	s.emit(taskCtx, workflowID, events.StageStarted, string(workflow.AgentArchitect), "")
	outcome, err := s.engine.Run(taskCtx, workflowID, initial)
	s.handlePipelineOutcome(taskCtx, workflowID, outcome, err)
}

// runExecutionTask implements spec.md §4.4's "Execution task lifecycle":
// resume the paused pipeline with payload and react to the developer/
// reviewer loop's outcome, which may itself interrupt again in a richer
// graph — the concrete graph in pipeline/amelia never does, but the task
// loop handles it generically in case a future graph adds a second
// interrupt point.
func (s *Service) runExecutionTask(workflowID string, payload any) {
	taskCtx, err := s.acquireTask(context.Background(), workflowID, taskKindExecution)
	if err != nil {
		s.logger.Error(context.Background(), "failed to acquire execution task slot", "workflow_id", workflowID, "error", err)
		return
	}
	defer s.finishTask(workflowID)

	outcome, err := s.engine.Resume(taskCtx, workflowID, payload)
	s.handlePipelineOutcome(taskCtx, workflowID, outcome, err)
}

// handlePipelineOutcome is the shared tail of both task kinds: persist the
// materialized pipeline state, then react to interrupt/terminal/error.
func (s *Service) handlePipelineOutcome(ctx context.Context, workflowID string, outcome pipeline.Outcome, err error) {
	if err != nil {
		s.failWorkflow(ctx, workflowID, fmt.Sprintf("pipeline error: %v", err))
		return
	}

	if saveErr := s.workflows.UpdatePipelineState(ctx, workflowID, outcome.State); saveErr != nil {
		s.logger.Error(ctx, "failed to persist pipeline state", "workflow_id", workflowID, "error", saveErr)
	}

	switch {
	case outcome.Interrupt != nil && outcome.Interrupt.Reason == amelia.InterruptAwaitingPlanApproval:
		if err := s.workflows.SetStatus(ctx, workflowID, workflow.StatusBlocked, nil); err != nil {
			s.logger.Error(ctx, "failed to transition to blocked", "workflow_id", workflowID, "error", err)
			return
		}
		if err := s.workflows.UpdatePlanCache(ctx, workflowID, outcome.State.PlanMarkdown, outcome.State.PlanSummary); err != nil {
			s.logger.Error(ctx, "failed to cache plan", "workflow_id", workflowID, "error", err)
		}
		s.emit(ctx, workflowID, events.ApprovalRequired, string(workflow.AgentArchitect), "")

	case outcome.Terminal == pipeline.TerminalSuccess:
		if err := s.workflows.SetStatus(ctx, workflowID, workflow.StatusCompleted, nil); err != nil {
			s.logger.Error(ctx, "failed to transition to completed", "workflow_id", workflowID, "error", err)
			return
		}
		s.emit(ctx, workflowID, events.StageCompleted, "workflow", "")
		s.emit(ctx, workflowID, events.WorkflowCompleted, "", "")

	case outcome.Terminal == pipeline.TerminalFailure:
		s.failWorkflow(ctx, workflowID, "pipeline ended in terminal failure")

	default:
		s.logger.Error(ctx, "pipeline task returned with neither interrupt nor terminal outcome", "workflow_id", workflowID)
	}
}

// failWorkflow transitions workflowID to failed with reason, from whichever
// non-terminal status it currently holds, and emits workflow_failed. Used
// both by handlePipelineOutcome and by command-level failures (architect
// exception during planning, reviewer iteration-cap exhaustion, explicit
// reject).
func (s *Service) failWorkflow(ctx context.Context, workflowID, reason string) {
	if w, err := s.workflows.Get(ctx, workflowID); err == nil && w.Status.Terminal() {
		s.logger.Warn(ctx, "workflow already terminal, not marking failed", "workflow_id", workflowID, "status", string(w.Status))
		return
	}
	if err := s.workflows.SetStatus(ctx, workflowID, workflow.StatusFailed, &reason); err != nil {
		s.logger.Error(ctx, "failed to transition to failed", "workflow_id", workflowID, "error", err)
		return
	}
	s.emit(ctx, workflowID, events.StageFailed, "", reason)
	s.emit(ctx, workflowID, events.WorkflowFailed, "", reason)
}
