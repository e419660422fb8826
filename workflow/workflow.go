package workflow

import "time"

// Workflow is the durable aggregate root for one end-to-end pipeline run
// (spec.md §3 "Workflow (aggregate root)"). It is created by an orchestrator
// command, mutated only by orchestrator command methods or the workflow's own
// supervised task, and deleted only by an explicit admin command.
type Workflow struct {
	WorkflowID string `json:"workflow_id" bson:"workflow_id"`

	IssueID      string `json:"issue_id" bson:"issue_id"`
	WorktreePath string `json:"worktree_path" bson:"worktree_path"`
	WorktreeName string `json:"worktree_name" bson:"worktree_name"`
	ProfileName  string `json:"profile_name" bson:"profile_name"`

	Status        Status  `json:"status" bson:"status"`
	CurrentStage  *Agent  `json:"current_stage,omitempty" bson:"current_stage,omitempty"`
	FailureReason *string `json:"failure_reason,omitempty" bson:"failure_reason,omitempty"`

	CreatedAt   time.Time  `json:"created_at" bson:"created_at"`
	StartedAt   *time.Time `json:"started_at,omitempty" bson:"started_at,omitempty"`
	PlannedAt   *time.Time `json:"planned_at,omitempty" bson:"planned_at,omitempty"`
	CompletedAt *time.Time `json:"completed_at,omitempty" bson:"completed_at,omitempty"`

	// PipelineState is the latest materialized view of checkpointed state,
	// kept here for quick reads. The checkpoint store (see checkpoint.Store)
	// is authoritative for resume; this field may lag it slightly between a
	// checkpoint write and the workflow row's update in the same transition.
	PipelineState State `json:"pipeline_state" bson:"pipeline_state"`

	// PlanMarkdown/PlanSummary cache the plan awaiting approval for fast UI
	// retrieval without touching the checkpoint store (spec.md §3 "Approval
	// cache").
	PlanMarkdown string `json:"plan_markdown,omitempty" bson:"plan_markdown,omitempty"`
	PlanSummary  string `json:"plan_summary,omitempty" bson:"plan_summary,omitempty"`
}

// Clone returns a deep-enough copy of w suitable for returning from a
// repository Get/List call without letting the caller mutate internal state.
func (w Workflow) Clone() Workflow {
	out := w
	if w.CurrentStage != nil {
		s := *w.CurrentStage
		out.CurrentStage = &s
	}
	if w.FailureReason != nil {
		r := *w.FailureReason
		out.FailureReason = &r
	}
	out.PipelineState.Tasks = CloneTasks(w.PipelineState.Tasks)
	out.PipelineState.TokenUsage = cloneTokenUsage(w.PipelineState.TokenUsage)
	return out
}
