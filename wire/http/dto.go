package http

import (
	"time"

	"github.com/amelia-dev/amelia/workflow"
)

// createWorkflowRequest is the POST /workflows body (spec.md §4.5 "request
// validation rules").
type createWorkflowRequest struct {
	IssueID      string `json:"issue_id" validate:"required,min=1,max=100,issue_id"`
	WorktreePath string `json:"worktree_path" validate:"required,worktree_path"`
	WorktreeName string `json:"worktree_name" validate:"omitempty,max=200"`
	ProfileName  string `json:"profile_name" validate:"required,lowercase_ident"`
	PlanNow      bool   `json:"plan_now"`
	SkipApproval bool   `json:"skip_approval"`
}

// rejectWorkflowRequest is the POST /workflows/{id}/reject body.
type rejectWorkflowRequest struct {
	Feedback string `json:"feedback" validate:"required,min=1,max=4000"`
}

// setPlanRequest is the POST /workflows/{id}/set_plan body (administrative,
// spec.md §4.4 "set_plan").
type setPlanRequest struct {
	PlanMarkdown string `json:"plan_markdown" validate:"required,min=1"`
}

// workflowResponse is the JSON shape returned for a single workflow, both in
// list pages and in the detail endpoint (spec.md §3 field names).
type workflowResponse struct {
	WorkflowID    string     `json:"workflow_id"`
	IssueID       string     `json:"issue_id"`
	WorktreePath  string     `json:"worktree_path"`
	WorktreeName  string     `json:"worktree_name"`
	ProfileName   string     `json:"profile_name"`
	Status        string     `json:"status"`
	CurrentStage  string     `json:"current_stage,omitempty"`
	FailureReason string     `json:"failure_reason,omitempty"`
	CreatedAt     time.Time  `json:"created_at"`
	StartedAt     *time.Time `json:"started_at,omitempty"`
	PlannedAt     *time.Time `json:"planned_at,omitempty"`
	CompletedAt   *time.Time `json:"completed_at,omitempty"`
	PlanMarkdown  string     `json:"plan_markdown,omitempty"`
	PlanSummary   string     `json:"plan_summary,omitempty"`
}

func toWorkflowResponse(w workflow.Workflow) workflowResponse {
	resp := workflowResponse{
		WorkflowID:   w.WorkflowID,
		IssueID:      w.IssueID,
		WorktreePath: w.WorktreePath,
		WorktreeName: w.WorktreeName,
		ProfileName:  w.ProfileName,
		Status:       string(w.Status),
		CreatedAt:    w.CreatedAt,
		StartedAt:    w.StartedAt,
		PlannedAt:    w.PlannedAt,
		CompletedAt:  w.CompletedAt,
		PlanMarkdown: w.PlanMarkdown,
		PlanSummary:  w.PlanSummary,
	}
	if w.CurrentStage != nil {
		resp.CurrentStage = string(*w.CurrentStage)
	}
	if w.FailureReason != nil {
		resp.FailureReason = *w.FailureReason
	}
	return resp
}

// workflowDetailResponse additionally includes the latest review, token
// usage, and recent events (spec.md §4.5 "GET /workflows/{id} — detail
// including plan summary, latest review, token usage, recent events").
type workflowDetailResponse struct {
	workflowResponse
	LastReview  *workflow.Review                       `json:"last_review,omitempty"`
	TokenUsage  map[workflow.Agent]workflow.TokenUsage  `json:"token_usage,omitempty"`
	Iteration   int                                     `json:"iteration"`
	MaxIteration int                                    `json:"max_iteration"`
	Events      []eventResponse                         `json:"recent_events"`
}

type eventResponse struct {
	EventID   string    `json:"event_id"`
	Sequence  int64     `json:"sequence,omitempty"`
	Timestamp time.Time `json:"timestamp"`
	EventType string    `json:"event_type"`
	Agent     string    `json:"agent,omitempty"`
	Message   string    `json:"message,omitempty"`
}

type listWorkflowsResponse struct {
	Workflows  []workflowResponse `json:"workflows"`
	NextCursor string             `json:"next_cursor,omitempty"`
	HasMore    bool               `json:"has_more"`
	Total      int64              `json:"total"`
}

type createWorkflowResponse struct {
	WorkflowID string `json:"workflow_id"`
}
