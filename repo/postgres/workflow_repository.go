package postgres

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amelia-dev/amelia/repo"
	"github.com/amelia-dev/amelia/workflow"
)

// WorkflowRepository implements repo.WorkflowRepository against the
// `workflows` table (spec.md §6).
type WorkflowRepository struct {
	db *pgxpool.Pool
}

var _ interface {
	Create(ctx context.Context, w workflow.Workflow) error
	Get(ctx context.Context, workflowID string) (workflow.Workflow, error)
	List(ctx context.Context, filter repo.ListFilter) (repo.ListPage, error)
	SetStatus(ctx context.Context, workflowID string, newStatus workflow.Status, failureReason *string) error
	UpdatePlanCache(ctx context.Context, workflowID, planMarkdown, planSummary string) error
	UpdatePipelineState(ctx context.Context, workflowID string, state workflow.State) error
} = (*WorkflowRepository)(nil)

// Create inserts a new workflow row.
func (r *WorkflowRepository) Create(ctx context.Context, w workflow.Workflow) error {
	state, err := json.Marshal(w.PipelineState)
	if err != nil {
		return fmt.Errorf("postgres: marshal pipeline state: %w", err)
	}
	_, err = r.db.Exec(ctx, `
		INSERT INTO workflows (
			workflow_id, issue_id, worktree_path, worktree_name, profile_name,
			status, current_stage, failure_reason,
			created_at, started_at, planned_at, completed_at,
			pipeline_state, plan_markdown, plan_summary
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15)`,
		w.WorkflowID, w.IssueID, w.WorktreePath, w.WorktreeName, w.ProfileName,
		string(w.Status), agentPtrToString(w.CurrentStage), w.FailureReason,
		w.CreatedAt, w.StartedAt, w.PlannedAt, w.CompletedAt,
		state, w.PlanMarkdown, w.PlanSummary,
	)
	if err != nil {
		return fmt.Errorf("postgres: create workflow: %w", err)
	}
	return nil
}

// Get fetches one workflow row by ID.
func (r *WorkflowRepository) Get(ctx context.Context, workflowID string) (workflow.Workflow, error) {
	row := r.db.QueryRow(ctx, `
		SELECT workflow_id, issue_id, worktree_path, worktree_name, profile_name,
		       status, current_stage, failure_reason,
		       created_at, started_at, planned_at, completed_at,
		       pipeline_state, plan_markdown, plan_summary
		FROM workflows WHERE workflow_id = $1`, workflowID)
	w, err := scanWorkflow(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return workflow.Workflow{}, repo.ErrNotFound
	}
	if err != nil {
		return workflow.Workflow{}, fmt.Errorf("postgres: get workflow: %w", err)
	}
	return w, nil
}

// listCursor is the tie-break tuple a List cursor opaquely encodes (spec.md
// §4.2 "cursor is opaque base64 of the tie-break tuple"). StartedAt is
// nullable because a workflow that hasn't left "pending" yet has no
// started_at; see the NULLS LAST handling in List's WHERE clause.
type listCursor struct {
	StartedAt  *time.Time `json:"started_at,omitempty"`
	WorkflowID string     `json:"workflow_id"`
}

func encodeListCursor(w workflow.Workflow) string {
	data, err := json.Marshal(listCursor{StartedAt: w.StartedAt, WorkflowID: w.WorkflowID})
	if err != nil {
		return ""
	}
	return base64.URLEncoding.EncodeToString(data)
}

func decodeListCursor(cursor string) (listCursor, error) {
	if cursor == "" {
		return listCursor{}, nil
	}
	data, err := base64.URLEncoding.DecodeString(cursor)
	if err != nil {
		return listCursor{}, fmt.Errorf("postgres: decode cursor: %w", err)
	}
	var c listCursor
	if err := json.Unmarshal(data, &c); err != nil {
		return listCursor{}, fmt.Errorf("postgres: decode cursor: %w", err)
	}
	return c, nil
}

// List returns a cursor-paginated, optionally filtered page of workflows,
// ordered newest-first by (started_at, workflow_id) matching the
// workflows_started_at_id_idx index (spec.md §6). Rows with a null
// started_at (not yet started) sort after every started row, by
// workflow_id descending among themselves.
func (r *WorkflowRepository) List(ctx context.Context, filter repo.ListFilter) (repo.ListPage, error) {
	limit := filter.Limit
	if limit <= 0 {
		limit = 50
	}

	var statusArg *string
	if filter.Status != nil {
		s := string(*filter.Status)
		statusArg = &s
	}

	cursor, err := decodeListCursor(filter.Cursor)
	if err != nil {
		return repo.ListPage{}, err
	}
	hasCursor := filter.Cursor != ""

	query := `
		SELECT workflow_id, issue_id, worktree_path, worktree_name, profile_name,
		       status, current_stage, failure_reason,
		       created_at, started_at, planned_at, completed_at,
		       pipeline_state, plan_markdown, plan_summary
		FROM workflows
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR worktree_path = $2)
		  AND (
		    NOT $3::boolean
		    OR ($4::timestamptz IS NULL AND started_at IS NULL AND workflow_id < $5)
		    OR ($4::timestamptz IS NOT NULL AND (
		          started_at IS NULL
		          OR started_at < $4
		          OR (started_at = $4 AND workflow_id < $5)
		        ))
		  )
		ORDER BY started_at DESC NULLS LAST, workflow_id DESC
		LIMIT $6`

	rows, err := r.db.Query(ctx, query, statusArg, filter.WorktreePath, hasCursor, cursor.StartedAt, cursor.WorkflowID, limit+1)
	if err != nil {
		return repo.ListPage{}, fmt.Errorf("postgres: list workflows: %w", err)
	}
	defer rows.Close()

	var page repo.ListPage
	for rows.Next() {
		w, err := scanWorkflow(rows)
		if err != nil {
			return repo.ListPage{}, fmt.Errorf("postgres: scan workflow: %w", err)
		}
		page.Workflows = append(page.Workflows, w)
	}
	if err := rows.Err(); err != nil {
		return repo.ListPage{}, fmt.Errorf("postgres: list workflows: %w", err)
	}

	if len(page.Workflows) > limit {
		page.Workflows = page.Workflows[:limit]
		page.HasMore = true
		page.NextCursor = encodeListCursor(page.Workflows[len(page.Workflows)-1])
	}

	total, err := r.countFiltered(ctx, statusArg, filter.WorktreePath)
	if err != nil {
		return repo.ListPage{}, err
	}
	page.Total = total

	return page, nil
}

// countFiltered counts workflows matching the same status/worktree predicate
// as List, ignoring cursor and limit, for ListPage.Total (spec.md §4.2).
func (r *WorkflowRepository) countFiltered(ctx context.Context, statusArg, worktreePath *string) (int64, error) {
	var total int64
	err := r.db.QueryRow(ctx, `
		SELECT COUNT(*) FROM workflows
		WHERE ($1::text IS NULL OR status = $1)
		  AND ($2::text IS NULL OR worktree_path = $2)`,
		statusArg, worktreePath).Scan(&total)
	if err != nil {
		return 0, fmt.Errorf("postgres: count workflows: %w", err)
	}
	return total, nil
}

// SetStatus updates status/current_stage/failure_reason and the relevant
// lifecycle timestamp. The caller (orchestrator) is responsible for having
// already validated the transition via statemachine.Validate (spec.md §4.4).
func (r *WorkflowRepository) SetStatus(ctx context.Context, workflowID string, newStatus workflow.Status, failureReason *string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE workflows SET
			status = $2,
			failure_reason = COALESCE($3, failure_reason),
			started_at   = CASE WHEN $2 = 'in_progress' AND started_at IS NULL THEN now() ELSE started_at END,
			planned_at   = CASE WHEN $2 = 'planning' AND planned_at IS NULL THEN now() ELSE planned_at END,
			completed_at = CASE WHEN $2 IN ('completed', 'failed', 'cancelled') THEN now() ELSE completed_at END
		WHERE workflow_id = $1`,
		workflowID, string(newStatus), failureReason)
	if err != nil {
		return fmt.Errorf("postgres: set status: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// UpdatePlanCache overwrites the plan_markdown/plan_summary fast-retrieval
// cache (spec.md §3 "Approval cache").
func (r *WorkflowRepository) UpdatePlanCache(ctx context.Context, workflowID, planMarkdown, planSummary string) error {
	tag, err := r.db.Exec(ctx, `
		UPDATE workflows SET plan_markdown = $2, plan_summary = $3 WHERE workflow_id = $1`,
		workflowID, planMarkdown, planSummary)
	if err != nil {
		return fmt.Errorf("postgres: update plan cache: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// UpdatePipelineState overwrites the materialized pipeline_state snapshot.
func (r *WorkflowRepository) UpdatePipelineState(ctx context.Context, workflowID string, state workflow.State) error {
	encoded, err := json.Marshal(state)
	if err != nil {
		return fmt.Errorf("postgres: marshal pipeline state: %w", err)
	}
	tag, err := r.db.Exec(ctx, `
		UPDATE workflows SET pipeline_state = $2 WHERE workflow_id = $1`,
		workflowID, encoded)
	if err != nil {
		return fmt.Errorf("postgres: update pipeline state: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return repo.ErrNotFound
	}
	return nil
}

// rowScanner is satisfied by both pgx.Row (QueryRow) and pgx.Rows (Query),
// letting scanWorkflow serve both Get and List without duplicating the
// column list.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanWorkflow(row rowScanner) (workflow.Workflow, error) {
	var (
		w             workflow.Workflow
		status        string
		currentStage  *string
		pipelineState []byte
	)
	if err := row.Scan(
		&w.WorkflowID, &w.IssueID, &w.WorktreePath, &w.WorktreeName, &w.ProfileName,
		&status, &currentStage, &w.FailureReason,
		&w.CreatedAt, &w.StartedAt, &w.PlannedAt, &w.CompletedAt,
		&pipelineState, &w.PlanMarkdown, &w.PlanSummary,
	); err != nil {
		return workflow.Workflow{}, err
	}
	w.Status = workflow.Status(status)
	if currentStage != nil {
		agent := workflow.Agent(*currentStage)
		w.CurrentStage = &agent
	}
	if len(pipelineState) > 0 {
		if err := json.Unmarshal(pipelineState, &w.PipelineState); err != nil {
			return workflow.Workflow{}, fmt.Errorf("unmarshal pipeline state: %w", err)
		}
	}
	return w, nil
}

func agentPtrToString(a *workflow.Agent) *string {
	if a == nil {
		return nil
	}
	s := string(*a)
	return &s
}
