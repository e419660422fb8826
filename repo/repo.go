// Package repo declares the application-database repository contracts used
// by the orchestrator and by the event-bus subscribers that persist events
// and fold token usage (spec.md §4.2). Concrete implementations live in
// repo/postgres; the checkpoint store is a separate concern (see package
// checkpoint) so that replan can purge checkpoints without touching any of
// these tables.
package repo

import (
	"context"

	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/workflow"
)

// WorkflowRepository persists and queries Workflow aggregate roots.
type WorkflowRepository interface {
	Create(ctx context.Context, w workflow.Workflow) error
	Get(ctx context.Context, workflowID string) (workflow.Workflow, error)

	// List returns workflows matching the given filter, cursor-paginated.
	List(ctx context.Context, filter ListFilter) (ListPage, error)

	// SetStatus persists a status transition without validating it;
	// statemachine.Validate(from, to) is the caller's responsibility before
	// invoking this (spec.md §4.4).
	SetStatus(ctx context.Context, workflowID string, newStatus workflow.Status, failureReason *string) error

	// UpdatePlanCache overwrites the plan_markdown/plan_summary approval
	// cache fields on a workflow row (spec.md §3 "Approval cache").
	UpdatePlanCache(ctx context.Context, workflowID, planMarkdown, planSummary string) error

	// UpdatePipelineState overwrites the materialized pipeline_state
	// snapshot on a workflow row. Called by the supervised task once per
	// Run/Resume outcome (and by Replan with the reset state), mirroring
	// (not replacing) the engine's checkpoint writes.
	UpdatePipelineState(ctx context.Context, workflowID string, state workflow.State) error
}

// ListFilter narrows a WorkflowRepository.List call.
type ListFilter struct {
	Status       *workflow.Status
	WorktreePath *string
	// Cursor is an opaque pagination token returned by a previous ListPage;
	// empty for the first page.
	Cursor string
	Limit  int
}

// ListPage is one page of a cursor-paginated workflow listing (spec.md §4.2
// "list(...) -> (items, next_cursor, has_more, total)").
type ListPage struct {
	Workflows  []workflow.Workflow
	NextCursor string
	// HasMore reports whether a further page exists beyond NextCursor.
	HasMore bool
	// Total is the count of workflows matching the filter, ignoring Cursor
	// and Limit.
	Total int64
}

// ErrNotFound indicates the requested workflow/event row does not exist.
// Maps to wire code NOT_FOUND, HTTP 404 (spec.md §4.5).
var ErrNotFound = errNotFound{}

type errNotFound struct{}

func (errNotFound) Error() string { return "repo: not found" }

// EventRepository persists and queries WorkflowEvents (spec.md §4.2).
type EventRepository interface {
	// Append atomically assigns the next sequence number for event.WorkflowID
	// and inserts the row. Ephemeral event types (events.Type.IsEphemeral)
	// must never reach Append; the persister subscriber filters them out
	// before calling this.
	Append(ctx context.Context, event events.Event) error

	GetRecent(ctx context.Context, workflowID string, limit int) ([]events.Event, error)

	// GetSince returns persisted events with sequence > afterSequence, used
	// for WebSocket replay-on-subscribe backfill (spec.md §4.5).
	GetSince(ctx context.Context, workflowID string, afterSequence int64) ([]events.Event, error)

	GetMaxSequence(ctx context.Context, workflowID string) (int64, error)
}

// TokenUsageRepository persists the running per-(workflow_id, agent) token
// and cost sums (spec.md §3 "TokenUsage").
type TokenUsageRepository interface {
	Add(ctx context.Context, workflowID string, agent workflow.Agent, delta workflow.TokenUsage) error
	Get(ctx context.Context, workflowID string) (map[workflow.Agent]workflow.TokenUsage, error)
}
