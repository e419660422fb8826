// Package events defines the WorkflowEvent model and the in-process fan-out
// bus that distributes events to the persister, the token-usage sink, the
// WebSocket broker, and any optional telemetry mirror (spec.md §4.1, §6).
package events

import (
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Type is the enumerated event_type column (spec.md §6). Types named here are
// persisted unless IsEphemeral reports true.
type Type string

const (
	WorkflowCreated   Type = "workflow_created"
	WorkflowStarted   Type = "workflow_started"
	WorkflowCompleted Type = "workflow_completed"
	WorkflowFailed    Type = "workflow_failed"
	WorkflowCancelled Type = "workflow_cancelled"

	StageStarted   Type = "stage_started"
	StageCompleted Type = "stage_completed"
	StageFailed    Type = "stage_failed"

	ApprovalRequired Type = "approval_required"
	ApprovalGranted  Type = "approval_granted"
	ApprovalRejected Type = "approval_rejected"

	ReplanStarted   Type = "replan_started"
	ReviewCompleted Type = "review_completed"

	TaskStarted   Type = "task_started"
	TaskCompleted Type = "task_completed"
	TaskFailed    Type = "task_failed"

	// AgentMessage, ToolCall, and ToolResult are the ephemeral fine-grained
	// event types (spec.md §4.3, §6): streamed to live WebSocket subscribers
	// but never persisted or assigned a sequence number.
	AgentMessage Type = "agent_message"
	ToolCall     Type = "tool_call"
	ToolResult   Type = "tool_result"

	TokenUsageUpdated Type = "token_usage_updated"
)

// IsEphemeral reports whether events of this type are streamed but never
// persisted or given a sequence number (spec.md §3, §6; see DESIGN.md's Open
// Question decision #2 for why this is a pure function of the type tag
// rather than a per-event flag).
func (t Type) IsEphemeral() bool {
	switch t {
	case AgentMessage, ToolCall, ToolResult:
		return true
	default:
		return false
	}
}

// Event is one immutable WorkflowEvent row (spec.md §3 "WorkflowEvent").
// Sequence is zero for ephemeral events, which never consume a sequence
// number; for everything else the event repository's Append assigns it
// as part of the insert.
type Event struct {
	EventID    uuid.UUID       `json:"event_id" bson:"event_id"`
	WorkflowID string          `json:"workflow_id" bson:"workflow_id"`
	Sequence   int64           `json:"sequence,omitempty" bson:"sequence,omitempty"`
	Timestamp  time.Time       `json:"timestamp" bson:"timestamp"`
	EventType  Type            `json:"event_type" bson:"event_type"`
	Agent      string          `json:"agent,omitempty" bson:"agent,omitempty"`
	Message    string          `json:"message,omitempty" bson:"message,omitempty"`
	Data       json.RawMessage `json:"data,omitempty" bson:"data,omitempty"`
}

// New constructs an Event with a fresh EventID and the current time. Sequence
// is left at zero; for persisted types the event repository assigns it
// when the Persister forwards the event to Append.
func New(workflowID string, eventType Type, agent, message string, data json.RawMessage) Event {
	return Event{
		EventID:    uuid.New(),
		WorkflowID: workflowID,
		Timestamp:  time.Now(),
		EventType:  eventType,
		Agent:      agent,
		Message:    message,
		Data:       data,
	}
}
