package events

import (
	"context"
	"encoding/json"

	"github.com/amelia-dev/amelia/telemetry"
	"github.com/amelia-dev/amelia/workflow"
)

// EventAppender is the slice of repo.EventRepository the persister needs.
// Declared locally (rather than importing package repo) so that package
// events has no dependency on the repository layer's other contracts and
// cannot create an import cycle if repo ever needs to publish events of its
// own.
type EventAppender interface {
	Append(ctx context.Context, event Event) error
}

// Persister is the mandatory subscriber that writes non-ephemeral events to
// the events table. Sequence assignment happens inside the repository's
// Append (spec.md §4.2: "atomically fetches next sequence... and inserts");
// this subscriber's job is narrower: drop ephemeral events before they ever
// reach storage (spec.md §4.1 "Event persister: assigns the next sequence
// and writes non-ephemeral events to the events table").
type Persister struct {
	events EventAppender
	logger telemetry.Logger
}

// NewPersister constructs a Persister backed by the given event repository.
func NewPersister(repo EventAppender, logger telemetry.Logger) *Persister {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Persister{events: repo, logger: logger}
}

// Handle implements Subscriber. Ephemeral events are silently skipped: they
// are streamed to WebSocket subscribers by the broker but never consume a
// sequence number or reach the events table (spec.md §3, §6).
func (p *Persister) Handle(ctx context.Context, event Event) error {
	if event.EventType.IsEphemeral() {
		return nil
	}
	return p.events.Append(ctx, event)
}

var _ Subscriber = (*Persister)(nil)

// stageCompletionPayload is the expected shape of Event.Data for
// stage_completed events that carry token usage, folded by TokenUsageSink.
type stageCompletionPayload struct {
	TokenUsage *tokenUsageData `json:"token_usage,omitempty"`
}

type tokenUsageData struct {
	InputTokens      int64   `json:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens"`
	TotalTokens      int64   `json:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd"`
}

// parseStageCompletionTokenUsage extracts token usage from a stage_completed
// event's Data payload, if present. Returns ok=false when the payload is
// absent, empty, or does not carry a token_usage field.
func parseStageCompletionTokenUsage(data json.RawMessage) (tokenUsageData, bool) {
	if len(data) == 0 {
		return tokenUsageData{}, false
	}
	var payload stageCompletionPayload
	if err := json.Unmarshal(data, &payload); err != nil || payload.TokenUsage == nil {
		return tokenUsageData{}, false
	}
	return *payload.TokenUsage, true
}

// MarshalStageCompletionTokenUsage encodes usage into the stage_completed
// Data payload shape parseStageCompletionTokenUsage (and so TokenUsageSink)
// expects. Producers of stage_completed events — pipeline/amelia's node
// runner — call this so a node's token-usage delta actually reaches the
// sink instead of being folded only into the in-memory State.
func MarshalStageCompletionTokenUsage(usage workflow.TokenUsage) json.RawMessage {
	data, err := json.Marshal(stageCompletionPayload{TokenUsage: &tokenUsageData{
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		TotalTokens:      usage.TotalTokens,
		EstimatedCostUSD: usage.EstimatedCostUSD,
	}})
	if err != nil {
		return nil
	}
	return data
}
