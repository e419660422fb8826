package events

import (
	"context"

	"github.com/amelia-dev/amelia/telemetry"
	"github.com/amelia-dev/amelia/workflow"
)

// TokenUsageAdder is the slice of repo.TokenUsageRepository the sink needs.
type TokenUsageAdder interface {
	Add(ctx context.Context, workflowID string, agent workflow.Agent, delta workflow.TokenUsage) error
}

// TokenUsageSink is the mandatory subscriber that folds stage-completion
// token usage into the running per-(workflow_id, agent) totals (spec.md §3
// "TokenUsage... Updated by a sink that subscribes to agent-completion
// events").
type TokenUsageSink struct {
	tokens TokenUsageAdder
	logger telemetry.Logger
}

// NewTokenUsageSink constructs a TokenUsageSink backed by the given
// repository.
func NewTokenUsageSink(tokens TokenUsageAdder, logger telemetry.Logger) *TokenUsageSink {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &TokenUsageSink{tokens: tokens, logger: logger}
}

// Handle implements Subscriber. Only stage_completed events carrying a
// token_usage payload affect the running totals; everything else is a no-op.
func (s *TokenUsageSink) Handle(ctx context.Context, event Event) error {
	if event.EventType != StageCompleted {
		return nil
	}
	usage, ok := parseStageCompletionTokenUsage(event.Data)
	if !ok {
		return nil
	}
	if event.Agent == "" {
		s.logger.Warn(ctx, "stage_completed token usage payload missing agent label", "workflow_id", event.WorkflowID)
		return nil
	}
	delta := workflow.TokenUsage{
		InputTokens:      usage.InputTokens,
		OutputTokens:     usage.OutputTokens,
		TotalTokens:      usage.TotalTokens,
		EstimatedCostUSD: usage.EstimatedCostUSD,
	}
	return s.tokens.Add(ctx, event.WorkflowID, workflow.Agent(event.Agent), delta)
}

var _ Subscriber = (*TokenUsageSink)(nil)
