package postgres

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/amelia-dev/amelia/workflow"
)

// TokenUsageRepository implements repo.TokenUsageRepository against the
// `token_usage` table (spec.md §3 "TokenUsage", §6).
type TokenUsageRepository struct {
	db *pgxpool.Pool
}

// Add folds delta into the running per-(workflow_id, agent) sums, creating
// the row on first use.
func (r *TokenUsageRepository) Add(ctx context.Context, workflowID string, agent workflow.Agent, delta workflow.TokenUsage) error {
	_, err := r.db.Exec(ctx, `
		INSERT INTO token_usage (workflow_id, agent, input_tokens, output_tokens, total_tokens, estimated_cost_usd)
		VALUES ($1, $2, $3, $4, $5, $6)
		ON CONFLICT (workflow_id, agent) DO UPDATE SET
			input_tokens       = token_usage.input_tokens + EXCLUDED.input_tokens,
			output_tokens      = token_usage.output_tokens + EXCLUDED.output_tokens,
			total_tokens       = token_usage.total_tokens + EXCLUDED.total_tokens,
			estimated_cost_usd = token_usage.estimated_cost_usd + EXCLUDED.estimated_cost_usd`,
		workflowID, string(agent), delta.InputTokens, delta.OutputTokens, delta.TotalTokens, delta.EstimatedCostUSD)
	if err != nil {
		return fmt.Errorf("postgres: add token usage: %w", err)
	}
	return nil
}

// Get returns the running sums for every agent that has recorded usage on
// workflowID.
func (r *TokenUsageRepository) Get(ctx context.Context, workflowID string) (map[workflow.Agent]workflow.TokenUsage, error) {
	rows, err := r.db.Query(ctx, `
		SELECT agent, input_tokens, output_tokens, total_tokens, estimated_cost_usd
		FROM token_usage WHERE workflow_id = $1`, workflowID)
	if err != nil {
		return nil, fmt.Errorf("postgres: get token usage: %w", err)
	}
	defer rows.Close()

	out := make(map[workflow.Agent]workflow.TokenUsage)
	for rows.Next() {
		var (
			agent string
			usage workflow.TokenUsage
		)
		if err := rows.Scan(&agent, &usage.InputTokens, &usage.OutputTokens, &usage.TotalTokens, &usage.EstimatedCostUSD); err != nil {
			return nil, fmt.Errorf("postgres: scan token usage: %w", err)
		}
		out[workflow.Agent(agent)] = usage
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("postgres: iterate token usage: %w", err)
	}
	return out, nil
}
