package workflow

// TokenUsage is the running token/cost sum for one (workflow, agent) pair
// (spec.md §3 "TokenUsage"). Values are cumulative, never reset except by
// workflow deletion.
type TokenUsage struct {
	InputTokens      int64   `json:"input_tokens" bson:"input_tokens"`
	OutputTokens     int64   `json:"output_tokens" bson:"output_tokens"`
	TotalTokens      int64   `json:"total_tokens" bson:"total_tokens"`
	EstimatedCostUSD float64 `json:"estimated_cost_usd" bson:"estimated_cost_usd"`
}

// Add returns the element-wise sum of u and delta. Used by the token-usage
// sink to fold a stage-completion payload into the running total.
func (u TokenUsage) Add(delta TokenUsage) TokenUsage {
	return TokenUsage{
		InputTokens:      u.InputTokens + delta.InputTokens,
		OutputTokens:     u.OutputTokens + delta.OutputTokens,
		TotalTokens:      u.TotalTokens + delta.TotalTokens,
		EstimatedCostUSD: u.EstimatedCostUSD + delta.EstimatedCostUSD,
	}
}
