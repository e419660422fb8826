package workflow

import "encoding/json"

// Issue is the structured work item the pipeline plans and executes against.
// The core treats issue fetching as an external collaborator (spec.md §1);
// Issue is simply the shape a Tracker.GetIssue implementation must produce.
type Issue struct {
	ID          string `json:"id"`
	Title       string `json:"title"`
	Description string `json:"description"`
}

// Review is the single latest reviewer verdict carried on PipelineState. Only
// the latest review drives orchestration decisions (spec.md §3 invariant);
// the full review history lives in the event log, not here.
type Review struct {
	Approved bool     `json:"approved"`
	Comments []string `json:"comments,omitempty"`
	Severity string   `json:"severity,omitempty"`
}

// ToolCall records one invocation performed by an agent during a node's
// execution. Append-only within PipelineState.ToolCalls.
type ToolCall struct {
	Tool      string          `json:"tool"`
	Agent     Agent           `json:"agent"`
	Arguments json.RawMessage `json:"arguments,omitempty"`
	Result    json.RawMessage `json:"result,omitempty"`
	Error     string          `json:"error,omitempty"`
}

// OracleConsultation records one consultation with the (out-of-scope) oracle
// collaborator. Append-only within PipelineState.OracleConsultations.
type OracleConsultation struct {
	Agent    Agent  `json:"agent"`
	Question string `json:"question"`
	Answer   string `json:"answer"`
}

// HistoryEntry is one human-readable node narration. Append-only within
// PipelineState.History.
type HistoryEntry struct {
	Agent   Agent  `json:"agent"`
	Message string `json:"message"`
}

// State is the pipeline's typed state bag (spec.md §3 "PipelineState"),
// passed through every node and checkpointed after every transition. Its
// fields are grouped by merge rule (spec.md §4.3 "State merging"):
//
//   - scalar fields overwrite on delta application;
//   - ToolCalls, OracleConsultations, and History are append-only: their
//     combine rule is concatenation, never replacement;
//   - Tasks preserves insertion order and is replaced wholesale by nodes
//     that mutate it (the architect on (re)plan, the developer/reviewer on
//     status transitions), never concatenated.
type State struct {
	WorkflowID      string `json:"workflow_id"`
	ProfileID       string `json:"profile_id"`
	DriverSessionID string `json:"driver_session_id,omitempty"`

	Issue Issue `json:"issue"`

	PlanMarkdown string `json:"plan_markdown,omitempty"`
	PlanSummary  string `json:"plan_summary,omitempty"`
	Goal         string `json:"goal,omitempty"`
	TasksTotal   int    `json:"tasks_total"`
	Tasks        []Task `json:"tasks,omitempty"`

	LastReview *Review `json:"last_review,omitempty"`

	Iteration    int `json:"iteration"`
	MaxIteration int `json:"max_iterations"`

	TokenUsage map[Agent]TokenUsage `json:"token_usage,omitempty"`

	ToolCalls           []ToolCall           `json:"tool_calls,omitempty"`
	OracleConsultations []OracleConsultation `json:"oracle_consultations,omitempty"`
	History             []HistoryEntry       `json:"history,omitempty"`
}

// Delta is a sparse partial update returned by a pipeline node. Every field
// is a pointer/nilable so "not set" is distinguishable from "set to zero
// value". Append-only list fields here are *appended* to the previous State,
// not concatenated-and-replaced from scratch, by Merge.
type Delta struct {
	DriverSessionID *string

	PlanMarkdown *string
	PlanSummary  *string
	Goal         *string
	TasksTotal   *int
	// Tasks, when non-nil, replaces the task list wholesale (order and all):
	// this is how the architect publishes a (re)plan and how the developer/
	// reviewer update individual task statuses (by supplying the full
	// slice with the relevant entries mutated).
	Tasks []Task

	LastReview *Review

	Iteration    *int
	MaxIteration *int

	// TokenUsageDelta adds to (rather than overwrites) the running sums for
	// the named agent.
	TokenUsageDelta map[Agent]TokenUsage

	AppendToolCalls           []ToolCall
	AppendOracleConsultations []OracleConsultation
	AppendHistory             []HistoryEntry
}

// Merge applies delta on top of state and returns the resulting State. The
// input state is never mutated; Merge always returns a new value, matching
// the engine's "nodes never observe partial deltas" invariant (spec.md §4.3).
func Merge(state State, delta Delta) State {
	out := state
	out.Tasks = CloneTasks(state.Tasks)
	out.TokenUsage = cloneTokenUsage(state.TokenUsage)
	out.ToolCalls = append([]ToolCall(nil), state.ToolCalls...)
	out.OracleConsultations = append([]OracleConsultation(nil), state.OracleConsultations...)
	out.History = append([]HistoryEntry(nil), state.History...)

	if delta.DriverSessionID != nil {
		out.DriverSessionID = *delta.DriverSessionID
	}
	if delta.PlanMarkdown != nil {
		out.PlanMarkdown = *delta.PlanMarkdown
	}
	if delta.PlanSummary != nil {
		out.PlanSummary = *delta.PlanSummary
	}
	if delta.Goal != nil {
		out.Goal = *delta.Goal
	}
	if delta.TasksTotal != nil {
		out.TasksTotal = *delta.TasksTotal
	}
	if delta.Tasks != nil {
		out.Tasks = CloneTasks(delta.Tasks)
	}
	if delta.LastReview != nil {
		r := *delta.LastReview
		out.LastReview = &r
	}
	if delta.Iteration != nil {
		out.Iteration = *delta.Iteration
	}
	if delta.MaxIteration != nil {
		out.MaxIteration = *delta.MaxIteration
	}
	for agent, add := range delta.TokenUsageDelta {
		if out.TokenUsage == nil {
			out.TokenUsage = make(map[Agent]TokenUsage)
		}
		cur := out.TokenUsage[agent]
		cur.InputTokens += add.InputTokens
		cur.OutputTokens += add.OutputTokens
		cur.TotalTokens += add.TotalTokens
		cur.EstimatedCostUSD += add.EstimatedCostUSD
		out.TokenUsage[agent] = cur
	}
	out.ToolCalls = append(out.ToolCalls, delta.AppendToolCalls...)
	out.OracleConsultations = append(out.OracleConsultations, delta.AppendOracleConsultations...)
	out.History = append(out.History, delta.AppendHistory...)

	return out
}

// ResetForReplan clears the plan-related fields and resets all task status
// fields, matching spec.md §3's replan invariant and §4.4's replan command
// ("clears plan fields... and task list in the embedded pipeline state").
// It also resets Iteration to zero and clears LastReview. Token usage and
// the append-only logs are untouched: they are historical record, not plan
// state.
func ResetForReplan(state State) State {
	out := state
	out.PlanMarkdown = ""
	out.PlanSummary = ""
	out.Goal = ""
	out.TasksTotal = 0
	out.Tasks = ResetStatuses(state.Tasks)
	out.Iteration = 0
	out.LastReview = nil
	return out
}

func cloneTokenUsage(m map[Agent]TokenUsage) map[Agent]TokenUsage {
	if m == nil {
		return nil
	}
	out := make(map[Agent]TokenUsage, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}
