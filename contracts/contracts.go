// Package contracts declares the seams between the orchestration core and
// its external collaborators: agents, LLM drivers, issue trackers, and
// tools (spec.md §1, §6 "Supporting contracts"). None of these interfaces
// have a concrete implementation in this repository — the core only ever
// consumes them as opaque collaborators, exactly as spec.md §1 requires
// ("out of scope as external collaborators").
package contracts

import (
	"context"
	"encoding/json"

	"github.com/amelia-dev/amelia/workflow"
)

// Driver is the seam to an LLM provider. The core never constructs prompts
// or parses model output itself; it hands a Driver an opaque request and
// gets back an opaque response (spec.md §1: "The core sees a
// Driver.generate(...) contract only").
type Driver interface {
	Generate(ctx context.Context, req GenerateRequest) (GenerateResponse, error)
}

// GenerateRequest is the opaque payload a Driver receives. Fields beyond
// SessionID/Agent are deliberately untyped (json.RawMessage) since their
// shape is an agent-prompting concern, not an orchestration concern.
type GenerateRequest struct {
	SessionID string
	Agent     workflow.Agent
	Payload   json.RawMessage
}

// GenerateResponse is the opaque result a Driver returns. TokenUsage is the
// one field the core reads directly, since it folds into
// workflow.TokenUsage via the token-usage sink.
type GenerateResponse struct {
	SessionID  string
	Payload    json.RawMessage
	TokenUsage workflow.TokenUsage
}

// Tracker fetches a structured issue by its tracker-specific identifier
// (spec.md §1: "The core sees Tracker.get_issue(id) -> Issue").
type Tracker interface {
	GetIssue(ctx context.Context, id string) (workflow.Issue, error)
}

// Agent is the seam to one pipeline stage's prompt construction and output
// parsing (architect/developer/reviewer/evaluator). The core invokes agents
// "as opaque async functions that read/mutate a pipeline state bag"
// (spec.md §1); AgentFunc is the shape a pipeline node adapts into a
// pipeline.NodeFunc.
type AgentFunc func(ctx context.Context, state workflow.State, resume any) (workflow.Delta, error)

// Tool is a named, callable capability an agent may invoke during its turn
// (git, shell sandboxing, file I/O, knowledge search — spec.md §1
// "Tooling... Surfaced only as tool-name registries"). The core does not
// execute tools itself; it only records ToolCall/ToolResult entries when an
// agent reports having used one.
type Tool interface {
	Name() string
	Invoke(ctx context.Context, args json.RawMessage) (json.RawMessage, error)
}

// Registry resolves a Tool by name. Concrete registries (git, shell,
// knowledge search) are other bounded contexts per spec.md §1 and have no
// implementation here.
type Registry interface {
	Lookup(name string) (Tool, bool)
}
