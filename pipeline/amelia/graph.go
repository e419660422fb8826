// Package amelia wires the concrete Architect → Developer ↔ Reviewer
// pipeline.Graph described in spec.md §4.3's "implementation" diagram. Node
// bodies are thin adapters: they call into a contracts.AgentFunc for the
// actual prompting/parsing work, and translate the agent's answer into a
// pipeline.NodeOutcome plus stage_started/stage_completed/stage_failed
// events, exactly as the per-node contract requires.
package amelia

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/amelia-dev/amelia/checkpoint"
	"github.com/amelia-dev/amelia/contracts"
	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/pipeline"
	"github.com/amelia-dev/amelia/telemetry"
	"github.com/amelia-dev/amelia/workflow"
)

// Node names, used as pipeline.Graph map keys and as checkpoint NextNode
// values.
const (
	NodeArchitect = "architect_node"
	NodeDeveloper = "developer_node"
	NodeReviewer  = "reviewer_node"
)

// InterruptAwaitingPlanApproval is the one interrupt kind this graph ever
// raises (spec.md §4.3 diagram).
const InterruptAwaitingPlanApproval = "awaiting_plan_approval"

// PlanApprovalPayload is the resume payload the orchestrator's approve/
// reject commands inject back into architect_node's continuation.
type PlanApprovalPayload struct {
	Approved bool
	Feedback string
}

// Agents bundles the three agent collaborators the graph's nodes delegate
// to. Each is an opaque contracts.AgentFunc — the core never inspects what
// happens inside (spec.md §1).
type Agents struct {
	Architect contracts.AgentFunc
	Developer contracts.AgentFunc
	Reviewer  contracts.AgentFunc
}

// Build constructs the spec.md §4.3 pipeline graph. bus is used by every
// node to emit stage_started/stage_completed/stage_failed events; maxSteps
// is forwarded to the resulting pipeline.Graph (0 means
// pipeline.DefaultMaxPipelineSteps).
func Build(agents Agents, bus events.Bus, logger telemetry.Logger, maxSteps int) pipeline.Graph {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	n := &nodes{agents: agents, bus: bus, logger: logger}
	return pipeline.Graph{
		Entry: NodeArchitect,
		Nodes: map[string]pipeline.NodeFunc{
			NodeArchitect: n.architect,
			NodeDeveloper: n.developer,
			NodeReviewer:  n.reviewer,
		},
		MaxSteps: maxSteps,
	}
}

type nodes struct {
	agents Agents
	bus    events.Bus
	logger telemetry.Logger
}

// architect runs on the graph's entry and on replan. Its first invocation
// (resume == nil) produces a plan and immediately interrupts awaiting human
// approval; its second invocation (resume == *PlanApprovalPayload, injected
// by Engine.Resume) either routes to developer_node or ends the run in
// terminal failure, per the diagram's "on reject → terminal failure" /
// "on approve → developer_node" branches.
func (n *nodes) architect(ctx context.Context, state workflow.State, resume any) (pipeline.NodeOutcome, error) {
	if resume == nil {
		return n.run(ctx, state, workflow.AgentArchitect, n.agents.Architect, func(delta workflow.Delta) pipeline.NodeOutcome {
			return pipeline.NodeOutcome{
				Delta: delta,
				Interrupt: &checkpoint.Interrupt{
					Reason: InterruptAwaitingPlanApproval,
					Node:   NodeArchitect,
				},
			}
		})
	}

	payload, ok := resume.(PlanApprovalPayload)
	if !ok {
		err := fmt.Errorf("pipeline: architect_node resumed with unexpected payload type %T", resume)
		n.logger.Error(ctx, "architect_node resume payload mismatch", "workflow_id", state.WorkflowID, "error", err)
		return pipeline.NodeOutcome{}, err
	}

	if !payload.Approved {
		n.emit(ctx, state.WorkflowID, events.ApprovalRejected, workflow.AgentArchitect, payload.Feedback)
		return pipeline.NodeOutcome{Terminal: pipeline.TerminalFailure}, nil
	}

	n.emit(ctx, state.WorkflowID, events.ApprovalGranted, workflow.AgentArchitect, "")
	return pipeline.NodeOutcome{Next: NodeDeveloper}, nil
}

// developer always proceeds to reviewer_node; it never interrupts or
// terminates on its own (spec.md diagram: developer_node's only outgoing
// edge is to reviewer_node).
func (n *nodes) developer(ctx context.Context, state workflow.State, resume any) (pipeline.NodeOutcome, error) {
	return n.run(ctx, state, workflow.AgentDeveloper, n.agents.Developer, func(delta workflow.Delta) pipeline.NodeOutcome {
		return pipeline.NodeOutcome{Delta: delta, Next: NodeReviewer}
	})
}

// reviewer implements the developer<->reviewer loop: approval ends the run
// successfully, rejection either loops back to developer_node (iteration <
// max) or ends the run in terminal failure (iteration >= max), per spec.md
// §4.3/§7 ("Reviewer rejection at iteration == max_iterations - 1 must loop
// once more; at iteration == max_iterations must fail").
func (n *nodes) reviewer(ctx context.Context, state workflow.State, resume any) (pipeline.NodeOutcome, error) {
	return n.run(ctx, state, workflow.AgentReviewer, n.agents.Reviewer, func(delta workflow.Delta) pipeline.NodeOutcome {
		merged := workflow.Merge(state, delta)

		if merged.LastReview != nil && merged.LastReview.Approved {
			n.emit(ctx, state.WorkflowID, events.ReviewCompleted, workflow.AgentReviewer, "approved")
			return pipeline.NodeOutcome{Delta: delta, Terminal: pipeline.TerminalSuccess}
		}

		n.emit(ctx, state.WorkflowID, events.ReviewCompleted, workflow.AgentReviewer, "rejected")
		if merged.Iteration >= merged.MaxIteration {
			return pipeline.NodeOutcome{Delta: delta, Terminal: pipeline.TerminalFailure}
		}
		return pipeline.NodeOutcome{Delta: delta, Next: NodeDeveloper}
	})
}

// run is the shared per-node contract: emit stage_started, invoke the
// agent, and emit stage_completed on success or stage_failed on error
// (spec.md §4.3 "Per-node contract"). onSuccess turns the agent's delta
// into the node-specific NodeOutcome routing decision.
func (n *nodes) run(ctx context.Context, state workflow.State, agent workflow.Agent, fn contracts.AgentFunc, onSuccess func(workflow.Delta) pipeline.NodeOutcome) (pipeline.NodeOutcome, error) {
	n.emit(ctx, state.WorkflowID, events.StageStarted, agent, "")

	if fn == nil {
		err := fmt.Errorf("pipeline: no agent wired for %s", agent)
		n.emit(ctx, state.WorkflowID, events.StageFailed, agent, err.Error())
		return pipeline.NodeOutcome{}, err
	}

	delta, err := fn(ctx, state, nil)
	if err != nil {
		n.emit(ctx, state.WorkflowID, events.StageFailed, agent, err.Error())
		return pipeline.NodeOutcome{}, err
	}

	n.emitData(ctx, state.WorkflowID, events.StageCompleted, agent, "", stageCompletionData(delta, agent))
	return onSuccess(delta), nil
}

// stageCompletionData serializes the acting agent's token-usage delta (if
// any) into the stage_completed event's Data payload, so TokenUsageSink
// folds it into the running per-agent totals instead of that usage only
// ever reaching workflow.State.TokenUsage via Merge.
func stageCompletionData(delta workflow.Delta, agent workflow.Agent) json.RawMessage {
	usage, ok := delta.TokenUsageDelta[agent]
	if !ok {
		return nil
	}
	return events.MarshalStageCompletionTokenUsage(usage)
}

func (n *nodes) emit(ctx context.Context, workflowID string, eventType events.Type, agent workflow.Agent, message string) {
	n.emitData(ctx, workflowID, eventType, agent, message, nil)
}

func (n *nodes) emitData(ctx context.Context, workflowID string, eventType events.Type, agent workflow.Agent, message string, data json.RawMessage) {
	n.bus.Emit(ctx, events.New(workflowID, eventType, string(agent), message, data))
}
