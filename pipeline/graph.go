// Package pipeline implements the directed-graph pipeline engine described
// in spec.md §4.3: a static graph of nodes over workflow.State, checkpointed
// after every transition, with typed interrupts for human-approval pauses.
// The only adapter is pipeline/inmem — Amelia is explicitly single-process
// (spec.md §1 Non-goals), so there is no Temporal-style durable-execution
// backend to target.
package pipeline

import (
	"context"

	"github.com/amelia-dev/amelia/checkpoint"
	"github.com/amelia-dev/amelia/workflow"
)

// TerminalOutcome marks a node result as ending the pipeline run.
type TerminalOutcome string

const (
	TerminalNone    TerminalOutcome = ""
	TerminalSuccess TerminalOutcome = "success"
	TerminalFailure TerminalOutcome = "failed"
)

// NodeOutcome is what a node returns after one invocation: a partial state
// delta plus exactly one of Next (continue to another node), Interrupt
// (pause), or Terminal (end the run).
type NodeOutcome struct {
	Delta     workflow.Delta
	Next      string
	Interrupt *checkpoint.Interrupt
	Terminal  TerminalOutcome
}

// NodeFunc is a pipeline node (spec.md §4.3 "Per-node contract"). resume is
// nil on every invocation except the one that re-enters a node after
// Engine.Resume, where it carries the caller-supplied payload (spec.md:
// "resume(thread_id, payload) which re-enters the node that requested the
// interrupt, injecting the payload").
type NodeFunc func(ctx context.Context, state workflow.State, resume any) (NodeOutcome, error)

// EdgeGuard is a conditional edge: given the current state, it returns the
// name of the node to run next. Graphs in this package encode conditional
// routing inside NodeOutcome.Next instead (every node already computes its own
// successor from state), so EdgeGuard exists only for nodes that want to
// delegate that decision to a separate, independently testable function.
type EdgeGuard func(state workflow.State) string

// Graph is a static directed graph of nodes, possibly cyclic (spec.md §4.3:
// "Graphs may contain cycles; the engine enforces a per-workflow maximum
// step count as a safety net").
type Graph struct {
	Entry    string
	Nodes    map[string]NodeFunc
	MaxSteps int
}

// MaxStepsOrDefault returns g.MaxSteps, or DefaultMaxPipelineSteps if unset.
func (g Graph) MaxStepsOrDefault() int {
	if g.MaxSteps <= 0 {
		return DefaultMaxPipelineSteps
	}
	return g.MaxSteps
}

// DefaultMaxPipelineSteps is the per-run safety net when Graph.MaxSteps is
// unset (SPEC_FULL.md §4.3 Supplemented Feature: configurable
// MaxPipelineSteps, default 200).
const DefaultMaxPipelineSteps = 200
