// Package inmem provides the only pipeline.Engine adapter: an in-process,
// synchronous graph runner. Grounded on runtime/agent/engine/inmem's
// in-memory workflow engine, narrowed to the single concern Amelia's pipeline
// actually needs — sequential node execution with a checkpoint write after
// every transition — since there is no multi-worker task queue or replay
// requirement to emulate (spec.md §1 Non-goals: single-process).
package inmem

import (
	"context"
	"fmt"

	"github.com/google/uuid"

	"github.com/amelia-dev/amelia/checkpoint"
	"github.com/amelia-dev/amelia/pipeline"
	"github.com/amelia-dev/amelia/telemetry"
	"github.com/amelia-dev/amelia/workflow"
)

// Engine is the in-memory pipeline.Engine implementation. It is safe for
// concurrent use across distinct thread IDs; per spec.md §5, the caller
// (the orchestrator) is responsible for ensuring only one goroutine drives a
// given thread ID at a time.
type Engine struct {
	graph  pipeline.Graph
	store  checkpoint.Store
	logger telemetry.Logger
}

// New constructs an Engine that runs graph, checkpointing through store.
func New(graph pipeline.Graph, store checkpoint.Store, logger telemetry.Logger) *Engine {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &Engine{graph: graph, store: store, logger: logger}
}

// Run implements pipeline.Engine.
func (e *Engine) Run(ctx context.Context, threadID string, initial workflow.State) (pipeline.Outcome, error) {
	return e.execute(ctx, threadID, initial, e.graph.Entry, nil, 0)
}

// Resume implements pipeline.Engine.
func (e *Engine) Resume(ctx context.Context, threadID string, payload any) (pipeline.Outcome, error) {
	cp, err := e.store.LoadLatest(ctx, threadID)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	if cp.Interrupt == nil {
		return pipeline.Outcome{}, pipeline.ErrNotInterrupted
	}
	return e.execute(ctx, threadID, cp.State, cp.Interrupt.Node, payload, 0)
}

// UpdateState implements pipeline.Engine.
func (e *Engine) UpdateState(ctx context.Context, threadID string, delta workflow.Delta) (pipeline.Outcome, error) {
	cp, err := e.store.LoadLatest(ctx, threadID)
	if err != nil {
		return pipeline.Outcome{}, err
	}
	merged := workflow.Merge(cp.State, delta)
	next := checkpoint.Checkpoint{
		ThreadID:     threadID,
		CheckpointID: uuid.NewString(),
		State:        merged,
		NextNode:     cp.NextNode,
		Interrupt:    cp.Interrupt,
	}
	if err := e.store.Save(ctx, next); err != nil {
		return pipeline.Outcome{}, err
	}
	return pipeline.Outcome{State: merged, Interrupt: cp.Interrupt}, nil
}

// PurgeCheckpoints implements pipeline.Engine.
func (e *Engine) PurgeCheckpoints(ctx context.Context, threadID string) error {
	return e.store.DeleteAll(ctx, threadID)
}

// execute runs nodes sequentially starting at nodeName, checkpointing after
// each transition, until the graph interrupts, terminates, or exceeds
// MaxSteps. resume is forwarded only to the first node invocation; every
// subsequent node in the same execute call receives a nil resume payload,
// matching spec.md's "nodes never observe partial deltas" sequencing
// guarantee applied to resume payloads too.
func (e *Engine) execute(ctx context.Context, threadID string, state workflow.State, nodeName string, resume any, steps int) (pipeline.Outcome, error) {
	maxSteps := e.graph.MaxStepsOrDefault()
	for {
		steps++
		if steps > maxSteps {
			return pipeline.Outcome{}, pipeline.ErrMaxStepsExceeded
		}

		node, ok := e.graph.Nodes[nodeName]
		if !ok {
			return pipeline.Outcome{}, fmt.Errorf("pipeline: node %q not found in graph", nodeName)
		}

		outcome, err := node(ctx, state, resume)
		resume = nil
		if err != nil {
			return pipeline.Outcome{}, err
		}

		state = workflow.Merge(state, outcome.Delta)

		cp := checkpoint.Checkpoint{
			ThreadID:     threadID,
			CheckpointID: uuid.NewString(),
			State:        state,
			NextNode:     outcome.Next,
			Interrupt:    outcome.Interrupt,
		}
		if err := e.store.Save(ctx, cp); err != nil {
			return pipeline.Outcome{}, err
		}

		if outcome.Interrupt != nil {
			return pipeline.Outcome{State: state, Interrupt: outcome.Interrupt}, nil
		}
		if outcome.Terminal != pipeline.TerminalNone {
			return pipeline.Outcome{State: state, Terminal: outcome.Terminal}, nil
		}
		if outcome.Next == "" {
			return pipeline.Outcome{}, fmt.Errorf("pipeline: node %q returned no next node, interrupt, or terminal outcome", nodeName)
		}
		nodeName = outcome.Next
	}
}
