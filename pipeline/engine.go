package pipeline

import (
	"context"
	"errors"

	"github.com/amelia-dev/amelia/checkpoint"
	"github.com/amelia-dev/amelia/workflow"
)

// ErrNotInterrupted is returned by Resume when the thread's latest
// checkpoint has no pending interrupt to resume from.
var ErrNotInterrupted = errors.New("pipeline: thread is not awaiting resume")

// ErrMaxStepsExceeded is returned when a run exceeds its graph's MaxSteps
// without reaching an interrupt or terminal outcome (spec.md §4.3).
var ErrMaxStepsExceeded = errors.New("pipeline: exceeded maximum step count")

// Outcome is the result of a Run/Resume/UpdateState call: either the run
// paused at an interrupt, finished (Terminal set), or UpdateState just
// recorded a new checkpoint without advancing (Terminal zero; Interrupt
// carries the thread's still-pending interrupt, if any).
type Outcome struct {
	State     workflow.State
	Interrupt *checkpoint.Interrupt
	Terminal  TerminalOutcome
}

// Engine drives one Graph, checkpointing after every node transition
// (spec.md §4.3). One Engine instance may drive many independent threads
// (workflow_ids) concurrently; execution within a single thread is always
// sequential.
type Engine interface {
	// Run starts a fresh execution from the graph's entry node.
	Run(ctx context.Context, threadID string, initial workflow.State) (Outcome, error)

	// Resume re-enters the node that requested the pending interrupt for
	// threadID, injecting payload (spec.md §4.3 "Interrupts").
	Resume(ctx context.Context, threadID string, payload any) (Outcome, error)

	// UpdateState writes a new checkpoint with delta merged into the
	// thread's current state, without advancing execution (spec.md §4.3
	// "Update-and-resume... used to inject an updated plan before the
	// developer stage").
	UpdateState(ctx context.Context, threadID string, delta workflow.Delta) (Outcome, error)

	// PurgeCheckpoints deletes every checkpoint for threadID (spec.md §4.3
	// "Rewind (replan)"). A subsequent Run starts the thread over from the
	// graph's entry node.
	PurgeCheckpoints(ctx context.Context, threadID string) error
}
