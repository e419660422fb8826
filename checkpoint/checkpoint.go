// Package checkpoint declares the pipeline engine's checkpoint store
// contract (spec.md §3 "Checkpoint record", §4.3 "Checkpointing"). The store
// is logically separate from the application database so that replan can
// purge every checkpoint for a workflow without touching its workflow row or
// event history.
package checkpoint

import (
	"context"
	"errors"
	"time"

	"github.com/amelia-dev/amelia/workflow"
)

// ErrNotFound indicates no checkpoint exists yet for the given thread.
var ErrNotFound = errors.New("checkpoint: not found")

// Checkpoint is one immutable snapshot of pipeline state plus the engine's
// resume point (spec.md §4.3: "the full state bag plus the label of the next
// node (or the interrupt marker)"). Checkpoints are never updated in place;
// each transition writes a new one with a fresh CheckpointID.
type Checkpoint struct {
	ThreadID     string // == workflow_id
	CheckpointID string
	CreatedAt    time.Time

	State workflow.State

	// NextNode names the pipeline node the engine should run on the next
	// Run/Resume call. Empty when Interrupt is set (no node owns control).
	NextNode string

	// Interrupt is non-nil when this checkpoint was written because a node
	// requested a pause (spec.md §4.3 "Interrupts").
	Interrupt *Interrupt

	// PendingWrites is a stored slot for deltas not yet folded into State,
	// mirroring the teacher's "pending writes" concept (spec.md §3: "Stores
	// a serialized state bag plus the 'next node' pointer and pending
	// writes"). Stores round-trip it, but pipeline/inmem never fills it:
	// its UpdateState merges the delta straight into State.
	PendingWrites []workflow.Delta
}

// Interrupt is a typed pause token a node can request (spec.md §4.3).
type Interrupt struct {
	// Reason identifies why execution paused, e.g. "awaiting_plan_approval".
	Reason string
	// Node is the node that requested the interrupt; Resume re-enters it.
	Node string
	// Payload carries whatever context the node attached to the interrupt
	// request, serialized the same way workflow.State.Data fields are.
	Payload []byte
}

// Store persists and retrieves checkpoints keyed by (thread_id,
// checkpoint_id). Implemented by checkpoint/mongodoc against MongoDB.
type Store interface {
	// Save writes cp as a new, immutable checkpoint.
	Save(ctx context.Context, cp Checkpoint) error

	// LoadLatest returns the most recently saved checkpoint for threadID.
	// Returns ErrNotFound if none exists.
	LoadLatest(ctx context.Context, threadID string) (Checkpoint, error)

	// DeleteAll removes every checkpoint for threadID (spec.md §4.3
	// "Rewind (replan): purge_checkpoints(thread_id) deletes all
	// checkpoints for a thread").
	DeleteAll(ctx context.Context, threadID string) error
}
