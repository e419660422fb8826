package mongodoc

import (
	"time"

	"github.com/amelia-dev/amelia/checkpoint"
	"github.com/amelia-dev/amelia/workflow"
)

// checkpointDocument is the BSON-mapped shape of a stored checkpoint. State
// and PendingWrites are stored as opaque bson.Raw-free structs because
// workflow.State's own fields already carry json tags that bson happily
// reuses via struct tag fallback... except it doesn't, so every field that
// needs a stable on-disk name gets an explicit bson tag here instead of
// relying on workflow.State's json tags.
type checkpointDocument struct {
	ThreadID      string              `bson:"thread_id"`
	CheckpointID  string              `bson:"checkpoint_id"`
	CreatedAt     time.Time           `bson:"created_at"`
	State         workflow.State      `bson:"state"`
	NextNode      string              `bson:"next_node,omitempty"`
	Interrupt     *interruptDocument  `bson:"interrupt,omitempty"`
	PendingWrites []workflow.Delta    `bson:"pending_writes,omitempty"`
}

type interruptDocument struct {
	Reason  string `bson:"reason"`
	Node    string `bson:"node"`
	Payload []byte `bson:"payload,omitempty"`
}

func fromCheckpoint(cp checkpoint.Checkpoint) checkpointDocument {
	doc := checkpointDocument{
		ThreadID:      cp.ThreadID,
		CheckpointID:  cp.CheckpointID,
		CreatedAt:     cp.CreatedAt,
		State:         cp.State,
		NextNode:      cp.NextNode,
		PendingWrites: cp.PendingWrites,
	}
	if cp.Interrupt != nil {
		doc.Interrupt = &interruptDocument{
			Reason:  cp.Interrupt.Reason,
			Node:    cp.Interrupt.Node,
			Payload: cp.Interrupt.Payload,
		}
	}
	return doc
}

func (doc checkpointDocument) toCheckpoint() checkpoint.Checkpoint {
	cp := checkpoint.Checkpoint{
		ThreadID:      doc.ThreadID,
		CheckpointID:  doc.CheckpointID,
		CreatedAt:     doc.CreatedAt,
		State:         doc.State,
		NextNode:      doc.NextNode,
		PendingWrites: doc.PendingWrites,
	}
	if doc.Interrupt != nil {
		cp.Interrupt = &checkpoint.Interrupt{
			Reason:  doc.Interrupt.Reason,
			Node:    doc.Interrupt.Node,
			Payload: doc.Interrupt.Payload,
		}
	}
	return cp
}
