package workflow

// TaskStatus is the lifecycle state of a single plan task inside
// PipelineState.Tasks.
type TaskStatus string

const (
	TaskStatusPending TaskStatus = "pending"
	TaskStatusRunning TaskStatus = "running"
	TaskStatusDone    TaskStatus = "done"
	TaskStatusFailed  TaskStatus = "failed"
)

// Agent identifies which pipeline agent owns or produced a piece of state.
// It mirrors the "agent" label carried on WorkflowEvent (spec.md §3).
type Agent string

const (
	AgentArchitect Agent = "architect"
	AgentDeveloper Agent = "developer"
	AgentReviewer  Agent = "reviewer"
	AgentEvaluator Agent = "evaluator"
)

// Task is a single unit of work in the architect's plan. Tasks preserve
// insertion order within PipelineState.Tasks and transition
// pending -> running -> {done, failed} with no regressions, except during
// replan which resets every task's status (spec.md §3 invariants).
type Task struct {
	// ID is a stable identifier assigned by the architect node, unique
	// within one PipelineState.
	ID string `json:"id" bson:"id"`
	// Title is a short human-readable summary.
	Title string `json:"title" bson:"title"`
	// Description elaborates on Title; supplements spec.md's task shape with
	// the detail an Evaluator needs to triage review comments against a task
	// (see SPEC_FULL.md §3 Supplemented Features).
	Description string `json:"description,omitempty" bson:"description,omitempty"`
	// Status is the current lifecycle state.
	Status TaskStatus `json:"status" bson:"status"`
	// AssigneeAgent names which pipeline agent is responsible for this task
	// at its current status (developer while running, evaluator during
	// triage).
	AssigneeAgent Agent `json:"assignee_agent,omitempty" bson:"assignee_agent,omitempty"`
	// Attempts counts how many times this task has been retried inside the
	// developer<->reviewer loop.
	Attempts int `json:"attempts" bson:"attempts"`
	// ReviewNotes carries the evaluator's triage output for this task, when
	// a review cycle has commented on it.
	ReviewNotes string `json:"review_notes,omitempty" bson:"review_notes,omitempty"`
}

// CloneTasks returns a deep copy of the task list, preserving order. Used by the
// pipeline engine's state merge step so nodes never alias the caller's slice.
func CloneTasks(tasks []Task) []Task {
	if tasks == nil {
		return nil
	}
	out := make([]Task, len(tasks))
	copy(out, tasks)
	return out
}

// ResetStatuses resets every task to pending with zero attempts, used by
// replan (spec.md §3: "tasks... no regressions except during replan which
// resets all task status fields").
func ResetStatuses(tasks []Task) []Task {
	out := CloneTasks(tasks)
	for i := range out {
		out[i].Status = TaskStatusPending
		out[i].Attempts = 0
		out[i].ReviewNotes = ""
	}
	return out
}
