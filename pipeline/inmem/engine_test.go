package inmem_test

import (
	"context"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/checkpoint"
	"github.com/amelia-dev/amelia/pipeline"
	"github.com/amelia-dev/amelia/pipeline/inmem"
	"github.com/amelia-dev/amelia/workflow"
)

// memStore is a minimal in-memory checkpoint.Store fake: the most recently
// saved checkpoint per thread ID, nothing more. Good enough to exercise the
// engine's checkpoint-after-every-transition contract without a database.
type memStore struct {
	mu      sync.Mutex
	latest  map[string]checkpoint.Checkpoint
	history map[string][]checkpoint.Checkpoint
}

func newMemStore() *memStore {
	return &memStore{
		latest:  make(map[string]checkpoint.Checkpoint),
		history: make(map[string][]checkpoint.Checkpoint),
	}
}

func (s *memStore) Save(_ context.Context, cp checkpoint.Checkpoint) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.latest[cp.ThreadID] = cp
	s.history[cp.ThreadID] = append(s.history[cp.ThreadID], cp)
	return nil
}

func (s *memStore) LoadLatest(_ context.Context, threadID string) (checkpoint.Checkpoint, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	cp, ok := s.latest[threadID]
	if !ok {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return cp, nil
}

func (s *memStore) DeleteAll(_ context.Context, threadID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.latest, threadID)
	delete(s.history, threadID)
	return nil
}

func (s *memStore) count(threadID string) int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.history[threadID])
}

func strPtr(s string) *string { return &s }

func TestEngine_RunLinearGraphToSuccess(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	var order []string

	graph := pipeline.Graph{
		Entry: "a",
		Nodes: map[string]pipeline.NodeFunc{
			"a": func(_ context.Context, _ workflow.State, _ any) (pipeline.NodeOutcome, error) {
				order = append(order, "a")
				return pipeline.NodeOutcome{Delta: workflow.Delta{Goal: strPtr("g")}, Next: "b"}, nil
			},
			"b": func(_ context.Context, state workflow.State, _ any) (pipeline.NodeOutcome, error) {
				order = append(order, "b")
				require.Equal(t, "g", state.Goal)
				return pipeline.NodeOutcome{Terminal: pipeline.TerminalSuccess}, nil
			},
		},
	}

	eng := inmem.New(graph, store, nil)
	outcome, err := eng.Run(context.Background(), "thread-1", workflow.State{WorkflowID: "thread-1"})
	require.NoError(t, err)
	assert.Equal(t, pipeline.TerminalSuccess, outcome.Terminal)
	assert.Equal(t, []string{"a", "b"}, order)
	assert.Equal(t, 2, store.count("thread-1"))
}

func TestEngine_RunInterruptsAndResumes(t *testing.T) {
	t.Parallel()

	store := newMemStore()

	graph := pipeline.Graph{
		Entry: "pause",
		Nodes: map[string]pipeline.NodeFunc{
			"pause": func(_ context.Context, _ workflow.State, resume any) (pipeline.NodeOutcome, error) {
				if resume == nil {
					return pipeline.NodeOutcome{Interrupt: &checkpoint.Interrupt{Reason: "await", Node: "pause"}}, nil
				}
				payload := resume.(string)
				return pipeline.NodeOutcome{Delta: workflow.Delta{Goal: strPtr(payload)}, Terminal: pipeline.TerminalSuccess}, nil
			},
		},
	}

	eng := inmem.New(graph, store, nil)

	outcome, err := eng.Run(context.Background(), "thread-2", workflow.State{})
	require.NoError(t, err)
	require.NotNil(t, outcome.Interrupt)
	assert.Equal(t, "await", outcome.Interrupt.Reason)

	outcome, err = eng.Resume(context.Background(), "thread-2", "resumed-value")
	require.NoError(t, err)
	assert.Equal(t, pipeline.TerminalSuccess, outcome.Terminal)
	assert.Equal(t, "resumed-value", outcome.State.Goal)
}

func TestEngine_ResumeWithoutInterruptFails(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	graph := pipeline.Graph{
		Entry: "a",
		Nodes: map[string]pipeline.NodeFunc{
			"a": func(_ context.Context, _ workflow.State, _ any) (pipeline.NodeOutcome, error) {
				return pipeline.NodeOutcome{Terminal: pipeline.TerminalSuccess}, nil
			},
		},
	}
	eng := inmem.New(graph, store, nil)

	_, err := eng.Run(context.Background(), "thread-3", workflow.State{})
	require.NoError(t, err)

	_, err = eng.Resume(context.Background(), "thread-3", nil)
	assert.ErrorIs(t, err, pipeline.ErrNotInterrupted)
}

func TestEngine_MaxStepsExceeded(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	graph := pipeline.Graph{
		Entry: "loop",
		Nodes: map[string]pipeline.NodeFunc{
			"loop": func(_ context.Context, _ workflow.State, _ any) (pipeline.NodeOutcome, error) {
				return pipeline.NodeOutcome{Next: "loop"}, nil
			},
		},
		MaxSteps: 3,
	}
	eng := inmem.New(graph, store, nil)

	_, err := eng.Run(context.Background(), "thread-4", workflow.State{})
	assert.ErrorIs(t, err, pipeline.ErrMaxStepsExceeded)
}

func TestEngine_UpdateStateMergesIntoLatestCheckpointWithoutAdvancing(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	graph := pipeline.Graph{
		Entry: "pause",
		Nodes: map[string]pipeline.NodeFunc{
			"pause": func(_ context.Context, _ workflow.State, resume any) (pipeline.NodeOutcome, error) {
				if resume == nil {
					return pipeline.NodeOutcome{Interrupt: &checkpoint.Interrupt{Reason: "await", Node: "pause"}}, nil
				}
				return pipeline.NodeOutcome{Terminal: pipeline.TerminalSuccess}, nil
			},
		},
	}
	eng := inmem.New(graph, store, nil)

	_, err := eng.Run(context.Background(), "thread-5", workflow.State{})
	require.NoError(t, err)

	outcome, err := eng.UpdateState(context.Background(), "thread-5", workflow.Delta{PlanMarkdown: strPtr("# plan")})
	require.NoError(t, err)
	assert.Equal(t, "# plan", outcome.State.PlanMarkdown)
	require.NotNil(t, outcome.Interrupt)

	cp, err := store.LoadLatest(context.Background(), "thread-5")
	require.NoError(t, err)
	assert.Equal(t, "# plan", cp.State.PlanMarkdown)
	assert.NotNil(t, cp.Interrupt)
}

func TestEngine_PurgeCheckpointsClearsThread(t *testing.T) {
	t.Parallel()

	store := newMemStore()
	graph := pipeline.Graph{
		Entry: "a",
		Nodes: map[string]pipeline.NodeFunc{
			"a": func(_ context.Context, _ workflow.State, _ any) (pipeline.NodeOutcome, error) {
				return pipeline.NodeOutcome{Terminal: pipeline.TerminalSuccess}, nil
			},
		},
	}
	eng := inmem.New(graph, store, nil)

	_, err := eng.Run(context.Background(), "thread-6", workflow.State{})
	require.NoError(t, err)

	require.NoError(t, eng.PurgeCheckpoints(context.Background(), "thread-6"))

	_, err = store.LoadLatest(context.Background(), "thread-6")
	assert.ErrorIs(t, err, checkpoint.ErrNotFound)
}
