package amelia_test

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/checkpoint"
	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/pipeline"
	"github.com/amelia-dev/amelia/pipeline/amelia"
	"github.com/amelia-dev/amelia/pipeline/inmem"
	"github.com/amelia-dev/amelia/workflow"
)

// memStore mirrors pipeline/inmem's own test fake; duplicated here (rather
// than exported from inmem) since it is test-only scaffolding, not part of
// either package's public contract.
type memStore struct {
	latest map[string]checkpoint.Checkpoint
}

func newMemStore() *memStore { return &memStore{latest: make(map[string]checkpoint.Checkpoint)} }

func (s *memStore) Save(_ context.Context, cp checkpoint.Checkpoint) error {
	s.latest[cp.ThreadID] = cp
	return nil
}

func (s *memStore) LoadLatest(_ context.Context, threadID string) (checkpoint.Checkpoint, error) {
	cp, ok := s.latest[threadID]
	if !ok {
		return checkpoint.Checkpoint{}, checkpoint.ErrNotFound
	}
	return cp, nil
}

func (s *memStore) DeleteAll(_ context.Context, threadID string) error {
	delete(s.latest, threadID)
	return nil
}

func strPtr(s string) *string { return &s }

func eventRecorder(bus events.Bus) *[]events.Type {
	seen := make([]events.Type, 0)
	bus.Subscribe(events.SubscriberFunc(func(_ context.Context, e events.Event) error {
		seen = append(seen, e.EventType)
		return nil
	}))
	return &seen
}

func TestGraph_ApprovedPlanReachesDeveloperAndReviewerApproves(t *testing.T) {
	t.Parallel()

	bus := events.New(nil)
	seen := eventRecorder(bus)

	architect := func(_ context.Context, _ workflow.State, _ any) (workflow.Delta, error) {
		return workflow.Delta{PlanMarkdown: strPtr("# plan"), MaxIteration: intPtr(3)}, nil
	}
	developer := func(_ context.Context, _ workflow.State, _ any) (workflow.Delta, error) {
		return workflow.Delta{}, nil
	}
	reviewer := func(_ context.Context, _ workflow.State, _ any) (workflow.Delta, error) {
		return workflow.Delta{LastReview: &workflow.Review{Approved: true}}, nil
	}

	graph := amelia.Build(amelia.Agents{Architect: architect, Developer: developer, Reviewer: reviewer}, bus, nil, 0)
	store := newMemStore()
	eng := inmem.New(graph, store, nil)

	outcome, err := eng.Run(context.Background(), "wf-1", workflow.State{WorkflowID: "wf-1"})
	require.NoError(t, err)
	require.NotNil(t, outcome.Interrupt)
	assert.Equal(t, amelia.InterruptAwaitingPlanApproval, outcome.Interrupt.Reason)

	outcome, err = eng.Resume(context.Background(), "wf-1", amelia.PlanApprovalPayload{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, pipeline.TerminalSuccess, outcome.Terminal)

	assert.Contains(t, *seen, events.ApprovalGranted)
	assert.Contains(t, *seen, events.ReviewCompleted)
}

func TestGraph_RejectedPlanTerminatesInFailure(t *testing.T) {
	t.Parallel()

	bus := events.New(nil)
	seen := eventRecorder(bus)

	architect := func(_ context.Context, _ workflow.State, _ any) (workflow.Delta, error) {
		return workflow.Delta{PlanMarkdown: strPtr("# plan")}, nil
	}

	graph := amelia.Build(amelia.Agents{Architect: architect}, bus, nil, 0)
	store := newMemStore()
	eng := inmem.New(graph, store, nil)

	_, err := eng.Run(context.Background(), "wf-2", workflow.State{WorkflowID: "wf-2"})
	require.NoError(t, err)

	outcome, err := eng.Resume(context.Background(), "wf-2", amelia.PlanApprovalPayload{Approved: false, Feedback: "not good"})
	require.NoError(t, err)
	assert.Equal(t, pipeline.TerminalFailure, outcome.Terminal)
	assert.Contains(t, *seen, events.ApprovalRejected)
}

func TestGraph_ReviewerRejectionLoopsUntilIterationCapThenFails(t *testing.T) {
	t.Parallel()

	bus := events.New(nil)

	architect := func(_ context.Context, _ workflow.State, _ any) (workflow.Delta, error) {
		return workflow.Delta{MaxIteration: intPtr(2)}, nil
	}
	developer := func(_ context.Context, state workflow.State, _ any) (workflow.Delta, error) {
		next := state.Iteration + 1
		return workflow.Delta{Iteration: &next}, nil
	}
	reviewer := func(_ context.Context, _ workflow.State, _ any) (workflow.Delta, error) {
		return workflow.Delta{LastReview: &workflow.Review{Approved: false}}, nil
	}

	graph := amelia.Build(amelia.Agents{Architect: architect, Developer: developer, Reviewer: reviewer}, bus, nil, 0)
	store := newMemStore()
	eng := inmem.New(graph, store, nil)

	_, err := eng.Run(context.Background(), "wf-3", workflow.State{WorkflowID: "wf-3"})
	require.NoError(t, err)

	outcome, err := eng.Resume(context.Background(), "wf-3", amelia.PlanApprovalPayload{Approved: true})
	require.NoError(t, err)
	assert.Equal(t, pipeline.TerminalFailure, outcome.Terminal)
	assert.Equal(t, 2, outcome.State.Iteration)
}

func intPtr(i int) *int { return &i }

// TestGraph_StageCompletedEventCarriesTokenUsage exercises the real node-run
// path (not a hand-built payload, unlike
// events.TestTokenUsageSink_OnlyFoldsStageCompletedWithTokenUsage) to confirm
// a node's TokenUsageDelta actually reaches the stage_completed event's Data,
// which is what TokenUsageSink needs to fold it into the persisted totals.
func TestGraph_StageCompletedEventCarriesTokenUsage(t *testing.T) {
	t.Parallel()

	bus := events.New(nil)

	var stageCompleted []events.Event
	bus.Subscribe(events.SubscriberFunc(func(_ context.Context, e events.Event) error {
		if e.EventType == events.StageCompleted {
			stageCompleted = append(stageCompleted, e)
		}
		return nil
	}))

	architect := func(_ context.Context, _ workflow.State, _ any) (workflow.Delta, error) {
		return workflow.Delta{
			PlanMarkdown: strPtr("# plan"),
			TokenUsageDelta: map[workflow.Agent]workflow.TokenUsage{
				workflow.AgentArchitect: {InputTokens: 10, OutputTokens: 20, TotalTokens: 30, EstimatedCostUSD: 0.5},
			},
		}, nil
	}

	graph := amelia.Build(amelia.Agents{Architect: architect}, bus, nil, 0)
	store := newMemStore()
	eng := inmem.New(graph, store, nil)

	_, err := eng.Run(context.Background(), "wf-4", workflow.State{WorkflowID: "wf-4"})
	require.NoError(t, err)

	require.Len(t, stageCompleted, 1)
	require.Equal(t, string(workflow.AgentArchitect), stageCompleted[0].Agent)
	require.NotEmpty(t, stageCompleted[0].Data)

	var payload struct {
		TokenUsage struct {
			TotalTokens int64 `json:"total_tokens"`
		} `json:"token_usage"`
	}
	require.NoError(t, json.Unmarshal(stageCompleted[0].Data, &payload))
	assert.Equal(t, int64(30), payload.TokenUsage.TotalTokens)
}
