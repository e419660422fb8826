package ws

import (
	"context"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/require"

	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/telemetry"
)

type fakeEventRepo struct {
	byWorkflow map[string][]events.Event
}

func (f *fakeEventRepo) Append(_ context.Context, e events.Event) error {
	f.byWorkflow[e.WorkflowID] = append(f.byWorkflow[e.WorkflowID], e)
	return nil
}
func (f *fakeEventRepo) GetRecent(_ context.Context, workflowID string, limit int) ([]events.Event, error) {
	evs := f.byWorkflow[workflowID]
	if len(evs) > limit {
		evs = evs[len(evs)-limit:]
	}
	return evs, nil
}
func (f *fakeEventRepo) GetSince(_ context.Context, workflowID string, after int64) ([]events.Event, error) {
	var out []events.Event
	for _, e := range f.byWorkflow[workflowID] {
		if e.Sequence > after {
			out = append(out, e)
		}
	}
	return out, nil
}
func (f *fakeEventRepo) GetMaxSequence(_ context.Context, workflowID string) (int64, error) {
	evs := f.byWorkflow[workflowID]
	if len(evs) == 0 {
		return 0, nil
	}
	return evs[len(evs)-1].Sequence, nil
}

func wsURL(serverURL string) string {
	return "ws" + strings.TrimPrefix(serverURL, "http")
}

func TestBroker_ReplaysBacklogBeforeLiveEvents(t *testing.T) {
	repo := &fakeEventRepo{byWorkflow: map[string][]events.Event{
		"wf-1": {
			{WorkflowID: "wf-1", Sequence: 1, EventType: events.StageStarted},
			{WorkflowID: "wf-1", Sequence: 2, EventType: events.StageCompleted},
		},
	}}
	broker := NewBroker(repo, telemetry.NoopLogger{}, 0)

	srv := httptest.NewServer(broker.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(controlMessage{Type: "subscribe", WorkflowID: "wf-1"}))

	var first, second events.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&first))
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&second))

	require.Equal(t, int64(1), first.Sequence)
	require.Equal(t, int64(2), second.Sequence)

	broker.Handle(context.Background(), events.Event{WorkflowID: "wf-1", Sequence: 3, EventType: events.TaskStarted})

	var third events.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&third))
	require.Equal(t, int64(3), third.Sequence)
}

func TestBroker_FiltersByWorkflowID(t *testing.T) {
	repo := &fakeEventRepo{byWorkflow: map[string][]events.Event{}}
	broker := NewBroker(repo, telemetry.NoopLogger{}, 0)

	srv := httptest.NewServer(broker.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(controlMessage{Type: "subscribe", WorkflowID: "wf-a"}))
	time.Sleep(50 * time.Millisecond)

	broker.Handle(context.Background(), events.Event{WorkflowID: "wf-b", Sequence: 1, EventType: events.TaskStarted})
	broker.Handle(context.Background(), events.Event{WorkflowID: "wf-a", Sequence: 1, EventType: events.TaskCompleted})

	var got events.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "wf-a", got.WorkflowID)
	require.Equal(t, events.TaskCompleted, got.EventType)
}

func TestBroker_WildcardReceivesAllWorkflows(t *testing.T) {
	repo := &fakeEventRepo{byWorkflow: map[string][]events.Event{}}
	broker := NewBroker(repo, telemetry.NoopLogger{}, 0)

	srv := httptest.NewServer(broker.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(controlMessage{Type: "subscribe", WorkflowID: "*"}))
	time.Sleep(50 * time.Millisecond)

	broker.Handle(context.Background(), events.Event{WorkflowID: "any-workflow", Sequence: 1, EventType: events.WorkflowCreated})

	var got events.Event
	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	require.NoError(t, conn.ReadJSON(&got))
	require.Equal(t, "any-workflow", got.WorkflowID)
}

func TestBroker_UnsubscribeStopsDelivery(t *testing.T) {
	repo := &fakeEventRepo{byWorkflow: map[string][]events.Event{}}
	broker := NewBroker(repo, telemetry.NoopLogger{}, 0)

	srv := httptest.NewServer(broker.Handler())
	defer srv.Close()

	conn, _, err := websocket.DefaultDialer.Dial(wsURL(srv.URL), nil)
	require.NoError(t, err)
	defer conn.Close()

	require.NoError(t, conn.WriteJSON(controlMessage{Type: "subscribe", WorkflowID: "wf-1"}))
	time.Sleep(50 * time.Millisecond)
	require.NoError(t, conn.WriteJSON(controlMessage{Type: "unsubscribe", WorkflowID: "wf-1"}))
	time.Sleep(50 * time.Millisecond)

	broker.Handle(context.Background(), events.Event{WorkflowID: "wf-1", Sequence: 1, EventType: events.TaskStarted})

	conn.SetReadDeadline(time.Now().Add(300 * time.Millisecond))
	var got events.Event
	err = conn.ReadJSON(&got)
	require.Error(t, err)
}
