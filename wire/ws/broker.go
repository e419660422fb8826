// Package ws implements the WebSocket event stream described in spec.md
// §4.5: clients connect to /ws/events, subscribe to one or more workflow IDs
// (or the "*" wildcard channel), receive a replay of persisted events on
// subscribe, and then receive live events as they are emitted.
//
// The broker subscribes itself to the orchestrator's events.Bus once at
// construction, mirroring how the teacher's runtime wires a single
// long-lived observer rather than one subscription per connection
// (runtime/agent/runtime/runtime.go's handle registry). Each client
// connection is its own goroutine-pair: one reading subscribe/unsubscribe
// control frames, one draining a bounded, rate-limited outbound queue so a
// slow client can never block Bus.Emit (spec.md §4.5 "it never blocks the
// emit path").
package ws

import (
	"context"
	"sync"

	"golang.org/x/time/rate"

	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/repo"
	"github.com/amelia-dev/amelia/telemetry"
)

// wildcard is the subscription channel that receives every event regardless
// of workflow_id (spec.md §4.5 "optionally workflow-agnostic events... if it
// subscribes to the * channel").
const wildcard = "*"

// outboundQueueSize bounds the number of events buffered per connection
// before the broker starts dropping (spec.md §4.5 "bounded outbound queue").
const outboundQueueSize = 256

// outboundEventsPerSecond paces delivery to a slow client so a burst of
// fast-firing ephemeral events (agent_message, tool_call, tool_result)
// cannot itself overwhelm the connection's write loop.
const outboundEventsPerSecond = 50

// Broker fans out workflow events to subscribed WebSocket connections. It
// implements events.Subscriber so it can be registered with the same bus
// the persister and token-usage sink observe.
type Broker struct {
	eventsRepo repo.EventRepository
	logger     telemetry.Logger
	queueSize  int

	mu      sync.Mutex
	clients map[*client]struct{}
}

// NewBroker constructs a Broker. eventsRepo backs replay-on-subscribe;
// logger may be nil. queueSize overrides outboundQueueSize per connection
// (config.Config.WebsocketQueueDepth); zero keeps the default.
func NewBroker(eventsRepo repo.EventRepository, logger telemetry.Logger, queueSize int) *Broker {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	if queueSize <= 0 {
		queueSize = outboundQueueSize
	}
	return &Broker{
		eventsRepo: eventsRepo,
		logger:     logger,
		queueSize:  queueSize,
		clients:    make(map[*client]struct{}),
	}
}

// Handle implements events.Subscriber. It is called synchronously on the
// emitting goroutine for every event the bus fans out (events.Bus.Emit), so
// it must never block: it only enqueues onto each subscribed client's
// bounded queue, which itself never blocks (see client.enqueue).
func (b *Broker) Handle(_ context.Context, event events.Event) error {
	b.mu.Lock()
	snapshot := make([]*client, 0, len(b.clients))
	for c := range b.clients {
		snapshot = append(snapshot, c)
	}
	b.mu.Unlock()

	for _, c := range snapshot {
		if c.subscribedTo(event.WorkflowID) {
			c.enqueue(event)
		}
	}
	return nil
}

func (b *Broker) register(c *client) {
	b.mu.Lock()
	b.clients[c] = struct{}{}
	b.mu.Unlock()
}

func (b *Broker) unregister(c *client) {
	b.mu.Lock()
	delete(b.clients, c)
	b.mu.Unlock()
}

func newLimiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(outboundEventsPerSecond), outboundEventsPerSecond)
}
