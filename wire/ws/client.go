package ws

import (
	"context"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/amelia-dev/amelia/events"
	"github.com/amelia-dev/amelia/telemetry"
)

// writeWait bounds how long a single WriteJSON call may block the drain
// goroutine before the connection is considered dead.
const writeWait = 10 * time.Second

// maxPendingDuringReplay bounds how many live events a client buffers for a
// workflow while its replay backlog is still being fetched, so a pathological
// fetch latency cannot grow memory unbounded.
const maxPendingDuringReplay = outboundQueueSize

// controlMessage is the shape of client -> server frames (spec.md §4.5
// `{type: "subscribe", workflow_id}` / `{type: "unsubscribe", workflow_id}`).
type controlMessage struct {
	Type       string `json:"type"`
	WorkflowID string `json:"workflow_id"`
}

// outboundMessage wraps an events.Event the same way spec.md describes
// "each published WorkflowEvent matching the connection's subscription
// set" — no extra envelope beyond the event itself.
type outboundMessage = events.Event

// client owns one upgraded WebSocket connection. All writes to conn happen
// on the single drain goroutine; subscribe/unsubscribe and live-event
// delivery communicate with it only through the bounded queue, so there is
// never more than one writer (gorilla's Conn forbids concurrent writers).
type client struct {
	conn   *websocket.Conn
	logger telemetry.Logger

	mu        sync.Mutex
	subs      map[string]struct{}
	replaying map[string]bool
	pending   map[string][]events.Event

	queue chan events.Event

	closeOnce sync.Once
	done      chan struct{}
}

func newClient(conn *websocket.Conn, logger telemetry.Logger, queueSize int) *client {
	if queueSize <= 0 {
		queueSize = outboundQueueSize
	}
	return &client{
		conn:      conn,
		logger:    logger,
		subs:      make(map[string]struct{}),
		replaying: make(map[string]bool),
		pending:   make(map[string][]events.Event),
		queue:     make(chan events.Event, queueSize),
		done:      make(chan struct{}),
	}
}

func (c *client) subscribedTo(workflowID string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.subs[wildcard]; ok {
		return true
	}
	_, ok := c.subs[workflowID]
	return ok
}

// beginSubscribe marks workflowID as subscribed and enters replay-suppression
// mode for it: concurrent live events are buffered rather than delivered,
// so the caller can fetch and flush the persisted backlog first without
// racing a live event ahead of it.
func (c *client) beginSubscribe(workflowID string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.subs[workflowID] = struct{}{}
	if workflowID != wildcard {
		c.replaying[workflowID] = true
	}
}

// finishSubscribe flushes backlog (already in sequence order) followed by
// whatever live events arrived during the fetch, then lifts suppression.
func (c *client) finishSubscribe(workflowID string, backlog []events.Event) {
	c.mu.Lock()
	buffered := c.pending[workflowID]
	delete(c.pending, workflowID)
	delete(c.replaying, workflowID)
	c.mu.Unlock()

	for _, e := range backlog {
		c.push(e)
	}
	for _, e := range buffered {
		c.push(e)
	}
}

func (c *client) unsubscribe(workflowID string) {
	c.mu.Lock()
	delete(c.subs, workflowID)
	delete(c.replaying, workflowID)
	delete(c.pending, workflowID)
	c.mu.Unlock()
}

// enqueue is called from the broker's emit path (Broker.Handle) and must
// never block. While workflowID is mid-replay the event is buffered in
// pending instead of queue so it is delivered after the backlog, preserving
// sequence order (spec.md §4.5 "before any new live event").
func (c *client) enqueue(event events.Event) {
	c.mu.Lock()
	if c.replaying[event.WorkflowID] {
		buf := c.pending[event.WorkflowID]
		if len(buf) >= maxPendingDuringReplay {
			buf = buf[1:]
		}
		c.pending[event.WorkflowID] = append(buf, event)
		c.mu.Unlock()
		return
	}
	c.mu.Unlock()
	c.push(event)
}

// push enqueues directly onto the outbound queue, dropping the oldest
// buffered event to make room when full (spec.md §4.5 "drops the slowest
// subscriber's oldest events") rather than dropping the new event or
// blocking the caller.
func (c *client) push(event events.Event) {
	select {
	case c.queue <- event:
		return
	default:
	}

	select {
	case <-c.queue:
	default:
	}

	select {
	case c.queue <- event:
	default:
	}
}

func (c *client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		c.conn.Close()
	})
}

// drain is the per-connection write loop: it waits for either a queued
// event or shutdown, paces delivery with limiter, and disconnects the
// client on any write error (the client is assumed gone).
func (c *client) drain(ctx context.Context, limiter interface {
	WaitN(ctx context.Context, n int) error
}) {
	for {
		select {
		case <-c.done:
			return
		case <-ctx.Done():
			return
		case event := <-c.queue:
			if err := limiter.WaitN(ctx, 1); err != nil {
				return
			}
			c.conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.conn.WriteJSON(outboundMessage(event)); err != nil {
				c.logger.Debug(ctx, "websocket client write failed, disconnecting", "error", err)
				return
			}
		}
	}
}
