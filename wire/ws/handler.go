package ws

import (
	"context"
	"net/http"

	"github.com/gorilla/websocket"
)

// upgrader allows any origin: CORS does not apply to WebSocket handshakes,
// and spec.md §4.5 leaves origin policy to the deployer (see the HTTP
// router's Options.AllowedOrigins for the equivalent REST-side knob).
// Grounded on kadirpekel-hector's a2a/server.go handleStreamTask, the only
// hand-rolled (non-goa-generated) gorilla/websocket server in the corpus.
var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// Handler upgrades /ws/events connections and services the
// subscribe/unsubscribe protocol for the lifetime of the socket.
func (b *Broker) Handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			b.logger.Warn(r.Context(), "websocket upgrade failed", "error", err)
			return
		}

		c := newClient(conn, b.logger, b.queueSize)
		b.register(c)
		defer b.unregister(c)
		defer c.close()

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()

		go c.drain(ctx, newLimiter())

		b.readLoop(ctx, c)
	})
}

// readLoop consumes subscribe/unsubscribe control frames until the
// connection errors or closes. It runs on the goroutine that called
// Handler, separate from drain's write goroutine.
func (b *Broker) readLoop(ctx context.Context, c *client) {
	for {
		var msg controlMessage
		if err := c.conn.ReadJSON(&msg); err != nil {
			return
		}

		switch msg.Type {
		case "subscribe":
			if msg.WorkflowID == "" {
				continue
			}
			b.subscribe(ctx, c, msg.WorkflowID)
		case "unsubscribe":
			if msg.WorkflowID == "" {
				continue
			}
			c.unsubscribe(msg.WorkflowID)
		}
	}
}

// subscribe registers interest in workflowID, then replays its persisted
// backlog before lifting replay-suppression, so the client always sees
// backlog-then-live in sequence order (spec.md §4.5 "Replay-on-subscribe").
// The wildcard channel carries no backlog: it only receives live events,
// for every workflow.
func (b *Broker) subscribe(ctx context.Context, c *client, workflowID string) {
	c.beginSubscribe(workflowID)
	if workflowID == wildcard {
		return
	}

	evs, err := b.eventsRepo.GetSince(ctx, workflowID, 0)
	if err != nil {
		b.logger.Warn(ctx, "websocket replay fetch failed", "workflow_id", workflowID, "error", err)
		c.finishSubscribe(workflowID, nil)
		return
	}
	c.finishSubscribe(workflowID, evs)
}
