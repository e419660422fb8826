package events

import (
	"context"
	"sync"

	"github.com/amelia-dev/amelia/telemetry"
)

// Subscriber reacts to emitted events. Handle should return promptly and
// never block: the bus has no backpressure (spec.md §4.1) and runs every
// subscriber synchronously, in registration order, on the emitting
// goroutine.
type Subscriber interface {
	Handle(ctx context.Context, event Event) error
}

// SubscriberFunc adapts a plain function to Subscriber.
type SubscriberFunc func(ctx context.Context, event Event) error

// Handle implements Subscriber.
func (f SubscriberFunc) Handle(ctx context.Context, event Event) error { return f(ctx, event) }

var _ Subscriber = SubscriberFunc(nil)

// Subscription represents one active registration. Close is idempotent and
// safe to call from any goroutine, any number of times.
type Subscription interface {
	Close() error
}

// Bus fans out Events to every registered Subscriber. Unlike the teacher's
// hooks.Bus, Emit never stops at the first subscriber error: spec.md §4.1
// requires "swallowing and logging exceptions raised by a handler so one
// faulty subscriber cannot disrupt others" (see DESIGN.md, "Event bus
// fan-out: fail-fast vs swallow-and-log").
type Bus interface {
	// Emit synchronously invokes every subscriber currently registered, in
	// registration order, and returns once all of them have returned.
	// Subscriber errors are logged, not propagated.
	Emit(ctx context.Context, event Event)

	// Subscribe registers sub and returns a handle to unregister it later.
	Subscribe(sub Subscriber) Subscription
}

type subscription struct {
	bus  *bus
	once sync.Once
}

func (s *subscription) Close() error {
	s.once.Do(func() {
		s.bus.mu.Lock()
		defer s.bus.mu.Unlock()
		for i, entry := range s.bus.subs {
			if entry == s {
				s.bus.subs = append(s.bus.subs[:i], s.bus.subs[i+1:]...)
				break
			}
		}
		delete(s.bus.byPtr, s)
	})
	return nil
}

// bus is the concrete Bus implementation. Subscribers are tracked in a slice
// rather than the teacher's map so that fan-out order matches registration
// order exactly, which spec.md §4.1 calls out explicitly ("Subscribers are
// invoked... in registration order"); a map would not guarantee that.
type bus struct {
	mu     sync.RWMutex
	subs   []*subscription
	byPtr  map[*subscription]Subscriber
	logger telemetry.Logger
}

// New constructs an empty, ready-to-use Bus. logger is used to report
// swallowed subscriber errors; pass telemetry.NoopLogger{} if none is wired.
func New(logger telemetry.Logger) Bus {
	if logger == nil {
		logger = telemetry.NoopLogger{}
	}
	return &bus{
		byPtr:  make(map[*subscription]Subscriber),
		logger: logger,
	}
}

func (b *bus) Subscribe(sub Subscriber) Subscription {
	s := &subscription{bus: b}
	b.mu.Lock()
	b.subs = append(b.subs, s)
	b.byPtr[s] = sub
	b.mu.Unlock()
	return s
}

func (b *bus) Emit(ctx context.Context, event Event) {
	b.mu.RLock()
	snapshot := make([]Subscriber, 0, len(b.subs))
	for _, s := range b.subs {
		snapshot = append(snapshot, b.byPtr[s])
	}
	b.mu.RUnlock()

	for _, sub := range snapshot {
		if sub == nil {
			continue
		}
		if err := sub.Handle(ctx, event); err != nil {
			b.logger.Error(ctx, "event subscriber failed, continuing fan-out",
				"workflow_id", event.WorkflowID,
				"event_type", string(event.EventType),
				"error", err,
			)
		}
	}
}
