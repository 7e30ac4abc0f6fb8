// Package eventbus implements the per-world in-process publish/subscribe
// mechanism: a single Bus instance belongs to exactly one World and fans
// out every published Event, in publication order, to every
// currently-registered Handler. Events published by a single publisher
// reach subscribers in emission order.
package eventbus

import (
	"context"
	"sync"

	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// Handler receives every event published on a Bus. Handlers run
// synchronously on the publisher's goroutine, in subscription order, so
// a handler that itself suspends delays later subscribers' delivery of
// the same event. The persistence hook relies on this: it observes an
// event before any agent handler can act on a state change derived from
// it.
type Handler func(ctx context.Context, ev types.Event)

// Bus is a single world's event bus. The zero value is not usable; use
// New.
type Bus struct {
	mu          sync.RWMutex
	subscribers []subscriber
	nextID      int
}

type subscriber struct {
	id int
	h  Handler
}

// New constructs an empty Bus.
func New() *Bus {
	return &Bus{}
}

// Subscribe registers h and returns an unsubscribe function. The world
// runtime subscribes its persistence and activity-listener handlers
// once per world; the agent processor subscribes its message handler
// the same way.
func (b *Bus) Subscribe(h Handler) (unsubscribe func()) {
	b.mu.Lock()
	id := b.nextID
	b.nextID++
	b.subscribers = append(b.subscribers, subscriber{id: id, h: h})
	b.mu.Unlock()

	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.subscribers {
			if s.id == id {
				b.subscribers = append(b.subscribers[:i], b.subscribers[i+1:]...)
				return
			}
		}
	}
}

// Publish delivers ev to every subscriber registered at the moment
// Publish is called, in subscription order. A snapshot of the
// subscriber list is taken under the read lock so a handler that
// subscribes or unsubscribes mid-delivery (e.g. editUserMessage
// resubscribing all agents) never mutates the slice Publish is
// iterating.
func (b *Bus) Publish(ctx context.Context, ev types.Event) {
	b.mu.RLock()
	handlers := make([]subscriber, len(b.subscribers))
	copy(handlers, b.subscribers)
	b.mu.RUnlock()

	for _, s := range handlers {
		func() {
			defer func() {
				if r := recover(); r != nil {
					logger.G(ctx).WithField("kind", ev.Kind).
						WithField("panic", r).
						Error("event bus handler panicked")
				}
			}()
			s.h(ctx, ev)
		}()
	}
}

// SubscriberCount reports the number of currently-registered handlers,
// used by the world runtime to decide whether a world is currently
// subscribed at all.
func (b *Bus) SubscriberCount() int {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return len(b.subscribers)
}
