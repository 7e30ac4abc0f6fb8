package worldrt

import (
	"context"
	"sync"
)

// ControlRegistry tracks one cancellation token per (worldID, chatID)
// pair currently being processed: editing a message cancels any
// in-flight processing for the same chat before removing messages.
type ControlRegistry struct {
	mu      sync.Mutex
	cancels map[string]context.CancelFunc
}

// NewControlRegistry constructs an empty registry.
func NewControlRegistry() *ControlRegistry {
	return &ControlRegistry{cancels: make(map[string]context.CancelFunc)}
}

func controlKey(worldID, chatID string) string {
	return worldID + "/" + chatID
}

// Begin derives a cancelable context for processing (worldID, chatID),
// registering its cancel func so a concurrent editUserMessage can stop it.
// release must be called (typically deferred) once processing ends, to
// remove the registration and free the parent context.
func (c *ControlRegistry) Begin(parent context.Context, worldID, chatID string) (ctx context.Context, release func()) {
	ctx, cancel := context.WithCancel(parent)
	key := controlKey(worldID, chatID)

	c.mu.Lock()
	c.cancels[key] = cancel
	c.mu.Unlock()

	release = func() {
		c.mu.Lock()
		if c.cancels[key] != nil {
			delete(c.cancels, key)
		}
		c.mu.Unlock()
		cancel()
	}
	return ctx, release
}

// Cancel cancels any in-flight processing registered for (worldID, chatID)
// and reports whether one was found. It does not block on the canceled
// goroutine actually observing ctx.Done(); callers needing that guarantee
// must synchronize separately (the world's processing slot serves this
// purpose in practice).
func (c *ControlRegistry) Cancel(worldID, chatID string) bool {
	key := controlKey(worldID, chatID)

	c.mu.Lock()
	cancel, ok := c.cancels[key]
	if ok {
		delete(c.cancels, key)
	}
	c.mu.Unlock()

	if ok {
		cancel()
	}
	return ok
}
