package storage

import (
	"context"

	"github.com/agentworld-dev/runtime/pkg/types"
)

// EventStorage is an optional capability a StorageAPI backend may
// implement to receive a durable copy of every event published on a
// world's bus. The world runtime type-asserts its StorageAPI against
// this interface rather than requiring every backend to support it.
type EventStorage interface {
	AppendEvent(ctx context.Context, worldID string, ev types.Event) error
}
