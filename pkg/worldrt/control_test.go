package worldrt

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestControlRegistry_CancelStopsContext(t *testing.T) {
	c := NewControlRegistry()
	ctx, release := c.Begin(context.Background(), "w1", "c1")
	defer release()

	require.NoError(t, ctx.Err())
	assert.True(t, c.Cancel("w1", "c1"))
	assert.Error(t, ctx.Err())
}

func TestControlRegistry_CancelUnknownKeyReturnsFalse(t *testing.T) {
	c := NewControlRegistry()
	assert.False(t, c.Cancel("no-world", "no-chat"))
}

func TestControlRegistry_ReleaseRemovesRegistration(t *testing.T) {
	c := NewControlRegistry()
	_, release := c.Begin(context.Background(), "w1", "c1")
	release()

	assert.False(t, c.Cancel("w1", "c1"), "a released registration must not be cancelable")
}

func TestControlRegistry_DistinctChatsAreIndependent(t *testing.T) {
	c := NewControlRegistry()
	ctxA, releaseA := c.Begin(context.Background(), "w1", "chat-a")
	defer releaseA()
	ctxB, releaseB := c.Begin(context.Background(), "w1", "chat-b")
	defer releaseB()

	assert.True(t, c.Cancel("w1", "chat-a"))
	assert.Error(t, ctxA.Err())
	require.NoError(t, ctxB.Err())
}
