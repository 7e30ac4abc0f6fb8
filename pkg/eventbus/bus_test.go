package eventbus

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworld-dev/runtime/pkg/types"
)

func TestBus_PublishPreservesOrderAcrossSubscribers(t *testing.T) {
	b := New()

	var firstSaw, secondSaw []string
	b.Subscribe(func(_ context.Context, ev types.Event) {
		firstSaw = append(firstSaw, ev.Message.Content)
	})
	b.Subscribe(func(_ context.Context, ev types.Event) {
		secondSaw = append(secondSaw, ev.Message.Content)
	})

	b.Publish(context.Background(), types.NewMessageEvent(types.MessagePayload{Content: "one"}))
	b.Publish(context.Background(), types.NewMessageEvent(types.MessagePayload{Content: "two"}))

	assert.Equal(t, []string{"one", "two"}, firstSaw)
	assert.Equal(t, []string{"one", "two"}, secondSaw)
}

func TestBus_Unsubscribe(t *testing.T) {
	b := New()
	count := 0
	unsub := b.Subscribe(func(context.Context, types.Event) { count++ })
	b.Publish(context.Background(), types.NewSystemEvent(types.SystemPayload{Kind: "x"}))
	require.Equal(t, 1, count)

	unsub()
	b.Publish(context.Background(), types.NewSystemEvent(types.SystemPayload{Kind: "x"}))
	assert.Equal(t, 1, count, "handler must not run after unsubscribe")
	assert.Equal(t, 0, b.SubscriberCount())
}

func TestBus_HandlerPanicDoesNotStopOtherSubscribers(t *testing.T) {
	b := New()
	ran := false
	b.Subscribe(func(context.Context, types.Event) { panic("boom") })
	b.Subscribe(func(context.Context, types.Event) { ran = true })

	assert.NotPanics(t, func() {
		b.Publish(context.Background(), types.NewSystemEvent(types.SystemPayload{Kind: "x"}))
	})
	assert.True(t, ran)
}

func TestBus_SubscribeDuringPublishDoesNotRace(t *testing.T) {
	b := New()
	b.Subscribe(func(ctx context.Context, ev types.Event) {
		b.Subscribe(func(context.Context, types.Event) {})
	})
	assert.NotPanics(t, func() {
		b.Publish(context.Background(), types.NewSystemEvent(types.SystemPayload{Kind: "x"}))
	})
	assert.Equal(t, 2, b.SubscriberCount())
}
