package worldrt

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworld-dev/runtime/pkg/llmprovider"
	"github.com/agentworld-dev/runtime/pkg/llmqueue"
	"github.com/agentworld-dev/runtime/pkg/runtimeconfig"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// fakeLLMClient drives the processor without a provider: it replays the
// configured chunks through OnChunk when streaming, then returns final.
type fakeLLMClient struct {
	chunks []string
	final  llmprovider.Response
}

func (f *fakeLLMClient) Generate(ctx context.Context, req llmprovider.Request) (llmprovider.Response, error) {
	if req.Stream && req.OnChunk != nil {
		for _, c := range f.chunks {
			req.OnChunk(c)
		}
	}
	return f.final, nil
}

func TestProcessor_StreamingPublishesSSELifecycle(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	queue := llmqueue.New[llmprovider.Response](runtimeconfig.QueueConfig{
		MaxQueueSize:      10,
		ProcessingTimeout: 5 * time.Second,
		WarningThreshold:  0.5,
	})
	defer queue.Close()

	router := &llmprovider.Router{
		OpenAICompatible: &fakeLLMClient{
			chunks: []string{"Hel", "lo"},
			final: llmprovider.Response{
				Kind:    llmprovider.ResponseText,
				Content: "Hello",
				Usage:   &types.Usage{InputTokens: 3, OutputTokens: 2},
			},
		},
	}
	p := NewProcessor(r, queue, router, r.registry)
	p.Streaming = true
	r.AttachProcessor(p)

	w, err := r.CreateWorld(ctx, CreateWorldParams{
		Name:            "Stream World",
		MainAgent:       "bot",
		ChatLLMProvider: "openai",
		ChatLLMModel:    "test-model",
	})
	require.NoError(t, err)
	_, err = r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Bot", Provider: "openai", Model: "test-model"})
	require.NoError(t, err)

	st, err := r.resolve(ctx, w.ID)
	require.NoError(t, err)

	events := make(chan types.Event, 64)
	st.bus.Subscribe(func(ctx context.Context, ev types.Event) {
		select {
		case events <- ev:
		default:
		}
	})

	_, err = r.PublishMessage(ctx, w.ID, w.CurrentChatID, "hi there", "human")
	require.NoError(t, err)

	var sseTypes []types.SSEType
	var sseIDs []string
	var chunkContent string
	var reply *types.MessagePayload

	deadline := time.After(3 * time.Second)
	for reply == nil {
		select {
		case ev := <-events:
			switch ev.Kind {
			case types.EventSSE:
				sseTypes = append(sseTypes, ev.SSE.Type)
				sseIDs = append(sseIDs, ev.SSE.MessageID)
				if ev.SSE.Type == types.SSEChunk {
					chunkContent += ev.SSE.Content
				}
			case types.EventMessage:
				if ev.Message.Sender == "bot" {
					reply = ev.Message
				}
			}
		case <-deadline:
			t.Fatal("timed out waiting for the streamed agent reply")
		}
	}

	require.NotEmpty(t, sseTypes)
	assert.Equal(t, types.SSEStart, sseTypes[0])
	assert.Equal(t, types.SSEEnd, sseTypes[len(sseTypes)-1])
	assert.Equal(t, "Hello", chunkContent)
	assert.Equal(t, "Hello", reply.Content)

	// Every sse event and the persisted reply share one message id.
	for _, id := range sseIDs {
		assert.Equal(t, reply.MessageID, id)
	}

	a, err := r.GetAgent(ctx, w.ID, "bot")
	require.NoError(t, err)
	assert.Equal(t, 1, a.LLMCallCount)
}

// Two agents mentioned in one message must both get their turn: the
// second is processed after the first releases the world's processing
// slot, not dropped in a race for it.
func TestProcessor_TwoMentionedAgentsBothRespond(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	queue := llmqueue.New[llmprovider.Response](runtimeconfig.QueueConfig{
		MaxQueueSize:      10,
		ProcessingTimeout: 5 * time.Second,
		WarningThreshold:  0.5,
	})
	defer queue.Close()

	router := &llmprovider.Router{
		OpenAICompatible: &fakeLLMClient{
			final: llmprovider.Response{Kind: llmprovider.ResponseText, Content: "on it"},
		},
	}
	p := NewProcessor(r, queue, router, r.registry)
	r.AttachProcessor(p)

	w, err := r.CreateWorld(ctx, CreateWorldParams{Name: "Pair"})
	require.NoError(t, err)
	noAuto := false
	for _, name := range []string{"Alpha", "Beta"} {
		_, err = r.CreateAgent(ctx, w.ID, CreateAgentParams{
			Name: name, Provider: "openai", Model: "m", AutoReply: &noAuto,
		})
		require.NoError(t, err)
	}

	st, err := r.resolve(ctx, w.ID)
	require.NoError(t, err)

	replies := make(chan string, 8)
	st.bus.Subscribe(func(ctx context.Context, ev types.Event) {
		if ev.Kind == types.EventMessage && ev.Message.Sender != "human" {
			replies <- ev.Message.Sender
		}
	})

	_, err = r.PublishMessage(ctx, w.ID, w.CurrentChatID, "@alpha @beta please report in", "human")
	require.NoError(t, err)

	responded := map[string]bool{}
	deadline := time.After(3 * time.Second)
	for len(responded) < 2 {
		select {
		case sender := <-replies:
			responded[sender] = true
		case <-deadline:
			t.Fatalf("timed out; only %v responded", responded)
		}
	}
	assert.True(t, responded["alpha"])
	assert.True(t, responded["beta"])

	for _, agentID := range []string{"alpha", "beta"} {
		a, err := r.GetAgent(ctx, w.ID, agentID)
		require.NoError(t, err)
		assert.Equal(t, 1, a.LLMCallCount, agentID)
	}
}

func TestProcessor_TurnLimitStopsDispatch(t *testing.T) {
	r := newTestRuntime(t)
	ctx := context.Background()

	queue := llmqueue.New[llmprovider.Response](runtimeconfig.QueueConfig{
		MaxQueueSize:      10,
		ProcessingTimeout: 5 * time.Second,
		WarningThreshold:  0.5,
	})
	defer queue.Close()

	router := &llmprovider.Router{
		OpenAICompatible: &fakeLLMClient{
			final: llmprovider.Response{Kind: llmprovider.ResponseText, Content: "reply"},
		},
	}
	p := NewProcessor(r, queue, router, r.registry)
	r.AttachProcessor(p)

	w, err := r.CreateWorld(ctx, CreateWorldParams{Name: "Limited", MainAgent: "bot", TurnLimit: 1})
	require.NoError(t, err)
	_, err = r.CreateAgent(ctx, w.ID, CreateAgentParams{Name: "Bot", Provider: "openai", Model: "m"})
	require.NoError(t, err)

	st, err := r.resolve(ctx, w.ID)
	require.NoError(t, err)
	st.mu.Lock()
	st.agents["bot"].LLMCallCount = 1 // world turn budget already spent
	st.mu.Unlock()

	_, err = r.PublishMessage(ctx, w.ID, w.CurrentChatID, "hi", "human")
	require.NoError(t, err)

	time.Sleep(200 * time.Millisecond)
	a, err := r.GetAgent(ctx, w.ID, "bot")
	require.NoError(t, err)
	assert.Equal(t, 1, a.LLMCallCount, "no further llm call may be made at the turn limit")
}
