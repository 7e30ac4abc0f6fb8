package worldrt

import (
	"context"
	"strings"

	"github.com/agentworld-dev/runtime/pkg/llmprovider"
	"github.com/agentworld-dev/runtime/pkg/logger"
	"github.com/agentworld-dev/runtime/pkg/types"
)

// titlePrompt asks for a short noun-phrase title; the model's reply is
// used verbatim after trimming, so the prompt forbids quoting and
// punctuation that would otherwise leak into the chat name.
const titlePrompt = "Generate a short title (at most five words) for a conversation that starts with the message below. Reply with the title only, no quotes or trailing punctuation.\n\n"

// maxTitleLength clamps a runaway model reply before it becomes a chat
// name.
const maxTitleLength = 60

// maybeGenerateTitle produces the chat-title-updated system event flow:
// when a human message lands in a chat still carrying the default
// reusable title, the world's chat LLM (world.chatLLMProvider/Model) is
// asked for a title, and the rename is applied through the CAS-style
// UpdateChatNameIfCurrent so a concurrent user rename always wins. The
// title call goes through the same global queue as agent responses, so
// it never jumps ahead of in-flight agent work.
func (p *Processor) maybeGenerateTitle(ctx context.Context, st *worldState, chatID, firstMessage string) {
	if p.queue == nil || p.router == nil {
		return
	}

	st.mu.Lock()
	worldID := st.world.ID
	provider := st.world.ChatLLMProvider
	model := st.world.ChatLLMModel
	chat, ok := st.chats[chatID]
	isDefault := ok && chat.Name == types.DefaultChatName
	st.mu.Unlock()

	if !isDefault || provider == "" || model == "" {
		return
	}

	log := logger.G(ctx).WithField("world_id", worldID).WithField("chat_id", chatID)

	req := llmprovider.Request{
		Model: model,
		Messages: []llmprovider.Message{
			{Role: types.RoleUser, Content: titlePrompt + firstMessage},
		},
		MaxTokens: 32,
	}
	fut, err := p.queue.Add(ctx, "", worldID, func(taskCtx context.Context) (llmprovider.Response, error) {
		return p.router.Generate(taskCtx, provider, req)
	})
	if err != nil {
		log.WithError(err).Debug("chat title generation not queued")
		return
	}
	resp, err := fut.Await(ctx)
	if err != nil {
		log.WithError(err).Debug("chat title generation failed")
		return
	}

	title := sanitizeTitle(resp.Content)
	if title == "" || title == types.DefaultChatName {
		return
	}

	applied, err := p.rt.UpdateChatNameIfCurrent(ctx, worldID, chatID, types.DefaultChatName, title)
	if err != nil {
		log.WithError(err).Warn("failed to apply generated chat title")
		return
	}
	if applied {
		log.WithField("title", title).Debug("chat title generated")
	}
}

// sanitizeTitle strips the quoting and trailing punctuation models add
// despite the prompt, collapses the reply to its first line, and clamps
// the length.
func sanitizeTitle(raw string) string {
	title := strings.TrimSpace(raw)
	if i := strings.IndexByte(title, '\n'); i >= 0 {
		title = strings.TrimSpace(title[:i])
	}
	title = strings.Trim(title, "\"'`")
	title = strings.TrimRight(title, ".!")
	if len(title) > maxTitleLength {
		title = strings.TrimSpace(title[:maxTitleLength])
	}
	return title
}
