package worldrt

import (
	"context"
	"sync"

	"github.com/agentworld-dev/runtime/pkg/types"
)

// WorldOption is one selectable choice in a human-in-the-loop approval
// prompt.
type WorldOption struct {
	ID          string
	Label       string
	Description string
}

// OptionRequest is the payload the core hands to the approval channel.
type OptionRequest struct {
	Title           string
	Message         string
	ChatID          string
	DefaultOptionID string
	Options         []WorldOption
	Metadata        map[string]any
}

// OptionResponse carries the option the human selected.
type OptionResponse struct {
	OptionID string
}

// OptionRequester is the external approval channel: the runtime asks it
// for an option and receives the selected option id, assuming nothing
// further about how the prompt is presented.
type OptionRequester interface {
	RequestWorldOption(ctx context.Context, world types.World, req OptionRequest) (OptionResponse, error)
}

// ApprovalService memoizes approval decisions per (chatId, skillId)
// within one world, so a skill approved once in a chat is not re-prompted
// for every subsequent invocation in that session. One service per world.
type ApprovalService struct {
	mu        sync.Mutex
	requester OptionRequester
	decisions map[string]OptionResponse // chatID + "/" + skillID
}

// NewApprovalService constructs a service backed by requester. A nil
// requester is allowed; Request then fails for uncached decisions.
func NewApprovalService(requester OptionRequester) *ApprovalService {
	return &ApprovalService{
		requester: requester,
		decisions: make(map[string]OptionResponse),
	}
}

func approvalKey(chatID, skillID string) string {
	return chatID + "/" + skillID
}

// Request returns the memoized decision for (req.ChatID, skillID) if one
// exists, otherwise prompts through the approval channel and caches the
// answer. Errors from the channel are not cached: a failed prompt is
// re-asked on the next invocation.
func (s *ApprovalService) Request(ctx context.Context, world types.World, skillID string, req OptionRequest) (OptionResponse, error) {
	key := approvalKey(req.ChatID, skillID)

	s.mu.Lock()
	if resp, ok := s.decisions[key]; ok {
		s.mu.Unlock()
		return resp, nil
	}
	requester := s.requester
	s.mu.Unlock()

	if requester == nil {
		return OptionResponse{}, types.NewError(types.ErrConfigParseError, "no approval channel configured")
	}

	resp, err := requester.RequestWorldOption(ctx, world, req)
	if err != nil {
		return OptionResponse{}, err
	}

	s.mu.Lock()
	s.decisions[key] = resp
	s.mu.Unlock()
	return resp, nil
}

// ForgetChat drops every memoized decision for chatID, called when a
// chat's history is rewritten (message edit) or the chat is deleted, so
// stale approvals do not survive a context the human no longer sees.
func (s *ApprovalService) ForgetChat(chatID string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for key := range s.decisions {
		if len(key) > len(chatID) && key[:len(chatID)] == chatID && key[len(chatID)] == '/' {
			delete(s.decisions, key)
		}
	}
}
