package llmprovider

import (
	"context"

	"github.com/agentworld-dev/runtime/pkg/types"
)

// Router holds one constructed Client per provider partition, wired at
// process start. A nil slot means that partition has no configured
// client; dispatch to it fails with ProviderError rather than a
// nil-pointer panic.
type Router struct {
	Anthropic        Client
	OpenAICompatible Client
	Google           Client
}

// Generate classifies providerName into its partition and forwards req
// to the matching configured Client.
func (r *Router) Generate(ctx context.Context, providerName string, req Request) (Response, error) {
	group, err := ClassifyProvider(providerName)
	if err != nil {
		return Response{}, err
	}

	var client Client
	switch group {
	case GroupAnthropic:
		client = r.Anthropic
	case GroupOpenAICompatible:
		client = r.OpenAICompatible
	case GroupGoogle:
		client = r.Google
	}
	if client == nil {
		return Response{}, types.NewError(types.ErrProviderError, "no client configured for provider: "+providerName)
	}
	return client.Generate(ctx, req)
}
