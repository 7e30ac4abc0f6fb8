package llmprovider

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/agentworld-dev/runtime/pkg/types"
)

func TestClassifyProvider(t *testing.T) {
	cases := map[string]ProviderGroup{
		"openai":            GroupOpenAICompatible,
		"azure":             GroupOpenAICompatible,
		"openai-compatible": GroupOpenAICompatible,
		"xai":               GroupOpenAICompatible,
		"ollama":            GroupOpenAICompatible,
		"anthropic":         GroupAnthropic,
		"google":            GroupGoogle,
	}
	for name, want := range cases {
		got, err := ClassifyProvider(name)
		require.NoError(t, err)
		assert.Equal(t, want, got)
	}
}

func TestClassifyProvider_Unsupported(t *testing.T) {
	_, err := ClassifyProvider("unknown-provider")
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrUnsupportedProvider))
}

type stubClient struct {
	resp Response
	err  error
	got  Request
}

func (s *stubClient) Generate(ctx context.Context, req Request) (Response, error) {
	s.got = req
	return s.resp, s.err
}

func TestRouter_Generate_DispatchesToConfiguredPartition(t *testing.T) {
	anthropicClient := &stubClient{resp: Response{Kind: ResponseText, Content: "hi"}}
	router := &Router{Anthropic: anthropicClient}

	resp, err := router.Generate(context.Background(), "anthropic", Request{Model: "claude"})
	require.NoError(t, err)
	assert.Equal(t, "hi", resp.Content)
	assert.Equal(t, "claude", anthropicClient.got.Model)
}

func TestRouter_Generate_MissingClient(t *testing.T) {
	router := &Router{}
	_, err := router.Generate(context.Background(), "google", Request{})
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrProviderError))
}

func TestRouter_Generate_UnsupportedProvider(t *testing.T) {
	router := &Router{}
	_, err := router.Generate(context.Background(), "bogus", Request{})
	require.Error(t, err)
	assert.True(t, types.Is(err, types.ErrUnsupportedProvider))
}
