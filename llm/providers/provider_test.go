package providers

import (
	"context"
	"testing"

	"kbqa/config"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewChatModel(t *testing.T) {
	ctx := context.Background()

	m, err := NewChatModel(ctx, config.Default().Chat)
	require.NoError(t, err)
	assert.NotNil(t, m)

	_, err = NewChatModel(ctx, config.ChatConfig{Provider: "nope", APIKey: "k"})
	assert.ErrorContains(t, err, "unknown chat provider")

	for _, provider := range []string{config.ProviderOpenAI, config.ProviderQwen, config.ProviderGemini} {
		_, err = NewChatModel(ctx, config.ChatConfig{Provider: provider, Model: "m"})
		assert.ErrorContains(t, err, "API key is required", provider)
	}
}

func TestNewEmbeddingModel(t *testing.T) {
	ctx := context.Background()

	e, err := NewEmbeddingModel(ctx, config.Default().Embedding)
	require.NoError(t, err)
	assert.NotNil(t, e)

	_, err = NewEmbeddingModel(ctx, config.EmbeddingConfig{Model: "m"})
	assert.Error(t, err)
	_, err = NewEmbeddingModel(ctx, config.EmbeddingConfig{APIKey: "k"})
	assert.Error(t, err)
}

func TestSetupTracingDisabled(t *testing.T) {
	closeFn, err := SetupTracing(context.Background(), config.TraceConfig{CozeLoopAPIToken: "only-token"})
	require.NoError(t, err)
	require.NotNil(t, closeFn)
	closeFn(context.Background())
}
