package providers

import (
	"context"
	"fmt"

	"kbqa/config"

	clc "github.com/cloudwego/eino-ext/callbacks/cozeloop"
	openaiEmbed "github.com/cloudwego/eino-ext/components/embedding/openai"
	geminiModel "github.com/cloudwego/eino-ext/components/model/gemini"
	openaiModel "github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino-ext/components/model/qwen"
	"github.com/cloudwego/eino/callbacks"
	einoEmbedding "github.com/cloudwego/eino/components/embedding"
	"github.com/cloudwego/eino/components/model"
	"github.com/coze-dev/cozeloop-go"
	"google.golang.org/genai"
)

const (
	defaultQwenBaseURL = "https://dashscope.aliyuncs.com/compatible-mode/v1"
	defaultQwenModel   = "qwen-plus"
	defaultGeminiModel = "gemini-2.5-flash"
)

// NewChatModel creates the chat model selected by cfg.Provider.
//   - openai: any OpenAI-compatible endpoint (Ollama, Zhipu, OpenAI)
//   - qwen: DashScope
//   - gemini: Google Gemini
func NewChatModel(ctx context.Context, cfg config.ChatConfig) (model.ToolCallingChatModel, error) {
	switch cfg.Provider {
	case config.ProviderOpenAI, "":
		return newOpenAIChatModel(ctx, cfg)
	case config.ProviderQwen:
		return newQwenChatModel(ctx, cfg)
	case config.ProviderGemini:
		return newGeminiChatModel(ctx, cfg)
	default:
		return nil, fmt.Errorf("unknown chat provider %q", cfg.Provider)
	}
}

func newOpenAIChatModel(ctx context.Context, cfg config.ChatConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for provider %s", config.ProviderOpenAI)
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("model name is required for provider %s", config.ProviderOpenAI)
	}

	return openaiModel.NewChatModel(ctx, &openaiModel.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
}

func newQwenChatModel(ctx context.Context, cfg config.ChatConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for provider %s", config.ProviderQwen)
	}

	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultQwenBaseURL
	}
	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultQwenModel
	}

	return qwen.NewChatModel(ctx, &qwen.ChatModelConfig{
		APIKey:  cfg.APIKey,
		BaseURL: baseURL,
		Model:   modelName,
	})
}

func newGeminiChatModel(ctx context.Context, cfg config.ChatConfig) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("API key is required for provider %s", config.ProviderGemini)
	}

	modelName := cfg.Model
	if modelName == "" {
		modelName = defaultGeminiModel
	}

	client, err := genai.NewClient(ctx, &genai.ClientConfig{
		APIKey: cfg.APIKey,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create genai client: %w", err)
	}

	return geminiModel.NewChatModel(ctx, &geminiModel.Config{
		Client: client,
		Model:  modelName,
	})
}

// NewEmbeddingModel creates an OpenAI-compatible embedding model.
func NewEmbeddingModel(ctx context.Context, cfg config.EmbeddingConfig) (einoEmbedding.Embedder, error) {
	if cfg.APIKey == "" {
		return nil, fmt.Errorf("embedding API key is required")
	}
	if cfg.Model == "" {
		return nil, fmt.Errorf("embedding model name is required")
	}

	return openaiEmbed.NewEmbedder(ctx, &openaiEmbed.EmbeddingConfig{
		APIKey:  cfg.APIKey,
		BaseURL: cfg.BaseURL,
		Model:   cfg.Model,
	})
}

// SetupTracing registers the CozeLoop handler for every eino component when
// a token and workspace are configured. The returned func flushes and closes
// the client; it is a no-op when tracing is off.
func SetupTracing(ctx context.Context, cfg config.TraceConfig) (func(context.Context), error) {
	if cfg.CozeLoopAPIToken == "" || cfg.CozeLoopWorkspaceID == "" {
		return func(context.Context) {}, nil
	}

	client, err := cozeloop.NewClient(
		cozeloop.WithAPIToken(cfg.CozeLoopAPIToken),
		cozeloop.WithWorkspaceID(cfg.CozeLoopWorkspaceID),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create cozeloop client: %w", err)
	}

	callbacks.AppendGlobalHandlers(clc.NewLoopHandler(client))
	return func(ctx context.Context) { client.Close(ctx) }, nil
}
