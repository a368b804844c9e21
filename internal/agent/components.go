package agent

import (
	"context"
	"fmt"

	"github.com/cloudwego/eino-ext/components/model/ark"
	"github.com/cloudwego/eino-ext/components/model/openai"
	"github.com/cloudwego/eino/components/model"
	arkmodel "github.com/volcengine/volcengine-go-sdk/service/arkruntime/model"

	"github.com/finlearnhub/supportdesk/internal/config"
)

const defaultArkBaseURL = "https://ark.cn-beijing.volces.com/api/v3"

// NewChatModel 按 provider 初始化支持工具绑定的 ChatModel
func NewChatModel(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) {
	return newChatModel(ctx, cfg, false)
}

// NewClassifierModel 初始化前台分类用的模型，响应被约束为 JSON 对象
func NewClassifierModel(ctx context.Context, cfg config.ModelConfig) (model.ToolCallingChatModel, error) {
	return newChatModel(ctx, cfg, true)
}

func newChatModel(ctx context.Context, cfg config.ModelConfig, jsonOnly bool) (model.ToolCallingChatModel, error) {
	if cfg.APIKey == "" || cfg.ModelID == "" {
		return nil, fmt.Errorf("model api key and model id must be set")
	}

	switch cfg.Provider {
	case config.ProviderArk, "":
		cm, err := ark.NewChatModel(ctx, arkConfig(cfg, jsonOnly))
		if err != nil {
			return nil, fmt.Errorf("init ark chat model: %w", err)
		}
		return cm, nil
	case config.ProviderOpenAI:
		cm, err := openai.NewChatModel(ctx, openaiConfig(cfg, jsonOnly))
		if err != nil {
			return nil, fmt.Errorf("init openai chat model: %w", err)
		}
		return cm, nil
	default:
		return nil, fmt.Errorf("unsupported model provider %q", cfg.Provider)
	}
}

func temperatureOf(cfg config.ModelConfig) *float32 {
	if cfg.Temperature <= 0 {
		return nil
	}
	t := cfg.Temperature
	return &t
}

func arkConfig(cfg config.ModelConfig, jsonOnly bool) *ark.ChatModelConfig {
	baseURL := cfg.BaseURL
	if baseURL == "" {
		baseURL = defaultArkBaseURL
	}
	c := &ark.ChatModelConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.ModelID,
		BaseURL:     baseURL,
		Temperature: temperatureOf(cfg),
	}
	if jsonOnly {
		c.ResponseFormat = &ark.ResponseFormat{Type: arkmodel.ResponseFormatJsonObject}
	}
	return c
}

// openaiConfig 兼容任意 OpenAI 协议的服务（如 Groq），BaseURL 为空时走官方地址
func openaiConfig(cfg config.ModelConfig, jsonOnly bool) *openai.ChatModelConfig {
	c := &openai.ChatModelConfig{
		APIKey:      cfg.APIKey,
		Model:       cfg.ModelID,
		BaseURL:     cfg.BaseURL,
		Temperature: temperatureOf(cfg),
	}
	if jsonOnly {
		c.ResponseFormat = &openai.ChatCompletionResponseFormat{Type: openai.ChatCompletionResponseFormatTypeJSONObject}
	}
	return c
}
