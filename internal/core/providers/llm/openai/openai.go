package openai

import (
	"context"
	"time"

	"github.com/sashabaranov/go-openai"

	"murasame-server-go/internal/core/providers/llm"
	platformerrors "murasame-server-go/internal/platform/errors"
)

// Provider OpenAI兼容接口提供者，也可对接Ollama的/v1端点
type Provider struct {
	*llm.BaseProvider
	client    *openai.Client
	maxTokens int
}

// 注册提供者
func init() {
	llm.Register("openai", NewProvider)
}

// NewProvider 创建OpenAI提供者
func NewProvider(config *llm.Config) (llm.Provider, error) {
	provider := &Provider{
		BaseProvider: llm.NewBaseProvider(config),
		maxTokens:    config.MaxTokens,
	}
	if provider.maxTokens <= 0 {
		provider.maxTokens = 500
	}

	return provider, nil
}

// Initialize 初始化提供者
func (p *Provider) Initialize() error {
	config := p.Config()
	if config.APIKey == "" {
		return platformerrors.New(platformerrors.KindConfig, "openai:init",
			"missing OpenAI API key")
	}

	clientConfig := openai.DefaultConfig(config.APIKey)
	if config.BaseURL != "" {
		clientConfig.BaseURL = config.BaseURL
	}

	p.client = openai.NewClientWithConfig(clientConfig)
	return nil
}

// Complete llm.Provider接口实现
func (p *Provider) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	model := req.Model
	if model == "" {
		model = p.Config().ModelName
	}

	messages := append(append([]llm.Message{}, req.History...), llm.Message{
		Role:    "user",
		Content: req.Prompt,
	})

	chatMessages := make([]openai.ChatCompletionMessage, len(messages))
	for i, msg := range messages {
		chatMessages[i] = openai.ChatCompletionMessage{
			Role:    msg.Role,
			Content: msg.Content,
		}
	}

	start := time.Now()
	resp, err := p.client.CreateChatCompletion(
		ctx,
		openai.ChatCompletionRequest{
			Model:     model,
			Messages:  chatMessages,
			MaxTokens: p.maxTokens,
		},
	)
	if err != nil {
		wrapped := platformerrors.Wrap(platformerrors.KindUpstream, "openai:complete",
			"聊天后端调用失败", err)
		p.PublishChatError(wrapped)
		return nil, wrapped
	}

	if len(resp.Choices) == 0 {
		return nil, platformerrors.New(platformerrors.KindProtocol, "openai:complete",
			"聊天响应缺少choices")
	}

	reply := llm.StripThinkTags(resp.Choices[0].Message.Content)
	if reply == "" {
		return nil, platformerrors.New(platformerrors.KindProtocol, "openai:complete",
			"聊天响应缺少回复内容")
	}

	p.PublishChatCompleted(req.Prompt, reply, time.Since(start))

	return &llm.Result{
		ReplyText: reply,
		History: append(messages, llm.Message{
			Role:    "assistant",
			Content: reply,
		}),
	}, nil
}
