package ollama

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"time"

	"murasame-server-go/internal/core/providers/llm"
	platformerrors "murasame-server-go/internal/platform/errors"
)

// Provider Ollama原生/api/chat提供者
type Provider struct {
	*llm.BaseProvider
	client  *http.Client
	baseURL string
}

// 注册提供者
func init() {
	llm.Register("ollama", NewProvider)
}

// NewProvider 创建Ollama提供者
func NewProvider(config *llm.Config) (llm.Provider, error) {
	if config.BaseURL == "" {
		config.BaseURL = "http://127.0.0.1:11434"
	}
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &Provider{
		BaseProvider: llm.NewBaseProvider(config),
		client:       &http.Client{Timeout: timeout},
		baseURL:      config.BaseURL,
	}, nil
}

type chatRequest struct {
	Model    string        `json:"model"`
	Messages []llm.Message `json:"messages"`
	Stream   bool          `json:"stream"`
}

// chatResponse 兼容Ollama原生与OpenAI风格两种返回体
type chatResponse struct {
	Message *llm.Message `json:"message,omitempty"`
	Choices []struct {
		Message llm.Message `json:"message"`
	} `json:"choices,omitempty"`
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

	payload, err := json.Marshal(chatRequest{
		Model:    model,
		Messages: messages,
		Stream:   false,
	})
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProtocol, "ollama:marshal",
			"编码聊天请求失败", err)
	}

	start := time.Now()
	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.baseURL+"/api/chat", bytes.NewReader(payload))
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindUpstream, "ollama:request",
			"构造聊天请求失败", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")

	resp, err := p.client.Do(httpReq)
	if err != nil {
		wrapped := platformerrors.Wrap(platformerrors.KindUpstream, "ollama:complete",
			"聊天后端不可达", err)
		p.PublishChatError(wrapped)
		return nil, wrapped
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		wrapped := platformerrors.New(platformerrors.KindUpstream, "ollama:complete",
			fmt.Sprintf("聊天后端返回 %d", resp.StatusCode))
		p.PublishChatError(wrapped)
		return nil, wrapped
	}

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProtocol, "ollama:read",
			"读取聊天响应失败", err)
	}

	var parsed chatResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProtocol, "ollama:decode",
			"解析聊天响应失败", err)
	}

	reply := ""
	switch {
	case parsed.Message != nil:
		reply = parsed.Message.Content
	case len(parsed.Choices) > 0:
		reply = parsed.Choices[0].Message.Content
	}
	reply = llm.StripThinkTags(reply)
	if reply == "" {
		return nil, platformerrors.New(platformerrors.KindProtocol, "ollama:decode",
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
