package services

import (
	"context"
	"time"

	"murasame-server-go/internal/core/providers/llm"
	platformerrors "murasame-server-go/internal/platform/errors"
	"murasame-server-go/internal/utils"
)

// ChatService 聊天编排：对LLM提供者做输入校验与超时控制。
// 后端失败原样上抛，由调用方决定是否降级。
type ChatService struct {
	provider llm.Provider
	logger   *utils.Logger
	timeout  time.Duration
}

// ChatConfig 聊天服务配置
type ChatConfig struct {
	Provider llm.Provider
	Logger   *utils.Logger
	Timeout  time.Duration
}

// NewChatService 创建聊天服务
func NewChatService(config *ChatConfig) *ChatService {
	timeout := config.Timeout
	if timeout <= 0 {
		timeout = 30 * time.Second
	}
	return &ChatService{
		provider: config.Provider,
		logger:   config.Logger,
		timeout:  timeout,
	}
}

// Complete 单次聊天补全。prompt 为空直接拒绝。
func (s *ChatService) Complete(ctx context.Context, prompt string, history []llm.Message, model string) (*llm.Result, error) {
	if prompt == "" {
		return nil, platformerrors.New(platformerrors.KindInvalidInput, "chat:complete",
			"prompt is empty")
	}
	if s.provider == nil {
		return nil, platformerrors.New(platformerrors.KindUpstream, "chat:complete",
			"没有可用的聊天提供者")
	}

	ctx, cancel := context.WithTimeout(ctx, s.timeout)
	defer cancel()

	start := time.Now()
	result, err := s.provider.Complete(ctx, llm.Request{
		Prompt:  prompt,
		History: history,
		Model:   model,
	})
	if err != nil {
		s.logger.ErrorTag("LLM", "聊天补全失败: %v", err)
		return nil, err
	}

	s.logger.InfoTag("LLM", "聊天补全完成，耗时 %v", time.Since(start))
	return result, nil
}
