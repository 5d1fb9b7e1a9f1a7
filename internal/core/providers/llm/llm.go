package llm

import (
	"context"
	"fmt"
	"strings"
	"time"

	"murasame-server-go/internal/domain/eventbus"
)

// Message 单条对话消息
type Message struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// Request 一次聊天补全请求。Prompt 非空由调用方保证。
type Request struct {
	Prompt  string
	History []Message
	Model   string
}

// Result 聊天补全结果：回复文本与追加了assistant轮次的新历史。
type Result struct {
	ReplyText string
	History   []Message
}

// Config LLM配置结构
type Config struct {
	Name      string        `yaml:"name"` // LLM提供者名称
	Type      string        `yaml:"type"`
	ModelName string        `yaml:"model_name"`
	BaseURL   string        `yaml:"base_url,omitempty"`
	APIKey    string        `yaml:"api_key,omitempty"`
	MaxTokens int           `yaml:"max_tokens,omitempty"`
	Timeout   time.Duration `yaml:"timeout,omitempty"`
}

// Provider LLM提供者接口。Complete 单次调用、不重试，
// 后端不可达/出错交由调用方决定是否降级。
type Provider interface {
	Complete(ctx context.Context, req Request) (*Result, error)
	Initialize() error
	Cleanup() error
}

// BaseProvider LLM基础实现
type BaseProvider struct {
	config *Config
}

// NewBaseProvider 创建LLM基础提供者
func NewBaseProvider(config *Config) *BaseProvider {
	return &BaseProvider{config: config}
}

// Config 获取配置
func (p *BaseProvider) Config() *Config {
	return p.config
}

// Initialize 初始化提供者
func (p *BaseProvider) Initialize() error {
	return nil
}

// Cleanup 清理资源
func (p *BaseProvider) Cleanup() error {
	return nil
}

// PublishChatCompleted 发布聊天完成事件
func (p *BaseProvider) PublishChatCompleted(prompt, reply string, spent time.Duration) {
	eventbus.Publish(eventbus.EventChatCompleted, eventbus.ChatEventData{
		Prompt:    prompt,
		Reply:     reply,
		Model:     p.config.ModelName,
		SpentTime: spent.String(),
	})
}

// PublishChatError 发布聊天错误事件
func (p *BaseProvider) PublishChatError(err error) {
	eventbus.Publish(eventbus.EventChatError, eventbus.SystemEventData{
		Level:   "error",
		Message: fmt.Sprintf("LLM error: %v", err),
	})
}

// StripThinkTags 去掉推理模型输出中的<think>…</think>片段。
// qwen3 之类的模型会把思考过程混进回复，念出来会很怪。
func StripThinkTags(text string) string {
	for {
		start := strings.Index(text, "<think>")
		if start < 0 {
			break
		}
		end := strings.Index(text[start:], "</think>")
		if end < 0 {
			text = text[:start]
			break
		}
		text = text[:start] + text[start+end+len("</think>"):]
	}
	return strings.TrimSpace(text)
}

// Factory LLM工厂函数类型
type Factory func(config *Config) (Provider, error)

var factories = make(map[string]Factory)

// Register 注册LLM提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建LLM提供者实例
func Create(name string, config *Config) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的LLM提供者: %s", name)
	}

	provider, err := factory(config)
	if err != nil {
		return nil, fmt.Errorf("创建LLM提供者失败: %v", err)
	}

	return provider, nil
}
