package tts

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"time"

	"murasame-server-go/internal/core/synth"
	"murasame-server-go/internal/domain/eventbus"
	platformerrors "murasame-server-go/internal/platform/errors"
	"murasame-server-go/internal/platform/storage"
	"murasame-server-go/internal/utils"
)

// Config TTS配置结构
type Config struct {
	Name        string  `yaml:"name"` // TTS提供者名称
	Type        string  `yaml:"type"`
	Endpoint    string  `yaml:"endpoint,omitempty"`
	Voice       string  `yaml:"voice,omitempty"`
	Speaker     int     `yaml:"speaker,omitempty"`
	SampleRate  int     `yaml:"sample_rate,omitempty"`
	MinWavBytes int64   `yaml:"min_wav_bytes,omitempty"`
	MockFreq    float64 `yaml:"mock_freq,omitempty"`
	MockSeconds float64 `yaml:"mock_seconds,omitempty"`
}

// Result 一次合成的结果。真实后端与mock保底统一为同一种产物：
// 可解析的WAV引用。IsMock 显式区分两种变体。
type Result struct {
	Ref     storage.Ref
	IsMock  bool
	Backend string
}

// Provider 真实语音后端接口。只负责“文本进、WAV字节出”，
// 落盘与mock回退由Manager统一处理。
type Provider interface {
	Synthesize(ctx context.Context, text string) ([]byte, error)
	Available(ctx context.Context) bool
	Initialize() error
	Cleanup() error
}

// BaseProvider TTS基础实现
type BaseProvider struct {
	config *Config
}

// NewBaseProvider 创建TTS基础提供者
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

// Factory TTS工厂函数类型
type Factory func(config *Config, logger *utils.Logger) (Provider, error)

var factories = make(map[string]Factory)

// Register 注册TTS提供者工厂
func Register(name string, factory Factory) {
	factories[name] = factory
}

// Create 创建TTS提供者实例
func Create(name string, config *Config, logger *utils.Logger) (Provider, error) {
	factory, ok := factories[name]
	if !ok {
		return nil, fmt.Errorf("未知的TTS提供者: %s", name)
	}

	provider, err := factory(config, logger)
	if err != nil {
		return nil, fmt.Errorf("创建TTS提供者失败: %v", err)
	}

	return provider, nil
}

// ManagerOptions Manager构造参数
type ManagerOptions struct {
	Provider    Provider // 可为nil：纯mock模式
	Store       storage.Store
	Logger      *utils.Logger
	MinWavBytes int64
	MockFreq    float64
	MockDur     time.Duration
	SampleRate  int
}

// Manager 语音合成适配器：优先真实后端，任何失败都回退到
// 本地正弦波mock，保证调用方总能拿到可播放产物。
// 唯一的致命错误是产物写不进存储。
type Manager struct {
	provider    Provider
	store       storage.Store
	logger      *utils.Logger
	minWavBytes int64
	mockFreq    float64
	mockDur     time.Duration
	sampleRate  int
}

// NewManager 创建合成管理器
func NewManager(opts ManagerOptions) (*Manager, error) {
	if opts.Store == nil {
		return nil, platformerrors.New(platformerrors.KindBootstrap, "tts:new-manager",
			"artifact store is required")
	}
	m := &Manager{
		provider:    opts.Provider,
		store:       opts.Store,
		logger:      opts.Logger,
		minWavBytes: opts.MinWavBytes,
		mockFreq:    opts.MockFreq,
		mockDur:     opts.MockDur,
		sampleRate:  opts.SampleRate,
	}
	if m.minWavBytes <= 0 {
		m.minWavBytes = 20480 // 小于20KB视为“有檔無聲”
	}
	if m.mockFreq <= 0 {
		m.mockFreq = 440.0
	}
	if m.mockDur <= 0 {
		m.mockDur = 1200 * time.Millisecond
	}
	if m.sampleRate <= 0 {
		m.sampleRate = 24000
	}
	return m, nil
}

// HashName 以文本内容生成产物逻辑名，相同文本复用同一产物。
func HashName(text, suffix string) string {
	sum := md5.Sum([]byte(text))
	return hex.EncodeToString(sum[:]) + suffix + ".wav"
}

// Synthesize 合成一段语音。text 为空时拒绝。
func (m *Manager) Synthesize(ctx context.Context, text string) (*Result, error) {
	if text == "" {
		return nil, platformerrors.New(platformerrors.KindInvalidInput, "tts:synthesize",
			"text is empty")
	}

	name := HashName(text, "")

	// 命中快取（达到最小体积视为正常语音）
	if ref, size, ok := m.store.Lookup(name); ok && size >= m.minWavBytes {
		m.logger.InfoTag("TTS", "快取命中: %s", name)
		return &Result{Ref: ref, IsMock: false, Backend: "cache"}, nil
	}

	if m.provider != nil && m.provider.Available(ctx) {
		data, err := m.provider.Synthesize(ctx, text)
		if err == nil && int64(len(data)) >= m.minWavBytes {
			ref, werr := m.store.Write(name, data)
			if werr != nil {
				return nil, werr
			}
			m.publishCompleted(text, false, ref)
			return &Result{Ref: ref, IsMock: false, Backend: m.backendName()}, nil
		}
		if err != nil {
			m.logger.WarnTag("TTS", "后端合成失败，回退mock: %v", err)
		} else {
			m.logger.WarnTag("TTS", "后端产物过小（%d 字节），回退mock", len(data))
		}
	}

	return m.mockFallback(text)
}

// mockFallback 生成保底正弦波。除存储故障外不失败。
func (m *Manager) mockFallback(text string) (*Result, error) {
	data, err := synth.Tone(m.mockFreq, m.mockDur, m.sampleRate)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindSynthesis, "tts:mock",
			"生成mock波形失败", err)
	}

	name := HashName(text, "_mock")
	ref, err := m.store.Write(name, data)
	if err != nil {
		return nil, err
	}

	m.publishFallback(text, ref)
	m.logger.InfoTag("TTS", "mock产物已生成: %s", name)
	return &Result{Ref: ref, IsMock: true, Backend: "mock"}, nil
}

// Available 懒查询真实后端可用性，不维护全局状态。
func (m *Manager) Available(ctx context.Context) bool {
	return m.provider != nil && m.provider.Available(ctx)
}

func (m *Manager) backendName() string {
	if m.provider == nil {
		return "mock"
	}
	if cfg, ok := m.provider.(interface{ Config() *Config }); ok && cfg.Config() != nil && cfg.Config().Type != "" {
		return cfg.Config().Type
	}
	return "backend"
}

func (m *Manager) publishCompleted(text string, isMock bool, ref storage.Ref) {
	eventbus.Publish(eventbus.EventTTSCompleted, eventbus.TTSEventData{
		Text:     text,
		Backend:  m.backendName(),
		IsMock:   isMock,
		FilePath: string(ref),
	})
}

func (m *Manager) publishFallback(text string, ref storage.Ref) {
	eventbus.Publish(eventbus.EventTTSFallback, eventbus.TTSEventData{
		Text:     text,
		Backend:  "mock",
		IsMock:   true,
		FilePath: string(ref),
	})
}
