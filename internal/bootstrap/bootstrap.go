package bootstrap

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"murasame-server-go/internal/app/services"
	"murasame-server-go/internal/core/providers/llm"
	_ "murasame-server-go/internal/core/providers/llm/ollama"
	_ "murasame-server-go/internal/core/providers/llm/openai"
	"murasame-server-go/internal/core/providers/tts"
	_ "murasame-server-go/internal/core/providers/tts/edge"
	"murasame-server-go/internal/core/providers/tts/voicevox"
	"murasame-server-go/internal/domain/eventbus"
	platformconfig "murasame-server-go/internal/platform/config"
	platformerrors "murasame-server-go/internal/platform/errors"
	platformlogging "murasame-server-go/internal/platform/logging"
	platformstorage "murasame-server-go/internal/platform/storage"
	httptransport "murasame-server-go/internal/transport/http"
	"murasame-server-go/internal/utils"
)

type stepFn func(context.Context, *appState) error

type initStep struct {
	ID        string
	Title     string
	DependsOn []string
	Kind      platformerrors.Kind
	Execute   stepFn
}

type appState struct {
	config      *platformconfig.Config
	logProvider *platformlogging.Logger
	logger      *utils.Logger

	store       *platformstorage.DiskStore
	ttsProvider tts.Provider
	ttsManager  *tts.Manager
	llmProvider llm.Provider

	chatService   *services.ChatService
	speechService *services.SpeechService
}

// Run 启动整个服务生命周期，负责加载配置、初始化依赖和优雅关停。
func Run(ctx context.Context) error {
	state := &appState{}

	if err := executeInitSteps(ctx, InitGraph(), state); err != nil {
		return err
	}

	config := state.config
	logger := state.logger
	if config == nil || logger == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"bootstrap state validation",
			"config/logger not initialised",
		)
	}

	defer func() {
		if state.ttsProvider != nil {
			state.ttsProvider.Cleanup()
		}
		if state.llmProvider != nil {
			state.llmProvider.Cleanup()
		}
	}()

	rootCtx, cancel := context.WithCancel(ctx)
	defer cancel()

	signalCtx, stop := signal.NotifyContext(rootCtx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	group, groupCtx := errgroup.WithContext(rootCtx)

	if err := startHTTPServer(state, group, groupCtx); err != nil {
		cancel()
		return err
	}

	if err := waitForShutdown(signalCtx, cancel, logger, group); err != nil {
		return err
	}

	logger.InfoTag("引导", "服务已退出")
	logger.Close()
	return nil
}

// InitGraph 初始化步骤依赖图
func InitGraph() []initStep {
	return []initStep{
		{
			ID:      "config:load",
			Title:   "Load configuration",
			Kind:    platformerrors.KindConfig,
			Execute: loadConfigStep,
		},
		{
			ID:        "logging:init",
			Title:     "Initialise logging",
			DependsOn: []string{"config:load"},
			Execute:   initLoggingStep,
		},
		{
			ID:        "storage:init-voices",
			Title:     "Initialise artifact store",
			DependsOn: []string{"config:load"},
			Kind:      platformerrors.KindStorage,
			Execute:   initStorageStep,
		},
		{
			ID:        "providers:init-tts",
			Title:     "Initialise speech backend",
			DependsOn: []string{"config:load", "logging:init", "storage:init-voices"},
			Execute:   initTTSStep,
		},
		{
			ID:        "providers:init-llm",
			Title:     "Initialise chat backend",
			DependsOn: []string{"config:load", "logging:init"},
			Execute:   initLLMStep,
		},
		{
			ID:        "services:init",
			Title:     "Initialise services",
			DependsOn: []string{"providers:init-tts", "providers:init-llm"},
			Execute:   initServicesStep,
		},
		{
			ID:        "events:subscribe",
			Title:     "Subscribe event consumers",
			DependsOn: []string{"logging:init"},
			Execute:   subscribeEventsStep,
		},
	}
}

func executeInitSteps(ctx context.Context, steps []initStep, state *appState) error {
	if state == nil {
		return platformerrors.New(
			platformerrors.KindBootstrap,
			"execute init steps",
			"nil bootstrap state",
		)
	}

	completed := make(map[string]struct{}, len(steps))
	for _, step := range steps {
		for _, dep := range step.DependsOn {
			if _, ok := completed[dep]; !ok {
				return platformerrors.New(
					platformerrors.KindBootstrap,
					step.ID,
					fmt.Sprintf("dependency %s not satisfied", dep),
				)
			}
		}
		if step.Execute == nil {
			return platformerrors.New(
				platformerrors.KindBootstrap,
				step.ID,
				"missing execute function",
			)
		}
		if err := step.Execute(ctx, state); err != nil {
			var typed *platformerrors.Error
			if errors.As(err, &typed) {
				return err
			}

			kind := step.Kind
			if kind == "" {
				kind = platformerrors.KindBootstrap
			}
			return platformerrors.Wrap(kind, step.ID, "bootstrap step failed", err)
		}
		completed[step.ID] = struct{}{}
	}
	return nil
}

func loadConfigStep(ctx context.Context, state *appState) error {
	result, err := platformconfig.NewLoader().WithDotEnv(true).Load()
	if err != nil {
		return err
	}
	state.config = result.Config
	return nil
}

func initLoggingStep(ctx context.Context, state *appState) error {
	provider, err := platformlogging.New(platformlogging.Config{
		Level:    state.config.Log.Level,
		Dir:      state.config.Log.Dir,
		Filename: state.config.Log.File,
	})
	if err != nil {
		return err
	}
	state.logProvider = provider
	state.logger = provider.Tagged()
	return nil
}

func initStorageStep(ctx context.Context, state *appState) error {
	store, err := platformstorage.NewDiskStore(state.config.TTS.OutputDir)
	if err != nil {
		return err
	}
	state.store = store
	return nil
}

// initTTSStep 按配置创建语音后端。selected为mock时不建provider，
// Manager进入纯mock模式。
func initTTSStep(ctx context.Context, state *appState) error {
	cfg := state.config.TTS
	if cfg.Selected == "mock" {
		state.logger.WarnTag("TTS", "配置为纯mock模式，所有合成走正弦波保底")
	} else {
		providerCfg := &tts.Config{
			Name:        cfg.Selected,
			Type:        cfg.Selected,
			Endpoint:    cfg.Voicevox.Endpoint,
			Voice:       cfg.Edge.Voice,
			Speaker:     cfg.Voicevox.Speaker,
			SampleRate:  cfg.Edge.SampleRate,
			MinWavBytes: cfg.MinWavBytes,
		}
		provider, err := tts.Create(cfg.Selected, providerCfg, state.logger)
		if err != nil {
			return err
		}
		if vv, ok := provider.(*voicevox.Provider); ok {
			vv.SetTimeouts(cfg.Voicevox.ProbeTimeout, cfg.Voicevox.QueryTimeout,
				cfg.Voicevox.SynthTimeout)
		}
		if err := provider.Initialize(); err != nil {
			return err
		}
		state.ttsProvider = provider
	}

	manager, err := tts.NewManager(tts.ManagerOptions{
		Provider:    state.ttsProvider,
		Store:       state.store,
		Logger:      state.logger,
		MinWavBytes: cfg.MinWavBytes,
		MockFreq:    cfg.Mock.Frequency,
		MockDur:     cfg.Mock.Duration,
		SampleRate:  cfg.Mock.SampleRate,
	})
	if err != nil {
		return err
	}
	state.ttsManager = manager
	return nil
}

func initLLMStep(ctx context.Context, state *appState) error {
	cfg := state.config.Chat

	providerCfg := &llm.Config{
		Name:      cfg.Selected,
		Type:      cfg.Selected,
		ModelName: cfg.Ollama.Model,
		BaseURL:   cfg.Ollama.Endpoint,
		Timeout:   cfg.Timeout,
	}
	if cfg.Selected == "openai" {
		providerCfg.ModelName = cfg.OpenAI.Model
		providerCfg.BaseURL = cfg.OpenAI.BaseURL
		providerCfg.APIKey = cfg.OpenAI.APIKey
		providerCfg.MaxTokens = cfg.OpenAI.MaxTokens
	}

	provider, err := llm.Create(cfg.Selected, providerCfg)
	if err != nil {
		return err
	}
	if err := provider.Initialize(); err != nil {
		return err
	}
	state.llmProvider = provider
	return nil
}

func initServicesStep(ctx context.Context, state *appState) error {
	state.chatService = services.NewChatService(&services.ChatConfig{
		Provider: state.llmProvider,
		Logger:   state.logger,
		Timeout:  state.config.Chat.Timeout,
	})
	state.speechService = services.NewSpeechService(&services.SpeechConfig{
		Chat:          state.chatService,
		TTSManager:    state.ttsManager,
		Logger:        state.logger,
		PatPrompt:     state.config.Pat.Prompt,
		PatUtterances: state.config.Pat.Utterances,
	})
	return nil
}

// subscribeEventsStep 把关键事件接到日志上，前端排障时
// 能从日志看到每次降级的原因。
func subscribeEventsStep(ctx context.Context, state *appState) error {
	logger := state.logger

	if err := eventbus.Subscribe(eventbus.EventTTSFallback, func(data eventbus.TTSEventData) {
		logger.WarnTag("事件", "语音合成降级为mock: %q (backend=%s)", data.Text, data.Backend)
	}); err != nil {
		return err
	}
	if err := eventbus.Subscribe(eventbus.EventChatError, func(data eventbus.SystemEventData) {
		logger.WarnTag("事件", "聊天后端出错: %s", data.Message)
	}); err != nil {
		return err
	}
	if err := eventbus.Subscribe(eventbus.EventPatTriggered, func(data eventbus.PatEventData) {
		logger.InfoTag("事件", "摸头交互: %q (canned=%v)", data.Utterance, data.Canned)
	}); err != nil {
		return err
	}
	return nil
}

func startHTTPServer(state *appState, g *errgroup.Group, groupCtx context.Context) (err error) {
	config := state.config
	logger := state.logger

	httpRouter, err := httptransport.Build(httptransport.Options{
		Config:    config,
		Logger:    logger,
		VoicesDir: state.store.Dir(),
	})
	if err != nil {
		return err
	}

	probes := httptransport.HealthProbes{
		Speech: func(ctx context.Context) bool {
			if state.ttsProvider == nil {
				return false
			}
			return state.ttsProvider.Available(ctx)
		},
	}
	if config.Chat.Selected == "ollama" {
		probes.Chat = ollamaProbe(config.Chat.Ollama.Endpoint)
	}
	handler := httptransport.NewInteractionHandler(
		state.chatService,
		state.speechService,
		config,
		logger,
		probes,
	)
	handler.RegisterRoutes(httpRouter)

	addr := fmt.Sprintf("%s:%d", config.Server.IP, config.Server.Port)
	httpServer := &http.Server{
		Addr:    addr,
		Handler: httpRouter.Engine,
	}

	g.Go(func() error {
		logger.InfoTag("HTTP", "服务已启动，访问地址 http://localhost:%d", config.Server.Port)
		logger.InfoTag("HTTP", "语音文件目录: %s", state.store.Dir())

		go func() {
			<-groupCtx.Done()
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer cancel()

			if err := httpServer.Shutdown(shutdownCtx); err != nil {
				logger.ErrorTag("HTTP", "HTTP 服务关闭失败: %v", err)
			} else {
				logger.InfoTag("HTTP", "HTTP 服务已优雅关闭")
			}
		}()

		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.ErrorTag("HTTP", "HTTP 服务启动失败: %v", err)
			return err
		}
		return nil
	})

	return nil
}

// ollamaProbe 健康检查用的轻量探测，打模型列表接口而不是真的补全。
func ollamaProbe(endpoint string) func(ctx context.Context) bool {
	client := &http.Client{Timeout: 3 * time.Second}
	return func(ctx context.Context) bool {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint+"/api/tags", nil)
		if err != nil {
			return false
		}
		resp, err := client.Do(req)
		if err != nil {
			return false
		}
		defer resp.Body.Close()
		return resp.StatusCode == http.StatusOK
	}
}

func waitForShutdown(
	ctx context.Context,
	cancel context.CancelFunc,
	logger *utils.Logger,
	g *errgroup.Group,
) error {
	<-ctx.Done()
	logger.InfoTag("引导", "收到系统信号 %v，正在进行资源清理", context.Cause(ctx))

	cancel()

	done := make(chan error, 1)
	go func() {
		done <- g.Wait()
	}()

	select {
	case err := <-done:
		if err != nil {
			logger.ErrorTag("引导", "服务关闭过程中出现错误: %v", err)
			return err
		}
		logger.InfoTag("引导", "所有服务已成功关闭")
	case <-time.After(15 * time.Second):
		timeoutErr := errors.New("服务关闭超时")
		logger.ErrorTag("引导", "服务关闭超时，已强制退出")
		return timeoutErr
	}
	return nil
}
