package httptransport

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"murasame-server-go/internal/app/services"
	"murasame-server-go/internal/core/providers/llm"
	"murasame-server-go/internal/platform/config"
	platformerrors "murasame-server-go/internal/platform/errors"
	"murasame-server-go/internal/utils"
)

// HealthProbes 后端可达性探测，由bootstrap按实际后端注入。
type HealthProbes struct {
	Chat   func(ctx context.Context) bool
	Speech func(ctx context.Context) bool
}

// InteractionHandler 桌宠交互处理器：聊天代理、双语回覆、
// 语音合成与组合端点。
type InteractionHandler struct {
	chat   *services.ChatService
	speech *services.SpeechService
	cfg    *config.Config
	logger *utils.Logger
	probes HealthProbes
}

// NewInteractionHandler 创建交互处理器
func NewInteractionHandler(chat *services.ChatService, speech *services.SpeechService,
	cfg *config.Config, logger *utils.Logger, probes HealthProbes) *InteractionHandler {
	return &InteractionHandler{
		chat:   chat,
		speech: speech,
		cfg:    cfg,
		logger: logger,
		probes: probes,
	}
}

// RegisterRoutes 注册交互相关路由。
// 五个交互端点保持前端依赖的扁平JSON，健康检查用统一信封。
func (h *InteractionHandler) RegisterRoutes(router *Router) {
	router.Engine.POST("/qwen3", h.ChatCompletion)
	router.Engine.POST("/reply_bi", h.BilingualReply)
	router.Engine.POST("/tts", h.Synthesize)
	router.Engine.POST("/say", h.Say)
	router.Engine.POST("/pat", h.Pat)
	router.Engine.GET("/healthz", h.Health)
}

// ChatCompletionRequest 聊天代理请求
type ChatCompletionRequest struct {
	Prompt  string        `json:"prompt"`
	History []llm.Message `json:"history"`
	Model   string        `json:"model"`
}

// ChatCompletion 聊天代理：透传给LLM后端，错误原样上抛。
func (h *InteractionHandler) ChatCompletion(c *gin.Context) {
	var req ChatCompletionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFlatError(c, http.StatusBadRequest, platformerrors.KindInvalidInput,
			"invalid request body")
		return
	}

	result, err := h.chat.Complete(c.Request.Context(), req.Prompt, req.History, req.Model)
	if err != nil {
		respondKindError(c, err)
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"response": result.ReplyText,
		"history":  result.History,
	})
}

// BilingualReplyRequest 双语回覆请求
type BilingualReplyRequest struct {
	Text    string        `json:"text"`
	ZH      string        `json:"zh"`
	JA      string        `json:"ja"`
	History []llm.Message `json:"history"`
}

// BilingualReply 双语回覆：纯组合，不触发任何后端。
func (h *InteractionHandler) BilingualReply(c *gin.Context) {
	var req BilingualReplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFlatError(c, http.StatusBadRequest, platformerrors.KindInvalidInput,
			"invalid request body")
		return
	}

	if strings.TrimSpace(req.Text) == "" &&
		strings.TrimSpace(req.ZH) == "" &&
		strings.TrimSpace(req.JA) == "" {
		respondFlatError(c, http.StatusBadRequest, platformerrors.KindInvalidInput,
			"text is empty")
		return
	}

	reply := services.ComposeReply(req.Text, req.ZH, req.JA, req.History)
	c.JSON(http.StatusOK, reply)
}

// SynthesizeRequest 合成请求：ja必填
type SynthesizeRequest struct {
	JA string `json:"ja"`
	ZH string `json:"zh"`
}

// Synthesize 直接合成日语文本，不经过聊天。
func (h *InteractionHandler) Synthesize(c *gin.Context) {
	var req SynthesizeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		respondFlatError(c, http.StatusBadRequest, platformerrors.KindInvalidInput,
			"invalid request body")
		return
	}
	if strings.TrimSpace(req.JA) == "" {
		respondFlatError(c, http.StatusBadRequest, platformerrors.KindInvalidInput,
			"ja is empty")
		return
	}

	result, err := h.speech.Speak(c.Request.Context(), services.SpeakRequest{
		JA: req.JA,
		ZH: req.ZH,
	})
	if err != nil {
		respondKindError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// SayRequest /say 请求：三个字段都可缺省
type SayRequest struct {
	Text string `json:"text"`
	ZH   string `json:"zh"`
	JA   string `json:"ja"`
}

// Say 组合端点：ja优先直接朗读，否则由聊天生成台词。
// 完全没有输入时用探测台词，方便前端联调。
func (h *InteractionHandler) Say(c *gin.Context) {
	var req SayRequest
	if c.Request.ContentLength > 0 {
		if err := c.ShouldBindJSON(&req); err != nil {
			respondFlatError(c, http.StatusBadRequest, platformerrors.KindInvalidInput,
				"invalid request body")
			return
		}
	}

	if strings.TrimSpace(req.Text) == "" &&
		strings.TrimSpace(req.ZH) == "" &&
		strings.TrimSpace(req.JA) == "" {
		req.Text = services.DefaultProbeText
	}

	result, err := h.speech.Speak(c.Request.Context(), services.SpeakRequest{
		Text: req.Text,
		ZH:   req.ZH,
		JA:   req.JA,
	})
	if err != nil {
		respondKindError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Pat 摸头端点：无请求体，永远返回一段可播放语音。
func (h *InteractionHandler) Pat(c *gin.Context) {
	result, err := h.speech.Pat(c.Request.Context())
	if err != nil {
		respondKindError(c, err)
		return
	}

	c.JSON(http.StatusOK, result)
}

// Health 健康检查：服务本身ok，附带各后端可达性。
// 后端降级不影响状态码，前端自行决定提示。
func (h *InteractionHandler) Health(c *gin.Context) {
	ctx := c.Request.Context()

	chatInfo := gin.H{
		"backend": h.cfg.Chat.Selected,
		"model":   h.cfg.Chat.Ollama.Model,
	}
	if h.probes.Chat != nil {
		chatInfo["reachable"] = h.probes.Chat(ctx)
	}

	speechInfo := gin.H{
		"backend": h.cfg.TTS.Selected,
	}
	if h.probes.Speech != nil {
		speechInfo["reachable"] = h.probes.Speech(ctx)
	}

	RespondSuccess(c, http.StatusOK, gin.H{
		"status": "ok",
		"chat":   chatInfo,
		"speech": speechInfo,
	}, "")
}

// respondFlatError 交互端点的扁平错误结构
func respondFlatError(c *gin.Context, status int, kind platformerrors.Kind, message string) {
	c.JSON(status, gin.H{
		"error": message,
		"kind":  string(kind),
	})
}

// respondKindError 按错误种类映射HTTP状态码
func respondKindError(c *gin.Context, err error) {
	kind := platformerrors.KindOf(err)

	status := http.StatusInternalServerError
	switch kind {
	case platformerrors.KindInvalidInput:
		status = http.StatusBadRequest
	case platformerrors.KindUpstream, platformerrors.KindProtocol:
		status = http.StatusBadGateway
	case platformerrors.KindStorage, platformerrors.KindSynthesis:
		status = http.StatusInternalServerError
	}

	respondFlatError(c, status, kind, err.Error())
}
