package services

import (
	"context"
	"strings"
	"sync/atomic"
	"time"

	"murasame-server-go/internal/core/providers/tts"
	"murasame-server-go/internal/domain/eventbus"
	platformerrors "murasame-server-go/internal/platform/errors"
	"murasame-server-go/internal/utils"
)

// DefaultProbeText /say 无任何输入时的探测台词
const DefaultProbeText = "テストです"

// SpeakRequest /say 入参：ja直接朗读；只有text时先经聊天生成一句。
type SpeakRequest struct {
	Text string
	ZH   string
	JA   string
}

// SpeakResult 朗读结果。WavPath 在返回时必定指向非空音频；
// mock回退属于降级成功，不是错误。
type SpeakResult struct {
	WavPath    string `json:"wav_path"`
	SubtitleZH string `json:"subtitle_zh"`
	Backend    string `json:"backend"`
	IsMock     bool   `json:"is_mock"`
}

// PatResult 摸头结果：同SpeakResult，但标记来源为手势交互。
type PatResult struct {
	SpeakResult
	Origin string `json:"origin"`
}

// SpeechService 处理语音相关的业务逻辑：朗读编排与摸头交互。
type SpeechService struct {
	chat       *ChatService
	ttsManager *tts.Manager
	logger     *utils.Logger

	patPrompt     string
	patUtterances []string
	patCursor     int32 // 保底台词轮询游标，原子操作
}

// SpeechConfig 语音服务配置
type SpeechConfig struct {
	Chat          *ChatService
	TTSManager    *tts.Manager
	Logger        *utils.Logger
	PatPrompt     string
	PatUtterances []string
}

// NewSpeechService 创建新的语音服务
func NewSpeechService(config *SpeechConfig) *SpeechService {
	prompt := config.PatPrompt
	if prompt == "" {
		prompt = "頭をなでる"
	}
	utterances := config.PatUtterances
	if len(utterances) == 0 {
		utterances = []string{prompt}
	}
	return &SpeechService{
		chat:          config.Chat,
		ttsManager:    config.TTSManager,
		logger:        config.Logger,
		patPrompt:     prompt,
		patUtterances: utterances,
	}
}

// Speak 朗读编排：校验 -> 双语回覆 -> 合成 -> 组装结果。
// 合成只在本地存储故障时才失败；mock回退照常成功。
func (s *SpeechService) Speak(ctx context.Context, req SpeakRequest) (*SpeakResult, error) {
	ja := strings.TrimSpace(req.JA)
	zh := strings.TrimSpace(req.ZH)

	if ja == "" {
		text := strings.TrimSpace(req.Text)
		if text == "" && zh == "" {
			return nil, platformerrors.New(platformerrors.KindInvalidInput, "speak",
				"text is empty")
		}
		if text == "" {
			text = zh
		}
		ja = s.deriveLine(ctx, text)
	}

	// 双语回覆（暂为透传）决定字幕文本
	primary, secondary := ComposeBilingual(ja)
	if zh == "" {
		zh = primary
	}
	spoken := secondary

	result, err := s.ttsManager.Synthesize(ctx, spoken)
	if err != nil {
		if platformerrors.IsKind(err, platformerrors.KindInvalidInput) ||
			platformerrors.IsKind(err, platformerrors.KindStorage) {
			return nil, err
		}
		return nil, platformerrors.Wrap(platformerrors.KindSynthesis, "speak",
			"语音合成失败", err)
	}

	return &SpeakResult{
		WavPath:    string(result.Ref),
		SubtitleZH: zh,
		Backend:    result.Backend,
		IsMock:     result.IsMock,
	}, nil
}

// deriveLine 用聊天生成一句朗读文本；后端失败时退回输入本身，
// 朗读链路不因聊天故障中断。
func (s *SpeechService) deriveLine(ctx context.Context, text string) string {
	if s.chat == nil {
		return text
	}
	result, err := s.chat.Complete(ctx, text, nil, "")
	if err != nil || strings.TrimSpace(result.ReplyText) == "" {
		s.logger.WarnTag("LLM", "生成台词失败，改用输入原文: %v", err)
		return text
	}
	return result.ReplyText
}

// Pat 摸头交互：生成一句短台词并朗读。聊天不可用时改用保底
// 台词池，手势交互永远要有声音和字幕。
func (s *SpeechService) Pat(ctx context.Context) (*PatResult, error) {
	utterance, canned := s.deriveUtterance(ctx)

	eventbus.Publish(eventbus.EventPatTriggered, eventbus.PatEventData{
		Utterance: utterance,
		Canned:    canned,
	})

	speak, err := s.Speak(ctx, SpeakRequest{JA: utterance, ZH: utterance})
	if err != nil {
		return nil, err
	}

	return &PatResult{
		SpeakResult: *speak,
		Origin:      "gesture",
	}, nil
}

// deriveUtterance 摸头台词：优先让聊天生成，失败时按游标轮询保底池。
func (s *SpeechService) deriveUtterance(ctx context.Context) (string, bool) {
	if s.chat != nil {
		start := time.Now()
		result, err := s.chat.Complete(ctx, s.patPrompt, nil, "")
		if err == nil && strings.TrimSpace(result.ReplyText) != "" {
			s.logger.InfoTag("LLM", "摸头台词已生成，耗时 %v", time.Since(start))
			return strings.TrimSpace(result.ReplyText), false
		}
		s.logger.WarnTag("LLM", "摸头台词生成失败，使用保底台词: %v", err)
	}

	idx := int(atomic.AddInt32(&s.patCursor, 1)-1) % len(s.patUtterances)
	if idx < 0 {
		idx += len(s.patUtterances)
	}
	return s.patUtterances[idx], true
}
