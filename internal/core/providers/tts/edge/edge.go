package edge

import (
	"bytes"
	"context"
	"encoding/binary"
	"time"

	"github.com/hajimehoshi/go-mp3"
	"github.com/wujunwei928/edge-tts-go/edge_tts"

	"murasame-server-go/internal/core/providers/tts"
	"murasame-server-go/internal/core/synth"
	platformerrors "murasame-server-go/internal/platform/errors"
	"murasame-server-go/internal/utils"
)

// Provider Edge TTS语音后端。Edge返回MP3，这里解码后重编码为WAV，
// 保证所有后端产物统一为同一种可播放格式。
type Provider struct {
	*tts.BaseProvider
	logger *utils.Logger
	voice  string
}

// 注册提供者
func init() {
	tts.Register("edge", NewProvider)
}

// NewProvider 创建Edge TTS提供者
func NewProvider(config *tts.Config, logger *utils.Logger) (tts.Provider, error) {
	voice := config.Voice
	if voice == "" {
		voice = "ja-JP-NanamiNeural"
	}
	return &Provider{
		BaseProvider: tts.NewBaseProvider(config),
		logger:       logger,
		voice:        voice,
	}, nil
}

// Available Edge是云端服务，没有轻量探测端点；
// 合成失败本身就会触发mock回退，这里不做预判。
func (p *Provider) Available(ctx context.Context) bool {
	return true
}

// Synthesize tts.Provider接口实现
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	communicate, err := edge_tts.NewCommunicate(text, edge_tts.SetVoice(p.voice))
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindUpstream, "edge:new",
			"创建Edge TTS通信失败", err)
	}

	start := time.Now()
	mp3Data, err := communicate.Stream()
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindUpstream, "edge:synthesize",
			"Edge TTS合成失败", err)
	}
	p.logger.DebugTag("TTS", "Edge合成耗时: %v", time.Since(start))

	return mp3ToWav(mp3Data)
}

// mp3ToWav 解码MP3为PCM并重编码WAV。go-mp3固定输出16位双声道。
func mp3ToWav(data []byte) ([]byte, error) {
	decoder, err := mp3.NewDecoder(bytes.NewReader(data))
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProtocol, "edge:decode",
			"解析Edge音频失败", err)
	}

	var pcm bytes.Buffer
	if _, err := pcm.ReadFrom(decoder); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProtocol, "edge:decode",
			"读取Edge音频失败", err)
	}

	raw := pcm.Bytes()
	samples := make([]int, len(raw)/2)
	for i := range samples {
		samples[i] = int(int16(binary.LittleEndian.Uint16(raw[i*2:])))
	}

	wavData, err := synth.EncodeWAV(samples, decoder.SampleRate(), 2)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindSynthesis, "edge:encode",
			"重编码WAV失败", err)
	}
	return wavData, nil
}
