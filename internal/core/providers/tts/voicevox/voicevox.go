package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"murasame-server-go/internal/core/providers/tts"
	platformerrors "murasame-server-go/internal/platform/errors"
	"murasame-server-go/internal/utils"
)

// Provider VOICEVOX语音后端：audio_query -> synthesis 两段式调用
type Provider struct {
	*tts.BaseProvider
	logger      *utils.Logger
	endpoint    string
	speaker     int
	probeClient *http.Client
	queryClient *http.Client
	synthClient *http.Client
}

// 注册提供者
func init() {
	tts.Register("voicevox", NewProvider)
}

// NewProvider 创建VOICEVOX提供者
func NewProvider(config *tts.Config, logger *utils.Logger) (tts.Provider, error) {
	if config.Endpoint == "" {
		config.Endpoint = "http://127.0.0.1:50021"
	}
	speaker := config.Speaker
	if speaker <= 0 {
		speaker = 1
	}
	return &Provider{
		BaseProvider: tts.NewBaseProvider(config),
		logger:       logger,
		endpoint:     config.Endpoint,
		speaker:      speaker,
		probeClient:  &http.Client{Timeout: 3 * time.Second},
		queryClient:  &http.Client{Timeout: 10 * time.Second},
		synthClient:  &http.Client{Timeout: 30 * time.Second},
	}, nil
}

// SetTimeouts 覆盖默认超时（配置驱动）。
func (p *Provider) SetTimeouts(probe, query, synthesis time.Duration) {
	if probe > 0 {
		p.probeClient.Timeout = probe
	}
	if query > 0 {
		p.queryClient.Timeout = query
	}
	if synthesis > 0 {
		p.synthClient.Timeout = synthesis
	}
}

// Available 探测/version端点，懒查询、不缓存结果。
func (p *Provider) Available(ctx context.Context) bool {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, p.endpoint+"/version", nil)
	if err != nil {
		return false
	}
	resp, err := p.probeClient.Do(req)
	if err != nil {
		return false
	}
	defer resp.Body.Close()
	return resp.StatusCode == http.StatusOK
}

// Synthesize tts.Provider接口实现
func (p *Provider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	query, err := p.audioQuery(ctx, text)
	if err != nil {
		return nil, err
	}
	return p.synthesis(ctx, query)
}

// audioQuery 第一段：由文本生成合成参数
func (p *Provider) audioQuery(ctx context.Context, text string) (map[string]interface{}, error) {
	params := url.Values{}
	params.Set("text", text)
	params.Set("speaker", strconv.Itoa(p.speaker))

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/audio_query?"+params.Encode(), nil)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindUpstream, "voicevox:audio-query",
			"构造audio_query请求失败", err)
	}

	resp, err := p.queryClient.Do(req)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindUpstream, "voicevox:audio-query",
			"语音后端不可达", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, platformerrors.New(platformerrors.KindUpstream, "voicevox:audio-query",
			fmt.Sprintf("audio_query返回 %d", resp.StatusCode))
	}

	var query map[string]interface{}
	if err := json.NewDecoder(resp.Body).Decode(&query); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProtocol, "voicevox:audio-query",
			"解析audio_query响应失败", err)
	}

	reinforceQuery(query)
	return query, nil
}

// reinforceQuery 补强常用参数，避免音量0或过短无声。
func reinforceQuery(query map[string]interface{}) {
	volume := floatOrDefault(query, "volumeScale", 1.0)
	if volume < 0.8 {
		volume = 0.8
	}
	query["volumeScale"] = volume
	query["intonationScale"] = floatOrDefault(query, "intonationScale", 1.0)
	query["speedScale"] = floatOrDefault(query, "speedScale", 1.0)
	query["pitchScale"] = floatOrDefault(query, "pitchScale", 0.0)
	query["prePhonemeLength"] = floatOrDefault(query, "prePhonemeLength", 0.1)
	query["postPhonemeLength"] = floatOrDefault(query, "postPhonemeLength", 0.1)
}

func floatOrDefault(m map[string]interface{}, key string, def float64) float64 {
	if v, ok := m[key]; ok {
		if f, ok := v.(float64); ok {
			return f
		}
	}
	return def
}

// synthesis 第二段：参数换WAV字节
func (p *Provider) synthesis(ctx context.Context, query map[string]interface{}) ([]byte, error) {
	body, err := json.Marshal(query)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProtocol, "voicevox:synthesis",
			"编码synthesis请求失败", err)
	}

	params := url.Values{}
	params.Set("speaker", strconv.Itoa(p.speaker))
	params.Set("enable_interrogative_upspeak", "true")

	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		p.endpoint+"/synthesis?"+params.Encode(), bytes.NewReader(body))
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindUpstream, "voicevox:synthesis",
			"构造synthesis请求失败", err)
	}
	req.Header.Set("Content-Type", "application/json")

	resp, err := p.synthClient.Do(req)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindUpstream, "voicevox:synthesis",
			"语音后端不可达", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, platformerrors.New(platformerrors.KindUpstream, "voicevox:synthesis",
			fmt.Sprintf("synthesis返回 %d", resp.StatusCode))
	}

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindProtocol, "voicevox:synthesis",
			"读取synthesis响应失败", err)
	}
	if len(data) == 0 {
		return nil, platformerrors.New(platformerrors.KindProtocol, "voicevox:synthesis",
			"synthesis返回空音频")
	}
	return data, nil
}
