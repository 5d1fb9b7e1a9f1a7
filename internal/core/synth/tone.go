package synth

import (
	"fmt"
	"io"
	"math"
	"time"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

const (
	bitDepth = 16
	// 振幅系数，与旧版桌宠脚本保持一致，避免mock音量刺耳
	amplitude = 0.25
)

// Tone 生成一段固定频率的正弦波，编码为16位单声道WAV。
// 语音后端不可用时的保底产物，保证调用方总能拿到可播放音频。
func Tone(freq float64, duration time.Duration, sampleRate int) ([]byte, error) {
	if freq <= 0 {
		return nil, fmt.Errorf("非法频率: %v", freq)
	}
	if duration <= 0 {
		return nil, fmt.Errorf("非法时长: %v", duration)
	}
	if sampleRate <= 0 {
		return nil, fmt.Errorf("非法采样率: %d", sampleRate)
	}

	nframes := int(float64(sampleRate) * duration.Seconds())
	samples := make([]int, nframes)
	peak := amplitude * float64(math.MaxInt16)
	for i := range samples {
		samples[i] = int(peak * math.Sin(2*math.Pi*freq*float64(i)/float64(sampleRate)))
	}

	return EncodeWAV(samples, sampleRate, 1)
}

// EncodeWAV 将PCM采样编码为WAV字节流。
func EncodeWAV(samples []int, sampleRate, channels int) ([]byte, error) {
	if len(samples) == 0 {
		return nil, fmt.Errorf("没有可编码的采样")
	}

	buf := &writeSeeker{}
	enc := wav.NewEncoder(buf, sampleRate, bitDepth, channels, 1)
	intBuf := &audio.IntBuffer{
		Format: &audio.Format{
			NumChannels: channels,
			SampleRate:  sampleRate,
		},
		Data:           samples,
		SourceBitDepth: bitDepth,
	}
	if err := enc.Write(intBuf); err != nil {
		return nil, fmt.Errorf("编码WAV失败: %w", err)
	}
	if err := enc.Close(); err != nil {
		return nil, fmt.Errorf("关闭WAV编码器失败: %w", err)
	}
	return buf.data, nil
}

// writeSeeker 内存版io.WriteSeeker。wav编码器收尾时需要回写
// 头部的长度字段，所以一个纯Writer不够用。
type writeSeeker struct {
	data []byte
	pos  int
}

func (ws *writeSeeker) Write(p []byte) (int, error) {
	if needed := ws.pos + len(p); needed > len(ws.data) {
		grown := make([]byte, needed)
		copy(grown, ws.data)
		ws.data = grown
	}
	copy(ws.data[ws.pos:], p)
	ws.pos += len(p)
	return len(p), nil
}

func (ws *writeSeeker) Seek(offset int64, whence int) (int64, error) {
	var next int
	switch whence {
	case io.SeekStart:
		next = int(offset)
	case io.SeekCurrent:
		next = ws.pos + int(offset)
	case io.SeekEnd:
		next = len(ws.data) + int(offset)
	default:
		return 0, fmt.Errorf("非法whence: %d", whence)
	}
	if next < 0 {
		return 0, fmt.Errorf("负偏移: %d", next)
	}
	ws.pos = next
	return int64(next), nil
}
