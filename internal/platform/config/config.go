package config

import "time"

type Config struct {
	Server ServerConfig `yaml:"server"`
	Log    LogConfig    `yaml:"log"`
	Chat   ChatConfig   `yaml:"chat"`
	TTS    TTSConfig    `yaml:"tts"`
	Pat    PatConfig    `yaml:"pat"`
}

type ServerConfig struct {
	IP   string `yaml:"ip"`
	Port int    `yaml:"port"`
}

type LogConfig struct {
	Level string `yaml:"log_level"`
	Dir   string `yaml:"log_dir"`
	File  string `yaml:"log_file"`
}

// ChatConfig 聊天后端配置。selected 决定使用哪个提供者（ollama/openai）。
type ChatConfig struct {
	Selected string        `yaml:"selected"`
	Timeout  time.Duration `yaml:"timeout"`
	Ollama   OllamaConfig  `yaml:"ollama"`
	OpenAI   OpenAIConfig  `yaml:"openai"`
}

type OllamaConfig struct {
	Endpoint string `yaml:"endpoint"`
	Model    string `yaml:"model"`
}

type OpenAIConfig struct {
	BaseURL   string `yaml:"base_url"`
	APIKey    string `yaml:"api_key"`
	Model     string `yaml:"model"`
	MaxTokens int    `yaml:"max_tokens"`
}

// TTSConfig 语音合成配置。selected 决定真实后端（voicevox/edge）；
// mock 部分描述后端不可用时本地生成的正弦波。
type TTSConfig struct {
	Selected    string         `yaml:"selected"`
	OutputDir   string         `yaml:"output_dir"`
	MinWavBytes int64          `yaml:"min_wav_bytes"`
	Voicevox    VoicevoxConfig `yaml:"voicevox"`
	Edge        EdgeConfig     `yaml:"edge"`
	Mock        MockConfig     `yaml:"mock"`
}

type VoicevoxConfig struct {
	Endpoint     string        `yaml:"endpoint"`
	Speaker      int           `yaml:"speaker"`
	ProbeTimeout time.Duration `yaml:"probe_timeout"`
	QueryTimeout time.Duration `yaml:"query_timeout"`
	SynthTimeout time.Duration `yaml:"synth_timeout"`
}

type EdgeConfig struct {
	Voice      string `yaml:"voice"`
	SampleRate int    `yaml:"sample_rate"`
}

type MockConfig struct {
	Frequency  float64       `yaml:"frequency"`
	Duration   time.Duration `yaml:"duration"`
	SampleRate int           `yaml:"sample_rate"`
}

// PatConfig 摸头交互配置：生成台词用的提示语与聊天不可用时的保底台词池。
type PatConfig struct {
	Prompt     string   `yaml:"prompt"`
	Utterances []string `yaml:"utterances"`
}
