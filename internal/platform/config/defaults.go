package config

import "time"

// DefaultConfig 返回默认配置
func DefaultConfig() *Config {
	return &Config{
		Server: ServerConfig{
			IP:   "0.0.0.0",
			Port: 5000,
		},
		Log: LogConfig{
			Level: "INFO",
			Dir:   "data/logs",
			File:  "server.log",
		},
		Chat: ChatConfig{
			Selected: "ollama",
			Timeout:  30 * time.Second,
			Ollama: OllamaConfig{
				Endpoint: "http://127.0.0.1:11434",
				Model:    "qwen3:8b",
			},
			OpenAI: OpenAIConfig{
				BaseURL:   "http://127.0.0.1:11434/v1",
				APIKey:    "ollama",
				Model:     "qwen3:8b",
				MaxTokens: 500,
			},
		},
		TTS: TTSConfig{
			Selected:    "voicevox",
			OutputDir:   "voices",
			MinWavBytes: 20480, // 小于20KB视为“有檔無聲”
			Voicevox: VoicevoxConfig{
				Endpoint:     "http://127.0.0.1:50021",
				Speaker:      1,
				ProbeTimeout: 3 * time.Second,
				QueryTimeout: 10 * time.Second,
				SynthTimeout: 30 * time.Second,
			},
			Edge: EdgeConfig{
				Voice:      "ja-JP-NanamiNeural",
				SampleRate: 24000,
			},
			Mock: MockConfig{
				Frequency:  440.0,
				Duration:   1200 * time.Millisecond,
				SampleRate: 24000,
			},
		},
		Pat: PatConfig{
			Prompt: "頭をなでる",
			Utterances: []string{
				"えへへ、くすぐったいのう",
				"むぅ、子ども扱いするでない",
				"……もっと撫でてもよいぞ",
			},
		},
	}
}
