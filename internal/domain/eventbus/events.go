package eventbus

// 事件类型定义
const (
	// 聊天相关事件
	EventChatCompleted = "chat:completed"
	EventChatError     = "chat:error"

	// TTS相关事件
	EventTTSCompleted = "tts:completed"
	EventTTSFallback  = "tts:fallback"
	EventTTSError     = "tts:error"

	// 交互相关事件
	EventPatTriggered = "pat:triggered"

	// 系统事件
	EventSystemError = "system:error"
)

// 事件数据结构
type ChatEventData struct {
	Prompt    string `json:"prompt"`
	Reply     string `json:"reply"`
	Model     string `json:"model"`
	SpentTime string `json:"spent_time,omitempty"`
}

type TTSEventData struct {
	Text     string `json:"text"`
	Backend  string `json:"backend"`
	IsMock   bool   `json:"is_mock"`
	FilePath string `json:"file_path,omitempty"`
}

type PatEventData struct {
	Utterance string `json:"utterance"`
	Canned    bool   `json:"canned"` // 台词是否来自保底池
}

type SystemEventData struct {
	Level   string      `json:"level"` // error, warn, info
	Message string      `json:"message"`
	Data    interface{} `json:"data,omitempty"`
}
