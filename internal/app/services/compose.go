package services

import (
	"strings"

	"murasame-server-go/internal/core/providers/llm"
)

// BiReply 双语回覆：zh为字幕、ja为朗读文本。
type BiReply struct {
	ZH      string        `json:"zh"`
	JA      string        `json:"ja"`
	History []llm.Message `json:"history"`
}

// ComposeBilingual 生成中日双语回覆。
// 暂时简化：不翻译，复用输入（primary == secondary == text）。
// 之后可替换为真正的双语生成/翻译。
func ComposeBilingual(text string) (primary, secondary string) {
	text = strings.TrimSpace(text)
	return text, text
}

// ComposeReply /reply_bi 端点语义：支持分别传入zh/ja，
// 缺失的一侧复用另一侧，assistant轮次追加进历史。
func ComposeReply(text, zh, ja string, history []llm.Message) BiReply {
	text = strings.TrimSpace(text)
	if text == "" {
		text = strings.TrimSpace(zh)
	}
	if text == "" {
		text = strings.TrimSpace(ja)
	}

	zh = strings.TrimSpace(zh)
	if zh == "" {
		zh = text
	}
	ja = strings.TrimSpace(ja)
	if ja == "" {
		ja = text
	}

	if history == nil {
		history = []llm.Message{}
	}
	history = append(history, llm.Message{Role: "assistant", Content: ja})

	return BiReply{ZH: zh, JA: ja, History: history}
}
