package services

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"

	"murasame-server-go/internal/core/providers/llm"
	"murasame-server-go/internal/core/providers/tts"
	platformerrors "murasame-server-go/internal/platform/errors"
	"murasame-server-go/internal/platform/storage"
)

type fakeLLM struct {
	reply string
	err   error
	calls int
}

func (f *fakeLLM) Complete(ctx context.Context, req llm.Request) (*llm.Result, error) {
	f.calls++
	if f.err != nil {
		return nil, f.err
	}
	history := append(req.History, llm.Message{Role: "assistant", Content: f.reply})
	return &llm.Result{ReplyText: f.reply, History: history}, nil
}

func (f *fakeLLM) Initialize() error { return nil }
func (f *fakeLLM) Cleanup() error    { return nil }

type fakeTTS struct {
	available bool
	err       error
	output    []byte
}

func (f *fakeTTS) Synthesize(ctx context.Context, text string) ([]byte, error) {
	if f.err != nil {
		return nil, f.err
	}
	return f.output, nil
}

func (f *fakeTTS) Available(ctx context.Context) bool { return f.available }
func (f *fakeTTS) Initialize() error                  { return nil }
func (f *fakeTTS) Cleanup() error                     { return nil }

func newSpeech(t *testing.T, chatProvider llm.Provider, ttsProvider tts.Provider) *SpeechService {
	t.Helper()

	manager, err := tts.NewManager(tts.ManagerOptions{
		Provider:    ttsProvider,
		Store:       storage.NewMemStore(),
		MinWavBytes: 64,
	})
	if err != nil {
		t.Fatalf("NewManager: %v", err)
	}

	var chat *ChatService
	if chatProvider != nil {
		chat = NewChatService(&ChatConfig{Provider: chatProvider})
	}

	return NewSpeechService(&SpeechConfig{
		Chat:       chat,
		TTSManager: manager,
		PatPrompt:  "頭をなでる",
		PatUtterances: []string{
			"えへへ、くすぐったいのです",
			"ご主人様、もっとなのです",
		},
	})
}

func fakeWav() []byte {
	return bytes.Repeat([]byte("RIFF"), 32)
}

func TestSpeak_EmptyInput(t *testing.T) {
	service := newSpeech(t, nil, &fakeTTS{available: true, output: fakeWav()})

	_, err := service.Speak(context.Background(), SpeakRequest{})
	if !platformerrors.IsKind(err, platformerrors.KindInvalidInput) {
		t.Errorf("err = %v, want invalid input", err)
	}
}

func TestSpeak_DirectJapanese(t *testing.T) {
	chat := &fakeLLM{reply: "呼ばれてないのです"}
	service := newSpeech(t, chat, &fakeTTS{available: true, output: fakeWav()})

	result, err := service.Speak(context.Background(), SpeakRequest{
		JA: "おはようなのです",
		ZH: "早安",
	})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if result.IsMock {
		t.Error("expected real backend artifact")
	}
	if result.SubtitleZH != "早安" {
		t.Errorf("subtitle = %q", result.SubtitleZH)
	}
	if result.WavPath == "" {
		t.Error("wav path is empty")
	}
	if chat.calls != 0 {
		t.Errorf("chat called %d times for direct ja input", chat.calls)
	}
}

func TestSpeak_DerivesLineFromChat(t *testing.T) {
	chat := &fakeLLM{reply: "今日もがんばるのです"}
	service := newSpeech(t, chat, &fakeTTS{available: true, output: fakeWav()})

	result, err := service.Speak(context.Background(), SpeakRequest{Text: "早上好"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if chat.calls != 1 {
		t.Errorf("chat calls = %d, want 1", chat.calls)
	}
	if result.SubtitleZH != "今日もがんばるのです" {
		t.Errorf("subtitle = %q", result.SubtitleZH)
	}
}

func TestSpeak_AllBackendsDown(t *testing.T) {
	chat := &fakeLLM{err: errors.New("connection refused")}
	service := newSpeech(t, chat, &fakeTTS{available: false})

	result, err := service.Speak(context.Background(), SpeakRequest{
		Text: "我又在遊戲裡失手了…",
	})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if !result.IsMock {
		t.Error("expected mock fallback artifact")
	}
	if result.WavPath == "" {
		t.Error("wav path is empty")
	}
	if result.SubtitleZH != "我又在遊戲裡失手了…" {
		t.Errorf("subtitle = %q, want input echoed", result.SubtitleZH)
	}
}

func TestSpeak_ChatDownEchoesInput(t *testing.T) {
	chat := &fakeLLM{err: errors.New("model not loaded")}
	service := newSpeech(t, chat, &fakeTTS{available: true, output: fakeWav()})

	result, err := service.Speak(context.Background(), SpeakRequest{Text: "你好"})
	if err != nil {
		t.Fatalf("Speak: %v", err)
	}
	if result.IsMock {
		t.Error("tts is up, expected real artifact")
	}
	if result.SubtitleZH != "你好" {
		t.Errorf("subtitle = %q, want input echoed", result.SubtitleZH)
	}
}

func TestSpeak_ConcurrentDistinctTexts(t *testing.T) {
	service := newSpeech(t, nil, &fakeTTS{available: true, output: fakeWav()})

	const n = 8
	refs := make([]string, n)
	var wg sync.WaitGroup
	for i := 0; i < n; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			result, err := service.Speak(context.Background(), SpeakRequest{
				JA: fmt.Sprintf("セリフ%d", i),
			})
			if err != nil {
				t.Errorf("Speak %d: %v", i, err)
				return
			}
			refs[i] = result.WavPath
		}(i)
	}
	wg.Wait()

	seen := make(map[string]bool)
	for _, ref := range refs {
		if seen[ref] {
			t.Errorf("duplicate artifact ref %q", ref)
		}
		seen[ref] = true
	}
}

func TestPat_ChatGenerated(t *testing.T) {
	chat := &fakeLLM{reply: "えへへ、うれしいのです"}
	service := newSpeech(t, chat, &fakeTTS{available: true, output: fakeWav()})

	result, err := service.Pat(context.Background())
	if err != nil {
		t.Fatalf("Pat: %v", err)
	}
	if result.Origin != "gesture" {
		t.Errorf("origin = %q", result.Origin)
	}
	if result.SubtitleZH != "えへへ、うれしいのです" {
		t.Errorf("subtitle = %q", result.SubtitleZH)
	}
}

func TestPat_ChatDownUsesCannedPool(t *testing.T) {
	chat := &fakeLLM{err: errors.New("connection refused")}
	service := newSpeech(t, chat, &fakeTTS{available: false})

	first, err := service.Pat(context.Background())
	if err != nil {
		t.Fatalf("Pat: %v", err)
	}
	second, err := service.Pat(context.Background())
	if err != nil {
		t.Fatalf("Pat: %v", err)
	}

	if first.SubtitleZH == second.SubtitleZH {
		t.Errorf("canned pool did not rotate: %q", first.SubtitleZH)
	}
	if !first.IsMock || !second.IsMock {
		t.Error("expected mock artifacts with tts down")
	}
}

func TestPat_NoChatServiceStillSucceeds(t *testing.T) {
	service := newSpeech(t, nil, &fakeTTS{available: false})

	result, err := service.Pat(context.Background())
	if err != nil {
		t.Fatalf("Pat: %v", err)
	}
	if result.WavPath == "" || result.SubtitleZH == "" {
		t.Errorf("incomplete result: %+v", result)
	}
}
