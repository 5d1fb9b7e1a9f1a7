package voicevox

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"

	"murasame-server-go/internal/core/providers/tts"
	platformerrors "murasame-server-go/internal/platform/errors"
)

func newTestProvider(t *testing.T, endpoint string) *Provider {
	t.Helper()
	p, err := NewProvider(&tts.Config{Type: "voicevox", Endpoint: endpoint, Speaker: 1}, nil)
	if err != nil {
		t.Fatalf("NewProvider() error = %v", err)
	}
	return p.(*Provider)
}

func TestAvailable(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/version" {
			w.Write([]byte(`"0.14.0"`))
			return
		}
		http.NotFound(w, r)
	}))
	defer backend.Close()

	provider := newTestProvider(t, backend.URL)
	if !provider.Available(context.Background()) {
		t.Error("Available() = false for healthy backend")
	}

	down := newTestProvider(t, "http://127.0.0.1:1")
	if down.Available(context.Background()) {
		t.Error("Available() = true for unreachable backend")
	}
}

func TestSynthesize_TwoPhaseFlow(t *testing.T) {
	wavPayload := append([]byte("RIFF"), bytes.Repeat([]byte{0}, 100)...)
	var sawQuery, sawSynthesis bool

	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/audio_query":
			sawQuery = true
			if got := r.URL.Query().Get("text"); got != "こんにちは" {
				t.Errorf("text = %q", got)
			}
			if got := r.URL.Query().Get("speaker"); got != "1" {
				t.Errorf("speaker = %q", got)
			}
			json.NewEncoder(w).Encode(map[string]any{
				"volumeScale": 0.3,
				"speedScale":  1.0,
			})
		case "/synthesis":
			sawSynthesis = true
			if got := r.URL.Query().Get("enable_interrogative_upspeak"); got != "true" {
				t.Errorf("enable_interrogative_upspeak = %q", got)
			}
			body, _ := io.ReadAll(r.Body)
			var query map[string]any
			if err := json.Unmarshal(body, &query); err != nil {
				t.Fatalf("synthesis body is not json: %v", err)
			}
			// 音量过低时补强到0.8
			if got := query["volumeScale"].(float64); got != 0.8 {
				t.Errorf("volumeScale = %v, expected 0.8", got)
			}
			if _, ok := query["prePhonemeLength"]; !ok {
				t.Error("prePhonemeLength should be reinforced")
			}
			w.Write(wavPayload)
		default:
			http.NotFound(w, r)
		}
	}))
	defer backend.Close()

	provider := newTestProvider(t, backend.URL)
	data, err := provider.Synthesize(context.Background(), "こんにちは")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !bytes.Equal(data, wavPayload) {
		t.Error("unexpected synthesis payload")
	}
	if !sawQuery || !sawSynthesis {
		t.Error("expected both audio_query and synthesis calls")
	}
}

func TestSynthesize_QueryFailure(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer backend.Close()

	provider := newTestProvider(t, backend.URL)
	_, err := provider.Synthesize(context.Background(), "こんにちは")
	if !platformerrors.IsKind(err, platformerrors.KindUpstream) {
		t.Errorf("expected upstream kind, got %v", err)
	}
}

func TestSynthesize_EmptyAudio(t *testing.T) {
	backend := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/audio_query" {
			json.NewEncoder(w).Encode(map[string]any{})
			return
		}
		// synthesis 返回空体
	}))
	defer backend.Close()

	provider := newTestProvider(t, backend.URL)
	_, err := provider.Synthesize(context.Background(), "こんにちは")
	if !platformerrors.IsKind(err, platformerrors.KindProtocol) {
		t.Errorf("expected protocol kind, got %v", err)
	}
}

func TestReinforceQuery(t *testing.T) {
	query := map[string]interface{}{
		"volumeScale": 1.5,
		"pitchScale":  0.2,
	}
	reinforceQuery(query)

	if got := query["volumeScale"].(float64); got != 1.5 {
		t.Errorf("volumeScale = %v, should keep values above 0.8", got)
	}
	if got := query["pitchScale"].(float64); got != 0.2 {
		t.Errorf("pitchScale = %v, should be preserved", got)
	}
	if got := query["speedScale"].(float64); got != 1.0 {
		t.Errorf("speedScale = %v, expected default 1.0", got)
	}
}
