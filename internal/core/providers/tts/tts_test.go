package tts

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"github.com/go-audio/wav"

	platformerrors "murasame-server-go/internal/platform/errors"
	"murasame-server-go/internal/platform/storage"
)

// fakeProvider 可编排的语音后端替身
type fakeProvider struct {
	available bool
	output    []byte
	err       error
	calls     int
}

func (f *fakeProvider) Synthesize(ctx context.Context, text string) ([]byte, error) {
	f.calls++
	return f.output, f.err
}

func (f *fakeProvider) Available(ctx context.Context) bool { return f.available }
func (f *fakeProvider) Initialize() error                  { return nil }
func (f *fakeProvider) Cleanup() error                     { return nil }

// failStore 写入必失败的存储替身
type failStore struct{}

func (failStore) Write(name string, data []byte) (storage.Ref, error) {
	return "", platformerrors.New(platformerrors.KindStorage, "store:write", "disk full")
}
func (failStore) Lookup(name string) (storage.Ref, int64, bool) { return "", 0, false }
func (failStore) Exists(ref storage.Ref) bool                   { return false }
func (failStore) Size(ref storage.Ref) int64                    { return 0 }

func newManager(t *testing.T, provider Provider, store storage.Store) *Manager {
	t.Helper()
	m, err := NewManager(ManagerOptions{
		Provider: provider,
		Store:    store,
		MockDur:  100 * time.Millisecond,
	})
	if err != nil {
		t.Fatalf("NewManager() error = %v", err)
	}
	return m
}

func bigWav() []byte {
	// 超过最小体积阈值的假WAV
	data := make([]byte, 25000)
	copy(data, []byte("RIFF"))
	return data
}

func TestSynthesize_EmptyText(t *testing.T) {
	m := newManager(t, &fakeProvider{}, storage.NewMemStore())

	_, err := m.Synthesize(context.Background(), "")
	if !platformerrors.IsKind(err, platformerrors.KindInvalidInput) {
		t.Errorf("expected invalid_input kind, got %v", err)
	}
}

func TestSynthesize_RealBackend(t *testing.T) {
	store := storage.NewMemStore()
	provider := &fakeProvider{available: true, output: bigWav()}
	m := newManager(t, provider, store)

	result, err := m.Synthesize(context.Background(), "こんにちは")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if result.IsMock {
		t.Error("IsMock = true for healthy backend")
	}
	if !store.Exists(result.Ref) {
		t.Error("artifact not resolvable")
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, expected 1", provider.calls)
	}
}

func TestSynthesize_UnavailableBackendFallsBack(t *testing.T) {
	store := storage.NewMemStore()
	provider := &fakeProvider{available: false}
	m := newManager(t, provider, store)

	result, err := m.Synthesize(context.Background(), "我又在遊戲裡失手了…")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !result.IsMock {
		t.Error("IsMock = false for unavailable backend")
	}
	if result.Backend != "mock" {
		t.Errorf("Backend = %q, expected mock", result.Backend)
	}
	if provider.calls != 0 {
		t.Error("provider should not be called when unavailable")
	}
	if !store.Exists(result.Ref) {
		t.Error("mock artifact not resolvable")
	}

	// mock产物必须是合法的固定频率WAV
	data := store.Bytes(HashName("我又在遊戲裡失手了…", "_mock"))
	dec := wav.NewDecoder(bytes.NewReader(data))
	dec.ReadInfo()
	if !dec.IsValidFile() {
		t.Fatal("mock artifact is not a valid wav")
	}
	if dur, _ := dec.Duration(); dur <= 0 {
		t.Error("mock artifact duration should be > 0")
	}
}

func TestSynthesize_BackendErrorFallsBack(t *testing.T) {
	store := storage.NewMemStore()
	provider := &fakeProvider{available: true, err: errors.New("synthesis exploded")}
	m := newManager(t, provider, store)

	result, err := m.Synthesize(context.Background(), "テスト")
	if err != nil {
		t.Fatalf("Synthesize() error = %v, fallback must not raise", err)
	}
	if !result.IsMock {
		t.Error("IsMock = false after backend error")
	}
}

func TestSynthesize_UndersizedOutputFallsBack(t *testing.T) {
	store := storage.NewMemStore()
	provider := &fakeProvider{available: true, output: []byte("tiny")}
	m := newManager(t, provider, store)

	result, err := m.Synthesize(context.Background(), "テスト")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !result.IsMock {
		t.Error("undersized backend output should trigger mock fallback")
	}
}

func TestSynthesize_CacheHit(t *testing.T) {
	store := storage.NewMemStore()
	provider := &fakeProvider{available: true, output: bigWav()}
	m := newManager(t, provider, store)

	first, err := m.Synthesize(context.Background(), "同じ台詞")
	if err != nil {
		t.Fatalf("first Synthesize() error = %v", err)
	}
	second, err := m.Synthesize(context.Background(), "同じ台詞")
	if err != nil {
		t.Fatalf("second Synthesize() error = %v", err)
	}
	if second.Backend != "cache" {
		t.Errorf("Backend = %q, expected cache", second.Backend)
	}
	if first.Ref != second.Ref {
		t.Error("cache hit should reuse the same artifact")
	}
	if provider.calls != 1 {
		t.Errorf("provider calls = %d, expected 1", provider.calls)
	}
}

func TestSynthesize_MockArtifactsNeverCachedAsReal(t *testing.T) {
	store := storage.NewMemStore()
	m := newManager(t, &fakeProvider{available: false}, store)

	first, err := m.Synthesize(context.Background(), "保底")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	second, err := m.Synthesize(context.Background(), "保底")
	if err != nil {
		t.Fatalf("Synthesize() error = %v", err)
	}
	if !first.IsMock || !second.IsMock {
		t.Error("both results should be mock")
	}
	if second.Backend == "cache" {
		t.Error("mock artifacts must not satisfy the real-audio cache")
	}
}

func TestSynthesize_StorageFailureIsFatal(t *testing.T) {
	m := newManager(t, &fakeProvider{available: false}, failStore{})

	_, err := m.Synthesize(context.Background(), "テスト")
	if !platformerrors.IsKind(err, platformerrors.KindStorage) {
		t.Errorf("expected storage kind, got %v", err)
	}
}

func TestSynthesize_ConcurrentDistinctTexts(t *testing.T) {
	store := storage.NewMemStore()
	m := newManager(t, &fakeProvider{available: false}, store)

	const callers = 6
	refs := make([]storage.Ref, callers)
	var wg sync.WaitGroup
	for i := 0; i < callers; i++ {
		wg.Add(1)
		go func(idx int) {
			defer wg.Done()
			result, err := m.Synthesize(context.Background(), fmt.Sprintf("台詞その%d", idx))
			if err != nil {
				t.Errorf("Synthesize() error = %v", err)
				return
			}
			refs[idx] = result.Ref
		}(i)
	}
	wg.Wait()

	seen := make(map[storage.Ref]bool)
	for _, ref := range refs {
		if seen[ref] {
			t.Errorf("duplicate artifact ref %q", ref)
		}
		seen[ref] = true
		if !store.Exists(ref) {
			t.Errorf("artifact %q not resolvable", ref)
		}
	}
}

func TestHashName(t *testing.T) {
	a := HashName("text", "")
	b := HashName("text", "_mock")
	c := HashName("other", "")
	if a == b {
		t.Error("suffix should change artifact name")
	}
	if a == c {
		t.Error("different texts should map to different names")
	}
	if a != HashName("text", "") {
		t.Error("HashName should be deterministic")
	}
}
