package storage

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"

	"github.com/google/uuid"

	platformerrors "murasame-server-go/internal/platform/errors"
)

// Ref 指向一个可回放的音频产物。对磁盘存储来说就是绝对路径，
// 前端拿到后可直接交给播放器。
type Ref string

// Store 抽象音频产物的存取，便于测试时替换为内存实现。
type Store interface {
	// Write 持久化一份产物并返回其引用。name 为产物的逻辑名
	// （通常由文本内容哈希得出），同名写入覆盖旧产物。
	Write(name string, data []byte) (Ref, error)
	// Lookup 按逻辑名查找已存在的产物（缓存命中路径）。
	Lookup(name string) (Ref, int64, bool)
	// Exists 判断引用是否仍可解析到非空产物。
	Exists(ref Ref) bool
	// Size 返回产物字节数，不存在时为0。
	Size(ref Ref) int64
}

// DiskStore 将产物写入本地目录。并发写入不同名字互不干扰；
// 同名并发写入通过“临时文件+重命名”保持原子性。
type DiskStore struct {
	dir string
}

// NewDiskStore 创建磁盘存储并确保目录存在。
func NewDiskStore(dir string) (*DiskStore, error) {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "store:mkdir",
			"创建产物目录失败", err)
	}
	abs, err := filepath.Abs(dir)
	if err != nil {
		return nil, platformerrors.Wrap(platformerrors.KindStorage, "store:abs",
			"解析产物目录失败", err)
	}
	return &DiskStore{dir: abs}, nil
}

// Dir 返回产物目录的绝对路径。
func (s *DiskStore) Dir() string {
	return s.dir
}

func (s *DiskStore) Write(name string, data []byte) (Ref, error) {
	if len(data) == 0 {
		return "", platformerrors.New(platformerrors.KindStorage, "store:write",
			"拒绝写入空产物")
	}

	final := filepath.Join(s.dir, name)
	tmp := filepath.Join(s.dir, fmt.Sprintf("%s.%s.tmp", name, uuid.New().String()))

	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return "", platformerrors.Wrap(platformerrors.KindStorage, "store:write",
			"写入产物失败", err)
	}
	if err := os.Rename(tmp, final); err != nil {
		_ = os.Remove(tmp)
		return "", platformerrors.Wrap(platformerrors.KindStorage, "store:rename",
			"落盘产物失败", err)
	}
	return Ref(final), nil
}

func (s *DiskStore) Lookup(name string) (Ref, int64, bool) {
	path := filepath.Join(s.dir, name)
	info, err := os.Stat(path)
	if err != nil || info.IsDir() || info.Size() == 0 {
		return "", 0, false
	}
	return Ref(path), info.Size(), true
}

func (s *DiskStore) Exists(ref Ref) bool {
	return s.Size(ref) > 0
}

func (s *DiskStore) Size(ref Ref) int64 {
	info, err := os.Stat(string(ref))
	if err != nil || info.IsDir() {
		return 0
	}
	return info.Size()
}

// MemStore 测试用内存实现。
type MemStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

func NewMemStore() *MemStore {
	return &MemStore{blobs: make(map[string][]byte)}
}

func (s *MemStore) Write(name string, data []byte) (Ref, error) {
	if len(data) == 0 {
		return "", platformerrors.New(platformerrors.KindStorage, "store:write",
			"拒绝写入空产物")
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	buf := make([]byte, len(data))
	copy(buf, data)
	s.blobs[name] = buf
	return Ref("mem://" + name), nil
}

func (s *MemStore) Lookup(name string) (Ref, int64, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[name]
	if !ok || len(data) == 0 {
		return "", 0, false
	}
	return Ref("mem://" + name), int64(len(data)), true
}

func (s *MemStore) Exists(ref Ref) bool {
	return s.Size(ref) > 0
}

func (s *MemStore) Size(ref Ref) int64 {
	s.mu.RLock()
	defer s.mu.RUnlock()
	name := string(ref)
	if len(name) > 6 && name[:6] == "mem://" {
		name = name[6:]
	}
	return int64(len(s.blobs[name]))
}

// Bytes 返回逻辑名对应的产物内容，测试断言用。
func (s *MemStore) Bytes(name string) []byte {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.blobs[name]
}
