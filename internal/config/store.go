package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"gopkg.in/yaml.v3"
)

// 设置文件的顶层键
const (
	KeyGlobal   = "global"
	KeyTrackers = "trackers"
)

// Store 是按路径读写的设置存储。
// 合并写入时 map 逐层合并，数组整体替换而不是逐项合并。
type Store interface {
	Get(path ...string) (any, bool)
	Has(path ...string) bool
	Set(path []string, value any) error
	Merge(tree map[string]any) error
}

// FileStore 把设置树保存在 YAML 文件中。
// path 为空时只保存在内存中（用于测试）。
type FileStore struct {
	// mu 保护 tree 以及文件写入
	mu   sync.RWMutex
	path string
	tree map[string]any
}

// OpenFileStore 读取设置文件，文件不存在时创建空文件
func OpenFileStore(path string) (*FileStore, error) {
	s := &FileStore{path: path, tree: make(map[string]any)}
	raw, err := os.ReadFile(path)
	if err != nil {
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("无法读取设置文件 %s：%w", path, err)
		}
		if err := s.save(); err != nil {
			return nil, err
		}
		return s, nil
	}
	if err := yaml.Unmarshal(raw, &s.tree); err != nil {
		return nil, fmt.Errorf("解析设置文件 %s 失败：%w", path, err)
	}
	if s.tree == nil {
		s.tree = make(map[string]any)
	}
	return s, nil
}

// NewMemoryStore 返回不落盘的设置存储
func NewMemoryStore() *FileStore {
	return &FileStore{tree: make(map[string]any)}
}

// SplitPath 把 "global.trackers.heartbeatInterval" 形式的路径拆成各级键
func SplitPath(dotted string) []string {
	if dotted == "" {
		return nil
	}
	return strings.Split(dotted, ".")
}

// Get 返回路径上的值，不存在时 ok 为 false。返回值是副本。
func (s *FileStore) Get(path ...string) (any, bool) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	v, ok := lookup(s.tree, path)
	if !ok {
		return nil, false
	}
	return clone(v), true
}

// Has 判断路径是否存在
func (s *FileStore) Has(path ...string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := lookup(s.tree, path)
	return ok
}

// Set 在路径上写入值并保存
func (s *FileStore) Set(path []string, value any) error {
	if len(path) == 0 {
		return fmt.Errorf("设置路径为空")
	}
	tree := map[string]any{path[len(path)-1]: value}
	for i := len(path) - 2; i >= 0; i-- {
		tree = map[string]any{path[i]: tree}
	}
	return s.Merge(tree)
}

// Merge 把 tree 合并进设置树并保存
func (s *FileStore) Merge(tree map[string]any) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	mergeInto(s.tree, tree)
	return s.save()
}

// Snapshot 返回整个设置树的副本
func (s *FileStore) Snapshot() map[string]any {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return clone(s.tree).(map[string]any)
}

// save 先写临时文件再重命名，调用方需持有写锁
func (s *FileStore) save() error {
	if s.path == "" {
		return nil
	}
	raw, err := yaml.Marshal(s.tree)
	if err != nil {
		return fmt.Errorf("序列化设置失败：%w", err)
	}
	if dir := filepath.Dir(s.path); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return fmt.Errorf("创建设置目录失败：%w", err)
		}
	}
	tmp := s.path + ".tmp"
	if err := os.WriteFile(tmp, raw, 0o644); err != nil {
		return fmt.Errorf("写入设置文件失败：%w", err)
	}
	if err := os.Rename(tmp, s.path); err != nil {
		return fmt.Errorf("替换设置文件失败：%w", err)
	}
	return nil
}

func lookup(tree map[string]any, path []string) (any, bool) {
	var cur any = tree
	for _, key := range path {
		m, ok := asMap(cur)
		if !ok {
			return nil, false
		}
		cur, ok = m[key]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

// mergeInto 逐层合并 map；数组及其它类型的值直接覆盖
func mergeInto(dst, src map[string]any) {
	for k, v := range src {
		if sm, ok := asMap(v); ok {
			if dm, ok := asMap(dst[k]); ok {
				mergeInto(dm, sm)
				dst[k] = dm
				continue
			}
			dst[k] = clone(sm)
			continue
		}
		dst[k] = clone(v)
	}
}

func asMap(v any) (map[string]any, bool) {
	switch m := v.(type) {
	case map[string]any:
		return m, true
	case map[any]any:
		out := make(map[string]any, len(m))
		for k, e := range m {
			out[fmt.Sprint(k)] = e
		}
		return out, true
	}
	return nil, false
}

func clone(v any) any {
	switch x := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(x))
		for k, e := range x {
			out[k] = clone(e)
		}
		return out
	case map[any]any:
		m, _ := asMap(x)
		return clone(m)
	case []any:
		out := make([]any, len(x))
		for i, e := range x {
			out[i] = clone(e)
		}
		return out
	case []int:
		return append([]int(nil), x...)
	case []string:
		return append([]string(nil), x...)
	case []byte:
		return append([]byte(nil), x...)
	}
	return v
}
