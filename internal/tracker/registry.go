package tracker

import (
	"errors"
	"fmt"
	"sort"

	"github.com/linjuya-lu/device-tracker-go/internal/emulation"
)

type State int

const (
	StateActive State = iota
	StateDisconnected
)

func (s State) String() string {
	if s == StateActive {
		return "active"
	}
	return "disconnected"
}

// Session 是一个逻辑追踪器对应的虚拟追踪器
type Session struct {
	Name      string
	Transport emulation.Transport
	State     State
	Battery   Battery

	hasBattery bool
}

// Entry 为注册表快照中的一项，Session 为 nil 表示已断开
type Entry struct {
	Name    string
	Session *Session
}

// Registry 是追踪器名称到虚拟追踪器的权威映射。
// 值为 nil 表示曾经连接、当前已断开；键不存在表示从未出现。
// 只在协调器的事件协程中使用，不加锁。
type Registry struct {
	sessions map[string]*Session
}

func NewRegistry() *Registry {
	return &Registry{sessions: make(map[string]*Session)}
}

// Get 返回会话；known 表示键是否存在
func (r *Registry) Get(name string) (s *Session, known bool) {
	s, known = r.sessions[name]
	return s, known
}

// Active 返回处于活动状态的会话，否则返回 nil
func (r *Registry) Active(name string) *Session {
	if s := r.sessions[name]; s != nil && s.State == StateActive {
		return s
	}
	return nil
}

func (r *Registry) Insert(s *Session) {
	s.State = StateActive
	r.sessions[s.Name] = s
}

// MarkDisconnected 把值置空但保留键，返回原会话
func (r *Registry) MarkDisconnected(name string) *Session {
	s, ok := r.sessions[name]
	if !ok {
		return nil
	}
	if s != nil {
		s.State = StateDisconnected
	}
	r.sessions[name] = nil
	return s
}

// ClearAll 注销所有活动会话并清空注册表
func (r *Registry) ClearAll() error {
	var errs []error
	for _, name := range r.names(false) {
		s := r.sessions[name]
		if s == nil {
			continue
		}
		s.State = StateDisconnected
		if err := s.Transport.Deinit(); err != nil {
			errs = append(errs, fmt.Errorf("注销追踪器 %s 失败: %w", name, err))
		}
	}
	r.sessions = make(map[string]*Session)
	return errors.Join(errs...)
}

// SortedSnapshot 返回按名称排序的全部条目
func (r *Registry) SortedSnapshot() []Entry {
	names := r.names(false)
	out := make([]Entry, 0, len(names))
	for _, name := range names {
		out = append(out, Entry{Name: name, Session: r.sessions[name]})
	}
	return out
}

// ActiveNames 返回按名称排序的活动追踪器
func (r *Registry) ActiveNames() []string {
	return r.names(true)
}

// Each 按名称顺序遍历活动会话
func (r *Registry) Each(fn func(s *Session)) {
	for _, name := range r.names(true) {
		fn(r.sessions[name])
	}
}

func (r *Registry) Len() int {
	return len(r.sessions)
}

func (r *Registry) names(activeOnly bool) []string {
	out := make([]string, 0, len(r.sessions))
	for name, s := range r.sessions {
		if activeOnly && (s == nil || s.State != StateActive) {
			continue
		}
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}
