package service

import (
	"sort"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rushteam/movierec/model"
)

// Published 是一次发布的模型产物，发布后不可修改。
type Published struct {
	Name     string
	Version  int
	Artifact model.Artifact
	FittedAt time.Time
	// LoadedAt 训练所用数据快照的读取时间；从持久化存储恢复的产物为零值
	LoadedAt time.Time
}

// DefaultHistorySize 每个模型默认保留的历史版本数
const DefaultHistorySize = 3

// Registry 按模型名保存当前发布的产物。
//
// 读路径（Current）只做一次原子指针读取，不加锁；发布是整体替换指针，
// 并发查询要么看到旧产物、要么看到新产物，不会看到训练中的中间状态。
// 模型名集合在构造时固定，之后 slots 只读。
type Registry struct {
	slots       map[string]*slot
	historySize int
}

type slot struct {
	current atomic.Pointer[Published]

	mu      sync.Mutex // 保护 history 与 version
	version int
	history []*Published // 按版本升序，最多 historySize 个
}

// NewRegistry 为 names 中的每个模型创建发布槽位。
func NewRegistry(names []string, historySize int) *Registry {
	if historySize <= 0 {
		historySize = DefaultHistorySize
	}
	r := &Registry{slots: make(map[string]*slot, len(names)), historySize: historySize}
	for _, name := range names {
		r.slots[name] = &slot{}
	}
	return r
}

// Names 返回已注册的模型名（升序）
func (r *Registry) Names() []string {
	out := make([]string, 0, len(r.slots))
	for name := range r.slots {
		out = append(out, name)
	}
	sort.Strings(out)
	return out
}

// Has 模型名是否已注册
func (r *Registry) Has(name string) bool {
	_, ok := r.slots[name]
	return ok
}

// Current 返回当前发布的产物
func (r *Registry) Current(name string) (*Published, bool) {
	s, ok := r.slots[name]
	if !ok {
		return nil, false
	}
	p := s.current.Load()
	return p, p != nil
}

// Publish 以 "上一版本 + 1" 发布新产物，loadedAt 是训练数据快照的读取时间。
//
// 同一模型的并发训练按完成顺序到达这里。当前产物来自更晚读取的快照时，
// 新产物被丢弃（版本号不增加），返回当前产物且 fresh 为 false。
func (r *Registry) Publish(name string, art model.Artifact, loadedAt, fittedAt time.Time) (p *Published, fresh, ok bool) {
	s, ok := r.slots[name]
	if !ok {
		return nil, false, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur := s.current.Load(); cur != nil && cur.LoadedAt.After(loadedAt) {
		return cur, false, true
	}
	s.version++
	p = &Published{Name: name, Version: s.version, Artifact: art, FittedAt: fittedAt, LoadedAt: loadedAt}
	return r.install(s, p), true, true
}

// Install 以指定版本发布产物（从持久化存储恢复时使用）。后续 Publish 从 max(当前版本, version) + 1 继续。
func (r *Registry) Install(name string, art model.Artifact, version int, fittedAt time.Time) (*Published, bool) {
	s, ok := r.slots[name]
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.version = max(s.version, version)
	return r.install(s, &Published{Name: name, Version: version, Artifact: art, FittedAt: fittedAt}), true
}

func (r *Registry) install(s *slot, p *Published) *Published {
	hist := make([]*Published, 0, len(s.history)+1)
	for _, h := range s.history {
		if h.Version != p.Version {
			hist = append(hist, h)
		}
	}
	hist = append(hist, p)
	sort.Slice(hist, func(a, b int) bool { return hist[a].Version < hist[b].Version })
	if len(hist) > r.historySize {
		hist = hist[len(hist)-r.historySize:]
	}
	s.history = hist
	s.current.Store(p)
	return p
}

// Lookup 按版本查找仍在历史窗口内的产物
func (r *Registry) Lookup(name string, version int) (*Published, bool) {
	s, ok := r.slots[name]
	if !ok {
		return nil, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.history {
		if p.Version == version {
			return p, true
		}
	}
	return nil, false
}

// Versions 返回历史窗口内的版本号（升序）
func (r *Registry) Versions(name string) []int {
	s, ok := r.slots[name]
	if !ok {
		return nil
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]int, len(s.history))
	for n, p := range s.history {
		out[n] = p.Version
	}
	return out
}
