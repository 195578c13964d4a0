package filter

import (
	"context"

	"github.com/rushteam/movierec/core"
)

// Filter 是过滤器的抽象接口，用于判断一个 Item 是否应该被过滤掉。
// 返回 true 表示应该过滤（移除），false 表示保留。
type Filter interface {
	// Name 返回过滤器名称
	Name() string

	// ShouldFilter 判断 item 是否应该被过滤
	ShouldFilter(ctx context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error)
}

// Preparer 由需要按请求加载数据的过滤器实现（如从存储读取黑名单）。
// FilterNode 每次 Process 调用一次 Prepare，然后用返回的过滤器逐个判断。
type Preparer interface {
	Prepare(ctx context.Context, rctx *core.RecommendContext) (Filter, error)
}

// idSet 是按物品 ID 过滤的请求级过滤器
type idSet struct {
	name string
	ids  map[int64]struct{}
}

func (s *idSet) Name() string { return s.name }

func (s *idSet) ShouldFilter(_ context.Context, _ *core.RecommendContext, item *core.Item) (bool, error) {
	_, ok := s.ids[item.ID]
	return ok, nil
}

func newIDSet(name string, lists ...[]int64) *idSet {
	s := &idSet{name: name, ids: make(map[int64]struct{})}
	for _, l := range lists {
		for _, id := range l {
			s.ids[id] = struct{}{}
		}
	}
	return s
}
