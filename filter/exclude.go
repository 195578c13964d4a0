package filter

import (
	"context"

	"github.com/rushteam/movierec/core"
)

// ExcludeFilter 过滤请求级排除集合（RecommendContext.Exclude）中的物品。
type ExcludeFilter struct{}

func (ExcludeFilter) Name() string { return "filter.exclude" }

func (ExcludeFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	return rctx.Excluded(item.ID), nil
}
