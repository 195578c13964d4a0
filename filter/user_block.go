package filter

import (
	"context"

	"github.com/rushteam/movierec/core"
)

// UserBlockFilter 过滤用户标记为 "不感兴趣" 的电影。
type UserBlockFilter struct {
	// Store 用于从存储中读取用户屏蔽列表
	Store UserBlockStore

	// KeyPrefix 是 Store 中的 key 前缀，实际 key 为 {KeyPrefix}:{UserID}
	KeyPrefix string
}

// UserBlockStore 是用户屏蔽列表存储接口。
type UserBlockStore interface {
	// GetUserBlocks 获取用户屏蔽的物品 ID 列表
	GetUserBlocks(ctx context.Context, userID int64, keyPrefix string) ([]int64, error)
}

// NewUserBlockFilter 创建一个用户屏蔽过滤器。
func NewUserBlockFilter(storeAdapter *StoreAdapter, keyPrefix string) *UserBlockFilter {
	var store UserBlockStore
	if storeAdapter != nil {
		store = storeAdapter
	}
	return &UserBlockFilter{
		Store:     store,
		KeyPrefix: keyPrefix,
	}
}

func (f *UserBlockFilter) Name() string {
	return "filter.user_block"
}

func (f *UserBlockFilter) keyPrefix() string {
	if f.KeyPrefix == "" {
		return "user:block"
	}
	return f.KeyPrefix
}

func (f *UserBlockFilter) Prepare(ctx context.Context, rctx *core.RecommendContext) (Filter, error) {
	if f.Store == nil || rctx == nil || rctx.UserID == 0 {
		return newIDSet(f.Name()), nil
	}
	ids, err := f.Store.GetUserBlocks(ctx, rctx.UserID, f.keyPrefix())
	if err != nil && !core.IsStoreNotFound(err) {
		return nil, err
	}
	return newIDSet(f.Name(), ids), nil
}

func (f *UserBlockFilter) ShouldFilter(
	ctx context.Context,
	rctx *core.RecommendContext,
	item *core.Item,
) (bool, error) {
	if item == nil {
		return false, nil
	}
	set, err := f.Prepare(ctx, rctx)
	if err != nil {
		return false, err
	}
	return set.ShouldFilter(ctx, rctx, item)
}
