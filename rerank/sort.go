package rerank

import (
	"context"
	"sort"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pipeline"
)

// SortNode 按分数降序、物品 ID 升序稳定排序。
type SortNode struct{}

func (SortNode) Name() string        { return "rerank.sort" }
func (SortNode) Kind() pipeline.Kind { return pipeline.KindReRank }

func (SortNode) Process(_ context.Context, _ *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	sort.SliceStable(items, func(a, b int) bool {
		if items[a].Score != items[b].Score {
			return items[a].Score > items[b].Score
		}
		return items[a].ID < items[b].ID
	})
	return items, nil
}

// DedupNode 按物品 ID 去重，保留第一次出现的物品并合并后出现者的 Label。
type DedupNode struct{}

func (DedupNode) Name() string        { return "rerank.dedup" }
func (DedupNode) Kind() pipeline.Kind { return pipeline.KindReRank }

func (DedupNode) Process(_ context.Context, _ *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	seen := make(map[int64]*core.Item, len(items))
	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		if old, ok := seen[it.ID]; ok {
			for k, v := range it.Labels {
				if _, dup := old.Labels[k]; !dup {
					old.PutLabel(k, v)
				}
			}
			continue
		}
		seen[it.ID] = it
		out = append(out, it)
	}
	return out, nil
}
