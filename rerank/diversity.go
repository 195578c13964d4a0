package rerank

import (
	"context"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/recall"
)

// Diversity 按类型打散：以物品的第一个类型为准，每个类型最多保留 MaxPerGenre 个，
// 按输入顺序保留靠前的物品，因此应放在按分数有序的列表之后。
// 类型来源优先级：
//   - label[LabelKey].Value
//   - meta["genres"] 的第一个元素（recall.ModelRecall 写入）
//
// 没有类型的物品总是保留。
type Diversity struct {
	// MaxPerGenre 默认 1
	MaxPerGenre int
	// LabelKey 默认 "genre"
	LabelKey string
}

func (n *Diversity) Name() string {
	return "rerank.diversity"
}

func (n *Diversity) Kind() pipeline.Kind {
	return pipeline.KindReRank
}

func (n *Diversity) Process(
	_ context.Context,
	_ *core.RecommendContext,
	items []*core.Item,
) ([]*core.Item, error) {
	if len(items) == 0 {
		return items, nil
	}
	limit := n.MaxPerGenre
	if limit <= 0 {
		limit = 1
	}
	key := n.LabelKey
	if key == "" {
		key = "genre"
	}

	seen := make(map[string]int, 32)
	out := make([]*core.Item, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		genre := primaryGenre(it, key)
		if genre == "" {
			out = append(out, it)
			continue
		}
		if seen[genre] >= limit {
			continue
		}
		seen[genre]++
		out = append(out, it)
	}
	return out, nil
}

func primaryGenre(it *core.Item, key string) string {
	if lbl, ok := it.Labels[key]; ok && lbl.Value != "" {
		return lbl.Value
	}
	if genres, ok := it.Meta[recall.MetaGenres].([]string); ok && len(genres) > 0 {
		return genres[0]
	}
	return ""
}
