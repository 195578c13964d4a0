// Package builders 注册内置的 Pipeline 节点构建器（filter / rerank.*）。
// 使用方式：import _ "github.com/rushteam/movierec/config/builders"
package builders

import (
	"fmt"
	"sync"

	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/filter"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/conv"
	"github.com/rushteam/movierec/rerank"
)

func init() {
	config.Register("filter", BuildFilterNode)
	config.Register("rerank.topn", BuildTopNNode)
	config.Register("rerank.sort", BuildSortNode)
	config.Register("rerank.dedup", BuildDedupNode)
	config.Register("rerank.diversity", BuildDiversityNode)
}

var (
	storeMu sync.RWMutex
	store   core.Store
)

// UseStore 设置 blacklist / user_block 过滤器读取列表的存储。
// 未设置时这两类过滤器只使用配置中的静态列表。
func UseStore(s core.Store) {
	storeMu.Lock()
	defer storeMu.Unlock()
	store = s
}

func storeAdapter() *filter.StoreAdapter {
	storeMu.RLock()
	defer storeMu.RUnlock()
	if store == nil {
		return nil
	}
	return filter.NewStoreAdapter(store)
}

// BuildFilterNode 构建过滤节点，配置形如：
//
//	filters:
//	  - type: blacklist
//	    item_ids: [1, 2]
//	    key: blacklist:global
//	  - type: user_block
//	    key_prefix: user:block
//	  - type: expr
//	    expr: item.score < 2.5
//	    invert: false
//	  - type: exclude
func BuildFilterNode(cfg map[string]any) (pipeline.Node, error) {
	filtersConfig, ok := cfg["filters"].([]any)
	if !ok {
		return nil, fmt.Errorf("filters not found or invalid")
	}
	filters := make([]filter.Filter, 0, len(filtersConfig))
	for _, fc := range filtersConfig {
		filterMap, ok := fc.(map[string]any)
		if !ok {
			continue
		}
		filterType := conv.ConfigGet(filterMap, "type", "")
		switch filterType {
		case "blacklist":
			ids := conv.SliceAnyToInt64(filterMap["item_ids"])
			key := conv.ConfigGet(filterMap, "key", "")
			filters = append(filters, filter.NewBlacklistFilter(ids, storeAdapter(), key))
		case "user_block":
			keyPrefix := conv.ConfigGet(filterMap, "key_prefix", "")
			filters = append(filters, filter.NewUserBlockFilter(storeAdapter(), keyPrefix))
		case "exclude":
			filters = append(filters, filter.ExcludeFilter{})
		case "expr":
			expr := conv.ConfigGet(filterMap, "expr", "")
			if expr == "" {
				return nil, fmt.Errorf("expr filter: expr is required")
			}
			f, err := filter.NewExprFilter(expr, conv.ConfigGet(filterMap, "invert", false))
			if err != nil {
				return nil, fmt.Errorf("expr filter: %w", err)
			}
			filters = append(filters, f)
		default:
			return nil, fmt.Errorf("unknown filter type: %s", filterType)
		}
	}
	return &filter.FilterNode{Filters: filters}, nil
}

func BuildTopNNode(cfg map[string]any) (pipeline.Node, error) {
	n := conv.ConfigGetInt64(cfg, "n", 0)
	if n < 0 {
		return nil, fmt.Errorf("rerank.topn: n must be >= 0, got %d", n)
	}
	return &rerank.TopNNode{N: int(n)}, nil
}

func BuildSortNode(map[string]any) (pipeline.Node, error) {
	return rerank.SortNode{}, nil
}

func BuildDedupNode(map[string]any) (pipeline.Node, error) {
	return rerank.DedupNode{}, nil
}

// BuildDiversityNode 配置：max_per_genre（默认 1）、label_key（默认 genre）
func BuildDiversityNode(cfg map[string]any) (pipeline.Node, error) {
	n := conv.ConfigGetInt64(cfg, "max_per_genre", 1)
	if n <= 0 {
		return nil, fmt.Errorf("rerank.diversity: max_per_genre must be > 0, got %d", n)
	}
	return &rerank.Diversity{MaxPerGenre: int(n), LabelKey: conv.ConfigGet(cfg, "label_key", "")}, nil
}
