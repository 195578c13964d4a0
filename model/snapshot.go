package model

import (
	"fmt"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/matrix"
	"github.com/rushteam/movierec/pkg/conv"
)

// Snapshot 是模型产物的可序列化形式：训练快照 + 参数 + 预计算的相似度表。
// 混合模型的分量放在 Components 中，分量共享顶层的 Entries / Catalog。
type Snapshot struct {
	Name       string               `json:"name"`
	Params     map[string]any       `json:"params"`
	Entries    []matrix.Entry       `json:"entries,omitempty"`
	Catalog    []core.CatalogItem   `json:"catalog,omitempty"`
	Similarity [][]matrix.Neighbor  `json:"similarity,omitempty"`
	Components map[string]*Snapshot `json:"components,omitempty"`
}

func newSnapshot(name string, params map[string]any, ds *Dataset) *Snapshot {
	return &Snapshot{
		Name:    name,
		Params:  params,
		Entries: ds.Matrix.Entries(),
		Catalog: ds.Features.Catalog(),
	}
}

// Restore 由快照还原只读产物，不重新计算相似度。
func Restore(s *Snapshot) (Artifact, error) {
	if s == nil {
		return nil, invalidSnapshot("nil snapshot")
	}
	ds := newDataset(matrix.FromEntries(s.Entries), s.Catalog)
	return restore(s, ds)
}

func restore(s *Snapshot, ds *Dataset) (Artifact, error) {
	switch s.Name {
	case NameContent:
		cfg := contentFromParams(s.Params)
		return &contentArtifact{cfg: *cfg, ds: ds}, nil

	case NameItem:
		cfg := itemFromParams(s.Params).normalized()
		if len(s.Similarity) != ds.Matrix.NumItems() {
			return nil, invalidSnapshot(fmt.Sprintf("item: %d similarity rows for %d items", len(s.Similarity), ds.Matrix.NumItems()))
		}
		return &itemArtifact{cfg: cfg, ds: ds, sim: matrix.FromNeighbors(s.Similarity)}, nil

	case NameUser:
		cfg := userFromParams(s.Params).normalized()
		if len(s.Similarity) != ds.Matrix.NumUsers() {
			return nil, invalidSnapshot(fmt.Sprintf("user: %d similarity rows for %d users", len(s.Similarity), ds.Matrix.NumUsers()))
		}
		return &userArtifact{cfg: cfg, ds: ds, sim: matrix.FromNeighbors(s.Similarity)}, nil

	case NameHybrid:
		h := &hybridArtifact{weights: weightsFromParams(s.Params), ds: ds}
		for _, name := range []string{NameContent, NameItem, NameUser} {
			cs, ok := s.Components[name]
			if !ok || cs == nil {
				return nil, invalidSnapshot("hybrid: missing component " + name)
			}
			art, err := restore(cs, ds)
			if err != nil {
				return nil, err
			}
			h.components = append(h.components, art)
		}
		return h, nil
	}
	return nil, invalidSnapshot(fmt.Sprintf("unknown model %q", s.Name))
}

func invalidSnapshot(msg string) error {
	return core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput, "model: invalid snapshot: "+msg)
}

// 以下参数解析兼容 YAML / JSON 解码后的 map[string]any（数值可能是 int 或 float64）。

func contentFromParams(p map[string]any) *ContentBased {
	return &ContentBased{K: int(conv.ConfigGetInt64(p, "k", 0))}
}

func itemFromParams(p map[string]any) *ItemBased {
	return &ItemBased{
		K:            int(conv.ConfigGetInt64(p, "k", 20)),
		MinCoRatings: int(conv.ConfigGetInt64(p, "min_co_ratings", 1)),
		Metric:       conv.ConfigGet(p, "metric", MetricAdjustedCosine),
		Workers:      int(conv.ConfigGetInt64(p, "workers", 0)),
	}
}

func userFromParams(p map[string]any) *UserBased {
	return &UserBased{
		K:            int(conv.ConfigGetInt64(p, "k", 20)),
		MinCoRatings: int(conv.ConfigGetInt64(p, "min_co_ratings", 1)),
		Metric:       conv.ConfigGet(p, "metric", MetricPearson),
		Workers:      int(conv.ConfigGetInt64(p, "workers", 0)),
	}
}

func weightsFromParams(p map[string]any) Weights {
	raw := conv.ConfigGet[map[string]any](p, "weights", nil)
	if raw == nil {
		return DefaultWeights()
	}
	w := Weights{}
	w.Content, _ = conv.ToFloat64(raw[NameContent])
	w.Item, _ = conv.ToFloat64(raw[NameItem])
	w.User, _ = conv.ToFloat64(raw[NameUser])
	return w
}

// New 按名称与参数构造算法，params 可以为 nil（使用默认参数）。
//
// hybrid 的参数形如：
//
//	weights: {content: 0.3, item: 0.35, user: 0.35}
//	item: {k: 20, metric: adjusted_cosine}
//	user: {k: 20, metric: pearson}
//	content: {k: 0}
func New(name string, params map[string]any) (Algorithm, error) {
	switch name {
	case NameContent:
		return contentFromParams(params), nil
	case NameItem:
		return itemFromParams(params), nil
	case NameUser:
		return userFromParams(params), nil
	case NameHybrid:
		h := &Hybrid{Weights: weightsFromParams(params)}
		h.Content = contentFromParams(conv.ConfigGet[map[string]any](params, NameContent, nil))
		h.Item = itemFromParams(conv.ConfigGet[map[string]any](params, NameItem, nil))
		h.User = userFromParams(conv.ConfigGet[map[string]any](params, NameUser, nil))
		return h, nil
	}
	return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeUnknownModel,
		fmt.Sprintf("model: unknown algorithm %q", name))
}
