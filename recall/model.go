package recall

import (
	"context"
	"strconv"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/utils"
)

// Item.Meta 中的目录字段
const (
	MetaTitle  = "title"
	MetaGenres = "genres"
)

var _ Source = (*ModelRecall)(nil)

// ModelRecall 把训练好的模型产物作为召回源：按预测分给出全部可推荐物品。
//
// 召回不做截断，也不处理请求级排除集合，这两件事分别交给 rerank.TopNNode 与 filter.ExcludeFilter。
// 每个物品写入以下 Label：
//   - recall_source: 模型名
//   - method: 推荐方法（同模型名）
//   - model_version: 产物版本号
//
// 混合模型的分量得分写入 Item.Features（content / item / user / item_mean / global_mean）。
// 产物实现 model.CatalogReader 时，片名与类型写入 Item.Meta（title / genres）。
type ModelRecall struct {
	Artifact model.Artifact
	Version  int
}

func (r *ModelRecall) Name() string        { return "recall.model" }
func (r *ModelRecall) Kind() pipeline.Kind { return pipeline.KindRecall }

func (r *ModelRecall) Recall(ctx context.Context, rctx *core.RecommendContext) ([]*core.Item, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	recs, err := r.Artifact.Recommend(rctx.UserID, 0, nil)
	if err != nil {
		return nil, err
	}

	version := strconv.Itoa(r.Version)
	catalog, _ := r.Artifact.(model.CatalogReader)
	out := make([]*core.Item, 0, len(recs))
	for _, rec := range recs {
		it := core.NewItem(rec.ItemID)
		it.Score = rec.Score
		for k, v := range rec.Components {
			it.Features[k] = v
		}
		it.PutLabel("recall_source", utils.Label{Value: r.Artifact.Name(), Source: "recall"})
		it.PutLabel("method", utils.Label{Value: rec.Method, Source: "recall"})
		it.PutLabel("model_version", utils.Label{Value: version, Source: "recall"})
		if catalog != nil {
			if ci, ok := catalog.CatalogItem(rec.ItemID); ok {
				it.Meta[MetaTitle] = ci.Title
				it.Meta[MetaGenres] = ci.Tags
			}
		}
		out = append(out, it)
	}
	return out, nil
}

// Process 把召回结果追加到已有候选之后。
func (r *ModelRecall) Process(ctx context.Context, rctx *core.RecommendContext, items []*core.Item) ([]*core.Item, error) {
	recalled, err := r.Recall(ctx, rctx)
	if err != nil {
		return nil, err
	}
	return append(items, recalled...), nil
}

// ToRecommendations 把 Pipeline 输出还原为对外结果。
func ToRecommendations(items []*core.Item) []core.Recommendation {
	out := make([]core.Recommendation, 0, len(items))
	for _, it := range items {
		if it == nil {
			continue
		}
		rec := core.Recommendation{ItemID: it.ID, Score: it.Score}
		if lbl, ok := it.Labels["method"]; ok {
			rec.Method = lbl.Value
		}
		rec.Title, _ = it.Meta[MetaTitle].(string)
		rec.Genres, _ = it.Meta[MetaGenres].([]string)
		if len(it.Features) > 0 {
			rec.Components = make(map[string]float64, len(it.Features))
			for k, v := range it.Features {
				rec.Components[k] = v
			}
		}
		out = append(out, rec)
	}
	return out
}
