package core

import "github.com/rushteam/movierec/pkg/utils"

// RecommendContext 承载一次查询的用户/模型/请求参数，贯穿整个 Pipeline 透传。
type RecommendContext struct {
	UserID int64
	Model  string

	// N 是请求的结果数量（<= 0 表示不截断）
	N int

	// Exclude 是调用方额外要求排除的物品（如已曝光、已收藏）
	Exclude map[int64]struct{}

	// Labels 是请求级标签，可驱动 Pipeline 行为
	Labels map[string]utils.Label

	// Params 请求级上下文参数（CEL 表达式中以 rctx.params 访问）
	Params map[string]any
}

// Excluded 判断物品是否在请求的排除集合中。
func (rctx *RecommendContext) Excluded(itemID int64) bool {
	if rctx == nil || rctx.Exclude == nil {
		return false
	}
	_, ok := rctx.Exclude[itemID]
	return ok
}

// PutLabel 写入请求级 Label。
func (rctx *RecommendContext) PutLabel(key string, lbl utils.Label) {
	if rctx.Labels == nil {
		rctx.Labels = make(map[string]utils.Label)
	}
	if old, ok := rctx.Labels[key]; ok {
		rctx.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	rctx.Labels[key] = lbl
}

// GetLabel 获取请求级 Label。
func (rctx *RecommendContext) GetLabel(key string) (utils.Label, bool) {
	if rctx.Labels == nil {
		return utils.Label{}, false
	}
	lbl, ok := rctx.Labels[key]
	return lbl, ok
}
