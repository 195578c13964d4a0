// Package movierec 是一个电影推荐引擎。
//
// 设计要点：
// - Fit 产出只读的模型产物，发布是原子替换，查询只读取已发布的产物
// - 查询走 Pipeline：模型召回 -> 过滤 -> 去重 -> 排序 -> 截断，过滤与重排节点可由配置追加
// - Labels 全链路透传，记录召回来源与模型版本
package movierec

import (
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/service"
)

// 轻量 facade：便于直接 import "movierec" 使用核心抽象。
type (
	Service          = service.Service
	RecommendRequest = service.RecommendRequest
	Option           = service.Option

	Pipeline = pipeline.Pipeline
	Node     = pipeline.Node
	Kind     = pipeline.Kind
)

const (
	KindRecall = pipeline.KindRecall
	KindFilter = pipeline.KindFilter
	KindReRank = pipeline.KindReRank
)

// New 在评分数据源上创建推荐服务，见 service.New。
func New(source core.RatingSource, opts ...Option) (*Service, error) {
	return service.New(source, opts...)
}
