package core

import "github.com/rushteam/movierec/pkg/utils"

// Item 是推荐链路中的统一承载结构：特征、分数、元信息、标签。
// Labels 用于解释与策略驱动；Score 用于排序决策；
// Features 承载混合模型各分量得分（content / item / user）。
type Item struct {
	ID       int64
	Score    float64
	Features map[string]float64
	Meta     map[string]any
	Labels   map[string]utils.Label
}

func NewItem(id int64) *Item {
	return &Item{
		ID:       id,
		Score:    0,
		Features: make(map[string]float64),
		Meta:     make(map[string]any),
		Labels:   make(map[string]utils.Label),
	}
}

// PutLabel 写入 Label；若已存在同名 key，则按默认 Merge 规则累积。
func (it *Item) PutLabel(key string, lbl utils.Label) {
	if it.Labels == nil {
		it.Labels = make(map[string]utils.Label)
	}
	if old, ok := it.Labels[key]; ok {
		it.Labels[key] = utils.MergeLabel(old, lbl)
		return
	}
	it.Labels[key] = lbl
}

// Recommendation 是对外返回的一行推荐结果。
// 列表整体按 Score 严格非增排序，分数相同按 ItemID 升序。
type Recommendation struct {
	ItemID     int64              `json:"movieId"`
	Score      float64            `json:"score"`
	Method     string             `json:"method"`
	Components map[string]float64 `json:"componentScores,omitempty"`

	// Title / Genres 来自物品目录，只在服务层查询结果中填充
	Title  string   `json:"title,omitempty"`
	Genres []string `json:"genres,omitempty"`
}

// Similar 是 similarTo 返回的一行结果。
type Similar struct {
	ItemID int64   `json:"movieId"`
	Score  float64 `json:"similarity"`
}
