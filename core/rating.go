package core

import (
	"context"
	"time"
)

// 评分取值范围（MovieLens 五星半分制）。
const (
	MinRating = 0.5
	MaxRating = 5.0
)

// Rating 是一条原始评分记录：(user, item, rating, timestamp)。
// 评分记录只追加不修改；同一 (UserID, ItemID) 重复提交时，以最新一条为准。
type Rating struct {
	UserID    int64     `json:"userId" bson:"userId"`
	ItemID    int64     `json:"movieId" bson:"movieId"`
	Value     float64   `json:"rating" bson:"rating"`
	Timestamp time.Time `json:"timestamp" bson:"timestamp"`
}

// ValidRating 判断评分值是否落在 [MinRating, MaxRating]。
func ValidRating(v float64) bool {
	return v >= MinRating && v <= MaxRating
}

// ClipRating 把预测值截断到合法评分区间。
func ClipRating(v float64) float64 {
	if v < MinRating {
		return MinRating
	}
	if v > MaxRating {
		return MaxRating
	}
	return v
}

// CatalogItem 是物品目录中的一项，Tags 通常是电影类型（genres）。
type CatalogItem struct {
	ID    int64    `json:"movieId" bson:"movieId"`
	Title string   `json:"title" bson:"title"`
	Tags  []string `json:"genres" bson:"genres"`
	Year  int      `json:"year,omitempty" bson:"year,omitempty"`
}

// RatingSource 是持久化层暴露给推荐核心的只读契约。
//
// 实现：
//   - store.MemorySource：测试 / 原型
//   - store.CSVSource：MovieLens CSV 离线文件
//   - store.MongoSource：线上 MongoDB（ratings / movies 集合）
type RatingSource interface {
	// Name 返回数据源名称（用于日志/监控）
	Name() string

	// Ratings 返回训练快照所需的全部评分记录
	Ratings(ctx context.Context) ([]Rating, error)

	// Catalog 返回物品目录
	Catalog(ctx context.Context) ([]CatalogItem, error)
}
