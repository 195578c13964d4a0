package core

import (
	"context"
	"time"
)

// MetricsRecord 是一次离线评估产出的模型指标记录。
//
// 每个 ModelName 同一时刻只有一条 IsActive 记录；重新评估会插入新版本并
// 翻转 active 标记，历史记录保留，不会原地覆盖。
type MetricsRecord struct {
	ModelName  string             `json:"modelName" bson:"modelName"`
	Version    int                `json:"version" bson:"version"`
	RunID      string             `json:"runId" bson:"runId"`
	Metrics    map[string]float64 `json:"metrics" bson:"metrics"`
	Parameters map[string]any     `json:"parameters" bson:"parameters"`
	TrainedAt  time.Time          `json:"trainedAt" bson:"trainedAt"`
	IsActive   bool               `json:"isActive" bson:"isActive"`
}

// MetricsRepository 是指标记录的存储契约，Evaluator 是唯一写入方。
//
// Publish 必须是按 ModelName 的原子 "插入新版本 + 清除旧 active" 操作，
// 读者任何时刻都不会看到同一模型的两条 active 记录。
type MetricsRepository interface {
	// Publish 写入新记录：分配 Version = 上一版本 + 1，标记为 active，并降级旧 active 记录
	Publish(ctx context.Context, rec MetricsRecord) (MetricsRecord, error)

	// Active 返回模型当前 active 的记录；不存在时返回 NOT_FOUND
	Active(ctx context.Context, modelName string) (MetricsRecord, error)

	// History 按版本升序返回模型的全部记录
	History(ctx context.Context, modelName string) ([]MetricsRecord, error)
}

// ErrMetricsNotFound 表示模型还没有任何评估记录。
var ErrMetricsNotFound = NewDomainError(ModuleEvaluate, ErrorCodeNotFound, "evaluate: no metrics record")
