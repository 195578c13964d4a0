package store

import (
	"context"
	"sync"

	"github.com/rushteam/movierec/core"
)

// MemoryMetricsRepository 是内存实现的指标仓库，Publish 在同一把锁内完成版本分配与 active 翻转。
type MemoryMetricsRepository struct {
	mu      sync.RWMutex
	records map[string][]core.MetricsRecord // 按版本升序
}

func NewMemoryMetricsRepository() *MemoryMetricsRepository {
	return &MemoryMetricsRepository{records: make(map[string][]core.MetricsRecord)}
}

func (r *MemoryMetricsRepository) Publish(ctx context.Context, rec core.MetricsRecord) (core.MetricsRecord, error) {
	if err := ctx.Err(); err != nil {
		return rec, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()

	hist := r.records[rec.ModelName]
	for n := range hist {
		hist[n].IsActive = false
	}
	rec.Version = 1
	if len(hist) > 0 {
		rec.Version = hist[len(hist)-1].Version + 1
	}
	rec.IsActive = true
	rec = cloneRecord(rec)
	r.records[rec.ModelName] = append(hist, rec)
	return cloneRecord(rec), nil
}

func (r *MemoryMetricsRepository) Active(_ context.Context, name string) (core.MetricsRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hist := r.records[name]
	for n := len(hist) - 1; n >= 0; n-- {
		if hist[n].IsActive {
			return cloneRecord(hist[n]), nil
		}
	}
	return core.MetricsRecord{}, core.NewDomainError(core.ModuleEvaluate, core.ErrorCodeNotFound,
		"evaluate: no metrics record for "+name)
}

func (r *MemoryMetricsRepository) History(_ context.Context, name string) ([]core.MetricsRecord, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	hist := r.records[name]
	out := make([]core.MetricsRecord, len(hist))
	for n, rec := range hist {
		out[n] = cloneRecord(rec)
	}
	return out, nil
}

// cloneRecord 复制记录中的 map，仓库内外互不影响
func cloneRecord(rec core.MetricsRecord) core.MetricsRecord {
	rec.Metrics = cloneMetrics(rec.Metrics)
	if rec.Parameters != nil {
		rec.Parameters = cloneValue(rec.Parameters).(map[string]any)
	}
	return rec
}

// cloneValue 深拷贝 YAML / JSON 形态的参数值
func cloneValue(v any) any {
	switch val := v.(type) {
	case map[string]any:
		out := make(map[string]any, len(val))
		for k, x := range val {
			out[k] = cloneValue(x)
		}
		return out
	case []any:
		out := make([]any, len(val))
		for n, x := range val {
			out[n] = cloneValue(x)
		}
		return out
	case []int:
		return append([]int(nil), val...)
	case []string:
		return append([]string(nil), val...)
	case []float64:
		return append([]float64(nil), val...)
	}
	return v
}

func cloneMetrics(m map[string]float64) map[string]float64 {
	if m == nil {
		return nil
	}
	out := make(map[string]float64, len(m))
	for k, v := range m {
		out[k] = v
	}
	return out
}

var _ core.MetricsRepository = (*MemoryMetricsRepository)(nil)
