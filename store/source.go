package store

import (
	"context"
	"sync"

	"github.com/rushteam/movierec/core"
)

// MemorySource 是内存中的评分数据源，用于测试与原型。
// Add / AddItems 可在两次训练之间追加数据，已返回的切片不受影响。
type MemorySource struct {
	mu      sync.RWMutex
	ratings []core.Rating
	catalog []core.CatalogItem
}

func NewMemorySource(ratings []core.Rating, catalog []core.CatalogItem) *MemorySource {
	return &MemorySource{
		ratings: append([]core.Rating(nil), ratings...),
		catalog: append([]core.CatalogItem(nil), catalog...),
	}
}

func (s *MemorySource) Name() string { return "memory" }

func (s *MemorySource) Ratings(ctx context.Context) ([]core.Rating, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.Rating(nil), s.ratings...), nil
}

func (s *MemorySource) Catalog(ctx context.Context) ([]core.CatalogItem, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	s.mu.RLock()
	defer s.mu.RUnlock()
	return append([]core.CatalogItem(nil), s.catalog...), nil
}

// Add 追加评分记录
func (s *MemorySource) Add(ratings ...core.Rating) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.ratings = append(s.ratings, ratings...)
}

// AddItems 追加目录条目
func (s *MemorySource) AddItems(items ...core.CatalogItem) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.catalog = append(s.catalog, items...)
}

var _ core.RatingSource = (*MemorySource)(nil)
