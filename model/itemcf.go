package model

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/matrix"
)

// 相似度度量
const (
	MetricAdjustedCosine = "adjusted_cosine" // 按用户均值中心化后的物品余弦
	MetricCosine         = "cosine"          // 原始评分余弦
	MetricPearson        = "pearson"         // 按向量自身均值中心化后的余弦
)

// ItemBased 基于物品的协同过滤。
//
// predict(u, i) = Σ sim(i, j) · r(u, j) / Σ sim(i, j)，j 取用户评过分且 sim(i, j) > 0 的前 K 个物品。
type ItemBased struct {
	K            int    // 近邻数，默认 20
	MinCoRatings int    // 相似度所需的最少共同评分用户数，默认 1
	Metric       string // adjusted_cosine（默认）/ cosine / pearson
	Workers      int    // 相似度计算并发度
}

// DefaultItemBased 返回默认参数
func DefaultItemBased() *ItemBased {
	return &ItemBased{K: 20, MinCoRatings: 1, Metric: MetricAdjustedCosine}
}

func (a *ItemBased) Name() string { return NameItem }

func (a *ItemBased) Params() map[string]any {
	cfg := a.normalized()
	return map[string]any{"k": cfg.K, "min_co_ratings": cfg.MinCoRatings, "metric": cfg.Metric}
}

func (a *ItemBased) normalized() ItemBased {
	cfg := *a
	if cfg.K <= 0 {
		cfg.K = 20
	}
	if cfg.MinCoRatings <= 0 {
		cfg.MinCoRatings = 1
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricAdjustedCosine
	}
	return cfg
}

func (a *ItemBased) Fit(ctx context.Context, ds *Dataset) (Artifact, error) {
	cfg := a.normalized()
	var centred *matrix.Matrix
	switch cfg.Metric {
	case MetricAdjustedCosine:
		centred = ds.Matrix.CenterRows()
	case MetricPearson:
		centred = ds.Matrix.CenterCols()
	case MetricCosine:
		centred = ds.Matrix
	default:
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput,
			fmt.Sprintf("item: unsupported metric %q", cfg.Metric))
	}
	sim, err := matrix.PairwiseSimilarity(ctx, matrix.ItemView(centred), matrix.SimilarityOptions{
		MinCoRatings: cfg.MinCoRatings,
		Workers:      cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("item: similarity: %w", err)
	}
	return &itemArtifact{cfg: cfg, ds: ds, sim: sim}, nil
}

type itemArtifact struct {
	cfg ItemBased
	ds  *Dataset
	sim *matrix.Similarity
}

func (c *itemArtifact) Name() string { return NameItem }

func (c *itemArtifact) KnowsUser(id int64) bool { return c.ds.HasUser(id) }

func (c *itemArtifact) KnowsItem(id int64) bool { return c.ds.HasItem(id) }

func (c *itemArtifact) CatalogItem(id int64) (core.CatalogItem, bool) { return c.ds.Features.Item(id) }

// Similarity 返回两个物品的相似度（任一未评分时为 0）
func (c *itemArtifact) Similarity(a, b int64) float64 {
	ca, ok := c.ds.Matrix.ItemIndex(a)
	if !ok {
		return 0
	}
	cb, ok := c.ds.Matrix.ItemIndex(b)
	if !ok {
		return 0
	}
	return c.sim.Get(ca, cb)
}

func (c *itemArtifact) Predict(userID, itemID int64) (float64, error) {
	m := c.ds.Matrix
	r, ok := m.UserIndex(userID)
	if !ok {
		return 0, unknownUser(NameItem, userID)
	}
	target, ok := m.ItemIndex(itemID)
	if !ok {
		if c.ds.HasItem(itemID) {
			return 0, undefined(NameItem, userID, itemID)
		}
		return 0, unknownItem(NameItem, itemID)
	}

	idx, vals := m.Row(r)
	ws := make([]weighted, 0, len(idx))
	for p, col := range idx {
		if col == target {
			continue
		}
		if s := c.sim.Get(target, col); s > 0 {
			ws = append(ws, weighted{index: col, weight: s, value: vals[p]})
		}
	}
	ws = topK(ws, c.cfg.K)
	var num, den float64
	for _, w := range ws {
		num += w.weight * w.value
		den += w.weight
	}
	if den == 0 {
		return 0, undefined(NameItem, userID, itemID)
	}
	return core.ClipRating(num / den), nil
}

func (c *itemArtifact) Recommend(userID int64, n int, exclude map[int64]struct{}) ([]core.Recommendation, error) {
	if !c.ds.HasUser(userID) {
		return popular(c.ds, n, exclude), nil
	}
	return recommend(c.ds, NameItem, userID, n, exclude, func(u, i int64) (float64, map[string]float64, error) {
		s, err := c.Predict(u, i)
		return s, nil, err
	})
}

func (c *itemArtifact) Similar(itemID int64, n int) ([]core.Similar, error) {
	col, ok := c.ds.Matrix.ItemIndex(itemID)
	if !ok {
		// 只在目录中出现、没有评分的物品退化为内容相似度
		if c.ds.HasItem(itemID) {
			return (&contentArtifact{ds: c.ds}).Similar(itemID, n)
		}
		return nil, unknownItem(NameItem, itemID)
	}
	// 列下标与物品 ID 同序，邻居表的顺序即 (分数降序, ID 升序)
	out := make([]core.Similar, 0)
	for _, nb := range c.sim.Neighbors(col) {
		if nb.Score <= 0 || (n > 0 && len(out) == n) {
			break
		}
		out = append(out, core.Similar{ItemID: c.ds.Matrix.ItemID(nb.Index), Score: nb.Score})
	}
	return out, nil
}

func (c *itemArtifact) Snapshot() (*Snapshot, error) {
	s := newSnapshot(NameItem, c.cfg.Params(), c.ds)
	s.Similarity = c.sim.Lists()
	return s, nil
}
