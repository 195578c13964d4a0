package model

import (
	"context"
	"fmt"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/matrix"
)

// UserBased 基于用户的协同过滤。
//
// pearson：predict(u, i) = μ_u + Σ s(u,v)·(r(v,i) − μ_v) / Σ s(u,v)
// cosine： predict(u, i) = Σ s(u,v)·r(v,i) / Σ s(u,v)
//
// v 取评过 i 且 s(u,v) > 0 的前 K 个用户。
type UserBased struct {
	K            int    // 近邻数，默认 20
	MinCoRatings int    // 相似度所需的最少共同评分物品数，默认 1
	Metric       string // pearson（默认）/ cosine
	Workers      int    // 相似度计算并发度
}

// DefaultUserBased 返回默认参数
func DefaultUserBased() *UserBased {
	return &UserBased{K: 20, MinCoRatings: 1, Metric: MetricPearson}
}

func (a *UserBased) Name() string { return NameUser }

func (a *UserBased) Params() map[string]any {
	cfg := a.normalized()
	return map[string]any{"k": cfg.K, "min_co_ratings": cfg.MinCoRatings, "metric": cfg.Metric}
}

func (a *UserBased) normalized() UserBased {
	cfg := *a
	if cfg.K <= 0 {
		cfg.K = 20
	}
	if cfg.MinCoRatings <= 0 {
		cfg.MinCoRatings = 1
	}
	if cfg.Metric == "" {
		cfg.Metric = MetricPearson
	}
	return cfg
}

func (a *UserBased) Fit(ctx context.Context, ds *Dataset) (Artifact, error) {
	cfg := a.normalized()
	var centred *matrix.Matrix
	switch cfg.Metric {
	case MetricPearson:
		centred = ds.Matrix.CenterRows()
	case MetricCosine:
		centred = ds.Matrix
	default:
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput,
			fmt.Sprintf("user: unsupported metric %q", cfg.Metric))
	}
	sim, err := matrix.PairwiseSimilarity(ctx, matrix.UserView(centred), matrix.SimilarityOptions{
		MinCoRatings: cfg.MinCoRatings,
		Workers:      cfg.Workers,
	})
	if err != nil {
		return nil, fmt.Errorf("user: similarity: %w", err)
	}
	return &userArtifact{cfg: cfg, ds: ds, sim: sim}, nil
}

type userArtifact struct {
	cfg UserBased
	ds  *Dataset
	sim *matrix.Similarity
}

func (c *userArtifact) Name() string { return NameUser }

func (c *userArtifact) KnowsUser(id int64) bool { return c.ds.HasUser(id) }

func (c *userArtifact) KnowsItem(id int64) bool { return c.ds.HasItem(id) }

func (c *userArtifact) CatalogItem(id int64) (core.CatalogItem, bool) { return c.ds.Features.Item(id) }

// SimilarUsers 返回与用户正相关的前 n 个用户
func (c *userArtifact) SimilarUsers(userID int64, n int) ([]core.Similar, error) {
	r, ok := c.ds.Matrix.UserIndex(userID)
	if !ok {
		return nil, unknownUser(NameUser, userID)
	}
	out := make([]core.Similar, 0)
	for _, nb := range c.sim.Neighbors(r) {
		if nb.Score <= 0 || (n > 0 && len(out) == n) {
			break
		}
		out = append(out, core.Similar{ItemID: c.ds.Matrix.UserID(nb.Index), Score: nb.Score})
	}
	return out, nil
}

func (c *userArtifact) Predict(userID, itemID int64) (float64, error) {
	m := c.ds.Matrix
	r, ok := m.UserIndex(userID)
	if !ok {
		return 0, unknownUser(NameUser, userID)
	}
	col, ok := m.ItemIndex(itemID)
	if !ok {
		if c.ds.HasItem(itemID) {
			return 0, undefined(NameUser, userID, itemID)
		}
		return 0, unknownItem(NameUser, itemID)
	}

	pearson := c.cfg.Metric == MetricPearson
	raters, vals := m.Col(col)
	ws := make([]weighted, 0, len(raters))
	for p, v := range raters {
		if v == r {
			continue
		}
		s := c.sim.Get(r, v)
		if s <= 0 {
			continue
		}
		val := vals[p]
		if pearson {
			val -= m.RowMean(v)
		}
		ws = append(ws, weighted{index: v, weight: s, value: val})
	}
	ws = topK(ws, c.cfg.K)
	var num, den float64
	for _, w := range ws {
		num += w.weight * w.value
		den += w.weight
	}
	if den == 0 {
		return 0, undefined(NameUser, userID, itemID)
	}
	pred := num / den
	if pearson {
		pred += m.RowMean(r)
	}
	return core.ClipRating(pred), nil
}

func (c *userArtifact) Recommend(userID int64, n int, exclude map[int64]struct{}) ([]core.Recommendation, error) {
	if !c.ds.HasUser(userID) {
		return popular(c.ds, n, exclude), nil
	}
	return recommend(c.ds, NameUser, userID, n, exclude, func(u, i int64) (float64, map[string]float64, error) {
		s, err := c.Predict(u, i)
		return s, nil, err
	})
}

// Similar user 模型不维护物品相似度，退化为内容相似度。
func (c *userArtifact) Similar(itemID int64, n int) ([]core.Similar, error) {
	if !c.ds.HasItem(itemID) {
		return nil, unknownItem(NameUser, itemID)
	}
	return (&contentArtifact{ds: c.ds}).Similar(itemID, n)
}

func (c *userArtifact) Snapshot() (*Snapshot, error) {
	s := newSnapshot(NameUser, c.cfg.Params(), c.ds)
	s.Similarity = c.sim.Lists()
	return s, nil
}
