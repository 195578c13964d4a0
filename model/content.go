package model

import (
	"context"

	"github.com/rushteam/movierec/core"
)

// ContentBased 基于 TF-IDF 内容相似度的评分预测。
//
// predict(u, i) = Σ sim(i, j) · r(u, j) / Σ sim(i, j)，j 取用户评过分且与 i 内容相似度 > 0 的物品，
// 按相似度保留前 K 个。
type ContentBased struct {
	// K 参与加权的最相似已评分物品数，<= 0 表示全部
	K int
}

func (a *ContentBased) Name() string { return NameContent }

func (a *ContentBased) Params() map[string]any {
	return map[string]any{"k": a.K}
}

func (a *ContentBased) Fit(ctx context.Context, ds *Dataset) (Artifact, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return &contentArtifact{cfg: *a, ds: ds}, nil
}

type contentArtifact struct {
	cfg ContentBased
	ds  *Dataset
}

func (c *contentArtifact) Name() string { return NameContent }

func (c *contentArtifact) KnowsUser(id int64) bool { return c.ds.HasUser(id) }

func (c *contentArtifact) KnowsItem(id int64) bool { return c.ds.HasItem(id) }

func (c *contentArtifact) CatalogItem(id int64) (core.CatalogItem, bool) { return c.ds.Features.Item(id) }

func (c *contentArtifact) Predict(userID, itemID int64) (float64, error) {
	r, ok := c.ds.Matrix.UserIndex(userID)
	if !ok {
		return 0, unknownUser(NameContent, userID)
	}
	if !c.ds.HasItem(itemID) {
		return 0, unknownItem(NameContent, itemID)
	}
	if !c.ds.Features.Has(itemID) {
		return 0, undefined(NameContent, userID, itemID)
	}

	m := c.ds.Matrix
	idx, vals := m.Row(r)
	ws := make([]weighted, 0, len(idx))
	for p, col := range idx {
		j := m.ItemID(col)
		if j == itemID || !c.ds.Features.Has(j) {
			continue
		}
		s, err := c.ds.Features.Similarity(itemID, j)
		if err != nil {
			return 0, err
		}
		if s > 0 {
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
		return 0, undefined(NameContent, userID, itemID)
	}
	return core.ClipRating(num / den), nil
}

func (c *contentArtifact) Recommend(userID int64, n int, exclude map[int64]struct{}) ([]core.Recommendation, error) {
	if !c.ds.HasUser(userID) {
		return popular(c.ds, n, exclude), nil
	}
	return recommend(c.ds, NameContent, userID, n, exclude, func(u, i int64) (float64, map[string]float64, error) {
		s, err := c.Predict(u, i)
		return s, nil, err
	})
}

func (c *contentArtifact) Similar(itemID int64, n int) ([]core.Similar, error) {
	if !c.ds.HasItem(itemID) {
		return nil, unknownItem(NameContent, itemID)
	}
	if !c.ds.Features.Has(itemID) {
		return []core.Similar{}, nil
	}
	all, err := c.ds.Features.SimilarItems(itemID, 0)
	if err != nil {
		return nil, err
	}
	out := make([]core.Similar, 0, len(all))
	for _, s := range all {
		if s.Score <= 0 {
			break
		}
		out = append(out, s)
		if n > 0 && len(out) == n {
			break
		}
	}
	return out, nil
}

func (c *contentArtifact) Snapshot() (*Snapshot, error) {
	return newSnapshot(NameContent, c.cfg.Params(), c.ds), nil
}
