package model

import (
	"context"
	"fmt"

	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/core"
)

// Weights 是混合模型三个分量的权重，非负，不要求和为 1。
type Weights struct {
	Content float64 `json:"content" yaml:"content"`
	Item    float64 `json:"item" yaml:"item"`
	User    float64 `json:"user" yaml:"user"`
}

// DefaultWeights 等权
func DefaultWeights() Weights { return Weights{Content: 1, Item: 1, User: 1} }

func (w Weights) of(name string) float64 {
	switch name {
	case NameContent:
		return w.Content
	case NameItem:
		return w.Item
	case NameUser:
		return w.User
	}
	return 0
}

// Hybrid 把内容、物品、用户三个分量线性加权。
//
// 某个分量无法预测时不参与加权（而不是按 0 计），权重在可用分量之间重新归一化；
// 三个分量都无法预测时使用兜底分（物品平均分，物品无评分时取全局平均分）。
// 因此只要物品在目录或评分中出现，混合模型总能给出分数，包括从未出现过的用户。
type Hybrid struct {
	// Weights 全为 0 时使用 DefaultWeights
	Weights Weights

	Content *ContentBased
	Item    *ItemBased
	User    *UserBased
}

// DefaultHybrid 返回默认配置的混合模型
func DefaultHybrid() *Hybrid {
	return &Hybrid{
		Weights: DefaultWeights(),
		Content: &ContentBased{},
		Item:    DefaultItemBased(),
		User:    DefaultUserBased(),
	}
}

func (a *Hybrid) Name() string { return NameHybrid }

func (a *Hybrid) normalized() Hybrid {
	cfg := *a
	if cfg.Weights == (Weights{}) {
		cfg.Weights = DefaultWeights()
	}
	if cfg.Content == nil {
		cfg.Content = &ContentBased{}
	}
	if cfg.Item == nil {
		cfg.Item = DefaultItemBased()
	}
	if cfg.User == nil {
		cfg.User = DefaultUserBased()
	}
	return cfg
}

func (a *Hybrid) Params() map[string]any {
	cfg := a.normalized()
	return map[string]any{
		"weights": map[string]any{
			NameContent: cfg.Weights.Content,
			NameItem:    cfg.Weights.Item,
			NameUser:    cfg.Weights.User,
		},
		NameContent: cfg.Content.Params(),
		NameItem:    cfg.Item.Params(),
		NameUser:    cfg.User.Params(),
	}
}

// Fit 并发训练三个分量。
func (a *Hybrid) Fit(ctx context.Context, ds *Dataset) (Artifact, error) {
	cfg := a.normalized()
	w := cfg.Weights
	if w.Content < 0 || w.Item < 0 || w.User < 0 {
		return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeInvalidInput,
			fmt.Sprintf("hybrid: negative weight %+v", w))
	}

	algs := []Algorithm{cfg.Content, cfg.Item, cfg.User}
	arts := make([]Artifact, len(algs))
	eg, ctx := errgroup.WithContext(ctx)
	for i, alg := range algs {
		i, alg := i, alg
		eg.Go(func() error {
			art, err := alg.Fit(ctx, ds)
			if err != nil {
				return fmt.Errorf("hybrid: fit %s: %w", alg.Name(), err)
			}
			arts[i] = art
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return &hybridArtifact{
		weights:    w,
		ds:         ds,
		components: arts,
	}, nil
}

type hybridArtifact struct {
	weights    Weights
	ds         *Dataset
	components []Artifact // content, item, user
}

// ComponentScore 是混合预测中一个分量的明细。
type ComponentScore struct {
	Name    string  `json:"name"`
	Score   float64 `json:"score,omitempty"`
	Defined bool    `json:"defined"`
	Weight  float64 `json:"weight"`  // 配置权重
	Applied float64 `json:"applied"` // 归一化后实际使用的权重
	Reason  string  `json:"reason,omitempty"`
}

// Explanation 是混合预测的可解释结果。
type Explanation struct {
	UserID     int64            `json:"userId"`
	ItemID     int64            `json:"movieId"`
	Score      float64          `json:"score"`
	Components []ComponentScore `json:"components"`
	// Fallback 非空表示所有分量均无法预测，Score 来自兜底分（item_mean / global_mean）
	Fallback string `json:"fallback,omitempty"`
}

// Explainer 由能解释单次预测的产物实现（混合模型）。
type Explainer interface {
	Explain(userID, itemID int64) (Explanation, error)
}

func (h *hybridArtifact) Name() string { return NameHybrid }

// SimilarUsers 委托给用户协同分量
func (h *hybridArtifact) SimilarUsers(userID int64, n int) ([]core.Similar, error) {
	for _, c := range h.components {
		if us, ok := c.(UserSimilarity); ok {
			return us.SimilarUsers(userID, n)
		}
	}
	return nil, core.NewDomainError(core.ModuleModel, core.ErrorCodeNotSupported,
		"model: hybrid has no user-based component")
}

// KnowsUser 报告训练快照中是否存在该用户；未见用户同样可以预测。
func (h *hybridArtifact) KnowsUser(id int64) bool { return h.ds.HasUser(id) }

func (h *hybridArtifact) KnowsItem(id int64) bool { return h.ds.HasItem(id) }

func (h *hybridArtifact) CatalogItem(id int64) (core.CatalogItem, bool) { return h.ds.Features.Item(id) }

func (h *hybridArtifact) Explain(userID, itemID int64) (Explanation, error) {
	exp := Explanation{UserID: userID, ItemID: itemID}
	if !h.ds.HasItem(itemID) {
		return exp, unknownItem(NameHybrid, itemID)
	}

	var num, total float64
	for _, comp := range h.components {
		cs := ComponentScore{Name: comp.Name(), Weight: h.weights.of(comp.Name())}
		if cs.Weight <= 0 {
			cs.Reason = "disabled"
			exp.Components = append(exp.Components, cs)
			continue
		}
		s, err := comp.Predict(userID, itemID)
		switch {
		case err == nil:
			cs.Score, cs.Defined = s, true
			num += cs.Weight * s
			total += cs.Weight
		case core.IsUndefinedPrediction(err):
			cs.Reason = "undefined"
		case core.IsUnknownEntity(err):
			cs.Reason = "unknown_user"
		default:
			return exp, err
		}
		exp.Components = append(exp.Components, cs)
	}

	if total > 0 {
		for n := range exp.Components {
			if exp.Components[n].Defined {
				exp.Components[n].Applied = exp.Components[n].Weight / total
			}
		}
		exp.Score = core.ClipRating(num / total)
		return exp, nil
	}

	prior, how, ok := h.ds.Prior(itemID)
	if !ok {
		return exp, undefined(NameHybrid, userID, itemID)
	}
	exp.Score, exp.Fallback = prior, how
	return exp, nil
}

func (h *hybridArtifact) Predict(userID, itemID int64) (float64, error) {
	exp, err := h.Explain(userID, itemID)
	if err != nil {
		return 0, err
	}
	return exp.Score, nil
}

func (h *hybridArtifact) Recommend(userID int64, n int, exclude map[int64]struct{}) ([]core.Recommendation, error) {
	return recommend(h.ds, NameHybrid, userID, n, exclude, func(u, i int64) (float64, map[string]float64, error) {
		exp, err := h.Explain(u, i)
		if err != nil {
			return 0, nil, err
		}
		comps := make(map[string]float64, len(exp.Components))
		for _, cs := range exp.Components {
			if cs.Defined {
				comps[cs.Name] = cs.Score
			}
		}
		if exp.Fallback != "" {
			comps[exp.Fallback] = exp.Score
		}
		return exp.Score, comps, nil
	})
}

// Similar 按 Content / Item 权重混合内容相似度与物品协同相似度，只保留正分。
func (h *hybridArtifact) Similar(itemID int64, n int) ([]core.Similar, error) {
	if !h.ds.HasItem(itemID) {
		return nil, unknownItem(NameHybrid, itemID)
	}
	wc, wi := 0.0, 0.0
	if h.ds.Features.Has(itemID) {
		wc = h.weights.Content
	}
	if _, ok := h.ds.Matrix.ItemIndex(itemID); ok {
		wi = h.weights.Item
	}
	if wc+wi <= 0 {
		return []core.Similar{}, nil
	}

	itemSim := h.components[1].(*itemArtifact)
	out := make([]core.Similar, 0)
	for _, j := range h.ds.candidates {
		if j == itemID {
			continue
		}
		var s float64
		if wc > 0 && h.ds.Features.Has(j) {
			cs, err := h.ds.Features.Similarity(itemID, j)
			if err != nil {
				return nil, err
			}
			s += wc * cs
		}
		if wi > 0 {
			s += wi * itemSim.Similarity(itemID, j)
		}
		s /= wc + wi
		if s > 0 {
			out = append(out, core.Similar{ItemID: j, Score: s})
		}
	}
	SortSimilar(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

func (h *hybridArtifact) Snapshot() (*Snapshot, error) {
	s := newSnapshot(NameHybrid, map[string]any{
		"weights": map[string]any{
			NameContent: h.weights.Content,
			NameItem:    h.weights.Item,
			NameUser:    h.weights.User,
		},
	}, h.ds)
	s.Components = make(map[string]*Snapshot, len(h.components))
	for _, comp := range h.components {
		cs, err := comp.Snapshot()
		if err != nil {
			return nil, err
		}
		// 分量与混合模型共享同一份训练快照
		cs.Entries, cs.Catalog = nil, nil
		s.Components[comp.Name()] = cs
	}
	return s, nil
}
