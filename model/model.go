// Package model 实现四种评分预测策略：内容过滤、基于物品的协同过滤、基于用户的协同过滤，
// 以及把三者线性加权的混合模型。
//
// 所有模型遵循同一套契约：Algorithm 负责在训练快照（Dataset）上 Fit，产出只读的 Artifact；
// Artifact 构建后不再修改，可以被任意多个查询并发读取。
package model

import (
	"context"
	"fmt"
	"sort"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/feature"
	"github.com/rushteam/movierec/matrix"
)

// 模型名称
const (
	NameContent = "content"
	NameItem    = "item"
	NameUser    = "user"
	NameHybrid  = "hybrid"
)

// Names 返回全部内置模型名称（固定顺序）
func Names() []string {
	return []string{NameContent, NameItem, NameUser, NameHybrid}
}

// Algorithm 是可训练的推荐策略。
type Algorithm interface {
	// Name 模型名称，同时作为服务层的注册 key
	Name() string

	// Params 返回训练参数（写入评估记录）
	Params() map[string]any

	// Fit 在训练快照上训练，返回只读产物
	Fit(ctx context.Context, ds *Dataset) (Artifact, error)
}

// Artifact 是训练好的模型产物，只读、并发安全。
type Artifact interface {
	Name() string

	// Predict 预测评分，结果落在 [0.5, 5.0]。
	// 无法预测时返回 UNDEFINED_PREDICTION；用户或物品不在训练快照中时返回 UNKNOWN_ENTITY。
	Predict(userID, itemID int64) (float64, error)

	// Recommend 返回用户的 Top-N 推荐：候选为目录 ∪ 已评分物品，排除用户训练集中已评分的与 exclude 中的；
	// 只保留可预测的物品，按分数降序、物品 ID 升序；n <= 0 返回全部。
	// 训练快照之外的用户退化为流行度排序（method 为 popular），混合模型走自身的兜底分。
	Recommend(userID int64, n int, exclude map[int64]struct{}) ([]core.Recommendation, error)

	// Similar 返回与物品正相关的 Top-N 物品（不含自身），按分数降序、物品 ID 升序。
	Similar(itemID int64, n int) ([]core.Similar, error)

	// KnowsUser 用户是否出现在训练快照中
	KnowsUser(userID int64) bool

	// KnowsItem 物品是否出现在训练快照（评分或目录）中
	KnowsItem(itemID int64) bool

	// Snapshot 导出可持久化的快照，用 Restore 还原
	Snapshot() (*Snapshot, error)
}

// UserSimilarity 由能列出相似用户的产物实现（user / hybrid）。
// 结果复用 core.Similar，其中 ItemID 字段存放的是用户 ID。
type UserSimilarity interface {
	SimilarUsers(userID int64, n int) ([]core.Similar, error)
}

// CatalogReader 由能回查目录条目（片名、类型）的产物实现，内置模型都实现了它。
type CatalogReader interface {
	CatalogItem(itemID int64) (core.CatalogItem, bool)
}

// Dataset 是一次训练使用的只读快照：评分矩阵 + 内容特征索引。
type Dataset struct {
	Matrix   *matrix.Matrix
	Features *feature.Index
	Report   matrix.Report

	candidates []int64
}

// DatasetOptions 是构建训练快照时的数据清洗规则，在线训练与离线评估共用。
type DatasetOptions struct {
	// Strict 遇到非法评分直接返回 DATA_ERROR，否则丢弃并计数
	Strict bool
	// RestrictToCatalog 丢弃目录之外物品的评分
	RestrictToCatalog bool
}

// MatrixOptions 返回对应的矩阵构建选项，catalog 用于 RestrictToCatalog。
func (o DatasetOptions) MatrixOptions(catalog []core.CatalogItem) []matrix.Option {
	opts := []matrix.Option{matrix.WithStrict(o.Strict)}
	if o.RestrictToCatalog {
		ids := make([]int64, len(catalog))
		for n, it := range catalog {
			ids[n] = it.ID
		}
		opts = append(opts, matrix.WithKnownItems(ids))
	}
	return opts
}

// NewDataset 由评分记录与物品目录构建训练快照。
func NewDataset(ratings []core.Rating, catalog []core.CatalogItem, opts ...matrix.Option) (*Dataset, error) {
	m, report, err := matrix.Build(ratings, opts...)
	if err != nil {
		return nil, err
	}
	ds := newDataset(m, catalog)
	ds.Report = report
	return ds, nil
}

func newDataset(m *matrix.Matrix, catalog []core.CatalogItem) *Dataset {
	ds := &Dataset{Matrix: m, Features: feature.NewIndex(catalog)}
	seen := make(map[int64]struct{})
	for _, id := range ds.Features.IDs() {
		seen[id] = struct{}{}
	}
	for _, id := range m.ItemIDs() {
		seen[id] = struct{}{}
	}
	ds.candidates = make([]int64, 0, len(seen))
	for id := range seen {
		ds.candidates = append(ds.candidates, id)
	}
	sort.Slice(ds.candidates, func(a, b int) bool { return ds.candidates[a] < ds.candidates[b] })
	return ds
}

// Candidates 返回候选物品集合（目录 ∪ 已评分物品，升序，只读）
func (ds *Dataset) Candidates() []int64 { return ds.candidates }

// HasUser 用户是否有训练评分
func (ds *Dataset) HasUser(id int64) bool {
	_, ok := ds.Matrix.UserIndex(id)
	return ok
}

// HasItem 物品是否在目录或评分中出现
func (ds *Dataset) HasItem(id int64) bool {
	if ds.Features.Has(id) {
		return true
	}
	_, ok := ds.Matrix.ItemIndex(id)
	return ok
}

// Rated 返回用户在训练集中评过分的物品集合
func (ds *Dataset) Rated(userID int64) map[int64]struct{} {
	r, ok := ds.Matrix.UserIndex(userID)
	if !ok {
		return nil
	}
	idx, _ := ds.Matrix.Row(r)
	out := make(map[int64]struct{}, len(idx))
	for _, c := range idx {
		out[ds.Matrix.ItemID(c)] = struct{}{}
	}
	return out
}

// Prior 是冷启动兜底分：物品平均分，物品无评分时取全局平均分。
// 返回值说明采用了哪一种；训练集为空时返回 false。
func (ds *Dataset) Prior(itemID int64) (float64, string, bool) {
	if c, ok := ds.Matrix.ItemIndex(itemID); ok {
		return core.ClipRating(ds.Matrix.ColMean(c)), FallbackItemMean, true
	}
	if ds.Matrix.NNZ() == 0 {
		return 0, "", false
	}
	return core.ClipRating(ds.Matrix.GlobalMean()), FallbackGlobalMean, true
}

// 兜底策略名称
const (
	FallbackItemMean   = "item_mean"
	FallbackGlobalMean = "global_mean"
)

// MethodPopular 是未见用户的推荐方法
const MethodPopular = "popular"

// popular 为训练快照之外的用户给出流行度排序：兜底分降序，评分数降序，物品 ID 升序。
// 分数即 Prior，因此与混合模型的冷启动分数一致。
func popular(ds *Dataset, n int, exclude map[int64]struct{}) []core.Recommendation {
	type ranked struct {
		rec   core.Recommendation
		count int
	}
	rows := make([]ranked, 0, len(ds.candidates))
	for _, id := range ds.candidates {
		if _, ok := exclude[id]; ok {
			continue
		}
		score, how, ok := ds.Prior(id)
		if !ok {
			continue
		}
		count := 0
		if c, ok := ds.Matrix.ItemIndex(id); ok {
			raters, _ := ds.Matrix.Col(c)
			count = len(raters)
		}
		rows = append(rows, ranked{
			rec:   core.Recommendation{ItemID: id, Score: score, Method: MethodPopular, Components: map[string]float64{how: score}},
			count: count,
		})
	}
	sort.Slice(rows, func(a, b int) bool {
		if rows[a].rec.Score != rows[b].rec.Score {
			return rows[a].rec.Score > rows[b].rec.Score
		}
		if rows[a].count != rows[b].count {
			return rows[a].count > rows[b].count
		}
		return rows[a].rec.ItemID < rows[b].rec.ItemID
	})
	if n > 0 && len(rows) > n {
		rows = rows[:n]
	}
	out := make([]core.Recommendation, len(rows))
	for k, r := range rows {
		out[k] = r.rec
	}
	return out
}

// scoreFunc 为 (user, item) 打分；components 为可选的分量得分。
type scoreFunc func(userID, itemID int64) (score float64, components map[string]float64, err error)

// recommend 是所有模型共用的 Top-N 生成逻辑。
func recommend(ds *Dataset, method string, userID int64, n int, exclude map[int64]struct{}, score scoreFunc) ([]core.Recommendation, error) {
	rated := ds.Rated(userID)
	out := make([]core.Recommendation, 0)
	for _, id := range ds.candidates {
		if _, ok := rated[id]; ok {
			continue
		}
		if _, ok := exclude[id]; ok {
			continue
		}
		s, comps, err := score(userID, id)
		if err != nil {
			if core.IsUndefinedPrediction(err) {
				continue
			}
			return nil, err
		}
		out = append(out, core.Recommendation{ItemID: id, Score: s, Method: method, Components: comps})
	}
	SortRecommendations(out)
	if n > 0 && len(out) > n {
		out = out[:n]
	}
	return out, nil
}

// SortRecommendations 按分数降序、物品 ID 升序排序。
func SortRecommendations(recs []core.Recommendation) {
	sort.Slice(recs, func(a, b int) bool {
		if recs[a].Score != recs[b].Score {
			return recs[a].Score > recs[b].Score
		}
		return recs[a].ItemID < recs[b].ItemID
	})
}

// SortSimilar 按分数降序、物品 ID 升序排序。
func SortSimilar(sims []core.Similar) {
	sort.Slice(sims, func(a, b int) bool {
		if sims[a].Score != sims[b].Score {
			return sims[a].Score > sims[b].Score
		}
		return sims[a].ItemID < sims[b].ItemID
	})
}

// weighted 是参与加权平均的一项
type weighted struct {
	index  int
	weight float64
	value  float64
}

// topK 按权重降序、下标升序保留前 k 个；k <= 0 全部保留。
func topK(ws []weighted, k int) []weighted {
	sort.Slice(ws, func(a, b int) bool {
		if ws[a].weight != ws[b].weight {
			return ws[a].weight > ws[b].weight
		}
		return ws[a].index < ws[b].index
	})
	if k > 0 && len(ws) > k {
		ws = ws[:k]
	}
	return ws
}

func unknownUser(model string, id int64) error {
	return core.NewDomainError(core.ModuleModel, core.ErrorCodeUnknownEntity,
		fmt.Sprintf("%s: user %d not in training snapshot", model, id))
}

func unknownItem(model string, id int64) error {
	return core.NewDomainError(core.ModuleModel, core.ErrorCodeUnknownEntity,
		fmt.Sprintf("%s: item %d not in training snapshot", model, id))
}

func undefined(model string, userID, itemID int64) error {
	return fmt.Errorf("%s: user %d item %d: %w", model, userID, itemID, core.ErrUndefinedPrediction)
}
