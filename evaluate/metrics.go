package evaluate

import (
	"fmt"
	"math"
	"sort"
)

// 指标名称。带 K 的指标形如 "precision@10"。
const (
	MetricRMSE     = "rmse"
	MetricMAE      = "mae"
	MetricCoverage = "coverage"
	// MetricCatalogCoverage 是推荐结果覆盖的候选物品比例
	MetricCatalogCoverage = "catalog_coverage"

	MetricPrecision = "precision"
	MetricRecall    = "recall"
	MetricNDCG      = "ndcg"
	MetricHitRate   = "hit_rate"
	MetricF1        = "f1"

	CounterTestPairs    = "test_pairs"
	CounterScoredPairs  = "scored_pairs"
	CounterRankingUsers = "ranking_users"
	CounterTrainSize    = "train_size"
	CounterTestSize     = "test_size"
)

// AtK 返回带截断位置的指标名
func AtK(metric string, k int) string { return fmt.Sprintf("%s@%d", metric, k) }

// RMSE 均方根误差，errs 为 (真实值 - 预测值)
func RMSE(errs []float64) float64 {
	if len(errs) == 0 {
		return 0
	}
	var s float64
	for _, e := range errs {
		s += e * e
	}
	return math.Sqrt(s / float64(len(errs)))
}

// MAE 平均绝对误差
func MAE(errs []float64) float64 {
	if len(errs) == 0 {
		return 0
	}
	var s float64
	for _, e := range errs {
		s += math.Abs(e)
	}
	return s / float64(len(errs))
}

// CatalogCoverage = |推荐过的候选物品| / |候选物品|，候选为空时为 0。
// 不在候选集中的推荐不计入。
func CatalogCoverage(recommended map[int64]struct{}, candidates []int64) float64 {
	if len(candidates) == 0 {
		return 0
	}
	n := 0
	for _, id := range candidates {
		if _, ok := recommended[id]; ok {
			n++
		}
	}
	return float64(n) / float64(len(candidates))
}

func hits(recs []int64, relevant map[int64]struct{}, k int) int {
	n := 0
	for _, id := range head(recs, k) {
		if _, ok := relevant[id]; ok {
			n++
		}
	}
	return n
}

// PrecisionAtK = |top-K ∩ relevant| / K。推荐不足 K 个时分母仍为 K。
func PrecisionAtK(recs []int64, relevant map[int64]struct{}, k int) float64 {
	if k <= 0 {
		return 0
	}
	return float64(hits(recs, relevant, k)) / float64(k)
}

// RecallAtK = |top-K ∩ relevant| / |relevant|，relevant 为空时为 0。
func RecallAtK(recs []int64, relevant map[int64]struct{}, k int) float64 {
	if len(relevant) == 0 {
		return 0
	}
	return float64(hits(recs, relevant, k)) / float64(len(relevant))
}

// HitRateAtK top-K 中至少命中一个相关物品为 1，否则为 0。
func HitRateAtK(recs []int64, relevant map[int64]struct{}, k int) float64 {
	if hits(recs, relevant, k) > 0 {
		return 1
	}
	return 0
}

// NDCGAtK 使用分级相关性：gain = 2^rating − 1，rating 取用户测试集中的评分（未评分为 0）。
// 理想排序按测试集评分降序取前 K 个；IDCG 为 0 时返回 0。
func NDCGAtK(recs []int64, graded map[int64]float64, k int) float64 {
	var dcg float64
	for pos, id := range head(recs, k) {
		dcg += gain(graded[id]) / math.Log2(float64(pos)+2)
	}
	ideal := make([]float64, 0, len(graded))
	for _, r := range graded {
		ideal = append(ideal, r)
	}
	sortDesc(ideal)
	var idcg float64
	for pos, r := range head(ideal, k) {
		idcg += gain(r) / math.Log2(float64(pos)+2)
	}
	if idcg == 0 {
		return 0
	}
	return dcg / idcg
}

// F1 由 precision 与 recall 计算，两者都为 0 时为 0。
func F1(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func gain(r float64) float64 { return math.Pow(2, r) - 1 }

func head[T any](s []T, k int) []T {
	if k >= 0 && len(s) > k {
		return s[:k]
	}
	return s
}

func sortDesc(s []float64) { sort.Sort(sort.Reverse(sort.Float64Slice(s))) }
