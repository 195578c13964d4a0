package evaluate

import (
	"context"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pkg/dsl"
	"github.com/rushteam/movierec/store"
)

var t0 = time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)

func rt(u, i int64, v float64, day int) core.Rating {
	return core.Rating{UserID: u, ItemID: i, Value: v, Timestamp: t0.AddDate(0, 0, day)}
}

// 8 个用户各评 6 部电影，另有一个只评过 1 部的用户 99。
func syntheticRatings() []core.Rating {
	var out []core.Rating
	for u := int64(1); u <= 8; u++ {
		for i := int64(1); i <= 6; i++ {
			v := 1 + float64((u*i+u)%9)/2
			out = append(out, rt(u, i, v, int(i)))
		}
	}
	return append(out, rt(99, 3, 4, 1))
}

func syntheticCatalog() []core.CatalogItem {
	tags := [][]string{{"Action"}, {"Action", "Drama"}, {"Drama"}, {"Comedy"}, {"Comedy", "Romance"}, {}}
	out := make([]core.CatalogItem, 0, len(tags))
	for n, t := range tags {
		out = append(out, core.CatalogItem{ID: int64(n + 1), Tags: t})
	}
	return out
}

func TestSplitRatings(t *testing.T) {
	ratings := syntheticRatings()
	split, err := SplitRatings(ratings, DefaultSplitOptions())
	require.NoError(t, err)

	assert.Len(t, split.Test, 8)  // 每个用户 round(6*0.2)=1 条
	assert.Len(t, split.Train, 41) // 8*5 + 用户 99 的 1 条

	seen := make(map[pairKey]bool)
	testUsers := make(map[int64]bool)
	for _, r := range split.Test {
		testUsers[r.UserID] = true
		seen[pairKey{r.UserID, r.ItemID}] = true
	}
	assert.False(t, testUsers[99], "single-rating user must stay in train")
	for _, r := range split.Train {
		assert.False(t, seen[pairKey{r.UserID, r.ItemID}], "pair in both partitions")
	}

	// 与输入顺序无关
	reversed := make([]core.Rating, len(ratings))
	for n, r := range ratings {
		reversed[len(ratings)-1-n] = r
	}
	again, err := SplitRatings(reversed, DefaultSplitOptions())
	require.NoError(t, err)
	assert.Equal(t, split, again)

	other, err := SplitRatings(ratings, SplitOptions{TestRatio: 0.2, Seed: 7})
	require.NoError(t, err)
	assert.Len(t, other.Test, 8)
}

func TestSplitTemporal(t *testing.T) {
	ratings := []core.Rating{
		rt(1, 10, 4, 3), rt(1, 11, 3, 1), rt(1, 12, 5, 2),
		rt(2, 10, 2, 1), rt(2, 11, 1, 2),
	}
	split, err := SplitRatings(ratings, SplitOptions{TestRatio: 0.5, Strategy: StrategyTemporal})
	require.NoError(t, err)
	// 用户 1: round(1.5)=2 条最新（10、12）；用户 2: 1 条最新（11）
	assert.Equal(t, []core.Rating{rt(1, 10, 4, 3), rt(1, 12, 5, 2), rt(2, 11, 1, 2)}, split.Test)
	assert.Equal(t, []core.Rating{rt(1, 11, 3, 1), rt(2, 10, 2, 1)}, split.Train)
}

func TestSplitDedupAndInvalid(t *testing.T) {
	ratings := []core.Rating{
		rt(1, 10, 2, 1), rt(1, 10, 5, 2), rt(1, 10, 3, 0), // 最新的 5 生效
		rt(1, 11, 9, 1), // 越界，丢弃
		rt(0, 11, 3, 1), // 非法用户，丢弃
	}
	split, err := SplitRatings(ratings, DefaultSplitOptions())
	require.NoError(t, err)
	assert.Empty(t, split.Test)
	assert.Equal(t, []core.Rating{rt(1, 10, 5, 2)}, split.Train)
}

func TestSplitOptionsInvalid(t *testing.T) {
	for _, opts := range []SplitOptions{
		{TestRatio: 1},
		{TestRatio: -0.1},
		{TestRatio: 0.2, Strategy: "kfold"},
	} {
		_, err := SplitRatings(nil, opts)
		assert.Error(t, err, "%+v", opts)
	}
}

func TestErrorMetrics(t *testing.T) {
	assert.Equal(t, 0.0, RMSE(nil))
	assert.Equal(t, 0.0, MAE(nil))
	assert.InDelta(t, math.Sqrt(2.5), RMSE([]float64{1, -2}), 1e-12)
	assert.InDelta(t, 1.5, MAE([]float64{1, -2}), 1e-12)
}

func TestRankingMetrics(t *testing.T) {
	relevant := map[int64]struct{}{2: {}, 4: {}, 9: {}}
	recs := []int64{1, 2, 3, 4, 5}

	tests := []struct {
		name string
		got  float64
		want float64
	}{
		{"precision@5", PrecisionAtK(recs, relevant, 5), 2.0 / 5},
		{"precision@2", PrecisionAtK(recs, relevant, 2), 1.0 / 2},
		{"precision short list", PrecisionAtK([]int64{2}, relevant, 5), 1.0 / 5},
		{"precision k=0", PrecisionAtK(recs, relevant, 0), 0},
		{"recall@5", RecallAtK(recs, relevant, 5), 2.0 / 3},
		{"recall@1", RecallAtK(recs, relevant, 1), 0},
		{"recall empty", RecallAtK(recs, nil, 5), 0},
		{"hit@1", HitRateAtK(recs, relevant, 1), 0},
		{"hit@2", HitRateAtK(recs, relevant, 2), 1},
		{"f1", F1(0.4, 2.0/3), 2 * 0.4 * (2.0 / 3) / (0.4 + 2.0/3)},
		{"f1 zero", F1(0, 0), 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, tt.got, 1e-12)
		})
	}
}

func TestNDCG(t *testing.T) {
	graded := map[int64]float64{1: 5, 2: 3}
	// 理想顺序
	assert.InDelta(t, 1.0, NDCGAtK([]int64{1, 2}, graded, 2), 1e-12)

	// 顺序颠倒：dcg = 7 + 31/log2(3)，idcg = 31 + 7/log2(3)
	want := (7 + 31/math.Log2(3)) / (31 + 7/math.Log2(3))
	assert.InDelta(t, want, NDCGAtK([]int64{2, 1}, graded, 2), 1e-12)

	assert.Equal(t, 0.0, NDCGAtK([]int64{3, 4}, graded, 2))
	assert.Equal(t, 0.0, NDCGAtK([]int64{1}, map[int64]float64{}, 2))
	assert.Equal(t, "ndcg@10", AtK(MetricNDCG, 10))
}

// fakeAlgorithm 给出固定的预测与推荐，便于精确核对指标。
type fakeAlgorithm struct {
	preds   map[int64]float64 // 物品 -> 预测分；缺失为无法预测
	recs    map[int64][]int64 // 用户 -> 推荐列表
	trained int               // Fit 时看到的训练集评分数
}

func (f *fakeAlgorithm) Name() string           { return "fake" }
func (f *fakeAlgorithm) Params() map[string]any { return map[string]any{"k": 1} }
func (f *fakeAlgorithm) Fit(_ context.Context, ds *model.Dataset) (model.Artifact, error) {
	f.trained = ds.Matrix.NNZ()
	return &fakeArtifact{f}, nil
}

type fakeArtifact struct{ f *fakeAlgorithm }

func (a *fakeArtifact) Name() string { return "fake" }
func (a *fakeArtifact) Predict(u, i int64) (float64, error) {
	if p, ok := a.f.preds[i]; ok {
		return p, nil
	}
	return 0, core.ErrUndefinedPrediction
}
func (a *fakeArtifact) Recommend(u int64, n int, _ map[int64]struct{}) ([]core.Recommendation, error) {
	ids := a.f.recs[u]
	if n > 0 && len(ids) > n {
		ids = ids[:n]
	}
	out := make([]core.Recommendation, len(ids))
	for k, id := range ids {
		out[k] = core.Recommendation{ItemID: id, Score: float64(len(ids) - k)}
	}
	return out, nil
}
func (a *fakeArtifact) Similar(int64, int) ([]core.Similar, error) { return nil, nil }
func (a *fakeArtifact) KnowsUser(int64) bool                      { return true }
func (a *fakeArtifact) KnowsItem(int64) bool                      { return true }
func (a *fakeArtifact) Snapshot() (*model.Snapshot, error)        { return nil, nil }

func TestEvaluateExactMetrics(t *testing.T) {
	ratings := []core.Rating{
		rt(1, 10, 4, 1), rt(1, 11, 5, 2), // 测试：11（相关）
		rt(2, 20, 2, 1), rt(2, 21, 2, 2), // 测试：21（不相关）
		rt(3, 30, 5, 1), // 只进训练集
	}
	alg := &fakeAlgorithm{
		preds: map[int64]float64{11: 4.0},
		recs:  map[int64][]int64{1: {11, 12, 13, 14, 15, 16}, 2: {21}},
	}
	repo := store.NewMemoryMetricsRepository()
	ev, err := New(repo,
		WithSplit(SplitOptions{TestRatio: 0.5, Strategy: StrategyTemporal}),
		WithKs(5),
		WithWorkers(2),
	)
	require.NoError(t, err)

	rec, err := ev.Evaluate(context.Background(), alg, ratings, nil)
	require.NoError(t, err)
	assert.Equal(t, 3, alg.trained, "fit must only see the train partition")

	m := rec.Metrics
	assert.InDelta(t, 1.0, m[MetricRMSE], 1e-12)
	assert.InDelta(t, 1.0, m[MetricMAE], 1e-12)
	assert.InDelta(t, 0.5, m[MetricCoverage], 1e-12)
	assert.Equal(t, 2.0, m[CounterTestPairs])
	assert.Equal(t, 1.0, m[CounterScoredPairs])
	assert.Equal(t, 1.0, m[CounterRankingUsers])
	assert.Equal(t, 3.0, m[CounterTrainSize])
	assert.Equal(t, 2.0, m[CounterTestSize])
	assert.InDelta(t, 0.2, m["precision@5"], 1e-12)
	assert.InDelta(t, 1.0, m["recall@5"], 1e-12)
	assert.InDelta(t, 1.0, m["hit_rate@5"], 1e-12)
	assert.InDelta(t, 1.0, m["ndcg@5"], 1e-12)
	assert.InDelta(t, 2*0.2/1.2, m["f1@5"], 1e-12)

	assert.Equal(t, "fake", rec.ModelName)
	assert.Equal(t, 1, rec.Version)
	assert.True(t, rec.IsActive)
	assert.NotEmpty(t, rec.RunID)
	assert.Contains(t, rec.Parameters, "evaluation")
	assert.Equal(t, 1, rec.Parameters["k"])
}

func TestEvaluateEmptyTestPartition(t *testing.T) {
	repo := store.NewMemoryMetricsRepository()
	ev, err := New(repo)
	require.NoError(t, err)

	// 先发布一条记录，失败的评估不能影响它
	ratings := syntheticRatings()
	_, err = ev.Evaluate(context.Background(), model.DefaultItemBased(), ratings, nil)
	require.NoError(t, err)

	single := []core.Rating{rt(1, 10, 4, 1), rt(2, 10, 3, 1)}
	_, err = ev.Evaluate(context.Background(), model.DefaultItemBased(), single, nil)
	require.Error(t, err)
	assert.True(t, core.IsEvaluationFailed(err))

	active, err := repo.Active(context.Background(), model.NameItem)
	require.NoError(t, err)
	assert.Equal(t, 1, active.Version)
}

func TestEvaluateAllModels(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryMetricsRepository()
	rule, err := dsl.CompileRelevance("rating >= 3.0")
	require.NoError(t, err)
	ev, err := New(repo, WithRelevance(rule), WithClock(func() time.Time { return t0 }))
	require.NoError(t, err)

	ratings, catalog := syntheticRatings(), syntheticCatalog()
	for _, name := range model.Names() {
		alg, err := model.New(name, nil)
		require.NoError(t, err)
		rec, err := ev.Evaluate(ctx, alg, ratings, catalog)
		require.NoError(t, err, name)

		m := rec.Metrics
		assert.GreaterOrEqual(t, m[MetricRMSE], 0.0, name)
		assert.GreaterOrEqual(t, m[MetricMAE], 0.0, name)
		assert.GreaterOrEqual(t, m[MetricCoverage], 0.0, name)
		assert.LessOrEqual(t, m[MetricCoverage], 1.0, name)
		assert.Equal(t, 8.0, m[CounterTestPairs], name)
		assert.LessOrEqual(t, m[CounterRankingUsers], 8.0, name)
		for _, k := range DefaultKs {
			for _, metric := range []string{MetricPrecision, MetricRecall, MetricNDCG, MetricHitRate, MetricF1} {
				v := m[AtK(metric, k)]
				assert.GreaterOrEqual(t, v, 0.0, "%s %s@%d", name, metric, k)
				assert.LessOrEqual(t, v, 1.0, "%s %s@%d", name, metric, k)
			}
		}
		assert.Equal(t, t0, rec.TrainedAt)
		assert.Equal(t, "rating >= 3.0", rec.Parameters["evaluation"].(map[string]any)["relevance"])
	}

	// 混合模型对目录内物品总能给出分数
	hybrid, err := repo.Active(ctx, model.NameHybrid)
	require.NoError(t, err)
	assert.Equal(t, 1.0, hybrid.Metrics[MetricCoverage])

	// 同样的数据重新评估得到相同指标，版本递增
	again, err := ev.Evaluate(ctx, model.DefaultHybrid(), ratings, catalog)
	require.NoError(t, err)
	assert.Equal(t, 2, again.Version)
	assert.Equal(t, hybrid.Metrics, again.Metrics)

	hist, err := repo.History(ctx, model.NameHybrid)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.False(t, hist[0].IsActive)
}

func TestNewRejectsBadOptions(t *testing.T) {
	_, err := New(nil, WithKs(0))
	assert.Error(t, err)
	_, err = New(nil, WithSplit(SplitOptions{TestRatio: 2}))
	assert.Error(t, err)

	ev, err := New(nil)
	require.NoError(t, err)
	rec, err := ev.Evaluate(context.Background(), model.DefaultUserBased(), syntheticRatings(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, rec.Version, "no repository: record is not published")
}

type pairKey struct{ user, item int64 }

func TestEvaluateCatalogCoverage(t *testing.T) {
	ratings := []core.Rating{
		rt(1, 10, 4, 1), rt(1, 11, 5, 2),
		rt(2, 10, 2, 1), rt(2, 12, 3, 2),
	}
	catalog := []core.CatalogItem{{ID: 10}, {ID: 11}, {ID: 12}, {ID: 13}}
	// 99 不是候选物品，不计入
	alg := &fakeAlgorithm{recs: map[int64][]int64{1: {11, 12}, 2: {12, 99}}}
	ev, err := New(nil, WithSplit(SplitOptions{TestRatio: 0.5, Strategy: StrategyTemporal}), WithKs(2))
	require.NoError(t, err)

	res, err := ev.Run(context.Background(), alg, ratings, catalog)
	require.NoError(t, err)
	assert.InDelta(t, 0.5, res.Metrics[MetricCatalogCoverage], 1e-12)

	assert.Equal(t, 0.0, CatalogCoverage(map[int64]struct{}{1: {}}, nil))
}

func TestEvaluateDatasetOptions(t *testing.T) {
	ctx := context.Background()
	ratings := append(syntheticRatings(), rt(1, 77, 4, 9))
	catalog := syntheticCatalog()

	loose, err := New(nil)
	require.NoError(t, err)
	res, err := loose.Run(ctx, model.DefaultItemBased(), ratings, catalog)
	require.NoError(t, err)
	assert.Equal(t, 50.0, res.Metrics[CounterTrainSize]+res.Metrics[CounterTestSize])

	// 与在线训练一致：丢弃目录之外物品的评分
	restricted, err := New(nil, WithDatasetOptions(model.DatasetOptions{RestrictToCatalog: true}))
	require.NoError(t, err)
	res, err = restricted.Run(ctx, model.DefaultItemBased(), ratings, catalog)
	require.NoError(t, err)
	assert.Equal(t, 49.0, res.Metrics[CounterTrainSize]+res.Metrics[CounterTestSize])

	strict, err := New(nil, WithDatasetOptions(model.DatasetOptions{Strict: true}))
	require.NoError(t, err)
	_, err = strict.Run(ctx, model.DefaultItemBased(), append(syntheticRatings(), rt(2, 3, 9, 1)), catalog)
	require.Error(t, err)
	assert.True(t, core.IsDataError(err))
}

func TestKFold(t *testing.T) {
	ratings := syntheticRatings()
	splits, err := KFold(ratings, 3, 42)
	require.NoError(t, err)
	require.Len(t, splits, 3)

	tested := make(map[pairKey]int)
	for _, split := range splits {
		assert.Len(t, split.Test, 16) // 8 个用户各 2 条
		assert.Len(t, split.Train, 33)
		inTest := make(map[pairKey]bool)
		for _, r := range split.Test {
			assert.NotEqual(t, int64(99), r.UserID, "single-rating user must stay in train")
			k := pairKey{r.UserID, r.ItemID}
			inTest[k] = true
			tested[k]++
		}
		for _, r := range split.Train {
			assert.False(t, inTest[pairKey{r.UserID, r.ItemID}], "pair in both partitions")
		}
	}
	// 每条评分恰好在一折中作为测试样本
	assert.Len(t, tested, 48)
	for k, n := range tested {
		assert.Equal(t, 1, n, "%+v", k)
	}

	reversed := make([]core.Rating, len(ratings))
	for n, r := range ratings {
		reversed[len(ratings)-1-n] = r
	}
	again, err := KFold(reversed, 3, 42)
	require.NoError(t, err)
	assert.Equal(t, splits, again)

	_, err = KFold(ratings, 1, 42)
	assert.Error(t, err)
}

func TestCrossValidate(t *testing.T) {
	ctx := context.Background()
	repo := store.NewMemoryMetricsRepository()
	ev, err := New(repo)
	require.NoError(t, err)

	cv, err := ev.CrossValidate(ctx, model.DefaultHybrid(), syntheticRatings(), syntheticCatalog(), 3)
	require.NoError(t, err)
	assert.Equal(t, model.NameHybrid, cv.ModelName)
	require.Len(t, cv.Folds, 3)

	var rmse float64
	for _, fold := range cv.Folds {
		assert.Equal(t, 16.0, fold[CounterTestPairs])
		assert.Equal(t, 1.0, fold[MetricCoverage])
		rmse += fold[MetricRMSE]
	}
	assert.InDelta(t, rmse/3, cv.Mean[MetricRMSE], 1e-12)
	assert.Equal(t, 3, cv.Params["folds"])

	// 交叉验证不发布指标记录
	hist, err := repo.History(ctx, model.NameHybrid)
	require.NoError(t, err)
	assert.Empty(t, hist)

	_, err = ev.CrossValidate(ctx, model.DefaultHybrid(), syntheticRatings(), nil, 0)
	assert.Error(t, err)
}
