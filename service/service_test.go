package service

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/evaluate"
	"github.com/rushteam/movierec/filter"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/store"
)

const (
	itemA int64 = 10
	itemB int64 = 20
	itemC int64 = 30
	itemD int64 = 40
)

func rt(u, i int64, v float64) core.Rating {
	return core.Rating{UserID: u, ItemID: i, Value: v}
}

func testSource() *store.MemorySource {
	return store.NewMemorySource(
		[]core.Rating{
			rt(1, itemA, 5), rt(1, itemB, 4), rt(1, itemC, 1),
			rt(2, itemA, 4), rt(2, itemB, 5), rt(2, itemC, 2), rt(2, itemD, 5),
			rt(3, itemA, 5), rt(3, itemC, 1),
		},
		[]core.CatalogItem{
			{ID: itemA, Title: "A", Tags: []string{"Action", "Adventure"}},
			{ID: itemB, Title: "B", Tags: []string{"Action"}},
			{ID: itemC, Title: "C", Tags: []string{"Romance"}},
			{ID: itemD, Title: "D", Tags: []string{"Adventure", "Action"}},
		},
	)
}

func newService(t *testing.T, opts ...Option) *Service {
	t.Helper()
	s, err := New(testSource(), opts...)
	require.NoError(t, err)
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func ids(recs []core.Recommendation) []int64 {
	out := make([]int64, len(recs))
	for n, r := range recs {
		out[n] = r.ItemID
	}
	return out
}

// flaky 第一次训练成功，之后总是失败
type flaky struct {
	calls atomic.Int32
}

func (f *flaky) Name() string           { return "flaky" }
func (f *flaky) Params() map[string]any { return nil }
func (f *flaky) Fit(ctx context.Context, ds *model.Dataset) (model.Artifact, error) {
	if f.calls.Add(1) > 1 {
		return nil, errors.New("boom")
	}
	return model.DefaultItemBased().Fit(ctx, ds)
}

// gated 第一次训练阻塞，直到 release 关闭
type gated struct {
	calls   atomic.Int32
	started chan struct{}
	release chan struct{}
}

func (g *gated) Name() string           { return "gated" }
func (g *gated) Params() map[string]any { return nil }
func (g *gated) Fit(ctx context.Context, ds *model.Dataset) (model.Artifact, error) {
	if g.calls.Add(1) == 1 {
		close(g.started)
		<-g.release
	}
	return model.DefaultItemBased().Fit(ctx, ds)
}

func TestNew_RequiresSource(t *testing.T) {
	_, err := New(nil)
	assert.Error(t, err)
}

func TestService_Models(t *testing.T) {
	s := newService(t, WithAlgorithms(&flaky{}))
	assert.Equal(t, []string{"content", "flaky", "hybrid", "item", "user"}, s.Models())
}

func TestService_UnknownModel(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.Recommend(ctx, RecommendRequest{UserID: 1, Model: "nope", N: 5})
	assert.True(t, core.IsUnknownModel(err))

	// 已注册但尚未训练
	_, err = s.Recommend(ctx, RecommendRequest{UserID: 1, Model: model.NameHybrid, N: 5})
	assert.True(t, core.IsUnknownModel(err))

	_, err = s.Fit(ctx, "nope")
	assert.True(t, core.IsUnknownModel(err))
	_, err = s.SimilarTo(ctx, itemA, "nope", 3)
	assert.True(t, core.IsUnknownModel(err))
	_, err = s.Predict(ctx, 1, itemA, "nope")
	assert.True(t, core.IsUnknownModel(err))
	_, err = s.Explain(ctx, 1, itemA)
	assert.True(t, core.IsUnknownModel(err))
	_, err = s.Evaluate(ctx, "nope")
	assert.True(t, core.IsUnknownModel(err))
	_, err = s.GetMetrics(ctx, "nope")
	assert.True(t, core.IsUnknownModel(err))
	_, err = s.History(ctx, "nope")
	assert.True(t, core.IsUnknownModel(err))
}

func TestService_FitAll(t *testing.T) {
	s := newService(t)
	pubs, err := s.FitAll(context.Background())
	require.NoError(t, err)
	require.Len(t, pubs, 4)
	for n, name := range []string{"content", "hybrid", "item", "user"} {
		assert.Equal(t, name, pubs[n].Name)
		assert.Equal(t, 1, pubs[n].Version)
		assert.False(t, pubs[n].FittedAt.IsZero())
	}

	p, err := s.Fit(context.Background(), model.NameItem)
	require.NoError(t, err)
	assert.Equal(t, 2, p.Version)
	assert.Equal(t, []int{1, 2}, s.Registry().Versions(model.NameItem))
}

func TestService_FitFailureKeepsPublished(t *testing.T) {
	s := newService(t, WithAlgorithms(&flaky{}))
	ctx := context.Background()

	first, err := s.Fit(ctx, "flaky")
	require.NoError(t, err)

	_, err = s.Fit(ctx, "flaky")
	require.Error(t, err)

	cur, ok := s.Registry().Current("flaky")
	require.True(t, ok)
	assert.Same(t, first, cur)
}

func TestService_Recommend(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.Fit(ctx, model.NameHybrid)
	require.NoError(t, err)

	recs, err := s.Recommend(ctx, RecommendRequest{UserID: 3, Model: model.NameHybrid, N: 10})
	require.NoError(t, err)
	assert.ElementsMatch(t, []int64{itemB, itemD}, ids(recs))
	for n, r := range recs {
		assert.Equal(t, model.NameHybrid, r.Method)
		if n > 0 {
			assert.GreaterOrEqual(t, recs[n-1].Score, r.Score)
		}
	}

	top, err := s.Recommend(ctx, RecommendRequest{UserID: 3, Model: model.NameHybrid, N: 1})
	require.NoError(t, err)
	require.Len(t, top, 1)
	assert.Equal(t, recs[0].ItemID, top[0].ItemID)

	excluded, err := s.Recommend(ctx, RecommendRequest{UserID: 3, Model: model.NameHybrid, N: 10, Exclude: []int64{itemD}})
	require.NoError(t, err)
	assert.Equal(t, []int64{itemB}, ids(excluded))
}

func TestService_RecommendInvalidN(t *testing.T) {
	s := newService(t)
	_, err := s.Fit(context.Background(), model.NameHybrid)
	require.NoError(t, err)

	for _, n := range []int{0, -1} {
		_, err := s.Recommend(context.Background(), RecommendRequest{UserID: 3, Model: model.NameHybrid, N: n})
		assert.True(t, core.IsInvalidInput(err), "n=%d", n)
	}
}

func TestService_RecommendUnknownUser(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.FitAll(ctx)
	require.NoError(t, err)

	// 非混合模型对未见用户按流行度推荐：D 5 > A 14/3 > B 4.5
	recs, err := s.Recommend(ctx, RecommendRequest{UserID: 99, Model: model.NameItem, N: 3})
	require.NoError(t, err)
	assert.Equal(t, []int64{itemD, itemA, itemB}, ids(recs))
	for _, rec := range recs {
		assert.Equal(t, model.MethodPopular, rec.Method)
	}

	// 混合模型对未见用户退化为兜底分
	recs, err = s.Recommend(ctx, RecommendRequest{UserID: 99, Model: model.NameHybrid, N: 3})
	require.NoError(t, err)
	assert.Len(t, recs, 3)
}

func TestService_RecommendWithFilters(t *testing.T) {
	f, err := filter.NewExprFilter("item.id == 20", false)
	require.NoError(t, err)
	s := newService(t, WithFilters(f))
	ctx := context.Background()
	_, err = s.Fit(ctx, model.NameHybrid)
	require.NoError(t, err)

	recs, err := s.Recommend(ctx, RecommendRequest{UserID: 3, Model: model.NameHybrid, N: 10})
	require.NoError(t, err)
	assert.Equal(t, []int64{itemD}, ids(recs))
}

func TestService_RecommendCache(t *testing.T) {
	reg := prometheus.NewRegistry()
	src := testSource()
	s, err := New(src, WithCache(CacheOptions{}), WithRegisterer(reg))
	require.NoError(t, err)
	defer s.Close()
	ctx := context.Background()

	_, err = s.Fit(ctx, model.NameHybrid)
	require.NoError(t, err)
	req := RecommendRequest{UserID: 3, Model: model.NameHybrid, N: 10}
	first, err := s.Recommend(ctx, req)
	require.NoError(t, err)
	second, err := s.Recommend(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, first, second)
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.cacheTotal.WithLabelValues(opRecommend, "hit")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.cacheTotal.WithLabelValues(opRecommend, "miss")))

	// 重新训练后版本号变化，旧缓存不再命中
	src.Add(rt(3, itemB, 1))
	_, err = s.Fit(ctx, model.NameHybrid)
	require.NoError(t, err)
	third, err := s.Recommend(ctx, req)
	require.NoError(t, err)
	assert.Equal(t, []int64{itemD}, ids(third))
}

func TestService_SimilarTo(t *testing.T) {
	s := newService(t, WithCache(CacheOptions{}))
	ctx := context.Background()
	_, err := s.FitAll(ctx)
	require.NoError(t, err)

	for _, name := range []string{model.NameContent, model.NameItem, model.NameUser, model.NameHybrid} {
		sims, err := s.SimilarTo(ctx, itemA, name, 2)
		require.NoError(t, err, name)
		assert.LessOrEqual(t, len(sims), 2, name)
		for _, sim := range sims {
			assert.NotEqual(t, itemA, sim.ItemID, name)
			assert.Greater(t, sim.Score, 0.0, name)
		}

		_, err = s.SimilarTo(ctx, 999, name, 2)
		assert.True(t, core.IsUnknownEntity(err), name)
	}

	_, err = s.SimilarTo(ctx, itemA, model.NameItem, 0)
	assert.True(t, core.IsInvalidInput(err))
}

func TestService_PredictAndExplain(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.FitAll(ctx)
	require.NoError(t, err)

	score, err := s.Predict(ctx, 3, itemB, model.NameHybrid)
	require.NoError(t, err)
	assert.True(t, score >= core.MinRating && score <= core.MaxRating)

	exp, err := s.Explain(ctx, 3, itemB)
	require.NoError(t, err)
	assert.InDelta(t, score, exp.Score, 1e-12)
	assert.Len(t, exp.Components, 3)
	var applied float64
	for _, c := range exp.Components {
		applied += c.Applied
	}
	assert.InDelta(t, 1.0, applied, 1e-9)

	_, err = s.Predict(ctx, 99, itemB, model.NameItem)
	assert.True(t, core.IsUnknownEntity(err))
}

func TestService_Evaluate(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.GetMetrics(ctx, model.NameHybrid)
	assert.True(t, core.IsNotFound(err))

	first, err := s.Evaluate(ctx, model.NameHybrid)
	require.NoError(t, err)
	assert.Equal(t, 1, first.Version)
	assert.True(t, first.IsActive)
	assert.Contains(t, first.Metrics, "rmse")

	second, err := s.Evaluate(ctx, model.NameHybrid)
	require.NoError(t, err)
	assert.Equal(t, 2, second.Version)

	active, err := s.GetMetrics(ctx, model.NameHybrid)
	require.NoError(t, err)
	assert.Equal(t, 2, active.Version)

	hist, err := s.History(ctx, model.NameHybrid)
	require.NoError(t, err)
	require.Len(t, hist, 2)
	assert.False(t, hist[0].IsActive)
	assert.True(t, hist[1].IsActive)

	// 评估不影响在线发布
	_, ok := s.Registry().Current(model.NameHybrid)
	assert.False(t, ok)
}

func TestService_PersistRestore(t *testing.T) {
	ctx := context.Background()

	bare := newService(t)
	_, err := bare.Persist(ctx, model.NameHybrid)
	assert.True(t, core.IsNotSupported(err))
	_, err = bare.Restore(ctx, model.NameHybrid, 0)
	assert.True(t, core.IsNotSupported(err))

	kv := store.NewMemoryStore()
	defer kv.Close()
	artifacts, err := store.NewArtifactStore(kv, "test")
	require.NoError(t, err)
	defer artifacts.Close()

	src := newService(t, WithArtifactStore(artifacts))
	_, err = src.Persist(ctx, model.NameHybrid)
	assert.True(t, core.IsUnknownModel(err))

	_, err = src.Fit(ctx, model.NameHybrid)
	require.NoError(t, err)
	version, err := src.Persist(ctx, model.NameHybrid)
	require.NoError(t, err)
	assert.Equal(t, 1, version)

	dst := newService(t, WithArtifactStore(artifacts))
	p, err := dst.Restore(ctx, model.NameHybrid, 0)
	require.NoError(t, err)
	assert.Equal(t, 1, p.Version)

	want, err := src.Predict(ctx, 3, itemB, model.NameHybrid)
	require.NoError(t, err)
	got, err := dst.Predict(ctx, 3, itemB, model.NameHybrid)
	require.NoError(t, err)
	assert.InDelta(t, want, got, 1e-9)

	// 恢复后继续训练，版本号从恢复的版本往后递增
	next, err := dst.Fit(ctx, model.NameHybrid)
	require.NoError(t, err)
	assert.Equal(t, 2, next.Version)

	_, err = dst.Restore(ctx, model.NameItem, 0)
	assert.True(t, core.IsNotFound(err))
}

func TestService_Metrics(t *testing.T) {
	reg := prometheus.NewRegistry()
	s := newService(t, WithRegisterer(reg), WithAlgorithms(&flaky{}))
	ctx := context.Background()

	_, err := s.Fit(ctx, "flaky")
	require.NoError(t, err)
	_, err = s.Fit(ctx, "flaky")
	require.Error(t, err)

	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.fitTotal.WithLabelValues("flaky", "ok")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.fitTotal.WithLabelValues("flaky", "error")))
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.activeVersion.WithLabelValues("flaky")))

	_, _ = s.Recommend(ctx, RecommendRequest{UserID: 1, Model: "nope", N: 1})
	assert.Equal(t, 1.0, testutil.ToFloat64(s.metrics.queryTotal.WithLabelValues(opRecommend, "unknown", core.ErrorCodeUnknownModel)))
}

func TestService_ConcurrentQueriesDuringFit(t *testing.T) {
	s := newService(t)
	ctx := context.Background()
	_, err := s.Fit(ctx, model.NameHybrid)
	require.NoError(t, err)

	var wg sync.WaitGroup
	errs := make(chan error, 64)
	for n := 0; n < 4; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Fit(ctx, model.NameHybrid); err != nil {
				errs <- err
			}
		}()
	}
	for n := 0; n < 32; n++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := s.Recommend(ctx, RecommendRequest{UserID: 3, Model: model.NameHybrid, N: 2}); err != nil {
				errs <- err
			}
		}()
	}
	wg.Wait()
	close(errs)
	for err := range errs {
		t.Error(err)
	}
	// 并发训练中读取较早快照、却较晚完成的产物会被丢弃
	cur, ok := s.Registry().Current(model.NameHybrid)
	require.True(t, ok)
	assert.GreaterOrEqual(t, cur.Version, 2)
	assert.LessOrEqual(t, cur.Version, 5)
	vs := s.Registry().Versions(model.NameHybrid)
	assert.Equal(t, cur.Version, vs[len(vs)-1])
}

func TestService_FitKeepsNewerSnapshot(t *testing.T) {
	g := &gated{started: make(chan struct{}), release: make(chan struct{})}
	s := newService(t, WithAlgorithms(g))
	ctx := context.Background()

	type result struct {
		p   *Published
		err error
	}
	done := make(chan result, 1)
	go func() {
		p, err := s.Fit(ctx, "gated")
		done <- result{p, err}
	}()
	<-g.started

	// 后读取数据的训练先完成并发布
	newer, err := s.Fit(ctx, "gated")
	require.NoError(t, err)
	assert.Equal(t, 1, newer.Version)

	close(g.release)
	r := <-done
	require.NoError(t, r.err)
	assert.Same(t, newer, r.p)

	cur, ok := s.Registry().Current("gated")
	require.True(t, ok)
	assert.Same(t, newer, cur)
	assert.Equal(t, []int{1}, s.Registry().Versions("gated"))
}

func TestService_SimilarUsers(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	_, err := s.SimilarUsers(ctx, 1, model.NameUser, 2)
	assert.True(t, core.IsUnknownModel(err))

	_, err = s.FitAll(ctx)
	require.NoError(t, err)

	users, err := s.SimilarUsers(ctx, 1, model.NameUser, 2)
	require.NoError(t, err)
	require.NotEmpty(t, users)
	assert.LessOrEqual(t, len(users), 2)
	for _, u := range users {
		assert.NotEqual(t, int64(1), u.ItemID)
		assert.Contains(t, []int64{2, 3}, u.ItemID)
		assert.Greater(t, u.Score, 0.0)
	}

	// 混合模型委托给用户协同分量
	viaHybrid, err := s.SimilarUsers(ctx, 1, model.NameHybrid, 2)
	require.NoError(t, err)
	assert.Equal(t, users, viaHybrid)

	_, err = s.SimilarUsers(ctx, 1, model.NameItem, 2)
	assert.True(t, core.IsNotSupported(err))
	_, err = s.SimilarUsers(ctx, 99, model.NameUser, 2)
	assert.True(t, core.IsUnknownEntity(err))
	_, err = s.SimilarUsers(ctx, 1, model.NameUser, 0)
	assert.True(t, core.IsInvalidInput(err))
}

func TestService_CompareMetrics(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	recs, err := s.CompareMetrics(ctx)
	require.NoError(t, err)
	assert.Empty(t, recs)

	for _, name := range []string{model.NameItem, model.NameHybrid, model.NameItem} {
		_, err := s.Evaluate(ctx, name)
		require.NoError(t, err)
	}
	recs, err = s.CompareMetrics(ctx)
	require.NoError(t, err)
	require.Len(t, recs, 2)
	assert.Equal(t, model.NameHybrid, recs[0].ModelName)
	assert.Equal(t, 1, recs[0].Version)
	assert.Equal(t, model.NameItem, recs[1].ModelName)
	assert.Equal(t, 2, recs[1].Version)
	for _, rec := range recs {
		assert.True(t, rec.IsActive)
		assert.Contains(t, rec.Metrics, evaluate.MetricCatalogCoverage)
	}
}

func TestService_CrossValidate(t *testing.T) {
	s := newService(t)
	ctx := context.Background()

	cv, err := s.CrossValidate(ctx, model.NameItem, 2)
	require.NoError(t, err)
	assert.Equal(t, model.NameItem, cv.ModelName)
	require.Len(t, cv.Folds, 2)
	for _, fold := range cv.Folds {
		assert.Greater(t, fold[evaluate.CounterTestSize], 0.0)
	}
	assert.Equal(t, 2, cv.Params["folds"])

	// 交叉验证不发布指标
	hist, err := s.History(ctx, model.NameItem)
	require.NoError(t, err)
	assert.Empty(t, hist)

	_, err = s.CrossValidate(ctx, "nope", 2)
	assert.True(t, core.IsUnknownModel(err))
	_, err = s.CrossValidate(ctx, model.NameItem, 1)
	assert.Error(t, err)
}

func TestService_EvaluateUsesDatasetOptions(t *testing.T) {
	ctx := context.Background()
	withOutside := func() *store.MemorySource {
		src := testSource()
		src.Add(rt(1, 999, 4))
		return src
	}
	size := func(rec core.MetricsRecord) float64 {
		return rec.Metrics[evaluate.CounterTrainSize] + rec.Metrics[evaluate.CounterTestSize]
	}

	loose, err := New(withOutside())
	require.NoError(t, err)
	rec, err := loose.Evaluate(ctx, model.NameItem)
	require.NoError(t, err)
	assert.Equal(t, 10.0, size(rec))

	restricted, err := New(withOutside(), WithRestrictToCatalog(true))
	require.NoError(t, err)
	rec, err = restricted.Evaluate(ctx, model.NameItem)
	require.NoError(t, err)
	assert.Equal(t, 9.0, size(rec))

	// 严格模式下训练与评估对非法评分给出同样的错误
	bad := testSource()
	bad.Add(rt(3, itemB, 9))
	strict, err := New(bad, WithStrict(true))
	require.NoError(t, err)
	_, err = strict.Fit(ctx, model.NameItem)
	assert.True(t, core.IsDataError(err))
	_, err = strict.Evaluate(ctx, model.NameItem)
	assert.True(t, core.IsDataError(err))
}
