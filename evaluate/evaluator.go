package evaluate

import (
	"context"
	"fmt"
	"runtime"
	"sort"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/matrix"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pkg/dsl"
	"github.com/rushteam/movierec/pkg/logging"
)

// DefaultKs 是默认的排序指标截断位置
var DefaultKs = []int{5, 10}

// Evaluator 是指标记录的唯一写入方。
type Evaluator struct {
	repo      core.MetricsRepository
	split     SplitOptions
	ks        []int
	relevance *dsl.RelevanceRule
	workers   int
	dataset   model.DatasetOptions
	logger    zerolog.Logger
	now       func() time.Time
}

// Option 配置 Evaluator
type Option func(*Evaluator)

func WithSplit(opts SplitOptions) Option { return func(e *Evaluator) { e.split = opts } }

// WithKs 设置排序指标的 K 列表
func WithKs(ks ...int) Option { return func(e *Evaluator) { e.ks = append([]int(nil), ks...) } }

// WithRelevance 设置相关性规则，默认 rating >= 3.5
func WithRelevance(rule *dsl.RelevanceRule) Option { return func(e *Evaluator) { e.relevance = rule } }

// WithWorkers 设置按用户并行评估的并发度，默认 GOMAXPROCS
func WithWorkers(n int) Option { return func(e *Evaluator) { e.workers = n } }

// WithDatasetOptions 使用与在线训练相同的数据清洗规则（严格模式、限定目录）
func WithDatasetOptions(opts model.DatasetOptions) Option {
	return func(e *Evaluator) { e.dataset = opts }
}

func WithLogger(l zerolog.Logger) Option { return func(e *Evaluator) { e.logger = l } }

// WithClock 替换时间源（测试用）
func WithClock(now func() time.Time) Option { return func(e *Evaluator) { e.now = now } }

// New 创建 Evaluator。repo 为 nil 时 Evaluate 只计算不发布。
func New(repo core.MetricsRepository, opts ...Option) (*Evaluator, error) {
	e := &Evaluator{
		repo:   repo,
		split:  DefaultSplitOptions(),
		ks:     DefaultKs,
		logger: zerolog.Nop(),
		now:    time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}
	if e.relevance == nil {
		rule, err := dsl.CompileRelevance(dsl.DefaultRelevanceExpr)
		if err != nil {
			return nil, err
		}
		e.relevance = rule
	}
	if len(e.ks) == 0 {
		e.ks = DefaultKs
	}
	for _, k := range e.ks {
		if k <= 0 {
			return nil, fmt.Errorf("evaluate: k must be > 0, got %d", k)
		}
	}
	if e.workers <= 0 {
		e.workers = runtime.GOMAXPROCS(0)
	}
	if _, err := e.split.normalized(); err != nil {
		return nil, err
	}
	return e, nil
}

// Result 是一次评估的计算结果（尚未发布）。
type Result struct {
	ModelName string
	Metrics   map[string]float64
	Params    map[string]any
	Split     Split
}

// Run 切分数据、在训练集上训练一个全新的产物并计算指标。产物只用于本次评估，不会对外发布。
// 测试集为空时返回 EVALUATION_FAILED。
func (e *Evaluator) Run(ctx context.Context, alg model.Algorithm, ratings []core.Rating, catalog []core.CatalogItem) (*Result, error) {
	clean, err := e.clean(alg, ratings, catalog)
	if err != nil {
		return nil, err
	}
	split, err := SplitRatings(clean, e.split)
	if err != nil {
		return nil, err
	}
	if len(split.Test) == 0 {
		return nil, core.NewDomainError(core.ModuleEvaluate, core.ErrorCodeEvaluationFailed,
			fmt.Sprintf("evaluate: %s: empty test partition (%d ratings)", alg.Name(), len(ratings)))
	}
	metrics, err := e.score(ctx, alg, split, catalog)
	if err != nil {
		return nil, err
	}
	return &Result{
		ModelName: alg.Name(),
		Metrics:   metrics,
		Params:    e.params(alg),
		Split:     split,
	}, nil
}

// clean 按在线训练的规则校验、去重评分；严格模式下遇到非法评分直接失败。
func (e *Evaluator) clean(alg model.Algorithm, ratings []core.Rating, catalog []core.CatalogItem) ([]core.Rating, error) {
	clean, report, err := matrix.Clean(ratings, e.dataset.MatrixOptions(catalog)...)
	if err != nil {
		return nil, fmt.Errorf("evaluate: %s: %w", alg.Name(), err)
	}
	if report.Dropped > 0 {
		e.logger.Warn().Str("model", alg.Name()).
			Int("ratings", report.Input).
			Int("dropped", report.Dropped).
			Msg("invalid ratings dropped before split")
	}
	return clean, nil
}

// score 在 split.Train 上训练并在 split.Test 上计算全部指标。
func (e *Evaluator) score(ctx context.Context, alg model.Algorithm, split Split, catalog []core.CatalogItem) (map[string]float64, error) {
	ds, err := model.NewDataset(split.Train, catalog)
	if err != nil {
		return nil, err
	}
	art, err := alg.Fit(ctx, ds)
	if err != nil {
		return nil, fmt.Errorf("evaluate: fit %s: %w", alg.Name(), err)
	}

	byUser := make(map[int64][]core.Rating)
	for _, r := range split.Test {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	users := make([]int64, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })

	results := make([]userResult, len(users))
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(e.workers)
	for n, u := range users {
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			res, err := e.evaluateUser(art, u, byUser[u])
			if err != nil {
				return err
			}
			results[n] = res
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}

	metrics := e.aggregate(results)
	metrics[MetricCatalogCoverage] = CatalogCoverage(recommendedItems(results), ds.Candidates())
	metrics[CounterTrainSize] = float64(len(split.Train))
	metrics[CounterTestSize] = float64(len(split.Test))
	return metrics, nil
}

func recommendedItems(results []userResult) map[int64]struct{} {
	out := make(map[int64]struct{})
	for _, r := range results {
		for _, id := range r.recommended {
			out[id] = struct{}{}
		}
	}
	return out
}

// CrossValidation 是 k 折交叉验证的结果，不写入 MetricsRepository。
type CrossValidation struct {
	ModelName string               `json:"modelName"`
	Folds     []map[string]float64 `json:"folds"`
	// Mean 是各折指标的算术平均
	Mean   map[string]float64 `json:"mean"`
	Params map[string]any     `json:"parameters"`
}

// CrossValidate 按用户分层做 k 折交叉验证，每折在其余各折上训练一个全新的产物。
// 折的划分见 KFold；任一折测试集为空时返回 EVALUATION_FAILED。
func (e *Evaluator) CrossValidate(ctx context.Context, alg model.Algorithm, ratings []core.Rating, catalog []core.CatalogItem, folds int) (*CrossValidation, error) {
	start := e.now()
	clean, err := e.clean(alg, ratings, catalog)
	if err != nil {
		return nil, err
	}
	splits, err := KFold(clean, folds, e.split.Seed)
	if err != nil {
		return nil, err
	}
	cv := &CrossValidation{
		ModelName: alg.Name(),
		Folds:     make([]map[string]float64, 0, len(splits)),
		Mean:      make(map[string]float64),
		Params:    e.params(alg),
	}
	for n, split := range splits {
		if len(split.Test) == 0 {
			return nil, core.NewDomainError(core.ModuleEvaluate, core.ErrorCodeEvaluationFailed,
				fmt.Sprintf("evaluate: %s: fold %d has an empty test partition", alg.Name(), n))
		}
		metrics, err := e.score(ctx, alg, split, catalog)
		if err != nil {
			return nil, fmt.Errorf("evaluate: %s fold %d: %w", alg.Name(), n, err)
		}
		cv.Folds = append(cv.Folds, metrics)
		for k, v := range metrics {
			cv.Mean[k] += v / float64(len(splits))
		}
	}
	cv.Params["folds"] = folds

	logging.Duration(e.logger.Info().
		Str("model", cv.ModelName).
		Int("folds", folds).
		Float64(MetricRMSE, cv.Mean[MetricRMSE]), e.now().Sub(start)).
		Msg("cross validation finished")
	return cv, nil
}

// Evaluate 运行评估并通过 MetricsRepository 发布新版本记录（旧 active 记录被降级，历史保留）。
// 评估失败时不写入任何记录，之前的 active 记录保持有效。
func (e *Evaluator) Evaluate(ctx context.Context, alg model.Algorithm, ratings []core.Rating, catalog []core.CatalogItem) (core.MetricsRecord, error) {
	start := e.now()
	runID := uuid.NewString()
	res, err := e.Run(ctx, alg, ratings, catalog)
	if err != nil {
		e.logger.Error().Err(err).Str("model", alg.Name()).Str("run_id", runID).Msg("evaluation failed")
		return core.MetricsRecord{}, err
	}

	rec := core.MetricsRecord{
		ModelName:  res.ModelName,
		RunID:      runID,
		Metrics:    res.Metrics,
		Parameters: res.Params,
		TrainedAt:  start.UTC(),
	}
	if e.repo != nil {
		rec, err = e.repo.Publish(ctx, rec)
		if err != nil {
			return core.MetricsRecord{}, fmt.Errorf("evaluate: publish %s: %w", alg.Name(), err)
		}
	}

	ev := e.logger.Info().
		Str("model", rec.ModelName).
		Str("run_id", runID).
		Int("version", rec.Version).
		Float64(MetricRMSE, rec.Metrics[MetricRMSE]).
		Float64(MetricMAE, rec.Metrics[MetricMAE]).
		Float64(MetricCoverage, rec.Metrics[MetricCoverage])
	logging.Duration(ev, e.now().Sub(start)).Msg("evaluation published")
	return rec, nil
}

func (e *Evaluator) params(alg model.Algorithm) map[string]any {
	out := make(map[string]any)
	for k, v := range alg.Params() {
		out[k] = v
	}
	split, _ := e.split.normalized()
	out["evaluation"] = map[string]any{
		"test_ratio": split.TestRatio,
		"seed":       split.Seed,
		"strategy":   split.Strategy,
		"ks":         append([]int(nil), e.ks...),
		"relevance":  e.relevance.Expr(),
	}
	return out
}

type userResult struct {
	errs        []float64 // 可预测测试样本的 (真实值 - 预测值)
	pairs       int
	recommended []int64 // Top-maxK 推荐，用于目录覆盖率
	ranked      bool
	ranking     map[string]float64
}

func (e *Evaluator) evaluateUser(art model.Artifact, userID int64, test []core.Rating) (userResult, error) {
	res := userResult{pairs: len(test)}
	relevant := make(map[int64]struct{})
	graded := make(map[int64]float64, len(test))
	for _, r := range test {
		graded[r.ItemID] = r.Value
		ok, err := e.relevance.Relevant(r.UserID, r.ItemID, r.Value)
		if err != nil {
			return res, err
		}
		if ok {
			relevant[r.ItemID] = struct{}{}
		}

		pred, err := art.Predict(r.UserID, r.ItemID)
		switch {
		case err == nil:
			res.errs = append(res.errs, r.Value-pred)
		case core.IsUndefinedPrediction(err), core.IsUnknownEntity(err):
			// 不可预测：计入 coverage 分母，不计入误差
		default:
			return res, err
		}
	}

	maxK := 0
	for _, k := range e.ks {
		maxK = max(maxK, k)
	}
	recs, err := art.Recommend(userID, maxK, nil)
	if core.IsUnknownEntity(err) {
		return res, nil
	}
	if err != nil {
		return res, err
	}
	ids := make([]int64, len(recs))
	for n, rec := range recs {
		ids[n] = rec.ItemID
	}
	res.recommended = ids

	// 没有相关物品的用户不参与排序指标平均
	if len(relevant) == 0 {
		return res, nil
	}
	res.ranked = true
	res.ranking = make(map[string]float64, 4*len(e.ks))
	for _, k := range e.ks {
		res.ranking[AtK(MetricPrecision, k)] = PrecisionAtK(ids, relevant, k)
		res.ranking[AtK(MetricRecall, k)] = RecallAtK(ids, relevant, k)
		res.ranking[AtK(MetricNDCG, k)] = NDCGAtK(ids, graded, k)
		res.ranking[AtK(MetricHitRate, k)] = HitRateAtK(ids, relevant, k)
	}
	return res, nil
}

// aggregate 按用户 ID 升序汇总，保证浮点累加顺序可复现。
func (e *Evaluator) aggregate(results []userResult) map[string]float64 {
	var errs []float64
	pairs, rankingUsers := 0, 0
	sums := make(map[string]float64)
	for _, r := range results {
		errs = append(errs, r.errs...)
		pairs += r.pairs
		if !r.ranked {
			continue
		}
		rankingUsers++
		for k, v := range r.ranking {
			sums[k] += v
		}
	}

	out := map[string]float64{
		MetricRMSE:          RMSE(errs),
		MetricMAE:           MAE(errs),
		CounterTestPairs:    float64(pairs),
		CounterScoredPairs:  float64(len(errs)),
		CounterRankingUsers: float64(rankingUsers),
	}
	out[MetricCoverage] = 0
	if pairs > 0 {
		out[MetricCoverage] = float64(len(errs)) / float64(pairs)
	}
	for _, k := range e.ks {
		for _, m := range []string{MetricPrecision, MetricRecall, MetricNDCG, MetricHitRate} {
			key := AtK(m, k)
			out[key] = 0
			if rankingUsers > 0 {
				out[key] = sums[key] / float64(rankingUsers)
			}
		}
		out[AtK(MetricF1, k)] = F1(out[AtK(MetricPrecision, k)], out[AtK(MetricRecall, k)])
	}
	return out
}
