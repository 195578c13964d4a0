// Package service 是推荐引擎的查询门面：按模型名训练、发布、查询产物，
// 并串联离线评估与产物持久化。查询路径只读取已发布的不可变产物。
package service

import (
	"context"
	"fmt"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/evaluate"
	"github.com/rushteam/movierec/filter"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/logging"
	"github.com/rushteam/movierec/recall"
	"github.com/rushteam/movierec/rerank"
	"github.com/rushteam/movierec/store"
)

// 查询操作名（用于指标标签）
const (
	opRecommend = "recommend"
	opSimilar   = "similar"
	opPredict   = "predict"
	opExplain   = "explain"
	opUsers     = "similar_users"
)

// Service 是推荐服务门面，并发安全。
type Service struct {
	source     core.RatingSource
	algorithms map[string]model.Algorithm
	registry   *Registry

	metricsRepo core.MetricsRepository
	evaluator   *evaluate.Evaluator
	artifacts   *store.ArtifactStore

	filters []filter.Filter
	nodes   []pipeline.Node

	cache   *resultCache
	metrics *Metrics
	logger  zerolog.Logger

	// dataset 在线训练与默认评估器共用的清洗规则
	dataset model.DatasetOptions
}

type options struct {
	params      map[string]map[string]any
	algorithms  []model.Algorithm
	metricsRepo core.MetricsRepository
	evaluator   *evaluate.Evaluator
	artifacts   *store.ArtifactStore
	filters     []filter.Filter
	nodes       []pipeline.Node
	cache       *CacheOptions
	registerer  prometheus.Registerer
	logger      zerolog.Logger
	historySize int
	strict      bool
	restrict    bool
}

// Option 配置 Service
type Option func(*options)

// WithModelParams 设置内置模型的参数（键为模型名，值见 model.New）
func WithModelParams(params map[string]map[string]any) Option {
	return func(o *options) { o.params = params }
}

// WithAlgorithms 注册额外算法，或按名称覆盖内置算法
func WithAlgorithms(algs ...model.Algorithm) Option {
	return func(o *options) { o.algorithms = append(o.algorithms, algs...) }
}

// WithMetricsRepository 设置指标仓库，默认内存实现
func WithMetricsRepository(repo core.MetricsRepository) Option {
	return func(o *options) { o.metricsRepo = repo }
}

// WithEvaluator 设置评估器；未设置时使用默认参数并写入 MetricsRepository
func WithEvaluator(ev *evaluate.Evaluator) Option {
	return func(o *options) { o.evaluator = ev }
}

// WithArtifactStore 启用 Persist / Restore
func WithArtifactStore(as *store.ArtifactStore) Option {
	return func(o *options) { o.artifacts = as }
}

// WithFilters 追加推荐查询的过滤器（请求级排除集合总是生效）
func WithFilters(filters ...filter.Filter) Option {
	return func(o *options) { o.filters = append(o.filters, filters...) }
}

// WithNodes 在过滤之后、排序截断之前追加 Pipeline 节点
func WithNodes(nodes ...pipeline.Node) Option {
	return func(o *options) { o.nodes = append(o.nodes, nodes...) }
}

// WithCache 启用查询结果缓存
func WithCache(opts CacheOptions) Option {
	return func(o *options) { o.cache = &opts }
}

// WithRegisterer 设置 Prometheus 注册器，默认不注册
func WithRegisterer(reg prometheus.Registerer) Option {
	return func(o *options) { o.registerer = reg }
}

func WithLogger(l zerolog.Logger) Option {
	return func(o *options) { o.logger = l }
}

// WithHistorySize 每个模型保留的历史产物数
func WithHistorySize(n int) Option {
	return func(o *options) { o.historySize = n }
}

// WithStrict 训练数据中出现非法评分时直接失败，而不是丢弃
func WithStrict(strict bool) Option {
	return func(o *options) { o.strict = strict }
}

// WithRestrictToCatalog 丢弃目录之外物品的评分
func WithRestrictToCatalog(restrict bool) Option {
	return func(o *options) { o.restrict = restrict }
}

// New 创建服务。内置模型（content / item / user / hybrid）总是注册。
func New(source core.RatingSource, opts ...Option) (*Service, error) {
	if source == nil {
		return nil, fmt.Errorf("service: rating source is required")
	}
	o := options{logger: zerolog.Nop()}
	for _, opt := range opts {
		opt(&o)
	}

	algs := make(map[string]model.Algorithm)
	for _, name := range model.Names() {
		alg, err := model.New(name, o.params[name])
		if err != nil {
			return nil, err
		}
		algs[name] = alg
	}
	for _, alg := range o.algorithms {
		algs[alg.Name()] = alg
	}
	names := make([]string, 0, len(algs))
	for name := range algs {
		names = append(names, name)
	}

	s := &Service{
		source:      source,
		algorithms:  algs,
		registry:    NewRegistry(names, o.historySize),
		metricsRepo: o.metricsRepo,
		evaluator:   o.evaluator,
		artifacts:   o.artifacts,
		filters:     o.filters,
		nodes:       o.nodes,
		metrics:     NewMetrics(o.registerer),
		logger:      o.logger,
		dataset:     model.DatasetOptions{Strict: o.strict, RestrictToCatalog: o.restrict},
	}
	if s.metricsRepo == nil {
		s.metricsRepo = store.NewMemoryMetricsRepository()
	}
	if s.evaluator == nil {
		ev, err := evaluate.New(s.metricsRepo,
			evaluate.WithDatasetOptions(s.dataset),
			evaluate.WithLogger(o.logger))
		if err != nil {
			return nil, err
		}
		s.evaluator = ev
	}
	if o.cache != nil {
		c, err := newResultCache(*o.cache)
		if err != nil {
			return nil, err
		}
		s.cache = c
	}
	return s, nil
}

// Close 释放缓存资源，不关闭数据源与存储。
func (s *Service) Close() error {
	return s.cache.close()
}

// Models 返回已注册的模型名
func (s *Service) Models() []string { return s.registry.Names() }

// Registry 返回产物注册表（只读使用）
func (s *Service) Registry() *Registry { return s.registry }

func unknownModel(name string) error {
	return core.NewDomainError(core.ModuleService, core.ErrorCodeUnknownModel,
		fmt.Sprintf("service: unknown model %q", name))
}

func notFitted(name string) error {
	return core.NewDomainError(core.ModuleService, core.ErrorCodeUnknownModel,
		fmt.Sprintf("service: model %q has not been fitted", name))
}

func (s *Service) current(name string) (*Published, error) {
	if !s.registry.Has(name) {
		return nil, unknownModel(name)
	}
	p, ok := s.registry.Current(name)
	if !ok {
		return nil, notFitted(name)
	}
	return p, nil
}

// label 避免把任意请求字符串写入指标标签
func (s *Service) label(name string) string {
	if s.registry.Has(name) {
		return name
	}
	return "unknown"
}

// ---- 训练与发布 ----

func (s *Service) loadSource(ctx context.Context) ([]core.Rating, []core.CatalogItem, error) {
	ratings, err := s.source.Ratings(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("service: load ratings from %s: %w", s.source.Name(), err)
	}
	catalog, err := s.source.Catalog(ctx)
	if err != nil {
		return nil, nil, fmt.Errorf("service: load catalog from %s: %w", s.source.Name(), err)
	}
	return ratings, catalog, nil
}

// loadDataset 读取数据源并构建训练快照，同时返回开始读取的时间（用于发布排序）。
func (s *Service) loadDataset(ctx context.Context) (*model.Dataset, time.Time, error) {
	loadedAt := time.Now()
	ratings, catalog, err := s.loadSource(ctx)
	if err != nil {
		return nil, loadedAt, err
	}
	ds, err := model.NewDataset(ratings, catalog, s.dataset.MatrixOptions(catalog)...)
	if err != nil {
		return nil, loadedAt, err
	}
	ev := s.logger.Info()
	if ds.Report.Dropped > 0 {
		ev = s.logger.Warn()
	}
	ev.Str("source", s.source.Name()).
		Int("ratings", ds.Report.Input).
		Int("kept", ds.Report.Kept).
		Int("duplicates", ds.Report.Duplicates).
		Int("dropped", ds.Report.Dropped).
		Int("users", ds.Matrix.NumUsers()).
		Int("items", len(ds.Candidates())).
		Msg("dataset loaded")
	return ds, loadedAt, nil
}

// Fit 用数据源的当前快照训练模型并原子发布。训练失败时之前发布的产物保持不变。
//
// 同一模型的并发 Fit 以读取数据的先后排序：若训练完成时已经发布了更晚读取的快照，
// 本次产物被丢弃，返回当前发布的产物。
func (s *Service) Fit(ctx context.Context, name string) (*Published, error) {
	alg, ok := s.algorithms[name]
	if !ok {
		return nil, unknownModel(name)
	}
	ds, loadedAt, err := s.loadDataset(ctx)
	if err != nil {
		return nil, err
	}
	return s.fit(ctx, alg, ds, loadedAt)
}

// FitAll 在同一份快照上并发训练全部模型，按模型名升序返回。任一失败则返回错误，已成功的模型仍会发布。
func (s *Service) FitAll(ctx context.Context) ([]*Published, error) {
	ds, loadedAt, err := s.loadDataset(ctx)
	if err != nil {
		return nil, err
	}
	names := s.registry.Names()
	out := make([]*Published, len(names))
	var eg errgroup.Group
	for n, name := range names {
		eg.Go(func() error {
			p, err := s.fit(ctx, s.algorithms[name], ds, loadedAt)
			if err != nil {
				return err
			}
			out[n] = p
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return out, nil
}

func (s *Service) fit(ctx context.Context, alg model.Algorithm, ds *model.Dataset, loadedAt time.Time) (*Published, error) {
	start := time.Now()
	art, err := alg.Fit(ctx, ds)
	s.metrics.observeFit(alg.Name(), start, err)
	if err != nil {
		s.logger.Error().Err(err).Str("model", alg.Name()).Msg("fit failed")
		return nil, fmt.Errorf("service: fit %s: %w", alg.Name(), err)
	}
	p, fresh, ok := s.registry.Publish(alg.Name(), art, loadedAt, time.Now().UTC())
	if !ok {
		return nil, unknownModel(alg.Name())
	}
	if !fresh {
		s.logger.Warn().Str("model", p.Name).Int("version", p.Version).
			Time("loaded_at", loadedAt).Time("published_loaded_at", p.LoadedAt).
			Msg("fit discarded, a newer snapshot is already published")
		return p, nil
	}
	s.metrics.setVersion(p.Name, p.Version)
	logging.Duration(s.logger.Info().Str("model", p.Name).Int("version", p.Version), time.Since(start)).
		Msg("model published")
	return p, nil
}

// ---- 查询 ----

// RecommendRequest 推荐请求
type RecommendRequest struct {
	UserID int64
	Model  string
	N      int
	// Exclude 额外排除的物品（如已曝光）
	Exclude []int64
	// Params 透传给 Pipeline（CEL 表达式中的 rctx.params）
	Params map[string]any
}

// Recommend 返回用户的 Top-N 推荐：召回 -> 过滤 -> 去重 -> 排序 -> 截断。
func (s *Service) Recommend(ctx context.Context, req RecommendRequest) (out []core.Recommendation, err error) {
	start := time.Now()
	defer func() { s.metrics.observeQuery(opRecommend, s.label(req.Model), start, err) }()

	if req.N <= 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			fmt.Sprintf("service: n must be > 0, got %d", req.N))
	}
	p, err := s.current(req.Model)
	if err != nil {
		return nil, err
	}
	exclude := make(map[int64]struct{}, len(req.Exclude))
	for _, id := range req.Exclude {
		exclude[id] = struct{}{}
	}

	key := recommendKey(p, req.UserID, req.N, exclude)
	if s.cache != nil && len(req.Params) == 0 {
		var cached []core.Recommendation
		hit := s.cache.get(key, &cached)
		s.metrics.cacheResult(opRecommend, hit)
		if hit {
			return cached, nil
		}
	}

	rctx := &core.RecommendContext{
		UserID:  req.UserID,
		Model:   req.Model,
		N:       req.N,
		Exclude: exclude,
		Params:  req.Params,
	}
	items, err := s.pipeline(p).Run(ctx, rctx, nil)
	if err != nil {
		return nil, err
	}
	out = recall.ToRecommendations(items)
	if s.cache != nil && len(req.Params) == 0 {
		s.cache.set(key, out)
	}
	return out, nil
}

func (s *Service) pipeline(p *Published) *pipeline.Pipeline {
	filters := make([]filter.Filter, 0, len(s.filters)+1)
	filters = append(filters, filter.ExcludeFilter{})
	filters = append(filters, s.filters...)

	pl := &pipeline.Pipeline{Nodes: []pipeline.Node{
		&recall.ModelRecall{Artifact: p.Artifact, Version: p.Version},
		&filter.FilterNode{Filters: filters},
	}}
	return pl.Append(s.nodes...).Append(
		rerank.DedupNode{},
		rerank.SortNode{},
		&rerank.TopNNode{},
	)
}

// SimilarTo 返回与物品最相似的 n 个物品。
// 在目录中但没有评分的物品由协同模型退化为内容相似度；训练快照中完全不存在的物品返回 UNKNOWN_ENTITY。
func (s *Service) SimilarTo(ctx context.Context, itemID int64, name string, n int) (out []core.Similar, err error) {
	start := time.Now()
	defer func() { s.metrics.observeQuery(opSimilar, s.label(name), start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			fmt.Sprintf("service: n must be > 0, got %d", n))
	}
	p, err := s.current(name)
	if err != nil {
		return nil, err
	}
	key := similarKey(p, itemID, n)
	if s.cache != nil {
		var cached []core.Similar
		hit := s.cache.get(key, &cached)
		s.metrics.cacheResult(opSimilar, hit)
		if hit {
			return cached, nil
		}
	}
	out, err = p.Artifact.Similar(itemID, n)
	if err != nil {
		return nil, err
	}
	s.cache.set(key, out)
	return out, nil
}

// SimilarUsers 返回与用户最相似的 n 个用户（结果中的 ItemID 为用户 ID）。
// 只有 user 与 hybrid 模型支持，其他模型返回 NOT_SUPPORTED。
func (s *Service) SimilarUsers(ctx context.Context, userID int64, name string, n int) (out []core.Similar, err error) {
	start := time.Now()
	defer func() { s.metrics.observeQuery(opUsers, s.label(name), start, err) }()

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	if n <= 0 {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			fmt.Sprintf("service: n must be > 0, got %d", n))
	}
	p, err := s.current(name)
	if err != nil {
		return nil, err
	}
	us, ok := p.Artifact.(model.UserSimilarity)
	if !ok {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeNotSupported,
			fmt.Sprintf("service: model %q does not support similar users", name))
	}
	return us.SimilarUsers(userID, n)
}

// Predict 预测用户对物品的评分。无法预测时返回 UNDEFINED_PREDICTION。
func (s *Service) Predict(ctx context.Context, userID, itemID int64, name string) (score float64, err error) {
	start := time.Now()
	defer func() { s.metrics.observeQuery(opPredict, s.label(name), start, err) }()

	if err := ctx.Err(); err != nil {
		return 0, err
	}
	p, err := s.current(name)
	if err != nil {
		return 0, err
	}
	return p.Artifact.Predict(userID, itemID)
}

// Explain 返回混合模型单次预测的分量明细与实际权重。
func (s *Service) Explain(ctx context.Context, userID, itemID int64) (exp model.Explanation, err error) {
	start := time.Now()
	defer func() { s.metrics.observeQuery(opExplain, model.NameHybrid, start, err) }()

	if err := ctx.Err(); err != nil {
		return exp, err
	}
	p, err := s.current(model.NameHybrid)
	if err != nil {
		return exp, err
	}
	ex, ok := p.Artifact.(model.Explainer)
	if !ok {
		return exp, core.NewDomainError(core.ModuleService, core.ErrorCodeNotSupported,
			"service: hybrid artifact does not support explain")
	}
	return ex.Explain(userID, itemID)
}

// ---- 评估 ----

// Evaluate 在数据源的当前快照上离线评估模型并发布指标记录。
// 评估使用独立训练的产物，不影响在线发布的产物。
func (s *Service) Evaluate(ctx context.Context, name string) (core.MetricsRecord, error) {
	alg, ok := s.algorithms[name]
	if !ok {
		return core.MetricsRecord{}, unknownModel(name)
	}
	ratings, catalog, err := s.loadSource(ctx)
	if err != nil {
		return core.MetricsRecord{}, err
	}
	return s.evaluator.Evaluate(ctx, alg, ratings, catalog)
}

// CrossValidate 在数据源的当前快照上做 k 折交叉验证，结果不写入 MetricsRepository。
func (s *Service) CrossValidate(ctx context.Context, name string, folds int) (*evaluate.CrossValidation, error) {
	alg, ok := s.algorithms[name]
	if !ok {
		return nil, unknownModel(name)
	}
	ratings, catalog, err := s.loadSource(ctx)
	if err != nil {
		return nil, err
	}
	return s.evaluator.CrossValidate(ctx, alg, ratings, catalog, folds)
}

// CompareMetrics 按模型名升序返回每个模型当前 active 的指标记录，尚未评估的模型跳过。
func (s *Service) CompareMetrics(ctx context.Context) ([]core.MetricsRecord, error) {
	names := s.registry.Names()
	out := make([]core.MetricsRecord, 0, len(names))
	for _, name := range names {
		rec, err := s.metricsRepo.Active(ctx, name)
		if core.IsNotFound(err) {
			continue
		}
		if err != nil {
			return nil, err
		}
		out = append(out, rec)
	}
	return out, nil
}

// GetMetrics 返回模型当前 active 的指标记录
func (s *Service) GetMetrics(ctx context.Context, name string) (core.MetricsRecord, error) {
	if _, ok := s.algorithms[name]; !ok {
		return core.MetricsRecord{}, unknownModel(name)
	}
	return s.metricsRepo.Active(ctx, name)
}

// History 按版本升序返回模型的全部指标记录
func (s *Service) History(ctx context.Context, name string) ([]core.MetricsRecord, error) {
	if _, ok := s.algorithms[name]; !ok {
		return nil, unknownModel(name)
	}
	return s.metricsRepo.History(ctx, name)
}

// ---- 持久化 ----

func (s *Service) requireArtifacts() error {
	if s.artifacts == nil {
		return core.NewDomainError(core.ModuleService, core.ErrorCodeNotSupported,
			"service: artifact store is not configured")
	}
	return nil
}

// Persist 把当前发布的产物写入 ArtifactStore，返回写入的版本号。
func (s *Service) Persist(ctx context.Context, name string) (int, error) {
	if err := s.requireArtifacts(); err != nil {
		return 0, err
	}
	p, err := s.current(name)
	if err != nil {
		return 0, err
	}
	snap, err := p.Artifact.Snapshot()
	if err != nil {
		return 0, err
	}
	if err := s.artifacts.Save(ctx, snap, p.Version); err != nil {
		return 0, err
	}
	s.logger.Info().Str("model", name).Int("version", p.Version).Msg("artifact persisted")
	return p.Version, nil
}

// Restore 从 ArtifactStore 读取产物并发布；version <= 0 表示最新持久化的版本。
func (s *Service) Restore(ctx context.Context, name string, version int) (*Published, error) {
	if err := s.requireArtifacts(); err != nil {
		return nil, err
	}
	if !s.registry.Has(name) {
		return nil, unknownModel(name)
	}
	snap, v, err := s.artifacts.Load(ctx, name, version)
	if err != nil {
		return nil, err
	}
	if snap.Name != name {
		return nil, core.NewDomainError(core.ModuleService, core.ErrorCodeInvalidInput,
			fmt.Sprintf("service: artifact %s v%d holds model %q", name, v, snap.Name))
	}
	art, err := model.Restore(snap)
	if err != nil {
		return nil, err
	}
	p, _ := s.registry.Install(name, art, v, time.Now().UTC())
	s.metrics.setVersion(name, v)
	s.logger.Info().Str("model", name).Int("version", v).Msg("artifact restored")
	return p, nil
}
