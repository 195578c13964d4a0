package main

import (
	"context"
	"fmt"
	"io"

	"github.com/dgraph-io/badger/v4"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"

	"github.com/rushteam/movierec/config"
	"github.com/rushteam/movierec/config/builders"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/evaluate"
	"github.com/rushteam/movierec/model"
	"github.com/rushteam/movierec/pipeline"
	"github.com/rushteam/movierec/pkg/dsl"
	"github.com/rushteam/movierec/pkg/logging"
	"github.com/rushteam/movierec/service"
	"github.com/rushteam/movierec/store"
)

// app 按配置装配数据源、存储与服务
type app struct {
	cfg     *config.Config
	logger  zerolog.Logger
	svc     *service.Service
	refit   bool
	closers []func()
}

func newApp(ctx context.Context, cfg *config.Config, logOut io.Writer, refit bool) (_ *app, err error) {
	logCfg := cfg.Log
	logCfg.Output = logOut
	a := &app{cfg: cfg, logger: logging.New(logCfg), refit: refit}
	defer func() {
		if err != nil {
			a.close()
		}
	}()

	var mongoDB *mongo.Database
	needMongo := cfg.Data.Source == "mongo" || cfg.Store.Metrics == "mongo"
	if needMongo {
		db, closeFn, err := store.ConnectMongo(ctx, store.MongoOptions{
			URI:      cfg.Store.Mongo.URI,
			Database: cfg.Store.Mongo.Database,
			Timeout:  cfg.Store.Mongo.Timeout,
		})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, closeFn)
		mongoDB = db
	}

	var badgerDB *badger.DB
	if cfg.Store.UsesBadger() {
		db, err := store.OpenBadger(store.BadgerOptions{Dir: cfg.Store.Path})
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() { _ = db.Close() })
		badgerDB = db
	}

	var source core.RatingSource
	switch cfg.Data.Source {
	case "mongo":
		source = store.NewMongoSource(mongoDB)
	default:
		source = store.NewCSVSource(cfg.Data.RatingsPath, cfg.Data.MoviesPath)
	}

	var repo core.MetricsRepository
	switch cfg.Store.Metrics {
	case "mongo":
		r, err := store.NewMongoMetricsRepository(ctx, mongoDB)
		if err != nil {
			return nil, err
		}
		repo = r
	case "badger":
		repo = store.NewBadgerMetricsRepository(badgerDB)
	default:
		repo = store.NewMemoryMetricsRepository()
	}

	var kv core.KeyValueStore
	switch cfg.Store.Artifacts {
	case "redis":
		rs, err := store.NewRedisStore(ctx, store.RedisOptions{
			Addr:     cfg.Store.Redis.Addr,
			Password: cfg.Store.Redis.Password,
			DB:       cfg.Store.Redis.DB,
		})
		if err != nil {
			return nil, err
		}
		kv = rs
	case "badger":
		kv = store.NewBadgerStore(badgerDB)
	default:
		kv = store.NewMemoryStore()
	}
	a.closers = append(a.closers, func() { _ = kv.Close() })
	builders.UseStore(kv)

	artifacts, err := store.NewArtifactStore(kv, cfg.Store.ArtifactPrefix)
	if err != nil {
		return nil, err
	}
	a.closers = append(a.closers, func() { _ = artifacts.Close() })

	rule, err := dsl.CompileRelevance(cfg.Evaluation.Relevance)
	if err != nil {
		return nil, err
	}
	ev, err := evaluate.New(repo,
		evaluate.WithSplit(evaluate.SplitOptions{
			TestRatio: cfg.Evaluation.TestRatio,
			Seed:      cfg.Evaluation.Seed,
			Strategy:  cfg.Evaluation.Strategy,
		}),
		evaluate.WithKs(cfg.Evaluation.Ks...),
		evaluate.WithRelevance(rule),
		evaluate.WithWorkers(cfg.Evaluation.Workers),
		evaluate.WithDatasetOptions(model.DatasetOptions{
			Strict:            cfg.Data.Strict,
			RestrictToCatalog: cfg.Data.RestrictToCatalog,
		}),
		evaluate.WithLogger(a.logger.With().Str("component", "evaluate").Logger()),
	)
	if err != nil {
		return nil, err
	}

	nodes, err := loadNodes(cfg.Pipeline)
	if err != nil {
		return nil, err
	}

	opts := []service.Option{
		service.WithModelParams(cfg.Models),
		service.WithMetricsRepository(repo),
		service.WithEvaluator(ev),
		service.WithArtifactStore(artifacts),
		service.WithNodes(nodes...),
		service.WithRegisterer(prometheus.NewRegistry()),
		service.WithLogger(a.logger.With().Str("component", "service").Logger()),
		service.WithHistorySize(cfg.Service.HistorySize),
		service.WithStrict(cfg.Data.Strict),
		service.WithRestrictToCatalog(cfg.Data.RestrictToCatalog),
	}
	if c := cfg.Service.Cache; c.Enabled {
		opts = append(opts, service.WithCache(service.CacheOptions{
			LifeWindow:       c.LifeWindow,
			Shards:           c.Shards,
			HardMaxCacheSize: c.HardMaxCacheSize,
		}))
	}
	svc, err := service.New(source, opts...)
	if err != nil {
		return nil, err
	}
	a.svc = svc
	a.closers = append(a.closers, func() { _ = svc.Close() })
	return a, nil
}

// loadNodes 读取 Pipeline 配置文件，返回模型召回之后追加的节点
func loadNodes(path string) ([]pipeline.Node, error) {
	if path == "" {
		return nil, nil
	}
	pc, err := pipeline.Load(path)
	if err != nil {
		return nil, fmt.Errorf("load pipeline %s: %w", path, err)
	}
	if err := config.ValidatePipelineConfig(pc); err != nil {
		return nil, err
	}
	p, err := pc.BuildPipeline(config.DefaultFactory())
	if err != nil {
		return nil, err
	}
	return p.Nodes, nil
}

// close 逆序释放资源
func (a *app) close() {
	for n := len(a.closers) - 1; n >= 0; n-- {
		a.closers[n]()
	}
	a.closers = nil
}

// ensure 让模型处于已发布状态：优先恢复最新持久化的产物，没有时现场训练。
func (a *app) ensure(ctx context.Context, name string) error {
	if !a.refit {
		_, err := a.svc.Restore(ctx, name, 0)
		if err == nil {
			return nil
		}
		if !core.IsNotFound(err) {
			return err
		}
	}
	_, err := a.svc.Fit(ctx, name)
	return err
}
