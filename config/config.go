package config

import (
	"fmt"
	"os"
	"time"

	"github.com/go-playground/validator/v10"
	"gopkg.in/yaml.v3"

	"github.com/rushteam/movierec/pkg/logging"
)

// Config 是 movierec 的完整运行配置。
type Config struct {
	Log        logging.Config            `yaml:"log"`
	Data       DataConfig                `yaml:"data"`
	Models     map[string]map[string]any `yaml:"models"`
	Evaluation EvaluationConfig          `yaml:"evaluation"`
	Service    ServiceConfig             `yaml:"service"`
	Store      StoreConfig               `yaml:"store"`

	// Pipeline 是查询 Pipeline 附加节点的配置文件路径（可选）
	Pipeline string `yaml:"pipeline"`
}

// DataConfig 训练数据来源
type DataConfig struct {
	// Source: csv / mongo
	Source string `yaml:"source" validate:"oneof=csv mongo"`

	// MovieLens CSV 路径（source=csv）
	RatingsPath string `yaml:"ratings_path" validate:"required_if=Source csv"`
	MoviesPath  string `yaml:"movies_path" validate:"required_if=Source csv"`

	// Strict 遇到非法评分立即失败；否则丢弃并计数
	Strict bool `yaml:"strict"`

	// RestrictToCatalog 丢弃目录中不存在的物品的评分
	RestrictToCatalog bool `yaml:"restrict_to_catalog"`
}

// EvaluationConfig 离线评估参数
type EvaluationConfig struct {
	TestRatio float64 `yaml:"test_ratio" validate:"gt=0,lt=1"`
	Seed      int64   `yaml:"seed"`
	Strategy  string  `yaml:"strategy" validate:"oneof=random temporal"`
	Ks        []int   `yaml:"ks" validate:"min=1,dive,gt=0"`

	// Relevance 是相关性 CEL 表达式，变量：rating / user_id / item_id
	Relevance string `yaml:"relevance"`

	Workers int `yaml:"workers" validate:"gte=0"`
}

// ServiceConfig 在线查询参数
type ServiceConfig struct {
	// HistorySize 每个模型保留的历史产物数（用于按版本查询）
	HistorySize int `yaml:"history_size" validate:"gte=1"`

	Cache CacheConfig `yaml:"cache"`
}

// CacheConfig 查询结果缓存（bigcache）
type CacheConfig struct {
	Enabled          bool          `yaml:"enabled"`
	LifeWindow       time.Duration `yaml:"life_window"`
	Shards           int           `yaml:"shards" validate:"omitempty,gt=0"`
	HardMaxCacheSize int           `yaml:"hard_max_cache_size_mb" validate:"gte=0"`
}

// StoreConfig 持久化后端
type StoreConfig struct {
	// Artifacts: badger（默认）/ redis / memory
	Artifacts string `yaml:"artifacts" validate:"oneof=memory redis badger"`
	// Metrics: badger（默认）/ mongo / memory
	Metrics string `yaml:"metrics" validate:"oneof=memory mongo badger"`

	// Path 是本地 BadgerDB 目录，artifacts 或 metrics 为 badger 时使用。
	// memory 后端只在单个进程内有效，命令行下每条命令都会重新训练。
	Path string `yaml:"path"`

	ArtifactPrefix string `yaml:"artifact_prefix" validate:"required"`

	Redis RedisConfig `yaml:"redis"`
	Mongo MongoConfig `yaml:"mongo"`
}

// RedisConfig Redis 连接
type RedisConfig struct {
	Addr     string `yaml:"addr"`
	Password string `yaml:"password"`
	DB       int    `yaml:"db" validate:"gte=0"`
}

// MongoConfig MongoDB 连接
type MongoConfig struct {
	URI      string        `yaml:"uri"`
	Database string        `yaml:"database"`
	Timeout  time.Duration `yaml:"timeout"`
}

// Default 返回默认配置。
func Default() *Config {
	return &Config{
		Log: logging.Config{Level: "info", Format: "json"},
		Data: DataConfig{
			Source:      "csv",
			RatingsPath: "data/ratings.csv",
			MoviesPath:  "data/movies.csv",
		},
		Models: map[string]map[string]any{
			"content": {"k": 0},
			"item":    {"k": 20, "min_co_ratings": 1, "metric": "adjusted_cosine"},
			"user":    {"k": 20, "min_co_ratings": 1, "metric": "pearson"},
			"hybrid":  {"weights": map[string]any{"content": 1.0, "item": 1.0, "user": 1.0}},
		},
		Evaluation: EvaluationConfig{
			TestRatio: 0.2,
			Seed:      42,
			Strategy:  "random",
			Ks:        []int{5, 10},
			Relevance: "rating >= 3.5",
		},
		Service: ServiceConfig{
			HistorySize: 3,
			Cache: CacheConfig{
				Enabled:    true,
				LifeWindow: 10 * time.Minute,
				Shards:     64,
			},
		},
		Store: StoreConfig{
			Artifacts:      "badger",
			Metrics:        "badger",
			Path:           "data/movierec.db",
			ArtifactPrefix: "movierec:model",
			Redis:          RedisConfig{Addr: "localhost:6379"},
			Mongo: MongoConfig{
				URI:      "mongodb://localhost:27017",
				Database: "movie_recommender",
				Timeout:  10 * time.Second,
			},
		},
	}
}

// Load 读取 YAML 配置，未出现的字段保留默认值，随后做校验。
func Load(path string) (*Config, error) {
	cfg := Default()
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config: %w", err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("parse config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

// Validate 校验配置
func (c *Config) Validate() error {
	if err := validator.New().Struct(c); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}
	if c.Data.Source == "mongo" || c.Store.Metrics == "mongo" {
		if c.Store.Mongo.URI == "" || c.Store.Mongo.Database == "" {
			return fmt.Errorf("invalid config: mongo uri and database are required")
		}
	}
	if c.Store.UsesBadger() && c.Store.Path == "" {
		return fmt.Errorf("invalid config: store path is required for badger")
	}
	if c.Store.Artifacts == "redis" && c.Store.Redis.Addr == "" {
		return fmt.Errorf("invalid config: redis addr is required")
	}
	return nil
}

// UsesBadger 是否需要打开本地 BadgerDB
func (c StoreConfig) UsesBadger() bool {
	return c.Artifacts == "badger" || c.Metrics == "badger"
}

// ModelParams 返回模型参数（未配置时为 nil，使用算法默认值）
func (c *Config) ModelParams(name string) map[string]any {
	return c.Models[name]
}
