package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	"github.com/rushteam/movierec/core"
)

// 集合名称
const (
	CollectionRatings = "ratings"
	CollectionMovies  = "movies"
	CollectionModels  = "models"
)

// MongoOptions MongoDB 连接参数
type MongoOptions struct {
	URI      string
	Database string
	// Timeout 建连与 Ping 的超时，默认 10s
	Timeout time.Duration
}

// ConnectMongo 建立连接并 Ping 主节点，返回 Database 与断开连接的清理函数。
func ConnectMongo(ctx context.Context, opts MongoOptions) (*mongo.Database, func(), error) {
	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	cctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	client, err := mongo.Connect(cctx, options.Client().ApplyURI(opts.URI))
	if err != nil {
		return nil, nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: connect mongodb", err)
	}
	if err := client.Ping(cctx, readpref.Primary()); err != nil {
		_ = client.Disconnect(context.Background())
		return nil, nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable, "store: ping mongodb", err)
	}

	cleanup := func() {
		ctx, cancel := context.WithTimeout(context.Background(), timeout)
		defer cancel()
		_ = client.Disconnect(ctx)
	}
	return client.Database(opts.Database), cleanup, nil
}

// MongoSource 从 ratings / movies 集合读取训练数据。
type MongoSource struct {
	db *mongo.Database
}

func NewMongoSource(db *mongo.Database) *MongoSource {
	return &MongoSource{db: db}
}

func (s *MongoSource) Name() string { return "mongo" }

func (s *MongoSource) Ratings(ctx context.Context) ([]core.Rating, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 0, "userId": 1, "movieId": 1, "rating": 1, "timestamp": 1})
	cursor, err := s.db.Collection(CollectionRatings).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find ratings: %w", err)
	}
	var out []core.Rating
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode ratings: %w", err)
	}
	return out, nil
}

func (s *MongoSource) Catalog(ctx context.Context) ([]core.CatalogItem, error) {
	opts := options.Find().SetProjection(bson.M{"_id": 0, "movieId": 1, "title": 1, "genres": 1, "year": 1})
	cursor, err := s.db.Collection(CollectionMovies).Find(ctx, bson.D{}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find movies: %w", err)
	}
	var out []core.CatalogItem
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode movies: %w", err)
	}
	return out, nil
}

var _ core.RatingSource = (*MongoSource)(nil)

// MongoMetricsRepository 把评估记录写入 models 集合。
//
// Publish 在一个事务中完成 "查询最新版本 -> 降级旧 active -> 插入新版本"；
// (modelName, version) 上的唯一索引保证并发发布不会得到重复版本号，冲突由事务重试。
// 事务要求 MongoDB 以副本集方式部署。
type MongoMetricsRepository struct {
	coll *mongo.Collection
}

// NewMongoMetricsRepository 创建仓库并确保唯一索引存在。
func NewMongoMetricsRepository(ctx context.Context, db *mongo.Database) (*MongoMetricsRepository, error) {
	coll := db.Collection(CollectionModels)
	_, err := coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    bson.D{{Key: "modelName", Value: 1}, {Key: "version", Value: 1}},
		Options: options.Index().SetUnique(true),
	})
	if err != nil {
		return nil, fmt.Errorf("mongo: create models index: %w", err)
	}
	return &MongoMetricsRepository{coll: coll}, nil
}

func (r *MongoMetricsRepository) Publish(ctx context.Context, rec core.MetricsRecord) (core.MetricsRecord, error) {
	sess, err := r.coll.Database().Client().StartSession()
	if err != nil {
		return rec, fmt.Errorf("mongo: start session: %w", err)
	}
	defer sess.EndSession(ctx)

	out, err := sess.WithTransaction(ctx, func(sc mongo.SessionContext) (any, error) {
		latest, err := r.latest(sc, rec.ModelName)
		if err != nil && !errors.Is(err, mongo.ErrNoDocuments) {
			return nil, err
		}
		next := rec
		next.Version = latest.Version + 1
		next.IsActive = true

		if _, err := r.coll.UpdateMany(sc,
			bson.M{"modelName": rec.ModelName, "isActive": true},
			bson.M{"$set": bson.M{"isActive": false}},
		); err != nil {
			return nil, err
		}
		if _, err := r.coll.InsertOne(sc, next); err != nil {
			return nil, err
		}
		return next, nil
	})
	if err != nil {
		return rec, fmt.Errorf("mongo: publish %s metrics: %w", rec.ModelName, err)
	}
	return out.(core.MetricsRecord), nil
}

func (r *MongoMetricsRepository) latest(ctx context.Context, name string) (core.MetricsRecord, error) {
	var rec core.MetricsRecord
	opts := options.FindOne().SetSort(bson.D{{Key: "version", Value: -1}})
	err := r.coll.FindOne(ctx, bson.M{"modelName": name}, opts).Decode(&rec)
	return rec, err
}

func (r *MongoMetricsRepository) Active(ctx context.Context, name string) (core.MetricsRecord, error) {
	var rec core.MetricsRecord
	err := r.coll.FindOne(ctx, bson.M{"modelName": name, "isActive": true}).Decode(&rec)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return rec, core.WrapDomainError(core.ModuleEvaluate, core.ErrorCodeNotFound,
			"evaluate: no metrics record for "+name, err)
	}
	if err != nil {
		return rec, fmt.Errorf("mongo: find active %s metrics: %w", name, err)
	}
	return rec, nil
}

func (r *MongoMetricsRepository) History(ctx context.Context, name string) ([]core.MetricsRecord, error) {
	opts := options.Find().SetSort(bson.D{{Key: "version", Value: 1}})
	cursor, err := r.coll.Find(ctx, bson.M{"modelName": name}, opts)
	if err != nil {
		return nil, fmt.Errorf("mongo: find %s metrics: %w", name, err)
	}
	out := make([]core.MetricsRecord, 0)
	if err := cursor.All(ctx, &out); err != nil {
		return nil, fmt.Errorf("mongo: decode %s metrics: %w", name, err)
	}
	return out, nil
}

var _ core.MetricsRepository = (*MongoMetricsRepository)(nil)
