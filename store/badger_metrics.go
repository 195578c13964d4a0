package store

import (
	"context"
	"errors"
	"fmt"
	"strconv"
	"sync"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/rushteam/movierec/core"
)

// BadgerMetricsRepository 把评估记录保存在本地 BadgerDB 中，进程重启后仍可查询。
//
//	metrics:{model}:v{version(10 位补零)} -> json(record)
//	metrics_active:{model}                -> active 版本号
//
// 版本号补零后字典序即数值序，History 按前缀顺序扫描即为版本升序。
// Publish 在一个 Badger 事务中完成 "降级旧 active + 写入新版本 + 移动 active 指针"。
type BadgerMetricsRepository struct {
	db *badger.DB
	mu sync.Mutex // 串行化本进程内的 Publish，避免事务冲突重试
}

// NewBadgerMetricsRepository 不接管 db 的生命周期。
func NewBadgerMetricsRepository(db *badger.DB) *BadgerMetricsRepository {
	return &BadgerMetricsRepository{db: db}
}

func metricsPrefix(name string) string { return "metrics:" + name + ":v" }

func metricsKey(name string, version int) []byte {
	return []byte(fmt.Sprintf("%s%010d", metricsPrefix(name), version))
}

func activeKey(name string) []byte { return []byte("metrics_active:" + name) }

const publishRetries = 3

func (r *BadgerMetricsRepository) Publish(ctx context.Context, rec core.MetricsRecord) (core.MetricsRecord, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	var out core.MetricsRecord
	var err error
	for attempt := 0; attempt < publishRetries; attempt++ {
		if err = ctx.Err(); err != nil {
			return rec, err
		}
		err = r.db.Update(func(txn *badger.Txn) error {
			next := rec
			next.Version = r.lastVersion(txn, rec.ModelName) + 1
			next.IsActive = true

			prev, err := readVersion(txn, activeKey(rec.ModelName))
			if err != nil {
				return err
			}
			if prev > 0 {
				old, err := readRecord(txn, metricsKey(rec.ModelName, prev))
				if err != nil {
					return err
				}
				old.IsActive = false
				if err := writeRecord(txn, old); err != nil {
					return err
				}
			}
			if err := writeRecord(txn, next); err != nil {
				return err
			}
			if err := txn.Set(activeKey(rec.ModelName), []byte(strconv.Itoa(next.Version))); err != nil {
				return err
			}
			out = next
			return nil
		})
		if !errors.Is(err, badger.ErrConflict) {
			break
		}
	}
	if err != nil {
		return rec, fmt.Errorf("badger: publish %s metrics: %w", rec.ModelName, err)
	}
	return out, nil
}

// lastVersion 取前缀下最后一个 key，不存在时为 0
func (r *BadgerMetricsRepository) lastVersion(txn *badger.Txn, name string) int {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	opts.Reverse = true
	it := txn.NewIterator(opts)
	defer it.Close()

	prefix := []byte(metricsPrefix(name))
	// 反向迭代从前缀之后的第一个位置开始
	seek := append(append([]byte(nil), prefix...), 0xff)
	it.Seek(seek)
	if !it.ValidForPrefix(prefix) {
		return 0
	}
	v, err := strconv.Atoi(string(it.Item().Key()[len(prefix):]))
	if err != nil {
		return 0
	}
	return v
}

func readVersion(txn *badger.Txn, key []byte) (int, error) {
	item, err := txn.Get(key)
	if errors.Is(err, badger.ErrKeyNotFound) {
		return 0, nil
	}
	if err != nil {
		return 0, err
	}
	var v int
	err = item.Value(func(val []byte) error {
		v, err = strconv.Atoi(string(val))
		return err
	})
	return v, err
}

func readRecord(txn *badger.Txn, key []byte) (core.MetricsRecord, error) {
	var rec core.MetricsRecord
	item, err := txn.Get(key)
	if err != nil {
		return rec, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &rec)
	})
	return rec, err
}

func writeRecord(txn *badger.Txn, rec core.MetricsRecord) error {
	data, err := json.Marshal(rec)
	if err != nil {
		return fmt.Errorf("marshal metrics record: %w", err)
	}
	return txn.Set(metricsKey(rec.ModelName, rec.Version), data)
}

func (r *BadgerMetricsRepository) Active(_ context.Context, name string) (core.MetricsRecord, error) {
	var rec core.MetricsRecord
	err := r.db.View(func(txn *badger.Txn) error {
		v, err := readVersion(txn, activeKey(name))
		if err != nil {
			return err
		}
		if v == 0 {
			return core.NewDomainError(core.ModuleEvaluate, core.ErrorCodeNotFound,
				"evaluate: no metrics record for "+name)
		}
		rec, err = readRecord(txn, metricsKey(name, v))
		return err
	})
	return rec, err
}

func (r *BadgerMetricsRepository) History(_ context.Context, name string) ([]core.MetricsRecord, error) {
	out := make([]core.MetricsRecord, 0)
	err := r.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		prefix := []byte(metricsPrefix(name))
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			var rec core.MetricsRecord
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &rec)
			}); err != nil {
				return err
			}
			out = append(out, rec)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("badger: %s metrics history: %w", name, err)
	}
	return out, nil
}

var _ core.MetricsRepository = (*BadgerMetricsRepository)(nil)
