package store

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/dgraph-io/badger/v4"

	"github.com/rushteam/movierec/core"
)

// BadgerOptions 本地 BadgerDB 的打开参数
type BadgerOptions struct {
	// Dir 数据目录，不存在时自动创建
	Dir string
	// InMemory 不落盘（测试用），此时忽略 Dir
	InMemory bool
}

// OpenBadger 打开本地 BadgerDB。同一目录同一时刻只能被一个进程打开。
// 返回的 DB 可以同时交给 BadgerStore 与 BadgerMetricsRepository，由调用方负责关闭。
func OpenBadger(opts BadgerOptions) (*badger.DB, error) {
	bo := badger.DefaultOptions(opts.Dir)
	if opts.InMemory {
		bo = badger.DefaultOptions("").WithInMemory(true)
	}
	bo.Logger = nil
	db, err := badger.Open(bo)
	if err != nil {
		return nil, core.WrapDomainError(core.ModuleStore, core.ErrorCodeUnavailable,
			fmt.Sprintf("store: open badger %q", opts.Dir), err)
	}
	return db, nil
}

// BadgerStore 是基于 BadgerDB 的 KeyValueStore，数据在进程之间保留。
// Hash 字段与 MemoryStore 一样以 "hash:{key}:{field}" 形式存放。
type BadgerStore struct {
	db *badger.DB
}

// NewBadgerStore 不接管 db 的生命周期，Close 不会关闭 db。
func NewBadgerStore(db *badger.DB) *BadgerStore {
	return &BadgerStore{db: db}
}

func (b *BadgerStore) Name() string { return "badger" }

func (b *BadgerStore) get(txn *badger.Txn, key string) ([]byte, error) {
	item, err := txn.Get([]byte(key))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, core.ErrStoreNotFound
	}
	if err != nil {
		return nil, err
	}
	return item.ValueCopy(nil)
}

func (b *BadgerStore) Get(_ context.Context, key string) ([]byte, error) {
	var out []byte
	err := b.db.View(func(txn *badger.Txn) error {
		v, err := b.get(txn, key)
		out = v
		return err
	})
	return out, err
}

func newEntry(key string, value []byte, ttl []int) *badger.Entry {
	e := badger.NewEntry([]byte(key), value)
	if len(ttl) > 0 && ttl[0] > 0 {
		e = e.WithTTL(time.Duration(ttl[0]) * time.Second)
	}
	return e
}

func (b *BadgerStore) Set(_ context.Context, key string, value []byte, ttl ...int) error {
	return b.db.Update(func(txn *badger.Txn) error {
		return txn.SetEntry(newEntry(key, value, ttl))
	})
}

// Delete 删除 key 以及同名 Hash
func (b *BadgerStore) Delete(_ context.Context, key string) error {
	return b.db.Update(func(txn *badger.Txn) error {
		if err := txn.Delete([]byte(key)); err != nil {
			return err
		}
		for _, k := range b.keysWithPrefix(txn, hashPrefix(key)) {
			if err := txn.Delete(k); err != nil {
				return err
			}
		}
		return nil
	})
}

func (b *BadgerStore) keysWithPrefix(txn *badger.Txn, prefix string) [][]byte {
	opts := badger.DefaultIteratorOptions
	opts.PrefetchValues = false
	it := txn.NewIterator(opts)
	defer it.Close()

	var keys [][]byte
	p := []byte(prefix)
	for it.Seek(p); it.ValidForPrefix(p); it.Next() {
		keys = append(keys, it.Item().KeyCopy(nil))
	}
	return keys
}

func (b *BadgerStore) BatchGet(_ context.Context, keys []string) (map[string][]byte, error) {
	result := make(map[string][]byte, len(keys))
	err := b.db.View(func(txn *badger.Txn) error {
		for _, k := range keys {
			v, err := b.get(txn, k)
			if core.IsStoreNotFound(err) {
				continue
			}
			if err != nil {
				return err
			}
			result[k] = v
		}
		return nil
	})
	return result, err
}

// BatchSet 使用 WriteBatch，批量过大时自动拆分事务。
func (b *BadgerStore) BatchSet(_ context.Context, kvs map[string][]byte, ttl ...int) error {
	wb := b.db.NewWriteBatch()
	defer wb.Cancel()
	for k, v := range kvs {
		if err := wb.SetEntry(newEntry(k, v, ttl)); err != nil {
			return err
		}
	}
	return wb.Flush()
}

func (b *BadgerStore) HGet(ctx context.Context, key, field string) ([]byte, error) {
	return b.Get(ctx, hashPrefix(key)+field)
}

func (b *BadgerStore) HSet(ctx context.Context, key, field string, value []byte) error {
	return b.Set(ctx, hashPrefix(key)+field, value)
}

func (b *BadgerStore) HGetAll(_ context.Context, key string) (map[string][]byte, error) {
	prefix := hashPrefix(key)
	result := make(map[string][]byte)
	err := b.db.View(func(txn *badger.Txn) error {
		it := txn.NewIterator(badger.DefaultIteratorOptions)
		defer it.Close()
		p := []byte(prefix)
		for it.Seek(p); it.ValidForPrefix(p); it.Next() {
			item := it.Item()
			v, err := item.ValueCopy(nil)
			if err != nil {
				return err
			}
			result[string(item.Key()[len(p):])] = v
		}
		return nil
	})
	return result, err
}

func (b *BadgerStore) Close() error { return nil }

var (
	_ core.Store         = (*BadgerStore)(nil)
	_ core.KeyValueStore = (*BadgerStore)(nil)
)
