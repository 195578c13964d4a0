package service

import (
	"context"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/allegro/bigcache/v3"
	"github.com/goccy/go-json"
)

// CacheOptions 查询结果缓存参数
type CacheOptions struct {
	// LifeWindow 缓存项存活时间，默认 10 分钟
	LifeWindow time.Duration
	// Shards 分片数，必须是 2 的幂，默认 64
	Shards int
	// HardMaxCacheSize 最大内存（MB），0 表示不限制
	HardMaxCacheSize int
}

// resultCache 缓存查询结果。key 中包含模型版本，发布新版本后旧结果自然失效。
type resultCache struct {
	cache *bigcache.BigCache
}

func newResultCache(opts CacheOptions) (*resultCache, error) {
	if opts.LifeWindow <= 0 {
		opts.LifeWindow = 10 * time.Minute
	}
	cfg := bigcache.DefaultConfig(opts.LifeWindow)
	if opts.Shards > 0 {
		cfg.Shards = opts.Shards
	}
	cfg.HardMaxCacheSize = opts.HardMaxCacheSize
	cfg.CleanWindow = opts.LifeWindow / 2
	cfg.Verbose = false
	c, err := bigcache.New(context.Background(), cfg)
	if err != nil {
		return nil, fmt.Errorf("service: init bigcache: %w", err)
	}
	return &resultCache{cache: c}, nil
}

func (c *resultCache) get(key string, out any) bool {
	if c == nil {
		return false
	}
	data, err := c.cache.Get(key)
	if err != nil {
		return false
	}
	return json.Unmarshal(data, out) == nil
}

func (c *resultCache) set(key string, v any) {
	if c == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = c.cache.Set(key, data)
}

func (c *resultCache) close() error {
	if c == nil {
		return nil
	}
	return c.cache.Close()
}

func recommendKey(p *Published, userID int64, n int, exclude map[int64]struct{}) string {
	var b strings.Builder
	fmt.Fprintf(&b, "rec:%s:v%d:u%d:n%d", p.Name, p.Version, userID, n)
	if len(exclude) > 0 {
		ids := make([]int64, 0, len(exclude))
		for id := range exclude {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(a, c int) bool { return ids[a] < ids[c] })
		b.WriteString(":x")
		for _, id := range ids {
			fmt.Fprintf(&b, ",%d", id)
		}
	}
	return b.String()
}

func similarKey(p *Published, itemID int64, n int) string {
	return fmt.Sprintf("sim:%s:v%d:i%d:n%d", p.Name, p.Version, itemID, n)
}
