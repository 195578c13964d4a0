package service

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_PublishHistory(t *testing.T) {
	r := NewRegistry([]string{"b", "a"}, 2)
	assert.Equal(t, []string{"a", "b"}, r.Names())
	assert.True(t, r.Has("a"))
	assert.False(t, r.Has("c"))

	_, ok := r.Current("a")
	assert.False(t, ok)
	_, _, ok = r.Publish("c", nil, time.Now(), time.Now())
	assert.False(t, ok)

	for n := 1; n <= 3; n++ {
		p, fresh, ok := r.Publish("a", nil, time.Now(), time.Now())
		require.True(t, ok)
		assert.True(t, fresh)
		assert.Equal(t, n, p.Version)
	}
	assert.Equal(t, []int{2, 3}, r.Versions("a"))
	_, ok = r.Lookup("a", 1)
	assert.False(t, ok)
	p, ok := r.Lookup("a", 2)
	require.True(t, ok)
	assert.Equal(t, 2, p.Version)

	cur, ok := r.Current("a")
	require.True(t, ok)
	assert.Equal(t, 3, cur.Version)
	assert.Empty(t, r.Versions("b"))
}

func TestRegistry_Install(t *testing.T) {
	r := NewRegistry([]string{"a"}, 0)

	p, ok := r.Install("a", nil, 7, time.Now())
	require.True(t, ok)
	assert.Equal(t, 7, p.Version)

	next, _, _ := r.Publish("a", nil, time.Now(), time.Now())
	assert.Equal(t, 8, next.Version)

	// 安装较旧的版本不会让版本号回退
	old, _ := r.Install("a", nil, 2, time.Now())
	cur, _ := r.Current("a")
	assert.Same(t, old, cur)
	next, _, _ = r.Publish("a", nil, time.Now(), time.Now())
	assert.Equal(t, 9, next.Version)
	assert.Equal(t, []int{7, 8, 9}, r.Versions("a"))
}

func TestRegistry_PublishKeepsNewerSnapshot(t *testing.T) {
	r := NewRegistry([]string{"a"}, 0)
	older := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	newer := older.Add(time.Minute)

	// 较新快照的训练先完成
	p, fresh, ok := r.Publish("a", nil, newer, time.Now())
	require.True(t, ok)
	require.True(t, fresh)
	assert.Equal(t, 1, p.Version)

	got, fresh, ok := r.Publish("a", nil, older, time.Now())
	require.True(t, ok)
	assert.False(t, fresh)
	assert.Same(t, p, got)
	assert.Equal(t, []int{1}, r.Versions("a"))

	// 同一快照的重复训练正常发布
	got, fresh, _ = r.Publish("a", nil, newer, time.Now())
	assert.True(t, fresh)
	assert.Equal(t, 2, got.Version)
	assert.Equal(t, newer, got.LoadedAt)
}

func TestCacheKeys(t *testing.T) {
	p := &Published{Name: "hybrid", Version: 3}
	a := recommendKey(p, 1, 10, map[int64]struct{}{30: {}, 10: {}})
	b := recommendKey(p, 1, 10, map[int64]struct{}{10: {}, 30: {}})
	assert.Equal(t, a, b)
	assert.Equal(t, "rec:hybrid:v3:u1:n10:x,10,30", a)
	assert.Equal(t, "rec:hybrid:v3:u1:n10", recommendKey(p, 1, 10, nil))
	assert.NotEqual(t, recommendKey(p, 1, 10, nil), recommendKey(&Published{Name: "hybrid", Version: 4}, 1, 10, nil))
	assert.Equal(t, "sim:hybrid:v3:i5:n2", similarKey(p, 5, 2))
}

func TestResultCache_NilSafe(t *testing.T) {
	var c *resultCache
	var out []int
	assert.False(t, c.get("k", &out))
	c.set("k", []int{1})
	assert.NoError(t, c.close())

	c, err := newResultCache(CacheOptions{LifeWindow: time.Minute})
	require.NoError(t, err)
	defer c.close()
	c.set("k", []int{1, 2})
	require.True(t, c.get("k", &out))
	assert.Equal(t, []int{1, 2}, out)
}
