// Package feature 基于物品目录的标签（电影类型）构建 TF-IDF 内容特征索引。
package feature

import (
	"fmt"
	"math"
	"sort"
	"strings"

	"github.com/rushteam/movierec/core"
)

// Vector 是 L2 归一化后的稀疏 TF-IDF 向量，Terms 为词表下标（升序）。
type Vector struct {
	Terms   []int
	Weights []float64
}

// IsZero 判断是否为零向量（无标签物品）
func (v Vector) IsZero() bool { return len(v.Terms) == 0 }

// Index 是只读的内容特征索引，构建完成后可并发访问。
//
// 权重：tf = 标签在物品中出现次数，idf = ln((1+n)/(1+df)) + 1，随后对每个向量做 L2 归一化。
// 因此两个非零向量的点积即余弦相似度。
type Index struct {
	ids     []int64
	pos     map[int64]int
	items   []core.CatalogItem
	vectors []Vector
	vocab   []string
}

// NewIndex 从目录构建索引。重复的物品 ID 以后出现者为准；标签统一转为小写并去除首尾空白。
func NewIndex(catalog []core.CatalogItem) *Index {
	latest := make(map[int64]core.CatalogItem, len(catalog))
	for _, it := range catalog {
		latest[it.ID] = it
	}
	idx := &Index{pos: make(map[int64]int, len(latest))}
	for id := range latest {
		idx.ids = append(idx.ids, id)
	}
	sort.Slice(idx.ids, func(a, b int) bool { return idx.ids[a] < idx.ids[b] })

	counts := make([]map[string]int, len(idx.ids))
	df := make(map[string]int)
	for n, id := range idx.ids {
		it := latest[id]
		idx.pos[id] = n
		idx.items = append(idx.items, it)
		tf := make(map[string]int)
		for _, tag := range it.Tags {
			term := strings.ToLower(strings.TrimSpace(tag))
			if term == "" {
				continue
			}
			tf[term]++
		}
		for term := range tf {
			df[term]++
		}
		counts[n] = tf
	}

	for term := range df {
		idx.vocab = append(idx.vocab, term)
	}
	sort.Strings(idx.vocab)
	termIdx := make(map[string]int, len(idx.vocab))
	for n, term := range idx.vocab {
		termIdx[term] = n
	}

	total := float64(len(idx.ids))
	idx.vectors = make([]Vector, len(idx.ids))
	for n, tf := range counts {
		if len(tf) == 0 {
			continue
		}
		v := Vector{}
		for term := range tf {
			v.Terms = append(v.Terms, termIdx[term])
		}
		sort.Ints(v.Terms)
		v.Weights = make([]float64, len(v.Terms))
		var norm float64
		for p, t := range v.Terms {
			term := idx.vocab[t]
			w := float64(tf[term]) * (math.Log((1+total)/(1+float64(df[term]))) + 1)
			v.Weights[p] = w
			norm += w * w
		}
		norm = math.Sqrt(norm)
		for p := range v.Weights {
			v.Weights[p] /= norm
		}
		idx.vectors[n] = v
	}
	return idx
}

// Len 索引中的物品数
func (idx *Index) Len() int { return len(idx.ids) }

// IDs 返回升序的物品 ID 副本
func (idx *Index) IDs() []int64 { return append([]int64(nil), idx.ids...) }

// Has 判断物品是否在目录中
func (idx *Index) Has(id int64) bool {
	_, ok := idx.pos[id]
	return ok
}

// Item 返回目录条目
func (idx *Index) Item(id int64) (core.CatalogItem, bool) {
	n, ok := idx.pos[id]
	if !ok {
		return core.CatalogItem{}, false
	}
	return idx.items[n], true
}

// Catalog 按 ID 升序返回目录副本（去重后）
func (idx *Index) Catalog() []core.CatalogItem {
	return append([]core.CatalogItem(nil), idx.items...)
}

// Vocabulary 返回排序后的词表副本
func (idx *Index) Vocabulary() []string { return append([]string(nil), idx.vocab...) }

// Vector 返回物品的 TF-IDF 向量。
func (idx *Index) Vector(id int64) (Vector, error) {
	n, ok := idx.pos[id]
	if !ok {
		return Vector{}, unknownItem(id)
	}
	return idx.vectors[n], nil
}

// Similarity 返回两个物品的余弦相似度；任一为零向量时为 0。
func (idx *Index) Similarity(a, b int64) (float64, error) {
	na, ok := idx.pos[a]
	if !ok {
		return 0, unknownItem(a)
	}
	nb, ok := idx.pos[b]
	if !ok {
		return 0, unknownItem(b)
	}
	if na == nb {
		if idx.vectors[na].IsZero() {
			return 0, nil
		}
		return 1, nil
	}
	return dot(idx.vectors[na], idx.vectors[nb]), nil
}

// SimilarItems 返回与 id 最相似的 k 个物品（不含自身），按分数降序、ID 升序；k <= 0 返回全部。
// 零相似度的物品也会出现在结果中，无标签物品对所有物品的相似度均为 0。
func (idx *Index) SimilarItems(id int64, k int) ([]core.Similar, error) {
	n, ok := idx.pos[id]
	if !ok {
		return nil, unknownItem(id)
	}
	src := idx.vectors[n]
	out := make([]core.Similar, 0, len(idx.ids)-1)
	for m, other := range idx.ids {
		if m == n {
			continue
		}
		out = append(out, core.Similar{ItemID: other, Score: dot(src, idx.vectors[m])})
	}
	sort.Slice(out, func(a, b int) bool {
		if out[a].Score != out[b].Score {
			return out[a].Score > out[b].Score
		}
		return out[a].ItemID < out[b].ItemID
	})
	if k > 0 && len(out) > k {
		out = out[:k]
	}
	return out, nil
}

func dot(a, b Vector) float64 {
	var s float64
	i, j := 0, 0
	for i < len(a.Terms) && j < len(b.Terms) {
		switch {
		case a.Terms[i] == b.Terms[j]:
			s += a.Weights[i] * b.Weights[j]
			i++
			j++
		case a.Terms[i] < b.Terms[j]:
			i++
		default:
			j++
		}
	}
	return math.Max(-1, math.Min(1, s))
}

func unknownItem(id int64) error {
	return core.NewDomainError(core.ModuleFeature, core.ErrorCodeUnknownEntity,
		fmt.Sprintf("feature: item %d not in catalog", id))
}
