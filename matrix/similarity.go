package matrix

import (
	"context"
	"math"
	"runtime"
	"sort"

	"golang.org/x/sync/errgroup"
)

// View 是成对相似度计算的稀疏访问视图：外层向量之间两两比较，
// 内层维度是向量的坐标。
type View interface {
	// Len 外层向量个数
	Len() int
	// Vector 返回外层向量 a 的非零坐标（升序）与取值
	Vector(a int) ([]int, []float64)
	// Cross 返回在内层坐标 j 上有取值的外层向量（升序）与取值
	Cross(j int) ([]int, []float64)
}

type itemView struct{ m *Matrix }

func (v itemView) Len() int                        { return v.m.NumItems() }
func (v itemView) Vector(a int) ([]int, []float64) { return v.m.Col(a) }
func (v itemView) Cross(j int) ([]int, []float64)  { return v.m.Row(j) }

type userView struct{ m *Matrix }

func (v userView) Len() int                        { return v.m.NumUsers() }
func (v userView) Vector(a int) ([]int, []float64) { return v.m.Row(a) }
func (v userView) Cross(j int) ([]int, []float64)  { return v.m.Col(j) }

// ItemView 以物品（列）为外层向量，坐标是用户。
func ItemView(m *Matrix) View { return itemView{m} }

// UserView 以用户（行）为外层向量，坐标是物品。
func UserView(m *Matrix) View { return userView{m} }

// SimilarityOptions 相似度计算参数
type SimilarityOptions struct {
	// MinCoRatings 两个向量至少共享的坐标数，不足的对视为不相似（缺失 = 0）
	MinCoRatings int

	// Workers 并发度，<= 0 时取 runtime.GOMAXPROCS(0)
	Workers int
}

// Neighbor 是相似度表中的一个邻居
type Neighbor struct {
	Index   int     `json:"j"`
	Score   float64 `json:"s"`
	Support int     `json:"n"` // 共同坐标数
}

// Similarity 是只读、对称的稀疏相似度表。
// 自身相似度恒为 1；不在表中的对相似度为 0。
type Similarity struct {
	// ranked[a] 按 Score 降序、Index 升序排列，不含 a 自身
	ranked [][]Neighbor
	// byIndex[a] 按 Index 升序排列，用于 Get 二分查找
	byIndex [][]Neighbor
}

// PairwiseSimilarity 计算外层向量两两之间的余弦相似度。
//
// 向量应事先按需要中心化（调整余弦 = 按用户均值中心化后的物品余弦，
// Pearson = 按向量自身均值中心化后的余弦）。范数取自完整向量，点积取自共同坐标。
// 结果与 Workers 无关：每个外层向量的累加都按内层坐标升序进行，因此 sim(a,b) 与 sim(b,a) 逐位相等。
func PairwiseSimilarity(ctx context.Context, v View, opts SimilarityOptions) (*Similarity, error) {
	n := v.Len()
	workers := opts.Workers
	if workers <= 0 {
		workers = runtime.GOMAXPROCS(0)
	}

	norms := make([]float64, n)
	for a := 0; a < n; a++ {
		_, vals := v.Vector(a)
		var s float64
		for _, x := range vals {
			s += x * x
		}
		norms[a] = math.Sqrt(s)
	}

	ranked := make([][]Neighbor, n)
	eg, ctx := errgroup.WithContext(ctx)
	eg.SetLimit(workers)
	for a := 0; a < n; a++ {
		a := a
		eg.Go(func() error {
			if err := ctx.Err(); err != nil {
				return err
			}
			ranked[a] = neighborsOf(v, a, norms, opts.MinCoRatings)
			return nil
		})
	}
	if err := eg.Wait(); err != nil {
		return nil, err
	}
	return FromNeighbors(ranked), nil
}

func neighborsOf(v View, a int, norms []float64, minCo int) []Neighbor {
	if norms[a] == 0 {
		return nil
	}
	dot := make(map[int]float64)
	support := make(map[int]int)
	idx, vals := v.Vector(a)
	for p, j := range idx {
		xa := vals[p]
		others, ovals := v.Cross(j)
		for q, b := range others {
			if b == a {
				continue
			}
			dot[b] += xa * ovals[q]
			support[b]++
		}
	}

	out := make([]Neighbor, 0, len(dot))
	for b, d := range dot {
		if norms[b] == 0 || support[b] < minCo {
			continue
		}
		s := d / (norms[a] * norms[b])
		if s == 0 {
			continue
		}
		// 浮点误差可能让完全共线的向量略超出 [-1, 1]
		s = math.Max(-1, math.Min(1, s))
		out = append(out, Neighbor{Index: b, Score: s, Support: support[b]})
	}
	return out
}

// FromNeighbors 用邻居列表构建相似度表（用于从快照恢复）。输入切片会被重新排序。
func FromNeighbors(lists [][]Neighbor) *Similarity {
	s := &Similarity{
		ranked:  make([][]Neighbor, len(lists)),
		byIndex: make([][]Neighbor, len(lists)),
	}
	for a, l := range lists {
		r := append([]Neighbor(nil), l...)
		sort.Slice(r, func(x, y int) bool {
			if r[x].Score != r[y].Score {
				return r[x].Score > r[y].Score
			}
			return r[x].Index < r[y].Index
		})
		b := append([]Neighbor(nil), l...)
		sort.Slice(b, func(x, y int) bool { return b[x].Index < b[y].Index })
		s.ranked[a] = r
		s.byIndex[a] = b
	}
	return s
}

// Len 外层向量个数
func (s *Similarity) Len() int { return len(s.ranked) }

// Get 返回 sim(a, b)
func (s *Similarity) Get(a, b int) float64 {
	if a == b {
		return 1
	}
	l := s.byIndex[a]
	p := sort.Search(len(l), func(i int) bool { return l[i].Index >= b })
	if p < len(l) && l[p].Index == b {
		return l[p].Score
	}
	return 0
}

// Neighbors 返回 a 的全部非零邻居（降序，只读）。
func (s *Similarity) Neighbors(a int) []Neighbor { return s.ranked[a] }

// Lists 导出邻居列表（Index 升序），用于持久化。
func (s *Similarity) Lists() [][]Neighbor { return s.byIndex }
