// Package matrix 把评分记录整理成 用户 × 物品 的稀疏矩阵，并提供成对相似度计算。
//
// 矩阵同时保存按行（CSR，用户视角）和按列（CSC，物品视角）两份压缩数组；
// 构建完成后只读，可以被任意多个 goroutine 并发访问。
package matrix

import (
	"fmt"
	"math"
	"sort"

	"github.com/rushteam/movierec/core"
)

// Report 记录一次构建的数据清洗结果。
type Report struct {
	Input      int // 输入记录数
	Kept       int // 进入矩阵的 (user, item) 对
	Duplicates int // 同一 (user, item) 被覆盖的次数
	Dropped    int // 非法记录（越界 / 未知 ID）
}

// Entry 是矩阵中的一个非零元素。
type Entry struct {
	UserID int64   `json:"u"`
	ItemID int64   `json:"i"`
	Value  float64 `json:"r"`
}

// Option 构建选项
type Option func(*buildOptions)

type buildOptions struct {
	knownItems map[int64]struct{}
	knownUsers map[int64]struct{}
	strict     bool
}

// WithKnownItems 限定物品 ID 必须出现在给定集合中（通常是物品目录）。
func WithKnownItems(ids []int64) Option {
	return func(o *buildOptions) {
		o.knownItems = toSet(ids)
	}
}

// WithKnownUsers 限定用户 ID 必须出现在给定集合中。
func WithKnownUsers(ids []int64) Option {
	return func(o *buildOptions) {
		o.knownUsers = toSet(ids)
	}
}

// WithStrict 为 true 时遇到第一条非法记录立即返回 DATA_ERROR；
// 否则丢弃非法记录并计入 Report.Dropped。
func WithStrict(strict bool) Option {
	return func(o *buildOptions) {
		o.strict = strict
	}
}

func toSet(ids []int64) map[int64]struct{} {
	s := make(map[int64]struct{}, len(ids))
	for _, id := range ids {
		s[id] = struct{}{}
	}
	return s
}

// Matrix 是只读的稀疏评分矩阵。行是用户，列是物品，下标从 0 开始连续编号，
// 用户 ID 与物品 ID 均按升序映射到下标。
type Matrix struct {
	userIDs []int64
	itemIDs []int64
	userIdx map[int64]int
	itemIdx map[int64]int

	// CSR
	rowPtr []int
	colIdx []int
	rowVal []float64

	// CSC
	colPtr []int
	rowIdx []int
	colVal []float64

	rowMean    []float64
	colMean    []float64
	globalMean float64
}

// Build 从评分记录构建矩阵，清洗规则见 Clean。
func Build(ratings []core.Rating, opts ...Option) (*Matrix, Report, error) {
	kept, report, err := Clean(ratings, opts...)
	if err != nil {
		return nil, report, err
	}
	entries := make([]Entry, len(kept))
	for n, r := range kept {
		entries[n] = Entry{UserID: r.UserID, ItemID: r.ItemID, Value: r.Value}
	}
	return fromEntries(entries), report, nil
}

// Clean 校验并去重评分记录，返回会进入矩阵的评分（保留时间戳，按首次出现的位置排列）。
//
// 同一 (user, item) 多次出现时保留时间戳最新的一条；时间戳相同则保留输入中靠后的一条。
// 离线评估先 Clean 再切分，保证评估数据与训练发布的数据一致。
func Clean(ratings []core.Rating, opts ...Option) ([]core.Rating, Report, error) {
	var o buildOptions
	for _, opt := range opts {
		opt(&o)
	}

	report := Report{Input: len(ratings)}
	type key struct{ u, i int64 }
	pos := make(map[key]int, len(ratings))
	out := make([]core.Rating, 0, len(ratings))

	for n, r := range ratings {
		if reason := o.invalid(r); reason != "" {
			if o.strict {
				return nil, report, fmt.Errorf("rating #%d (user=%d item=%d): %s: %w",
					n, r.UserID, r.ItemID, reason, core.ErrDataError)
			}
			report.Dropped++
			continue
		}
		k := key{r.UserID, r.ItemID}
		if p, ok := pos[k]; ok {
			report.Duplicates++
			if !r.Timestamp.Before(out[p].Timestamp) {
				out[p] = r
			}
			continue
		}
		pos[k] = len(out)
		out = append(out, r)
	}
	report.Kept = len(out)
	return out, report, nil
}

func (o *buildOptions) invalid(r core.Rating) string {
	switch {
	case r.UserID < 1:
		return "user id must be >= 1"
	case r.ItemID < 1:
		return "item id must be >= 1"
	case math.IsNaN(r.Value) || !core.ValidRating(r.Value):
		return fmt.Sprintf("rating %v out of range [%v, %v]", r.Value, core.MinRating, core.MaxRating)
	}
	if o.knownUsers != nil {
		if _, ok := o.knownUsers[r.UserID]; !ok {
			return "unknown user id"
		}
	}
	if o.knownItems != nil {
		if _, ok := o.knownItems[r.ItemID]; !ok {
			return "unknown item id"
		}
	}
	return ""
}

// FromEntries 用已清洗的非零元素直接构建矩阵（用于从快照恢复）。
// 重复的 (user, item) 以后出现者为准。
func FromEntries(entries []Entry) *Matrix {
	type key struct{ u, i int64 }
	seen := make(map[key]int, len(entries))
	uniq := make([]Entry, 0, len(entries))
	for _, e := range entries {
		k := key{e.UserID, e.ItemID}
		if pos, ok := seen[k]; ok {
			uniq[pos] = e
			continue
		}
		seen[k] = len(uniq)
		uniq = append(uniq, e)
	}
	return fromEntries(uniq)
}

func fromEntries(entries []Entry) *Matrix {
	m := &Matrix{
		userIdx: make(map[int64]int),
		itemIdx: make(map[int64]int),
	}
	for _, e := range entries {
		if _, ok := m.userIdx[e.UserID]; !ok {
			m.userIdx[e.UserID] = 0
			m.userIDs = append(m.userIDs, e.UserID)
		}
		if _, ok := m.itemIdx[e.ItemID]; !ok {
			m.itemIdx[e.ItemID] = 0
			m.itemIDs = append(m.itemIDs, e.ItemID)
		}
	}
	sort.Slice(m.userIDs, func(a, b int) bool { return m.userIDs[a] < m.userIDs[b] })
	sort.Slice(m.itemIDs, func(a, b int) bool { return m.itemIDs[a] < m.itemIDs[b] })
	for i, id := range m.userIDs {
		m.userIdx[id] = i
	}
	for i, id := range m.itemIDs {
		m.itemIdx[id] = i
	}

	sorted := make([]Entry, len(entries))
	copy(sorted, entries)
	sort.Slice(sorted, func(a, b int) bool {
		ra, rb := m.userIdx[sorted[a].UserID], m.userIdx[sorted[b].UserID]
		if ra != rb {
			return ra < rb
		}
		return m.itemIdx[sorted[a].ItemID] < m.itemIdx[sorted[b].ItemID]
	})

	nu, ni, nnz := len(m.userIDs), len(m.itemIDs), len(sorted)
	m.rowPtr = make([]int, nu+1)
	m.colIdx = make([]int, nnz)
	vals := make([]float64, nnz)
	for n, e := range sorted {
		r := m.userIdx[e.UserID]
		m.rowPtr[r+1]++
		m.colIdx[n] = m.itemIdx[e.ItemID]
		vals[n] = e.Value
	}
	for r := 0; r < nu; r++ {
		m.rowPtr[r+1] += m.rowPtr[r]
	}

	m.colPtr = make([]int, ni+1)
	for _, c := range m.colIdx {
		m.colPtr[c+1]++
	}
	for c := 0; c < ni; c++ {
		m.colPtr[c+1] += m.colPtr[c]
	}
	m.rowIdx = make([]int, nnz)
	m.setValues(vals)
	return m
}

// setValues 写入 CSR 值并同步 CSC，随后重算均值。结构（rowPtr/colIdx/colPtr）必须已就绪。
func (m *Matrix) setValues(rowVal []float64) {
	nnz := len(rowVal)
	m.rowVal = rowVal
	m.colVal = make([]float64, nnz)
	next := make([]int, len(m.itemIDs))
	copy(next, m.colPtr[:len(m.itemIDs)])
	for r := 0; r < len(m.userIDs); r++ {
		for p := m.rowPtr[r]; p < m.rowPtr[r+1]; p++ {
			c := m.colIdx[p]
			m.rowIdx[next[c]] = r
			m.colVal[next[c]] = rowVal[p]
			next[c]++
		}
	}

	m.rowMean = make([]float64, len(m.userIDs))
	for r := range m.rowMean {
		m.rowMean[r] = mean(m.rowVal[m.rowPtr[r]:m.rowPtr[r+1]])
	}
	m.colMean = make([]float64, len(m.itemIDs))
	for c := range m.colMean {
		m.colMean[c] = mean(m.colVal[m.colPtr[c]:m.colPtr[c+1]])
	}
	m.globalMean = mean(m.rowVal)
}

func mean(vs []float64) float64 {
	if len(vs) == 0 {
		return 0
	}
	var s float64
	for _, v := range vs {
		s += v
	}
	return s / float64(len(vs))
}

// NumUsers 行数
func (m *Matrix) NumUsers() int { return len(m.userIDs) }

// NumItems 列数
func (m *Matrix) NumItems() int { return len(m.itemIDs) }

// NNZ 非零元素个数
func (m *Matrix) NNZ() int { return len(m.rowVal) }

// UserIndex 返回用户 ID 对应的行下标
func (m *Matrix) UserIndex(id int64) (int, bool) {
	r, ok := m.userIdx[id]
	return r, ok
}

// ItemIndex 返回物品 ID 对应的列下标
func (m *Matrix) ItemIndex(id int64) (int, bool) {
	c, ok := m.itemIdx[id]
	return c, ok
}

func (m *Matrix) UserID(r int) int64 { return m.userIDs[r] }

func (m *Matrix) ItemID(c int) int64 { return m.itemIDs[c] }

// UserIDs 返回升序的用户 ID 副本
func (m *Matrix) UserIDs() []int64 { return append([]int64(nil), m.userIDs...) }

// ItemIDs 返回升序的物品 ID 副本
func (m *Matrix) ItemIDs() []int64 { return append([]int64(nil), m.itemIDs...) }

// Row 返回第 r 行的列下标与评分（升序，只读，调用方不得修改）。
func (m *Matrix) Row(r int) ([]int, []float64) {
	lo, hi := m.rowPtr[r], m.rowPtr[r+1]
	return m.colIdx[lo:hi], m.rowVal[lo:hi]
}

// Col 返回第 c 列的行下标与评分（升序，只读，调用方不得修改）。
func (m *Matrix) Col(c int) ([]int, []float64) {
	lo, hi := m.colPtr[c], m.colPtr[c+1]
	return m.rowIdx[lo:hi], m.colVal[lo:hi]
}

// Get 返回 (r, c) 处的评分
func (m *Matrix) Get(r, c int) (float64, bool) {
	idx, vals := m.Row(r)
	p := sort.SearchInts(idx, c)
	if p < len(idx) && idx[p] == c {
		return vals[p], true
	}
	return 0, false
}

func (m *Matrix) RowMean(r int) float64 { return m.rowMean[r] }

func (m *Matrix) ColMean(c int) float64 { return m.colMean[c] }

func (m *Matrix) GlobalMean() float64 { return m.globalMean }

// Entries 按 (用户下标, 物品下标) 顺序导出全部非零元素。
func (m *Matrix) Entries() []Entry {
	out := make([]Entry, 0, m.NNZ())
	for r := range m.userIDs {
		idx, vals := m.Row(r)
		for p, c := range idx {
			out = append(out, Entry{UserID: m.userIDs[r], ItemID: m.itemIDs[c], Value: vals[p]})
		}
	}
	return out
}

// CenterRows 返回按行（用户）均值中心化后的副本，稀疏结构不变。
func (m *Matrix) CenterRows() *Matrix {
	vals := make([]float64, len(m.rowVal))
	for r := range m.userIDs {
		for p := m.rowPtr[r]; p < m.rowPtr[r+1]; p++ {
			vals[p] = m.rowVal[p] - m.rowMean[r]
		}
	}
	return m.withValues(vals)
}

// CenterCols 返回按列（物品）均值中心化后的副本，稀疏结构不变。
func (m *Matrix) CenterCols() *Matrix {
	vals := make([]float64, len(m.rowVal))
	for p, c := range m.colIdx {
		vals[p] = m.rowVal[p] - m.colMean[c]
	}
	return m.withValues(vals)
}

func (m *Matrix) withValues(vals []float64) *Matrix {
	cp := &Matrix{
		userIDs: m.userIDs,
		itemIDs: m.itemIDs,
		userIdx: m.userIdx,
		itemIdx: m.itemIdx,
		rowPtr:  m.rowPtr,
		colIdx:  m.colIdx,
		colPtr:  m.colPtr,
		rowIdx:  make([]int, len(m.rowIdx)),
	}
	cp.setValues(vals)
	return cp
}
