// Package evaluate 实现离线评估：按用户分层切分训练/测试集，
// 在训练集上训练模型，计算误差与排序指标，并通过 core.MetricsRepository 发布版本化的指标记录。
package evaluate

import (
	"fmt"
	"math"
	"math/rand/v2"
	"sort"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/matrix"
)

// 切分策略
const (
	StrategyRandom   = "random"   // 每个用户的评分随机抽取测试样本
	StrategyTemporal = "temporal" // 每个用户最新的评分作为测试样本
)

// SplitOptions 切分参数
type SplitOptions struct {
	TestRatio float64 // 默认 0.2
	Seed      int64   // 默认 42，仅 random 策略使用
	Strategy  string  // random（默认）/ temporal
}

// DefaultSplitOptions 返回默认切分参数（80/20，seed 42）
func DefaultSplitOptions() SplitOptions {
	return SplitOptions{TestRatio: 0.2, Seed: 42, Strategy: StrategyRandom}
}

func (o SplitOptions) normalized() (SplitOptions, error) {
	if o.TestRatio == 0 {
		o.TestRatio = 0.2
	}
	if o.Strategy == "" {
		o.Strategy = StrategyRandom
	}
	if o.TestRatio <= 0 || o.TestRatio >= 1 {
		return o, fmt.Errorf("evaluate: test ratio %v out of (0, 1)", o.TestRatio)
	}
	if o.Strategy != StrategyRandom && o.Strategy != StrategyTemporal {
		return o, fmt.Errorf("evaluate: unknown split strategy %q", o.Strategy)
	}
	return o, nil
}

// Split 是一次切分的结果，两部分均按 (UserID, ItemID) 升序。
type Split struct {
	Train []core.Rating
	Test  []core.Rating
}

// SplitRatings 按用户分层切分。
//
// 先用 matrix.Clean 去重并丢弃非法评分（需要严格校验时由调用方先 Clean）。
// 评分数 n >= 2 的用户取 round(n·TestRatio) 条进入测试集，且至少 1 条、至多 n-1 条，
// 因此这类用户在两部分中都有数据；只有 1 条评分的用户只进入训练集。
// random 策略对每个用户使用由 (Seed, UserID) 派生的独立随机源，结果与输入顺序无关。
func SplitRatings(ratings []core.Rating, opts SplitOptions) (Split, error) {
	opts, err := opts.normalized()
	if err != nil {
		return Split{}, err
	}

	clean, _, err := matrix.Clean(ratings)
	if err != nil {
		return Split{}, err
	}
	byUser := make(map[int64][]core.Rating)
	for _, r := range clean {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	users := make([]int64, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })

	var out Split
	for _, u := range users {
		rs := byUser[u]
		sort.Slice(rs, func(a, b int) bool { return rs[a].ItemID < rs[b].ItemID })
		n := len(rs)
		if n < 2 {
			out.Train = append(out.Train, rs...)
			continue
		}
		nTest := int(math.Round(float64(n) * opts.TestRatio))
		nTest = max(1, min(nTest, n-1))

		switch opts.Strategy {
		case StrategyTemporal:
			sort.SliceStable(rs, func(a, b int) bool { return rs[a].Timestamp.Before(rs[b].Timestamp) })
		default:
			rng := rand.New(rand.NewPCG(uint64(opts.Seed), uint64(u)))
			rng.Shuffle(n, func(a, b int) { rs[a], rs[b] = rs[b], rs[a] })
		}
		test := append([]core.Rating(nil), rs[n-nTest:]...)
		train := append([]core.Rating(nil), rs[:n-nTest]...)
		sortByItem(test)
		sortByItem(train)
		out.Test = append(out.Test, test...)
		out.Train = append(out.Train, train...)
	}
	return out, nil
}

// KFold 按用户分层做 k 折切分，返回 folds 个 Split，第 f 个 Split 的测试集是第 f 折。
//
// 每个用户的评分用由 (seed, UserID) 派生的随机源打乱后轮流分配到各折；
// 只有 1 条评分的用户始终留在训练集中，因此测试集中的用户在训练集中都有评分。
func KFold(ratings []core.Rating, folds int, seed int64) ([]Split, error) {
	if folds < 2 {
		return nil, fmt.Errorf("evaluate: folds must be >= 2, got %d", folds)
	}
	clean, _, err := matrix.Clean(ratings)
	if err != nil {
		return nil, err
	}
	byUser := make(map[int64][]core.Rating)
	for _, r := range clean {
		byUser[r.UserID] = append(byUser[r.UserID], r)
	}
	users := make([]int64, 0, len(byUser))
	for u := range byUser {
		users = append(users, u)
	}
	sort.Slice(users, func(a, b int) bool { return users[a] < users[b] })

	out := make([]Split, folds)
	for _, u := range users {
		rs := byUser[u]
		sortByItem(rs)
		if len(rs) < 2 {
			for f := range out {
				out[f].Train = append(out[f].Train, rs...)
			}
			continue
		}
		rng := rand.New(rand.NewPCG(uint64(seed), uint64(u)))
		rng.Shuffle(len(rs), func(a, b int) { rs[a], rs[b] = rs[b], rs[a] })
		assigned := make([][]core.Rating, folds)
		for p, r := range rs {
			assigned[p%folds] = append(assigned[p%folds], r)
		}
		for f := range out {
			for g, part := range assigned {
				if g == f {
					out[f].Test = append(out[f].Test, part...)
				} else {
					out[f].Train = append(out[f].Train, part...)
				}
			}
		}
	}
	for f := range out {
		sortByUserItem(out[f].Train)
		sortByUserItem(out[f].Test)
	}
	return out, nil
}

func sortByUserItem(rs []core.Rating) {
	sort.Slice(rs, func(a, b int) bool {
		if rs[a].UserID != rs[b].UserID {
			return rs[a].UserID < rs[b].UserID
		}
		return rs[a].ItemID < rs[b].ItemID
	})
}

func sortByItem(rs []core.Rating) {
	sort.Slice(rs, func(a, b int) bool { return rs[a].ItemID < rs[b].ItemID })
}
