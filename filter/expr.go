package filter

import (
	"context"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/dsl"
)

// ExprFilter 用 CEL 表达式做过滤，例如：
//
//	item.score < 3.0
//	label.method == "hybrid" && item.features.content == 0.0
//
// 表达式为 true 时过滤；Invert 为 true 时反转（只保留满足表达式的物品）。
type ExprFilter struct {
	Expr   string
	Invert bool
}

// NewExprFilter 创建表达式过滤器，并预编译表达式。
func NewExprFilter(expr string, invert bool) (*ExprFilter, error) {
	if err := dsl.Compile(expr); err != nil {
		return nil, err
	}
	return &ExprFilter{Expr: expr, Invert: invert}, nil
}

func (f *ExprFilter) Name() string { return "filter.expr" }

func (f *ExprFilter) ShouldFilter(_ context.Context, rctx *core.RecommendContext, item *core.Item) (bool, error) {
	ok, err := dsl.NewEval(item, rctx).Evaluate(f.Expr)
	if err != nil {
		return false, err
	}
	return ok != f.Invert, nil
}
