package dsl

import (
	"fmt"

	"github.com/google/cel-go/cel"
)

// DefaultRelevanceExpr 是离线评估默认的相关性判定：评分 >= 3.5 视为喜欢。
const DefaultRelevanceExpr = "rating >= 3.5"

// RelevanceRule 判定一条测试集评分是否算 "相关物品"。
//
// 可用变量：
//   - rating  double 评分值
//   - user_id int    用户 ID
//   - item_id int    物品 ID
//
// 编译后的规则只读，可被多个 goroutine 并发调用。
type RelevanceRule struct {
	expr string
	prg  cel.Program
}

// CompileRelevance 编译相关性表达式；空表达式使用 DefaultRelevanceExpr。
func CompileRelevance(expr string) (*RelevanceRule, error) {
	if expr == "" {
		expr = DefaultRelevanceExpr
	}
	env, err := cel.NewEnv(
		cel.Variable("rating", cel.DoubleType),
		cel.Variable("user_id", cel.IntType),
		cel.Variable("item_id", cel.IntType),
	)
	if err != nil {
		return nil, fmt.Errorf("cel env: %w", err)
	}
	ast, issues := env.Compile(expr)
	if issues != nil && issues.Err() != nil {
		return nil, fmt.Errorf("compile relevance %q: %w", expr, issues.Err())
	}
	if !ast.OutputType().IsExactType(cel.BoolType) {
		return nil, fmt.Errorf("relevance %q must return bool, got %v", expr, ast.OutputType())
	}
	prg, err := env.Program(ast)
	if err != nil {
		return nil, fmt.Errorf("program error: %w", err)
	}
	return &RelevanceRule{expr: expr, prg: prg}, nil
}

// Expr 返回规则的表达式原文
func (r *RelevanceRule) Expr() string { return r.expr }

// Relevant 对单条评分求值。
func (r *RelevanceRule) Relevant(userID, itemID int64, rating float64) (bool, error) {
	out, _, err := r.prg.Eval(map[string]any{
		"rating":  rating,
		"user_id": userID,
		"item_id": itemID,
	})
	if err != nil {
		return false, fmt.Errorf("eval relevance: %w", err)
	}
	b, ok := out.Value().(bool)
	if !ok {
		return false, fmt.Errorf("relevance must return boolean, got %T", out.Value())
	}
	return b, nil
}
