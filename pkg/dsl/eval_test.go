package dsl

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/utils"
)

func TestEval_Evaluate(t *testing.T) {
	item := core.NewItem(42)
	item.Score = 4.2
	item.Features["content"] = 0.3
	item.PutLabel("method", utils.Label{Value: "hybrid", Source: "recall"})
	rctx := &core.RecommendContext{UserID: 7, Model: "hybrid", N: 10, Params: map[string]any{"min": 4.0}}

	tests := []struct {
		name    string
		expr    string
		want    bool
		wantErr bool
	}{
		{name: "empty expression", expr: "", want: true},
		{name: "label equality", expr: `label.method == "hybrid"`, want: true},
		{name: "score threshold", expr: "item.score > 4.5", want: false},
		{name: "feature access", expr: "item.features.content >= 0.2", want: true},
		{name: "request params", expr: "item.score >= rctx.params.min && rctx.user_id == 7", want: true},
		{name: "item id", expr: "item.id == 42", want: true},
		{name: "syntax error", expr: "item.score >", wantErr: true},
		{name: "non boolean", expr: "item.score", wantErr: true},
		{name: "missing label", expr: `label.absent == "x"`, wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := NewEval(item, rctx).Evaluate(tt.expr)
			if tt.wantErr {
				require.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestCompile(t *testing.T) {
	require.NoError(t, Compile(`label.method != null`))
	require.Error(t, Compile(`item.(`))
}

func TestRelevanceRule(t *testing.T) {
	def, err := CompileRelevance("")
	require.NoError(t, err)
	assert.Equal(t, DefaultRelevanceExpr, def.Expr())

	ok, err := def.Relevant(1, 1, 3.5)
	require.NoError(t, err)
	assert.True(t, ok)
	ok, err = def.Relevant(1, 1, 3.0)
	require.NoError(t, err)
	assert.False(t, ok)

	custom, err := CompileRelevance("rating >= 4.0 && item_id != 10")
	require.NoError(t, err)
	ok, err = custom.Relevant(1, 10, 5.0)
	require.NoError(t, err)
	assert.False(t, ok)

	_, err = CompileRelevance("rating + 1.0")
	require.Error(t, err)
	_, err = CompileRelevance("unknown_var > 1")
	require.Error(t, err)
}
