package rerank

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/pkg/utils"
	"github.com/rushteam/movierec/recall"
)

func item(id int64, score float64, genres ...string) *core.Item {
	it := core.NewItem(id)
	it.Score = score
	if len(genres) > 0 {
		it.Meta[recall.MetaGenres] = genres
	}
	return it
}

func ids(items []*core.Item) []int64 {
	out := make([]int64, 0, len(items))
	for _, it := range items {
		out = append(out, it.ID)
	}
	return out
}

func TestSortNode(t *testing.T) {
	in := []*core.Item{item(3, 4), item(1, 4), item(2, 5)}
	out, err := SortNode{}.Process(context.Background(), nil, in)
	require.NoError(t, err)
	assert.Equal(t, []int64{2, 1, 3}, ids(out))
}

func TestDedupNode(t *testing.T) {
	a := item(1, 4)
	a.PutLabel("recall_source", utils.Label{Value: "item", Source: "recall"})
	dup := item(1, 3)
	dup.PutLabel("recall_source", utils.Label{Value: "user", Source: "recall"})
	dup.PutLabel("extra", utils.Label{Value: "x", Source: "rule"})

	out, err := DedupNode{}.Process(context.Background(), nil, []*core.Item{a, nil, item(2, 2), dup})
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2}, ids(out))
	assert.Equal(t, 4.0, out[0].Score)
	assert.Equal(t, "item", out[0].Labels["recall_source"].Value)
	assert.Equal(t, "x", out[0].Labels["extra"].Value)
}

func TestTopNNode(t *testing.T) {
	in := []*core.Item{item(1, 5), item(2, 4), item(3, 3)}
	tests := []struct {
		name string
		node TopNNode
		rctx *core.RecommendContext
		want []int64
	}{
		{name: "node n", node: TopNNode{N: 2}, want: []int64{1, 2}},
		{name: "context n", rctx: &core.RecommendContext{N: 1}, want: []int64{1}},
		{name: "node wins", node: TopNNode{N: 2}, rctx: &core.RecommendContext{N: 1}, want: []int64{1, 2}},
		{name: "no limit", want: []int64{1, 2, 3}},
		{name: "larger than input", node: TopNNode{N: 10}, want: []int64{1, 2, 3}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			out, err := tt.node.Process(context.Background(), tt.rctx, in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, ids(out))
		})
	}
}

func TestDiversity(t *testing.T) {
	in := func() []*core.Item {
		return []*core.Item{
			item(1, 5, "Action", "Adventure"),
			item(2, 4.5, "Action"),
			item(3, 4, "Romance"),
			item(4, 3.5),
			item(5, 3, "Action", "Romance"),
			item(6, 2.5, "Romance"),
		}
	}

	out, err := (&Diversity{}).Process(context.Background(), nil, in())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 3, 4}, ids(out))

	out, err = (&Diversity{MaxPerGenre: 2}).Process(context.Background(), nil, in())
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4, 6}, ids(out))

	// Label 优先于目录类型
	labelled := in()
	labelled[1].PutLabel("genre", utils.Label{Value: "Comedy", Source: "rule"})
	out, err = (&Diversity{}).Process(context.Background(), nil, labelled)
	require.NoError(t, err)
	assert.Equal(t, []int64{1, 2, 3, 4}, ids(out))

	out, err = (&Diversity{}).Process(context.Background(), nil, nil)
	require.NoError(t, err)
	assert.Empty(t, out)
}
