package recall

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/model"
)

func fitHybrid(t *testing.T) model.Artifact {
	t.Helper()
	ds, err := model.NewDataset(
		[]core.Rating{
			{UserID: 1, ItemID: 1, Value: 5}, {UserID: 1, ItemID: 2, Value: 2},
			{UserID: 2, ItemID: 1, Value: 4}, {UserID: 2, ItemID: 3, Value: 5},
		},
		[]core.CatalogItem{
			{ID: 1, Title: "Heat (1995)", Tags: []string{"Action", "Crime"}},
			{ID: 2, Title: "Sabrina (1995)", Tags: []string{"Comedy", "Romance"}},
			{ID: 3, Title: "GoldenEye (1995)", Tags: []string{"Action", "Thriller"}},
			{ID: 4, Title: "Balto (1995)", Tags: []string{"Animation"}},
		},
	)
	require.NoError(t, err)
	art, err := model.DefaultHybrid().Fit(context.Background(), ds)
	require.NoError(t, err)
	return art
}

func TestModelRecall(t *testing.T) {
	art := fitHybrid(t)
	r := &ModelRecall{Artifact: art, Version: 7}

	items, err := r.Recall(context.Background(), &core.RecommendContext{UserID: 1})
	require.NoError(t, err)
	want, err := art.Recommend(1, 0, nil)
	require.NoError(t, err)
	require.Len(t, items, len(want))

	for n, it := range items {
		assert.Equal(t, want[n].ItemID, it.ID)
		assert.Equal(t, want[n].Score, it.Score)
		assert.Equal(t, "hybrid", it.Labels["recall_source"].Value)
		assert.Equal(t, "hybrid", it.Labels["method"].Value)
		assert.Equal(t, "7", it.Labels["model_version"].Value)
		assert.NotEmpty(t, it.Meta[MetaTitle])
	}

	recs := ToRecommendations(items)
	require.Len(t, recs, len(want))
	for n := range recs {
		assert.Equal(t, want[n].ItemID, recs[n].ItemID)
		assert.Equal(t, want[n].Components, recs[n].Components)
		assert.Equal(t, "hybrid", recs[n].Method)
		assert.NotEmpty(t, recs[n].Title)
	}
}

func TestModelRecall_Process(t *testing.T) {
	art := fitHybrid(t)
	r := &ModelRecall{Artifact: art, Version: 1}

	existing := []*core.Item{core.NewItem(99)}
	out, err := r.Process(context.Background(), &core.RecommendContext{UserID: 1}, existing)
	require.NoError(t, err)
	assert.Equal(t, int64(99), out[0].ID)
	assert.Greater(t, len(out), 1)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = r.Recall(ctx, &core.RecommendContext{UserID: 1})
	assert.ErrorIs(t, err, context.Canceled)
}

func TestToRecommendations_SkipsNil(t *testing.T) {
	it := core.NewItem(5)
	it.Score = 3.5
	recs := ToRecommendations([]*core.Item{nil, it})
	require.Len(t, recs, 1)
	assert.Equal(t, core.Recommendation{ItemID: 5, Score: 3.5}, recs[0])
}
