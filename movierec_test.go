package movierec_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rushteam/movierec"
	"github.com/rushteam/movierec/core"
	"github.com/rushteam/movierec/store"
)

func TestFacade(t *testing.T) {
	src := store.NewMemorySource(
		[]core.Rating{
			{UserID: 1, ItemID: 1, Value: 5}, {UserID: 1, ItemID: 2, Value: 3},
			{UserID: 2, ItemID: 1, Value: 4}, {UserID: 2, ItemID: 3, Value: 5},
		},
		[]core.CatalogItem{
			{ID: 1, Title: "Heat (1995)", Tags: []string{"Action", "Crime"}},
			{ID: 2, Title: "Sabrina (1995)", Tags: []string{"Comedy", "Romance"}},
			{ID: 3, Title: "GoldenEye (1995)", Tags: []string{"Action", "Thriller"}},
		},
	)
	svc, err := movierec.New(src)
	require.NoError(t, err)
	defer svc.Close()

	ctx := context.Background()
	_, err = svc.Fit(ctx, "hybrid")
	require.NoError(t, err)

	recs, err := svc.Recommend(ctx, movierec.RecommendRequest{UserID: 1, Model: "hybrid", N: 5})
	require.NoError(t, err)
	require.Len(t, recs, 1)
	assert.Equal(t, int64(3), recs[0].ItemID)
	assert.Equal(t, "GoldenEye (1995)", recs[0].Title)
	assert.Equal(t, []string{"Action", "Thriller"}, recs[0].Genres)
}
