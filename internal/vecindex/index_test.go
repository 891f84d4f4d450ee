package vecindex

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendermatch/internal/model"
	"tendermatch/internal/store"
)

func newTestIndex(t *testing.T) (*Manager, *store.Store, int64) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := s.CreateCommessa(context.Background(), nil, "C-001", "", "")
	require.NoError(t, err)
	return NewManager(s), s, c.ID
}

func catalogItem(t *testing.T, s *store.Store, commessaID int64, productID string, vec []float32, modelID string) *model.PriceListItem {
	t.Helper()
	item := &model.PriceListItem{
		CommessaID: commessaID, ProductID: productID, ItemDescription: "voce " + productID,
	}
	if vec != nil {
		item.Metadata.NLP = &model.NLPMetadata{ModelID: modelID, Vector: vec, Dimension: len(vec)}
	}
	require.NoError(t, s.UpsertPriceListItem(context.Background(), nil, item))
	return item
}

func TestBuildIndexAndSearch(t *testing.T) {
	ctx := context.Background()
	m, s, commessaID := newTestIndex(t)

	a := catalogItem(t, s, commessaID, "A", []float32{1, 0, 0, 0}, "m1")
	b := catalogItem(t, s, commessaID, "B", []float32{0, 1, 0, 0}, "m1")
	// Wrong model and missing vector: both invisible to the index.
	catalogItem(t, s, commessaID, "C", []float32{0, 0, 1, 0}, "m2")
	catalogItem(t, s, commessaID, "D", nil, "")

	items, err := s.ListPriceListItems(ctx, nil, commessaID)
	require.NoError(t, err)
	require.NoError(t, m.BuildIndex(ctx, commessaID, items, "m1"))
	assert.True(t, m.Exists(ctx, commessaID))
	assert.Equal(t, "m1", m.ModelID(ctx, commessaID))

	hits, err := m.Search(ctx, commessaID, []float32{1, 0, 0, 0}, 10)
	require.NoError(t, err)
	require.Len(t, hits, 2, "only compatible vectors are indexed")
	assert.Equal(t, a.ID, hits[0].ItemID)
	assert.InDelta(t, 1.0, hits[0].Score, 1e-5)
	assert.Equal(t, b.ID, hits[1].ItemID)

	hits, err = m.Search(ctx, commessaID, []float32{1, 0, 0, 0}, 1)
	require.NoError(t, err)
	assert.Len(t, hits, 1)
}

func TestBuildIndexWithoutCompatibleVectors(t *testing.T) {
	ctx := context.Background()
	m, s, commessaID := newTestIndex(t)
	catalogItem(t, s, commessaID, "A", []float32{1, 0}, "m1")

	items, err := s.ListPriceListItems(ctx, nil, commessaID)
	require.NoError(t, err)
	err = m.BuildIndex(ctx, commessaID, items, "other-model")
	assert.ErrorIs(t, err, model.ErrPrecondition)
}

func TestSearchDimensionMismatch(t *testing.T) {
	ctx := context.Background()
	m, s, commessaID := newTestIndex(t)
	catalogItem(t, s, commessaID, "A", []float32{1, 0, 0, 0}, "m1")
	items, err := s.ListPriceListItems(ctx, nil, commessaID)
	require.NoError(t, err)
	require.NoError(t, m.BuildIndex(ctx, commessaID, items, "m1"))

	// After a model change queries carry a different dimension: no
	// hits until a rebuild.
	hits, err := m.Search(ctx, commessaID, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Empty(t, hits)
}

func TestSearchWithoutIndex(t *testing.T) {
	ctx := context.Background()
	m, _, commessaID := newTestIndex(t)
	hits, err := m.Search(ctx, commessaID, []float32{1, 0}, 10)
	require.NoError(t, err)
	assert.Nil(t, hits)
	assert.False(t, m.Exists(ctx, commessaID))
}

func TestLoadFromPersistedMeta(t *testing.T) {
	ctx := context.Background()
	m, s, commessaID := newTestIndex(t)
	a := catalogItem(t, s, commessaID, "A", []float32{0, 1}, "m1")
	items, err := s.ListPriceListItems(ctx, nil, commessaID)
	require.NoError(t, err)
	require.NoError(t, m.BuildIndex(ctx, commessaID, items, "m1"))

	// A fresh manager over the same database restores the handle.
	fresh := NewManager(s)
	assert.True(t, fresh.Exists(ctx, commessaID))
	hits, err := fresh.Search(ctx, commessaID, []float32{0, 1}, 5)
	require.NoError(t, err)
	require.Len(t, hits, 1)
	assert.Equal(t, a.ID, hits[0].ItemID)
}

func TestDeleteIndex(t *testing.T) {
	ctx := context.Background()
	m, s, commessaID := newTestIndex(t)
	catalogItem(t, s, commessaID, "A", []float32{1, 0}, "m1")
	items, err := s.ListPriceListItems(ctx, nil, commessaID)
	require.NoError(t, err)
	require.NoError(t, m.BuildIndex(ctx, commessaID, items, "m1"))

	require.NoError(t, m.Delete(ctx, commessaID))
	assert.False(t, m.Exists(ctx, commessaID))
	// Deleting an absent index is fine.
	require.NoError(t, m.Delete(ctx, commessaID))
}

func TestSearchBruteOrdering(t *testing.T) {
	h := &handle{dim: 2, entries: []entry{
		{itemID: 3, vector: []float32{0, 1}},
		{itemID: 1, vector: []float32{1, 0}},
		{itemID: 2, vector: []float32{1, 0}},
	}}

	hits := searchBrute(h, []float32{1, 0}, 10)
	require.Len(t, hits, 3)
	// Ties break on the lower item id.
	assert.Equal(t, int64(1), hits[0].ItemID)
	assert.Equal(t, int64(2), hits[1].ItemID)
	assert.Equal(t, int64(3), hits[2].ItemID)

	assert.Len(t, searchBrute(h, []float32{1, 0}, 2), 2)
}
