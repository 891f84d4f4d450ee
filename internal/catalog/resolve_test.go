package catalog

import (
	"context"
	"fmt"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendermatch/internal/model"
)

func words(prefix string, n int) string {
	out := make([]string, n)
	for i := range out {
		out[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return strings.Join(out, " ")
}

func TestIndexLookups(t *testing.T) {
	items := []*model.PriceListItem{
		{ID: 1, ProductID: "P1", ItemCode: "E.01.502", ItemDescription: "Parete in cartongesso", WBS6Code: "E010"},
		{ID: 2, ItemCode: "F.02", ItemDescription: "Pavimento in gres", WBS6Code: "F020"},
	}
	idx := NewIndex(items, "m1")

	// Codes match on the folded token.
	require.Len(t, idx.ByCode("e 01 502"), 1)
	assert.Equal(t, int64(1), idx.ByCode("E01502")[0].ID)
	assert.Nil(t, idx.ByCode(""))

	assert.Equal(t, int64(1), idx.ByProductID("P1").ID)
	assert.Nil(t, idx.ByProductID("P9"))

	// Descriptions match after accent and whitespace folding.
	require.Len(t, idx.ByDescription("  PARETE in   cartongesso "), 1)
	require.Len(t, idx.BySignature("Parete in cartongesso", "m2", "E010"), 1)

	assert.False(t, idx.HasEmbeddings())
	assert.Equal(t, "m1", idx.ModelID())
}

func TestIndexEmbeddingBuckets(t *testing.T) {
	withVec := &model.PriceListItem{ID: 1, ItemDescription: "Parete", WBS6Code: "E010"}
	withVec.Metadata.NLP = &model.NLPMetadata{ModelID: "m1", Vector: []float32{1, 0}}
	otherModel := &model.PriceListItem{ID: 2, ItemDescription: "Pavimento", WBS6Code: "F020"}
	otherModel.Metadata.NLP = &model.NLPMetadata{ModelID: "m2", Vector: []float32{0, 1}}

	idx := NewIndex([]*model.PriceListItem{withVec, otherModel}, "m1")
	assert.True(t, idx.HasEmbeddings())

	// Stale-model vectors are invisible.
	assert.Len(t, idx.EmbeddingBucket("E010"), 1)
	require.Len(t, idx.EmbeddingBucket(""), 1, "empty code falls back to the whole catalog")
	// An unknown code falls back to the whole catalog too.
	assert.Len(t, idx.EmbeddingBucket("Z999"), 1)
}

func TestResolveCascade(t *testing.T) {
	longDesc := words("w", 30)
	items := []*model.PriceListItem{
		{ID: 1, ItemCode: "E.01", ItemDescription: "Parete in cartongesso", WBS6Code: "E010"},
		{ID: 2, ItemDescription: "Controsoffitto continuo ispezionabile"},
		{ID: 3, ItemDescription: longDesc + " finitura liscia su un lato"},
		{ID: 4, ItemDescription: "posa in opera compresa " + words("t", 30)},
	}
	r := &Resolver{Index: NewIndex(items, "m1")}
	ctx := context.Background()

	item, reason := r.Resolve(ctx, "E01", "altra descrizione", "", "")
	require.NotNil(t, item)
	assert.Equal(t, int64(1), item.ID)
	assert.Equal(t, "code", reason)

	item, reason = r.Resolve(ctx, "", "Controsoffitto  CONTINUO ispezionabile", "m2", "")
	require.NotNil(t, item)
	assert.Equal(t, int64(2), item.ID)
	assert.Equal(t, "signature", reason)

	// Same first thirty words, different ending: the head key matches
	// where the full signature cannot.
	item, reason = r.Resolve(ctx, "", longDesc+" finitura grezza", "", "")
	require.NotNil(t, item)
	assert.Equal(t, int64(3), item.ID)
	assert.Equal(t, "head_signature", reason)

	item, reason = r.Resolve(ctx, "", "esclusa posa "+words("t", 30), "", "")
	require.NotNil(t, item)
	assert.Equal(t, int64(4), item.ID)
	assert.Equal(t, "tail_signature", reason)

	item, reason = r.Resolve(ctx, "X.99", "nessuna corrispondenza", "", "")
	assert.Nil(t, item)
	assert.Empty(t, reason)
}

func TestResolveTieBreaks(t *testing.T) {
	items := []*model.PriceListItem{
		{ID: 2, ItemCode: "E.01", ItemDescription: "Parete tipo A", WBS6Code: "E010"},
		{ID: 5, ItemCode: "E.01", ItemDescription: "Parete tipo B", WBS6Code: "F020"},
	}
	r := &Resolver{Index: NewIndex(items, "m1")}
	ctx := context.Background()

	// The line's WBS6 narrows the candidate set.
	item, _ := r.Resolve(ctx, "E.01", "", "", "F020")
	require.NotNil(t, item)
	assert.Equal(t, int64(5), item.ID)

	// Without a discriminating code the lowest id wins on equal keys.
	item, _ = r.Resolve(ctx, "E.01", "", "", "")
	require.NotNil(t, item)
	assert.Equal(t, int64(2), item.ID)
}

func TestResolveSemantic(t *testing.T) {
	target := &model.PriceListItem{ID: 1, ItemDescription: "Parete divisoria interna", WBS6Code: "E010"}
	target.Metadata.NLP = &model.NLPMetadata{ModelID: "m1", Vector: []float32{1, 0}}
	far := &model.PriceListItem{ID: 2, ItemDescription: "Impianto idrico", WBS6Code: "E010"}
	far.Metadata.NLP = &model.NLPMetadata{ModelID: "m1", Vector: []float32{0, 1}}

	idx := NewIndex([]*model.PriceListItem{target, far}, "m1")
	r := &Resolver{
		Index:             idx,
		SemanticThreshold: 0.58,
		Embed: func(ctx context.Context, text string) ([]float32, error) {
			return []float32{0.9, 0.1}, nil
		},
	}

	item, reason := r.Resolve(context.Background(), "", "tramezzo interno in cartongesso", "", "E010")
	require.NotNil(t, item)
	assert.Equal(t, int64(1), item.ID)
	assert.Equal(t, "semantic", reason)

	// Below the threshold nothing matches.
	r.Embed = func(ctx context.Context, text string) ([]float32, error) {
		return []float32{-1, 0}, nil
	}
	item, _ = r.Resolve(context.Background(), "", "tramezzo interno in cartongesso", "", "E010")
	assert.Nil(t, item)

	// No embedder, no semantic step.
	r.Embed = nil
	item, _ = r.Resolve(context.Background(), "", "tramezzo interno in cartongesso", "", "E010")
	assert.Nil(t, item)
}
