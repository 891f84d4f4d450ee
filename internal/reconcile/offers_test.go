package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendermatch/internal/model"
	"tendermatch/internal/store"
)

func iptr(v int) *int { return &v }

func newTestStore(t *testing.T) (*store.Store, int64) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := s.CreateCommessa(context.Background(), nil, "C-001", "", "")
	require.NoError(t, err)
	return s, c.ID
}

func catalogItem(t *testing.T, s *store.Store, commessaID int64, productID, code, desc string) *model.PriceListItem {
	t.Helper()
	item := &model.PriceListItem{CommessaID: commessaID, ProductID: productID, ItemCode: code, ItemDescription: desc}
	require.NoError(t, s.UpsertPriceListItem(context.Background(), nil, item))
	return item
}

func TestSyncPriceListOffers(t *testing.T) {
	ctx := context.Background()
	s, commessaID := newTestStore(t)

	p1 := catalogItem(t, s, commessaID, "P1", "E.01", "Parete in cartongesso a doppia lastra")
	p2 := catalogItem(t, s, commessaID, "P2", "Z.99", "Assistenza muraria agli impianti")
	p3 := catalogItem(t, s, commessaID, "P3", "E.03", "Controsoffitto continuo")

	// The project lines carry the progressivo -> product map used as
	// the resolution tail.
	projectLines := []model.VoceComputo{
		{CommessaID: commessaID, OrderIndex: 0, Progressivo: iptr(1), Code: "E.01",
			Metadata: model.VoceMetadata{ProductID: "P1"}},
		{CommessaID: commessaID, OrderIndex: 1, Progressivo: iptr(2), Code: "E.02",
			Metadata: model.VoceMetadata{ProductID: "P2"}},
	}

	ret := &model.Computo{CommessaID: commessaID, Type: model.ComputoRitorno, Bidder: "ACME", RoundNumber: 1}
	require.NoError(t, s.CreateComputo(ctx, nil, ret))

	parsed := []model.ParsedVoce{
		{OrderIndex: 0, Code: "E.01", Quantity: fptr(100), UnitPrice: fptr(40)},
		// Same item again with a diverging price: recorded, first wins.
		{OrderIndex: 1, Code: "E.01", UnitPrice: fptr(45)},
		// Within a cent of the first price: not a conflict.
		{OrderIndex: 2, Code: "E.01", UnitPrice: fptr(40.005)},
		// No catalog code: only the progressivo fallback can place it.
		{OrderIndex: 3, Progressivo: iptr(2), Description: "voce fornita solo a progressivo", UnitPrice: fptr(18)},
		// Unpriced rows never count as unmatched.
		{OrderIndex: 4, Code: "E.03"},
	}
	for i := 0; i < 7; i++ {
		parsed = append(parsed, model.ParsedVoce{
			OrderIndex: 5 + i, Code: fmt.Sprintf("X.%02d", i+1), UnitPrice: fptr(9),
		})
	}

	r := &Reconciler{Store: s}
	var report *model.MatchingReport
	require.NoError(t, s.WithTx(ctx, func(tx *sql.Tx) error {
		var err error
		report, err = r.SyncPriceListOffers(ctx, tx, ret, nil, parsed, projectLines)
		return err
	}))
	require.NotNil(t, report)

	assert.Equal(t, "lc", report.Mode)
	assert.Equal(t, 3, report.TotalPriceItems)
	assert.Equal(t, 2, report.MatchedPriceItems)
	require.Len(t, report.MissingPriceItems, 1)
	assert.Equal(t, p3.ID, report.MissingPriceItems[0].PriceListItemID)

	// Seven unmatched rows, sampled down to five.
	require.Len(t, report.UnmatchedRowsSample, 5)
	assert.Equal(t, "X.01", report.UnmatchedRowsSample[0])
	assert.Equal(t, "X.05", report.UnmatchedRowsSample[4])

	require.Len(t, report.PriceConflicts, 1)
	conflict := report.PriceConflicts[0]
	assert.Equal(t, p1.ID, conflict.PriceListItemID)
	assert.Equal(t, []float64{40, 45}, conflict.Prices)
	require.Len(t, conflict.Samples, 2)
	assert.Equal(t, "E.01", conflict.Samples[0].Source)
	assert.Equal(t, 40.0, conflict.Samples[0].Price)
	assert.Equal(t, 45.0, conflict.Samples[1].Price)

	// One offer per item, the first price wins.
	offers, err := s.OffersByItemForComputo(ctx, nil, ret.ID)
	require.NoError(t, err)
	require.Len(t, offers, 2)
	assert.Equal(t, 40.0, offers[p1.ID].UnitPrice)
	require.NotNil(t, offers[p1.ID].Quantity)
	assert.Equal(t, 100.0, *offers[p1.ID].Quantity)
	assert.Equal(t, "ACME", offers[p1.ID].ImpresaLabel)
	assert.Equal(t, 18.0, offers[p2.ID].UnitPrice)
}

func TestManualPriceUpdateRoundTrip(t *testing.T) {
	ctx := context.Background()
	s, commessaID := newTestStore(t)

	p1 := catalogItem(t, s, commessaID, "P1", "E.01", "Parete in cartongesso")
	p2 := catalogItem(t, s, commessaID, "P2", "E.02", "Controsoffitto continuo")

	project := &model.Computo{CommessaID: commessaID, Type: model.ComputoProgetto}
	require.NoError(t, s.CreateComputo(ctx, nil, project))
	lines := []model.VoceComputo{
		{CommessaID: commessaID, OrderIndex: 0, Code: "E.01", Quantity: fptr(100)},
		{CommessaID: commessaID, OrderIndex: 1, Code: "E.02", Quantity: fptr(50)},
	}
	require.NoError(t, s.ReplaceVociComputo(ctx, nil, project.ID, lines))
	require.NoError(t, s.SyncProjectVoci(ctx, nil, commessaID, project.ID, lines))
	require.NoError(t, s.LinkVociByLegacy(ctx, nil, commessaID, map[int64]int64{
		lines[0].ID: p1.ID,
		lines[1].ID: p2.ID,
	}))

	ret := &model.Computo{CommessaID: commessaID, Type: model.ComputoRitorno, Bidder: "ACME", RoundNumber: 1,
		MatchingReport: &model.MatchingReport{Mode: "lc", TotalPriceItems: 2,
			MissingPriceItems: []model.MissingItem{
				{PriceListItemID: p1.ID, ItemCode: "E.01"},
				{PriceListItemID: p2.ID, ItemCode: "E.02"},
			}}}
	require.NoError(t, s.CreateComputo(ctx, nil, ret))

	r := &Reconciler{Store: s}
	updated, err := r.ManualPriceUpdate(ctx, commessaID, ret.ID, p1.ID, 38.5, fptr(100))
	require.NoError(t, err)

	// The computo is rebuilt from its offer map: the priced line takes
	// the manual price, the other stays missing.
	require.NotNil(t, updated.TotalAmount)
	assert.InDelta(t, 3850.0, *updated.TotalAmount, 1e-9)

	rebuilt, err := s.ListVociComputo(ctx, nil, updated.ID)
	require.NoError(t, err)
	require.Len(t, rebuilt, 2)
	require.NotNil(t, rebuilt[0].UnitPrice)
	assert.InDelta(t, 38.5, *rebuilt[0].UnitPrice, 1e-9)
	require.NotNil(t, rebuilt[0].Amount)
	assert.InDelta(t, 3850.0, *rebuilt[0].Amount, 1e-9)
	assert.False(t, rebuilt[0].Metadata.MissingFromReturn)
	assert.Nil(t, rebuilt[1].UnitPrice)
	assert.True(t, rebuilt[1].Metadata.MissingFromReturn)

	// The matching report moves the item out of the missing list.
	require.NotNil(t, updated.MatchingReport)
	assert.Equal(t, 1, updated.MatchingReport.MatchedPriceItems)
	require.Len(t, updated.MatchingReport.MissingPriceItems, 1)
	assert.Equal(t, p2.ID, updated.MatchingReport.MissingPriceItems[0].PriceListItemID)

	// A second update on the same item replaces the offer in place and
	// does not bump the matched counter again.
	updated, err = r.ManualPriceUpdate(ctx, commessaID, ret.ID, p1.ID, 40, fptr(100))
	require.NoError(t, err)
	assert.InDelta(t, 4000.0, *updated.TotalAmount, 1e-9)
	assert.Equal(t, 1, updated.MatchingReport.MatchedPriceItems)
}

func TestManualPriceUpdateValidation(t *testing.T) {
	ctx := context.Background()
	s, commessaID := newTestStore(t)
	p1 := catalogItem(t, s, commessaID, "P1", "E.01", "Parete in cartongesso")

	project := &model.Computo{CommessaID: commessaID, Type: model.ComputoProgetto}
	require.NoError(t, s.CreateComputo(ctx, nil, project))
	ret := &model.Computo{CommessaID: commessaID, Type: model.ComputoRitorno, Bidder: "ACME", RoundNumber: 1}
	require.NoError(t, s.CreateComputo(ctx, nil, ret))

	r := &Reconciler{Store: s}
	_, err := r.ManualPriceUpdate(ctx, commessaID, ret.ID, p1.ID, -1, nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = r.ManualPriceUpdate(ctx, commessaID, project.ID, p1.ID, 10, nil)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = r.ManualPriceUpdate(ctx, commessaID+1, ret.ID, p1.ID, 10, nil)
	assert.ErrorIs(t, err, model.ErrNotFound)
}
