package importer

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendermatch/internal/analysis"
	"tendermatch/internal/model"
	"tendermatch/internal/store"
)

func fptr(v float64) *float64 { return &v }

func newTestImporter(t *testing.T) (*Importer, int64) {
	t.Helper()
	s, err := store.New(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })

	c, err := s.CreateCommessa(context.Background(), nil, "C-001", "Torre Nord", "")
	require.NoError(t, err)
	return &Importer{Store: s, Cache: analysis.NewCache()}, c.ID
}

func parsedProject() *model.ParsedComputo {
	return &model.ParsedComputo{
		SourceFile: "computo.xlsx",
		Lines: []model.ParsedVoce{
			{
				OrderIndex: 0, Code: "E.01", Description: "Parete in cartongesso",
				UOM: "m2", Quantity: fptr(100), UnitPrice: fptr(40),
				WBSLevels: []model.ParsedWBSLevel{{Level: 6, Code: "e010", Description: "Cartongesso"}},
			},
			{
				OrderIndex: 1, Code: "E.02", Description: "Controsoffitto ispezionabile",
				UOM: "m2", Quantity: fptr(50), UnitPrice: fptr(20),
			},
		},
	}
}

func parsedReturn() *model.ParsedComputo {
	return &model.ParsedComputo{
		SourceFile: "ritorno.xlsx",
		Lines: []model.ParsedVoce{
			{OrderIndex: 0, Code: "E.01", Description: "Parete in cartongesso",
				Quantity: fptr(100), UnitPrice: fptr(38)},
			{OrderIndex: 1, Code: "E.02", Description: "Controsoffitto ispezionabile",
				Quantity: fptr(50), UnitPrice: fptr(18)},
		},
	}
}

func TestImportProject(t *testing.T) {
	ctx := context.Background()
	imp, commessaID := newTestImporter(t)

	computo, err := imp.ImportProject(ctx, commessaID, parsedProject())
	require.NoError(t, err)
	assert.Equal(t, model.ComputoProgetto, computo.Type)
	assert.Equal(t, "computo.xlsx", computo.FileRef)
	// Amounts are derived from quantity x price, the total from the
	// line sum: 4000 + 1000.
	require.NotNil(t, computo.TotalAmount)
	assert.InDelta(t, 5000, *computo.TotalAmount, 1e-9)
	assert.Empty(t, computo.Note)

	lines, err := imp.Store.ListVociComputo(ctx, nil, computo.ID)
	require.NoError(t, err)
	require.Len(t, lines, 2)
	require.NotNil(t, lines[0].Amount)
	assert.InDelta(t, 4000, *lines[0].Amount, 1e-9)
	// WBS6 codes fold to canonical form.
	assert.Equal(t, "E010", lines[0].WBS6().Code)
}

func TestImportProjectDeclaredTotalDrift(t *testing.T) {
	ctx := context.Background()
	imp, commessaID := newTestImporter(t)

	parsed := parsedProject()
	parsed.TotalAmount = fptr(6000)
	computo, err := imp.ImportProject(ctx, commessaID, parsed)
	require.NoError(t, err)
	// The declared total wins but the drift is noted.
	assert.InDelta(t, 6000, *computo.TotalAmount, 1e-9)
	assert.Contains(t, computo.Note, "totale dichiarato")
}

func TestImportProjectRejectsEmpty(t *testing.T) {
	ctx := context.Background()
	imp, commessaID := newTestImporter(t)
	_, err := imp.ImportProject(ctx, commessaID, &model.ParsedComputo{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestImportReturnRequiresProject(t *testing.T) {
	ctx := context.Background()
	imp, commessaID := newTestImporter(t)

	_, err := imp.ImportReturn(ctx, commessaID, parsedReturn(), ReturnOptions{Bidder: "ACME"})
	assert.ErrorIs(t, err, model.ErrPrecondition)
}

func TestImportReturnRequiresBidder(t *testing.T) {
	ctx := context.Background()
	imp, commessaID := newTestImporter(t)
	_, err := imp.ImportReturn(ctx, commessaID, parsedReturn(), ReturnOptions{})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestImportReturnRoundModes(t *testing.T) {
	ctx := context.Background()
	imp, commessaID := newTestImporter(t)
	_, err := imp.ImportProject(ctx, commessaID, parsedProject())
	require.NoError(t, err)

	first, err := imp.ImportReturn(ctx, commessaID, parsedReturn(), ReturnOptions{Bidder: "ACME"})
	require.NoError(t, err)
	assert.Equal(t, 1, first.RoundNumber)
	require.NotNil(t, first.TotalAmount)
	// 100 x 38 + 50 x 18.
	assert.InDelta(t, 4700, *first.TotalAmount, 1e-9)

	second, err := imp.ImportReturn(ctx, commessaID, parsedReturn(),
		ReturnOptions{Bidder: "ACME", RoundMode: model.RoundModeAuto})
	require.NoError(t, err)
	assert.Equal(t, 2, second.RoundNumber)

	// Replace round 1: the old computo is gone, the new one takes its
	// round.
	replaced, err := imp.ImportReturn(ctx, commessaID, parsedReturn(),
		ReturnOptions{Bidder: "ACME", RoundMode: model.RoundModeReplace, RoundNumber: 1})
	require.NoError(t, err)
	assert.Equal(t, 1, replaced.RoundNumber)
	assert.NotEqual(t, first.ID, replaced.ID)
	_, err = imp.Store.GetComputo(ctx, first.ID)
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = imp.ImportReturn(ctx, commessaID, parsedReturn(),
		ReturnOptions{Bidder: "ACME", RoundMode: model.RoundModeReplace, RoundNumber: 9})
	assert.ErrorIs(t, err, model.ErrNotFound)

	_, err = imp.ImportReturn(ctx, commessaID, parsedReturn(),
		ReturnOptions{Bidder: "ACME", RoundMode: "merge"})
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}

func TestImportInvalidatesAnalysisCache(t *testing.T) {
	ctx := context.Background()
	imp, commessaID := newTestImporter(t)

	imp.Cache.Put(commessaID, "v1", &analysis.Dataset{})
	_, err := imp.ImportProject(ctx, commessaID, parsedProject())
	require.NoError(t, err)
	_, ok := imp.Cache.Get(commessaID, "v1")
	assert.False(t, ok)
}

func TestImportBatchIsolatesFailures(t *testing.T) {
	ctx := context.Background()
	imp, commessaID := newTestImporter(t)
	_, err := imp.ImportProject(ctx, commessaID, parsedProject())
	require.NoError(t, err)

	results := imp.ImportBatch(ctx, commessaID, []BatchRequest{
		{Parsed: parsedReturn(), Options: ReturnOptions{Bidder: "ACME"}},
		{Parsed: &model.ParsedComputo{}, Options: ReturnOptions{Bidder: "BETA"}},
		{Parsed: parsedReturn(), Options: ReturnOptions{Bidder: "GAMMA"}},
	})
	require.Len(t, results, 3)

	byBidder := map[string]BatchResult{}
	for _, r := range results {
		byBidder[r.Bidder] = r
	}
	require.NoError(t, byBidder["ACME"].Err)
	assert.NotNil(t, byBidder["ACME"].Computo)
	assert.ErrorIs(t, byBidder["BETA"].Err, model.ErrInvalidInput)
	require.NoError(t, byBidder["GAMMA"].Err)
}
