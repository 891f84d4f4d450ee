package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func trendDataset() *Dataset {
	return &Dataset{
		ReturnRounds: []ReturnRef{
			{ComputoID: 1, Bidder: "ACME", Label: "ACME (Round 1)", RoundNumber: 1, TotalAmount: 1000},
			{ComputoID: 2, Bidder: "ACME", Label: "ACME (Round 2)", RoundNumber: 2, TotalAmount: 900},
			{ComputoID: 3, Bidder: "BETA", Label: "BETA", RoundNumber: 1, TotalAmount: 1100},
		},
	}
}

func TestTrendRound(t *testing.T) {
	trends := TrendRound(trendDataset(), "")
	require.Len(t, trends, 2)

	acme := trends[0]
	assert.Equal(t, "ACME", acme.Impresa)
	require.Len(t, acme.Offerte, 2)
	assert.Equal(t, "Round 1", acme.Offerte[0].RoundLabel)
	assert.InDelta(t, 0, acme.Offerte[0].DeltaPercent, 1e-9)
	assert.InDelta(t, -10, acme.Offerte[1].DeltaPercent, 1e-9)
	assert.InDelta(t, -10, acme.DeltaComplessivo, 1e-9)

	beta := trends[1]
	require.Len(t, beta.Offerte, 1)
	assert.InDelta(t, 0, beta.DeltaComplessivo, 1e-9)
}

func TestTrendRoundFilter(t *testing.T) {
	// The filter matches on the normalized label.
	trends := TrendRound(trendDataset(), "  acme ")
	require.Len(t, trends, 1)
	assert.Equal(t, "ACME", trends[0].Impresa)
}

func TestBidderColorStable(t *testing.T) {
	// Same bidder, different spellings, same color.
	assert.Equal(t, bidderColor("ACME Costruzioni"), bidderColor("acme  costruzioni (2)"))
	assert.NotEmpty(t, bidderColor("ACME Costruzioni"))
}

func heatmapDataset() *Dataset {
	return &Dataset{
		Entries: []*Entry{
			{
				AmountProject: 1000, WBS6Code: "E010", WBS6Description: "Cartongesso",
				Offerte: map[string]*OfferFact{
					"ACME": {Amount: 950},
					"BETA": {Amount: 1200},
				},
			},
			{
				AmountProject: 400, WBS6Code: "F020", WBS6Description: "Pavimenti",
				Offerte: map[string]*OfferFact{
					"ACME": {Amount: 380},
				},
			},
		},
		ReturnRounds: []ReturnRef{
			{Bidder: "ACME", Label: "ACME", RoundNumber: 1, TotalAmount: 1330},
			{Bidder: "BETA", Label: "BETA", RoundNumber: 1, TotalAmount: 1200},
		},
	}
}

func TestHeatmapCompetitivita(t *testing.T) {
	rows := HeatmapCompetitivita(heatmapDataset(), nil)
	require.Len(t, rows, 2)

	// Rows sorted by project amount descending.
	assert.Equal(t, "Cartongesso", rows[0].WBS6Description)
	require.Len(t, rows[0].Celle, 2)
	assert.Equal(t, "ACME", rows[0].Celle[0].Impresa)
	assert.InDelta(t, 950, rows[0].Celle[0].Importo, 1e-9)
	assert.InDelta(t, -5, rows[0].Celle[0].DeltaPercent, 1e-9)
	assert.InDelta(t, 20, rows[0].Celle[1].DeltaPercent, 1e-9)

	// BETA never priced Pavimenti: its cell is (0, 0).
	pav := rows[1]
	assert.Equal(t, "Pavimenti", pav.WBS6Description)
	assert.InDelta(t, 0, pav.Celle[1].Importo, 1e-9)
	assert.InDelta(t, 0, pav.Celle[1].DeltaPercent, 1e-9)
}

func TestHeatmapRoundFilter(t *testing.T) {
	ds := heatmapDataset()
	ds.ReturnRounds = append(ds.ReturnRounds, ReturnRef{Bidder: "GAMMA", Label: "GAMMA", RoundNumber: 2})

	round := 1
	rows := HeatmapCompetitivita(ds, &round)
	require.Len(t, rows, 2)
	// GAMMA bid in round 2 only: no column for it.
	assert.Len(t, rows[0].Celle, 2)
}
