package analysis

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendermatch/internal/model"
)

func testSettings() model.Settings {
	return model.Settings{CriticitaMediaPercent: 25, CriticitaAltaPercent: 50}
}

func TestClassifyDelta(t *testing.T) {
	s := testSettings()
	assert.Equal(t, CriticitaBassa, ClassifyDelta(0, s))
	assert.Equal(t, CriticitaBassa, ClassifyDelta(24.9, s))
	assert.Equal(t, CriticitaMedia, ClassifyDelta(25, s))
	assert.Equal(t, CriticitaMedia, ClassifyDelta(49.9, s))
	assert.Equal(t, CriticitaAlta, ClassifyDelta(50, s))
	assert.Equal(t, CriticitaAlta, ClassifyDelta(300, s))
}

func TestBuildWBS6AnalysisAveragesOverTotalBidders(t *testing.T) {
	// Two bidders in the tender; only one priced this category. The
	// average still divides by two so categories stay comparable.
	entries := []*Entry{
		{
			Code: "E01", Description: "Parete", UOM: "m2",
			Quantity: 100, AmountProject: 1000,
			WBS6Code: "E010", WBS6Description: "Cartongesso",
			Offerte: map[string]*OfferFact{
				"ACME": {Quantity: 100, UnitPrice: 9, Amount: 900},
			},
		},
	}

	analysis := BuildWBS6Analysis(entries, 2, testSettings())
	require.Len(t, analysis.Categorie, 1)
	cat := analysis.Categorie[0]
	assert.InDelta(t, 1000, cat.ImportoProgetto, 1e-9)
	assert.InDelta(t, 450, cat.MediaOfferte, 1e-9)
	assert.InDelta(t, -550, cat.DeltaAssoluto, 1e-9)
	assert.InDelta(t, -55, cat.DeltaPercentuale, 1e-9)
	assert.Equal(t, CriticitaAlta, cat.Criticita)
	assert.Equal(t, 1, analysis.ConteggiCriticita[CriticitaAlta])

	require.Len(t, cat.Voci, 1)
	voce := cat.Voci[0]
	assert.Equal(t, 1, voce.OfferteConsiderate)
	// Media importo divides by the full bidder count too.
	assert.InDelta(t, 450, voce.MediaImportoTotale, 1e-9)
	// Media prezzo divides only by actual offers.
	assert.InDelta(t, 9, voce.MediaPrezzoUnitario, 1e-9)
	assert.Nil(t, voce.DeviazioneStandard)
}

func TestBuildWBS6AnalysisVoceStats(t *testing.T) {
	entries := []*Entry{
		{
			Code: "E01", Quantity: 10, AmountProject: 400,
			WBS6Code: "E010", WBS6Description: "Cartongesso",
			Offerte: map[string]*OfferFact{
				"ACME": {UnitPrice: 45, Amount: 450},
				"BETA": {UnitPrice: 35, Amount: 350},
			},
		},
	}

	analysis := BuildWBS6Analysis(entries, 2, testSettings())
	voce := analysis.Categorie[0].Voci[0]

	assert.Equal(t, 2, voce.OfferteConsiderate)
	assert.InDelta(t, 350, voce.ImportoMinimo, 1e-9)
	assert.Equal(t, "BETA", voce.ImpresaMin)
	assert.InDelta(t, 450, voce.ImportoMassimo, 1e-9)
	assert.Equal(t, "ACME", voce.ImpresaMax)
	assert.InDelta(t, 40, voce.MediaPrezzoUnitario, 1e-9)
	assert.InDelta(t, 400, voce.MediaImportoTotale, 1e-9)
	require.NotNil(t, voce.DeviazioneStandard)
	// Population stdev of {450, 350} = 50.
	assert.InDelta(t, 50, *voce.DeviazioneStandard, 1e-9)
	assert.Equal(t, "stabile", voce.Direzione)
	assert.Equal(t, CriticitaBassa, voce.Criticita)
}

func TestBuildWBS6AnalysisDirection(t *testing.T) {
	up := []*Entry{{
		AmountProject: 100, WBS6Description: "A",
		Offerte: map[string]*OfferFact{"ACME": {Amount: 130}},
	}}
	assert.Equal(t, "aumento", BuildWBS6Analysis(up, 1, testSettings()).Categorie[0].Voci[0].Direzione)

	down := []*Entry{{
		AmountProject: 100, WBS6Description: "A",
		Offerte: map[string]*OfferFact{"ACME": {Amount: 80}},
	}}
	assert.Equal(t, "diminuzione", BuildWBS6Analysis(down, 1, testSettings()).Categorie[0].Voci[0].Direzione)
}

func TestBuildWBS6AnalysisFallbackAndSorting(t *testing.T) {
	entries := []*Entry{
		{AmountProject: 100, WBS6Code: "", WBS6Description: ""},
		{AmountProject: 900, WBS6Code: "E010", WBS6Description: "Cartongesso"},
	}

	analysis := BuildWBS6Analysis(entries, 0, testSettings())
	require.Len(t, analysis.Categorie, 2)
	// Sorted by project amount descending.
	assert.Equal(t, "Cartongesso", analysis.Categorie[0].Description)
	assert.Equal(t, FallbackWBS6Label, analysis.Categorie[1].Description)
}

func TestBuildWBS6AnalysisZeroProjectAmount(t *testing.T) {
	entries := []*Entry{{
		AmountProject: 0, WBS6Description: "A",
		Offerte: map[string]*OfferFact{"ACME": {Amount: 500}},
	}}
	analysis := BuildWBS6Analysis(entries, 1, testSettings())
	// No division by zero: percent delta stays 0, classified low.
	assert.InDelta(t, 0, analysis.Categorie[0].DeltaPercentuale, 1e-9)
	assert.InDelta(t, 500, analysis.Categorie[0].DeltaAssoluto, 1e-9)
}
