package align

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendermatch/internal/model"
)

func runAlignment(t *testing.T) (*ReturnAlignmentResult, []model.VoceComputo, []model.ParsedVoce) {
	t.Helper()
	projectLines := []model.VoceComputo{
		projectLine(1, 0, "E01", "Parete in cartongesso", "m2", 100, 45),
		projectLine(2, 1, "E02", "Controsoffitto ispezionabile", "m2", 50, 30),
	}
	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Parete in cartongesso", UOM: "m2", UnitPrice: fptr(42)},
	}
	return AlignReturnRows(projectLines, returnLines, false, nil), projectLines, returnLines
}

func TestReconcileDeclaredTotalWithinTolerance(t *testing.T) {
	result, projectLines, returnLines := runAlignment(t)

	// Computed total: 100 × 42 = 4200. Declared within a cent wins.
	outcome := Reconcile(result, projectLines, returnLines, fptr(4200.009), nil)
	require.NotNil(t, outcome.TotalAmount)
	assert.InDelta(t, 4200.009, *outcome.TotalAmount, 1e-9)
	assert.NotContains(t, outcome.Note, "totale dichiarato")
}

func TestReconcileDeclaredTotalMismatch(t *testing.T) {
	result, projectLines, returnLines := runAlignment(t)

	outcome := Reconcile(result, projectLines, returnLines, fptr(5000), nil)
	require.NotNil(t, outcome.TotalAmount)
	// The computed total is kept.
	assert.InDelta(t, 4200, *outcome.TotalAmount, 1e-9)
	assert.Contains(t, outcome.Note,
		"totale dichiarato 5000.00 diverso dal totale calcolato 4200.00; mantenuto il calcolato")
}

func TestReconcileMissingLinesNote(t *testing.T) {
	result, projectLines, returnLines := runAlignment(t)

	outcome := Reconcile(result, projectLines, returnLines, nil, nil)
	assert.Contains(t, outcome.Note,
		"1 voci del computo metrico non sono state aggiornate dal ritorno")
}

func TestReconcileQuantityTotals(t *testing.T) {
	result, projectLines, returnLines := runAlignment(t)

	// Project quantities sum to 150; the declared 140 is a mismatch.
	outcome := Reconcile(result, projectLines, returnLines, nil, fptr(140))
	require.NotNil(t, outcome.Report.QuantityTotals)
	assert.InDelta(t, 150, outcome.Report.QuantityTotals.Progetto, 1e-9)
	assert.InDelta(t, 140, outcome.Report.QuantityTotals.Ritorno, 1e-9)
	assert.InDelta(t, -10, outcome.Report.QuantityTotals.Delta, 1e-9)
	assert.True(t, outcome.Report.QuantityTotalMismatch)
	assert.Contains(t, outcome.Note, "quantità totale del ritorno 140.0000 diversa dal progetto 150.0000")

	// Matching declared quantity raises nothing.
	outcome2 := Reconcile(result, projectLines, returnLines, nil, fptr(150))
	assert.False(t, outcome2.Report.QuantityTotalMismatch)
}

func TestReconcileReport(t *testing.T) {
	result, projectLines, returnLines := runAlignment(t)

	outcome := Reconcile(result, projectLines, returnLines, nil, nil)
	report := outcome.Report
	require.NotNil(t, report)

	require.Len(t, report.Matched, 1)
	assert.Equal(t, "E01", report.Matched[0].ProjectLabel)
	assert.Equal(t, "Parete in cartongesso", report.Matched[0].ExcelLabel)
	require.NotNil(t, report.Matched[0].Price)
	assert.InDelta(t, 42, *report.Matched[0].Price, 1e-9)

	require.Len(t, report.Missing, 1)
	assert.Equal(t, "E02", report.Missing[0].ProjectLabel)
}

func TestReconcileZeroGuardNote(t *testing.T) {
	guarded := projectLine(1, 0, "A004010", "Coordinamento", "a corpo", 0, 0)
	projectLines := []model.VoceComputo{guarded}
	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Coordinamento", UOM: "a corpo", Quantity: fptr(1), UnitPrice: fptr(200)},
	}

	result := AlignReturnRows(projectLines, returnLines, false, nil)
	outcome := Reconcile(result, projectLines, returnLines, nil, nil)
	assert.Contains(t, outcome.Note, "voce a corpo A004010 valorizzata dal ritorno: Q=1.00 P=200.00 I=200.00")
}

func TestNoteWarningsSampleCaps(t *testing.T) {
	result := &ReturnAlignmentResult{
		ReturnOnlyLabels: []string{"r1", "r2", "r3", "r4", "r5", "r6", "r7"},
	}
	lines := noteWarnings(result)
	require.Len(t, lines, 1)
	assert.Contains(t, lines[0], "7 righe del ritorno")
	// Only five samples make it into the note.
	assert.Equal(t, 4, strings.Count(lines[0], ";"))
	assert.Contains(t, lines[0], "r5")
	assert.NotContains(t, lines[0], "r6")
}
