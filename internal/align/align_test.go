package align

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendermatch/internal/model"
)

func fptr(v float64) *float64 { return &v }
func iptr(v int) *int         { return &v }

func projectLine(id int64, orderIndex int, code, description, uom string, qty, price float64) model.VoceComputo {
	amount := qty * price
	v := model.VoceComputo{
		ID:          id,
		OrderIndex:  orderIndex,
		Code:        code,
		Description: description,
		UOM:         uom,
		Quantity:    fptr(qty),
		UnitPrice:   fptr(price),
		Amount:      fptr(amount),
	}
	return v
}

func TestStabilizeReturnPrice(t *testing.T) {
	tests := []struct {
		name      string
		price     float64
		reference *float64
		want      float64
		changed   bool
	}{
		{name: "thousand-fold slip", price: 25000, reference: fptr(25), want: 25, changed: true},
		{name: "million-fold slip", price: 25000000, reference: fptr(25), want: 25, changed: true},
		{name: "plausible price untouched", price: 2000, reference: fptr(10), want: 2000, changed: false},
		{name: "below magnitude untouched", price: 900, reference: fptr(1), want: 900, changed: false},
		{name: "no reference", price: 25000, reference: nil, want: 25000, changed: false},
		{name: "zero reference", price: 25000, reference: fptr(0), want: 25000, changed: false},
		{name: "sub-unit reference", price: 25000, reference: fptr(0.5), want: 25000, changed: false},
		{name: "at most four divisions", price: 1e15, reference: fptr(1), want: 1000, changed: true},
		{name: "negative price", price: -50000, reference: fptr(50), want: -50, changed: true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, changed := StabilizeReturnPrice(tt.price, tt.reference)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.Equal(t, tt.changed, changed)
		})
	}
}

func TestAlignByDescription(t *testing.T) {
	projectLines := []model.VoceComputo{
		projectLine(1, 0, "E01", "Parete in cartongesso doppia lastra", "m2", 100, 45),
		projectLine(2, 1, "E02", "Controsoffitto ispezionabile", "m2", 50, 30),
		projectLine(3, 2, "E03", "Isolamento in lana minerale", "m2", 80, 12),
	}
	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Parete in cartongesso doppia lastra", UOM: "m2", UnitPrice: fptr(42)},
		{OrderIndex: 1, Description: "Controsoffitto ispezionabile", UOM: "m2", UnitPrice: fptr(28.5)},
	}

	result := AlignReturnRows(projectLines, returnLines, false, nil)

	// One aligned line per project line, in project order.
	require.Len(t, result.AlignedLines, 3)
	assert.Equal(t, 2, result.MatchedCount)
	assert.Equal(t, 1, result.MissingCount())

	first := result.AlignedLines[0]
	require.NotNil(t, first.UnitPrice)
	assert.InDelta(t, 42, *first.UnitPrice, 1e-9)
	// Quantity kept from the project, amount recomputed.
	require.NotNil(t, first.Quantity)
	assert.InDelta(t, 100, *first.Quantity, 1e-9)
	require.NotNil(t, first.Amount)
	assert.InDelta(t, 4200, *first.Amount, 1e-9)

	// The unmatched line is zeroed and flagged.
	missing := result.AlignedLines[2]
	assert.True(t, missing.Metadata.MissingFromReturn)
	assert.InDelta(t, 0, *missing.Quantity, 1e-9)
	assert.InDelta(t, 0, *missing.Amount, 1e-9)

	assert.Len(t, result.LegacyPairs, 2)
	assert.Empty(t, result.ReturnOnlyLabels)
}

func TestAlignByDescriptionFuzzyPass(t *testing.T) {
	projectLines := []model.VoceComputo{
		projectLine(1, 0, "E01", "Parete divisoria cartongesso lastra standard", "m2", 10, 40),
	}
	// Signature differs, but token overlap clears the fuzzy threshold.
	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Parete divisoria in cartongesso con lastra", UnitPrice: fptr(38)},
	}

	result := AlignReturnRows(projectLines, returnLines, false, nil)
	assert.Equal(t, 1, result.MatchedCount)
	require.NotNil(t, result.AlignedLines[0].UnitPrice)
	assert.InDelta(t, 38, *result.AlignedLines[0].UnitPrice, 1e-9)
}

func TestAlignByDescriptionReturnOnlyRows(t *testing.T) {
	projectLines := []model.VoceComputo{
		projectLine(1, 0, "E01", "Parete in cartongesso", "m2", 10, 40),
	}
	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Parete in cartongesso", UOM: "m2", UnitPrice: fptr(39)},
		{OrderIndex: 1, Description: "Oneri di sicurezza speciali", UnitPrice: fptr(500)},
		{OrderIndex: 2, Description: "OPERE DA CARTONGESSISTA"}, // header: no price, no qty
	}

	result := AlignReturnRows(projectLines, returnLines, false, nil)
	assert.Equal(t, []string{"Oneri di sicurezza speciali"}, result.ReturnOnlyLabels)
	assert.Equal(t, []string{"OPERE DA CARTONGESSISTA"}, result.ExcelOnlyGroups)
}

func TestAlignProgressiveByCodeWithoutDescription(t *testing.T) {
	// Return rows that carry only progressivo, code and price still
	// match through the identity buckets.
	p := projectLine(1, 0, "E.01.502", "Parete attrezzata completa di struttura", "m2", 20, 55)
	p.Progressivo = iptr(12)
	projectLines := []model.VoceComputo{p}

	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Progressivo: iptr(12), Code: "E.01.502", UnitPrice: fptr(52)},
	}

	result := AlignReturnRows(projectLines, returnLines, true, nil)
	assert.Equal(t, 1, result.MatchedCount)
	require.NotNil(t, result.AlignedLines[0].UnitPrice)
	assert.InDelta(t, 52, *result.AlignedLines[0].UnitPrice, 1e-9)
	require.Len(t, result.LegacyPairs, 1)
	assert.Equal(t, int64(1), result.LegacyPairs[0].ProjectLineID)
	assert.Equal(t, 0, result.LegacyPairs[0].ReturnIndex)
}

func TestAlignProgressiveDuplicateProgressivi(t *testing.T) {
	p := projectLine(1, 0, "E01", "Parete in cartongesso", "m2", 10, 40)
	p.Progressivo = iptr(3)
	projectLines := []model.VoceComputo{p}

	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Progressivo: iptr(3), Code: "E01", UnitPrice: fptr(39)},
		{OrderIndex: 1, Progressivo: iptr(3), Code: "E01", UnitPrice: fptr(39)},
	}

	result := AlignReturnRows(projectLines, returnLines, true, nil)
	require.Len(t, result.DuplicateProgressivi, 1)
	assert.Equal(t, "progressivo 3 duplicato nel ritorno", result.DuplicateProgressivi[0])
}

func TestAlignProgressiveQuantityMismatch(t *testing.T) {
	p := projectLine(1, 0, "E01", "Parete in cartongesso", "m2", 10, 40)
	p.Progressivo = iptr(1)
	projectLines := []model.VoceComputo{p}

	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Progressivo: iptr(1), Code: "E01", Quantity: fptr(12.5), UnitPrice: fptr(40)},
	}

	result := AlignReturnRows(projectLines, returnLines, true, nil)
	require.Len(t, result.ProgressQuantityMismatches, 1)
	assert.Contains(t, result.ProgressQuantityMismatches[0], "12.5000")
	assert.Contains(t, result.ProgressQuantityMismatches[0], "10.0000")

	// The offered quantity is still the one written.
	require.NotNil(t, result.AlignedLines[0].Quantity)
	assert.InDelta(t, 12.5, *result.AlignedLines[0].Quantity, 1e-9)
	assert.InDelta(t, 500, *result.AlignedLines[0].Amount, 1e-9)
}

func TestAlignFallsBackWithoutProgressivi(t *testing.T) {
	// preferProgressives with a return that has no progressivi runs
	// description mode.
	projectLines := []model.VoceComputo{
		projectLine(1, 0, "E01", "Parete in cartongesso", "m2", 10, 40),
	}
	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Parete in cartongesso", UOM: "m2", UnitPrice: fptr(39)},
	}

	result := AlignReturnRows(projectLines, returnLines, true, nil)
	assert.Equal(t, 1, result.MatchedCount)
}

func TestZeroGuardRecordsViolations(t *testing.T) {
	guarded := projectLine(1, 0, "A.004.010.015", "Coordinamento di cantiere", "a corpo", 0, 0)
	guarded.Quantity = fptr(0)
	guarded.UnitPrice = nil
	guarded.Amount = fptr(0)
	projectLines := []model.VoceComputo{guarded}

	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Coordinamento di cantiere", UOM: "a corpo", Quantity: fptr(1), UnitPrice: fptr(1500)},
	}

	result := AlignReturnRows(projectLines, returnLines, false, nil)
	require.Len(t, result.ZeroGuardInputs, 1)
	assert.True(t, result.ZeroGuardInputs[0].Violated())
	assert.Equal(t, "A.004.010.015", result.ZeroGuardInputs[0].Label)
}

func TestZeroGuardMarkUpFee(t *testing.T) {
	guarded := projectLine(1, 0, "", "Mark-up fee di commessa", "a corpo", 0, 0)
	projectLines := []model.VoceComputo{guarded}

	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Mark-up fee di commessa", UOM: "a corpo", UnitPrice: fptr(0), Quantity: fptr(0)},
	}

	result := AlignReturnRows(projectLines, returnLines, false, nil)
	require.Len(t, result.ZeroGuardInputs, 1)
	// Zero values recorded but not a violation.
	assert.False(t, result.ZeroGuardInputs[0].Violated())
}

func TestApplyDescriptionPrices(t *testing.T) {
	projectLines := []model.VoceComputo{
		projectLine(1, 0, "E01", "Parete in cartongesso", "m2", 10, 40),
	}
	// The return never priced the line.
	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Parete in cartongesso", UOM: "m2"},
	}
	prices := map[string]float64{"parete in cartongesso": 37.5}

	result := AlignReturnRows(projectLines, returnLines, false, prices)
	require.NotNil(t, result.AlignedLines[0].UnitPrice)
	assert.InDelta(t, 37.5, *result.AlignedLines[0].UnitPrice, 1e-9)
	assert.InDelta(t, 375, *result.AlignedLines[0].Amount, 1e-9)
}

func TestAlignmentPriceStabilization(t *testing.T) {
	projectLines := []model.VoceComputo{
		projectLine(1, 0, "E01", "Parete in cartongesso", "m2", 10, 45),
	}
	returnLines := []model.ParsedVoce{
		{OrderIndex: 0, Description: "Parete in cartongesso", UOM: "m2", UnitPrice: fptr(42000)},
	}

	result := AlignReturnRows(projectLines, returnLines, false, nil)
	require.Len(t, result.PriceAdjustments, 1)
	assert.Equal(t, "E01: 42000.00 -> 42.00", result.PriceAdjustments[0].String())
	assert.InDelta(t, 42, *result.AlignedLines[0].UnitPrice, 1e-9)
	assert.InDelta(t, 420, *result.AlignedLines[0].Amount, 1e-9)
}
