package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"tendermatch/internal/model"
)

func TestItemText(t *testing.T) {
	item := &model.PriceListItem{
		ItemCode:        "E.01.502",
		ItemDescription: "Parete in cartongesso doppia lastra",
		WBS6Description: "Opere in cartongesso",
		WBS7Description: "Pareti divisorie",
		PriceLists: map[string]float64{
			"Listino Base": 42.5,
			"Listino 2024": 45.0,
		},
	}

	got := ItemText(item)
	// Labels come sorted, prices never appear.
	assert.Equal(t,
		"E.01.502 • Parete in cartongesso doppia lastra • Opere in cartongesso • Pareti divisorie • Listino 2024 • Listino Base",
		got)
	assert.NotContains(t, got, "42.5")
}

func TestItemTextSkipsEmptyParts(t *testing.T) {
	item := &model.PriceListItem{ItemDescription: "Solo descrizione"}
	assert.Equal(t, "Solo descrizione", ItemText(item))

	assert.Equal(t, "", ItemText(&model.PriceListItem{}))
}

func TestNormalizeL2(t *testing.T) {
	vec := []float32{3, 4}
	NormalizeL2(vec)
	assert.InDelta(t, 0.6, float64(vec[0]), 1e-6)
	assert.InDelta(t, 0.8, float64(vec[1]), 1e-6)

	zero := []float32{0, 0}
	NormalizeL2(zero)
	assert.Equal(t, []float32{0, 0}, zero)
}

func TestCosine(t *testing.T) {
	a := []float32{1, 0}
	b := []float32{0, 1}
	got, err := Cosine(a, b)
	assert.NoError(t, err)
	assert.InDelta(t, 0, got, 1e-9)

	same, err := Cosine(a, a)
	assert.NoError(t, err)
	assert.InDelta(t, 1, same, 1e-9)

	_, err = Cosine(a, []float32{1, 2, 3})
	assert.Error(t, err)
}
