package embedding

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestExtractAttributesDrywall(t *testing.T) {
	attrs := ExtractAttributes(
		"Parete in cartongesso con doppia lastra idrofuga, montante C75, isolamento in lana di roccia, spessore 125 mm")

	require.NotNil(t, attrs.NumLastre)
	assert.Equal(t, 2, *attrs.NumLastre)
	require.NotNil(t, attrs.SpessoreMM)
	assert.Equal(t, 125, *attrs.SpessoreMM)
	assert.Equal(t, "idrofuga", attrs.TipoLastra)
	require.NotNil(t, attrs.MontanteMM)
	assert.Equal(t, 75, *attrs.MontanteMM)
	assert.Equal(t, "lana_roccia", attrs.Isolamento)
}

func TestExtractAttributesNumLastre(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *int
	}{
		{name: "numeric prefix", text: "parete con 2 lastre per lato", want: iptr(2)},
		{name: "times notation", text: "rivestimento lastra x 3", want: iptr(3)},
		{name: "doppia", text: "contparete a doppia lastra", want: iptr(2)},
		{name: "tripla", text: "parete tripla lastra REI", want: iptr(3)},
		{name: "singola", text: "lastra singola su struttura", want: iptr(1)},
		{name: "absent", text: "controsoffitto continuo", want: nil},
		{name: "implausible count ignored", text: "fornitura di 55 lastre", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAttributes(tt.text).NumLastre
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestExtractAttributesSpessore(t *testing.T) {
	tests := []struct {
		name string
		text string
		want *int
	}{
		{name: "mm", text: "spessore 100 mm", want: iptr(100)},
		{name: "spessore di", text: "spessore di 12,5 mm", want: iptr(13)},
		{name: "cm converted", text: "spessore 10 cm", want: iptr(100)},
		{name: "abbreviated", text: "parete sp. 125", want: iptr(125)},
		{name: "stratigraphy summed", text: "parete 13/75/13", want: iptr(101)},
		{name: "two layer stratigraphy", text: "contropatete 13/50", want: iptr(63)},
		{name: "decimal stratigraphy summed", text: "parete 12.5/75/12.5", want: iptr(100)},
		{name: "comma decimal stratigraphy", text: "contropatete 12,5/50", want: iptr(63)},
		{name: "absent", text: "parete in cartongesso", want: nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ExtractAttributes(tt.text).SpessoreMM
			if tt.want == nil {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, *tt.want, *got)
		})
	}
}

func TestExtractAttributesKinds(t *testing.T) {
	assert.Equal(t, "ceramica", ExtractAttributes("pavimento in gres porcellanato").TipoRivestimento)
	assert.Equal(t, "pietra", ExtractAttributes("rivestimento in travertino").TipoRivestimento)
	assert.Equal(t, "ignifuga", ExtractAttributes("lastra ignifuga REI 120").TipoLastra)
	assert.Equal(t, "acustica", ExtractAttributes("lastra fonoassorbente").TipoLastra)
	assert.Equal(t, "standard", ExtractAttributes("parete in cartongesso liscio").TipoLastra)
	assert.Equal(t, "", ExtractAttributes("opere da fabbro").TipoLastra)
	assert.Equal(t, "polistirene", ExtractAttributes("pannello in XPS da copertura").Isolamento)
}

func TestExtractAttributesMontanteRange(t *testing.T) {
	// Montante sizes live between 40 and 200 mm; the C marker is
	// case-sensitive to avoid eating codes.
	assert.Nil(t, ExtractAttributes("profilo C 30").MontanteMM)
	assert.Nil(t, ExtractAttributes("profilo C 250").MontanteMM)
	require.NotNil(t, ExtractAttributes("struttura C 100").MontanteMM)
}

func TestExtractAttributesEmpty(t *testing.T) {
	assert.True(t, ExtractAttributes("").IsZero())
	assert.True(t, ExtractAttributes("   ").IsZero())
}

func TestAttributesMapRoundTrip(t *testing.T) {
	orig := ExtractAttributes("doppia lastra idrofuga sp. 125, lana di roccia, montante C75")
	require.False(t, orig.IsZero())

	rebuilt := AttributesFromMap(orig.Map())
	assert.Equal(t, orig, rebuilt)

	// JSON round-trips deliver float64 values.
	rebuilt2 := AttributesFromMap(map[string]any{
		"num_lastre":  float64(2),
		"spessore_mm": float64(125),
		"isolamento":  "lana_roccia",
	})
	require.NotNil(t, rebuilt2.NumLastre)
	assert.Equal(t, 2, *rebuilt2.NumLastre)
	require.NotNil(t, rebuilt2.SpessoreMM)
	assert.Equal(t, 125, *rebuilt2.SpessoreMM)
	assert.Equal(t, "lana_roccia", rebuilt2.Isolamento)
}

func iptr(v int) *int { return &v }
