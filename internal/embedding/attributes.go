package embedding

import (
	"regexp"
	"strconv"
	"strings"
)

// Attribute extraction: a regex and keyword miner for the physical
// properties buried in drywall and finishing descriptions. Runs once
// per text; the result is stored next to the vector and reused for
// attribute boosts during search.

// Attributes carries the extracted properties. Nil pointers mean the
// text did not mention the property.
type Attributes struct {
	NumLastre       *int   `json:"num_lastre,omitempty"`
	SpessoreMM      *int   `json:"spessore_mm,omitempty"`
	TipoRivestimento string `json:"tipo_rivestimento,omitempty"`
	TipoLastra      string `json:"tipo_lastra,omitempty"`
	MontanteMM      *int   `json:"montante_mm,omitempty"`
	Isolamento      string `json:"isolamento,omitempty"`
}

// IsZero reports whether nothing was extracted.
func (a *Attributes) IsZero() bool {
	return a.NumLastre == nil && a.SpessoreMM == nil && a.TipoRivestimento == "" &&
		a.TipoLastra == "" && a.MontanteMM == nil && a.Isolamento == ""
}

// Map flattens the attributes for storage inside item metadata.
func (a *Attributes) Map() map[string]any {
	out := map[string]any{}
	if a.NumLastre != nil {
		out["num_lastre"] = *a.NumLastre
	}
	if a.SpessoreMM != nil {
		out["spessore_mm"] = *a.SpessoreMM
	}
	if a.TipoRivestimento != "" {
		out["tipo_rivestimento"] = a.TipoRivestimento
	}
	if a.TipoLastra != "" {
		out["tipo_lastra"] = a.TipoLastra
	}
	if a.MontanteMM != nil {
		out["montante_mm"] = *a.MontanteMM
	}
	if a.Isolamento != "" {
		out["isolamento"] = a.Isolamento
	}
	return out
}

// AttributesFromMap rebuilds Attributes from the flattened map stored
// in item metadata. JSON round-trips turn ints into float64; both are
// accepted.
func AttributesFromMap(m map[string]any) *Attributes {
	a := &Attributes{}
	if m == nil {
		return a
	}
	if v, ok := asInt(m["num_lastre"]); ok {
		a.NumLastre = &v
	}
	if v, ok := asInt(m["spessore_mm"]); ok {
		a.SpessoreMM = &v
	}
	if v, ok := asInt(m["montante_mm"]); ok {
		a.MontanteMM = &v
	}
	if s, ok := m["tipo_rivestimento"].(string); ok {
		a.TipoRivestimento = s
	}
	if s, ok := m["tipo_lastra"].(string); ok {
		a.TipoLastra = s
	}
	if s, ok := m["isolamento"].(string); ok {
		a.Isolamento = s
	}
	return a
}

func asInt(v any) (int, bool) {
	switch n := v.(type) {
	case int:
		return n, true
	case int64:
		return int(n), true
	case float64:
		return int(n), true
	}
	return 0, false
}

var (
	reNumLastre      = regexp.MustCompile(`(\d+)\s*lastr[ae]`)
	reLastreTimes    = regexp.MustCompile(`lastr(?:a|e)\s*[xX]\s*(\d+)`)
	reSpessoreDi     = regexp.MustCompile(`spessore\s*(?:di\s*)?(\d+(?:[.,]\d+)?)\s*(mm|cm)`)
	reSpessorePre    = regexp.MustCompile(`(\d+(?:[.,]\d+)?)\s*mm\s*spessore`)
	reSpessoreAbbrev = regexp.MustCompile(`sp\.\s*(\d+(?:[.,]\d+)?)`)
	reStratigraphy   = regexp.MustCompile(`(?:^|[^\d.,])(\d{1,3}(?:[.,]\d)?)/(\d{1,3}(?:[.,]\d)?)(?:/(\d{1,3}(?:[.,]\d)?))?(?:[^\d.,]|$)`)
	reMontante       = regexp.MustCompile(`\bC\s*(\d{2,3})\b`)
)

var rivestimentoKinds = []struct {
	kind     string
	keywords []string
}{
	{"ceramica", []string{"ceramica", "ceramico", "gres", "piastrell"}},
	{"legno", []string{"legno", "parquet", "listone"}},
	{"pietra", []string{"pietra", "marmo", "granito", "travertino"}},
	{"resina", []string{"resina"}},
	{"pvc", []string{"pvc", "vinilic"}},
	{"moquette", []string{"moquette"}},
	{"intonaco", []string{"intonaco", "intonacatura"}},
	{"pittura", []string{"pittura", "tinteggiatura", "idropittura"}},
	{"carta_parati", []string{"carta da parati", "parati"}},
}

var lastraKinds = []struct {
	kind     string
	keywords []string
}{
	{"idrofuga", []string{"idrofug", "idrorepellente", "idrolastra"}},
	{"ignifuga", []string{"ignifug", "antincendio", "resistente al fuoco"}},
	{"acustica", []string{"acustic", "fonoassorbente", "fonoisolante"}},
	{"alta_densita", []string{"alta densita", "alta densità", "ad alta densita"}},
}

var isolamentoKinds = []struct {
	kind     string
	keywords []string
}{
	{"lana_roccia", []string{"lana di roccia", "lana roccia"}},
	{"lana_vetro", []string{"lana di vetro", "lana vetro"}},
	{"polistirene", []string{"polistirene", "polistirolo", "eps", "xps"}},
	{"fibra_legno", []string{"fibra di legno", "fibra legno"}},
	{"sughero", []string{"sughero"}},
}

// ExtractAttributes mines the text for physical properties.
func ExtractAttributes(text string) *Attributes {
	attrs := &Attributes{}
	if strings.TrimSpace(text) == "" {
		return attrs
	}
	lower := strings.ToLower(text)

	attrs.NumLastre = extractNumLastre(lower)
	attrs.SpessoreMM = extractSpessore(lower)
	attrs.TipoRivestimento = matchKind(lower, rivestimentoKinds)
	attrs.TipoLastra = extractTipoLastra(lower)
	attrs.MontanteMM = extractMontante(text)
	attrs.Isolamento = matchKind(lower, isolamentoKinds)

	return attrs
}

func extractNumLastre(lower string) *int {
	if m := reNumLastre.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 10 {
			return &n
		}
	}
	if m := reLastreTimes.FindStringSubmatch(lower); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 && n < 10 {
			return &n
		}
	}
	switch {
	case strings.Contains(lower, "doppia lastra"), strings.Contains(lower, "doppie lastre"):
		n := 2
		return &n
	case strings.Contains(lower, "tripla lastra"), strings.Contains(lower, "triple lastre"):
		n := 3
		return &n
	case strings.Contains(lower, "singola lastra"), strings.Contains(lower, "lastra singola"):
		n := 1
		return &n
	}
	return nil
}

func extractSpessore(lower string) *int {
	for _, re := range []*regexp.Regexp{reSpessoreDi, reSpessorePre, reSpessoreAbbrev} {
		m := re.FindStringSubmatch(lower)
		if m == nil {
			continue
		}
		val, err := strconv.ParseFloat(strings.ReplaceAll(m[1], ",", "."), 64)
		if err != nil {
			continue
		}
		if len(m) > 2 && m[2] == "cm" {
			val *= 10
		}
		mm := int(val + 0.5)
		if mm > 0 && mm < 1000 {
			return &mm
		}
	}
	// Stratigraphy like 12.5/75/12.5 or 13/50: sum the layers and
	// round to whole millimetres. Layers may carry one decimal digit;
	// the edge guards keep a decimal tail from being read as a layer
	// of its own.
	if m := reStratigraphy.FindStringSubmatch(lower); m != nil {
		sum := 0.0
		for _, part := range m[1:] {
			if part == "" {
				continue
			}
			v, err := strconv.ParseFloat(strings.ReplaceAll(part, ",", "."), 64)
			if err != nil {
				return nil
			}
			sum += v
		}
		if mm := int(sum + 0.5); mm > 0 && mm < 1000 {
			return &mm
		}
	}
	return nil
}

func extractTipoLastra(lower string) string {
	if kind := matchKind(lower, lastraKinds); kind != "" {
		return kind
	}
	if strings.Contains(lower, "lastra") || strings.Contains(lower, "cartongesso") {
		return "standard"
	}
	return ""
}

func extractMontante(text string) *int {
	if m := reMontante.FindStringSubmatch(text); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n >= 40 && n <= 200 {
			return &n
		}
	}
	return nil
}

func matchKind(lower string, kinds []struct {
	kind     string
	keywords []string
}) string {
	for _, k := range kinds {
		for _, kw := range k.keywords {
			if strings.Contains(lower, kw) {
				return k.kind
			}
		}
	}
	return ""
}
