package analysis

import (
	"math"
	"sort"

	"tendermatch/internal/model"
)

// FallbackWBS6Label groups entries that carry no WBS6 assignment.
const FallbackWBS6Label = "Non Classificata WBS6"

// Criticality classes.
const (
	CriticitaAlta  = "alta"
	CriticitaMedia = "media"
	CriticitaBassa = "bassa"
)

// VoceStats is the per-entry statistic line inside a WBS6 category.
type VoceStats struct {
	Code                string   `json:"code,omitempty"`
	Description         string   `json:"description,omitempty"`
	UOM                 string   `json:"uom,omitempty"`
	QuantitaProgetto    float64  `json:"quantita_progetto"`
	ImportoProgetto     float64  `json:"importo_progetto"`
	MediaPrezzoUnitario float64  `json:"media_prezzo_unitario"`
	MediaImportoTotale  float64  `json:"media_importo_totale"`
	OfferteConsiderate  int      `json:"offerte_considerate"`
	ImportoMinimo       float64  `json:"importo_minimo"`
	ImportoMassimo      float64  `json:"importo_massimo"`
	ImpresaMin          string   `json:"impresa_min,omitempty"`
	ImpresaMax          string   `json:"impresa_max,omitempty"`
	DeviazioneStandard  *float64 `json:"deviazione_standard,omitempty"`
	Criticita           string   `json:"criticita"`
	Direzione           string   `json:"direzione"`
}

// WBS6Category is one work-package bucket of the analysis.
type WBS6Category struct {
	Code             string      `json:"code,omitempty"`
	Description      string      `json:"description"`
	ImportoProgetto  float64     `json:"importo_progetto"`
	MediaOfferte     float64     `json:"media_offerte"`
	DeltaPercentuale float64     `json:"delta_percentuale"`
	DeltaAssoluto    float64     `json:"delta_assoluto"`
	Criticita        string      `json:"criticita"`
	Voci             []VoceStats `json:"voci"`
}

// WBS6Analysis is the full per-work-package report.
type WBS6Analysis struct {
	Categorie         []WBS6Category `json:"categorie"`
	ConteggiCriticita map[string]int `json:"conteggi_criticita"`
}

// ClassifyDelta buckets an absolute percentage variance.
func ClassifyDelta(absDeltaPercent float64, settings model.Settings) string {
	switch {
	case absDeltaPercent >= settings.CriticitaAltaPercent:
		return CriticitaAlta
	case absDeltaPercent >= settings.CriticitaMediaPercent:
		return CriticitaMedia
	default:
		return CriticitaBassa
	}
}

// BuildWBS6Analysis rolls the dataset entries up to WBS6 buckets. The
// average offer divides by the total bidder count: a bidder with no
// line in a category counts as zero, keeping averages comparable
// across categories.
func BuildWBS6Analysis(entries []*Entry, totalBidders int, settings model.Settings) *WBS6Analysis {
	type group struct {
		code, description string
		entries           []*Entry
	}
	groups := map[string]*group{}
	var orderKeys []string
	for _, e := range entries {
		code, desc := e.WBS6Code, e.WBS6Description
		if code == "" && desc == "" {
			desc = FallbackWBS6Label
		}
		key := code + "|" + desc
		g, ok := groups[key]
		if !ok {
			g = &group{code: code, description: desc}
			groups[key] = g
			orderKeys = append(orderKeys, key)
		}
		g.entries = append(g.entries, e)
	}

	analysis := &WBS6Analysis{
		ConteggiCriticita: map[string]int{CriticitaAlta: 0, CriticitaMedia: 0, CriticitaBassa: 0},
	}

	for _, key := range orderKeys {
		g := groups[key]
		cat := WBS6Category{Code: g.code, Description: g.description}

		offerSum := 0.0
		for _, e := range g.entries {
			cat.ImportoProgetto += e.AmountProject
			for _, f := range e.Offerte {
				offerSum += f.Amount
			}
			cat.Voci = append(cat.Voci, buildVoceStats(e, totalBidders, settings))
		}

		if totalBidders > 0 {
			cat.MediaOfferte = offerSum / float64(totalBidders)
		}
		cat.DeltaAssoluto = cat.MediaOfferte - cat.ImportoProgetto
		if math.Abs(cat.ImportoProgetto) > 1e-9 {
			cat.DeltaPercentuale = cat.DeltaAssoluto / cat.ImportoProgetto * 100
		}
		cat.Criticita = ClassifyDelta(math.Abs(cat.DeltaPercentuale), settings)
		analysis.ConteggiCriticita[cat.Criticita]++
		analysis.Categorie = append(analysis.Categorie, cat)
	}

	sort.SliceStable(analysis.Categorie, func(i, j int) bool {
		return analysis.Categorie[i].ImportoProgetto > analysis.Categorie[j].ImportoProgetto
	})
	return analysis
}

// buildVoceStats computes the per-entry statistics across bidders.
func buildVoceStats(e *Entry, totalBidders int, settings model.Settings) VoceStats {
	stats := VoceStats{
		Code:             e.Code,
		Description:      e.Description,
		UOM:              e.UOM,
		QuantitaProgetto: e.Quantity,
		ImportoProgetto:  e.AmountProject,
	}

	labels := make([]string, 0, len(e.Offerte))
	for label := range e.Offerte {
		labels = append(labels, label)
	}
	sort.Strings(labels)

	var amounts []float64
	priceSum, amountSum := 0.0, 0.0
	for _, label := range labels {
		f := e.Offerte[label]
		amounts = append(amounts, f.Amount)
		priceSum += f.UnitPrice
		amountSum += f.Amount
		if stats.OfferteConsiderate == 0 || f.Amount < stats.ImportoMinimo {
			stats.ImportoMinimo = f.Amount
			stats.ImpresaMin = label
		}
		if stats.OfferteConsiderate == 0 || f.Amount > stats.ImportoMassimo {
			stats.ImportoMassimo = f.Amount
			stats.ImpresaMax = label
		}
		stats.OfferteConsiderate++
	}

	if stats.OfferteConsiderate > 0 {
		stats.MediaPrezzoUnitario = round4(priceSum / float64(stats.OfferteConsiderate))
	}
	if totalBidders > 0 {
		stats.MediaImportoTotale = round2(amountSum / float64(totalBidders))
	}
	if len(amounts) >= 2 {
		stdev := populationStdev(amounts)
		stats.DeviazioneStandard = &stdev
	}

	deltaPercent := 0.0
	if math.Abs(stats.ImportoProgetto) > 1e-9 {
		deltaPercent = (stats.MediaImportoTotale - stats.ImportoProgetto) / stats.ImportoProgetto * 100
	}
	stats.Criticita = ClassifyDelta(math.Abs(deltaPercent), settings)
	switch {
	case deltaPercent > 1e-9:
		stats.Direzione = "aumento"
	case deltaPercent < -1e-9:
		stats.Direzione = "diminuzione"
	default:
		stats.Direzione = "stabile"
	}
	return stats
}

func populationStdev(values []float64) float64 {
	mean := 0.0
	for _, v := range values {
		mean += v
	}
	mean /= float64(len(values))
	variance := 0.0
	for _, v := range values {
		d := v - mean
		variance += d * d
	}
	variance /= float64(len(values))
	return math.Sqrt(variance)
}
