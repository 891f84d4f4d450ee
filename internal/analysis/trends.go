package analysis

import (
	"fmt"
	"hash/fnv"
	"math"
	"sort"

	"tendermatch/internal/normalize"
)

// palette is the fixed color cycle for bidder series. Assignment keys
// on the normalized base label, so the same bidder keeps its color
// across rounds and reloads.
var palette = [8]string{
	"#1f77b4", "#ff7f0e", "#2ca02c", "#d62728",
	"#9467bd", "#8c564b", "#e377c2", "#17becf",
}

// RoundPoint is one round of a bidder's series.
type RoundPoint struct {
	Round        int     `json:"round"`
	RoundLabel   string  `json:"round_label"`
	Importo      float64 `json:"importo"`
	DeltaPercent float64 `json:"delta_percent"` // vs the prior round
}

// BidderTrend is the cross-round evolution of one bidder.
type BidderTrend struct {
	Impresa          string       `json:"impresa"`
	Color            string       `json:"color"`
	Offerte          []RoundPoint `json:"offerte"`
	DeltaComplessivo float64      `json:"delta_complessivo"` // vs the first round
}

// TrendRound builds per-bidder round series from the dataset. An
// optional bidder filter (matched on the normalized label) narrows the
// output.
func TrendRound(ds *Dataset, impresaFilter string) []BidderTrend {
	filter := normalize.NormalizeImpresaLabel(impresaFilter)

	byBidder := map[string][]ReturnRef{}
	var bidders []string
	for _, ref := range ds.ReturnRounds {
		if filter != "" && normalize.NormalizeImpresaLabel(ref.Bidder) != filter {
			continue
		}
		if _, seen := byBidder[ref.Bidder]; !seen {
			bidders = append(bidders, ref.Bidder)
		}
		byBidder[ref.Bidder] = append(byBidder[ref.Bidder], ref)
	}

	out := make([]BidderTrend, 0, len(bidders))
	for _, bidder := range bidders {
		refs := byBidder[bidder]
		sort.SliceStable(refs, func(i, j int) bool {
			return refs[i].RoundNumber < refs[j].RoundNumber
		})

		trend := BidderTrend{Impresa: bidder, Color: bidderColor(bidder)}
		for i, ref := range refs {
			point := RoundPoint{
				Round:      ref.RoundNumber,
				RoundLabel: fmt.Sprintf("Round %d", ref.RoundNumber),
				Importo:    ref.TotalAmount,
			}
			if i > 0 {
				point.DeltaPercent = percentDelta(refs[i-1].TotalAmount, ref.TotalAmount)
			}
			trend.Offerte = append(trend.Offerte, point)
		}
		if len(refs) > 1 {
			trend.DeltaComplessivo = percentDelta(refs[0].TotalAmount, refs[len(refs)-1].TotalAmount)
		}
		out = append(out, trend)
	}
	return out
}

func bidderColor(label string) string {
	h := fnv.New32a()
	_, _ = h.Write([]byte(normalize.NormalizeImpresaLabel(label)))
	return palette[h.Sum32()%uint32(len(palette))]
}

func percentDelta(from, to float64) float64 {
	if math.Abs(from) < 1e-9 {
		return 0
	}
	return (to - from) / from * 100
}

// HeatmapCell is one bidder's figure on one WBS6 category. Bidders
// that did not bid show (0, 0).
type HeatmapCell struct {
	Impresa      string  `json:"impresa"`
	Importo      float64 `json:"importo"`
	DeltaPercent float64 `json:"delta_percent"`
}

// HeatmapRow is one WBS6 category across all bidders.
type HeatmapRow struct {
	WBS6Code        string        `json:"wbs6_code,omitempty"`
	WBS6Description string        `json:"wbs6_description"`
	ImportoProgetto float64       `json:"importo_progetto"`
	Celle           []HeatmapCell `json:"celle"`
}

// HeatmapCompetitivita builds the WBS6 × bidder competitiveness
// matrix, rows sorted by project amount descending. A round filter
// restricts the offer columns to that round.
func HeatmapCompetitivita(ds *Dataset, roundNumber *int) []HeatmapRow {
	allowed := map[string]bool{}
	var labels []string
	for _, ref := range ds.ReturnRounds {
		if roundNumber != nil && ref.RoundNumber != *roundNumber {
			continue
		}
		if !allowed[ref.Label] {
			allowed[ref.Label] = true
			labels = append(labels, ref.Label)
		}
	}

	type bucket struct {
		code, description string
		project           float64
		offers            map[string]float64
	}
	buckets := map[string]*bucket{}
	var keys []string
	for _, e := range ds.Entries {
		code, desc := e.WBS6Code, e.WBS6Description
		if code == "" && desc == "" {
			desc = FallbackWBS6Label
		}
		key := code + "|" + desc
		b, ok := buckets[key]
		if !ok {
			b = &bucket{code: code, description: desc, offers: map[string]float64{}}
			buckets[key] = b
			keys = append(keys, key)
		}
		b.project += e.AmountProject
		for label, f := range e.Offerte {
			if allowed[label] {
				b.offers[label] += f.Amount
			}
		}
	}

	rows := make([]HeatmapRow, 0, len(keys))
	for _, key := range keys {
		b := buckets[key]
		row := HeatmapRow{
			WBS6Code:        b.code,
			WBS6Description: b.description,
			ImportoProgetto: b.project,
		}
		for _, label := range labels {
			amount := b.offers[label]
			cell := HeatmapCell{Impresa: label}
			if amount != 0 {
				cell.Importo = amount
				cell.DeltaPercent = percentDelta(b.project, amount)
			}
			row.Celle = append(row.Celle, cell)
		}
		rows = append(rows, row)
	}

	sort.SliceStable(rows, func(i, j int) bool {
		return rows[i].ImportoProgetto > rows[j].ImportoProgetto
	})
	return rows
}
