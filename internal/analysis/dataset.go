package analysis

import (
	"context"
	"fmt"
	"math"

	"tendermatch/internal/logging"
	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
	"tendermatch/internal/store"
)

// OfferFact is one bidder's figures on one reconciled entry.
type OfferFact struct {
	Quantity      float64 `json:"quantity"`
	UnitPrice     float64 `json:"unit_price"`
	Amount        float64 `json:"amount"`
	Note          string  `json:"note,omitempty"`
	DeltaQuantita float64 `json:"delta_quantita"`
}

// Entry is one reconciled project line with its per-bidder offers.
// Entries sharing an aggregation key are merged before analysis.
type Entry struct {
	legacyID int64 // project line id, for catalog lookups

	VoceID           int64                 `json:"voce_id"`
	AggregationKey   string                `json:"aggregation_key"`
	Code             string                `json:"code,omitempty"`
	Description      string                `json:"description,omitempty"`
	UOM              string                `json:"uom,omitempty"`
	Quantity         float64               `json:"quantity"`
	UnitPriceProject float64               `json:"unit_price_project"`
	AmountProject    float64               `json:"amount_project"`
	WBS6Code         string                `json:"wbs6_code,omitempty"`
	WBS6Description  string                `json:"wbs6_description,omitempty"`
	WBS7Code         string                `json:"wbs7_code,omitempty"`
	WBS7Description  string                `json:"wbs7_description,omitempty"`
	Offerte          map[string]*OfferFact `json:"offerte"`
}

// Dataset is everything the analyses consume, built once per version.
type Dataset struct {
	CommessaID   int64
	Version      string
	Entries      []*Entry
	Bidders      []string // offer labels in return creation order
	ReturnRounds []ReturnRef
}

// ReturnRef summarizes one return computo inside the dataset.
type ReturnRef struct {
	ComputoID   int64
	Bidder      string
	Label       string
	RoundNumber int
	TotalAmount float64
}

// VisibilityProvider exposes per-WBS-level hidden code sets. Rows whose
// code at any level appears in the set are excluded from analysis.
type VisibilityProvider interface {
	HiddenCodes(ctx context.Context, commessaID int64) (map[int]map[string]struct{}, error)
}

// NopVisibility hides nothing.
type NopVisibility struct{}

func (NopVisibility) HiddenCodes(context.Context, int64) (map[int]map[string]struct{}, error) {
	return nil, nil
}

// Builder assembles datasets, consulting the cache first.
type Builder struct {
	Store      *store.Store
	Cache      *Cache
	Visibility VisibilityProvider
}

// Dataset returns the reconciled dataset of a commessa, rebuilt only
// when the version string moved or the cache entry aged out.
func (b *Builder) Dataset(ctx context.Context, commessaID int64) (*Dataset, error) {
	version, err := b.Store.DatasetVersion(ctx, commessaID)
	if err != nil {
		return nil, err
	}
	if b.Cache != nil {
		if ds, ok := b.Cache.Get(commessaID, version); ok {
			return ds, nil
		}
	}

	timer := logging.StartTimer(logging.CategoryAnalysis, "Dataset")
	ds, err := b.build(ctx, commessaID)
	timer.Stop()
	if err != nil {
		return nil, err
	}
	ds.Version = version
	if b.Cache != nil {
		b.Cache.Put(commessaID, version, ds)
	}
	return ds, nil
}

func (b *Builder) build(ctx context.Context, commessaID int64) (*Dataset, error) {
	project, err := b.Store.LiveProjectComputo(ctx, nil, commessaID)
	if err != nil {
		return nil, err
	}
	projectLines, err := b.Store.ListVociComputo(ctx, nil, project.ID)
	if err != nil {
		return nil, err
	}
	returns, err := b.Store.ListReturnComputi(ctx, commessaID)
	if err != nil {
		return nil, err
	}
	voceByLegacy, err := b.Store.VoceIDsByLegacy(ctx, commessaID)
	if err != nil {
		return nil, err
	}
	itemLinks, err := b.Store.VoceItemLinks(ctx, nil, commessaID)
	if err != nil {
		return nil, err
	}
	hidden := map[int]map[string]struct{}{}
	if b.Visibility != nil {
		if hidden, err = b.Visibility.HiddenCodes(ctx, commessaID); err != nil {
			return nil, err
		}
	}

	ds := &Dataset{CommessaID: commessaID}

	// One raw entry per visible project line, keyed by order_index for
	// the return join.
	raw := map[int]*Entry{}
	var order []int
	for i := range projectLines {
		line := &projectLines[i]
		if isHidden(line, hidden) {
			continue
		}
		e := &Entry{
			legacyID:        line.ID,
			VoceID:          voceByLegacy[line.ID],
			AggregationKey:  aggregationKey(line),
			Code:            line.Code,
			Description:     line.Description,
			UOM:             line.UOM,
			WBS6Code:        line.WBS6().Code,
			WBS6Description: line.WBS6().Description,
			WBS7Code:        line.WBS7().Code,
			WBS7Description: line.WBS7().Description,
			Offerte:         map[string]*OfferFact{},
		}
		if line.Quantity != nil {
			e.Quantity = *line.Quantity
		}
		if line.UnitPrice != nil {
			e.UnitPriceProject = *line.UnitPrice
		}
		if line.Amount != nil {
			e.AmountProject = *line.Amount
		}
		raw[line.OrderIndex] = e
		order = append(order, line.OrderIndex)
	}

	seenLabels := map[string]bool{}
	for _, ret := range returns {
		label := offerLabel(ret, returns)
		if !seenLabels[label] {
			seenLabels[label] = true
			ds.Bidders = append(ds.Bidders, label)
		}
		total := 0.0
		if ret.TotalAmount != nil {
			total = *ret.TotalAmount
		}
		ds.ReturnRounds = append(ds.ReturnRounds, ReturnRef{
			ComputoID:   ret.ID,
			Bidder:      ret.Bidder,
			Label:       label,
			RoundNumber: ret.RoundNumber,
			TotalAmount: total,
		})

		retLines, err := b.Store.ListVociComputo(ctx, nil, ret.ID)
		if err != nil {
			return nil, err
		}
		offers, err := b.Store.OffersByItemForComputo(ctx, nil, ret.ID)
		if err != nil {
			return nil, err
		}

		for j := range retLines {
			rl := &retLines[j]
			e, ok := raw[rl.OrderIndex]
			if !ok || rl.Metadata.MissingFromReturn {
				continue
			}
			fact := &OfferFact{Note: rl.Note}
			if rl.Quantity != nil {
				fact.Quantity = *rl.Quantity
			}
			if rl.UnitPrice != nil {
				fact.UnitPrice = *rl.UnitPrice
			}
			if rl.Amount != nil {
				fact.Amount = *rl.Amount
			}

			// A catalog offer on the linked item overrides the line:
			// the price list is the source of truth when present.
			if itemID, linked := itemLinks[e.legacyID]; linked {
				if offer, priced := offers[itemID]; priced {
					fact.UnitPrice = offer.UnitPrice
					qty := fact.Quantity
					if offer.Quantity != nil {
						qty = *offer.Quantity
						fact.Quantity = qty
					}
					fact.Amount = round2(offer.UnitPrice * qty)
				}
			}

			if prev, exists := e.Offerte[label]; exists {
				prev.Quantity += fact.Quantity
				prev.Amount += fact.Amount
			} else {
				e.Offerte[label] = fact
			}
		}
	}

	ds.Entries = mergeEntries(raw, order)
	logging.Analysis("dataset for commessa %d: %d entries, %d bidders",
		commessaID, len(ds.Entries), len(ds.Bidders))
	return ds, nil
}

// mergeEntries folds raw entries sharing an aggregation key: sums of
// quantities and amounts, unit prices recomputed as amount/quantity at
// 4 dp, per-bidder quantity deltas refreshed.
func mergeEntries(raw map[int]*Entry, order []int) []*Entry {
	merged := map[string]*Entry{}
	var keys []string
	for _, idx := range order {
		e := raw[idx]
		m, ok := merged[e.AggregationKey]
		if !ok {
			clone := *e
			clone.Offerte = map[string]*OfferFact{}
			for label, f := range e.Offerte {
				cf := *f
				clone.Offerte[label] = &cf
			}
			merged[e.AggregationKey] = &clone
			keys = append(keys, e.AggregationKey)
			continue
		}
		m.Quantity += e.Quantity
		m.AmountProject += e.AmountProject
		for label, f := range e.Offerte {
			if mf, exists := m.Offerte[label]; exists {
				mf.Quantity += f.Quantity
				mf.Amount += f.Amount
			} else {
				cf := *f
				m.Offerte[label] = &cf
			}
		}
	}

	out := make([]*Entry, 0, len(keys))
	for _, key := range keys {
		m := merged[key]
		if m.Quantity != 0 {
			m.UnitPriceProject = round4(m.AmountProject / m.Quantity)
		}
		for _, f := range m.Offerte {
			if f.Quantity != 0 {
				f.UnitPrice = round4(f.Amount / f.Quantity)
			}
			f.DeltaQuantita = f.Quantity - m.Quantity
		}
		out = append(out, m)
	}
	return out
}

func aggregationKey(line *model.VoceComputo) string {
	return fmt.Sprintf("%s|%s|%s|%s",
		normalize.NormalizeCodeToken(line.Code),
		normalize.NormalizeDescriptionToken(line.Description),
		normalize.NormalizeToken(line.UOM),
		normalize.NormalizeToken(line.WBS6().Code))
}

// offerLabel names a return's column in the dataset: the bidder label,
// suffixed with the round when the bidder shows up more than once.
func offerLabel(ret *model.Computo, all []*model.Computo) string {
	count := 0
	for _, c := range all {
		if c.Bidder == ret.Bidder {
			count++
		}
	}
	if count > 1 {
		return fmt.Sprintf("%s (Round %d)", ret.Bidder, ret.RoundNumber)
	}
	return ret.Bidder
}

func isHidden(line *model.VoceComputo, hidden map[int]map[string]struct{}) bool {
	if len(hidden) == 0 {
		return false
	}
	for level := 1; level <= 7; level++ {
		set := hidden[level]
		if set == nil {
			continue
		}
		if _, ok := set[line.WBS[level-1].Code]; ok {
			return true
		}
	}
	if set := hidden[0]; set != nil {
		if _, ok := set[line.Code]; ok {
			return true
		}
	}
	return false
}

func round2(v float64) float64 { return math.Round(v*100) / 100 }
func round4(v float64) float64 { return math.Round(v*10000) / 10000 }
