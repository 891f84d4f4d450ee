package model

// MatchingReport is the structured outcome of a return import, stored
// on the return computo next to the free-text note. Two shapes share
// the struct: the line-alignment shape (MC-style returns) and the LC
// price-list shape, discriminated by Mode.
type MatchingReport struct {
	// "" for line alignment, "lc" for price-list returns.
	Mode string `json:"mode,omitempty"`

	// Line-alignment shape.
	Matched              []MatchedLine  `json:"matched,omitempty"`
	Missing              []MatchedLine  `json:"missing,omitempty"`
	ExcelOnly            []string       `json:"excel_only,omitempty"`
	ExcelOnlyGroups      []string       `json:"excel_only_groups,omitempty"`
	QuantityMismatches   []string       `json:"quantity_mismatches,omitempty"`
	QuantityTotals       *QuantityTotal `json:"quantity_totals,omitempty"`
	QuantityTotalMismatch bool          `json:"quantity_total_mismatch,omitempty"`

	// LC shape.
	TotalPriceItems    int              `json:"total_price_items,omitempty"`
	MatchedPriceItems  int              `json:"matched_price_items,omitempty"`
	MissingPriceItems  []MissingItem    `json:"missing_price_items,omitempty"`
	UnmatchedRowsSample []string        `json:"unmatched_rows_sample,omitempty"`
	PriceConflicts     []PriceConflict  `json:"price_conflicts,omitempty"`
}

// MatchedLine pairs one project line with its return counterpart.
type MatchedLine struct {
	ProjectLabel    string   `json:"project_label"`
	ExcelLabel      string   `json:"excel_label,omitempty"`
	Price           *float64 `json:"price,omitempty"`
	ProjectQuantity *float64 `json:"project_quantity,omitempty"`
	ReturnQuantity  *float64 `json:"return_quantity,omitempty"`
	QuantityDelta   *float64 `json:"quantity_delta,omitempty"`
}

// QuantityTotal compares declared and computed quantity totals.
type QuantityTotal struct {
	Progetto float64 `json:"progetto"`
	Ritorno  float64 `json:"ritorno"`
	Delta    float64 `json:"delta"`
}

// MissingItem identifies a catalog line the LC return never priced.
type MissingItem struct {
	PriceListItemID int64  `json:"price_list_item_id"`
	ItemCode        string `json:"item_code,omitempty"`
	ItemDescription string `json:"item_description,omitempty"`
}

// PriceConflict records divergent prices targeting one catalog line in
// a single import. The first price wins; the rest are reported.
type PriceConflict struct {
	PriceListItemID int64                `json:"price_list_item_id"`
	ItemCode        string               `json:"item_code,omitempty"`
	ItemDescription string               `json:"item_description,omitempty"`
	Prices          []float64            `json:"prices"`
	Samples         []PriceConflictSample `json:"samples,omitempty"`
}

// PriceConflictSample ties one conflicting price to its source row.
type PriceConflictSample struct {
	Source string  `json:"source"`
	Price  float64 `json:"price"`
}

// RemoveMissingItem drops the given catalog line from the LC missing
// list after a manual price lands, bumping the matched counter. It
// reports whether the list changed.
func (r *MatchingReport) RemoveMissingItem(priceListItemID int64) bool {
	if r == nil || len(r.MissingPriceItems) == 0 {
		return false
	}
	kept := r.MissingPriceItems[:0]
	removed := false
	for _, it := range r.MissingPriceItems {
		if it.PriceListItemID == priceListItemID {
			removed = true
			continue
		}
		kept = append(kept, it)
	}
	if removed {
		r.MissingPriceItems = kept
		r.MatchedPriceItems++
	}
	return removed
}
