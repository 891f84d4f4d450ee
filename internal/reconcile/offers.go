// Package reconcile posts bidder prices onto the price-list catalog
// and keeps return computi consistent with their offer rows, both
// during LC imports and after manual price edits.
package reconcile

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"tendermatch/internal/catalog"
	"tendermatch/internal/embedding"
	"tendermatch/internal/logging"
	"tendermatch/internal/model"
	"tendermatch/internal/store"
)

const unmatchedSampleSize = 5

// Reconciler resolves return rows against the catalog and writes offer
// rows. The embedder powers the semantic tail of the resolution
// cascade; nil keeps resolution purely lexical.
type Reconciler struct {
	Store             *store.Store
	Embedder          *embedding.Service
	SemanticThreshold float64
}

func (r *Reconciler) resolver(idx *catalog.Index) *catalog.Resolver {
	res := &catalog.Resolver{Index: idx, SemanticThreshold: r.SemanticThreshold}
	if r.Embedder != nil {
		res.Embed = func(ctx context.Context, text string) ([]float32, error) {
			vec, _, err := r.Embedder.Embed(ctx, text)
			return vec, err
		}
	}
	return res
}

// SyncPriceListOffers rewrites the offer rows of one return computo
// from its parsed lines. Existing offers are wiped first; each priced
// row resolves through the catalog cascade, with the project lines'
// progressivo → product_id map as a last resort. One offer per catalog
// item survives; divergent prices on the same item are recorded once,
// first wins. The returned report is the LC-mode matching report.
func (r *Reconciler) SyncPriceListOffers(ctx context.Context, tx *sql.Tx, computo *model.Computo, impresaID *int64, parsedLines []model.ParsedVoce, projectLines []model.VoceComputo) (*model.MatchingReport, error) {
	timer := logging.StartTimer(logging.CategoryCatalog, "SyncPriceListOffers")
	defer timer.Stop()

	items, err := r.Store.ListPriceListItems(ctx, tx, computo.CommessaID)
	if err != nil {
		return nil, err
	}
	modelID := ""
	if r.Embedder != nil {
		modelID = r.Embedder.ModelID()
	}
	idx := catalog.NewIndex(items, modelID)
	resolver := r.resolver(idx)
	progProducts := productIDByProgressivo(projectLines)

	if err := r.Store.DeleteOffersForComputo(ctx, tx, computo.ID); err != nil {
		return nil, err
	}

	type firstOffer struct {
		price  float64
		source string
	}
	written := map[int64]firstOffer{}
	conflicts := map[int64]*model.PriceConflict{}
	var conflictOrder []int64
	var unmatched []string

	for i := range parsedLines {
		line := &parsedLines[i]
		if line.UnitPrice == nil {
			continue
		}

		item, reason := resolver.Resolve(ctx, line.Code, line.Description, line.UOM, wbs6CodeOf(line))
		if item == nil && line.Progressivo != nil {
			if productID, ok := progProducts[*line.Progressivo]; ok {
				item = idx.ByProductID(productID)
				reason = "progressivo"
			}
		}
		if item == nil {
			unmatched = append(unmatched, lineLabel(line))
			continue
		}
		logging.CatalogDebug("row %d resolved to item %d via %s", line.OrderIndex, item.ID, reason)

		price := *line.UnitPrice
		if first, seen := written[item.ID]; seen {
			if math.Abs(first.price-price) > 0.01 {
				c := conflicts[item.ID]
				if c == nil {
					c = &model.PriceConflict{
						PriceListItemID: item.ID,
						ItemCode:        item.ItemCode,
						ItemDescription: item.ItemDescription,
						Prices:          []float64{first.price},
						Samples: []model.PriceConflictSample{
							{Source: first.source, Price: first.price},
						},
					}
					conflicts[item.ID] = c
					conflictOrder = append(conflictOrder, item.ID)
				}
				c.Prices = append(c.Prices, price)
				c.Samples = append(c.Samples, model.PriceConflictSample{
					Source: lineLabel(line), Price: price,
				})
			}
			// First wins: the stored offer stays as written.
			continue
		}

		offer := &model.PriceListOffer{
			PriceListItemID: item.ID,
			CommessaID:      computo.CommessaID,
			ComputoID:       computo.ID,
			ImpresaID:       impresaID,
			ImpresaLabel:    computo.Bidder,
			RoundNumber:     computo.RoundNumber,
			UnitPrice:       price,
			Quantity:        line.Quantity,
		}
		if err := r.Store.UpsertPriceListOffer(ctx, tx, offer); err != nil {
			return nil, err
		}
		written[item.ID] = firstOffer{price: price, source: lineLabel(line)}
	}

	report := &model.MatchingReport{
		Mode:              "lc",
		TotalPriceItems:   len(items),
		MatchedPriceItems: len(written),
	}
	for _, item := range items {
		if _, ok := written[item.ID]; ok {
			continue
		}
		report.MissingPriceItems = append(report.MissingPriceItems, model.MissingItem{
			PriceListItemID: item.ID,
			ItemCode:        item.ItemCode,
			ItemDescription: item.ItemDescription,
		})
	}
	if len(unmatched) > unmatchedSampleSize {
		unmatched = unmatched[:unmatchedSampleSize]
	}
	report.UnmatchedRowsSample = unmatched
	for _, id := range conflictOrder {
		report.PriceConflicts = append(report.PriceConflicts, *conflicts[id])
	}

	logging.Catalog("computo %d: %d/%d catalog items priced, %d conflicts",
		computo.ID, len(written), len(items), len(conflictOrder))
	return report, nil
}

func productIDByProgressivo(projectLines []model.VoceComputo) map[int]string {
	out := map[int]string{}
	for i := range projectLines {
		line := &projectLines[i]
		if line.Progressivo == nil || line.Metadata.ProductID == "" {
			continue
		}
		if _, seen := out[*line.Progressivo]; !seen {
			out[*line.Progressivo] = line.Metadata.ProductID
		}
	}
	return out
}

func wbs6CodeOf(line *model.ParsedVoce) string {
	return line.WBSLevelOf(6).Code
}

func lineLabel(line *model.ParsedVoce) string {
	if line.Code != "" {
		return line.Code
	}
	if line.Description != "" {
		if len(line.Description) > 80 {
			return line.Description[:80]
		}
		return line.Description
	}
	return fmt.Sprintf("riga %d", line.OrderIndex+1)
}
