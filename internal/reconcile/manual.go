package reconcile

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/shopspring/decimal"

	"tendermatch/internal/logging"
	"tendermatch/internal/model"
)

// ManualPriceUpdate lands an operator-entered price on one catalog
// item of a return computo, then rebuilds the computo's lines from the
// full offer map so totals and facts stay consistent.
func (r *Reconciler) ManualPriceUpdate(ctx context.Context, commessaID, computoID, itemID int64, unitPrice float64, quantity *float64) (*model.Computo, error) {
	if unitPrice < 0 {
		return nil, fmt.Errorf("%w: il prezzo unitario non può essere negativo", model.ErrInvalidInput)
	}

	computo, err := r.Store.GetComputo(ctx, computoID)
	if err != nil {
		return nil, err
	}
	if computo.CommessaID != commessaID {
		return nil, fmt.Errorf("%w: computo %d non appartiene alla commessa %d",
			model.ErrNotFound, computoID, commessaID)
	}
	if computo.Type != model.ComputoRitorno {
		return nil, fmt.Errorf("%w: il computo %d non è un ritorno gara",
			model.ErrInvalidInput, computoID)
	}

	item, err := r.Store.GetPriceListItem(ctx, itemID)
	if err != nil {
		return nil, err
	}
	if item.CommessaID != commessaID {
		return nil, fmt.Errorf("%w: voce di listino %d non appartiene alla commessa %d",
			model.ErrNotFound, itemID, commessaID)
	}

	impresa, err := r.Store.GetOrCreateImpresa(ctx, computo.Bidder)
	if err != nil {
		return nil, err
	}

	err = r.Store.WithTx(ctx, func(tx *sql.Tx) error {
		offer := &model.PriceListOffer{
			PriceListItemID: itemID,
			CommessaID:      commessaID,
			ComputoID:       computoID,
			ImpresaID:       &impresa.ID,
			ImpresaLabel:    computo.Bidder,
			RoundNumber:     computo.RoundNumber,
			UnitPrice:       unitPrice,
			Quantity:        quantity,
		}
		if err := r.Store.UpsertPriceListOffer(ctx, tx, offer); err != nil {
			return err
		}
		return r.rebuildComputoFromOffers(ctx, tx, computo, impresa.ID, itemID)
	})
	if err != nil {
		return nil, err
	}

	logging.Catalog("manual price %.4f on item %d, computo %d rebuilt", unitPrice, itemID, computoID)
	return r.Store.GetComputo(ctx, computoID)
}

// rebuildComputoFromOffers rewrites a return computo's lines from the
// live project snapshot plus its current offer map. Catalog prices are
// the source of truth: lines whose item carries an offer take that
// price, the rest stay marked missing. Money math runs on decimals,
// unit prices at 4 dp, amounts at 2 dp, the total rounded up to the
// cent.
func (r *Reconciler) rebuildComputoFromOffers(ctx context.Context, tx *sql.Tx, computo *model.Computo, impresaID int64, updatedItemID int64) error {
	project, err := r.Store.LiveProjectComputo(ctx, tx, computo.CommessaID)
	if err != nil {
		return err
	}
	projectLines, err := r.Store.ListVociComputo(ctx, tx, project.ID)
	if err != nil {
		return err
	}
	offers, err := r.Store.OffersByItemForComputo(ctx, tx, computo.ID)
	if err != nil {
		return err
	}
	links, err := r.Store.VoceItemLinks(ctx, tx, computo.CommessaID)
	if err != nil {
		return err
	}

	aligned, totalF := BuildSnapshotFromOffers(projectLines, offers, links)

	if err := r.Store.ReplaceVociComputo(ctx, tx, computo.ID, aligned); err != nil {
		return err
	}
	if err := r.Store.SyncReturnOfferte(ctx, tx, computo, impresaID, projectLines, aligned); err != nil {
		return err
	}

	report := computo.MatchingReport
	if report.RemoveMissingItem(updatedItemID) {
		logging.CatalogDebug("item %d cleared from missing list of computo %d", updatedItemID, computo.ID)
	}
	return r.Store.UpdateComputoResult(ctx, tx, computo.ID, &totalF, computo.Note, report)
}

// BuildSnapshotFromOffers rebuilds return lines from the project
// snapshot plus an offer map. Lines whose catalog item carries an
// offer take that price; the rest stay marked missing with a zero
// amount. Money runs on decimals: unit prices at 4 dp, amounts at
// 2 dp, the total rounded up to the cent so it never underreports.
func BuildSnapshotFromOffers(projectLines []model.VoceComputo, offers map[int64]model.PriceListOffer, links map[int64]int64) ([]model.VoceComputo, float64) {
	aligned := make([]model.VoceComputo, 0, len(projectLines))
	total := decimal.Zero
	for i := range projectLines {
		src := &projectLines[i]
		line := *src
		line.ID = 0
		line.ComputoID = 0
		line.Metadata.MissingFromReturn = false

		itemID, linked := links[src.ID]
		offer, priced := model.PriceListOffer{}, false
		if linked {
			offer, priced = offers[itemID]
		}
		if !priced {
			zero := 0.0
			line.Amount = &zero
			line.UnitPrice = nil
			line.Metadata.MissingFromReturn = true
			aligned = append(aligned, line)
			continue
		}

		price := decimal.NewFromFloat(offer.UnitPrice).Round(4)
		priceF, _ := price.Float64()
		line.UnitPrice = &priceF

		qty := decimal.Zero
		if src.Quantity != nil {
			qty = decimal.NewFromFloat(*src.Quantity)
		}
		amount := price.Mul(qty).Round(2)
		amountF, _ := amount.Float64()
		line.Amount = &amountF
		total = total.Add(amount)

		aligned = append(aligned, line)
	}

	totalF, _ := total.Mul(decimal.NewFromInt(100)).Ceil().Div(decimal.NewFromInt(100)).Float64()
	return aligned, totalF
}
