// Package importer orchestrates MC and LC imports: the project
// estimate, single bidder returns and multi-bidder batches. Every
// computo is written in one transaction; batch imports commit per
// bidder so one bad file does not block the rest.
package importer

import (
	"context"
	"database/sql"
	"fmt"
	"math"

	"golang.org/x/sync/errgroup"

	"tendermatch/internal/align"
	"tendermatch/internal/analysis"
	"tendermatch/internal/logging"
	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
	"tendermatch/internal/reconcile"
	"tendermatch/internal/store"
)

// batchWorkers bounds concurrent bidder imports; SQLite serializes the
// writes anyway, this only overlaps parsing and embedding.
const batchWorkers = 4

// Importer runs the import flows.
type Importer struct {
	Store      *store.Store
	Reconciler *reconcile.Reconciler
	Cache      *analysis.Cache
}

// ReturnOptions control one return import.
type ReturnOptions struct {
	Bidder    string
	RoundMode model.RoundMode
	// Round targeted by RoundModeReplace; ignored otherwise.
	RoundNumber int
	// PreferProgressives opts into progressive alignment when the file
	// carries line numbers.
	PreferProgressives bool
	// LCMode imports a price-list return: rows resolve to catalog
	// items and the computo is rebuilt from the resulting offers.
	LCMode bool
}

// ImportProject imports (or replaces) the project estimate of a
// commessa. The previous project stays in history; the new one becomes
// live by creation order.
func (imp *Importer) ImportProject(ctx context.Context, commessaID int64, parsed *model.ParsedComputo) (*model.Computo, error) {
	timer := logging.StartTimer(logging.CategoryImport, "ImportProject")
	defer timer.Stop()

	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	if _, err := imp.Store.GetCommessa(ctx, commessaID); err != nil {
		return nil, err
	}

	lines := toVoceComputoLines(commessaID, parsed.Lines)
	note := totalCheckNote(lines, parsed.TotalAmount)

	computo := &model.Computo{
		CommessaID:  commessaID,
		Type:        model.ComputoProgetto,
		FileRef:     parsed.SourceFile,
		TotalAmount: parsed.TotalAmount,
		Note:        note,
	}
	if computo.TotalAmount == nil {
		total := sumAmounts(lines)
		computo.TotalAmount = &total
	}

	itemByLegacy := map[int64]int64{}
	err := imp.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if err := imp.Store.CreateComputo(ctx, tx, computo); err != nil {
			return err
		}
		if err := imp.Store.ReplaceVociComputo(ctx, tx, computo.ID, lines); err != nil {
			return err
		}
		if err := imp.Store.SyncProjectVoci(ctx, tx, commessaID, computo.ID, lines); err != nil {
			return err
		}

		// Lines carrying a source product id link straight to their
		// catalog item.
		items, err := imp.Store.ListPriceListItems(ctx, tx, commessaID)
		if err != nil {
			return err
		}
		byProduct := map[string]int64{}
		for _, item := range items {
			if item.ProductID != "" {
				byProduct[item.ProductID] = item.ID
			}
		}
		for i := range lines {
			if pid := lines[i].Metadata.ProductID; pid != "" {
				if itemID, ok := byProduct[pid]; ok {
					itemByLegacy[lines[i].ID] = itemID
				}
			}
		}
		return imp.Store.LinkVociByLegacy(ctx, tx, commessaID, itemByLegacy)
	})
	if err != nil {
		return nil, err
	}

	imp.invalidate(commessaID)
	logging.Import("project computo %d imported: %d lines, %d catalog links",
		computo.ID, len(lines), len(itemByLegacy))
	return imp.Store.GetComputo(ctx, computo.ID)
}

// ImportReturn imports one bidder return against the live project.
func (imp *Importer) ImportReturn(ctx context.Context, commessaID int64, parsed *model.ParsedComputo, opts ReturnOptions) (*model.Computo, error) {
	timer := logging.StartTimer(logging.CategoryImport, "ImportReturn")
	defer timer.Stop()

	if err := parsed.Validate(); err != nil {
		return nil, err
	}
	if opts.Bidder == "" {
		return nil, fmt.Errorf("%w: impresa mancante", model.ErrInvalidInput)
	}

	project, err := imp.Store.LiveProjectComputo(ctx, nil, commessaID)
	if err != nil {
		return nil, err
	}
	projectLines, err := imp.Store.ListVociComputo(ctx, nil, project.ID)
	if err != nil {
		return nil, err
	}
	impresa, err := imp.Store.GetOrCreateImpresa(ctx, opts.Bidder)
	if err != nil {
		return nil, err
	}

	round, replaceID, err := imp.resolveRound(ctx, commessaID, opts)
	if err != nil {
		return nil, err
	}

	computo := &model.Computo{
		CommessaID:  commessaID,
		Type:        model.ComputoRitorno,
		Bidder:      opts.Bidder,
		RoundNumber: round,
		FileRef:     parsed.SourceFile,
	}

	err = imp.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if replaceID != 0 {
			if err := imp.Store.DeleteComputo(ctx, tx, replaceID); err != nil {
				return err
			}
		}
		if err := imp.Store.CreateComputo(ctx, tx, computo); err != nil {
			return err
		}
		if opts.LCMode {
			return imp.importLC(ctx, tx, computo, impresa.ID, parsed, projectLines)
		}
		return imp.importAligned(ctx, tx, computo, impresa.ID, parsed, projectLines, opts)
	})
	if err != nil {
		return nil, err
	}

	imp.invalidate(commessaID)
	logging.Import("return computo %d imported: bidder %q round %d", computo.ID, opts.Bidder, round)
	return imp.Store.GetComputo(ctx, computo.ID)
}

// importAligned runs line alignment and persists the aligned snapshot.
// Priced rows are also posted to the catalog as offers.
func (imp *Importer) importAligned(ctx context.Context, tx *sql.Tx, computo *model.Computo, impresaID int64, parsed *model.ParsedComputo, projectLines []model.VoceComputo, opts ReturnOptions) error {
	result := align.AlignReturnRows(projectLines, parsed.Lines, opts.PreferProgressives, nil)
	outcome := align.Reconcile(result, projectLines, parsed.Lines, parsed.TotalAmount, parsed.TotalQuantity)

	for i := range result.AlignedLines {
		result.AlignedLines[i].CommessaID = computo.CommessaID
	}
	if err := imp.Store.ReplaceVociComputo(ctx, tx, computo.ID, result.AlignedLines); err != nil {
		return err
	}
	if err := imp.Store.SyncReturnOfferte(ctx, tx, computo, impresaID, projectLines, result.AlignedLines); err != nil {
		return err
	}
	if imp.Reconciler != nil {
		if _, err := imp.Reconciler.SyncPriceListOffers(ctx, tx, computo, &impresaID, parsed.Lines, projectLines); err != nil {
			return err
		}
	}
	return imp.Store.UpdateComputoResult(ctx, tx, computo.ID, outcome.TotalAmount, outcome.Note, outcome.Report)
}

// importLC imports a price-list return: rows resolve to catalog items,
// then the computo snapshot is rebuilt from the offer map.
func (imp *Importer) importLC(ctx context.Context, tx *sql.Tx, computo *model.Computo, impresaID int64, parsed *model.ParsedComputo, projectLines []model.VoceComputo) error {
	report, err := imp.Reconciler.SyncPriceListOffers(ctx, tx, computo, &impresaID, parsed.Lines, projectLines)
	if err != nil {
		return err
	}

	offers, err := imp.Store.OffersByItemForComputo(ctx, tx, computo.ID)
	if err != nil {
		return err
	}
	links, err := imp.Store.VoceItemLinks(ctx, tx, computo.CommessaID)
	if err != nil {
		return err
	}
	aligned, total := reconcile.BuildSnapshotFromOffers(projectLines, offers, links)
	for i := range aligned {
		aligned[i].CommessaID = computo.CommessaID
	}

	if err := imp.Store.ReplaceVociComputo(ctx, tx, computo.ID, aligned); err != nil {
		return err
	}
	if err := imp.Store.SyncReturnOfferte(ctx, tx, computo, impresaID, projectLines, aligned); err != nil {
		return err
	}

	note := ""
	if n := len(report.MissingPriceItems); n > 0 {
		note = fmt.Sprintf("%d voci di listino senza prezzo nel ritorno", n)
	}
	return imp.Store.UpdateComputoResult(ctx, tx, computo.ID, &total, note, report)
}

// resolveRound applies the round mode: new/auto take the next round
// for the bidder, replace targets an existing one and returns the
// computo to drop. Creating a duplicate (bidder, round) without
// replace is a conflict.
func (imp *Importer) resolveRound(ctx context.Context, commessaID int64, opts ReturnOptions) (round int, replaceID int64, err error) {
	switch opts.RoundMode {
	case model.RoundModeReplace:
		round = opts.RoundNumber
		if round == 0 {
			round = 1
		}
		existing, err := imp.Store.FindReturnComputo(ctx, commessaID, opts.Bidder, round)
		if err != nil {
			return 0, 0, err
		}
		if existing == nil {
			return 0, 0, fmt.Errorf("%w: nessun ritorno da sostituire per %q round %d",
				model.ErrNotFound, opts.Bidder, round)
		}
		return round, existing.ID, nil
	case model.RoundModeNew, model.RoundModeAuto, "":
		round, err = imp.Store.NextRoundNumber(ctx, commessaID, opts.Bidder)
		if err != nil {
			return 0, 0, err
		}
		existing, err := imp.Store.FindReturnComputo(ctx, commessaID, opts.Bidder, round)
		if err != nil {
			return 0, 0, err
		}
		if existing != nil {
			return 0, 0, fmt.Errorf("%w: esiste già un ritorno per %q round %d",
				model.ErrConflict, opts.Bidder, round)
		}
		return round, 0, nil
	default:
		return 0, 0, fmt.Errorf("%w: round_mode %q sconosciuto", model.ErrInvalidInput, opts.RoundMode)
	}
}

// BatchRequest is one bidder's file in a batch import.
type BatchRequest struct {
	Parsed  *model.ParsedComputo
	Options ReturnOptions
}

// BatchResult reports one bidder's outcome.
type BatchResult struct {
	Bidder  string
	Computo *model.Computo
	Err     error
}

// ImportBatch imports several bidder returns, committing per bidder:
// one failing file reports its error without blocking the others.
func (imp *Importer) ImportBatch(ctx context.Context, commessaID int64, requests []BatchRequest) []BatchResult {
	results := make([]BatchResult, len(requests))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(batchWorkers)
	for i := range requests {
		g.Go(func() error {
			req := requests[i]
			computo, err := imp.ImportReturn(gctx, commessaID, req.Parsed, req.Options)
			results[i] = BatchResult{Bidder: req.Options.Bidder, Computo: computo, Err: err}
			if err != nil {
				logging.Get(logging.CategoryImport).Warnf(
					"batch import failed for bidder %q: %v", req.Options.Bidder, err)
			}
			return nil
		})
	}
	_ = g.Wait()
	return results
}

func (imp *Importer) invalidate(commessaID int64) {
	if imp.Cache != nil {
		imp.Cache.Invalidate(commessaID)
	}
}

// toVoceComputoLines converts parsed lines into stored rows, folding
// WBS6/WBS7 codes into canonical form where they match the shapes.
func toVoceComputoLines(commessaID int64, parsed []model.ParsedVoce) []model.VoceComputo {
	lines := make([]model.VoceComputo, 0, len(parsed))
	for i := range parsed {
		p := &parsed[i]
		v := model.VoceComputo{
			CommessaID:  commessaID,
			OrderIndex:  p.OrderIndex,
			Progressivo: p.Progressivo,
			Code:        p.Code,
			Description: p.Description,
			UOM:         p.UOM,
			Quantity:    p.Quantity,
			UnitPrice:   p.UnitPrice,
			Amount:      p.Amount,
			Note:        p.Note,
			Metadata:    p.Metadata,
		}
		for _, l := range p.WBSLevels {
			if l.Level < 1 || l.Level > 7 {
				continue
			}
			code := l.Code
			switch l.Level {
			case 6:
				if folded := normalize.NormalizeWBS6Code(code); folded != "" {
					code = folded
				}
			case 7:
				if folded := normalize.NormalizeWBS7Code(code); folded != "" {
					code = folded
				}
			}
			v.WBS[l.Level-1] = model.WBSLevel{Code: code, Description: l.Description}
		}
		if v.Amount == nil && v.Quantity != nil && v.UnitPrice != nil {
			amount := math.Round(*v.Quantity**v.UnitPrice*100) / 100
			v.Amount = &amount
		}
		lines = append(lines, v)
	}
	return lines
}

func sumAmounts(lines []model.VoceComputo) float64 {
	sum := 0.0
	for i := range lines {
		if lines[i].Amount != nil {
			sum += *lines[i].Amount
		}
	}
	return math.Round(sum*100) / 100
}

// totalCheckNote warns when the declared total drifts from the line
// sum by more than a cent.
func totalCheckNote(lines []model.VoceComputo, declared *float64) string {
	if declared == nil {
		return ""
	}
	sum := sumAmounts(lines)
	if math.Abs(*declared-sum) <= 0.01 {
		return ""
	}
	return fmt.Sprintf("totale dichiarato %.2f diverso dalla somma delle voci %.2f", *declared, sum)
}
