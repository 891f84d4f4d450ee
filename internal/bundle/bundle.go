// Package bundle reads and writes .mmcomm archives: a tarball holding
// a manifest plus JSON dumps of every commessa-scoped row. Bundles
// move a commessa between installations wholesale.
package bundle

import (
	"archive/tar"
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"time"

	"github.com/google/uuid"

	"tendermatch/internal/logging"
	"tendermatch/internal/model"
	"tendermatch/internal/store"
)

// FormatVersion guards against future layout changes.
const FormatVersion = 1

// Manifest identifies a bundle.
type Manifest struct {
	FormatVersion int       `json:"format_version"`
	BundleID      string    `json:"bundle_id"`
	CommessaCode  string    `json:"commessa_code"`
	CommessaName  string    `json:"commessa_name"`
	BusinessUnit  string    `json:"business_unit"`
	ExportedAt    time.Time `json:"exported_at"`
}

// payload is the full row dump of one commessa.
type payload struct {
	Commessa model.Commessa         `json:"commessa"`
	Computi  []computoDump          `json:"computi"`
	Items    []*model.PriceListItem `json:"price_list_items"`
	Offers   []model.PriceListOffer `json:"price_list_offers"`
	Imprese  []model.Impresa        `json:"imprese"`
}

type computoDump struct {
	Computo model.Computo       `json:"computo"`
	Lines   []model.VoceComputo `json:"lines"`
}

// Service exports and imports bundles against the store.
type Service struct {
	Store *store.Store
}

// Export dumps one commessa as a .mmcomm archive.
func (s *Service) Export(ctx context.Context, commessaID int64) ([]byte, error) {
	timer := logging.StartTimer(logging.CategoryBundle, "Export")
	defer timer.Stop()

	commessa, err := s.Store.GetCommessa(ctx, commessaID)
	if err != nil {
		return nil, err
	}

	p := payload{Commessa: *commessa}

	projects, err := s.allComputi(ctx, commessaID)
	if err != nil {
		return nil, err
	}
	for _, c := range projects {
		lines, err := s.Store.ListVociComputo(ctx, nil, c.ID)
		if err != nil {
			return nil, err
		}
		p.Computi = append(p.Computi, computoDump{Computo: *c, Lines: lines})

		offers, err := s.Store.ListOffersForComputo(ctx, nil, c.ID)
		if err != nil {
			return nil, err
		}
		p.Offers = append(p.Offers, offers...)
	}
	if p.Items, err = s.Store.ListPriceListItems(ctx, nil, commessaID); err != nil {
		return nil, err
	}

	seen := map[string]bool{}
	for _, o := range p.Offers {
		if o.ImpresaLabel == "" || seen[o.ImpresaLabel] {
			continue
		}
		seen[o.ImpresaLabel] = true
		p.Imprese = append(p.Imprese, model.Impresa{Label: o.ImpresaLabel})
	}

	manifest := Manifest{
		FormatVersion: FormatVersion,
		BundleID:      uuid.NewString(),
		CommessaCode:  commessa.Code,
		CommessaName:  commessa.Name,
		BusinessUnit:  commessa.BusinessUnit,
		ExportedAt:    time.Now().UTC(),
	}

	buf := &bytes.Buffer{}
	tw := tar.NewWriter(buf)
	if err := writeJSONEntry(tw, "manifest.json", manifest); err != nil {
		return nil, err
	}
	if err := writeJSONEntry(tw, "data.json", p); err != nil {
		return nil, err
	}
	if err := tw.Close(); err != nil {
		return nil, err
	}

	logging.Get(logging.CategoryBundle).Infof("exported commessa %s: %d computi, %d catalog items",
		commessa.Code, len(p.Computi), len(p.Items))
	return buf.Bytes(), nil
}

// Import restores a bundle. An existing commessa with the same code is
// a conflict unless overwrite is set, in which case it is replaced.
func (s *Service) Import(ctx context.Context, data []byte, overwrite bool) (*model.Commessa, error) {
	timer := logging.StartTimer(logging.CategoryBundle, "Import")
	defer timer.Stop()

	manifest, p, err := readArchive(data)
	if err != nil {
		return nil, err
	}
	if manifest.FormatVersion != FormatVersion {
		return nil, fmt.Errorf("%w: versione bundle %d non supportata",
			model.ErrInvalidInput, manifest.FormatVersion)
	}

	var existing *model.Commessa
	if c, err := s.Store.GetCommessaByCode(ctx, manifest.CommessaCode); err == nil {
		if !overwrite {
			return nil, fmt.Errorf("%w: esiste già una commessa con codice %q",
				model.ErrConflict, manifest.CommessaCode)
		}
		existing = c
	} else if !errors.Is(err, model.ErrNotFound) {
		return nil, err
	}

	// Bidders are resolved before the transaction: impresa lookups run
	// on the pool connection, which the tx will hold exclusively. They
	// are global rows, so an aborted restore leaves nothing dangling.
	impresaByLabel := map[string]int64{}
	for _, imp := range p.Imprese {
		resolved, err := s.Store.GetOrCreateImpresa(ctx, imp.Label)
		if err != nil {
			return nil, err
		}
		impresaByLabel[imp.Label] = resolved.ID
	}

	// Replacement and restore share one transaction: a failure rolls
	// everything back and the existing commessa survives untouched.
	var commessa *model.Commessa
	err = s.Store.WithTx(ctx, func(tx *sql.Tx) error {
		if existing != nil {
			if err := s.Store.DeleteCommessa(ctx, tx, existing.ID); err != nil {
				return err
			}
		}
		var err error
		commessa, err = s.Store.CreateCommessa(ctx, tx, manifest.CommessaCode, manifest.CommessaName, manifest.BusinessUnit)
		if err != nil {
			return err
		}

		itemIDs := map[int64]int64{}
		for _, item := range p.Items {
			oldID := item.ID
			item.ID = 0
			item.CommessaID = commessa.ID
			if err := s.Store.UpsertPriceListItem(ctx, tx, item); err != nil {
				return err
			}
			itemIDs[oldID] = item.ID
		}

		computoIDs := map[int64]int64{}
		var lastProject *model.Computo
		var lastProjectLines []model.VoceComputo
		for i := range p.Computi {
			dump := &p.Computi[i]
			c := dump.Computo
			oldID := c.ID
			c.ID = 0
			c.CommessaID = commessa.ID
			if err := s.Store.CreateComputo(ctx, tx, &c); err != nil {
				return err
			}
			computoIDs[oldID] = c.ID

			for j := range dump.Lines {
				dump.Lines[j].ID = 0
				dump.Lines[j].CommessaID = commessa.ID
			}
			if err := s.Store.ReplaceVociComputo(ctx, tx, c.ID, dump.Lines); err != nil {
				return err
			}
			if err := s.Store.UpdateComputoResult(ctx, tx, c.ID, c.TotalAmount, c.Note, c.MatchingReport); err != nil {
				return err
			}
			if c.Type == model.ComputoProgetto {
				lastProject = &c
				lastProjectLines = dump.Lines
			}
		}

		// The normalized layer is rebuilt from the live project.
		if lastProject != nil {
			if err := s.Store.SyncProjectVoci(ctx, tx, commessa.ID, lastProject.ID, lastProjectLines); err != nil {
				return err
			}
		}

		for _, offer := range p.Offers {
			itemID, okItem := itemIDs[offer.PriceListItemID]
			computoID, okComputo := computoIDs[offer.ComputoID]
			if !okItem || !okComputo {
				continue
			}
			offer.ID = 0
			offer.PriceListItemID = itemID
			offer.ComputoID = computoID
			offer.CommessaID = commessa.ID
			offer.ImpresaID = nil
			if id, ok := impresaByLabel[offer.ImpresaLabel]; ok {
				offer.ImpresaID = &id
			}
			if err := s.Store.UpsertPriceListOffer(ctx, tx, &offer); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return nil, err
	}

	logging.Get(logging.CategoryBundle).Infof("imported bundle %s as commessa %s (id %d)",
		manifest.BundleID, commessa.Code, commessa.ID)
	return commessa, nil
}

func (s *Service) allComputi(ctx context.Context, commessaID int64) ([]*model.Computo, error) {
	var out []*model.Computo
	rows, err := s.Store.DB().QueryContext(ctx,
		`SELECT id FROM computi WHERE commessa_id = ? ORDER BY created_at, id`, commessaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	for _, id := range ids {
		c, err := s.Store.GetComputo(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

func writeJSONEntry(tw *tar.Writer, name string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal %s: %w", name, err)
	}
	hdr := &tar.Header{Name: name, Mode: 0644, Size: int64(len(data)), ModTime: time.Now()}
	if err := tw.WriteHeader(hdr); err != nil {
		return err
	}
	_, err = tw.Write(data)
	return err
}

func readArchive(data []byte) (*Manifest, *payload, error) {
	tr := tar.NewReader(bytes.NewReader(data))
	var manifest *Manifest
	var p *payload
	for {
		hdr, err := tr.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, fmt.Errorf("%w: archivio bundle corrotto: %v", model.ErrInvalidInput, err)
		}
		content, err := io.ReadAll(tr)
		if err != nil {
			return nil, nil, fmt.Errorf("%w: archivio bundle corrotto: %v", model.ErrInvalidInput, err)
		}
		switch hdr.Name {
		case "manifest.json":
			manifest = &Manifest{}
			if err := json.Unmarshal(content, manifest); err != nil {
				return nil, nil, fmt.Errorf("%w: manifest non valido: %v", model.ErrInvalidInput, err)
			}
		case "data.json":
			p = &payload{}
			if err := json.Unmarshal(content, p); err != nil {
				return nil, nil, fmt.Errorf("%w: contenuto bundle non valido: %v", model.ErrInvalidInput, err)
			}
		}
	}
	if manifest == nil || p == nil {
		return nil, nil, fmt.Errorf("%w: bundle incompleto (manifest o dati mancanti)", model.ErrInvalidInput)
	}
	return manifest, p, nil
}
