package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"tendermatch/internal/model"
)

// The normalized voce layer coexists with the flat voci_computo rows
// so WBS joins stay sane. It is rebuilt from the live project snapshot
// on every project import; return imports only add voci_offerta facts.

// SyncProjectVoci rebuilds the normalized layer from the project
// computo's flat lines: wbs6/wbs7 rows get-or-created, one voce per
// line (legacy link 1:1), one voce_progetto fact per voce.
func (s *Store) SyncProjectVoci(ctx context.Context, q dbtx, commessaID int64, computoID int64, lines []model.VoceComputo) error {
	if q == nil {
		q = s.db
	}
	// The old normalized layer belongs to the previous project import.
	if _, err := q.ExecContext(ctx, `DELETE FROM voci WHERE commessa_id = ?`, commessaID); err != nil {
		return fmt.Errorf("wipe voci: %w", err)
	}

	for i := range lines {
		line := &lines[i]
		wbs6ID, err := s.getOrCreateWBS6(ctx, q, commessaID, line.WBS[5].Code, line.WBS[5].Description)
		if err != nil {
			return err
		}
		var wbs7ID *int64
		if line.WBS[6].Code != "" || line.WBS[6].Description != "" {
			id, err := s.getOrCreateWBS7(ctx, q, wbs6ID, line.WBS[6].Code, line.WBS[6].Description)
			if err != nil {
				return err
			}
			wbs7ID = &id
		}

		res, err := q.ExecContext(ctx, `
			INSERT INTO voci (commessa_id, wbs6_id, wbs7_id, code, description, uom, order_index, legacy_vocecomputo_id)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
			commessaID, wbs6ID, wbs7ID, line.Code, line.Description, line.UOM, line.OrderIndex, line.ID)
		if err != nil {
			return fmt.Errorf("insert voce: %w", err)
		}
		voceID, _ := res.LastInsertId()

		if _, err := q.ExecContext(ctx, `
			INSERT INTO voci_progetto (voce_id, computo_id, quantity, unit_price, amount, note)
			VALUES (?, ?, ?, ?, ?, ?)`,
			voceID, computoID, line.Quantity, line.UnitPrice, line.Amount, line.Note); err != nil {
			return fmt.Errorf("insert voce_progetto: %w", err)
		}
	}
	return nil
}

// SyncReturnOfferte replaces the voci_offerta facts of a return
// computo. Aligned return lines are project-shaped, so each one maps
// to the project voce through the legacy link of the project line at
// the same order index.
func (s *Store) SyncReturnOfferte(ctx context.Context, q dbtx, returnComputo *model.Computo, impresaID int64, projectLines, alignedLines []model.VoceComputo) error {
	if q == nil {
		q = s.db
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM voci_offerta WHERE computo_id = ?`, returnComputo.ID); err != nil {
		return fmt.Errorf("wipe voci_offerta: %w", err)
	}

	voceByLegacy, err := s.voceIDsByLegacy(ctx, q, returnComputo.CommessaID)
	if err != nil {
		return err
	}
	byOrder := make(map[int]int64, len(projectLines))
	for i := range projectLines {
		if voceID, ok := voceByLegacy[projectLines[i].ID]; ok {
			byOrder[projectLines[i].OrderIndex] = voceID
		}
	}

	for i := range alignedLines {
		line := &alignedLines[i]
		voceID, ok := byOrder[line.OrderIndex]
		if !ok {
			continue
		}
		if _, err := q.ExecContext(ctx, `
			INSERT INTO voci_offerta (voce_id, computo_id, impresa_id, round_number, quantity, unit_price, amount, note)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?)
			ON CONFLICT(voce_id, computo_id) DO UPDATE SET
				quantity = excluded.quantity, unit_price = excluded.unit_price,
				amount = excluded.amount, note = excluded.note`,
			voceID, returnComputo.ID, impresaID, returnComputo.RoundNumber,
			line.Quantity, line.UnitPrice, line.Amount, line.Note); err != nil {
			return fmt.Errorf("insert voce_offerta: %w", err)
		}
	}
	return nil
}

// VoceIDsByLegacy maps legacy project line id → normalized voce id for
// a whole commessa.
func (s *Store) VoceIDsByLegacy(ctx context.Context, commessaID int64) (map[int64]int64, error) {
	return s.voceIDsByLegacy(ctx, s.db, commessaID)
}

// VoceIDByLegacy resolves the normalized voce for one flat project
// line.
func (s *Store) VoceIDByLegacy(ctx context.Context, legacyID int64) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx,
		`SELECT id FROM voci WHERE legacy_vocecomputo_id = ?`, legacyID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return 0, fmt.Errorf("%w: voce per riga %d", model.ErrNotFound, legacyID)
	}
	return id, err
}

// VoceItemLinks returns legacy line id → price list item id for every
// linked voce of a commessa.
func (s *Store) VoceItemLinks(ctx context.Context, q dbtx, commessaID int64) (map[int64]int64, error) {
	if q == nil {
		q = s.db
	}
	rows, err := q.QueryContext(ctx, `
		SELECT legacy_vocecomputo_id, price_list_item_id FROM voci
		WHERE commessa_id = ? AND legacy_vocecomputo_id IS NOT NULL AND price_list_item_id IS NOT NULL`,
		commessaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var legacy, item int64
		if err := rows.Scan(&legacy, &item); err != nil {
			return nil, err
		}
		out[legacy] = item
	}
	return out, rows.Err()
}

// LinkVociByLegacy links normalized voci to catalog items, keyed by
// legacy project line id. Runs inside the import transaction, after
// SyncProjectVoci recreated the voce rows.
func (s *Store) LinkVociByLegacy(ctx context.Context, q dbtx, commessaID int64, itemByLegacy map[int64]int64) error {
	if q == nil {
		q = s.db
	}
	voceByLegacy, err := s.voceIDsByLegacy(ctx, q, commessaID)
	if err != nil {
		return err
	}
	for legacy, itemID := range itemByLegacy {
		voceID, ok := voceByLegacy[legacy]
		if !ok {
			continue
		}
		if err := s.LinkVoceToItem(ctx, q, voceID, itemID); err != nil {
			return err
		}
	}
	return nil
}

// LinkVoceToItem records the catalog identity of a normalized voce.
func (s *Store) LinkVoceToItem(ctx context.Context, q dbtx, voceID, itemID int64) error {
	if q == nil {
		q = s.db
	}
	_, err := q.ExecContext(ctx,
		`UPDATE voci SET price_list_item_id = ? WHERE id = ?`, itemID, voceID)
	return err
}

// ProjectQuantitiesByItem sums project quantities per linked catalog
// item across the project computi of a commessa. Feeds search
// enrichment.
func (s *Store) ProjectQuantitiesByItem(ctx context.Context, commessaID int64) (map[int64]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.price_list_item_id, COALESCE(SUM(vp.quantity), 0)
		FROM voci v
		JOIN voci_progetto vp ON vp.voce_id = v.id
		WHERE v.commessa_id = ? AND v.price_list_item_id IS NOT NULL
		GROUP BY v.price_list_item_id`, commessaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]float64{}
	for rows.Next() {
		var itemID int64
		var qty float64
		if err := rows.Scan(&itemID, &qty); err != nil {
			return nil, err
		}
		out[itemID] = qty
	}
	return out, rows.Err()
}

// ProjectPricesByItem averages project unit prices per linked catalog
// item: sum(amount) / sum(quantity) over project facts.
func (s *Store) ProjectPricesByItem(ctx context.Context, commessaID int64) (map[int64]float64, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT v.price_list_item_id, COALESCE(SUM(vp.amount), 0), COALESCE(SUM(vp.quantity), 0)
		FROM voci v
		JOIN voci_progetto vp ON vp.voce_id = v.id
		WHERE v.commessa_id = ? AND v.price_list_item_id IS NOT NULL
		GROUP BY v.price_list_item_id`, commessaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]float64{}
	for rows.Next() {
		var itemID int64
		var amount, qty float64
		if err := rows.Scan(&itemID, &amount, &qty); err != nil {
			return nil, err
		}
		if qty != 0 {
			out[itemID] = amount / qty
		}
	}
	return out, rows.Err()
}

func (s *Store) voceIDsByLegacy(ctx context.Context, q dbtx, commessaID int64) (map[int64]int64, error) {
	rows, err := q.QueryContext(ctx, `
		SELECT legacy_vocecomputo_id, id FROM voci
		WHERE commessa_id = ? AND legacy_vocecomputo_id IS NOT NULL`, commessaID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	out := map[int64]int64{}
	for rows.Next() {
		var legacy, id int64
		if err := rows.Scan(&legacy, &id); err != nil {
			return nil, err
		}
		out[legacy] = id
	}
	return out, rows.Err()
}

func (s *Store) getOrCreateWBS6(ctx context.Context, q dbtx, commessaID int64, code, description string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM wbs6 WHERE commessa_id = ? AND code = ? AND description = ?`,
		commessaID, code, description).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO wbs6 (commessa_id, code, description) VALUES (?, ?, ?)`,
		commessaID, code, description)
	if err != nil {
		return 0, fmt.Errorf("insert wbs6: %w", err)
	}
	return res.LastInsertId()
}

func (s *Store) getOrCreateWBS7(ctx context.Context, q dbtx, wbs6ID int64, code, description string) (int64, error) {
	var id int64
	err := q.QueryRowContext(ctx,
		`SELECT id FROM wbs7 WHERE wbs6_id = ? AND code = ? AND description = ?`,
		wbs6ID, code, description).Scan(&id)
	if err == nil {
		return id, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return 0, err
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO wbs7 (wbs6_id, code, description) VALUES (?, ?, ?)`,
		wbs6ID, code, description)
	if err != nil {
		return 0, fmt.Errorf("insert wbs7: %w", err)
	}
	return res.LastInsertId()
}
