package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"tendermatch/internal/model"
)

// dbtx abstracts *sql.DB and *sql.Tx so repository methods compose
// into import transactions.
type dbtx interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// CreateComputo inserts a computo row and fills in its id.
func (s *Store) CreateComputo(ctx context.Context, q dbtx, c *model.Computo) error {
	if q == nil {
		q = s.db
	}
	reportJSON, err := marshalReport(c.MatchingReport)
	if err != nil {
		return err
	}
	res, err := q.ExecContext(ctx, `
		INSERT INTO computi (commessa_id, type, bidder, round_number, file_ref, total_amount, note, matching_report)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		c.CommessaID, string(c.Type), c.Bidder, c.RoundNumber, c.FileRef,
		c.TotalAmount, c.Note, reportJSON)
	if err != nil {
		return fmt.Errorf("insert computo: %w", err)
	}
	c.ID, _ = res.LastInsertId()
	return nil
}

// UpdateComputoResult stores the outcome of an import or rebuild:
// total, note and matching report. Bumps updated_at.
func (s *Store) UpdateComputoResult(ctx context.Context, q dbtx, id int64, totalAmount *float64, note string, report *model.MatchingReport) error {
	if q == nil {
		q = s.db
	}
	reportJSON, err := marshalReport(report)
	if err != nil {
		return err
	}
	_, err = q.ExecContext(ctx, `
		UPDATE computi SET total_amount = ?, note = ?, matching_report = ?,
			updated_at = strftime('%Y-%m-%d %H:%M:%f','now')
		WHERE id = ?`,
		totalAmount, note, reportJSON, id)
	return err
}

// GetComputo loads one computo by id.
func (s *Store) GetComputo(ctx context.Context, id int64) (*model.Computo, error) {
	return s.getComputo(ctx, s.db, id)
}

func (s *Store) getComputo(ctx context.Context, q dbtx, id int64) (*model.Computo, error) {
	var c model.Computo
	var typ string
	var reportJSON sql.NullString
	err := q.QueryRowContext(ctx, `
		SELECT id, commessa_id, type, bidder, round_number, file_ref, total_amount, note, matching_report, created_at, updated_at
		FROM computi WHERE id = ?`, id).
		Scan(&c.ID, &c.CommessaID, &typ, &c.Bidder, &c.RoundNumber, &c.FileRef,
			&c.TotalAmount, &c.Note, &reportJSON, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: computo %d", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	c.Type = model.ComputoType(typ)
	if reportJSON.Valid && reportJSON.String != "" {
		var r model.MatchingReport
		if err := json.Unmarshal([]byte(reportJSON.String), &r); err == nil {
			c.MatchingReport = &r
		}
	}
	return &c, nil
}

// LiveProjectComputo returns the current project estimate of a
// commessa: the most recently created one. Pass the enclosing tx when
// called inside a transaction; the pool holds a single connection.
func (s *Store) LiveProjectComputo(ctx context.Context, q dbtx, commessaID int64) (*model.Computo, error) {
	if q == nil {
		q = s.db
	}
	var id int64
	err := q.QueryRowContext(ctx, `
		SELECT id FROM computi WHERE commessa_id = ? AND type = 'project'
		ORDER BY created_at DESC, id DESC LIMIT 1`, commessaID).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: nessun computo metrico di progetto per la commessa %d",
			model.ErrPrecondition, commessaID)
	}
	if err != nil {
		return nil, err
	}
	return s.getComputo(ctx, q, id)
}

// FindReturnComputo locates the return of (bidder, round) within a
// commessa, or nil when absent.
func (s *Store) FindReturnComputo(ctx context.Context, commessaID int64, bidder string, round int) (*model.Computo, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		SELECT id FROM computi
		WHERE commessa_id = ? AND type = 'return' AND bidder = ? AND round_number = ?`,
		commessaID, bidder, round).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return s.GetComputo(ctx, id)
}

// NextRoundNumber assigns the next bidding round for a bidder.
func (s *Store) NextRoundNumber(ctx context.Context, commessaID int64, bidder string) (int, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx, `
		SELECT MAX(round_number) FROM computi
		WHERE commessa_id = ? AND type = 'return' AND bidder = ?`,
		commessaID, bidder).Scan(&max)
	if err != nil {
		return 0, err
	}
	if !max.Valid {
		return 1, nil
	}
	return int(max.Int64) + 1, nil
}

// ListReturnComputi returns all return computi of a commessa in
// creation order.
func (s *Store) ListReturnComputi(ctx context.Context, commessaID int64) ([]*model.Computo, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT id FROM computi WHERE commessa_id = ? AND type = 'return'
		ORDER BY created_at, id`, commessaID)
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

	out := make([]*model.Computo, 0, len(ids))
	for _, id := range ids {
		c, err := s.GetComputo(ctx, id)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, nil
}

// DeleteComputo removes a computo; its lines and facts cascade, the
// parent voce rows survive.
func (s *Store) DeleteComputo(ctx context.Context, q dbtx, id int64) error {
	if q == nil {
		q = s.db
	}
	res, err := q.ExecContext(ctx, `DELETE FROM computi WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: computo %d", model.ErrNotFound, id)
	}
	return nil
}

// ReplaceVociComputo wipes and reinserts the flat lines of a computo.
// Always runs inside the import transaction.
func (s *Store) ReplaceVociComputo(ctx context.Context, q dbtx, computoID int64, lines []model.VoceComputo) error {
	if q == nil {
		q = s.db
	}
	if _, err := q.ExecContext(ctx, `DELETE FROM voci_computo WHERE computo_id = ?`, computoID); err != nil {
		return fmt.Errorf("wipe voci_computo: %w", err)
	}
	for i := range lines {
		v := &lines[i]
		v.ComputoID = computoID
		metaJSON, err := marshalVoceMetadata(v.Metadata)
		if err != nil {
			return err
		}
		res, err := q.ExecContext(ctx, `
			INSERT INTO voci_computo (
				computo_id, commessa_id, order_index, progressivo, code, description, uom,
				quantity, unit_price, amount, note,
				wbs1_code, wbs1_description, wbs2_code, wbs2_description,
				wbs3_code, wbs3_description, wbs4_code, wbs4_description,
				wbs5_code, wbs5_description, wbs6_code, wbs6_description,
				wbs7_code, wbs7_description, extra_metadata)
			VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			v.ComputoID, v.CommessaID, v.OrderIndex, v.Progressivo, v.Code, v.Description, v.UOM,
			v.Quantity, v.UnitPrice, v.Amount, v.Note,
			v.WBS[0].Code, v.WBS[0].Description, v.WBS[1].Code, v.WBS[1].Description,
			v.WBS[2].Code, v.WBS[2].Description, v.WBS[3].Code, v.WBS[3].Description,
			v.WBS[4].Code, v.WBS[4].Description, v.WBS[5].Code, v.WBS[5].Description,
			v.WBS[6].Code, v.WBS[6].Description, metaJSON)
		if err != nil {
			return fmt.Errorf("insert voce_computo %d: %w", i, err)
		}
		v.ID, _ = res.LastInsertId()
	}
	return nil
}

// ListVociComputo loads the flat lines of a computo in order.
func (s *Store) ListVociComputo(ctx context.Context, q dbtx, computoID int64) ([]model.VoceComputo, error) {
	if q == nil {
		q = s.db
	}
	rows, err := q.QueryContext(ctx, `
		SELECT id, computo_id, commessa_id, order_index, progressivo, code, description, uom,
			quantity, unit_price, amount, note,
			wbs1_code, wbs1_description, wbs2_code, wbs2_description,
			wbs3_code, wbs3_description, wbs4_code, wbs4_description,
			wbs5_code, wbs5_description, wbs6_code, wbs6_description,
			wbs7_code, wbs7_description, extra_metadata
		FROM voci_computo WHERE computo_id = ? ORDER BY order_index, id`, computoID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.VoceComputo
	for rows.Next() {
		var v model.VoceComputo
		var metaJSON sql.NullString
		if err := rows.Scan(
			&v.ID, &v.ComputoID, &v.CommessaID, &v.OrderIndex, &v.Progressivo,
			&v.Code, &v.Description, &v.UOM, &v.Quantity, &v.UnitPrice, &v.Amount, &v.Note,
			&v.WBS[0].Code, &v.WBS[0].Description, &v.WBS[1].Code, &v.WBS[1].Description,
			&v.WBS[2].Code, &v.WBS[2].Description, &v.WBS[3].Code, &v.WBS[3].Description,
			&v.WBS[4].Code, &v.WBS[4].Description, &v.WBS[5].Code, &v.WBS[5].Description,
			&v.WBS[6].Code, &v.WBS[6].Description, &metaJSON); err != nil {
			return nil, err
		}
		if metaJSON.Valid && metaJSON.String != "" {
			_ = json.Unmarshal([]byte(metaJSON.String), &v.Metadata)
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// MaxVoceComputoID returns the highest voci_computo id within a
// commessa. Feeds the analysis cache version string.
func (s *Store) MaxVoceComputoID(ctx context.Context, commessaID int64) (sql.NullInt64, error) {
	var max sql.NullInt64
	err := s.db.QueryRowContext(ctx,
		`SELECT MAX(id) FROM voci_computo WHERE commessa_id = ?`, commessaID).Scan(&max)
	return max, err
}

func marshalReport(r *model.MatchingReport) (any, error) {
	if r == nil {
		return nil, nil
	}
	data, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("marshal matching report: %w", err)
	}
	return string(data), nil
}

func marshalVoceMetadata(m model.VoceMetadata) (any, error) {
	if m.IsZero() {
		return nil, nil
	}
	data, err := json.Marshal(m)
	if err != nil {
		return nil, fmt.Errorf("marshal voce metadata: %w", err)
	}
	return string(data), nil
}
