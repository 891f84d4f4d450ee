package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
)

// CreateCommessa inserts a new work contract. Codes are unique. Pass
// a transaction to make the insert part of a larger unit of work.
func (s *Store) CreateCommessa(ctx context.Context, q dbtx, code, name, businessUnit string) (*model.Commessa, error) {
	if q == nil {
		q = s.db
	}
	code = strings.TrimSpace(code)
	if code == "" {
		return nil, fmt.Errorf("%w: codice commessa mancante", model.ErrInvalidInput)
	}
	res, err := q.ExecContext(ctx,
		`INSERT INTO commesse (code, name, business_unit) VALUES (?, ?, ?)`,
		code, name, businessUnit)
	if err != nil {
		if strings.Contains(err.Error(), "UNIQUE") {
			return nil, fmt.Errorf("%w: commessa %q già esistente", model.ErrConflict, code)
		}
		return nil, err
	}
	id, _ := res.LastInsertId()
	return s.getCommessa(ctx, q, id)
}

// GetCommessa loads one commessa by id.
func (s *Store) GetCommessa(ctx context.Context, id int64) (*model.Commessa, error) {
	return s.getCommessa(ctx, s.db, id)
}

func (s *Store) getCommessa(ctx context.Context, q dbtx, id int64) (*model.Commessa, error) {
	var c model.Commessa
	err := q.QueryRowContext(ctx,
		`SELECT id, code, name, business_unit, created_at, updated_at FROM commesse WHERE id = ?`, id).
		Scan(&c.ID, &c.Code, &c.Name, &c.BusinessUnit, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: commessa %d", model.ErrNotFound, id)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// GetCommessaByCode loads one commessa by its unique code.
func (s *Store) GetCommessaByCode(ctx context.Context, code string) (*model.Commessa, error) {
	var c model.Commessa
	err := s.db.QueryRowContext(ctx,
		`SELECT id, code, name, business_unit, created_at, updated_at FROM commesse WHERE code = ?`, code).
		Scan(&c.ID, &c.Code, &c.Name, &c.BusinessUnit, &c.CreatedAt, &c.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: commessa %q", model.ErrNotFound, code)
	}
	if err != nil {
		return nil, err
	}
	return &c, nil
}

// ListCommesse returns all commesse ordered by code.
func (s *Store) ListCommesse(ctx context.Context) ([]model.Commessa, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, code, name, business_unit, created_at, updated_at FROM commesse ORDER BY code`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []model.Commessa
	for rows.Next() {
		var c model.Commessa
		if err := rows.Scan(&c.ID, &c.Code, &c.Name, &c.BusinessUnit, &c.CreatedAt, &c.UpdatedAt); err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// DeleteCommessa removes a commessa and everything it owns.
func (s *Store) DeleteCommessa(ctx context.Context, q dbtx, id int64) error {
	if q == nil {
		q = s.db
	}
	res, err := q.ExecContext(ctx, `DELETE FROM commesse WHERE id = ?`, id)
	if err != nil {
		return err
	}
	if n, _ := res.RowsAffected(); n == 0 {
		return fmt.Errorf("%w: commessa %d", model.ErrNotFound, id)
	}
	return nil
}

// GetOrCreateImpresa resolves a bidder by normalized label, creating
// the row when unseen. Labels differing only by whitespace or a
// trailing "(N)" collapse onto one impresa.
func (s *Store) GetOrCreateImpresa(ctx context.Context, label string) (*model.Impresa, error) {
	normalized := normalize.NormalizeImpresaLabel(label)
	if normalized == "" {
		return nil, fmt.Errorf("%w: etichetta impresa vuota", model.ErrInvalidInput)
	}

	var imp model.Impresa
	err := s.db.QueryRowContext(ctx,
		`SELECT id, label, normalized_label FROM imprese WHERE normalized_label = ?`, normalized).
		Scan(&imp.ID, &imp.Label, &imp.NormalizedLabel)
	if err == nil {
		return &imp, nil
	}
	if !errors.Is(err, sql.ErrNoRows) {
		return nil, err
	}

	res, err := s.db.ExecContext(ctx,
		`INSERT INTO imprese (label, normalized_label) VALUES (?, ?)`,
		strings.TrimSpace(label), normalized)
	if err != nil {
		// Lost a race on the unique index: re-read.
		if strings.Contains(err.Error(), "UNIQUE") {
			return s.GetOrCreateImpresa(ctx, label)
		}
		return nil, err
	}
	id, _ := res.LastInsertId()
	return &model.Impresa{ID: id, Label: strings.TrimSpace(label), NormalizedLabel: normalized}, nil
}

// GetSettings reads the singleton settings row, falling back to
// defaults when never saved.
func (s *Store) GetSettings(ctx context.Context) (model.Settings, error) {
	set := model.DefaultSettings()
	err := s.db.QueryRowContext(ctx,
		`SELECT criticita_media_percent, criticita_alta_percent, nlp_model_id, nlp_max_length, nlp_batch_size
		 FROM settings WHERE id = 1`).
		Scan(&set.CriticitaMediaPercent, &set.CriticitaAltaPercent,
			&set.NLPModelID, &set.NLPMaxLength, &set.NLPBatchSize)
	if errors.Is(err, sql.ErrNoRows) {
		return set, nil
	}
	if err != nil {
		return set, err
	}
	if set.NLPModelID == "" {
		set.NLPModelID = model.DefaultSettings().NLPModelID
	}
	return set, nil
}

// SaveSettings upserts the singleton settings row. Alta must be at
// least media.
func (s *Store) SaveSettings(ctx context.Context, set model.Settings) error {
	if set.CriticitaAltaPercent < set.CriticitaMediaPercent {
		return fmt.Errorf("%w: soglia alta (%.1f%%) inferiore alla soglia media (%.1f%%)",
			model.ErrInvalidInput, set.CriticitaAltaPercent, set.CriticitaMediaPercent)
	}
	_, err := s.db.ExecContext(ctx, `
		INSERT INTO settings (id, criticita_media_percent, criticita_alta_percent, nlp_model_id, nlp_max_length, nlp_batch_size)
		VALUES (1, ?, ?, ?, ?, ?)
		ON CONFLICT(id) DO UPDATE SET
			criticita_media_percent = excluded.criticita_media_percent,
			criticita_alta_percent = excluded.criticita_alta_percent,
			nlp_model_id = excluded.nlp_model_id,
			nlp_max_length = excluded.nlp_max_length,
			nlp_batch_size = excluded.nlp_batch_size`,
		set.CriticitaMediaPercent, set.CriticitaAltaPercent,
		set.NLPModelID, set.NLPMaxLength, set.NLPBatchSize)
	return err
}
