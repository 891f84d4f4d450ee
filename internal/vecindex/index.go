// Package vecindex maintains one approximate-nearest-neighbor index
// per commessa over the price-list catalog. With the sqlite-vec
// extension available each index is a vec0 virtual table; otherwise
// search falls back to brute-force cosine over vectors held in memory.
// Either way the index is rebuildable at any time from the stored
// item metadata, and a dimension mismatch after a model change makes
// search return nothing until a rebuild.
package vecindex

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/binary"
	"errors"
	"fmt"
	"sort"
	"sync"

	"tendermatch/internal/embedding"
	"tendermatch/internal/logging"
	"tendermatch/internal/model"
	"tendermatch/internal/store"
)

// Result is one search hit: a catalog item id with its cosine score.
type Result struct {
	ItemID int64
	Score  float64
}

// Manager owns the per-commessa index handles. Handle loading happens
// under the lock; search on a loaded handle needs no lock.
type Manager struct {
	store *store.Store

	mu      sync.RWMutex
	handles map[int64]*handle
}

type handle struct {
	commessaID int64
	modelID    string
	dim        int
	// Brute-force entries, populated only without the vec extension.
	entries []entry
}

type entry struct {
	itemID int64
	vector []float32
}

// NewManager creates the index manager.
func NewManager(st *store.Store) *Manager {
	m := &Manager{store: st, handles: map[int64]*handle{}}
	m.ensureMetaTable()
	return m
}

func (m *Manager) ensureMetaTable() {
	_, err := m.store.DB().Exec(`
		CREATE TABLE IF NOT EXISTS vec_index_meta (
			commessa_id INTEGER PRIMARY KEY,
			model_id TEXT NOT NULL,
			dim INTEGER NOT NULL,
			built_at DATETIME DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now'))
		)`)
	if err != nil {
		logging.Get(logging.CategoryVecIndex).Errorf("failed to create vec_index_meta: %v", err)
	}
}

func tableName(commessaID int64) string {
	return fmt.Sprintf("vec_price_list_c%d", commessaID)
}

// BuildIndex (re)builds the index of a commessa from catalog items.
// Only items whose stored vector was produced by modelID and matches
// its dimension are indexed; the rest stay reachable lexically. The
// build is atomic: drop, recreate and fill in one transaction.
func (m *Manager) BuildIndex(ctx context.Context, commessaID int64, items []*model.PriceListItem, modelID string) error {
	timer := logging.StartTimer(logging.CategoryVecIndex, "BuildIndex")
	defer timer.Stop()

	dim := 0
	var entries []entry
	for _, it := range items {
		nlp := it.Metadata.NLP
		if nlp == nil || nlp.ModelID != modelID || len(nlp.Vector) == 0 {
			continue
		}
		if dim == 0 {
			dim = len(nlp.Vector)
		}
		if len(nlp.Vector) != dim {
			logging.Get(logging.CategoryVecIndex).Warnf(
				"item %d vector dimension %d != %d, skipping", it.ID, len(nlp.Vector), dim)
			continue
		}
		entries = append(entries, entry{itemID: it.ID, vector: nlp.Vector})
	}

	if len(entries) == 0 {
		return fmt.Errorf("%w: nessuna voce di listino con embedding compatibile (modello %s)",
			model.ErrPrecondition, modelID)
	}

	h := &handle{commessaID: commessaID, modelID: modelID, dim: dim}

	if m.store.HasVectorExt() {
		table := tableName(commessaID)
		err := m.store.WithTx(ctx, func(tx *sql.Tx) error {
			if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+table); err != nil {
				return err
			}
			create := fmt.Sprintf(
				"CREATE VIRTUAL TABLE %s USING vec0(embedding float[%d], item_id INTEGER)", table, dim)
			if _, err := tx.ExecContext(ctx, create); err != nil {
				return err
			}
			insert := fmt.Sprintf("INSERT INTO %s (embedding, item_id) VALUES (?, ?)", table)
			for _, e := range entries {
				if _, err := tx.ExecContext(ctx, insert, encodeFloat32Slice(e.vector), e.itemID); err != nil {
					return err
				}
			}
			_, err := tx.ExecContext(ctx, `
				INSERT INTO vec_index_meta (commessa_id, model_id, dim, built_at)
				VALUES (?, ?, ?, strftime('%Y-%m-%d %H:%M:%f','now'))
				ON CONFLICT(commessa_id) DO UPDATE SET
					model_id = excluded.model_id, dim = excluded.dim, built_at = excluded.built_at`,
				commessaID, modelID, dim)
			return err
		})
		if err != nil {
			return fmt.Errorf("%w: costruzione indice vettoriale fallita: %v", model.ErrTransient, err)
		}
	} else {
		h.entries = entries
	}

	m.mu.Lock()
	m.handles[commessaID] = h
	m.mu.Unlock()

	logging.Get(logging.CategoryVecIndex).Infof(
		"index built for commessa %d: %d vectors, dim=%d, model=%s",
		commessaID, len(entries), dim, modelID)
	return nil
}

// Load restores the handle for a commessa from the persisted meta row.
// Returns false when no index was ever built.
func (m *Manager) Load(ctx context.Context, commessaID int64) (bool, error) {
	m.mu.RLock()
	if _, ok := m.handles[commessaID]; ok {
		m.mu.RUnlock()
		return true, nil
	}
	m.mu.RUnlock()

	m.mu.Lock()
	defer m.mu.Unlock()
	if _, ok := m.handles[commessaID]; ok {
		return true, nil
	}

	var modelID string
	var dim int
	err := m.store.DB().QueryRowContext(ctx,
		`SELECT model_id, dim FROM vec_index_meta WHERE commessa_id = ?`, commessaID).
		Scan(&modelID, &dim)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("%w: lettura indice vettoriale: %v", model.ErrTransient, err)
	}

	h := &handle{commessaID: commessaID, modelID: modelID, dim: dim}
	if !m.store.HasVectorExt() {
		// Brute-force mode keeps vectors in memory; reload them.
		items, err := m.store.ListPriceListItems(ctx, nil, commessaID)
		if err != nil {
			return false, err
		}
		for _, it := range items {
			nlp := it.Metadata.NLP
			if nlp == nil || nlp.ModelID != modelID || len(nlp.Vector) != dim {
				continue
			}
			h.entries = append(h.entries, entry{itemID: it.ID, vector: nlp.Vector})
		}
	}
	m.handles[commessaID] = h
	return true, nil
}

// Exists reports whether an index was built for the commessa.
func (m *Manager) Exists(ctx context.Context, commessaID int64) bool {
	ok, err := m.Load(ctx, commessaID)
	return err == nil && ok
}

// Delete drops the index of a commessa. Safe to call when absent; the
// index is rebuildable from item metadata.
func (m *Manager) Delete(ctx context.Context, commessaID int64) error {
	m.mu.Lock()
	delete(m.handles, commessaID)
	m.mu.Unlock()

	if _, err := m.store.DB().ExecContext(ctx, "DROP TABLE IF EXISTS "+tableName(commessaID)); err != nil {
		return err
	}
	_, err := m.store.DB().ExecContext(ctx,
		`DELETE FROM vec_index_meta WHERE commessa_id = ?`, commessaID)
	return err
}

// Search returns the k nearest catalog items by cosine similarity.
// A query dimension different from the indexed one returns no hits
// with a warning: the caller must rebuild after a model change.
func (m *Manager) Search(ctx context.Context, commessaID int64, query []float32, k int) ([]Result, error) {
	if k <= 0 {
		k = 10
	}
	ok, err := m.Load(ctx, commessaID)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	m.mu.RLock()
	h := m.handles[commessaID]
	m.mu.RUnlock()

	if len(query) != h.dim {
		logging.Get(logging.CategoryVecIndex).Warnf(
			"query dimension %d != index dimension %d for commessa %d, rebuild required",
			len(query), h.dim, commessaID)
		return nil, nil
	}

	if m.store.HasVectorExt() {
		return m.searchVec(ctx, h, query, k)
	}
	return searchBrute(h, query, k), nil
}

// ModelID returns the model the commessa index was built with, or ""
// when no index exists.
func (m *Manager) ModelID(ctx context.Context, commessaID int64) string {
	if ok, err := m.Load(ctx, commessaID); err != nil || !ok {
		return ""
	}
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.handles[commessaID].modelID
}

func (m *Manager) searchVec(ctx context.Context, h *handle, query []float32, k int) ([]Result, error) {
	table := tableName(h.commessaID)
	rows, err := m.store.DB().QueryContext(ctx, fmt.Sprintf(`
		SELECT item_id, vec_distance_cosine(embedding, ?) AS distance
		FROM %s ORDER BY distance ASC LIMIT ?`, table),
		encodeFloat32Slice(query), k)
	if err != nil {
		return nil, fmt.Errorf("%w: ricerca vettoriale fallita: %v", model.ErrTransient, err)
	}
	defer rows.Close()

	var out []Result
	for rows.Next() {
		var r Result
		var distance float64
		if err := rows.Scan(&r.ItemID, &distance); err != nil {
			return nil, err
		}
		r.Score = 1 - distance
		out = append(out, r)
	}
	return out, rows.Err()
}

func searchBrute(h *handle, query []float32, k int) []Result {
	results := make([]Result, 0, len(h.entries))
	for _, e := range h.entries {
		score, err := embedding.Cosine(query, e.vector)
		if err != nil {
			continue
		}
		results = append(results, Result{ItemID: e.itemID, Score: score})
	}
	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].ItemID < results[j].ItemID
	})
	if len(results) > k {
		results = results[:k]
	}
	return results
}

func encodeFloat32Slice(vec []float32) []byte {
	buf := &bytes.Buffer{}
	if err := binary.Write(buf, binary.LittleEndian, vec); err != nil {
		return nil
	}
	return buf.Bytes()
}
