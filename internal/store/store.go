// Package store persists every aggregate of the reconciliation engine
// in SQLite: commesse, computi and their lines, the normalized voce
// layer, the price-list catalog with offers, bidders and settings.
// One writer at a time (MaxOpenConns=1), WAL journal.
package store

import (
	"context"
	"database/sql"
	"fmt"
	"os"
	"path/filepath"
	"sync"

	_ "github.com/mattn/go-sqlite3"

	"tendermatch/internal/logging"
)

// Store wraps the SQLite database.
type Store struct {
	db        *sql.DB
	mu        sync.RWMutex
	dbPath    string
	vectorExt bool // sqlite-vec available
}

// New opens (or creates) the database at path and runs migrations.
// Use ":memory:" in tests.
func New(path string) (*Store, error) {
	timer := logging.StartTimer(logging.CategoryStore, "store.New")
	defer timer.Stop()

	logging.Store("opening database at %s", path)

	if path != ":memory:" {
		if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
			return nil, fmt.Errorf("failed to create directory: %w", err)
		}
	}

	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)
	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		logging.StoreDebug("failed to set busy_timeout: %v", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		logging.StoreDebug("failed to set journal_mode=WAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA synchronous = NORMAL"); err != nil {
		logging.StoreDebug("failed to set synchronous=NORMAL: %v", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		logging.StoreDebug("failed to enable foreign_keys: %v", err)
	}

	s := &Store{db: db, dbPath: path}
	if err := s.migrate(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	s.detectVecExtension()
	if s.vectorExt {
		logging.Store("sqlite-vec extension detected, ANN search enabled")
	} else {
		logging.Get(logging.CategoryStore).Warnf("sqlite-vec extension not available, falling back to brute-force cosine")
	}
	return s, nil
}

// DB exposes the underlying handle for collaborators that run their
// own statements (vector index, bundle export).
func (s *Store) DB() *sql.DB { return s.db }

// HasVectorExt reports whether vec0 virtual tables are available.
func (s *Store) HasVectorExt() bool { return s.vectorExt }

// Close shuts the database down.
func (s *Store) Close() error { return s.db.Close() }

// WithTx runs fn inside a transaction, rolling back on error. Every
// import uses this: all lines of the target computo are deleted and
// reinserted atomically.
func (s *Store) WithTx(ctx context.Context, fn func(tx *sql.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin transaction: %w", err)
	}
	if err := fn(tx); err != nil {
		_ = tx.Rollback()
		return err
	}
	return tx.Commit()
}

// detectVecExtension probes for the vec0 virtual table module.
func (s *Store) detectVecExtension() {
	if _, err := s.db.Exec("CREATE VIRTUAL TABLE IF NOT EXISTS vec_probe USING vec0(embedding float[4])"); err == nil {
		_, _ = s.db.Exec("DROP TABLE IF EXISTS vec_probe")
		s.vectorExt = true
	}
}

func (s *Store) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS commesse (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		code TEXT NOT NULL UNIQUE,
		name TEXT NOT NULL DEFAULT '',
		business_unit TEXT NOT NULL DEFAULT '',
		created_at DATETIME DEFAULT CURRENT_TIMESTAMP,
		updated_at DATETIME DEFAULT CURRENT_TIMESTAMP
	);

	CREATE TABLE IF NOT EXISTS imprese (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		label TEXT NOT NULL,
		normalized_label TEXT NOT NULL UNIQUE
	);

	CREATE TABLE IF NOT EXISTS settings (
		id INTEGER PRIMARY KEY CHECK (id = 1),
		criticita_media_percent REAL NOT NULL DEFAULT 25,
		criticita_alta_percent REAL NOT NULL DEFAULT 50,
		nlp_model_id TEXT NOT NULL DEFAULT '',
		nlp_max_length INTEGER NOT NULL DEFAULT 256,
		nlp_batch_size INTEGER NOT NULL DEFAULT 32
	);

	-- updated_at columns use millisecond precision: the analysis cache
	-- version is built from MAX(updated_at) scans and must move on
	-- updates landing within the same second.
	CREATE TABLE IF NOT EXISTS computi (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		commessa_id INTEGER NOT NULL REFERENCES commesse(id) ON DELETE CASCADE,
		type TEXT NOT NULL CHECK (type IN ('project','return')),
		bidder TEXT NOT NULL DEFAULT '',
		round_number INTEGER NOT NULL DEFAULT 0,
		file_ref TEXT NOT NULL DEFAULT '',
		total_amount REAL,
		note TEXT NOT NULL DEFAULT '',
		matching_report TEXT,
		created_at DATETIME DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
		updated_at DATETIME DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now'))
	);
	CREATE INDEX IF NOT EXISTS idx_computi_commessa ON computi(commessa_id, type);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_computi_round
		ON computi(commessa_id, bidder, round_number) WHERE type = 'return';

	CREATE TABLE IF NOT EXISTS voci_computo (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		computo_id INTEGER NOT NULL REFERENCES computi(id) ON DELETE CASCADE,
		commessa_id INTEGER NOT NULL REFERENCES commesse(id) ON DELETE CASCADE,
		order_index INTEGER NOT NULL,
		progressivo INTEGER,
		code TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		uom TEXT NOT NULL DEFAULT '',
		quantity REAL,
		unit_price REAL,
		amount REAL,
		note TEXT NOT NULL DEFAULT '',
		wbs1_code TEXT NOT NULL DEFAULT '', wbs1_description TEXT NOT NULL DEFAULT '',
		wbs2_code TEXT NOT NULL DEFAULT '', wbs2_description TEXT NOT NULL DEFAULT '',
		wbs3_code TEXT NOT NULL DEFAULT '', wbs3_description TEXT NOT NULL DEFAULT '',
		wbs4_code TEXT NOT NULL DEFAULT '', wbs4_description TEXT NOT NULL DEFAULT '',
		wbs5_code TEXT NOT NULL DEFAULT '', wbs5_description TEXT NOT NULL DEFAULT '',
		wbs6_code TEXT NOT NULL DEFAULT '', wbs6_description TEXT NOT NULL DEFAULT '',
		wbs7_code TEXT NOT NULL DEFAULT '', wbs7_description TEXT NOT NULL DEFAULT '',
		extra_metadata TEXT
	);
	CREATE INDEX IF NOT EXISTS idx_voci_computo_computo ON voci_computo(computo_id, order_index);
	CREATE INDEX IF NOT EXISTS idx_voci_computo_commessa ON voci_computo(commessa_id);

	CREATE TABLE IF NOT EXISTS wbs6 (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		commessa_id INTEGER NOT NULL REFERENCES commesse(id) ON DELETE CASCADE,
		code TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		UNIQUE(commessa_id, code, description)
	);

	CREATE TABLE IF NOT EXISTS wbs7 (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		wbs6_id INTEGER NOT NULL REFERENCES wbs6(id) ON DELETE CASCADE,
		code TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		UNIQUE(wbs6_id, code, description)
	);

	CREATE TABLE IF NOT EXISTS voci (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		commessa_id INTEGER NOT NULL REFERENCES commesse(id) ON DELETE CASCADE,
		wbs6_id INTEGER NOT NULL REFERENCES wbs6(id),
		wbs7_id INTEGER REFERENCES wbs7(id),
		code TEXT NOT NULL DEFAULT '',
		description TEXT NOT NULL DEFAULT '',
		uom TEXT NOT NULL DEFAULT '',
		order_index INTEGER NOT NULL DEFAULT 0,
		legacy_vocecomputo_id INTEGER,
		price_list_item_id INTEGER REFERENCES price_list_items(id)
	);
	CREATE INDEX IF NOT EXISTS idx_voci_commessa ON voci(commessa_id);
	CREATE INDEX IF NOT EXISTS idx_voci_legacy ON voci(legacy_vocecomputo_id);

	CREATE TABLE IF NOT EXISTS voci_progetto (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		voce_id INTEGER NOT NULL REFERENCES voci(id) ON DELETE CASCADE,
		computo_id INTEGER NOT NULL REFERENCES computi(id) ON DELETE CASCADE,
		quantity REAL,
		unit_price REAL,
		amount REAL,
		note TEXT NOT NULL DEFAULT '',
		UNIQUE(voce_id, computo_id)
	);

	CREATE TABLE IF NOT EXISTS voci_offerta (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		voce_id INTEGER NOT NULL REFERENCES voci(id) ON DELETE CASCADE,
		computo_id INTEGER NOT NULL REFERENCES computi(id) ON DELETE CASCADE,
		impresa_id INTEGER NOT NULL REFERENCES imprese(id),
		round_number INTEGER NOT NULL DEFAULT 0,
		quantity REAL,
		unit_price REAL,
		amount REAL,
		note TEXT NOT NULL DEFAULT '',
		UNIQUE(voce_id, computo_id)
	);

	CREATE TABLE IF NOT EXISTS price_list_items (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		commessa_id INTEGER NOT NULL REFERENCES commesse(id) ON DELETE CASCADE,
		product_id TEXT NOT NULL DEFAULT '',
		item_code TEXT NOT NULL DEFAULT '',
		item_description TEXT NOT NULL DEFAULT '',
		unit_id INTEGER,
		unit_label TEXT NOT NULL DEFAULT '',
		wbs6_code TEXT NOT NULL DEFAULT '', wbs6_description TEXT NOT NULL DEFAULT '',
		wbs7_code TEXT NOT NULL DEFAULT '', wbs7_description TEXT NOT NULL DEFAULT '',
		price_lists TEXT,
		extra_metadata TEXT,
		source_file TEXT NOT NULL DEFAULT '',
		preventivo_id INTEGER,
		created_at DATETIME DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
		updated_at DATETIME DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now'))
	);
	CREATE INDEX IF NOT EXISTS idx_pli_commessa ON price_list_items(commessa_id);
	CREATE UNIQUE INDEX IF NOT EXISTS idx_pli_product
		ON price_list_items(commessa_id, product_id) WHERE product_id != '';

	CREATE TABLE IF NOT EXISTS price_list_offers (
		id INTEGER PRIMARY KEY AUTOINCREMENT,
		price_list_item_id INTEGER NOT NULL REFERENCES price_list_items(id) ON DELETE CASCADE,
		commessa_id INTEGER NOT NULL REFERENCES commesse(id) ON DELETE CASCADE,
		computo_id INTEGER NOT NULL REFERENCES computi(id) ON DELETE CASCADE,
		impresa_id INTEGER REFERENCES imprese(id),
		impresa_label TEXT NOT NULL DEFAULT '',
		round_number INTEGER NOT NULL DEFAULT 0,
		unit_price REAL NOT NULL,
		quantity REAL,
		created_at DATETIME DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
		updated_at DATETIME DEFAULT (strftime('%Y-%m-%d %H:%M:%f','now')),
		UNIQUE(computo_id, price_list_item_id)
	);
	CREATE INDEX IF NOT EXISTS idx_plo_item ON price_list_offers(price_list_item_id);
	CREATE INDEX IF NOT EXISTS idx_plo_commessa ON price_list_offers(commessa_id);
	`
	_, err := s.db.Exec(schema)
	return err
}
