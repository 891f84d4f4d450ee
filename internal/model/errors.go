package model

import "errors"

// Error kinds. Callers classify with errors.Is; the transport layer
// maps them to status codes. User-facing messages wrapped around these
// are Italian, log context stays English.
var (
	// ErrInvalidInput: unknown sheet, missing required column, empty
	// file, malformed WBS code, duplicate progressivo in one return.
	ErrInvalidInput = errors.New("input non valido")

	// ErrNotFound: commessa/computo/price-list-item id absent, or a row
	// referenced across the wrong commessa.
	ErrNotFound = errors.New("elemento non trovato")

	// ErrConflict: second return for an existing (bidder, round) without
	// round_mode=replace; bundle import over an existing commessa code
	// without overwrite.
	ErrConflict = errors.New("conflitto")

	// ErrPrecondition: return import without a live project computo;
	// search before any catalog item carries a compatible embedding.
	ErrPrecondition = errors.New("precondizione non soddisfatta")

	// ErrTransient: vector index load failed, embedder timeout, DB
	// deadlock. The caller may retry.
	ErrTransient = errors.New("errore temporaneo")
)
