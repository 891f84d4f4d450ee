package store

import (
	"context"
	"database/sql"
	"strconv"
	"strings"
)

// DatasetVersion composes the analysis cache version for a commessa:
// MAX(updated_at) of computi, MAX(id) of voci_computo, MAX(updated_at)
// of price_list_offers and of price_list_items, joined by "|". Missing
// values contribute the empty string, so an empty commessa still gets
// a stable version.
func (s *Store) DatasetVersion(ctx context.Context, commessaID int64) (string, error) {
	parts := make([]string, 0, 4)

	var ts sql.NullString
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM computi WHERE commessa_id = ?`, commessaID).Scan(&ts); err != nil {
		return "", err
	}
	parts = append(parts, nullString(ts))

	maxID, err := s.MaxVoceComputoID(ctx, commessaID)
	if err != nil {
		return "", err
	}
	if maxID.Valid {
		parts = append(parts, strconv.FormatInt(maxID.Int64, 10))
	} else {
		parts = append(parts, "")
	}

	ts = sql.NullString{}
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM price_list_offers WHERE commessa_id = ?`, commessaID).Scan(&ts); err != nil {
		return "", err
	}
	parts = append(parts, nullString(ts))

	ts = sql.NullString{}
	if err := s.db.QueryRowContext(ctx,
		`SELECT MAX(updated_at) FROM price_list_items WHERE commessa_id = ?`, commessaID).Scan(&ts); err != nil {
		return "", err
	}
	parts = append(parts, nullString(ts))

	return strings.Join(parts, "|"), nil
}

func nullString(v sql.NullString) string {
	if v.Valid {
		return v.String
	}
	return ""
}
