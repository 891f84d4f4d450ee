package importer

import (
	"fmt"
	"strings"

	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
)

// Column selection for return sheets: the price (and optionally
// quantity) column is named either by letter, A..Z then AA..ZZ, or by
// header label matched after normalization.

// ColumnIndex converts a spreadsheet column letter to a zero-based
// index. Accepts one or two letters, case-insensitive.
func ColumnIndex(letter string) (int, error) {
	s := strings.ToUpper(strings.TrimSpace(letter))
	if s == "" || len(s) > 2 {
		return 0, fmt.Errorf("%w: colonna %q non valida", model.ErrInvalidInput, letter)
	}
	idx := 0
	for _, r := range s {
		if r < 'A' || r > 'Z' {
			return 0, fmt.Errorf("%w: colonna %q non valida", model.ErrInvalidInput, letter)
		}
		idx = idx*26 + int(r-'A') + 1
	}
	return idx - 1, nil
}

// ColumnLetter is the inverse of ColumnIndex.
func ColumnLetter(index int) string {
	if index < 0 {
		return ""
	}
	n := index + 1
	out := ""
	for n > 0 {
		n--
		out = string(rune('A'+n%26)) + out
		n /= 26
	}
	return out
}

// ResolveColumn locates a column by letter or by header label. A one
// or two letter selector is read as a column letter; anything else is
// matched against the normalized headers.
func ResolveColumn(spec string, headers []string) (int, error) {
	if idx, err := ColumnIndex(spec); err == nil {
		return idx, nil
	}
	want := normalize.NormalizeDescriptionToken(spec)
	if want == "" {
		return 0, fmt.Errorf("%w: selettore di colonna vuoto", model.ErrInvalidInput)
	}
	for i, h := range headers {
		if normalize.NormalizeDescriptionToken(h) == want {
			return i, nil
		}
	}
	// Second pass: containment, for headers carrying units or notes.
	for i, h := range headers {
		if strings.Contains(normalize.NormalizeDescriptionToken(h), want) {
			return i, nil
		}
	}
	return 0, fmt.Errorf("%w: colonna %q non trovata tra le intestazioni", model.ErrInvalidInput, spec)
}
