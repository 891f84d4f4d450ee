package importer

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"tendermatch/internal/model"
)

func TestColumnIndex(t *testing.T) {
	tests := []struct {
		letter  string
		want    int
		wantErr bool
	}{
		{letter: "A", want: 0},
		{letter: "z", want: 25},
		{letter: "AA", want: 26},
		{letter: "az", want: 51},
		{letter: " B ", want: 1},
		{letter: "", wantErr: true},
		{letter: "AAA", wantErr: true},
		{letter: "A1", wantErr: true},
		{letter: "é", wantErr: true},
	}
	for _, tt := range tests {
		t.Run(tt.letter, func(t *testing.T) {
			got, err := ColumnIndex(tt.letter)
			if tt.wantErr {
				require.ErrorIs(t, err, model.ErrInvalidInput)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestColumnLetter(t *testing.T) {
	assert.Equal(t, "A", ColumnLetter(0))
	assert.Equal(t, "Z", ColumnLetter(25))
	assert.Equal(t, "AA", ColumnLetter(26))
	assert.Equal(t, "AZ", ColumnLetter(51))
	assert.Equal(t, "", ColumnLetter(-1))
}

func TestColumnLetterRoundTrip(t *testing.T) {
	for i := 0; i < 26*27; i++ {
		got, err := ColumnIndex(ColumnLetter(i))
		require.NoError(t, err)
		assert.Equal(t, i, got)
	}
}

func TestResolveColumn(t *testing.T) {
	headers := []string{"Codice", "Descrizione", "Prezzo Unitario (€)", "Quantità"}

	// Letters always win.
	idx, err := ResolveColumn("C", headers)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	// Exact normalized header match.
	idx, err = ResolveColumn("  quantita ", headers)
	require.NoError(t, err)
	assert.Equal(t, 3, idx)

	// Containment pass catches headers with extra decoration.
	idx, err = ResolveColumn("prezzo unitario", headers)
	require.NoError(t, err)
	assert.Equal(t, 2, idx)

	_, err = ResolveColumn("sconto", headers)
	assert.ErrorIs(t, err, model.ErrInvalidInput)

	_, err = ResolveColumn("   ", headers)
	assert.ErrorIs(t, err, model.ErrInvalidInput)
}
