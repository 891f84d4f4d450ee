package model

import "fmt"

// ParsedVoce is one line emitted by the external file parser (Excel or
// SIX/XML). The raw parsing lives outside the core; the core only
// checks the contract: at least one of code / description / progressivo
// must be present.
type ParsedVoce struct {
	OrderIndex  int
	Progressivo *int
	Code        string
	Description string
	WBSLevels   []ParsedWBSLevel
	UOM         string
	Quantity    *float64
	UnitPrice   *float64
	Amount      *float64
	Note        string
	Metadata    VoceMetadata
}

// ParsedWBSLevel is one WBS assignment on a parsed line, level 1..7.
type ParsedWBSLevel struct {
	Level       int
	Code        string
	Description string
}

// ParsedComputo is the parser output for a whole sheet.
type ParsedComputo struct {
	Lines         []ParsedVoce
	TotalAmount   *float64
	TotalQuantity *float64
	SourceFile    string
	ContentHash   string
}

// WBSLevelOf returns the code/description pair for the given level,
// or an empty level when the line does not carry it.
func (p *ParsedVoce) WBSLevelOf(level int) WBSLevel {
	for _, l := range p.WBSLevels {
		if l.Level == level {
			return WBSLevel{Code: l.Code, Description: l.Description}
		}
	}
	return WBSLevel{}
}

// Validate enforces the parser contract on a single line.
func (p *ParsedVoce) Validate() error {
	if p.Code == "" && p.Description == "" && p.Progressivo == nil {
		return fmt.Errorf("%w: riga %d senza codice, descrizione o progressivo",
			ErrInvalidInput, p.OrderIndex)
	}
	for _, l := range p.WBSLevels {
		if l.Level < 1 || l.Level > 7 {
			return fmt.Errorf("%w: livello WBS %d non valido (riga %d)",
				ErrInvalidInput, l.Level, p.OrderIndex)
		}
	}
	return nil
}

// Validate checks the whole parsed document.
func (p *ParsedComputo) Validate() error {
	if len(p.Lines) == 0 {
		return fmt.Errorf("%w: il file non contiene righe interpretabili", ErrInvalidInput)
	}
	for i := range p.Lines {
		if err := p.Lines[i].Validate(); err != nil {
			return err
		}
	}
	return nil
}
