// Package model defines the persistent entities of the tender
// reconciliation engine. Everything is owned by a Commessa, the
// top-level work contract.
package model

import "time"

// ComputoType discriminates project estimates from bidder returns.
type ComputoType string

const (
	ComputoProgetto ComputoType = "project"
	ComputoRitorno  ComputoType = "return"
)

// RoundMode controls how a return import is assigned to a bidding round.
type RoundMode string

const (
	RoundModeNew     RoundMode = "new"
	RoundModeAuto    RoundMode = "auto"
	RoundModeReplace RoundMode = "replace"
)

// Commessa is the root aggregate: one construction work contract.
type Commessa struct {
	ID           int64
	Code         string
	Name         string
	BusinessUnit string
	CreatedAt    time.Time
	UpdatedAt    time.Time
}

// Computo is a line-item document, either the project estimate (MC)
// or a bidder return. Exactly one project computo per commessa is
// live: the most recently created one.
type Computo struct {
	ID             int64
	CommessaID     int64
	Type           ComputoType
	Bidder         string // empty for project computi
	RoundNumber    int    // 0 for project computi
	FileRef        string
	TotalAmount    *float64
	Note           string
	MatchingReport *MatchingReport
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// VoceComputo is the flat legacy row: one line of a computo, wiped and
// reinserted wholesale whenever its computo is rebuilt.
type VoceComputo struct {
	ID          int64
	ComputoID   int64
	CommessaID  int64
	OrderIndex  int
	Progressivo *int
	Code        string
	Description string
	UOM         string
	Quantity    *float64
	UnitPrice   *float64
	Amount      *float64
	Note        string
	WBS         [7]WBSLevel // levels 1..7, zero value when absent
	Metadata    VoceMetadata
}

// WBSLevel is one level of the work breakdown structure.
type WBSLevel struct {
	Code        string
	Description string
}

// WBS6 and WBS7 accessors; level 6 is the merceological category and
// level 7 the optional EPU grouping.
func (v *VoceComputo) WBS6() WBSLevel { return v.WBS[5] }
func (v *VoceComputo) WBS7() WBSLevel { return v.WBS[6] }

// Voce is the normalized line item. It coexists with VoceComputo so
// WBS joins stay sane; the legacy link is 1:1 when possible.
type Voce struct {
	ID                  int64
	CommessaID          int64
	WBS6ID              int64
	WBS7ID              *int64
	Code                string
	Description         string
	UOM                 string
	OrderIndex          int
	LegacyVoceComputoID *int64
	PriceListItemID     *int64
}

// VoceProgetto carries the project-side facts of a voce, one per
// (voce, project computo).
type VoceProgetto struct {
	ID        int64
	VoceID    int64
	ComputoID int64
	Quantity  *float64
	UnitPrice *float64
	Amount    *float64
	Note      string
}

// VoceOfferta carries the return-side facts of a voce, one per
// (voce, return computo), tagged with bidder and round.
type VoceOfferta struct {
	ID          int64
	VoceID      int64
	ComputoID   int64
	ImpresaID   int64
	RoundNumber int
	Quantity    *float64
	UnitPrice   *float64
	Amount      *float64
	Note        string
}

// PriceListItem is a catalog line: the canonical identity of a
// priceable good or service within a commessa. Identity is
// (commessa_id, product_id) when product_id is set, else the
// normalized code plus description signature.
type PriceListItem struct {
	ID              int64
	CommessaID      int64
	ProductID       string
	ItemCode        string
	ItemDescription string
	UnitID          *int64
	UnitLabel       string
	WBS6Code        string
	WBS6Description string
	WBS7Code        string
	WBS7Description string
	PriceLists      map[string]float64
	Metadata        ItemMetadata
	SourceFile      string
	PreventivoID    *int64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// PriceListOffer is one bidder price for a catalog line in one return:
// unique per (computo_id, price_list_item_id).
type PriceListOffer struct {
	ID              int64
	PriceListItemID int64
	CommessaID      int64
	ComputoID       int64
	ImpresaID       *int64
	ImpresaLabel    string
	RoundNumber     int
	UnitPrice       float64
	Quantity        *float64
	CreatedAt       time.Time
	UpdatedAt       time.Time
}

// Impresa is a bidder. NormalizedLabel is the identity: lowercased,
// whitespace-collapsed, trailing "(N)" stripped.
type Impresa struct {
	ID              int64
	Label           string
	NormalizedLabel string
}

// Settings is the singleton configuration row.
type Settings struct {
	CriticitaMediaPercent float64
	CriticitaAltaPercent  float64
	NLPModelID            string
	NLPMaxLength          int
	NLPBatchSize          int
}

// DefaultSettings returns the stock thresholds and NLP configuration.
func DefaultSettings() Settings {
	return Settings{
		CriticitaMediaPercent: 25,
		CriticitaAltaPercent:  50,
		NLPModelID:            "paraphrase-multilingual-mpnet-base-v2",
		NLPMaxLength:          256,
		NLPBatchSize:          32,
	}
}
