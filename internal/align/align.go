// Package align matches the live project estimate against a bidder
// return, line by line. Two strategies exist: progressive mode, driven
// by document line numbers and WBS keys, and description-only mode for
// returns that carry no progressivi. Both emit project-shaped lines so
// the return computo mirrors the estimate's structure.
package align

import (
	"fmt"
	"math"
	"regexp"
	"strings"

	"tendermatch/internal/logging"
	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
)

const (
	// Wrapper preference assignment.
	preferenceJaccard  = 0.15
	preferenceMinDelta = 0.01
	// Candidate acceptance inside a bucket.
	bucketJaccard = 0.05
	looseOverlap  = 0.30
	// Description-only fuzzy threshold.
	descriptionJaccard = 0.30
	// Price stabilization.
	stabilizeRatio    = 250.0
	stabilizeMagnitude = 1000.0
	stabilizeMaxSteps  = 4

	quantityTolerance = 1e-4
	priceTolerance    = 0.01
)

// zeroGuardCodePrefix marks coordination lines that must stay at zero.
const zeroGuardCodePrefix = "A004010"

var reMarkUpFee = regexp.MustCompile(`(?i)mark.?up fee`)

// LegacyPair links a project line id to the return row that priced it.
type LegacyPair struct {
	ProjectLineID int64
	ReturnIndex   int
}

// ZeroGuardInput records the return values that landed on a guarded
// line, checked in a post-pass.
type ZeroGuardInput struct {
	Label     string
	Quantity  *float64
	UnitPrice *float64
	Amount    *float64
}

// Violated reports whether any recorded value is non-zero.
func (z *ZeroGuardInput) Violated() bool {
	nonZero := func(v *float64) bool { return v != nil && math.Abs(*v) > 1e-9 }
	return nonZero(z.Quantity) || nonZero(z.UnitPrice) || nonZero(z.Amount)
}

// PriceAdjustment records one stabilization, original → corrected.
type PriceAdjustment struct {
	Label    string
	Original float64
	Adjusted float64
}

func (p PriceAdjustment) String() string {
	return fmt.Sprintf("%s: %.2f -> %.2f", p.Label, p.Original, p.Adjusted)
}

// ReturnAlignmentResult is the full outcome of one alignment run.
type ReturnAlignmentResult struct {
	AlignedLines []model.VoceComputo
	LegacyPairs  []LegacyPair
	MatchedCount int

	PriceAdjustments           []PriceAdjustment
	ZeroGuardInputs            []ZeroGuardInput
	ReturnOnlyLabels           []string
	ProgressQuantityMismatches []string
	ProgressPriceConflicts     []string
	DuplicateProgressivi       []string
	ExcelOnlyGroups            []string
}

// MissingCount counts aligned lines the return never priced.
func (r *ReturnAlignmentResult) MissingCount() int {
	n := 0
	for i := range r.AlignedLines {
		if r.AlignedLines[i].Metadata.MissingFromReturn {
			n++
		}
	}
	return n
}

// AlignReturnRows is the engine entry point. preferProgressives selects
// progressive mode when the return actually carries progressivi;
// descriptionPriceMap optionally supplies catalog prices keyed by
// description signature, applied to lines the return left unpriced.
func AlignReturnRows(projectLines []model.VoceComputo, returnLines []model.ParsedVoce, preferProgressives bool, descriptionPriceMap map[string]float64) *ReturnAlignmentResult {
	timer := logging.StartTimer(logging.CategoryAlign, "AlignReturnRows")
	defer timer.Stop()

	hasProgressivi := false
	for i := range returnLines {
		if returnLines[i].Progressivo != nil {
			hasProgressivi = true
			break
		}
	}

	var result *ReturnAlignmentResult
	if preferProgressives && hasProgressivi {
		result = alignProgressive(projectLines, returnLines)
	} else {
		result = alignByDescription(projectLines, returnLines)
	}

	applyDescriptionPrices(result, descriptionPriceMap)

	logging.Align("aligned %d/%d project lines (%d return rows)",
		result.MatchedCount, len(projectLines), len(returnLines))
	return result
}

// applyDescriptionPrices fills prices from the catalog map on lines
// the return left unpriced. Quantities stay untouched.
func applyDescriptionPrices(result *ReturnAlignmentResult, prices map[string]float64) {
	if len(prices) == 0 {
		return
	}
	for i := range result.AlignedLines {
		line := &result.AlignedLines[i]
		if line.UnitPrice != nil || line.Metadata.LockReturnPrice {
			continue
		}
		sig := normalize.DescriptionSignature(line.Description, line.UOM, line.WBS6().Code)
		price, ok := prices[sig]
		if !ok {
			continue
		}
		line.UnitPrice = &price
		recomputeAmount(line)
	}
}

// StabilizeReturnPrice corrects thousand-fold magnitude errors in
// return prices (a common unit slip in exported sheets). The price is
// divided by 1000 up to four times while its magnitude is at least
// 1000 and its ratio to the project reference exceeds 250; with no
// usable reference the price passes through untouched.
func StabilizeReturnPrice(price float64, reference *float64) (float64, bool) {
	if reference == nil || *reference == 0 || math.Abs(*reference) < 1 {
		return price, false
	}
	ref := math.Abs(*reference)
	adjusted := price
	steps := 0
	for steps < stabilizeMaxSteps &&
		math.Abs(adjusted) >= stabilizeMagnitude &&
		math.Abs(adjusted)/ref > stabilizeRatio {
		adjusted /= 1000
		steps++
	}
	return adjusted, steps > 0
}

// isZeroGuarded reports whether a project line is a coordination line
// that must carry zero quantities and prices.
func isZeroGuarded(line *model.VoceComputo) bool {
	if strings.HasPrefix(normalize.NormalizeCodeToken(line.Code), zeroGuardCodePrefix) {
		return true
	}
	return reMarkUpFee.MatchString(line.Description)
}

// lineLabel names a line for reports and warnings.
func lineLabel(code, description string, orderIndex int) string {
	if code != "" {
		return code
	}
	if description != "" {
		if len(description) > 80 {
			return description[:80]
		}
		return description
	}
	return fmt.Sprintf("riga %d", orderIndex+1)
}

func projectLabel(line *model.VoceComputo) string {
	return lineLabel(line.Code, line.Description, line.OrderIndex)
}

func parsedLabel(entry *model.ParsedVoce) string {
	return lineLabel(entry.Code, entry.Description, entry.OrderIndex)
}

// markMissing shapes an aligned line for a project line the return
// never priced.
func markMissing(line *model.VoceComputo) {
	zero := 0.0
	q, a := zero, zero
	line.Quantity = &q
	line.Amount = &a
	line.Metadata.MissingFromReturn = true
}

// recomputeAmount refreshes amount as round(price × qty, 2) when both
// are known.
func recomputeAmount(line *model.VoceComputo) {
	if line.UnitPrice == nil || line.Quantity == nil {
		return
	}
	amount := round2(*line.UnitPrice * *line.Quantity)
	line.Amount = &amount
}

func round2(v float64) float64 {
	return math.Round(v*100) / 100
}

func round4(v float64) float64 {
	return math.Round(v*10000) / 10000
}
