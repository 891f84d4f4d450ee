package align

import (
	"fmt"
	"math"
	"strings"

	"tendermatch/internal/model"
)

// ReconcileOutcome is what the importer persists on the return
// computo: the total to store, the free-text note and the structured
// report.
type ReconcileOutcome struct {
	TotalAmount *float64
	Note        string
	Report      *model.MatchingReport
}

// Reconcile closes an alignment run: totals are checked against the
// declared ones, warnings are folded into the note and the structured
// matching report is assembled.
func Reconcile(result *ReturnAlignmentResult, projectLines []model.VoceComputo, returnLines []model.ParsedVoce, declaredTotal, declaredQuantity *float64) *ReconcileOutcome {
	var warnings []string

	computed := 0.0
	for i := range result.AlignedLines {
		if a := result.AlignedLines[i].Amount; a != nil {
			computed += *a
		}
	}
	computed = round2(computed)

	total := computed
	if declaredTotal != nil {
		if math.Abs(*declaredTotal-computed) <= 0.01 {
			total = *declaredTotal
		} else {
			warnings = append(warnings, fmt.Sprintf(
				"totale dichiarato %.2f diverso dal totale calcolato %.2f; mantenuto il calcolato",
				*declaredTotal, computed))
		}
	}

	projectQty := 0.0
	for i := range projectLines {
		if q := projectLines[i].Quantity; q != nil {
			projectQty += *q
		}
	}
	var quantityTotals *model.QuantityTotal
	quantityTotalMismatch := false
	if declaredQuantity != nil {
		delta := *declaredQuantity - projectQty
		quantityTotals = &model.QuantityTotal{
			Progetto: round4(projectQty),
			Ritorno:  round4(*declaredQuantity),
			Delta:    round4(delta),
		}
		if math.Abs(delta) > quantityTolerance {
			quantityTotalMismatch = true
			warnings = append(warnings, fmt.Sprintf(
				"quantità totale del ritorno %.4f diversa dal progetto %.4f", *declaredQuantity, projectQty))
		}
	}

	warnings = append(warnings, noteWarnings(result)...)

	return &ReconcileOutcome{
		TotalAmount: &total,
		Note:        strings.Join(warnings, "\n"),
		Report:      buildReport(result, projectLines, returnLines, quantityTotals, quantityTotalMismatch),
	}
}

// noteWarnings renders every accumulated anomaly as a note line.
func noteWarnings(result *ReturnAlignmentResult) []string {
	var out []string

	if missing := result.MissingCount(); missing > 0 {
		out = append(out, fmt.Sprintf(
			"%d voci del computo metrico non sono state aggiornate dal ritorno", missing))
	}
	for _, adj := range result.PriceAdjustments {
		out = append(out, "prezzo corretto "+adj.String())
	}
	out = append(out, result.ProgressQuantityMismatches...)
	out = append(out, result.ProgressPriceConflicts...)
	out = append(out, result.DuplicateProgressivi...)
	for _, z := range result.ZeroGuardInputs {
		if !z.Violated() {
			continue
		}
		out = append(out, fmt.Sprintf(
			"voce a corpo %s valorizzata dal ritorno: Q=%s P=%s I=%s",
			z.Label, fmtPtr(z.Quantity), fmtPtr(z.UnitPrice), fmtPtr(z.Amount)))
	}
	if len(result.ReturnOnlyLabels) > 0 {
		out = append(out, fmt.Sprintf(
			"%d righe del ritorno non corrispondono ad alcuna voce di progetto (es. %s)",
			len(result.ReturnOnlyLabels), sample(result.ReturnOnlyLabels, 5)))
	}
	if len(result.ExcelOnlyGroups) > 0 {
		out = append(out, fmt.Sprintf(
			"gruppi presenti solo nel ritorno: %s", sample(result.ExcelOnlyGroups, 5)))
	}
	return out
}

func buildReport(result *ReturnAlignmentResult, projectLines []model.VoceComputo, returnLines []model.ParsedVoce, quantityTotals *model.QuantityTotal, mismatch bool) *model.MatchingReport {
	report := &model.MatchingReport{
		ExcelOnly:             result.ReturnOnlyLabels,
		ExcelOnlyGroups:       result.ExcelOnlyGroups,
		QuantityMismatches:    result.ProgressQuantityMismatches,
		QuantityTotals:        quantityTotals,
		QuantityTotalMismatch: mismatch,
	}

	pairByLine := map[int64]int{}
	for _, p := range result.LegacyPairs {
		pairByLine[p.ProjectLineID] = p.ReturnIndex
	}

	for i := range result.AlignedLines {
		aligned := &result.AlignedLines[i]
		var src *model.VoceComputo
		if i < len(projectLines) {
			src = &projectLines[i]
		}
		entry := model.MatchedLine{
			ProjectLabel: lineLabel(aligned.Code, aligned.Description, aligned.OrderIndex),
			Price:        aligned.UnitPrice,
		}
		if src != nil {
			entry.ProjectQuantity = src.Quantity
			if retIdx, ok := pairByLine[src.ID]; ok && retIdx < len(returnLines) {
				entry.ExcelLabel = parsedLabel(&returnLines[retIdx])
			}
		}
		if aligned.Metadata.MissingFromReturn {
			report.Missing = append(report.Missing, entry)
			continue
		}
		entry.ReturnQuantity = aligned.Quantity
		if entry.ProjectQuantity != nil && entry.ReturnQuantity != nil {
			delta := *entry.ReturnQuantity - *entry.ProjectQuantity
			entry.QuantityDelta = &delta
		}
		report.Matched = append(report.Matched, entry)
	}
	return report
}

func fmtPtr(v *float64) string {
	if v == nil {
		return "-"
	}
	return fmt.Sprintf("%.2f", *v)
}

func sample(items []string, n int) string {
	if len(items) < n {
		n = len(items)
	}
	return strings.Join(items[:n], "; ")
}
