package align

import (
	"sort"

	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
)

// descEntry is one return row queued under its description signature.
type descEntry struct {
	idx    int
	entry  *model.ParsedVoce
	used   bool
	tokens map[string]struct{}
}

// alignByDescription aligns returns that carry no progressivi: rows
// queue FIFO under their normalized description signature, project
// lines drain the queues in (code, order_index) order, and leftovers
// get one fuzzy Jaccard pass.
func alignByDescription(projectLines []model.VoceComputo, returnLines []model.ParsedVoce) *ReturnAlignmentResult {
	result := &ReturnAlignmentResult{}

	queues := map[string][]*descEntry{}
	entries := make([]*descEntry, 0, len(returnLines))
	for i := range returnLines {
		e := &descEntry{
			idx:    i,
			entry:  &returnLines[i],
			tokens: normalize.DescrTokens(returnLines[i].Description),
		}
		entries = append(entries, e)
		sig := normalize.DescriptionSignature(returnLines[i].Description, returnLines[i].UOM, "")
		if sig != "" {
			queues[sig] = append(queues[sig], e)
		}
	}

	// Project lines drain each signature queue in a stable order.
	order := make([]int, len(projectLines))
	for i := range order {
		order[i] = i
	}
	sort.SliceStable(order, func(a, b int) bool {
		la, lb := &projectLines[order[a]], &projectLines[order[b]]
		if la.Code != lb.Code {
			return la.Code < lb.Code
		}
		return la.OrderIndex < lb.OrderIndex
	})

	assigned := make([]*descEntry, len(projectLines))
	for _, i := range order {
		line := &projectLines[i]
		sig := normalize.DescriptionSignature(line.Description, line.UOM, line.WBS6().Code)
		queue := queues[sig]
		for len(queue) > 0 && queue[0].used {
			queue = queue[1:]
		}
		if len(queue) > 0 {
			e := queue[0]
			e.used = true
			queues[sig] = queue[1:]
			assigned[i] = e
		}
	}

	// Fuzzy pass for project lines still unmatched.
	for _, i := range order {
		if assigned[i] != nil {
			continue
		}
		projTokens := normalize.DescrTokens(projectLines[i].Description)
		if len(projTokens) == 0 {
			continue
		}
		var best *descEntry
		bestScore := descriptionJaccard
		for _, e := range entries {
			if e.used {
				continue
			}
			score := normalize.Jaccard(projTokens, e.tokens)
			if score > bestScore || (score == bestScore && best != nil && e.idx < best.idx) {
				best, bestScore = e, score
			}
		}
		if best != nil {
			best.used = true
			assigned[i] = best
		}
	}

	// Emit aligned lines in project order.
	for i := range projectLines {
		src := &projectLines[i]
		aligned := *src
		aligned.ID = 0
		aligned.ComputoID = 0
		aligned.Metadata.MissingFromReturn = false

		e := assigned[i]
		if e == nil {
			markMissing(&aligned)
			result.AlignedLines = append(result.AlignedLines, aligned)
			continue
		}

		if e.entry.UnitPrice != nil {
			price := *e.entry.UnitPrice
			stabilized, changed := StabilizeReturnPrice(price, src.UnitPrice)
			if changed {
				result.PriceAdjustments = append(result.PriceAdjustments, PriceAdjustment{
					Label:    projectLabel(src),
					Original: price,
					Adjusted: stabilized,
				})
			}
			aligned.UnitPrice = &stabilized
		}
		if e.entry.Quantity != nil {
			qty := *e.entry.Quantity
			aligned.Quantity = &qty
		}
		recomputeAmount(&aligned)
		if aligned.Amount == nil && e.entry.Amount != nil {
			amount := *e.entry.Amount
			aligned.Amount = &amount
		}

		if isZeroGuarded(src) {
			result.ZeroGuardInputs = append(result.ZeroGuardInputs, ZeroGuardInput{
				Label:     projectLabel(src),
				Quantity:  aligned.Quantity,
				UnitPrice: aligned.UnitPrice,
				Amount:    aligned.Amount,
			})
		}

		result.MatchedCount++
		result.LegacyPairs = append(result.LegacyPairs, LegacyPair{
			ProjectLineID: src.ID,
			ReturnIndex:   e.idx,
		})
		result.AlignedLines = append(result.AlignedLines, aligned)
	}

	var wrappers []*wrapper
	for _, e := range entries {
		wrappers = append(wrappers, &wrapper{idx: e.idx, entry: e.entry, used: e.used})
	}
	collectReturnOnly(wrappers, result)
	return result
}
