package align

import (
	"fmt"
	"sort"

	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
)

// wrapper is one return row inside the candidate index.
type wrapper struct {
	idx    int
	entry  *model.ParsedVoce
	used   bool
	tokens map[string]struct{}
}

// returnIndex buckets return rows under progressively weaker keys.
// Identity buckets (progressivo, code) accept rows without description
// tokens; the weaker buckets demand token overlap.
type returnIndex struct {
	buckets  map[string][]*wrapper
	wrappers []*wrapper
	// base WBS key → preferred wrapper index, used to break near-ties.
	preferences map[string]int
	duplicates  []string
}

const (
	keyProg = "prog:"
	keyWBS  = "wbs:"
	keyCode = "code:"
	keyDesc = "desc:"
	keyWord = "word:"
)

func buildReturnIndex(returnLines []model.ParsedVoce, projectLines []model.VoceComputo) *returnIndex {
	idx := &returnIndex{
		buckets:     map[string][]*wrapper{},
		preferences: map[string]int{},
	}

	progSeen := map[int]int{}
	for i := range returnLines {
		entry := &returnLines[i]
		w := &wrapper{idx: i, entry: entry, tokens: normalize.DescrTokens(entry.Description)}
		idx.wrappers = append(idx.wrappers, w)

		if entry.Progressivo != nil {
			p := *entry.Progressivo
			progSeen[p]++
			if progSeen[p] == 2 {
				idx.duplicates = append(idx.duplicates,
					fmt.Sprintf("progressivo %d duplicato nel ritorno", p))
			}
			idx.put(fmt.Sprintf("%s%d", keyProg, p), w)
		}
		if base := normalize.WBSBaseKeyFromParsed(entry); base != "" {
			idx.put(keyWBS+base, w)
		}
		if code := normalize.NormalizeCodeToken(entry.Code); code != "" {
			idx.put(keyCode+code, w)
		}
		if desc := normalize.NormalizeDescriptionToken(entry.Description); desc != "" {
			idx.put(keyDesc+desc, w)
		}
		for tok := range w.tokens {
			idx.put(keyWord+tok, w)
		}
	}

	idx.assignPreferences(projectLines)
	return idx
}

func (idx *returnIndex) put(key string, w *wrapper) {
	idx.buckets[key] = append(idx.buckets[key], w)
}

// assignPreferences picks, per project base WBS key, the return row
// whose tokens best overlap the project lines under that key. The
// winner must clear the preference threshold and beat the runner-up by
// the minimum delta; near-ties assign nothing.
func (idx *returnIndex) assignPreferences(projectLines []model.VoceComputo) {
	baseTokens := map[string]map[string]struct{}{}
	for i := range projectLines {
		base := normalize.WBSBaseKeyFromModel(&projectLines[i])
		if base == "" {
			continue
		}
		if baseTokens[base] == nil {
			baseTokens[base] = map[string]struct{}{}
		}
		for tok := range normalize.DescrTokens(projectLines[i].Description) {
			baseTokens[base][tok] = struct{}{}
		}
	}

	for base, tokens := range baseTokens {
		bucket := idx.buckets[keyWBS+base]
		if len(bucket) < 2 {
			continue
		}
		best, second := -1.0, -1.0
		bestIdx := -1
		for _, w := range bucket {
			score := normalize.Jaccard(tokens, w.tokens)
			if score > best {
				second = best
				best = score
				bestIdx = w.idx
			} else if score > second {
				second = score
			}
		}
		if best >= preferenceJaccard && best-second >= preferenceMinDelta {
			idx.preferences[base] = bestIdx
		}
	}
}

// candidateKeys lists the lookup sequence for one project line, from
// strongest to weakest.
func candidateKeys(line *model.VoceComputo) []string {
	var keys []string
	if line.Progressivo != nil {
		keys = append(keys, fmt.Sprintf("%s%d", keyProg, *line.Progressivo))
	}
	if base := normalize.WBSBaseKeyFromModel(line); base != "" {
		keys = append(keys, keyWBS+base)
	}
	if code := normalize.NormalizeCodeToken(line.Code); code != "" {
		keys = append(keys, keyCode+code)
	}
	if desc := normalize.NormalizeDescriptionToken(line.Description); desc != "" {
		keys = append(keys, keyDesc+desc)
	}
	words := make([]string, 0)
	for tok := range normalize.DescrTokens(line.Description) {
		words = append(words, tok)
	}
	sort.Strings(words)
	for _, tok := range words {
		keys = append(keys, keyWord+tok)
	}
	return keys
}

func isIdentityKey(key string) bool {
	return len(key) > 5 && (key[:5] == keyProg || key[:5] == keyCode)
}

// pickWrapper selects a wrapper from the first non-empty bucket. On
// identity buckets a row without description tokens matches outright;
// elsewhere the row must clear the Jaccard threshold, with a looser
// overlap retry. Preferences break near-ties; the final tie-break is
// document order.
func (idx *returnIndex) pickWrapper(line *model.VoceComputo) *wrapper {
	projTokens := normalize.DescrTokens(line.Description)
	base := normalize.WBSBaseKeyFromModel(line)
	preferred, hasPref := idx.preferences[base]

	for _, key := range candidateKeys(line) {
		var free []*wrapper
		for _, w := range idx.buckets[key] {
			if !w.used {
				free = append(free, w)
			}
		}
		if len(free) == 0 {
			continue
		}

		identity := isIdentityKey(key)
		if w := selectByScore(free, projTokens, identity, bucketJaccard, normalize.Jaccard, hasPref, preferred); w != nil {
			return w
		}
		if w := selectByScore(free, projTokens, identity, looseOverlap, normalize.OverlapRatio, hasPref, preferred); w != nil {
			return w
		}
		// First non-empty bucket decides: no acceptable row means no
		// match for this line.
		return nil
	}
	return nil
}

func selectByScore(free []*wrapper, projTokens map[string]struct{}, identity bool, threshold float64, score func(a, b map[string]struct{}) float64, hasPref bool, preferred int) *wrapper {
	var best *wrapper
	bestScore := -1.0
	for _, w := range free {
		s := score(projTokens, w.tokens)
		if identity && len(w.tokens) == 0 {
			s = 1
		}
		if s < threshold {
			continue
		}
		switch {
		case best == nil, s > bestScore+preferenceMinDelta:
			best, bestScore = w, s
		case s >= bestScore-preferenceMinDelta:
			// Near-tie: the preferred row wins, else keep document order.
			if hasPref && w.idx == preferred && best.idx != preferred {
				best, bestScore = w, s
			}
		}
	}
	return best
}

// alignProgressive runs progressive-mode alignment.
func alignProgressive(projectLines []model.VoceComputo, returnLines []model.ParsedVoce) *ReturnAlignmentResult {
	idx := buildReturnIndex(returnLines, projectLines)
	result := &ReturnAlignmentResult{
		DuplicateProgressivi: idx.duplicates,
	}

	// (progressivo, code token) → first registered price.
	registry := map[string]float64{}

	for i := range projectLines {
		src := &projectLines[i]
		aligned := *src
		aligned.ID = 0
		aligned.ComputoID = 0
		aligned.Metadata.MissingFromReturn = false

		w := idx.pickWrapper(src)
		if w == nil {
			markMissing(&aligned)
			result.AlignedLines = append(result.AlignedLines, aligned)
			continue
		}
		w.used = true
		entry := w.entry

		applyReturnValues(&aligned, src, entry, result)
		registerPrice(registry, src, entry, &aligned, result)
		checkQuantity(src, entry, result)

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
			ReturnIndex:   w.idx,
		})
		result.AlignedLines = append(result.AlignedLines, aligned)
	}

	collectReturnOnly(idx.wrappers, result)
	return result
}

// applyReturnValues copies price and quantity from the return row into
// the aligned line, stabilizing the price against the project
// reference.
func applyReturnValues(aligned, src *model.VoceComputo, entry *model.ParsedVoce, result *ReturnAlignmentResult) {
	if entry.UnitPrice != nil {
		price := *entry.UnitPrice
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
	if entry.Quantity != nil {
		qty := *entry.Quantity
		aligned.Quantity = &qty
	}
	recomputeAmount(aligned)
	if aligned.Amount == nil && entry.Amount != nil {
		amount := *entry.Amount
		aligned.Amount = &amount
	}
}

// registerPrice enforces first-wins per (progressivo, code): later
// divergent prices are reported but still written.
func registerPrice(registry map[string]float64, src *model.VoceComputo, entry *model.ParsedVoce, aligned *model.VoceComputo, result *ReturnAlignmentResult) {
	if aligned.UnitPrice == nil {
		return
	}
	prog := src.Progressivo
	if prog == nil {
		prog = entry.Progressivo
	}
	if prog == nil {
		return
	}
	key := fmt.Sprintf("%d|%s", *prog, normalize.NormalizeCodeToken(src.Code))
	first, seen := registry[key]
	if !seen {
		registry[key] = *aligned.UnitPrice
		return
	}
	if diff := first - *aligned.UnitPrice; diff > priceTolerance || diff < -priceTolerance {
		result.ProgressPriceConflicts = append(result.ProgressPriceConflicts,
			fmt.Sprintf("%s: prezzo %.2f diverso dal primo registrato %.2f",
				projectLabel(src), *aligned.UnitPrice, first))
	}
}

func checkQuantity(src *model.VoceComputo, entry *model.ParsedVoce, result *ReturnAlignmentResult) {
	if src.Quantity == nil || entry.Quantity == nil {
		return
	}
	delta := *entry.Quantity - *src.Quantity
	if delta > quantityTolerance || delta < -quantityTolerance {
		result.ProgressQuantityMismatches = append(result.ProgressQuantityMismatches,
			fmt.Sprintf("%s: quantità ritorno %.4f diversa dal progetto %.4f",
				projectLabel(src), *entry.Quantity, *src.Quantity))
	}
}

// collectReturnOnly reports return rows no project line claimed. Rows
// with a description but neither price nor quantity look like group
// headers and are reported separately.
func collectReturnOnly(wrappers []*wrapper, result *ReturnAlignmentResult) {
	for _, w := range wrappers {
		if w.used {
			continue
		}
		label := parsedLabel(w.entry)
		if w.entry.UnitPrice == nil && w.entry.Quantity == nil && w.entry.Description != "" {
			result.ExcelOnlyGroups = append(result.ExcelOnlyGroups, label)
			continue
		}
		result.ReturnOnlyLabels = append(result.ReturnOnlyLabels, label)
	}
}
