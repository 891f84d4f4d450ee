// Package normalize reduces free text, codes and WBS labels to the
// stable tokens every matching stage keys on. All comparisons in the
// alignment engine and the catalog index go through this package.
package normalize

import (
	"regexp"
	"strings"
	"unicode"

	"golang.org/x/text/unicode/norm"
)

// stopwords excluded from description token sets: Italian and English
// articles, prepositions and glue words that carry no matching signal.
var stopwords = map[string]struct{}{
	"il": {}, "lo": {}, "la": {}, "gli": {}, "le": {}, "un": {}, "uno": {}, "una": {},
	"di": {}, "del": {}, "della": {}, "dello": {}, "dei": {}, "degli": {}, "delle": {},
	"da": {}, "dal": {}, "dalla": {}, "in": {}, "nel": {}, "nella": {}, "nei": {},
	"con": {}, "su": {}, "sul": {}, "sulla": {}, "per": {}, "tra": {}, "fra": {},
	"e": {}, "ed": {}, "o": {}, "od": {}, "al": {}, "alla": {}, "allo": {}, "ai": {},
	"the": {}, "a": {}, "an": {}, "of": {}, "for": {}, "and": {}, "or": {},
	"to": {}, "with": {}, "on": {}, "at": {}, "by": {}, "from": {},
}

// headTailWords is the window used by head/tail signatures.
const headTailWords = 30

// NormalizeToken folds s for coarse equality: NFKD decomposition,
// alphanumerics only, lowercased.
func NormalizeToken(s string) string {
	if s == "" {
		return ""
	}
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.IsLetter(r) || unicode.IsDigit(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// NormalizeCodeToken folds an item code: uppercase, strip everything
// outside [A-Z0-9].
func NormalizeCodeToken(s string) string {
	var b strings.Builder
	b.Grow(len(s))
	for _, r := range strings.ToUpper(s) {
		if (r >= 'A' && r <= 'Z') || (r >= '0' && r <= '9') {
			b.WriteRune(r)
		}
	}
	return b.String()
}

// NormalizeDescriptionToken folds a description: NFKD without combining
// marks, lowercased, internal whitespace collapsed to single spaces.
func NormalizeDescriptionToken(s string) string {
	if s == "" {
		return ""
	}
	decomposed := norm.NFKD.String(s)
	var b strings.Builder
	b.Grow(len(decomposed))
	for _, r := range decomposed {
		if unicode.Is(unicode.Mn, r) {
			continue
		}
		b.WriteRune(unicode.ToLower(r))
	}
	return strings.Join(strings.Fields(b.String()), " ")
}

// CollectDescriptionTokens builds the lookup token set for a
// description: the full normalized string when it is long enough to be
// distinctive, each physical line, and the individual words of at
// least three characters that are not stopwords.
func CollectDescriptionTokens(s string) map[string]struct{} {
	tokens := map[string]struct{}{}
	if s == "" {
		return tokens
	}
	full := NormalizeDescriptionToken(s)
	if len(full) >= 6 {
		tokens[full] = struct{}{}
	}
	for _, line := range strings.Split(s, "\n") {
		nl := NormalizeDescriptionToken(line)
		if len(nl) >= 6 {
			tokens[nl] = struct{}{}
		}
	}
	for w := range DescrTokens(s) {
		tokens[w] = struct{}{}
	}
	return tokens
}

// ExtractDescriptionTokens is CollectDescriptionTokens as an ordered
// slice, for callers that index buckets.
func ExtractDescriptionTokens(s string) []string {
	set := CollectDescriptionTokens(s)
	out := make([]string, 0, len(set))
	for t := range set {
		out = append(out, t)
	}
	return out
}

// DescrTokens is the word set used for Jaccard similarity: normalized
// words of at least three characters, stopwords excluded.
func DescrTokens(s string) map[string]struct{} {
	tokens := map[string]struct{}{}
	for _, w := range strings.Fields(NormalizeDescriptionToken(s)) {
		if len(w) < 3 {
			continue
		}
		if _, stop := stopwords[w]; stop {
			continue
		}
		tokens[w] = struct{}{}
	}
	return tokens
}

// Jaccard computes |a∩b| / |a∪b| over two token sets. Empty sets
// yield 0.
func Jaccard(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	union := len(a) + len(b) - inter
	if union == 0 {
		return 0
	}
	return float64(inter) / float64(union)
}

// OverlapRatio is the looser similarity used on the alignment retry
// path: |a∩b| / max(|a|, |b|).
func OverlapRatio(a, b map[string]struct{}) float64 {
	if len(a) == 0 || len(b) == 0 {
		return 0
	}
	inter := 0
	for t := range a {
		if _, ok := b[t]; ok {
			inter++
		}
	}
	max := len(a)
	if len(b) > max {
		max = len(b)
	}
	return float64(inter) / float64(max)
}

// HeadSignature joins the first 30 normalized words of a description.
// Secondary key when the full signature misses.
func HeadSignature(s string) string {
	words := strings.Fields(NormalizeDescriptionToken(s))
	if len(words) == 0 {
		return ""
	}
	if len(words) > headTailWords {
		words = words[:headTailWords]
	}
	return strings.Join(words, " ")
}

// TailSignature joins the last 30 normalized words of a description.
func TailSignature(s string) string {
	words := strings.Fields(NormalizeDescriptionToken(s))
	if len(words) == 0 {
		return ""
	}
	if len(words) > headTailWords {
		words = words[len(words)-headTailWords:]
	}
	return strings.Join(words, " ")
}

// DescriptionSignature is the exact-match key for catalog lookups.
// Unit and wbs6Code are accepted for a future tightening of the key
// but are deliberately unused today: changing that silently would
// shift catalog identity under existing data.
func DescriptionSignature(description, unit, wbs6Code string) string {
	_ = unit
	_ = wbs6Code
	return NormalizeDescriptionToken(description)
}

var impresaTrailingRef = regexp.MustCompile(`\s*\(\d+\)\s*$`)

// NormalizeImpresaLabel folds a bidder label to its identity:
// lowercased, whitespace collapsed, trailing "(N)" stripped.
func NormalizeImpresaLabel(label string) string {
	label = impresaTrailingRef.ReplaceAllString(label, "")
	return strings.Join(strings.Fields(strings.ToLower(label)), " ")
}
