package normalize

import (
	"regexp"
	"strings"

	"tendermatch/internal/model"
)

// WBS key composition. The alignment engine buckets lines under a
// two-part key "primary|secondary": primary from the WBS6 (falling
// back to WBS5), secondary from the WBS7 falling back to the
// description. Parsed lines may append a third description segment
// when it adds specificity.

const wbsKeySep = "|"

// WBSKeyFromModel composes the key for a stored VoceComputo.
func WBSKeyFromModel(v *model.VoceComputo) string {
	primary := firstNormalized(v.WBS[5].Code, v.WBS[5].Description, v.WBS[4].Code, v.WBS[4].Description)
	secondary := firstNormalized(v.WBS[6].Code, v.WBS[6].Description, v.Description)
	return joinKey(primary, secondary)
}

// WBSKeyFromParsed composes the key for a parsed line, appending the
// description token as a third segment when it would increase
// specificity over the secondary one.
func WBSKeyFromParsed(p *model.ParsedVoce) string {
	w5, w6, w7 := p.WBSLevelOf(5), p.WBSLevelOf(6), p.WBSLevelOf(7)
	primary := firstNormalized(w6.Code, w6.Description, w5.Code, w5.Description)
	secondary := firstNormalized(w7.Code, w7.Description, p.Description)
	key := joinKey(primary, secondary)
	descTok := NormalizeToken(p.Description)
	if descTok != "" && descTok != secondary && descTok != primary {
		if key == "" {
			return descTok
		}
		return key + wbsKeySep + descTok
	}
	return key
}

// WBSBaseKeyFromParsed is WBSKeyFromParsed without the description
// segment.
func WBSBaseKeyFromParsed(p *model.ParsedVoce) string {
	w5, w6, w7 := p.WBSLevelOf(5), p.WBSLevelOf(6), p.WBSLevelOf(7)
	primary := firstNormalized(w6.Code, w6.Description, w5.Code, w5.Description)
	secondary := firstNormalized(w7.Code, w7.Description)
	return joinKey(primary, secondary)
}

// WBSBaseKeyFromModel is WBSKeyFromModel without the description
// fallback on the secondary segment.
func WBSBaseKeyFromModel(v *model.VoceComputo) string {
	primary := firstNormalized(v.WBS[5].Code, v.WBS[5].Description, v.WBS[4].Code, v.WBS[4].Description)
	secondary := firstNormalized(v.WBS[6].Code, v.WBS[6].Description)
	return joinKey(primary, secondary)
}

// SplitWBSKey returns the primary and secondary segments of a key.
func SplitWBSKey(key string) (primary, secondary string) {
	parts := strings.SplitN(key, wbsKeySep, 3)
	primary = parts[0]
	if len(parts) > 1 {
		secondary = parts[1]
	}
	return primary, secondary
}

// BaseWBSKeyFromKey strips the optional description segment off a
// composed key.
func BaseWBSKeyFromKey(key string) string {
	primary, secondary := SplitWBSKey(key)
	return joinKey(primary, secondary)
}

func joinKey(primary, secondary string) string {
	switch {
	case primary == "" && secondary == "":
		return ""
	case primary == "":
		return secondary
	case secondary == "":
		return primary
	default:
		return primary + wbsKeySep + secondary
	}
}

func firstNormalized(candidates ...string) string {
	for _, c := range candidates {
		if t := NormalizeToken(c); t != "" {
			return t
		}
	}
	return ""
}

var (
	wbs6Shape = regexp.MustCompile(`^[A-Za-z]\d{3}$`)
	wbs7Shape = regexp.MustCompile(`^([A-Za-z]\d{3})[.\s_-]?(\d{3})$`)
)

// NormalizeWBS6Code validates and folds a WBS6 code ("categoria
// merceologica"): a letter followed by three digits. Returns "" when
// the shape does not match.
func NormalizeWBS6Code(code string) string {
	compact := strings.Join(strings.Fields(code), "")
	if !wbs6Shape.MatchString(compact) {
		return ""
	}
	return strings.ToUpper(compact)
}

// NormalizeWBS7Code validates and folds a WBS7 (EPU) code, emitted in
// canonical "L###.###" form. Returns "" when the shape does not match.
func NormalizeWBS7Code(code string) string {
	compact := strings.Join(strings.Fields(code), "")
	m := wbs7Shape.FindStringSubmatch(compact)
	if m == nil {
		return ""
	}
	return strings.ToUpper(m[1]) + "." + m[2]
}
