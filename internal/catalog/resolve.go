package catalog

import (
	"context"
	"sort"

	"tendermatch/internal/embedding"
	"tendermatch/internal/logging"
	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
)

// EmbedFunc produces the query vector for semantic resolution. Nil
// disables the semantic step.
type EmbedFunc func(ctx context.Context, text string) ([]float32, error)

// Resolver matches a return line to a catalog item via the lookup
// cascade: code, signature, description, head, tail, then semantic.
type Resolver struct {
	Index *Index
	Embed EmbedFunc
	// Minimum cosine for a semantic hit. Zero means no semantic step.
	SemanticThreshold float64
}

// Resolve walks the cascade for one line. The returned reason names
// the matching map; ("", nil) when nothing matched. Resolution is
// deterministic: within a candidate set a single item wins outright,
// else the subset sharing the line's WBS6 code, else the lex-min item
// by (item_code, product_id).
func (r *Resolver) Resolve(ctx context.Context, code, description, unit, wbs6Code string) (*model.PriceListItem, string) {
	if item := pickCandidate(r.Index.ByCode(code), wbs6Code); item != nil {
		return item, "code"
	}
	if item := pickCandidate(r.Index.BySignature(description, unit, wbs6Code), wbs6Code); item != nil {
		return item, "signature"
	}
	if item := pickCandidate(r.Index.ByDescription(description), wbs6Code); item != nil {
		return item, "description"
	}
	if item := pickCandidate(r.Index.ByHeadSignature(description), wbs6Code); item != nil {
		return item, "head_signature"
	}
	if item := pickCandidate(r.Index.ByTailSignature(description), wbs6Code); item != nil {
		return item, "tail_signature"
	}
	if item := r.resolveSemantic(ctx, description, wbs6Code); item != nil {
		return item, "semantic"
	}
	return nil, ""
}

func (r *Resolver) resolveSemantic(ctx context.Context, description, wbs6Code string) *model.PriceListItem {
	if r.Embed == nil || r.SemanticThreshold <= 0 || description == "" {
		return nil
	}
	bucket := r.Index.EmbeddingBucket(wbs6Code)
	if len(bucket) == 0 {
		return nil
	}
	query, err := r.Embed(ctx, description)
	if err != nil {
		logging.CatalogDebug("semantic resolution skipped: %v", err)
		return nil
	}

	var best *model.PriceListItem
	bestScore := r.SemanticThreshold
	for _, e := range bucket {
		score, err := embedding.Cosine(query, e.Vector)
		if err != nil {
			continue
		}
		if score > bestScore || (score == bestScore && best != nil && lexKey(e.Item) < lexKey(best)) {
			best = e.Item
			bestScore = score
		}
	}
	return best
}

// pickCandidate applies the deterministic tie-break to a candidate
// set.
func pickCandidate(candidates []*model.PriceListItem, wbs6Code string) *model.PriceListItem {
	switch len(candidates) {
	case 0:
		return nil
	case 1:
		return candidates[0]
	}

	if token := normalize.NormalizeToken(wbs6Code); token != "" {
		var subset []*model.PriceListItem
		for _, c := range candidates {
			if normalize.NormalizeToken(c.WBS6Code) == token {
				subset = append(subset, c)
			}
		}
		if len(subset) == 1 {
			return subset[0]
		}
		if len(subset) > 1 {
			candidates = subset
		}
	}

	sorted := make([]*model.PriceListItem, len(candidates))
	copy(sorted, candidates)
	sort.Slice(sorted, func(i, j int) bool {
		ki, kj := lexKey(sorted[i]), lexKey(sorted[j])
		if ki != kj {
			return ki < kj
		}
		return sorted[i].ID < sorted[j].ID
	})
	return sorted[0]
}

func lexKey(item *model.PriceListItem) string {
	if item.ItemCode != "" {
		return item.ItemCode
	}
	return item.ProductID
}
