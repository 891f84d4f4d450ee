package catalog

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"tendermatch/internal/config"
	"tendermatch/internal/embedding"
	"tendermatch/internal/logging"
	"tendermatch/internal/model"
	"tendermatch/internal/store"
	"tendermatch/internal/vecindex"
)

// Searcher answers interactive catalog queries with hybrid scoring:
// ANN cosine, lexical token boosts and attribute boosts, with a pure
// lexical fallback when nothing clears the score bar.
type Searcher struct {
	Store    *store.Store
	Vec      *vecindex.Manager
	Embedder *embedding.Service
	Config   config.SearchConfig
}

// OfferPrice is one bidder price attached to a search hit.
type OfferPrice struct {
	Price     float64  `json:"price"`
	Quantity  *float64 `json:"quantity,omitempty"`
	Round     int      `json:"round,omitempty"`
	ComputoID int64    `json:"computo_id"`
}

// SearchResult is one scored catalog hit with its enrichment.
type SearchResult struct {
	Item            *model.PriceListItem  `json:"item"`
	Score           float64               `json:"score"`
	MatchReason     string                `json:"match_reason"` // semantic or lexical
	ProjectPrice    *float64              `json:"project_price,omitempty"`
	ProjectQuantity float64               `json:"project_quantity"`
	OfferPrices     map[string]OfferPrice `json:"offer_prices,omitempty"`
}

var reQueryToken = regexp.MustCompile(`[^a-z0-9]+`)

// queryTokens keeps lowercased alphanumeric words of at least 4 chars
// for the lexical boost and the fallback search.
func queryTokens(query string) []string {
	var out []string
	for _, w := range reQueryToken.Split(strings.ToLower(query), -1) {
		if len(w) >= 4 {
			out = append(out, w)
		}
	}
	return out
}

// Search runs the hybrid query over one commessa's catalog.
func (s *Searcher) Search(ctx context.Context, commessaID int64, query string, topK int) ([]SearchResult, error) {
	timer := logging.StartTimer(logging.CategorySearch, "Search")
	defer timer.Stop()

	if strings.TrimSpace(query) == "" {
		return nil, fmt.Errorf("%w: query di ricerca vuota", model.ErrInvalidInput)
	}
	if topK <= 0 {
		topK = s.Config.TopK
	}
	tokens := queryTokens(query)
	queryAttrs := embedding.ExtractAttributes(query)

	queryVec, _, err := s.Embedder.Embed(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("%w: embedding della query non disponibile: %v", model.ErrTransient, err)
	}

	if !s.Vec.Exists(ctx, commessaID) {
		if err := s.lazyBuild(ctx, commessaID); err != nil {
			return nil, err
		}
	}

	hits, err := s.Vec.Search(ctx, commessaID, queryVec, 2*topK)
	if err != nil {
		return nil, err
	}

	ids := make([]int64, 0, len(hits))
	for _, h := range hits {
		ids = append(ids, h.ItemID)
	}
	items, err := s.Store.GetPriceListItems(ctx, ids)
	if err != nil {
		return nil, err
	}

	results := make([]SearchResult, 0, len(hits))
	for _, h := range hits {
		item, ok := items[h.ItemID]
		if !ok {
			continue
		}
		score := h.Score
		score += lexicalBoost(item, tokens)
		score += attributeBoost(queryAttrs, itemAttributes(item))
		if score < s.Config.MinScore {
			continue
		}
		results = append(results, SearchResult{Item: item, Score: score, MatchReason: "semantic"})
	}

	sort.SliceStable(results, func(i, j int) bool {
		if results[i].Score != results[j].Score {
			return results[i].Score > results[j].Score
		}
		return results[i].Item.ID < results[j].Item.ID
	})
	if len(results) > topK {
		results = results[:topK]
	}

	if len(results) == 0 && len(tokens) > 0 {
		results, err = s.lexicalFallback(ctx, commessaID, tokens, items, topK)
		if err != nil {
			return nil, err
		}
	}

	if err := s.enrich(ctx, commessaID, results); err != nil {
		return nil, err
	}
	logging.Search("query %q on commessa %d: %d results", query, commessaID, len(results))
	return results, nil
}

func (s *Searcher) lazyBuild(ctx context.Context, commessaID int64) error {
	items, err := s.Store.ListPriceListItems(ctx, nil, commessaID)
	if err != nil {
		return err
	}
	return s.Vec.BuildIndex(ctx, commessaID, items, s.Embedder.ModelID())
}

// lexicalFallback runs the contains-all-tokens scan. By default it
// iterates the ANN candidate rows only; the full-catalog variant is a
// config switch because the narrow scan mirrors long-standing behavior
// some operators rely on.
func (s *Searcher) lexicalFallback(ctx context.Context, commessaID int64, tokens []string, candidates map[int64]*model.PriceListItem, topK int) ([]SearchResult, error) {
	var pool []*model.PriceListItem
	if s.Config.LexicalFallbackFull {
		all, err := s.Store.ListPriceListItems(ctx, nil, commessaID)
		if err != nil {
			return nil, err
		}
		pool = all
	} else {
		pool = make([]*model.PriceListItem, 0, len(candidates))
		for _, item := range candidates {
			pool = append(pool, item)
		}
		sort.Slice(pool, func(i, j int) bool { return pool[i].ID < pool[j].ID })
	}

	var results []SearchResult
	for _, item := range pool {
		haystack := strings.ToLower(strings.Join([]string{
			item.ItemCode, item.ItemDescription,
			item.WBS6Code, item.WBS6Description,
			item.WBS7Code, item.WBS7Description,
		}, " "))
		all := true
		for _, tok := range tokens {
			if !strings.Contains(haystack, tok) {
				all = false
				break
			}
		}
		if !all {
			continue
		}
		results = append(results, SearchResult{Item: item, Score: 0, MatchReason: "lexical"})
		if len(results) == topK {
			break
		}
	}
	return results, nil
}

func (s *Searcher) enrich(ctx context.Context, commessaID int64, results []SearchResult) error {
	if len(results) == 0 {
		return nil
	}
	quantities, err := s.Store.ProjectQuantitiesByItem(ctx, commessaID)
	if err != nil {
		return err
	}
	prices, err := s.Store.ProjectPricesByItem(ctx, commessaID)
	if err != nil {
		return err
	}
	for i := range results {
		item := results[i].Item
		results[i].ProjectQuantity = quantities[item.ID]
		if p, ok := prices[item.ID]; ok {
			price := p
			results[i].ProjectPrice = &price
		}
		offers, err := s.Store.ListOffersForItem(ctx, item.ID)
		if err != nil {
			return err
		}
		if len(offers) == 0 {
			continue
		}
		results[i].OfferPrices = make(map[string]OfferPrice, len(offers))
		for _, o := range offers {
			label := o.ImpresaLabel
			if o.RoundNumber > 0 {
				label = fmt.Sprintf("%s (Round %d)", o.ImpresaLabel, o.RoundNumber)
			}
			if _, seen := results[i].OfferPrices[label]; seen {
				continue
			}
			results[i].OfferPrices[label] = OfferPrice{
				Price:     o.UnitPrice,
				Quantity:  o.Quantity,
				Round:     o.RoundNumber,
				ComputoID: o.ComputoID,
			}
		}
	}
	return nil
}

// lexicalBoost rewards query tokens found in the item's text fields:
// 0.02 per hit, capped at 0.08 for description/code and 0.05 for WBS
// descriptions, 0.12 overall.
func lexicalBoost(item *model.PriceListItem, tokens []string) float64 {
	if len(tokens) == 0 {
		return 0
	}
	descText := strings.ToLower(item.ItemDescription + " " + item.ItemCode)
	wbsText := strings.ToLower(item.WBS6Description + " " + item.WBS7Description)

	hitsDesc, hitsWBS := 0, 0
	for _, tok := range tokens {
		if strings.Contains(descText, tok) {
			hitsDesc++
		}
		if strings.Contains(wbsText, tok) {
			hitsWBS++
		}
	}
	boost := min(0.08, 0.02*float64(hitsDesc)) + min(0.05, 0.02*float64(hitsWBS))
	return min(0.12, boost)
}

// attributeBoost compares extracted query attributes against the
// item's stored ones.
func attributeBoost(query, item *embedding.Attributes) float64 {
	if query == nil || item == nil || query.IsZero() || item.IsZero() {
		return 0
	}
	boost := 0.0
	if query.NumLastre != nil && item.NumLastre != nil {
		if *query.NumLastre == *item.NumLastre {
			boost += 0.15
		} else {
			boost -= 0.10
		}
	}
	if query.TipoRivestimento != "" && query.TipoRivestimento == item.TipoRivestimento {
		boost += 0.10
	}
	if query.TipoLastra != "" && query.TipoLastra == item.TipoLastra {
		boost += 0.10
	}
	if query.SpessoreMM != nil && item.SpessoreMM != nil {
		diff := *query.SpessoreMM - *item.SpessoreMM
		if diff < 0 {
			diff = -diff
		}
		switch {
		case diff == 0:
			boost += 0.10
		case diff <= 5:
			boost += 0.05
		}
	}
	if query.Isolamento != "" && query.Isolamento == item.Isolamento {
		boost += 0.08
	}
	return boost
}

func itemAttributes(item *model.PriceListItem) *embedding.Attributes {
	if item.Metadata.NLP == nil {
		return &embedding.Attributes{}
	}
	return embedding.AttributesFromMap(item.Metadata.NLP.Attributes)
}
