// Package catalog indexes the price-list items of a commessa for
// resolution during import and for interactive search. The index is a
// set of lexical maps plus per-WBS6 embedding buckets; it is rebuilt
// from the stored items whenever a caller needs one.
package catalog

import (
	"tendermatch/internal/model"
	"tendermatch/internal/normalize"
)

const allBucket = "__all__"

// EmbeddedItem pairs a catalog item with its stored vector.
type EmbeddedItem struct {
	Item   *model.PriceListItem
	Vector []float32
}

// Index holds the lookup maps of one commessa's catalog.
type Index struct {
	Items []*model.PriceListItem

	codeMap        map[string][]*model.PriceListItem
	signatureMap   map[string][]*model.PriceListItem
	descriptionMap map[string][]*model.PriceListItem
	headMap        map[string][]*model.PriceListItem
	tailMap        map[string][]*model.PriceListItem
	productMap     map[string]*model.PriceListItem

	// WBS6 code token (or "__all__") → embedded items. Only vectors
	// produced by modelID participate.
	embeddingMap map[string][]EmbeddedItem
	modelID      string
}

// NewIndex builds the maps from a catalog snapshot. Items whose stored
// vector comes from a different model stay reachable lexically but are
// excluded from the embedding buckets.
func NewIndex(items []*model.PriceListItem, modelID string) *Index {
	idx := &Index{
		Items:          items,
		codeMap:        map[string][]*model.PriceListItem{},
		signatureMap:   map[string][]*model.PriceListItem{},
		descriptionMap: map[string][]*model.PriceListItem{},
		headMap:        map[string][]*model.PriceListItem{},
		tailMap:        map[string][]*model.PriceListItem{},
		productMap:     map[string]*model.PriceListItem{},
		embeddingMap:   map[string][]EmbeddedItem{},
		modelID:        modelID,
	}
	for _, item := range items {
		idx.add(item)
	}
	return idx
}

func (idx *Index) add(item *model.PriceListItem) {
	if code := normalize.NormalizeCodeToken(item.ItemCode); code != "" {
		idx.codeMap[code] = append(idx.codeMap[code], item)
	}
	if item.ProductID != "" {
		idx.productMap[item.ProductID] = item
	}
	if sig := normalize.DescriptionSignature(item.ItemDescription, item.UnitLabel, item.WBS6Code); sig != "" {
		idx.signatureMap[sig] = append(idx.signatureMap[sig], item)
	}
	if desc := normalize.NormalizeDescriptionToken(item.ItemDescription); desc != "" {
		idx.descriptionMap[desc] = append(idx.descriptionMap[desc], item)
	}
	if head := normalize.HeadSignature(item.ItemDescription); head != "" {
		idx.headMap[head] = append(idx.headMap[head], item)
	}
	if tail := normalize.TailSignature(item.ItemDescription); tail != "" {
		idx.tailMap[tail] = append(idx.tailMap[tail], item)
	}

	nlp := item.Metadata.NLP
	if nlp == nil || nlp.ModelID != idx.modelID || len(nlp.Vector) == 0 {
		return
	}
	embedded := EmbeddedItem{Item: item, Vector: nlp.Vector}
	bucket := normalize.NormalizeToken(item.WBS6Code)
	if bucket != "" {
		idx.embeddingMap[bucket] = append(idx.embeddingMap[bucket], embedded)
	}
	idx.embeddingMap[allBucket] = append(idx.embeddingMap[allBucket], embedded)
}

// ByCode returns the items sharing a normalized code token.
func (idx *Index) ByCode(code string) []*model.PriceListItem {
	token := normalize.NormalizeCodeToken(code)
	if token == "" {
		return nil
	}
	return idx.codeMap[token]
}

// ByProductID returns the item carrying a source product id, or nil.
func (idx *Index) ByProductID(productID string) *model.PriceListItem {
	if productID == "" {
		return nil
	}
	return idx.productMap[productID]
}

// BySignature returns the items sharing a description signature.
func (idx *Index) BySignature(description, unit, wbs6Code string) []*model.PriceListItem {
	sig := normalize.DescriptionSignature(description, unit, wbs6Code)
	if sig == "" {
		return nil
	}
	return idx.signatureMap[sig]
}

// ByDescription returns the items sharing a normalized description.
func (idx *Index) ByDescription(description string) []*model.PriceListItem {
	desc := normalize.NormalizeDescriptionToken(description)
	if desc == "" {
		return nil
	}
	return idx.descriptionMap[desc]
}

// ByHeadSignature returns the items sharing the first-N-words key.
func (idx *Index) ByHeadSignature(description string) []*model.PriceListItem {
	head := normalize.HeadSignature(description)
	if head == "" {
		return nil
	}
	return idx.headMap[head]
}

// ByTailSignature returns the items sharing the last-N-words key.
func (idx *Index) ByTailSignature(description string) []*model.PriceListItem {
	tail := normalize.TailSignature(description)
	if tail == "" {
		return nil
	}
	return idx.tailMap[tail]
}

// EmbeddingBucket returns the embedded items under a WBS6 code, or the
// whole-catalog bucket when the code is empty or unknown.
func (idx *Index) EmbeddingBucket(wbs6Code string) []EmbeddedItem {
	if token := normalize.NormalizeToken(wbs6Code); token != "" {
		if bucket, ok := idx.embeddingMap[token]; ok {
			return bucket
		}
	}
	return idx.embeddingMap[allBucket]
}

// HasEmbeddings reports whether any item carries a compatible vector.
func (idx *Index) HasEmbeddings() bool {
	return len(idx.embeddingMap[allBucket]) > 0
}

// ModelID returns the embedding model the buckets were built for.
func (idx *Index) ModelID() string {
	return idx.modelID
}
