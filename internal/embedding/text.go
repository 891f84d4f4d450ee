package embedding

import (
	"sort"
	"strings"

	"tendermatch/internal/model"
)

// ItemText composes the text embedded for a catalog item: code,
// description, WBS6/WBS7 descriptions and the sorted unique price-list
// labels, joined by " • ". Prices are deliberately excluded: they add
// noise without semantic value.
func ItemText(item *model.PriceListItem) string {
	parts := make([]string, 0, 5)
	for _, p := range []string{
		item.ItemCode,
		item.ItemDescription,
		item.WBS6Description,
		item.WBS7Description,
	} {
		if s := strings.TrimSpace(p); s != "" {
			parts = append(parts, s)
		}
	}
	if len(item.PriceLists) > 0 {
		labels := make([]string, 0, len(item.PriceLists))
		seen := map[string]struct{}{}
		for label := range item.PriceLists {
			l := strings.TrimSpace(label)
			if l == "" {
				continue
			}
			if _, dup := seen[l]; dup {
				continue
			}
			seen[l] = struct{}{}
			labels = append(labels, l)
		}
		sort.Strings(labels)
		parts = append(parts, labels...)
	}
	return strings.Join(parts, " • ")
}
