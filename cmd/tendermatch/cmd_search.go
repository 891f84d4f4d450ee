package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
)

var (
	searchTopK int
	searchJSON bool
)

var searchCmd = &cobra.Command{
	Use:   "search [commessa-code] [query...]",
	Short: "Search the price-list catalog",
	Long: `Semantic search over the catalog of one commessa, with a lexical
fallback when nothing clears the semantic threshold. Hits are enriched
with project quantities, project prices and known bidder offers.`,
	Args: cobra.MinimumNArgs(2),
	RunE: runSearch,
}

func init() {
	searchCmd.Flags().IntVar(&searchTopK, "top", 0, "maximum results (default from config)")
	searchCmd.Flags().BoolVar(&searchJSON, "json", false, "emit raw JSON")
}

func runSearch(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	commessa, err := a.store.GetCommessaByCode(ctx, args[0])
	if err != nil {
		return err
	}
	query := strings.Join(args[1:], " ")

	topK := searchTopK
	if topK <= 0 {
		topK = cfg.Search.TopK
	}
	results, err := a.searcher.Search(ctx, commessa.ID, query, topK)
	if err != nil {
		return err
	}

	if searchJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(results)
	}

	if len(results) == 0 {
		fmt.Println("No matches.")
		return nil
	}
	for i, r := range results {
		desc := r.Item.ItemDescription
		if runes := []rune(desc); len(runes) > 70 {
			desc = string(runes[:70]) + "…"
		}
		fmt.Printf("%2d. [%.3f %-8s] %-14s %s\n", i+1, r.Score, r.MatchReason, r.Item.ItemCode, desc)
		if r.ProjectPrice != nil {
			fmt.Printf("      project: qty %.2f @ %.4f\n", r.ProjectQuantity, *r.ProjectPrice)
		}
		for label, offer := range r.OfferPrices {
			fmt.Printf("      %s: %.4f\n", label, offer.Price)
		}
	}
	return nil
}
