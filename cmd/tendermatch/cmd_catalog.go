package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tendermatch/internal/embedding"
	"tendermatch/internal/model"
)

var catalogCmd = &cobra.Command{
	Use:   "catalog",
	Short: "Manage the per-commessa price-list catalog",
}

var catalogImportCmd = &cobra.Command{
	Use:   "import [commessa-code] [items.json]",
	Short: "Import price-list items into the catalog",
	Long: `Loads catalog lines from parser output. Items carrying a product id
upsert onto the existing row with the same product id; the rest insert
as new lines.`,
	Args: cobra.ExactArgs(2),
	RunE: runCatalogImport,
}

var catalogEmbedCmd = &cobra.Command{
	Use:   "embed [commessa-code]",
	Short: "Compute embeddings and rebuild the semantic index",
	Long: `Embeds every catalog item that lacks a vector from the current NLP
model, extracts domain attributes from the descriptions, and rebuilds
the per-commessa vector index. Items embedded by a previous model are
re-embedded; their old vectors are discarded.`,
	Args: cobra.ExactArgs(1),
	RunE: runCatalogEmbed,
}

var catalogListCmd = &cobra.Command{
	Use:   "list [commessa-code]",
	Short: "List catalog items",
	Args:  cobra.ExactArgs(1),
	RunE:  runCatalogList,
}

func init() {
	catalogCmd.AddCommand(catalogImportCmd)
	catalogCmd.AddCommand(catalogEmbedCmd)
	catalogCmd.AddCommand(catalogListCmd)
}

func runCatalogImport(cmd *cobra.Command, args []string) error {
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

	data, err := os.ReadFile(args[1])
	if err != nil {
		return err
	}
	var items []*model.PriceListItem
	if err := json.Unmarshal(data, &items); err != nil {
		return fmt.Errorf("%w: file %s non interpretabile: %v", model.ErrInvalidInput, args[1], err)
	}

	for _, item := range items {
		item.ID = 0
		item.CommessaID = commessa.ID
		if item.SourceFile == "" {
			item.SourceFile = args[1]
		}
		if err := a.store.UpsertPriceListItem(ctx, nil, item); err != nil {
			return err
		}
	}
	a.cache.Invalidate(commessa.ID)
	fmt.Printf("Imported %d catalog items into %s\n", len(items), commessa.Code)
	return nil
}

func runCatalogEmbed(cmd *cobra.Command, args []string) error {
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
	items, err := a.store.ListPriceListItems(ctx, nil, commessa.ID)
	if err != nil {
		return err
	}
	if len(items) == 0 {
		return fmt.Errorf("%w: nessuna voce di listino per la commessa %s", model.ErrPrecondition, commessa.Code)
	}

	modelID := a.embedder.ModelID()
	var pending []*model.PriceListItem
	for _, item := range items {
		if nlp := item.Metadata.NLP; nlp != nil && nlp.ModelID == modelID && len(nlp.Vector) > 0 {
			continue
		}
		pending = append(pending, item)
	}

	if len(pending) > 0 {
		texts := make([]string, len(pending))
		for i, item := range pending {
			texts[i] = embedding.ItemText(item)
		}
		vectors, producedBy, err := a.embedder.EmbedBatch(ctx, texts)
		if err != nil {
			return fmt.Errorf("%w: embedding non disponibile: %v", model.ErrTransient, err)
		}
		for i, item := range pending {
			nlp := &model.NLPMetadata{
				ModelID:   producedBy,
				Vector:    vectors[i],
				Dimension: len(vectors[i]),
			}
			if attrs := embedding.ExtractAttributes(item.ItemDescription); !attrs.IsZero() {
				nlp.Attributes = attrs.Map()
			}
			item.Metadata.NLP = nlp
			if err := a.store.UpsertPriceListItem(ctx, nil, item); err != nil {
				return err
			}
		}
	}

	if err := a.vec.BuildIndex(ctx, commessa.ID, items, modelID); err != nil {
		return err
	}
	fmt.Printf("Embedded %d items (%d already current), index rebuilt for model %s\n",
		len(pending), len(items)-len(pending), modelID)
	return nil
}

func runCatalogList(cmd *cobra.Command, args []string) error {
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
	items, err := a.store.ListPriceListItems(ctx, nil, commessa.ID)
	if err != nil {
		return err
	}
	for _, item := range items {
		desc := item.ItemDescription
		if r := []rune(desc); len(r) > 60 {
			desc = string(r[:60]) + "…"
		}
		fmt.Printf("%6d  %-14s  %-6s  %s\n", item.ID, item.ItemCode, item.UnitLabel, desc)
	}
	fmt.Printf("%d items\n", len(items))
	return nil
}
