package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tendermatch/internal/analysis"
)

var (
	analyzeImpresa string
	analyzeRound   int
)

var analyzeCmd = &cobra.Command{
	Use:   "analyze",
	Short: "Aggregated analysis over project and return offers",
}

var analyzeWBS6Cmd = &cobra.Command{
	Use:   "wbs6 [commessa-code]",
	Short: "WBS6 category breakdown with criticality classification",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyzeWBS6,
}

var analyzeTrendCmd = &cobra.Command{
	Use:   "trend [commessa-code]",
	Short: "Per-bidder totals across bidding rounds",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyzeTrend,
}

var analyzeHeatmapCmd = &cobra.Command{
	Use:   "heatmap [commessa-code]",
	Short: "Competitiveness heatmap: WBS6 rows against bidders",
	Args:  cobra.ExactArgs(1),
	RunE:  runAnalyzeHeatmap,
}

func init() {
	analyzeTrendCmd.Flags().StringVar(&analyzeImpresa, "impresa", "", "restrict to one bidder")
	analyzeHeatmapCmd.Flags().IntVar(&analyzeRound, "round", 0, "restrict to one round (0 = all)")
	analyzeCmd.AddCommand(analyzeWBS6Cmd)
	analyzeCmd.AddCommand(analyzeTrendCmd)
	analyzeCmd.AddCommand(analyzeHeatmapCmd)
}

func emitJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func runAnalyzeWBS6(cmd *cobra.Command, args []string) error {
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
	ds, err := a.analysis.Dataset(ctx, commessa.ID)
	if err != nil {
		return err
	}
	settings, err := a.store.GetSettings(ctx)
	if err != nil {
		return err
	}

	result := analysis.BuildWBS6Analysis(ds.Entries, len(ds.Bidders), settings)
	return emitJSON(result)
}

func runAnalyzeTrend(cmd *cobra.Command, args []string) error {
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
	ds, err := a.analysis.Dataset(ctx, commessa.ID)
	if err != nil {
		return err
	}

	trends := analysis.TrendRound(ds, analyzeImpresa)
	if len(trends) == 0 {
		fmt.Println("No return offers.")
		return nil
	}
	return emitJSON(trends)
}

func runAnalyzeHeatmap(cmd *cobra.Command, args []string) error {
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
	ds, err := a.analysis.Dataset(ctx, commessa.ID)
	if err != nil {
		return err
	}

	var round *int
	if analyzeRound > 0 {
		round = &analyzeRound
	}
	rows := analysis.HeatmapCompetitivita(ds, round)
	if len(rows) == 0 {
		fmt.Println("No data.")
		return nil
	}
	return emitJSON(rows)
}
