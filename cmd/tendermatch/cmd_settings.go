package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	settingCriticitaMedia float64
	settingCriticitaAlta  float64
	settingNLPModel       string
)

var settingsCmd = &cobra.Command{
	Use:   "settings",
	Short: "Inspect and change engine settings",
}

var settingsShowCmd = &cobra.Command{
	Use:   "show",
	Short: "Show the current settings",
	RunE:  runSettingsShow,
}

var settingsSetCmd = &cobra.Command{
	Use:   "set",
	Short: "Change criticality thresholds or the NLP model",
	Long: `Persists new settings. Changing the NLP model does not touch stored
vectors: items embedded by the old model drop out of semantic search
until re-embedded with "catalog embed".`,
	RunE: runSettingsSet,
}

func init() {
	settingsSetCmd.Flags().Float64Var(&settingCriticitaMedia, "criticita-media", 0, "medium criticality threshold in percent")
	settingsSetCmd.Flags().Float64Var(&settingCriticitaAlta, "criticita-alta", 0, "high criticality threshold in percent")
	settingsSetCmd.Flags().StringVar(&settingNLPModel, "nlp-model", "", "embedding model id")
	settingsCmd.AddCommand(settingsShowCmd)
	settingsCmd.AddCommand(settingsSetCmd)
}

func runSettingsShow(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	set, err := a.store.GetSettings(context.Background())
	if err != nil {
		return err
	}
	fmt.Printf("criticita media:  %.1f%%\n", set.CriticitaMediaPercent)
	fmt.Printf("criticita alta:   %.1f%%\n", set.CriticitaAltaPercent)
	fmt.Printf("nlp model:        %s\n", set.NLPModelID)
	fmt.Printf("nlp max length:   %d\n", set.NLPMaxLength)
	fmt.Printf("nlp batch size:   %d\n", set.NLPBatchSize)
	return nil
}

func runSettingsSet(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	set, err := a.store.GetSettings(ctx)
	if err != nil {
		return err
	}
	if cmd.Flags().Changed("criticita-media") {
		set.CriticitaMediaPercent = settingCriticitaMedia
	}
	if cmd.Flags().Changed("criticita-alta") {
		set.CriticitaAltaPercent = settingCriticitaAlta
	}
	if cmd.Flags().Changed("nlp-model") {
		set.NLPModelID = settingNLPModel
	}
	if err := a.store.SaveSettings(ctx, set); err != nil {
		return err
	}
	if cmd.Flags().Changed("nlp-model") {
		if err := a.embedder.Configure(&set.NLPModelID, nil, nil); err != nil {
			return err
		}
	}
	fmt.Println("Settings saved.")
	return nil
}
