// Package main provides the tendermatch CLI: tender reconciliation
// between construction project estimates and bidder return offers.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"tendermatch/internal/analysis"
	"tendermatch/internal/bundle"
	"tendermatch/internal/catalog"
	"tendermatch/internal/config"
	"tendermatch/internal/embedding"
	"tendermatch/internal/importer"
	"tendermatch/internal/logging"
	"tendermatch/internal/reconcile"
	"tendermatch/internal/store"
	"tendermatch/internal/vecindex"
)

var (
	// Global flags
	configPath  string
	debugMode   bool
	watchConfig bool

	cfg *config.Config
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "tendermatch",
	Short: "tendermatch - Construction tender reconciliation engine",
	Long: `tendermatch reconciles construction project estimates (computo
metrico) against bidder return offers across bidding rounds.

Returns are aligned line by line against the live project estimate,
bidder prices feed a per-project price-list catalog with semantic
search, and the aggregated dataset drives WBS-level criticality
analysis, round trends and competitiveness heatmaps.`,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		var err error
		cfg, err = config.Load(configPath)
		if err != nil {
			return err
		}
		if debugMode {
			cfg.Logging.DebugMode = true
		}
		return logging.Initialize(cfg.Logging.DebugMode)
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		logging.Sync()
	},
}

// app bundles the wired services behind one open/close pair. Every
// subcommand opens the app, works, and closes it.
type app struct {
	store      *store.Store
	embedder   *embedding.Service
	vec        *vecindex.Manager
	reconciler *reconcile.Reconciler
	importer   *importer.Importer
	cache      *analysis.Cache
	analysis   *analysis.Builder
	searcher   *catalog.Searcher
	bundles    *bundle.Service

	watcher *config.Watcher
}

func openApp() (*app, error) {
	if err := os.MkdirAll(cfg.Storage.Root, 0o755); err != nil {
		return nil, fmt.Errorf("creating storage root: %w", err)
	}
	st, err := store.New(cfg.Storage.DatabasePath())
	if err != nil {
		return nil, err
	}

	embedder, err := embedding.NewService(embedding.Config{
		Provider:       cfg.NLP.Provider,
		ModelID:        cfg.NLP.ModelID,
		MaxLength:      cfg.NLP.MaxLength,
		BatchSize:      cfg.NLP.BatchSize,
		OllamaEndpoint: cfg.NLP.OllamaEndpoint,
		GenAIAPIKey:    cfg.NLP.GenAIAPIKey,
	})
	if err != nil {
		st.Close()
		return nil, err
	}

	vec := vecindex.NewManager(st)
	cache := analysis.NewCache()
	reconciler := &reconcile.Reconciler{
		Store:             st,
		Embedder:          embedder,
		SemanticThreshold: cfg.Search.SemanticThreshold,
	}

	a := &app{
		store:      st,
		embedder:   embedder,
		vec:        vec,
		reconciler: reconciler,
		cache:      cache,
		importer:   &importer.Importer{Store: st, Reconciler: reconciler, Cache: cache},
		analysis:   &analysis.Builder{Store: st, Cache: cache},
		searcher:   &catalog.Searcher{Store: st, Vec: vec, Embedder: embedder, Config: cfg.Search},
		bundles:    &bundle.Service{Store: st},
	}

	if watchConfig && configPath != "" {
		w, err := config.Watch(configPath, a.applyConfig)
		if err != nil {
			logging.Get(logging.CategoryBoot).Warnf("config watch disabled: %v", err)
		} else {
			a.watcher = w
		}
	}
	return a, nil
}

// applyConfig carries hot-reloadable settings onto the live services:
// NLP model swaps and search thresholds. Storage stays boot-time only.
func (a *app) applyConfig(next *config.Config) {
	if err := a.embedder.Configure(&next.NLP.ModelID, &next.NLP.MaxLength, &next.NLP.BatchSize); err != nil {
		logging.Get(logging.CategoryBoot).Warnf("embedding reconfigure failed: %v", err)
	}
	a.searcher.Config = next.Search
	a.reconciler.SemanticThreshold = next.Search.SemanticThreshold
}

func (a *app) Close() {
	if a.watcher != nil {
		_ = a.watcher.Close()
	}
	_ = a.store.Close()
}

func main() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "tendermatch.yaml", "configuration file")
	rootCmd.PersistentFlags().BoolVar(&debugMode, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().BoolVar(&watchConfig, "watch-config", false, "hot-reload thresholds when the config file changes")

	rootCmd.AddCommand(commessaCmd)
	rootCmd.AddCommand(importCmd)
	rootCmd.AddCommand(catalogCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(priceCmd)
	rootCmd.AddCommand(bundleCmd)
	rootCmd.AddCommand(settingsCmd)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		os.Exit(1)
	}
}
