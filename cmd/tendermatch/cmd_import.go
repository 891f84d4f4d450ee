package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"tendermatch/internal/importer"
	"tendermatch/internal/model"
)

// Import commands consume parser output: a JSON document with the
// parsed lines of one sheet. Raw Excel/SIX parsing happens upstream;
// the engine only enforces the line contract.

var (
	importBidder       string
	importRoundMode    string
	importRound        int
	importProgressives bool
	importLC           bool
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Import project estimates and bidder returns",
}

var importProjectCmd = &cobra.Command{
	Use:   "project [commessa-code] [parsed.json]",
	Short: "Import (or replace) the project estimate of a commessa",
	Args:  cobra.ExactArgs(2),
	RunE:  runImportProject,
}

var importReturnCmd = &cobra.Command{
	Use:   "return [commessa-code] [parsed.json]",
	Short: "Import a bidder return offer against the live project estimate",
	Long: `Imports one bidder return. MC returns (the default) are aligned
line by line against the project estimate; LC returns (--lc) are
price-list sheets whose rows resolve to catalog items instead.

Round assignment:
  --round-mode new      next round for this bidder (default)
  --round-mode replace  replace an existing round (--round selects it)`,
	Args: cobra.ExactArgs(2),
	RunE: runImportReturn,
}

var importBatchCmd = &cobra.Command{
	Use:   "batch [commessa-code] [manifest.json]",
	Short: "Import several bidder returns in one run",
	Long: `Imports the returns listed in a manifest, one commit per bidder:
a failing file reports its error without blocking the others.

Manifest format:
  [{"file": "acme.json", "bidder": "ACME Spa", "round_mode": "new",
    "prefer_progressives": true, "lc": false}, ...]`,
	Args: cobra.ExactArgs(2),
	RunE: runImportBatch,
}

func init() {
	importReturnCmd.Flags().StringVar(&importBidder, "bidder", "", "bidder label (required)")
	importReturnCmd.Flags().StringVar(&importRoundMode, "round-mode", "new", "round assignment: new, auto or replace")
	importReturnCmd.Flags().IntVar(&importRound, "round", 0, "round number targeted by --round-mode replace")
	importReturnCmd.Flags().BoolVar(&importProgressives, "progressives", false, "prefer progressive-number alignment")
	importReturnCmd.Flags().BoolVar(&importLC, "lc", false, "price-list return: resolve rows to catalog items")
	_ = importReturnCmd.MarkFlagRequired("bidder")

	importCmd.AddCommand(importProjectCmd)
	importCmd.AddCommand(importReturnCmd)
	importCmd.AddCommand(importBatchCmd)
}

func loadParsed(path string) (*model.ParsedComputo, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var parsed model.ParsedComputo
	if err := json.Unmarshal(data, &parsed); err != nil {
		return nil, fmt.Errorf("%w: file %s non interpretabile: %v", model.ErrInvalidInput, path, err)
	}
	if parsed.SourceFile == "" {
		parsed.SourceFile = path
	}
	return &parsed, nil
}

func runImportProject(cmd *cobra.Command, args []string) error {
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
	parsed, err := loadParsed(args[1])
	if err != nil {
		return err
	}

	computo, err := a.importer.ImportProject(ctx, commessa.ID, parsed)
	if err != nil {
		return err
	}
	fmt.Printf("Imported project estimate: %d lines", len(parsed.Lines))
	if computo.TotalAmount != nil {
		fmt.Printf(", total %.2f", *computo.TotalAmount)
	}
	fmt.Println()
	if computo.Note != "" {
		fmt.Println(computo.Note)
	}
	return nil
}

func runImportReturn(cmd *cobra.Command, args []string) error {
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
	parsed, err := loadParsed(args[1])
	if err != nil {
		return err
	}

	computo, err := a.importer.ImportReturn(ctx, commessa.ID, parsed, importer.ReturnOptions{
		Bidder:             importBidder,
		RoundMode:          model.RoundMode(importRoundMode),
		RoundNumber:        importRound,
		PreferProgressives: importProgressives,
		LCMode:             importLC,
	})
	if err != nil {
		return err
	}
	fmt.Printf("Imported return for %q, round %d", computo.Bidder, computo.RoundNumber)
	if computo.TotalAmount != nil {
		fmt.Printf(", total %.2f", *computo.TotalAmount)
	}
	fmt.Println()
	if computo.Note != "" {
		fmt.Println(computo.Note)
	}
	return nil
}

// batchEntry is one manifest line of `import batch`.
type batchEntry struct {
	File               string `json:"file"`
	Bidder             string `json:"bidder"`
	RoundMode          string `json:"round_mode"`
	Round              int    `json:"round"`
	PreferProgressives bool   `json:"prefer_progressives"`
	LC                 bool   `json:"lc"`
}

func runImportBatch(cmd *cobra.Command, args []string) error {
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
	var entries []batchEntry
	if err := json.Unmarshal(data, &entries); err != nil {
		return fmt.Errorf("%w: manifest non interpretabile: %v", model.ErrInvalidInput, err)
	}
	if len(entries) == 0 {
		return fmt.Errorf("%w: manifest vuoto", model.ErrInvalidInput)
	}

	limiter := importer.NewSlidingWindow(cfg.RateLimit.ImportPerMinute, time.Minute)
	requests := make([]importer.BatchRequest, 0, len(entries))
	for _, e := range entries {
		if !limiter.Allow("batch") {
			return fmt.Errorf("%w: troppi import richiesti (limite %d/min)",
				model.ErrTransient, cfg.RateLimit.ImportPerMinute)
		}
		parsed, err := loadParsed(e.File)
		if err != nil {
			return err
		}
		mode := e.RoundMode
		if mode == "" {
			mode = "new"
		}
		requests = append(requests, importer.BatchRequest{
			Parsed: parsed,
			Options: importer.ReturnOptions{
				Bidder:             e.Bidder,
				RoundMode:          model.RoundMode(mode),
				RoundNumber:        e.Round,
				PreferProgressives: e.PreferProgressives,
				LCMode:             e.LC,
			},
		})
	}

	results := a.importer.ImportBatch(ctx, commessa.ID, requests)
	failures := 0
	for _, r := range results {
		if r.Err != nil {
			failures++
			fmt.Printf("FAIL  %-30s %v\n", r.Bidder, r.Err)
			continue
		}
		fmt.Printf("OK    %-30s round %d\n", r.Bidder, r.Computo.RoundNumber)
	}
	if failures > 0 {
		return fmt.Errorf("%d of %d imports failed", failures, len(results))
	}
	return nil
}
