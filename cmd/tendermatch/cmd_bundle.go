package main

import (
	"context"
	"fmt"
	"os"
	"strconv"

	"github.com/spf13/cobra"

	"tendermatch/internal/model"
)

var (
	bundleOutput    string
	bundleOverwrite bool
)

var bundleCmd = &cobra.Command{
	Use:   "bundle",
	Short: "Export and import commessa bundles (.mmcomm)",
}

var bundleExportCmd = &cobra.Command{
	Use:   "export [commessa-code]",
	Short: "Export one commessa as a .mmcomm archive",
	Args:  cobra.ExactArgs(1),
	RunE:  runBundleExport,
}

var bundleImportCmd = &cobra.Command{
	Use:   "import [file.mmcomm]",
	Short: "Import a commessa bundle",
	Long: `Restores a bundle into this installation. A commessa with the same
code is a conflict unless --overwrite is set, in which case it is
replaced wholesale.`,
	Args: cobra.ExactArgs(1),
	RunE: runBundleImport,
}

func init() {
	bundleExportCmd.Flags().StringVarP(&bundleOutput, "output", "o", "", "output file (default <code>.mmcomm)")
	bundleImportCmd.Flags().BoolVar(&bundleOverwrite, "overwrite", false, "replace an existing commessa with the same code")
	bundleCmd.AddCommand(bundleExportCmd)
	bundleCmd.AddCommand(bundleImportCmd)
}

func runBundleExport(cmd *cobra.Command, args []string) error {
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

	data, err := a.bundles.Export(ctx, commessa.ID)
	if err != nil {
		return err
	}
	out := bundleOutput
	if out == "" {
		out = commessa.Code + ".mmcomm"
	}
	if err := os.WriteFile(out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Exported %s to %s (%d bytes)\n", commessa.Code, out, len(data))
	return nil
}

func runBundleImport(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}
	commessa, err := a.bundles.Import(context.Background(), data, bundleOverwrite)
	if err != nil {
		return err
	}
	fmt.Printf("Imported commessa %s (id %d)\n", commessa.Code, commessa.ID)
	return nil
}

// parseID converts a numeric CLI argument into an id.
func parseID(arg, what string) (int64, error) {
	id, err := strconv.ParseInt(arg, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("%w: id %s %q non valido", model.ErrInvalidInput, what, arg)
	}
	return id, nil
}

func parseFloat(arg, what string) (float64, error) {
	v, err := strconv.ParseFloat(arg, 64)
	if err != nil {
		return 0, fmt.Errorf("%w: %s %q non valido", model.ErrInvalidInput, what, arg)
	}
	return v, nil
}
