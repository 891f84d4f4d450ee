package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var priceQuantity float64

var priceCmd = &cobra.Command{
	Use:   "price",
	Short: "Manual price corrections on return computi",
}

var priceSetCmd = &cobra.Command{
	Use:   "set [commessa-code] [computo-id] [item-id] [unit-price]",
	Short: "Set one bidder price by hand and rebuild the return snapshot",
	Long: `Overrides the offer of one catalog item inside a return computo.
The return snapshot is rebuilt from its offers, so totals, notes and
the matching report stay consistent with the correction.`,
	Args: cobra.ExactArgs(4),
	RunE: runPriceSet,
}

func init() {
	priceSetCmd.Flags().Float64Var(&priceQuantity, "quantity", 0, "also override the offered quantity")
	priceCmd.AddCommand(priceSetCmd)
}

func runPriceSet(cmd *cobra.Command, args []string) error {
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
	computoID, err := parseID(args[1], "computo")
	if err != nil {
		return err
	}
	itemID, err := parseID(args[2], "voce di listino")
	if err != nil {
		return err
	}
	unitPrice, err := parseFloat(args[3], "prezzo")
	if err != nil {
		return err
	}

	var quantity *float64
	if cmd.Flags().Changed("quantity") {
		quantity = &priceQuantity
	}

	computo, err := a.reconciler.ManualPriceUpdate(ctx, commessa.ID, computoID, itemID, unitPrice, quantity)
	if err != nil {
		return err
	}
	a.cache.Invalidate(commessa.ID)

	fmt.Printf("Updated item %d on computo %d", itemID, computo.ID)
	if computo.TotalAmount != nil {
		fmt.Printf(", new total %.2f", *computo.TotalAmount)
	}
	fmt.Println()
	return nil
}
