package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"
)

var (
	commessaName string
	commessaBU   string
)

var commessaCmd = &cobra.Command{
	Use:   "commessa",
	Short: "Manage work contracts (commesse)",
}

var commessaCreateCmd = &cobra.Command{
	Use:   "create [code]",
	Short: "Create a new commessa",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommessaCreate,
}

var commessaListCmd = &cobra.Command{
	Use:   "list",
	Short: "List all commesse",
	RunE:  runCommessaList,
}

var commessaDeleteCmd = &cobra.Command{
	Use:   "delete [code]",
	Short: "Delete a commessa and everything it owns",
	Args:  cobra.ExactArgs(1),
	RunE:  runCommessaDelete,
}

func init() {
	commessaCreateCmd.Flags().StringVar(&commessaName, "name", "", "commessa display name")
	commessaCreateCmd.Flags().StringVar(&commessaBU, "business-unit", "", "owning business unit")
	commessaCmd.AddCommand(commessaCreateCmd)
	commessaCmd.AddCommand(commessaListCmd)
	commessaCmd.AddCommand(commessaDeleteCmd)
}

func runCommessaCreate(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	c, err := a.store.CreateCommessa(context.Background(), nil, args[0], commessaName, commessaBU)
	if err != nil {
		return err
	}
	fmt.Printf("Created commessa %s (id %d)\n", c.Code, c.ID)
	return nil
}

func runCommessaList(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	commesse, err := a.store.ListCommesse(context.Background())
	if err != nil {
		return err
	}
	if len(commesse) == 0 {
		fmt.Println("No commesse.")
		return nil
	}
	for _, c := range commesse {
		fmt.Printf("%-12s  %-40s  %s\n", c.Code, c.Name, c.BusinessUnit)
	}
	return nil
}

func runCommessaDelete(cmd *cobra.Command, args []string) error {
	a, err := openApp()
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := context.Background()
	c, err := a.store.GetCommessaByCode(ctx, args[0])
	if err != nil {
		return err
	}
	if err := a.store.DeleteCommessa(ctx, nil, c.ID); err != nil {
		return err
	}
	a.cache.Invalidate(c.ID)
	fmt.Printf("Deleted commessa %s\n", c.Code)
	return nil
}
