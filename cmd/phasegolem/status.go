package main

import (
	"context"
	"fmt"
	"sort"

	"github.com/spf13/cobra"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current status of every active item",
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(flagRoot)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go a.coord.Run(ctx)

		items, err := a.coord.GetSnapshot(ctx)
		if err != nil {
			return err
		}
		sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
		for _, it := range items {
			fmt.Printf("%-20s %-12s %-20s %s\n", it.ID, it.Status, it.Phase, it.Title)
		}
		fmt.Printf("%d active items\n", len(items))
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
