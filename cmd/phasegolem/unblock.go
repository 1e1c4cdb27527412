package main

import (
	"context"

	"github.com/spf13/cobra"
)

var unblockNotes string

var unblockCmd = &cobra.Command{
	Use:   "unblock <id>",
	Short: "Restore a blocked item to the status it was blocked from",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		a, err := newApp(flagRoot)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(context.Background())
		defer cancel()
		go a.coord.Run(ctx)

		return a.coord.UnblockItem(ctx, args[0], unblockNotes)
	},
}

func init() {
	unblockCmd.Flags().StringVar(&unblockNotes, "notes", "", "context to attach for the next phase attempt")
	rootCmd.AddCommand(unblockCmd)
}
