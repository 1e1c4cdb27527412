package main

import (
	"context"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/sirhamy/phase-golem/internal/agent"
	"github.com/sirhamy/phase-golem/internal/item"
	"github.com/sirhamy/phase-golem/internal/scheduler"
)

var advanceToPhase string

var advanceCmd = &cobra.Command{
	Use:   "advance <id>",
	Short: "Run the driver loop targeted at a single item until it halts",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		guard, err := acquireLock(flagRoot)
		if err != nil {
			return err
		}
		defer guard.Release()

		a, err := newApp(flagRoot)
		if err != nil {
			return err
		}
		ctx, cancel := context.WithCancel(context.Background())
		stop := agent.WatchSignals(ctx, cancel)
		defer stop()
		defer agent.KillAllChildren()
		go a.coord.Run(ctx)

		if advanceToPhase != "" {
			if err := a.coord.UpdateItem(ctx, args[0], item.SetPhase(advanceToPhase)); err != nil {
				return fmt.Errorf("setting target phase: %w", err)
			}
		}

		summary, err := a.driver.Run(ctx, scheduler.RunParams{Targets: []string{args[0]}, Root: a.root, ConfigBase: a.configBase})
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

func init() {
	advanceCmd.Flags().StringVar(&advanceToPhase, "to", "", "set the item's current phase before running")
	rootCmd.AddCommand(advanceCmd)
}
