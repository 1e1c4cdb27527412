package main

import (
	"context"

	"github.com/spf13/cobra"

	"github.com/sirhamy/phase-golem/internal/agent"
	"github.com/sirhamy/phase-golem/internal/scheduler"
)

var triageCmd = &cobra.Command{
	Use:   "triage",
	Short: "Run the driver loop restricted to new, untriaged items",
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

		filter, err := scheduler.ParseFilter([]string{"status=new"})
		if err != nil {
			return err
		}
		summary, err := a.driver.Run(ctx, scheduler.RunParams{Filter: filter, Root: a.root, ConfigBase: a.configBase})
		if err != nil {
			return err
		}
		printSummary(summary)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(triageCmd)
}
