package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirhamy/phase-golem/internal/agent"
	"github.com/sirhamy/phase-golem/internal/preflight"
	"github.com/sirhamy/phase-golem/internal/scheduler"
)

var (
	runTargets     []string
	runOnly        []string
	runCap         int
	runAutoAdvance bool
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the main driver loop until a halt condition is reached",
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

		if swept, err := a.store.SweepResultFiles(); err != nil {
			a.logger.Warn("startup sweep of stale result files failed", "err", err)
		} else if swept > 0 {
			a.logger.Info("swept stale result files at startup", "count", swept)
		}

		report, err := preflight.Run(context.Background(), a.store, a.cfg, a.configBase)
		if err != nil {
			return fmt.Errorf("preflight: %w", err)
		}
		for _, f := range report.Findings {
			fmt.Printf("preflight [%s]: %s (%s)\n", f.Severity, f.Condition, f.Location)
		}
		if report.HasErrors() {
			return fmt.Errorf("preflight failed, refusing to run")
		}

		ctx, cancel := context.WithCancel(context.Background())
		stop := agent.WatchSignals(ctx, cancel)
		defer stop()
		defer agent.KillAllChildren()

		go a.coord.Run(ctx)

		var filter *scheduler.Filter
		if len(runOnly) > 0 {
			filter, err = scheduler.ParseFilter(runOnly)
			if err != nil {
				return fmt.Errorf("invalid --only filter: %w", err)
			}
		}

		summary, err := a.driver.Run(ctx, scheduler.RunParams{
			Targets:     runTargets,
			Filter:      filter,
			Cap:         runCap,
			AutoAdvance: runAutoAdvance,
			Root:        a.root,
			ConfigBase:  a.configBase,
		})
		if err != nil {
			return err
		}

		if swept, sweepErr := a.store.SweepResultFiles(); sweepErr != nil {
			a.logger.Warn("shutdown sweep of stale result files failed", "err", sweepErr)
		} else if swept > 0 {
			a.logger.Info("swept stale result files on shutdown", "count", swept)
		}

		printSummary(summary)
		if exitNonZero(summary) {
			os.Exit(1)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringArrayVar(&runTargets, "target", nil, "run only the named item(s), in order (repeatable)")
	runCmd.Flags().StringArrayVar(&runOnly, "only", nil, "restrict to items matching field=value[,value] criteria (repeatable)")
	runCmd.Flags().IntVar(&runCap, "cap", 0, "stop after dispatching this many phases (0 = unlimited)")
	runCmd.Flags().BoolVar(&runAutoAdvance, "auto-advance", false, "skip past blocked targets instead of halting")
	rootCmd.AddCommand(runCmd)
}

func printSummary(s *scheduler.Summary) {
	fmt.Printf("halt: %s\n", s.Halt)
	fmt.Printf("phases executed: %d\n", s.PhasesExecuted)
	fmt.Printf("items completed: %v\n", s.ItemsCompleted)
	fmt.Printf("items blocked: %v\n", s.ItemsBlocked)
	fmt.Printf("follow-ups created: %d\n", s.FollowUpsCreated)
	fmt.Printf("items merged: %d\n", s.ItemsMerged)
}

// exitNonZero implements spec §7's exit-code rule for finished runs: only a
// targeted run (--target) with at least one item blocked and none completed
// exits non-zero. Runs that never got off the ground (preflight failure,
// lock contention) exit non-zero through the error RunE returns instead.
func exitNonZero(s *scheduler.Summary) bool {
	if len(runTargets) > 0 {
		return len(s.ItemsCompleted) == 0 && len(s.ItemsBlocked) > 0
	}
	return false
}
