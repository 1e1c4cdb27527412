// Command phasegolem runs the priority-driven item pipeline described in
// SPEC_FULL.md: a Coordinator/Scheduler/Executor triple wired together
// behind a thin cobra CLI. Grounded on the teacher's internal/cli/root.go
// (PersistentPreRunE -> logging.Setup wiring, global flag set) but with
// phase-golem's own subcommands instead of Raven's PRD/review/pr surface.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/sirhamy/phase-golem/internal/config"
	"github.com/sirhamy/phase-golem/internal/logging"
)

var (
	flagVerbose       bool
	flagQuiet         bool
	flagRoot          string
	flagConfig        string
	flagMaxWIP        int
	flagMaxConcurrent int
	flagAgentCommand  string
)

var rootCmd = &cobra.Command{
	Use:   "phasegolem",
	Short: "Priority-driven item pipeline runner",
	Long: `phasegolem drives items through a configured pipeline of phases,
dispatching an AI agent per phase, recording outcomes in a git-backed item
store, and halting on one of a fixed set of conditions (all done, circuit
breaker, cap reached, shutdown).`,
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return cmd.Help()
	},
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		logging.Setup(flagVerbose, flagQuiet, false)
		if flagRoot == "" {
			wd, err := os.Getwd()
			if err != nil {
				return fmt.Errorf("resolving working directory: %w", err)
			}
			flagRoot = wd
		}
		return nil
	},
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&flagVerbose, "verbose", "v", false, "enable verbose (debug) output")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress all output except errors")
	rootCmd.PersistentFlags().StringVar(&flagRoot, "root", "", "project root (defaults to the current directory)")
	rootCmd.PersistentFlags().StringVar(&flagConfig, "config", "", "path to phase-golem.toml (defaults to {root}/phase-golem.toml)")
	rootCmd.PersistentFlags().IntVar(&flagMaxWIP, "max-wip", 0, "override execution.max_wip for this invocation")
	rootCmd.PersistentFlags().IntVar(&flagMaxConcurrent, "max-concurrent", 0, "override execution.max_concurrent for this invocation")
	rootCmd.PersistentFlags().StringVar(&flagAgentCommand, "agent", "", "override agent.command for this invocation")
}

// cliOverrides builds a config.CLIOverrides from whichever of --max-wip,
// --max-concurrent, and --agent were actually set on the command line; an
// unset flag leaves its field nil so Resolve falls through to the file or
// default value instead of clobbering it with a flag's zero value.
func cliOverrides() *config.CLIOverrides {
	o := &config.CLIOverrides{}
	flags := rootCmd.PersistentFlags()
	if flags.Changed("max-wip") {
		o.MaxWIP = &flagMaxWIP
	}
	if flags.Changed("max-concurrent") {
		o.MaxConcurrent = &flagMaxConcurrent
	}
	if flags.Changed("agent") {
		o.AgentCommand = &flagAgentCommand
	}
	return o
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
