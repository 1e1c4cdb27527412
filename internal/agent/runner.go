// Package agent implements subprocess supervision for phase-execution
// agents: process-group isolation, timeout enforcement, signal-escalating
// termination, and the AgentRunner abstraction the Executor depends on.
// Grounded on the teacher's internal/agent package (agent.go, claude.go,
// procgroup_unix.go/procgroup_windows.go, mock.go), generalized from a
// named-CLI-adapter registry to the spec's single-purpose runner contract.
package agent

import (
	"context"
	"time"

	"github.com/sirhamy/phase-golem/internal/item"
)

// Runner is the interface the Executor depends on to invoke a phase agent.
// Implementations: CLIRunner (the real subprocess runner) and MockRunner
// (a pre-loaded sequence, for tests).
type Runner interface {
	RunAgent(ctx context.Context, prompt string, resultPath string, timeout time.Duration) (*item.Result, error)
}
