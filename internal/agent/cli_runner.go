package agent

import (
	"context"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"
	"github.com/google/uuid"

	"github.com/sirhamy/phase-golem/internal/item"
	"github.com/sirhamy/phase-golem/internal/jsonutil"
)

var _ Runner = (*CLIRunner)(nil)

// CLIRunner spawns the configured agent CLI as a subprocess for each phase
// invocation, following the process-lifecycle contract of spec §4.4:
// stdin redirected to null, a new process group, a pre-spawn stale-file
// delete, a timeout-or-exit wait, and policy-driven result interpretation.
type CLIRunner struct {
	// Command is the agent CLI executable, e.g. "claude".
	Command string
	// ExtraArgs are appended after the runner's own flags.
	ExtraArgs []string
	// PromptDir is where per-invocation prompt temp files are written.
	PromptDir string

	Logger *log.Logger
}

// NewCLIRunner constructs a CLIRunner. promptDir defaults to os.TempDir()
// if empty.
func NewCLIRunner(command string, extraArgs []string, promptDir string, logger *log.Logger) *CLIRunner {
	if promptDir == "" {
		promptDir = os.TempDir()
	}
	return &CLIRunner{Command: command, ExtraArgs: extraArgs, PromptDir: promptDir, Logger: logger}
}

// RunAgent spawns the agent, waits for it to terminate (or the timeout to
// elapse, or shutdown to be requested), and returns the parsed result.
func (r *CLIRunner) RunAgent(ctx context.Context, prompt string, resultPath string, timeout time.Duration) (*item.Result, error) {
	// Pre-spawn: unconditionally delete any stale result file. No TOCTOU
	// check -- open-and-overwrite would not detect staleness anyway.
	_ = os.Remove(resultPath)

	promptFile, err := r.writePromptFile(prompt)
	if err != nil {
		return nil, fmt.Errorf("agent: writing prompt file: %w", err)
	}
	defer os.Remove(promptFile) //nolint:errcheck

	runCtx, runCancel := context.WithTimeout(ctx, timeout)
	defer runCancel()

	args := append([]string{"--prompt-file", promptFile, "--result-file", resultPath}, r.ExtraArgs...)
	cmd := exec.CommandContext(runCtx, r.Command, args...)
	devNull, err := os.Open(os.DevNull)
	if err != nil {
		return nil, fmt.Errorf("agent: opening %s: %w", os.DevNull, err)
	}
	defer devNull.Close() //nolint:errcheck
	cmd.Stdin = devNull

	setProcGroup(cmd)

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("agent: starting %s: %w", r.Command, err)
	}

	pgid := procGroupID(cmd.Process.Pid)
	globalGroups.add(pgid)

	waitErr := cmd.Wait()
	globalGroups.remove(pgid)

	if runCtx.Err() != nil {
		killGroupEscalating(pgid)
		return nil, fmt.Errorf("agent: timed out after %s", timeout)
	}

	if IsShuttingDown() {
		killGroupEscalating(pgid)
		return nil, fmt.Errorf("agent: shutdown requested")
	}

	result, parseErr := readResult(resultPath)
	if parseErr != nil {
		if waitErr != nil {
			return nil, fmt.Errorf("agent: exited with error and no parseable result: %w", waitErr)
		}
		return nil, fmt.Errorf("agent: result file unparseable: %w", parseErr)
	}

	if waitErr != nil && r.Logger != nil {
		r.Logger.Warn("agent exited non-zero but reported a result; trusting reported outcome", "err", waitErr)
	}

	_ = os.Remove(resultPath)
	return result, nil
}

func (r *CLIRunner) writePromptFile(prompt string) (string, error) {
	name := filepath.Join(r.PromptDir, fmt.Sprintf("phase-golem-prompt-%s.md", uuid.NewString()))
	if err := os.WriteFile(name, []byte(prompt), 0o644); err != nil {
		return "", err
	}
	return name, nil
}

// readResult parses the agent's result file. Agent CLIs sometimes wrap their
// structured output in markdown fences or surround it with explanatory prose,
// so this uses jsonutil's tolerant extractor rather than a bare Unmarshal.
func readResult(path string) (*item.Result, error) {
	var result item.Result
	if err := jsonutil.ExtractFromFile(path, &result); err != nil {
		return nil, fmt.Errorf("decoding result file: %w", err)
	}
	return &result, nil
}
