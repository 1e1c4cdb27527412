// Package executor runs one phase for one item: the staleness gate against
// the content repository, subprocess invocation through an agent.Runner,
// the bounded retry loop, and the pure transition resolver that turns a
// phase result into a list of item.Update values. Grounded on the
// teacher's internal/loop/runner.go (the retry-with-cancellation shape)
// and internal/task/selector.go (guardrail comparison), recombined around
// the spec's phase-result vocabulary instead of Raven's task/step model.
package executor

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sirhamy/phase-golem/internal/agent"
	"github.com/sirhamy/phase-golem/internal/item"
)

// OutcomeKind classifies how a phase execution ended.
type OutcomeKind int

const (
	OutcomeSuccess OutcomeKind = iota
	OutcomeSubphaseComplete
	OutcomeFailed
	OutcomeBlocked
	OutcomeCancelled
)

// Outcome is the Executor's return value.
type Outcome struct {
	Kind      OutcomeKind
	Result    *item.Result // set for Success/SubphaseComplete
	Reason    string       // set for Failed/Blocked
	ChangeDir string       // the resolved {root}/changes/{id}_{slug} directory
}

// Coordinator is the narrow slice of coordinator.Coordinator the Executor
// depends on: structurally satisfied, no import of internal/coordinator
// needed (and none wanted -- the Executor has no business knowing about the
// item store or the pending-commit batch).
type Coordinator interface {
	IsAncestor(ctx context.Context, sha string) (bool, error)
	GetHeadSha(ctx context.Context) (string, error)
	RecordPhaseStart(ctx context.Context, itemID, sha string) error
}

// RetryConfig bounds the Executor's attempt loop.
type RetryConfig struct {
	MaxRetries   int
	PhaseTimeout time.Duration
}

// Executor runs a single phase invocation for a single item.
type Executor struct {
	Coordinator Coordinator
	Runner      agent.Runner
	Retry       RetryConfig
	Root        string
	ConfigBase  string
	Logger      *log.Logger
}

// New constructs an Executor.
func New(coord Coordinator, runner agent.Runner, retry RetryConfig, root, configBase string, logger *log.Logger) *Executor {
	return &Executor{Coordinator: coord, Runner: runner, Retry: retry, Root: root, ConfigBase: configBase, Logger: logger}
}

// Run executes phase `ph` for item `it`, following spec §4.3's algorithm:
// staleness gate, phase-start recording, path resolution, then a bounded
// retry loop around the agent invocation.
func (e *Executor) Run(ctx context.Context, it item.Item, ph item.PhaseConfig, previousSummary string) (outcome Outcome) {
	if ph.Destructive {
		if out, blocked := e.checkStaleness(ctx, it, ph); blocked {
			return out
		}
	}

	sha, err := e.Coordinator.GetHeadSha(ctx)
	if err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("recording phase start: %v", err)}
	}
	if err := e.Coordinator.RecordPhaseStart(ctx, it.ID, sha); err != nil {
		return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("recording phase start: %v", err)}
	}

	resultPath := filepath.Join(e.Root, ".phase-golem", fmt.Sprintf("phase_result_%s_%s.json", it.ID, ph.Name))
	changeDir := resolveChangeDir(e.Root, it)
	defer func() { outcome.ChangeDir = changeDir }()

	maxAttempts := e.Retry.MaxRetries + 1
	var failureContext string
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		select {
		case <-ctx.Done():
			return Outcome{Kind: OutcomeCancelled}
		default:
		}

		prompt := buildPrompt(it, ph, changeDir, resultPath, previousSummary, failureContext, e.ConfigBase)

		result, runErr := e.Runner.RunAgent(ctx, prompt, resultPath, e.Retry.PhaseTimeout)
		if ctx.Err() != nil {
			return Outcome{Kind: OutcomeCancelled}
		}
		if runErr != nil {
			if attempt == maxAttempts {
				return Outcome{Kind: OutcomeFailed, Reason: runErr.Error()}
			}
			failureContext = runErr.Error()
			continue
		}

		if result.ItemID != it.ID || result.Phase != ph.Name {
			return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf(
				"identity mismatch: expected item %q phase %q, got %q/%q", it.ID, ph.Name, result.ItemID, result.Phase)}
		}

		switch result.Result {
		case item.ResultSubphaseComplete:
			return Outcome{Kind: OutcomeSubphaseComplete, Result: result}
		case item.ResultPhaseComplete:
			return Outcome{Kind: OutcomeSuccess, Result: result}
		case item.ResultBlocked:
			reason := result.Context
			if reason == "" {
				reason = result.Summary
			}
			return Outcome{Kind: OutcomeBlocked, Reason: reason}
		case item.ResultFailed:
			if attempt == maxAttempts {
				return Outcome{Kind: OutcomeFailed, Reason: result.Summary}
			}
			failureContext = result.Summary
			continue
		default:
			if attempt == maxAttempts {
				return Outcome{Kind: OutcomeFailed, Reason: fmt.Sprintf("unrecognized result code %q", result.Result)}
			}
			failureContext = fmt.Sprintf("unrecognized result code %q", result.Result)
		}
	}
	return Outcome{Kind: OutcomeFailed, Reason: "retry loop exhausted without a terminal result"}
}

// checkStaleness implements the staleness gate for destructive phases. The
// bool is true (caller should stop) when the ancestry check itself fails,
// whatever the policy, or when the base commit is stale and the phase's
// policy says Block.
func (e *Executor) checkStaleness(ctx context.Context, it item.Item, ph item.PhaseConfig) (Outcome, bool) {
	if it.LastPhaseCommit == "" {
		return Outcome{}, false
	}
	ancestor, err := e.Coordinator.IsAncestor(ctx, it.LastPhaseCommit)
	if err != nil {
		return Outcome{Kind: OutcomeBlocked, Reason: fmt.Sprintf("staleness check failed: %v", err)}, true
	}
	if ancestor {
		return Outcome{}, false
	}
	switch ph.Staleness {
	case item.StalenessIgnore:
		return Outcome{}, false
	case item.StalenessWarn:
		if e.Logger != nil {
			e.Logger.Warn("phase base commit is stale", "item", it.ID, "phase", ph.Name, "commit", it.LastPhaseCommit)
		}
		return Outcome{}, false
	default: // StalenessBlock, or unset defaults to the safe choice
		return Outcome{Kind: OutcomeBlocked, Reason: fmt.Sprintf("Stale: prior phase based on commit %s no longer in history", it.LastPhaseCommit)}, true
	}
}

var slugNonAlnum = regexp.MustCompile(`[^a-z0-9]+`)

func slugify(title string) string {
	s := strings.ToLower(title)
	s = slugNonAlnum.ReplaceAllString(s, "-")
	return strings.Trim(s, "-")
}

// resolveChangeDir returns the first existing directory under
// {root}/changes/ prefixed by {id}_, creating {root}/changes/{id}_{slug}
// if none exists.
func resolveChangeDir(root string, it item.Item) string {
	base := filepath.Join(root, "changes")
	prefix := it.ID + "_"
	if entries, err := os.ReadDir(base); err == nil {
		for _, e := range entries {
			if e.IsDir() && strings.HasPrefix(e.Name(), prefix) {
				return filepath.Join(base, e.Name())
			}
		}
	}
	dir := filepath.Join(base, prefix+slugify(it.Title))
	_ = os.MkdirAll(dir, 0o755)
	return dir
}

// buildPrompt assembles the prompt text for one attempt. The exact wording
// is outside core scope (spec §1 non-goals); this includes every element
// §4.3 step 4 requires a prompt to carry.
func buildPrompt(it item.Item, ph item.PhaseConfig, changeDir, resultPath, previousSummary, failureContext, configBase string) string {
	var b strings.Builder
	fmt.Fprintf(&b, "item: %s\nphase: %s\nresult_file: %s\nchange_folder: %s\n", it.ID, ph.Name, resultPath, changeDir)
	fmt.Fprintf(&b, "assessments: size=%s complexity=%s risk=%s impact=%s\n", it.Size, it.Complexity, it.Risk, it.Impact)
	if it.Description != nil && !it.Description.Empty() {
		fmt.Fprintf(&b, "description:\n  context: %s\n  problem: %s\n  solution: %s\n  impact: %s\n  sizing_rationale: %s\n",
			it.Description.Context, it.Description.Problem, it.Description.Solution, it.Description.Impact, it.Description.SizingRationale)
	}
	if previousSummary != "" {
		fmt.Fprintf(&b, "previous_summary: %s\n", previousSummary)
	}
	if it.UnblockContext != "" {
		fmt.Fprintf(&b, "unblock_context: %s\n", it.UnblockContext)
	}
	if failureContext != "" {
		fmt.Fprintf(&b, "previous_failure: %s\n", failureContext)
	}
	for _, wf := range ph.WorkflowFiles {
		full := wf
		if !filepath.IsAbs(full) {
			full = filepath.Join(configBase, wf)
		}
		fmt.Fprintf(&b, "workflow_file: %s\n", full)
	}
	return b.String()
}
