package e2e_test

import (
	"context"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/charmbracelet/log"
	"github.com/stretchr/testify/require"

	"github.com/sirhamy/phase-golem/internal/agent"
	"github.com/sirhamy/phase-golem/internal/config"
	"github.com/sirhamy/phase-golem/internal/coordinator"
	"github.com/sirhamy/phase-golem/internal/executor"
	"github.com/sirhamy/phase-golem/internal/gitrepo"
	"github.com/sirhamy/phase-golem/internal/item"
	"github.com/sirhamy/phase-golem/internal/scheduler"
	"github.com/sirhamy/phase-golem/internal/store"
	"github.com/sirhamy/phase-golem/internal/worklog"
)

// These exercise the six end-to-end scenarios of SPEC_FULL.md's "testable
// properties" section against the real Coordinator, a real git repository,
// and a real Executor -- only the agent subprocess is replaced, by
// agent.MockRunner, so each scenario's agent behavior can be scripted.

func runGit(t *testing.T, dir string, args ...string) string {
	t.Helper()
	cmd := exec.Command("git", args...)
	cmd.Dir = dir
	cmd.Env = append(os.Environ(),
		"GIT_AUTHOR_NAME=test", "GIT_AUTHOR_EMAIL=test@example.com",
		"GIT_COMMITTER_NAME=test", "GIT_COMMITTER_EMAIL=test@example.com")
	out, err := cmd.CombinedOutput()
	require.NoError(t, err, "git %v: %s", args, out)
	return strings.TrimSpace(string(out))
}

// newScenarioRepo initializes a real git repository with one seed commit.
func newScenarioRepo(t *testing.T) string {
	t.Helper()
	dir := t.TempDir()
	runGit(t, dir, "init")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "README.md"), []byte("seed\n"), 0o644))
	runGit(t, dir, "add", "README.md")
	runGit(t, dir, "commit", "-m", "seed")
	return dir
}

// commitCount returns the number of commits reachable from HEAD.
func commitCount(t *testing.T, dir string) int {
	t.Helper()
	out := runGit(t, dir, "rev-list", "--count", "HEAD")
	n := 0
	for _, c := range out {
		n = n*10 + int(c-'0')
	}
	return n
}

// nonAncestorSHA returns a real, resolvable commit id that is provably NOT
// an ancestor of dir's current HEAD: a commit made on a throwaway branch
// checked out from HEAD, then abandoned by switching back. This reaches
// IsAncestor's "false, nil" path rather than its "unknown object" error
// path, which an arbitrary string would hit instead.
func nonAncestorSHA(t *testing.T, dir string) string {
	t.Helper()
	branch := runGit(t, dir, "symbolic-ref", "--short", "HEAD")
	runGit(t, dir, "checkout", "-b", "throwaway")
	require.NoError(t, os.WriteFile(filepath.Join(dir, "throwaway.txt"), []byte("diverged\n"), 0o644))
	runGit(t, dir, "add", "throwaway.txt")
	runGit(t, dir, "commit", "-m", "diverge")
	sha := runGit(t, dir, "rev-parse", "HEAD")
	runGit(t, dir, "checkout", branch)
	return sha
}

func seedItems(t *testing.T, root string, items ...item.Item) {
	t.Helper()
	st := store.New(filepath.Join(root, ".phase-golem"))
	require.NoError(t, st.SaveActive(items))
}

// newScenarioCoordinator wires a Coordinator over a real repo/store/worklog,
// matching internal/coordinator/coordinator_test.go's own fixture pattern.
func newScenarioCoordinator(t *testing.T, root string) (*coordinator.Coordinator, context.Context, func()) {
	t.Helper()
	st := store.New(filepath.Join(root, ".phase-golem"))
	repo := gitrepo.New(root)
	wl := worklog.New(root)
	logger := log.New(os.Stderr)

	c := coordinator.New(st, repo, wl, logger)
	ctx, cancel := context.WithCancel(context.Background())
	go c.Run(ctx)
	return c, ctx, cancel
}

// featurePipeline is the pipeline shared by every scenario: no pre-phases,
// three main phases, `build` destructive and blocking on staleness.
func featurePipeline() item.PipelineConfig {
	return item.PipelineConfig{
		Name: "feature",
		MainPhases: []item.PhaseConfig{
			{Name: "prd"},
			{Name: "build", Destructive: true, Staleness: item.StalenessBlock},
			{Name: "review"},
		},
	}
}

func scenarioConfig(maxWIP, maxConcurrent int) *config.Config {
	return &config.Config{
		Execution:  config.ExecutionConfig{MaxWIP: maxWIP, MaxConcurrent: maxConcurrent},
		Guardrails: config.GuardrailsConfig{},
		Retry:      config.RetryConfig{MaxRetries: 1},
		Pipelines:  map[string]item.PipelineConfig{"feature": featurePipeline()},
	}
}

func newExecutor(coord *coordinator.Coordinator, runner agent.Runner, root string, retry executor.RetryConfig) *executor.Executor {
	return executor.New(coord, runner, retry, root, root, log.New(os.Stderr))
}

func worklogText(t *testing.T, root string) string {
	t.Helper()
	entries, err := os.ReadDir(filepath.Join(root, "_worklog"))
	require.NoError(t, err)
	var all strings.Builder
	for _, e := range entries {
		b, err := os.ReadFile(filepath.Join(root, "_worklog", e.Name()))
		require.NoError(t, err)
		all.Write(b)
	}
	return all.String()
}

// Scenario A -- happy path through main phases.
func TestScenarioA_HappyPathThroughMainPhases(t *testing.T) {
	root := newScenarioRepo(t)
	now := time.Now().UTC()
	seedItems(t, root, item.Item{
		ID: "item-1", Title: "Widget", Status: item.StatusInProgress, Phase: "prd", PhasePool: item.PoolMain,
		PipelineType: "feature", CreatedAt: now, UpdatedAt: now,
	})

	coord, ctx, stop := newScenarioCoordinator(t, root)
	defer stop()

	before := commitCount(t, root)

	runner := agent.NewMockRunner(
		agent.MockStep{Result: &item.Result{ItemID: "item-1", Phase: "prd", Result: item.ResultPhaseComplete, Summary: "did prd"}},
		agent.MockStep{Result: &item.Result{ItemID: "item-1", Phase: "build", Result: item.ResultPhaseComplete, Summary: "did build"}},
		agent.MockStep{Result: &item.Result{ItemID: "item-1", Phase: "review", Result: item.ResultPhaseComplete, Summary: "did review"}},
	)
	exec := newExecutor(coord, runner, root, executor.RetryConfig{MaxRetries: 1, PhaseTimeout: time.Minute})
	driver := scheduler.New(coord, exec.Run, scenarioConfig(5, 5), log.New(os.Stderr))

	summary, err := driver.Run(ctx, scheduler.RunParams{})
	require.NoError(t, err)

	require.Equal(t, scheduler.HaltAllDoneOrBlocked, summary.Halt)
	require.Equal(t, []string{"item-1"}, summary.ItemsCompleted)

	snap, err := coord.GetSnapshot(ctx)
	require.NoError(t, err)
	require.Empty(t, snap, "item-1 must be archived, not left active")

	wl := worklogText(t, root)
	require.Contains(t, wl, "Phase: prd\nOutcome: Complete")
	require.Contains(t, wl, "Phase: build\nOutcome: Complete")
	require.Contains(t, wl, "Phase: review\nOutcome: Complete")

	after := commitCount(t, root)
	require.Equal(t, before+2, after, "expected one destructive commit for build plus one batch commit for prd+review")
}

// Scenario B -- staleness blocks a destructive phase.
func TestScenarioB_StalenessBlocksDestructivePhase(t *testing.T) {
	root := newScenarioRepo(t)
	staleSHA := nonAncestorSHA(t, root)

	now := time.Now().UTC()
	seedItems(t, root, item.Item{
		ID: "item-1", Title: "Widget", Status: item.StatusInProgress, Phase: "build", PhasePool: item.PoolMain,
		PipelineType: "feature", LastPhaseCommit: staleSHA, CreatedAt: now, UpdatedAt: now,
	})

	coord, ctx, stop := newScenarioCoordinator(t, root)
	defer stop()

	runner := agent.NewMockRunner() // no steps: the staleness gate must stop before any call
	exec := newExecutor(coord, runner, root, executor.RetryConfig{MaxRetries: 1, PhaseTimeout: time.Minute})
	driver := scheduler.New(coord, exec.Run, scenarioConfig(5, 5), log.New(os.Stderr))

	summary, err := driver.Run(ctx, scheduler.RunParams{})
	require.NoError(t, err)

	require.Equal(t, []string{"item-1"}, summary.ItemsBlocked)
	require.Empty(t, runner.Calls, "no subprocess should be spawned once staleness blocks the phase")

	snap, err := coord.GetSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	require.Equal(t, item.StatusBlocked, snap[0].Status)
}

// Scenario C -- retry then fail.
func TestScenarioC_RetryThenFail(t *testing.T) {
	root := newScenarioRepo(t)
	now := time.Now().UTC()
	seedItems(t, root, item.Item{
		ID: "item-1", Title: "Widget", Status: item.StatusInProgress, Phase: "prd", PhasePool: item.PoolMain,
		PipelineType: "feature", CreatedAt: now, UpdatedAt: now,
	})

	coord, ctx, stop := newScenarioCoordinator(t, root)
	defer stop()

	runner := agent.NewMockRunner(
		agent.MockStep{Result: &item.Result{ItemID: "item-1", Phase: "prd", Result: item.ResultFailed, Summary: "oops"}},
		agent.MockStep{Result: &item.Result{ItemID: "item-1", Phase: "prd", Result: item.ResultFailed, Summary: "oops"}},
	)
	exec := newExecutor(coord, runner, root, executor.RetryConfig{MaxRetries: 1, PhaseTimeout: time.Minute})
	driver := scheduler.New(coord, exec.Run, scenarioConfig(5, 5), log.New(os.Stderr))

	summary, err := driver.Run(ctx, scheduler.RunParams{})
	require.NoError(t, err)

	require.Equal(t, []string{"item-1"}, summary.ItemsBlocked)
	require.Len(t, runner.Calls, 2, "max_retries=1 allows two total attempts")

	snap, err := coord.GetSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	require.Equal(t, item.StatusBlocked, snap[0].Status)
	require.Contains(t, snap[0].BlockedReason, "oops")
}

// Scenario D -- circuit breaker trips after two items each exhaust retries.
func TestScenarioD_CircuitBreakerTrips(t *testing.T) {
	root := newScenarioRepo(t)
	now := time.Now().UTC()
	seedItems(t, root,
		item.Item{ID: "item-1", Title: "A", Status: item.StatusInProgress, Phase: "prd", PhasePool: item.PoolMain, PipelineType: "feature", CreatedAt: now, UpdatedAt: now},
		item.Item{ID: "item-2", Title: "B", Status: item.StatusInProgress, Phase: "prd", PhasePool: item.PoolMain, PipelineType: "feature", CreatedAt: now.Add(time.Second), UpdatedAt: now},
	)

	coord, ctx, stop := newScenarioCoordinator(t, root)
	defer stop()

	retry := executor.RetryConfig{MaxRetries: 1, PhaseTimeout: time.Minute}
	runnerA := agent.NewMockRunner(
		agent.MockStep{Result: &item.Result{ItemID: "item-1", Phase: "prd", Result: item.ResultFailed, Summary: "oops"}},
		agent.MockStep{Result: &item.Result{ItemID: "item-1", Phase: "prd", Result: item.ResultFailed, Summary: "oops"}},
	)
	runnerB := agent.NewMockRunner(
		agent.MockStep{Result: &item.Result{ItemID: "item-2", Phase: "prd", Result: item.ResultFailed, Summary: "oops"}},
		agent.MockStep{Result: &item.Result{ItemID: "item-2", Phase: "prd", Result: item.ResultFailed, Summary: "oops"}},
	)
	execA := newExecutor(coord, runnerA, root, retry)
	execB := newExecutor(coord, runnerB, root, retry)

	routes := map[string]scheduler.PhaseRunner{"item-1": execA.Run, "item-2": execB.Run}
	routed := func(ctx context.Context, it item.Item, ph item.PhaseConfig, previousSummary string) executor.Outcome {
		if r, ok := routes[it.ID]; ok {
			return r(ctx, it, ph, previousSummary)
		}
		return executor.Outcome{Kind: executor.OutcomeFailed, Reason: "no route for item " + it.ID}
	}

	driver := scheduler.New(coord, routed, scenarioConfig(5, 5), log.New(os.Stderr))

	summary, err := driver.Run(ctx, scheduler.RunParams{})
	require.NoError(t, err)

	require.Equal(t, scheduler.HaltCircuitBreaker, summary.Halt)
	require.ElementsMatch(t, []string{"item-1", "item-2"}, summary.ItemsBlocked)

	snap, err := coord.GetSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 2)
	for _, it := range snap {
		require.Equal(t, item.StatusBlocked, it.Status)
	}
}

// Scenario E -- triage with merge. Higher numeric suffix is the source.
func TestScenarioE_TriageWithMerge(t *testing.T) {
	root := newScenarioRepo(t)
	now := time.Now().UTC()
	seedItems(t, root,
		item.Item{ID: "item-005", Title: "Dup of B", Status: item.StatusNew, CreatedAt: now, UpdatedAt: now},
		item.Item{ID: "item-003", Title: "Original", Status: item.StatusNew, CreatedAt: now.Add(time.Second), UpdatedAt: now},
	)

	coord, ctx, stop := newScenarioCoordinator(t, root)
	defer stop()

	runner := agent.NewMockRunner(
		agent.MockStep{Result: &item.Result{
			ItemID: "item-005", Phase: "triage", Result: item.ResultPhaseComplete,
			Summary: "duplicate of item-003", Duplicates: []string{"item-003"},
		}},
	)
	exec := newExecutor(coord, runner, root, executor.RetryConfig{MaxRetries: 1, PhaseTimeout: time.Minute})
	driver := scheduler.New(coord, exec.Run, scenarioConfig(5, 5), log.New(os.Stderr))

	before := commitCount(t, root)
	// Target item-005 directly so only its triage runs; item-003 is touched
	// only as the merge's target, never dispatched itself.
	summary, err := driver.Run(ctx, scheduler.RunParams{Targets: []string{"item-005"}})
	require.NoError(t, err)
	after := commitCount(t, root)

	require.Equal(t, scheduler.HaltTargetCompleted, summary.Halt)
	require.Equal(t, 1, summary.ItemsMerged)
	require.Equal(t, before+1, after, "the merging triage phase must emit exactly one commit")

	snap, err := coord.GetSnapshot(ctx)
	require.NoError(t, err)
	require.Len(t, snap, 1)
	require.Equal(t, "item-003", snap[0].ID)
	require.NotNil(t, snap[0].Description)
	require.Contains(t, snap[0].Description.Context, "Merged from item-005")

	wl := worklogText(t, root)
	require.Contains(t, wl, "Outcome: Merged")
}

// Scenario F -- destructive exclusion under concurrency, checked directly
// against the pure select_actions function rather than through the Driver.
func TestScenarioF_DestructiveExclusionUnderConcurrency(t *testing.T) {
	now := time.Now().UTC()
	pipelines := map[string]item.PipelineConfig{"feature": featurePipeline()}
	snapshot := []item.Item{
		{ID: "A", Status: item.StatusInProgress, Phase: "build", PhasePool: item.PoolMain, PipelineType: "feature", CreatedAt: now},
		{ID: "B", Status: item.StatusInProgress, Phase: "prd", PhasePool: item.PoolMain, PipelineType: "feature", CreatedAt: now},
		{ID: "C", Status: item.StatusInProgress, Phase: "prd", PhasePool: item.PoolMain, PipelineType: "feature", CreatedAt: now},
	}

	actions := scheduler.SelectActions(snapshot, nil, 5, 3, pipelines)
	require.Len(t, actions, 1)
	require.Equal(t, scheduler.ActionRunPhase, actions[0].Kind)
	require.Equal(t, "A", actions[0].ItemID)
	require.Equal(t, "build", actions[0].Phase)
	require.True(t, actions[0].Destructive)

	running := []scheduler.RunningTask{{ItemID: "A", Phase: "build", Destructive: true}}
	again := scheduler.SelectActions(snapshot, running, 5, 3, pipelines)
	require.Empty(t, again, "nothing else may be selected while a destructive phase is running")
}
