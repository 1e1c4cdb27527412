package scheduler

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/charmbracelet/log"

	"github.com/sirhamy/phase-golem/internal/config"
	"github.com/sirhamy/phase-golem/internal/executor"
	"github.com/sirhamy/phase-golem/internal/item"
)

// Coordinator is the slice of coordinator.Coordinator the driver loop
// depends on, satisfied structurally (no import of internal/coordinator).
type Coordinator interface {
	GetSnapshot(ctx context.Context) ([]item.Item, error)
	UpdateItem(ctx context.Context, id string, u item.Update) error
	CompletePhase(ctx context.Context, itemID, phase, summary string, paths []string, isDestructive bool) error
	BatchCommit(ctx context.Context) error
	WriteWorklog(ctx context.Context, id, title, phase, outcome, summary string) error
	ArchiveItem(ctx context.Context, id string) error
	IngestFollowUps(ctx context.Context, followUps []item.FollowUp, origin string) ([]string, error)
	MergeItem(ctx context.Context, sourceID, targetID string) error
}

// PhaseRunner executes one phase (or the pseudo-phase "triage") for one
// item and reports the outcome. Bound to an *executor.Executor in
// production; a fake in tests.
type PhaseRunner func(ctx context.Context, it item.Item, ph item.PhaseConfig, previousSummary string) executor.Outcome

const triagePhaseName = "triage"

// Driver runs the main loop described in spec §4.2.
type Driver struct {
	Coordinator Coordinator
	RunPhase    PhaseRunner
	Config      *config.Config
	Logger      *log.Logger
}

// New constructs a Driver.
func New(coord Coordinator, runPhase PhaseRunner, cfg *config.Config, logger *log.Logger) *Driver {
	return &Driver{Coordinator: coord, RunPhase: runPhase, Config: cfg, Logger: logger}
}

type completionMsg struct {
	task    RunningTask
	pool    item.Pool
	outcome executor.Outcome
}

// runState is the mutable bookkeeping threaded through one Run call that
// isn't part of the public Summary.
type runState struct {
	exhaustions int
}

// Run executes the main driver loop until a halt condition is reached.
func (d *Driver) Run(ctx context.Context, params RunParams) (*Summary, error) {
	s := &Summary{}
	previousSummary := make(map[string]string)
	state := &runState{}
	var running []RunningTask
	completions := make(chan completionMsg, 16)
	targetIdx := 0

	for {
		if ctx.Err() != nil {
			d.drain(ctx, running, completions)
			_ = d.Coordinator.BatchCommit(ctx)
			s.Halt = HaltShutdownRequested
			s.finalize()
			return s, nil
		}
		if state.exhaustions >= circuitBreakerThreshold {
			d.drain(ctx, running, completions)
			_ = d.Coordinator.BatchCommit(ctx)
			s.Halt = HaltCircuitBreaker
			s.finalize()
			return s, nil
		}

		snapshot, err := d.Coordinator.GetSnapshot(ctx)
		if err != nil {
			return nil, fmt.Errorf("scheduler: fetching snapshot: %w", err)
		}
		byID := indexByID(snapshot)

		var actions []Action

		switch {
		case len(params.Targets) > 0:
			if targetIdx >= len(params.Targets) {
				_ = d.Coordinator.BatchCommit(ctx)
				s.Halt = HaltTargetCompleted
				s.finalize()
				return s, nil
			}
			targetIdx = advancePastDone(params.Targets, targetIdx, byID, s.ItemsCompleted)
			if targetIdx >= len(params.Targets) {
				_ = d.Coordinator.BatchCommit(ctx)
				s.Halt = HaltTargetCompleted
				s.finalize()
				return s, nil
			}
			target, ok := byID[params.Targets[targetIdx]]
			if ok && target.Status == item.StatusBlocked && !contains(s.ItemsBlocked, target.ID) {
				s.ItemsBlocked = append(s.ItemsBlocked, target.ID)
				if !params.AutoAdvance {
					_ = d.Coordinator.BatchCommit(ctx)
					s.Halt = HaltTargetBlocked
					s.finalize()
					return s, nil
				}
				targetIdx++
				continue
			}
			if ok {
				if a := SelectTargetedAction(target, running, d.Config.Pipelines); a != nil {
					actions = []Action{*a}
				}
			}
		case params.Filter != nil:
			var matched []item.Item
			for _, it := range snapshot {
				if params.Filter.Match(it) {
					matched = append(matched, it)
				}
			}
			if len(matched) == 0 {
				_ = d.Coordinator.BatchCommit(ctx)
				s.Halt = HaltNoMatchingItems
				s.finalize()
				return s, nil
			}
			if allTerminal(matched) {
				_ = d.Coordinator.BatchCommit(ctx)
				s.Halt = HaltFilterExhausted
				s.finalize()
				return s, nil
			}
			actions = SelectActions(matched, running, d.Config.Execution.MaxWIP, d.Config.Execution.MaxConcurrent, d.Config.Pipelines)
		default:
			actions = SelectActions(snapshot, running, d.Config.Execution.MaxWIP, d.Config.Execution.MaxConcurrent, d.Config.Pipelines)
		}

		if len(actions) == 0 && len(running) == 0 {
			d.logBlockedByDeps(snapshot)
			_ = d.Coordinator.BatchCommit(ctx)
			s.Halt = HaltAllDoneOrBlocked
			s.finalize()
			return s, nil
		}

		capReached := false
		for _, a := range actions {
			if params.Cap > 0 && s.PhasesExecuted >= params.Cap {
				capReached = true
				break
			}
			switch a.Kind {
			case ActionPromote:
				_ = d.Coordinator.UpdateItem(ctx, a.ItemID, item.TransitionStatus(item.StatusInProgress))
				if pc, ok := d.Config.Pipelines[byID[a.ItemID].PipelineType]; ok {
					if first, ok := pc.FirstMainPhase(); ok {
						_ = d.Coordinator.UpdateItem(ctx, a.ItemID, item.SetPhase(first.Name))
						_ = d.Coordinator.UpdateItem(ctx, a.ItemID, item.SetPhasePool(item.PoolMain))
					}
				}
			case ActionTriage:
				s.PhasesExecuted++
				task := RunningTask{ItemID: a.ItemID, Phase: triagePhaseName, Destructive: false}
				running = append(running, task)
				d.spawn(ctx, byID[a.ItemID], item.PhaseConfig{Name: triagePhaseName}, item.PoolPre, task, previousSummary[a.ItemID], completions)
			case ActionRunPhase:
				s.PhasesExecuted++
				task := RunningTask{ItemID: a.ItemID, Phase: a.Phase, Destructive: a.Destructive}
				running = append(running, task)
				ph, _, _ := d.Config.Pipelines[byID[a.ItemID].PipelineType].PhaseByName(a.Phase)
				d.spawn(ctx, byID[a.ItemID], ph, a.Pool, task, previousSummary[a.ItemID], completions)
			}
		}
		if capReached {
			d.drain(ctx, running, completions)
			_ = d.Coordinator.BatchCommit(ctx)
			s.Halt = HaltCapReached
			s.finalize()
			return s, nil
		}

		if len(running) > 0 {
			select {
			case msg := <-completions:
				running = removeTask(running, msg.task)
				d.handleCompletion(ctx, msg, byID, s, previousSummary, state)
			case <-ctx.Done():
				continue
			}
		}

		if len(params.Targets) > 0 && targetIdx < len(params.Targets) {
			// advance past a target that just completed this iteration
			targetIdx = advancePastDone(params.Targets, targetIdx, indexByID(mustSnapshot(ctx, d.Coordinator)), s.ItemsCompleted)
		}
	}
}

func mustSnapshot(ctx context.Context, c Coordinator) []item.Item {
	snap, err := c.GetSnapshot(ctx)
	if err != nil {
		return nil
	}
	return snap
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}

func allTerminal(items []item.Item) bool {
	for _, it := range items {
		if it.Status != item.StatusDone && it.Status != item.StatusBlocked {
			return false
		}
	}
	return true
}

func advancePastDone(targets []string, idx int, byID map[string]item.Item, completed []string) int {
	for idx < len(targets) {
		it, ok := byID[targets[idx]]
		if !ok || it.Status == item.StatusDone || contains(completed, targets[idx]) {
			idx++
			continue
		}
		if it.Status == item.StatusBlocked {
			break
		}
		break
	}
	return idx
}

func removeTask(running []RunningTask, t RunningTask) []RunningTask {
	out := running[:0:0]
	for _, r := range running {
		if r != t {
			out = append(out, r)
		}
	}
	return out
}

func (d *Driver) spawn(ctx context.Context, it item.Item, ph item.PhaseConfig, pool item.Pool, task RunningTask, previousSummary string, completions chan completionMsg) {
	go func() {
		outcome := d.RunPhase(ctx, it, ph, previousSummary)
		completions <- completionMsg{task: task, pool: pool, outcome: outcome}
	}()
}

// drain awaits every in-flight completion before the loop returns, so no
// subprocess outlives the process (spec §5 cancellation semantics).
func (d *Driver) drain(ctx context.Context, running []RunningTask, completions chan completionMsg) {
	remaining := len(running)
	for remaining > 0 {
		<-completions
		remaining--
	}
}

func (d *Driver) logBlockedByDeps(snapshot []item.Item) {
	if d.Logger == nil {
		return
	}
	byID := indexByID(snapshot)
	for _, it := range snapshot {
		if it.Status == item.StatusReady && !depsMet(it, byID) {
			d.Logger.Info("item blocked only by unmet dependencies", "item", it.ID)
		}
	}
}

// parseMergeDirection determines which of two ids is the source (absorbed)
// side: the higher numeric suffix is the source; ties or non-numeric ids
// favor the current item as source.
func parseMergeDirection(currentID, otherID string) (source, target string) {
	cur, curOK := numericSuffix(currentID)
	oth, othOK := numericSuffix(otherID)
	if curOK && othOK {
		switch {
		case cur > oth:
			return currentID, otherID
		case oth > cur:
			return otherID, currentID
		default:
			return currentID, otherID
		}
	}
	return currentID, otherID
}

func numericSuffix(id string) (int, bool) {
	i := strings.LastIndexAny(id, "-_")
	if i < 0 || i+1 >= len(id) {
		return 0, false
	}
	n, err := strconv.Atoi(id[i+1:])
	if err != nil {
		return 0, false
	}
	return n, true
}
