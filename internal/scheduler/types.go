// Package scheduler implements the priority-driven driver loop: a pure
// action selector, a filter/target layer, and the completion handler that
// turns executor outcomes into item mutations. Grounded on the teacher's
// internal/task/selector.go (SelectNext, dependency-met checks, priority
// sort) and internal/pipeline/orchestrator.go (the fan-out driver loop
// shape), generalized from Raven's single-phase-queue model to the spec's
// WIP/concurrency/destructive-exclusion selection rules.
package scheduler

import (
	"sort"

	"github.com/sirhamy/phase-golem/internal/item"
)

// ActionKind is the kind of work select_actions can emit.
type ActionKind int

const (
	ActionPromote ActionKind = iota
	ActionTriage
	ActionRunPhase
)

// Action is one unit of dispatchable work.
type Action struct {
	Kind        ActionKind
	ItemID      string
	Phase       string
	Pool        item.Pool
	Destructive bool
}

// RunningTask describes one in-flight executor task, as tracked by the
// Scheduler's own task set (never by the Coordinator).
type RunningTask struct {
	ItemID      string
	Phase       string
	Destructive bool
}

// HaltReason is why the main loop stopped.
type HaltReason string

const (
	HaltAllDoneOrBlocked    HaltReason = "AllDoneOrBlocked"
	HaltCapReached          HaltReason = "CapReached"
	HaltCircuitBreaker      HaltReason = "CircuitBreakerTripped"
	HaltShutdownRequested   HaltReason = "ShutdownRequested"
	HaltTargetCompleted     HaltReason = "TargetCompleted"
	HaltTargetBlocked       HaltReason = "TargetBlocked"
	HaltFilterExhausted     HaltReason = "FilterExhausted"
	HaltNoMatchingItems     HaltReason = "NoMatchingItems"
)

// RunParams configures one driver-loop invocation.
type RunParams struct {
	Targets      []string
	Filter       *Filter
	Cap          int // 0 means unlimited
	AutoAdvance  bool
	Root         string
	ConfigBase   string
}

// Summary is the result of one driver-loop run.
type Summary struct {
	Halt             HaltReason
	PhasesExecuted   int
	ItemsCompleted   []string
	ItemsBlocked     []string
	FollowUpsCreated int
	ItemsMerged      int
}

func (s *Summary) finalize() {
	s.ItemsCompleted = dedupeSorted(s.ItemsCompleted)
	s.ItemsBlocked = dedupeSorted(s.ItemsBlocked)
}

func dedupeSorted(in []string) []string {
	seen := make(map[string]bool, len(in))
	out := make([]string, 0, len(in))
	for _, s := range in {
		if !seen[s] {
			seen[s] = true
			out = append(out, s)
		}
	}
	sort.Strings(out)
	return out
}

// circuitBreakerThreshold is the consecutive-exhaustion count that trips
// the circuit breaker (spec §4.2).
const circuitBreakerThreshold = 2
