package executor

import (
	"fmt"

	"github.com/sirhamy/phase-golem/internal/item"
)

// Guardrails is the subset of the engine's guardrail configuration the
// resolver needs: the maxima an item must not exceed to leave the
// pre-phase pool autonomously.
type Guardrails struct {
	MaxSize       item.Size
	MaxComplexity item.Risk
	MaxRisk       item.Risk
}

// ResolveTransition is the pure function of spec §4.3.1: given an item (as
// it stands after any assessment update has already been applied), the
// outcome of its most recent phase run, the owning pipeline, and the
// configured guardrails, it returns the list of updates the caller should
// apply. It performs no I/O and calls no Coordinator method itself.
func ResolveTransition(it item.Item, outcome Outcome, pc item.PipelineConfig, g Guardrails) []item.Update {
	switch outcome.Kind {
	case OutcomeSubphaseComplete:
		return nil
	case OutcomeFailed:
		return []item.Update{item.SetBlocked(fmt.Sprintf("Phase %s failed after retries. Last failure: %s", it.Phase, outcome.Reason))}
	case OutcomeBlocked:
		return []item.Update{item.SetBlocked(outcome.Reason)}
	case OutcomeSuccess:
		return resolvePhaseComplete(it, outcome.Result, pc, g)
	default:
		return nil
	}
}

func resolvePhaseComplete(it item.Item, result *item.Result, pc item.PipelineConfig, g Guardrails) []item.Update {
	if it.PhasePool == item.PoolPre {
		if pc.IsLastPrePhase(it.Phase) {
			if it.RequiresHumanReview {
				return []item.Update{item.SetBlocked("Requires human review before entering pipeline")}
			}
			if !item.PassesGuardrails(it.Size, it.Complexity, it.Risk, g.MaxSize, g.MaxComplexity, g.MaxRisk) {
				return []item.Update{item.SetBlocked("Exceeds autonomous guardrail thresholds")}
			}
			return []item.Update{item.ClearPhase(), item.TransitionStatus(item.StatusReady)}
		}
		return advance(pc, it.Phase, result)
	}

	// phase_pool is Main or unset.
	if pc.IsLastMainPhase(it.Phase) {
		return []item.Update{item.TransitionStatus(item.StatusDone)}
	}
	return advance(pc, it.Phase, result)
}

func advance(pc item.PipelineConfig, phase string, result *item.Result) []item.Update {
	next, ok := pc.NextPhase(phase)
	if !ok {
		return []item.Update{item.SetBlocked(fmt.Sprintf("phase %q has no successor in pipeline %q", phase, pc.Name))}
	}
	updates := []item.Update{item.SetPhase(next.Name)}
	if result != nil && result.BasedOnCommit != "" {
		updates = append(updates, item.SetLastPhaseCommit(result.BasedOnCommit))
	}
	return updates
}
