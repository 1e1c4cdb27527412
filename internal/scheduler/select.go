package scheduler

import (
	"sort"

	"github.com/sirhamy/phase-golem/internal/item"
)

// depsMet reports whether every dependency of it is satisfied: either the
// dep id is absent from the snapshot (archived) or its referent is Done.
func depsMet(it item.Item, byID map[string]item.Item) bool {
	for _, dep := range it.Dependencies {
		if ref, ok := byID[dep]; ok && ref.Status != item.StatusDone {
			return false
		}
	}
	return true
}

func indexByID(snapshot []item.Item) map[string]item.Item {
	m := make(map[string]item.Item, len(snapshot))
	for _, it := range snapshot {
		m[it.ID] = it
	}
	return m
}

func runningIDs(running []RunningTask) map[string]bool {
	m := make(map[string]bool, len(running))
	for _, t := range running {
		m[t.ItemID] = true
	}
	return m
}

// SelectActions is the pure action-selection function of spec §4.2.
func SelectActions(snapshot []item.Item, running []RunningTask, maxWIP, maxConcurrent int, pipelines map[string]item.PipelineConfig) []Action {
	// Step 1: destructive exclusion.
	for _, t := range running {
		if t.Destructive {
			return nil
		}
	}

	// Step 2: available slots. Step 1 already guaranteed no running task is
	// destructive, so every running task counts against max_concurrent.
	availableSlots := maxConcurrent - len(running)
	if availableSlots <= 0 {
		return nil
	}

	byID := indexByID(snapshot)
	inRunning := runningIDs(running)

	var actions []Action

	// Step 3: promotions.
	inProgressCount := 0
	for _, it := range snapshot {
		if it.Status == item.StatusInProgress {
			inProgressCount++
		}
	}
	if inProgressCount < maxWIP {
		var ready []item.Item
		for _, it := range snapshot {
			if it.Status == item.StatusReady && depsMet(it, byID) {
				ready = append(ready, it)
			}
		}
		item.SortByImpactDescCreatedAsc(ready)
		n := maxWIP - inProgressCount
		if n > len(ready) {
			n = len(ready)
		}
		for i := 0; i < n; i++ {
			actions = append(actions, Action{Kind: ActionPromote, ItemID: ready[i].ID})
		}
	}

	// Step 4: prioritized phase-action candidates.
	var inProgressWithPhase, scopingWithPhase, newItems []item.Item
	for _, it := range snapshot {
		switch {
		case it.Status == item.StatusInProgress && it.Phase != "":
			inProgressWithPhase = append(inProgressWithPhase, it)
		case it.Status == item.StatusScoping && it.Phase != "":
			scopingWithPhase = append(scopingWithPhase, it)
		case it.Status == item.StatusNew:
			newItems = append(newItems, it)
		}
	}

	furthestFirst := func(items []item.Item) {
		sort.SliceStable(items, func(i, j int) bool {
			pi, pj := phaseIndex(items[i], pipelines), phaseIndex(items[j], pipelines)
			if pi != pj {
				return pi > pj
			}
			return items[i].CreatedAt.Before(items[j].CreatedAt)
		})
	}
	furthestFirst(inProgressWithPhase)
	furthestFirst(scopingWithPhase)
	sort.SliceStable(newItems, func(i, j int) bool { return newItems[i].CreatedAt.Before(newItems[j].CreatedAt) })

	var candidates []Action
	for _, it := range inProgressWithPhase {
		candidates = append(candidates, phaseAction(it, pipelines))
	}
	for _, it := range scopingWithPhase {
		candidates = append(candidates, phaseAction(it, pipelines))
	}
	for _, it := range newItems {
		candidates = append(candidates, Action{Kind: ActionTriage, ItemID: it.ID})
	}

	// Step 5: filter already-running and unmet-dependency items.
	var filtered []Action
	for _, a := range candidates {
		if inRunning[a.ItemID] {
			continue
		}
		it := byID[a.ItemID]
		if !depsMet(it, byID) {
			continue
		}
		filtered = append(filtered, a)
	}

	// Step 6: walk, filling available slots, respecting destructive exclusion.
	destructiveQueued := false
	for _, a := range filtered {
		if availableSlots <= 0 {
			break
		}
		if a.Destructive {
			if len(running) > 0 || destructiveQueued || len(actionsNonPromote(actions)) > 0 {
				continue
			}
			actions = append(actions, a)
			destructiveQueued = true
			break
		}
		if destructiveQueued {
			break
		}
		actions = append(actions, a)
		availableSlots--
	}

	return actions
}

func actionsNonPromote(actions []Action) []Action {
	var out []Action
	for _, a := range actions {
		if a.Kind != ActionPromote {
			out = append(out, a)
		}
	}
	return out
}

func phaseIndex(it item.Item, pipelines map[string]item.PipelineConfig) int {
	pc, ok := pipelines[it.PipelineType]
	if !ok {
		return -1
	}
	return pc.PhaseIndex(it.Phase)
}

func phaseAction(it item.Item, pipelines map[string]item.PipelineConfig) Action {
	pool := it.PhasePool
	destructive := false
	if pc, ok := pipelines[it.PipelineType]; ok {
		if ph, p, found := pc.PhaseByName(it.Phase); found {
			destructive = ph.Destructive
			if pool == "" {
				pool = p
			}
		}
	}
	return Action{Kind: ActionRunPhase, ItemID: it.ID, Phase: it.Phase, Pool: pool, Destructive: destructive}
}

// SelectTargetedAction implements single-target mode (spec §4.2 "Targeted
// selection"): restricts to the given id, ignoring Done/Blocked targets.
func SelectTargetedAction(it item.Item, running []RunningTask, pipelines map[string]item.PipelineConfig) *Action {
	switch it.Status {
	case item.StatusNew:
		return &Action{Kind: ActionTriage, ItemID: it.ID}
	case item.StatusReady:
		return &Action{Kind: ActionPromote, ItemID: it.ID}
	case item.StatusScoping, item.StatusInProgress:
		for _, t := range running {
			if t.ItemID == it.ID {
				return nil
			}
		}
		a := phaseAction(it, pipelines)
		return &a
	default:
		return nil
	}
}
