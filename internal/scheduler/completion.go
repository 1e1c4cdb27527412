package scheduler

import (
	"context"

	"github.com/sirhamy/phase-golem/internal/executor"
	"github.com/sirhamy/phase-golem/internal/item"
)

// handleCompletion implements spec §4.2.2: dispatch on the executor
// outcome and apply whatever item mutations and worklog entries that
// outcome implies.
func (d *Driver) handleCompletion(ctx context.Context, msg completionMsg, dispatchSnapshot map[string]item.Item, s *Summary, previousSummary map[string]string, state *runState) {
	it := dispatchSnapshot[msg.task.ItemID]

	switch msg.outcome.Kind {
	case executor.OutcomeCancelled:
		_ = d.Coordinator.WriteWorklog(ctx, it.ID, it.Title, msg.task.Phase, "Cancelled", "")
		return

	case executor.OutcomeFailed:
		_ = d.Coordinator.WriteWorklog(ctx, it.ID, it.Title, msg.task.Phase, "Failed", msg.outcome.Reason)
		pc := d.Config.Pipelines[it.PipelineType]
		guardrails := executor.Guardrails{
			MaxSize:       d.Config.Guardrails.MaxSize,
			MaxComplexity: d.Config.Guardrails.MaxComplexity,
			MaxRisk:       d.Config.Guardrails.MaxRisk,
		}
		for _, u := range executor.ResolveTransition(it, msg.outcome, pc, guardrails) {
			_ = d.Coordinator.UpdateItem(ctx, it.ID, u)
		}
		s.ItemsBlocked = append(s.ItemsBlocked, it.ID)
		state.exhaustions++
		return

	case executor.OutcomeBlocked:
		_ = d.Coordinator.WriteWorklog(ctx, it.ID, it.Title, msg.task.Phase, "Blocked", msg.outcome.Reason)
		_ = d.Coordinator.UpdateItem(ctx, it.ID, item.SetBlocked(msg.outcome.Reason))
		s.ItemsBlocked = append(s.ItemsBlocked, it.ID)
		state.exhaustions = 0
		return

	case executor.OutcomeSubphaseComplete:
		result := msg.outcome.Result
		_ = d.Coordinator.WriteWorklog(ctx, it.ID, it.Title, msg.task.Phase, "SubphaseComplete", result.Summary)
		if !result.Assessments.Empty() {
			_ = d.Coordinator.UpdateItem(ctx, it.ID, item.UpdateAssessmentsOf(result.Assessments))
		}
		if n := d.ingestFollowUps(ctx, result, it.ID, s); n > 0 {
			s.FollowUpsCreated += n
		}
		_ = d.Coordinator.CompletePhase(ctx, it.ID, msg.task.Phase, result.Summary, []string{msg.outcome.ChangeDir}, true)
		previousSummary[it.ID] = result.Summary
		return

	case executor.OutcomeSuccess:
		if msg.task.Phase == triagePhaseName {
			d.handleTriageSuccess(ctx, msg, it, s)
			return
		}
		d.handlePhaseSuccess(ctx, msg, it, s, previousSummary, state)
		return
	}
}

func (d *Driver) ingestFollowUps(ctx context.Context, result *item.Result, origin string, s *Summary) int {
	if len(result.FollowUps) == 0 {
		return 0
	}
	ids, err := d.Coordinator.IngestFollowUps(ctx, result.FollowUps, origin)
	if err != nil {
		return 0
	}
	return len(ids)
}

func (d *Driver) handlePhaseSuccess(ctx context.Context, msg completionMsg, dispatchedItem item.Item, s *Summary, previousSummary map[string]string, state *runState) {
	result := msg.outcome.Result
	if !result.Assessments.Empty() {
		_ = d.Coordinator.UpdateItem(ctx, dispatchedItem.ID, item.UpdateAssessmentsOf(result.Assessments))
	}
	if n := d.ingestFollowUps(ctx, result, dispatchedItem.ID, s); n > 0 {
		s.FollowUpsCreated += n
	}

	snapshot, err := d.Coordinator.GetSnapshot(ctx)
	if err != nil {
		return
	}
	byID := indexByID(snapshot)
	it, ok := byID[dispatchedItem.ID]
	if !ok {
		return
	}
	pc := d.Config.Pipelines[it.PipelineType]
	ph, _, _ := pc.PhaseByName(it.Phase)

	_ = d.Coordinator.WriteWorklog(ctx, it.ID, it.Title, msg.task.Phase, "Complete", result.Summary)
	_ = d.Coordinator.CompletePhase(ctx, it.ID, msg.task.Phase, result.Summary, []string{msg.outcome.ChangeDir}, ph.Destructive)

	guardrails := executor.Guardrails{
		MaxSize:       d.Config.Guardrails.MaxSize,
		MaxComplexity: d.Config.Guardrails.MaxComplexity,
		MaxRisk:       d.Config.Guardrails.MaxRisk,
	}
	updates := executor.ResolveTransition(it, msg.outcome, pc, guardrails)

	terminal := false
	for _, u := range updates {
		_ = d.Coordinator.UpdateItem(ctx, it.ID, u)
		switch u.Kind {
		case item.UpdateTransitionStatus:
			if u.Status == item.StatusDone {
				_ = d.Coordinator.ArchiveItem(ctx, it.ID)
				s.ItemsCompleted = append(s.ItemsCompleted, it.ID)
				state.exhaustions = 0
				terminal = true
			}
		case item.UpdateSetBlocked:
			s.ItemsBlocked = append(s.ItemsBlocked, it.ID)
			terminal = true
		}
	}
	if terminal {
		delete(previousSummary, it.ID)
	} else {
		previousSummary[it.ID] = result.Summary
	}
}

func (d *Driver) handleTriageSuccess(ctx context.Context, msg completionMsg, dispatchedItem item.Item, s *Summary) {
	result := msg.outcome.Result
	_ = d.Coordinator.WriteWorklog(ctx, dispatchedItem.ID, dispatchedItem.Title, triagePhaseName, string(result.Result), result.Summary)
	if n := d.ingestFollowUps(ctx, result, dispatchedItem.ID, s); n > 0 {
		s.FollowUpsCreated += n
	}

	mergedAway := false
	for _, dup := range result.Duplicates {
		source, target := parseMergeDirection(dispatchedItem.ID, dup)
		_ = d.Coordinator.WriteWorklog(ctx, source, source, triagePhaseName, "Merged", "merged into "+target)
		if err := d.Coordinator.MergeItem(ctx, source, target); err == nil {
			s.ItemsMerged++
		}
		if source == dispatchedItem.ID {
			mergedAway = true
		}
	}

	_ = d.Coordinator.CompletePhase(ctx, dispatchedItem.ID, triagePhaseName, result.Summary, []string{msg.outcome.ChangeDir}, true)

	if mergedAway {
		_ = d.Coordinator.BatchCommit(ctx)
		return
	}

	d.applyTriageRouting(ctx, dispatchedItem.ID, result, s)
}

func (d *Driver) applyTriageRouting(ctx context.Context, itemID string, result *item.Result, s *Summary) {
	if !result.Assessments.Empty() {
		_ = d.Coordinator.UpdateItem(ctx, itemID, item.UpdateAssessmentsOf(result.Assessments))
	}
	if result.Description != nil && !result.Description.Empty() {
		_ = d.Coordinator.UpdateItem(ctx, itemID, item.SetDescription(result.Description))
	}

	pipelineType := result.PipelineType
	if pipelineType != "" {
		if _, ok := d.Config.Pipelines[pipelineType]; ok {
			_ = d.Coordinator.UpdateItem(ctx, itemID, item.SetPipelineType(pipelineType))
		} else {
			_ = d.Coordinator.UpdateItem(ctx, itemID, item.SetBlocked(invalidPipelineMessage(d.Config.Pipelines)))
			s.ItemsBlocked = append(s.ItemsBlocked, itemID)
			return
		}
	}

	switch result.Result {
	case item.ResultPhaseComplete:
		snapshot, err := d.Coordinator.GetSnapshot(ctx)
		if err != nil {
			return
		}
		it, ok := indexByID(snapshot)[itemID]
		if !ok {
			return
		}
		pc := d.Config.Pipelines[it.PipelineType]
		smallLowRisk := it.Size == item.SizeSmall && (it.Risk == "" || it.Risk == item.RiskLow)
		if smallLowRisk || len(pc.PrePhases) == 0 {
			_ = d.Coordinator.UpdateItem(ctx, itemID, item.TransitionStatus(item.StatusScoping))
			_ = d.Coordinator.UpdateItem(ctx, itemID, item.TransitionStatus(item.StatusReady))
		} else {
			_ = d.Coordinator.UpdateItem(ctx, itemID, item.TransitionStatus(item.StatusScoping))
			if first, ok := pc.FirstPrePhase(); ok {
				_ = d.Coordinator.UpdateItem(ctx, itemID, item.SetPhase(first.Name))
				_ = d.Coordinator.UpdateItem(ctx, itemID, item.SetPhasePool(item.PoolPre))
			}
		}
	case item.ResultBlocked:
		reason := result.Context
		if reason == "" {
			reason = result.Summary
		}
		_ = d.Coordinator.UpdateItem(ctx, itemID, item.SetBlocked(reason))
	case item.ResultFailed, item.ResultSubphaseComplete:
		// leave in New
	}

	snapshot, err := d.Coordinator.GetSnapshot(ctx)
	if err != nil {
		return
	}
	if it, ok := indexByID(snapshot)[itemID]; ok && it.Status == item.StatusBlocked {
		s.ItemsBlocked = append(s.ItemsBlocked, itemID)
	}
}

func invalidPipelineMessage(pipelines map[string]item.PipelineConfig) string {
	msg := "invalid pipeline_type; valid pipelines: "
	first := true
	for name := range pipelines {
		if !first {
			msg += ", "
		}
		msg += name
		first = false
	}
	return msg
}
