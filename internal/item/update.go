package item

import "time"

// UpdateKind enumerates the mutation vocabulary the Coordinator accepts,
// matching the ItemUpdate variants of spec §4.1.
type UpdateKind int

const (
	UpdateTransitionStatus UpdateKind = iota
	UpdateSetPhase
	UpdateSetPhasePool
	UpdateClearPhase
	UpdateSetBlocked
	UpdateUnblock
	UpdateAssessments
	UpdateSetPipelineType
	UpdateSetLastPhaseCommit
	UpdateSetDescription
)

// Update is a single pure mutation to apply to an Item. Exactly the fields
// relevant to Kind are populated.
type Update struct {
	Kind UpdateKind

	Status      Status
	Phase       string
	Pool        Pool
	Reason      string
	BlockType   BlockType
	Assess      *Assessments
	Pipeline    string
	Commit      string
	Description *Description
}

func TransitionStatus(s Status) Update { return Update{Kind: UpdateTransitionStatus, Status: s} }
func SetPhase(p string) Update         { return Update{Kind: UpdateSetPhase, Phase: p} }
func SetPhasePool(p Pool) Update       { return Update{Kind: UpdateSetPhasePool, Pool: p} }
func ClearPhase() Update               { return Update{Kind: UpdateClearPhase} }
func SetBlocked(reason string) Update  { return Update{Kind: UpdateSetBlocked, Reason: reason} }
func Unblock() Update                  { return Update{Kind: UpdateUnblock} }
func UpdateAssessmentsOf(a *Assessments) Update {
	return Update{Kind: UpdateAssessments, Assess: a}
}
func SetPipelineType(p string) Update { return Update{Kind: UpdateSetPipelineType, Pipeline: p} }
func SetLastPhaseCommit(sha string) Update {
	return Update{Kind: UpdateSetLastPhaseCommit, Commit: sha}
}
func SetDescription(d *Description) Update { return Update{Kind: UpdateSetDescription, Description: d} }

// Apply mutates it in place according to u. It returns an error only for
// UpdateTransitionStatus when the move is disallowed by the status DAG.
// All other update kinds are unconditional (their validity is the caller's
// responsibility, matching the pure-resolver design of §4.3.1).
func Apply(it *Item, u Update) error {
	now := it.UpdatedAt
	defer func() {
		it.UpdatedAt = now
	}()
	now = timeNow()

	switch u.Kind {
	case UpdateTransitionStatus:
		if err := ApplyTransition(it, u.Status); err != nil {
			return err
		}
	case UpdateSetPhase:
		it.Phase = u.Phase
	case UpdateSetPhasePool:
		it.PhasePool = u.Pool
	case UpdateClearPhase:
		it.Phase = ""
		it.PhasePool = ""
	case UpdateSetBlocked:
		it.BlockedFromStatus = it.Status
		it.BlockedReason = u.Reason
		it.Status = StatusBlocked
	case UpdateUnblock:
		restore := it.BlockedFromStatus
		if restore == "" {
			restore = StatusNew
		}
		it.Status = restore
		it.BlockedFromStatus = ""
		it.BlockedReason = ""
		it.BlockedType = ""
		it.LastPhaseCommit = ""
	case UpdateAssessments:
		if u.Assess != nil {
			if u.Assess.Size != nil {
				it.Size = *u.Assess.Size
			}
			if u.Assess.Complexity != nil {
				it.Complexity = *u.Assess.Complexity
			}
			if u.Assess.Risk != nil {
				it.Risk = *u.Assess.Risk
			}
			if u.Assess.Impact != nil {
				it.Impact = *u.Assess.Impact
			}
		}
	case UpdateSetPipelineType:
		it.PipelineType = u.Pipeline
	case UpdateSetLastPhaseCommit:
		it.LastPhaseCommit = u.Commit
	case UpdateSetDescription:
		it.Description = u.Description
	}
	return nil
}

// timeNow is a package-level indirection so tests can freeze time.
var timeNow = func() time.Time { return time.Now().UTC() }
