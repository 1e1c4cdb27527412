package item

import "encoding/json"

// ResultCode is the outcome an agent reports for a phase invocation.
type ResultCode string

const (
	ResultPhaseComplete    ResultCode = "phase_complete"
	ResultSubphaseComplete ResultCode = "subphase_complete"
	ResultFailed           ResultCode = "failed"
	ResultBlocked          ResultCode = "blocked"
)

// Assessments is the sparse set of updates an agent may report; each
// dimension is independently present.
type Assessments struct {
	Size       *Size   `json:"size,omitempty"`
	Complexity *Risk   `json:"complexity,omitempty"`
	Risk       *Risk   `json:"risk,omitempty"`
	Impact     *Impact `json:"impact,omitempty"`
}

// Empty reports whether no dimension was reported.
func (a *Assessments) Empty() bool {
	if a == nil {
		return true
	}
	return a.Size == nil && a.Complexity == nil && a.Risk == nil && a.Impact == nil
}

// FollowUp is a new-item proposal emitted by a phase. The wire format
// tolerates either a bare string (the title) or a full object -- see
// UnmarshalJSON.
type FollowUp struct {
	Title         string  `json:"title"`
	Context       string  `json:"context,omitempty"`
	SuggestedSize *Size   `json:"suggested_size,omitempty"`
	SuggestedRisk *Risk   `json:"suggested_risk,omitempty"`
}

// UnmarshalJSON accepts both `"some title"` and
// `{"title": "...", "context": "..."}` forms, following the tolerant
// decoding convention used for agent-authored result files.
func (f *FollowUp) UnmarshalJSON(data []byte) error {
	var asString string
	if err := json.Unmarshal(data, &asString); err == nil {
		f.Title = asString
		return nil
	}

	type followUpAlias FollowUp
	var alias followUpAlias
	if err := json.Unmarshal(data, &alias); err != nil {
		return err
	}
	*f = FollowUp(alias)
	return nil
}

// Result is the structured payload a phase subprocess writes to its result
// file. See spec §3 and §6.
type Result struct {
	ItemID      string       `json:"item_id"`
	Phase       string       `json:"phase"`
	Result      ResultCode   `json:"result"`
	Summary     string       `json:"summary"`
	Context     string       `json:"context,omitempty"`
	Assessments *Assessments `json:"updated_assessments,omitempty"`
	FollowUps   []FollowUp   `json:"follow_ups,omitempty"`
	BasedOnCommit string     `json:"based_on_commit,omitempty"`
	PipelineType  string     `json:"pipeline_type,omitempty"`
	CommitSummary string     `json:"commit_summary,omitempty"`
	Duplicates    []string   `json:"duplicates,omitempty"`
	Description   *Description `json:"description,omitempty"`
}
