package item

import "fmt"

// StalenessPolicy controls how the Executor reacts when a destructive
// phase's recorded prior commit is no longer an ancestor of HEAD.
type StalenessPolicy string

const (
	StalenessIgnore StalenessPolicy = "ignore"
	StalenessWarn   StalenessPolicy = "warn"
	StalenessBlock  StalenessPolicy = "block"
)

// PhaseConfig describes one named stage of a pipeline.
type PhaseConfig struct {
	Name          string          `toml:"name"`
	Destructive   bool            `toml:"destructive"`
	WorkflowFiles []string        `toml:"workflow_files"`
	Staleness     StalenessPolicy `toml:"staleness"`
}

// PipelineConfig is the immutable (for the duration of a run) ordered phase
// list an item advances through: an optional pre-approval pool followed by
// the mandatory main pool.
type PipelineConfig struct {
	Name       string        `toml:"name"`
	PrePhases  []PhaseConfig `toml:"pre_phases"`
	MainPhases []PhaseConfig `toml:"phases"`
}

// PhaseByName finds a phase (in either pool) by name.
func (p *PipelineConfig) PhaseByName(name string) (PhaseConfig, Pool, bool) {
	for _, ph := range p.PrePhases {
		if ph.Name == name {
			return ph, PoolPre, true
		}
	}
	for _, ph := range p.MainPhases {
		if ph.Name == name {
			return ph, PoolMain, true
		}
	}
	return PhaseConfig{}, "", false
}

// FirstPrePhase and FirstMainPhase return the entry phase of each pool.
// ok is false if the pool is empty.
func (p *PipelineConfig) FirstPrePhase() (PhaseConfig, bool) {
	if len(p.PrePhases) == 0 {
		return PhaseConfig{}, false
	}
	return p.PrePhases[0], true
}

func (p *PipelineConfig) FirstMainPhase() (PhaseConfig, bool) {
	if len(p.MainPhases) == 0 {
		return PhaseConfig{}, false
	}
	return p.MainPhases[0], true
}

// NextPhase returns the phase immediately following `name` within its own
// pool. ok is false if `name` is the last phase of its pool or not found.
func (p *PipelineConfig) NextPhase(name string) (PhaseConfig, bool) {
	for i, ph := range p.PrePhases {
		if ph.Name == name {
			if i+1 < len(p.PrePhases) {
				return p.PrePhases[i+1], true
			}
			return PhaseConfig{}, false
		}
	}
	for i, ph := range p.MainPhases {
		if ph.Name == name {
			if i+1 < len(p.MainPhases) {
				return p.MainPhases[i+1], true
			}
			return PhaseConfig{}, false
		}
	}
	return PhaseConfig{}, false
}

// IsLastPrePhase and IsLastMainPhase report whether name is the terminal
// phase of its pool.
func (p *PipelineConfig) IsLastPrePhase(name string) bool {
	n := len(p.PrePhases)
	return n > 0 && p.PrePhases[n-1].Name == name
}

func (p *PipelineConfig) IsLastMainPhase(name string) bool {
	n := len(p.MainPhases)
	return n > 0 && p.MainPhases[n-1].Name == name
}

// PhaseIndex returns a "furthest-first" sort key: pre-phases are indexed
// from 0, main-phases are offset by len(PrePhases) so that any main phase
// sorts as "further" than any pre phase, matching §4.2 step 4(a).
func (p *PipelineConfig) PhaseIndex(name string) int {
	for i, ph := range p.PrePhases {
		if ph.Name == name {
			return i
		}
	}
	offset := len(p.PrePhases)
	for i, ph := range p.MainPhases {
		if ph.Name == name {
			return offset + i
		}
	}
	return -1
}

// Validate performs the phase-shape checks from preflight Phase 1: unique
// names within the pipeline, and pre-phases must not be destructive.
func (p *PipelineConfig) Validate() []string {
	var problems []string
	seen := make(map[string]bool)
	for _, ph := range p.PrePhases {
		if seen[ph.Name] {
			problems = append(problems, fmt.Sprintf("duplicate phase name %q in pipeline %q", ph.Name, p.Name))
		}
		seen[ph.Name] = true
		if ph.Destructive {
			problems = append(problems, fmt.Sprintf("pre-phase %q in pipeline %q must not be destructive", ph.Name, p.Name))
		}
	}
	for _, ph := range p.MainPhases {
		if seen[ph.Name] {
			problems = append(problems, fmt.Sprintf("duplicate phase name %q in pipeline %q", ph.Name, p.Name))
		}
		seen[ph.Name] = true
	}
	if len(p.MainPhases) == 0 {
		problems = append(problems, fmt.Sprintf("pipeline %q must define at least one main phase", p.Name))
	}
	return problems
}
