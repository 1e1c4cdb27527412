// Package preflight runs the phased validation described in spec §4.5
// before any scheduler run is allowed to start: store presence, config
// structural shape, workflow-file existence, item/pipeline consistency,
// duplicate ids, and a dependency-cycle sweep. Grounded on the teacher's
// internal/config/validate.go severity/issue pattern, generalized from a
// single config-only pass to a multi-phase pass that also inspects the
// loaded item set.
package preflight

import (
	"context"
	"fmt"
	"path/filepath"

	"github.com/bmatcuk/doublestar/v4"
	"golang.org/x/sync/errgroup"

	"github.com/sirhamy/phase-golem/internal/config"
	"github.com/sirhamy/phase-golem/internal/item"
	"github.com/sirhamy/phase-golem/internal/store"
)

// Severity mirrors config.ValidationSeverity so callers don't need to
// import both packages to print a report.
type Severity = config.ValidationSeverity

const (
	SeverityError   = config.SeverityError
	SeverityWarning = config.SeverityWarning
)

// Finding is one structured preflight error: the failing condition, where
// in the config or item set it was found, and a suggested fix.
type Finding struct {
	Phase      int
	Severity   Severity
	Condition  string
	Location   string
	Suggestion string
}

// Report is the full set of findings across all phases that ran.
type Report struct {
	Findings []Finding
}

func (r *Report) add(phase int, sev Severity, condition, location, suggestion string) {
	r.Findings = append(r.Findings, Finding{Phase: phase, Severity: sev, Condition: condition, Location: location, Suggestion: suggestion})
}

// HasErrors reports whether any finding is an error (as opposed to a
// warning); a run is blocked only by errors.
func (r *Report) HasErrors() bool {
	for _, f := range r.Findings {
		if f.Severity == SeverityError {
			return true
		}
	}
	return false
}

// Run executes every phase in order, short-circuiting per spec §4.5: Phase
// 0 gates everything else; Phases 2/3 only run if Phase 1 is clean.
// configBase is the directory workflow-file paths are resolved relative to.
func Run(ctx context.Context, st *store.Store, cfg *config.Config, configBase string) (*Report, error) {
	report := &Report{}

	if !phase0StoreExists(report, st) {
		return report, nil
	}

	phase1Clean := phase1ConfigShape(report, cfg)

	if phase1Clean {
		if err := phase2WorkflowFilesExist(ctx, report, cfg, configBase); err != nil {
			return nil, err
		}
	}

	items, err := st.LoadActive()
	if err != nil {
		return nil, fmt.Errorf("preflight: loading active items: %w", err)
	}

	if phase1Clean {
		phase3ItemPipelineConsistency(report, cfg, items)
	}

	phase4DuplicateIDs(report, items)
	phase5DependencyCycles(report, items)

	return report, nil
}

func phase0StoreExists(report *Report, st *store.Store) bool {
	if st.Initialized() {
		return true
	}
	report.add(0, SeverityError,
		"store persistence directory does not exist",
		"store",
		"run `phasegolem init` to create the store directory")
	return false
}

// phase1ConfigShape runs the structural checks and reports whether the
// config is clean enough for phases 2 and 3 to proceed.
func phase1ConfigShape(report *Report, cfg *config.Config) bool {
	vr := config.Validate(cfg, nil)
	for _, issue := range vr.Issues {
		report.add(1, issue.Severity, issue.Message, issue.Field, suggestFor(issue.Field))
	}
	return !vr.HasErrors()
}

func suggestFor(field string) string {
	switch {
	case field == "execution.max_wip", field == "execution.max_concurrent":
		return "set a positive integer in the [execution] section"
	case field == "agent.command":
		return "set agent.command in the config file"
	default:
		return "review the referenced config key"
	}
}

// phase2WorkflowFilesExist checks, concurrently per pipeline, that every
// configured workflow-file glob resolves to at least one existing file
// under configBase, using errgroup for the all-or-nothing fan-out (every
// pipeline's check must complete before the phase reports).
func phase2WorkflowFilesExist(ctx context.Context, report *Report, cfg *config.Config, configBase string) error {
	type miss struct {
		pipeline, phase, pattern string
	}
	misses := make(chan miss, 64)

	g, _ := errgroup.WithContext(ctx)
	for name, pc := range cfg.Pipelines {
		name, pc := name, pc
		g.Go(func() error {
			for _, ph := range append(append([]item.PhaseConfig{}, pc.PrePhases...), pc.MainPhases...) {
				for _, pattern := range ph.WorkflowFiles {
					full := pattern
					if !filepath.IsAbs(full) {
						full = filepath.Join(configBase, pattern)
					}
					matches, err := doublestar.FilepathGlob(full)
					if err != nil {
						return fmt.Errorf("preflight: globbing %q: %w", full, err)
					}
					if len(matches) == 0 {
						misses <- miss{pipeline: name, phase: ph.Name, pattern: pattern}
					}
				}
			}
			return nil
		})
	}

	err := g.Wait()
	close(misses)
	if err != nil {
		return err
	}

	for m := range misses {
		report.add(2, SeverityError,
			fmt.Sprintf("workflow file %q does not resolve to any existing file", m.pattern),
			fmt.Sprintf("pipelines.%s.%s", m.pipeline, m.phase),
			"fix the path or create the missing workflow file")
	}
	return nil
}

// phase3ItemPipelineConsistency checks that every Scoping or InProgress item
// references a known pipeline and phase, with a matching pool. Items in other
// statuses are not checked.
func phase3ItemPipelineConsistency(report *Report, cfg *config.Config, items []item.Item) {
	for _, it := range items {
		if it.Status != item.StatusInProgress && it.Status != item.StatusScoping {
			continue
		}
		pc, ok := cfg.Pipelines[it.PipelineType]
		if !ok {
			report.add(3, SeverityError,
				fmt.Sprintf("item references unknown pipeline %q", it.PipelineType),
				it.ID,
				"correct the item's pipeline_type or add the pipeline to config")
			continue
		}
		if it.Phase == "" {
			continue
		}
		ph, pool, found := pc.PhaseByName(it.Phase)
		if !found {
			report.add(3, SeverityError,
				fmt.Sprintf("item references unknown phase %q in pipeline %q", it.Phase, it.PipelineType),
				it.ID,
				"correct the item's phase or add it to the pipeline")
			continue
		}
		_ = ph
		if it.PhasePool != "" && it.PhasePool != pool {
			report.add(3, SeverityWarning,
				fmt.Sprintf("item's phase_pool %q does not match phase %q's actual pool %q", it.PhasePool, it.Phase, pool),
				it.ID,
				"correct the item's phase_pool")
		}
	}
}

// phase4DuplicateIDs reports every id that occupies more than one index.
func phase4DuplicateIDs(report *Report, items []item.Item) {
	indices := make(map[string][]int)
	for i, it := range items {
		indices[it.ID] = append(indices[it.ID], i)
	}
	for id, idxs := range indices {
		if len(idxs) > 1 {
			report.add(4, SeverityError,
				fmt.Sprintf("duplicate item id %q at indices %v", id, idxs),
				id,
				"merge or rename the duplicate entries")
		}
	}
}

// phase5DependencyCycles runs DFS three-colour cycle detection over the
// non-Done subgraph of dependency edges, reporting each cycle as an
// ordered path.
func phase5DependencyCycles(report *Report, items []item.Item) {
	byID := make(map[string]item.Item, len(items))
	for _, it := range items {
		byID[it.ID] = it
	}

	const (
		white = 0
		gray  = 1
		black = 2
	)
	color := make(map[string]int, len(items))
	var stack []string

	var visit func(id string) []string
	visit = func(id string) (cycle []string) {
		it, ok := byID[id]
		if !ok || it.Status == item.StatusDone {
			return nil
		}
		color[id] = gray
		stack = append(stack, id)
		defer func() {
			stack = stack[:len(stack)-1]
			if cycle == nil {
				color[id] = black
			}
		}()
		for _, dep := range it.Dependencies {
			switch color[dep] {
			case gray:
				// Found a cycle; extract the path from dep's first
				// occurrence on the stack to here. Leave dep (and the
				// rest of the still-open stack) gray: they remain
				// legitimately "in progress" for any enclosing caller.
				start := 0
				for i, s := range stack {
					if s == dep {
						start = i
						break
					}
				}
				c := append([]string(nil), stack[start:]...)
				return append(c, dep)
			case white:
				if c := visit(dep); c != nil {
					return c
				}
			}
		}
		return nil
	}

	reported := make(map[string]bool)
	for _, it := range items {
		if color[it.ID] != white {
			continue
		}
		if cyc := visit(it.ID); cyc != nil {
			key := fmt.Sprint(cyc)
			if !reported[key] {
				reported[key] = true
				report.add(5, SeverityError,
					fmt.Sprintf("dependency cycle: %v", cyc),
					cyc[0],
					"break the cycle by removing or reordering a dependency")
			}
		}
	}
}
