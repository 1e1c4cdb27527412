package config

import (
	"fmt"
	"strings"

	"github.com/BurntSushi/toml"
)

// ValidationSeverity indicates whether a validation issue is an error or warning.
type ValidationSeverity string

const (
	// SeverityError indicates a fatal validation issue; the configuration is unusable.
	SeverityError ValidationSeverity = "error"
	// SeverityWarning indicates an informational validation issue; the configuration works
	// but may have problems.
	SeverityWarning ValidationSeverity = "warning"
)

// ValidationIssue represents a single validation finding.
type ValidationIssue struct {
	Severity ValidationSeverity
	Field    string // dotted path, e.g., "execution.max_wip"
	Message  string
}

// ValidationResult holds all validation findings.
type ValidationResult struct {
	Issues []ValidationIssue
}

func (vr *ValidationResult) HasErrors() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			return true
		}
	}
	return false
}

func (vr *ValidationResult) HasWarnings() bool {
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			return true
		}
	}
	return false
}

func (vr *ValidationResult) Errors() []ValidationIssue {
	var errs []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityError {
			errs = append(errs, issue)
		}
	}
	return errs
}

func (vr *ValidationResult) Warnings() []ValidationIssue {
	var warns []ValidationIssue
	for _, issue := range vr.Issues {
		if issue.Severity == SeverityWarning {
			warns = append(warns, issue)
		}
	}
	return warns
}

// Validate performs the structural checks described in spec §4.5 Phase 1:
// project name presence, execution ceilings, agent command presence,
// per-pipeline phase shape (delegated to item.PipelineConfig.Validate), the
// staleness=Block/max_wip>1 incompatibility, and unknown-key detection.
// Guardrail values are not checked.
//
// meta may be nil when cfg was built entirely from defaults (no file
// loaded); unknown-key detection is skipped in that case.
func Validate(cfg *Config, meta *toml.MetaData) *ValidationResult {
	vr := &ValidationResult{}

	if cfg == nil {
		addError(vr, "", "configuration is nil")
		return vr
	}

	validateProject(vr, &cfg.Project)
	validateExecution(vr, &cfg.Execution)
	validateAgent(vr, &cfg.Agent)
	validatePipelines(vr, cfg)
	validateUnknownKeys(vr, meta)

	return vr
}

func validateProject(vr *ValidationResult, p *ProjectConfig) {
	if p.Name == "" {
		addError(vr, "project.name", "must not be empty")
	}
}

func validateExecution(vr *ValidationResult, e *ExecutionConfig) {
	if e.MaxWIP < 1 {
		addError(vr, "execution.max_wip", "must be at least 1")
	}
	if e.MaxConcurrent < 1 {
		addError(vr, "execution.max_concurrent", "must be at least 1")
	}
	if e.MaxConcurrent > e.MaxWIP {
		addWarning(vr, "execution.max_concurrent",
			fmt.Sprintf("exceeds max_wip (%d); effective concurrency is capped by WIP", e.MaxWIP))
	}
}

func validateAgent(vr *ValidationResult, a *AgentConfig) {
	if a.Command == "" {
		addError(vr, "agent.command", "must not be empty")
	}
}

// validatePipelines checks that the default pipeline exists, delegates
// phase-shape checks to item.PipelineConfig.Validate, and flags the
// staleness=Block / max_wip>1 combination: a blocking destructive phase
// would deadlock every item behind it once WIP allows more than one item
// into that phase pool concurrently.
func validatePipelines(vr *ValidationResult, cfg *Config) {
	if len(cfg.Pipelines) == 0 {
		addError(vr, "pipelines", "must define at least one pipeline")
		return
	}

	if cfg.Project.DefaultPipeline != "" {
		if _, ok := cfg.Pipelines[cfg.Project.DefaultPipeline]; !ok {
			addError(vr, "project.default_pipeline",
				fmt.Sprintf("references undefined pipeline %q", cfg.Project.DefaultPipeline))
		}
	}

	for name, pc := range cfg.Pipelines {
		prefix := "pipelines." + name
		pc := pc
		for _, problem := range pc.Validate() {
			addError(vr, prefix, problem)
		}
		for _, ph := range pc.MainPhases {
			if ph.Destructive && ph.Staleness == "block" && cfg.Execution.MaxWIP > 1 {
				addError(vr, prefix+"."+ph.Name+".staleness",
					fmt.Sprintf("staleness=block on destructive phase %q is incompatible with max_wip>1 (%d)", ph.Name, cfg.Execution.MaxWIP))
			}
		}
	}
}

// validateUnknownKeys checks for TOML keys that did not map to any config struct field.
func validateUnknownKeys(vr *ValidationResult, meta *toml.MetaData) {
	if meta == nil {
		return
	}
	for _, key := range meta.Undecoded() {
		path := strings.Join(key, ".")
		addWarning(vr, path, "unknown configuration key")
	}
}

func addError(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{Severity: SeverityError, Field: field, Message: message})
}

func addWarning(vr *ValidationResult, field, message string) {
	vr.Issues = append(vr.Issues, ValidationIssue{Severity: SeverityWarning, Field: field, Message: message})
}
