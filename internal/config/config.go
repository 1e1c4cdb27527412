// Package config loads and validates the engine's TOML configuration file,
// grounded on the teacher's internal/config package (BurntSushi/toml,
// severity-tagged validation issues, unknown-key detection via
// MetaData.Undecoded()), generalized from Raven's task-runner config shape
// to the spec's pipeline/execution/guardrail domain.
package config

import "github.com/sirhamy/phase-golem/internal/item"

// Config is the top-level configuration, mapping to phase-golem.toml.
type Config struct {
	Project    ProjectConfig                   `toml:"project"`
	Execution  ExecutionConfig                 `toml:"execution"`
	Guardrails GuardrailsConfig                `toml:"guardrails"`
	Retry      RetryConfig                     `toml:"retry"`
	Agent      AgentConfig                     `toml:"agent"`
	Pipelines  map[string]item.PipelineConfig  `toml:"pipelines"`
}

// ProjectConfig maps to the [project] section.
type ProjectConfig struct {
	Name            string `toml:"name"`
	DefaultPipeline string `toml:"default_pipeline"`
}

// ExecutionConfig maps to the [execution] section: the scheduler's
// concurrency ceilings (spec §4.2).
type ExecutionConfig struct {
	MaxWIP        int `toml:"max_wip"`
	MaxConcurrent int `toml:"max_concurrent"`
}

// GuardrailsConfig maps to the [guardrails] section: the upper bounds
// tested by item.PassesGuardrails (spec §4.3.1).
type GuardrailsConfig struct {
	MaxSize       item.Size `toml:"max_size"`
	MaxComplexity item.Risk `toml:"max_complexity"`
	MaxRisk       item.Risk `toml:"max_risk"`
}

// RetryConfig maps to the [retry] section.
type RetryConfig struct {
	MaxRetries          int `toml:"max_retries"`
	PhaseTimeoutMinutes int `toml:"phase_timeout_minutes"`
}

// AgentConfig maps to the [agent] section: the CLI binary the Executor
// spawns for every phase invocation.
type AgentConfig struct {
	Command   string   `toml:"command"`
	ExtraArgs []string `toml:"extra_args"`
}

// PhaseTimeout returns the configured per-phase timeout in minutes, falling
// back to 30 when the configured value is not positive.
func (r RetryConfig) PhaseTimeout() int {
	if r.PhaseTimeoutMinutes <= 0 {
		return 30
	}
	return r.PhaseTimeoutMinutes
}
