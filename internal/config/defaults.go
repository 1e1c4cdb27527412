package config

import "github.com/sirhamy/phase-golem/internal/item"

// NewDefaults returns a Config populated with conservative defaults, used as
// the base layer before a phase-golem.toml file is decoded on top of it.
func NewDefaults() *Config {
	return &Config{
		Project: ProjectConfig{
			DefaultPipeline: "default",
		},
		Execution: ExecutionConfig{
			MaxWIP:        3,
			MaxConcurrent: 3,
		},
		Guardrails: GuardrailsConfig{
			MaxSize:       item.SizeLarge,
			MaxComplexity: item.RiskHigh,
			MaxRisk:       item.RiskHigh,
		},
		Retry: RetryConfig{
			MaxRetries:          3,
			PhaseTimeoutMinutes: 30,
		},
		Agent: AgentConfig{
			Command: "claude",
		},
		Pipelines: map[string]item.PipelineConfig{},
	}
}
