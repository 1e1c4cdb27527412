package config

// ConfigSource identifies where a configuration value came from.
type ConfigSource string

const (
	SourceDefault ConfigSource = "default"
	SourceFile    ConfigSource = "file"
	SourceCLI     ConfigSource = "cli"
)

// ResolvedConfig holds the fully-merged configuration with source tracking,
// recording whether max_wip, say, came from the defaults, the file or a
// flag. No subcommand currently prints Sources.
type ResolvedConfig struct {
	Config  *Config
	Sources map[string]ConfigSource
	Path    string
}

// CLIOverrides captures flag values that can override configuration. A nil
// pointer means "not set on the command line" and the file/default value is
// kept.
type CLIOverrides struct {
	MaxWIP        *int
	MaxConcurrent *int
	AgentCommand  *string
}

// Resolve merges configuration from defaults, an optional file, and CLI
// overrides, in that priority order, tracking the source of the three
// execution/agent fields a run can override from the command line. Pipeline
// definitions and guardrails are file-or-default only: they describe the
// project's process, not a single invocation's tuning.
func Resolve(defaults *Config, fileConfig *Config, overrides *CLIOverrides) *ResolvedConfig {
	rc := &ResolvedConfig{Sources: make(map[string]ConfigSource)}

	if defaults == nil {
		defaults = NewDefaults()
	}
	merged := *defaults
	rc.Sources["execution.max_wip"] = SourceDefault
	rc.Sources["execution.max_concurrent"] = SourceDefault
	rc.Sources["agent.command"] = SourceDefault

	if fileConfig != nil {
		merged.Project = fileConfig.Project
		merged.Guardrails = fileConfig.Guardrails
		merged.Retry = fileConfig.Retry
		if len(fileConfig.Pipelines) > 0 {
			merged.Pipelines = fileConfig.Pipelines
		}
		if fileConfig.Execution.MaxWIP != 0 {
			merged.Execution.MaxWIP = fileConfig.Execution.MaxWIP
			rc.Sources["execution.max_wip"] = SourceFile
		}
		if fileConfig.Execution.MaxConcurrent != 0 {
			merged.Execution.MaxConcurrent = fileConfig.Execution.MaxConcurrent
			rc.Sources["execution.max_concurrent"] = SourceFile
		}
		if fileConfig.Agent.Command != "" {
			merged.Agent = fileConfig.Agent
			rc.Sources["agent.command"] = SourceFile
		}
	}

	if overrides != nil {
		if overrides.MaxWIP != nil {
			merged.Execution.MaxWIP = *overrides.MaxWIP
			rc.Sources["execution.max_wip"] = SourceCLI
		}
		if overrides.MaxConcurrent != nil {
			merged.Execution.MaxConcurrent = *overrides.MaxConcurrent
			rc.Sources["execution.max_concurrent"] = SourceCLI
		}
		if overrides.AgentCommand != nil {
			merged.Agent.Command = *overrides.AgentCommand
			rc.Sources["agent.command"] = SourceCLI
		}
	}

	rc.Config = &merged
	return rc
}
