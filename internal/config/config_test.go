package config

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sirhamy/phase-golem/internal/item"
)

func validPipelines() map[string]item.PipelineConfig {
	return map[string]item.PipelineConfig{
		"default": {
			Name: "default",
			MainPhases: []item.PhaseConfig{
				{Name: "build"},
			},
		},
	}
}

func TestDefaultsPassValidation(t *testing.T) {
	cfg := NewDefaults()
	cfg.Project.Name = "demo"
	cfg.Pipelines = validPipelines()

	vr := Validate(cfg, nil)
	require.False(t, vr.HasErrors(), "%+v", vr.Errors())
}

func TestValidateRejectsMissingProjectName(t *testing.T) {
	cfg := NewDefaults()
	cfg.Pipelines = validPipelines()

	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
}

func TestValidateRejectsZeroExecutionCeilings(t *testing.T) {
	cfg := NewDefaults()
	cfg.Project.Name = "demo"
	cfg.Pipelines = validPipelines()
	cfg.Execution.MaxWIP = 0

	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
}

func TestValidateFlagsStalenessBlockWithConcurrentWIP(t *testing.T) {
	cfg := NewDefaults()
	cfg.Project.Name = "demo"
	cfg.Execution.MaxWIP = 2
	cfg.Pipelines = map[string]item.PipelineConfig{
		"default": {
			Name: "default",
			MainPhases: []item.PhaseConfig{
				{Name: "build", Destructive: true, Staleness: item.StalenessBlock},
			},
		},
	}

	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
}

func TestValidateRejectsUndefinedDefaultPipeline(t *testing.T) {
	cfg := NewDefaults()
	cfg.Project.Name = "demo"
	cfg.Project.DefaultPipeline = "missing"
	cfg.Pipelines = validPipelines()

	vr := Validate(cfg, nil)
	require.True(t, vr.HasErrors())
}

func TestResolveCLIOverridesWinOverFileAndDefaults(t *testing.T) {
	defaults := NewDefaults()
	file := &Config{Execution: ExecutionConfig{MaxWIP: 5, MaxConcurrent: 5}}
	wip := 9

	rc := Resolve(defaults, file, &CLIOverrides{MaxWIP: &wip})

	require.Equal(t, 9, rc.Config.Execution.MaxWIP)
	require.Equal(t, SourceCLI, rc.Sources["execution.max_wip"])
	require.Equal(t, 5, rc.Config.Execution.MaxConcurrent)
	require.Equal(t, SourceFile, rc.Sources["execution.max_concurrent"])
}

func TestFindConfigFileWalksUpToRoot(t *testing.T) {
	dir := t.TempDir()
	path, err := FindConfigFile(dir)
	require.NoError(t, err)
	require.Empty(t, path)
}
