package main

import (
	"fmt"
	"path/filepath"
	"time"

	"github.com/charmbracelet/log"

	"github.com/sirhamy/phase-golem/internal/agent"
	"github.com/sirhamy/phase-golem/internal/config"
	"github.com/sirhamy/phase-golem/internal/coordinator"
	"github.com/sirhamy/phase-golem/internal/executor"
	"github.com/sirhamy/phase-golem/internal/gitrepo"
	"github.com/sirhamy/phase-golem/internal/lock"
	"github.com/sirhamy/phase-golem/internal/logging"
	"github.com/sirhamy/phase-golem/internal/scheduler"
	"github.com/sirhamy/phase-golem/internal/store"
	"github.com/sirhamy/phase-golem/internal/worklog"
)

// app bundles the wired-together components a subcommand needs. Built once
// per invocation by newApp.
type app struct {
	root       string
	configBase string
	cfg        *config.Config
	store      *store.Store
	coord      *coordinator.Coordinator
	driver     *scheduler.Driver
	logger     *log.Logger
}

func configPath(root string) (string, string, error) {
	if flagConfig != "" {
		return flagConfig, filepath.Dir(flagConfig), nil
	}
	found, err := config.FindConfigFile(root)
	if err != nil {
		return "", "", err
	}
	if found == "" {
		return filepath.Join(root, config.ConfigFileName), root, nil
	}
	return found, filepath.Dir(found), nil
}

func loadConfig(root string) (*config.Config, string, error) {
	path, base, err := configPath(root)
	if err != nil {
		return nil, "", err
	}
	fileCfg, meta, err := config.LoadFromFile(path)
	if err != nil {
		return nil, "", err
	}
	result := config.Validate(fileCfg, meta)
	if result.HasErrors() {
		for _, issue := range result.Errors() {
			fmt.Printf("config error: %s: %s\n", issue.Field, issue.Message)
		}
		return nil, "", fmt.Errorf("invalid configuration: %s", path)
	}
	resolved := config.Resolve(config.NewDefaults(), fileCfg, cliOverrides())
	return resolved.Config, base, nil
}

// newApp resolves configuration and wires the Coordinator, a real
// *executor.Executor bound into a scheduler.PhaseRunner, and the Driver
// that sits on top of both.
func newApp(root string) (*app, error) {
	cfg, base, err := loadConfig(root)
	if err != nil {
		return nil, err
	}

	logger := logging.New("phase-golem")
	st := store.New(filepath.Join(root, ".phase-golem"))
	repo := gitrepo.New(root)
	wl := worklog.New(root)
	coord := coordinator.New(st, repo, wl, logger)

	runner := agent.NewCLIRunner(cfg.Agent.Command, cfg.Agent.ExtraArgs, filepath.Join(root, ".phase-golem"), logger)
	exec := executor.New(coord, runner, executor.RetryConfig{
		MaxRetries:   cfg.Retry.MaxRetries,
		PhaseTimeout: time.Duration(cfg.Retry.PhaseTimeout()) * time.Minute,
	}, root, base, logging.New("executor"))

	driver := scheduler.New(coord, exec.Run, cfg, logging.New("scheduler"))

	return &app{root: root, configBase: base, cfg: cfg, store: st, coord: coord, driver: driver, logger: logger}, nil
}

// acquireLock takes the single-instance run lock for the given root.
func acquireLock(root string) (*lock.Guard, error) {
	return lock.Acquire(filepath.Join(root, ".phase-golem"))
}
