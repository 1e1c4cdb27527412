package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/BurntSushi/toml"
	"github.com/spf13/cobra"

	"github.com/sirhamy/phase-golem/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Scaffold .phase-golem/ and a default phase-golem.toml (idempotent)",
	RunE: func(cmd *cobra.Command, args []string) error {
		root := flagRoot
		storeDir := filepath.Join(root, ".phase-golem")
		if err := os.MkdirAll(storeDir, 0o755); err != nil {
			return fmt.Errorf("creating %s: %w", storeDir, err)
		}
		if err := os.MkdirAll(filepath.Join(root, "_worklog"), 0o755); err != nil {
			return fmt.Errorf("creating worklog dir: %w", err)
		}
		if err := os.MkdirAll(filepath.Join(root, "changes"), 0o755); err != nil {
			return fmt.Errorf("creating changes dir: %w", err)
		}

		cfgPath := filepath.Join(root, config.ConfigFileName)
		if _, err := os.Stat(cfgPath); err == nil {
			fmt.Printf("%s already exists, leaving it in place\n", cfgPath)
			return nil
		}

		f, err := os.Create(cfgPath)
		if err != nil {
			return fmt.Errorf("creating %s: %w", cfgPath, err)
		}
		defer f.Close()
		if err := toml.NewEncoder(f).Encode(config.NewDefaults()); err != nil {
			return fmt.Errorf("writing %s: %w", cfgPath, err)
		}
		fmt.Printf("wrote %s\n", cfgPath)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
