package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/marcus/daybook/internal/cache"
	"github.com/marcus/daybook/internal/config"
)

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create the daybook config and local cache database",
	RunE: func(cmd *cobra.Command, args []string) error {
		dir, err := config.Dir()
		if err != nil {
			return err
		}

		cfg, err := config.Load()
		if err != nil {
			return err
		}
		if err := config.Save(cfg); err != nil {
			return fmt.Errorf("write config: %w", err)
		}

		dataDir, err := config.DataDir()
		if err != nil {
			return err
		}
		// Opening applies the schema and records the current version.
		store, err := cache.Open(dataDir)
		if err != nil {
			return fmt.Errorf("create cache: %w", err)
		}
		if err := store.Close(); err != nil {
			return err
		}

		fmt.Printf("Config: %s\n", filepath.Join(dir, "config.json"))
		fmt.Printf("Cache:  %s\n", dataDir)
		fmt.Println("Run 'daybook login' to connect a sync account.")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(initCmd)
}
