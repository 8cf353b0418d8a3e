package cmd

import (
	"fmt"
	"log/slog"

	"github.com/spf13/cobra"

	"github.com/marcus/daybook/internal/cache"
	"github.com/marcus/daybook/internal/config"
	"github.com/marcus/daybook/internal/sync"
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Run one sync pass and exit",
	Long: `Run one reconciliation pass for entries and one for tags, then exit.
The daemon does this continuously; this command is for scripts and for
checking connectivity.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := session()
		if err != nil {
			return err
		}
		client := newClient(creds)
		km, err := newKeyManager(client)
		if err != nil {
			return err
		}
		dataDir, err := config.DataDir()
		if err != nil {
			return err
		}
		store, err := cache.Open(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		reg := sync.NewRegistry()
		signedOut := false
		onUnauthorized := func() {
			signedOut = true
			if err := store.PurgeUser(creds.UserID); err != nil {
				slog.Error("purge cache", "err", err)
			}
			if err := km.Forget(creds.UserID); err != nil {
				slog.Error("forget key", "err", err)
			}
		}

		entries := sync.NewEntrySyncer(store, client, km, reg, creds.UserID, onUnauthorized)
		tags := sync.NewTagSyncer(store, client, reg, creds.UserID, entries.Bootstrapped, onUnauthorized)

		ctx := cmd.Context()
		pendingEntries, entErr := entries.RunPass(ctx)
		pendingTags, tagErr := tags.RunPass(ctx)

		if signedOut {
			if err := config.ClearAuth(); err != nil {
				return fmt.Errorf("clear credentials: %w", err)
			}
			return fmt.Errorf("session rejected by server; signed out")
		}
		if entErr != nil {
			return fmt.Errorf("entries pass: %w", entErr)
		}
		if tagErr != nil {
			return fmt.Errorf("tags pass: %w", tagErr)
		}

		fmt.Printf("Sync complete: %d entries pending, %d tags/links pending\n", pendingEntries, pendingTags)
		return nil
	},
}

func init() {
	rootCmd.AddCommand(syncCmd)
}
