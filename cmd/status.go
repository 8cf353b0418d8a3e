package cmd

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/marcus/daybook/internal/cache"
	"github.com/marcus/daybook/internal/config"
	"github.com/marcus/daybook/internal/models"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show session and pending-row status",
	RunE: func(cmd *cobra.Command, args []string) error {
		creds, err := config.LoadAuth()
		if err != nil {
			return err
		}
		if creds == nil || creds.UserID == "" {
			fmt.Println("Not signed in")
			return nil
		}
		fmt.Printf("Signed in as %s (server %s)\n", creds.UserID, config.ServerURL())

		dataDir, err := config.DataDir()
		if err != nil {
			return err
		}
		store, err := cache.Open(dataDir)
		if err != nil {
			return err
		}
		defer store.Close()

		for _, st := range []models.SyncStatus{models.StatusPendingInsert, models.StatusPendingUpdate, models.StatusPendingDelete} {
			entries, err := store.ListEntriesByStatus(creds.UserID, st)
			if err != nil {
				return err
			}
			tags, err := store.ListTagsByStatus(creds.UserID, st)
			if err != nil {
				return err
			}
			links, err := store.ListEntryTagsByStatus(creds.UserID, st)
			if err != nil {
				return err
			}
			if len(entries)+len(tags)+len(links) == 0 {
				continue
			}
			fmt.Printf("%s: %d entries, %d tags, %d links\n", st, len(entries), len(tags), len(links))
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(statusCmd)
}
