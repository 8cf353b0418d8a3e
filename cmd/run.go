package cmd

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/marcus/daybook/internal/config"
)

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run the sync daemon",
	Long: `Run the background sync daemon. Local edits wake it immediately; while
rows are pending it also retries on a timer. Stops on SIGINT/SIGTERM.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
		defer stop()

		eng, err := openEngine(func() {
			slog.Warn("session rejected by server; credentials cleared")
			if err := config.ClearAuth(); err != nil {
				slog.Error("clear credentials", "err", err)
			}
			stop()
		})
		if err != nil {
			return err
		}

		eng.Start(ctx)
		slog.Info("daybook sync daemon started", "interval", config.SyncInterval())

		<-ctx.Done()
		slog.Info("shutting down")
		if err := eng.Close(); err != nil {
			return fmt.Errorf("close engine: %w", err)
		}
		return nil
	},
}

func init() {
	rootCmd.AddCommand(runCmd)
}
