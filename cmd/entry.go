package cmd

import (
	"encoding/json"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/marcus/daybook/internal/models"
)

var writeJSON bool

var writeCmd = &cobra.Command{
	Use:   "write [day] [text]",
	Short: "Write a day's entry",
	Long: `Write the entry for a day (default today). Text comes from the argument
or stdin. With --json the input is stored as the entry document verbatim;
otherwise it is wrapped as {"text": ...}.`,
	Args: cobra.MaximumNArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, rest, err := dayArg(args)
		if err != nil {
			return err
		}

		var text string
		if len(rest) > 0 {
			text = rest[0]
		} else {
			data, err := io.ReadAll(os.Stdin)
			if err != nil {
				return err
			}
			text = string(data)
		}

		var content json.RawMessage
		if writeJSON {
			if !json.Valid([]byte(text)) {
				return fmt.Errorf("input is not valid JSON")
			}
			content = json.RawMessage(text)
		} else {
			content, err = json.Marshal(map[string]string{"text": text})
			if err != nil {
				return err
			}
		}

		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		e, err := eng.SaveEntry(day, content)
		if err != nil {
			return err
		}
		fmt.Printf("Saved %s (%s)\n", e.Day, e.SyncStatus)
		return nil
	},
}

var showCmd = &cobra.Command{
	Use:   "show [day]",
	Short: "Show a day's entry",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, _, err := dayArg(args)
		if err != nil {
			return err
		}

		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		e, err := eng.Entry(day)
		if err != nil {
			return err
		}
		if e == nil || e.SyncStatus == models.StatusPendingDelete {
			fmt.Printf("No entry for %s\n", day)
			return nil
		}
		fmt.Println(string(e.Content))

		tags, err := eng.TagsForDay(day)
		if err != nil {
			return err
		}
		for _, t := range tags {
			fmt.Printf("  #%s (%s)\n", t.Name, t.Color)
		}
		return nil
	},
}

var listCmd = &cobra.Command{
	Use:   "list",
	Short: "List days with entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		entries, err := eng.Entries()
		if err != nil {
			return err
		}
		for _, e := range entries {
			marker := " "
			if e.SyncStatus.Pending() {
				marker = "*"
			}
			fmt.Printf("%s %s\n", marker, e.Day)
		}
		return nil
	},
}

var deleteCmd = &cobra.Command{
	Use:   "delete [day]",
	Short: "Delete a day's entry",
	Args:  cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, _, err := dayArg(args)
		if err != nil {
			return err
		}

		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.DeleteEntry(day); err != nil {
			return err
		}
		fmt.Printf("Deleted %s\n", day)
		return nil
	},
}

// dayArg parses an optional leading day argument, defaulting to today, and
// returns the remaining args.
func dayArg(args []string) (models.Day, []string, error) {
	if len(args) == 0 {
		return models.DayOf(time.Now()), nil, nil
	}
	day, err := models.ParseDay(args[0])
	if err != nil {
		// First arg is not a day; treat everything as content.
		return models.DayOf(time.Now()), args, nil
	}
	return day, args[1:], nil
}

func init() {
	writeCmd.Flags().BoolVar(&writeJSON, "json", false, "store input as the entry document verbatim")
	rootCmd.AddCommand(writeCmd)
	rootCmd.AddCommand(showCmd)
	rootCmd.AddCommand(listCmd)
	rootCmd.AddCommand(deleteCmd)
}
