package cmd

import (
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/marcus/daybook/internal/models"
)

var tagCmd = &cobra.Command{
	Use:   "tag",
	Short: "Manage tags and day-tag links",
}

var tagCreateColor string

var tagCreateCmd = &cobra.Command{
	Use:   "create <name>",
	Short: "Create a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		t, err := eng.CreateTag(args[0], models.TagColor(tagCreateColor))
		if err != nil {
			return err
		}
		fmt.Printf("Created #%s (%s) id=%s\n", t.Name, t.Color, t.ID)
		return nil
	},
}

var tagListCmd = &cobra.Command{
	Use:   "ls",
	Short: "List tags",
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		tags, err := eng.Tags()
		if err != nil {
			return err
		}
		for _, t := range tags {
			marker := " "
			if t.SyncStatus.Pending() {
				marker = "*"
			}
			fmt.Printf("%s %-20s %-8s %s\n", marker, t.Name, t.Color, t.ID)
		}
		return nil
	},
}

var tagRenameCmd = &cobra.Command{
	Use:   "rename <id> <name>",
	Short: "Rename a tag",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		t, err := eng.RenameTag(args[0], args[1])
		if err != nil {
			return err
		}
		fmt.Printf("Renamed to #%s\n", t.Name)
		return nil
	},
}

var tagColorCmd = &cobra.Command{
	Use:   "color <id> <color>",
	Short: "Change a tag's color",
	Long:  "Change a tag's color. Valid colors: " + paletteList() + ".",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		t, err := eng.RecolorTag(args[0], models.TagColor(args[1]))
		if err != nil {
			return err
		}
		fmt.Printf("#%s is now %s\n", t.Name, t.Color)
		return nil
	},
}

var tagDeleteCmd = &cobra.Command{
	Use:   "rm <id>",
	Short: "Delete a tag",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.DeleteTag(args[0]); err != nil {
			return err
		}
		fmt.Println("Deleted")
		return nil
	},
}

var tagAddCmd = &cobra.Command{
	Use:   "add <day> <tag-id>",
	Short: "Tag a day",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := models.ParseDay(args[0])
		if err != nil {
			return err
		}

		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		if _, err := eng.TagEntry(day, args[1]); err != nil {
			return err
		}
		fmt.Printf("Tagged %s\n", day)
		return nil
	},
}

var tagRemoveCmd = &cobra.Command{
	Use:   "remove <day> <tag-id>",
	Short: "Untag a day",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		day, err := models.ParseDay(args[0])
		if err != nil {
			return err
		}

		eng, err := openEngine(nil)
		if err != nil {
			return err
		}
		defer eng.Close()

		if err := eng.UntagEntry(day, args[1]); err != nil {
			return err
		}
		fmt.Printf("Untagged %s\n", day)
		return nil
	},
}

func paletteList() string {
	colors := models.Palette()
	names := make([]string, len(colors))
	for i, c := range colors {
		names[i] = string(c)
	}
	return strings.Join(names, ", ")
}

func init() {
	tagCreateCmd.Flags().StringVar(&tagCreateColor, "color", string(models.Palette()[0]), "tag color: "+paletteList())
	tagCmd.AddCommand(tagCreateCmd)
	tagCmd.AddCommand(tagListCmd)
	tagCmd.AddCommand(tagRenameCmd)
	tagCmd.AddCommand(tagColorCmd)
	tagCmd.AddCommand(tagDeleteCmd)
	tagCmd.AddCommand(tagAddCmd)
	tagCmd.AddCommand(tagRemoveCmd)
	rootCmd.AddCommand(tagCmd)
}
