package main

import (
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/snaplearn/snaplearn/internal/config"
	"github.com/snaplearn/snaplearn/internal/storage"
)

var historyCmd = &cobra.Command{
	Use:   "history",
	Short: "Browse and manage saved answers",
}

var historyListCmd = &cobra.Command{
	Use:   "list",
	Short: "List saved answers, newest first",
	RunE: func(cmd *cobra.Command, args []string) error {
		limit, _ := cmd.Flags().GetInt("limit")
		favorites, _ := cmd.Flags().GetBool("favorites")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.ListAll()
		if err != nil {
			return err
		}
		if favorites {
			var kept []storage.QuestionAnswer
			for _, qa := range records {
				if qa.Favorited {
					kept = append(kept, qa)
				}
			}
			records = kept
		}
		if limit > 0 && len(records) > limit {
			records = records[:limit]
		}
		printRecords(records)
		return nil
	},
}

var historySearchCmd = &cobra.Command{
	Use:   "search <query>",
	Short: "Search saved answers by substring",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		query := strings.Join(args, " ")

		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		records, err := store.Search(query)
		if err != nil {
			return err
		}
		printRecords(records)
		return nil
	},
}

var historyShowCmd = &cobra.Command{
	Use:   "show <id>",
	Short: "Show a single saved answer in full",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		qa, err := store.GetByID(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no record with id %s", args[0])
		}
		if err != nil {
			return err
		}

		fmt.Printf("%s %s\n", colorize(colorBold, "ID:"), qa.ID)
		fmt.Printf("%s %s\n", colorize(colorBold, "Asked:"), formatMillis(qa.CreatedAt))
		if qa.Favorited {
			fmt.Printf("%s yes\n", colorize(colorBold, "Favorite:"))
		}
		if len(qa.ImageData) > 0 {
			fmt.Printf("%s %d bytes\n", colorize(colorBold, "Image:"), len(qa.ImageData))
		}
		fmt.Printf("\n%s\n%s\n", colorize(colorBold, qa.Question), qa.Answer)
		return nil
	},
}

var historyDeleteCmd = &cobra.Command{
	Use:   "delete <id>",
	Short: "Delete a saved answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		if err := store.DeleteByID(args[0]); err != nil {
			return err
		}
		printSuccess("Deleted %s", args[0])
		return nil
	},
}

var historyFavoriteCmd = &cobra.Command{
	Use:   "favorite <id>",
	Short: "Toggle the favorite flag on a saved answer",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		store, err := openStore()
		if err != nil {
			return err
		}
		defer store.Close()

		qa, err := store.GetByID(args[0])
		if errors.Is(err, storage.ErrNotFound) {
			return fmt.Errorf("no record with id %s", args[0])
		}
		if err != nil {
			return err
		}

		if err := store.SetFavorited(qa.ID, !qa.Favorited); err != nil {
			return err
		}
		if qa.Favorited {
			printSuccess("Unfavorited %s", qa.ID)
		} else {
			printSuccess("Favorited %s", qa.ID)
		}
		return nil
	},
}

func init() {
	historyListCmd.Flags().Int("limit", 20, "maximum number of records to list")
	historyListCmd.Flags().Bool("favorites", false, "only list favorited records")

	historyCmd.AddCommand(historyListCmd)
	historyCmd.AddCommand(historySearchCmd)
	historyCmd.AddCommand(historyShowCmd)
	historyCmd.AddCommand(historyDeleteCmd)
	historyCmd.AddCommand(historyFavoriteCmd)
}

func openStore() (*storage.Store, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	store, err := storage.Open(cfg.Storage.DataDir)
	if err != nil {
		return nil, fmt.Errorf("opening storage: %w", err)
	}
	return store, nil
}

func printRecords(records []storage.QuestionAnswer) {
	if len(records) == 0 {
		fmt.Println("No saved answers.")
		return
	}
	for _, qa := range records {
		question := strings.ReplaceAll(qa.Question, "\n", " ")
		if len(question) > 80 {
			question = question[:80] + "..."
		}
		marker := " "
		if qa.Favorited {
			marker = colorize(colorYellow, "★")
		}
		fmt.Printf("%s %s  %s  %s\n",
			marker,
			colorize(colorCyan, qa.ID[:8]),
			formatMillis(qa.CreatedAt),
			question,
		)
	}
}

func formatMillis(ms int64) string {
	return time.UnixMilli(ms).Format("2006-01-02 15:04")
}
