package cmd

import (
	"fmt"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"e6grab/downloader"
	"e6grab/internal"
)

var (
	searchPage  int
	searchLimit int
)

var searchCmd = &cobra.Command{
	Use:   "search <tags>...",
	Short: "Search posts by tags without downloading",
	Args:  cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		if searchLimit > 0 {
			cfg.PostCount = searchLimit
			if err := cfg.Validate(); err != nil {
				return err
			}
		}

		engine, err := downloader.NewEngine(cfg, afero.NewOsFs(), internal.NopSink{})
		if err != nil {
			return err
		}
		defer engine.Close()

		posts, err := engine.Search(cmd.Context(), args, searchPage)
		if err != nil {
			return err
		}
		if len(posts) == 0 {
			fmt.Println("No posts found.")
			return nil
		}

		fmt.Printf("%-10s %-6s %-7s %-10s %s\n", "ID", "RATING", "SCORE", "SIZE", "ARTISTS")
		for _, post := range posts {
			fmt.Printf("%-10d %-6s %-7d %-10s %s\n",
				post.ID, post.Rating, post.Score.Total,
				humanize.Bytes(uint64(post.File.Size)),
				strings.Join(post.Tags.Artist, ", "))
		}
		fmt.Printf("\n%d posts on page %d\n", len(posts), searchPage)
		return nil
	},
}

func init() {
	searchCmd.Flags().IntVarP(&searchPage, "page", "p", 1, "result page, starting at 1")
	searchCmd.Flags().IntVarP(&searchLimit, "limit", "n", 0, "posts per page (default from config)")
	rootCmd.AddCommand(searchCmd)
}
