package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"e6grab/downloader"
	"e6grab/internal"
	"e6grab/utils"
)

var (
	downloadPage int
	downloadPost int64
	downloadPool int64
)

var downloadCmd = &cobra.Command{
	Use:   "download [tags]...",
	Short: "Download posts matching tags, a single post, or a pool",
	RunE: func(cmd *cobra.Command, args []string) error {
		if downloadPost == 0 && downloadPool == 0 && len(args) == 0 {
			return fmt.Errorf("provide tags, --post or --pool")
		}

		engine, err := downloader.NewEngine(cfg, afero.NewOsFs(), utils.NewConsoleSink(cfg.QuietMode))
		if err != nil {
			return err
		}
		defer engine.Close()

		ctx := cmd.Context()
		var posts []internal.Post

		switch {
		case downloadPost != 0:
			post, err := engine.Post(ctx, downloadPost)
			if err != nil {
				return err
			}
			posts = []internal.Post{*post}
		case downloadPool != 0:
			pool, poolPosts, err := engine.Pool(ctx, downloadPool)
			if err != nil {
				return err
			}
			fmt.Printf("Pool %q: %d posts\n", pool.Name, len(poolPosts))
			posts = poolPosts
		default:
			posts, err = engine.Search(ctx, args, downloadPage)
			if err != nil {
				return err
			}
		}

		if len(posts) == 0 {
			fmt.Println("Nothing to download.")
			return nil
		}

		summary, err := engine.DownloadPosts(ctx, posts)
		if err != nil {
			return err
		}

		// Warm the next page so the following run short-circuits.
		if len(args) > 0 && downloadPost == 0 && downloadPool == 0 {
			<-engine.PrefetchNext(ctx, args, downloadPage+1)
		}

		fmt.Printf("%s, %s transferred\n", summary.String(), humanize.Bytes(uint64(summary.Bytes)))
		if summary.Failed > 0 {
			return fmt.Errorf("%d of %d downloads failed", summary.Failed, summary.Total)
		}
		return nil
	},
}

func init() {
	downloadCmd.Flags().IntVarP(&downloadPage, "page", "p", 1, "result page, starting at 1")
	downloadCmd.Flags().Int64Var(&downloadPost, "post", 0, "download a single post by ID")
	downloadCmd.Flags().Int64Var(&downloadPool, "pool", 0, "download a whole pool by ID")
	rootCmd.AddCommand(downloadCmd)
}
