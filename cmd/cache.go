package cmd

import (
	"fmt"

	"github.com/dustin/go-humanize"
	"github.com/spf13/afero"
	"github.com/spf13/cobra"

	"e6grab/cache"
	"e6grab/metrics"
)

var cacheCmd = &cobra.Command{
	Use:   "cache",
	Short: "Inspect and manage the response cache",
}

var cacheStatsCmd = &cobra.Command{
	Use:   "stats",
	Short: "Show response cache entry count and size",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cache.Open(afero.NewOsFs(), cfg.Cache, metrics.New())
		if err != nil {
			return err
		}
		count, bytes := c.Stats()
		fmt.Printf("Cache directory: %s\n", cfg.Cache.CacheDir)
		fmt.Printf("Entries:         %d\n", count)
		fmt.Printf("Size:            %s of %s\n",
			humanize.Bytes(uint64(bytes)),
			humanize.Bytes(uint64(cfg.Cache.MaxSizeMB*1024*1024)))
		return nil
	},
}

var cacheClearCmd = &cobra.Command{
	Use:   "clear",
	Short: "Remove every response cache entry",
	RunE: func(cmd *cobra.Command, args []string) error {
		c, err := cache.Open(afero.NewOsFs(), cfg.Cache, metrics.New())
		if err != nil {
			return err
		}
		count, bytes := c.Stats()
		if err := c.Clear(); err != nil {
			return err
		}
		fmt.Printf("Removed %d entries (%s)\n", count, humanize.Bytes(uint64(bytes)))
		return nil
	},
}

func init() {
	cacheCmd.AddCommand(cacheStatsCmd)
	cacheCmd.AddCommand(cacheClearCmd)
	rootCmd.AddCommand(cacheCmd)
}
