// Package cmd wires the command-line interface.
package cmd

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"e6grab/internal"
)

var (
	cfgFile     string
	flagQuiet   bool
	flagDebug   bool
	flagLevel   string
	flagLogFile string
	flagDir     string
	flagBaseURL string

	cfg *internal.Config
)

var rootCmd = &cobra.Command{
	Use:   "e6grab",
	Short: "Tag-based media board search, cache and download engine",
	Long: `e6grab searches a tag-based media board, caches API responses on
disk, and downloads media files with bounded concurrency. Each downloaded
file gets a JSON metadata sidecar written next to it.`,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		return setup()
	},
}

// Execute runs the CLI.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default e6grab.yaml)")
	rootCmd.PersistentFlags().BoolVarP(&flagQuiet, "quiet", "q", false, "suppress progress output")
	rootCmd.PersistentFlags().BoolVar(&flagDebug, "debug", false, "enable debug logging")
	rootCmd.PersistentFlags().StringVar(&flagLevel, "log-level", "", "log level (error, warn, info, debug)")
	rootCmd.PersistentFlags().StringVar(&flagLogFile, "log-file", "", "write log output to file")
	rootCmd.PersistentFlags().StringVarP(&flagDir, "download-dir", "d", "", "download directory")
	rootCmd.PersistentFlags().StringVar(&flagBaseURL, "base-url", "", "board API base URL")
}

// setup resolves configuration in precedence order: defaults, config file,
// environment, flags. Invalid configuration is fatal.
func setup() error {
	cfg = internal.DefaultConfig()

	path := cfgFile
	if path == "" {
		path = "e6grab.yaml"
	}
	if err := cfg.LoadFile(path); err != nil {
		return err
	}
	cfg.LoadFromEnv()

	if flagQuiet {
		cfg.QuietMode = true
	}
	if flagDebug {
		cfg.EnableDebug = true
	}
	if flagLevel != "" {
		cfg.LogLevel = flagLevel
	}
	if flagLogFile != "" {
		cfg.LogFile = flagLogFile
	}
	if flagDir != "" {
		cfg.DownloadDir = flagDir
	}
	if flagBaseURL != "" {
		cfg.BaseURL = flagBaseURL
	}

	if err := cfg.Validate(); err != nil {
		return err
	}
	return internal.InitLogger(cfg)
}
