// Package cmd implements the webwords command-line interface.
package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"

	"github.com/jonesrussell/webwords/cmd/crawl"
	cmdrecover "github.com/jonesrussell/webwords/cmd/recover"
	"github.com/jonesrussell/webwords/cmd/sessions"
)

var (
	// cfgFile holds the path to the configuration file.
	cfgFile string

	// rootCmd represents the root command for the webwords CLI.
	rootCmd = &cobra.Command{
		Use:   "webwords",
		Short: "A polite concurrent web crawler with word-frequency analysis",
		Long: `webwords crawls the web breadth-first from a set of seed URLs,
respecting robots.txt and per-host rate limits, and persists pages,
links, and word frequencies to PostgreSQL.`,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return cmd.Help()
		},
	}
)

// Execute runs the root command.
func Execute() error {
	// Load .env early so environment overrides are visible to config loading.
	_ = godotenv.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	return rootCmd.ExecuteContext(ctx)
}

func init() {
	rootCmd.PersistentFlags().StringVar(
		&cfgFile,
		"config",
		"",
		"config file (default is ./config.yaml)",
	)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print the version number",
		Run: func(_ *cobra.Command, _ []string) {
			fmt.Printf("webwords version %s\n", "1.0.0")
		},
	})

	rootCmd.AddCommand(crawl.Command(&cfgFile))
	rootCmd.AddCommand(sessions.Command(&cfgFile))
	rootCmd.AddCommand(cmdrecover.Command(&cfgFile))
}
