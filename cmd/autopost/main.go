package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/webmemo-code/flickr-to-instagram-automation/internal/app"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/config"
	"github.com/webmemo-code/flickr-to-instagram-automation/internal/logger"
)

// CLI flags
var (
	accountFlag string
	albumFlag   string
	dryRunFlag  bool
	statsFlag   bool
)

var rootCmd = &cobra.Command{
	Use:   "autopost",
	Short: "Post the next photo of a Flickr album to Instagram",
	Long: `Autopost selects the next unposted photo from a configured Flickr
album, builds a caption from blog context and generated text, publishes it to
Instagram and records the outcome. One photo per invocation; run it on a
schedule to drip-feed an album.

Examples:
  autopost
  autopost --account reisememo --dry-run
  autopost --stats`,
	RunE:          runMain,
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.Flags().StringVar(&accountFlag, "account", "", "Account id from the accounts registry (overrides config)")
	rootCmd.Flags().StringVar(&albumFlag, "album", "", "Flickr album id (overrides config)")
	rootCmd.Flags().BoolVar(&dryRunFlag, "dry-run", false, "Walk the album and record progress without publishing")
	rootCmd.Flags().BoolVar(&statsFlag, "stats", false, "Print album progression statistics and exit")
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "autopost: %v\n", err)
		os.Exit(1)
	}
}

func runMain(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if accountFlag != "" {
		cfg.Account = accountFlag
	}
	if albumFlag != "" {
		cfg.FlickrAlbumID = albumFlag
	}

	if _, err := logger.Init(cfg.LogLevel); err != nil {
		return fmt.Errorf("init logger: %w", err)
	}
	defer logger.Close()

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Stats queries never publish, so they reuse the dry-run wiring and
	// skip the publisher credentials check.
	auto, err := app.NewAutomation(ctx, cfg, dryRunFlag || statsFlag, logger.Std{})
	if err != nil {
		logger.ErrorObj("failed to initialize automation", "error", err.Error())
		return err
	}
	defer auto.Close()

	if statsFlag {
		meta, err := auto.Stats(ctx)
		if err != nil {
			return fmt.Errorf("read statistics: %w", err)
		}
		fmt.Printf("account:    %s\n", meta.Account)
		fmt.Printf("album:      %s\n", meta.AlbumID)
		fmt.Printf("posted:     %d/%d (%.1f%%)\n", meta.PostedCount, meta.TotalItems, meta.CompletionPercentage)
		fmt.Printf("dry runs:   %d\n", meta.DryRunCount)
		fmt.Printf("unresolved: %d\n", meta.FailedCount)
		fmt.Printf("complete:   %t\n", meta.IsComplete)
		return nil
	}

	if err := auto.RunOnce(ctx); err != nil {
		return fmt.Errorf("automation run: %w", err)
	}
	return nil
}
