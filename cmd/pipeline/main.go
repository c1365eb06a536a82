// Command pipeline runs the offline steps that feed the recommendation index:
// ingest pulls the Jikan top list into a snapshot, transform embeds the
// snapshot into Qdrant.
package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/timmy/animerec/internal/logger"
)

var (
	configPath   string
	snapshotPath string
)

var rootCmd = &cobra.Command{
	Use:           "pipeline",
	Short:         "Build the anime recommendation index",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to config file (defaults to ./configs/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&snapshotPath, "snapshot", "", "snapshot CSV path (overrides ingest.snapshot_path)")
}

func main() {
	opts := logger.Options()
	opts.ServiceName = "animerec-pipeline"
	appLogger := logger.New(opts)
	logger.SetDefaultLogger(appLogger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)

	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		appLogger.WithError(err).Error("Pipeline failed")
		logger.Sync()
		os.Exit(1)
	}
	logger.Sync()
}
