package main

import (
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/service"
	"github.com/timmy/animerec/internal/storage"
)

var (
	pages        int
	maxDocuments int
	fromStorage  bool
)

var ingestCmd = &cobra.Command{
	Use:   "ingest",
	Short: "Fetch the top anime list and write the snapshot",
	Long: `Fetches pages of the Jikan top anime list, writes the CSV snapshot,
upserts the records into the database and, when object storage is enabled,
uploads the snapshot.`,
	RunE: runIngest,
}

var transformCmd = &cobra.Command{
	Use:   "transform",
	Short: "Embed the snapshot and rebuild the vector index",
	Long: `Reads the snapshot (falling back to the database when the file is
missing), splits every document into chunks, embeds them and replaces the
Qdrant collection.`,
	RunE: runTransform,
}

var runCmd = &cobra.Command{
	Use:   "run",
	Short: "Run ingest followed by transform",
	RunE: func(cmd *cobra.Command, args []string) error {
		if err := runIngest(cmd, args); err != nil {
			return err
		}
		return runTransform(cmd, args)
	},
}

func init() {
	ingestCmd.Flags().IntVar(&pages, "pages", 0, "number of pages to fetch (0 uses ingest.pages, default 20)")
	transformCmd.Flags().IntVar(&maxDocuments, "max-documents", 0, "cap on documents to index (0 indexes all)")
	transformCmd.Flags().BoolVar(&fromStorage, "from-storage", false, "download the latest snapshot from object storage first")

	runCmd.Flags().IntVar(&pages, "pages", 0, "number of pages to fetch (0 uses ingest.pages, default 20)")
	runCmd.Flags().IntVar(&maxDocuments, "max-documents", 0, "cap on documents to index (0 indexes all)")

	rootCmd.AddCommand(ingestCmd, transformCmd, runCmd)
}

func runIngest(cmd *cobra.Command, args []string) error {
	ctx := logger.SetComponent(cmd.Context(), "ingest")

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.ingest().Run(ctx, &service.IngestOptions{
		Pages:        pages,
		SnapshotPath: snapshotPath,
	})
	if err != nil {
		return fmt.Errorf("ingest failed: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldRunID:      stats.RunID,
		logger.FieldCount:      stats.Records,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	}).Info(ctx, "Ingest finished: pages=%d, failed_pages=%d, duplicates=%d, covers=%d, snapshot=%s",
		stats.Pages, stats.FailedPages, stats.Duplicates, stats.CoversCopied, stats.SnapshotPath)
	cmd.Printf("Ingested %d records from %d pages into %s\n", stats.Records, stats.Pages, stats.SnapshotPath)
	return nil
}

func runTransform(cmd *cobra.Command, args []string) error {
	ctx := logger.SetComponent(cmd.Context(), "transform")

	app, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer app.Close()

	transformService, err := app.transform()
	if err != nil {
		return err
	}

	if fromStorage {
		if app.storage == nil {
			return fmt.Errorf("--from-storage needs storage.enabled")
		}
		dst := app.snapshotPath(snapshotPath)
		start := time.Now()
		n, err := storage.DownloadFile(ctx, app.storage, storage.LatestSnapshotKey(), dst)
		if err != nil {
			return err
		}
		logger.With(logger.Fields{
			logger.FieldSize:       n,
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
		}).Info(ctx, "Downloaded latest snapshot to %s", dst)
	}

	stats, err := transformService.Run(ctx, &service.TransformOptions{
		SnapshotPath: snapshotPath,
		MaxDocuments: maxDocuments,
	})
	if err != nil {
		return fmt.Errorf("transform failed: %w", err)
	}

	logger.With(logger.Fields{
		logger.FieldRunID:      stats.RunID,
		logger.FieldCount:      stats.Chunks,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	}).Info(ctx, "Transform finished: records=%d, documents=%d, embedded=%d, from_db=%t",
		stats.Records, stats.Documents, stats.Embedded, stats.FromDB)
	cmd.Printf("Indexed %d chunks from %d documents\n", stats.Chunks, stats.Documents)
	return nil
}
