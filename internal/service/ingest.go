package service

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	_ "image/png"
	"sync/atomic"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/google/uuid"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"

	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/metrics"
	"github.com/timmy/animerec/internal/snapshot"
	"github.com/timmy/animerec/internal/source"
	"github.com/timmy/animerec/internal/storage"
)

const (
	defaultPages        = 20
	defaultSnapshotPath = "artifacts/data.csv"
	coverWorkers        = 4
)

// AnimeRecordStore persists ingested records.
type AnimeRecordStore interface {
	UpsertBatch(ctx context.Context, records []domain.AnimeRecord) error
	ListAll(ctx context.Context) ([]domain.AnimeRecord, error)
}

// RunRecorder keeps the pipeline_runs history.
type RunRecorder interface {
	Create(ctx context.Context, run *domain.PipelineRun) error
	Update(ctx context.Context, run *domain.PipelineRun) error
}

// IngestConfig holds configuration for the ingest service.
type IngestConfig struct {
	Pages        int
	SnapshotPath string
	MirrorCovers bool
}

// IngestService fetches the catalogue and writes the tabular snapshot.
type IngestService struct {
	source  source.AnimeSource
	records AnimeRecordStore
	runs    RunRecorder
	storage storage.ObjectStorage // nil disables snapshot upload and cover mirroring
	http    *resty.Client
	cfg     IngestConfig
}

// NewIngestService creates a new ingest service. objectStorage may be nil.
func NewIngestService(
	src source.AnimeSource,
	records AnimeRecordStore,
	runs RunRecorder,
	objectStorage storage.ObjectStorage,
	cfg *IngestConfig,
) *IngestService {
	c := *cfg
	if c.Pages <= 0 {
		c.Pages = defaultPages
	}
	if c.SnapshotPath == "" {
		c.SnapshotPath = defaultSnapshotPath
	}
	return &IngestService{
		source:  src,
		records: records,
		runs:    runs,
		storage: objectStorage,
		http:    resty.New().SetTimeout(30 * time.Second),
		cfg:     c,
	}
}

// IngestOptions overrides the configured defaults for one run.
type IngestOptions struct {
	Pages        int
	SnapshotPath string
}

// IngestStats holds statistics for an ingestion run.
type IngestStats struct {
	RunID         string
	Pages         int
	FailedPages   int
	Records       int
	Duplicates    int
	CoversCopied  int64
	CoverFailures int64
	SnapshotPath  string
	SnapshotKey   string
	StartTime     time.Time
	EndTime       time.Time
}

// Run fetches pages 1..Pages, de-duplicates by MAL id and persists the result.
// A failed page is logged and skipped. Cancellation stops between pages and
// writes nothing.
func (s *IngestService) Run(ctx context.Context, opts *IngestOptions) (*IngestStats, error) {
	pages, path := s.cfg.Pages, s.cfg.SnapshotPath
	if opts != nil {
		if opts.Pages > 0 {
			pages = opts.Pages
		}
		if opts.SnapshotPath != "" {
			path = opts.SnapshotPath
		}
	}

	stats := &IngestStats{RunID: uuid.NewString(), StartTime: time.Now(), SnapshotPath: path}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldRunID:     stats.RunID,
		logger.FieldComponent: "ingest",
		logger.FieldSource:    s.source.GetSourceID(),
	})

	run := &domain.PipelineRun{
		ID:        stats.RunID,
		Kind:      domain.RunKindIngest,
		Status:    domain.RunStatusRunning,
		StartedAt: stats.StartTime,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	logger.CtxInfo(ctx, "Starting ingestion from %s: pages=%d", s.source.GetDisplayName(), pages)

	records, err := s.fetch(ctx, pages, stats)
	if err == nil && len(records) == 0 {
		err = errors.New("no records fetched")
	}
	if err == nil {
		err = s.persist(ctx, records, stats)
	}

	stats.EndTime = time.Now()
	s.finish(ctx, run, stats, err)
	if err != nil {
		return stats, err
	}

	logger.With(logger.Fields{
		"pages":                stats.Pages,
		"failed_pages":         stats.FailedPages,
		"duplicates":           stats.Duplicates,
		logger.FieldCount:      stats.Records,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	}).Info(ctx, "Ingestion completed")
	return stats, nil
}

func (s *IngestService) fetch(ctx context.Context, pages int, stats *IngestStats) ([]domain.AnimeRecord, error) {
	seen := make(map[int]bool)
	var records []domain.AnimeRecord

	for page := 1; page <= pages; page++ {
		if err := ctx.Err(); err != nil {
			return records, err
		}

		batch, hasNext, err := s.source.FetchPage(ctx, page)
		if err != nil {
			if ctx.Err() != nil {
				return records, ctx.Err()
			}
			stats.FailedPages++
			logger.FromContext(ctx).WithField(logger.FieldPage, page).WithError(err).Error("Failed to fetch page, skipping")
			continue
		}
		stats.Pages++

		for _, r := range batch {
			if seen[r.MalID] {
				stats.Duplicates++
				continue
			}
			seen[r.MalID] = true
			records = append(records, r)
		}
		stats.Records = len(records)

		logger.With(logger.Fields{logger.FieldPage: page, logger.FieldCount: len(batch)}).Debug(ctx, "Fetched page")
		if !hasNext {
			break
		}
	}
	return records, nil
}

func (s *IngestService) persist(ctx context.Context, records []domain.AnimeRecord, stats *IngestStats) error {
	if s.storage != nil && s.cfg.MirrorCovers {
		s.mirrorCovers(ctx, records, stats)
	}

	data, err := snapshot.Marshal(records)
	if err != nil {
		return fmt.Errorf("failed to encode snapshot: %w", err)
	}
	if err := snapshot.WriteFile(stats.SnapshotPath, data); err != nil {
		return err
	}

	if err := s.records.UpsertBatch(ctx, records); err != nil {
		return fmt.Errorf("failed to store records: %w", err)
	}

	if s.storage != nil {
		key := storage.SnapshotKey(stats.RunID)
		for _, k := range []string{key, storage.LatestSnapshotKey()} {
			if err := s.storage.Upload(ctx, k, bytes.NewReader(data), int64(len(data)), "text/csv"); err != nil {
				return fmt.Errorf("failed to upload snapshot: %w", err)
			}
		}
		stats.SnapshotKey = key
	}
	return nil
}

// mirrorCovers copies cover images into object storage and points the records
// at the copies. A cover that cannot be copied keeps its original URL.
func (s *IngestService) mirrorCovers(ctx context.Context, records []domain.AnimeRecord, stats *IngestStats) {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(coverWorkers)

	for i := range records {
		if records[i].ImageURL == "" {
			continue
		}
		g.Go(func() error {
			url, err := s.mirrorCover(gctx, &records[i])
			if err != nil {
				atomic.AddInt64(&stats.CoverFailures, 1)
				logger.FromContext(ctx).WithField(logger.FieldMalID, records[i].MalID).WithError(err).Warn("Failed to mirror cover")
				return nil
			}
			records[i].ImageURL = url
			atomic.AddInt64(&stats.CoversCopied, 1)
			return nil
		})
	}
	_ = g.Wait()
}

func (s *IngestService) mirrorCover(ctx context.Context, r *domain.AnimeRecord) (string, error) {
	resp, err := s.http.R().SetContext(ctx).Get(r.ImageURL)
	if err != nil {
		return "", fmt.Errorf("failed to download cover: %w", err)
	}
	if resp.IsError() {
		return "", fmt.Errorf("cover download returned status %d", resp.StatusCode())
	}

	data := resp.Body()
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to decode cover: %w", err)
	}
	ext := format
	if ext == "jpeg" {
		ext = "jpg"
	}

	key := storage.CoverKey(r.MalID, ext)
	exists, err := s.storage.Exists(ctx, key)
	if err != nil {
		return "", err
	}
	if !exists {
		if err := s.storage.Upload(ctx, key, bytes.NewReader(data), int64(len(data)), "image/"+format); err != nil {
			return "", err
		}
	}
	return s.storage.GetURL(key), nil
}

func (s *IngestService) finish(ctx context.Context, run *domain.PipelineRun, stats *IngestStats, runErr error) {
	now := time.Now()
	run.CompletedAt = &now
	run.Pages = stats.Pages
	run.Records = stats.Records
	run.Failed = stats.FailedPages
	run.SnapshotKey = stats.SnapshotKey
	run.Status = domain.RunStatusCompleted
	if runErr != nil {
		run.Status = domain.RunStatusFailed
		run.ErrorLog = runErr.Error()
	}
	metrics.PipelineRunsTotal.WithLabelValues(string(run.Kind), string(run.Status)).Inc()

	if err := s.runs.Update(context.WithoutCancel(ctx), run); err != nil {
		logger.FromContext(ctx).WithError(err).Error("Failed to update run record")
	}
}
