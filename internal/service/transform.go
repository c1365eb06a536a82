package service

import (
	"context"
	"errors"
	"fmt"
	"os"
	"sync/atomic"
	"time"

	"github.com/google/uuid"
	"golang.org/x/sync/errgroup"

	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/metrics"
	"github.com/timmy/animerec/internal/repository"
	"github.com/timmy/animerec/internal/snapshot"
	"github.com/timmy/animerec/internal/textsplit"
)

const (
	defaultEmbedBatchSize = 16
	defaultEmbedWorkers   = 4
)

// VectorIndex is the write side of the vector store. A rebuild fills a staging
// collection and promotes it only when complete.
type VectorIndex interface {
	CreateStaging(ctx context.Context, runID string) (string, error)
	UpsertChunks(ctx context.Context, collection string, points []repository.ChunkPoint) error
	Promote(ctx context.Context, collection string) error
	DropCollection(ctx context.Context, name string) error
}

// TransformConfig holds configuration for the transform service.
type TransformConfig struct {
	SnapshotPath string
	ChunkSize    int
	ChunkOverlap int
	BatchSize    int
	Workers      int
	MaxDocuments int // 0 means all
}

// TransformService turns the snapshot into embedded chunks in the vector index.
type TransformService struct {
	records   AnimeRecordStore
	runs      RunRecorder
	embedding EmbeddingProvider
	index     VectorIndex
	splitter  *textsplit.Splitter
	cfg       TransformConfig
}

func NewTransformService(
	records AnimeRecordStore,
	runs RunRecorder,
	embedding EmbeddingProvider,
	index VectorIndex,
	cfg *TransformConfig,
) *TransformService {
	c := *cfg
	if c.SnapshotPath == "" {
		c.SnapshotPath = defaultSnapshotPath
	}
	if c.BatchSize <= 0 {
		c.BatchSize = defaultEmbedBatchSize
	}
	if c.Workers <= 0 {
		c.Workers = defaultEmbedWorkers
	}
	return &TransformService{
		records:   records,
		runs:      runs,
		embedding: embedding,
		index:     index,
		splitter:  textsplit.New(textsplit.WithChunkSize(c.ChunkSize), textsplit.WithOverlap(c.ChunkOverlap)),
		cfg:       c,
	}
}

// TransformOptions overrides the configured defaults for one run.
type TransformOptions struct {
	SnapshotPath string
	MaxDocuments int
}

// TransformStats holds statistics for a transform run.
type TransformStats struct {
	RunID     string
	Records   int
	Documents int
	Chunks    int
	Embedded  int64
	FromDB    bool
	StartTime time.Time
	EndTime   time.Time
}

// Run rebuilds the vector index from the latest snapshot. Queries keep reading
// the previous build until every chunk has been embedded and stored.
func (s *TransformService) Run(ctx context.Context, opts *TransformOptions) (*TransformStats, error) {
	path, maxDocs := s.cfg.SnapshotPath, s.cfg.MaxDocuments
	if opts != nil {
		if opts.SnapshotPath != "" {
			path = opts.SnapshotPath
		}
		if opts.MaxDocuments > 0 {
			maxDocs = opts.MaxDocuments
		}
	}

	stats := &TransformStats{RunID: uuid.NewString(), StartTime: time.Now()}
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldRunID:     stats.RunID,
		logger.FieldComponent: "transform",
	})

	run := &domain.PipelineRun{
		ID:        stats.RunID,
		Kind:      domain.RunKindTransform,
		Status:    domain.RunStatusRunning,
		StartedAt: stats.StartTime,
	}
	if err := s.runs.Create(ctx, run); err != nil {
		return nil, fmt.Errorf("failed to record run: %w", err)
	}

	err := s.run(ctx, path, maxDocs, stats)
	stats.EndTime = time.Now()
	s.finish(ctx, run, stats, err)
	if err != nil {
		return stats, err
	}

	logger.With(logger.Fields{
		"records":              stats.Records,
		"documents":            stats.Documents,
		logger.FieldCount:      stats.Chunks,
		logger.FieldDurationMs: stats.EndTime.Sub(stats.StartTime).Milliseconds(),
	}).Info(ctx, "Transform completed")
	return stats, nil
}

func (s *TransformService) run(ctx context.Context, path string, maxDocs int, stats *TransformStats) error {
	records, err := s.load(ctx, path, stats)
	if err != nil {
		return err
	}
	stats.Records = len(records)
	if len(records) == 0 {
		return ErrNoRecords
	}

	if maxDocs > 0 && len(records) > maxDocs {
		records = records[:maxDocs]
	}
	stats.Documents = len(records)

	chunks := s.chunk(records)
	stats.Chunks = len(chunks)
	logger.With(logger.Fields{"documents": stats.Documents, logger.FieldCount: stats.Chunks}).
		Info(ctx, "Split documents into chunks: chunk_size=%d, overlap=%d", s.splitter.ChunkSize(), s.splitter.Overlap())

	points, err := s.embedChunks(ctx, chunks, stats)
	if err != nil {
		return err
	}

	return s.publish(ctx, stats.RunID, points)
}

// publish writes points into a staging collection and swaps it in.
func (s *TransformService) publish(ctx context.Context, runID string, points []repository.ChunkPoint) error {
	staging, err := s.index.CreateStaging(ctx, runID)
	if err != nil {
		return fmt.Errorf("failed to create staging collection: %w", err)
	}
	if err := s.index.UpsertChunks(ctx, staging, points); err != nil {
		s.discard(ctx, staging)
		return fmt.Errorf("failed to store chunks: %w", err)
	}
	if err := s.index.Promote(ctx, staging); err != nil {
		s.discard(ctx, staging)
		return fmt.Errorf("failed to promote %s: %w", staging, err)
	}
	logger.With(logger.Fields{"collection": staging}).WithCount(len(points)).Info(ctx, "Promoted new index")
	return nil
}

func (s *TransformService) discard(ctx context.Context, staging string) {
	if err := s.index.DropCollection(context.WithoutCancel(ctx), staging); err != nil {
		logger.FromContext(ctx).WithError(err).Warnf("Failed to drop staging collection %s", staging)
	}
}

// load reads the snapshot file and falls back to the database rows when the
// file does not exist.
func (s *TransformService) load(ctx context.Context, path string, stats *TransformStats) ([]domain.AnimeRecord, error) {
	records, err := snapshot.ReadFile(path)
	if err == nil {
		return records, nil
	}
	if !errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("failed to read snapshot: %w", err)
	}

	logger.CtxWarn(ctx, "Snapshot %s not found, loading records from database", path)
	stats.FromDB = true
	records, err = s.records.ListAll(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load records: %w", err)
	}
	return records, nil
}

func (s *TransformService) chunk(records []domain.AnimeRecord) []domain.Chunk {
	var chunks []domain.Chunk
	for _, r := range records {
		doc := r.ToDocument()
		for i, content := range s.splitter.Split(doc.Content) {
			chunks = append(chunks, domain.Chunk{
				DocumentID:  doc.ID,
				MalID:       doc.MalID,
				Index:       i,
				Content:     content,
				Title:       doc.Title,
				Titles:      doc.Titles,
				Genres:      doc.Genres,
				Demographic: doc.Demographic,
				ImageURL:    doc.ImageURL,
			})
		}
	}
	return chunks
}

func (s *TransformService) embedChunks(ctx context.Context, chunks []domain.Chunk, stats *TransformStats) ([]repository.ChunkPoint, error) {
	points := make([]repository.ChunkPoint, len(chunks))

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(s.cfg.Workers)

	for start := 0; start < len(chunks); start += s.cfg.BatchSize {
		end := min(start+s.cfg.BatchSize, len(chunks))
		g.Go(func() error {
			texts := make([]string, 0, end-start)
			for _, c := range chunks[start:end] {
				texts = append(texts, c.Content)
			}
			vectors, err := s.embedding.EmbedBatch(gctx, texts)
			if err != nil {
				return fmt.Errorf("failed to embed chunks %d-%d: %w", start, end, err)
			}
			if len(vectors) != len(texts) {
				return fmt.Errorf("%w: got %d embeddings for %d chunks", ErrUpstream, len(vectors), len(texts))
			}
			for i, v := range vectors {
				points[start+i] = repository.ChunkPoint{Chunk: chunks[start+i], Vector: v, RunID: stats.RunID}
			}
			n := atomic.AddInt64(&stats.Embedded, int64(len(vectors)))
			logger.With(logger.Fields{"total": len(chunks)}).WithCount(int(n)).Debug(ctx, "Embedded batch")
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}
	return points, nil
}

func (s *TransformService) finish(ctx context.Context, run *domain.PipelineRun, stats *TransformStats, runErr error) {
	now := time.Now()
	run.CompletedAt = &now
	run.Records = stats.Records
	run.Documents = stats.Documents
	run.Chunks = stats.Chunks
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
