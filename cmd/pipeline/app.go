package main

import (
	"context"
	"fmt"

	"gorm.io/gorm"

	"github.com/timmy/animerec/internal/config"
	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/repository"
	"github.com/timmy/animerec/internal/service"
	"github.com/timmy/animerec/internal/source/jikan"
	"github.com/timmy/animerec/internal/storage"
)

// app holds the connections shared by the pipeline commands.
type app struct {
	cfg     *config.Config
	db      *gorm.DB
	qdrant  *repository.QdrantRepository
	storage storage.ObjectStorage
	records *repository.AnimeRecordRepository
	runs    *repository.PipelineRunRepository
}

func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if err := cfg.ValidatePipeline(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize database: %w", err)
	}

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Embedding.Dimensions,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to initialize Qdrant repository: %w", err)
	}

	a := &app{
		cfg:     cfg,
		db:      db,
		qdrant:  qdrantRepo,
		records: repository.NewAnimeRecordRepository(db),
		runs:    repository.NewPipelineRunRepository(db),
	}

	if cfg.Storage.Enabled {
		s3Storage, err := storage.NewS3Storage(cfg.GetStorageConfig())
		if err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to initialize storage: %w", err)
		}
		if err := s3Storage.EnsureBucket(ctx); err != nil {
			a.Close()
			return nil, fmt.Errorf("failed to ensure storage bucket: %w", err)
		}
		a.storage = s3Storage
	}

	if n, err := a.records.Count(ctx); err == nil {
		logger.CtxDebug(ctx, "Database holds %d anime records", n)
	}
	return a, nil
}

func (a *app) snapshotPath(override string) string {
	if override != "" {
		return override
	}
	if a.cfg.Ingest.SnapshotPath != "" {
		return a.cfg.Ingest.SnapshotPath
	}
	return "artifacts/data.csv"
}

func (a *app) ingest() *service.IngestService {
	source := jikan.NewAdapter(&jikan.Config{
		BaseURL:      a.cfg.Jikan.BaseURL,
		RequestDelay: a.cfg.Jikan.RequestDelay,
		MaxRetries:   a.cfg.Jikan.MaxRetries,
		BackoffBase:  a.cfg.Jikan.BackoffBase,
		BackoffMax:   a.cfg.Jikan.BackoffMax,
		Timeout:      a.cfg.Jikan.Timeout,
	})
	return service.NewIngestService(source, a.records, a.runs, a.storage, &service.IngestConfig{
		Pages:        a.cfg.Ingest.Pages,
		SnapshotPath: a.cfg.Ingest.SnapshotPath,
		MirrorCovers: a.cfg.Ingest.MirrorCovers,
	})
}

func (a *app) transform() (*service.TransformService, error) {
	embedding, err := service.NewEmbeddingService(&a.cfg.Embedding)
	if err != nil {
		return nil, fmt.Errorf("failed to initialize embedding service: %w", err)
	}
	return service.NewTransformService(a.records, a.runs, embedding, a.qdrant, &service.TransformConfig{
		SnapshotPath: a.cfg.Ingest.SnapshotPath,
		ChunkSize:    a.cfg.Transform.ChunkSize,
		ChunkOverlap: a.cfg.Transform.ChunkOverlap,
		BatchSize:    a.cfg.Transform.BatchSize,
		Workers:      a.cfg.Transform.Workers,
		MaxDocuments: a.cfg.Transform.MaxDocuments,
	}), nil
}

func (a *app) Close() {
	if err := a.qdrant.Close(); err != nil {
		logger.Warn("Failed to close Qdrant connection: %v", err)
	}
	if sqlDB, err := a.db.DB(); err == nil {
		sqlDB.Close()
	}
}
