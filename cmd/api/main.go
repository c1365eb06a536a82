package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/timmy/animerec/internal/api"
	"github.com/timmy/animerec/internal/api/handler"
	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/config"
	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/repository"
	"github.com/timmy/animerec/internal/service"
	"github.com/timmy/animerec/internal/source/jikan"
	"github.com/timmy/animerec/internal/storage"
)

func main() {
	appLogger := logger.New(logger.Options())
	logger.SetDefaultLogger(appLogger)
	defer logger.Sync()

	// CONFIG_PATH points at the YAML file in deployments
	cfg, err := config.Load(os.Getenv("CONFIG_PATH"))
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to load config")
	}
	if err := cfg.Validate(); err != nil {
		appLogger.WithError(err).Fatal("Invalid configuration")
	}

	ctx := context.Background()

	db, err := repository.InitDB(&cfg.Database)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize database")
	}

	accountRepo := repository.NewAccountRepository(db)
	interactionRepo := repository.NewInteractionRepository(db)
	recordRepo := repository.NewAnimeRecordRepository(db)
	runRepo := repository.NewPipelineRunRepository(db)

	qdrantRepo, err := repository.NewQdrantRepository(&repository.QdrantConnectionConfig{
		Host:            cfg.Qdrant.Host,
		Port:            cfg.Qdrant.Port,
		Collection:      cfg.Qdrant.Collection,
		APIKey:          cfg.Qdrant.APIKey,
		UseTLS:          cfg.Qdrant.UseTLS,
		VectorDimension: cfg.Embedding.Dimensions,
	})
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize Qdrant repository")
	}
	defer qdrantRepo.Close()

	// An empty index only disables recommendations until a transform run lands.
	if err := qdrantRepo.EnsureCollection(ctx); err != nil {
		appLogger.WithError(err).Warn("Failed to ensure Qdrant collection")
	} else if n, err := qdrantRepo.Count(ctx); err == nil && n == 0 {
		appLogger.WithField("collection", qdrantRepo.CollectionName()).
			Warn("Vector collection is empty; run the transform step before requesting recommendations")
	}

	var objectStorage storage.ObjectStorage
	if cfg.Storage.Enabled {
		s3Storage, err := storage.NewS3Storage(cfg.GetStorageConfig())
		if err != nil {
			appLogger.WithError(err).Fatal("Failed to initialize storage")
		}
		if err := s3Storage.EnsureBucket(ctx); err != nil {
			appLogger.WithError(err).Fatal("Failed to ensure storage bucket")
		}
		objectStorage = s3Storage
	}

	embeddingService, err := service.NewEmbeddingService(&cfg.Embedding)
	if err != nil {
		appLogger.WithError(err).Fatal("Failed to initialize embedding service")
	}
	llmService := service.NewLLMService(&cfg.LLM)

	recommendationService := service.NewRecommendationService(embeddingService, qdrantRepo, llmService, &service.RecommendationConfig{
		TopK:               cfg.RAG.TopK,
		MaxRecommendations: cfg.RAG.MaxRecommendations,
		ScoreThreshold:     cfg.RAG.ScoreThreshold,
	})

	authClient := auth.NewClient(&cfg.Supabase)
	verifier := auth.NewVerifier(cfg.Supabase.JWTSecret, authClient)
	accountService := service.NewAccountService(authClient, verifier, accountRepo)
	interactionService := service.NewInteractionService(accountRepo, interactionRepo)

	var pipeline *handler.PipelineHandler
	if cfg.Server.AdminToken != "" {
		source := jikan.NewAdapter(&jikan.Config{
			BaseURL:      cfg.Jikan.BaseURL,
			RequestDelay: cfg.Jikan.RequestDelay,
			MaxRetries:   cfg.Jikan.MaxRetries,
			BackoffBase:  cfg.Jikan.BackoffBase,
			BackoffMax:   cfg.Jikan.BackoffMax,
			Timeout:      cfg.Jikan.Timeout,
		})
		ingestService := service.NewIngestService(source, recordRepo, runRepo, objectStorage, &service.IngestConfig{
			Pages:        cfg.Ingest.Pages,
			SnapshotPath: cfg.Ingest.SnapshotPath,
			MirrorCovers: cfg.Ingest.MirrorCovers,
		})
		transformService := service.NewTransformService(recordRepo, runRepo, embeddingService, qdrantRepo, &service.TransformConfig{
			SnapshotPath: cfg.Ingest.SnapshotPath,
			ChunkSize:    cfg.Transform.ChunkSize,
			ChunkOverlap: cfg.Transform.ChunkOverlap,
			BatchSize:    cfg.Transform.BatchSize,
			Workers:      cfg.Transform.Workers,
			MaxDocuments: cfg.Transform.MaxDocuments,
		})
		pipeline = handler.NewPipelineHandler(ingestService, transformService, runRepo)
	}

	router := api.SetupRouter(&cfg.Server, &api.Dependencies{
		Recommender: recommendationService,
		Views:       interactionService,
		Accounts:    accountService,
		Verifier:    verifier,
		Pipeline:    pipeline,
	})

	srv := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		appLogger.WithFields(logger.Fields{
			"port":          cfg.Server.Port,
			"mode":          cfg.Server.Mode,
			"embedding":     embeddingService.GetModel(),
			"dimensions":    embeddingService.GetDimensions(),
			"llm":           llmService.GetModel(),
			"admin_enabled": pipeline != nil,
		}).Info("Starting API server")
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			appLogger.WithError(err).Fatal("Failed to start server")
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	appLogger.Info("Shutting down server...")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(shutdownCtx); err != nil {
		appLogger.WithError(err).Error("Server forced to shutdown")
	}
	if pipeline != nil {
		appLogger.Info("Waiting for the running pipeline step to finish")
		pipeline.Wait()
	}

	appLogger.Info("Server exited")
}
