package service

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/metrics"
	"github.com/timmy/animerec/internal/prompts"
)

const (
	defaultTopK               = 50
	defaultMaxRecommendations = 10
	recommendationSchemaName  = "anime_recommendations"
	fallbackMessage           = "Here are some anime you might enjoy."
)

// VectorSearcher finds the chunks closest to a query vector.
type VectorSearcher interface {
	Search(ctx context.Context, vector []float32, topK int, scoreThreshold float32) ([]domain.ScoredChunk, error)
}

// StructuredGenerator produces JSON output that follows a schema.
type StructuredGenerator interface {
	GenerateStructured(ctx context.Context, system, user, schemaName string, schema map[string]any, out any) error
}

type RecommendationConfig struct {
	TopK               int
	MaxRecommendations int
	ScoreThreshold     float32
}

// RecommendationService answers free-text queries with titles drawn from the index.
type RecommendationService struct {
	embedding EmbeddingProvider
	index     VectorSearcher
	llm       StructuredGenerator
	cfg       RecommendationConfig
}

func NewRecommendationService(embedding EmbeddingProvider, index VectorSearcher, llm StructuredGenerator, cfg *RecommendationConfig) *RecommendationService {
	c := *cfg
	if c.TopK <= 0 {
		c.TopK = defaultTopK
	}
	if c.MaxRecommendations <= 0 {
		c.MaxRecommendations = defaultMaxRecommendations
	}
	return &RecommendationService{embedding: embedding, index: index, llm: llm, cfg: c}
}

// Recommend retrieves context for query and asks the model for recommendations.
// Every returned title is unique and the list never exceeds MaxRecommendations.
func (s *RecommendationService) Recommend(ctx context.Context, query string) (resp *domain.RecommendationResponse, err error) {
	start := time.Now()
	defer func() {
		metrics.RecommendationDuration.Observe(time.Since(start).Seconds())
		metrics.RecommendationsTotal.WithLabelValues(outcomeOf(err)).Inc()
	}()

	query = strings.TrimSpace(query)
	if query == "" {
		return nil, ErrEmptyQuery
	}
	ctx = logger.SetComponent(ctx, "recommend")

	vector, err := s.embedding.EmbedQuery(ctx, query)
	if err != nil {
		return nil, err
	}

	hits, err := s.index.Search(ctx, vector, s.cfg.TopK, s.cfg.ScoreThreshold)
	if err != nil {
		return nil, err
	}
	if len(hits) == 0 {
		return nil, ErrIndexEmpty
	}

	var out domain.RecommendationResponse
	user := prompts.RecommendationUserPrompt(buildContext(hits), query)
	if err := s.llm.GenerateStructured(ctx, prompts.RecommendationSystemPrompt, user,
		recommendationSchemaName, domain.RecommendationSchema, &out); err != nil {
		return nil, err
	}

	resp = s.shape(&out, hits)
	logger.With(logger.Fields{
		"query":                query,
		"hits":                 len(hits),
		logger.FieldCount:      len(resp.Recommendations),
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Info(ctx, "Recommendation served")
	return resp, nil
}

func outcomeOf(err error) string {
	switch {
	case err == nil:
		return metrics.OutcomeSuccess
	case errors.Is(err, ErrEmptyQuery):
		return metrics.OutcomeEmptyQuery
	case errors.Is(err, ErrIndexEmpty):
		return metrics.OutcomeEmptyIndex
	default:
		return metrics.OutcomeError
	}
}

// buildContext joins hit contents in score order, each chunk once.
func buildContext(hits []domain.ScoredChunk) string {
	type key struct{ malID, index int }
	seen := make(map[key]bool, len(hits))
	parts := make([]string, 0, len(hits))
	for _, h := range hits {
		k := key{h.MalID, h.Index}
		if seen[k] || strings.TrimSpace(h.Content) == "" {
			continue
		}
		seen[k] = true
		parts = append(parts, h.Content)
	}
	return strings.Join(parts, "\n\n")
}

// shape cleans the model output and attaches cover URLs from the retrieved chunks.
func (s *RecommendationService) shape(in *domain.RecommendationResponse, hits []domain.ScoredChunk) *domain.RecommendationResponse {
	byTitle := make(map[string]*domain.ScoredChunk)
	for i := range hits {
		h := &hits[i]
		for _, t := range append([]string{h.Title}, h.Titles...) {
			k := titleKey(t)
			if k == "" {
				continue
			}
			if _, ok := byTitle[k]; !ok {
				byTitle[k] = h
			}
		}
	}

	out := &domain.RecommendationResponse{
		Message:         strings.TrimSpace(in.Message),
		Recommendations: make([]domain.Recommendation, 0, len(in.Recommendations)),
	}
	if out.Message == "" {
		out.Message = fallbackMessage
	}

	seen := make(map[string]bool)
	for _, r := range in.Recommendations {
		if len(out.Recommendations) >= s.cfg.MaxRecommendations {
			break
		}
		k := titleKey(r.Title)
		if k == "" || seen[k] {
			continue
		}
		seen[k] = true

		rec := domain.Recommendation{
			Title:  strings.TrimSpace(r.Title),
			Genre:  strings.TrimSpace(r.Genre),
			Reason: strings.TrimSpace(r.Reason),
		}
		if h, ok := byTitle[k]; ok {
			rec.URL = h.ImageURL
			if rec.Genre == "" {
				rec.Genre = strings.Join(h.Genres, ", ")
			}
		}
		out.Recommendations = append(out.Recommendations, rec)
	}
	return out
}

func titleKey(t string) string {
	return strings.ToLower(strings.TrimSpace(t))
}
