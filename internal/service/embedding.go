package service

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/timmy/animerec/internal/config"
	"github.com/timmy/animerec/internal/metrics"
)

const (
	jinaEndpoint     = "https://api.jina.ai/v1/embeddings"
	defaultOllamaURL = "http://localhost:11434"
)

// EmbeddingProvider turns text into vectors. Documents and queries must be
// embedded by the same provider for their vectors to be comparable.
type EmbeddingProvider interface {
	Embed(ctx context.Context, text string) ([]float32, error)
	EmbedBatch(ctx context.Context, texts []string) ([][]float32, error)
	EmbedQuery(ctx context.Context, query string) ([]float32, error)
	GetModel() string
	GetDimensions() int
}

// EmbeddingService implements EmbeddingProvider for Ollama, Jina and
// OpenAI-compatible embedding APIs.
type EmbeddingService struct {
	client     *resty.Client
	provider   string
	model      string
	dimensions int
	endpoint   string
	breaker    *gobreaker.CircuitBreaker[[][]float32]
}

var _ EmbeddingProvider = (*EmbeddingService)(nil)

// NewEmbeddingService creates an embedding client for cfg.Provider.
func NewEmbeddingService(cfg *config.EmbeddingConfig) (*EmbeddingService, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}

	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}

	client := resty.New().
		SetTimeout(timeout).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(500 * time.Millisecond).
		SetRetryMaxWaitTime(5 * time.Second).
		AddRetryCondition(retryableResponse).
		AddRetryHook(func(*resty.Response, error) {
			metrics.ExternalRetriesTotal.WithLabelValues("embedding").Inc()
		})
	if cfg.APIKey != "" {
		client.SetAuthToken(cfg.APIKey)
	}

	base := strings.TrimRight(cfg.BaseURL, "/")
	endpoint := base + "/embeddings"
	switch cfg.Provider {
	case config.ProviderOllama:
		if base == "" {
			base = defaultOllamaURL
		}
		endpoint = base + "/api/embed"
	case config.ProviderJina:
		if base == "" {
			endpoint = jinaEndpoint
		}
	}

	return &EmbeddingService{
		client:     client,
		provider:   cfg.Provider,
		model:      cfg.Model,
		dimensions: cfg.Dimensions,
		endpoint:   endpoint,
		breaker:    newBreaker[[][]float32]("embedding"),
	}, nil
}

// retryableResponse retries transport errors, 429 and 5xx.
func retryableResponse(r *resty.Response, err error) bool {
	if err != nil {
		return r == nil || r.Request == nil || r.Request.Context().Err() == nil
	}
	return r.StatusCode() == http.StatusTooManyRequests || r.StatusCode() >= 500
}

func (s *EmbeddingService) GetModel() string {
	return s.model
}

func (s *EmbeddingService) GetDimensions() int {
	return s.dimensions
}

type ollamaEmbedRequest struct {
	Model string   `json:"model"`
	Input []string `json:"input"`
}

type ollamaEmbedResponse struct {
	Embeddings [][]float32 `json:"embeddings"`
	Error      string      `json:"error,omitempty"`
}

// Jina and OpenAI share the request and response shapes.
type embeddingsRequest struct {
	Model         string   `json:"model"`
	Task          string   `json:"task,omitempty"`
	Dimensions    int      `json:"dimensions,omitempty"`
	Input         []string `json:"input"`
	EmbeddingType string   `json:"embedding_type,omitempty"`
}

type embeddingsResponse struct {
	Data []struct {
		Embedding []float32 `json:"embedding"`
		Index     int       `json:"index"`
	} `json:"data"`
	Detail string `json:"detail,omitempty"`
	Error  *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

func (s *EmbeddingService) Embed(ctx context.Context, text string) ([]float32, error) {
	embeddings, err := s.EmbedBatch(ctx, []string{text})
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

// EmbedBatch embeds texts as passages, preserving input order.
func (s *EmbeddingService) EmbedBatch(ctx context.Context, texts []string) ([][]float32, error) {
	return s.embed(ctx, texts, "retrieval.passage")
}

// EmbedQuery embeds a search query. Only Jina distinguishes query from passage.
func (s *EmbeddingService) EmbedQuery(ctx context.Context, query string) ([]float32, error) {
	embeddings, err := s.embed(ctx, []string{query}, "retrieval.query")
	if err != nil {
		return nil, err
	}
	return embeddings[0], nil
}

func (s *EmbeddingService) embed(ctx context.Context, texts []string, task string) ([][]float32, error) {
	if len(texts) == 0 {
		return [][]float32{}, nil
	}

	embeddings, err := s.breaker.Execute(func() ([][]float32, error) {
		if s.provider == config.ProviderOllama {
			return s.callOllama(ctx, texts)
		}
		return s.callEmbeddings(ctx, texts, task)
	})
	if err != nil {
		return nil, fmt.Errorf("%w: embedding: %w", ErrUpstream, err)
	}

	if len(embeddings) != len(texts) {
		return nil, fmt.Errorf("%w: unexpected number of embeddings: got %d, expected %d", ErrUpstream, len(embeddings), len(texts))
	}
	for i, e := range embeddings {
		if len(e) != s.dimensions {
			return nil, fmt.Errorf("%w: embedding %d has %d dimensions, expected %d", ErrUpstream, i, len(e), s.dimensions)
		}
	}
	return embeddings, nil
}

func (s *EmbeddingService) callOllama(ctx context.Context, texts []string) ([][]float32, error) {
	var resp ollamaEmbedResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(ollamaEmbedRequest{Model: s.model, Input: texts}).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call Ollama: %w", err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		if resp.Error != "" {
			return nil, fmt.Errorf("Ollama error: %s", resp.Error)
		}
		return nil, fmt.Errorf("Ollama error: status %d", httpResp.StatusCode())
	}
	return resp.Embeddings, nil
}

func (s *EmbeddingService) callEmbeddings(ctx context.Context, texts []string, task string) ([][]float32, error) {
	req := embeddingsRequest{
		Model: s.model,
		Input: texts,
	}
	if s.provider == config.ProviderJina {
		req.Task = task
		req.Dimensions = s.dimensions
		req.EmbeddingType = "float"
	}

	var resp embeddingsResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to call %s API: %w", s.provider, err)
	}
	if httpResp.StatusCode() != http.StatusOK {
		switch {
		case resp.Detail != "":
			return nil, fmt.Errorf("%s API error: %s", s.provider, resp.Detail)
		case resp.Error != nil && resp.Error.Message != "":
			return nil, fmt.Errorf("%s API error: %s", s.provider, resp.Error.Message)
		}
		return nil, fmt.Errorf("%s API error: status %d", s.provider, httpResp.StatusCode())
	}

	embeddings := make([][]float32, len(texts))
	for _, item := range resp.Data {
		if item.Index >= 0 && item.Index < len(embeddings) {
			embeddings[item.Index] = item.Embedding
		}
	}
	return embeddings, nil
}
