package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/animerec/internal/config"
)

func TestOllamaEmbedBatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/api/embed", r.URL.Path)
		var req ollamaEmbedRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "bge-m3", req.Model)
		assert.Equal(t, []string{"a", "b"}, req.Input)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings": [[0.1, 0.2, 0.3], [0.4, 0.5, 0.6]]}`))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&config.EmbeddingConfig{
		Provider:   config.ProviderOllama,
		Model:      "bge-m3",
		BaseURL:    srv.URL,
		Dimensions: 3,
	})
	require.NoError(t, err)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"a", "b"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{0.1, 0.2, 0.3}, {0.4, 0.5, 0.6}}, vectors)
	assert.Equal(t, 3, svc.GetDimensions())
	assert.Equal(t, "bge-m3", svc.GetModel())
}

func TestJinaEmbedQuery(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/embeddings", r.URL.Path)
		assert.Equal(t, "Bearer secret", r.Header.Get("Authorization"))
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "retrieval.query", req.Task)
		assert.Equal(t, 2, req.Dimensions)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"index": 0, "embedding": [1, 2]}]}`))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&config.EmbeddingConfig{
		Provider:   config.ProviderJina,
		Model:      "jina-embeddings-v3",
		APIKey:     "secret",
		BaseURL:    srv.URL,
		Dimensions: 2,
	})
	require.NoError(t, err)

	vector, err := svc.EmbedQuery(context.Background(), "isekai")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2}, vector)
}

func TestOpenAICompatibleKeepsInputOrder(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req embeddingsRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Empty(t, req.Task)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"data": [{"index": 1, "embedding": [2]}, {"index": 0, "embedding": [1]}]}`))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&config.EmbeddingConfig{
		Provider:   config.ProviderOpenAICompatible,
		Model:      "text-embedding-3-small",
		APIKey:     "k",
		BaseURL:    srv.URL + "/v1/",
		Dimensions: 1,
	})
	require.NoError(t, err)

	vectors, err := svc.EmbedBatch(context.Background(), []string{"first", "second"})
	require.NoError(t, err)
	assert.Equal(t, [][]float32{{1}, {2}}, vectors)
}

func TestEmbeddingDimensionMismatch(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings": [[0.1, 0.2]]}`))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&config.EmbeddingConfig{
		Provider: config.ProviderOllama, Model: "m", BaseURL: srv.URL, Dimensions: 3,
	})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "2 dimensions")
}

func TestEmbeddingClientErrorNotRetried(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusBadRequest)
		_, _ = w.Write([]byte(`{"error": "model not found"}`))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&config.EmbeddingConfig{
		Provider: config.ProviderOllama, Model: "m", BaseURL: srv.URL, Dimensions: 3, MaxRetries: 2,
	})
	require.NoError(t, err)

	_, err = svc.Embed(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "model not found")
	assert.Equal(t, int32(1), atomic.LoadInt32(&calls))
}

func TestEmbeddingRetriesServerErrors(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) == 1 {
			w.WriteHeader(http.StatusServiceUnavailable)
			return
		}
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings": [[1, 2, 3]]}`))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&config.EmbeddingConfig{
		Provider: config.ProviderOllama, Model: "m", BaseURL: srv.URL, Dimensions: 3, MaxRetries: 1,
	})
	require.NoError(t, err)

	vector, err := svc.Embed(context.Background(), "x")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vector)
	assert.Equal(t, int32(2), atomic.LoadInt32(&calls))
}

func TestNewEmbeddingServiceValidates(t *testing.T) {
	_, err := NewEmbeddingService(&config.EmbeddingConfig{Provider: config.ProviderJina, Model: "m", Dimensions: 3})
	assert.Error(t, err)
}

func TestEmbeddingCancellationKeepsBreakerClosed(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"embeddings": [[1, 2, 3]]}`))
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&config.EmbeddingConfig{
		Provider: config.ProviderOllama, Model: "m", BaseURL: srv.URL, Dimensions: 3,
	})
	require.NoError(t, err)

	cancelled, cancel := context.WithCancel(context.Background())
	cancel()
	for i := 0; i < breakerFailureThreshold+1; i++ {
		_, err := svc.EmbedQuery(cancelled, "abandoned")
		require.Error(t, err)
		assert.ErrorIs(t, err, context.Canceled)
	}

	vector, err := svc.EmbedQuery(context.Background(), "still served")
	require.NoError(t, err)
	assert.Equal(t, []float32{1, 2, 3}, vector)
}

func TestEmbeddingBreakerOpensOnUpstreamFailures(t *testing.T) {
	var calls int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	svc, err := NewEmbeddingService(&config.EmbeddingConfig{
		Provider: config.ProviderOllama, Model: "m", BaseURL: srv.URL, Dimensions: 3,
	})
	require.NoError(t, err)

	for i := 0; i < breakerFailureThreshold; i++ {
		_, err := svc.Embed(context.Background(), "x")
		require.ErrorIs(t, err, ErrUpstream)
	}
	_, err = svc.Embed(context.Background(), "x")
	require.ErrorIs(t, err, ErrUpstream)
	assert.Contains(t, err.Error(), "circuit breaker is open")
	assert.Equal(t, int32(breakerFailureThreshold), atomic.LoadInt32(&calls))
}
