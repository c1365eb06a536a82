package service

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/animerec/internal/config"
	"github.com/timmy/animerec/internal/domain"
)

func TestDecodeJSONContent(t *testing.T) {
	tests := []struct {
		name    string
		content string
		want    string
		wantErr bool
	}{
		{name: "plain", content: `{"message": "hi"}`, want: "hi"},
		{name: "fenced", content: "```json\n{\"message\": \"fenced\"}\n```", want: "fenced"},
		{name: "bare fence", content: "```\n{\"message\": \"bare\"}\n```", want: "bare"},
		{name: "prose around", content: `Sure! {"message": "a {b} \"c\""} Hope that helps.`, want: `a {b} "c"`},
		{name: "no object", content: "I cannot help with that.", wantErr: true},
		{name: "unbalanced", content: `{"message": "x"`, wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var out domain.RecommendationResponse
			err := decodeJSONContent(tt.content, &out)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, out.Message)
		})
	}
}

func newTestLLM(url string) *LLMService {
	return NewLLMService(&config.LLMConfig{
		Model:       "gemini-2.5-flash",
		APIKey:      "key",
		BaseURL:     url,
		Temperature: 0.3,
		MaxTokens:   512,
	})
}

func TestGenerateStructured(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, "/chat/completions", r.URL.Path)
		assert.Equal(t, "Bearer key", r.Header.Get("Authorization"))

		var req llmRequest
		require.NoError(t, json.NewDecoder(r.Body).Decode(&req))
		assert.Equal(t, "gemini-2.5-flash", req.Model)
		require.Len(t, req.Messages, 2)
		assert.Equal(t, "system", req.Messages[0].Role)
		assert.Equal(t, "rules", req.Messages[0].Content)
		assert.Equal(t, "question", req.Messages[1].Content)
		require.NotNil(t, req.ResponseFormat)
		assert.Equal(t, "json_schema", req.ResponseFormat.Type)
		assert.Equal(t, "anime_recommendations", req.ResponseFormat.JSONSchema.Name)

		w.Header().Set("Content-Type", "application/json")
		_, _ = w.Write([]byte(`{"choices": [{"message": {"content": "` +
			"```json\\n{\\\"message\\\": \\\"ok\\\", \\\"recommendations\\\": [{\\\"title\\\": \\\"Mushishi\\\"}]}\\n```" +
			`"}, "finish_reason": "stop"}]}`))
	}))
	defer srv.Close()

	var out domain.RecommendationResponse
	err := newTestLLM(srv.URL).GenerateStructured(context.Background(), "rules", "question",
		"anime_recommendations", domain.RecommendationSchema, &out)
	require.NoError(t, err)
	assert.Equal(t, "ok", out.Message)
	require.Len(t, out.Recommendations, 1)
	assert.Equal(t, "Mushishi", out.Recommendations[0].Title)
}

func TestGenerateStructuredErrors(t *testing.T) {
	tests := []struct {
		name   string
		status int
		body   string
		want   string
	}{
		{name: "api error", status: http.StatusBadRequest, body: `{"error": {"message": "API key not valid"}}`, want: "API key not valid"},
		{name: "no choices", status: http.StatusOK, body: `{"choices": []}`, want: "no content"},
		{name: "not json", status: http.StatusOK, body: `{"choices": [{"message": {"content": "sorry"}}]}`, want: "invalid JSON"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
				w.Header().Set("Content-Type", "application/json")
				w.WriteHeader(tt.status)
				_, _ = w.Write([]byte(tt.body))
			}))
			defer srv.Close()

			var out domain.RecommendationResponse
			err := newTestLLM(srv.URL).GenerateStructured(context.Background(), "s", "u", "n", nil, &out)
			require.ErrorIs(t, err, ErrUpstream)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}
