package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	gobreaker "github.com/sony/gobreaker/v2"

	"github.com/timmy/animerec/internal/config"
	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/metrics"
)

const defaultLLMBaseURL = "https://generativelanguage.googleapis.com/v1beta/openai"

// LLMService calls a hosted chat model through the OpenAI-compatible
// /chat/completions API. Gemini exposes this API natively.
type LLMService struct {
	client      *resty.Client
	model       string
	endpoint    string
	temperature float32
	maxTokens   int
	breaker     *gobreaker.CircuitBreaker[string]
}

// NewLLMService creates an LLM client from cfg.
func NewLLMService(cfg *config.LLMConfig) *LLMService {
	timeout := cfg.Timeout
	if timeout <= 0 {
		timeout = 60 * time.Second
	}
	baseURL := strings.TrimRight(cfg.BaseURL, "/")
	if baseURL == "" {
		baseURL = defaultLLMBaseURL
	}

	client := resty.New().
		SetAuthToken(cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetTimeout(timeout).
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal).
		SetRetryCount(cfg.MaxRetries).
		SetRetryWaitTime(time.Second).
		SetRetryMaxWaitTime(10 * time.Second).
		AddRetryCondition(retryableResponse).
		AddRetryHook(func(*resty.Response, error) {
			metrics.ExternalRetriesTotal.WithLabelValues("llm").Inc()
		})

	return &LLMService{
		client:      client,
		model:       cfg.Model,
		endpoint:    baseURL + "/chat/completions",
		temperature: cfg.Temperature,
		maxTokens:   cfg.MaxTokens,
		breaker:     newBreaker[string]("llm"),
	}
}

func (s *LLMService) GetModel() string {
	return s.model
}

type llmMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type llmJSONSchema struct {
	Name   string         `json:"name"`
	Schema map[string]any `json:"schema"`
}

type llmResponseFormat struct {
	Type       string         `json:"type"`
	JSONSchema *llmJSONSchema `json:"json_schema,omitempty"`
}

type llmRequest struct {
	Model          string             `json:"model"`
	Messages       []llmMessage       `json:"messages"`
	Temperature    float32            `json:"temperature"`
	MaxTokens      int                `json:"max_tokens,omitempty"`
	ResponseFormat *llmResponseFormat `json:"response_format,omitempty"`
}

type llmResponse struct {
	Choices []struct {
		Message struct {
			Content string `json:"content"`
		} `json:"message"`
		FinishReason string `json:"finish_reason"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error,omitempty"`
}

// GenerateStructured asks the model for JSON matching schema and decodes it into out.
func (s *LLMService) GenerateStructured(ctx context.Context, system, user, schemaName string, schema map[string]any, out any) error {
	req := llmRequest{
		Model: s.model,
		Messages: []llmMessage{
			{Role: "system", Content: system},
			{Role: "user", Content: user},
		},
		Temperature: s.temperature,
		MaxTokens:   s.maxTokens,
		ResponseFormat: &llmResponseFormat{
			Type:       "json_schema",
			JSONSchema: &llmJSONSchema{Name: schemaName, Schema: schema},
		},
	}

	start := time.Now()
	content, err := s.breaker.Execute(func() (string, error) {
		return s.complete(ctx, &req)
	})
	if err != nil {
		return fmt.Errorf("%w: llm: %w", ErrUpstream, err)
	}

	logger.With(logger.Fields{
		"model":                s.model,
		logger.FieldDurationMs: time.Since(start).Milliseconds(),
	}).Debug(ctx, "LLM completion received")

	if err := decodeJSONContent(content, out); err != nil {
		return fmt.Errorf("%w: llm returned invalid JSON: %w", ErrUpstream, err)
	}
	return nil
}

func (s *LLMService) complete(ctx context.Context, req *llmRequest) (string, error) {
	var resp llmResponse
	httpResp, err := s.client.R().
		SetContext(ctx).
		SetBody(req).
		SetResult(&resp).
		SetError(&resp).
		Post(s.endpoint)
	if err != nil {
		return "", fmt.Errorf("failed to call LLM API: %w", err)
	}
	if httpResp.StatusCode() < 200 || httpResp.StatusCode() >= 300 {
		if resp.Error != nil && resp.Error.Message != "" {
			return "", fmt.Errorf("LLM API error (status %d): %s", httpResp.StatusCode(), resp.Error.Message)
		}
		return "", fmt.Errorf("LLM API error: status %d", httpResp.StatusCode())
	}
	if len(resp.Choices) == 0 || strings.TrimSpace(resp.Choices[0].Message.Content) == "" {
		return "", errors.New("LLM returned no content")
	}
	return resp.Choices[0].Message.Content, nil
}

// decodeJSONContent decodes model output that may be wrapped in a markdown
// fence or surrounded by prose.
func decodeJSONContent(content string, out any) error {
	content = stripCodeFence(content)
	if err := json.Unmarshal([]byte(content), out); err == nil {
		return nil
	}
	obj, ok := extractJSONObject(content)
	if !ok {
		return errors.New("no JSON object found in response")
	}
	return json.Unmarshal([]byte(obj), out)
}

func stripCodeFence(s string) string {
	s = strings.TrimSpace(s)
	if !strings.HasPrefix(s, "```") {
		return s
	}
	s = strings.TrimPrefix(s, "```")
	if nl := strings.IndexByte(s, '\n'); nl != -1 {
		s = s[nl+1:]
	}
	s = strings.TrimSuffix(strings.TrimSpace(s), "```")
	return strings.TrimSpace(s)
}

// extractJSONObject returns the first balanced {...} in s, skipping braces inside strings.
func extractJSONObject(s string) (string, bool) {
	start := strings.IndexByte(s, '{')
	if start == -1 {
		return "", false
	}
	depth := 0
	inString, escaped := false, false
	for i := start; i < len(s); i++ {
		c := s[i]
		if inString {
			switch {
			case escaped:
				escaped = false
			case c == '\\':
				escaped = true
			case c == '"':
				inString = false
			}
			continue
		}
		switch c {
		case '"':
			inString = true
		case '{':
			depth++
		case '}':
			depth--
			if depth == 0 {
				return s[start : i+1], true
			}
		}
	}
	return "", false
}
