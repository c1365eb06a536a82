// Package jikan reads the top-anime listing from the Jikan v4 REST API.
package jikan

import (
	"context"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"
	"golang.org/x/time/rate"

	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/logger"
	"github.com/timmy/animerec/internal/metrics"
	"github.com/timmy/animerec/internal/source"
)

const (
	SourceID   = "jikan"
	SourceName = "Jikan (MyAnimeList top anime)"

	DefaultBaseURL = "https://api.jikan.moe/v4"
)

var _ source.AnimeSource = (*Adapter)(nil)

// Config configures the Jikan adapter.
type Config struct {
	BaseURL      string
	RequestDelay time.Duration // minimum spacing between requests
	MaxRetries   int
	BackoffBase  time.Duration
	BackoffMax   time.Duration
	Timeout      time.Duration
}

// Adapter implements source.AnimeSource for the Jikan top-anime endpoint.
type Adapter struct {
	client  *resty.Client
	limiter *rate.Limiter
	cfg     Config

	mu      sync.Mutex
	retryAt time.Time
}

// NewAdapter creates a Jikan adapter. Zero values in cfg fall back to defaults.
func NewAdapter(cfg *Config) *Adapter {
	c := *cfg
	if c.BaseURL == "" {
		c.BaseURL = DefaultBaseURL
	}
	if c.MaxRetries < 0 {
		c.MaxRetries = 0
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = 2 * time.Second
	}
	if c.BackoffMax <= 0 {
		c.BackoffMax = 30 * time.Second
	}
	if c.Timeout <= 0 {
		c.Timeout = 30 * time.Second
	}

	limit := rate.Inf
	if c.RequestDelay > 0 {
		limit = rate.Every(c.RequestDelay)
	}

	client := resty.New().
		SetBaseURL(strings.TrimRight(c.BaseURL, "/")).
		SetTimeout(c.Timeout).
		SetHeader("Accept", "application/json").
		SetJSONUnmarshaler(json.Unmarshal)

	return &Adapter{
		client:  client,
		limiter: rate.NewLimiter(limit, 1),
		cfg:     c,
	}
}

func (a *Adapter) GetSourceID() string {
	return SourceID
}

func (a *Adapter) GetDisplayName() string {
	return SourceName
}

// StatusError is returned for responses that are not worth retrying.
type StatusError struct {
	Page       int
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("jikan page %d: unexpected status %d: %s", e.Page, e.StatusCode, e.Body)
}

// FetchPage fetches one page of /top/anime, retrying network errors, 429 and 5xx
// with exponential backoff. A Retry-After header on 429 replaces the backoff.
func (a *Adapter) FetchPage(ctx context.Context, page int) ([]domain.AnimeRecord, bool, error) {
	ctx = logger.WithFields(ctx, logger.Fields{
		logger.FieldSource: SourceID,
		logger.FieldPage:   page,
	})

	var lastErr error
	for attempt := 0; ; attempt++ {
		if err := a.wait(ctx); err != nil {
			return nil, false, err
		}

		var body topAnimeResponse
		resp, err := a.client.R().
			SetContext(ctx).
			SetQueryParam("page", strconv.Itoa(page)).
			SetResult(&body).
			Get("/top/anime")

		var delay time.Duration
		switch {
		case err != nil:
			if ctx.Err() != nil {
				return nil, false, ctx.Err()
			}
			lastErr = fmt.Errorf("jikan page %d: request failed: %w", page, err)
		case resp.StatusCode() == http.StatusTooManyRequests:
			lastErr = &StatusError{Page: page, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 200)}
			delay = retryAfter(resp.Header().Get("Retry-After"))
			a.pause(delay)
		case resp.StatusCode() >= 500:
			lastErr = &StatusError{Page: page, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 200)}
		case resp.IsError():
			return nil, false, &StatusError{Page: page, StatusCode: resp.StatusCode(), Body: truncate(resp.String(), 200)}
		default:
			return body.records(), body.hasNext(page), nil
		}

		if attempt >= a.cfg.MaxRetries {
			return nil, false, fmt.Errorf("giving up after %d attempts: %w", attempt+1, lastErr)
		}
		if delay <= 0 {
			delay = a.backoff(attempt)
		}

		metrics.ExternalRetriesTotal.WithLabelValues(SourceID).Inc()
		logger.With(logger.Fields{
			"attempt":  attempt + 1,
			"delay_ms": delay.Milliseconds(),
		}).Warn(ctx, "Retrying Jikan request: %v", lastErr)

		select {
		case <-ctx.Done():
			return nil, false, ctx.Err()
		case <-time.After(delay):
		}
	}
}

// wait honours any Retry-After pause and then the request spacing.
func (a *Adapter) wait(ctx context.Context) error {
	a.mu.Lock()
	until := time.Until(a.retryAt)
	a.mu.Unlock()

	if until > 0 {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(until):
		}
	}
	return a.limiter.Wait(ctx)
}

func (a *Adapter) pause(d time.Duration) {
	if d <= 0 {
		return
	}
	a.mu.Lock()
	a.retryAt = time.Now().Add(d)
	a.mu.Unlock()
}

func (a *Adapter) backoff(attempt int) time.Duration {
	d := a.cfg.BackoffBase << attempt
	if d <= 0 || d > a.cfg.BackoffMax {
		return a.cfg.BackoffMax
	}
	return d
}

// retryAfter parses a Retry-After value given in seconds or as an HTTP date.
func retryAfter(v string) time.Duration {
	v = strings.TrimSpace(v)
	if v == "" {
		return 0
	}
	if secs, err := strconv.Atoi(v); err == nil {
		return time.Duration(secs) * time.Second
	}
	if t, err := http.ParseTime(v); err == nil {
		return time.Until(t)
	}
	return 0
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n]
}
