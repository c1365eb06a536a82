// Package auth talks to the Supabase auth server (GoTrue) and verifies the
// access tokens it issues.
package auth

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
	"github.com/goccy/go-json"

	"github.com/timmy/animerec/internal/config"
)

var (
	// ErrEmailTaken means the provider already has a user with the email.
	ErrEmailTaken = errors.New("email already registered")

	// ErrInvalidCredentials is returned by a password sign-in that the provider rejected.
	ErrInvalidCredentials = errors.New("invalid login credentials")

	// ErrUnauthorized means the access token is missing, expired or unknown.
	ErrUnauthorized = errors.New("unauthorized")
)

// APIError is a provider failure that maps to none of the typed errors.
type APIError struct {
	StatusCode int
	Code       string
	Message    string
}

func (e *APIError) Error() string {
	if e.Code != "" {
		return fmt.Sprintf("auth provider error (status %d, %s): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("auth provider error (status %d): %s", e.StatusCode, e.Message)
}

// User is the provider's view of an account.
type User struct {
	ID    string `json:"id"`
	Email string `json:"email"`
}

// Session is issued on sign-in, and on sign-up when email confirmation is off.
type Session struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	TokenType    string `json:"token_type"`
	ExpiresIn    int    `json:"expires_in"`
	User         User   `json:"user"`
}

// SignUpResult carries the created user and, when no confirmation is needed, a session.
type SignUpResult struct {
	User    User
	Session *Session
}

// Client is a minimal GoTrue REST client.
type Client struct {
	http           *resty.Client
	apiKey         string
	serviceRoleKey string
}

// NewClient creates a client for {cfg.URL}/auth/v1.
func NewClient(cfg *config.SupabaseConfig) *Client {
	base := strings.TrimRight(cfg.URL, "/") + "/auth/v1"
	httpClient := resty.New().
		SetBaseURL(base).
		SetTimeout(15*time.Second).
		SetHeader("apikey", cfg.APIKey).
		SetHeader("Content-Type", "application/json").
		SetJSONMarshaler(json.Marshal).
		SetJSONUnmarshaler(json.Unmarshal)

	return &Client{http: httpClient, apiKey: cfg.APIKey, serviceRoleKey: cfg.ServiceRoleKey}
}

type credentials struct {
	Email    string `json:"email"`
	Password string `json:"password"`
}

// errorBody covers both the legacy and the current GoTrue error shapes.
type errorBody struct {
	Code             any    `json:"code"`
	ErrorCode        string `json:"error_code"`
	Msg              string `json:"msg"`
	Message          string `json:"message"`
	Error            string `json:"error"`
	ErrorDescription string `json:"error_description"`
}

func (b *errorBody) text() string {
	for _, s := range []string{b.Msg, b.Message, b.ErrorDescription, b.Error} {
		if s != "" {
			return s
		}
	}
	return ""
}

func (b *errorBody) code() string {
	if b.ErrorCode != "" {
		return b.ErrorCode
	}
	return b.Error
}

// providerError maps a failed response onto the typed errors.
func providerError(resp *resty.Response) error {
	var body errorBody
	_ = json.Unmarshal(resp.Body(), &body)
	msg, code := body.text(), body.code()
	lower := strings.ToLower(msg)

	switch {
	case code == "user_already_exists" || code == "email_exists" ||
		strings.Contains(lower, "already registered") || strings.Contains(lower, "already exists"):
		return fmt.Errorf("%w: %s", ErrEmailTaken, msg)
	case code == "invalid_credentials" || code == "invalid_grant" || code == "email_not_confirmed":
		return fmt.Errorf("%w: %s", ErrInvalidCredentials, msg)
	case resp.StatusCode() == http.StatusUnauthorized || resp.StatusCode() == http.StatusForbidden ||
		code == "bad_jwt" || code == "session_not_found" || code == "user_not_found":
		return fmt.Errorf("%w: %s", ErrUnauthorized, msg)
	}
	if msg == "" {
		msg = strings.TrimSpace(string(resp.Body()))
	}
	return &APIError{StatusCode: resp.StatusCode(), Code: code, Message: msg}
}

type signUpResponse struct {
	Session
	ID         string `json:"id"`
	Email      string `json:"email"`
	Identities *[]any `json:"identities"`
}

// SignUp registers a user. The session is nil when the project requires email confirmation.
func (c *Client) SignUp(ctx context.Context, email, password string) (*SignUpResult, error) {
	var out signUpResponse
	resp, err := c.http.R().
		SetContext(ctx).
		SetBody(credentials{Email: email, Password: password}).
		SetResult(&out).
		Post("/signup")
	if err != nil {
		return nil, fmt.Errorf("failed to call signup: %w", err)
	}
	if resp.IsError() {
		return nil, providerError(resp)
	}

	if out.AccessToken != "" {
		s := out.Session
		return &SignUpResult{User: s.User, Session: &s}, nil
	}
	// An existing confirmed email comes back as a user without identities.
	if out.Identities != nil && len(*out.Identities) == 0 {
		return nil, ErrEmailTaken
	}
	return &SignUpResult{User: User{ID: out.ID, Email: out.Email}}, nil
}

// SignInWithPassword exchanges credentials for a session.
func (c *Client) SignInWithPassword(ctx context.Context, email, password string) (*Session, error) {
	var out Session
	resp, err := c.http.R().
		SetContext(ctx).
		SetQueryParam("grant_type", "password").
		SetBody(credentials{Email: email, Password: password}).
		SetResult(&out).
		Post("/token")
	if err != nil {
		return nil, fmt.Errorf("failed to call token: %w", err)
	}
	if resp.IsError() {
		return nil, providerError(resp)
	}
	if out.AccessToken == "" {
		return nil, ErrInvalidCredentials
	}
	return &out, nil
}

// SignOut revokes the session behind accessToken.
func (c *Client) SignOut(ctx context.Context, accessToken string) error {
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		Post("/logout")
	if err != nil {
		return fmt.Errorf("failed to call logout: %w", err)
	}
	if resp.IsError() {
		return providerError(resp)
	}
	return nil
}

// GetUser resolves accessToken to its user.
func (c *Client) GetUser(ctx context.Context, accessToken string) (*User, error) {
	if accessToken == "" {
		return nil, ErrUnauthorized
	}
	var out User
	resp, err := c.http.R().
		SetContext(ctx).
		SetAuthToken(accessToken).
		SetResult(&out).
		Get("/user")
	if err != nil {
		return nil, fmt.Errorf("failed to call user: %w", err)
	}
	if resp.IsError() {
		return nil, providerError(resp)
	}
	return &out, nil
}

// AdminDeleteUser removes a user with the service role key.
func (c *Client) AdminDeleteUser(ctx context.Context, userID string) error {
	if c.serviceRoleKey == "" {
		return errors.New("service role key is not configured")
	}
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("apikey", c.serviceRoleKey).
		SetAuthToken(c.serviceRoleKey).
		SetPathParam("id", userID).
		Delete("/admin/users/{id}")
	if err != nil {
		return fmt.Errorf("failed to call admin delete: %w", err)
	}
	if resp.IsError() {
		return providerError(resp)
	}
	return nil
}
