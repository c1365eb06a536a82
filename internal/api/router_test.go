package api

import (
	"context"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"

	"github.com/gin-gonic/gin"
	"github.com/goccy/go-json"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/timmy/animerec/internal/api/handler"
	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/config"
	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/service"
)

type fakeRecommender struct {
	resp  *domain.RecommendationResponse
	err   error
	query string
}

func (f *fakeRecommender) Recommend(ctx context.Context, query string) (*domain.RecommendationResponse, error) {
	f.query = query
	if strings.TrimSpace(query) == "" {
		return nil, service.ErrEmptyQuery
	}
	return f.resp, f.err
}

type viewCall struct {
	userID, title, genre string
}

type fakeViews struct {
	calls []viewCall
	views []domain.ViewedAnime
	err   error
	limit int
}

func (f *fakeViews) RecordView(ctx context.Context, id *auth.Identity, title, genre string) error {
	if f.err != nil {
		return f.err
	}
	f.calls = append(f.calls, viewCall{id.UserID, title, genre})
	return nil
}

func (f *fakeViews) ListViews(ctx context.Context, id *auth.Identity, limit int) ([]domain.ViewedAnime, error) {
	f.limit = limit
	return f.views, f.err
}

type fakeAccounts struct {
	signup    *service.AuthResult
	signupErr error
	login     *service.AuthResult
	deleted   []string
	loggedOut []string
}

func (f *fakeAccounts) Signup(ctx context.Context, in service.SignupInput) (*service.AuthResult, error) {
	return f.signup, f.signupErr
}

func (f *fakeAccounts) Login(ctx context.Context, email, password string) (*service.AuthResult, error) {
	return f.login, nil
}

func (f *fakeAccounts) Logout(ctx context.Context, token string) (*service.AuthResult, error) {
	f.loggedOut = append(f.loggedOut, token)
	return &service.AuthResult{Message: service.MsgLogoutSuccess}, nil
}

func (f *fakeAccounts) Home(ctx context.Context, token string) (*service.AuthResult, error) {
	if token == "" {
		return &service.AuthResult{Message: auth.MsgNotAuthenticated}, nil
	}
	return &service.AuthResult{Message: service.MsgLoggedIn}, nil
}

func (f *fakeAccounts) Delete(ctx context.Context, id *auth.Identity) (*service.AuthResult, error) {
	f.deleted = append(f.deleted, id.UserID)
	return &service.AuthResult{Message: service.MsgAccountDeleted}, nil
}

type tokenVerifier map[string]*auth.Identity

func (v tokenVerifier) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return nil, auth.ErrUnauthorized
}

type blockingIngest struct {
	release chan struct{}
	mu      sync.Mutex
	pages   []int
}

func (b *blockingIngest) Run(ctx context.Context, opts *service.IngestOptions) (*service.IngestStats, error) {
	b.mu.Lock()
	b.pages = append(b.pages, opts.Pages)
	b.mu.Unlock()
	<-b.release
	return &service.IngestStats{}, nil
}

type noopTransform struct{}

func (noopTransform) Run(ctx context.Context, opts *service.TransformOptions) (*service.TransformStats, error) {
	return &service.TransformStats{}, nil
}

type fakeRuns struct{}

func (fakeRuns) Latest(ctx context.Context, kind domain.RunKind) (*domain.PipelineRun, error) {
	if kind == domain.RunKindIngest {
		return &domain.PipelineRun{ID: "r1", Kind: kind, Status: domain.RunStatusCompleted}, nil
	}
	return nil, nil
}

type testServer struct {
	router   *gin.Engine
	rec      *fakeRecommender
	views    *fakeViews
	accounts *fakeAccounts
	ingest   *blockingIngest
	pipeline *handler.PipelineHandler
}

func newTestServer(t *testing.T) *testServer {
	t.Helper()
	static := t.TempDir()
	require.NoError(t, os.WriteFile(filepath.Join(static, "index.html"), []byte("<h1>home</h1>"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(static, "login.html"), []byte("<h1>login</h1>"), 0o644))

	ts := &testServer{
		rec: &fakeRecommender{resp: &domain.RecommendationResponse{
			Message:         "Try these",
			Recommendations: []domain.Recommendation{{Title: "Mushishi", Genre: "Mystery", URL: "u", Reason: "calm"}},
		}},
		views:    &fakeViews{},
		accounts: &fakeAccounts{},
		ingest:   &blockingIngest{release: make(chan struct{})},
	}
	ts.pipeline = handler.NewPipelineHandler(ts.ingest, noopTransform{}, fakeRuns{})

	ts.router = SetupRouter(&config.ServerConfig{
		Mode:       "test",
		StaticDir:  static,
		AdminToken: "admin-secret",
		CORS:       config.CORSConfig{AllowedOrigins: []string{"http://localhost:5500"}},
		Cookie:     config.CookieConfig{Name: "access_token", MaxAge: 3600},
	}, &Dependencies{
		Recommender: ts.rec,
		Views:       ts.views,
		Accounts:    ts.accounts,
		Verifier:    tokenVerifier{"good": {UserID: "u1", Email: "spike@bebop.io"}},
		Pipeline:    ts.pipeline,
	})
	return ts
}

func (ts *testServer) do(method, path, body string, headers ...string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(method, path, strings.NewReader(body))
	if body != "" {
		req.Header.Set("Content-Type", "application/json")
	}
	for i := 0; i+1 < len(headers); i += 2 {
		req.Header.Set(headers[i], headers[i+1])
	}
	w := httptest.NewRecorder()
	ts.router.ServeHTTP(w, req)
	return w
}

func decode(t *testing.T, w *httptest.ResponseRecorder, out any) {
	t.Helper()
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), out))
}

const authCookie = "access_token=good"

func TestHealthAndRoot(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/health", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"status":"ok"}`, w.Body.String())
	assert.NotEmpty(t, w.Header().Get("X-Request-ID"))

	w = ts.do(http.MethodGet, "/api", "")
	assert.JSONEq(t, `{"status":"Server running"}`, w.Body.String())

	w = ts.do(http.MethodGet, "/metrics", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "animerec_http_requests_total")
}

func TestRecommendationRequiresAuth(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/anime/recommendation", `{"query":"calm"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"message":"User not authenticated"}`, w.Body.String())

	w = ts.do(http.MethodPost, "/api/anime/recommendation", `{"query":"calm"}`, "Authorization", "Bearer expired")
	assert.Equal(t, http.StatusUnauthorized, w.Code)
}

func TestRecommendation(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/anime/recommendation", `{"query":"calm"}`, "Cookie", authCookie)
	require.Equal(t, http.StatusOK, w.Code)
	var list []domain.Recommendation
	decode(t, w, &list)
	require.Len(t, list, 1)
	assert.Equal(t, "Mushishi", list[0].Title)
	assert.Equal(t, "calm", ts.rec.query)

	w = ts.do(http.MethodPost, "/api/v1/recommendations", `{"query":"calm"}`, "Authorization", "Bearer good")
	require.Equal(t, http.StatusOK, w.Code)
	var full handler.RecommendResponse
	decode(t, w, &full)
	assert.Equal(t, "calm", full.Query)
	assert.Equal(t, "Try these", full.Message)
	assert.Len(t, full.Recommendations, 1)
}

func TestRecommendationErrors(t *testing.T) {
	tests := []struct {
		name   string
		body   string
		err    error
		status int
	}{
		{name: "missing query", body: `{}`, status: http.StatusBadRequest},
		{name: "blank query", body: `{"query":"   "}`, status: http.StatusBadRequest},
		{name: "empty index", body: `{"query":"x"}`, err: service.ErrIndexEmpty, status: http.StatusServiceUnavailable},
		{name: "upstream", body: `{"query":"x"}`, err: service.ErrUpstream, status: http.StatusBadGateway},
		{name: "unexpected", body: `{"query":"x"}`, err: assert.AnError, status: http.StatusInternalServerError},
		{name: "client gone", body: `{"query":"x"}`, err: fmt.Errorf("%w: embedding: %w", service.ErrUpstream, context.Canceled), status: 499},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ts := newTestServer(t)
			ts.rec.err = tt.err
			w := ts.do(http.MethodPost, "/api/anime/recommendation", tt.body, "Cookie", authCookie)
			assert.Equal(t, tt.status, w.Code)
			assert.NotContains(t, w.Body.String(), "assert.AnError")
		})
	}
}

func TestGetAnimeAndHistory(t *testing.T) {
	ts := newTestServer(t)
	ts.views.views = []domain.ViewedAnime{{AnimeName: "Mushishi", AnimeGenre: "Mystery"}}

	w := ts.do(http.MethodPost, "/api/anime/getAnime", `{"title":"Mushishi","genre":"Mystery"}`, "Cookie", authCookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Anime viewed successfully"}`, w.Body.String())
	assert.Equal(t, []viewCall{{"u1", "Mushishi", "Mystery"}}, ts.views.calls)

	w = ts.do(http.MethodGet, "/api/anime/history?limit=5", "", "Cookie", authCookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, 5, ts.views.limit)
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = ts.do(http.MethodGet, "/api/anime/history?limit=500", "", "Cookie", authCookie)
	assert.Equal(t, http.StatusBadRequest, w.Code)

	ts.views.err = service.ErrAccountNotFound
	w = ts.do(http.MethodPost, "/api/anime/getAnime", `{"title":"Mushishi"}`, "Cookie", authCookie)
	assert.Equal(t, http.StatusNotFound, w.Code)
	assert.JSONEq(t, `{"message":"User not signed up"}`, w.Body.String())
}

func TestSignupSetsCookie(t *testing.T) {
	ts := newTestServer(t)
	ts.accounts.signup = &service.AuthResult{Message: service.MsgSignupSuccess, AccessToken: "tok"}

	w := ts.do(http.MethodPost, "/api/users/signup", `{"name":"Spike","email":"spike@bebop.io","password":"swordfish","gender":"m"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"Signup successful"}`, w.Body.String())

	cookie := w.Header().Get("Set-Cookie")
	assert.Contains(t, cookie, "access_token=tok")
	assert.Contains(t, cookie, "HttpOnly")
	assert.Contains(t, cookie, "Max-Age=3600")
	assert.Contains(t, cookie, "SameSite=Lax")
}

func TestSignupVariants(t *testing.T) {
	ts := newTestServer(t)
	ts.accounts.signup = &service.AuthResult{Message: service.MsgSignupVerifyEmail, EmailVerificationRequired: true}

	w := ts.do(http.MethodPost, "/api/users/signup", `{"name":"Faye","email":"faye@bebop.io","password":"secret12"}`)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Empty(t, w.Header().Get("Set-Cookie"))
	assert.Contains(t, w.Body.String(), `"email_verification_required":true`)

	ts.accounts.signupErr = auth.ErrEmailTaken
	w = ts.do(http.MethodPost, "/api/users/signup", `{"name":"Faye","email":"faye@bebop.io","password":"secret12"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.JSONEq(t, `{"message":"Email already registered. Please login instead."}`, w.Body.String())

	w = ts.do(http.MethodPost, "/api/users/signup", `{"name":"Faye","email":"not-an-email","password":"secret12"}`)
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestLoginLogoutHome(t *testing.T) {
	ts := newTestServer(t)

	ts.accounts.login = &service.AuthResult{Message: service.MsgEmailNotFound}
	w := ts.do(http.MethodPost, "/api/users/login", `{"email":"a@b.co","password":"pw"}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)
	assert.JSONEq(t, `{"message":"Email not found. Please register"}`, w.Body.String())

	ts.accounts.login = &service.AuthResult{Message: service.MsgLoginSuccess, AccessToken: "tok"}
	w = ts.do(http.MethodPost, "/api/users/login", `{"email":"a@b.co","password":"pw"}`)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "access_token=tok")

	w = ts.do(http.MethodGet, "/api/users/home", "", "Cookie", authCookie)
	assert.JSONEq(t, `{"message":"User logged in successfully"}`, w.Body.String())
	w = ts.do(http.MethodGet, "/api/users/home", "")
	assert.JSONEq(t, `{"message":"User not authenticated"}`, w.Body.String())

	w = ts.do(http.MethodPost, "/api/users/logout", "", "Cookie", authCookie)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"good"}, ts.accounts.loggedOut)
	assert.Contains(t, w.Header().Get("Set-Cookie"), "Max-Age=0")
}

func TestDeleteAccount(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodDelete, "/api/users/me", "")
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodDelete, "/api/users/me", "", "Cookie", authCookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"message":"User deleted successfully"}`, w.Body.String())

	w = ts.do(http.MethodPost, "/api/users/delete", "", "Cookie", authCookie)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Equal(t, []string{"u1", "u1"}, ts.accounts.deleted)
}

func TestPipelineAdmin(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodPost, "/api/admin/pipeline/ingest", `{"pages":2}`)
	assert.Equal(t, http.StatusUnauthorized, w.Code)

	w = ts.do(http.MethodPost, "/api/admin/pipeline/ingest", `{"pages":2}`, "X-Admin-Token", "admin-secret", "X-Request-ID", "req-42")
	require.Equal(t, http.StatusAccepted, w.Code)
	assert.Contains(t, w.Body.String(), `"request_id":"req-42"`)

	w = ts.do(http.MethodPost, "/api/admin/pipeline/transform", "", "X-Admin-Token", "admin-secret")
	assert.Equal(t, http.StatusConflict, w.Code)

	w = ts.do(http.MethodGet, "/api/admin/pipeline/status", "", "X-Admin-Token", "admin-secret")
	require.Equal(t, http.StatusOK, w.Code)
	var status handler.PipelineStatusResponse
	decode(t, w, &status)
	assert.Equal(t, "ingest", status.Running)
	require.NotNil(t, status.Ingest)
	assert.Equal(t, "r1", status.Ingest.ID)
	assert.Nil(t, status.Transform)

	close(ts.ingest.release)
	ts.pipeline.Wait()
	assert.Equal(t, []int{2}, ts.ingest.pages)

	w = ts.do(http.MethodPost, "/api/admin/pipeline/transform", "", "X-Admin-Token", "admin-secret")
	assert.Equal(t, http.StatusAccepted, w.Code)
	ts.pipeline.Wait()
}

func TestStaticPages(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodGet, "/", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "home")

	w = ts.do(http.MethodGet, "/login", "")
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "login")

	w = ts.do(http.MethodGet, "/dashboard", "")
	assert.Equal(t, http.StatusNotFound, w.Code)
}

func TestCORS(t *testing.T) {
	ts := newTestServer(t)

	w := ts.do(http.MethodOptions, "/api/users/login", "", "Origin", "http://localhost:5500")
	assert.Equal(t, http.StatusNoContent, w.Code)
	assert.Equal(t, "http://localhost:5500", w.Header().Get("Access-Control-Allow-Origin"))
	assert.Equal(t, "true", w.Header().Get("Access-Control-Allow-Credentials"))

	w = ts.do(http.MethodGet, "/health", "", "Origin", "http://evil.example")
	assert.Empty(t, w.Header().Get("Access-Control-Allow-Origin"))
}
