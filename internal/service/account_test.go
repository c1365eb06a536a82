package service

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"

	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/config"
	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/repository"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	db, err := repository.InitDB(&config.DatabaseConfig{
		Driver:       "sqlite",
		Path:         filepath.Join(t.TempDir(), "test.db"),
		MaxOpenConns: 1,
		AutoMigrate:  true,
		LogLevel:     "silent",
	})
	require.NoError(t, err)
	sqlDB, err := db.DB()
	require.NoError(t, err)
	t.Cleanup(func() { _ = sqlDB.Close() })
	return db
}

type fakeProvider struct {
	signUp      *auth.SignUpResult
	signUpErr   error
	session     *auth.Session
	signInErr   error
	signOutErr  error
	deleteErr   error
	signedOut   []string
	deletedUIDs []string
}

func (p *fakeProvider) SignUp(ctx context.Context, email, password string) (*auth.SignUpResult, error) {
	return p.signUp, p.signUpErr
}

func (p *fakeProvider) SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error) {
	return p.session, p.signInErr
}

func (p *fakeProvider) SignOut(ctx context.Context, token string) error {
	p.signedOut = append(p.signedOut, token)
	return p.signOutErr
}

func (p *fakeProvider) AdminDeleteUser(ctx context.Context, userID string) error {
	p.deletedUIDs = append(p.deletedUIDs, userID)
	return p.deleteErr
}

type fakeVerifier map[string]*auth.Identity

func (v fakeVerifier) Verify(ctx context.Context, token string) (*auth.Identity, error) {
	if id, ok := v[token]; ok {
		return id, nil
	}
	return nil, auth.ErrUnauthorized
}

func TestSignup(t *testing.T) {
	ctx := context.Background()
	accounts := repository.NewAccountRepository(newTestDB(t))
	provider := &fakeProvider{signUp: &auth.SignUpResult{
		User:    auth.User{ID: "u1", Email: "spike@bebop.io"},
		Session: &auth.Session{AccessToken: "tok"},
	}}
	svc := NewAccountService(provider, fakeVerifier{}, accounts)

	res, err := svc.Signup(ctx, SignupInput{Name: " Spike ", Email: "Spike@Bebop.io ", Password: "pw", Gender: "male"})
	require.NoError(t, err)
	assert.Equal(t, MsgSignupSuccess, res.Message)
	assert.Equal(t, "tok", res.AccessToken)

	stored, err := accounts.GetByEmail(ctx, "spike@bebop.io")
	require.NoError(t, err)
	require.NotNil(t, stored)
	assert.Equal(t, "Spike", stored.Name)

	_, err = svc.Signup(ctx, SignupInput{Email: "spike@bebop.io", Password: "pw"})
	assert.ErrorIs(t, err, auth.ErrEmailTaken)
}

func TestSignupNeedsVerification(t *testing.T) {
	provider := &fakeProvider{signUp: &auth.SignUpResult{User: auth.User{ID: "u2"}}}
	svc := NewAccountService(provider, fakeVerifier{}, repository.NewAccountRepository(newTestDB(t)))

	res, err := svc.Signup(context.Background(), SignupInput{Email: "faye@bebop.io", Password: "pw"})
	require.NoError(t, err)
	assert.Equal(t, MsgSignupVerifyEmail, res.Message)
	assert.True(t, res.EmailVerificationRequired)
	assert.Empty(t, res.AccessToken)
}

func TestSignupProviderFailure(t *testing.T) {
	accounts := repository.NewAccountRepository(newTestDB(t))
	provider := &fakeProvider{signUpErr: &auth.APIError{StatusCode: 500, Message: "down"}}
	svc := NewAccountService(provider, fakeVerifier{}, accounts)

	_, err := svc.Signup(context.Background(), SignupInput{Email: "jet@bebop.io", Password: "pw"})
	require.ErrorIs(t, err, ErrUpstream)

	stored, err := accounts.GetByEmail(context.Background(), "jet@bebop.io")
	require.NoError(t, err)
	assert.Nil(t, stored)
}

func TestLogin(t *testing.T) {
	provider := &fakeProvider{session: &auth.Session{AccessToken: "tok"}}
	svc := NewAccountService(provider, fakeVerifier{}, repository.NewAccountRepository(newTestDB(t)))

	res, err := svc.Login(context.Background(), "a@b.co", "pw")
	require.NoError(t, err)
	assert.Equal(t, AuthResult{Message: MsgLoginSuccess, AccessToken: "tok"}, *res)

	provider.signInErr = auth.ErrInvalidCredentials
	res, err = svc.Login(context.Background(), "a@b.co", "bad")
	require.NoError(t, err)
	assert.Equal(t, MsgEmailNotFound, res.Message)
	assert.Empty(t, res.AccessToken)

	provider.signInErr = errors.New("timeout")
	_, err = svc.Login(context.Background(), "a@b.co", "pw")
	assert.ErrorIs(t, err, ErrUpstream)
}

func TestLogout(t *testing.T) {
	provider := &fakeProvider{}
	svc := NewAccountService(provider, fakeVerifier{}, repository.NewAccountRepository(newTestDB(t)))

	res, err := svc.Logout(context.Background(), "")
	require.NoError(t, err)
	assert.Equal(t, MsgLogoutSuccess, res.Message)
	assert.Empty(t, provider.signedOut)

	provider.signOutErr = auth.ErrUnauthorized
	_, err = svc.Logout(context.Background(), "stale")
	require.NoError(t, err)
	assert.Equal(t, []string{"stale"}, provider.signedOut)
}

func TestHome(t *testing.T) {
	ctx := context.Background()
	accounts := repository.NewAccountRepository(newTestDB(t))
	require.NoError(t, accounts.Create(ctx, &domain.Account{Name: "Ed", Email: "ed@bebop.io"}))
	verifier := fakeVerifier{
		"known":   {UserID: "u1", Email: "ED@bebop.io"},
		"unknown": {UserID: "u2", Email: "ein@bebop.io"},
	}
	svc := NewAccountService(&fakeProvider{}, verifier, accounts)

	for token, want := range map[string]string{
		"":        auth.MsgNotAuthenticated,
		"expired": auth.MsgNotAuthenticated,
		"known":   MsgLoggedIn,
		"unknown": MsgNotSignedUp,
	} {
		res, err := svc.Home(ctx, token)
		require.NoError(t, err, token)
		assert.Equal(t, want, res.Message, token)
	}
}

func TestDeleteAccount(t *testing.T) {
	ctx := context.Background()
	db := newTestDB(t)
	accounts := repository.NewAccountRepository(db)
	require.NoError(t, accounts.Create(ctx, &domain.Account{Email: "vicious@redragon.io"}))
	provider := &fakeProvider{}
	svc := NewAccountService(provider, fakeVerifier{}, accounts)

	res, err := svc.Delete(ctx, &auth.Identity{UserID: "u9", Email: "vicious@redragon.io"})
	require.NoError(t, err)
	assert.Equal(t, MsgAccountDeleted, res.Message)
	assert.Equal(t, []string{"u9"}, provider.deletedUIDs)

	stored, err := accounts.GetByEmail(ctx, "vicious@redragon.io")
	require.NoError(t, err)
	assert.Nil(t, stored)
}
