package service

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/domain"
	"github.com/timmy/animerec/internal/logger"
)

// Messages shown to the frontend.
const (
	MsgEmailTaken        = "Email already registered. Please login instead."
	MsgSignupSuccess     = "Signup successful"
	MsgSignupVerifyEmail = "Signup successful! Please check your email to verify your account before logging in."
	MsgLoginSuccess      = "Login successful"
	MsgEmailNotFound     = "Email not found. Please register"
	MsgLogoutSuccess     = "User logged out successfully"
	MsgLoggedIn          = "User logged in successfully"
	MsgNotSignedUp       = "User not signed up"
	MsgAccountDeleted    = "User deleted successfully"
)

// AuthProvider is the hosted auth server.
type AuthProvider interface {
	SignUp(ctx context.Context, email, password string) (*auth.SignUpResult, error)
	SignInWithPassword(ctx context.Context, email, password string) (*auth.Session, error)
	SignOut(ctx context.Context, accessToken string) error
	AdminDeleteUser(ctx context.Context, userID string) error
}

// AccountStore persists the local users rows.
type AccountStore interface {
	Create(ctx context.Context, account *domain.Account) error
	GetByEmail(ctx context.Context, email string) (*domain.Account, error)
	DeleteByEmail(ctx context.Context, email string) (bool, error)
}

// SignupInput is the registration form.
type SignupInput struct {
	Name     string
	Email    string
	Password string
	Gender   string
}

// AuthResult is what the account endpoints report back. AccessToken is set
// only when the provider issued a session.
type AuthResult struct {
	Message                   string
	AccessToken               string
	EmailVerificationRequired bool
}

// AccountService keeps the local users table in step with the auth provider.
type AccountService struct {
	provider AuthProvider
	verifier auth.TokenVerifier
	accounts AccountStore
}

func NewAccountService(provider AuthProvider, verifier auth.TokenVerifier, accounts AccountStore) *AccountService {
	return &AccountService{provider: provider, verifier: verifier, accounts: accounts}
}

// Signup registers the user with the provider and stores the profile row.
func (s *AccountService) Signup(ctx context.Context, in SignupInput) (*AuthResult, error) {
	email := normalizeEmail(in.Email)
	ctx = logger.SetComponent(ctx, "account")

	existing, err := s.accounts.GetByEmail(ctx, email)
	if err != nil {
		return nil, err
	}
	if existing != nil {
		return nil, auth.ErrEmailTaken
	}

	res, err := s.provider.SignUp(ctx, email, in.Password)
	if err != nil {
		return nil, providerErr(err)
	}

	account := &domain.Account{
		Name:      strings.TrimSpace(in.Name),
		Email:     email,
		Gender:    strings.TrimSpace(in.Gender),
		CreatedAt: time.Now(),
	}
	if err := s.accounts.Create(ctx, account); err != nil {
		return nil, err
	}
	logger.With(logger.Fields{logger.FieldUserID: res.User.ID, "verified": res.Session != nil}).Info(ctx, "Account created")

	if res.Session == nil {
		return &AuthResult{Message: MsgSignupVerifyEmail, EmailVerificationRequired: true}, nil
	}
	return &AuthResult{Message: MsgSignupSuccess, AccessToken: res.Session.AccessToken}, nil
}

// Login exchanges credentials for an access token. Rejected credentials are
// reported through the message, not as an error.
func (s *AccountService) Login(ctx context.Context, email, password string) (*AuthResult, error) {
	session, err := s.provider.SignInWithPassword(ctx, normalizeEmail(email), password)
	if errors.Is(err, auth.ErrInvalidCredentials) {
		return &AuthResult{Message: MsgEmailNotFound}, nil
	}
	if err != nil {
		return nil, providerErr(err)
	}
	return &AuthResult{Message: MsgLoginSuccess, AccessToken: session.AccessToken}, nil
}

// Logout revokes the session. Without a token there is nothing to revoke.
func (s *AccountService) Logout(ctx context.Context, token string) (*AuthResult, error) {
	if token == "" {
		return &AuthResult{Message: MsgLogoutSuccess}, nil
	}
	err := s.provider.SignOut(ctx, token)
	if err != nil && !errors.Is(err, auth.ErrUnauthorized) {
		return nil, providerErr(err)
	}
	return &AuthResult{Message: MsgLogoutSuccess}, nil
}

// Home reports whether the token belongs to a signed-up user.
func (s *AccountService) Home(ctx context.Context, token string) (*AuthResult, error) {
	if token == "" {
		return &AuthResult{Message: auth.MsgNotAuthenticated}, nil
	}
	id, err := s.verifier.Verify(ctx, token)
	if errors.Is(err, auth.ErrUnauthorized) {
		return &AuthResult{Message: auth.MsgNotAuthenticated}, nil
	}
	if err != nil {
		return nil, providerErr(err)
	}

	account, err := s.accounts.GetByEmail(ctx, normalizeEmail(id.Email))
	if err != nil {
		return nil, err
	}
	if account == nil {
		return &AuthResult{Message: MsgNotSignedUp}, nil
	}
	return &AuthResult{Message: MsgLoggedIn}, nil
}

// Delete removes the profile row and the provider user.
func (s *AccountService) Delete(ctx context.Context, id *auth.Identity) (*AuthResult, error) {
	ctx = logger.SetUserID(logger.SetComponent(ctx, "account"), id.UserID)

	removed, err := s.accounts.DeleteByEmail(ctx, normalizeEmail(id.Email))
	if err != nil {
		return nil, err
	}
	if err := s.provider.AdminDeleteUser(ctx, id.UserID); err != nil {
		return nil, providerErr(err)
	}
	logger.With(logger.Fields{"local_row": removed}).Info(ctx, "Account deleted")
	return &AuthResult{Message: MsgAccountDeleted}, nil
}

// providerErr keeps typed auth errors and marks everything else as upstream.
func providerErr(err error) error {
	if errors.Is(err, auth.ErrEmailTaken) || errors.Is(err, auth.ErrInvalidCredentials) || errors.Is(err, auth.ErrUnauthorized) {
		return err
	}
	return fmt.Errorf("%w: auth: %w", ErrUpstream, err)
}

func normalizeEmail(email string) string {
	return strings.ToLower(strings.TrimSpace(email))
}
