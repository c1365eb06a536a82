package auth

import (
	"context"
	"fmt"

	"github.com/golang-jwt/jwt/v5"
)

// MsgNotAuthenticated is shown to clients whose access token is missing or rejected.
const MsgNotAuthenticated = "User not authenticated"

// Identity is who an access token belongs to.
type Identity struct {
	UserID string
	Email  string
}

// TokenVerifier resolves access tokens to identities.
type TokenVerifier interface {
	Verify(ctx context.Context, token string) (*Identity, error)
}

// Claims are the fields of a Supabase access token this service reads.
type Claims struct {
	Email string `json:"email"`
	Role  string `json:"role"`
	jwt.RegisteredClaims
}

// TokenAudience is the aud claim Supabase puts on signed-in user tokens.
const TokenAudience = "authenticated"

// JWTVerifier checks HS256 tokens against the project's JWT secret.
type JWTVerifier struct {
	secret []byte
}

func NewJWTVerifier(secret string) *JWTVerifier {
	return &JWTVerifier{secret: []byte(secret)}
}

func (v *JWTVerifier) Verify(_ context.Context, token string) (*Identity, error) {
	if token == "" {
		return nil, ErrUnauthorized
	}
	parsed, err := jwt.ParseWithClaims(token, &Claims{}, v.key,
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithExpirationRequired(),
		jwt.WithAudience(TokenAudience),
	)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrUnauthorized, err)
	}

	claims, ok := parsed.Claims.(*Claims)
	if !ok || !parsed.Valid || claims.Subject == "" {
		return nil, fmt.Errorf("%w: invalid token claims", ErrUnauthorized)
	}
	return &Identity{UserID: claims.Subject, Email: claims.Email}, nil
}

func (v *JWTVerifier) key(t *jwt.Token) (interface{}, error) {
	if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
		return nil, fmt.Errorf("unexpected signing method: %v", t.Header["alg"])
	}
	return v.secret, nil
}

// RemoteVerifier asks the provider about every token.
type RemoteVerifier struct {
	client *Client
}

func NewRemoteVerifier(client *Client) *RemoteVerifier {
	return &RemoteVerifier{client: client}
}

func (v *RemoteVerifier) Verify(ctx context.Context, token string) (*Identity, error) {
	user, err := v.client.GetUser(ctx, token)
	if err != nil {
		return nil, err
	}
	return &Identity{UserID: user.ID, Email: user.Email}, nil
}

// NewVerifier verifies locally when secret is set and remotely otherwise.
func NewVerifier(secret string, client *Client) TokenVerifier {
	if secret != "" {
		return NewJWTVerifier(secret)
	}
	return NewRemoteVerifier(client)
}
