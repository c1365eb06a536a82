package middleware

import (
	"crypto/subtle"
	"errors"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/logger"
)

const identityKey = "identity"

// Token returns the access token from the session cookie, falling back to an
// Authorization: Bearer header.
func Token(c *gin.Context, cookieName string) string {
	if v, err := c.Cookie(cookieName); err == nil && v != "" {
		return v
	}
	h := c.GetHeader("Authorization")
	if len(h) > 7 && strings.EqualFold(h[:7], "bearer ") {
		return strings.TrimSpace(h[7:])
	}
	return ""
}

// RequireAuth verifies the access token and stores the identity on the context.
func RequireAuth(verifier auth.TokenVerifier, cookieName string) gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		id, err := verifier.Verify(ctx, Token(c, cookieName))
		if err != nil {
			if !errors.Is(err, auth.ErrUnauthorized) {
				// Remote verification failed for another reason
				GetLogger(c).WithError(err).Warn("Token verification failed")
			}
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"message": auth.MsgNotAuthenticated})
			return
		}

		c.Request = c.Request.WithContext(logger.SetUserID(ctx, id.UserID))
		c.Set(identityKey, id)
		c.Next()
	}
}

// Identity returns the identity stored by RequireAuth.
func Identity(c *gin.Context) (*auth.Identity, bool) {
	v, ok := c.Get(identityKey)
	if !ok {
		return nil, false
	}
	id, ok := v.(*auth.Identity)
	return id, ok
}

// AdminToken guards operator endpoints with a shared secret in X-Admin-Token.
func AdminToken(token string) gin.HandlerFunc {
	expected := []byte(token)
	return func(c *gin.Context) {
		got := []byte(c.GetHeader("X-Admin-Token"))
		if len(expected) == 0 || subtle.ConstantTimeCompare(got, expected) != 1 {
			c.AbortWithStatusJSON(http.StatusUnauthorized, gin.H{"error": "invalid admin token"})
			return
		}
		c.Next()
	}
}
