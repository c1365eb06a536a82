package middleware

import (
	"net/http"
	"slices"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/timmy/animerec/internal/config"
)

// CORS handles Cross-Origin Resource Sharing. Listed origins get credentialed
// responses so the session cookie travels with fetch(..., {credentials: "include"}).
// allow_all_origins or a "*" entry answers any other origin with a bare wildcard.
func CORS(cfg config.CORSConfig) gin.HandlerFunc {
	return func(c *gin.Context) {
		origin := c.Request.Header.Get("Origin")
		if origin == "" {
			c.Next()
			return
		}

		h := c.Writer.Header()
		h.Add("Vary", "Origin")
		switch {
		case IsOriginAllowed(origin, cfg):
			h.Set("Access-Control-Allow-Origin", origin)
			h.Set("Access-Control-Allow-Credentials", "true")
		case allowsAnyOrigin(cfg):
			// Browsers refuse credentials with a wildcard origin
			h.Set("Access-Control-Allow-Origin", "*")
		default:
			c.Next()
			return
		}

		h.Set("Access-Control-Allow-Headers", "Content-Type, Content-Length, Accept-Encoding, Authorization, Accept, Origin, Cache-Control, X-Requested-With, X-Request-ID, X-Admin-Token")
		h.Set("Access-Control-Allow-Methods", "GET, POST, DELETE, OPTIONS")
		h.Set("Access-Control-Expose-Headers", "Content-Length, X-Request-ID")

		if c.Request.Method == http.MethodOptions {
			c.AbortWithStatus(http.StatusNoContent)
			return
		}
		c.Next()
	}
}

// IsOriginAllowed reports whether origin may make credentialed requests. Only
// origins listed by name qualify; a "*" entry never grants credentials.
func IsOriginAllowed(origin string, cfg config.CORSConfig) bool {
	for _, allowed := range cfg.AllowedOrigins {
		if allowed != "*" && strings.EqualFold(origin, allowed) {
			return true
		}
	}
	return false
}

func allowsAnyOrigin(cfg config.CORSConfig) bool {
	return cfg.AllowAllOrigins || slices.Contains(cfg.AllowedOrigins, "*")
}
