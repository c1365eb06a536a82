package middleware

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/google/uuid"

	"github.com/timmy/animerec/internal/logger"
)

const (
	requestIDHeader = "X-Request-ID"
	loggerKey       = "logger"
)

// quietPaths are logged at debug level only.
var quietPaths = map[string]bool{
	"/health":  true,
	"/metrics": true,
}

// Logger injects a request-scoped logger and logs every completed request.
// An incoming X-Request-ID is reused so traces line up with the caller's.
func Logger() gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path

		requestID := c.GetHeader(requestIDHeader)
		if requestID == "" || len(requestID) > 64 {
			requestID = uuid.NewString()
		}

		ctx := logger.WithFields(c.Request.Context(), logger.Fields{
			logger.FieldRequestID: requestID,
			logger.FieldComponent: "api",
		})
		c.Request = c.Request.WithContext(ctx)
		c.Set(loggerKey, logger.FromContext(ctx))
		c.Header(requestIDHeader, requestID)

		c.Next()

		// Handlers may have added fields such as the user id.
		ctx = c.Request.Context()
		status := c.Writer.Status()
		fullPath := path
		if q := c.Request.URL.RawQuery; q != "" {
			fullPath += "?" + q
		}

		entry := logger.With(logger.Fields{
			logger.FieldStatus:     status,
			logger.FieldDurationMs: time.Since(start).Milliseconds(),
			logger.FieldSize:       c.Writer.Size(),
			"client_ip":            c.ClientIP(),
		})
		switch {
		case len(c.Errors) > 0 || status >= 500:
			entry.Error(ctx, "Request failed: method=%s, path=%s, errors=%s", c.Request.Method, fullPath, c.Errors.String())
		case status >= 400:
			entry.Warn(ctx, "Request completed: method=%s, path=%s", c.Request.Method, fullPath)
		case quietPaths[path]:
			entry.Debug(ctx, "Request completed: method=%s, path=%s", c.Request.Method, fullPath)
		default:
			entry.Info(ctx, "Request completed: method=%s, path=%s", c.Request.Method, fullPath)
		}
	}
}

// GetLogger returns the request-scoped logger.
func GetLogger(c *gin.Context) *logger.Logger {
	if l, exists := c.Get(loggerKey); exists {
		if log, ok := l.(*logger.Logger); ok {
			return log
		}
	}
	return logger.FromContext(c.Request.Context())
}
