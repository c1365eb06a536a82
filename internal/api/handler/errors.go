package handler

import (
	"context"
	"errors"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/service"
)

// writeError maps service errors onto status codes. Unexpected errors are
// logged and hidden from the client.
func writeError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, context.Canceled):
		c.Status(499)
	case errors.Is(err, service.ErrEmptyQuery), errors.Is(err, service.ErrMissingTitle):
		c.JSON(http.StatusBadRequest, gin.H{"error": err.Error()})
	case errors.Is(err, auth.ErrEmailTaken):
		c.JSON(http.StatusBadRequest, gin.H{"message": service.MsgEmailTaken})
	case errors.Is(err, auth.ErrUnauthorized):
		c.JSON(http.StatusUnauthorized, gin.H{"message": auth.MsgNotAuthenticated})
	case errors.Is(err, service.ErrAccountNotFound):
		c.JSON(http.StatusNotFound, gin.H{"message": service.MsgNotSignedUp})
	case errors.Is(err, service.ErrIndexEmpty):
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "Recommendations are unavailable until the catalogue has been indexed"})
	case errors.Is(err, service.ErrUpstream):
		_ = c.Error(err)
		c.JSON(http.StatusBadGateway, gin.H{"error": "An upstream service failed, please try again"})
	default:
		_ = c.Error(err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "Internal server error"})
	}
}

func bindError(c *gin.Context, err error) {
	c.JSON(http.StatusBadRequest, gin.H{"error": "Invalid request: " + err.Error()})
}
