package handler

import (
	"context"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/timmy/animerec/internal/api/middleware"
	"github.com/timmy/animerec/internal/auth"
	"github.com/timmy/animerec/internal/domain"
)

// ViewTracker records and lists anime views.
type ViewTracker interface {
	RecordView(ctx context.Context, id *auth.Identity, title, genre string) error
	ListViews(ctx context.Context, id *auth.Identity, limit int) ([]domain.ViewedAnime, error)
}

// AnimeHandler handles view tracking endpoints.
type AnimeHandler struct {
	views ViewTracker
}

func NewAnimeHandler(views ViewTracker) *AnimeHandler {
	return &AnimeHandler{views: views}
}

type GetAnimeRequest struct {
	Title string `json:"title" binding:"required"`
	Genre string `json:"genre"`
}

// GetAnime handles POST /api/anime/getAnime.
func (h *AnimeHandler) GetAnime(c *gin.Context) {
	var req GetAnimeRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return
	}
	id, _ := middleware.Identity(c)

	if err := h.views.RecordView(c.Request.Context(), id, req.Title, req.Genre); err != nil {
		writeError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"message": "Anime viewed successfully"})
}

// History handles GET /api/anime/history?limit=N.
func (h *AnimeHandler) History(c *gin.Context) {
	limit := 0
	if v := c.Query("limit"); v != "" {
		n, err := strconv.Atoi(v)
		if err != nil || n < 1 || n > 100 {
			c.JSON(http.StatusBadRequest, gin.H{"error": "limit must be between 1 and 100"})
			return
		}
		limit = n
	}
	id, _ := middleware.Identity(c)

	views, err := h.views.ListViews(c.Request.Context(), id, limit)
	if err != nil {
		writeError(c, err)
		return
	}
	if views == nil {
		views = []domain.ViewedAnime{}
	}
	c.JSON(http.StatusOK, gin.H{"views": views, "total": len(views)})
}
