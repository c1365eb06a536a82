package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/timmy/animerec/internal/domain"
)

// Recommender answers free-text anime queries.
type Recommender interface {
	Recommend(ctx context.Context, query string) (*domain.RecommendationResponse, error)
}

// RecommendationHandler handles the recommendation endpoints.
type RecommendationHandler struct {
	recommender Recommender
}

func NewRecommendationHandler(recommender Recommender) *RecommendationHandler {
	return &RecommendationHandler{recommender: recommender}
}

type RecommendRequest struct {
	Query string `json:"query" binding:"required"`
}

// RecommendResponse is the full answer of /api/v1/recommendations.
type RecommendResponse struct {
	Query           string                  `json:"query"`
	Message         string                  `json:"message"`
	Recommendations []domain.Recommendation `json:"recommendations"`
}

// Recommend handles POST /api/anime/recommendation and returns the bare list.
func (h *RecommendationHandler) Recommend(c *gin.Context) {
	resp, ok := h.recommend(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, resp.Recommendations)
}

// RecommendV1 handles POST /api/v1/recommendations.
func (h *RecommendationHandler) RecommendV1(c *gin.Context) {
	resp, ok := h.recommend(c)
	if !ok {
		return
	}
	c.JSON(http.StatusOK, resp)
}

func (h *RecommendationHandler) recommend(c *gin.Context) (*RecommendResponse, bool) {
	var req RecommendRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		bindError(c, err)
		return nil, false
	}

	out, err := h.recommender.Recommend(c.Request.Context(), req.Query)
	if err != nil {
		writeError(c, err)
		return nil, false
	}
	return &RecommendResponse{
		Query:           req.Query,
		Message:         out.Message,
		Recommendations: out.Recommendations,
	}, true
}
