package handler

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coaching-rank-api/internal/middleware"
	"github.com/noah-isme/coaching-rank-api/internal/models"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
	"github.com/noah-isme/coaching-rank-api/pkg/response"
)

const defaultLeaderboardLimit = 10

type rankingService interface {
	Leaderboard(ctx context.Context, filter models.LeaderboardFilter) ([]models.LeaderboardEntry, bool, error)
	Distribution(ctx context.Context, stream models.Stream) (*models.CategoryDistribution, error)
	RecalculateAll(ctx context.Context) (*models.RecomputeSummary, error)
	Preview(score float64) (*models.CategoryPreview, error)
}

// RankingHandler serves the leaderboard and category endpoints.
type RankingHandler struct {
	ranking rankingService
}

// NewRankingHandler constructs RankingHandler.
func NewRankingHandler(ranking rankingService) *RankingHandler {
	return &RankingHandler{ranking: ranking}
}

// Leaderboard godoc
// @Summary Leaderboard
// @Description Ranked students ordered by current rank. Served from cache when enabled.
// @Tags Rankings
// @Produce json
// @Security BearerAuth
// @Param limit query int false "Number of entries, default 10"
// @Param stream query string false "Medical or Non-Medical"
// @Param batch query string false "Batch"
// @Param category query string false "Best, Medium or Worst"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /rankings [get]
func (h *RankingHandler) Leaderboard(c *gin.Context) {
	start := time.Now()
	limit, err := queryInt(c, "limit", defaultLeaderboardLimit)
	if err != nil {
		response.Error(c, err)
		return
	}
	filter := models.LeaderboardFilter{
		Stream:   models.Stream(c.Query("stream")),
		Batch:    strings.TrimSpace(c.Query("batch")),
		Category: models.Category(c.Query("category")),
		Limit:    limit,
	}
	entries, hit, err := h.ranking.Leaderboard(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, hit)
	response.JSON(c, http.StatusOK, entries, nil, middleware.ResponseMeta(c, start))
}

// Distribution godoc
// @Summary Category distribution
// @Tags Rankings
// @Produce json
// @Security BearerAuth
// @Param stream query string false "Medical or Non-Medical"
// @Success 200 {object} response.Envelope
// @Router /rankings/distribution [get]
func (h *RankingHandler) Distribution(c *gin.Context) {
	dist, err := h.ranking.Distribution(c.Request.Context(), models.Stream(c.Query("stream")))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, dist)
}

// Recalculate godoc
// @Summary Recalculate categories
// @Description Re-ranks the whole population. Safe to repeat.
// @Tags Rankings
// @Produce json
// @Security BearerAuth
// @Success 200 {object} response.Envelope
// @Router /rankings/recalculate [post]
func (h *RankingHandler) Recalculate(c *gin.Context) {
	summary, err := h.ranking.RecalculateAll(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil, map[string]interface{}{"duration_ms": summary.Duration.Milliseconds()})
}

// Preview godoc
// @Summary Category for a score
// @Tags Rankings
// @Produce json
// @Security BearerAuth
// @Param score query number true "Performance score between 0 and 100"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /rankings/preview [get]
func (h *RankingHandler) Preview(c *gin.Context) {
	score, err := queryFloat(c, "score")
	if err != nil {
		response.Error(c, err)
		return
	}
	if score == nil {
		response.Error(c, appErrors.Validation("score is required"))
		return
	}
	preview, err := h.ranking.Preview(*score)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.OK(c, preview)
}
