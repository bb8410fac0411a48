package handler

import (
	"context"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/coaching-rank-api/internal/dto"
	"github.com/noah-isme/coaching-rank-api/internal/middleware"
	"github.com/noah-isme/coaching-rank-api/internal/models"
	appErrors "github.com/noah-isme/coaching-rank-api/pkg/errors"
	"github.com/noah-isme/coaching-rank-api/pkg/response"
)

type dashboardService interface {
	Summary(ctx context.Context, stream models.Stream) (*dto.DashboardResponse, bool, error)
}

// DashboardHandler wires dashboard service to HTTP endpoints.
type DashboardHandler struct {
	service dashboardService
}

// NewDashboardHandler constructs the handler.
func NewDashboardHandler(service dashboardService) *DashboardHandler {
	return &DashboardHandler{service: service}
}

// Summary godoc
// @Summary Dashboard summary
// @Description Totals, category distribution, top performers, students needing attention and most improved.
// @Tags Dashboard
// @Produce json
// @Security BearerAuth
// @Param stream query string false "Medical or Non-Medical"
// @Success 200 {object} response.Envelope
// @Router /dashboard [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	if h.service == nil {
		response.Error(c, appErrors.ErrInternal)
		return
	}
	start := time.Now()
	summary, cacheHit, err := h.service.Summary(c.Request.Context(), models.Stream(c.Query("stream")))
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cacheHit)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ResponseMeta(c, start))
}
