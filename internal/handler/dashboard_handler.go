package handler

import (
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/opsmon-dev/cmo-ops-api/internal/middleware"
	"github.com/opsmon-dev/cmo-ops-api/internal/service"
	"github.com/opsmon-dev/cmo-ops-api/pkg/response"
)

// DashboardHandler exposes the aggregated summary endpoint.
type DashboardHandler struct {
	service *service.DashboardService
}

// NewDashboardHandler creates a dashboard handler.
func NewDashboardHandler(svc *service.DashboardService) *DashboardHandler {
	return &DashboardHandler{service: svc}
}

// Summary godoc
// @Summary Operations dashboard summary
// @Description Aggregated counters across notes, detections, reviews and maintenance
// @Tags Dashboard
// @Produce json
// @Success 200 {object} response.Envelope
// @Router /dashboard/summary [get]
func (h *DashboardHandler) Summary(c *gin.Context) {
	summary, cached, err := h.service.Summary(c.Request.Context())
	if err != nil {
		response.Error(c, err)
		return
	}
	middleware.SetCacheHit(c, cached)
	response.JSON(c, http.StatusOK, summary, nil, middleware.ExtractMeta(c))
}
