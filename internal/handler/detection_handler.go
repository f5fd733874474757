package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	"github.com/opsmon-dev/cmo-ops-api/internal/service"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
	"github.com/opsmon-dev/cmo-ops-api/pkg/response"
)

// DetectionHandler exposes incident detection endpoints.
type DetectionHandler struct {
	service   *service.DetectionService
	dashboard *service.DashboardService
}

// NewDetectionHandler creates a detection handler.
func NewDetectionHandler(svc *service.DetectionService, dashboard *service.DashboardService) *DetectionHandler {
	return &DetectionHandler{service: svc, dashboard: dashboard}
}

// List godoc
// @Summary List detections
// @Tags Detections
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param source query string false "Source filter"
// @Param severity query string false "Severity filter"
// @Param status query string false "Status filter"
// @Param location query string false "Location filter"
// @Param date_from query string false "Start date"
// @Param date_to query string false "End date"
// @Success 200 {object} response.Envelope
// @Router /detections [get]
func (h *DetectionHandler) List(c *gin.Context) {
	var filter models.DetectionFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if source := c.Query("source"); source != "" {
		s := models.DetectionSource(source)
		filter.Source = &s
	}
	if severity := c.Query("severity"); severity != "" {
		s := models.DetectionSeverity(severity)
		filter.Severity = &s
	}
	if status := c.Query("status"); status != "" {
		s := models.DetectionStatus(status)
		filter.Status = &s
	}
	filter.Location = c.Query("location")
	filter.DateFrom = parseDateQuery(c, "date_from")
	filter.DateTo = parseDateQuery(c, "date_to")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	detections, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, detections, pagination)
}

// Get godoc
// @Summary Get detection
// @Tags Detections
// @Produce json
// @Param id path string true "Detection ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /detections/{id} [get]
func (h *DetectionHandler) Get(c *gin.Context) {
	det, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, det, nil)
}

// Create godoc
// @Summary Register detection
// @Tags Detections
// @Accept json
// @Produce json
// @Param payload body service.CreateDetectionRequest true "Create payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /detections [post]
func (h *DetectionHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	det, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context())
	}
	response.Created(c, det)
}

// Update godoc
// @Summary Update detection
// @Description Update content or move the detection through triage
// @Tags Detections
// @Accept json
// @Produce json
// @Param id path string true "Detection ID"
// @Param payload body service.UpdateDetectionRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /detections/{id} [put]
func (h *DetectionHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateDetectionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	det, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context())
	}
	response.JSON(c, http.StatusOK, det, nil)
}

// Delete godoc
// @Summary Delete detection
// @Tags Detections
// @Produce json
// @Param id path string true "Detection ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /detections/{id} [delete]
func (h *DetectionHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), c.Param("id"), claims); err != nil {
		response.Error(c, err)
		return
	}

	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context())
	}
	response.NoContent(c)
}
