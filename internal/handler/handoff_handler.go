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

// HandoffHandler exposes the shift handoff note endpoints.
type HandoffHandler struct {
	service   *service.HandoffService
	dashboard *service.DashboardService
}

// NewHandoffHandler creates a handoff handler.
func NewHandoffHandler(svc *service.HandoffService, dashboard *service.DashboardService) *HandoffHandler {
	return &HandoffHandler{service: svc, dashboard: dashboard}
}

func (h *HandoffHandler) invalidateDashboard(c *gin.Context) {
	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context())
	}
}

// List godoc
// @Summary List handoff notes
// @Description List handoff notes with filtering and pagination
// @Tags Handoff
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter"
// @Param type query string false "Type filter"
// @Param priority query string false "Priority filter"
// @Param search query string false "Search term"
// @Success 200 {object} response.Envelope
// @Router /handoff-notes [get]
func (h *HandoffHandler) List(c *gin.Context) {
	var filter models.HandoffNoteFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if status := c.Query("status"); status != "" {
		s := models.HandoffNoteStatus(status)
		filter.Status = &s
	}
	if noteType := c.Query("type"); noteType != "" {
		t := models.HandoffNoteType(noteType)
		filter.Type = &t
	}
	if priority := c.Query("priority"); priority != "" {
		p := models.HandoffNotePriority(priority)
		filter.Priority = &p
	}
	filter.Search = c.Query("search")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	notes, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, notes, pagination)
}

// Get godoc
// @Summary Get handoff note
// @Description Get a handoff note with its acknowledgement roster
// @Tags Handoff
// @Produce json
// @Param id path string true "Note ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /handoff-notes/{id} [get]
func (h *HandoffHandler) Get(c *gin.Context) {
	note, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, note, nil)
}

// Create godoc
// @Summary Create handoff note
// @Tags Handoff
// @Accept json
// @Produce json
// @Param payload body service.CreateHandoffNoteRequest true "Create payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /handoff-notes [post]
func (h *HandoffHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateHandoffNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	note, err := h.service.Create(c.Request.Context(), claims, req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.invalidateDashboard(c)
	response.Created(c, note)
}

// Update godoc
// @Summary Update handoff note
// @Description Update content or move the note through its lifecycle
// @Tags Handoff
// @Accept json
// @Produce json
// @Param id path string true "Note ID"
// @Param payload body service.UpdateHandoffNoteRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /handoff-notes/{id} [put]
func (h *HandoffHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateHandoffNoteRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	note, err := h.service.Update(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.invalidateDashboard(c)
	response.JSON(c, http.StatusOK, note, nil)
}

// Delete godoc
// @Summary Delete handoff note
// @Description Delete a note and its acknowledgements
// @Tags Handoff
// @Produce json
// @Param id path string true "Note ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /handoff-notes/{id} [delete]
func (h *HandoffHandler) Delete(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.Delete(c.Request.Context(), claims, c.Param("id")); err != nil {
		response.Error(c, err)
		return
	}

	h.invalidateDashboard(c)
	response.NoContent(c)
}

// ListAcknowledgements godoc
// @Summary Acknowledgement roster
// @Description Current roster of active coordinators with their flags
// @Tags Handoff
// @Produce json
// @Param id path string true "Note ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /handoff-notes/{id}/acknowledgements [get]
func (h *HandoffHandler) ListAcknowledgements(c *gin.Context) {
	statuses, err := h.service.ListAcknowledgements(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, statuses, nil)
}

// SetAcknowledgement godoc
// @Summary Set acknowledgement flag
// @Description Toggle a coordinator's acknowledgement on a note
// @Tags Handoff
// @Accept json
// @Produce json
// @Param id path string true "Note ID"
// @Param payload body service.SetAcknowledgementRequest true "Acknowledgement payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /handoff-notes/{id}/acknowledgements [put]
func (h *HandoffHandler) SetAcknowledgement(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.SetAcknowledgementRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	statuses, err := h.service.SetAcknowledgement(c.Request.Context(), claims, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}

	h.invalidateDashboard(c)
	response.JSON(c, http.StatusOK, statuses, nil)
}
