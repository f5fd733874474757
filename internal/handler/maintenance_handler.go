package handler

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	"github.com/opsmon-dev/cmo-ops-api/internal/service"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
	"github.com/opsmon-dev/cmo-ops-api/pkg/response"
)

// MaintenanceHandler exposes maintenance activity and evidence endpoints.
type MaintenanceHandler struct {
	service   *service.MaintenanceService
	dashboard *service.DashboardService
}

// NewMaintenanceHandler creates a maintenance handler.
func NewMaintenanceHandler(svc *service.MaintenanceService, dashboard *service.DashboardService) *MaintenanceHandler {
	return &MaintenanceHandler{service: svc, dashboard: dashboard}
}

// List godoc
// @Summary List maintenance activities
// @Tags Maintenance
// @Produce json
// @Param page query int false "Page number"
// @Param page_size query int false "Page size"
// @Param status query string false "Status filter"
// @Param equipment query string false "Equipment filter"
// @Param technician_id query string false "Technician filter"
// @Success 200 {object} response.Envelope
// @Router /maintenance [get]
func (h *MaintenanceHandler) List(c *gin.Context) {
	var filter models.MaintenanceFilter

	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("page_size", "20")); err == nil {
		filter.PageSize = size
	}
	if status := c.Query("status"); status != "" {
		s := models.MaintenanceStatus(status)
		filter.Status = &s
	}
	filter.Equipment = c.Query("equipment")
	filter.TechnicianID = c.Query("technician_id")
	filter.DateFrom = parseDateQuery(c, "date_from")
	filter.DateTo = parseDateQuery(c, "date_to")
	filter.SortBy = c.Query("sort_by")
	filter.SortOrder = c.Query("sort_order")

	activities, pagination, err := h.service.List(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.JSON(c, http.StatusOK, activities, pagination)
}

// Get godoc
// @Summary Get maintenance activity
// @Tags Maintenance
// @Produce json
// @Param id path string true "Activity ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /maintenance/{id} [get]
func (h *MaintenanceHandler) Get(c *gin.Context) {
	activity, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, activity, nil)
}

// Create godoc
// @Summary Schedule maintenance activity
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param payload body service.CreateMaintenanceRequest true "Create payload"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /maintenance [post]
func (h *MaintenanceHandler) Create(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.CreateMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	activity, err := h.service.Create(c.Request.Context(), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context())
	}
	response.Created(c, activity)
}

// Update godoc
// @Summary Update maintenance activity
// @Tags Maintenance
// @Accept json
// @Produce json
// @Param id path string true "Activity ID"
// @Param payload body service.UpdateMaintenanceRequest true "Update payload"
// @Success 200 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /maintenance/{id} [put]
func (h *MaintenanceHandler) Update(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	var req service.UpdateMaintenanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}

	activity, err := h.service.Update(c.Request.Context(), c.Param("id"), req, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	if h.dashboard != nil {
		h.dashboard.Invalidate(c.Request.Context())
	}
	response.JSON(c, http.StatusOK, activity, nil)
}

// Delete godoc
// @Summary Delete maintenance activity
// @Tags Maintenance
// @Produce json
// @Param id path string true "Activity ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /maintenance/{id} [delete]
func (h *MaintenanceHandler) Delete(c *gin.Context) {
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

// UploadEvidence godoc
// @Summary Upload evidence photo
// @Tags Maintenance
// @Accept multipart/form-data
// @Produce json
// @Param id path string true "Activity ID"
// @Param caption formData string false "Photo caption"
// @Param file formData file true "Photo"
// @Success 201 {object} response.Envelope
// @Failure 400 {object} response.Envelope
// @Router /maintenance/{id}/evidence [post]
func (h *MaintenanceHandler) UploadEvidence(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "file is required"))
		return
	}
	src, err := fileHeader.Open()
	if err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open file"))
		return
	}
	defer src.Close()

	reader, ok := src.(io.ReadSeeker)
	if !ok {
		buf, readErr := io.ReadAll(src)
		if readErr != nil {
			response.Error(c, appErrors.Wrap(readErr, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to buffer file"))
			return
		}
		reader = bytes.NewReader(buf)
	}

	upload := service.EvidenceUpload{
		Filename: fileHeader.Filename,
		Size:     fileHeader.Size,
		MimeType: fileHeader.Header.Get("Content-Type"),
		Caption:  c.PostForm("caption"),
		Content:  reader,
	}
	photo, err := h.service.UploadEvidence(c.Request.Context(), c.Param("id"), upload, claims)
	if err != nil {
		response.Error(c, err)
		return
	}

	response.Created(c, photo)
}

// ListEvidence godoc
// @Summary List evidence photos
// @Tags Maintenance
// @Produce json
// @Param id path string true "Activity ID"
// @Success 200 {object} response.Envelope
// @Router /maintenance/{id}/evidence [get]
func (h *MaintenanceHandler) ListEvidence(c *gin.Context) {
	photos, err := h.service.ListEvidence(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, photos, nil)
}

// EvidenceURL godoc
// @Summary Signed evidence download URL
// @Tags Maintenance
// @Produce json
// @Param evidenceId path string true "Evidence ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /maintenance/evidence/{evidenceId}/url [get]
func (h *MaintenanceHandler) EvidenceURL(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	url, err := h.service.GetEvidenceURL(c.Request.Context(), c.Param("evidenceId"), claims)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"url": url}, nil)
}

// DownloadEvidence godoc
// @Summary Download evidence photo
// @Tags Maintenance
// @Produce octet-stream
// @Param evidenceId path string true "Evidence ID"
// @Param token query string true "Signed token"
// @Success 200 {file} binary
// @Failure 403 {object} response.Envelope
// @Router /maintenance/evidence/{evidenceId}/download [get]
func (h *MaintenanceHandler) DownloadEvidence(c *gin.Context) {
	token := c.Query("token")
	if strings.TrimSpace(token) == "" {
		response.Error(c, appErrors.Clone(appErrors.ErrValidation, "token is required"))
		return
	}

	result, err := h.service.DownloadEvidence(c.Request.Context(), c.Param("evidenceId"), token)
	if err != nil {
		response.Error(c, err)
		return
	}
	defer result.File.Close() //nolint:errcheck

	c.Header("Content-Disposition", fmt.Sprintf("attachment; filename=\"%s\"", result.Filename))
	c.Header("Cache-Control", "no-store")
	c.DataFromReader(http.StatusOK, result.SizeBytes, result.MimeType, result.File, nil)
}

// DeleteEvidence godoc
// @Summary Delete evidence photo
// @Tags Maintenance
// @Produce json
// @Param evidenceId path string true "Evidence ID"
// @Success 204 {object} response.Envelope
// @Failure 403 {object} response.Envelope
// @Router /maintenance/evidence/{evidenceId} [delete]
func (h *MaintenanceHandler) DeleteEvidence(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}

	if err := h.service.DeleteEvidence(c.Request.Context(), c.Param("evidenceId"), claims); err != nil {
		response.Error(c, err)
		return
	}
	response.NoContent(c)
}
