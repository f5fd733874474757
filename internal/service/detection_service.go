package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
)

type detectionRepository interface {
	Create(ctx context.Context, det *models.Detection) error
	FindByID(ctx context.Context, id string) (*models.Detection, error)
	List(ctx context.Context, filter models.DetectionFilter) ([]models.Detection, int, error)
	Update(ctx context.Context, det *models.Detection) error
	UpdateStatus(ctx context.Context, id string, status models.DetectionStatus, actorID string, at time.Time) (bool, error)
	Delete(ctx context.Context, id string) error
}

// CreateDetectionRequest is the payload for registering a detection.
type CreateDetectionRequest struct {
	Source      models.DetectionSource   `json:"source" validate:"required,oneof=CAMERA SENSOR PATROL REPORT"`
	Severity    models.DetectionSeverity `json:"severity" validate:"required,oneof=CRITICAL HIGH MEDIUM LOW"`
	DetectedAt  time.Time                `json:"detected_at" validate:"required"`
	Location    string                   `json:"location" validate:"required"`
	Description string                   `json:"description"`
}

// UpdateDetectionRequest carries partial updates. Status moves through
// UpdateStatus, not here.
type UpdateDetectionRequest struct {
	Source      *models.DetectionSource   `json:"source" validate:"omitempty,oneof=CAMERA SENSOR PATROL REPORT"`
	Severity    *models.DetectionSeverity `json:"severity" validate:"omitempty,oneof=CRITICAL HIGH MEDIUM LOW"`
	DetectedAt  *time.Time                `json:"detected_at"`
	Location    *string                   `json:"location"`
	Description *string                   `json:"description"`
	Status      *models.DetectionStatus   `json:"status" validate:"omitempty,oneof=OPEN IN_REVIEW RESOLVED DISCARDED"`
}

// DetectionService manages incident detections and their triage lifecycle.
type DetectionService struct {
	repo      detectionRepository
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewDetectionService creates a DetectionService.
func NewDetectionService(repo detectionRepository, validate *validator.Validate, logger *zap.Logger) *DetectionService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &DetectionService{repo: repo, validator: validate, logger: logger, now: time.Now}
}

// List returns detections matching the filter with pagination metadata.
func (s *DetectionService) List(ctx context.Context, filter models.DetectionFilter) ([]models.Detection, *models.Pagination, error) {
	detections, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list detections")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return detections, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a single detection.
func (s *DetectionService) Get(ctx context.Context, id string) (*models.Detection, error) {
	det, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "detection not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load detection")
	}
	return det, nil
}

// Create registers a new detection in OPEN status.
func (s *DetectionService) Create(ctx context.Context, req CreateDetectionRequest, actor *models.JWTClaims) (*models.Detection, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canWrite(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid detection payload")
	}

	det := &models.Detection{
		ID:          uuid.NewString(),
		Source:      req.Source,
		Severity:    req.Severity,
		Status:      models.DetectionStatusOpen,
		DetectedAt:  req.DetectedAt,
		Location:    req.Location,
		Description: req.Description,
		CreatedBy:   actor.UserID,
	}
	if err := s.repo.Create(ctx, det); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create detection")
	}
	return det, nil
}

// Update applies partial changes. Content edits on a closed detection are
// rejected, mirroring handoff finalization rules.
func (s *DetectionService) Update(ctx context.Context, id string, req UpdateDetectionRequest, actor *models.JWTClaims) (*models.Detection, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canWrite(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid detection payload")
	}

	det, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}

	contentChanged := req.Source != nil || req.Severity != nil || req.DetectedAt != nil || req.Location != nil || req.Description != nil
	if contentChanged && det.Status.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrFinalized, "detection is closed")
	}
	if req.Source != nil {
		det.Source = *req.Source
	}
	if req.Severity != nil {
		det.Severity = *req.Severity
	}
	if req.DetectedAt != nil {
		det.DetectedAt = *req.DetectedAt
	}
	if req.Location != nil {
		det.Location = *req.Location
	}
	if req.Description != nil {
		det.Description = *req.Description
	}
	if contentChanged {
		if err := s.repo.Update(ctx, det); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update detection")
		}
	}

	if req.Status != nil && *req.Status != det.Status {
		if err := s.changeDetectionStatus(ctx, det, *req.Status, actor); err != nil {
			return nil, err
		}
		return s.Get(ctx, id)
	}
	return det, nil
}

// changeDetectionStatus applies the transition with a conditional update so a
// concurrent close cannot be overwritten.
func (s *DetectionService) changeDetectionStatus(ctx context.Context, det *models.Detection, target models.DetectionStatus, actor *models.JWTClaims) error {
	if det.Status.IsTerminal() {
		return appErrors.Clone(appErrors.ErrFinalized, "detection already closed")
	}
	applied, err := s.repo.UpdateStatus(ctx, det.ID, target, actor.UserID, s.now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to change detection status")
	}
	if !applied {
		return appErrors.Clone(appErrors.ErrFinalized, "detection was closed concurrently")
	}
	if target.IsTerminal() {
		s.logger.Info("detection closed",
			zap.String("detection_id", det.ID),
			zap.String("status", string(target)),
			zap.String("actor_id", actor.UserID))
	}
	return nil
}

// Delete removes a detection. Admin only.
func (s *DetectionService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "detection not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete detection")
	}
	return nil
}
