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

type reviewRepository interface {
	Create(ctx context.Context, review *models.Review) error
	FindByID(ctx context.Context, id string) (*models.Review, error)
	List(ctx context.Context, filter models.ReviewFilter) ([]models.Review, int, error)
	Update(ctx context.Context, review *models.Review) error
	Delete(ctx context.Context, id string) error
}

// CreateReviewRequest is the payload for recording an area review.
type CreateReviewRequest struct {
	Title      string               `json:"title" validate:"required"`
	Area       string               `json:"area" validate:"required"`
	Shift      models.ReviewShift   `json:"shift" validate:"required,oneof=DAY NIGHT"`
	ReviewedAt time.Time            `json:"reviewed_at" validate:"required"`
	OperatorID string               `json:"operator_id" validate:"required"`
	Outcome    models.ReviewOutcome `json:"outcome" validate:"required,oneof=OK OBSERVATION INCIDENT"`
	Notes      string               `json:"notes"`
}

// UpdateReviewRequest carries partial updates for a review.
type UpdateReviewRequest struct {
	Title      *string               `json:"title"`
	Area       *string               `json:"area"`
	Shift      *models.ReviewShift   `json:"shift" validate:"omitempty,oneof=DAY NIGHT"`
	ReviewedAt *time.Time            `json:"reviewed_at"`
	Outcome    *models.ReviewOutcome `json:"outcome" validate:"omitempty,oneof=OK OBSERVATION INCIDENT"`
	Notes      *string               `json:"notes"`
}

// ReviewService manages operator review records.
type ReviewService struct {
	repo      reviewRepository
	validator *validator.Validate
	logger    *zap.Logger
}

// NewReviewService creates a ReviewService.
func NewReviewService(repo reviewRepository, validate *validator.Validate, logger *zap.Logger) *ReviewService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ReviewService{repo: repo, validator: validate, logger: logger}
}

// List returns reviews matching the filter with pagination metadata.
func (s *ReviewService) List(ctx context.Context, filter models.ReviewFilter) ([]models.Review, *models.Pagination, error) {
	reviews, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list reviews")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return reviews, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a single review.
func (s *ReviewService) Get(ctx context.Context, id string) (*models.Review, error) {
	review, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load review")
	}
	return review, nil
}

// Create records a new review.
func (s *ReviewService) Create(ctx context.Context, req CreateReviewRequest, actor *models.JWTClaims) (*models.Review, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canWrite(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	review := &models.Review{
		ID:         uuid.NewString(),
		Title:      req.Title,
		Area:       req.Area,
		Shift:      req.Shift,
		ReviewedAt: req.ReviewedAt,
		OperatorID: req.OperatorID,
		Outcome:    req.Outcome,
		Notes:      req.Notes,
		CreatedBy:  actor.UserID,
	}
	if err := s.repo.Create(ctx, review); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create review")
	}
	return review, nil
}

// Update applies partial changes to a review.
func (s *ReviewService) Update(ctx context.Context, id string, req UpdateReviewRequest, actor *models.JWTClaims) (*models.Review, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canWrite(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid review payload")
	}

	review, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if req.Title != nil {
		review.Title = *req.Title
	}
	if req.Area != nil {
		review.Area = *req.Area
	}
	if req.Shift != nil {
		review.Shift = *req.Shift
	}
	if req.ReviewedAt != nil {
		review.ReviewedAt = *req.ReviewedAt
	}
	if req.Outcome != nil {
		review.Outcome = *req.Outcome
	}
	if req.Notes != nil {
		review.Notes = *req.Notes
	}

	if err := s.repo.Update(ctx, review); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update review")
	}
	return review, nil
}

// Delete removes a review. Admin only.
func (s *ReviewService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "review not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete review")
	}
	return nil
}
