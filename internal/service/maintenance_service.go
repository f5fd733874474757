package service

import (
	"context"
	"crypto/rand"
	"database/sql"
	"encoding/hex"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
)

type maintenanceRepository interface {
	Create(ctx context.Context, activity *models.MaintenanceActivity) error
	FindByID(ctx context.Context, id string) (*models.MaintenanceActivity, error)
	List(ctx context.Context, filter models.MaintenanceFilter) ([]models.MaintenanceActivity, int, error)
	Update(ctx context.Context, activity *models.MaintenanceActivity) error
	Delete(ctx context.Context, id string) error
	CreateEvidence(ctx context.Context, photo *models.EvidencePhoto) error
	FindEvidenceByID(ctx context.Context, id string) (*models.EvidencePhoto, error)
	ListEvidence(ctx context.Context, activityID string) ([]models.EvidencePhoto, error)
	DeleteEvidence(ctx context.Context, id string) error
}

type auditLogger interface {
	CreateAuditLog(ctx context.Context, log *models.AuditLog) error
}

type evidenceFileStorage interface {
	SaveStream(filename string, r io.Reader) (string, error)
	Open(filename string) (*os.File, error)
	Delete(filename string) error
}

type evidenceSignedURLSigner interface {
	Generate(id, relPath string) (string, time.Time, error)
	Parse(token string, allowExpired bool) (id, relPath string, expiresAt time.Time, err error)
}

// EvidenceUpload carries upload metadata and stream reader.
type EvidenceUpload struct {
	Filename string
	Size     int64
	MimeType string
	Caption  string
	Content  io.ReadSeeker
}

// EvidenceDownload bundles file reader metadata for streaming.
type EvidenceDownload struct {
	File      *os.File
	Filename  string
	MimeType  string
	SizeBytes int64
	ExpiresAt time.Time
}

// CreateMaintenanceRequest is the payload for scheduling an activity.
type CreateMaintenanceRequest struct {
	Title        string     `json:"title" validate:"required"`
	Equipment    string     `json:"equipment" validate:"required"`
	ScheduledFor time.Time  `json:"scheduled_for" validate:"required"`
	TechnicianID *string    `json:"technician_id"`
	Notes        string     `json:"notes"`
}

// UpdateMaintenanceRequest carries partial updates for an activity.
type UpdateMaintenanceRequest struct {
	Title        *string                   `json:"title"`
	Equipment    *string                   `json:"equipment"`
	ScheduledFor *time.Time                `json:"scheduled_for"`
	Status       *models.MaintenanceStatus `json:"status" validate:"omitempty,oneof=SCHEDULED IN_PROGRESS DONE CANCELLED"`
	TechnicianID *string                   `json:"technician_id"`
	Notes        *string                   `json:"notes"`
}

// MaintenanceServiceConfig holds upload validation parameters.
type MaintenanceServiceConfig struct {
	MaxFileSize  int64
	AllowedMIMEs []string
	APIPrefix    string
}

// MaintenanceService manages maintenance activities and photo evidence.
type MaintenanceService struct {
	repo      maintenanceRepository
	storage   evidenceFileStorage
	signer    evidenceSignedURLSigner
	audit     auditLogger
	validator *validator.Validate
	logger    *zap.Logger
	cfg       MaintenanceServiceConfig
	mimeSet   map[string]struct{}
}

// NewMaintenanceService constructs the service with defaults.
func NewMaintenanceService(repo maintenanceRepository, storage evidenceFileStorage, signer evidenceSignedURLSigner, audit auditLogger, validate *validator.Validate, logger *zap.Logger, cfg MaintenanceServiceConfig) *MaintenanceService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	if cfg.MaxFileSize <= 0 {
		cfg.MaxFileSize = 5 * 1024 * 1024
	}
	if len(cfg.AllowedMIMEs) == 0 {
		cfg.AllowedMIMEs = []string{"image/jpeg", "image/png", "image/webp"}
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	mimeSet := make(map[string]struct{}, len(cfg.AllowedMIMEs))
	for _, mt := range cfg.AllowedMIMEs {
		mimeSet[strings.ToLower(mt)] = struct{}{}
	}
	return &MaintenanceService{
		repo:      repo,
		storage:   storage,
		signer:    signer,
		audit:     audit,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		mimeSet:   mimeSet,
	}
}

func canMaintain(actor *models.JWTClaims) bool {
	return actor.Role == models.RoleAdmin || actor.Role == models.RoleTechnician
}

// List returns activities matching the filter with pagination metadata.
func (s *MaintenanceService) List(ctx context.Context, filter models.MaintenanceFilter) ([]models.MaintenanceActivity, *models.Pagination, error) {
	activities, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list maintenance activities")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 {
		pageSize = 20
	}
	return activities, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// Get returns a single activity.
func (s *MaintenanceService) Get(ctx context.Context, id string) (*models.MaintenanceActivity, error) {
	activity, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "maintenance activity not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load maintenance activity")
	}
	return activity, nil
}

// Create schedules a new activity.
func (s *MaintenanceService) Create(ctx context.Context, req CreateMaintenanceRequest, actor *models.JWTClaims) (*models.MaintenanceActivity, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canMaintain(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid maintenance payload")
	}

	activity := &models.MaintenanceActivity{
		ID:           uuid.NewString(),
		Title:        req.Title,
		Equipment:    req.Equipment,
		ScheduledFor: req.ScheduledFor,
		Status:       models.MaintenanceStatusScheduled,
		TechnicianID: req.TechnicianID,
		Notes:        req.Notes,
		CreatedBy:    actor.UserID,
	}
	if err := s.repo.Create(ctx, activity); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create maintenance activity")
	}
	return activity, nil
}

// Update applies partial changes. Technicians may only touch activities
// assigned to them.
func (s *MaintenanceService) Update(ctx context.Context, id string, req UpdateMaintenanceRequest, actor *models.JWTClaims) (*models.MaintenanceActivity, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canMaintain(actor) {
		return nil, appErrors.ErrForbidden
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid maintenance payload")
	}

	activity, err := s.Get(ctx, id)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleTechnician && (activity.TechnicianID == nil || *activity.TechnicianID != actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "activity is assigned to another technician")
	}

	if req.Title != nil {
		activity.Title = *req.Title
	}
	if req.Equipment != nil {
		activity.Equipment = *req.Equipment
	}
	if req.ScheduledFor != nil {
		activity.ScheduledFor = *req.ScheduledFor
	}
	if req.Status != nil {
		activity.Status = *req.Status
	}
	if req.TechnicianID != nil {
		activity.TechnicianID = req.TechnicianID
	}
	if req.Notes != nil {
		activity.Notes = *req.Notes
	}

	if err := s.repo.Update(ctx, activity); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update maintenance activity")
	}
	return activity, nil
}

// Delete removes an activity and soft deletes its evidence. Admin only.
func (s *MaintenanceService) Delete(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "maintenance activity not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete maintenance activity")
	}
	return nil
}

// UploadEvidence stores a photo for the activity and persists its metadata.
func (s *MaintenanceService) UploadEvidence(ctx context.Context, activityID string, upload EvidenceUpload, actor *models.JWTClaims) (*models.EvidencePhoto, error) {
	if actor == nil {
		return nil, appErrors.ErrUnauthorized
	}
	if !canMaintain(actor) {
		return nil, appErrors.ErrForbidden
	}
	activity, err := s.Get(ctx, activityID)
	if err != nil {
		return nil, err
	}
	if actor.Role == models.RoleTechnician && (activity.TechnicianID == nil || *activity.TechnicianID != actor.UserID) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "activity is assigned to another technician")
	}
	if upload.Content == nil || upload.Size <= 0 {
		return nil, appErrors.Clone(appErrors.ErrValidation, "file is required")
	}
	if upload.Size > s.cfg.MaxFileSize {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("file exceeds %d bytes limit", s.cfg.MaxFileSize))
	}
	mimeType, err := s.detectMime(upload.Content)
	if err != nil {
		return nil, err
	}
	if _, allowed := s.mimeSet[strings.ToLower(mimeType)]; !allowed {
		return nil, appErrors.Clone(appErrors.ErrValidation, "mime type not allowed")
	}

	filename := s.generateFilename(activity.ID, upload.Filename, mimeType)
	if _, err := upload.Content.Seek(0, io.SeekStart); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	path, err := s.storage.SaveStream(filename, upload.Content)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to persist evidence file")
	}

	photo := &models.EvidencePhoto{
		ID:         uuid.NewString(),
		ActivityID: activity.ID,
		FilePath:   path,
		MimeType:   mimeType,
		SizeBytes:  upload.Size,
		Caption:    upload.Caption,
		UploadedBy: actor.UserID,
	}
	if err := s.repo.CreateEvidence(ctx, photo); err != nil {
		_ = s.storage.Delete(path)
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create evidence metadata")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionEvidenceUpload,
		Resource:   "maintenance_evidence",
		ResourceID: &photo.ID,
		NewValues:  []byte(fmt.Sprintf(`{"activity_id":"%s","mime_type":"%s"}`, photo.ActivityID, photo.MimeType)),
	})
	return photo, nil
}

// ListEvidence returns the photos attached to an activity.
func (s *MaintenanceService) ListEvidence(ctx context.Context, activityID string) ([]models.EvidencePhoto, error) {
	if _, err := s.Get(ctx, activityID); err != nil {
		return nil, err
	}
	photos, err := s.repo.ListEvidence(ctx, activityID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list evidence")
	}
	return photos, nil
}

// GetEvidenceURL generates a signed download URL for a photo.
func (s *MaintenanceService) GetEvidenceURL(ctx context.Context, id string, actor *models.JWTClaims) (string, error) {
	if actor == nil {
		return "", appErrors.ErrUnauthorized
	}
	if s.signer == nil {
		return "", appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	photo, err := s.findEvidence(ctx, id)
	if err != nil {
		return "", err
	}
	token, _, err := s.signer.Generate(photo.ID, photo.FilePath)
	if err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to generate download token")
	}
	base := strings.TrimRight(s.cfg.APIPrefix, "/")
	return fmt.Sprintf("%s/maintenance/evidence/%s/download?token=%s", base, photo.ID, token), nil
}

// DownloadEvidence validates the token and opens the stored photo.
func (s *MaintenanceService) DownloadEvidence(ctx context.Context, id, token string) (*EvidenceDownload, error) {
	if s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "download signer unavailable")
	}
	photo, err := s.findEvidence(ctx, id)
	if err != nil {
		return nil, err
	}
	photoID, relPath, expiresAt, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "invalid or expired token")
	}
	if photoID != photo.ID || relPath != photo.FilePath {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "token mismatch")
	}
	file, err := s.storage.Open(relPath)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to open evidence file")
	}
	info, err := file.Stat()
	if err != nil {
		file.Close() //nolint:errcheck
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read evidence metadata")
	}
	return &EvidenceDownload{
		File:      file,
		Filename:  filepath.Base(relPath),
		MimeType:  photo.MimeType,
		SizeBytes: info.Size(),
		ExpiresAt: expiresAt,
	}, nil
}

// DeleteEvidence soft deletes a photo. Admin only.
func (s *MaintenanceService) DeleteEvidence(ctx context.Context, id string, actor *models.JWTClaims) error {
	if actor == nil {
		return appErrors.ErrUnauthorized
	}
	if actor.Role != models.RoleAdmin {
		return appErrors.ErrForbidden
	}
	photo, err := s.findEvidence(ctx, id)
	if err != nil {
		return err
	}
	if err := s.repo.DeleteEvidence(ctx, photo.ID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "evidence not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete evidence")
	}
	s.emitAudit(ctx, &models.AuditLog{
		UserID:     &actor.UserID,
		Action:     models.AuditActionEvidenceDelete,
		Resource:   "maintenance_evidence",
		ResourceID: &photo.ID,
	})
	return nil
}

func (s *MaintenanceService) findEvidence(ctx context.Context, id string) (*models.EvidencePhoto, error) {
	photo, err := s.repo.FindEvidenceByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "evidence not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load evidence")
	}
	if photo.DeletedAt != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "evidence not found")
	}
	return photo, nil
}

// detectMime sniffs the content type from the first bytes of the stream. The
// declared type from the client is ignored.
func (s *MaintenanceService) detectMime(content io.ReadSeeker) (string, error) {
	header := make([]byte, 512)
	n, err := content.Read(header)
	if err != nil && err != io.EOF {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to inspect file")
	}
	if _, err := content.Seek(0, io.SeekStart); err != nil {
		return "", appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reset upload stream")
	}
	if n == 0 {
		return "", appErrors.Clone(appErrors.ErrValidation, "empty file")
	}
	return http.DetectContentType(header[:n]), nil
}

func (s *MaintenanceService) generateFilename(activityID, original, mimeType string) string {
	ext := strings.ToLower(filepath.Ext(original))
	if ext == "" {
		ext = evidenceExtension(mimeType)
	}
	if ext == "" {
		ext = ".bin"
	}
	return fmt.Sprintf("evidence_%s_%d_%s%s", activityID, time.Now().Unix(), randomSuffix(), ext)
}

func evidenceExtension(mime string) string {
	switch strings.ToLower(mime) {
	case "image/jpeg":
		return ".jpg"
	case "image/png":
		return ".png"
	case "image/webp":
		return ".webp"
	default:
		return ""
	}
}

func randomSuffix() string {
	buf := make([]byte, 4)
	if _, err := rand.Read(buf); err != nil {
		return fmt.Sprintf("%d", time.Now().UnixNano())
	}
	return hex.EncodeToString(buf)
}

func (s *MaintenanceService) emitAudit(ctx context.Context, log *models.AuditLog) {
	if s.audit == nil || log == nil {
		return
	}
	log.IPAddress = "system"
	log.UserAgent = "maintenance-service"
	if err := s.audit.CreateAuditLog(ctx, log); err != nil {
		s.logger.Warn("failed to create evidence audit", zap.Error(err))
	}
}
