package service

import (
	"bytes"
	"context"
	"database/sql"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
	"github.com/opsmon-dev/cmo-ops-api/pkg/storage"
)

type maintenanceRepoStub struct {
	activities map[string]*models.MaintenanceActivity
	evidence   map[string]*models.EvidencePhoto
	audits     []*models.AuditLog
}

func newMaintenanceRepoStub() *maintenanceRepoStub {
	return &maintenanceRepoStub{
		activities: map[string]*models.MaintenanceActivity{},
		evidence:   map[string]*models.EvidencePhoto{},
	}
}

func (s *maintenanceRepoStub) Create(_ context.Context, activity *models.MaintenanceActivity) error {
	copied := *activity
	s.activities[activity.ID] = &copied
	return nil
}

func (s *maintenanceRepoStub) FindByID(_ context.Context, id string) (*models.MaintenanceActivity, error) {
	activity, ok := s.activities[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *activity
	return &copied, nil
}

func (s *maintenanceRepoStub) List(_ context.Context, _ models.MaintenanceFilter) ([]models.MaintenanceActivity, int, error) {
	result := make([]models.MaintenanceActivity, 0, len(s.activities))
	for _, activity := range s.activities {
		result = append(result, *activity)
	}
	return result, len(result), nil
}

func (s *maintenanceRepoStub) Update(_ context.Context, activity *models.MaintenanceActivity) error {
	if _, ok := s.activities[activity.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *activity
	s.activities[activity.ID] = &copied
	return nil
}

func (s *maintenanceRepoStub) Delete(_ context.Context, id string) error {
	if _, ok := s.activities[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.activities, id)
	return nil
}

func (s *maintenanceRepoStub) CreateEvidence(_ context.Context, photo *models.EvidencePhoto) error {
	copied := *photo
	s.evidence[photo.ID] = &copied
	return nil
}

func (s *maintenanceRepoStub) FindEvidenceByID(_ context.Context, id string) (*models.EvidencePhoto, error) {
	photo, ok := s.evidence[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *photo
	return &copied, nil
}

func (s *maintenanceRepoStub) ListEvidence(_ context.Context, activityID string) ([]models.EvidencePhoto, error) {
	result := make([]models.EvidencePhoto, 0)
	for _, photo := range s.evidence {
		if photo.ActivityID == activityID && photo.DeletedAt == nil {
			result = append(result, *photo)
		}
	}
	return result, nil
}

func (s *maintenanceRepoStub) DeleteEvidence(_ context.Context, id string) error {
	photo, ok := s.evidence[id]
	if !ok {
		return sql.ErrNoRows
	}
	now := time.Now().UTC()
	photo.DeletedAt = &now
	return nil
}

func (s *maintenanceRepoStub) CreateAuditLog(_ context.Context, log *models.AuditLog) error {
	s.audits = append(s.audits, log)
	return nil
}

func technicianClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleTechnician}
}

func newMaintenanceService(t *testing.T, repo *maintenanceRepoStub) *MaintenanceService {
	t.Helper()
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	signer := storage.NewSignedURLSigner("test-secret", time.Minute)
	return NewMaintenanceService(repo, store, signer, repo, nil, nil, MaintenanceServiceConfig{})
}

func seedActivity(repo *maintenanceRepoStub, technicianID *string) *models.MaintenanceActivity {
	activity := &models.MaintenanceActivity{
		ID:           "act-1",
		Title:        "camera lens cleaning",
		Equipment:    "CAM-07",
		ScheduledFor: time.Now().UTC().Add(24 * time.Hour),
		Status:       models.MaintenanceStatusScheduled,
		TechnicianID: technicianID,
		CreatedBy:    "admin-1",
	}
	repo.activities[activity.ID] = activity
	return activity
}

// Minimal PNG signature, enough for content sniffing.
func pngPayload() []byte {
	payload := []byte{0x89, 'P', 'N', 'G', 0x0D, 0x0A, 0x1A, 0x0A}
	return append(payload, bytes.Repeat([]byte{0x00}, 64)...)
}

func TestEvidenceUploadSniffsMimeType(t *testing.T) {
	repo := newMaintenanceRepoStub()
	svc := newMaintenanceService(t, repo)
	tech := "tech-1"
	seedActivity(repo, &tech)

	payload := pngPayload()
	photo, err := svc.UploadEvidence(context.Background(), "act-1", EvidenceUpload{
		Filename: "before.png",
		Size:     int64(len(payload)),
		MimeType: "application/octet-stream",
		Content:  bytes.NewReader(payload),
	}, technicianClaims("tech-1"))
	require.NoError(t, err)
	assert.Equal(t, "image/png", photo.MimeType)
	assert.Equal(t, "tech-1", photo.UploadedBy)
	require.Len(t, repo.audits, 1)
	assert.Equal(t, models.AuditActionEvidenceUpload, repo.audits[0].Action)
}

func TestEvidenceUploadRejectsDisallowedMime(t *testing.T) {
	repo := newMaintenanceRepoStub()
	svc := newMaintenanceService(t, repo)
	tech := "tech-1"
	seedActivity(repo, &tech)

	payload := []byte("%PDF-1.4 not a photo")
	_, err := svc.UploadEvidence(context.Background(), "act-1", EvidenceUpload{
		Filename: "doc.pdf",
		Size:     int64(len(payload)),
		Content:  bytes.NewReader(payload),
	}, technicianClaims("tech-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestEvidenceUploadEnforcesSizeLimit(t *testing.T) {
	repo := newMaintenanceRepoStub()
	tech := "tech-1"
	seedActivity(repo, &tech)
	store, err := storage.NewLocalStorage(t.TempDir())
	require.NoError(t, err)
	svc := NewMaintenanceService(repo, store, storage.NewSignedURLSigner("test-secret", time.Minute), repo, nil, nil, MaintenanceServiceConfig{MaxFileSize: 16})

	payload := pngPayload()
	_, err = svc.UploadEvidence(context.Background(), "act-1", EvidenceUpload{
		Filename: "big.png",
		Size:     int64(len(payload)),
		Content:  bytes.NewReader(payload),
	}, technicianClaims("tech-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErr.Code)
}

func TestEvidenceUploadRestrictedToAssignedTechnician(t *testing.T) {
	repo := newMaintenanceRepoStub()
	svc := newMaintenanceService(t, repo)
	tech := "tech-1"
	seedActivity(repo, &tech)

	payload := pngPayload()
	_, err := svc.UploadEvidence(context.Background(), "act-1", EvidenceUpload{
		Filename: "after.png",
		Size:     int64(len(payload)),
		Content:  bytes.NewReader(payload),
	}, technicianClaims("tech-2"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestEvidenceDownloadRoundTrip(t *testing.T) {
	repo := newMaintenanceRepoStub()
	svc := newMaintenanceService(t, repo)
	tech := "tech-1"
	seedActivity(repo, &tech)

	payload := pngPayload()
	photo, err := svc.UploadEvidence(context.Background(), "act-1", EvidenceUpload{
		Filename: "roundtrip.png",
		Size:     int64(len(payload)),
		Content:  bytes.NewReader(payload),
	}, adminClaims("admin-1"))
	require.NoError(t, err)

	url, err := svc.GetEvidenceURL(context.Background(), photo.ID, adminClaims("admin-1"))
	require.NoError(t, err)
	require.Contains(t, url, "token=")
	token := url[strings.Index(url, "token=")+len("token="):]

	download, err := svc.DownloadEvidence(context.Background(), photo.ID, token)
	require.NoError(t, err)
	defer download.File.Close()
	assert.Equal(t, "image/png", download.MimeType)
	assert.Equal(t, int64(len(payload)), download.SizeBytes)
}

func TestEvidenceDeleteRequiresAdmin(t *testing.T) {
	repo := newMaintenanceRepoStub()
	svc := newMaintenanceService(t, repo)
	tech := "tech-1"
	seedActivity(repo, &tech)

	payload := pngPayload()
	photo, err := svc.UploadEvidence(context.Background(), "act-1", EvidenceUpload{
		Filename: "proof.png",
		Size:     int64(len(payload)),
		Content:  bytes.NewReader(payload),
	}, technicianClaims("tech-1"))
	require.NoError(t, err)

	err = svc.DeleteEvidence(context.Background(), photo.ID, technicianClaims("tech-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	require.NoError(t, svc.DeleteEvidence(context.Background(), photo.ID, adminClaims("admin-1")))
	photos, err := svc.ListEvidence(context.Background(), "act-1")
	require.NoError(t, err)
	assert.Empty(t, photos)
}

func TestMaintenanceUpdateByUnassignedTechnicianRejected(t *testing.T) {
	repo := newMaintenanceRepoStub()
	svc := newMaintenanceService(t, repo)
	tech := "tech-1"
	seedActivity(repo, &tech)

	done := models.MaintenanceStatusDone
	_, err := svc.Update(context.Background(), "act-1", UpdateMaintenanceRequest{Status: &done}, technicianClaims("tech-2"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	activity, err := svc.Update(context.Background(), "act-1", UpdateMaintenanceRequest{Status: &done}, technicianClaims("tech-1"))
	require.NoError(t, err)
	assert.Equal(t, models.MaintenanceStatusDone, activity.Status)
}
