package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
)

type detectionRepoStub struct {
	detections    map[string]*models.Detection
	statusApplies bool
	statusCalls   int
}

func newDetectionRepoStub() *detectionRepoStub {
	return &detectionRepoStub{detections: map[string]*models.Detection{}, statusApplies: true}
}

func (s *detectionRepoStub) Create(_ context.Context, det *models.Detection) error {
	copied := *det
	s.detections[det.ID] = &copied
	return nil
}

func (s *detectionRepoStub) FindByID(_ context.Context, id string) (*models.Detection, error) {
	det, ok := s.detections[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *det
	return &copied, nil
}

func (s *detectionRepoStub) List(_ context.Context, _ models.DetectionFilter) ([]models.Detection, int, error) {
	result := make([]models.Detection, 0, len(s.detections))
	for _, det := range s.detections {
		result = append(result, *det)
	}
	return result, len(result), nil
}

func (s *detectionRepoStub) Update(_ context.Context, det *models.Detection) error {
	if _, ok := s.detections[det.ID]; !ok {
		return sql.ErrNoRows
	}
	copied := *det
	s.detections[det.ID] = &copied
	return nil
}

func (s *detectionRepoStub) UpdateStatus(_ context.Context, id string, status models.DetectionStatus, actorID string, at time.Time) (bool, error) {
	s.statusCalls++
	det, ok := s.detections[id]
	if !ok {
		return false, nil
	}
	if !s.statusApplies || det.Status.IsTerminal() {
		return false, nil
	}
	det.Status = status
	if status.IsTerminal() {
		stamp := at
		det.ResolvedAt = &stamp
		det.ResolvedBy = &actorID
	} else {
		det.ResolvedAt = nil
		det.ResolvedBy = nil
	}
	return true, nil
}

func (s *detectionRepoStub) Delete(_ context.Context, id string) error {
	if _, ok := s.detections[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.detections, id)
	return nil
}

func seedDetection(repo *detectionRepoStub, status models.DetectionStatus) *models.Detection {
	det := &models.Detection{
		ID:         "det-1",
		Source:     models.DetectionSourceCamera,
		Severity:   models.DetectionSeverityHigh,
		Status:     status,
		DetectedAt: time.Now().UTC().Add(-time.Hour),
		Location:   "north perimeter",
		CreatedBy:  "coord-1",
	}
	if status.IsTerminal() {
		now := time.Now().UTC()
		actor := "admin-1"
		det.ResolvedAt = &now
		det.ResolvedBy = &actor
	}
	repo.detections[det.ID] = det
	return det
}

func TestDetectionCreateStartsOpen(t *testing.T) {
	repo := newDetectionRepoStub()
	svc := NewDetectionService(repo, nil, nil)

	det, err := svc.Create(context.Background(), CreateDetectionRequest{
		Source:     models.DetectionSourceSensor,
		Severity:   models.DetectionSeverityCritical,
		DetectedAt: time.Now().UTC(),
		Location:   "server room",
	}, coordinatorClaims("coord-1"))
	require.NoError(t, err)
	assert.Equal(t, models.DetectionStatusOpen, det.Status)
	assert.Equal(t, "coord-1", det.CreatedBy)
	assert.Nil(t, det.ResolvedAt)
}

func TestDetectionCreateRequiresWriterRole(t *testing.T) {
	repo := newDetectionRepoStub()
	svc := NewDetectionService(repo, nil, nil)

	viewer := &models.JWTClaims{UserID: "viewer-1", Role: models.RoleViewer}
	_, err := svc.Create(context.Background(), CreateDetectionRequest{
		Source:     models.DetectionSourceCamera,
		Severity:   models.DetectionSeverityLow,
		DetectedAt: time.Now().UTC(),
		Location:   "lobby",
	}, viewer)
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestDetectionResolutionStampsActor(t *testing.T) {
	repo := newDetectionRepoStub()
	svc := NewDetectionService(repo, nil, nil)
	seedDetection(repo, models.DetectionStatusInReview)

	resolved := models.DetectionStatusResolved
	det, err := svc.Update(context.Background(), "det-1", UpdateDetectionRequest{Status: &resolved}, adminClaims("admin-1"))
	require.NoError(t, err)
	assert.Equal(t, models.DetectionStatusResolved, det.Status)
	require.NotNil(t, det.ResolvedAt)
	require.NotNil(t, det.ResolvedBy)
	assert.Equal(t, "admin-1", *det.ResolvedBy)
}

func TestDetectionContentEditOnClosedRejected(t *testing.T) {
	repo := newDetectionRepoStub()
	svc := NewDetectionService(repo, nil, nil)
	seedDetection(repo, models.DetectionStatusResolved)

	location := "changed"
	_, err := svc.Update(context.Background(), "det-1", UpdateDetectionRequest{Location: &location}, adminClaims("admin-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErr.Code)
}

func TestDetectionStatusChangeOnClosedRejected(t *testing.T) {
	repo := newDetectionRepoStub()
	svc := NewDetectionService(repo, nil, nil)
	seedDetection(repo, models.DetectionStatusDiscarded)

	open := models.DetectionStatusOpen
	_, err := svc.Update(context.Background(), "det-1", UpdateDetectionRequest{Status: &open}, adminClaims("admin-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErr.Code)
	assert.Zero(t, repo.statusCalls)
}

func TestDetectionConcurrentCloseSurfacesConflict(t *testing.T) {
	repo := newDetectionRepoStub()
	svc := NewDetectionService(repo, nil, nil)
	seedDetection(repo, models.DetectionStatusOpen)
	repo.statusApplies = false

	resolved := models.DetectionStatusResolved
	_, err := svc.Update(context.Background(), "det-1", UpdateDetectionRequest{Status: &resolved}, adminClaims("admin-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErr.Code)
	assert.Equal(t, 1, repo.statusCalls)
}

func TestDetectionDeleteRequiresAdmin(t *testing.T) {
	repo := newDetectionRepoStub()
	svc := NewDetectionService(repo, nil, nil)
	seedDetection(repo, models.DetectionStatusOpen)

	err := svc.Delete(context.Background(), "det-1", coordinatorClaims("coord-1"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)

	require.NoError(t, svc.Delete(context.Background(), "det-1", adminClaims("admin-1")))
	_, err = svc.Get(context.Background(), "det-1")
	require.Error(t, err)
}
