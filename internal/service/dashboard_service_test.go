package service

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
)

type dashboardRepoStub struct {
	openNotes      int
	followUps      int
	openDetections int
	critical       int
	reviews        int
	scheduled      int
	inProgress     int
	calls          int
}

func (s *dashboardRepoStub) CountOpenHandoffNotes(_ context.Context) (int, error) {
	s.calls++
	return s.openNotes, nil
}

func (s *dashboardRepoStub) CountPendingFollowUps(_ context.Context) (int, error) {
	return s.followUps, nil
}

func (s *dashboardRepoStub) NotesByPriority(_ context.Context) ([]models.DashboardStatusCount, error) {
	return []models.DashboardStatusCount{{Key: "HIGH", Count: 2}, {Key: "MEDIUM", Count: 5}}, nil
}

func (s *dashboardRepoStub) CountOpenDetections(_ context.Context) (int, error) {
	return s.openDetections, nil
}

func (s *dashboardRepoStub) CountCriticalDetections(_ context.Context) (int, error) {
	return s.critical, nil
}

func (s *dashboardRepoStub) DetectionsBySeverity(_ context.Context) ([]models.DashboardStatusCount, error) {
	return []models.DashboardStatusCount{{Key: "CRITICAL", Count: 1}}, nil
}

func (s *dashboardRepoStub) RecentDetections(_ context.Context, limit int) ([]models.Detection, error) {
	if limit < 1 {
		return nil, nil
	}
	return []models.Detection{{ID: "det-1", Status: models.DetectionStatusOpen}}, nil
}

func (s *dashboardRepoStub) CountReviewsBetween(_ context.Context, _, _ time.Time) (int, error) {
	return s.reviews, nil
}

func (s *dashboardRepoStub) CountMaintenanceByStatus(_ context.Context, status models.MaintenanceStatus) (int, error) {
	if status == models.MaintenanceStatusScheduled {
		return s.scheduled, nil
	}
	return s.inProgress, nil
}

type memoryCacheRepo struct {
	entries map[string][]byte
}

func newMemoryCacheRepo() *memoryCacheRepo {
	return &memoryCacheRepo{entries: map[string][]byte{}}
}

func (m *memoryCacheRepo) Get(_ context.Context, key string, dest interface{}) error {
	raw, ok := m.entries[key]
	if !ok {
		return appErrors.ErrCacheMiss
	}
	return json.Unmarshal(raw, dest)
}

func (m *memoryCacheRepo) Set(_ context.Context, key string, value interface{}, _ time.Duration) error {
	raw, err := json.Marshal(value)
	if err != nil {
		return err
	}
	m.entries[key] = raw
	return nil
}

func (m *memoryCacheRepo) DeleteByPattern(_ context.Context, _ string) error {
	m.entries = map[string][]byte{}
	return nil
}

func TestDashboardSummaryComposesCounters(t *testing.T) {
	repo := &dashboardRepoStub{
		openNotes:      3,
		followUps:      2,
		openDetections: 4,
		critical:       1,
		reviews:        7,
		scheduled:      2,
		inProgress:     1,
	}
	svc := NewDashboardService(repo, nil, nil, DashboardServiceConfig{})

	summary, cached, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 3, summary.OpenHandoffNotes)
	assert.Equal(t, 2, summary.PendingFollowUps)
	assert.Equal(t, 4, summary.OpenDetections)
	assert.Equal(t, 1, summary.CriticalDetections)
	assert.Equal(t, 7, summary.ReviewsToday)
	assert.Equal(t, 2, summary.MaintenanceScheduled)
	assert.Equal(t, 1, summary.MaintenanceInProgress)
	assert.Equal(t, map[string]int{"HIGH": 2, "MEDIUM": 5}, summary.NotesByPriority)
	assert.Equal(t, map[string]int{"CRITICAL": 1}, summary.DetectionsBySeverity)
	require.Len(t, summary.RecentDetections, 1)
	assert.False(t, summary.GeneratedAt.IsZero())
}

func TestDashboardSummaryServedFromCache(t *testing.T) {
	repo := &dashboardRepoStub{openNotes: 3}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewDashboardService(repo, cache, nil, DashboardServiceConfig{})

	_, cached, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, cached)

	summary, cached, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.True(t, cached)
	assert.Equal(t, 3, summary.OpenHandoffNotes)
	assert.Equal(t, 1, repo.calls)
}

func TestDashboardInvalidateDropsCache(t *testing.T) {
	repo := &dashboardRepoStub{openNotes: 3}
	cache := NewCacheService(newMemoryCacheRepo(), nil, time.Minute, nil, true)
	svc := NewDashboardService(repo, cache, nil, DashboardServiceConfig{})

	_, _, err := svc.Summary(context.Background())
	require.NoError(t, err)
	svc.Invalidate(context.Background())

	_, cached, err := svc.Summary(context.Background())
	require.NoError(t, err)
	assert.False(t, cached)
	assert.Equal(t, 2, repo.calls)
}
