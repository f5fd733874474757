package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
)

type dashboardRepository interface {
	CountOpenHandoffNotes(ctx context.Context) (int, error)
	CountPendingFollowUps(ctx context.Context) (int, error)
	NotesByPriority(ctx context.Context) ([]models.DashboardStatusCount, error)
	CountOpenDetections(ctx context.Context) (int, error)
	CountCriticalDetections(ctx context.Context) (int, error)
	DetectionsBySeverity(ctx context.Context) ([]models.DashboardStatusCount, error)
	RecentDetections(ctx context.Context, limit int) ([]models.Detection, error)
	CountReviewsBetween(ctx context.Context, from, to time.Time) (int, error)
	CountMaintenanceByStatus(ctx context.Context, status models.MaintenanceStatus) (int, error)
}

const dashboardSummaryCacheKey = "dashboard:summary"

// DashboardServiceConfig tunes dashboard behaviour.
type DashboardServiceConfig struct {
	CacheTTL              time.Duration
	RecentDetectionsLimit int
}

// DashboardService composes the landing page summary with cache support.
type DashboardService struct {
	repo   dashboardRepository
	cache  *CacheService
	logger *zap.Logger
	now    func() time.Time
	cfg    DashboardServiceConfig
}

// NewDashboardService constructs a DashboardService with sane defaults.
func NewDashboardService(repo dashboardRepository, cache *CacheService, logger *zap.Logger, cfg DashboardServiceConfig) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.CacheTTL <= 0 {
		cfg.CacheTTL = 5 * time.Minute
	}
	if cfg.RecentDetectionsLimit <= 0 {
		cfg.RecentDetectionsLimit = 5
	}
	return &DashboardService{
		repo:   repo,
		cache:  cache,
		logger: logger,
		now:    time.Now,
		cfg:    cfg,
	}
}

// Summary returns the aggregated counters and indicates cache utilisation.
func (s *DashboardService) Summary(ctx context.Context) (*models.DashboardSummary, bool, error) {
	if s.cache.Enabled() {
		var cached models.DashboardSummary
		if hit, err := s.cache.Get(ctx, dashboardSummaryCacheKey, &cached); err == nil && hit {
			return &cached, true, nil
		}
	}

	summary, err := s.compose(ctx)
	if err != nil {
		return nil, false, err
	}
	if err := s.cache.Set(ctx, dashboardSummaryCacheKey, summary, s.cfg.CacheTTL); err != nil {
		s.logger.Warn("failed to cache dashboard summary", zap.Error(err))
	}
	return summary, false, nil
}

// Invalidate drops cached dashboard payloads. Called after domain writes.
func (s *DashboardService) Invalidate(ctx context.Context) {
	if err := s.cache.Invalidate(ctx, "dashboard:*"); err != nil {
		s.logger.Warn("failed to invalidate dashboard cache", zap.Error(err))
	}
}

func (s *DashboardService) compose(ctx context.Context) (*models.DashboardSummary, error) {
	openNotes, err := s.repo.CountOpenHandoffNotes(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count open handoff notes")
	}
	pendingFollowUps, err := s.repo.CountPendingFollowUps(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count pending follow-ups")
	}
	notesByPriority, err := s.repo.NotesByPriority(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to group notes by priority")
	}
	openDetections, err := s.repo.CountOpenDetections(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count open detections")
	}
	criticalDetections, err := s.repo.CountCriticalDetections(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count critical detections")
	}
	detectionsBySeverity, err := s.repo.DetectionsBySeverity(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to group detections by severity")
	}
	recentDetections, err := s.repo.RecentDetections(ctx, s.cfg.RecentDetectionsLimit)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load recent detections")
	}

	now := s.now().UTC()
	dayStart := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	reviewsToday, err := s.repo.CountReviewsBetween(ctx, dayStart, now)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count reviews")
	}
	maintenanceScheduled, err := s.repo.CountMaintenanceByStatus(ctx, models.MaintenanceStatusScheduled)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count scheduled maintenance")
	}
	maintenanceInProgress, err := s.repo.CountMaintenanceByStatus(ctx, models.MaintenanceStatusInProgress)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count in-progress maintenance")
	}

	return &models.DashboardSummary{
		OpenHandoffNotes:      openNotes,
		PendingFollowUps:      pendingFollowUps,
		OpenDetections:        openDetections,
		CriticalDetections:    criticalDetections,
		ReviewsToday:          reviewsToday,
		MaintenanceScheduled:  maintenanceScheduled,
		MaintenanceInProgress: maintenanceInProgress,
		NotesByPriority:       toCountMap(notesByPriority),
		DetectionsBySeverity:  toCountMap(detectionsBySeverity),
		RecentDetections:      recentDetections,
		GeneratedAt:           now,
	}, nil
}

func toCountMap(rows []models.DashboardStatusCount) map[string]int {
	result := make(map[string]int, len(rows))
	for _, row := range rows {
		result[row.Key] = row.Count
	}
	return result
}
