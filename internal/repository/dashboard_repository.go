package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
)

// DashboardRepository runs the aggregation queries behind the dashboard.
type DashboardRepository struct {
	db *sqlx.DB
}

// NewDashboardRepository creates a new instance of DashboardRepository.
func NewDashboardRepository(db *sqlx.DB) *DashboardRepository {
	return &DashboardRepository{db: db}
}

// CountOpenHandoffNotes returns notes not yet finalized.
func (r *DashboardRepository) CountOpenHandoffNotes(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM handoff_notes WHERE status NOT IN ('COMPLETED', 'CANCELLED')`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count open handoff notes: %w", err)
	}
	return count, nil
}

// CountPendingFollowUps returns follow-up notes still open.
func (r *DashboardRepository) CountPendingFollowUps(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM handoff_notes WHERE type = 'FOLLOW_UP' AND status NOT IN ('COMPLETED', 'CANCELLED')`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count pending follow-ups: %w", err)
	}
	return count, nil
}

// NotesByPriority groups open notes by priority.
func (r *DashboardRepository) NotesByPriority(ctx context.Context) ([]models.DashboardStatusCount, error) {
	const query = `SELECT priority AS key, COUNT(*) AS count FROM handoff_notes WHERE status NOT IN ('COMPLETED', 'CANCELLED') GROUP BY priority`
	var rows []models.DashboardStatusCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("group notes by priority: %w", err)
	}
	return rows, nil
}

// CountOpenDetections returns detections not yet closed.
func (r *DashboardRepository) CountOpenDetections(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM detections WHERE status NOT IN ('RESOLVED', 'DISCARDED')`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count open detections: %w", err)
	}
	return count, nil
}

// CountCriticalDetections returns open critical detections.
func (r *DashboardRepository) CountCriticalDetections(ctx context.Context) (int, error) {
	const query = `SELECT COUNT(*) FROM detections WHERE severity = 'CRITICAL' AND status NOT IN ('RESOLVED', 'DISCARDED')`
	var count int
	if err := r.db.GetContext(ctx, &count, query); err != nil {
		return 0, fmt.Errorf("count critical detections: %w", err)
	}
	return count, nil
}

// DetectionsBySeverity groups open detections by severity.
func (r *DashboardRepository) DetectionsBySeverity(ctx context.Context) ([]models.DashboardStatusCount, error) {
	const query = `SELECT severity AS key, COUNT(*) AS count FROM detections WHERE status NOT IN ('RESOLVED', 'DISCARDED') GROUP BY severity`
	var rows []models.DashboardStatusCount
	if err := r.db.SelectContext(ctx, &rows, query); err != nil {
		return nil, fmt.Errorf("group detections by severity: %w", err)
	}
	return rows, nil
}

// RecentDetections returns the newest open detections up to limit.
func (r *DashboardRepository) RecentDetections(ctx context.Context, limit int) ([]models.Detection, error) {
	if limit <= 0 {
		limit = 5
	}
	query := fmt.Sprintf(`SELECT %s FROM detections WHERE status NOT IN ('RESOLVED', 'DISCARDED') ORDER BY detected_at DESC LIMIT $1`, detectionColumns)
	var detections []models.Detection
	if err := r.db.SelectContext(ctx, &detections, query, limit); err != nil {
		return nil, fmt.Errorf("recent detections: %w", err)
	}
	return detections, nil
}

// CountReviewsBetween returns reviews recorded in the window.
func (r *DashboardRepository) CountReviewsBetween(ctx context.Context, from, to time.Time) (int, error) {
	const query = `SELECT COUNT(*) FROM reviews WHERE reviewed_at >= $1 AND reviewed_at < $2`
	var count int
	if err := r.db.GetContext(ctx, &count, query, from, to); err != nil {
		return 0, fmt.Errorf("count reviews in window: %w", err)
	}
	return count, nil
}

// CountMaintenanceByStatus returns activities in a given state.
func (r *DashboardRepository) CountMaintenanceByStatus(ctx context.Context, status models.MaintenanceStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM maintenance_activities WHERE status = $1`
	var count int
	if err := r.db.GetContext(ctx, &count, query, status); err != nil {
		return 0, fmt.Errorf("count maintenance by status: %w", err)
	}
	return count, nil
}
