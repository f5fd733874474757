package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
)

// DetectionRepository provides database access for incident detections.
type DetectionRepository struct {
	db *sqlx.DB
}

// NewDetectionRepository creates a new instance of DetectionRepository.
func NewDetectionRepository(db *sqlx.DB) *DetectionRepository {
	return &DetectionRepository{db: db}
}

const detectionColumns = `id, source, severity, status, detected_at, location, description, created_by, created_at, updated_at, resolved_at, resolved_by`

// Create inserts a new detection.
func (r *DetectionRepository) Create(ctx context.Context, det *models.Detection) error {
	if det.ID == "" {
		det.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if det.CreatedAt.IsZero() {
		det.CreatedAt = now
	}
	det.UpdatedAt = now

	const query = `INSERT INTO detections (id, source, severity, status, detected_at, location, description, created_by, created_at, updated_at) VALUES (:id, :source, :severity, :status, :detected_at, :location, :description, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, det); err != nil {
		return fmt.Errorf("create detection: %w", err)
	}
	return nil
}

// FindByID returns a detection by identifier.
func (r *DetectionRepository) FindByID(ctx context.Context, id string) (*models.Detection, error) {
	query := fmt.Sprintf(`SELECT %s FROM detections WHERE id = $1 LIMIT 1`, detectionColumns)
	var det models.Detection
	if err := r.db.GetContext(ctx, &det, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find detection: %w", err)
	}
	return &det, nil
}

// List returns detections based on filters with total count.
func (r *DetectionRepository) List(ctx context.Context, filter models.DetectionFilter) ([]models.Detection, int, error) {
	baseQuery := `FROM detections WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Source != nil {
		conditions = append(conditions, fmt.Sprintf("source = $%d", len(args)+1))
		args = append(args, *filter.Source)
	}
	if filter.Severity != nil {
		conditions = append(conditions, fmt.Sprintf("severity = $%d", len(args)+1))
		args = append(args, *filter.Severity)
	}
	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Location != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(location) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Location)+"%")
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("detected_at >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("detected_at <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "detected_at"
	}
	allowedSorts := map[string]bool{
		"detected_at": true,
		"created_at":  true,
		"severity":    true,
		"status":      true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "detected_at"
	}

	sortOrder := strings.ToUpper(filter.SortOrder)
	if sortOrder != "ASC" && sortOrder != "DESC" {
		sortOrder = "DESC"
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	pageSize := filter.PageSize
	if pageSize <= 0 || pageSize > 100 {
		pageSize = 20
	}
	offset := (page - 1) * pageSize

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", detectionColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var detections []models.Detection
	if err := r.db.SelectContext(ctx, &detections, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list detections: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count detections: %w", err)
	}

	return detections, total, nil
}

// Update persists mutable content fields of a detection.
func (r *DetectionRepository) Update(ctx context.Context, det *models.Detection) error {
	det.UpdatedAt = time.Now().UTC()
	const query = `UPDATE detections SET source = :source, severity = :severity, detected_at = :detected_at, location = :location, description = :description, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, det); err != nil {
		return fmt.Errorf("update detection: %w", err)
	}
	return nil
}

// UpdateStatus transitions a detection with a conditional update so a
// closed detection is never reopened by a concurrent writer.
func (r *DetectionRepository) UpdateStatus(ctx context.Context, id string, status models.DetectionStatus, actorID string, at time.Time) (bool, error) {
	var res sql.Result
	var err error
	if status.IsTerminal() {
		const query = `UPDATE detections SET status = $2, resolved_at = $3, resolved_by = $4, updated_at = $3 WHERE id = $1 AND status NOT IN ('RESOLVED', 'DISCARDED')`
		res, err = r.db.ExecContext(ctx, query, id, status, at, actorID)
	} else {
		const query = `UPDATE detections SET status = $2, resolved_at = NULL, resolved_by = NULL, updated_at = $3 WHERE id = $1 AND status NOT IN ('RESOLVED', 'DISCARDED')`
		res, err = r.db.ExecContext(ctx, query, id, status, at)
	}
	if err != nil {
		return false, fmt.Errorf("update detection status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update detection status: rows affected: %w", err)
	}
	return affected > 0, nil
}

// Delete removes a detection.
func (r *DetectionRepository) Delete(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `DELETE FROM detections WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete detection: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete detection: rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
