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

// MaintenanceRepository provides database access for maintenance
// activities and their photo evidence.
type MaintenanceRepository struct {
	db *sqlx.DB
}

// NewMaintenanceRepository creates a new instance of MaintenanceRepository.
func NewMaintenanceRepository(db *sqlx.DB) *MaintenanceRepository {
	return &MaintenanceRepository{db: db}
}

const maintenanceColumns = `id, title, equipment, scheduled_for, status, technician_id, notes, created_by, created_at, updated_at`

// Create inserts a new maintenance activity.
func (r *MaintenanceRepository) Create(ctx context.Context, activity *models.MaintenanceActivity) error {
	if activity.ID == "" {
		activity.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if activity.CreatedAt.IsZero() {
		activity.CreatedAt = now
	}
	activity.UpdatedAt = now

	const query = `INSERT INTO maintenance_activities (id, title, equipment, scheduled_for, status, technician_id, notes, created_by, created_at, updated_at) VALUES (:id, :title, :equipment, :scheduled_for, :status, :technician_id, :notes, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, activity); err != nil {
		return fmt.Errorf("create maintenance activity: %w", err)
	}
	return nil
}

// FindByID returns an activity by identifier.
func (r *MaintenanceRepository) FindByID(ctx context.Context, id string) (*models.MaintenanceActivity, error) {
	query := fmt.Sprintf(`SELECT %s FROM maintenance_activities WHERE id = $1 LIMIT 1`, maintenanceColumns)
	var activity models.MaintenanceActivity
	if err := r.db.GetContext(ctx, &activity, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find maintenance activity: %w", err)
	}
	return &activity, nil
}

// List returns activities based on filters with total count.
func (r *MaintenanceRepository) List(ctx context.Context, filter models.MaintenanceFilter) ([]models.MaintenanceActivity, int, error) {
	baseQuery := `FROM maintenance_activities WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Equipment != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(equipment) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Equipment)+"%")
	}
	if filter.TechnicianID != "" {
		conditions = append(conditions, fmt.Sprintf("technician_id = $%d", len(args)+1))
		args = append(args, filter.TechnicianID)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_for >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("scheduled_for <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "scheduled_for"
	}
	allowedSorts := map[string]bool{
		"scheduled_for": true,
		"created_at":    true,
		"status":        true,
		"equipment":     true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "scheduled_for"
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", maintenanceColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var activities []models.MaintenanceActivity
	if err := r.db.SelectContext(ctx, &activities, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list maintenance activities: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count maintenance activities: %w", err)
	}

	return activities, total, nil
}

// Update persists mutable fields of an activity.
func (r *MaintenanceRepository) Update(ctx context.Context, activity *models.MaintenanceActivity) error {
	activity.UpdatedAt = time.Now().UTC()
	const query = `UPDATE maintenance_activities SET title = :title, equipment = :equipment, scheduled_for = :scheduled_for, status = :status, technician_id = :technician_id, notes = :notes, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, activity); err != nil {
		return fmt.Errorf("update maintenance activity: %w", err)
	}
	return nil
}

// Delete removes an activity. Evidence rows stay behind soft-deleted so
// uploaded files remain auditable.
func (r *MaintenanceRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	now := time.Now().UTC()
	if _, err := tx.ExecContext(ctx, `UPDATE evidence_photos SET deleted_at = $2 WHERE activity_id = $1 AND deleted_at IS NULL`, id, now); err != nil {
		return fmt.Errorf("soft delete evidence photos: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM maintenance_activities WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete maintenance activity: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete maintenance activity: rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

// CreateEvidence inserts an evidence photo row.
func (r *MaintenanceRepository) CreateEvidence(ctx context.Context, photo *models.EvidencePhoto) error {
	if photo.ID == "" {
		photo.ID = uuid.NewString()
	}
	if photo.CreatedAt.IsZero() {
		photo.CreatedAt = time.Now().UTC()
	}
	const query = `INSERT INTO evidence_photos (id, activity_id, file_path, mime_type, size_bytes, caption, uploaded_by, created_at) VALUES (:id, :activity_id, :file_path, :mime_type, :size_bytes, :caption, :uploaded_by, :created_at)`
	if _, err := r.db.NamedExecContext(ctx, query, photo); err != nil {
		return fmt.Errorf("create evidence photo: %w", err)
	}
	return nil
}

// FindEvidenceByID returns a live evidence row by identifier.
func (r *MaintenanceRepository) FindEvidenceByID(ctx context.Context, id string) (*models.EvidencePhoto, error) {
	const query = `SELECT id, activity_id, file_path, mime_type, size_bytes, caption, uploaded_by, created_at, deleted_at FROM evidence_photos WHERE id = $1 AND deleted_at IS NULL LIMIT 1`
	var photo models.EvidencePhoto
	if err := r.db.GetContext(ctx, &photo, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find evidence photo: %w", err)
	}
	return &photo, nil
}

// ListEvidence returns the live evidence rows for an activity.
func (r *MaintenanceRepository) ListEvidence(ctx context.Context, activityID string) ([]models.EvidencePhoto, error) {
	const query = `SELECT id, activity_id, file_path, mime_type, size_bytes, caption, uploaded_by, created_at, deleted_at FROM evidence_photos WHERE activity_id = $1 AND deleted_at IS NULL ORDER BY created_at ASC`
	var photos []models.EvidencePhoto
	if err := r.db.SelectContext(ctx, &photos, query, activityID); err != nil {
		return nil, fmt.Errorf("list evidence photos: %w", err)
	}
	return photos, nil
}

// DeleteEvidence soft deletes a single evidence row.
func (r *MaintenanceRepository) DeleteEvidence(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE evidence_photos SET deleted_at = $2 WHERE id = $1 AND deleted_at IS NULL`, id, time.Now().UTC())
	if err != nil {
		return fmt.Errorf("delete evidence photo: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete evidence photo: rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
