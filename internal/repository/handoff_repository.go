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

// HandoffRepository provides database access for shift-handoff notes and
// their per-coordinator acknowledgements.
type HandoffRepository struct {
	db *sqlx.DB
}

// NewHandoffRepository creates a new instance of HandoffRepository.
func NewHandoffRepository(db *sqlx.DB) *HandoffRepository {
	return &HandoffRepository{db: db}
}

const handoffColumns = `id, description, type, priority, status, assigned_coordinator_id, delivering_user_id, created_by, created_at, updated_at, finalized_at, finalized_by`

// Create inserts a new handoff note.
func (r *HandoffRepository) Create(ctx context.Context, note *models.HandoffNote) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if note.CreatedAt.IsZero() {
		note.CreatedAt = now
	}
	note.UpdatedAt = now

	const query = `INSERT INTO handoff_notes (id, description, type, priority, status, assigned_coordinator_id, delivering_user_id, created_by, created_at, updated_at) VALUES (:id, :description, :type, :priority, :status, :assigned_coordinator_id, :delivering_user_id, :created_by, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, note); err != nil {
		return fmt.Errorf("create handoff note: %w", err)
	}
	return nil
}

// FindByID returns a handoff note by identifier.
func (r *HandoffRepository) FindByID(ctx context.Context, id string) (*models.HandoffNote, error) {
	query := fmt.Sprintf(`SELECT %s FROM handoff_notes WHERE id = $1 LIMIT 1`, handoffColumns)
	var note models.HandoffNote
	if err := r.db.GetContext(ctx, &note, query, id); err != nil {
		if err == sql.ErrNoRows {
			return nil, err
		}
		return nil, fmt.Errorf("find handoff note: %w", err)
	}
	return &note, nil
}

// List returns handoff notes based on filters with total count.
func (r *HandoffRepository) List(ctx context.Context, filter models.HandoffNoteFilter) ([]models.HandoffNote, int, error) {
	baseQuery := `FROM handoff_notes WHERE 1=1`
	var conditions []string
	var args []interface{}

	if filter.Status != nil {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, *filter.Status)
	}
	if filter.Type != nil {
		conditions = append(conditions, fmt.Sprintf("type = $%d", len(args)+1))
		args = append(args, *filter.Type)
	}
	if filter.Priority != nil {
		conditions = append(conditions, fmt.Sprintf("priority = $%d", len(args)+1))
		args = append(args, *filter.Priority)
	}
	if filter.Search != "" {
		conditions = append(conditions, fmt.Sprintf("LOWER(description) LIKE $%d", len(args)+1))
		args = append(args, "%"+strings.ToLower(filter.Search)+"%")
	}

	if len(conditions) > 0 {
		baseQuery += " AND " + strings.Join(conditions, " AND ")
	}

	sortBy := filter.SortBy
	if sortBy == "" {
		sortBy = "created_at"
	}
	allowedSorts := map[string]bool{
		"created_at": true,
		"updated_at": true,
		"priority":   true,
		"status":     true,
	}
	if !allowedSorts[sortBy] {
		sortBy = "created_at"
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

	listQuery := fmt.Sprintf("SELECT %s %s ORDER BY %s %s LIMIT %d OFFSET %d", handoffColumns, baseQuery, sortBy, sortOrder, pageSize, offset)

	var notes []models.HandoffNote
	if err := r.db.SelectContext(ctx, &notes, listQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("list handoff notes: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", baseQuery)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count handoff notes: %w", err)
	}

	return notes, total, nil
}

// Update persists mutable content fields of a note. Lifecycle fields go
// through UpdateStatus so the terminal guard cannot be bypassed.
func (r *HandoffRepository) Update(ctx context.Context, note *models.HandoffNote) error {
	note.UpdatedAt = time.Now().UTC()
	const query = `UPDATE handoff_notes SET description = :description, type = :type, priority = :priority, assigned_coordinator_id = :assigned_coordinator_id, delivering_user_id = :delivering_user_id, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, note); err != nil {
		return fmt.Errorf("update handoff note: %w", err)
	}
	return nil
}

// UpdateStatus transitions a note's lifecycle state with a single
// conditional update. Terminal notes are never overwritten; the caller
// learns whether the transition applied from the returned flag.
func (r *HandoffRepository) UpdateStatus(ctx context.Context, id string, status models.HandoffNoteStatus, actorID string, at time.Time) (bool, error) {
	var res sql.Result
	var err error
	if status.IsTerminal() {
		const query = `UPDATE handoff_notes SET status = $2, finalized_at = $3, finalized_by = $4, updated_at = $3 WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')`
		res, err = r.db.ExecContext(ctx, query, id, status, at, actorID)
	} else {
		const query = `UPDATE handoff_notes SET status = $2, finalized_at = NULL, finalized_by = NULL, updated_at = $3 WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')`
		res, err = r.db.ExecContext(ctx, query, id, status, at)
	}
	if err != nil {
		return false, fmt.Errorf("update handoff status: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("update handoff status: rows affected: %w", err)
	}
	return affected > 0, nil
}

// Reactivate moves a terminal note back to an open state and clears the
// finalization stamp along with the reactivating coordinator's flag.
func (r *HandoffRepository) Reactivate(ctx context.Context, id string, status models.HandoffNoteStatus, actorID string, at time.Time) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin reactivate tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	const noteQuery = `UPDATE handoff_notes SET status = $2, finalized_at = NULL, finalized_by = NULL, updated_at = $3 WHERE id = $1`
	if _, err := tx.ExecContext(ctx, noteQuery, id, status, at); err != nil {
		return fmt.Errorf("reactivate handoff note: %w", err)
	}

	const ackQuery = `UPDATE handoff_acknowledgements SET is_acknowledged = FALSE, acknowledged_at = NULL, updated_by = $2, updated_at = $3 WHERE note_id = $1 AND coordinator_id = $2`
	if _, err := tx.ExecContext(ctx, ackQuery, id, actorID, at); err != nil {
		return fmt.Errorf("reset reactivating acknowledgement: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit reactivate tx: %w", err)
	}
	return nil
}

// Delete removes a note and its acknowledgement rows in one transaction.
func (r *HandoffRepository) Delete(ctx context.Context, id string) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete tx: %w", err)
	}
	defer func() { _ = tx.Rollback() }()

	if _, err := tx.ExecContext(ctx, `DELETE FROM handoff_acknowledgements WHERE note_id = $1`, id); err != nil {
		return fmt.Errorf("delete handoff acknowledgements: %w", err)
	}

	res, err := tx.ExecContext(ctx, `DELETE FROM handoff_notes WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("delete handoff note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete handoff note: rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit delete tx: %w", err)
	}
	return nil
}

// ListAcknowledgements returns the stored acknowledgement rows for a note.
func (r *HandoffRepository) ListAcknowledgements(ctx context.Context, noteID string) ([]models.HandoffAcknowledgement, error) {
	const query = `SELECT id, note_id, coordinator_id, is_acknowledged, acknowledged_at, updated_by, updated_at FROM handoff_acknowledgements WHERE note_id = $1 ORDER BY updated_at ASC`
	var acks []models.HandoffAcknowledgement
	if err := r.db.SelectContext(ctx, &acks, query, noteID); err != nil {
		return nil, fmt.Errorf("list acknowledgements: %w", err)
	}
	return acks, nil
}

// UpsertAcknowledgement writes one coordinator's flag, keeping the
// note × coordinator pair unique.
func (r *HandoffRepository) UpsertAcknowledgement(ctx context.Context, ack *models.HandoffAcknowledgement) error {
	if ack.ID == "" {
		ack.ID = uuid.NewString()
	}
	ack.UpdatedAt = time.Now().UTC()

	const query = `INSERT INTO handoff_acknowledgements (id, note_id, coordinator_id, is_acknowledged, acknowledged_at, updated_by, updated_at)
VALUES (:id, :note_id, :coordinator_id, :is_acknowledged, :acknowledged_at, :updated_by, :updated_at)
ON CONFLICT (note_id, coordinator_id) DO UPDATE SET is_acknowledged = EXCLUDED.is_acknowledged, acknowledged_at = EXCLUDED.acknowledged_at, updated_by = EXCLUDED.updated_by, updated_at = EXCLUDED.updated_at`
	if _, err := r.db.NamedExecContext(ctx, query, ack); err != nil {
		return fmt.Errorf("upsert acknowledgement: %w", err)
	}
	return nil
}

// CountPendingAcknowledgements returns how many of the given coordinators
// have not acknowledged the note. Coordinators without a stored row count
// as pending.
func (r *HandoffRepository) CountPendingAcknowledgements(ctx context.Context, noteID string, coordinatorIDs []string) (int, error) {
	if len(coordinatorIDs) == 0 {
		return 0, nil
	}
	query, args, err := sqlx.In(`SELECT COUNT(*) FROM handoff_acknowledgements WHERE note_id = ? AND coordinator_id IN (?) AND is_acknowledged = TRUE`, noteID, coordinatorIDs)
	if err != nil {
		return 0, fmt.Errorf("build pending acknowledgements query: %w", err)
	}
	query = r.db.Rebind(query)

	var acked int
	if err := r.db.GetContext(ctx, &acked, query, args...); err != nil {
		return 0, fmt.Errorf("count acknowledged coordinators: %w", err)
	}
	return len(coordinatorIDs) - acked, nil
}

// AutoComplete finalizes an informative note once unanimity is reached.
// The conditional update makes concurrent acknowledgements safe: only one
// caller observes an affected row, and terminal or follow-up notes are
// never touched.
func (r *HandoffRepository) AutoComplete(ctx context.Context, noteID, actorID string, at time.Time) (bool, error) {
	const query = `UPDATE handoff_notes SET status = 'COMPLETED', finalized_at = $2, finalized_by = $3, updated_at = $2 WHERE id = $1 AND type = 'INFORMATIVE' AND status NOT IN ('COMPLETED', 'CANCELLED')`
	res, err := r.db.ExecContext(ctx, query, noteID, at, actorID)
	if err != nil {
		return false, fmt.Errorf("auto-complete handoff note: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("auto-complete handoff note: rows affected: %w", err)
	}
	return affected > 0, nil
}
