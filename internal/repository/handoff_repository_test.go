package repository

import (
	"context"
	"database/sql"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
)

func TestHandoffFindByID(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows([]string{"id", "description", "type", "priority", "status", "assigned_coordinator_id", "delivering_user_id", "created_by", "created_at", "updated_at", "finalized_at", "finalized_by"}).
		AddRow("n1", "generator check pending", string(models.HandoffTypeInformative), string(models.HandoffPriorityHigh), string(models.HandoffStatusPending), nil, nil, "u1", now, now, nil, nil)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, description, type, priority, status, assigned_coordinator_id, delivering_user_id, created_by, created_at, updated_at, finalized_at, finalized_by FROM handoff_notes WHERE id = $1 LIMIT 1")).
		WithArgs("n1").
		WillReturnRows(rows)

	note, err := repo.FindByID(context.Background(), "n1")
	require.NoError(t, err)
	assert.Equal(t, models.HandoffStatusPending, note.Status)
	assert.Nil(t, note.FinalizedAt)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandoffUpdateStatusTerminalStampsFinalization(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE handoff_notes SET status = $2, finalized_at = $3, finalized_by = $4, updated_at = $3 WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')")).
		WithArgs("n1", models.HandoffStatusCancelled, at, "u1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.UpdateStatus(context.Background(), "n1", models.HandoffStatusCancelled, "u1", at)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandoffUpdateStatusSkipsTerminalRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE handoff_notes SET status = $2, finalized_at = NULL, finalized_by = NULL, updated_at = $3 WHERE id = $1 AND status NOT IN ('COMPLETED', 'CANCELLED')")).
		WithArgs("n1", models.HandoffStatusInProgress, at).
		WillReturnResult(sqlmock.NewResult(0, 0))

	applied, err := repo.UpdateStatus(context.Background(), "n1", models.HandoffStatusInProgress, "u1", at)
	require.NoError(t, err)
	assert.False(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandoffAutoCompleteOnlyInformativeOpenRows(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	at := time.Now().UTC()
	mock.ExpectExec(regexp.QuoteMeta("UPDATE handoff_notes SET status = 'COMPLETED', finalized_at = $2, finalized_by = $3, updated_at = $2 WHERE id = $1 AND type = 'INFORMATIVE' AND status NOT IN ('COMPLETED', 'CANCELLED')")).
		WithArgs("n1", at, "c1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	applied, err := repo.AutoComplete(context.Background(), "n1", "c1", at)
	require.NoError(t, err)
	assert.True(t, applied)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandoffUpsertAcknowledgement(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	mock.ExpectExec("INSERT INTO handoff_acknowledgements").WillReturnResult(sqlmock.NewResult(0, 1))

	at := time.Now().UTC()
	err := repo.UpsertAcknowledgement(context.Background(), &models.HandoffAcknowledgement{
		NoteID:         "n1",
		CoordinatorID:  "c1",
		IsAcknowledged: true,
		AcknowledgedAt: &at,
		UpdatedBy:      "c1",
	})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandoffCountPendingAcknowledgements(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(2)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM handoff_acknowledgements").
		WithArgs("n1", "c1", "c2", "c3").
		WillReturnRows(rows)

	pending, err := repo.CountPendingAcknowledgements(context.Background(), "n1", []string{"c1", "c2", "c3"})
	require.NoError(t, err)
	assert.Equal(t, 1, pending)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandoffCountPendingAcknowledgementsEmptyRoster(t *testing.T) {
	db, _, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	pending, err := repo.CountPendingAcknowledgements(context.Background(), "n1", nil)
	require.NoError(t, err)
	assert.Zero(t, pending)
}

func TestHandoffDeleteCascadesAcknowledgements(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM handoff_acknowledgements WHERE note_id = $1")).
		WithArgs("n1").
		WillReturnResult(sqlmock.NewResult(0, 3))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM handoff_notes WHERE id = $1")).
		WithArgs("n1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	err := repo.Delete(context.Background(), "n1")
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestHandoffDeleteMissingNote(t *testing.T) {
	db, mock, cleanup := newMock(t)
	defer cleanup()
	repo := NewHandoffRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM handoff_acknowledgements WHERE note_id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectExec(regexp.QuoteMeta("DELETE FROM handoff_notes WHERE id = $1")).
		WithArgs("missing").
		WillReturnResult(sqlmock.NewResult(0, 0))
	mock.ExpectRollback()

	err := repo.Delete(context.Background(), "missing")
	assert.ErrorIs(t, err, sql.ErrNoRows)
}
