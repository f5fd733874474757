package service

import (
	"context"
	"database/sql"
	"errors"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
)

type handoffRepoStub struct {
	notes map[string]*models.HandoffNote
	acks  map[string]map[string]models.HandoffAcknowledgement

	autoCompleteCalls int
	autoCompleteErr   error
	reactivateCalls   int
	deleteCalls       int
}

func newHandoffRepoStub() *handoffRepoStub {
	return &handoffRepoStub{
		notes: map[string]*models.HandoffNote{},
		acks:  map[string]map[string]models.HandoffAcknowledgement{},
	}
}

func (s *handoffRepoStub) Create(ctx context.Context, note *models.HandoffNote) error {
	if note.ID == "" {
		note.ID = uuid.NewString()
	}
	copied := *note
	s.notes[note.ID] = &copied
	return nil
}

func (s *handoffRepoStub) FindByID(ctx context.Context, id string) (*models.HandoffNote, error) {
	note, ok := s.notes[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	copied := *note
	return &copied, nil
}

func (s *handoffRepoStub) List(ctx context.Context, filter models.HandoffNoteFilter) ([]models.HandoffNote, int, error) {
	result := make([]models.HandoffNote, 0, len(s.notes))
	for _, note := range s.notes {
		result = append(result, *note)
	}
	return result, len(result), nil
}

func (s *handoffRepoStub) Update(ctx context.Context, note *models.HandoffNote) error {
	stored, ok := s.notes[note.ID]
	if !ok {
		return sql.ErrNoRows
	}
	stored.Description = note.Description
	stored.Type = note.Type
	stored.Priority = note.Priority
	stored.AssignedCoordinatorID = note.AssignedCoordinatorID
	stored.DeliveringUserID = note.DeliveringUserID
	return nil
}

func (s *handoffRepoStub) UpdateStatus(ctx context.Context, id string, status models.HandoffNoteStatus, actorID string, at time.Time) (bool, error) {
	note, ok := s.notes[id]
	if !ok || note.Status.IsTerminal() {
		return false, nil
	}
	note.Status = status
	if status.IsTerminal() {
		note.FinalizedAt = &at
		note.FinalizedBy = &actorID
	} else {
		note.FinalizedAt = nil
		note.FinalizedBy = nil
	}
	return true, nil
}

func (s *handoffRepoStub) Reactivate(ctx context.Context, id string, status models.HandoffNoteStatus, actorID string, at time.Time) error {
	s.reactivateCalls++
	note, ok := s.notes[id]
	if !ok {
		return sql.ErrNoRows
	}
	note.Status = status
	note.FinalizedAt = nil
	note.FinalizedBy = nil
	if rows, ok := s.acks[id]; ok {
		if row, ok := rows[actorID]; ok {
			row.IsAcknowledged = false
			row.AcknowledgedAt = nil
			row.UpdatedBy = actorID
			rows[actorID] = row
		}
	}
	return nil
}

func (s *handoffRepoStub) Delete(ctx context.Context, id string) error {
	s.deleteCalls++
	if _, ok := s.notes[id]; !ok {
		return sql.ErrNoRows
	}
	delete(s.notes, id)
	delete(s.acks, id)
	return nil
}

func (s *handoffRepoStub) ListAcknowledgements(ctx context.Context, noteID string) ([]models.HandoffAcknowledgement, error) {
	rows := make([]models.HandoffAcknowledgement, 0)
	for _, row := range s.acks[noteID] {
		rows = append(rows, row)
	}
	return rows, nil
}

func (s *handoffRepoStub) UpsertAcknowledgement(ctx context.Context, ack *models.HandoffAcknowledgement) error {
	if s.acks[ack.NoteID] == nil {
		s.acks[ack.NoteID] = map[string]models.HandoffAcknowledgement{}
	}
	if existing, ok := s.acks[ack.NoteID][ack.CoordinatorID]; ok {
		ack.ID = existing.ID
	} else if ack.ID == "" {
		ack.ID = uuid.NewString()
	}
	s.acks[ack.NoteID][ack.CoordinatorID] = *ack
	return nil
}

func (s *handoffRepoStub) CountPendingAcknowledgements(ctx context.Context, noteID string, coordinatorIDs []string) (int, error) {
	pending := 0
	for _, id := range coordinatorIDs {
		row, ok := s.acks[noteID][id]
		if !ok || !row.IsAcknowledged {
			pending++
		}
	}
	return pending, nil
}

func (s *handoffRepoStub) AutoComplete(ctx context.Context, noteID, actorID string, at time.Time) (bool, error) {
	s.autoCompleteCalls++
	if s.autoCompleteErr != nil {
		return false, s.autoCompleteErr
	}
	note, ok := s.notes[noteID]
	if !ok || note.Type != models.HandoffTypeInformative || note.Status.IsTerminal() {
		return false, nil
	}
	note.Status = models.HandoffStatusCompleted
	note.FinalizedAt = &at
	note.FinalizedBy = &actorID
	return true, nil
}

type rosterStub struct {
	coordinators []models.User
	err          error
}

func (s rosterStub) ListActiveCoordinators(ctx context.Context) ([]models.User, error) {
	if s.err != nil {
		return nil, s.err
	}
	return s.coordinators, nil
}

func coordinatorClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleCoordinator}
}

func adminClaims(id string) *models.JWTClaims {
	return &models.JWTClaims{UserID: id, Role: models.RoleAdmin}
}

func seedNote(repo *handoffRepoStub, noteType models.HandoffNoteType, status models.HandoffNoteStatus) *models.HandoffNote {
	note := &models.HandoffNote{
		ID:          uuid.NewString(),
		Description: "check backup generator fuel level",
		Type:        noteType,
		Priority:    models.HandoffPriorityMedium,
		Status:      status,
		CreatedBy:   "admin-1",
		CreatedAt:   time.Now().UTC(),
	}
	if status.IsTerminal() {
		at := time.Now().UTC()
		by := "admin-1"
		note.FinalizedAt = &at
		note.FinalizedBy = &by
	}
	repo.notes[note.ID] = note
	return note
}

func twoCoordinatorRoster() rosterStub {
	return rosterStub{coordinators: []models.User{
		{ID: "c1", FullName: "Ana", Role: models.RoleCoordinator},
		{ID: "c2", FullName: "Bruno", Role: models.RoleCoordinator},
	}}
}

func TestAutoCompletionRequiresUnanimity(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims("c1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.NoError(t, err)
	assert.Equal(t, models.HandoffStatusPending, repo.notes[note.ID].Status)
	assert.Zero(t, repo.autoCompleteCalls)

	_, err = svc.SetAcknowledgement(context.Background(), coordinatorClaims("c2"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c2", Checked: true})
	require.NoError(t, err)
	assert.Equal(t, models.HandoffStatusCompleted, repo.notes[note.ID].Status)
	require.NotNil(t, repo.notes[note.ID].FinalizedAt)
	assert.Equal(t, "c2", *repo.notes[note.ID].FinalizedBy)
}

func TestAutoCompletionBlockedByRosterGrowth(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	roster := rosterStub{coordinators: []models.User{
		{ID: "c1", Role: models.RoleCoordinator},
		{ID: "c2", Role: models.RoleCoordinator},
		{ID: "c3", Role: models.RoleCoordinator},
	}}
	svc := NewHandoffService(repo, roster, nil, nil)

	for _, id := range []string{"c1", "c2"} {
		_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims(id), note.ID, SetAcknowledgementRequest{CoordinatorID: id, Checked: true})
		require.NoError(t, err)
	}

	// c3 joined the roster and has no row, so the note must stay open.
	assert.Equal(t, models.HandoffStatusPending, repo.notes[note.ID].Status)
	assert.Nil(t, repo.notes[note.ID].FinalizedAt)
}

func TestFollowUpNotesNeverAutoComplete(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeFollowUp, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	for _, id := range []string{"c1", "c2"} {
		_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims(id), note.ID, SetAcknowledgementRequest{CoordinatorID: id, Checked: true})
		require.NoError(t, err)
	}

	assert.Equal(t, models.HandoffStatusPending, repo.notes[note.ID].Status)
	assert.Zero(t, repo.autoCompleteCalls)
}

func TestEmptyRosterNeverCompletes(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	svc := NewHandoffService(repo, rosterStub{}, nil, nil)

	_, err := svc.SetAcknowledgement(context.Background(), adminClaims("a1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
	assert.Equal(t, models.HandoffStatusPending, repo.notes[note.ID].Status)
	assert.Zero(t, repo.autoCompleteCalls)
}

func TestCoordinatorCannotToggleOthersFlag(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims("c2"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
	assert.Empty(t, repo.acks[note.ID])
}

func TestAdminMayToggleAnyFlag(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	acks, err := svc.SetAcknowledgement(context.Background(), adminClaims("a1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.NoError(t, err)

	var found bool
	for _, ack := range acks {
		if ack.CoordinatorID == "c1" {
			found = true
			assert.True(t, ack.IsAcknowledged)
			assert.Equal(t, "a1", ack.UpdatedBy)
		}
	}
	assert.True(t, found)
}

func TestViewerCannotAcknowledge(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	viewer := &models.JWTClaims{UserID: "v1", Role: models.RoleViewer}
	_, err := svc.SetAcknowledgement(context.Background(), viewer, note.ID, SetAcknowledgementRequest{CoordinatorID: "v1", Checked: true})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErr.Code)
}

func TestAcknowledgementToggleIsIdempotent(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeFollowUp, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	for i := 0; i < 2; i++ {
		_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims("c1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
		require.NoError(t, err)
	}

	assert.Len(t, repo.acks[note.ID], 1)
	row := repo.acks[note.ID]["c1"]
	assert.True(t, row.IsAcknowledged)
	require.NotNil(t, row.AcknowledgedAt)
}

func TestReacknowledgingRefreshesTimestamp(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeFollowUp, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	t1 := time.Date(2026, 8, 30, 7, 0, 0, 0, time.UTC)
	t2 := t1.Add(3 * time.Hour)

	svc.now = func() time.Time { return t1 }
	_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims("c1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.NoError(t, err)

	svc.now = func() time.Time { return t2 }
	_, err = svc.SetAcknowledgement(context.Background(), coordinatorClaims("c1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.NoError(t, err)

	row := repo.acks[note.ID]["c1"]
	require.NotNil(t, row.AcknowledgedAt)
	assert.Equal(t, t2, *row.AcknowledgedAt)
}

func TestAutoCompletionFailureSurfaces(t *testing.T) {
	repo := newHandoffRepoStub()
	repo.autoCompleteErr = errors.New("deadlock detected")
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims("c1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.NoError(t, err)

	_, err = svc.SetAcknowledgement(context.Background(), coordinatorClaims("c2"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c2", Checked: true})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
	assert.Equal(t, models.HandoffStatusPending, repo.notes[note.ID].Status)

	// The flag itself was saved, so a later attempt re-runs the evaluation.
	repo.autoCompleteErr = nil
	_, err = svc.SetAcknowledgement(context.Background(), coordinatorClaims("c2"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c2", Checked: true})
	require.NoError(t, err)
	assert.Equal(t, models.HandoffStatusCompleted, repo.notes[note.ID].Status)
}

func TestUncheckingClearsTimestamp(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeFollowUp, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims("c1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.NoError(t, err)
	_, err = svc.SetAcknowledgement(context.Background(), coordinatorClaims("c1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: false})
	require.NoError(t, err)

	row := repo.acks[note.ID]["c1"]
	assert.False(t, row.IsAcknowledged)
	assert.Nil(t, row.AcknowledgedAt)
}

func TestFinalizationConsistencyOnStatusChange(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeFollowUp, models.HandoffStatusInProgress)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	cancelled := models.HandoffStatusCancelled
	detail, err := svc.Update(context.Background(), adminClaims("a1"), note.ID, UpdateHandoffNoteRequest{Status: &cancelled})
	require.NoError(t, err)
	assert.Equal(t, models.HandoffStatusCancelled, detail.Status)
	require.NotNil(t, detail.FinalizedAt)
	assert.Equal(t, "a1", *detail.FinalizedBy)
}

func TestReactivationClearsFinalizationAndActorFlag(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusCompleted)
	repo.acks[note.ID] = map[string]models.HandoffAcknowledgement{
		"c1": {ID: "a1", NoteID: note.ID, CoordinatorID: "c1", IsAcknowledged: true, UpdatedBy: "c1"},
		"c2": {ID: "a2", NoteID: note.ID, CoordinatorID: "c2", IsAcknowledged: true, UpdatedBy: "c2"},
	}
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	pending := models.HandoffStatusPending
	detail, err := svc.Update(context.Background(), coordinatorClaims("c2"), note.ID, UpdateHandoffNoteRequest{Status: &pending})
	require.NoError(t, err)
	assert.Equal(t, models.HandoffStatusPending, detail.Status)
	assert.Nil(t, detail.FinalizedAt)
	assert.Nil(t, detail.FinalizedBy)
	assert.Equal(t, 1, repo.reactivateCalls)

	assert.False(t, repo.acks[note.ID]["c2"].IsAcknowledged)
	assert.True(t, repo.acks[note.ID]["c1"].IsAcknowledged)
}

func TestContentEditOnFinalizedNoteRejected(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusCompleted)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	desc := "amended after completion"
	_, err := svc.Update(context.Background(), adminClaims("a1"), note.ID, UpdateHandoffNoteRequest{Description: &desc})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrFinalized.Code, appErr.Code)
}

func TestDeleteRequiresAdmin(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	err := svc.Delete(context.Background(), coordinatorClaims("c1"), note.ID)
	require.Error(t, err)
	assert.Zero(t, repo.deleteCalls)

	err = svc.Delete(context.Background(), adminClaims("a1"), note.ID)
	require.NoError(t, err)
	_, ok := repo.notes[note.ID]
	assert.False(t, ok)
}

func TestCreateDefaultsAndPermissions(t *testing.T) {
	repo := newHandoffRepoStub()
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	viewer := &models.JWTClaims{UserID: "v1", Role: models.RoleViewer}
	_, err := svc.Create(context.Background(), viewer, CreateHandoffNoteRequest{Description: "x", Type: models.HandoffTypeInformative})
	require.Error(t, err)

	note, err := svc.Create(context.Background(), coordinatorClaims("c1"), CreateHandoffNoteRequest{
		Description: "verify camera 14 after firmware update",
		Type:        models.HandoffTypeFollowUp,
	})
	require.NoError(t, err)
	assert.Equal(t, models.HandoffStatusPending, note.Status)
	assert.Equal(t, models.HandoffPriorityMedium, note.Priority)
	assert.Equal(t, "c1", note.CreatedBy)
}

func TestGetSynthesizesMissingRosterRows(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	at := time.Now().UTC()
	repo.acks[note.ID] = map[string]models.HandoffAcknowledgement{
		"c1": {ID: "a1", NoteID: note.ID, CoordinatorID: "c1", IsAcknowledged: true, AcknowledgedAt: &at, UpdatedBy: "c1"},
	}
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	detail, err := svc.Get(context.Background(), note.ID)
	require.NoError(t, err)
	require.Len(t, detail.Acknowledgements, 2)

	byID := map[string]models.AcknowledgementStatus{}
	for _, ack := range detail.Acknowledgements {
		byID[ack.CoordinatorID] = ack
	}
	assert.True(t, byID["c1"].IsAcknowledged)
	assert.False(t, byID["c2"].IsAcknowledged)
	assert.Nil(t, byID["c2"].AcknowledgedAt)
}

func TestGetUnknownNote(t *testing.T) {
	repo := newHandoffRepoStub()
	svc := NewHandoffService(repo, twoCoordinatorRoster(), nil, nil)

	_, err := svc.Get(context.Background(), "missing")
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErr.Code)
}

func TestRosterFailureSurfacesInternalError(t *testing.T) {
	repo := newHandoffRepoStub()
	note := seedNote(repo, models.HandoffTypeInformative, models.HandoffStatusPending)
	svc := NewHandoffService(repo, rosterStub{err: errors.New("db down")}, nil, nil)

	_, err := svc.SetAcknowledgement(context.Background(), coordinatorClaims("c1"), note.ID, SetAcknowledgementRequest{CoordinatorID: "c1", Checked: true})
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrInternal.Code, appErr.Code)
}
