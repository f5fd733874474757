package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/opsmon-dev/cmo-ops-api/internal/models"
	appErrors "github.com/opsmon-dev/cmo-ops-api/pkg/errors"
)

type handoffNoteRepository interface {
	Create(ctx context.Context, note *models.HandoffNote) error
	FindByID(ctx context.Context, id string) (*models.HandoffNote, error)
	List(ctx context.Context, filter models.HandoffNoteFilter) ([]models.HandoffNote, int, error)
	Update(ctx context.Context, note *models.HandoffNote) error
	UpdateStatus(ctx context.Context, id string, status models.HandoffNoteStatus, actorID string, at time.Time) (bool, error)
	Reactivate(ctx context.Context, id string, status models.HandoffNoteStatus, actorID string, at time.Time) error
	Delete(ctx context.Context, id string) error
	ListAcknowledgements(ctx context.Context, noteID string) ([]models.HandoffAcknowledgement, error)
	UpsertAcknowledgement(ctx context.Context, ack *models.HandoffAcknowledgement) error
	CountPendingAcknowledgements(ctx context.Context, noteID string, coordinatorIDs []string) (int, error)
	AutoComplete(ctx context.Context, noteID, actorID string, at time.Time) (bool, error)
}

type coordinatorRoster interface {
	ListActiveCoordinators(ctx context.Context) ([]models.User, error)
}

// CreateHandoffNoteRequest describes the payload for creating a note.
type CreateHandoffNoteRequest struct {
	Description           string                     `json:"description" validate:"required"`
	Type                  models.HandoffNoteType     `json:"type" validate:"required,oneof=INFORMATIVE FOLLOW_UP"`
	Priority              models.HandoffNotePriority `json:"priority" validate:"omitempty,oneof=HIGH MEDIUM LOW"`
	Status                models.HandoffNoteStatus   `json:"status" validate:"omitempty,oneof=SCHEDULED PENDING IN_PROGRESS"`
	AssignedCoordinatorID *string                    `json:"assigned_coordinator_id"`
	DeliveringUserID      *string                    `json:"delivering_user_id"`
}

// UpdateHandoffNoteRequest updates content and, optionally, lifecycle state.
// Nil fields are left untouched.
type UpdateHandoffNoteRequest struct {
	Description           *string                     `json:"description"`
	Type                  *models.HandoffNoteType     `json:"type" validate:"omitempty,oneof=INFORMATIVE FOLLOW_UP"`
	Priority              *models.HandoffNotePriority `json:"priority" validate:"omitempty,oneof=HIGH MEDIUM LOW"`
	Status                *models.HandoffNoteStatus   `json:"status" validate:"omitempty,oneof=SCHEDULED PENDING IN_PROGRESS COMPLETED CANCELLED"`
	AssignedCoordinatorID *string                     `json:"assigned_coordinator_id"`
	DeliveringUserID      *string                     `json:"delivering_user_id"`
}

// SetAcknowledgementRequest toggles one coordinator's flag on a note.
type SetAcknowledgementRequest struct {
	CoordinatorID string `json:"coordinator_id" validate:"required"`
	Checked       bool   `json:"checked"`
}

// HandoffService orchestrates the shift-handoff note workflow: lifecycle
// transitions, per-coordinator acknowledgements and the auto-completion
// rule that finalizes informative notes on unanimous acknowledgement.
type HandoffService struct {
	repo      handoffNoteRepository
	roster    coordinatorRoster
	validator *validator.Validate
	logger    *zap.Logger
	now       func() time.Time
}

// NewHandoffService creates a new handoff service instance.
func NewHandoffService(repo handoffNoteRepository, roster coordinatorRoster, validate *validator.Validate, logger *zap.Logger) *HandoffService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HandoffService{repo: repo, roster: roster, validator: validate, logger: logger, now: time.Now}
}

// canWrite reports whether the actor may create or mutate notes.
func canWrite(actor *models.JWTClaims) bool {
	if actor == nil {
		return false
	}
	return actor.Role == models.RoleAdmin || actor.Role == models.RoleCoordinator
}

// Create registers a new note. The initial status defaults to PENDING and
// may never be terminal.
func (s *HandoffService) Create(ctx context.Context, actor *models.JWTClaims, req CreateHandoffNoteRequest) (*models.HandoffNote, error) {
	if !canWrite(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators and coordinators may create handoff notes")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid handoff note payload")
	}

	status := req.Status
	if status == "" {
		status = models.HandoffStatusPending
	}
	priority := req.Priority
	if priority == "" {
		priority = models.HandoffPriorityMedium
	}

	note := &models.HandoffNote{
		Description:           req.Description,
		Type:                  req.Type,
		Priority:              priority,
		Status:                status,
		AssignedCoordinatorID: req.AssignedCoordinatorID,
		DeliveringUserID:      req.DeliveringUserID,
		CreatedBy:             actor.UserID,
	}

	if err := s.repo.Create(ctx, note); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create handoff note")
	}
	return note, nil
}

// List returns paginated notes.
func (s *HandoffService) List(ctx context.Context, filter models.HandoffNoteFilter) ([]models.HandoffNote, *models.Pagination, error) {
	notes, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list handoff notes")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}

	pagination := &models.Pagination{
		Page:       page,
		PageSize:   size,
		TotalCount: total,
	}
	return notes, pagination, nil
}

// Get returns a note with its acknowledgement set resolved against the
// current coordinator roster.
func (s *HandoffService) Get(ctx context.Context, id string) (*models.HandoffNoteDetail, error) {
	note, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "handoff note not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load handoff note")
	}

	acks, err := s.ListAcknowledgements(ctx, id)
	if err != nil {
		return nil, err
	}

	return &models.HandoffNoteDetail{HandoffNote: *note, Acknowledgements: acks}, nil
}

// Update applies a partial update. Content edits on a finalized note are
// rejected; a status change on a finalized note is only valid as a
// reactivation back to a non-terminal state.
func (s *HandoffService) Update(ctx context.Context, actor *models.JWTClaims, id string, req UpdateHandoffNoteRequest) (*models.HandoffNoteDetail, error) {
	if !canWrite(actor) {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "only administrators and coordinators may edit handoff notes")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid handoff note payload")
	}

	note, err := s.repo.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "handoff note not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load handoff note")
	}

	hasContentChange := req.Description != nil || req.Type != nil || req.Priority != nil ||
		req.AssignedCoordinatorID != nil || req.DeliveringUserID != nil

	if hasContentChange && note.Status.IsTerminal() {
		return nil, appErrors.Clone(appErrors.ErrFinalized, "cannot edit a finalized handoff note")
	}

	if hasContentChange {
		if req.Description != nil {
			note.Description = *req.Description
		}
		if req.Type != nil {
			note.Type = *req.Type
		}
		if req.Priority != nil {
			note.Priority = *req.Priority
		}
		if req.AssignedCoordinatorID != nil {
			note.AssignedCoordinatorID = req.AssignedCoordinatorID
		}
		if req.DeliveringUserID != nil {
			note.DeliveringUserID = req.DeliveringUserID
		}
		if err := s.repo.Update(ctx, note); err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update handoff note")
		}
	}

	if req.Status != nil && *req.Status != note.Status {
		if err := s.changeStatus(ctx, actor, note, *req.Status); err != nil {
			return nil, err
		}
	}

	return s.Get(ctx, id)
}

// changeStatus routes a lifecycle transition. note reflects pre-transition
// state as loaded by the caller.
func (s *HandoffService) changeStatus(ctx context.Context, actor *models.JWTClaims, note *models.HandoffNote, newStatus models.HandoffNoteStatus) error {
	at := s.now().UTC()

	if note.Status.IsTerminal() {
		if newStatus.IsTerminal() {
			return appErrors.Clone(appErrors.ErrFinalized, "note is finalized; reactivate it before changing status")
		}
		if err := s.repo.Reactivate(ctx, note.ID, newStatus, actor.UserID, at); err != nil {
			return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to reactivate handoff note")
		}
		s.logger.Info("handoff note reactivated",
			zap.String("note_id", note.ID),
			zap.String("status", string(newStatus)),
			zap.String("actor_id", actor.UserID))
		return nil
	}

	applied, err := s.repo.UpdateStatus(ctx, note.ID, newStatus, actor.UserID, at)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update handoff status")
	}
	if !applied {
		// A concurrent writer finalized the note between our read and write.
		return appErrors.Clone(appErrors.ErrFinalized, "note was finalized concurrently; reactivate it before changing status")
	}
	return nil
}

// Delete removes a note and its acknowledgements. Administrator only.
func (s *HandoffService) Delete(ctx context.Context, actor *models.JWTClaims, id string) error {
	if actor == nil || actor.Role != models.RoleAdmin {
		return appErrors.Clone(appErrors.ErrForbidden, "only administrators may delete handoff notes")
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return appErrors.Clone(appErrors.ErrNotFound, "handoff note not found")
		}
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete handoff note")
	}
	return nil
}

// ListAcknowledgements returns the union of stored acknowledgement rows
// and the current roster. Coordinators without a row appear unchecked, so
// coordinators added after note creation are included lazily at read time.
func (s *HandoffService) ListAcknowledgements(ctx context.Context, noteID string) ([]models.AcknowledgementStatus, error) {
	coordinators, err := s.roster.ListActiveCoordinators(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coordinator roster")
	}

	rows, err := s.repo.ListAcknowledgements(ctx, noteID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load acknowledgements")
	}

	byCoordinator := make(map[string]models.HandoffAcknowledgement, len(rows))
	for _, row := range rows {
		byCoordinator[row.CoordinatorID] = row
	}

	statuses := make([]models.AcknowledgementStatus, 0, len(coordinators))
	for _, coord := range coordinators {
		status := models.AcknowledgementStatus{
			CoordinatorID:   coord.ID,
			CoordinatorName: coord.FullName,
		}
		if row, ok := byCoordinator[coord.ID]; ok {
			status.IsAcknowledged = row.IsAcknowledged
			status.AcknowledgedAt = row.AcknowledgedAt
			status.UpdatedBy = row.UpdatedBy
		}
		statuses = append(statuses, status)
	}
	return statuses, nil
}

// SetAcknowledgement writes one coordinator's flag and then evaluates the
// auto-completion rule. Coordinators may only toggle their own flag;
// administrators may toggle anyone's.
func (s *HandoffService) SetAcknowledgement(ctx context.Context, actor *models.JWTClaims, noteID string, req SetAcknowledgementRequest) ([]models.AcknowledgementStatus, error) {
	if actor == nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "missing actor identity")
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid acknowledgement payload")
	}

	switch actor.Role {
	case models.RoleAdmin:
	case models.RoleCoordinator:
		if actor.UserID != req.CoordinatorID {
			return nil, appErrors.Clone(appErrors.ErrForbidden, "coordinators may only set their own acknowledgement")
		}
	default:
		return nil, appErrors.Clone(appErrors.ErrForbidden, "role is not allowed to acknowledge handoff notes")
	}

	note, err := s.repo.FindByID(ctx, noteID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "handoff note not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load handoff note")
	}

	coordinators, err := s.roster.ListActiveCoordinators(ctx)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load coordinator roster")
	}
	known := false
	rosterIDs := make([]string, 0, len(coordinators))
	for _, coord := range coordinators {
		rosterIDs = append(rosterIDs, coord.ID)
		if coord.ID == req.CoordinatorID {
			known = true
		}
	}
	if !known {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "coordinator not found in current roster")
	}

	ack := &models.HandoffAcknowledgement{
		NoteID:         noteID,
		CoordinatorID:  req.CoordinatorID,
		IsAcknowledged: req.Checked,
		UpdatedBy:      actor.UserID,
	}
	if req.Checked {
		at := s.now().UTC()
		ack.AcknowledgedAt = &at
	}
	if err := s.repo.UpsertAcknowledgement(ctx, ack); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to save acknowledgement")
	}

	if req.Checked {
		if err := s.evaluateAutoCompletion(ctx, actor, note, rosterIDs); err != nil {
			return nil, err
		}
	}

	return s.ListAcknowledgements(ctx, noteID)
}

// evaluateAutoCompletion finalizes an informative note once every
// coordinator in the current roster has acknowledged it. An empty roster
// never completes a note. The final write is a conditional update, so two
// coordinators acknowledging concurrently cannot double-finalize. A failed
// check or write surfaces to the caller; the flag is already saved, so the
// next acknowledgement attempt re-runs the evaluation.
func (s *HandoffService) evaluateAutoCompletion(ctx context.Context, actor *models.JWTClaims, note *models.HandoffNote, rosterIDs []string) error {
	if note.Type != models.HandoffTypeInformative || note.Status.IsTerminal() {
		return nil
	}
	if len(rosterIDs) == 0 {
		return nil
	}

	pending, err := s.repo.CountPendingAcknowledgements(ctx, note.ID, rosterIDs)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to evaluate note completion")
	}
	if pending > 0 {
		return nil
	}

	applied, err := s.repo.AutoComplete(ctx, note.ID, actor.UserID, s.now().UTC())
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to complete note")
	}
	if applied {
		s.logger.Info("handoff note auto-completed",
			zap.String("note_id", note.ID),
			zap.String("actor_id", actor.UserID))
	}
	return nil
}
