package models

import "time"

// HandoffNoteType distinguishes informative notes (eligible for
// auto-completion) from follow-up notes.
type HandoffNoteType string

const (
	HandoffTypeInformative HandoffNoteType = "INFORMATIVE"
	HandoffTypeFollowUp    HandoffNoteType = "FOLLOW_UP"
)

// HandoffNotePriority orders notes in listings; it has no workflow effect.
type HandoffNotePriority string

const (
	HandoffPriorityHigh   HandoffNotePriority = "HIGH"
	HandoffPriorityMedium HandoffNotePriority = "MEDIUM"
	HandoffPriorityLow    HandoffNotePriority = "LOW"
)

// HandoffNoteStatus is the lifecycle state of a note. COMPLETED and
// CANCELLED are terminal.
type HandoffNoteStatus string

const (
	HandoffStatusScheduled  HandoffNoteStatus = "SCHEDULED"
	HandoffStatusPending    HandoffNoteStatus = "PENDING"
	HandoffStatusInProgress HandoffNoteStatus = "IN_PROGRESS"
	HandoffStatusCompleted  HandoffNoteStatus = "COMPLETED"
	HandoffStatusCancelled  HandoffNoteStatus = "CANCELLED"
)

// IsTerminal reports whether the status finalizes a note.
func (s HandoffNoteStatus) IsTerminal() bool {
	return s == HandoffStatusCompleted || s == HandoffStatusCancelled
}

// Valid reports whether the status is one of the known lifecycle states.
func (s HandoffNoteStatus) Valid() bool {
	switch s {
	case HandoffStatusScheduled, HandoffStatusPending, HandoffStatusInProgress, HandoffStatusCompleted, HandoffStatusCancelled:
		return true
	default:
		return false
	}
}

// HandoffNote is a shift-handoff record passed between coordinators.
// finalized_at is non-null exactly when the status is terminal.
type HandoffNote struct {
	ID                    string              `db:"id" json:"id"`
	Description           string              `db:"description" json:"description"`
	Type                  HandoffNoteType     `db:"type" json:"type"`
	Priority              HandoffNotePriority `db:"priority" json:"priority"`
	Status                HandoffNoteStatus   `db:"status" json:"status"`
	AssignedCoordinatorID *string             `db:"assigned_coordinator_id" json:"assigned_coordinator_id,omitempty"`
	DeliveringUserID      *string             `db:"delivering_user_id" json:"delivering_user_id,omitempty"`
	CreatedBy             string              `db:"created_by" json:"created_by"`
	CreatedAt             time.Time           `db:"created_at" json:"created_at"`
	UpdatedAt             time.Time           `db:"updated_at" json:"updated_at"`
	FinalizedAt           *time.Time          `db:"finalized_at" json:"finalized_at,omitempty"`
	FinalizedBy           *string             `db:"finalized_by" json:"finalized_by,omitempty"`
}

// HandoffAcknowledgement is a coordinator's per-note seen/confirmed flag.
// At most one row exists per note × coordinator.
type HandoffAcknowledgement struct {
	ID             string     `db:"id" json:"id"`
	NoteID         string     `db:"note_id" json:"note_id"`
	CoordinatorID  string     `db:"coordinator_id" json:"coordinator_id"`
	IsAcknowledged bool       `db:"is_acknowledged" json:"is_acknowledged"`
	AcknowledgedAt *time.Time `db:"acknowledged_at" json:"acknowledged_at,omitempty"`
	UpdatedBy      string     `db:"updated_by" json:"updated_by"`
	UpdatedAt      time.Time  `db:"updated_at" json:"updated_at"`
}

// HandoffNoteDetail embeds the acknowledgement rows returned with a note.
type HandoffNoteDetail struct {
	HandoffNote
	Acknowledgements []AcknowledgementStatus `json:"acknowledgements"`
}

// AcknowledgementStatus is the read model for one coordinator's flag.
// Coordinators without a stored row are synthesized with checked=false.
type AcknowledgementStatus struct {
	CoordinatorID   string     `json:"coordinator_id"`
	CoordinatorName string     `json:"coordinator_name,omitempty"`
	IsAcknowledged  bool       `json:"is_acknowledged"`
	AcknowledgedAt  *time.Time `json:"acknowledged_at,omitempty"`
	UpdatedBy       string     `json:"updated_by,omitempty"`
}

// HandoffNoteFilter captures listing criteria.
type HandoffNoteFilter struct {
	Status    *HandoffNoteStatus
	Type      *HandoffNoteType
	Priority  *HandoffNotePriority
	Search    string
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
