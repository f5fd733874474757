package models

import "time"

// Audit action identifiers recorded alongside privileged writes.
const (
	AuditActionLogin          = "LOGIN"
	AuditActionLogout         = "LOGOUT"
	AuditActionPasswordChange = "PASSWORD_CHANGE"
	AuditActionUserCreate     = "USER_CREATE"
	AuditActionUserUpdate     = "USER_UPDATE"
	AuditActionUserDelete     = "USER_DELETE"
	AuditActionNoteStatus     = "HANDOFF_STATUS_CHANGE"
	AuditActionNoteDelete     = "HANDOFF_DELETE"
	AuditActionEvidenceUpload = "EVIDENCE_UPLOAD"
	AuditActionEvidenceDelete = "EVIDENCE_DELETE"
)

// AuditLog records who did what to which resource.
type AuditLog struct {
	ID         string     `db:"id" json:"id"`
	UserID     *string    `db:"user_id" json:"user_id,omitempty"`
	Action     string     `db:"action" json:"action"`
	Resource   string     `db:"resource" json:"resource"`
	ResourceID *string    `db:"resource_id" json:"resource_id,omitempty"`
	NewValues  []byte     `db:"new_values" json:"new_values,omitempty"`
	IPAddress  string     `db:"ip_address" json:"ip_address"`
	UserAgent  string     `db:"user_agent" json:"user_agent"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"-"`
}
