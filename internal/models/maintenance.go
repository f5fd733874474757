package models

import "time"

// MaintenanceStatus is the lifecycle state of a maintenance activity.
type MaintenanceStatus string

const (
	MaintenanceStatusScheduled  MaintenanceStatus = "SCHEDULED"
	MaintenanceStatusInProgress MaintenanceStatus = "IN_PROGRESS"
	MaintenanceStatusDone       MaintenanceStatus = "DONE"
	MaintenanceStatusCancelled  MaintenanceStatus = "CANCELLED"
)

// MaintenanceActivity is a technical intervention on monitored equipment.
type MaintenanceActivity struct {
	ID           string            `db:"id" json:"id"`
	Title        string            `db:"title" json:"title"`
	Equipment    string            `db:"equipment" json:"equipment"`
	ScheduledFor time.Time         `db:"scheduled_for" json:"scheduled_for"`
	Status       MaintenanceStatus `db:"status" json:"status"`
	TechnicianID *string           `db:"technician_id" json:"technician_id,omitempty"`
	Notes        string            `db:"notes" json:"notes"`
	CreatedBy    string            `db:"created_by" json:"created_by"`
	CreatedAt    time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt    time.Time         `db:"updated_at" json:"updated_at"`
}

// EvidencePhoto is photo proof attached to a maintenance activity.
type EvidencePhoto struct {
	ID         string     `db:"id" json:"id"`
	ActivityID string     `db:"activity_id" json:"activity_id"`
	FilePath   string     `db:"file_path" json:"-"`
	MimeType   string     `db:"mime_type" json:"mime_type"`
	SizeBytes  int64      `db:"size_bytes" json:"size_bytes"`
	Caption    string     `db:"caption" json:"caption"`
	UploadedBy string     `db:"uploaded_by" json:"uploaded_by"`
	CreatedAt  time.Time  `db:"created_at" json:"created_at"`
	DeletedAt  *time.Time `db:"deleted_at" json:"-"`
}

// MaintenanceFilter captures listing criteria for activities.
type MaintenanceFilter struct {
	Status       *MaintenanceStatus
	Equipment    string
	TechnicianID string
	DateFrom     *time.Time
	DateTo       *time.Time
	Page         int
	PageSize     int
	SortBy       string
	SortOrder    string
}
