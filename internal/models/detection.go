package models

import "time"

// DetectionSource identifies how an incident was spotted.
type DetectionSource string

const (
	DetectionSourceCamera DetectionSource = "CAMERA"
	DetectionSourceSensor DetectionSource = "SENSOR"
	DetectionSourcePatrol DetectionSource = "PATROL"
	DetectionSourceReport DetectionSource = "REPORT"
)

// DetectionSeverity ranks incident urgency.
type DetectionSeverity string

const (
	DetectionSeverityCritical DetectionSeverity = "CRITICAL"
	DetectionSeverityHigh     DetectionSeverity = "HIGH"
	DetectionSeverityMedium   DetectionSeverity = "MEDIUM"
	DetectionSeverityLow      DetectionSeverity = "LOW"
)

// DetectionStatus is the triage state. RESOLVED and DISCARDED are terminal.
type DetectionStatus string

const (
	DetectionStatusOpen      DetectionStatus = "OPEN"
	DetectionStatusInReview  DetectionStatus = "IN_REVIEW"
	DetectionStatusResolved  DetectionStatus = "RESOLVED"
	DetectionStatusDiscarded DetectionStatus = "DISCARDED"
)

// IsTerminal reports whether the detection is closed.
func (s DetectionStatus) IsTerminal() bool {
	return s == DetectionStatusResolved || s == DetectionStatusDiscarded
}

// Detection is a recorded incident sighting. resolved_at is non-null
// exactly when the status is terminal.
type Detection struct {
	ID          string            `db:"id" json:"id"`
	Source      DetectionSource   `db:"source" json:"source"`
	Severity    DetectionSeverity `db:"severity" json:"severity"`
	Status      DetectionStatus   `db:"status" json:"status"`
	DetectedAt  time.Time         `db:"detected_at" json:"detected_at"`
	Location    string            `db:"location" json:"location"`
	Description string            `db:"description" json:"description"`
	CreatedBy   string            `db:"created_by" json:"created_by"`
	CreatedAt   time.Time         `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time         `db:"updated_at" json:"updated_at"`
	ResolvedAt  *time.Time        `db:"resolved_at" json:"resolved_at,omitempty"`
	ResolvedBy  *string           `db:"resolved_by" json:"resolved_by,omitempty"`
}

// DetectionFilter captures listing criteria for detections.
type DetectionFilter struct {
	Source    *DetectionSource
	Severity  *DetectionSeverity
	Status    *DetectionStatus
	Location  string
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
