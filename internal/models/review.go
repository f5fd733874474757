package models

import "time"

// ReviewShift identifies the operating shift a review covers.
type ReviewShift string

const (
	ReviewShiftDay   ReviewShift = "DAY"
	ReviewShiftNight ReviewShift = "NIGHT"
)

// ReviewOutcome is the result category recorded by the operator.
type ReviewOutcome string

const (
	ReviewOutcomeOK          ReviewOutcome = "OK"
	ReviewOutcomeObservation ReviewOutcome = "OBSERVATION"
	ReviewOutcomeIncident    ReviewOutcome = "INCIDENT"
)

// Review is an operator's periodic check of a monitored area.
type Review struct {
	ID         string        `db:"id" json:"id"`
	Title      string        `db:"title" json:"title"`
	Area       string        `db:"area" json:"area"`
	Shift      ReviewShift   `db:"shift" json:"shift"`
	ReviewedAt time.Time     `db:"reviewed_at" json:"reviewed_at"`
	OperatorID string        `db:"operator_id" json:"operator_id"`
	Outcome    ReviewOutcome `db:"outcome" json:"outcome"`
	Notes      string        `db:"notes" json:"notes"`
	CreatedBy  string        `db:"created_by" json:"created_by"`
	CreatedAt  time.Time     `db:"created_at" json:"created_at"`
	UpdatedAt  time.Time     `db:"updated_at" json:"updated_at"`
}

// ReviewFilter captures listing criteria for reviews.
type ReviewFilter struct {
	Area      string
	Shift     *ReviewShift
	Outcome   *ReviewOutcome
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
