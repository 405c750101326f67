package models

import "time"

// HistoryAction names the transition recorded in the audit trail.
type HistoryAction string

// Recorded actions.
const (
	HistoryActionCreated         HistoryAction = "created"
	HistoryActionApproved        HistoryAction = "approved"
	HistoryActionDenied          HistoryAction = "denied"
	HistoryActionWaitlisted      HistoryAction = "waitlisted"
	HistoryActionPositionChanged HistoryAction = "position_changed"
)

// Valid reports whether a is a known action.
func (a HistoryAction) Valid() bool {
	switch a {
	case HistoryActionCreated, HistoryActionApproved, HistoryActionDenied, HistoryActionWaitlisted, HistoryActionPositionChanged:
		return true
	}
	return false
}

// EnrollmentHistoryEntry is an append-only audit record. UserName and
// CourseTitle are copied at write time so the trail stays readable after the
// referenced rows change.
type EnrollmentHistoryEntry struct {
	ID               string           `db:"id" json:"id"`
	EnrollmentID     string           `db:"enrollment_id" json:"enrollment_id"`
	UserName         string           `db:"user_name" json:"user"`
	CourseTitle      string           `db:"course_title" json:"course_title"`
	Action           HistoryAction    `db:"action" json:"action"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	WaitlistPosition *int             `db:"waitlist_position" json:"waitlist_position,omitempty"`
	Notes            *string          `db:"notes" json:"notes,omitempty"`
	ActorID          string           `db:"actor_id" json:"actor_id"`
	ActionDate       time.Time        `db:"action_date" json:"action_date"`
}

// EnrollmentHistoryFilter narrows audit queries.
type EnrollmentHistoryFilter struct {
	Search    string
	Status    EnrollmentStatus
	Action    HistoryAction
	DateFrom  *time.Time
	DateTo    *time.Time
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
