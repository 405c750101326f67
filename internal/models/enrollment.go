package models

import "time"

// EnrollmentStatus represents the admission state of an enrollment.
type EnrollmentStatus string

// Possible enrollment statuses.
const (
	EnrollmentStatusPending    EnrollmentStatus = "pending"
	EnrollmentStatusApproved   EnrollmentStatus = "approved"
	EnrollmentStatusDenied     EnrollmentStatus = "denied"
	EnrollmentStatusWaitlisted EnrollmentStatus = "waitlisted"
)

// Valid reports whether s is a known status.
func (s EnrollmentStatus) Valid() bool {
	switch s {
	case EnrollmentStatusPending, EnrollmentStatusApproved, EnrollmentStatusDenied, EnrollmentStatusWaitlisted:
		return true
	}
	return false
}

// Enrollment captures a user's request to join a course.
// WaitlistPosition is set iff Status is waitlisted.
type Enrollment struct {
	ID               string           `db:"id" json:"id"`
	CourseID         string           `db:"course_id" json:"course_id"`
	UserID           string           `db:"user_id" json:"user_id"`
	Status           EnrollmentStatus `db:"status" json:"status"`
	WaitlistPosition *int             `db:"waitlist_position" json:"waitlist_position"`
	Notes            *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt        time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt        time.Time        `db:"updated_at" json:"updated_at"`
}

// IsWaitlisted reports whether the enrollment currently holds a waitlist slot.
func (e *Enrollment) IsWaitlisted() bool {
	return e != nil && e.Status == EnrollmentStatusWaitlisted && e.WaitlistPosition != nil
}

// Position returns the waitlist position or 0 when not waitlisted.
func (e *Enrollment) Position() int {
	if e == nil || e.WaitlistPosition == nil {
		return 0
	}
	return *e.WaitlistPosition
}

// EnrollmentDetail enriches Enrollment with student and course info.
type EnrollmentDetail struct {
	Enrollment
	StudentName  string `db:"student_name" json:"student_name"`
	StudentEmail string `db:"student_email" json:"student_email"`
	CourseTitle  string `db:"course_title" json:"course_title"`
}

// EnrollmentFilter provides filters for listing enrollments.
type EnrollmentFilter struct {
	Search    string
	CourseID  string
	Status    EnrollmentStatus
	Page      int
	PageSize  int
	SortBy    string
	SortOrder string
}
