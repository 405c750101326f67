package models

// CourseCapacity is the read-only seat view of a course.
type CourseCapacity struct {
	CourseID      string `db:"course_id" json:"course_id"`
	Title         string `db:"title" json:"title"`
	Capacity      *int   `db:"capacity" json:"capacity"`
	ApprovedCount int    `db:"approved_count" json:"approved_count"`
	PendingCount  int    `db:"pending_count" json:"pending_count"`
}

// HasSeat reports whether a new request can be queued as pending. Pending
// requests hold their seat until decided. A nil capacity means unlimited.
func (c CourseCapacity) HasSeat() bool {
	if c.Capacity == nil {
		return true
	}
	return c.ApprovedCount+c.PendingCount < *c.Capacity
}

// CanApprove reports whether one more enrollment fits among approved seats.
func (c CourseCapacity) CanApprove() bool {
	if c.Capacity == nil {
		return true
	}
	return c.ApprovedCount < *c.Capacity
}
