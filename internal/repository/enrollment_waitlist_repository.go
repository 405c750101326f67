package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
)

const waitlistLockPrefix = "enrollment_waitlist:"

// SetLockTimeout bounds how long the current transaction waits for row and
// advisory locks. It only affects the enclosing transaction.
func (r *EnrollmentRepository) SetLockTimeout(ctx context.Context, exec sqlx.ExtContext, timeout time.Duration) error {
	if timeout <= 0 {
		return nil
	}
	const query = `SELECT set_config('lock_timeout', $1, true)`
	if _, err := r.exec(exec).ExecContext(ctx, query, fmt.Sprintf("%dms", timeout.Milliseconds())); err != nil {
		return fmt.Errorf("set lock timeout: %w", err)
	}
	return nil
}

// LockCourseWaitlist serialises writers of one course's waitlist until the
// enclosing transaction ends. Other courses are unaffected.
func (r *EnrollmentRepository) LockCourseWaitlist(ctx context.Context, exec sqlx.ExtContext, courseID string) error {
	const query = `SELECT pg_advisory_xact_lock(hashtext($1))`
	if _, err := r.exec(exec).ExecContext(ctx, query, waitlistLockPrefix+courseID); err != nil {
		return fmt.Errorf("lock course waitlist: %w", err)
	}
	return nil
}

// FindWaitlistedOrderedByPosition returns the course waitlist in ascending position order.
func (r *EnrollmentRepository) FindWaitlistedOrderedByPosition(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e
        WHERE e.course_id = $1 AND e.status = $2
        ORDER BY e.waitlist_position ASC`
	enrollments := []models.Enrollment{}
	if err := sqlx.SelectContext(ctx, r.exec(exec), &enrollments, query, courseID, models.EnrollmentStatusWaitlisted); err != nil {
		return nil, fmt.Errorf("list waitlisted enrollments: %w", err)
	}
	return enrollments, nil
}

// MaxWaitlistPosition returns the highest occupied position, or 0 for an empty waitlist.
func (r *EnrollmentRepository) MaxWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, courseID string) (int, error) {
	const query = `SELECT COALESCE(MAX(waitlist_position), 0) FROM enrollments WHERE course_id = $1 AND status = $2`
	var max int
	if err := sqlx.GetContext(ctx, r.exec(exec), &max, query, courseID, models.EnrollmentStatusWaitlisted); err != nil {
		return 0, fmt.Errorf("max waitlist position: %w", err)
	}
	return max, nil
}

// ShiftParams describes a bounded renumbering of waitlist slots.
type ShiftParams struct {
	CourseID string
	// From and To bound the affected positions, inclusive.
	From  int
	To    int
	Delta int
	// ExcludeID skips the enrollment being moved or removed.
	ExcludeID string
}

// ShiftWaitlistPositions adds Delta to every waitlisted position of the course
// within [From, To] in a single statement.
func (r *EnrollmentRepository) ShiftWaitlistPositions(ctx context.Context, exec sqlx.ExtContext, params ShiftParams) (int64, error) {
	if params.From > params.To || params.Delta == 0 {
		return 0, nil
	}
	const query = `UPDATE enrollments
        SET waitlist_position = waitlist_position + $4, updated_at = $5
        WHERE course_id = $1 AND status = $6 AND waitlist_position BETWEEN $2 AND $3 AND id <> $7`
	result, err := r.exec(exec).ExecContext(ctx, query,
		params.CourseID, params.From, params.To, params.Delta, time.Now().UTC(), models.EnrollmentStatusWaitlisted, params.ExcludeID)
	if err != nil {
		return 0, fmt.Errorf("shift waitlist positions: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("waitlist shift rows affected: %w", err)
	}
	return affected, nil
}

// SetWaitlistPosition assigns a slot to an already waitlisted enrollment.
func (r *EnrollmentRepository) SetWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, id string, position int) error {
	const query = `UPDATE enrollments SET waitlist_position = $2, updated_at = $3 WHERE id = $1 AND status = $4`
	result, err := r.exec(exec).ExecContext(ctx, query, id, position, time.Now().UTC(), models.EnrollmentStatusWaitlisted)
	if err != nil {
		return fmt.Errorf("set waitlist position: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("waitlist position rows affected: %w", err)
	}
	if affected == 0 {
		return fmt.Errorf("set waitlist position: enrollment %s is not waitlisted", id)
	}
	return nil
}
