package repository

import (
	"context"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
)

// CourseRepository reads seat information owned by the course catalogue.
type CourseRepository struct {
	db *sqlx.DB
}

// NewCourseRepository constructs the repository.
func NewCourseRepository(db *sqlx.DB) *CourseRepository {
	return &CourseRepository{db: db}
}

// Capacity reports the seat capacity of a course with its approved and pending counts.
// It returns sql.ErrNoRows when the course does not exist.
func (r *CourseRepository) Capacity(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.CourseCapacity, error) {
	if exec == nil {
		exec = r.db
	}
	const query = `SELECT c.id AS course_id, c.title, c.capacity,
        COUNT(e.id) FILTER (WHERE e.status = $2) AS approved_count,
        COUNT(e.id) FILTER (WHERE e.status = $3) AS pending_count
        FROM courses c
        LEFT JOIN enrollments e ON e.course_id = c.id
        WHERE c.id = $1
        GROUP BY c.id, c.title, c.capacity`
	var capacity models.CourseCapacity
	if err := sqlx.GetContext(ctx, exec, &capacity, query, courseID, models.EnrollmentStatusApproved, models.EnrollmentStatusPending); err != nil {
		return nil, err
	}
	return &capacity, nil
}
