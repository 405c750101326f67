package repository

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
)

const enrollmentColumns = `e.id, e.course_id, e.user_id, e.status, e.waitlist_position, e.notes, e.created_at, e.updated_at`

const enrollmentDetailSelect = `SELECT ` + enrollmentColumns + `,
        COALESCE(u.full_name, '') AS student_name, COALESCE(u.email, '') AS student_email, COALESCE(c.title, '') AS course_title
        FROM enrollments e
        LEFT JOIN users u ON u.id = e.user_id
        LEFT JOIN courses c ON c.id = e.course_id`

// EnrollmentRepository handles persistence of enrollments. Mutating methods
// take the caller's transaction; the repository never opens one itself.
type EnrollmentRepository struct {
	db *sqlx.DB
}

// NewEnrollmentRepository constructs the repository.
func NewEnrollmentRepository(db *sqlx.DB) *EnrollmentRepository {
	return &EnrollmentRepository{db: db}
}

func (r *EnrollmentRepository) exec(exec sqlx.ExtContext) sqlx.ExtContext {
	if exec != nil {
		return exec
	}
	return r.db
}

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

// containsPattern builds a substring ILIKE pattern matching search literally.
func containsPattern(search string) string {
	return "%" + likeEscaper.Replace(search) + "%"
}

// List returns enrollment details filtered by the provided criteria.
func (r *EnrollmentRepository) List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	base := `FROM enrollments e
LEFT JOIN users u ON u.id = e.user_id
LEFT JOIN courses c ON c.id = e.course_id`
	var conditions []string
	var args []interface{}

	if filter.CourseID != "" {
		conditions = append(conditions, fmt.Sprintf("e.course_id = $%d", len(args)+1))
		args = append(args, filter.CourseID)
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("e.status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if search := strings.TrimSpace(filter.Search); search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf(`(u.full_name ILIKE $%d ESCAPE '\' OR u.email ILIKE $%d ESCAPE '\' OR c.title ILIKE $%d ESCAPE '\')`, idx, idx, idx))
		args = append(args, containsPattern(search))
	}

	clause := ""
	if len(conditions) > 0 {
		clause = " WHERE " + strings.Join(conditions, " AND ")
	}

	allowedSorts := map[string]string{
		"created_at":        "e.created_at",
		"updated_at":        "e.updated_at",
		"status":            "e.status",
		"waitlist_position": "e.waitlist_position",
		"student_name":      "u.full_name",
		"course_title":      "c.title",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "e.created_at"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	size := filter.PageSize
	if size <= 0 || size > models.MaxPageSize {
		size = models.DefaultPageSize
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	offset := (page - 1) * size

	query := fmt.Sprintf(`SELECT %s,
        COALESCE(u.full_name, '') AS student_name, COALESCE(u.email, '') AS student_email, COALESCE(c.title, '') AS course_title
        %s ORDER BY %s %s NULLS LAST, e.id ASC LIMIT %d OFFSET %d`, enrollmentColumns, base+clause, orderBy, order, size, offset)

	enrollments := []models.EnrollmentDetail{}
	if err := r.db.SelectContext(ctx, &enrollments, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollments: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base+clause)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollments: %w", err)
	}
	return enrollments, total, nil
}

// FindByID returns an enrollment by its ID.
func (r *EnrollmentRepository) FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.id = $1`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindByIDForUpdate loads and row-locks an enrollment inside a transaction.
func (r *EnrollmentRepository) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.id = $1 FOR UPDATE`
	var enrollment models.Enrollment
	if err := sqlx.GetContext(ctx, r.exec(exec), &enrollment, query, id); err != nil {
		return nil, err
	}
	return &enrollment, nil
}

// FindDetailByID returns an enrollment with student and course info.
func (r *EnrollmentRepository) FindDetailByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentDetail, error) {
	query := enrollmentDetailSelect + ` WHERE e.id = $1`
	var detail models.EnrollmentDetail
	if err := sqlx.GetContext(ctx, r.exec(exec), &detail, query, id); err != nil {
		return nil, err
	}
	return &detail, nil
}

// FindByCourseAndStatus returns enrollments of a course in the given status, oldest first.
func (r *EnrollmentRepository) FindByCourseAndStatus(ctx context.Context, exec sqlx.ExtContext, courseID string, status models.EnrollmentStatus) ([]models.Enrollment, error) {
	query := `SELECT ` + enrollmentColumns + ` FROM enrollments e WHERE e.course_id = $1 AND e.status = $2 ORDER BY e.created_at ASC, e.id ASC`
	enrollments := []models.Enrollment{}
	if err := sqlx.SelectContext(ctx, r.exec(exec), &enrollments, query, courseID, status); err != nil {
		return nil, fmt.Errorf("find enrollments by course and status: %w", err)
	}
	return enrollments, nil
}

// CountByCourseAndStatus counts enrollments of a course in the given status.
func (r *EnrollmentRepository) CountByCourseAndStatus(ctx context.Context, exec sqlx.ExtContext, courseID string, status models.EnrollmentStatus) (int, error) {
	const query = `SELECT COUNT(*) FROM enrollments WHERE course_id = $1 AND status = $2`
	var total int
	if err := sqlx.GetContext(ctx, r.exec(exec), &total, query, courseID, status); err != nil {
		return 0, fmt.Errorf("count enrollments by course and status: %w", err)
	}
	return total, nil
}

// ExistsForCourseAndUser checks whether the user already requested the course.
func (r *EnrollmentRepository) ExistsForCourseAndUser(ctx context.Context, exec sqlx.ExtContext, courseID, userID string) (bool, error) {
	const query = `SELECT 1 FROM enrollments WHERE course_id = $1 AND user_id = $2 LIMIT 1`
	var exists int
	if err := sqlx.GetContext(ctx, r.exec(exec), &exists, query, courseID, userID); err != nil {
		if err == sql.ErrNoRows {
			return false, nil
		}
		return false, fmt.Errorf("check existing enrollment: %w", err)
	}
	return true, nil
}

// Create persists a new enrollment record.
func (r *EnrollmentRepository) Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if enrollment.ID == "" {
		enrollment.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	if enrollment.CreatedAt.IsZero() {
		enrollment.CreatedAt = now
	}
	enrollment.UpdatedAt = enrollment.CreatedAt
	if enrollment.Status == "" {
		enrollment.Status = models.EnrollmentStatusPending
	}
	const query = `INSERT INTO enrollments (id, course_id, user_id, status, waitlist_position, notes, created_at, updated_at)
        VALUES (:id, :course_id, :user_id, :status, :waitlist_position, :notes, :created_at, :updated_at)`
	if _, err := sqlx.NamedExecContext(ctx, r.exec(exec), query, enrollment); err != nil {
		return fmt.Errorf("create enrollment: %w", err)
	}
	return nil
}

// UpdateStatusParams describes a status transition write.
type UpdateStatusParams struct {
	ID               string
	Status           models.EnrollmentStatus
	WaitlistPosition *int
	// Notes replaces the stored notes when non-nil.
	Notes     *string
	UpdatedAt time.Time
}

// UpdateStatus writes status, waitlist position and notes in one statement so
// the status/position pairing is never observable half-applied.
func (r *EnrollmentRepository) UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params UpdateStatusParams) error {
	if params.UpdatedAt.IsZero() {
		params.UpdatedAt = time.Now().UTC()
	}
	const query = `UPDATE enrollments SET status = $2, waitlist_position = $3, notes = COALESCE($4, notes), updated_at = $5 WHERE id = $1`
	result, err := r.exec(exec).ExecContext(ctx, query, params.ID, params.Status, params.WaitlistPosition, params.Notes, params.UpdatedAt)
	if err != nil {
		return fmt.Errorf("update enrollment status: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("enrollment status rows affected: %w", err)
	}
	if affected == 0 {
		return sql.ErrNoRows
	}
	return nil
}
