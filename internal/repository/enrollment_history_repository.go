package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
)

const historyColumns = `id, enrollment_id, user_name, course_title, action, status, waitlist_position, notes, actor_id, action_date`

// EnrollmentHistoryRepository appends and queries the enrollment audit trail.
// There is intentionally no update or delete path.
type EnrollmentHistoryRepository struct {
	db *sqlx.DB
}

// NewEnrollmentHistoryRepository constructs the repository.
func NewEnrollmentHistoryRepository(db *sqlx.DB) *EnrollmentHistoryRepository {
	return &EnrollmentHistoryRepository{db: db}
}

// Create appends a history entry using the caller's transaction.
func (r *EnrollmentHistoryRepository) Create(ctx context.Context, exec sqlx.ExtContext, entry *models.EnrollmentHistoryEntry) error {
	if exec == nil {
		exec = r.db
	}
	if entry.ID == "" {
		entry.ID = uuid.NewString()
	}
	if entry.ActionDate.IsZero() {
		entry.ActionDate = time.Now().UTC()
	}
	const query = `INSERT INTO enrollment_history (` + historyColumns + `)
        VALUES (:id, :enrollment_id, :user_name, :course_title, :action, :status, :waitlist_position, :notes, :actor_id, :action_date)`
	if _, err := sqlx.NamedExecContext(ctx, exec, query, entry); err != nil {
		return fmt.Errorf("create enrollment history: %w", err)
	}
	return nil
}

// List returns a page of history entries and the total matching count.
func (r *EnrollmentHistoryRepository) List(ctx context.Context, filter models.EnrollmentHistoryFilter) ([]models.EnrollmentHistoryEntry, int, error) {
	clause, args := historyWhere(filter)

	size := filter.PageSize
	if size <= 0 || size > models.MaxPageSize {
		size = models.DefaultPageSize
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}

	query := fmt.Sprintf(`SELECT %s FROM enrollment_history%s ORDER BY %s LIMIT %d OFFSET %d`,
		historyColumns, clause, historyOrder(filter), size, (page-1)*size)
	entries := []models.EnrollmentHistoryEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list enrollment history: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM enrollment_history"+clause, args...); err != nil {
		return nil, 0, fmt.Errorf("count enrollment history: %w", err)
	}
	return entries, total, nil
}

// ListForExport returns up to limit entries matching the filter, ignoring pagination.
func (r *EnrollmentHistoryRepository) ListForExport(ctx context.Context, filter models.EnrollmentHistoryFilter, limit int) ([]models.EnrollmentHistoryEntry, error) {
	clause, args := historyWhere(filter)
	query := fmt.Sprintf(`SELECT %s FROM enrollment_history%s ORDER BY %s LIMIT %d`, historyColumns, clause, historyOrder(filter), limit)
	entries := []models.EnrollmentHistoryEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, args...); err != nil {
		return nil, fmt.Errorf("export enrollment history: %w", err)
	}
	return entries, nil
}

// ListByEnrollment returns the trail of one enrollment, oldest first.
func (r *EnrollmentHistoryRepository) ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrollmentHistoryEntry, error) {
	query := `SELECT ` + historyColumns + ` FROM enrollment_history WHERE enrollment_id = $1 ORDER BY action_date ASC, id ASC`
	entries := []models.EnrollmentHistoryEntry{}
	if err := r.db.SelectContext(ctx, &entries, query, enrollmentID); err != nil {
		return nil, fmt.Errorf("list enrollment history by enrollment: %w", err)
	}
	return entries, nil
}

func historyWhere(filter models.EnrollmentHistoryFilter) (string, []interface{}) {
	var conditions []string
	var args []interface{}

	if search := strings.TrimSpace(filter.Search); search != "" {
		idx := len(args) + 1
		conditions = append(conditions, fmt.Sprintf(`(user_name ILIKE $%d ESCAPE '\' OR course_title ILIKE $%d ESCAPE '\')`, idx, idx))
		args = append(args, containsPattern(search))
	}
	if filter.Status != "" {
		conditions = append(conditions, fmt.Sprintf("status = $%d", len(args)+1))
		args = append(args, filter.Status)
	}
	if filter.Action != "" {
		conditions = append(conditions, fmt.Sprintf("action = $%d", len(args)+1))
		args = append(args, filter.Action)
	}
	if filter.DateFrom != nil {
		conditions = append(conditions, fmt.Sprintf("action_date >= $%d", len(args)+1))
		args = append(args, *filter.DateFrom)
	}
	if filter.DateTo != nil {
		conditions = append(conditions, fmt.Sprintf("action_date <= $%d", len(args)+1))
		args = append(args, *filter.DateTo)
	}

	if len(conditions) == 0 {
		return "", args
	}
	return " WHERE " + strings.Join(conditions, " AND "), args
}

func historyOrder(filter models.EnrollmentHistoryFilter) string {
	allowedSorts := map[string]string{
		"action_date":  "action_date",
		"user":         "user_name",
		"course_title": "course_title",
		"action":       "action",
		"status":       "status",
	}
	orderBy := allowedSorts[filter.SortBy]
	if orderBy == "" {
		orderBy = "action_date"
	}
	order := strings.ToUpper(filter.SortOrder)
	if order != "ASC" && order != "DESC" {
		order = "DESC"
	}
	return fmt.Sprintf("%s %s, id %s", orderBy, order, order)
}
