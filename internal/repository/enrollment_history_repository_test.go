package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
)

var historyRowColumns = []string{"id", "enrollment_id", "user_name", "course_title", "action", "status", "waitlist_position", "notes", "actor_id", "action_date"}

func TestEnrollmentHistoryRepositoryCreate(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentHistoryRepository(db)

	position := 2
	mock.ExpectExec(regexp.QuoteMeta("INSERT INTO enrollment_history")).
		WithArgs(sqlmock.AnyArg(), "enr-1", "Ada", "Algebra", models.HistoryActionWaitlisted, models.EnrollmentStatusWaitlisted, &position, nil, "admin-1", sqlmock.AnyArg()).
		WillReturnResult(sqlmock.NewResult(1, 1))

	entry := &models.EnrollmentHistoryEntry{
		EnrollmentID:     "enr-1",
		UserName:         "Ada",
		CourseTitle:      "Algebra",
		Action:           models.HistoryActionWaitlisted,
		Status:           models.EnrollmentStatusWaitlisted,
		WaitlistPosition: &position,
		ActorID:          "admin-1",
	}
	require.NoError(t, repo.Create(context.Background(), nil, entry))
	assert.NotEmpty(t, entry.ID)
	assert.False(t, entry.ActionDate.IsZero())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentHistoryRepositoryListWithFilters(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentHistoryRepository(db)

	from := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	to := time.Date(2024, 1, 31, 23, 59, 59, 0, time.UTC)
	rows := sqlmock.NewRows(historyRowColumns).
		AddRow("h-1", "enr-1", "Ada", "Algebra", models.HistoryActionApproved, models.EnrollmentStatusApproved, nil, nil, "admin-1", from)

	mock.ExpectQuery(`FROM enrollment_history WHERE \(user_name ILIKE \$1 ESCAPE '\\' OR course_title ILIKE \$1 ESCAPE '\\'\) AND status = \$2 AND action = \$3 AND action_date >= \$4 AND action_date <= \$5 ORDER BY user_name ASC, id ASC LIMIT 5 OFFSET 0`).
		WithArgs("%alg%", models.EnrollmentStatusApproved, models.HistoryActionApproved, from, to).
		WillReturnRows(rows)
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollment_history WHERE")).
		WithArgs("%alg%", models.EnrollmentStatusApproved, models.HistoryActionApproved, from, to).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	entries, total, err := repo.List(context.Background(), models.EnrollmentHistoryFilter{
		Search:    "alg",
		Status:    models.EnrollmentStatusApproved,
		Action:    models.HistoryActionApproved,
		DateFrom:  &from,
		DateTo:    &to,
		Page:      1,
		PageSize:  5,
		SortBy:    "user",
		SortOrder: "asc",
	})
	require.NoError(t, err)
	require.Len(t, entries, 1)
	assert.Equal(t, 1, total)
	assert.Equal(t, "Ada", entries[0].UserName)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentHistoryRepositoryListEscapesSearchWildcards(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentHistoryRepository(db)

	mock.ExpectQuery(`FROM enrollment_history WHERE \(user_name ILIKE \$1 ESCAPE '\\' OR course_title ILIKE \$1 ESCAPE '\\'\)`).
		WithArgs(`%\_%`).
		WillReturnRows(sqlmock.NewRows(historyRowColumns))
	mock.ExpectQuery(regexp.QuoteMeta("SELECT COUNT(*) FROM enrollment_history WHERE")).
		WithArgs(`%\_%`).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(0))

	entries, total, err := repo.List(context.Background(), models.EnrollmentHistoryFilter{Search: "_", Page: 1, PageSize: 20})
	require.NoError(t, err)
	assert.Empty(t, entries)
	assert.Zero(t, total)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentHistoryRepositoryListForExportLimitsRows(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentHistoryRepository(db)

	mock.ExpectQuery(`FROM enrollment_history ORDER BY action_date DESC, id DESC LIMIT 50$`).
		WillReturnRows(sqlmock.NewRows(historyRowColumns))

	entries, err := repo.ListForExport(context.Background(), models.EnrollmentHistoryFilter{}, 50)
	require.NoError(t, err)
	assert.Empty(t, entries)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentHistoryRepositoryListByEnrollment(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentHistoryRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(historyRowColumns).
		AddRow("h-1", "enr-1", "Ada", "Algebra", models.HistoryActionCreated, models.EnrollmentStatusPending, nil, nil, "user-1", now).
		AddRow("h-2", "enr-1", "Ada", "Algebra", models.HistoryActionDenied, models.EnrollmentStatusDenied, nil, nil, "admin-1", now.Add(time.Minute))
	mock.ExpectQuery(regexp.QuoteMeta("WHERE enrollment_id = $1 ORDER BY action_date ASC, id ASC")).
		WithArgs("enr-1").
		WillReturnRows(rows)

	entries, err := repo.ListByEnrollment(context.Background(), "enr-1")
	require.NoError(t, err)
	require.Len(t, entries, 2)
	assert.Equal(t, models.HistoryActionDenied, entries[1].Action)
}
