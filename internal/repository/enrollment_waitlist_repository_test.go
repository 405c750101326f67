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

func TestEnrollmentRepositoryLockCourseWaitlistInsideTx(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectBegin()
	mock.ExpectExec(regexp.QuoteMeta("SELECT set_config('lock_timeout', $1, true)")).
		WithArgs("1500ms").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("SELECT pg_advisory_xact_lock(hashtext($1))")).
		WithArgs("enrollment_waitlist:course-1").
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectCommit()

	tx, err := db.BeginTxx(context.Background(), nil)
	require.NoError(t, err)
	require.NoError(t, repo.SetLockTimeout(context.Background(), tx, 1500*time.Millisecond))
	require.NoError(t, repo.LockCourseWaitlist(context.Background(), tx, "course-1"))
	require.NoError(t, tx.Commit())
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetLockTimeoutDisabled(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	require.NoError(t, repo.SetLockTimeout(context.Background(), nil, 0))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryMaxWaitlistPosition(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT COALESCE(MAX(waitlist_position), 0) FROM enrollments WHERE course_id = $1 AND status = $2")).
		WithArgs("course-1", models.EnrollmentStatusWaitlisted).
		WillReturnRows(sqlmock.NewRows([]string{"coalesce"}).AddRow(3))

	max, err := repo.MaxWaitlistPosition(context.Background(), nil, "course-1")
	require.NoError(t, err)
	assert.Equal(t, 3, max)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryFindWaitlistedOrderedByPosition(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	now := time.Now()
	rows := sqlmock.NewRows(enrollmentRowColumns).
		AddRow("enr-a", "course-1", "user-a", models.EnrollmentStatusWaitlisted, 1, nil, now, now).
		AddRow("enr-b", "course-1", "user-b", models.EnrollmentStatusWaitlisted, 2, nil, now, now)
	mock.ExpectQuery(`ORDER BY e.waitlist_position ASC`).
		WithArgs("course-1", models.EnrollmentStatusWaitlisted).
		WillReturnRows(rows)

	items, err := repo.FindWaitlistedOrderedByPosition(context.Background(), nil, "course-1")
	require.NoError(t, err)
	require.Len(t, items, 2)
	assert.Equal(t, "enr-b", items[1].ID)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryShiftWaitlistPositions(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(`UPDATE enrollments\s+SET waitlist_position = waitlist_position \+ \$4`).
		WithArgs("course-1", 3, 5, -1, sqlmock.AnyArg(), models.EnrollmentStatusWaitlisted, "enr-2").
		WillReturnResult(sqlmock.NewResult(0, 3))

	affected, err := repo.ShiftWaitlistPositions(context.Background(), nil, ShiftParams{
		CourseID:  "course-1",
		From:      3,
		To:        5,
		Delta:     -1,
		ExcludeID: "enr-2",
	})
	require.NoError(t, err)
	assert.EqualValues(t, 3, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositoryShiftWaitlistPositionsEmptyRange(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	affected, err := repo.ShiftWaitlistPositions(context.Background(), nil, ShiftParams{CourseID: "course-1", From: 4, To: 3, Delta: -1})
	require.NoError(t, err)
	assert.Zero(t, affected)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEnrollmentRepositorySetWaitlistPositionRequiresWaitlisted(t *testing.T) {
	db, mock, cleanup := newEnrollmentRepoMock(t)
	defer cleanup()
	repo := NewEnrollmentRepository(db)

	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET waitlist_position = $2, updated_at = $3 WHERE id = $1 AND status = $4")).
		WithArgs("enr-1", 2, sqlmock.AnyArg(), models.EnrollmentStatusWaitlisted).
		WillReturnResult(sqlmock.NewResult(0, 1))
	mock.ExpectExec(regexp.QuoteMeta("UPDATE enrollments SET waitlist_position = $2")).
		WithArgs("enr-9", 1, sqlmock.AnyArg(), models.EnrollmentStatusWaitlisted).
		WillReturnResult(sqlmock.NewResult(0, 0))

	require.NoError(t, repo.SetWaitlistPosition(context.Background(), nil, "enr-1", 2))
	require.Error(t, repo.SetWaitlistPosition(context.Background(), nil, "enr-9", 1))
	require.NoError(t, mock.ExpectationsWereMet())
}
