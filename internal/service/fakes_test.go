package service

import (
	"context"
	"database/sql"
	"fmt"
	"sort"
	"sync"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
	"github.com/noah-isme/enrollment-admission-api/internal/repository"
)

type fakeCourse struct {
	title    string
	capacity *int
}

// fakeEnrollmentStore keeps enrollments in memory and ignores the executor.
type fakeEnrollmentStore struct {
	mu          sync.Mutex
	enrollments map[string]*models.Enrollment
	users       map[string]string
	courses     map[string]fakeCourse
	seq         int

	locked     []string
	shiftCalls int
	// lockErrs are returned, one per call, by LockCourseWaitlist.
	lockErrs  []error
	createErr error
}

func newFakeEnrollmentStore() *fakeEnrollmentStore {
	return &fakeEnrollmentStore{
		enrollments: map[string]*models.Enrollment{},
		users:       map[string]string{},
		courses:     map[string]fakeCourse{},
	}
}

func intPtr(v int) *int { return &v }

func (f *fakeEnrollmentStore) addCourse(id, title string, capacity *int) {
	f.courses[id] = fakeCourse{title: title, capacity: capacity}
}

func (f *fakeEnrollmentStore) addUser(id, name string) {
	f.users[id] = name
}

// seed inserts an enrollment directly, bypassing the admission flow.
func (f *fakeEnrollmentStore) seed(id, courseID, userID string, status models.EnrollmentStatus, position int) {
	e := &models.Enrollment{ID: id, CourseID: courseID, UserID: userID, Status: status, CreatedAt: time.Now(), UpdatedAt: time.Now()}
	if position > 0 {
		e.WaitlistPosition = intPtr(position)
	}
	f.enrollments[id] = e
	if _, ok := f.users[userID]; !ok {
		f.users[userID] = "Student " + userID
	}
}

// get returns a copy of the stored enrollment.
func (f *fakeEnrollmentStore) get(id string) *models.Enrollment {
	f.mu.Lock()
	defer f.mu.Unlock()
	clone := *f.enrollments[id]
	return &clone
}

// waitlistOrder returns enrollment IDs of a course ordered by position.
func (f *fakeEnrollmentStore) waitlistOrder(courseID string) []string {
	f.mu.Lock()
	defer f.mu.Unlock()
	var waitlisted []*models.Enrollment
	for _, e := range f.enrollments {
		if e.CourseID == courseID && e.Status == models.EnrollmentStatusWaitlisted {
			waitlisted = append(waitlisted, e)
		}
	}
	sort.Slice(waitlisted, func(i, j int) bool { return waitlisted[i].Position() < waitlisted[j].Position() })
	ids := make([]string, 0, len(waitlisted))
	for _, e := range waitlisted {
		ids = append(ids, e.ID)
	}
	return ids
}

// requireDense asserts positions of the course are exactly 1..N.
func (f *fakeEnrollmentStore) requireDense(t *testing.T, courseID string) {
	t.Helper()
	f.mu.Lock()
	defer f.mu.Unlock()
	var positions []int
	for _, e := range f.enrollments {
		if e.CourseID != courseID {
			continue
		}
		if e.Status == models.EnrollmentStatusWaitlisted {
			require.NotNil(t, e.WaitlistPosition, "waitlisted enrollment %s without position", e.ID)
			positions = append(positions, *e.WaitlistPosition)
		} else {
			require.Nil(t, e.WaitlistPosition, "non-waitlisted enrollment %s holds a position", e.ID)
		}
	}
	sort.Ints(positions)
	for i, p := range positions {
		require.Equal(t, i+1, p, "positions %v are not dense", positions)
	}
}

func (f *fakeEnrollmentStore) SetLockTimeout(context.Context, sqlx.ExtContext, time.Duration) error {
	return nil
}

func (f *fakeEnrollmentStore) LockCourseWaitlist(_ context.Context, _ sqlx.ExtContext, courseID string) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.lockErrs) > 0 {
		err := f.lockErrs[0]
		f.lockErrs = f.lockErrs[1:]
		if err != nil {
			return err
		}
	}
	f.locked = append(f.locked, courseID)
	return nil
}

func (f *fakeEnrollmentStore) FindByID(_ context.Context, _ sqlx.ExtContext, id string) (*models.Enrollment, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok {
		return nil, sql.ErrNoRows
	}
	clone := *e
	return &clone, nil
}

func (f *fakeEnrollmentStore) FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error) {
	return f.FindByID(ctx, exec, id)
}

func (f *fakeEnrollmentStore) FindDetailByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentDetail, error) {
	e, err := f.FindByID(ctx, exec, id)
	if err != nil {
		return nil, err
	}
	return &models.EnrollmentDetail{
		Enrollment:  *e,
		StudentName: f.users[e.UserID],
		CourseTitle: f.courses[e.CourseID].title,
	}, nil
}

func (f *fakeEnrollmentStore) ExistsForCourseAndUser(_ context.Context, _ sqlx.ExtContext, courseID, userID string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	for _, e := range f.enrollments {
		if e.CourseID == courseID && e.UserID == userID {
			return true, nil
		}
	}
	return false, nil
}

func (f *fakeEnrollmentStore) Create(_ context.Context, _ sqlx.ExtContext, enrollment *models.Enrollment) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.createErr != nil {
		return f.createErr
	}
	f.seq++
	enrollment.ID = fmt.Sprintf("enr-%d", f.seq)
	enrollment.CreatedAt = time.Now()
	enrollment.UpdatedAt = enrollment.CreatedAt
	clone := *enrollment
	f.enrollments[clone.ID] = &clone
	return nil
}

func (f *fakeEnrollmentStore) UpdateStatus(_ context.Context, _ sqlx.ExtContext, params repository.UpdateStatusParams) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[params.ID]
	if !ok {
		return sql.ErrNoRows
	}
	e.Status = params.Status
	e.WaitlistPosition = params.WaitlistPosition
	if params.Notes != nil {
		notes := *params.Notes
		e.Notes = &notes
	}
	e.UpdatedAt = time.Now()
	return nil
}

func (f *fakeEnrollmentStore) CountByCourseAndStatus(_ context.Context, _ sqlx.ExtContext, courseID string, status models.EnrollmentStatus) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	count := 0
	for _, e := range f.enrollments {
		if e.CourseID == courseID && e.Status == status {
			count++
		}
	}
	return count, nil
}

func (f *fakeEnrollmentStore) List(_ context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	var items []models.EnrollmentDetail
	for _, e := range f.enrollments {
		if filter.CourseID != "" && e.CourseID != filter.CourseID {
			continue
		}
		if filter.Status != "" && e.Status != filter.Status {
			continue
		}
		items = append(items, models.EnrollmentDetail{Enrollment: *e, StudentName: f.users[e.UserID], CourseTitle: f.courses[e.CourseID].title})
	}
	sort.Slice(items, func(i, j int) bool { return items[i].ID < items[j].ID })
	return items, len(items), nil
}

func (f *fakeEnrollmentStore) MaxWaitlistPosition(_ context.Context, _ sqlx.ExtContext, courseID string) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	max := 0
	for _, e := range f.enrollments {
		if e.CourseID == courseID && e.Status == models.EnrollmentStatusWaitlisted && e.Position() > max {
			max = e.Position()
		}
	}
	return max, nil
}

func (f *fakeEnrollmentStore) FindWaitlistedOrderedByPosition(_ context.Context, _ sqlx.ExtContext, courseID string) ([]models.Enrollment, error) {
	ids := f.waitlistOrder(courseID)
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.Enrollment, 0, len(ids))
	for _, id := range ids {
		out = append(out, *f.enrollments[id])
	}
	return out, nil
}

func (f *fakeEnrollmentStore) ShiftWaitlistPositions(_ context.Context, _ sqlx.ExtContext, params repository.ShiftParams) (int64, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if params.From > params.To || params.Delta == 0 {
		return 0, nil
	}
	f.shiftCalls++
	var affected int64
	for _, e := range f.enrollments {
		if e.CourseID != params.CourseID || e.Status != models.EnrollmentStatusWaitlisted || e.ID == params.ExcludeID {
			continue
		}
		if p := e.Position(); p >= params.From && p <= params.To {
			e.WaitlistPosition = intPtr(p + params.Delta)
			affected++
		}
	}
	return affected, nil
}

func (f *fakeEnrollmentStore) SetWaitlistPosition(_ context.Context, _ sqlx.ExtContext, id string, position int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	e, ok := f.enrollments[id]
	if !ok || e.Status != models.EnrollmentStatusWaitlisted {
		return fmt.Errorf("enrollment %s is not waitlisted", id)
	}
	e.WaitlistPosition = intPtr(position)
	return nil
}

// Capacity makes the store double as the course capacity gate.
func (f *fakeEnrollmentStore) Capacity(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.CourseCapacity, error) {
	course, ok := f.courses[courseID]
	if !ok {
		return nil, sql.ErrNoRows
	}
	approved, _ := f.CountByCourseAndStatus(ctx, exec, courseID, models.EnrollmentStatusApproved)
	pending, _ := f.CountByCourseAndStatus(ctx, exec, courseID, models.EnrollmentStatusPending)
	return &models.CourseCapacity{CourseID: courseID, Title: course.title, Capacity: course.capacity, ApprovedCount: approved, PendingCount: pending}, nil
}

type fakeHistoryRecorder struct {
	mu            sync.Mutex
	records       []HistoryRecord
	err           error
	invalidations int
}

func (f *fakeHistoryRecorder) Record(_ context.Context, _ sqlx.ExtContext, record HistoryRecord) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return f.err
	}
	f.records = append(f.records, record)
	return nil
}

func (f *fakeHistoryRecorder) InvalidateCache(context.Context) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.invalidations++
}

func (f *fakeHistoryRecorder) actions() []models.HistoryAction {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]models.HistoryAction, 0, len(f.records))
	for _, r := range f.records {
		out = append(out, r.Action)
	}
	return out
}

type sqlmockTxProvider struct {
	db *sqlx.DB
}

func (p *sqlmockTxProvider) BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error) {
	return p.db.BeginTxx(ctx, opts)
}

func newSqlmockTxProvider(t *testing.T) (*sqlmockTxProvider, sqlmock.Sqlmock) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { db.Close() })
	return &sqlmockTxProvider{db: sqlx.NewDb(db, "sqlmock")}, mock
}
