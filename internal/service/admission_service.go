package service

import (
	"context"
	"database/sql"
	"errors"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-admission-api/internal/dto"
	"github.com/noah-isme/enrollment-admission-api/internal/models"
	"github.com/noah-isme/enrollment-admission-api/internal/repository"
	"github.com/noah-isme/enrollment-admission-api/pkg/database"
	appErrors "github.com/noah-isme/enrollment-admission-api/pkg/errors"
	"github.com/noah-isme/enrollment-admission-api/pkg/logger"
)

type txProvider interface {
	BeginTxx(ctx context.Context, opts *sql.TxOptions) (*sqlx.Tx, error)
}

type admissionStore interface {
	waitlistStore
	SetLockTimeout(ctx context.Context, exec sqlx.ExtContext, timeout time.Duration) error
	LockCourseWaitlist(ctx context.Context, exec sqlx.ExtContext, courseID string) error
	FindByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
	FindByIDForUpdate(ctx context.Context, exec sqlx.ExtContext, id string) (*models.Enrollment, error)
	FindDetailByID(ctx context.Context, exec sqlx.ExtContext, id string) (*models.EnrollmentDetail, error)
	ExistsForCourseAndUser(ctx context.Context, exec sqlx.ExtContext, courseID, userID string) (bool, error)
	Create(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error
	UpdateStatus(ctx context.Context, exec sqlx.ExtContext, params repository.UpdateStatusParams) error
	List(ctx context.Context, filter models.EnrollmentFilter) ([]models.EnrollmentDetail, int, error)
}

type capacityGate interface {
	Capacity(ctx context.Context, exec sqlx.ExtContext, courseID string) (*models.CourseCapacity, error)
}

type historyRecorder interface {
	Record(ctx context.Context, exec sqlx.ExtContext, record HistoryRecord) error
	InvalidateCache(ctx context.Context)
}

// AdmissionConfig tunes admission transactions.
type AdmissionConfig struct {
	EnforceCapacityOnApprove bool
	VerifyWaitlist           bool
	LockTimeout              time.Duration
	RetryOnConflict          bool
}

// AdmissionService drives the enrollment state machine. Every operation runs
// in one transaction holding the course waitlist lock.
type AdmissionService struct {
	tx        txProvider
	store     admissionStore
	courses   capacityGate
	sequencer *WaitlistSequencer
	history   historyRecorder
	metrics   *MetricsService
	validator *validator.Validate
	logger    *zap.Logger
	cfg       AdmissionConfig
}

// NewAdmissionService constructs an AdmissionService.
func NewAdmissionService(
	tx txProvider,
	store admissionStore,
	courses capacityGate,
	history historyRecorder,
	metrics *MetricsService,
	validate *validator.Validate,
	logger *zap.Logger,
	cfg AdmissionConfig,
) *AdmissionService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &AdmissionService{
		tx:        tx,
		store:     store,
		courses:   courses,
		sequencer: NewWaitlistSequencer(store),
		history:   history,
		metrics:   metrics,
		validator: validate,
		logger:    logger,
		cfg:       cfg,
	}
}

// transition is the outcome of one committed operation.
type transition struct {
	detail *models.EnrollmentDetail
	action models.HistoryAction
	// recorded is false for no-op moves that wrote nothing.
	recorded bool
}

// List returns enrollments matching the query.
func (s *AdmissionService) List(ctx context.Context, query dto.EnrollmentQuery) ([]dto.EnrollmentResponse, *models.Pagination, error) {
	status := models.EnrollmentStatus(strings.ToLower(strings.TrimSpace(query.Status)))
	if status != "" && !status.Valid() {
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "invalid status filter")
	}
	filter := models.EnrollmentFilter{
		Search:    strings.TrimSpace(query.Search),
		CourseID:  strings.TrimSpace(query.CourseID),
		Status:    status,
		Page:      query.Page,
		PageSize:  query.PageSize,
		SortBy:    query.SortField,
		SortOrder: query.SortOrder,
	}
	if filter.Page < 1 {
		filter.Page = 1
	}
	if filter.PageSize <= 0 || filter.PageSize > models.MaxPageSize {
		filter.PageSize = models.DefaultPageSize
	}

	details, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollments")
	}
	items := make([]dto.EnrollmentResponse, 0, len(details))
	for i := range details {
		items = append(items, *dto.NewEnrollmentResponse(&details[i]))
	}
	return items, models.NewPagination(filter.Page, filter.PageSize, total), nil
}

// Get returns one enrollment together with the size of its course waitlist.
func (s *AdmissionService) Get(ctx context.Context, id string) (*dto.EnrollmentResponse, error) {
	detail, err := s.store.FindDetailByID(ctx, nil, id)
	if err != nil {
		return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
	}
	count, err := s.store.CountByCourseAndStatus(ctx, nil, detail.CourseID, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count waitlist")
	}
	resp := dto.NewEnrollmentResponse(detail)
	resp.WaitlistCount = &count
	return resp, nil
}

// RequestEnrollment creates a pending enrollment, or a waitlisted one at the
// end of the queue when the course is full.
func (s *AdmissionService) RequestEnrollment(ctx context.Context, req dto.RequestEnrollmentRequest, actorID string) (*dto.EnrollmentResponse, error) {
	req.CourseID = strings.TrimSpace(req.CourseID)
	req.UserID = strings.TrimSpace(req.UserID)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid enrollment request")
	}

	return s.execute(ctx, "request", func(tx *sqlx.Tx) (*transition, error) {
		if err := s.store.LockCourseWaitlist(ctx, tx, req.CourseID); err != nil {
			return nil, err
		}
		capacity, err := s.courses.Capacity(ctx, tx, req.CourseID)
		if err != nil {
			return nil, notFoundOr(err, "course not found", "failed to read course capacity")
		}
		exists, err := s.store.ExistsForCourseAndUser(ctx, tx, req.CourseID, req.UserID)
		if err != nil {
			return nil, err
		}
		if exists {
			return nil, appErrors.Clone(appErrors.ErrConflict, "user already requested this course")
		}

		enrollment := &models.Enrollment{
			CourseID: req.CourseID,
			UserID:   req.UserID,
			Status:   models.EnrollmentStatusPending,
		}
		if !capacity.HasSeat() {
			position, err := s.sequencer.Append(ctx, tx, req.CourseID)
			if err != nil {
				return nil, err
			}
			enrollment.Status = models.EnrollmentStatusWaitlisted
			enrollment.WaitlistPosition = &position
		}
		if err := s.store.Create(ctx, tx, enrollment); err != nil {
			switch {
			case database.IsUniqueViolation(err):
				return nil, appErrors.Wrap(err, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, "user already requested this course")
			case database.IsForeignKeyViolation(err):
				return nil, appErrors.Wrap(err, appErrors.ErrNotFound.Code, appErrors.ErrNotFound.Status, "user not found")
			}
			return nil, err
		}
		return s.finish(ctx, tx, enrollment, models.HistoryActionCreated, actorID, nil)
	})
}

// Approve admits an enrollment from any state, releasing its waitlist slot.
func (s *AdmissionService) Approve(ctx context.Context, id string, req dto.DecisionRequest, actorID string) (*dto.EnrollmentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid approval payload")
	}
	return s.decide(ctx, "approve", id, models.EnrollmentStatusApproved, models.HistoryActionApproved, req.Notes, actorID)
}

// Deny rejects an enrollment from any state, releasing its waitlist slot.
func (s *AdmissionService) Deny(ctx context.Context, id string, req dto.DecisionRequest, actorID string) (*dto.EnrollmentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid denial payload")
	}
	return s.decide(ctx, "deny", id, models.EnrollmentStatusDenied, models.HistoryActionDenied, req.Notes, actorID)
}

// Waitlist queues a non-waitlisted enrollment at the end of its course waitlist.
func (s *AdmissionService) Waitlist(ctx context.Context, id string, req dto.DecisionRequest, actorID string) (*dto.EnrollmentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid waitlist payload")
	}
	notes := optionalNotes(req.Notes)
	return s.mutate(ctx, "waitlist", id, func(tx *sqlx.Tx, enrollment *models.Enrollment) (*transition, error) {
		if enrollment.Status == models.EnrollmentStatusWaitlisted {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is already waitlisted")
		}
		position, err := s.sequencer.Append(ctx, tx, enrollment.CourseID)
		if err != nil {
			return nil, err
		}
		if err := s.store.UpdateStatus(ctx, tx, repository.UpdateStatusParams{
			ID:               enrollment.ID,
			Status:           models.EnrollmentStatusWaitlisted,
			WaitlistPosition: &position,
			Notes:            notes,
		}); err != nil {
			return nil, err
		}
		return s.finish(ctx, tx, enrollment, models.HistoryActionWaitlisted, actorID, notes)
	})
}

// UpdateWaitlistPosition moves a waitlisted enrollment, clamping the target into range.
func (s *AdmissionService) UpdateWaitlistPosition(ctx context.Context, id string, req dto.UpdateWaitlistPositionRequest, actorID string) (*dto.EnrollmentResponse, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid waitlist position payload")
	}
	requested := *req.Position
	return s.move(ctx, "update_position", id, actorID, true, func(tx *sqlx.Tx, enrollment *models.Enrollment) (int, error) {
		return s.sequencer.MoveTo(ctx, tx, enrollment, requested)
	})
}

// MoveWaitlistUp moves a waitlisted enrollment one slot towards the head.
func (s *AdmissionService) MoveWaitlistUp(ctx context.Context, id, actorID string) (*dto.EnrollmentResponse, error) {
	return s.move(ctx, "move_up", id, actorID, false, func(tx *sqlx.Tx, enrollment *models.Enrollment) (int, error) {
		return s.sequencer.MoveUp(ctx, tx, enrollment)
	})
}

// MoveWaitlistDown moves a waitlisted enrollment one slot towards the tail.
func (s *AdmissionService) MoveWaitlistDown(ctx context.Context, id, actorID string) (*dto.EnrollmentResponse, error) {
	return s.move(ctx, "move_down", id, actorID, false, func(tx *sqlx.Tx, enrollment *models.Enrollment) (int, error) {
		return s.sequencer.MoveDown(ctx, tx, enrollment)
	})
}

func (s *AdmissionService) decide(ctx context.Context, op, id string, status models.EnrollmentStatus, action models.HistoryAction, rawNotes, actorID string) (*dto.EnrollmentResponse, error) {
	notes := optionalNotes(rawNotes)
	return s.mutate(ctx, op, id, func(tx *sqlx.Tx, enrollment *models.Enrollment) (*transition, error) {
		if status == models.EnrollmentStatusApproved && s.cfg.EnforceCapacityOnApprove && enrollment.Status != models.EnrollmentStatusApproved {
			capacity, err := s.courses.Capacity(ctx, tx, enrollment.CourseID)
			if err != nil {
				return nil, notFoundOr(err, "course not found", "failed to read course capacity")
			}
			if !capacity.CanApprove() {
				return nil, appErrors.Clone(appErrors.ErrCapacityExceeded, "course has no free seat")
			}
		}
		if err := s.sequencer.Remove(ctx, tx, enrollment); err != nil {
			return nil, err
		}
		if err := s.store.UpdateStatus(ctx, tx, repository.UpdateStatusParams{
			ID:     enrollment.ID,
			Status: status,
			Notes:  notes,
		}); err != nil {
			return nil, err
		}
		return s.finish(ctx, tx, enrollment, action, actorID, notes)
	})
}

// move applies a sequencer move. When always is false a move that leaves the
// position unchanged records no history.
func (s *AdmissionService) move(ctx context.Context, op, id, actorID string, always bool, fn func(tx *sqlx.Tx, enrollment *models.Enrollment) (int, error)) (*dto.EnrollmentResponse, error) {
	return s.mutate(ctx, op, id, func(tx *sqlx.Tx, enrollment *models.Enrollment) (*transition, error) {
		if enrollment.Status != models.EnrollmentStatusWaitlisted {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is not waitlisted")
		}
		previous := enrollment.Position()
		position, err := fn(tx, enrollment)
		if err != nil {
			return nil, err
		}
		if position == previous && !always {
			detail, err := s.store.FindDetailByID(ctx, tx, enrollment.ID)
			if err != nil {
				return nil, err
			}
			return &transition{detail: detail, action: models.HistoryActionPositionChanged}, nil
		}
		return s.finish(ctx, tx, enrollment, models.HistoryActionPositionChanged, actorID, nil)
	})
}

// mutate locks the course waitlist, re-reads the enrollment under a row lock
// and hands it to fn.
func (s *AdmissionService) mutate(ctx context.Context, op, id string, fn func(tx *sqlx.Tx, enrollment *models.Enrollment) (*transition, error)) (*dto.EnrollmentResponse, error) {
	return s.execute(ctx, op, func(tx *sqlx.Tx) (*transition, error) {
		current, err := s.store.FindByID(ctx, tx, id)
		if err != nil {
			return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
		}
		if err := s.store.LockCourseWaitlist(ctx, tx, current.CourseID); err != nil {
			return nil, err
		}
		enrollment, err := s.store.FindByIDForUpdate(ctx, tx, id)
		if err != nil {
			return nil, notFoundOr(err, "enrollment not found", "failed to load enrollment")
		}
		return fn(tx, enrollment)
	})
}

// finish loads the post-transition state, appends history and verifies the waitlist.
func (s *AdmissionService) finish(ctx context.Context, tx *sqlx.Tx, enrollment *models.Enrollment, action models.HistoryAction, actorID string, notes *string) (*transition, error) {
	detail, err := s.store.FindDetailByID(ctx, tx, enrollment.ID)
	if err != nil {
		return nil, err
	}
	if err := s.history.Record(ctx, tx, HistoryRecord{
		Enrollment: detail,
		Action:     action,
		ActorID:    actorID,
		Notes:      notes,
	}); err != nil {
		return nil, err
	}
	if s.cfg.VerifyWaitlist {
		if err := s.sequencer.Verify(ctx, tx, enrollment.CourseID); err != nil {
			s.metrics.RecordWaitlistFault()
			return nil, err
		}
	}
	return &transition{detail: detail, action: action, recorded: true}, nil
}

// execute runs fn in a transaction, replaying it once on a lock or
// serialization conflict when configured to.
func (s *AdmissionService) execute(ctx context.Context, op string, fn func(tx *sqlx.Tx) (*transition, error)) (*dto.EnrollmentResponse, error) {
	if s.tx == nil {
		return nil, appErrors.Clone(appErrors.ErrInternal, "transaction provider missing")
	}
	log := logger.FromContext(ctx, s.logger).With(zap.String("operation", op))

	attempts := 1
	if s.cfg.RetryOnConflict {
		attempts = 2
	}
	var (
		result *transition
		err    error
	)
	for attempt := 1; attempt <= attempts; attempt++ {
		result, err = s.runTx(ctx, op, fn)
		if err == nil || !database.IsRetryableConflict(err) {
			break
		}
		if attempt < attempts {
			s.metrics.RecordConflictRetry(op)
			log.Warn("admission transaction conflicted, retrying", zap.Error(err))
		}
	}
	if err != nil {
		if database.IsRetryableConflict(err) {
			log.Warn("admission transaction gave up after conflict", zap.Error(err))
			return nil, appErrors.Wrap(err, appErrors.ErrConcurrentModification.Code, appErrors.ErrConcurrentModification.Status, appErrors.ErrConcurrentModification.Message)
		}
		var appErr *appErrors.Error
		if errors.As(err, &appErr) {
			return nil, appErr
		}
		log.Error("admission transaction failed", zap.Error(err))
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update enrollment")
	}

	if result.recorded {
		s.metrics.RecordTransition(result.action)
		s.history.InvalidateCache(ctx)
		log.Info("enrollment transition committed",
			zap.String("enrollment_id", result.detail.ID),
			zap.String("course_id", result.detail.CourseID),
			zap.String("action", string(result.action)),
			zap.String("status", string(result.detail.Status)),
			zap.Int("waitlist_position", result.detail.Position()),
		)
	}
	return dto.NewEnrollmentResponse(result.detail), nil
}

func (s *AdmissionService) runTx(ctx context.Context, op string, fn func(tx *sqlx.Tx) (*transition, error)) (result *transition, err error) {
	start := time.Now()
	defer func() {
		outcome := "committed"
		if err != nil {
			outcome = "rolled_back"
		}
		s.metrics.ObserveTransaction(op, outcome, time.Since(start))
	}()

	tx, err := s.tx.BeginTxx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	if err = s.store.SetLockTimeout(ctx, tx, s.cfg.LockTimeout); err != nil {
		return nil, err
	}
	if result, err = fn(tx); err != nil {
		return nil, err
	}
	if err = tx.Commit(); err != nil {
		return nil, err
	}
	return result, nil
}

func optionalNotes(raw string) *string {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil
	}
	return &trimmed
}

func notFoundOr(err error, notFound, internal string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, notFound)
	}
	var appErr *appErrors.Error
	if errors.As(err, &appErr) {
		return appErr
	}
	if database.IsRetryableConflict(err) {
		return err
	}
	return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, internal)
}
