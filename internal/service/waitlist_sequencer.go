package service

import (
	"context"
	"fmt"

	"github.com/jmoiron/sqlx"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
	"github.com/noah-isme/enrollment-admission-api/internal/repository"
	appErrors "github.com/noah-isme/enrollment-admission-api/pkg/errors"
)

type waitlistStore interface {
	MaxWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, courseID string) (int, error)
	CountByCourseAndStatus(ctx context.Context, exec sqlx.ExtContext, courseID string, status models.EnrollmentStatus) (int, error)
	FindWaitlistedOrderedByPosition(ctx context.Context, exec sqlx.ExtContext, courseID string) ([]models.Enrollment, error)
	ShiftWaitlistPositions(ctx context.Context, exec sqlx.ExtContext, params repository.ShiftParams) (int64, error)
	SetWaitlistPosition(ctx context.Context, exec sqlx.ExtContext, id string, position int) error
}

// WaitlistSequencer keeps each course's waitlist positions dense (1..N).
// Callers must hold the course waitlist lock inside exec's transaction.
type WaitlistSequencer struct {
	store waitlistStore
}

// NewWaitlistSequencer constructs a sequencer over the given store.
func NewWaitlistSequencer(store waitlistStore) *WaitlistSequencer {
	return &WaitlistSequencer{store: store}
}

// Append returns the slot at the end of the course waitlist.
func (s *WaitlistSequencer) Append(ctx context.Context, exec sqlx.ExtContext, courseID string) (int, error) {
	max, err := s.store.MaxWaitlistPosition(ctx, exec, courseID)
	if err != nil {
		return 0, err
	}
	return max + 1, nil
}

// Remove closes the gap left by enrollment. The caller clears the
// enrollment's own position together with its status change.
func (s *WaitlistSequencer) Remove(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) error {
	if !enrollment.IsWaitlisted() {
		return nil
	}
	max, err := s.store.MaxWaitlistPosition(ctx, exec, enrollment.CourseID)
	if err != nil {
		return err
	}
	_, err = s.store.ShiftWaitlistPositions(ctx, exec, repository.ShiftParams{
		CourseID:  enrollment.CourseID,
		From:      enrollment.Position() + 1,
		To:        max,
		Delta:     -1,
		ExcludeID: enrollment.ID,
	})
	return err
}

// MoveTo places enrollment at requested, clamped into [1, N], and returns
// the resulting position. Entries between the old and new slot shift by one.
func (s *WaitlistSequencer) MoveTo(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment, requested int) (int, error) {
	if !enrollment.IsWaitlisted() {
		return 0, appErrors.Clone(appErrors.ErrInvalidState, "enrollment is not waitlisted")
	}
	size, err := s.store.CountByCourseAndStatus(ctx, exec, enrollment.CourseID, models.EnrollmentStatusWaitlisted)
	if err != nil {
		return 0, err
	}
	target := clampPosition(requested, size)
	current := enrollment.Position()
	if target == current {
		return current, nil
	}

	shift := repository.ShiftParams{CourseID: enrollment.CourseID, ExcludeID: enrollment.ID}
	if target < current {
		shift.From, shift.To, shift.Delta = target, current-1, 1
	} else {
		shift.From, shift.To, shift.Delta = current+1, target, -1
	}
	if _, err := s.store.ShiftWaitlistPositions(ctx, exec, shift); err != nil {
		return 0, err
	}
	if err := s.store.SetWaitlistPosition(ctx, exec, enrollment.ID, target); err != nil {
		return 0, err
	}
	return target, nil
}

// MoveUp swaps enrollment with its predecessor; a no-op at the head.
func (s *WaitlistSequencer) MoveUp(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) (int, error) {
	if enrollment.IsWaitlisted() && enrollment.Position() <= 1 {
		return enrollment.Position(), nil
	}
	return s.MoveTo(ctx, exec, enrollment, enrollment.Position()-1)
}

// MoveDown swaps enrollment with its successor; a no-op at the tail.
func (s *WaitlistSequencer) MoveDown(ctx context.Context, exec sqlx.ExtContext, enrollment *models.Enrollment) (int, error) {
	return s.MoveTo(ctx, exec, enrollment, enrollment.Position()+1)
}

// Verify checks that the course waitlist occupies exactly positions 1..N.
func (s *WaitlistSequencer) Verify(ctx context.Context, exec sqlx.ExtContext, courseID string) error {
	entries, err := s.store.FindWaitlistedOrderedByPosition(ctx, exec, courseID)
	if err != nil {
		return err
	}
	for i, entry := range entries {
		if entry.Position() != i+1 {
			return appErrors.Wrap(
				fmt.Errorf("course %s: enrollment %s holds position %d, want %d", courseID, entry.ID, entry.Position(), i+1),
				appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "waitlist positions are not contiguous")
		}
	}
	return nil
}

func clampPosition(requested, size int) int {
	if size < 1 {
		return 1
	}
	if requested < 1 {
		return 1
	}
	if requested > size {
		return size
	}
	return requested
}
