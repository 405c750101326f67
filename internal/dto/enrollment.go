package dto

import (
	"time"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
)

// RequestEnrollmentRequest asks for a seat in a course.
type RequestEnrollmentRequest struct {
	CourseID string `json:"courseId" validate:"required,max=64"`
	UserID   string `json:"userId" validate:"required,max=64"`
}

// DecisionRequest carries the optional staff note for approve/deny/waitlist.
type DecisionRequest struct {
	Notes string `json:"notes" validate:"max=2000"`
}

// UpdateWaitlistPositionRequest moves a waitlisted enrollment. Out-of-range
// positions are clamped by the sequencer rather than rejected.
type UpdateWaitlistPositionRequest struct {
	Position *int `json:"position" validate:"required"`
}

// EnrollmentQuery captures list filters from the request layer.
type EnrollmentQuery struct {
	Search    string
	Status    string
	CourseID  string
	SortField string
	SortOrder string
	Page      int
	PageSize  int
}

// EnrollmentResponse is returned for every enrollment read or transition.
type EnrollmentResponse struct {
	ID               string                  `json:"id"`
	CourseID         string                  `json:"courseId"`
	CourseTitle      string                  `json:"courseTitle"`
	UserID           string                  `json:"userId"`
	StudentName      string                  `json:"studentName"`
	StudentEmail     string                  `json:"studentEmail,omitempty"`
	Status           models.EnrollmentStatus `json:"status"`
	WaitlistPosition *int                    `json:"waitlistPosition"`
	WaitlistCount    *int                    `json:"waitlistCount,omitempty"`
	Notes            *string                 `json:"notes,omitempty"`
	CreatedAt        time.Time               `json:"createdAt"`
	UpdatedAt        time.Time               `json:"updatedAt"`
}

// NewEnrollmentResponse maps a detail row to its response form.
func NewEnrollmentResponse(detail *models.EnrollmentDetail) *EnrollmentResponse {
	if detail == nil {
		return nil
	}
	return &EnrollmentResponse{
		ID:               detail.ID,
		CourseID:         detail.CourseID,
		CourseTitle:      detail.CourseTitle,
		UserID:           detail.UserID,
		StudentName:      detail.StudentName,
		StudentEmail:     detail.StudentEmail,
		Status:           detail.Status,
		WaitlistPosition: detail.WaitlistPosition,
		Notes:            detail.Notes,
		CreatedAt:        detail.CreatedAt,
		UpdatedAt:        detail.UpdatedAt,
	}
}
