package dto

import (
	"time"

	"github.com/noah-isme/enrollment-admission-api/internal/models"
)

// HistoryQuery captures audit filters from the request layer. Dates accept
// RFC3339 timestamps or YYYY-MM-DD; a bare DateTo covers the whole day.
type HistoryQuery struct {
	Search    string `validate:"max=200"`
	Status    string `validate:"omitempty,oneof=pending approved denied waitlisted"`
	Action    string `validate:"omitempty,oneof=created approved denied waitlisted position_changed"`
	DateFrom  string
	DateTo    string
	SortField string
	SortOrder string
	Page      int
	PageSize  int
}

// ExportHistoryQuery requests a rendered audit document.
type ExportHistoryQuery struct {
	HistoryQuery
	Format string `validate:"required,oneof=csv pdf"`
}

// HistoryEntryResponse is the audit row returned to callers.
type HistoryEntryResponse struct {
	ID               string                  `json:"id"`
	EnrollmentID     string                  `json:"enrollmentId"`
	User             string                  `json:"user"`
	CourseTitle      string                  `json:"courseTitle"`
	Action           models.HistoryAction    `json:"action"`
	Status           models.EnrollmentStatus `json:"status"`
	WaitlistPosition *int                    `json:"waitlistPosition,omitempty"`
	Notes            *string                 `json:"notes,omitempty"`
	ActorID          string                  `json:"actorId"`
	ActionDate       time.Time               `json:"actionDate"`
}

// HistoryPage is the cacheable unit of a history listing.
type HistoryPage struct {
	Items      []HistoryEntryResponse `json:"items"`
	Pagination models.Pagination      `json:"pagination"`
}

// ExportFile is a rendered audit export.
type ExportFile struct {
	Filename    string
	ContentType string
	Body        []byte
}

// NewHistoryEntryResponse maps a stored entry to its response form.
func NewHistoryEntryResponse(entry models.EnrollmentHistoryEntry) HistoryEntryResponse {
	return HistoryEntryResponse{
		ID:               entry.ID,
		EnrollmentID:     entry.EnrollmentID,
		User:             entry.UserName,
		CourseTitle:      entry.CourseTitle,
		Action:           entry.Action,
		Status:           entry.Status,
		WaitlistPosition: entry.WaitlistPosition,
		Notes:            entry.Notes,
		ActorID:          entry.ActorID,
		ActionDate:       entry.ActionDate,
	}
}
