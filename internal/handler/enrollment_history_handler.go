package handler

import (
	"context"
	"net/http"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-admission-api/internal/dto"
	"github.com/noah-isme/enrollment-admission-api/pkg/response"
)

type enrollmentHistoryService interface {
	List(ctx context.Context, query dto.HistoryQuery) (*dto.HistoryPage, error)
	Export(ctx context.Context, query dto.ExportHistoryQuery) (*dto.ExportFile, error)
}

// EnrollmentHistoryHandler exposes the enrollment audit trail.
type EnrollmentHistoryHandler struct {
	history enrollmentHistoryService
}

// NewEnrollmentHistoryHandler constructs the handler.
func NewEnrollmentHistoryHandler(history enrollmentHistoryService) *EnrollmentHistoryHandler {
	return &EnrollmentHistoryHandler{history: history}
}

func historyQueryFromRequest(c *gin.Context) dto.HistoryQuery {
	page, size := pageParams(c)
	return dto.HistoryQuery{
		Search:    c.Query("search"),
		Status:    c.Query("status"),
		Action:    c.Query("action"),
		DateFrom:  c.Query("dateFrom"),
		DateTo:    c.Query("dateTo"),
		SortField: c.Query("sort"),
		SortOrder: c.Query("order"),
		Page:      page,
		PageSize:  size,
	}
}

// List godoc
// @Summary List enrollment history
// @Tags Enrollment History
// @Produce json
// @Param search query string false "Student name or course title"
// @Param status query string false "Resulting status"
// @Param action query string false "created, approved, denied, waitlisted or position_changed"
// @Param dateFrom query string false "RFC3339 or YYYY-MM-DD"
// @Param dateTo query string false "RFC3339 or YYYY-MM-DD, inclusive"
// @Param sort query string false "action_date, user, course_title, action, status"
// @Param order query string false "asc or desc (default desc)"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollment-history [get]
func (h *EnrollmentHistoryHandler) List(c *gin.Context) {
	page, err := h.history.List(c.Request.Context(), historyQueryFromRequest(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, page.Items, &page.Pagination)
}

// Export godoc
// @Summary Export enrollment history
// @Tags Enrollment History
// @Produce text/csv
// @Produce application/pdf
// @Param format query string true "csv or pdf"
// @Param action query string false "Filter by action"
// @Param status query string false "Filter by status"
// @Param dateFrom query string false "RFC3339 or YYYY-MM-DD"
// @Param dateTo query string false "RFC3339 or YYYY-MM-DD, inclusive"
// @Success 200 {file} file
// @Router /enrollment-history/export [get]
func (h *EnrollmentHistoryHandler) Export(c *gin.Context) {
	query := dto.ExportHistoryQuery{
		HistoryQuery: historyQueryFromRequest(c),
		Format:       c.DefaultQuery("format", "csv"),
	}
	file, err := h.history.Export(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Attachment(c, file.Filename, file.ContentType, file.Body)
}
