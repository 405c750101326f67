package handler

import (
	"context"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/noah-isme/enrollment-admission-api/internal/dto"
	"github.com/noah-isme/enrollment-admission-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-admission-api/pkg/errors"
	"github.com/noah-isme/enrollment-admission-api/pkg/response"
)

type admissionService interface {
	List(ctx context.Context, query dto.EnrollmentQuery) ([]dto.EnrollmentResponse, *models.Pagination, error)
	Get(ctx context.Context, id string) (*dto.EnrollmentResponse, error)
	RequestEnrollment(ctx context.Context, req dto.RequestEnrollmentRequest, actorID string) (*dto.EnrollmentResponse, error)
	Approve(ctx context.Context, id string, req dto.DecisionRequest, actorID string) (*dto.EnrollmentResponse, error)
	Deny(ctx context.Context, id string, req dto.DecisionRequest, actorID string) (*dto.EnrollmentResponse, error)
	Waitlist(ctx context.Context, id string, req dto.DecisionRequest, actorID string) (*dto.EnrollmentResponse, error)
	UpdateWaitlistPosition(ctx context.Context, id string, req dto.UpdateWaitlistPositionRequest, actorID string) (*dto.EnrollmentResponse, error)
	MoveWaitlistUp(ctx context.Context, id, actorID string) (*dto.EnrollmentResponse, error)
	MoveWaitlistDown(ctx context.Context, id, actorID string) (*dto.EnrollmentResponse, error)
}

type enrollmentTrailReader interface {
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]dto.HistoryEntryResponse, error)
}

// EnrollmentHandler exposes enrollment admission endpoints.
type EnrollmentHandler struct {
	admissions admissionService
	history    enrollmentTrailReader
}

// NewEnrollmentHandler constructs EnrollmentHandler.
func NewEnrollmentHandler(admissions admissionService, history enrollmentTrailReader) *EnrollmentHandler {
	return &EnrollmentHandler{admissions: admissions, history: history}
}

// List godoc
// @Summary List enrollments
// @Tags Enrollments
// @Produce json
// @Param search query string false "Student name, email or course title"
// @Param status query string false "pending, approved, denied or waitlisted"
// @Param courseId query string false "Filter by course"
// @Param sort query string false "created_at, updated_at, status, waitlist_position, student_name, course_title"
// @Param order query string false "asc or desc"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /enrollments [get]
func (h *EnrollmentHandler) List(c *gin.Context) {
	page, size := pageParams(c)
	query := dto.EnrollmentQuery{
		Search:    c.Query("search"),
		Status:    c.Query("status"),
		CourseID:  c.Query("courseId"),
		SortField: c.Query("sort"),
		SortOrder: c.Query("order"),
		Page:      page,
		PageSize:  size,
	}
	items, pagination, err := h.admissions.List(c.Request.Context(), query)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, pagination)
}

// Get godoc
// @Summary Get enrollment
// @Description Includes the number of waitlisted enrollments of the course.
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id} [get]
func (h *EnrollmentHandler) Get(c *gin.Context) {
	enrollment, err := h.admissions.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// History godoc
// @Summary Enrollment audit trail
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Failure 404 {object} response.Envelope
// @Router /enrollments/{id}/history [get]
func (h *EnrollmentHandler) History(c *gin.Context) {
	id := c.Param("id")
	if _, err := h.admissions.Get(c.Request.Context(), id); err != nil {
		response.Error(c, err)
		return
	}
	items, err := h.history.ListByEnrollment(c.Request.Context(), id)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, items, nil)
}

// Request godoc
// @Summary Request a seat in a course
// @Description userId defaults to the caller. Only staff may request on behalf of another user.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param payload body dto.RequestEnrollmentRequest true "Enrollment request"
// @Success 201 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments [post]
func (h *EnrollmentHandler) Request(c *gin.Context) {
	var req dto.RequestEnrollmentRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	req.UserID = strings.TrimSpace(req.UserID)
	if req.UserID == "" {
		req.UserID = claims.UserID
	}
	if req.UserID != claims.UserID && !claims.IsStaff() {
		response.Error(c, appErrors.Clone(appErrors.ErrForbidden, "cannot request enrollment for another user"))
		return
	}

	enrollment, err := h.admissions.RequestEnrollment(c.Request.Context(), req, claims.UserID)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, enrollment)
}

// Approve godoc
// @Summary Approve enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.DecisionRequest false "Decision note"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/approve [post]
func (h *EnrollmentHandler) Approve(c *gin.Context) {
	h.decide(c, h.admissions.Approve)
}

// Deny godoc
// @Summary Deny enrollment
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.DecisionRequest false "Decision note"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/deny [post]
func (h *EnrollmentHandler) Deny(c *gin.Context) {
	h.decide(c, h.admissions.Deny)
}

// Waitlist godoc
// @Summary Move enrollment to the end of the course waitlist
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.DecisionRequest false "Decision note"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/waitlist [post]
func (h *EnrollmentHandler) Waitlist(c *gin.Context) {
	h.decide(c, h.admissions.Waitlist)
}

func (h *EnrollmentHandler) decide(c *gin.Context, fn func(ctx context.Context, id string, req dto.DecisionRequest, actorID string) (*dto.EnrollmentResponse, error)) {
	var req dto.DecisionRequest
	if err := bindOptionalJSON(c, &req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	enrollment, err := fn(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// UpdateWaitlistPosition godoc
// @Summary Reposition a waitlisted enrollment
// @Description Out-of-range positions are clamped into the waitlist.
// @Tags Enrollments
// @Accept json
// @Produce json
// @Param id path string true "Enrollment ID"
// @Param payload body dto.UpdateWaitlistPositionRequest true "Target position"
// @Success 200 {object} response.Envelope
// @Failure 409 {object} response.Envelope
// @Router /enrollments/{id}/waitlist-position [put]
func (h *EnrollmentHandler) UpdateWaitlistPosition(c *gin.Context) {
	var req dto.UpdateWaitlistPositionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "position must be an integer"))
		return
	}
	enrollment, err := h.admissions.UpdateWaitlistPosition(c.Request.Context(), c.Param("id"), req, actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// MoveUp godoc
// @Summary Move a waitlisted enrollment one slot up
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/waitlist/up [post]
func (h *EnrollmentHandler) MoveUp(c *gin.Context) {
	enrollment, err := h.admissions.MoveWaitlistUp(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}

// MoveDown godoc
// @Summary Move a waitlisted enrollment one slot down
// @Tags Enrollments
// @Produce json
// @Param id path string true "Enrollment ID"
// @Success 200 {object} response.Envelope
// @Router /enrollments/{id}/waitlist/down [post]
func (h *EnrollmentHandler) MoveDown(c *gin.Context) {
	enrollment, err := h.admissions.MoveWaitlistDown(c.Request.Context(), c.Param("id"), actorID(c))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, enrollment, nil)
}
