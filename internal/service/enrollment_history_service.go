package service

import (
	"context"
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/jmoiron/sqlx"
	"go.uber.org/zap"

	"github.com/noah-isme/enrollment-admission-api/internal/dto"
	"github.com/noah-isme/enrollment-admission-api/internal/models"
	appErrors "github.com/noah-isme/enrollment-admission-api/pkg/errors"
	"github.com/noah-isme/enrollment-admission-api/pkg/export"
)

const historyCachePrefix = "page"

var historyExportHeaders = []string{"Date", "User", "Course", "Action", "Status", "Position", "Actor", "Notes"}

type historyStore interface {
	Create(ctx context.Context, exec sqlx.ExtContext, entry *models.EnrollmentHistoryEntry) error
	List(ctx context.Context, filter models.EnrollmentHistoryFilter) ([]models.EnrollmentHistoryEntry, int, error)
	ListForExport(ctx context.Context, filter models.EnrollmentHistoryFilter, limit int) ([]models.EnrollmentHistoryEntry, error)
	ListByEnrollment(ctx context.Context, enrollmentID string) ([]models.EnrollmentHistoryEntry, error)
}

type historyCache interface {
	Get(ctx context.Context, key string, dest interface{}) bool
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration)
	Generation(ctx context.Context) (int64, bool)
	Invalidate(ctx context.Context)
}

// cacheInvalidator defers invalidation to a background worker.
type cacheInvalidator interface {
	Trigger() (bool, error)
}

type documentRenderer interface {
	ContentType() string
	Extension() string
	Render(data export.Dataset, title string) ([]byte, error)
}

// HistoryRecord describes one transition to append to the audit trail.
type HistoryRecord struct {
	// Enrollment is the post-transition state.
	Enrollment *models.EnrollmentDetail
	Action     models.HistoryAction
	ActorID    string
	Notes      *string
}

// EnrollmentHistoryConfig tunes listing cache and exports.
type EnrollmentHistoryConfig struct {
	CacheTTL      time.Duration
	ExportMaxRows int
}

// EnrollmentHistoryService appends and serves the immutable enrollment audit trail.
type EnrollmentHistoryService struct {
	store     historyStore
	cache     historyCache
	renderers map[string]documentRenderer
	validator *validator.Validate
	logger    *zap.Logger
	cfg       EnrollmentHistoryConfig
	now       func() time.Time

	invalidator cacheInvalidator
}

// EnrollmentHistoryOption configures the service.
type EnrollmentHistoryOption func(*EnrollmentHistoryService)

// WithCacheInvalidator hands post-commit cache invalidation to a background
// worker instead of running it on the request path.
func WithCacheInvalidator(invalidator cacheInvalidator) EnrollmentHistoryOption {
	return func(s *EnrollmentHistoryService) {
		s.invalidator = invalidator
	}
}

// NewEnrollmentHistoryService constructs the service. A nil cache disables caching.
func NewEnrollmentHistoryService(store historyStore, cache historyCache, validate *validator.Validate, logger *zap.Logger, cfg EnrollmentHistoryConfig, opts ...EnrollmentHistoryOption) *EnrollmentHistoryService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.ExportMaxRows <= 0 {
		cfg.ExportMaxRows = 5000
	}
	csvRenderer := export.NewCSVExporter()
	pdfRenderer := export.NewPDFExporter()
	svc := &EnrollmentHistoryService{
		store: store,
		cache: cache,
		renderers: map[string]documentRenderer{
			csvRenderer.Extension(): csvRenderer,
			pdfRenderer.Extension(): pdfRenderer,
		},
		validator: validate,
		logger:    logger,
		cfg:       cfg,
		now:       time.Now,
	}
	for _, opt := range opts {
		opt(svc)
	}
	return svc
}

// Record appends a history entry inside the caller's transaction.
func (s *EnrollmentHistoryService) Record(ctx context.Context, exec sqlx.ExtContext, record HistoryRecord) error {
	if record.Enrollment == nil {
		return appErrors.Clone(appErrors.ErrInternal, "history record without enrollment")
	}
	if !record.Action.Valid() {
		return appErrors.Clone(appErrors.ErrInternal, fmt.Sprintf("unknown history action %q", record.Action))
	}
	entry := &models.EnrollmentHistoryEntry{
		EnrollmentID:     record.Enrollment.ID,
		UserName:         record.Enrollment.StudentName,
		CourseTitle:      record.Enrollment.CourseTitle,
		Action:           record.Action,
		Status:           record.Enrollment.Status,
		WaitlistPosition: record.Enrollment.WaitlistPosition,
		Notes:            record.Notes,
		ActorID:          record.ActorID,
		ActionDate:       s.now().UTC(),
	}
	return s.store.Create(ctx, exec, entry)
}

// InvalidateCache drops cached listings. Call only after the recording transaction commits.
func (s *EnrollmentHistoryService) InvalidateCache(ctx context.Context) {
	if s.invalidator != nil {
		_, err := s.invalidator.Trigger()
		if err == nil {
			return
		}
		s.logger.Warn("background invalidation unavailable, invalidating inline", zap.Error(err))
	}
	if s.cache != nil {
		s.cache.Invalidate(ctx)
	}
}

// List returns a filtered, paginated slice of the audit trail.
func (s *EnrollmentHistoryService) List(ctx context.Context, query dto.HistoryQuery) (*dto.HistoryPage, error) {
	filter, err := s.buildFilter(query)
	if err != nil {
		return nil, err
	}

	// The generation is read before the store so a page built from rows that
	// predate an invalidation is stored under a key no later reader uses.
	var key string
	if s.cache != nil {
		if gen, ok := s.cache.Generation(ctx); ok {
			key = cacheKey(generationPrefix(historyCachePrefix, gen), filter)
			var cached dto.HistoryPage
			if s.cache.Get(ctx, key, &cached) {
				return &cached, nil
			}
		}
	}

	entries, total, err := s.store.List(ctx, filter)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list enrollment history")
	}

	page := &dto.HistoryPage{
		Items:      make([]dto.HistoryEntryResponse, 0, len(entries)),
		Pagination: *models.NewPagination(filter.Page, filter.PageSize, total),
	}
	for _, entry := range entries {
		page.Items = append(page.Items, dto.NewHistoryEntryResponse(entry))
	}

	if key != "" {
		s.cache.Set(ctx, key, page, s.cfg.CacheTTL)
	}
	return page, nil
}

// ListByEnrollment returns the full trail of one enrollment, oldest first.
func (s *EnrollmentHistoryService) ListByEnrollment(ctx context.Context, enrollmentID string) ([]dto.HistoryEntryResponse, error) {
	entries, err := s.store.ListByEnrollment(ctx, enrollmentID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment history")
	}
	items := make([]dto.HistoryEntryResponse, 0, len(entries))
	for _, entry := range entries {
		items = append(items, dto.NewHistoryEntryResponse(entry))
	}
	return items, nil
}

// Export renders the filtered audit trail as a CSV or PDF document.
func (s *EnrollmentHistoryService) Export(ctx context.Context, query dto.ExportHistoryQuery) (*dto.ExportFile, error) {
	query.Format = strings.ToLower(strings.TrimSpace(query.Format))
	if err := s.validator.Struct(query); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid export query")
	}
	renderer, ok := s.renderers[query.Format]
	if !ok {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}
	filter, err := s.buildFilter(query.HistoryQuery)
	if err != nil {
		return nil, err
	}

	entries, err := s.store.ListForExport(ctx, filter, s.cfg.ExportMaxRows)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load enrollment history")
	}

	generated := s.now().UTC()
	body, err := renderer.Render(historyDataset(entries), "Enrollment History")
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render export")
	}
	s.logger.Info("enrollment history exported",
		zap.String("format", query.Format),
		zap.Int("rows", len(entries)),
	)
	return &dto.ExportFile{
		Filename:    fmt.Sprintf("enrollment-history-%s.%s", generated.Format("20060102-150405"), renderer.Extension()),
		ContentType: renderer.ContentType(),
		Body:        body,
	}, nil
}

func (s *EnrollmentHistoryService) buildFilter(query dto.HistoryQuery) (models.EnrollmentHistoryFilter, error) {
	if err := s.validator.Struct(query); err != nil {
		return models.EnrollmentHistoryFilter{}, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid history query")
	}
	filter := models.EnrollmentHistoryFilter{
		Search:    strings.TrimSpace(query.Search),
		Status:    models.EnrollmentStatus(query.Status),
		Action:    models.HistoryAction(query.Action),
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

	from, err := parseHistoryDate(query.DateFrom, false)
	if err != nil {
		return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dateFrom")
	}
	to, err := parseHistoryDate(query.DateTo, true)
	if err != nil {
		return filter, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid dateTo")
	}
	if from != nil && to != nil && from.After(*to) {
		return filter, appErrors.Clone(appErrors.ErrValidation, "dateFrom must not be after dateTo")
	}
	filter.DateFrom, filter.DateTo = from, to
	return filter, nil
}

// parseHistoryDate accepts RFC3339 or YYYY-MM-DD. A bare date used as an
// upper bound extends to the last instant of that day.
func parseHistoryDate(raw string, endOfDay bool) (*time.Time, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil, nil
	}
	if ts, err := time.Parse(time.RFC3339, raw); err == nil {
		ts = ts.UTC()
		return &ts, nil
	}
	day, err := time.Parse("2006-01-02", raw)
	if err != nil {
		return nil, fmt.Errorf("expected RFC3339 or YYYY-MM-DD, got %q", raw)
	}
	if endOfDay {
		day = day.Add(24*time.Hour - time.Nanosecond)
	}
	return &day, nil
}

func historyDataset(entries []models.EnrollmentHistoryEntry) export.Dataset {
	rows := make([]map[string]string, 0, len(entries))
	for _, entry := range entries {
		position := ""
		if entry.WaitlistPosition != nil {
			position = strconv.Itoa(*entry.WaitlistPosition)
		}
		notes := ""
		if entry.Notes != nil {
			notes = *entry.Notes
		}
		rows = append(rows, map[string]string{
			"Date":     entry.ActionDate.UTC().Format(time.RFC3339),
			"User":     entry.UserName,
			"Course":   entry.CourseTitle,
			"Action":   string(entry.Action),
			"Status":   string(entry.Status),
			"Position": position,
			"Actor":    entry.ActorID,
			"Notes":    notes,
		})
	}
	return export.Dataset{Headers: historyExportHeaders, Rows: rows}
}
