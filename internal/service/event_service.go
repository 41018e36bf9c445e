package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/feste-api/internal/dto"
	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/internal/repository"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
)

const maxEventsPageSize = 100

var eventTimeLayouts = []string{time.RFC3339, "2006-01-02T15:04:05", "2006-01-02T15:04", "2006-01-02"}

type eventRepository interface {
	FindByID(ctx context.Context, id string) (*models.Event, error)
	List(ctx context.Context, filter models.EventFilter) ([]models.Event, int, error)
	Create(ctx context.Context, event *models.Event) error
	Update(ctx context.Context, event *models.Event, previous models.EventStatus) error
	Delete(ctx context.Context, id string) error
}

// EventService manages feste and enforces the event lifecycle.
type EventService struct {
	repo      eventRepository
	audit     auditWriter
	cache     *CacheService
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
	now       func() time.Time
}

// NewEventService constructs an EventService.
func NewEventService(repo eventRepository, audit auditWriter, cache *CacheService, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *EventService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &EventService{
		repo:      repo,
		audit:     audit,
		cache:     cache,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
		now:       func() time.Time { return time.Now().UTC() },
	}
}

// List returns events matching the query with the derived passato flag.
// Without page_size every match is returned.
func (s *EventService) List(ctx context.Context, query dto.EventListQuery) ([]models.Event, *models.Pagination, error) {
	filter := models.EventFilter{
		Search: strings.TrimSpace(query.Search),
		Now:    s.now(),
		Page:   query.Page,
	}

	if raw := strings.TrimSpace(query.Stato); raw != "" {
		status := models.EventStatus(raw)
		if !status.Valid() {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown stato %q", raw))
		}
		filter.Stato = &status
	}

	switch models.EventTime(strings.TrimSpace(query.Tempo)) {
	case "", models.EventTimeAll:
		filter.Time = models.EventTimeAll
	case models.EventTimeUpcoming:
		filter.Time = models.EventTimeUpcoming
	case models.EventTimePast:
		filter.Time = models.EventTimePast
	default:
		return nil, nil, appErrors.Clone(appErrors.ErrValidation, "tempo must be one of tutti, futuri, passati")
	}

	if raw := strings.TrimSpace(query.Data); raw != "" {
		day, err := time.Parse("2006-01-02", raw)
		if err != nil {
			return nil, nil, appErrors.Clone(appErrors.ErrValidation, "data must be formatted as YYYY-MM-DD")
		}
		filter.Day = &day
	}

	if query.PageSize > 0 {
		filter.PageSize = query.PageSize
		if filter.PageSize > maxEventsPageSize {
			filter.PageSize = maxEventsPageSize
		}
		if filter.Page < 1 {
			filter.Page = 1
		}
	}

	events, total, err := s.repo.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Upstream(err, "failed to list events")
	}

	pagination := &models.Pagination{Page: 1, PageSize: total, TotalCount: total}
	if filter.PageSize > 0 {
		pagination.Page = filter.Page
		pagination.PageSize = filter.PageSize
	}
	return events, pagination, nil
}

// Get returns a single event.
func (s *EventService) Get(ctx context.Context, id string) (*models.Event, error) {
	event, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapEventErr(err, "failed to load event")
	}
	event.MarkPast(s.now())
	return event, nil
}

// Create validates and inserts a new event. It always starts pianificata.
func (s *EventService) Create(ctx context.Context, principal *models.Principal, req dto.CreateEventRequest, meta models.RequestMeta) (*models.Event, error) {
	event, err := s.create(ctx, principal, req, meta)
	s.metrics.ObserveAdminAction("create_event", err)
	return event, err
}

func (s *EventService) create(ctx context.Context, principal *models.Principal, req dto.CreateEventRequest, meta models.RequestMeta) (*models.Event, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}

	req.Titolo = strings.TrimSpace(req.Titolo)
	req.Location = strings.TrimSpace(req.Location)
	req.DataInizio = strings.TrimSpace(req.DataInizio)
	req.ImmagineURL = strings.TrimSpace(req.ImmagineURL)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "titolo, data_inizio and location are required")
	}

	start, err := parseEventTime(req.DataInizio)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "data_inizio is not a valid date")
	}
	end, err := parseOptionalEventTime(req.DataFine)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrValidation, "data_fine is not a valid date")
	}
	if end != nil && end.Before(start) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "data_fine must not precede data_inizio")
	}

	status := models.EventStatusPlanned
	if raw := strings.TrimSpace(req.Stato); raw != "" {
		requested := models.EventStatus(raw)
		if !requested.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown stato %q", raw))
		}
		if requested != models.EventStatusPlanned {
			return nil, appErrors.Clone(appErrors.ErrInvalidTransition, fmt.Sprintf("a new event starts as %q, not %q", models.EventStatusPlanned, requested))
		}
	}

	creator := principal.ID
	event := &models.Event{
		Titolo:          req.Titolo,
		Descrizione:     strings.TrimSpace(req.Descrizione),
		DataInizio:      start,
		DataFine:        end,
		Location:        req.Location,
		MaxPartecipanti: req.MaxPartecipanti,
		Stato:           status,
		Prezzo:          req.Prezzo,
		ImmagineURL:     req.ImmagineURL,
		CreatoreID:      &creator,
		Tags:            normalizeTags(req.Tags),
	}
	if err := s.repo.Create(ctx, event); err != nil {
		return nil, appErrors.Upstream(err, "failed to create event")
	}
	event.MarkPast(s.now())

	recordAudit(ctx, s.audit, s.logger, principal, models.AuditActionEventCreate, "event", event.ID, nil, event, meta)
	s.cache.Invalidate(ctx, cachePatternDashboard)
	return event, nil
}

// Update merges the non-nil fields of req into the event. A stato different
// from the current one must be a legal transition from the status read, and
// edits that leave stato alone never write it.
func (s *EventService) Update(ctx context.Context, principal *models.Principal, id string, req dto.UpdateEventRequest, meta models.RequestMeta) (*models.Event, error) {
	event, err := s.update(ctx, principal, id, req, meta)
	s.metrics.ObserveAdminAction("update_event", err)
	return event, err
}

func (s *EventService) update(ctx context.Context, principal *models.Principal, id string, req dto.UpdateEventRequest, meta models.RequestMeta) (*models.Event, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid event payload")
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapEventErr(err, "failed to load event")
	}
	before := *current
	next := *current

	if req.Stato != nil {
		requested := models.EventStatus(strings.TrimSpace(*req.Stato))
		if !requested.Valid() {
			return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown stato %q", *req.Stato))
		}
		if requested != current.Stato {
			if err := ValidateEventTransition(current.Stato, requested); err != nil {
				return nil, err
			}
			next.Stato = requested
		}
	}
	if req.Titolo != nil {
		if next.Titolo = strings.TrimSpace(*req.Titolo); next.Titolo == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "titolo must not be blank")
		}
	}
	if req.Location != nil {
		if next.Location = strings.TrimSpace(*req.Location); next.Location == "" {
			return nil, appErrors.Clone(appErrors.ErrValidation, "location must not be blank")
		}
	}
	if req.Descrizione != nil {
		next.Descrizione = strings.TrimSpace(*req.Descrizione)
	}
	if req.DataInizio != nil {
		start, err := parseEventTime(strings.TrimSpace(*req.DataInizio))
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "data_inizio is not a valid date")
		}
		next.DataInizio = start
	}
	if req.DataFine != nil {
		end, err := parseOptionalEventTime(req.DataFine)
		if err != nil {
			return nil, appErrors.Clone(appErrors.ErrValidation, "data_fine is not a valid date")
		}
		next.DataFine = end
	}
	if next.DataFine != nil && next.DataFine.Before(next.DataInizio) {
		return nil, appErrors.Clone(appErrors.ErrValidation, "data_fine must not precede data_inizio")
	}
	if req.MaxPartecipanti != nil {
		next.MaxPartecipanti = *req.MaxPartecipanti
	}
	if req.Prezzo != nil {
		next.Prezzo = req.Prezzo
	}
	if req.ImmagineURL != nil {
		next.ImmagineURL = strings.TrimSpace(*req.ImmagineURL)
	}
	if req.Tags != nil {
		next.Tags = normalizeTags(*req.Tags)
	}

	if err := s.repo.Update(ctx, &next, current.Stato); err != nil {
		if errors.Is(err, repository.ErrStaleStatus) {
			return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("event is no longer %q; reload before changing stato", current.Stato))
		}
		return nil, mapEventErr(err, "failed to update event")
	}
	next.MarkPast(s.now())

	recordAudit(ctx, s.audit, s.logger, principal, models.AuditActionEventUpdate, "event", next.ID, before, next, meta)
	s.cache.Invalidate(ctx, cachePatternDashboard)
	return &next, nil
}

// Delete hard-deletes an event. Deleting a missing event reports NotFound
// every time.
func (s *EventService) Delete(ctx context.Context, principal *models.Principal, id string, meta models.RequestMeta) error {
	err := s.delete(ctx, principal, id, meta)
	s.metrics.ObserveAdminAction("delete_event", err)
	return err
}

func (s *EventService) delete(ctx context.Context, principal *models.Principal, id string, meta models.RequestMeta) error {
	if err := requireAdmin(principal); err != nil {
		return err
	}
	if err := s.repo.Delete(ctx, id); err != nil {
		return mapEventErr(err, "failed to delete event")
	}
	recordAudit(ctx, s.audit, s.logger, principal, models.AuditActionEventDelete, "event", id, nil, nil, meta)
	s.cache.Invalidate(ctx, cachePatternDashboard)
	return nil
}

func mapEventErr(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "event not found")
	}
	return appErrors.Upstream(err, message)
}

func parseEventTime(raw string) (time.Time, error) {
	for _, layout := range eventTimeLayouts {
		if t, err := time.Parse(layout, raw); err == nil {
			return t.UTC(), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised time %q", raw)
}

func parseOptionalEventTime(raw *string) (*time.Time, error) {
	if raw == nil || strings.TrimSpace(*raw) == "" {
		return nil, nil
	}
	t, err := parseEventTime(strings.TrimSpace(*raw))
	if err != nil {
		return nil, err
	}
	return &t, nil
}

func normalizeTags(tags []string) []string {
	out := make([]string, 0, len(tags))
	seen := make(map[string]struct{}, len(tags))
	for _, tag := range tags {
		tag = strings.ToLower(strings.TrimSpace(tag))
		if tag == "" {
			continue
		}
		if _, dup := seen[tag]; dup {
			continue
		}
		seen[tag] = struct{}{}
		out = append(out, tag)
	}
	return out
}
