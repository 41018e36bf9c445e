package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/noah-isme/feste-api/internal/dto"
	"github.com/noah-isme/feste-api/internal/models"
	"github.com/noah-isme/feste-api/internal/repository"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
)

type participationRepository interface {
	Create(ctx context.Context, p *models.Participation) error
	FindByID(ctx context.Context, id string) (*models.Participation, error)
	ListByEvent(ctx context.Context, eventID string) ([]models.ParticipationDetail, error)
	ListByUser(ctx context.Context, userID string) ([]models.ParticipationDetail, error)
	UpdateStatus(ctx context.Context, id string, from, to models.ParticipationStatus, note *string) (*models.Participation, error)
	Confirm(ctx context.Context, id string, from models.ParticipationStatus, note *string) (*models.Participation, error)
}

type eventFinder interface {
	FindByID(ctx context.Context, id string) (*models.Event, error)
}

// Notifier delivers best-effort notifications.
type Notifier interface {
	Notify(n models.Notification)
}

// ParticipationService handles join requests and their review.
type ParticipationService struct {
	repo      participationRepository
	events    eventFinder
	audit     auditWriter
	notifier  Notifier
	cache     *CacheService
	validator *validator.Validate
	metrics   *MetricsService
	logger    *zap.Logger
}

// NewParticipationService constructs a ParticipationService.
func NewParticipationService(repo participationRepository, events eventFinder, audit auditWriter, notifier Notifier, cache *CacheService, validate *validator.Validate, metrics *MetricsService, logger *zap.Logger) *ParticipationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if validate == nil {
		validate = validator.New()
	}
	return &ParticipationService{
		repo:      repo,
		events:    events,
		audit:     audit,
		notifier:  notifier,
		cache:     cache,
		validator: validate,
		metrics:   metrics,
		logger:    logger,
	}
}

// Request records a pending participation for the caller. The event must
// exist and not be concluded or cancelled. Repeated requests are accepted.
func (s *ParticipationService) Request(ctx context.Context, userID, eventID string, req dto.CreateParticipationRequest) (*models.Participation, error) {
	if userID == "" {
		return nil, appErrors.ErrUnauthorized
	}
	req.Note = strings.TrimSpace(req.Note)
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid participation payload")
	}

	event, err := s.events.FindByID(ctx, eventID)
	if err != nil {
		return nil, mapEventErr(err, "failed to load event")
	}
	if event.Stato.Terminal() {
		return nil, appErrors.Clone(appErrors.ErrConflict, fmt.Sprintf("event is %s and no longer accepts requests", event.Stato))
	}

	p := &models.Participation{
		FestaID: event.ID,
		UserID:  userID,
		Stato:   models.ParticipationPending,
		Note:    req.Note,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, appErrors.Upstream(err, "failed to create participation")
	}
	s.cache.Invalidate(ctx, cachePatternDashboard)
	return p, nil
}

// ListMine returns the caller's requests.
func (s *ParticipationService) ListMine(ctx context.Context, userID string) ([]models.ParticipationDetail, error) {
	items, err := s.repo.ListByUser(ctx, userID)
	if err != nil {
		return nil, appErrors.Upstream(err, "failed to list participations")
	}
	return items, nil
}

// ListByEvent returns every request for an event.
func (s *ParticipationService) ListByEvent(ctx context.Context, principal *models.Principal, eventID string) ([]models.ParticipationDetail, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if _, err := s.events.FindByID(ctx, eventID); err != nil {
		return nil, mapEventErr(err, "failed to load event")
	}
	items, err := s.repo.ListByEvent(ctx, eventID)
	if err != nil {
		return nil, appErrors.Upstream(err, "failed to list participations")
	}
	return items, nil
}

// Review confirms or rejects a pending request and notifies the requester.
// Confirming is refused once the event's capacity is reached.
func (s *ParticipationService) Review(ctx context.Context, principal *models.Principal, id string, req dto.ReviewParticipationRequest, meta models.RequestMeta) (*models.Participation, error) {
	p, err := s.review(ctx, principal, id, req, meta)
	s.metrics.ObserveAdminAction("review_participation", err)
	return p, err
}

func (s *ParticipationService) review(ctx context.Context, principal *models.Principal, id string, req dto.ReviewParticipationRequest, meta models.RequestMeta) (*models.Participation, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, err
	}
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "stato is required")
	}
	target := models.ParticipationStatus(strings.TrimSpace(req.Stato))
	if !target.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, fmt.Sprintf("unknown stato %q", req.Stato))
	}

	current, err := s.repo.FindByID(ctx, id)
	if err != nil {
		return nil, mapParticipationErr(err, "failed to load participation")
	}
	if err := ValidateParticipationTransition(current.Stato, target); err != nil {
		return nil, err
	}

	event, err := s.events.FindByID(ctx, current.FestaID)
	if err != nil {
		return nil, mapEventErr(err, "failed to load event")
	}

	var note *string
	if req.Note != nil {
		trimmed := strings.TrimSpace(*req.Note)
		note = &trimmed
	}
	var updated *models.Participation
	if target == models.ParticipationConfirmed {
		updated, err = s.repo.Confirm(ctx, id, current.Stato, note)
	} else {
		updated, err = s.repo.UpdateStatus(ctx, id, current.Stato, target, note)
	}
	if err != nil {
		switch {
		case errors.Is(err, repository.ErrCapacityReached):
			return nil, appErrors.Clone(appErrors.ErrConflict, "event has reached its capacity")
		case errors.Is(err, sql.ErrNoRows):
			return nil, appErrors.Clone(appErrors.ErrConflict, "participation was changed by another request")
		}
		return nil, appErrors.Upstream(err, "failed to update participation")
	}

	recordAudit(ctx, s.audit, s.logger, principal, models.AuditActionParticipationReview, "participation", updated.ID,
		map[string]interface{}{"stato": current.Stato}, map[string]interface{}{"stato": updated.Stato}, meta)
	s.cache.Invalidate(ctx, cachePatternDashboard)

	if s.notifier != nil {
		festaID := event.ID
		s.notifier.Notify(models.Notification{
			UserID:    updated.UserID,
			FestaID:   &festaID,
			Tipo:      models.NotificationUpdate,
			Messaggio: reviewMessage(event.Titolo, updated.Stato),
		})
	}
	return updated, nil
}

func reviewMessage(titolo string, status models.ParticipationStatus) string {
	if status == models.ParticipationConfirmed {
		return fmt.Sprintf("La tua partecipazione a %q è stata confermata.", titolo)
	}
	return fmt.Sprintf("La tua richiesta di partecipazione a %q è stata rifiutata.", titolo)
}

func mapParticipationErr(err error, message string) error {
	if errors.Is(err, sql.ErrNoRows) {
		return appErrors.Clone(appErrors.ErrNotFound, "participation not found")
	}
	return appErrors.Upstream(err, message)
}
