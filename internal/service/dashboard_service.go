package service

import (
	"context"
	"time"

	"go.uber.org/zap"

	"github.com/noah-isme/feste-api/internal/models"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
)

const newUsersWindow = 30 * 24 * time.Hour

type dashboardEventCounter interface {
	Count(ctx context.Context) (int, error)
	CountUpcoming(ctx context.Context, after time.Time) (int, error)
	CountByTime(ctx context.Context, boundary time.Time) (models.EventTimeSplit, error)
	CountByMonth(ctx context.Context) ([]models.CountBucket, error)
	CountByLocation(ctx context.Context) ([]models.CountBucket, error)
	CountByStatus(ctx context.Context) (map[models.EventStatus]int, error)
	AverageCapacity(ctx context.Context) (int, error)
}

type dashboardIdentityCounter interface {
	Count(ctx context.Context, since *time.Time) (int, error)
	CountApproved(ctx context.Context) (int, error)
}

type dashboardParticipationCounter interface {
	CountByStatus(ctx context.Context) (map[models.ParticipationStatus]int, error)
}

// DashboardService aggregates exact row counts for the admin dashboard.
type DashboardService struct {
	events         dashboardEventCounter
	identities     dashboardIdentityCounter
	participations dashboardParticipationCounter
	cache          *CacheService
	cacheTTL       time.Duration
	metrics        *MetricsService
	logger         *zap.Logger
	now            func() time.Time
}

// NewDashboardService constructs a DashboardService.
func NewDashboardService(events dashboardEventCounter, identities dashboardIdentityCounter, participations dashboardParticipationCounter, cache *CacheService, cacheTTL time.Duration, metrics *MetricsService, logger *zap.Logger) *DashboardService {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &DashboardService{
		events:         events,
		identities:     identities,
		participations: participations,
		cache:          cache,
		cacheTTL:       cacheTTL,
		metrics:        metrics,
		logger:         logger,
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Stats returns dashboard counts and whether they came from cache. Past and
// future split on the start of the current day.
func (s *DashboardService) Stats(ctx context.Context, principal *models.Principal) (*models.DashboardStats, bool, error) {
	if err := requireAdmin(principal); err != nil {
		return nil, false, err
	}

	var cached models.DashboardStats
	if s.cache.Get(ctx, cacheKeyDashboard, &cached) {
		return &cached, true, nil
	}

	now := s.now()
	today := time.Date(now.Year(), now.Month(), now.Day(), 0, 0, 0, 0, time.UTC)
	since := now.Add(-newUsersWindow)

	stats := &models.DashboardStats{GeneratedAt: now}
	queries := []struct {
		label string
		run   func() error
	}{
		{"events_total", func() (err error) { stats.TotalEvents, err = s.events.Count(ctx); return }},
		{"events_upcoming", func() (err error) { stats.UpcomingEvents, err = s.events.CountUpcoming(ctx, today); return }},
		{"events_by_time", func() error {
			split, err := s.events.CountByTime(ctx, today)
			stats.PastEvents, stats.FutureEvents = split.Past, split.Future
			return err
		}},
		{"events_by_month", func() (err error) { stats.EventsByMonth, err = s.events.CountByMonth(ctx); return }},
		{"events_by_location", func() (err error) { stats.EventsByLocation, err = s.events.CountByLocation(ctx); return }},
		{"events_by_status", func() (err error) { stats.EventsByStatus, err = s.events.CountByStatus(ctx); return }},
		{"events_capacity", func() (err error) { stats.AverageCapacity, err = s.events.AverageCapacity(ctx); return }},
		{"users_total", func() (err error) { stats.TotalUsers, err = s.identities.Count(ctx, nil); return }},
		{"users_new", func() (err error) { stats.NewUsers, err = s.identities.Count(ctx, &since); return }},
		{"users_approved", func() (err error) { stats.ApprovedUsers, err = s.identities.CountApproved(ctx); return }},
		{"participations_by_status", func() (err error) {
			stats.ParticipationsByStatus, err = s.participations.CountByStatus(ctx)
			return
		}},
	}
	for _, q := range queries {
		start := time.Now()
		if err := q.run(); err != nil {
			return nil, false, appErrors.Upstream(err, "failed to load dashboard "+q.label)
		}
		s.metrics.ObserveDBQuery("dashboard_"+q.label, time.Since(start))
	}
	stats.PendingApprovals = stats.TotalUsers - stats.ApprovedUsers

	s.cache.Set(ctx, cacheKeyDashboard, stats, s.cacheTTL)
	return stats, false, nil
}
