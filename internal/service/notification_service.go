package service

import (
	"context"
	"fmt"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/noah-isme/feste-api/internal/models"
	appErrors "github.com/noah-isme/feste-api/pkg/errors"
	"github.com/noah-isme/feste-api/pkg/jobs"
)

const notificationJobType = "notification.insert"

type notificationRepository interface {
	Create(ctx context.Context, n *models.Notification) error
	ListByUser(ctx context.Context, userID string, unreadOnly bool, limit int) ([]models.Notification, error)
	MarkRead(ctx context.Context, id, userID string) (bool, error)
}

// NotificationConfig sizes the delivery queue.
type NotificationConfig struct {
	Workers int
	Retries int
}

// NotificationService inserts notifications off the request path. Delivery
// failures are logged and counted, never surfaced to the caller.
type NotificationService struct {
	repo    notificationRepository
	queue   *jobs.Queue
	metrics *MetricsService
	logger  *zap.Logger
}

// NewNotificationService constructs a NotificationService and its queue.
func NewNotificationService(repo notificationRepository, cfg NotificationConfig, metrics *MetricsService, logger *zap.Logger) *NotificationService {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &NotificationService{repo: repo, metrics: metrics, logger: logger}
	s.queue = jobs.NewQueue("notifications", s.deliver, jobs.QueueConfig{
		Workers:    cfg.Workers,
		MaxRetries: cfg.Retries,
		Logger:     logger,
	})
	return s
}

// Start launches the delivery workers.
func (s *NotificationService) Start(ctx context.Context) {
	s.queue.Start(ctx)
}

// Stop halts the delivery workers.
func (s *NotificationService) Stop() {
	s.queue.Stop()
}

// Notify implements Notifier.
func (s *NotificationService) Notify(n models.Notification) {
	if n.ID == "" {
		n.ID = uuid.NewString()
	}
	if err := s.queue.TryEnqueue(jobs.Job{ID: n.ID, Type: notificationJobType, Payload: n}); err != nil {
		s.metrics.ObserveNotification("dropped")
		s.logger.Warn("notification dropped", zap.String("user_id", n.UserID), zap.Error(err))
	}
}

func (s *NotificationService) deliver(ctx context.Context, job jobs.Job) error {
	n, ok := job.Payload.(models.Notification)
	if !ok {
		return fmt.Errorf("unexpected payload %T", job.Payload)
	}
	if err := s.repo.Create(ctx, &n); err != nil {
		s.metrics.ObserveNotification("failed")
		return err
	}
	s.metrics.ObserveNotification("delivered")
	return nil
}

// List returns the caller's notifications.
func (s *NotificationService) List(ctx context.Context, userID string, unreadOnly bool) ([]models.Notification, error) {
	items, err := s.repo.ListByUser(ctx, userID, unreadOnly, 0)
	if err != nil {
		return nil, appErrors.Upstream(err, "failed to list notifications")
	}
	return items, nil
}

// MarkRead flags one of the caller's notifications as read.
func (s *NotificationService) MarkRead(ctx context.Context, userID, id string) error {
	ok, err := s.repo.MarkRead(ctx, id, userID)
	if err != nil {
		return appErrors.Upstream(err, "failed to update notification")
	}
	if !ok {
		return appErrors.Clone(appErrors.ErrNotFound, "notification not found")
	}
	return nil
}
