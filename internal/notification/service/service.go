// internal/notification/service/service.go
package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	apperrors "tgminiapp-notifier/internal/common/errors"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/common/metrics"
	"tgminiapp-notifier/internal/common/observability"
	"tgminiapp-notifier/internal/models"
	"tgminiapp-notifier/internal/notification/dispatcher"
	"tgminiapp-notifier/internal/notification/store"
)

// Enqueuer accepts an immediate dispatch without blocking.
type Enqueuer interface {
	Enqueue(id string) error
}

// BatchEnqueuer accepts a whole batch without blocking, however large.
type BatchEnqueuer interface {
	EnqueueBatch(ids []string) error
}

// Dispatcher runs one delivery round synchronously.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) (*dispatcher.Result, error)
}

type Config struct {
	DefaultMaxRetries int
}

// Service is the entry point for everything outside the delivery loop:
// creation, cancellation, the read side and retention.
type Service struct {
	store      store.Store
	queue      Enqueuer
	dispatcher Dispatcher
	config     Config
	obs        *observability.Observability
	now        func() time.Time
	logger     logger.Logger
}

type Option func(*Service)

func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

func WithObservability(o *observability.Observability) Option {
	return func(s *Service) { s.obs = o }
}

// WithDispatcher enables DispatchNow.
func WithDispatcher(d Dispatcher) Option {
	return func(s *Service) { s.dispatcher = d }
}

func New(st store.Store, queue Enqueuer, cfg Config, log logger.Logger, opts ...Option) *Service {
	s := &Service{
		store:  st,
		queue:  queue,
		config: cfg,
		now:    func() time.Time { return time.Now().UTC() },
		logger: log.WithFields(map[string]interface{}{"component": "notification-service"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// CreateAndDispatch persists one notification and hands it to the dispatch
// queue. It returns as soon as the record is stored.
func (s *Service) CreateAndDispatch(ctx context.Context, spec models.Spec) (*models.Notification, error) {
	n, err := models.NewNotification(spec, s.now(), s.config.DefaultMaxRetries)
	if err != nil {
		return nil, apperrors.NewValidationError(err)
	}

	created, err := s.store.Create(ctx, n)
	if err != nil {
		return nil, storeError("create", err)
	}

	metrics.Created.WithLabelValues(source(created)).Inc()
	s.logger.Info("Notification created", map[string]interface{}{
		"notificationId": created.ID,
		"userId":         created.Recipient.UserID,
		"type":           string(created.Type),
		"priority":       string(created.Priority),
	})

	s.enqueue(created.ID)
	return created, nil
}

// CreateBulk validates every spec, stores them in one all-or-nothing write,
// then schedules one independent dispatch per record. Nothing is dispatched
// when validation or the write fails.
func (s *Service) CreateBulk(ctx context.Context, specs []models.Spec) ([]*models.Notification, error) {
	if len(specs) == 0 {
		return nil, apperrors.NewValidationError(errors.New("bulk request has no notifications"))
	}

	now := s.now()
	ns := make([]*models.Notification, 0, len(specs))
	for i, spec := range specs {
		n, err := models.NewNotification(spec, now, s.config.DefaultMaxRetries)
		if err != nil {
			return nil, apperrors.NewValidationError(fmt.Errorf("notifications[%d]: %w", i, err)).
				WithMetadata("index", i)
		}
		ns = append(ns, n)
	}

	created, err := s.store.CreateMany(ctx, ns)
	if err != nil {
		return nil, storeError("create many", err)
	}

	for _, n := range created {
		metrics.Created.WithLabelValues(source(n)).Inc()
	}
	s.logger.Info("Bulk notifications created", map[string]interface{}{"count": len(created)})

	s.enqueueBatch(created)
	return created, nil
}

// DispatchNow runs a round in the caller's goroutine.
func (s *Service) DispatchNow(ctx context.Context, id string) (*dispatcher.Result, error) {
	if s.dispatcher == nil {
		return nil, fmt.Errorf("dispatch now: no dispatcher configured")
	}
	res, err := s.dispatcher.Dispatch(ctx, id)
	if err != nil {
		return nil, storeError("dispatch", err)
	}
	if !res.Claimed {
		if _, err := s.Get(ctx, id); err != nil {
			return nil, err
		}
		return nil, apperrors.NewClaimConflictError(id)
	}
	return res, nil
}

func (s *Service) Get(ctx context.Context, id string) (*models.Notification, error) {
	n, err := s.store.Get(ctx, id)
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewNotificationNotFoundError(id)
	}
	if err != nil {
		return nil, storeError("get", err)
	}
	return n, nil
}

// Cancel succeeds only for pending records. A record already claimed by a
// dispatcher keeps its in-flight round.
func (s *Service) Cancel(ctx context.Context, id string) (*models.Notification, error) {
	n, err := s.store.Cancel(ctx, id, s.now())
	switch {
	case errors.Is(err, store.ErrNotFound):
		return nil, apperrors.NewNotificationNotFoundError(id)
	case errors.Is(err, store.ErrNotCancellable):
		status := "unknown"
		if n != nil {
			status = string(n.Status)
		}
		return nil, apperrors.NewCancelRejectedError(id, status)
	case err != nil:
		return nil, storeError("cancel", err)
	}

	s.logger.Info("Notification cancelled", map[string]interface{}{"notificationId": id})
	return n, nil
}

// MarkRead is independent of delivery state; marking twice keeps the first time.
func (s *Service) MarkRead(ctx context.Context, id string) (*models.Notification, error) {
	n, err := s.store.MarkRead(ctx, id, s.now())
	if errors.Is(err, store.ErrNotFound) {
		return nil, apperrors.NewNotificationNotFoundError(id)
	}
	if err != nil {
		return nil, storeError("mark read", err)
	}
	return n, nil
}

func (s *Service) ListByRecipient(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError(errors.New("userId must not be empty"))
	}
	if limit < 0 || offset < 0 {
		return nil, apperrors.NewValidationError(errors.New("limit and offset must not be negative"))
	}
	ns, err := s.store.FindByRecipient(ctx, userID, limit, offset)
	if err != nil {
		return nil, storeError("find by recipient", err)
	}
	return ns, nil
}

func (s *Service) ListUnread(ctx context.Context, userID string) ([]*models.Notification, error) {
	if userID == "" {
		return nil, apperrors.NewValidationError(errors.New("userId must not be empty"))
	}
	ns, err := s.store.FindUnread(ctx, userID)
	if err != nil {
		return nil, storeError("find unread", err)
	}
	return ns, nil
}

// RetentionSweep deletes terminal records created more than maxAgeDays ago.
func (s *Service) RetentionSweep(ctx context.Context, maxAgeDays int) (int64, error) {
	if maxAgeDays <= 0 {
		return 0, apperrors.NewValidationError(fmt.Errorf("maxAgeDays must be positive, got %d", maxAgeDays))
	}

	cutoff := RetentionCutoff(s.now(), maxAgeDays)
	deleted, err := s.store.DeleteOlderThan(ctx, cutoff, models.TerminalStatuses)
	if err != nil {
		return 0, apperrors.NewRetentionFailedError(err)
	}

	s.obs.RecordRetention(ctx, deleted)
	s.logger.Info("Retention sweep completed", map[string]interface{}{
		"maxAgeDays": maxAgeDays,
		"cutoff":     cutoff.Format(time.RFC3339),
		"deleted":    deleted,
	})
	return deleted, nil
}

func RetentionCutoff(now time.Time, maxAgeDays int) time.Time {
	return now.AddDate(0, 0, -maxAgeDays)
}

func (s *Service) enqueue(id string) {
	if s.queue == nil {
		return
	}
	if err := s.queue.Enqueue(id); err != nil {
		s.logger.Warn("Immediate dispatch not scheduled, the sweep will pick it up", map[string]interface{}{
			"notificationId": id,
			"error":          err.Error(),
		})
	}
}

func (s *Service) enqueueBatch(ns []*models.Notification) {
	bq, ok := s.queue.(BatchEnqueuer)
	if !ok {
		for _, n := range ns {
			s.enqueue(n.ID)
		}
		return
	}

	ids := make([]string, len(ns))
	for i, n := range ns {
		ids[i] = n.ID
	}
	if err := bq.EnqueueBatch(ids); err != nil {
		s.logger.Warn("Immediate dispatch of batch not scheduled, the sweep will pick it up", map[string]interface{}{
			"count": len(ids),
			"error": err.Error(),
		})
	}
}

func storeError(op string, err error) error {
	if store.IsTimeout(err) {
		return apperrors.NewStoreTimeoutError(op, err)
	}
	return apperrors.NewStoreOperationFailedError(op, err)
}

func source(n *models.Notification) string {
	if n.Metadata.Source == "" {
		return "unknown"
	}
	return n.Metadata.Source
}
