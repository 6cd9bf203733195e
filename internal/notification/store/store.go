// internal/notification/store/store.go
package store

import (
	"context"
	"errors"
	"time"

	"tgminiapp-notifier/internal/models"
)

var (
	ErrNotFound       = errors.New("notification not found")
	ErrNotClaimable   = errors.New("notification is not claimable")
	ErrStaleUpdate    = errors.New("notification changed since it was read")
	ErrNotCancellable = errors.New("notification is not cancellable")
)

// Store is the single source of truth for notification records. Every
// state transition is a conditional write guarded by the prior status.
type Store interface {
	// Create assigns an id when empty and persists n.
	Create(ctx context.Context, n *models.Notification) (*models.Notification, error)
	// CreateMany persists all records or none.
	CreateMany(ctx context.Context, ns []*models.Notification) ([]*models.Notification, error)
	Get(ctx context.Context, id string) (*models.Notification, error)

	// Claim moves a due pending record to sending under a fresh ClaimToken.
	// It returns ErrNotClaimable when the record is missing, not pending, or
	// scheduled in the future.
	Claim(ctx context.Context, id string, now time.Time) (*models.Notification, error)
	// Update writes the dispatcher-owned fields of n if the stored status
	// still equals expected and the record still carries n.ClaimToken,
	// otherwise ErrStaleUpdate.
	Update(ctx context.Context, n *models.Notification, expected models.Status) error
	// FindPending returns due pending records, highest priority first, then
	// oldest scheduledAt. limit <= 0 means no limit.
	FindPending(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error)
	// ReleaseStale returns records stuck in sending since before cutoff to pending.
	ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error)

	FindByRecipient(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error)
	FindUnread(ctx context.Context, userID string) ([]*models.Notification, error)
	MarkRead(ctx context.Context, id string, now time.Time) (*models.Notification, error)
	// Cancel moves a pending record to cancelled, otherwise ErrNotCancellable.
	Cancel(ctx context.Context, id string, now time.Time) (*models.Notification, error)

	DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []models.Status) (int64, error)
}

// applyDispatchFields copies the fields a dispatch round may change.
// Read markers are owned by MarkRead and never overwritten here.
func applyDispatchFields(dst, src *models.Notification) {
	dst.Status = src.Status
	dst.SentAt = src.SentAt
	dst.RetryCount = src.RetryCount
	dst.ScheduledAt = src.ScheduledAt
	dst.UpdatedAt = src.UpdatedAt
	for _, c := range models.AllChannels {
		from := src.DeliveryStatus.For(c)
		to := dst.DeliveryStatus.For(c)
		to.Sent = from.Sent
		to.SentAt = from.SentAt
		to.Error = from.Error
	}
}

func statusStrings(statuses []models.Status) []string {
	out := make([]string, len(statuses))
	for i, s := range statuses {
		out[i] = string(s)
	}
	return out
}
