// internal/notification/store/memory.go
package store

import (
	"context"
	"fmt"
	"sort"
	"sync"
	"time"

	"tgminiapp-notifier/internal/models"

	"github.com/google/uuid"
)

// MemoryStore keeps records in process. Used by tests and store.driver=memory.
type MemoryStore struct {
	mu       sync.Mutex
	records  map[string]*models.Notification
	failures map[string]error
}

// Operation names accepted by FailNext.
const (
	OpCreate       = "create"
	OpClaim        = "claim"
	OpUpdate       = "update"
	OpFindPending  = "find pending"
	OpReleaseStale = "release stale"
	OpMarkRead     = "mark read"
	OpCancel       = "cancel"
	OpDelete       = "delete"
)

func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		records:  make(map[string]*models.Notification),
		failures: make(map[string]error),
	}
}

// FailNext makes the next call of op return err once.
func (s *MemoryStore) FailNext(op string, err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[op] = err
}

func (s *MemoryStore) takeFailure(op string) error {
	err, ok := s.failures[op]
	if !ok {
		return nil
	}
	delete(s.failures, op)
	return fmt.Errorf("%s: %w", op, err)
}

func (s *MemoryStore) Create(ctx context.Context, n *models.Notification) (*models.Notification, error) {
	out, err := s.CreateMany(ctx, []*models.Notification{n})
	if err != nil {
		return nil, err
	}
	return out[0], nil
}

func (s *MemoryStore) CreateMany(ctx context.Context, ns []*models.Notification) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpCreate); err != nil {
		return nil, err
	}

	staged := make([]*models.Notification, 0, len(ns))
	seen := make(map[string]bool, len(ns))
	for _, n := range ns {
		rec := n.Clone()
		if rec.ID == "" {
			rec.ID = uuid.NewString()
		}
		if _, exists := s.records[rec.ID]; exists || seen[rec.ID] {
			return nil, fmt.Errorf("create: duplicate id %s", rec.ID)
		}
		seen[rec.ID] = true
		rec.PriorityRank = rec.Priority.Rank()
		staged = append(staged, rec)
	}

	out := make([]*models.Notification, 0, len(staged))
	for _, rec := range staged {
		s.records[rec.ID] = rec
		out = append(out, rec.Clone())
	}
	return out, nil
}

func (s *MemoryStore) Get(ctx context.Context, id string) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Claim(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpClaim); err != nil {
		return nil, err
	}

	rec, ok := s.records[id]
	if !ok || rec.Status != models.StatusPending || rec.ScheduledAt.After(now) {
		return nil, fmt.Errorf("%w: %s", ErrNotClaimable, id)
	}
	rec.Status = models.StatusSending
	rec.UpdatedAt = now
	rec.ClaimToken = uuid.NewString()
	return rec.Clone(), nil
}

func (s *MemoryStore) Update(ctx context.Context, n *models.Notification, expected models.Status) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpUpdate); err != nil {
		return err
	}

	rec, ok := s.records[n.ID]
	if !ok {
		return fmt.Errorf("%w: %s", ErrNotFound, n.ID)
	}
	if rec.Status != expected {
		return fmt.Errorf("%w: %s is %s, expected %s", ErrStaleUpdate, n.ID, rec.Status, expected)
	}
	if rec.ClaimToken != n.ClaimToken {
		return fmt.Errorf("%w: %s was claimed again", ErrStaleUpdate, n.ID)
	}
	applyDispatchFields(rec, n.Clone())
	return nil
}

func (s *MemoryStore) FindPending(ctx context.Context, now time.Time, limit int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpFindPending); err != nil {
		return nil, err
	}

	var out []*models.Notification
	for _, rec := range s.records {
		if rec.Status == models.StatusPending && !rec.ScheduledAt.After(now) {
			out = append(out, rec.Clone())
		}
	}

	sort.SliceStable(out, func(i, j int) bool {
		if out[i].PriorityRank != out[j].PriorityRank {
			return out[i].PriorityRank > out[j].PriorityRank
		}
		if !out[i].ScheduledAt.Equal(out[j].ScheduledAt) {
			return out[i].ScheduledAt.Before(out[j].ScheduledAt)
		}
		return out[i].ID < out[j].ID
	})

	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) ReleaseStale(ctx context.Context, cutoff, now time.Time) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpReleaseStale); err != nil {
		return 0, err
	}

	var released int64
	for _, rec := range s.records {
		if rec.Status == models.StatusSending && rec.UpdatedAt.Before(cutoff) {
			rec.Status = models.StatusPending
			rec.UpdatedAt = now
			released++
		}
	}
	return released, nil
}

func (s *MemoryStore) FindByRecipient(ctx context.Context, userID string, limit, offset int) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Notification
	for _, rec := range s.records {
		if rec.Recipient.UserID == userID {
			out = append(out, rec.Clone())
		}
	}
	sortNewestFirst(out)

	if offset > 0 {
		if offset >= len(out) {
			return nil, nil
		}
		out = out[offset:]
	}
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *MemoryStore) FindUnread(ctx context.Context, userID string) ([]*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var out []*models.Notification
	for _, rec := range s.records {
		if rec.Recipient.UserID == userID && rec.Channels.InApp && rec.DeliveryStatus.InApp.Sent && rec.ReadAt == nil {
			out = append(out, rec.Clone())
		}
	}
	sortNewestFirst(out)
	return out, nil
}

func (s *MemoryStore) MarkRead(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpMarkRead); err != nil {
		return nil, err
	}

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.ReadAt == nil {
		readAt := now
		rec.ReadAt = &readAt
		rec.DeliveryStatus.InApp.ReadAt = &readAt
	}
	return rec.Clone(), nil
}

func (s *MemoryStore) Cancel(ctx context.Context, id string, now time.Time) (*models.Notification, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpCancel); err != nil {
		return nil, err
	}

	rec, ok := s.records[id]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, id)
	}
	if rec.Status != models.StatusPending {
		return rec.Clone(), fmt.Errorf("%w: %s is %s", ErrNotCancellable, id, rec.Status)
	}
	rec.Status = models.StatusCancelled
	rec.UpdatedAt = now
	return rec.Clone(), nil
}

func (s *MemoryStore) DeleteOlderThan(ctx context.Context, cutoff time.Time, statuses []models.Status) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if err := s.takeFailure(OpDelete); err != nil {
		return 0, err
	}

	allowed := make(map[models.Status]bool, len(statuses))
	for _, st := range statuses {
		allowed[st] = true
	}

	var deleted int64
	for id, rec := range s.records {
		if allowed[rec.Status] && rec.CreatedAt.Before(cutoff) {
			delete(s.records, id)
			deleted++
		}
	}
	return deleted, nil
}

// Len reports how many records are held.
func (s *MemoryStore) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.records)
}

func sortNewestFirst(ns []*models.Notification) {
	sort.SliceStable(ns, func(i, j int) bool {
		if !ns[i].CreatedAt.Equal(ns[j].CreatedAt) {
			return ns[i].CreatedAt.After(ns[j].CreatedAt)
		}
		return ns[i].ID > ns[j].ID
	})
}
