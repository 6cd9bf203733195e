// internal/notification/scheduler/scheduler.go
package scheduler

import (
	"context"
	"fmt"
	"time"

	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/common/metrics"
	"tgminiapp-notifier/internal/common/observability"
	"tgminiapp-notifier/internal/notification/dispatcher"
	"tgminiapp-notifier/internal/notification/store"
)

// Dispatcher runs one delivery round for a notification.
type Dispatcher interface {
	Dispatch(ctx context.Context, id string) (*dispatcher.Result, error)
}

type Config struct {
	Interval  time.Duration
	ItemDelay time.Duration
	// BatchLimit caps one sweep; zero sweeps everything that is due.
	BatchLimit    int
	StaleClaimTTL time.Duration
}

// SweepReport summarizes one pass.
type SweepReport struct {
	Released   int64
	Found      int
	Dispatched int
	Skipped    int
	Failed     int
	// LockHeld is set when another instance owned the sweep lock.
	LockHeld bool
}

type Scheduler struct {
	store      store.Store
	dispatcher Dispatcher
	config     Config
	lock       Locker
	obs        *observability.Observability
	now        func() time.Time
	logger     logger.Logger
}

type Option func(*Scheduler)

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) { s.now = now }
}

func WithLock(l Locker) Option {
	return func(s *Scheduler) { s.lock = l }
}

func WithObservability(o *observability.Observability) Option {
	return func(s *Scheduler) { s.obs = o }
}

func New(st store.Store, d Dispatcher, cfg Config, log logger.Logger, opts ...Option) *Scheduler {
	s := &Scheduler{
		store:      st,
		dispatcher: d,
		config:     cfg,
		now:        func() time.Time { return time.Now().UTC() },
		logger:     log.WithFields(map[string]interface{}{"component": "scheduler"}),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Run sweeps once per interval until ctx is done.
func (s *Scheduler) Run(ctx context.Context) error {
	if s.config.Interval <= 0 {
		return fmt.Errorf("scheduler interval must be positive, got %s", s.config.Interval)
	}

	s.logger.Info("Scheduler started", map[string]interface{}{
		"interval":   s.config.Interval.String(),
		"itemDelay":  s.config.ItemDelay.String(),
		"batchLimit": s.config.BatchLimit,
	})

	ticker := time.NewTicker(s.config.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			s.logger.Info("Scheduler stopped", nil)
			return nil
		case <-ticker.C:
			if _, err := s.Sweep(ctx); err != nil && ctx.Err() == nil {
				s.logger.Error("Sweep failed", map[string]interface{}{"error": err.Error()})
			}
		}
	}
}

// Sweep releases stale claims, then dispatches every due pending record one
// at a time in priority order. A failing item is logged and skipped.
func (s *Scheduler) Sweep(ctx context.Context) (*SweepReport, error) {
	started := time.Now()
	report := &SweepReport{}

	if s.lock != nil {
		acquired, err := s.lock.Acquire(ctx)
		if err != nil {
			s.obs.RecordSweep(ctx, time.Since(started), 0, "error")
			return nil, fmt.Errorf("acquire sweep lock: %w", err)
		}
		if !acquired {
			report.LockHeld = true
			s.logger.Debug("Sweep lock held elsewhere, skipping", nil)
			s.obs.RecordSweep(ctx, time.Since(started), 0, "skipped")
			return report, nil
		}
		defer func() {
			if err := s.lock.Release(context.WithoutCancel(ctx)); err != nil {
				s.logger.Warn("Failed to release sweep lock", map[string]interface{}{"error": err.Error()})
			}
		}()
	}

	now := s.now()
	if s.config.StaleClaimTTL > 0 {
		released, err := s.store.ReleaseStale(ctx, now.Add(-s.config.StaleClaimTTL), now)
		if err != nil {
			s.logger.Error("Failed to release stale claims", map[string]interface{}{"error": err.Error()})
		} else if released > 0 {
			report.Released = released
			s.logger.Warn("Released stale claims", map[string]interface{}{"count": released})
		}
	}

	due, err := s.store.FindPending(ctx, now, s.config.BatchLimit)
	if err != nil {
		s.obs.RecordSweep(ctx, time.Since(started), 0, "error")
		return nil, fmt.Errorf("find pending: %w", err)
	}
	report.Found = len(due)

	for i, n := range due {
		if (i > 0 && !s.pause(ctx)) || ctx.Err() != nil {
			s.obs.RecordSweep(context.WithoutCancel(ctx), time.Since(started), report.Found, "interrupted")
			return report, ctx.Err()
		}

		res, err := s.dispatcher.Dispatch(ctx, n.ID)
		switch {
		case err != nil:
			report.Failed++
			metrics.SweepItems.WithLabelValues("error").Inc()
			s.logger.Error("Sweep item failed", map[string]interface{}{
				"notificationId": n.ID,
				"error":          err.Error(),
			})
		case !res.Claimed:
			report.Skipped++
			metrics.SweepItems.WithLabelValues("skipped").Inc()
		default:
			report.Dispatched++
			metrics.SweepItems.WithLabelValues(string(res.Outcome.Status)).Inc()
		}
	}

	s.obs.RecordSweep(ctx, time.Since(started), report.Found, "completed")
	if report.Found > 0 {
		s.logger.Info("Sweep completed", map[string]interface{}{
			"found":      report.Found,
			"dispatched": report.Dispatched,
			"skipped":    report.Skipped,
			"failed":     report.Failed,
			"durationMs": time.Since(started).Milliseconds(),
		})
	}
	return report, nil
}

// pause waits ItemDelay; false means ctx ended first.
func (s *Scheduler) pause(ctx context.Context) bool {
	if s.config.ItemDelay <= 0 {
		return true
	}
	timer := time.NewTimer(s.config.ItemDelay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return false
	case <-timer.C:
		return true
	}
}
