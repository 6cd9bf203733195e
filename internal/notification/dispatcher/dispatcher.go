// internal/notification/dispatcher/dispatcher.go
package dispatcher

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/common/metrics"
	"tgminiapp-notifier/internal/common/tracing"
	"tgminiapp-notifier/internal/models"
	"tgminiapp-notifier/internal/notification/audit"
	"tgminiapp-notifier/internal/notification/channel"
	"tgminiapp-notifier/internal/notification/store"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
)

// DefaultChannelTimeout applies when Config.ChannelTimeout is not positive.
const DefaultChannelTimeout = 10 * time.Second

type Config struct {
	// ChannelTimeout bounds one send, and with it the whole round.
	ChannelTimeout time.Duration
	Backoff        models.BackoffFunc
}

// Result describes what a Dispatch call did.
type Result struct {
	NotificationID string
	// Claimed is false when another worker owns the record, or it is not due,
	// or it is no longer pending. Nothing was sent in that case.
	Claimed bool
	Outcome models.RoundOutcome
	// Failures holds the error of every channel that failed this round.
	Failures map[models.Channel]error
}

type Dispatcher struct {
	store    store.Store
	senders  channel.Registry
	recorder audit.Recorder
	config   Config
	now      func() time.Time
	tracer   trace.Tracer
	logger   logger.Logger
}

type Option func(*Dispatcher)

func WithClock(now func() time.Time) Option {
	return func(d *Dispatcher) { d.now = now }
}

func WithRecorder(r audit.Recorder) Option {
	return func(d *Dispatcher) { d.recorder = r }
}

func WithTracer(t trace.Tracer) Option {
	return func(d *Dispatcher) { d.tracer = t }
}

func New(st store.Store, senders channel.Registry, cfg Config, log logger.Logger, opts ...Option) *Dispatcher {
	if cfg.ChannelTimeout <= 0 {
		cfg.ChannelTimeout = DefaultChannelTimeout
	}
	d := &Dispatcher{
		store:    st,
		senders:  senders,
		recorder: audit.NopRecorder{},
		config:   cfg,
		now:      func() time.Time { return time.Now().UTC() },
		tracer:   tracing.Tracer(),
		logger:   log.WithFields(map[string]interface{}{"component": "dispatcher"}),
	}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Dispatch runs one round for id: claim, send every pending enabled channel
// concurrently, wait for all of them, then persist the outcome.
//
// Once the claim succeeds the round no longer follows ctx cancellation: sends
// in flight finish under ChannelTimeout and their outcome is always persisted.
func (d *Dispatcher) Dispatch(ctx context.Context, id string) (*Result, error) {
	ctx, span := d.tracer.Start(ctx, "notification.dispatch", trace.WithAttributes(
		attribute.String("notification.id", id),
	))
	defer span.End()

	n, err := d.store.Claim(ctx, id, d.now())
	if errors.Is(err, store.ErrNotClaimable) {
		span.SetAttributes(attribute.Bool("notification.claimed", false))
		d.logger.Debug("Notification not claimable, skipping", map[string]interface{}{"notificationId": id})
		return &Result{NotificationID: id}, nil
	}
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "claim failed")
		return nil, fmt.Errorf("claim %s: %w", id, err)
	}

	started := time.Now()
	log := d.logger.WithFields(map[string]interface{}{"notificationId": id})
	targets := n.PendingChannels()
	span.SetAttributes(
		attribute.Bool("notification.claimed", true),
		attribute.String("notification.priority", string(n.Priority)),
		attribute.Int("notification.retry_count", n.RetryCount),
		attribute.Int("notification.channels", len(targets)),
	)

	round := context.WithoutCancel(ctx)
	results, durations := d.sendAll(round, n, targets)

	outcome := n.ApplyRound(results, d.now(), d.config.Backoff)
	metrics.RoundDuration.Observe(time.Since(started).Seconds())

	persistCtx, cancel := context.WithTimeout(round, d.config.ChannelTimeout)
	defer cancel()
	if err := d.store.Update(persistCtx, n, models.StatusSending); err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "persist failed")
		log.Error("Failed to persist round outcome", map[string]interface{}{
			"status": string(outcome.Status),
			"error":  err.Error(),
		})
		return nil, fmt.Errorf("persist %s: %w", id, err)
	}

	metrics.Rounds.WithLabelValues(string(outcome.Status)).Inc()
	span.SetAttributes(attribute.String("notification.status", string(outcome.Status)))
	d.recorder.Record(round, d.attempts(n, results, durations))

	log.Info("Dispatch round completed", map[string]interface{}{
		"status":     string(outcome.Status),
		"attempted":  outcome.Attempted,
		"succeeded":  outcome.Succeeded,
		"failed":     outcome.Failed,
		"retryCount": n.RetryCount,
	})

	return &Result{NotificationID: id, Claimed: true, Outcome: outcome, Failures: failures(results)}, nil
}

func failures(results map[models.Channel]error) map[models.Channel]error {
	out := make(map[models.Channel]error)
	for c, err := range results {
		if err != nil {
			out[c] = err
		}
	}
	return out
}

// sendAll fans out one goroutine per target and returns once every send has
// finished or timed out. A failing channel never affects another.
func (d *Dispatcher) sendAll(ctx context.Context, n *models.Notification, targets []models.Channel) (map[models.Channel]error, map[models.Channel]time.Duration) {
	var (
		mu        sync.Mutex
		wg        sync.WaitGroup
		results   = make(map[models.Channel]error, len(targets))
		durations = make(map[models.Channel]time.Duration, len(targets))
	)

	for _, c := range targets {
		wg.Add(1)
		go func(c models.Channel) {
			defer wg.Done()
			began := time.Now()
			err := d.sendOne(ctx, c, n.Clone())
			elapsed := time.Since(began)

			mu.Lock()
			results[c] = err
			durations[c] = elapsed
			mu.Unlock()
		}(c)
	}
	wg.Wait()

	return results, durations
}

func (d *Dispatcher) sendOne(ctx context.Context, c models.Channel, n *models.Notification) error {
	ctx, span := d.tracer.Start(ctx, "notification.channel.send", trace.WithAttributes(
		attribute.String("notification.id", n.ID),
		attribute.String("notification.channel", string(c)),
	))
	defer span.End()

	log := d.logger.WithFields(map[string]interface{}{"notificationId": n.ID, "channel": string(c)})

	err := d.attempt(ctx, c, n)
	if err != nil {
		metrics.ChannelAttempts.WithLabelValues(string(c), "failure").Inc()
		span.RecordError(err)
		span.SetStatus(codes.Error, "send failed")
		log.Warn("Channel send failed", map[string]interface{}{"error": err.Error()})
		return err
	}

	metrics.ChannelAttempts.WithLabelValues(string(c), "success").Inc()
	log.Debug("Channel send succeeded", nil)
	return nil
}

// attempt runs the sender under the channel timeout. Panics and overruns
// become channel errors.
func (d *Dispatcher) attempt(ctx context.Context, c models.Channel, n *models.Notification) error {
	sender, ok := d.senders[c]
	if !ok || sender == nil {
		return &channel.SendError{Channel: c, Err: errors.New("no sender configured")}
	}

	ctx, cancel := context.WithTimeout(ctx, d.config.ChannelTimeout)
	defer cancel()

	done := make(chan error, 1)
	go func() {
		defer func() {
			if r := recover(); r != nil {
				done <- &channel.SendError{Channel: c, Err: fmt.Errorf("sender panic: %v", r)}
			}
		}()
		if err := sender.Send(ctx, n); err != nil {
			done <- channel.AsSendError(c, err)
			return
		}
		done <- nil
	}()

	select {
	case err := <-done:
		return err
	case <-ctx.Done():
		return &channel.SendError{Channel: c, Err: fmt.Errorf("send timed out: %w", ctx.Err())}
	}
}

func (d *Dispatcher) attempts(n *models.Notification, results map[models.Channel]error, durations map[models.Channel]time.Duration) []audit.Attempt {
	out := make([]audit.Attempt, 0, len(results))
	for _, c := range models.AllChannels {
		err, ok := results[c]
		if !ok {
			continue
		}
		a := audit.Attempt{
			NotificationID: n.ID,
			UserID:         n.Recipient.UserID,
			Type:           string(n.Type),
			Channel:        c,
			Success:        err == nil,
			RetryCount:     n.RetryCount,
			Status:         n.Status,
			Priority:       n.Priority,
			DurationMs:     durations[c].Milliseconds(),
			AttemptedAt:    n.UpdatedAt,
		}
		if err != nil {
			a.Error = err.Error()
		}
		out = append(out, a)
	}
	return out
}
