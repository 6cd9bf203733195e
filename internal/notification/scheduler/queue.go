// internal/notification/scheduler/queue.go
package scheduler

import (
	"context"
	"errors"
	"sync"

	apperrors "tgminiapp-notifier/internal/common/errors"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/common/metrics"
)

var ErrQueueClosed = errors.New("dispatch queue is closed")

// Queue runs immediate dispatches on a fixed set of workers. Enqueue never
// blocks; a full queue rejects the task and the record waits for the sweep.
// EnqueueBatch hands a whole batch over in the background instead.
type Queue struct {
	dispatcher Dispatcher
	tasks      chan string
	done       chan struct{}
	workers    int
	logger     logger.Logger

	mu      sync.Mutex
	closed  bool
	started bool
	cancel  context.CancelFunc
	wg      sync.WaitGroup
	feeders sync.WaitGroup
	pending sync.WaitGroup
}

func NewQueue(d Dispatcher, capacity, workers int, log logger.Logger) *Queue {
	if capacity <= 0 {
		capacity = 1
	}
	if workers <= 0 {
		workers = 1
	}
	return &Queue{
		dispatcher: d,
		tasks:      make(chan string, capacity),
		done:       make(chan struct{}),
		workers:    workers,
		logger:     log.WithFields(map[string]interface{}{"component": "dispatch-queue"}),
	}
}

func (q *Queue) Start(ctx context.Context) {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.started || q.closed {
		return
	}
	q.started = true

	ctx, q.cancel = context.WithCancel(ctx)
	q.wg.Add(q.workers)
	for i := 0; i < q.workers; i++ {
		go q.work(ctx)
	}
	q.logger.Info("Dispatch queue started", map[string]interface{}{
		"workers":  q.workers,
		"capacity": cap(q.tasks),
	})
}

func (q *Queue) Enqueue(id string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}

	q.pending.Add(1)
	select {
	case q.tasks <- id:
		metrics.DispatchQueueDepth.Inc()
		return nil
	default:
		q.pending.Done()
		q.logger.Warn("Dispatch queue full, leaving notification for the sweep", map[string]interface{}{
			"notificationId": id,
		})
		return apperrors.NewQueueFullError(id)
	}
}

// EnqueueBatch accepts every id without blocking the caller. Ids that do not
// fit right away are fed in as workers free up, so a batch larger than the
// queue capacity still gets one immediate dispatch per id. Ids not handed
// over before Stop stay pending for the sweep.
func (q *Queue) EnqueueBatch(ids []string) error {
	q.mu.Lock()
	defer q.mu.Unlock()
	if q.closed {
		return ErrQueueClosed
	}
	if len(ids) == 0 {
		return nil
	}

	q.pending.Add(len(ids))
	q.feeders.Add(1)
	go q.feed(append([]string(nil), ids...))
	return nil
}

func (q *Queue) feed(ids []string) {
	defer q.feeders.Done()
	for i, id := range ids {
		select {
		case q.tasks <- id:
			metrics.DispatchQueueDepth.Inc()
		case <-q.done:
			for range ids[i:] {
				q.pending.Done()
			}
			q.logger.Warn("Dispatch queue stopped, leaving the rest of the batch for the sweep", map[string]interface{}{
				"remaining": len(ids) - i,
			})
			return
		}
	}
}

// WaitIdle blocks until every accepted task has finished.
func (q *Queue) WaitIdle() {
	q.pending.Wait()
}

// Stop rejects new tasks, lets workers drain what was accepted, and waits.
// Tasks still queued when ctx is cancelled are dropped; their records stay
// pending for the next sweep.
func (q *Queue) Stop() {
	q.mu.Lock()
	if q.closed {
		q.mu.Unlock()
		return
	}
	q.closed = true
	close(q.done)
	started := q.started
	q.mu.Unlock()

	// Feeders must be gone before tasks is closed.
	q.feeders.Wait()
	close(q.tasks)

	if !started {
		for range q.tasks {
			metrics.DispatchQueueDepth.Dec()
			q.pending.Done()
		}
		return
	}
	q.wg.Wait()
	q.cancel()
	q.logger.Info("Dispatch queue stopped", nil)
}

func (q *Queue) work(ctx context.Context) {
	defer q.wg.Done()
	for id := range q.tasks {
		metrics.DispatchQueueDepth.Dec()
		q.run(ctx, id)
	}
}

func (q *Queue) run(ctx context.Context, id string) {
	defer q.pending.Done()
	defer func() {
		if r := recover(); r != nil {
			q.logger.Error("Immediate dispatch panicked", map[string]interface{}{
				"notificationId": id,
				"panic":          r,
			})
		}
	}()

	if ctx.Err() != nil {
		return
	}
	res, err := q.dispatcher.Dispatch(ctx, id)
	if err != nil {
		q.logger.Error("Immediate dispatch failed", map[string]interface{}{
			"notificationId": id,
			"error":          err.Error(),
		})
		return
	}
	if !res.Claimed {
		q.logger.Debug("Immediate dispatch skipped", map[string]interface{}{"notificationId": id})
	}
}
