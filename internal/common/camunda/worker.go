// internal/common/camunda/worker.go
package camunda

import (
	"context"
	"sync"
	"time"

	"tgminiapp-notifier/internal/common/config"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/common/metrics"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
	"github.com/camunda/zeebe/clients/go/v8/pkg/zbc"
)

// JobHandler is the shape every job worker handler exposes.
type JobHandler func(client worker.JobClient, job entities.Job)

// WorkerGroup owns the opened job workers so they can be closed together.
type WorkerGroup struct {
	client  zbc.Client
	logger  logger.Logger
	mu      sync.Mutex
	workers map[string]worker.JobWorker
}

func NewWorkerGroup(client zbc.Client, log logger.Logger) *WorkerGroup {
	return &WorkerGroup{
		client:  client,
		logger:  log.WithFields(map[string]interface{}{"component": "zeebe-workers"}),
		workers: make(map[string]worker.JobWorker),
	}
}

// Start opens a job worker for taskType unless the config disables it.
func (g *WorkerGroup) Start(taskType string, wcfg config.WorkerConfig, handler JobHandler) {
	if !wcfg.Enabled {
		g.logger.Info("worker disabled", map[string]interface{}{"taskType": taskType})
		return
	}

	jobWorker := g.client.NewJobWorker().
		JobType(taskType).
		Handler(instrument(taskType, handler)).
		MaxJobsActive(wcfg.MaxJobsActive).
		Timeout(config.GetDuration(wcfg.Timeout)).
		Open()

	g.mu.Lock()
	g.workers[taskType] = jobWorker
	g.mu.Unlock()

	g.logger.Info("worker started", map[string]interface{}{
		"taskType":      taskType,
		"maxJobsActive": wcfg.MaxJobsActive,
		"timeout_ms":    wcfg.Timeout,
	})
}

func (g *WorkerGroup) Running() []string {
	g.mu.Lock()
	defer g.mu.Unlock()
	out := make([]string, 0, len(g.workers))
	for taskType := range g.workers {
		out = append(out, taskType)
	}
	return out
}

// Stop closes every worker, waiting for in-flight jobs until ctx expires.
func (g *WorkerGroup) Stop(ctx context.Context) {
	g.mu.Lock()
	workers := g.workers
	g.workers = make(map[string]worker.JobWorker)
	g.mu.Unlock()

	done := make(chan struct{})
	go func() {
		for taskType, w := range workers {
			w.Close()
			w.AwaitClose()
			g.logger.Info("worker stopped", map[string]interface{}{"taskType": taskType})
		}
		close(done)
	}()

	select {
	case <-done:
	case <-ctx.Done():
		g.logger.Warn("timed out waiting for workers to stop", nil)
	}
}

func instrument(taskType string, handler JobHandler) worker.JobHandler {
	return func(client worker.JobClient, job entities.Job) {
		start := time.Now()
		metrics.WorkerJobsActive.WithLabelValues(taskType).Inc()
		defer func() {
			metrics.WorkerJobsActive.WithLabelValues(taskType).Dec()
			metrics.WorkerJobDuration.WithLabelValues(taskType).Observe(time.Since(start).Seconds())
		}()
		handler(client, job)
	}
}
