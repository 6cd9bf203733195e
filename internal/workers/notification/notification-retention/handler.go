// internal/workers/notification/notification-retention/handler.go
package notificationretention

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "tgminiapp-notifier/internal/common/errors"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/notification/service"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "notification-retention"
)

type Sweeper interface {
	RetentionSweep(ctx context.Context, maxAgeDays int) (int64, error)
}

type Handler struct {
	config       *Config
	service      Sweeper
	errorHandler *apperrors.ErrorHandler
	now          func() time.Time
	logger       logger.Logger
}

func NewHandler(config *Config, svc Sweeper, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		service:      svc,
		errorHandler: apperrors.NewErrorHandler(log),
		now:          func() time.Time { return time.Now().UTC() },
		logger:       log,
	}
}

func (h *Handler) Handle(client worker.JobClient, job entities.Job) {
	h.logger.Info("processing job", map[string]interface{}{
		"jobKey":      job.Key,
		"workflowKey": job.ProcessInstanceKey,
	})

	ctx, cancel := context.WithTimeout(context.Background(), h.config.Timeout)
	defer cancel()

	var input Input
	if job.Variables != "" {
		if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
			h.errorHandler.HandleJobError(ctx, client, job, apperrors.NewInvalidPayloadError(fmt.Sprintf("parse input: %v", err)))
			return
		}
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	days := h.config.DefaultMaxAgeDays
	if input.MaxAgeDays < 0 {
		return nil, apperrors.NewInvalidPayloadError(fmt.Sprintf("maxAgeDays must not be negative, got %d", input.MaxAgeDays))
	}
	if input.MaxAgeDays > 0 {
		days = input.MaxAgeDays
	}

	cutoff := service.RetentionCutoff(h.now(), days)
	deleted, err := h.service.RetentionSweep(ctx, days)
	if err != nil {
		return nil, err
	}

	return &Output{
		Deleted:    deleted,
		MaxAgeDays: days,
		Cutoff:     cutoff.Format(time.RFC3339),
	}, nil
}

func (h *Handler) completeJob(ctx context.Context, client worker.JobClient, job entities.Job, output *Output) {
	cmd, err := client.NewCompleteJobCommand().
		JobKey(job.Key).
		VariablesFromObject(output)
	if err != nil {
		h.logger.Error("failed to create complete job command", map[string]interface{}{
			"error": err.Error(),
		})
		return
	}
	if _, err := cmd.Send(ctx); err != nil {
		h.logger.Error("failed to send complete job command", map[string]interface{}{
			"error": err.Error(),
		})
	}
}
