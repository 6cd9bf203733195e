// internal/workers/notification/notification-create/handler.go
package notificationcreate

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	apperrors "tgminiapp-notifier/internal/common/errors"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/common/validation"
	"tgminiapp-notifier/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "notification-create"
)

type Creator interface {
	CreateAndDispatch(ctx context.Context, spec models.Spec) (*models.Notification, error)
}

type Handler struct {
	config       *Config
	service      Creator
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, svc Creator, log logger.Logger) *Handler {
	log = log.WithFields(map[string]interface{}{"taskType": TaskType})
	return &Handler{
		config:       config,
		service:      svc,
		errorHandler: apperrors.NewErrorHandler(log),
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
	if err := json.Unmarshal([]byte(job.Variables), &input); err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, apperrors.NewInvalidPayloadError(fmt.Sprintf("parse input: %v", err)))
		return
	}

	output, err := h.execute(ctx, &input)
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

func (h *Handler) execute(ctx context.Context, input *Input) (*Output, error) {
	if len(input.Notification) == 0 {
		return nil, apperrors.NewInvalidPayloadError("notification variable is required")
	}
	if result := validation.SpecSchema.ValidateJSON(input.Notification); !result.Valid {
		return nil, apperrors.NewInvalidPayloadError(result.String())
	}

	var spec models.Spec
	if err := json.Unmarshal(input.Notification, &spec); err != nil {
		return nil, apperrors.NewInvalidPayloadError(err.Error())
	}

	n, err := h.service.CreateAndDispatch(ctx, spec)
	if err != nil {
		return nil, err
	}

	return &Output{
		NotificationID: n.ID,
		Status:         string(n.Status),
		CreatedAt:      n.CreatedAt.UTC().Format(time.RFC3339),
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
