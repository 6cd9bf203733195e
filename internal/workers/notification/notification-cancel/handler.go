// internal/workers/notification/notification-cancel/handler.go
package notificationcancel

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	apperrors "tgminiapp-notifier/internal/common/errors"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/models"

	"github.com/camunda/zeebe/clients/go/v8/pkg/entities"
	"github.com/camunda/zeebe/clients/go/v8/pkg/worker"
)

const (
	TaskType = "notification-cancel"
)

type Canceller interface {
	Cancel(ctx context.Context, id string) (*models.Notification, error)
	Get(ctx context.Context, id string) (*models.Notification, error)
}

type Handler struct {
	config       *Config
	service      Canceller
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, svc Canceller, log logger.Logger) *Handler {
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
	id := strings.TrimSpace(input.NotificationID)
	if id == "" {
		return nil, apperrors.NewInvalidPayloadError("notificationId is required")
	}

	n, err := h.service.Cancel(ctx, id)
	if err == nil {
		return &Output{NotificationID: id, Cancelled: true, Status: string(n.Status)}, nil
	}

	stdErr, ok := apperrors.AsStandardError(err)
	if !ok || stdErr.Code != apperrors.ErrCodeCancelRejected || !h.config.IgnoreTerminal {
		return nil, err
	}

	// A record still sending is not terminal; let the process see the rejection.
	current, getErr := h.service.Get(ctx, id)
	if getErr != nil {
		return nil, getErr
	}
	if !current.Status.IsTerminal() {
		return nil, err
	}

	h.logger.Info("notification already finished, nothing to cancel", map[string]interface{}{
		"notificationId": id,
		"status":         string(current.Status),
	})
	return &Output{NotificationID: id, Cancelled: false, Status: string(current.Status)}, nil
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
