// internal/workers/notification/notification-create-bulk/handler.go
package notificationcreatebulk

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
	TaskType = "notification-create-bulk"
)

type BulkCreator interface {
	CreateBulk(ctx context.Context, specs []models.Spec) ([]*models.Notification, error)
}

type Handler struct {
	config       *Config
	service      BulkCreator
	errorHandler *apperrors.ErrorHandler
	logger       logger.Logger
}

func NewHandler(config *Config, svc BulkCreator, log logger.Logger) *Handler {
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

	output, err := h.execute(ctx, []byte(job.Variables))
	if err != nil {
		h.errorHandler.HandleJobError(ctx, client, job, err)
		return
	}

	h.completeJob(ctx, client, job, output)
}

// execute takes the raw job variables so the whole batch is checked against
// the bulk schema before anything is decoded.
func (h *Handler) execute(ctx context.Context, variables []byte) (*Output, error) {
	if result := validation.BulkSchema.ValidateJSON(variables); !result.Valid {
		return nil, apperrors.NewInvalidPayloadError(result.String())
	}

	var input Input
	if err := json.Unmarshal(variables, &input); err != nil {
		return nil, apperrors.NewInvalidPayloadError(fmt.Sprintf("parse input: %v", err))
	}

	created, err := h.service.CreateBulk(ctx, input.Notifications)
	if err != nil {
		return nil, err
	}

	ids := make([]string, len(created))
	for i, n := range created {
		ids[i] = n.ID
	}

	h.logger.Info("bulk notifications accepted", map[string]interface{}{"count": len(ids)})

	return &Output{
		Count:           len(ids),
		NotificationIDs: ids,
		CreatedAt:       time.Now().UTC().Format(time.RFC3339),
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
