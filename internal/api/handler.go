// internal/api/handler.go
package api

import (
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strconv"

	apperrors "tgminiapp-notifier/internal/common/errors"
	"tgminiapp-notifier/internal/common/logger"
	"tgminiapp-notifier/internal/common/validation"
	"tgminiapp-notifier/internal/models"

	"github.com/gorilla/mux"
)

const maxBodyBytes = 4 << 20

type Handler struct {
	service NotificationService
	logger  logger.Logger
}

func NewHandler(svc NotificationService, log logger.Logger) *Handler {
	return &Handler{
		service: svc,
		logger:  log.WithFields(map[string]interface{}{"component": "api"}),
	}
}

type bulkRequest struct {
	Notifications []models.Spec `json:"notifications"`
}

// POST /notifications
func (h *Handler) Create(w http.ResponseWriter, r *http.Request) {
	var spec models.Spec
	if err := h.decode(w, r, validation.SpecSchema, &spec); err != nil {
		h.fail(w, err)
		return
	}

	n, err := h.service.CreateAndDispatch(r.Context(), spec)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, n)
}

// POST /notifications/bulk
func (h *Handler) CreateBulk(w http.ResponseWriter, r *http.Request) {
	var req bulkRequest
	if err := h.decode(w, r, validation.BulkSchema, &req); err != nil {
		h.fail(w, err)
		return
	}

	ns, err := h.service.CreateBulk(r.Context(), req.Notifications)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"count":         len(ns),
		"notifications": ns,
	})
}

// POST /notifications/{id}/dispatch
func (h *Handler) Dispatch(w http.ResponseWriter, r *http.Request) {
	res, err := h.service.DispatchNow(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"id":        res.NotificationID,
		"status":    res.Outcome.Status,
		"attempted": res.Outcome.Attempted,
		"succeeded": res.Outcome.Succeeded,
		"failed":    res.Outcome.Failed,
		"errors":    channelErrors(res.Failures),
	})
}

// channelErrors lists failed channels in a stable order.
func channelErrors(failures map[models.Channel]error) []*apperrors.StandardError {
	out := []*apperrors.StandardError{}
	for _, c := range models.AllChannels {
		if err, ok := failures[c]; ok {
			out = append(out, apperrors.NewChannelSendFailedError(string(c), err))
		}
	}
	return out
}

// POST /notifications/{id}/cancel
func (h *Handler) Cancel(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.Cancel(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// POST /notifications/{id}/read
func (h *Handler) MarkRead(w http.ResponseWriter, r *http.Request) {
	n, err := h.service.MarkRead(r.Context(), mux.Vars(r)["id"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, n)
}

// GET /notifications/{userId}?limit=&offset=
func (h *Handler) ListByRecipient(w http.ResponseWriter, r *http.Request) {
	limit, err := queryInt(r, "limit", 50)
	if err != nil {
		h.fail(w, err)
		return
	}
	offset, err := queryInt(r, "offset", 0)
	if err != nil {
		h.fail(w, err)
		return
	}

	ns, err := h.service.ListByRecipient(r.Context(), mux.Vars(r)["userId"], limit, offset)
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": nonNil(ns),
		"limit":         limit,
		"offset":        offset,
	})
}

// GET /notifications/{userId}/unread
func (h *Handler) ListUnread(w http.ResponseWriter, r *http.Request) {
	ns, err := h.service.ListUnread(r.Context(), mux.Vars(r)["userId"])
	if err != nil {
		h.fail(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"notifications": nonNil(ns),
		"count":         len(ns),
	})
}

// decode checks body against schema before unmarshalling into out.
func (h *Handler) decode(w http.ResponseWriter, r *http.Request, schema *validation.Schema, out interface{}) error {
	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		return apperrors.NewInvalidPayloadError(fmt.Sprintf("read body: %v", err))
	}

	result := schema.ValidateJSON(body)
	if !result.Valid {
		return apperrors.NewInvalidPayloadError(result.String())
	}
	if err := json.Unmarshal(body, out); err != nil {
		return apperrors.NewInvalidPayloadError(err.Error())
	}
	return nil
}

func (h *Handler) fail(w http.ResponseWriter, err error) {
	stdErr, ok := apperrors.AsStandardError(err)
	if !ok {
		stdErr = apperrors.NewStoreOperationFailedError("request", err)
	}

	status := statusFor(stdErr.Code)
	if status >= http.StatusInternalServerError {
		h.logger.Error("Request failed", map[string]interface{}{
			"code":    string(stdErr.Code),
			"details": stdErr.Details,
		})
	}

	writeJSON(w, status, map[string]interface{}{"error": stdErr})
}

func statusFor(code apperrors.ErrorCode) int {
	switch code {
	case apperrors.ErrCodeValidationFailed, apperrors.ErrCodeInvalidPayload:
		return http.StatusBadRequest
	case apperrors.ErrCodeNotificationNotFound:
		return http.StatusNotFound
	case apperrors.ErrCodeCancelRejected, apperrors.ErrCodeClaimConflict:
		return http.StatusConflict
	case apperrors.ErrCodeQueueFull:
		return http.StatusServiceUnavailable
	case apperrors.ErrCodeStoreTimeout, apperrors.ErrCodeTimeout:
		return http.StatusGatewayTimeout
	}
	return http.StatusInternalServerError
}

func queryInt(r *http.Request, key string, def int) (int, error) {
	raw := r.URL.Query().Get(key)
	if raw == "" {
		return def, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil || v < 0 {
		return 0, apperrors.NewValidationError(errors.New(key + " must be a non-negative integer"))
	}
	return v, nil
}

func nonNil(ns []*models.Notification) []*models.Notification {
	if ns == nil {
		return []*models.Notification{}
	}
	return ns
}
