// internal/common/errors/errors.go
package errors

import (
	"errors"
	"fmt"
	"strings"
	"time"
)

// ==========================
// 1. Error Codes
// ==========================

type ErrorCode string

const (
	ErrCodeValidationFailed     ErrorCode = "VALIDATION_FAILED"
	ErrCodeInvalidPayload       ErrorCode = "INVALID_PAYLOAD"
	ErrCodeChannelSendFailed    ErrorCode = "CHANNEL_SEND_FAILED"
	ErrCodeStoreOperationFailed ErrorCode = "STORE_OPERATION_FAILED"
	ErrCodeStoreTimeout         ErrorCode = "STORE_TIMEOUT"
	ErrCodeNotificationNotFound ErrorCode = "NOTIFICATION_NOT_FOUND"
	ErrCodeClaimConflict        ErrorCode = "CLAIM_CONFLICT"
	ErrCodeCancelRejected       ErrorCode = "CANCEL_REJECTED"
	ErrCodeQueueFull            ErrorCode = "QUEUE_FULL"
	ErrCodeRetentionFailed      ErrorCode = "RETENTION_FAILED"
	ErrCodeExternalService      ErrorCode = "EXTERNAL_SERVICE_ERROR"
	ErrCodeTimeout              ErrorCode = "TIMEOUT_ERROR"
)

// ==========================
// 2. Error Types
// ==========================

type StandardError struct {
	Code      ErrorCode              `json:"code"`
	Message   string                 `json:"message"`
	Details   string                 `json:"details,omitempty"`
	Retryable bool                   `json:"retryable"`
	Metadata  map[string]interface{} `json:"metadata,omitempty"`
	Timestamp time.Time              `json:"timestamp"`

	cause error
}

func (e *StandardError) Error() string {
	return fmt.Sprintf("StandardError[%s]: %s", e.Code, e.Message)
}

func (e *StandardError) Unwrap() error {
	return e.cause
}

// WithMetadata attaches one metadata key and returns the same error.
func (e *StandardError) WithMetadata(key string, value interface{}) *StandardError {
	if e.Metadata == nil {
		e.Metadata = make(map[string]interface{})
	}
	e.Metadata[key] = value
	return e
}

type BPMNError struct {
	Code           string                 `json:"code"`
	Message        string                 `json:"message"`
	Details        string                 `json:"details,omitempty"`
	Retryable      bool                   `json:"retryable"`
	Retries        int                    `json:"retries"`
	ErrorVariables map[string]interface{} `json:"errorVariables,omitempty"`
}

func (e *BPMNError) Error() string {
	return fmt.Sprintf("BPMNError[%s]: %s", e.Code, e.Message)
}

func (e *BPMNError) ToErrorVariables() map[string]interface{} {
	vars := map[string]interface{}{
		"errorCode":    e.Code,
		"errorMessage": e.Message,
		"errorDetails": e.Details,
		"retryable":    e.Retryable,
	}

	for k, v := range e.ErrorVariables {
		vars[k] = v
	}

	return vars
}

// ==========================
// 3. Constructors
// ==========================

func NewValidationError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeValidationFailed,
		Message:   "Notification spec failed validation",
		Details:   err.Error(),
		Retryable: false,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewInvalidPayloadError(details string) *StandardError {
	return &StandardError{
		Code:      ErrCodeInvalidPayload,
		Message:   "Payload does not match schema",
		Details:   details,
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewChannelSendFailedError(channel string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeChannelSendFailed,
		Message:   "Channel delivery attempt failed",
		Details:   fmt.Sprintf("channel: %s, error: %s", channel, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewStoreOperationFailedError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreOperationFailed,
		Message:   "Notification store operation failed",
		Details:   fmt.Sprintf("operation: %s, error: %s", operation, err.Error()),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewStoreTimeoutError(operation string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeStoreTimeout,
		Message:   "Notification store operation timed out",
		Details:   fmt.Sprintf("operation: %s", operation),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewNotificationNotFoundError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeNotificationNotFound,
		Message:   "Notification not found",
		Details:   fmt.Sprintf("notificationId: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewClaimConflictError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeClaimConflict,
		Message:   "Notification is not claimable",
		Details:   fmt.Sprintf("notificationId: %s", id),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewCancelRejectedError(id, status string) *StandardError {
	return &StandardError{
		Code:      ErrCodeCancelRejected,
		Message:   "Only pending notifications can be cancelled",
		Details:   fmt.Sprintf("notificationId: %s, status: %s", id, status),
		Retryable: false,
		Timestamp: time.Now().UTC(),
	}
}

func NewQueueFullError(id string) *StandardError {
	return &StandardError{
		Code:      ErrCodeQueueFull,
		Message:   "Dispatch queue is full",
		Details:   fmt.Sprintf("notificationId: %s", id),
		Retryable: true,
		Timestamp: time.Now().UTC(),
	}
}

func NewRetentionFailedError(err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeRetentionFailed,
		Message:   "Retention sweep failed",
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewExternalServiceError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeExternalService,
		Message:   fmt.Sprintf("External service '%s' error", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

func NewTimeoutError(service string, err error) *StandardError {
	return &StandardError{
		Code:      ErrCodeTimeout,
		Message:   fmt.Sprintf("Service '%s' timeout", service),
		Details:   err.Error(),
		Retryable: true,
		Timestamp: time.Now().UTC(),
		cause:     err,
	}
}

// ==========================
// 4. Error Conversion to BPMN
// ==========================

var BPMNErrorMapping = map[ErrorCode]string{
	ErrCodeValidationFailed:     "NOTIFICATION_INVALID",
	ErrCodeInvalidPayload:       "NOTIFICATION_INVALID",
	ErrCodeChannelSendFailed:    "CHANNEL_SEND_FAILED",
	ErrCodeStoreOperationFailed: "STORE_OPERATION_FAILED",
	ErrCodeStoreTimeout:         "STORE_TIMEOUT",
	ErrCodeNotificationNotFound: "NOTIFICATION_NOT_FOUND",
	ErrCodeClaimConflict:        "CLAIM_CONFLICT",
	ErrCodeCancelRejected:       "CANCEL_REJECTED",
	ErrCodeQueueFull:            "QUEUE_FULL",
	ErrCodeRetentionFailed:      "RETENTION_FAILED",
}

// GetRetryCount returns how many job retries a code deserves.
func GetRetryCount(code ErrorCode) int {
	switch code {
	case ErrCodeStoreOperationFailed,
		ErrCodeRetentionFailed,
		ErrCodeChannelSendFailed,
		ErrCodeExternalService:
		return 3

	case ErrCodeStoreTimeout,
		ErrCodeQueueFull,
		ErrCodeTimeout:
		return 2

	default:
		return 0
	}
}

func ConvertToBPMNError(stdErr *StandardError) *BPMNError {
	bpmnCode, exists := BPMNErrorMapping[stdErr.Code]
	if !exists {
		bpmnCode = string(stdErr.Code)
	}

	retries := GetRetryCount(stdErr.Code)
	if !stdErr.Retryable {
		retries = 0
	}

	return &BPMNError{
		Code:      bpmnCode,
		Message:   stdErr.Message,
		Details:   stdErr.Details,
		Retryable: stdErr.Retryable,
		Retries:   retries,
		ErrorVariables: map[string]interface{}{
			"originalErrorCode": string(stdErr.Code),
			"timestamp":         stdErr.Timestamp.Format(time.RFC3339),
		},
	}
}

// ==========================
// 5. Utility Functions
// ==========================

// AsStandardError finds a *StandardError anywhere in err's chain.
func AsStandardError(err error) (*StandardError, bool) {
	var stdErr *StandardError
	if errors.As(err, &stdErr) {
		return stdErr, true
	}
	return nil, false
}

func IsRetryableErrorCode(code ErrorCode) bool {
	return GetRetryCount(code) > 0
}

func GetErrorCategory(code ErrorCode) string {
	codeStr := string(code)
	switch {
	case strings.Contains(codeStr, "STORE") || strings.Contains(codeStr, "NOT_FOUND"):
		return "STORE"
	case strings.Contains(codeStr, "CHANNEL"):
		return "CHANNEL"
	case strings.Contains(codeStr, "CLAIM") || strings.Contains(codeStr, "CANCEL") || strings.Contains(codeStr, "QUEUE"):
		return "DISPATCH"
	case strings.Contains(codeStr, "EXTERNAL") || strings.Contains(codeStr, "TIMEOUT"):
		return "INTEGRATION"
	case strings.Contains(codeStr, "RETENTION"):
		return "MAINTENANCE"
	case strings.Contains(codeStr, "INVALID") || strings.Contains(codeStr, "VALIDATION"):
		return "VALIDATION"
	default:
		return "OTHER"
	}
}
