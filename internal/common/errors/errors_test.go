// internal/common/errors/errors_test.go
package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStandardError_UnwrapsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := fmt.Errorf("create: %w", NewStoreOperationFailedError("create", cause))

	assert.True(t, errors.Is(err, cause))

	stdErr, ok := AsStandardError(err)
	require.True(t, ok)
	assert.Equal(t, ErrCodeStoreOperationFailed, stdErr.Code)
	assert.True(t, stdErr.Retryable)
	assert.Contains(t, stdErr.Error(), "STORE_OPERATION_FAILED")
}

func TestConvertToBPMNError(t *testing.T) {
	tests := []struct {
		name            string
		err             *StandardError
		expectedCode    string
		expectedRetries int
	}{
		{"validation is never retried", NewValidationError(errors.New("bad type")), "NOTIFICATION_INVALID", 0},
		{"store failure retried", NewStoreOperationFailedError("update", errors.New("x")), "STORE_OPERATION_FAILED", 3},
		{"store timeout retried less", NewStoreTimeoutError("find", errors.New("x")), "STORE_TIMEOUT", 2},
		{"cancel rejected is business", NewCancelRejectedError("n-1", "sent"), "CANCEL_REJECTED", 0},
		{"unmapped code falls back", &StandardError{Code: "SOMETHING", Retryable: true}, "SOMETHING", 0},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			bpmnErr := ConvertToBPMNError(tt.err)
			assert.Equal(t, tt.expectedCode, bpmnErr.Code)
			assert.Equal(t, tt.expectedRetries, bpmnErr.Retries)

			vars := bpmnErr.ToErrorVariables()
			assert.Equal(t, tt.expectedCode, vars["errorCode"])
			assert.Equal(t, string(tt.err.Code), vars["originalErrorCode"])
		})
	}
}

func TestGetErrorCategory(t *testing.T) {
	assert.Equal(t, "STORE", GetErrorCategory(ErrCodeStoreOperationFailed))
	assert.Equal(t, "STORE", GetErrorCategory(ErrCodeNotificationNotFound))
	assert.Equal(t, "CHANNEL", GetErrorCategory(ErrCodeChannelSendFailed))
	assert.Equal(t, "DISPATCH", GetErrorCategory(ErrCodeCancelRejected))
	assert.Equal(t, "VALIDATION", GetErrorCategory(ErrCodeValidationFailed))
	assert.Equal(t, "MAINTENANCE", GetErrorCategory(ErrCodeRetentionFailed))
	assert.Equal(t, "OTHER", GetErrorCategory("INTERNAL_ERROR"))
}

func TestIsRetryableErrorCode(t *testing.T) {
	assert.True(t, IsRetryableErrorCode(ErrCodeQueueFull))
	assert.False(t, IsRetryableErrorCode(ErrCodeValidationFailed))
}

func TestWithMetadata(t *testing.T) {
	err := NewQueueFullError("n-1").WithMetadata("depth", 1024)
	assert.Equal(t, 1024, err.Metadata["depth"])
}
