// internal/notification/channel/sender.go
package channel

import (
	"context"
	"errors"
	"fmt"

	"tgminiapp-notifier/internal/models"
)

// Sender performs one delivery attempt on one channel. A nil error means the
// channel is delivered; the dispatcher never calls it again for that record.
type Sender interface {
	Send(ctx context.Context, n *models.Notification) error
}

// SenderFunc adapts a function to Sender.
type SenderFunc func(ctx context.Context, n *models.Notification) error

func (f SenderFunc) Send(ctx context.Context, n *models.Notification) error {
	return f(ctx, n)
}

// SendError is a failed attempt on one channel. It is recorded on the
// notification and never escapes the dispatcher.
type SendError struct {
	Channel models.Channel
	Err     error
}

func (e *SendError) Error() string {
	return fmt.Sprintf("%s: %v", e.Channel, e.Err)
}

func (e *SendError) Unwrap() error {
	return e.Err
}

func newSendError(c models.Channel, format string, args ...interface{}) *SendError {
	return &SendError{Channel: c, Err: fmt.Errorf(format, args...)}
}

// AsSendError wraps err as a SendError for c unless it already is one.
func AsSendError(c models.Channel, err error) *SendError {
	if err == nil {
		return nil
	}
	var se *SendError
	if errors.As(err, &se) {
		return se
	}
	return &SendError{Channel: c, Err: err}
}

// Registry maps each channel to its sender.
type Registry map[models.Channel]Sender
