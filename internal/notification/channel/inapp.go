// internal/notification/channel/inapp.go
package channel

import (
	"context"

	"tgminiapp-notifier/internal/models"
)

// InAppSender has no outbound call. Marking the channel sent is what makes
// the record visible to the unread listing.
type InAppSender struct{}

func NewInAppSender() *InAppSender {
	return &InAppSender{}
}

func (s *InAppSender) Send(ctx context.Context, n *models.Notification) error {
	return ctx.Err()
}
