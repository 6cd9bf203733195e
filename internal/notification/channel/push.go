// internal/notification/channel/push.go
package channel

import (
	"context"
	"encoding/json"
	"fmt"

	"tgminiapp-notifier/internal/models"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
)

// SNSAPI is the slice of the SNS client the push sender uses.
type SNSAPI interface {
	Publish(ctx context.Context, input *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// PushSender publishes to the recipient's platform endpoint.
type PushSender struct {
	directory Directory
	client    SNSAPI
}

func NewPushSender(directory Directory, client SNSAPI) *PushSender {
	return &PushSender{directory: directory, client: client}
}

type pushAlert struct {
	Title string `json:"title"`
	Body  string `json:"body"`
}

func (s *PushSender) Send(ctx context.Context, n *models.Notification) error {
	profile, err := s.directory.Lookup(ctx, n.Recipient.UserID)
	if err != nil {
		return AsSendError(models.ChannelPush, err)
	}
	if !profile.PushNotifications {
		return nil
	}
	if profile.PushEndpointARN == "" {
		forgetProfile(ctx, s.directory, n.Recipient.UserID)
		return newSendError(models.ChannelPush, "recipient %s has no push endpoint", n.Recipient.UserID)
	}

	message, err := pushMessage(n)
	if err != nil {
		return AsSendError(models.ChannelPush, err)
	}

	_, err = s.client.Publish(ctx, &sns.PublishInput{
		TargetArn:        aws.String(profile.PushEndpointARN),
		Message:          aws.String(message),
		MessageStructure: aws.String("json"),
	})
	if err != nil {
		forgetProfile(ctx, s.directory, n.Recipient.UserID)
		return newSendError(models.ChannelPush, "sns publish failed: %w", err)
	}
	return nil
}

// pushMessage builds the per-platform SNS envelope.
func pushMessage(n *models.Notification) (string, error) {
	alert := pushAlert{Title: n.Title, Body: n.Content}
	data := map[string]string{"notificationId": n.ID, "type": string(n.Type)}
	if url, _, ok := actionButton(n); ok {
		data["actionUrl"] = url
	}

	apns, err := json.Marshal(map[string]interface{}{"aps": map[string]interface{}{"alert": alert}, "data": data})
	if err != nil {
		return "", fmt.Errorf("encode apns payload: %w", err)
	}
	gcm, err := json.Marshal(map[string]interface{}{"notification": alert, "data": data})
	if err != nil {
		return "", fmt.Errorf("encode gcm payload: %w", err)
	}
	envelope, err := json.Marshal(map[string]string{
		"default": n.Title,
		"APNS":    string(apns),
		"GCM":     string(gcm),
	})
	if err != nil {
		return "", fmt.Errorf("encode sns envelope: %w", err)
	}
	return string(envelope), nil
}
