// internal/workers/notification/notification-create-bulk/models.go
package notificationcreatebulk

import "tgminiapp-notifier/internal/models"

type Input struct {
	Notifications []models.Spec `json:"notifications"`
}

type Output struct {
	Count           int      `json:"count"`
	NotificationIDs []string `json:"notificationIds"`
	CreatedAt       string   `json:"createdAt"` // ISO 8601
}
