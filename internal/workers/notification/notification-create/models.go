// internal/workers/notification/notification-create/models.go
package notificationcreate

import "encoding/json"

type Input struct {
	Notification json.RawMessage `json:"notification"`
}

type Output struct {
	NotificationID string `json:"notificationId"`
	Status         string `json:"status"`
	CreatedAt      string `json:"createdAt"` // ISO 8601
}
