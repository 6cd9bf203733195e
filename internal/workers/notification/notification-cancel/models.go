// internal/workers/notification/notification-cancel/models.go
package notificationcancel

type Input struct {
	NotificationID string `json:"notificationId"`
}

type Output struct {
	NotificationID string `json:"notificationId"`
	Cancelled      bool   `json:"cancelled"`
	Status         string `json:"status"`
}
