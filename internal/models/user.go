// internal/models/user.go
package models

// UserProfile is the slice of a user record the channel senders need.
type UserProfile struct {
	UserID             string `json:"userId"`
	TelegramID         string `json:"telegramId"`
	Email              string `json:"email"`
	PushEndpointARN    string `json:"pushEndpointArn"`
	EmailNotifications bool   `json:"emailNotifications"`
	PushNotifications  bool   `json:"pushNotifications"`
	Language           string `json:"language"`
}
