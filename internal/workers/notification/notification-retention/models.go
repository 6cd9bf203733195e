// internal/workers/notification/notification-retention/models.go
package notificationretention

type Input struct {
	// MaxAgeDays overrides the configured retention window when positive.
	MaxAgeDays int `json:"maxAgeDays,omitempty"`
}

type Output struct {
	Deleted    int64  `json:"deleted"`
	MaxAgeDays int    `json:"maxAgeDays"`
	Cutoff     string `json:"cutoff"` // ISO 8601
}
